package sca

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/consentgate/internal/cache"
)

// ErrTokenInvalid: token SCA ausente, mal firmado, vencido, ya usado o
// emitido para otro cliente/recurso.
var ErrTokenInvalid = errors.New("sca: token invalid")

const tokenPrefix = "sca:token:"

// Claims del token SCA.
type Claims struct {
	ResourceID   string   `json:"rid,omitempty"`
	ResourceType string   `json:"rtp"`
	AMR          []string `json:"amr"`
	jwt.RegisteredClaims
}

func (m *Manager) issueToken(ctx context.Context, challengeID string, rec record) (string, error) {
	now := m.now()
	claims := Claims{
		ResourceID:   rec.ResourceID,
		ResourceType: rec.ResourceType,
		AMR:          []string{"otp", string(rec.Method)},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			Subject:   rec.CustomerID,
			ID:        challengeID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.TokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.SigningKey)
	if err != nil {
		return "", fmt.Errorf("sca: sign token: %w", err)
	}
	// Marca de un solo uso: RedeemToken la consume.
	if err := m.store.Set(ctx, tokenPrefix+challengeID, rec.CustomerID, m.cfg.TokenTTL); err != nil {
		return "", fmt.Errorf("sca: store token: %w", err)
	}
	return signed, nil
}

// VerifyToken valida firma, emisor, vencimiento y que el token se haya
// emitido para customerID, resourceType y (si no es vacío) resourceID.
// No lo consume.
func (m *Manager) VerifyToken(token, customerID, resourceType, resourceID string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.cfg.SigningKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
		jwt.WithLeeway(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	switch {
	case claims.Subject != customerID:
		return nil, fmt.Errorf("%w: subject mismatch", ErrTokenInvalid)
	case claims.ResourceType != resourceType:
		return nil, fmt.Errorf("%w: resource type mismatch", ErrTokenInvalid)
	case resourceID != "" && claims.ResourceID != resourceID:
		return nil, fmt.Errorf("%w: resource mismatch", ErrTokenInvalid)
	}
	return &claims, nil
}

// RedeemToken = VerifyToken + consumo: un token SCA autoriza una sola
// operación.
func (m *Manager) RedeemToken(ctx context.Context, token, customerID, resourceType, resourceID string) (*Claims, error) {
	claims, err := m.VerifyToken(token, customerID, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	if _, err := m.store.Take(ctx, tokenPrefix+claims.ID); err != nil {
		if cache.IsNotFound(err) {
			return nil, fmt.Errorf("%w: already used", ErrTokenInvalid)
		}
		return nil, err
	}
	return claims, nil
}
