package gateway

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrPSUToken = errors.New("gateway: invalid PSU token")

// PSUTokenConfig configura la verificación del bearer del PSU (HS256).
type PSUTokenConfig struct {
	Key      []byte
	Issuer   string
	Audience string
	// Required rechaza requests sin Authorization.
	Required bool
}

// PSUVerifier valida el token de sesión del cliente final. Es una capa de
// identidad adicional: el sub debe coincidir con PSU-ID.
type PSUVerifier struct {
	cfg PSUTokenConfig
	now func() time.Time
}

func NewPSUVerifier(cfg PSUTokenConfig) (*PSUVerifier, error) {
	if len(cfg.Key) < 32 {
		return nil, fmt.Errorf("gateway: PSU token key must have at least 32 bytes")
	}
	return &PSUVerifier{cfg: cfg, now: time.Now}, nil
}

func (v *PSUVerifier) Required() bool { return v.cfg.Required }

// Verify valida el token y devuelve su subject.
func (v *PSUVerifier) Verify(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
		jwt.WithLeeway(5 * time.Second),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	var claims jwt.RegisteredClaims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.cfg.Key, nil
	}, opts...); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPSUToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: missing subject", ErrPSUToken)
	}
	return claims.Subject, nil
}

// bearerToken extrae el token de "Authorization: Bearer <t>".
func bearerToken(h string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}
