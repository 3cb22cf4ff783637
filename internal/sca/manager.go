// Package sca implementa Strong Customer Authentication: política de
// exención, challenges OTP de un solo uso y el token que prueba la SCA.
package sca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/consentgate/internal/cache"
	"github.com/dropDatabas3/consentgate/internal/downstream"
	"github.com/dropDatabas3/consentgate/internal/metrics"
	"github.com/dropDatabas3/consentgate/internal/observability/logger"
	tokens "github.com/dropDatabas3/consentgate/internal/security/token"
)

var (
	// ErrAuthenticationFailed cubre código incorrecto, challenge vencido,
	// inexistente o ya consumido. El llamador no puede distinguirlos.
	ErrAuthenticationFailed = errors.New("sca: authentication failed")
	ErrNoDeliveryChannel    = errors.New("sca: no delivery channel available for customer")
	ErrDeliveryFailed       = errors.New("sca: challenge delivery failed")
	ErrInvalidRequest       = errors.New("sca: invalid challenge request")
)

const (
	challengePrefix   = "sca:challenge:"
	defaultCodeTTL    = 5 * time.Minute
	defaultTokenTTL   = 5 * time.Minute
	defaultCodeDigits = 6
)

// Config configura el Manager.
type Config struct {
	Policy        Policy
	CodeTTL       time.Duration
	TokenTTL      time.Duration
	CodeDigits    int
	DefaultMethod Method
	SigningKey    []byte
	Issuer        string
}

// InitiateInput pide un challenge para un recurso. El challenge queda ligado
// al TPP que lo pidió.
type InitiateInput struct {
	CustomerID      string
	ThirdPartyID    string
	ResourceID      string
	ResourceType    string
	PreferredMethod Method
}

// Challenge es lo que ve el TPP. El código nunca sale del servidor salvo por
// el canal de entrega.
type Challenge struct {
	ID           string    `json:"challengeId"`
	Method       Method    `json:"method"`
	MaskedTarget string    `json:"maskedTarget"`
	ExpiresIn    int       `json:"expiresIn"`
	ExpiresAt    time.Time `json:"-"`
}

// Result es el resultado de una validación exitosa.
type Result struct {
	AuthToken string `json:"authToken"`
	TokenType string `json:"tokenType"`
	ExpiresIn int    `json:"expiresIn"`
}

type record struct {
	CustomerID   string    `json:"customerId"`
	ThirdPartyID string    `json:"thirdPartyId"`
	ResourceID   string    `json:"resourceId"`
	ResourceType string    `json:"resourceType"`
	Method       Method    `json:"method"`
	CodeHash     string    `json:"codeHash"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Manager emite y valida challenges.
type Manager struct {
	cfg       Config
	store     cache.Client
	directory downstream.CustomerDirectory
	senders   map[Method]Sender
	now       func() time.Time
}

// NewManager crea un Manager. senders define los canales habilitados.
func NewManager(cfg Config, store cache.Client, dir downstream.CustomerDirectory, senders map[Method]Sender) (*Manager, error) {
	if len(cfg.SigningKey) < 32 {
		return nil, errors.New("sca: signing key must be at least 32 bytes")
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = defaultCodeTTL
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.CodeDigits <= 0 {
		cfg.CodeDigits = defaultCodeDigits
	}
	if cfg.DefaultMethod == "" {
		cfg.DefaultMethod = MethodSMS
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "consentgate"
	}
	return &Manager{cfg: cfg, store: store, directory: dir, senders: senders, now: time.Now}, nil
}

// IsRequired delega en la política configurada.
func (m *Manager) IsRequired(amount, currency string) bool {
	return m.cfg.Policy.IsRequired(amount, currency)
}

// Initiate genera un challenge, lo guarda (solo el hash del código) y lo
// entrega por el canal elegido.
func (m *Manager) Initiate(ctx context.Context, in InitiateInput) (*Challenge, error) {
	if strings.TrimSpace(in.CustomerID) == "" || strings.TrimSpace(in.ThirdPartyID) == "" || strings.TrimSpace(in.ResourceType) == "" {
		return nil, ErrInvalidRequest
	}
	method, target, err := m.selectChannel(ctx, in.CustomerID, in.PreferredMethod)
	if err != nil {
		m.observe("initiate", "no_channel")
		return nil, err
	}

	code, err := tokens.NumericCode(m.cfg.CodeDigits)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	expiresAt := m.now().Add(m.cfg.CodeTTL)
	rec, err := json.Marshal(record{
		CustomerID:   in.CustomerID,
		ThirdPartyID: in.ThirdPartyID,
		ResourceID:   in.ResourceID,
		ResourceType: in.ResourceType,
		Method:       method,
		CodeHash:     tokens.SHA256Hex(code),
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		return nil, err
	}
	if err := m.store.Set(ctx, challengePrefix+id, string(rec), m.cfg.CodeTTL); err != nil {
		return nil, fmt.Errorf("sca: store challenge: %w", err)
	}

	err = m.senders[method].Send(ctx, Delivery{Target: target, Code: code, ResourceType: in.ResourceType, ExpiresIn: m.cfg.CodeTTL})
	if err != nil {
		_ = m.store.Delete(context.WithoutCancel(ctx), challengePrefix+id)
		logger.From(ctx).Error("sca delivery failed", logger.ChallengeID(id), logger.String("method", string(method)), logger.Err(err))
		m.observe("initiate", "delivery_failed")
		return nil, fmt.Errorf("%w: %s", ErrDeliveryFailed, method)
	}

	m.observe("initiate", "ok")
	logger.From(ctx).Info("sca challenge issued", logger.ChallengeID(id), logger.String("method", string(method)))
	return &Challenge{
		ID:           id,
		Method:       method,
		MaskedTarget: MaskTarget(method, target),
		ExpiresIn:    int(m.cfg.CodeTTL.Seconds()),
		ExpiresAt:    expiresAt,
	}, nil
}

// selectChannel usa el método preferido si está habilitado y el cliente
// tiene contacto; si no, el default y luego el resto en orden.
func (m *Manager) selectChannel(ctx context.Context, customerID string, preferred Method) (Method, string, error) {
	candidates := make([]Method, 0, len(methodOrder)+2)
	for _, c := range append([]Method{preferred, m.cfg.DefaultMethod}, methodOrder...) {
		if c == "" || m.senders[c] == nil {
			continue
		}
		dup := false
		for _, x := range candidates {
			dup = dup || x == c
		}
		if !dup {
			candidates = append(candidates, c)
		}
	}
	for _, c := range candidates {
		target, err := m.directory.Contact(ctx, customerID, string(c))
		if err == nil && target != "" {
			return c, target, nil
		}
		if err != nil && !errors.Is(err, downstream.ErrNotFound) {
			return "", "", fmt.Errorf("sca: contact lookup: %w", err)
		}
	}
	return "", "", ErrNoDeliveryChannel
}

// Validate consume el challenge (acierte o no) y, si el código coincide y lo
// presenta el mismo TPP que lo inició, emite el token SCA.
func (m *Manager) Validate(ctx context.Context, challengeID, thirdPartyID, code string) (*Result, error) {
	raw, err := m.store.Take(ctx, challengePrefix+challengeID)
	if err != nil {
		if !cache.IsNotFound(err) {
			logger.From(ctx).Error("sca challenge lookup failed", logger.ChallengeID(challengeID), logger.Err(err))
		}
		return nil, m.fail()
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, m.fail()
	}
	match := tokens.EqualHex(tokens.SHA256Hex(strings.TrimSpace(code)), rec.CodeHash)
	owner := thirdPartyID != "" && tokens.EqualSecret(rec.ThirdPartyID, thirdPartyID)
	if !match || !owner || !m.now().Before(rec.ExpiresAt) {
		return nil, m.fail()
	}

	tok, err := m.issueToken(ctx, challengeID, rec)
	if err != nil {
		return nil, err
	}
	m.observe("validate", "ok")
	return &Result{AuthToken: tok, TokenType: "Bearer", ExpiresIn: int(m.cfg.TokenTTL.Seconds())}, nil
}

func (m *Manager) fail() error {
	m.observe("validate", "failed")
	return ErrAuthenticationFailed
}

func (m *Manager) observe(op, result string) {
	metrics.SCAChallenges.WithLabelValues(op, result).Inc()
}
