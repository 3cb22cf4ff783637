package consent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/consentgate/internal/domain/repository"
	"github.com/dropDatabas3/consentgate/internal/observability/logger"
	"github.com/dropDatabas3/consentgate/internal/security/secretbox"
)

// CreateInput son los datos de un consent nuevo.
type CreateInput struct {
	CustomerID      string
	ThirdPartyID    string
	Kind            repository.ConsentKind
	ValidFrom       time.Time // cero = ahora
	ValidUntil      time.Time
	FrequencyPerDay int // <= 0: sin tope
	Scope           Scope
}

// Store persiste consents. El scope se guarda cifrado.
type Store struct {
	repo  repository.ConsentRepository
	codec *secretbox.Codec
	now   func() time.Time
}

// NewStore crea un Store. codec nil equivale a secretbox.Disabled().
func NewStore(repo repository.ConsentRepository, codec *secretbox.Codec, now func() time.Time) *Store {
	if codec == nil {
		codec = secretbox.Disabled()
	}
	if now == nil {
		now = time.Now
	}
	return &Store{repo: repo, codec: codec, now: now}
}

// Create registra un consent en estado RECEIVED.
func (s *Store) Create(ctx context.Context, in CreateInput) (*Consent, error) {
	now := s.now().UTC()
	if in.ValidFrom.IsZero() {
		in.ValidFrom = now
	}
	switch {
	case strings.TrimSpace(in.CustomerID) == "":
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidConsent)
	case strings.TrimSpace(in.ThirdPartyID) == "":
		return nil, fmt.Errorf("%w: third party id is required", ErrInvalidConsent)
	case !in.Kind.Valid():
		return nil, fmt.Errorf("%w: unknown consent type %q", ErrInvalidConsent, in.Kind)
	case !in.ValidUntil.After(in.ValidFrom):
		return nil, fmt.Errorf("%w: validUntil must be after validFrom", ErrInvalidConsent)
	case !in.ValidUntil.After(now):
		return nil, fmt.Errorf("%w: validUntil is in the past", ErrInvalidConsent)
	case in.Scope.Empty():
		return nil, fmt.Errorf("%w: access scope is empty", ErrInvalidConsent)
	}

	scopeEnc, err := s.encodeScope(in.Scope)
	if err != nil {
		return nil, err
	}
	row := repository.Consent{
		ID:              uuid.NewString(),
		CustomerID:      in.CustomerID,
		ThirdPartyID:    in.ThirdPartyID,
		Kind:            in.Kind,
		Status:          repository.ConsentReceived,
		ValidFrom:       in.ValidFrom.UTC(),
		ValidUntil:      in.ValidUntil.UTC(),
		FrequencyPerDay: max(in.FrequencyPerDay, 0),
		ScopeEnc:        scopeEnc,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, row); err != nil {
		return nil, err
	}
	logger.From(ctx).Info("consent created",
		logger.ConsentID(row.ID), logger.ThirdPartyID(row.ThirdPartyID), logger.String("kind", string(row.Kind)))
	return s.toDomain(&row)
}

// Get devuelve el consent o ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Consent, error) {
	row, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return s.toDomain(row)
}

// ListByCustomer lista los consents del cliente, más recientes primero.
func (s *Store) ListByCustomer(ctx context.Context, customerID string) ([]Consent, error) {
	rows, err := s.repo.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	out := make([]Consent, 0, len(rows))
	for i := range rows {
		c, err := s.toDomain(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// Confirm: RECEIVED → VALID.
func (s *Store) Confirm(ctx context.Context, id string) (*Consent, error) {
	return s.transition(ctx, id, repository.ConsentValid)
}

// Reject: RECEIVED → REJECTED.
func (s *Store) Reject(ctx context.Context, id string) (*Consent, error) {
	return s.transition(ctx, id, repository.ConsentRejected)
}

// Revoke: RECEIVED|VALID → REVOKED.
func (s *Store) Revoke(ctx context.Context, id string) (*Consent, error) {
	return s.transition(ctx, id, repository.ConsentRevoked)
}

// MarkExpired: RECEIVED|VALID → EXPIRED.
func (s *Store) MarkExpired(ctx context.Context, id string) (*Consent, error) {
	return s.transition(ctx, id, repository.ConsentExpired)
}

// Touch registra la última acción sobre el consent.
func (s *Store) Touch(ctx context.Context, id string) error {
	return mapRepoErr(s.repo.Touch(ctx, id, s.now().UTC()))
}

func (s *Store) transition(ctx context.Context, id string, to repository.ConsentStatus) (*Consent, error) {
	row, err := s.repo.UpdateStatus(ctx, id, transitions[to], to, s.now().UTC())
	switch {
	case err == nil:
	case repository.IsConflict(err):
		cur, gerr := s.repo.Get(ctx, id)
		if gerr != nil {
			return nil, mapRepoErr(gerr)
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
	default:
		return nil, mapRepoErr(err)
	}
	logger.From(ctx).Info("consent status changed", logger.ConsentID(id), logger.String("status", string(to)))
	return s.toDomain(row)
}

func (s *Store) encodeScope(sc Scope) (string, error) {
	b, err := json.Marshal(sc)
	if err != nil {
		return "", err
	}
	return s.codec.Encrypt(string(b))
}

func (s *Store) toDomain(row *repository.Consent) (*Consent, error) {
	c := &Consent{
		ID:              row.ID,
		CustomerID:      row.CustomerID,
		ThirdPartyID:    row.ThirdPartyID,
		Kind:            row.Kind,
		Status:          row.Status,
		ValidFrom:       row.ValidFrom,
		ValidUntil:      row.ValidUntil,
		FrequencyPerDay: row.FrequencyPerDay,
		LastActionAt:    row.LastActionAt,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if row.ScopeEnc == "" {
		return c, nil
	}
	plain, err := s.codec.Decrypt(row.ScopeEnc)
	if err != nil {
		return nil, fmt.Errorf("consent %s: scope: %w", row.ID, err)
	}
	// Un scope ilegible (fail-open sobre datos corruptos) queda vacío: el
	// gate no lo autoriza para ningún recurso concreto.
	if err := json.Unmarshal([]byte(plain), &c.Scope); err != nil {
		c.Scope = Scope{}
	}
	return c, nil
}

func mapRepoErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
