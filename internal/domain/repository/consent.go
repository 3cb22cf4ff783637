package repository

import (
	"context"
	"time"
)

// Consent es la fila persistida de un consentimiento.
// ScopeEnc contiene el scope serializado y cifrado por consent.Store.
type Consent struct {
	ID              string
	CustomerID      string
	ThirdPartyID    string
	Kind            ConsentKind
	Status          ConsentStatus
	ValidFrom       time.Time
	ValidUntil      time.Time
	FrequencyPerDay int
	ScopeEnc        string
	LastActionAt    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ConsentRepository define operaciones sobre consents.
type ConsentRepository interface {
	// Create inserta un consent nuevo. ErrConflict si el ID ya existe.
	Create(ctx context.Context, c Consent) error

	// Get obtiene un consent por ID. Retorna ErrNotFound si no existe.
	Get(ctx context.Context, id string) (*Consent, error)

	// ListByCustomer lista los consents de un cliente, más recientes primero.
	ListByCustomer(ctx context.Context, customerID string) ([]Consent, error)

	// UpdateStatus cambia el estado solo si el actual está en from.
	// Retorna ErrNotFound si no existe y ErrConflict si el estado no coincide.
	UpdateStatus(ctx context.Context, id string, from []ConsentStatus, to ConsentStatus, at time.Time) (*Consent, error)

	// Touch actualiza last_action_at.
	Touch(ctx context.Context, id string, at time.Time) error
}
