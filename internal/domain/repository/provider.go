package repository

import (
	"context"
	"time"
)

// Certificate es el certificado vinculado a un TPP.
type Certificate struct {
	SerialNumber string
	Subject      string
	Issuer       string
	ValidFrom    time.Time
	ValidUntil   time.Time
	Raw          string
}

// Provider es un TPP registrado. La API key solo se guarda hasheada.
type Provider struct {
	ID                 string
	Name               string
	RegistrationNumber string
	APIKeyHash         string
	RedirectURI        string
	Status             ProviderStatus
	Type               Role
	Roles              []Role
	Certificate        *Certificate
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ProviderRepository define operaciones sobre el registro de TPPs.
type ProviderRepository interface {
	// Create registra un TPP. ErrConflict si el número de registro ya existe.
	Create(ctx context.Context, p Provider) error

	Get(ctx context.Context, id string) (*Provider, error)

	// GetByAPIKeyHash busca por sha256(apiKey). ErrNotFound si no existe.
	GetByAPIKeyHash(ctx context.Context, hash string) (*Provider, error)

	// GetByCertificateSerial busca por el serial del certificado vinculado.
	GetByCertificateSerial(ctx context.Context, serial string) (*Provider, error)

	List(ctx context.Context) ([]Provider, error)

	UpdateStatus(ctx context.Context, id string, status ProviderStatus, at time.Time) error

	// BindCertificate reemplaza el certificado vinculado.
	// ErrConflict si el serial ya pertenece a otro TPP.
	BindCertificate(ctx context.Context, id string, cert Certificate, at time.Time) error
}

// HasRole reporta si el TPP tiene el rol r.
func (p *Provider) HasRole(r Role) bool {
	if p == nil {
		return false
	}
	for _, x := range p.Roles {
		if x == r {
			return true
		}
	}
	return false
}
