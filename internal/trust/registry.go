package trust

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dropDatabas3/consentgate/internal/domain/repository"
	"github.com/dropDatabas3/consentgate/internal/observability/logger"
	"github.com/dropDatabas3/consentgate/internal/security/certinspect"
	tokens "github.com/dropDatabas3/consentgate/internal/security/token"
)

// RegisterInput son los datos de alta de un TPP.
type RegisterInput struct {
	Name               string
	RegistrationNumber string
	RedirectURI        string
	Type               repository.Role
	Roles              []repository.Role
	// Certificate opcional, PEM o base64 DER.
	Certificate string
}

// Register da de alta un TPP ACTIVE y devuelve su API key. La key no se
// persiste en claro y no puede recuperarse después.
func (s *Store) Register(ctx context.Context, in RegisterInput) (*repository.Provider, string, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.RegistrationNumber = strings.TrimSpace(in.RegistrationNumber)
	if in.Name == "" || in.RegistrationNumber == "" {
		return nil, "", fmt.Errorf("%w: name and registrationNumber are required", ErrInvalidProvider)
	}
	if !in.Type.Valid() {
		return nil, "", fmt.Errorf("%w: unknown provider type %q", ErrInvalidProvider, in.Type)
	}
	roles := in.Roles
	if len(roles) == 0 {
		roles = []repository.Role{in.Type}
	}
	for _, r := range roles {
		if !r.Valid() {
			return nil, "", fmt.Errorf("%w: unknown role %q", ErrInvalidProvider, r)
		}
	}

	apiKey, err := tokens.GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}
	now := s.now().UTC()
	p := repository.Provider{
		ID:                 uuid.NewString(),
		Name:               in.Name,
		RegistrationNumber: in.RegistrationNumber,
		APIKeyHash:         tokens.SHA256Hex(apiKey),
		RedirectURI:        in.RedirectURI,
		Status:             repository.ProviderActive,
		Type:               in.Type,
		Roles:              roles,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if in.Certificate != "" {
		c, err := s.inspectForBinding(ctx, in.Certificate)
		if err != nil {
			return nil, "", err
		}
		p.Certificate = c
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, "", err
	}
	logger.From(ctx).Info("provider registered",
		logger.ThirdPartyID(p.ID), logger.String("registration_number", p.RegistrationNumber))
	return &p, apiKey, nil
}

// SetStatus cambia el estado del TPP. REVOKED es terminal.
func (s *Store) SetStatus(ctx context.Context, id string, status repository.ProviderStatus) (*repository.Provider, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidProvider, status)
	}
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == repository.ProviderRevoked && status != repository.ProviderRevoked {
		return nil, ErrInvalidTransition
	}
	now := s.now().UTC()
	if err := s.repo.UpdateStatus(ctx, id, status, now); err != nil {
		return nil, err
	}
	s.invalidate(id)
	p.Status, p.UpdatedAt = status, now
	logger.From(ctx).Info("provider status changed", logger.ThirdPartyID(id), logger.String("status", string(status)))
	return p, nil
}

// BindCertificate vincula (o reemplaza) el certificado del TPP.
func (s *Store) BindCertificate(ctx context.Context, id, raw string) (*repository.Provider, error) {
	c, err := s.inspectForBinding(ctx, raw)
	if err != nil {
		return nil, err
	}
	if err := s.repo.BindCertificate(ctx, id, *c, s.now().UTC()); err != nil {
		return nil, err
	}
	s.invalidate(id)
	return s.repo.Get(ctx, id)
}

func (s *Store) inspectForBinding(ctx context.Context, raw string) (*repository.Certificate, error) {
	info, st, err := s.inspector.Inspect(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificateInvalid, err)
	}
	if st != certinspect.StatusValid {
		return nil, fmt.Errorf("%w: %s", ErrCertificateInvalid, st)
	}
	return &repository.Certificate{
		SerialNumber: info.SerialNumber,
		Subject:      info.Subject,
		Issuer:       info.Issuer,
		ValidFrom:    info.ValidFrom,
		ValidUntil:   info.ValidUntil,
		Raw:          strings.TrimSpace(raw),
	}, nil
}

func (s *Store) Get(ctx context.Context, id string) (*repository.Provider, error) {
	return s.repo.Get(ctx, id)
}

func (s *Store) List(ctx context.Context) ([]repository.Provider, error) {
	return s.repo.List(ctx)
}
