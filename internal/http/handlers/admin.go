package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/consentgate/internal/audit"
	"github.com/dropDatabas3/consentgate/internal/domain/repository"
	httperrors "github.com/dropDatabas3/consentgate/internal/http/errors"
	"github.com/dropDatabas3/consentgate/internal/trust"
)

// ProviderRegistry es la parte administrativa del trust store.
type ProviderRegistry interface {
	Register(ctx context.Context, in trust.RegisterInput) (*repository.Provider, string, error)
	SetStatus(ctx context.Context, id string, status repository.ProviderStatus) (*repository.Provider, error)
	BindCertificate(ctx context.Context, id, raw string) (*repository.Provider, error)
	Get(ctx context.Context, id string) (*repository.Provider, error)
	List(ctx context.Context) ([]repository.Provider, error)
}

// AuditReader consulta el access log.
type AuditReader interface {
	Find(ctx context.Context, q audit.Query) ([]audit.Entry, error)
}

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// AdminHandler es la API de operación: alta de TPPs y consulta de auditoría.
// Va siempre detrás de RequireAdminKey.
type AdminHandler struct {
	providers ProviderRegistry
	audit     AuditReader
}

func NewAdminHandler(providers ProviderRegistry, audit AuditReader) *AdminHandler {
	return &AdminHandler{providers: providers, audit: audit}
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Post("/providers", h.registerProvider)
	r.Get("/providers", h.listProviders)
	r.Get("/providers/{id}", h.getProvider)
	r.Put("/providers/{id}/status", h.setStatus)
	r.Put("/providers/{id}/certificate", h.bindCertificate)
	r.Get("/audit", h.queryAudit)
}

type certificateView struct {
	SerialNumber string    `json:"serialNumber"`
	Subject      string    `json:"subject"`
	Issuer       string    `json:"issuer"`
	ValidFrom    time.Time `json:"validFrom"`
	ValidUntil   time.Time `json:"validUntil"`
}

type providerView struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	RegistrationNumber string           `json:"registrationNumber"`
	RedirectURI        string           `json:"redirectUri,omitempty"`
	Status             string           `json:"status"`
	Type               string           `json:"type"`
	Roles              []string         `json:"roles"`
	Certificate        *certificateView `json:"certificate,omitempty"`
	CreatedAt          time.Time        `json:"createdAt"`
	UpdatedAt          time.Time        `json:"updatedAt"`
}

func toProviderView(p *repository.Provider) providerView {
	v := providerView{
		ID:                 p.ID,
		Name:               p.Name,
		RegistrationNumber: p.RegistrationNumber,
		RedirectURI:        p.RedirectURI,
		Status:             string(p.Status),
		Type:               string(p.Type),
		Roles:              make([]string, 0, len(p.Roles)),
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
	for _, r := range p.Roles {
		v.Roles = append(v.Roles, string(r))
	}
	if c := p.Certificate; c != nil {
		v.Certificate = &certificateView{
			SerialNumber: c.SerialNumber,
			Subject:      c.Subject,
			Issuer:       c.Issuer,
			ValidFrom:    c.ValidFrom,
			ValidUntil:   c.ValidUntil,
		}
	}
	return v
}

type registerProviderRequest struct {
	Name               string   `json:"name"`
	RegistrationNumber string   `json:"registrationNumber"`
	RedirectURI        string   `json:"redirectUri"`
	Type               string   `json:"type"`
	Roles              []string `json:"roles"`
	Certificate        string   `json:"certificate"`
}

type registerProviderResponse struct {
	providerView
	// APIKey se muestra una única vez.
	APIKey string `json:"apiKey"`
}

func (h *AdminHandler) registerProvider(w http.ResponseWriter, r *http.Request) {
	var req registerProviderRequest
	if !readStrictJSON(w, r, &req) {
		return
	}
	in := trust.RegisterInput{
		Name:               req.Name,
		RegistrationNumber: req.RegistrationNumber,
		RedirectURI:        req.RedirectURI,
		Type:               repository.Role(strings.ToUpper(strings.TrimSpace(req.Type))),
		Certificate:        req.Certificate,
	}
	for _, role := range req.Roles {
		in.Roles = append(in.Roles, repository.Role(strings.ToUpper(strings.TrimSpace(role))))
	}

	p, apiKey, err := h.providers.Register(r.Context(), in)
	if err != nil {
		httperrors.WriteError(w, r, adminErr(err))
		return
	}
	writeJSON(w, http.StatusCreated, registerProviderResponse{providerView: toProviderView(p), APIKey: apiKey})
}

func (h *AdminHandler) listProviders(w http.ResponseWriter, r *http.Request) {
	ps, err := h.providers.List(r.Context())
	if err != nil {
		httperrors.WriteError(w, r, adminErr(err))
		return
	}
	out := make([]providerView, 0, len(ps))
	for i := range ps {
		out = append(out, toProviderView(&ps[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

func (h *AdminHandler) getProvider(w http.ResponseWriter, r *http.Request) {
	p, err := h.providers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httperrors.WriteError(w, r, adminErr(err))
		return
	}
	writeJSON(w, http.StatusOK, toProviderView(p))
}

func (h *AdminHandler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if !readStrictJSON(w, r, &req) {
		return
	}
	status := repository.ProviderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	p, err := h.providers.SetStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		httperrors.WriteError(w, r, adminErr(err))
		return
	}
	writeJSON(w, http.StatusOK, toProviderView(p))
}

func (h *AdminHandler) bindCertificate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Certificate string `json:"certificate"`
	}
	if !readStrictJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Certificate) == "" {
		httperrors.WriteError(w, r, httperrors.ErrFormat.WithField("certificate", "required"))
		return
	}
	p, err := h.providers.BindCertificate(r.Context(), chi.URLParam(r, "id"), req.Certificate)
	if err != nil {
		httperrors.WriteError(w, r, adminErr(err))
		return
	}
	writeJSON(w, http.StatusOK, toProviderView(p))
}

func (h *AdminHandler) queryAudit(w http.ResponseWriter, r *http.Request) {
	q, appErr := parseAuditQuery(r)
	if appErr != nil {
		httperrors.WriteError(w, r, appErr)
		return
	}
	entries, err := h.audit.Find(r.Context(), q)
	if err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func parseAuditQuery(r *http.Request) (audit.Query, *httperrors.AppError) {
	v := r.URL.Query()
	q := audit.Query{
		CustomerID:   strings.TrimSpace(v.Get("customerId")),
		ConsentID:    strings.TrimSpace(v.Get("consentId")),
		ThirdPartyID: strings.TrimSpace(v.Get("thirdPartyId")),
		Limit:        defaultAuditLimit,
	}

	appErr := httperrors.ErrFormat.WithDetail("invalid audit query")
	invalid := false
	if q.CustomerID == "" && q.ConsentID == "" && q.ThirdPartyID == "" {
		appErr, invalid = appErr.WithField("customerId", "one of customerId, consentId or thirdPartyId is required"), true
	}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &q.From}, {"to", &q.To}} {
		raw := strings.TrimSpace(v.Get(p.name))
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			appErr, invalid = appErr.WithField(p.name, "must be RFC3339"), true
			continue
		}
		*p.dst = t
	}
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		appErr, invalid = appErr.WithField("to", "must be after from"), true
	}
	if raw := strings.TrimSpace(v.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxAuditLimit {
			appErr, invalid = appErr.WithField("limit", "must be between 1 and 1000"), true
		} else {
			q.Limit = n
		}
	}
	if invalid {
		return audit.Query{}, appErr
	}
	return q, nil
}

func adminErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return httperrors.ErrResourceUnknown.WithCause(err)
	case errors.Is(err, repository.ErrConflict):
		return httperrors.ErrFormat.WithDetail("registration number or certificate already bound").WithCause(err)
	case errors.Is(err, trust.ErrInvalidProvider),
		errors.Is(err, trust.ErrInvalidTransition),
		errors.Is(err, trust.ErrCertificateInvalid):
		return httperrors.ErrFormat.WithDetail(err.Error()).WithCause(err)
	}
	return err
}
