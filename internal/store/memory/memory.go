// Package memory implementa los repositorios de dominio en memoria.
// Se usa en tests y en modo dev (storage.driver=memory).
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dropDatabas3/consentgate/internal/domain/repository"
)

// Store agrupa los repositorios en memoria.
type Store struct {
	Consents  *Consents
	Providers *Providers
	AccessLog *AccessLog
}

func New() *Store {
	return &Store{
		Consents:  NewConsents(),
		Providers: NewProviders(),
		AccessLog: NewAccessLog(),
	}
}

// ─────────────────────────────
// Consents
// ─────────────────────────────

type Consents struct {
	mu   sync.RWMutex
	rows map[string]repository.Consent
}

func NewConsents() *Consents { return &Consents{rows: map[string]repository.Consent{}} }

func (r *Consents) Create(_ context.Context, c repository.Consent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[c.ID]; ok {
		return repository.ErrConflict
	}
	r.rows[c.ID] = c
	return nil
}

func (r *Consents) Get(_ context.Context, id string) (*repository.Consent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (r *Consents) ListByCustomer(_ context.Context, customerID string) ([]repository.Consent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []repository.Consent
	for _, c := range r.rows {
		if c.CustomerID == customerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *Consents) UpdateStatus(_ context.Context, id string, from []repository.ConsentStatus, to repository.ConsentStatus, at time.Time) (*repository.Consent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !slices.Contains(from, c.Status) {
		return nil, repository.ErrConflict
	}
	c.Status = to
	c.UpdatedAt = at
	r.rows[id] = c
	return &c, nil
}

func (r *Consents) Touch(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.LastActionAt = &at
	r.rows[id] = c
	return nil
}

// ─────────────────────────────
// Providers
// ─────────────────────────────

type Providers struct {
	mu   sync.RWMutex
	rows map[string]repository.Provider
}

func NewProviders() *Providers { return &Providers{rows: map[string]repository.Provider{}} }

func cloneProvider(p repository.Provider) repository.Provider {
	p.Roles = slices.Clone(p.Roles)
	if p.Certificate != nil {
		c := *p.Certificate
		p.Certificate = &c
	}
	return p
}

func (r *Providers) Create(_ context.Context, p repository.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.rows {
		if x.ID == p.ID || x.RegistrationNumber == p.RegistrationNumber || x.APIKeyHash == p.APIKeyHash {
			return repository.ErrConflict
		}
	}
	r.rows[p.ID] = cloneProvider(p)
	return nil
}

func (r *Providers) find(match func(repository.Provider) bool) (*repository.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.rows {
		if match(p) {
			out := cloneProvider(p)
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Providers) Get(_ context.Context, id string) (*repository.Provider, error) {
	return r.find(func(p repository.Provider) bool { return p.ID == id })
}

func (r *Providers) GetByAPIKeyHash(_ context.Context, hash string) (*repository.Provider, error) {
	return r.find(func(p repository.Provider) bool { return p.APIKeyHash == hash })
}

func (r *Providers) GetByCertificateSerial(_ context.Context, serial string) (*repository.Provider, error) {
	return r.find(func(p repository.Provider) bool {
		return p.Certificate != nil && p.Certificate.SerialNumber == serial
	})
}

func (r *Providers) List(_ context.Context) ([]repository.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]repository.Provider, 0, len(r.rows))
	for _, p := range r.rows {
		out = append(out, cloneProvider(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Providers) UpdateStatus(_ context.Context, id string, status repository.ProviderStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = at
	r.rows[id] = p
	return nil
}

func (r *Providers) BindCertificate(_ context.Context, id string, cert repository.Certificate, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	for _, x := range r.rows {
		if x.ID != id && x.Certificate != nil && x.Certificate.SerialNumber == cert.SerialNumber {
			return repository.ErrConflict
		}
	}
	p.Certificate = &cert
	p.UpdatedAt = at
	r.rows[id] = p
	return nil
}

// ─────────────────────────────
// Access log
// ─────────────────────────────

type AccessLog struct {
	mu      sync.RWMutex
	entries []repository.AccessLogEntry
}

func NewAccessLog() *AccessLog { return &AccessLog{} }

func (r *AccessLog) Append(_ context.Context, e repository.AccessLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

// Len devuelve la cantidad de entradas (tests).
func (r *AccessLog) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *AccessLog) Find(_ context.Context, q repository.AccessLogQuery) ([]repository.AccessLogEntry, error) {
	r.mu.RLock()
	var out []repository.AccessLogEntry
	for _, e := range r.entries {
		switch {
		case q.CustomerID != "" && e.CustomerID != q.CustomerID,
			q.ConsentID != "" && e.ConsentID != q.ConsentID,
			q.ThirdPartyID != "" && e.ThirdPartyID != q.ThirdPartyID,
			!q.From.IsZero() && e.CreatedAt.Before(q.From),
			!q.To.IsZero() && !e.CreatedAt.Before(q.To):
			continue
		}
		out = append(out, e)
	}
	r.mu.RUnlock()

	// Más recientes primero; a igual timestamp, el último insertado primero.
	slices.Reverse(out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *AccessLog) CountSuccessSince(_ context.Context, consentID string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.ConsentID == consentID && e.Status == repository.OutcomeSuccess && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

var (
	_ repository.ConsentRepository   = (*Consents)(nil)
	_ repository.ProviderRepository  = (*Providers)(nil)
	_ repository.AccessLogRepository = (*AccessLog)(nil)
)
