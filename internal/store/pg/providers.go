package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/consentgate/internal/domain/repository"
)

// ProvidersPG implementa repository.ProviderRepository.
type ProvidersPG struct {
	db PgExecQuerier
}

func NewProvidersPG(db PgExecQuerier) *ProvidersPG { return &ProvidersPG{db: db} }

const providerCols = `id, name, registration_number, api_key_hash, redirect_uri, status, provider_type, roles,
	cert_serial, cert_subject, cert_issuer, cert_valid_from, cert_valid_until, cert_raw, created_at, updated_at`

func scanProvider(row pgx.Row) (*repository.Provider, error) {
	var (
		p                       repository.Provider
		status, ptype           string
		roles                   []string
		serial, subject, issuer *string
		raw                     *string
		from, until             *time.Time
	)
	if err := row.Scan(&p.ID, &p.Name, &p.RegistrationNumber, &p.APIKeyHash, &p.RedirectURI, &status, &ptype, &roles,
		&serial, &subject, &issuer, &from, &until, &raw, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	p.Status = repository.ProviderStatus(status)
	p.Type = repository.Role(ptype)
	for _, r := range roles {
		p.Roles = append(p.Roles, repository.Role(r))
	}
	if serial != nil {
		p.Certificate = &repository.Certificate{
			SerialNumber: *serial,
			Subject:      deref(subject),
			Issuer:       deref(issuer),
			ValidFrom:    derefTime(from),
			ValidUntil:   derefTime(until),
			Raw:          deref(raw),
		}
	}
	return &p, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func roleStrings(rs []repository.Role) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}

func (r *ProvidersPG) Create(ctx context.Context, p repository.Provider) error {
	const q = `
INSERT INTO providers (id, name, registration_number, api_key_hash, redirect_uri, status, provider_type, roles, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := r.db.Exec(ctx, q, p.ID, p.Name, p.RegistrationNumber, p.APIKeyHash, p.RedirectURI,
		string(p.Status), string(p.Type), roleStrings(p.Roles), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	if p.Certificate != nil {
		return r.BindCertificate(ctx, p.ID, *p.Certificate, p.UpdatedAt)
	}
	return nil
}

func (r *ProvidersPG) Get(ctx context.Context, id string) (*repository.Provider, error) {
	return scanProvider(r.db.QueryRow(ctx, `SELECT `+providerCols+` FROM providers WHERE id = $1`, id))
}

func (r *ProvidersPG) GetByAPIKeyHash(ctx context.Context, hash string) (*repository.Provider, error) {
	return scanProvider(r.db.QueryRow(ctx, `SELECT `+providerCols+` FROM providers WHERE api_key_hash = $1`, hash))
}

func (r *ProvidersPG) GetByCertificateSerial(ctx context.Context, serial string) (*repository.Provider, error) {
	return scanProvider(r.db.QueryRow(ctx, `SELECT `+providerCols+` FROM providers WHERE cert_serial = $1`, serial))
}

func (r *ProvidersPG) List(ctx context.Context) ([]repository.Provider, error) {
	rows, err := r.db.Query(ctx, `SELECT `+providerCols+` FROM providers ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *ProvidersPG) UpdateStatus(ctx context.Context, id string, status repository.ProviderStatus, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE providers SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *ProvidersPG) BindCertificate(ctx context.Context, id string, c repository.Certificate, at time.Time) error {
	const q = `
UPDATE providers
SET cert_serial = $2, cert_subject = $3, cert_issuer = $4, cert_valid_from = $5, cert_valid_until = $6,
    cert_raw = $7, updated_at = $8
WHERE id = $1`
	tag, err := r.db.Exec(ctx, q, id, c.SerialNumber, c.Subject, c.Issuer, c.ValidFrom, c.ValidUntil, c.Raw, at)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

var _ repository.ProviderRepository = (*ProvidersPG)(nil)
