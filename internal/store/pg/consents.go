package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/consentgate/internal/domain/repository"
)

// ConsentsPG implementa repository.ConsentRepository.
type ConsentsPG struct {
	db PgExecQuerier
}

func NewConsentsPG(db PgExecQuerier) *ConsentsPG { return &ConsentsPG{db: db} }

const consentCols = `id, customer_id, third_party_id, kind, status, valid_from, valid_until,
	frequency_per_day, scope_enc, last_action_at, created_at, updated_at`

func scanConsent(row pgx.Row) (*repository.Consent, error) {
	var c repository.Consent
	var kind, status string
	if err := row.Scan(&c.ID, &c.CustomerID, &c.ThirdPartyID, &kind, &status, &c.ValidFrom, &c.ValidUntil,
		&c.FrequencyPerDay, &c.ScopeEnc, &c.LastActionAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	c.Kind = repository.ConsentKind(kind)
	c.Status = repository.ConsentStatus(status)
	return &c, nil
}

func (r *ConsentsPG) Create(ctx context.Context, c repository.Consent) error {
	const q = `
INSERT INTO consents (` + consentCols + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := r.db.Exec(ctx, q, c.ID, c.CustomerID, c.ThirdPartyID, string(c.Kind), string(c.Status),
		c.ValidFrom, c.ValidUntil, c.FrequencyPerDay, c.ScopeEnc, c.LastActionAt, c.CreatedAt, c.UpdatedAt)
	return mapErr(err)
}

func (r *ConsentsPG) Get(ctx context.Context, id string) (*repository.Consent, error) {
	const q = `SELECT ` + consentCols + ` FROM consents WHERE id = $1`
	return scanConsent(r.db.QueryRow(ctx, q, id))
}

func (r *ConsentsPG) ListByCustomer(ctx context.Context, customerID string) ([]repository.Consent, error) {
	const q = `SELECT ` + consentCols + ` FROM consents WHERE customer_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, q, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateStatus es un compare-and-set sobre status: dos transiciones
// concurrentes no pueden pisarse.
func (r *ConsentsPG) UpdateStatus(ctx context.Context, id string, from []repository.ConsentStatus, to repository.ConsentStatus, at time.Time) (*repository.Consent, error) {
	fromStr := make([]string, len(from))
	for i, s := range from {
		fromStr[i] = string(s)
	}
	const q = `
UPDATE consents SET status = $2, updated_at = $3
WHERE id = $1 AND status = ANY($4)
RETURNING ` + consentCols
	c, err := scanConsent(r.db.QueryRow(ctx, q, id, string(to), at, fromStr))
	if err == nil {
		return c, nil
	}
	if !repository.IsNotFound(err) {
		return nil, err
	}
	// 0 filas: o no existe o el estado no coincide.
	if _, gerr := r.Get(ctx, id); gerr != nil {
		return nil, gerr
	}
	return nil, repository.ErrConflict
}

func (r *ConsentsPG) Touch(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE consents SET last_action_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

var _ repository.ConsentRepository = (*ConsentsPG)(nil)
