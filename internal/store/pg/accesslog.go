package pg

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/consentgate/internal/domain/repository"
)

// AccessLogPG implementa repository.AccessLogRepository. Solo INSERT/SELECT;
// la tabla tiene un trigger que rechaza UPDATE/DELETE.
type AccessLogPG struct {
	db PgExecQuerier
}

func NewAccessLogPG(db PgExecQuerier) *AccessLogPG { return &AccessLogPG{db: db} }

const accessLogCols = `id, consent_id, customer_id, third_party_id, access_kind, resource_type, resource_id,
	client_ip, user_agent, status, error_message_enc, request_id, tpp_request_id_enc, psu_id_enc, psu_ip_enc, created_at,
	customer_id_enc`

const defaultQueryLimit = 100

func (r *AccessLogPG) Append(ctx context.Context, e repository.AccessLogEntry) error {
	const q = `INSERT INTO access_log (` + accessLogCols + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`
	_, err := r.db.Exec(ctx, q, e.ID, e.ConsentID, e.CustomerID, e.ThirdPartyID, string(e.AccessKind),
		string(e.ResourceType), e.ResourceID, e.ClientIP, e.UserAgent, string(e.Status), e.ErrorMessageEnc,
		e.RequestID, e.TPPRequestIDEnc, e.PSUIDEnc, e.PSUIPAddressEnc, e.CreatedAt, e.CustomerIDEnc)
	return mapErr(err)
}

// buildFind arma el SELECT con los filtros presentes en q.
func buildFind(q repository.AccessLogQuery) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.CustomerID != "" {
		add("customer_id = $%d", q.CustomerID)
	}
	if q.ConsentID != "" {
		add("consent_id = $%d", q.ConsentID)
	}
	if q.ThirdPartyID != "" {
		add("third_party_id = $%d", q.ThirdPartyID)
	}
	if !q.From.IsZero() {
		add("created_at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("created_at < $%d", q.To)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	sb := strings.Builder{}
	sb.WriteString("SELECT " + accessLogCols + " FROM access_log")
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	args = append(args, limit)
	sb.WriteString(fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args)))
	return sb.String(), args
}

func (r *AccessLogPG) Find(ctx context.Context, q repository.AccessLogQuery) ([]repository.AccessLogEntry, error) {
	sql, args := buildFind(q)
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.AccessLogEntry
	for rows.Next() {
		var (
			e                   repository.AccessLogEntry
			kind, rtype, status string
		)
		if err := rows.Scan(&e.ID, &e.ConsentID, &e.CustomerID, &e.ThirdPartyID, &kind, &rtype, &e.ResourceID,
			&e.ClientIP, &e.UserAgent, &status, &e.ErrorMessageEnc, &e.RequestID, &e.TPPRequestIDEnc,
			&e.PSUIDEnc, &e.PSUIPAddressEnc, &e.CreatedAt, &e.CustomerIDEnc); err != nil {
			return nil, err
		}
		e.AccessKind = repository.AccessKind(kind)
		e.ResourceType = repository.ResourceType(rtype)
		e.Status = repository.Outcome(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *AccessLogPG) CountSuccessSince(ctx context.Context, consentID string, since time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM access_log WHERE consent_id = $1 AND status = 'SUCCESS' AND created_at >= $2`
	var n int
	if err := r.db.QueryRow(ctx, q, consentID, since).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

var _ repository.AccessLogRepository = (*AccessLogPG)(nil)
