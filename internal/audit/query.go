package audit

import (
	"context"
	"time"

	"github.com/dropDatabas3/consentgate/internal/domain/repository"
)

// Query filtra el access log; ver repository.AccessLogQuery.
type Query = repository.AccessLogQuery

// Find devuelve entradas descifradas, más recientes primero. q.CustomerID va
// en claro.
func (l *Logger) Find(ctx context.Context, q Query) ([]Entry, error) {
	q.CustomerID = l.codec.Fingerprint(q.CustomerID)
	rows, err := l.repo.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e, err := l.decode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (l *Logger) ByCustomer(ctx context.Context, customerID string, limit int) ([]Entry, error) {
	return l.Find(ctx, Query{CustomerID: customerID, Limit: limit})
}

func (l *Logger) ByConsent(ctx context.Context, consentID string, limit int) ([]Entry, error) {
	return l.Find(ctx, Query{ConsentID: consentID, Limit: limit})
}

func (l *Logger) ByThirdParty(ctx context.Context, thirdPartyID string, limit int) ([]Entry, error) {
	return l.Find(ctx, Query{ThirdPartyID: thirdPartyID, Limit: limit})
}

// ByCustomerBetween filtra por [from, to).
func (l *Logger) ByCustomerBetween(ctx context.Context, customerID string, from, to time.Time, limit int) ([]Entry, error) {
	return l.Find(ctx, Query{CustomerID: customerID, From: from, To: to, Limit: limit})
}

// CountByConsentSince cuenta accesos SUCCESS del consent desde since.
// Alimenta el tope de frecuencia de consent.Gate.
func (l *Logger) CountByConsentSince(ctx context.Context, consentID string, since time.Time) (int, error) {
	return l.repo.CountSuccessSince(ctx, consentID, since)
}

func (l *Logger) decode(r repository.AccessLogEntry) (Entry, error) {
	e := Entry{
		ID:           r.ID,
		ConsentID:    r.ConsentID,
		ThirdPartyID: r.ThirdPartyID,
		AccessKind:   r.AccessKind,
		ResourceType: r.ResourceType,
		ResourceID:   r.ResourceID,
		ClientIP:     r.ClientIP,
		UserAgent:    r.UserAgent,
		Outcome:      r.Status,
		RequestID:    r.RequestID,
		CreatedAt:    r.CreatedAt,
	}
	var err error
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&e.CustomerID, r.CustomerIDEnc},
		{&e.ErrorMessage, r.ErrorMessageEnc},
		{&e.TPPRequestID, r.TPPRequestIDEnc},
		{&e.PSUID, r.PSUIDEnc},
		{&e.PSUIPAddress, r.PSUIPAddressEnc},
	} {
		if *f.dst, err = l.codec.Decrypt(f.src); err != nil {
			return Entry{}, err
		}
	}
	if r.CustomerIDEnc == "" {
		e.CustomerID = r.CustomerID // filas anteriores a la huella
	}
	return e, nil
}
