package audit

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/consentgate/internal/domain/repository"
	"github.com/dropDatabas3/consentgate/internal/metrics"
	"github.com/dropDatabas3/consentgate/internal/security/secretbox"
	"github.com/dropDatabas3/consentgate/internal/store/memory"
)

func codec(t *testing.T) *secretbox.Codec {
	t.Helper()
	key := base64.StdEncoding.EncodeToString([]byte("fedcba9876543210fedcba9876543210"))
	c, err := secretbox.New(secretbox.Config{Enabled: true, MasterKey: key, Purpose: "audit", DecryptPolicy: secretbox.FailClosed})
	require.NoError(t, err)
	return c
}

func sample(outcome repository.Outcome, at time.Time) Entry {
	return Entry{
		ConsentID: "c1", CustomerID: "cust-1", ThirdPartyID: "tpp-1",
		AccessKind: repository.AccessRead, ResourceType: repository.ResourceAccount, ResourceID: "acc-1",
		ClientIP: "10.0.0.1", UserAgent: "tpp-sdk/1.0", Outcome: outcome,
		ErrorMessage: "consent denied: RESOURCE_NOT_IN_SCOPE", RequestID: "req-1",
		TPPRequestID: "tpp-req-9", PSUID: "psu-4711", PSUIPAddress: "192.168.1.20", CreatedAt: at,
	}
}

func TestWrite_EncryptsSensitiveFieldsAtRest(t *testing.T) {
	repo := memory.NewAccessLog()
	l := New(repo, codec(t), Options{})
	ctx := context.Background()
	require.NoError(t, l.Write(ctx, sample(repository.OutcomeForbidden, time.Now())))

	rows, err := repo.Find(ctx, repository.AccessLogQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	r := rows[0]
	for _, enc := range []string{r.CustomerIDEnc, r.PSUIDEnc, r.PSUIPAddressEnc, r.TPPRequestIDEnc, r.ErrorMessageEnc} {
		assert.NotEmpty(t, enc)
		assert.NotContains(t, enc, "cust-1")
		assert.NotContains(t, enc, "psu-4711")
		assert.NotContains(t, enc, "192.168")
	}
	// La columna filtrable guarda la huella, no el id.
	assert.NotEqual(t, "cust-1", r.CustomerID)
	assert.Len(t, r.CustomerID, 64)
	assert.NotEmpty(t, r.ID)

	got, err := l.ByCustomer(ctx, "cust-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cust-1", got[0].CustomerID)
	assert.Equal(t, "psu-4711", got[0].PSUID)
	assert.Equal(t, "192.168.1.20", got[0].PSUIPAddress)
	assert.Equal(t, "tpp-req-9", got[0].TPPRequestID)
	assert.Equal(t, "consent denied: RESOURCE_NOT_IN_SCOPE", got[0].ErrorMessage)
}

func TestFind_ReadsRowsWrittenBeforeFingerprint(t *testing.T) {
	repo := memory.NewAccessLog()
	ctx := context.Background()
	require.NoError(t, repo.Append(ctx, repository.AccessLogEntry{
		ID: "old-1", CustomerID: "cust-1", AccessKind: repository.AccessRead,
		ResourceType: repository.ResourceAccount, Status: repository.OutcomeSuccess, CreatedAt: time.Now(),
	}))
	l := New(repo, codec(t), Options{})

	got, err := l.Find(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cust-1", got[0].CustomerID)

	// El filtro por cliente usa la huella: la fila vieja no aparece.
	got, err = l.ByCustomer(ctx, "cust-1", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

type failingRepo struct {
	repository.AccessLogRepository
	release chan struct{}
}

func (f *failingRepo) Append(ctx context.Context, _ repository.AccessLogEntry) error {
	select {
	case <-f.release:
	case <-ctx.Done():
	}
	return errors.New("db down")
}

func TestRecord_DoesNotBlockNorPropagate(t *testing.T) {
	repo := &failingRepo{AccessLogRepository: memory.NewAccessLog(), release: make(chan struct{})}
	l := New(repo, nil, Options{WriteTimeout: time.Second})
	before := testutil.ToFloat64(metrics.AuditWriteFailures)

	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	l.Record(ctx, sample(repository.OutcomeSuccess, time.Time{}))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	// Cancelar el request no cancela la escritura.
	cancel()
	close(repo.release)

	fctx, fcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer fcancel()
	require.NoError(t, l.Flush(fctx))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.AuditWriteFailures))
}

func TestRecord_DetachedFromCallerCancellation(t *testing.T) {
	repo := memory.NewAccessLog()
	l := New(repo, codec(t), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.Record(ctx, sample(repository.OutcomeError, time.Time{}))
	require.NoError(t, l.Flush(context.Background()))
	assert.Equal(t, 1, repo.Len())
}

func TestFlush_RespectsContext(t *testing.T) {
	repo := &failingRepo{AccessLogRepository: memory.NewAccessLog(), release: make(chan struct{})}
	l := New(repo, nil, Options{WriteTimeout: time.Minute})
	l.Record(context.Background(), sample(repository.OutcomeSuccess, time.Time{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Flush(ctx), context.DeadlineExceeded)
	close(repo.release)
	require.NoError(t, l.Flush(context.Background()))
}

func TestQueries_NewestFirstAndCount(t *testing.T) {
	repo := memory.NewAccessLog()
	l := New(repo, codec(t), Options{})
	ctx := context.Background()
	day := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)

	e1 := sample(repository.OutcomeSuccess, day.Add(1*time.Hour))
	e2 := sample(repository.OutcomeForbidden, day.Add(2*time.Hour))
	e3 := sample(repository.OutcomeSuccess, day.Add(3*time.Hour))
	e4 := sample(repository.OutcomeSuccess, day.Add(-time.Hour))
	e4.ThirdPartyID = "tpp-2"
	for _, e := range []Entry{e1, e2, e3, e4} {
		require.NoError(t, l.Write(ctx, e))
	}

	byConsent, err := l.ByConsent(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, byConsent, 4)
	for i := 1; i < len(byConsent); i++ {
		assert.False(t, byConsent[i].CreatedAt.After(byConsent[i-1].CreatedAt))
	}

	between, err := l.ByCustomerBetween(ctx, "cust-1", day, day.Add(3*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, between, 2)
	assert.Equal(t, repository.OutcomeForbidden, between[0].Outcome)

	byTPP, err := l.ByThirdParty(ctx, "tpp-2", 0)
	require.NoError(t, err)
	require.Len(t, byTPP, 1)

	n, err := l.CountByConsentSince(ctx, "c1", day)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	limited, err := l.ByCustomer(ctx, "cust-1", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, day.Add(3*time.Hour), limited[0].CreatedAt)
}
