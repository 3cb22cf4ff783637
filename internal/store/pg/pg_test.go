package pg

import (
	"context"
	"os"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/consentgate/internal/domain/repository"
	"github.com/dropDatabas3/consentgate/migrations"
)

func TestParseMigrations_OrdersAndFilters(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0002_b.sql":  {Data: []byte("SELECT 2")},
		"m/0001_a.sql":  {Data: []byte("SELECT 1")},
		"m/README.md":   {Data: []byte("x")},
		"m/notnum_.sql": {Data: []byte("x")},
	}
	migs, err := NewMigrator(fsys, "m").ParseMigrations()
	require.NoError(t, err)
	require.Len(t, migs, 2)
	assert.Equal(t, 1, migs[0].Version)
	assert.Equal(t, "a", migs[0].Name)
	assert.Equal(t, 2, migs[1].Version)
}

func TestParseMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0001_a.sql": {Data: []byte("SELECT 1")},
		"m/001_b.sql":  {Data: []byte("SELECT 1")},
	}
	_, err := NewMigrator(fsys, "m").ParseMigrations()
	require.Error(t, err)
}

func TestEmbeddedMigrationsParse(t *testing.T) {
	migs, err := NewMigrator(migrations.PostgresFS, migrations.PostgresDir).ParseMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migs)
	assert.Equal(t, 1, migs[0].Version)
}

func TestBuildFind(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	sql, args := buildFind(repository.AccessLogQuery{CustomerID: "c1", From: from, Limit: 5})
	assert.Contains(t, sql, "WHERE customer_id = $1 AND created_at >= $2")
	assert.Contains(t, sql, "ORDER BY created_at DESC, id DESC LIMIT $3")
	assert.Equal(t, []any{"c1", from, 5}, args)

	sql, args = buildFind(repository.AccessLogQuery{})
	assert.NotContains(t, sql, "WHERE")
	assert.Equal(t, []any{defaultQueryLimit}, args)
}

// Integración contra un Postgres real: CONSENTGATE_TEST_PG_DSN=postgres://...
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("CONSENTGATE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("CONSENTGATE_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := New(ctx, dsn, PoolOptions{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	_, err = NewMigrator(migrations.PostgresFS, migrations.PostgresDir).Run(ctx, s)
	require.NoError(t, err)
	return s
}

func TestIntegration_ConsentLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	tpp := repository.Provider{
		ID: uuid.NewString(), Name: "TPP", RegistrationNumber: "REG-" + uuid.NewString(),
		APIKeyHash: uuid.NewString(), Status: repository.ProviderActive, Type: repository.RoleAISP,
		Roles: []repository.Role{repository.RoleAISP}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.Providers.Create(ctx, tpp))

	c := repository.Consent{
		ID: uuid.NewString(), CustomerID: "cust-1", ThirdPartyID: tpp.ID,
		Kind: repository.KindAccountInformation, Status: repository.ConsentReceived,
		ValidFrom: now, ValidUntil: now.Add(time.Hour), FrequencyPerDay: 4, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.Consents.Create(ctx, c))

	got, err := s.Consents.UpdateStatus(ctx, c.ID, []repository.ConsentStatus{repository.ConsentReceived}, repository.ConsentValid, now)
	require.NoError(t, err)
	assert.Equal(t, repository.ConsentValid, got.Status)

	_, err = s.Consents.UpdateStatus(ctx, c.ID, []repository.ConsentStatus{repository.ConsentReceived}, repository.ConsentRejected, now)
	require.ErrorIs(t, err, repository.ErrConflict)

	_, err = s.Consents.UpdateStatus(ctx, uuid.NewString(), []repository.ConsentStatus{repository.ConsentReceived}, repository.ConsentValid, now)
	require.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, s.AccessLog.Append(ctx, repository.AccessLogEntry{
		ID: uuid.NewString(), ConsentID: c.ID, CustomerID: "fp-" + c.ID, CustomerIDEnc: "enc-cust-1",
		AccessKind: repository.AccessRead, ResourceType: repository.ResourceAccount,
		Status: repository.OutcomeSuccess, CreatedAt: now,
	}))
	rows, err := s.AccessLog.Find(ctx, repository.AccessLogQuery{CustomerID: "fp-" + c.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "enc-cust-1", rows[0].CustomerIDEnc)
	n, err := s.AccessLog.CountSuccessSince(ctx, c.ID, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Pool().Exec(ctx, `DELETE FROM access_log WHERE consent_id = $1`, c.ID)
	require.Error(t, err, "access_log must reject deletes")
}
