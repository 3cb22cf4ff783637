package trust

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/consentgate/internal/domain/repository"
	"github.com/dropDatabas3/consentgate/internal/security/certinspect"
	"github.com/dropDatabas3/consentgate/internal/store/memory"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T, repo repository.ProviderRepository) *Store {
	t.Helper()
	if repo == nil {
		repo = memory.NewProviders()
	}
	insp := certinspect.New(certinspect.Options{ValidationEnabled: true, Now: func() time.Time { return now }})
	return New(repo, insp, Options{Now: func() time.Time { return now }})
}

func certB64(t *testing.T, serial int64, from, until time.Time) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "tpp"},
		NotBefore:    from,
		NotAfter:     until,
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(der)
}

func register(t *testing.T, s *Store, cert string) (*repository.Provider, string) {
	t.Helper()
	p, key, err := s.Register(context.Background(), RegisterInput{
		Name: "Fintech", RegistrationNumber: "REG-" + time.Now().Format("150405.000000000"),
		Type: repository.RoleAISP, Certificate: cert,
	})
	require.NoError(t, err)
	return p, key
}

func TestResolveByAPIKey(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)
	p, key := register(t, s, "")
	assert.NotEqual(t, key, p.APIKeyHash)
	assert.True(t, p.HasRole(repository.RoleAISP))

	got, err := s.ResolveByAPIKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = s.ResolveByAPIKey(ctx, key+"x")
	require.ErrorIs(t, err, ErrUnknownCredential)
	_, err = s.ResolveByAPIKey(ctx, "")
	require.ErrorIs(t, err, ErrUnknownCredential)
}

func TestResolve_BlockedProviderNeverResolves(t *testing.T) {
	ctx := context.Background()
	for _, st := range []repository.ProviderStatus{repository.ProviderSuspended, repository.ProviderRevoked} {
		s := newStore(t, nil)
		p, key := register(t, s, "")
		_, err := s.ResolveByAPIKey(ctx, key) // calienta el cache
		require.NoError(t, err)

		_, err = s.SetStatus(ctx, p.ID, st)
		require.NoError(t, err)

		got, err := s.ResolveByAPIKey(ctx, key)
		require.ErrorIs(t, err, ErrProviderBlocked, st)
		require.NotNil(t, got)
		assert.Equal(t, p.ID, got.ID)
	}
}

func TestSetStatus_RevokedIsTerminal(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)
	p, key := register(t, s, "")

	_, err := s.SetStatus(ctx, p.ID, repository.ProviderSuspended)
	require.NoError(t, err)
	_, err = s.SetStatus(ctx, p.ID, repository.ProviderActive)
	require.NoError(t, err)
	_, err = s.ResolveByAPIKey(ctx, key)
	require.NoError(t, err)

	_, err = s.SetStatus(ctx, p.ID, repository.ProviderRevoked)
	require.NoError(t, err)
	_, err = s.SetStatus(ctx, p.ID, repository.ProviderActive)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = s.SetStatus(ctx, p.ID, "PAUSED")
	require.ErrorIs(t, err, ErrInvalidProvider)
}

func TestResolveByCertificate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)
	raw := certB64(t, 4242, now.Add(-time.Hour), now.Add(24*time.Hour))
	p, _ := register(t, s, raw)
	require.NotNil(t, p.Certificate)

	got, err := s.ResolveByCertificate(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	other := certB64(t, 999, now.Add(-time.Hour), now.Add(time.Hour))
	_, err = s.ResolveByCertificate(ctx, other)
	require.ErrorIs(t, err, ErrUnknownCredential)

	_, err = s.ResolveByCertificate(ctx, "not-a-cert")
	require.ErrorIs(t, err, ErrCertificateInvalid)

	expired := certB64(t, 4243, now.Add(-48*time.Hour), now.Add(-time.Hour))
	_, err = s.ResolveByCertificate(ctx, expired)
	require.ErrorIs(t, err, ErrCertificateInvalid)
}

func TestBoundCertificateOutsideWindowFailsAPIKeyResolution(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProviders()
	s := newStore(t, repo)
	p, key := register(t, s, "")

	// Certificado vinculado que venció después del alta.
	require.NoError(t, repo.BindCertificate(ctx, p.ID, repository.Certificate{
		SerialNumber: "AA", ValidFrom: now.Add(-48 * time.Hour), ValidUntil: now.Add(-time.Hour),
	}, now))
	_, err := s.ResolveByAPIKey(ctx, key)
	require.ErrorIs(t, err, ErrCertificateInvalid)
}

func TestRegister_Validation(t *testing.T) {
	s := newStore(t, nil)
	ctx := context.Background()
	_, _, err := s.Register(ctx, RegisterInput{Name: "x", RegistrationNumber: "r", Type: "BANK"})
	require.ErrorIs(t, err, ErrInvalidProvider)
	_, _, err = s.Register(ctx, RegisterInput{RegistrationNumber: "r", Type: repository.RolePISP})
	require.ErrorIs(t, err, ErrInvalidProvider)
	_, _, err = s.Register(ctx, RegisterInput{Name: "x", RegistrationNumber: "r", Type: repository.RolePISP, Certificate: "junk"})
	require.ErrorIs(t, err, ErrCertificateInvalid)
}

type countingRepo struct {
	repository.ProviderRepository
	calls atomic.Int32
	gate  chan struct{}
}

func (c *countingRepo) GetByAPIKeyHash(ctx context.Context, hash string) (*repository.Provider, error) {
	c.calls.Add(1)
	<-c.gate
	return c.ProviderRepository.GetByAPIKeyHash(ctx, hash)
}

func TestResolve_CollapsesConcurrentLookups(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{ProviderRepository: memory.NewProviders(), gate: make(chan struct{})}
	s := newStore(t, repo)
	_, key := register(t, s, "")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ResolveByAPIKey(ctx, key)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(repo.gate)
	wg.Wait()
	assert.Equal(t, int32(1), repo.calls.Load())

	// Segunda ronda: sale del cache.
	_, err := s.ResolveByAPIKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int32(1), repo.calls.Load())
}

func TestResolve_SeesStatusChangesFromAnotherInstance(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProviders()
	a := newStore(t, repo)
	b := newStore(t, repo)
	raw := certB64(t, 5150, now.Add(-time.Hour), now.Add(24*time.Hour))
	p, key := register(t, a, raw)

	_, err := a.ResolveByAPIKey(ctx, key) // calienta el cache de a
	require.NoError(t, err)
	_, err = a.ResolveByCertificate(ctx, raw)
	require.NoError(t, err)

	_, err = b.SetStatus(ctx, p.ID, repository.ProviderSuspended)
	require.NoError(t, err)

	got, err := a.ResolveByAPIKey(ctx, key)
	require.ErrorIs(t, err, ErrProviderBlocked)
	assert.Equal(t, p.ID, got.ID)
	_, err = a.ResolveByCertificate(ctx, raw)
	require.ErrorIs(t, err, ErrProviderBlocked)

	_, err = b.SetStatus(ctx, p.ID, repository.ProviderActive)
	require.NoError(t, err)
	_, err = a.ResolveByAPIKey(ctx, key)
	require.NoError(t, err)
}

func TestResolve_CertificateReboundElsewhereIsUnknown(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProviders()
	a := newStore(t, repo)
	b := newStore(t, repo)
	first := certB64(t, 6001, now.Add(-time.Hour), now.Add(24*time.Hour))
	p, _ := register(t, a, first)
	_, err := a.ResolveByCertificate(ctx, first)
	require.NoError(t, err)

	second := certB64(t, 6002, now.Add(-time.Hour), now.Add(24*time.Hour))
	_, err = b.BindCertificate(ctx, p.ID, second)
	require.NoError(t, err)

	_, err = a.ResolveByCertificate(ctx, first)
	require.ErrorIs(t, err, ErrUnknownCredential)
	got, err := a.ResolveByCertificate(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}
