package consent

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/consentgate/internal/domain/repository"
	"github.com/dropDatabas3/consentgate/internal/security/secretbox"
	"github.com/dropDatabas3/consentgate/internal/store/memory"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fixedUsage struct{ n int }

func (f *fixedUsage) CountByConsentSince(context.Context, string, time.Time) (int, error) {
	return f.n, nil
}

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newCodec(t *testing.T) *secretbox.Codec {
	t.Helper()
	key := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	c, err := secretbox.New(secretbox.Config{Enabled: true, MasterKey: key, Purpose: "consent", DecryptPolicy: secretbox.FailClosed})
	require.NoError(t, err)
	return c
}

type fixture struct {
	repo  *memory.Consents
	store *Store
	gate  *Gate
	clk   *clock
	usage *fixedUsage
}

func newFixture(t *testing.T) *fixture {
	clk := &clock{t: t0}
	repo := memory.NewConsents()
	st := NewStore(repo, newCodec(t), clk.Now)
	usage := &fixedUsage{}
	return &fixture{repo: repo, store: st, gate: NewGate(st, usage, time.UTC, clk.Now), clk: clk, usage: usage}
}

// C1: ACCOUNT_INFORMATION, VALID, 90 días, scope={"acc-1"}.
func (f *fixture) validConsent(t *testing.T, mutate func(*CreateInput)) *Consent {
	t.Helper()
	in := CreateInput{
		CustomerID:      "cust-1",
		ThirdPartyID:    "tpp-1",
		Kind:            repository.KindAccountInformation,
		ValidUntil:      t0.Add(90 * 24 * time.Hour),
		FrequencyPerDay: 4,
		Scope:           Scope{ResourceIDs: []string{"acc-1"}},
	}
	if mutate != nil {
		mutate(&in)
	}
	c, err := f.store.Create(context.Background(), in)
	require.NoError(t, err)
	c, err = f.store.Confirm(context.Background(), c.ID)
	require.NoError(t, err)
	return c
}

func req(c *Consent, rt repository.ResourceType, rid string) Request {
	return Request{ConsentID: c.ID, ResourceType: rt, ResourceID: rid, CustomerID: c.CustomerID, ThirdPartyID: c.ThirdPartyID}
}

func TestCreate_ReceivedWithEncryptedScope(t *testing.T) {
	f := newFixture(t)
	c, err := f.store.Create(context.Background(), CreateInput{
		CustomerID: "cust-1", ThirdPartyID: "tpp-1", Kind: repository.KindCardInformation,
		ValidUntil: t0.Add(time.Hour), Scope: Scope{ResourceIDs: []string{"card-9"}},
	})
	require.NoError(t, err)
	assert.Equal(t, repository.ConsentReceived, c.Status)
	assert.Equal(t, t0, c.ValidFrom)

	row, err := f.repo.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.NotContains(t, row.ScopeEnc, "card-9")

	got, err := f.store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"card-9"}, got.Scope.ResourceIDs)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := CreateInput{CustomerID: "c", ThirdPartyID: "t", Kind: repository.KindPaymentInitiation,
		ValidUntil: t0.Add(time.Hour), Scope: Scope{All: true}}

	cases := map[string]func(*CreateInput){
		"no customer":  func(in *CreateInput) { in.CustomerID = "" },
		"no tpp":       func(in *CreateInput) { in.ThirdPartyID = " " },
		"bad kind":     func(in *CreateInput) { in.Kind = "LOANS" },
		"empty window": func(in *CreateInput) { in.ValidFrom = t0.Add(time.Hour) },
		"in the past":  func(in *CreateInput) { in.ValidFrom = t0.Add(-2 * time.Hour); in.ValidUntil = t0.Add(-time.Hour) },
		"empty scope":  func(in *CreateInput) { in.Scope = Scope{} },
	}
	for name, mutate := range cases {
		in := base
		mutate(&in)
		_, err := f.store.Create(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidConsent, name)
	}
}

func TestTransitions(t *testing.T) {
	R, V := repository.ConsentReceived, repository.ConsentValid
	J, X, E := repository.ConsentRejected, repository.ConsentRevoked, repository.ConsentExpired

	assert.True(t, CanTransition(R, V))
	assert.True(t, CanTransition(R, J))
	assert.True(t, CanTransition(V, X))
	assert.True(t, CanTransition(V, E))
	assert.False(t, CanTransition(V, R))
	assert.False(t, CanTransition(V, J))
	for _, term := range []repository.ConsentStatus{J, X, E} {
		assert.True(t, Terminal(term))
		for _, to := range []repository.ConsentStatus{R, V, J, X, E} {
			assert.False(t, CanTransition(term, to), "%s -> %s", term, to)
		}
	}
}

func TestStore_IllegalTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.validConsent(t, nil)

	_, err := f.store.Reject(ctx, c.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.store.Revoke(ctx, c.ID)
	require.NoError(t, err)
	_, err = f.store.Confirm(ctx, c.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.store.Confirm(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGate_AllowInScope(t *testing.T) {
	f := newFixture(t)
	c := f.validConsent(t, nil)

	d, err := f.gate.Authorize(context.Background(), req(c, repository.ResourceAccount, "acc-1"))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reason)

	// Listado (sin ID) y otros recursos del mismo tipo de consent.
	for _, rt := range []repository.ResourceType{repository.ResourceBalance, repository.ResourceTransaction} {
		d, err = f.gate.Authorize(context.Background(), req(c, rt, ""))
		require.NoError(t, err)
		assert.True(t, d.Allowed, rt)
	}
}

func TestGate_DenyReasons(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name   string
		setup  func(f *fixture) Request
		reason Reason
	}{
		{"out of scope", func(f *fixture) Request {
			return req(f.validConsent(t, nil), repository.ResourceAccount, "acc-2")
		}, ReasonResourceNotInScope},
		{"resource type not covered", func(f *fixture) Request {
			return req(f.validConsent(t, nil), repository.ResourcePayment, "")
		}, ReasonResourceTypeNotCovered},
		{"consent resource type never gated", func(f *fixture) Request {
			return req(f.validConsent(t, nil), repository.ResourceConsent, "")
		}, ReasonResourceTypeNotCovered},
		{"customer mismatch", func(f *fixture) Request {
			r := req(f.validConsent(t, nil), repository.ResourceAccount, "acc-1")
			r.CustomerID = "cust-2"
			return r
		}, ReasonCustomerMismatch},
		{"third party mismatch", func(f *fixture) Request {
			r := req(f.validConsent(t, nil), repository.ResourceAccount, "acc-1")
			r.ThirdPartyID = "tpp-2"
			return r
		}, ReasonThirdPartyMismatch},
		{"received", func(f *fixture) Request {
			c, err := f.store.Create(ctx, CreateInput{CustomerID: "cust-1", ThirdPartyID: "tpp-1",
				Kind: repository.KindAccountInformation, ValidUntil: t0.Add(time.Hour), Scope: Scope{All: true}})
			require.NoError(t, err)
			return req(c, repository.ResourceAccount, "acc-1")
		}, ReasonStatusNotValid},
		{"revoked", func(f *fixture) Request {
			c := f.validConsent(t, nil)
			_, err := f.store.Revoke(ctx, c.ID)
			require.NoError(t, err)
			return req(c, repository.ResourceAccount, "acc-1")
		}, ReasonStatusNotValid},
		{"not yet valid", func(f *fixture) Request {
			return req(f.validConsent(t, func(in *CreateInput) { in.ValidFrom = t0.Add(time.Hour) }), repository.ResourceAccount, "acc-1")
		}, ReasonNotYetValid},
		{"frequency cap", func(f *fixture) Request {
			f.usage.n = 4
			return req(f.validConsent(t, nil), repository.ResourceAccount, "acc-1")
		}, ReasonAccessLimitExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			d, err := f.gate.Authorize(ctx, tc.setup(f))
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, tc.reason, d.Reason)
		})
	}
}

func TestGate_FrequencyZeroIsUncapped(t *testing.T) {
	f := newFixture(t)
	f.usage.n = 1_000
	c := f.validConsent(t, func(in *CreateInput) { in.FrequencyPerDay = 0 })
	d, err := f.gate.Authorize(context.Background(), req(c, repository.ResourceAccount, "acc-1"))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestGate_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.gate.Authorize(context.Background(), Request{ConsentID: "nope"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGate_LazyExpiryIsPersistedAndMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.validConsent(t, func(in *CreateInput) { in.ValidUntil = t0.Add(time.Hour) })
	r := req(c, repository.ResourceAccount, "acc-1")

	d, err := f.gate.Authorize(ctx, r)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// validUntil es exclusivo.
	f.clk.Set(t0.Add(time.Hour))
	d, err = f.gate.Authorize(ctx, r)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonExpired, d.Reason)

	row, err := f.repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.ConsentExpired, row.Status)

	// Aunque el reloj retroceda, el consent no vuelve a autorizar.
	f.clk.Set(t0)
	d, err = f.gate.Authorize(ctx, r)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonExpired, d.Reason)
}

// Allow ⇔ VALID ∧ ventana ∧ dueño ∧ tipo cubierto ∧ en scope ∧ usos < tope.
func TestGate_AllowIffAllConditionsHold(t *testing.T) {
	ctx := context.Background()
	statuses := []repository.ConsentStatus{repository.ConsentReceived, repository.ConsentValid, repository.ConsentRevoked}
	offsets := []time.Duration{-2 * time.Hour, 0, 30 * time.Minute, time.Hour}
	types := []repository.ResourceType{repository.ResourceAccount, repository.ResourceCard}
	ids := []string{"acc-1", "acc-2"}
	uses := []int{0, 2}

	for _, st := range statuses {
		for _, off := range offsets {
			for _, rt := range types {
				for _, rid := range ids {
					for _, n := range uses {
						for _, owner := range []bool{true, false} {
							f := newFixture(t)
							c, err := f.store.Create(ctx, CreateInput{
								CustomerID: "cust-1", ThirdPartyID: "tpp-1", Kind: repository.KindAccountInformation,
								ValidUntil: t0.Add(time.Hour), FrequencyPerDay: 2, Scope: Scope{ResourceIDs: []string{"acc-1"}},
							})
							require.NoError(t, err)
							switch st {
							case repository.ConsentValid:
								_, err = f.store.Confirm(ctx, c.ID)
							case repository.ConsentRevoked:
								_, err = f.store.Revoke(ctx, c.ID)
							}
							require.NoError(t, err)

							f.usage.n = n
							now := t0.Add(off)
							f.clk.Set(now)
							r := req(c, rt, rid)
							if !owner {
								r.CustomerID = "other"
							}

							want := st == repository.ConsentValid &&
								!now.Before(c.ValidFrom) && now.Before(c.ValidUntil) &&
								owner && rt == repository.ResourceAccount && rid == "acc-1" && n < 2

							d, err := f.gate.Authorize(ctx, r)
							require.NoError(t, err)
							assert.Equal(t, want, d.Allowed, "st=%s off=%s rt=%s rid=%s n=%d owner=%v", st, off, rt, rid, n, owner)
						}
					}
				}
			}
		}
	}
}
