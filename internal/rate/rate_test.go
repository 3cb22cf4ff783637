package rate

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newWindow(max int, window time.Duration) (*SlidingWindow, *clock) {
	clk := &clock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewSlidingWindow(max, window, 0)
	s.now = clk.Now
	return s, clk
}

func TestSlidingWindow_BlocksOverMax(t *testing.T) {
	ctx := context.Background()
	s, _ := newWindow(3, time.Minute)
	for i := 0; i < 3; i++ {
		r, _ := s.Allow(ctx, "10.0.0.1")
		require.True(t, r.Allowed, i)
	}
	r, _ := s.Allow(ctx, "10.0.0.1")
	assert.False(t, r.Allowed)
	assert.Greater(t, r.RetryAfter, time.Duration(0))

	other, _ := s.Allow(ctx, "10.0.0.2")
	assert.True(t, other.Allowed)
}

func TestSlidingWindow_PreviousWindowDecays(t *testing.T) {
	ctx := context.Background()
	s, clk := newWindow(4, time.Minute)
	for i := 0; i < 4; i++ {
		_, _ = s.Allow(ctx, "ip")
	}
	// Inicio de la ventana siguiente: la previa pesa casi entera.
	clk.Add(time.Minute)
	r, _ := s.Allow(ctx, "ip")
	assert.False(t, r.Allowed)

	// A mitad de ventana, la previa pesa la mitad: 4*0.5 + 2 hits.
	clk.Add(30 * time.Second)
	r, _ = s.Allow(ctx, "ip")
	assert.True(t, r.Allowed)
	assert.Equal(t, int64(4), r.CurrentHits)

	// Dos ventanas sin tráfico: todo se olvida.
	clk.Add(3 * time.Minute)
	r, _ = s.Allow(ctx, "ip")
	assert.Equal(t, int64(1), r.CurrentHits)
}

func TestSlidingWindow_ConcurrentCountsExact(t *testing.T) {
	ctx := context.Background()
	s, _ := newWindow(1000, time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, _ = s.Allow(ctx, "shared")
			}
		}()
	}
	wg.Wait()
	r, _ := s.Allow(ctx, "shared")
	assert.Equal(t, int64(501), r.CurrentHits)
}

func TestSlidingWindow_Sweep(t *testing.T) {
	ctx := context.Background()
	s, clk := newWindow(10, time.Minute)
	_, _ = s.Allow(ctx, "a")
	clk.Add(5 * time.Minute)
	_, _ = s.Allow(ctx, "b")
	s.Sweep()
	assert.Equal(t, 1, s.Len())
	s.Stop()
	s.Stop()
}

func TestRedisLimiter_FixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := rdb.NewClient(&rdb.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLimiter(client, "", 2, time.Hour)
	ctx := context.Background()

	r, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, r.Allowed)
	assert.Equal(t, int64(1), r.Remaining)
	assert.Greater(t, r.WindowTTL, time.Duration(0))

	_, err = l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	r, err = l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, r.Allowed)
	assert.Greater(t, r.RetryAfter, time.Duration(0))

	// La ventana vence sola en Redis.
	assert.Equal(t, time.Hour, mr.TTL(fmt.Sprintf("anomaly:1.2.3.4:%d", time.Now().UTC().Truncate(time.Hour).Unix())))
}

func TestClientKey(t *testing.T) {
	cases := []struct {
		in, key, family string
	}{
		{"10.0.0.1", "10.0.0.1", FamilyIPv4},
		{" 10.0.0.1 ", "10.0.0.1", FamilyIPv4},
		{"10.0.0.1:5443", "10.0.0.1", FamilyIPv4},
		{"::ffff:10.0.0.1", "10.0.0.1", FamilyIPv4},
		{"2001:db8:1:2:aaaa::1", "2001:db8:1:2::/64", FamilyIPv6},
		{"[2001:db8:1:2::9]:443", "2001:db8:1:2::/64", FamilyIPv6},
		{"fe80::1%eth0", "fe80::/64", FamilyIPv6},
		{"Gateway-Host", "gateway-host", FamilyOther},
	}
	for _, tc := range cases {
		key, family := ClientKey(tc.in)
		assert.Equal(t, tc.key, key, tc.in)
		assert.Equal(t, tc.family, family, tc.in)
	}
}

func TestSlidingWindow_IPv6SubnetSharesBudget(t *testing.T) {
	ctx := context.Background()
	s, _ := newWindow(2, time.Minute)
	_, _ = s.Allow(ctx, "2001:db8:1:2::1")
	_, _ = s.Allow(ctx, "2001:db8:1:2::2")
	r, _ := s.Allow(ctx, "2001:db8:1:2:ffff::3")
	assert.False(t, r.Allowed)
	assert.Equal(t, "2001:db8:1:2::/64", r.Key)
	assert.Equal(t, FamilyIPv6, r.Family)

	// Otro /64 tiene su propio presupuesto.
	r, _ = s.Allow(ctx, "2001:db8:1:3::1")
	assert.True(t, r.Allowed)
	assert.Equal(t, 2, s.Len())
}

func TestRedisLimiter_IPv6SubnetSharesBudget(t *testing.T) {
	mr := miniredis.RunT(t)
	client := rdb.NewClient(&rdb.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLimiter(client, "cg:anomaly:", 1, time.Minute)
	fixed := time.Date(2025, 1, 1, 12, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	ctx := context.Background()

	r, err := l.Allow(ctx, "2001:db8:1:2::1")
	require.NoError(t, err)
	assert.True(t, r.Allowed)
	assert.True(t, mr.Exists(fmt.Sprintf("cg:anomaly:2001:db8:1:2::/64:%d", fixed.Truncate(time.Minute).Unix())))

	r, err = l.Allow(ctx, "2001:db8:1:2::beef")
	require.NoError(t, err)
	assert.False(t, r.Allowed)
	assert.Equal(t, int64(2), r.CurrentHits)
	assert.Equal(t, time.Minute, r.RetryAfter)

	// Ventana siguiente: clave nueva.
	fixed = fixed.Add(time.Minute)
	r, err = l.Allow(ctx, "2001:db8:1:2::1")
	require.NoError(t, err)
	assert.True(t, r.Allowed)
}
