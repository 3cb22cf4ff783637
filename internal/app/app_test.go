package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/consentgate/internal/config"
	"github.com/dropDatabas3/consentgate/internal/rate"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("SCA_SIGNING_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("ADMIN_API_KEY", "admin-secret")
	t.Setenv("ANOMALY_ENABLED", "true")
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestBuild_MemoryStack(t *testing.T) {
	cfg := testConfig(t)

	c, err := Build(context.Background(), cfg, Options{Version: "test", Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	defer c.Close()

	require.NotNil(t, c.Fake)
	_, isWindow := c.limiter.(*rate.SlidingWindow)
	assert.True(t, isWindow)

	rr := httptest.NewRecorder()
	c.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/providers",
		strings.NewReader(`{"name":"Fintech","registrationNumber":"REG-1","type":"AISP","roles":["AISP"]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-API-Key", "admin-secret")
	rr = httptest.NewRecorder()
	c.Handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	_, err = c.Migrate(context.Background())
	assert.Error(t, err)
}

func TestBuild_RedisCacheUsesRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("CACHE_KIND", "redis")
	t.Setenv("REDIS_ADDR", mr.Addr())
	cfg := testConfig(t)

	c, err := Build(context.Background(), cfg, Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	defer c.Close()

	_, isRedis := c.limiter.(*rate.RedisLimiter)
	assert.True(t, isRedis)
}

func TestBuild_AdminDisabledWithoutKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.AdminAPIKey = ""

	c, err := Build(context.Background(), cfg, Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	defer c.Close()

	rr := httptest.NewRecorder()
	c.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/providers", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCodecs_PurposeSeparated(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.EncryptionEnabled = true
	cfg.Security.MasterKey = "0123456789abcdef0123456789abcdef"
	cfg.Security.DecryptPolicy = "fail_closed"

	cc, ac, err := Codecs(cfg)
	require.NoError(t, err)
	ct, err := cc.Encrypt("psu-1")
	require.NoError(t, err)
	_, err = ac.Decrypt(ct)
	assert.Error(t, err)
}
