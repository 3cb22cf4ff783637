package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const signingKey = "0123456789abcdef0123456789abcdef"

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("SCA_SIGNING_KEY", signingKey)

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dev", c.App.Env)
	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "memory", c.Storage.Driver)
	assert.Equal(t, "memory", c.Cache.Kind)
	assert.Equal(t, "fail_open", c.Security.DecryptPolicy)
	assert.Equal(t, "fake", c.Downstream.Kind)
	assert.Equal(t, 5*time.Minute, c.SCA.CodeTTL)
	assert.Equal(t, 6, c.SCA.CodeDigits)
	assert.Equal(t, "SMS", c.SCA.DefaultMethod)
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	p := writeYAML(t, `
app:
  app_env: staging
server:
  addr: ":9000"
  shutdown_timeout: 3s
storage:
  driver: postgres
  dsn: postgres://localhost/consentgate
cache:
  kind: redis
  redis:
    addr: localhost:6379
sca:
  signing_key: "`+signingKey+`"
  exemption_threshold: "30.00"
anomaly:
  enabled: true
  window: 30s
`)
	t.Setenv("SERVER_ADDR", ":9443")
	t.Setenv("ANOMALY_MAX_REQUESTS", "50")

	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "staging", c.App.Env)
	assert.Equal(t, ":9443", c.Server.Addr)
	assert.Equal(t, 3*time.Second, c.Server.ShutdownTimeout)
	assert.Equal(t, "postgres", c.Storage.Driver)
	assert.Equal(t, "redis", c.Cache.Kind)
	assert.Equal(t, "consentgate:", c.Cache.Redis.Prefix)
	assert.Equal(t, 50, c.Anomaly.MaxRequests)
	assert.Equal(t, 30*time.Second, c.Anomaly.Window)
	assert.Equal(t, "30.00", c.SCA.ExemptionThreshold)
}

func TestLoad_InvalidDuration(t *testing.T) {
	p := writeYAML(t, "server:\n  read_timeout: soon\n")
	_, err := Load(p)
	require.Error(t, err)
}

func TestValidate_CollectsErrors(t *testing.T) {
	p := writeYAML(t, `
storage:
  driver: postgres
cache:
  kind: memcached
security:
  decrypt_policy: maybe
  encryption_enabled: true
gate:
  timezone: Mars/Olympus
downstream:
  kind: http
`)
	_, err := Load(p)
	require.Error(t, err)
	for _, want := range []string{
		"storage.dsn",
		"cache.kind",
		"decrypt_policy",
		"master_key",
		"gate.timezone",
		"sca.signing_key",
		"downstream.base_url",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_ProdGuards(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("SCA_SIGNING_KEY", signingKey)

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.driver=postgres")
	assert.Contains(t, err.Error(), "downstream.kind=http")
	assert.Contains(t, err.Error(), "encryption_enabled")
	assert.Contains(t, err.Error(), "cert_validation_enabled")

	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("STORAGE_DSN", "postgres://db/consentgate")
	t.Setenv("DOWNSTREAM_KIND", "http")
	t.Setenv("DOWNSTREAM_BASE_URL", "https://core.bank.internal")
	t.Setenv("ENCRYPTION_ENABLED", "true")
	t.Setenv("ENCRYPTION_MASTER_KEY", signingKey)
	t.Setenv("CERT_VALIDATION_ENABLED", "true")

	c, err := Load("")
	require.NoError(t, err)
	assert.True(t, c.IsProd())
}
