package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env      string `yaml:"app_env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
		// TrustProxy toma la IP del cliente de X-Forwarded-For.
		TrustProxy      bool          `yaml:"trust_proxy"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		TLS             struct {
			CertFile string `yaml:"cert_file"`
			KeyFile  string `yaml:"key_file"`
		} `yaml:"tls"`
	} `yaml:"server"`

	Storage struct {
		// memory | postgres
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxConns        int           `yaml:"max_conns"`
			MinConns        int           `yaml:"min_conns"`
			ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		// memory | redis
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Security struct {
		EncryptionEnabled bool   `yaml:"encryption_enabled"`
		MasterKey         string `yaml:"master_key"`
		// fail_open | fail_closed
		DecryptPolicy         string `yaml:"decrypt_policy"`
		CertValidationEnabled bool   `yaml:"cert_validation_enabled"`
		// AdminAPIKey vacía deshabilita /v1/admin.
		AdminAPIKey string `yaml:"admin_api_key"`
	} `yaml:"security"`

	Trust struct {
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"trust"`

	Gate struct {
		// Timezone define el "día" del límite de frecuencia.
		Timezone     string `yaml:"timezone"`
		EnforceRoles bool   `yaml:"enforce_roles"`
	} `yaml:"gate"`

	Anomaly struct {
		Enabled     bool          `yaml:"enabled"`
		MaxRequests int           `yaml:"max_requests"`
		Window      time.Duration `yaml:"window"`
	} `yaml:"anomaly"`

	SCA struct {
		RequireForAll      bool          `yaml:"require_for_all"`
		ExemptionThreshold string        `yaml:"exemption_threshold"`
		ExemptionCurrency  string        `yaml:"exemption_currency"`
		CodeTTL            time.Duration `yaml:"code_ttl"`
		TokenTTL           time.Duration `yaml:"token_ttl"`
		CodeDigits         int           `yaml:"code_digits"`
		DefaultMethod      string        `yaml:"default_method"`
		SigningKey         string        `yaml:"signing_key"`
		Issuer             string        `yaml:"issuer"`
	} `yaml:"sca"`

	PSUToken struct {
		// Key vacía deshabilita la verificación del bearer del PSU.
		Key      string `yaml:"key"`
		Issuer   string `yaml:"issuer"`
		Audience string `yaml:"audience"`
		Required bool   `yaml:"required"`
	} `yaml:"psu_token"`

	Audit struct {
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"audit"`

	Downstream struct {
		// fake | http
		Kind       string        `yaml:"kind"`
		BaseURL    string        `yaml:"base_url"`
		Timeout    time.Duration `yaml:"timeout"`
		AuthHeader string        `yaml:"auth_header"`
		AuthValue  string        `yaml:"auth_value"`
	} `yaml:"downstream"`

	SMTP struct {
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		From               string `yaml:"from"`
		TLS                string `yaml:"tls"`                  // auto | starttls | ssl | none
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"` // sólo dev
	} `yaml:"smtp"`
}

// Load lee path (si no es vacío), aplica defaults y overrides de entorno y
// valida el resultado.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	c.applyEnvOverrides()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// IsProd indica app_env=prod.
func (c *Config) IsProd() bool { return strings.EqualFold(c.App.Env, "prod") }

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "consentgate:"
	}
	if c.Security.DecryptPolicy == "" {
		c.Security.DecryptPolicy = "fail_open"
	}
	if c.Gate.Timezone == "" {
		c.Gate.Timezone = "UTC"
	}
	if c.Anomaly.MaxRequests == 0 {
		c.Anomaly.MaxRequests = 300
	}
	if c.Anomaly.Window == 0 {
		c.Anomaly.Window = time.Minute
	}
	if c.SCA.ExemptionCurrency == "" {
		c.SCA.ExemptionCurrency = "EUR"
	}
	if c.SCA.CodeTTL == 0 {
		c.SCA.CodeTTL = 5 * time.Minute
	}
	if c.SCA.TokenTTL == 0 {
		c.SCA.TokenTTL = 5 * time.Minute
	}
	if c.SCA.CodeDigits == 0 {
		c.SCA.CodeDigits = 6
	}
	if c.SCA.DefaultMethod == "" {
		c.SCA.DefaultMethod = "SMS"
	}
	if c.SCA.Issuer == "" {
		c.SCA.Issuer = "consentgate"
	}
	if c.Audit.WriteTimeout == 0 {
		c.Audit.WriteTimeout = 5 * time.Second
	}
	if c.Downstream.Kind == "" {
		c.Downstream.Kind = "fake"
	}
	if c.Downstream.Timeout == 0 {
		c.Downstream.Timeout = 10 * time.Second
	}
	if c.SMTP.TLS == "" {
		c.SMTP.TLS = "auto"
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.App.LogLevel = v
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvBool("SERVER_TRUST_PROXY"); ok {
		c.Server.TrustProxy = v
	}
	if v, ok := getEnvDur("SERVER_SHUTDOWN_TIMEOUT"); ok {
		c.Server.ShutdownTimeout = v
	}
	if v, ok := getEnvStr("SERVER_TLS_CERT_FILE"); ok {
		c.Server.TLS.CertFile = v
	}
	if v, ok := getEnvStr("SERVER_TLS_KEY_FILE"); ok {
		c.Server.TLS.KeyFile = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_CONNS"); ok {
		c.Storage.Postgres.MaxConns = v
	}
	if v, ok := getEnvInt("POSTGRES_MIN_CONNS"); ok {
		c.Storage.Postgres.MinConns = v
	}
	if v, ok := getEnvDur("POSTGRES_CONN_MAX_LIFETIME"); ok {
		c.Storage.Postgres.ConnMaxLifetime = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = strings.ToLower(v)
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}

	// SECURITY
	if v, ok := getEnvBool("ENCRYPTION_ENABLED"); ok {
		c.Security.EncryptionEnabled = v
	}
	if v, ok := getEnvStr("ENCRYPTION_MASTER_KEY"); ok {
		c.Security.MasterKey = v
	}
	if v, ok := getEnvStr("ENCRYPTION_DECRYPT_POLICY"); ok {
		c.Security.DecryptPolicy = strings.ToLower(v)
	}
	if v, ok := getEnvBool("CERT_VALIDATION_ENABLED"); ok {
		c.Security.CertValidationEnabled = v
	}
	if v, ok := getEnvStr("ADMIN_API_KEY"); ok {
		c.Security.AdminAPIKey = v
	}

	// TRUST / GATE / ANOMALY
	if v, ok := getEnvDur("TRUST_CACHE_TTL"); ok {
		c.Trust.CacheTTL = v
	}
	if v, ok := getEnvStr("GATE_TIMEZONE"); ok {
		c.Gate.Timezone = v
	}
	if v, ok := getEnvBool("GATE_ENFORCE_ROLES"); ok {
		c.Gate.EnforceRoles = v
	}
	if v, ok := getEnvBool("ANOMALY_ENABLED"); ok {
		c.Anomaly.Enabled = v
	}
	if v, ok := getEnvInt("ANOMALY_MAX_REQUESTS"); ok {
		c.Anomaly.MaxRequests = v
	}
	if v, ok := getEnvDur("ANOMALY_WINDOW"); ok {
		c.Anomaly.Window = v
	}

	// SCA
	if v, ok := getEnvBool("SCA_REQUIRE_FOR_ALL"); ok {
		c.SCA.RequireForAll = v
	}
	if v, ok := getEnvStr("SCA_EXEMPTION_THRESHOLD"); ok {
		c.SCA.ExemptionThreshold = v
	}
	if v, ok := getEnvStr("SCA_EXEMPTION_CURRENCY"); ok {
		c.SCA.ExemptionCurrency = strings.ToUpper(v)
	}
	if v, ok := getEnvDur("SCA_CODE_TTL"); ok {
		c.SCA.CodeTTL = v
	}
	if v, ok := getEnvDur("SCA_TOKEN_TTL"); ok {
		c.SCA.TokenTTL = v
	}
	if v, ok := getEnvStr("SCA_DEFAULT_METHOD"); ok {
		c.SCA.DefaultMethod = strings.ToUpper(v)
	}
	if v, ok := getEnvStr("SCA_SIGNING_KEY"); ok {
		c.SCA.SigningKey = v
	}

	// PSU TOKEN
	if v, ok := getEnvStr("PSU_TOKEN_KEY"); ok {
		c.PSUToken.Key = v
	}
	if v, ok := getEnvStr("PSU_TOKEN_ISSUER"); ok {
		c.PSUToken.Issuer = v
	}
	if v, ok := getEnvStr("PSU_TOKEN_AUDIENCE"); ok {
		c.PSUToken.Audience = v
	}
	if v, ok := getEnvBool("PSU_TOKEN_REQUIRED"); ok {
		c.PSUToken.Required = v
	}

	// DOWNSTREAM
	if v, ok := getEnvStr("DOWNSTREAM_KIND"); ok {
		c.Downstream.Kind = strings.ToLower(v)
	}
	if v, ok := getEnvStr("DOWNSTREAM_BASE_URL"); ok {
		c.Downstream.BaseURL = v
	}
	if v, ok := getEnvDur("DOWNSTREAM_TIMEOUT"); ok {
		c.Downstream.Timeout = v
	}
	if v, ok := getEnvStr("DOWNSTREAM_AUTH_HEADER"); ok {
		c.Downstream.AuthHeader = v
	}
	if v, ok := getEnvStr("DOWNSTREAM_AUTH_VALUE"); ok {
		c.Downstream.AuthValue = v
	}

	// SMTP
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.SMTP.From = v
	}
	if v, ok := getEnvStr("SMTP_TLS"); ok {
		c.SMTP.TLS = strings.ToLower(v)
	}
}

// Validate junta todos los problemas en un solo error.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("config: "+format, args...))
	}

	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			bad("storage.dsn is required for postgres")
		}
	default:
		bad("storage.driver %q (memory|postgres)", c.Storage.Driver)
	}

	switch c.Cache.Kind {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			bad("cache.redis.addr is required for redis")
		}
	default:
		bad("cache.kind %q (memory|redis)", c.Cache.Kind)
	}

	switch c.Security.DecryptPolicy {
	case "fail_open", "fail_closed":
	default:
		bad("security.decrypt_policy %q (fail_open|fail_closed)", c.Security.DecryptPolicy)
	}
	if c.Security.EncryptionEnabled && c.Security.MasterKey == "" {
		bad("security.master_key is required when encryption is enabled")
	}

	if _, err := time.LoadLocation(c.Gate.Timezone); err != nil {
		bad("gate.timezone %q: %v", c.Gate.Timezone, err)
	}
	if c.Anomaly.Enabled && (c.Anomaly.MaxRequests <= 0 || c.Anomaly.Window <= 0) {
		bad("anomaly.max_requests and anomaly.window must be positive")
	}

	if len(c.SCA.SigningKey) < 32 {
		bad("sca.signing_key must be at least 32 bytes")
	}
	switch c.SCA.DefaultMethod {
	case "SMS", "PUSH", "EMAIL":
	default:
		bad("sca.default_method %q (SMS|PUSH|EMAIL)", c.SCA.DefaultMethod)
	}
	if c.SCA.CodeDigits < 4 || c.SCA.CodeDigits > 10 {
		bad("sca.code_digits must be between 4 and 10")
	}
	if c.PSUToken.Key != "" && len(c.PSUToken.Key) < 32 {
		bad("psu_token.key must be at least 32 bytes")
	}
	if c.PSUToken.Required && c.PSUToken.Key == "" {
		bad("psu_token.key is required when psu_token.required is set")
	}

	switch c.Downstream.Kind {
	case "fake":
	case "http":
		if c.Downstream.BaseURL == "" {
			bad("downstream.base_url is required for http")
		}
	default:
		bad("downstream.kind %q (fake|http)", c.Downstream.Kind)
	}

	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		bad("server.tls.cert_file and key_file go together")
	}

	// Guardia dura: en prod nada de fakes ni datos en claro.
	if c.IsProd() {
		if c.Storage.Driver == "memory" {
			bad("prod requires storage.driver=postgres")
		}
		if c.Downstream.Kind == "fake" {
			bad("prod requires downstream.kind=http")
		}
		if !c.Security.EncryptionEnabled {
			bad("prod requires security.encryption_enabled")
		}
		if !c.Security.CertValidationEnabled {
			bad("prod requires security.cert_validation_enabled")
		}
	}
	return errors.Join(errs...)
}
