// Package app arma el gateway a partir de la configuración: stores, cache,
// codecs, trust store, consent gate, SCA, auditoría, mediador y router.
package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/consentgate/internal/audit"
	"github.com/dropDatabas3/consentgate/internal/cache"
	"github.com/dropDatabas3/consentgate/internal/config"
	"github.com/dropDatabas3/consentgate/internal/consent"
	"github.com/dropDatabas3/consentgate/internal/domain/repository"
	"github.com/dropDatabas3/consentgate/internal/downstream"
	"github.com/dropDatabas3/consentgate/internal/email"
	"github.com/dropDatabas3/consentgate/internal/gateway"
	httpx "github.com/dropDatabas3/consentgate/internal/http"
	"github.com/dropDatabas3/consentgate/internal/http/handlers"
	"github.com/dropDatabas3/consentgate/internal/metrics"
	"github.com/dropDatabas3/consentgate/internal/observability/logger"
	"github.com/dropDatabas3/consentgate/internal/rate"
	"github.com/dropDatabas3/consentgate/internal/sca"
	"github.com/dropDatabas3/consentgate/internal/security/certinspect"
	"github.com/dropDatabas3/consentgate/internal/security/secretbox"
	"github.com/dropDatabas3/consentgate/internal/store/memory"
	"github.com/dropDatabas3/consentgate/internal/store/pg"
	"github.com/dropDatabas3/consentgate/internal/trust"
	"github.com/dropDatabas3/consentgate/migrations"
)

// Repos son los repositorios que usa el gateway, en memoria o en Postgres.
type Repos struct {
	Consents  repository.ConsentRepository
	Providers repository.ProviderRepository
	AccessLog repository.AccessLogRepository
}

// Container es el gateway armado.
type Container struct {
	Config   *config.Config
	Handler  stdhttp.Handler
	Trust    *trust.Store
	Consents *consent.Store
	Audit    *audit.Logger
	SCA      *sca.Manager
	Mediator *gateway.Mediator
	Fake     *downstream.Fake

	pg      *pg.Store
	cache   cache.Client
	limiter rate.Limiter
	closers []func()
}

// Options permite inyectar dependencias en tests.
type Options struct {
	Version    string
	Registerer prometheus.Registerer
	// Downstream reemplaza el adaptador configurado.
	Downstream *downstream.Services
}

// Build arma el Container. Ante error libera lo que ya abrió.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Container, error) {
	c := &Container{Config: cfg}
	built := false
	defer func() {
		if !built {
			c.Close()
		}
	}()

	log := logger.Named("app")
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := metrics.Register(reg); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	consentCodec, auditCodec, err := Codecs(cfg)
	if err != nil {
		return nil, err
	}

	repos, err := c.openStorage(ctx)
	if err != nil {
		return nil, err
	}
	if c.pg != nil {
		if err := metrics.RegisterPool(reg, c.pg.Pool); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
	}

	if err := c.openCache(ctx); err != nil {
		return nil, err
	}

	svc, err := c.downstream(opts)
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Gate.Timezone)
	if err != nil {
		return nil, fmt.Errorf("gate timezone: %w", err)
	}

	inspector := certinspect.New(certinspect.Options{ValidationEnabled: cfg.Security.CertValidationEnabled})
	c.Trust = trust.New(repos.Providers, inspector, trust.Options{CacheTTL: cfg.Trust.CacheTTL})
	c.Audit = audit.New(repos.AccessLog, auditCodec, audit.Options{WriteTimeout: cfg.Audit.WriteTimeout})
	c.Consents = consent.NewStore(repos.Consents, consentCodec, nil)
	gate := consent.NewGate(c.Consents, c.Audit, loc, nil)

	if c.SCA, err = c.scaManager(svc); err != nil {
		return nil, err
	}

	var psu *gateway.PSUVerifier
	if cfg.PSUToken.Key != "" {
		psu, err = gateway.NewPSUVerifier(gateway.PSUTokenConfig{
			Key:      []byte(cfg.PSUToken.Key),
			Issuer:   cfg.PSUToken.Issuer,
			Audience: cfg.PSUToken.Audience,
			Required: cfg.PSUToken.Required,
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.Anomaly.Enabled {
		c.limiter = c.anomalyLimiter()
	}

	c.Mediator = gateway.New(gateway.Deps{
		Trust:    c.Trust,
		Gate:     gate,
		Consents: c.Consents,
		SCA:      c.SCA,
		Audit:    c.Audit,
		Limiter:  c.limiter,
		PSU:      psu,
	}, gateway.Options{EnforceRoles: cfg.Gate.EnforceRoles})

	var admin *handlers.AdminHandler
	if cfg.Security.AdminAPIKey != "" {
		admin = handlers.NewAdminHandler(c.Trust, c.Audit)
	}
	c.Handler = httpx.NewRouter(httpx.RouterDeps{
		TPP:        handlers.NewTPPHandler(c.Mediator, gateway.NewCatalog(svc, c.Consents, c.SCA)),
		SCA:        handlers.NewSCARequirementHandler(c.SCA),
		Admin:      admin,
		Readyz:     handlers.NewReadyzHandler(opts.Version, c.checks()...),
		Metrics:    promhttp.Handler(),
		AdminKey:   cfg.Security.AdminAPIKey,
		TrustProxy: cfg.Server.TrustProxy,
	})

	log.Info("gateway wired",
		logger.String("storage", cfg.Storage.Driver),
		logger.String("cache", cfg.Cache.Kind),
		logger.String("downstream", cfg.Downstream.Kind),
		logger.Bool("encryption", consentCodec.Enabled()),
		logger.Bool("anomaly", cfg.Anomaly.Enabled),
		logger.Bool("admin_api", admin != nil),
	)
	built = true
	return c, nil
}

// Codecs construye los codecs por propósito a partir de la master key.
func Codecs(cfg *config.Config) (consentCodec, auditCodec *secretbox.Codec, err error) {
	base := secretbox.Config{
		Enabled:       cfg.Security.EncryptionEnabled,
		MasterKey:     cfg.Security.MasterKey,
		DecryptPolicy: secretbox.DecryptPolicy(cfg.Security.DecryptPolicy),
	}
	base.Purpose = "consent"
	if consentCodec, err = secretbox.New(base); err != nil {
		return nil, nil, fmt.Errorf("consent codec: %w", err)
	}
	base.Purpose = "audit"
	if auditCodec, err = secretbox.New(base); err != nil {
		return nil, nil, fmt.Errorf("audit codec: %w", err)
	}
	return consentCodec, auditCodec, nil
}

func (c *Container) openStorage(ctx context.Context) (Repos, error) {
	cfg := c.Config
	if cfg.Storage.Driver != "postgres" {
		m := memory.New()
		return Repos{Consents: m.Consents, Providers: m.Providers, AccessLog: m.AccessLog}, nil
	}
	s, err := pg.New(ctx, cfg.Storage.DSN, pg.PoolOptions{
		MaxConns:        cfg.Storage.Postgres.MaxConns,
		MinConns:        cfg.Storage.Postgres.MinConns,
		ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		return Repos{}, fmt.Errorf("postgres: %w", err)
	}
	c.pg = s
	c.closers = append(c.closers, s.Close)
	return Repos{Consents: s.Consents, Providers: s.Providers, AccessLog: s.AccessLog}, nil
}

func (c *Container) openCache(ctx context.Context) error {
	r := c.Config.Cache.Redis
	cl, err := cache.New(ctx, cache.Config{
		Driver:   c.Config.Cache.Kind,
		Addr:     r.Addr,
		Password: r.Password,
		DB:       r.DB,
		Prefix:   r.Prefix,
	})
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	c.cache = cl
	c.closers = append(c.closers, func() { _ = cl.Close() })
	return nil
}

func (c *Container) downstream(opts Options) (downstream.Services, error) {
	if opts.Downstream != nil {
		return *opts.Downstream, nil
	}
	d := c.Config.Downstream
	if d.Kind == "http" {
		hc, err := downstream.NewHTTPClient(downstream.HTTPOptions{
			BaseURL:    d.BaseURL,
			Timeout:    d.Timeout,
			AuthHeader: d.AuthHeader,
			AuthValue:  d.AuthValue,
		})
		if err != nil {
			return downstream.Services{}, err
		}
		return hc.Services(), nil
	}
	logger.Named("app").Warn("using in-memory downstream fake")
	c.Fake = downstream.NewFake()
	return c.Fake.Services(), nil
}

func (c *Container) scaManager(svc downstream.Services) (*sca.Manager, error) {
	cfg := c.Config.SCA
	pol, err := sca.NewPolicy(cfg.RequireForAll, cfg.ExemptionThreshold, cfg.ExemptionCurrency)
	if err != nil {
		return nil, err
	}

	senders := map[sca.Method]sca.Sender{
		sca.MethodSMS:   sca.NotifierSender{Channel: sca.MethodSMS, Notifier: svc.Notifier},
		sca.MethodPush:  sca.NotifierSender{Channel: sca.MethodPush, Notifier: svc.Notifier},
		sca.MethodEmail: sca.NotifierSender{Channel: sca.MethodEmail, Notifier: svc.Notifier},
	}
	if s := c.Config.SMTP; s.Host != "" {
		senders[sca.MethodEmail] = sca.EmailSender{Mailer: email.NewSMTPSender(email.SMTPConfig{
			Host:               s.Host,
			Port:               s.Port,
			From:               s.From,
			Username:           s.Username,
			Password:           s.Password,
			TLSMode:            s.TLS,
			InsecureSkipVerify: s.InsecureSkipVerify,
		})}
	}

	return sca.NewManager(sca.Config{
		Policy:        pol,
		CodeTTL:       cfg.CodeTTL,
		TokenTTL:      cfg.TokenTTL,
		CodeDigits:    cfg.CodeDigits,
		DefaultMethod: sca.Method(cfg.DefaultMethod),
		SigningKey:    []byte(cfg.SigningKey),
		Issuer:        cfg.Issuer,
	}, c.cache, svc.Directory, senders)
}

// anomalyLimiter usa Redis si el cache es Redis (límite compartido entre
// réplicas) y una ventana deslizante en memoria si no.
func (c *Container) anomalyLimiter() rate.Limiter {
	a := c.Config.Anomaly
	if rc, ok := c.cache.(*cache.RedisClient); ok {
		return rate.NewRedisLimiter(rc.Redis(), c.Config.Cache.Redis.Prefix+"anomaly:", a.MaxRequests, a.Window)
	}
	sw := rate.NewSlidingWindow(a.MaxRequests, a.Window, a.Window)
	c.closers = append(c.closers, sw.Stop)
	return sw
}

func (c *Container) checks() []handlers.Check {
	var out []handlers.Check
	if c.pg != nil {
		out = append(out, handlers.Check{Name: "postgres", Ping: c.pg.Ping})
	}
	if c.cache != nil {
		out = append(out, handlers.Check{Name: "cache", Ping: c.cache.Ping})
	}
	return out
}

// Migrate aplica las migraciones embebidas. Sin Postgres no hay nada que hacer.
func (c *Container) Migrate(ctx context.Context) (*pg.MigrationResult, error) {
	if c.pg == nil {
		return nil, errors.New("app: migrations require storage.driver=postgres")
	}
	return pg.NewMigrator(migrations.PostgresFS, "postgres").Run(ctx, c.pg)
}

// Close libera recursos en orden inverso de apertura. Espera antes a que
// terminen las escrituras de auditoría pendientes.
func (c *Container) Close() {
	if c.Audit != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.Audit.Flush(ctx); err != nil {
			logger.Named("app").Warn("audit flush incomplete", logger.Err(err))
		}
		cancel()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
