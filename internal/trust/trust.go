// Package trust resuelve credenciales de TPP (API key o certificado) a un
// proveedor registrado y activo, y administra el registro de proveedores.
package trust

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/consentgate/internal/domain/repository"
	"github.com/dropDatabas3/consentgate/internal/metrics"
	"github.com/dropDatabas3/consentgate/internal/observability/logger"
	"github.com/dropDatabas3/consentgate/internal/security/certinspect"
	tokens "github.com/dropDatabas3/consentgate/internal/security/token"
)

var (
	// ErrUnknownCredential: la credencial no corresponde a ningún TPP.
	ErrUnknownCredential = errors.New("trust: unknown credential")
	// ErrProviderBlocked: el TPP existe pero está SUSPENDED o REVOKED.
	ErrProviderBlocked = errors.New("trust: provider blocked")
	// ErrCertificateInvalid: certificado ilegible, vencido o revocado.
	ErrCertificateInvalid = errors.New("trust: certificate invalid")
	// ErrInvalidTransition: REVOKED es terminal.
	ErrInvalidTransition = errors.New("trust: invalid status transition")
	// ErrInvalidProvider: datos de registro inválidos.
	ErrInvalidProvider = errors.New("trust: invalid provider data")
)

const defaultCacheTTL = 30 * time.Second

// Options configura el Store.
type Options struct {
	// CacheTTL del mapeo credencial -> proveedor; 0 usa el default, <0 lo deshabilita.
	CacheTTL time.Duration
	Now      func() time.Time
}

// Store es el registro de TPPs de confianza.
type Store struct {
	repo      repository.ProviderRepository
	inspector *certinspect.Inspector
	cache     *gocache.Cache
	group     singleflight.Group
	now       func() time.Time
}

// New crea un Store.
func New(repo repository.ProviderRepository, inspector *certinspect.Inspector, opts Options) *Store {
	ttl := opts.CacheTTL
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Store{repo: repo, inspector: inspector, now: now}
	if ttl > 0 {
		s.cache = gocache.New(ttl, 2*ttl)
	}
	return s
}

// ResolveByAPIKey resuelve una API key presentada en X-API-KEY.
// Con ErrProviderBlocked o ErrCertificateInvalid devuelve también el
// proveedor, para que el llamador pueda auditar quién fue rechazado.
func (s *Store) ResolveByAPIKey(ctx context.Context, key string) (*repository.Provider, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, s.observe("api_key", ErrUnknownCredential)
	}
	hash := tokens.SHA256Hex(key)
	p, err := s.lookup(ctx, "key:"+hash, func(ctx context.Context) (*repository.Provider, error) {
		return s.repo.GetByAPIKeyHash(ctx, hash)
	}, func(p *repository.Provider) bool {
		return tokens.EqualHex(p.APIKeyHash, hash)
	})
	if err != nil {
		return nil, s.observe("api_key", err)
	}
	// El índice ya igualó el hash; la comparación explícita es en tiempo constante.
	if !tokens.EqualHex(p.APIKeyHash, hash) {
		return nil, s.observe("api_key", ErrUnknownCredential)
	}
	return p, s.observe("api_key", s.check(p))
}

// ResolveByCertificate resuelve un certificado (PEM o base64 DER) presentado
// en TPP-Signature-Certificate o en el handshake mTLS.
func (s *Store) ResolveByCertificate(ctx context.Context, raw string) (*repository.Provider, error) {
	cert, err := s.inspector.Parse(raw)
	if err != nil {
		return nil, s.observe("certificate", fmt.Errorf("%w: %v", ErrCertificateInvalid, err))
	}
	if st := s.inspector.Validate(ctx, cert); st != certinspect.StatusValid {
		return nil, s.observe("certificate", fmt.Errorf("%w: %s", ErrCertificateInvalid, st))
	}
	info := certinspect.ExtractInfo(cert)
	p, err := s.lookup(ctx, "cert:"+info.SerialNumber, func(ctx context.Context) (*repository.Provider, error) {
		return s.repo.GetByCertificateSerial(ctx, info.SerialNumber)
	}, func(p *repository.Provider) bool {
		return p.Certificate != nil && tokens.EqualSecret(p.Certificate.SerialNumber, info.SerialNumber)
	})
	if err != nil {
		return nil, s.observe("certificate", err)
	}
	if p.Certificate == nil ||
		!tokens.EqualSecret(p.Certificate.SerialNumber, info.SerialNumber) ||
		!tokens.EqualSecret(p.Certificate.Issuer, info.Issuer) {
		return nil, s.observe("certificate", ErrUnknownCredential)
	}
	return p, s.observe("certificate", s.check(p))
}

// check aplica las reglas sobre un proveedor ya identificado.
func (s *Store) check(p *repository.Provider) error {
	if p.Status != repository.ProviderActive {
		return ErrProviderBlocked
	}
	if c := p.Certificate; c != nil {
		if st := s.inspector.ValidateWindow(c.ValidFrom, c.ValidUntil); st != certinspect.StatusValid {
			return fmt.Errorf("%w: bound certificate %s", ErrCertificateInvalid, st)
		}
	}
	return nil
}

// lookup resuelve una credencial a un proveedor. El cache guarda sólo el
// id del proveedor de cada credencial: el registro se relee en cada
// resolución, así un cambio de estado hecho por otra instancia rige de
// inmediato. Búsquedas concurrentes de la misma credencial se colapsan en
// una sola consulta al índice.
func (s *Store) lookup(ctx context.Context, key string, fetch func(context.Context) (*repository.Provider, error), matches func(*repository.Provider) bool) (*repository.Provider, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			p, err := s.repo.Get(ctx, v.(string))
			switch {
			case err == nil && matches(p):
				return p, nil
			case err != nil && !repository.IsNotFound(err):
				return nil, err
			}
			// Proveedor borrado o credencial reasignada: vuelve al índice.
			s.cache.Delete(key)
		}
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		p, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			if repository.IsNotFound(err) {
				return nil, ErrUnknownCredential
			}
			return nil, err
		}
		if s.cache != nil {
			s.cache.SetDefault(key, p.ID)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	p := *v.(*repository.Provider)
	return &p, nil
}

// invalidate borra del cache todas las credenciales del proveedor id.
func (s *Store) invalidate(id string) {
	if s.cache == nil {
		return
	}
	for k, it := range s.cache.Items() {
		if it.Object == id {
			s.cache.Delete(k)
		}
	}
}

func (s *Store) observe(credential string, err error) error {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownCredential):
		result = "unknown"
	case errors.Is(err, ErrProviderBlocked):
		result = "blocked"
	case errors.Is(err, ErrCertificateInvalid):
		result = "cert_invalid"
	default:
		result = "error"
		logger.Named("trust").Error("provider lookup failed", logger.Op(credential), logger.Err(err))
	}
	metrics.TrustResolutions.WithLabelValues(credential, result).Inc()
	return err
}
