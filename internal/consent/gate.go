package consent

import (
	"context"
	"time"

	"github.com/dropDatabas3/consentgate/internal/domain/repository"
	"github.com/dropDatabas3/consentgate/internal/metrics"
	"github.com/dropDatabas3/consentgate/internal/observability/logger"
)

// Reason es el motivo de una denegación.
type Reason string

const (
	ReasonStatusNotValid         Reason = "STATUS_NOT_VALID"
	ReasonNotYetValid            Reason = "NOT_YET_VALID"
	ReasonExpired                Reason = "EXPIRED"
	ReasonCustomerMismatch       Reason = "CUSTOMER_MISMATCH"
	ReasonThirdPartyMismatch     Reason = "THIRD_PARTY_MISMATCH"
	ReasonResourceTypeNotCovered Reason = "RESOURCE_TYPE_NOT_COVERED"
	ReasonResourceNotInScope     Reason = "RESOURCE_NOT_IN_SCOPE"
	ReasonAccessLimitExceeded    Reason = "ACCESS_LIMIT_EXCEEDED"
)

// UsageCounter cuenta los accesos exitosos de un consent desde since.
// Lo implementa audit.Logger.
type UsageCounter interface {
	CountByConsentSince(ctx context.Context, consentID string, since time.Time) (int, error)
}

// Request es lo que se quiere autorizar.
type Request struct {
	ConsentID    string
	ResourceType repository.ResourceType
	// ResourceID vacío = acceso a nivel colección.
	ResourceID   string
	CustomerID   string
	ThirdPartyID string
}

// Decision es el veredicto del gate. Consent se completa siempre que exista.
type Decision struct {
	Allowed bool
	Reason  Reason
	Consent *Consent
}

// Gate decide si un request está cubierto por un consent vivo.
type Gate struct {
	store *Store
	usage UsageCounter
	now   func() time.Time
	// loc define el "día" del tope de frecuencia.
	loc *time.Location
}

// NewGate crea un Gate. usage nil deshabilita el tope de frecuencia.
func NewGate(store *Store, usage UsageCounter, loc *time.Location, now func() time.Time) *Gate {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Gate{store: store, usage: usage, now: now, loc: loc}
}

// Authorize devuelve Allow sólo si: el consent pertenece al cliente y al TPP,
// status == VALID, ahora ∈ [validFrom, validUntil), el tipo de consent cubre
// el tipo de recurso, el recurso está en el scope y los accesos exitosos de
// hoy son menos que frequencyPerDay.
//
// Si la ventana ya pasó con status VALID, persiste EXPIRED (lazy). El tope de
// frecuencia no es atómico: requests concurrentes pueden pasar juntos.
func (g *Gate) Authorize(ctx context.Context, req Request) (Decision, error) {
	c, err := g.store.Get(ctx, req.ConsentID)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Consent: c}
	now := g.now()

	switch {
	case c.CustomerID != req.CustomerID:
		d.Reason = ReasonCustomerMismatch
	case c.ThirdPartyID != req.ThirdPartyID:
		d.Reason = ReasonThirdPartyMismatch
	case c.Status == repository.ConsentExpired:
		d.Reason = ReasonExpired
	case c.Status != repository.ConsentValid:
		d.Reason = ReasonStatusNotValid
	case now.Before(c.ValidFrom):
		d.Reason = ReasonNotYetValid
	case !now.Before(c.ValidUntil):
		d.Reason = ReasonExpired
		g.expire(ctx, c)
	case !CoversResourceType(c.Kind, req.ResourceType):
		d.Reason = ReasonResourceTypeNotCovered
	case !c.Scope.Covers(req.ResourceID):
		d.Reason = ReasonResourceNotInScope
	}

	if d.Reason == "" && c.FrequencyPerDay > 0 && g.usage != nil {
		y, m, day := now.In(g.loc).Date()
		since := time.Date(y, m, day, 0, 0, 0, 0, g.loc)
		n, err := g.usage.CountByConsentSince(ctx, c.ID, since)
		if err != nil {
			return Decision{}, err
		}
		if n >= c.FrequencyPerDay {
			d.Reason = ReasonAccessLimitExceeded
		}
	}

	d.Allowed = d.Reason == ""
	g.observe(ctx, req, d)
	return d, nil
}

func (g *Gate) expire(ctx context.Context, c *Consent) {
	if _, err := g.store.MarkExpired(ctx, c.ID); err != nil {
		// Otro request pudo haberlo expirado/revocado primero.
		logger.From(ctx).Warn("lazy consent expiry failed", logger.ConsentID(c.ID), logger.Err(err))
		return
	}
	c.Status = repository.ConsentExpired
}

func (g *Gate) observe(ctx context.Context, req Request, d Decision) {
	decision, reason := "allow", string(d.Reason)
	if !d.Allowed {
		decision = "deny"
		logger.From(ctx).Info("consent denied",
			logger.ConsentID(req.ConsentID),
			logger.ResourceType(string(req.ResourceType)),
			logger.Reason(reason),
		)
	}
	metrics.GateDecisions.WithLabelValues(string(req.ResourceType), decision, reason).Inc()
}
