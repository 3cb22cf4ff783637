// Package gateway implementa el pipeline por request: headers, anomalía,
// trust, roles, bearer del PSU, consent, SCA, delegación downstream y
// auditoría.
//
// Cada Stage puede cortar el pipeline con un *errors.AppError. La auditoría
// no es un stage: corre una sola vez al final para todo request que haya
// llegado a HeadersValidated.
package gateway

import (
	"context"
	"strings"

	"github.com/dropDatabas3/consentgate/internal/audit"
	"github.com/dropDatabas3/consentgate/internal/consent"
	"github.com/dropDatabas3/consentgate/internal/domain/repository"
	"github.com/dropDatabas3/consentgate/internal/observability/logger"
	"github.com/dropDatabas3/consentgate/internal/rate"
	"github.com/dropDatabas3/consentgate/internal/sca"
)

type TrustResolver interface {
	ResolveByAPIKey(ctx context.Context, key string) (*repository.Provider, error)
	ResolveByCertificate(ctx context.Context, raw string) (*repository.Provider, error)
}

type Authorizer interface {
	Authorize(ctx context.Context, req consent.Request) (consent.Decision, error)
}

type ConsentReader interface {
	Get(ctx context.Context, id string) (*consent.Consent, error)
	Touch(ctx context.Context, id string) error
}

type SCAVerifier interface {
	IsRequired(amount, currency string) bool
	RedeemToken(ctx context.Context, token, customerID, resourceType, resourceID string) (*sca.Claims, error)
}

type Auditor interface {
	Record(ctx context.Context, e audit.Entry)
}

// Deps son los colaboradores del mediador. Limiter y PSU son opcionales.
type Deps struct {
	Trust    TrustResolver
	Gate     Authorizer
	Consents ConsentReader
	SCA      SCAVerifier
	Audit    Auditor
	Limiter  rate.Limiter
	PSU      *PSUVerifier
}

type Options struct {
	// EnforceRoles convierte el chequeo de roles en bloqueante.
	EnforceRoles bool
	// StartAuthorisationPath es el link que acompaña un PSU_CREDENTIALS_INVALID
	// por falta de SCA.
	StartAuthorisationPath string
}

type Mediator struct {
	deps   Deps
	opts   Options
	stages []Stage
}

func New(deps Deps, opts Options) *Mediator {
	if opts.StartAuthorisationPath == "" {
		opts.StartAuthorisationPath = "/v1/sca/challenges"
	}
	m := &Mediator{deps: deps, opts: opts}
	m.stages = []Stage{
		{Name: "anomaly", Run: m.anomaly},
		{Name: "headers", Reaches: StateHeadersValidated, Run: m.headers},
		{Name: "trust", Reaches: StateTrustResolved, Run: m.trust},
		{Name: "roles", Run: m.roles},
		{Name: "bearer", Run: m.bearer},
		{Name: "consent", Reaches: StateConsentChecked, Run: m.consent},
		{Name: "sca", Run: m.sca},
		{Name: "delegate", Reaches: StateDelegated, Run: m.delegate},
	}
	return m
}

// Stages devuelve los nombres de los stages, en orden.
func (m *Mediator) Stages() []string {
	out := make([]string, len(m.stages))
	for i, s := range m.stages {
		out[i] = s.Name
	}
	return out
}

// Handle corre op para req. Nunca devuelve error: el resultado (o el
// AppError) queda en el Exchange.
func (m *Mediator) Handle(ctx context.Context, op *Operation, req Request) *Exchange {
	ex := newExchange(op, req)
	for _, st := range m.stages {
		if err := st.Run(ctx, ex); err != nil {
			ex.Err = err
			ex.FailedAt = st.Name
			break
		}
		if st.Reaches != StateReceived {
			ex.advance(st.Reaches)
		}
	}

	ex.Outcome = classify(ex)
	if ex.Reached(StateHeadersValidated) {
		m.record(ctx, ex)
		ex.advance(StateLogged)
	}
	if ex.Err != nil {
		ex.advance(StateErrorTerminal)
	} else {
		ex.advance(StateCompleted)
	}
	m.log(ctx, ex)
	return ex
}

// classify traduce el resultado del pipeline al status de auditoría. Una
// falla en la delegación es siempre ERROR.
func classify(ex *Exchange) repository.Outcome {
	if ex.Err == nil {
		return repository.OutcomeSuccess
	}
	if ex.FailedAt == "delegate" {
		return repository.OutcomeError
	}
	switch ex.Err.HTTPStatus {
	case 401:
		return repository.OutcomeUnauthorized
	case 403, 404:
		return repository.OutcomeForbidden
	}
	return repository.OutcomeError
}

func (m *Mediator) record(ctx context.Context, ex *Exchange) {
	if m.deps.Audit == nil {
		return
	}
	e := audit.Entry{
		ConsentID:    ex.ConsentID,
		CustomerID:   ex.CustomerID,
		ThirdPartyID: ex.thirdPartyID(),
		AccessKind:   ex.Op.AccessKind,
		ResourceType: ex.Op.ResourceType,
		ResourceID:   ex.Req.ResourceID,
		ClientIP:     ex.Req.ClientIP,
		UserAgent:    ex.Req.UserAgent,
		Outcome:      ex.Outcome,
		RequestID:    ex.RequestID,
		TPPRequestID: ex.TPPRequestID,
		PSUID:        strings.TrimSpace(ex.Req.Header.Get(HeaderPSUID)),
		PSUIPAddress: ex.PSUIPAddress,
	}
	if e.ResourceID == "" && ex.Op.GateResource != nil {
		e.ResourceID = ex.Op.GateResource(ex)
	}
	if e.ConsentID == "" {
		switch {
		case ex.Op.ResourceType == repository.ResourceConsent && ex.Req.ResourceID != "":
			e.ConsentID = ex.Req.ResourceID
		case ex.Consent != nil:
			e.ConsentID = ex.Consent.ID
		}
		if c, ok := ex.Result.(*consent.Consent); ok && e.ConsentID == "" {
			e.ConsentID = c.ID
		}
	}
	if ex.Err != nil {
		e.ErrorMessage = ex.Err.Code
		if ex.Err.Detail != "" {
			e.ErrorMessage += ": " + ex.Err.Detail
		}
	}
	m.deps.Audit.Record(ctx, e)
}

func (m *Mediator) log(ctx context.Context, ex *Exchange) {
	log := logger.From(ctx).With(
		logger.Op(ex.Op.Name),
		logger.ThirdPartyID(ex.thirdPartyID()),
		logger.Outcome(string(ex.Outcome)),
	)
	if ex.Err == nil {
		log.Debug("gateway request completed")
		return
	}
	log.Info("gateway request rejected",
		logger.Stage(ex.FailedAt),
		logger.String("code", ex.Err.Code),
		logger.String("detail", ex.Err.Detail),
	)
}
