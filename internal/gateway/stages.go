package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/dropDatabas3/consentgate/internal/consent"
	"github.com/dropDatabas3/consentgate/internal/downstream"
	httperrors "github.com/dropDatabas3/consentgate/internal/http/errors"
	"github.com/dropDatabas3/consentgate/internal/metrics"
	"github.com/dropDatabas3/consentgate/internal/observability/logger"
	"github.com/dropDatabas3/consentgate/internal/sca"
	"github.com/dropDatabas3/consentgate/internal/trust"
)

const maxRequestIDLen = 128

// anomaly limita requests por IP del cliente. Si el limitador falla, deja
// pasar.
func (m *Mediator) anomaly(ctx context.Context, ex *Exchange) *httperrors.AppError {
	if m.deps.Limiter == nil || ex.Req.ClientIP == "" {
		return nil
	}
	res, err := m.deps.Limiter.Allow(ctx, ex.Req.ClientIP)
	if err != nil {
		logger.From(ctx).Warn("anomaly limiter unavailable", logger.Err(err))
		return nil
	}
	if res.Allowed {
		return nil
	}
	metrics.AnomalyBlocks.WithLabelValues(res.Family).Inc()
	logger.From(ctx).Warn("anomaly limit exceeded", logger.String("client_key", res.Key), logger.Int("hits", int(res.CurrentHits)))
	secs := int(math.Ceil(res.RetryAfter.Seconds()))
	return httperrors.ErrServiceBlocked.WithDetail(fmt.Sprintf("retry after %d seconds", secs))
}

func (m *Mediator) headers(_ context.Context, ex *Exchange) *httperrors.AppError {
	h := ex.Req.Header
	ex.RequestID = strings.TrimSpace(h.Get(HeaderRequestID))
	ex.ConsentID = strings.TrimSpace(h.Get(HeaderConsentID))
	ex.CustomerID = strings.TrimSpace(h.Get(HeaderPSUID))
	ex.PSUIPAddress = strings.TrimSpace(h.Get(HeaderPSUIPAddress))
	ex.TPPRequestID = strings.TrimSpace(h.Get(HeaderTPPRequestID))
	ex.SCAToken = strings.TrimSpace(h.Get(HeaderSCAToken))

	e := httperrors.ErrFormat
	switch {
	case ex.RequestID == "":
		e = e.WithField(HeaderRequestID, "required")
	case !validRequestID(ex.RequestID):
		e = e.WithField(HeaderRequestID, "malformed")
	}
	if ex.Op.Consent {
		if ex.ConsentID == "" {
			e = e.WithField(HeaderConsentID, "required")
		} else if _, err := uuid.Parse(ex.ConsentID); err != nil {
			e = e.WithField(HeaderConsentID, "malformed")
		}
	}
	if ex.Op.PSU && ex.CustomerID == "" {
		e = e.WithField(HeaderPSUID, "required")
	}
	if ex.PSUIPAddress != "" && net.ParseIP(ex.PSUIPAddress) == nil {
		e = e.WithField(HeaderPSUIPAddress, "malformed")
	}
	if len(e.Fields) > 0 {
		return e.WithDetail("missing or malformed headers")
	}

	if ex.Op.Decode != nil {
		if err := ex.Op.Decode(ex); err != nil {
			return httperrors.ErrFormat.WithDetail(err.Error()).WithCause(err)
		}
	}
	return nil
}

func validRequestID(s string) bool {
	if len(s) > maxRequestIDLen {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) || r == ' ' {
			return false
		}
	}
	return true
}

// trust resuelve la credencial del TPP: X-API-KEY, luego el certificado en
// header y por último el certificado del handshake mTLS.
func (m *Mediator) trust(ctx context.Context, ex *Exchange) *httperrors.AppError {
	h := ex.Req.Header
	var err error
	switch {
	case strings.TrimSpace(h.Get(HeaderAPIKey)) != "":
		ex.Provider, err = m.deps.Trust.ResolveByAPIKey(ctx, h.Get(HeaderAPIKey))
	case strings.TrimSpace(h.Get(HeaderTPPCertificate)) != "":
		ex.Provider, err = m.deps.Trust.ResolveByCertificate(ctx, h.Get(HeaderTPPCertificate))
	case len(ex.Req.PeerCertificates) > 0:
		raw := base64.StdEncoding.EncodeToString(ex.Req.PeerCertificates[0].Raw)
		ex.Provider, err = m.deps.Trust.ResolveByCertificate(ctx, raw)
	default:
		return httperrors.ErrUnauthorized.WithDetail("missing third party credential")
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, trust.ErrProviderBlocked):
		return httperrors.ErrResourceBlocked.WithDetail("third party is suspended or revoked").WithCause(err)
	case errors.Is(err, trust.ErrUnknownCredential), errors.Is(err, trust.ErrCertificateInvalid):
		return httperrors.ErrUnauthorized.WithCause(err)
	default:
		return httperrors.ErrInternal.WithCause(err)
	}
}

// roles es consultivo salvo EnforceRoles: la decisión vinculante es del
// consent gate.
func (m *Mediator) roles(ctx context.Context, ex *Exchange) *httperrors.AppError {
	if len(ex.Op.Roles) == 0 {
		return nil
	}
	for _, r := range ex.Op.Roles {
		if ex.Provider.HasRole(r) {
			return nil
		}
	}
	logger.From(ctx).Warn("third party lacks role for operation",
		logger.ThirdPartyID(ex.thirdPartyID()),
		logger.Op(ex.Op.Name),
		logger.Bool("enforced", m.opts.EnforceRoles),
	)
	if m.opts.EnforceRoles {
		return httperrors.ErrResourceBlocked.WithDetail("third party role does not allow this operation")
	}
	return nil
}

func (m *Mediator) bearer(_ context.Context, ex *Exchange) *httperrors.AppError {
	v := m.deps.PSU
	if v == nil {
		return nil
	}
	raw := ex.Req.Header.Get(HeaderAuthorization)
	if strings.TrimSpace(raw) == "" {
		if v.Required() {
			return httperrors.ErrPSUCredentialsInvalid.WithDetail("missing bearer token")
		}
		return nil
	}
	tok, ok := bearerToken(raw)
	if !ok {
		return httperrors.ErrPSUCredentialsInvalid.WithDetail("malformed Authorization header")
	}
	sub, err := v.Verify(tok)
	if err != nil {
		return httperrors.ErrPSUCredentialsInvalid.WithCause(err)
	}
	if ex.CustomerID == "" {
		ex.CustomerID = sub
	} else if sub != ex.CustomerID {
		return httperrors.ErrPSUCredentialsInvalid.WithDetail("token subject does not match PSU-ID")
	}
	return nil
}

func (m *Mediator) consent(ctx context.Context, ex *Exchange) *httperrors.AppError {
	if !ex.Op.Consent {
		return nil
	}
	if ex.CustomerID == "" {
		// Sin PSU-ID (confirmación de fondos) el cliente es el dueño del
		// consent; la ligadura al TPP la sigue validando el gate.
		c, err := m.deps.Consents.Get(ctx, ex.ConsentID)
		if err != nil {
			return consentErr(err)
		}
		ex.CustomerID = c.CustomerID
	}

	d, err := m.deps.Gate.Authorize(ctx, consent.Request{
		ConsentID:    ex.ConsentID,
		ResourceType: ex.Op.ResourceType,
		ResourceID:   ex.Op.gateResource(ex),
		CustomerID:   ex.CustomerID,
		ThirdPartyID: ex.thirdPartyID(),
	})
	if err != nil {
		return consentErr(err)
	}
	ex.Consent = d.Consent
	if !d.Allowed {
		return httperrors.ErrConsentInvalid.WithDetail(string(d.Reason))
	}
	return nil
}

func consentErr(err error) *httperrors.AppError {
	if errors.Is(err, consent.ErrNotFound) {
		return httperrors.ErrConsentInvalid.WithDetail("consent unknown").WithCause(err)
	}
	return httperrors.ErrInternal.WithCause(err)
}

func (m *Mediator) sca(ctx context.Context, ex *Exchange) *httperrors.AppError {
	switch ex.Op.SCA {
	case SCANone:
		return nil
	case SCAPayment:
		amount, currency := "", ""
		if ex.Op.Amount != nil {
			amount, currency = ex.Op.Amount(ex.Payload)
		}
		if !m.deps.SCA.IsRequired(amount, currency) {
			return nil
		}
	}

	required := httperrors.ErrPSUCredentialsInvalid.WithLink("startAuthorisation", m.opts.StartAuthorisationPath)
	if ex.SCAToken == "" {
		return required.WithDetail("strong customer authentication required")
	}
	_, err := m.deps.SCA.RedeemToken(ctx, ex.SCAToken, ex.CustomerID, string(ex.Op.ResourceType), ex.Op.scaResource(ex))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sca.ErrTokenInvalid):
		return required.WithDetail("strong customer authentication token is invalid").WithCause(err)
	default:
		return httperrors.ErrInternal.WithCause(err)
	}
}

type delegateResult struct {
	v   any
	err error
}

// delegate llama al puerto downstream exactamente una vez, con un contexto
// desacoplado del request. Si el cliente se va antes, el resultado se
// descarta y el request termina como ERROR.
func (m *Mediator) delegate(ctx context.Context, ex *Exchange) *httperrors.AppError {
	in := ex.input()
	call := ex.Op.Call
	dctx := context.WithoutCancel(ctx)
	done := make(chan delegateResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- delegateResult{err: fmt.Errorf("gateway: downstream call panicked: %v", r)}
			}
		}()
		v, err := call(dctx, in)
		done <- delegateResult{v: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return delegateErr(res.err)
		}
		ex.Result = res.v
		if ex.Op.Consent && m.deps.Consents != nil {
			if err := m.deps.Consents.Touch(dctx, ex.ConsentID); err != nil {
				logger.From(ctx).Warn("consent touch failed", logger.ConsentID(ex.ConsentID), logger.Err(err))
			}
		}
		return nil
	case <-ctx.Done():
		return httperrors.ErrInternal.WithDetail("request cancelled before the downstream call completed").WithCause(ctx.Err())
	}
}

func delegateErr(err error) *httperrors.AppError {
	var appErr *httperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, downstream.ErrNotFound), errors.Is(err, consent.ErrNotFound):
		return httperrors.ErrResourceUnknown.WithCause(err)
	case errors.Is(err, downstream.ErrRejected):
		return httperrors.ErrFormat.WithDetail("rejected by the downstream service").WithCause(err)
	case errors.Is(err, consent.ErrInvalidTransition):
		return httperrors.ErrConsentInvalid.WithDetail("consent status does not allow this action").WithCause(err)
	case errors.Is(err, consent.ErrInvalidConsent), errors.Is(err, sca.ErrInvalidRequest):
		return httperrors.ErrFormat.WithDetail(err.Error()).WithCause(err)
	case errors.Is(err, sca.ErrNoDeliveryChannel):
		return httperrors.ErrFormat.WithDetail("no delivery channel available for the customer").WithCause(err)
	case errors.Is(err, sca.ErrAuthenticationFailed):
		return httperrors.ErrPSUCredentialsInvalid.WithDetail("authentication failed").WithCause(err)
	}
	return httperrors.ErrInternal.WithCause(err)
}
