package gateway

import (
	"context"
	"crypto/x509"
	"net/http"
	"net/url"
	"slices"

	"github.com/dropDatabas3/consentgate/internal/consent"
	"github.com/dropDatabas3/consentgate/internal/domain/repository"
	httperrors "github.com/dropDatabas3/consentgate/internal/http/errors"
)

// State es el estado de un request dentro del mediador.
type State int

const (
	StateReceived State = iota
	StateHeadersValidated
	StateTrustResolved
	StateConsentChecked
	StateDelegated
	StateLogged
	StateCompleted
	StateErrorTerminal
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "Received"
	case StateHeadersValidated:
		return "HeadersValidated"
	case StateTrustResolved:
		return "TrustResolved"
	case StateConsentChecked:
		return "ConsentChecked"
	case StateDelegated:
		return "Delegated"
	case StateLogged:
		return "Logged"
	case StateCompleted:
		return "Completed"
	case StateErrorTerminal:
		return "ErrorTerminal"
	}
	return "Unknown"
}

// Headers que entiende el mediador.
const (
	HeaderRequestID      = "X-Request-ID"
	HeaderConsentID      = "X-Consent-ID"
	HeaderPSUID          = "PSU-ID"
	HeaderPSUIPAddress   = "PSU-IP-Address"
	HeaderTPPRequestID   = "TPP-Request-ID"
	HeaderAPIKey         = "X-API-KEY"
	HeaderTPPCertificate = "TPP-Signature-Certificate"
	HeaderAuthorization  = "Authorization"
	HeaderSCAToken       = "X-SCA-Token"
)

// Request es lo que la capa HTTP extrae del request entrante.
type Request struct {
	Method     string
	Path       string
	Header     http.Header
	Query      url.Values
	Body       []byte
	ClientIP   string
	UserAgent  string
	ResourceID string
	// PeerCertificates del handshake mTLS, si lo hubo.
	PeerCertificates []*x509.Certificate
}

// Input es lo que recibe Operation.Call. Es una copia: la llamada downstream
// puede seguir corriendo después de que el mediador respondió.
type Input struct {
	CustomerID   string
	ThirdPartyID string
	ConsentID    string
	ResourceID   string
	Query        url.Values
	Payload      any
	Consent      *consent.Consent
}

// Exchange acumula el estado de un request a medida que avanza por los stages.
type Exchange struct {
	Op  *Operation
	Req Request

	RequestID    string
	ConsentID    string
	CustomerID   string
	PSUIPAddress string
	TPPRequestID string
	SCAToken     string

	Provider *repository.Provider
	Consent  *consent.Consent
	Payload  any

	State    State
	Trace    []State
	FailedAt string
	Err      *httperrors.AppError
	Outcome  repository.Outcome
	Result   any
}

func newExchange(op *Operation, req Request) *Exchange {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	return &Exchange{Op: op, Req: req, State: StateReceived, Trace: []State{StateReceived}}
}

func (ex *Exchange) advance(s State) {
	ex.State = s
	ex.Trace = append(ex.Trace, s)
}

// Reached indica si el exchange pasó por s.
func (ex *Exchange) Reached(s State) bool { return slices.Contains(ex.Trace, s) }

func (ex *Exchange) thirdPartyID() string {
	if ex.Provider == nil {
		return ""
	}
	return ex.Provider.ID
}

func (ex *Exchange) input() Input {
	return Input{
		CustomerID:   ex.CustomerID,
		ThirdPartyID: ex.thirdPartyID(),
		ConsentID:    ex.ConsentID,
		ResourceID:   ex.Req.ResourceID,
		Query:        ex.Req.Query,
		Payload:      ex.Payload,
		Consent:      ex.Consent,
	}
}

// Stage es un paso del pipeline. Devolver un error corta el pipeline.
type Stage struct {
	Name string
	// Reaches es el estado al que avanza el exchange si Run no falla.
	// StateReceived = no cambia.
	Reaches State
	Run     func(ctx context.Context, ex *Exchange) *httperrors.AppError
}
