package gateway

import (
	"context"
	"net/http"

	"github.com/dropDatabas3/consentgate/internal/domain/repository"
)

// SCAMode define cuándo una operación exige un token SCA.
type SCAMode int

const (
	SCANone SCAMode = iota
	// SCAPayment exige token sólo si la política lo pide para el monto.
	SCAPayment
	// SCAAlways exige token siempre.
	SCAAlways
)

// Operation describe una operación TPP: qué headers requiere, qué roles la
// pueden invocar, cómo se gatea y qué puerto downstream llama.
type Operation struct {
	Name         string
	ResourceType repository.ResourceType
	AccessKind   repository.AccessKind

	// Consent exige X-Consent-ID y pasa por el consent gate.
	Consent bool
	// PSU exige PSU-ID.
	PSU bool
	// Roles admitidos; vacío = cualquiera.
	Roles []repository.Role
	SCA   SCAMode

	// Decode parsea el body; su error es un FORMAT_ERROR.
	Decode func(ex *Exchange) error
	// GateResource devuelve el recurso a validar contra el scope del consent.
	// nil = Request.ResourceID.
	GateResource func(ex *Exchange) string
	// SCAResource devuelve el rid al que debe estar ligado el token SCA.
	// nil = X-Consent-ID.
	SCAResource func(ex *Exchange) string
	// Amount devuelve monto y moneda para la política SCA.
	Amount func(payload any) (amount, currency string)

	Call func(ctx context.Context, in Input) (any, error)

	// SuccessStatus default 200.
	SuccessStatus int
}

// SuccessCode es el status HTTP de una respuesta exitosa.
func (op *Operation) SuccessCode() int {
	if op.SuccessStatus == 0 {
		return http.StatusOK
	}
	return op.SuccessStatus
}

func (op *Operation) gateResource(ex *Exchange) string {
	if op.GateResource != nil {
		return op.GateResource(ex)
	}
	return ex.Req.ResourceID
}

func (op *Operation) scaResource(ex *Exchange) string {
	if op.SCAResource != nil {
		return op.SCAResource(ex)
	}
	return ex.ConsentID
}
