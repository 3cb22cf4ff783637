// Package consent implementa el ciclo de vida de los consentimientos (Store)
// y la decisión de autorización por request (Gate).
package consent

import (
	"errors"
	"slices"
	"time"

	"github.com/dropDatabas3/consentgate/internal/domain/repository"
)

var (
	ErrNotFound          = errors.New("consent: not found")
	ErrInvalidTransition = errors.New("consent: invalid status transition")
	ErrInvalidConsent    = errors.New("consent: invalid consent data")
)

// Scope es el alcance declarado: un set de IDs de recurso o All.
type Scope struct {
	All         bool     `json:"all,omitempty"`
	ResourceIDs []string `json:"resourceIds,omitempty"`
}

// Covers indica si resourceID entra en el scope. Un ID vacío es un acceso a
// nivel colección (listar cuentas, iniciar un pago) y lo cubre cualquier
// scope no vacío; el resultado de un listado se recorta después a ResourceIDs.
func (s Scope) Covers(resourceID string) bool {
	if s.Empty() {
		return false
	}
	if s.All || resourceID == "" {
		return true
	}
	return slices.Contains(s.ResourceIDs, resourceID)
}

// Empty indica que el scope no otorga nada.
func (s Scope) Empty() bool { return !s.All && len(s.ResourceIDs) == 0 }

// Consent es la vista de dominio, con el scope ya descifrado.
type Consent struct {
	ID              string                   `json:"consentId"`
	CustomerID      string                   `json:"customerId"`
	ThirdPartyID    string                   `json:"thirdPartyId"`
	Kind            repository.ConsentKind   `json:"consentType"`
	Status          repository.ConsentStatus `json:"consentStatus"`
	ValidFrom       time.Time                `json:"validFrom"`
	ValidUntil      time.Time                `json:"validUntil"`
	FrequencyPerDay int                      `json:"frequencyPerDay"`
	Scope           Scope                    `json:"access"`
	LastActionAt    *time.Time               `json:"lastActionDate,omitempty"`
	CreatedAt       time.Time                `json:"createdAt"`
	UpdatedAt       time.Time                `json:"updatedAt"`
}

// InWindow reporta si t cae en [ValidFrom, ValidUntil).
func (c *Consent) InWindow(t time.Time) bool {
	return !t.Before(c.ValidFrom) && t.Before(c.ValidUntil)
}

// transitions: estado destino → estados de origen permitidos.
var transitions = map[repository.ConsentStatus][]repository.ConsentStatus{
	repository.ConsentValid:    {repository.ConsentReceived},
	repository.ConsentRejected: {repository.ConsentReceived},
	repository.ConsentRevoked:  {repository.ConsentReceived, repository.ConsentValid},
	repository.ConsentExpired:  {repository.ConsentReceived, repository.ConsentValid},
}

// CanTransition reporta si from → to es legal. REJECTED, REVOKED y EXPIRED
// son terminales.
func CanTransition(from, to repository.ConsentStatus) bool {
	return slices.Contains(transitions[to], from)
}

// Terminal reporta si s no admite más transiciones.
func Terminal(s repository.ConsentStatus) bool {
	return s == repository.ConsentRejected || s == repository.ConsentRevoked || s == repository.ConsentExpired
}

var kindResources = map[repository.ConsentKind][]repository.ResourceType{
	repository.KindAccountInformation: {repository.ResourceAccount, repository.ResourceBalance, repository.ResourceTransaction},
	repository.KindCardInformation:    {repository.ResourceCard, repository.ResourceCardBalance, repository.ResourceCardTransaction},
	repository.KindPaymentInitiation:  {repository.ResourcePayment},
	repository.KindFundsConfirmation:  {repository.ResourceFundsConfirmation},
}

// CoversResourceType reporta si un consent de tipo kind habilita rt.
func CoversResourceType(kind repository.ConsentKind, rt repository.ResourceType) bool {
	return slices.Contains(kindResources[kind], rt)
}
