package repository

// ConsentKind es el tipo de consentimiento.
type ConsentKind string

const (
	KindAccountInformation ConsentKind = "ACCOUNT_INFORMATION"
	KindPaymentInitiation  ConsentKind = "PAYMENT_INITIATION"
	KindFundsConfirmation  ConsentKind = "FUNDS_CONFIRMATION"
	KindCardInformation    ConsentKind = "CARD_INFORMATION"
)

// Valid reporta si k es un tipo conocido.
func (k ConsentKind) Valid() bool {
	switch k {
	case KindAccountInformation, KindPaymentInitiation, KindFundsConfirmation, KindCardInformation:
		return true
	}
	return false
}

// ConsentStatus es el estado del ciclo de vida de un consent.
type ConsentStatus string

const (
	ConsentReceived ConsentStatus = "RECEIVED"
	ConsentValid    ConsentStatus = "VALID"
	ConsentRejected ConsentStatus = "REJECTED"
	ConsentRevoked  ConsentStatus = "REVOKED"
	ConsentExpired  ConsentStatus = "EXPIRED"
)

// ProviderStatus es el estado de un TPP registrado.
type ProviderStatus string

const (
	ProviderActive    ProviderStatus = "ACTIVE"
	ProviderSuspended ProviderStatus = "SUSPENDED"
	ProviderRevoked   ProviderStatus = "REVOKED"
)

// Valid reporta si s es un estado conocido.
func (s ProviderStatus) Valid() bool {
	return s == ProviderActive || s == ProviderSuspended || s == ProviderRevoked
}

// Role es una capacidad regulatoria del TPP. ProviderType usa el mismo set.
type Role string

const (
	RoleAISP  Role = "AISP"
	RolePISP  Role = "PISP"
	RoleCBPII Role = "CBPII"
	RoleASPSP Role = "ASPSP"
)

// Valid reporta si r es un rol conocido.
func (r Role) Valid() bool {
	switch r {
	case RoleAISP, RolePISP, RoleCBPII, RoleASPSP:
		return true
	}
	return false
}

// ResourceType es el set cerrado de recursos auditables.
type ResourceType string

const (
	ResourceAccount           ResourceType = "ACCOUNT"
	ResourceTransaction       ResourceType = "TRANSACTION"
	ResourceBalance           ResourceType = "BALANCE"
	ResourcePayment           ResourceType = "PAYMENT"
	ResourceCard              ResourceType = "CARD"
	ResourceCardTransaction   ResourceType = "CARD_TRANSACTION"
	ResourceCardBalance       ResourceType = "CARD_BALANCE"
	ResourceFundsConfirmation ResourceType = "FUNDS_CONFIRMATION"
	ResourceConsent           ResourceType = "CONSENT"
)

// AccessKind clasifica la operación auditada.
type AccessKind string

const (
	AccessRead   AccessKind = "READ"
	AccessWrite  AccessKind = "WRITE"
	AccessDelete AccessKind = "DELETE"
)

// Outcome es el resultado auditado de un acceso.
type Outcome string

const (
	OutcomeSuccess      Outcome = "SUCCESS"
	OutcomeUnauthorized Outcome = "UNAUTHORIZED"
	OutcomeForbidden    Outcome = "FORBIDDEN"
	OutcomeError        Outcome = "ERROR"
)
