package repository

import (
	"context"
	"time"
)

// AccessLogEntry es una fila inmutable del access log.
// Los campos *Enc llegan cifrados desde audit.Logger. CustomerID es la huella
// keyed del cliente (ver secretbox.Codec.Fingerprint), nunca el id en claro.
type AccessLogEntry struct {
	ID              string
	ConsentID       string
	CustomerID      string
	CustomerIDEnc   string
	ThirdPartyID    string
	AccessKind      AccessKind
	ResourceType    ResourceType
	ResourceID      string
	ClientIP        string
	UserAgent       string
	Status          Outcome
	ErrorMessageEnc string
	RequestID       string
	TPPRequestIDEnc string
	PSUIDEnc        string
	PSUIPAddressEnc string
	CreatedAt       time.Time
}

// AccessLogQuery filtra el access log. Los filtros vacíos no aplican.
// From es inclusivo, To exclusivo.
type AccessLogQuery struct {
	CustomerID   string // huella, igual que AccessLogEntry.CustomerID
	ConsentID    string
	ThirdPartyID string
	From         time.Time
	To           time.Time
	Limit        int
}

// AccessLogRepository es append-only: no hay update ni delete.
type AccessLogRepository interface {
	Append(ctx context.Context, e AccessLogEntry) error

	// Find devuelve las entradas que cumplen q, más recientes primero.
	Find(ctx context.Context, q AccessLogQuery) ([]AccessLogEntry, error)

	// CountSuccessSince cuenta entradas SUCCESS del consent con created_at >= since.
	CountSuccessSince(ctx context.Context, consentID string, since time.Time) (int, error)
}
