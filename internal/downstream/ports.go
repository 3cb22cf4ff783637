// Package downstream define los puertos hacia los sistemas core del banco
// (cuentas, tarjetas, pagos, fondos, directorio de clientes, notificaciones)
// y sus adaptadores: HTTPClient (JSON sobre HTTP) y Fake (tests / modo dev).
//
// El gateway no interpreta los datos bancarios: los pasa como JSON opaco.
package downstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
)

var (
	// ErrNotFound: el sistema core no conoce el recurso.
	ErrNotFound = errors.New("downstream: resource not found")
	// ErrRejected: el sistema core rechazó la operación (4xx distinto de 404).
	ErrRejected = errors.New("downstream: request rejected")
	// ErrUnavailable: error de transporte o 5xx.
	ErrUnavailable = errors.New("downstream: service unavailable")
)

type AccountService interface {
	ListAccounts(ctx context.Context, customerID string) (json.RawMessage, error)
	GetAccount(ctx context.Context, customerID, accountID string) (json.RawMessage, error)
	GetBalances(ctx context.Context, customerID, accountID string) (json.RawMessage, error)
	GetTransactions(ctx context.Context, customerID, accountID string, query url.Values) (json.RawMessage, error)
}

type CardService interface {
	ListCards(ctx context.Context, customerID string) (json.RawMessage, error)
	GetCard(ctx context.Context, customerID, cardID string) (json.RawMessage, error)
	GetCardBalances(ctx context.Context, customerID, cardID string) (json.RawMessage, error)
	GetCardTransactions(ctx context.Context, customerID, cardID string, query url.Values) (json.RawMessage, error)
}

// PaymentRequest es la orden de pago que se reenvía al sistema de pagos.
type PaymentRequest struct {
	DebtorAccount         string `json:"debtorAccount"`
	CreditorAccount       string `json:"creditorAccount"`
	CreditorName          string `json:"creditorName"`
	Amount                string `json:"amount"`
	Currency              string `json:"currency"`
	RemittanceInformation string `json:"remittanceInformation,omitempty"`
}

// PaymentStatus es el estado de un pago en el sistema de pagos.
type PaymentStatus struct {
	PaymentID         string `json:"paymentId"`
	TransactionStatus string `json:"transactionStatus"`
}

type PaymentService interface {
	InitiatePayment(ctx context.Context, customerID string, req PaymentRequest) (*PaymentStatus, error)
	GetPaymentStatus(ctx context.Context, customerID, paymentID string) (*PaymentStatus, error)
}

// FundsRequest es una consulta de disponibilidad de fondos (CBPII).
type FundsRequest struct {
	Account  string `json:"account"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type FundsResult struct {
	FundsAvailable bool `json:"fundsAvailable"`
}

type FundsService interface {
	ConfirmFunds(ctx context.Context, customerID string, req FundsRequest) (*FundsResult, error)
}

// CustomerDirectory resuelve el destino de contacto (teléfono, email o
// token de dispositivo) de un cliente para un canal.
type CustomerDirectory interface {
	Contact(ctx context.Context, customerID, channel string) (string, error)
}

// Notification es un mensaje out-of-band (SMS o push).
type Notification struct {
	Channel string `json:"channel"`
	Target  string `json:"target"`
	Message string `json:"message"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Services agrupa todos los puertos.
type Services struct {
	Accounts  AccountService
	Cards     CardService
	Payments  PaymentService
	Funds     FundsService
	Directory CustomerDirectory
	Notifier  Notifier
}
