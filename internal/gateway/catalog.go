package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/dropDatabas3/consentgate/internal/consent"
	"github.com/dropDatabas3/consentgate/internal/domain/repository"
	"github.com/dropDatabas3/consentgate/internal/downstream"
	httperrors "github.com/dropDatabas3/consentgate/internal/http/errors"
	"github.com/dropDatabas3/consentgate/internal/sca"
)

// Catalog es el set de operaciones TPP que expone el gateway.
type Catalog struct {
	ListAccounts        *Operation
	GetAccount          *Operation
	GetBalances         *Operation
	GetTransactions     *Operation
	ListCards           *Operation
	GetCard             *Operation
	GetCardBalances     *Operation
	GetCardTransactions *Operation
	InitiatePayment     *Operation
	GetPaymentStatus    *Operation
	ConfirmFunds        *Operation
	CreateConsent       *Operation
	GetConsent          *Operation
	GetConsentStatus    *Operation
	AuthoriseConsent    *Operation
	RevokeConsent       *Operation
	StartSCA            *Operation
	ValidateSCA         *Operation
}

// ConsentService es lo que usan las operaciones de ciclo de vida.
type ConsentService interface {
	Create(ctx context.Context, in consent.CreateInput) (*consent.Consent, error)
	Get(ctx context.Context, id string) (*consent.Consent, error)
	Confirm(ctx context.Context, id string) (*consent.Consent, error)
	Revoke(ctx context.Context, id string) (*consent.Consent, error)
}

// ChallengeService es lo que usan las operaciones SCA.
type ChallengeService interface {
	Initiate(ctx context.Context, in sca.InitiateInput) (*sca.Challenge, error)
	Validate(ctx context.Context, challengeID, thirdPartyID, code string) (*sca.Result, error)
}

var (
	aisp = []repository.Role{repository.RoleAISP}
	pisp = []repository.Role{repository.RolePISP}
	tpps = []repository.Role{repository.RoleAISP, repository.RolePISP, repository.RoleCBPII}

	currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)
)

func NewCatalog(svc downstream.Services, consents ConsentService, challenges ChallengeService) *Catalog {
	c := &Catalog{}

	// Cuentas
	c.ListAccounts = &Operation{
		Name: "accounts.list", ResourceType: repository.ResourceAccount, AccessKind: repository.AccessRead,
		Consent: true, PSU: true, Roles: aisp,
		Call: func(ctx context.Context, in Input) (any, error) {
			return listInScope(ctx, in, svc.Accounts.ListAccounts, svc.Accounts.GetAccount)
		},
	}
	c.GetAccount = &Operation{
		Name: "accounts.get", ResourceType: repository.ResourceAccount, AccessKind: repository.AccessRead,
		Consent: true, PSU: true, Roles: aisp,
		Call: func(ctx context.Context, in Input) (any, error) {
			return svc.Accounts.GetAccount(ctx, in.CustomerID, in.ResourceID)
		},
	}
	c.GetBalances = &Operation{
		Name: "accounts.balances", ResourceType: repository.ResourceBalance, AccessKind: repository.AccessRead,
		Consent: true, PSU: true, Roles: aisp,
		Call: func(ctx context.Context, in Input) (any, error) {
			return svc.Accounts.GetBalances(ctx, in.CustomerID, in.ResourceID)
		},
	}
	c.GetTransactions = &Operation{
		Name: "accounts.transactions", ResourceType: repository.ResourceTransaction, AccessKind: repository.AccessRead,
		Consent: true, PSU: true, Roles: aisp,
		Call: func(ctx context.Context, in Input) (any, error) {
			return svc.Accounts.GetTransactions(ctx, in.CustomerID, in.ResourceID, in.Query)
		},
	}

	// Tarjetas
	c.ListCards = &Operation{
		Name: "cards.list", ResourceType: repository.ResourceCard, AccessKind: repository.AccessRead,
		Consent: true, PSU: true, Roles: aisp,
		Call: func(ctx context.Context, in Input) (any, error) {
			return listInScope(ctx, in, svc.Cards.ListCards, svc.Cards.GetCard)
		},
	}
	c.GetCard = &Operation{
		Name: "cards.get", ResourceType: repository.ResourceCard, AccessKind: repository.AccessRead,
		Consent: true, PSU: true, Roles: aisp,
		Call: func(ctx context.Context, in Input) (any, error) {
			return svc.Cards.GetCard(ctx, in.CustomerID, in.ResourceID)
		},
	}
	c.GetCardBalances = &Operation{
		Name: "cards.balances", ResourceType: repository.ResourceCardBalance, AccessKind: repository.AccessRead,
		Consent: true, PSU: true, Roles: aisp,
		Call: func(ctx context.Context, in Input) (any, error) {
			return svc.Cards.GetCardBalances(ctx, in.CustomerID, in.ResourceID)
		},
	}
	c.GetCardTransactions = &Operation{
		Name: "cards.transactions", ResourceType: repository.ResourceCardTransaction, AccessKind: repository.AccessRead,
		Consent: true, PSU: true, Roles: aisp,
		Call: func(ctx context.Context, in Input) (any, error) {
			return svc.Cards.GetCardTransactions(ctx, in.CustomerID, in.ResourceID, in.Query)
		},
	}

	// Pagos: el scope del consent lista las cuentas de débito.
	c.InitiatePayment = &Operation{
		Name: "payments.initiate", ResourceType: repository.ResourcePayment, AccessKind: repository.AccessWrite,
		Consent: true, PSU: true, Roles: pisp, SCA: SCAPayment,
		Decode: decodePayment,
		GateResource: func(ex *Exchange) string {
			if p, ok := ex.Payload.(*downstream.PaymentRequest); ok {
				return p.DebtorAccount
			}
			return ""
		},
		Amount: func(payload any) (string, string) {
			if p, ok := payload.(*downstream.PaymentRequest); ok {
				return p.Amount, p.Currency
			}
			return "", ""
		},
		Call: func(ctx context.Context, in Input) (any, error) {
			return svc.Payments.InitiatePayment(ctx, in.CustomerID, *in.Payload.(*downstream.PaymentRequest))
		},
		SuccessStatus: http.StatusCreated,
	}
	c.GetPaymentStatus = &Operation{
		Name: "payments.status", ResourceType: repository.ResourcePayment, AccessKind: repository.AccessRead,
		Consent: true, PSU: true, Roles: pisp,
		// El id de pago no está en el scope: alcanza con un consent de pagos vivo.
		GateResource: func(*Exchange) string { return "" },
		Call: func(ctx context.Context, in Input) (any, error) {
			return svc.Payments.GetPaymentStatus(ctx, in.CustomerID, in.ResourceID)
		},
	}

	c.ConfirmFunds = &Operation{
		Name: "funds.confirm", ResourceType: repository.ResourceFundsConfirmation, AccessKind: repository.AccessRead,
		Consent: true, Roles: []repository.Role{repository.RoleCBPII},
		Decode: decodeFunds,
		GateResource: func(ex *Exchange) string {
			if f, ok := ex.Payload.(*downstream.FundsRequest); ok {
				return f.Account
			}
			return ""
		},
		Call: func(ctx context.Context, in Input) (any, error) {
			return svc.Funds.ConfirmFunds(ctx, in.CustomerID, *in.Payload.(*downstream.FundsRequest))
		},
	}

	// Ciclo de vida del consent. No pasa por el gate: el recurso es el consent.
	c.CreateConsent = &Operation{
		Name: "consents.create", ResourceType: repository.ResourceConsent, AccessKind: repository.AccessWrite,
		PSU: true, Roles: tpps,
		Decode: decodeConsent,
		Call: func(ctx context.Context, in Input) (any, error) {
			req := in.Payload.(*ConsentRequest)
			return consents.Create(ctx, consent.CreateInput{
				CustomerID:      in.CustomerID,
				ThirdPartyID:    in.ThirdPartyID,
				Kind:            req.ConsentType,
				ValidFrom:       req.ValidFrom,
				ValidUntil:      req.ValidUntil,
				FrequencyPerDay: req.FrequencyPerDay,
				Scope:           req.Access,
			})
		},
		SuccessStatus: http.StatusCreated,
	}
	c.GetConsent = &Operation{
		Name: "consents.get", ResourceType: repository.ResourceConsent, AccessKind: repository.AccessRead,
		Roles: tpps,
		Call: func(ctx context.Context, in Input) (any, error) {
			return ownedConsent(ctx, consents, in, false)
		},
	}
	c.GetConsentStatus = &Operation{
		Name: "consents.status", ResourceType: repository.ResourceConsent, AccessKind: repository.AccessRead,
		Roles: tpps,
		Call: func(ctx context.Context, in Input) (any, error) {
			cs, err := ownedConsent(ctx, consents, in, false)
			if err != nil {
				return nil, err
			}
			return ConsentStatusView{ConsentStatus: cs.Status}, nil
		},
	}
	c.AuthoriseConsent = &Operation{
		Name: "consents.authorise", ResourceType: repository.ResourceConsent, AccessKind: repository.AccessWrite,
		PSU: true, Roles: tpps, SCA: SCAAlways,
		SCAResource: func(ex *Exchange) string { return ex.Req.ResourceID },
		Call: func(ctx context.Context, in Input) (any, error) {
			if _, err := ownedConsent(ctx, consents, in, true); err != nil {
				return nil, err
			}
			return consents.Confirm(ctx, in.ResourceID)
		},
	}
	c.RevokeConsent = &Operation{
		Name: "consents.revoke", ResourceType: repository.ResourceConsent, AccessKind: repository.AccessDelete,
		Roles: tpps,
		Call: func(ctx context.Context, in Input) (any, error) {
			if _, err := ownedConsent(ctx, consents, in, false); err != nil {
				return nil, err
			}
			if _, err := consents.Revoke(ctx, in.ResourceID); err != nil {
				return nil, err
			}
			return nil, nil
		},
		SuccessStatus: http.StatusNoContent,
	}

	// SCA: el challenge se liga a un consent del TPP y del cliente.
	c.StartSCA = &Operation{
		Name: "sca.initiate", ResourceType: repository.ResourceConsent, AccessKind: repository.AccessWrite,
		PSU: true, Roles: tpps,
		Decode: decodeChallenge,
		Call: func(ctx context.Context, in Input) (any, error) {
			req := in.Payload.(*ChallengeRequest)
			owned := in
			owned.ResourceID = req.ResourceID
			if _, err := ownedConsent(ctx, consents, owned, true); err != nil {
				return nil, err
			}
			return challenges.Initiate(ctx, sca.InitiateInput{
				CustomerID:      in.CustomerID,
				ThirdPartyID:    in.ThirdPartyID,
				ResourceID:      req.ResourceID,
				ResourceType:    string(req.ResourceType),
				PreferredMethod: req.Method,
			})
		},
		SuccessStatus: http.StatusCreated,
	}
	c.ValidateSCA = &Operation{
		Name: "sca.validate", ResourceType: repository.ResourceConsent, AccessKind: repository.AccessWrite,
		Roles:  tpps,
		Decode: decodeValidation,
		Call: func(ctx context.Context, in Input) (any, error) {
			return challenges.Validate(ctx, in.ResourceID, in.ThirdPartyID, in.Payload.(*ValidationRequest).Code)
		},
	}
	return c
}

// listInScope arma una lectura de colección acotada al scope del consent.
// Con scope All se delega el listado completo; si no, se piden al core sólo
// los recursos declarados, uno por uno, y se omiten los que no conoce.
func listInScope(
	ctx context.Context,
	in Input,
	list func(ctx context.Context, customerID string) (json.RawMessage, error),
	get func(ctx context.Context, customerID, id string) (json.RawMessage, error),
) (json.RawMessage, error) {
	if in.Consent == nil {
		return nil, errors.New("gateway: collection read without consent")
	}
	if in.Consent.Scope.All {
		return list(ctx, in.CustomerID)
	}
	items := make([]json.RawMessage, 0, len(in.Consent.Scope.ResourceIDs))
	for _, id := range in.Consent.Scope.ResourceIDs {
		item, err := get(ctx, in.CustomerID, id)
		if errors.Is(err, downstream.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return json.Marshal(items)
}

// ownedConsent devuelve el consent sólo si pertenece al TPP (y al cliente si
// withCustomer). Para un tercero, un consent ajeno no existe.
func ownedConsent(ctx context.Context, consents ConsentService, in Input, withCustomer bool) (*consent.Consent, error) {
	c, err := consents.Get(ctx, in.ResourceID)
	if err != nil {
		return nil, err
	}
	if c.ThirdPartyID != in.ThirdPartyID || (withCustomer && c.CustomerID != in.CustomerID) {
		return nil, httperrors.ErrResourceUnknown.WithDetail("consent unknown")
	}
	return c, nil
}

// =================================================================================
// PAYLOADS
// =================================================================================

// ConsentRequest es el body de POST /v1/consents.
type ConsentRequest struct {
	ConsentType     repository.ConsentKind `json:"consentType"`
	Access          consent.Scope          `json:"access"`
	ValidFrom       time.Time              `json:"validFrom"`
	ValidUntil      time.Time              `json:"validUntil"`
	FrequencyPerDay int                    `json:"frequencyPerDay"`
}

type ConsentStatusView struct {
	ConsentStatus repository.ConsentStatus `json:"consentStatus"`
}

// ChallengeRequest es el body de POST /v1/sca/challenges.
type ChallengeRequest struct {
	ResourceID   string                  `json:"resourceId"`
	ResourceType repository.ResourceType `json:"resourceType"`
	Method       sca.Method              `json:"method"`
}

type ValidationRequest struct {
	Code string `json:"code"`
}

var errEmptyBody = errors.New("request body is required")

func decodeBody(ex *Exchange, v any) error {
	if len(ex.Req.Body) == 0 {
		return errEmptyBody
	}
	if err := json.Unmarshal(ex.Req.Body, v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func decodePayment(ex *Exchange) error {
	var p downstream.PaymentRequest
	if err := decodeBody(ex, &p); err != nil {
		return err
	}
	switch {
	case strings.TrimSpace(p.DebtorAccount) == "":
		return errors.New("debtorAccount is required")
	case strings.TrimSpace(p.CreditorAccount) == "":
		return errors.New("creditorAccount is required")
	case !positiveAmount(p.Amount):
		return errors.New("amount must be a positive decimal")
	case !currencyRe.MatchString(p.Currency):
		return errors.New("currency must be an ISO 4217 code")
	}
	ex.Payload = &p
	return nil
}

func decodeFunds(ex *Exchange) error {
	var f downstream.FundsRequest
	if err := decodeBody(ex, &f); err != nil {
		return err
	}
	switch {
	case strings.TrimSpace(f.Account) == "":
		return errors.New("account is required")
	case !positiveAmount(f.Amount):
		return errors.New("amount must be a positive decimal")
	case !currencyRe.MatchString(f.Currency):
		return errors.New("currency must be an ISO 4217 code")
	}
	ex.Payload = &f
	return nil
}

func decodeConsent(ex *Exchange) error {
	var c ConsentRequest
	if err := decodeBody(ex, &c); err != nil {
		return err
	}
	switch {
	case !c.ConsentType.Valid():
		return errors.New("consentType is invalid")
	case c.ValidUntil.IsZero():
		return errors.New("validUntil is required")
	case c.Access.Empty():
		return errors.New("access must list resources or grant all")
	}
	ex.Payload = &c
	return nil
}

func decodeChallenge(ex *Exchange) error {
	var c ChallengeRequest
	if err := decodeBody(ex, &c); err != nil {
		return err
	}
	switch {
	case strings.TrimSpace(c.ResourceID) == "":
		return errors.New("resourceId is required")
	case c.ResourceType != repository.ResourcePayment && c.ResourceType != repository.ResourceConsent:
		return errors.New("resourceType must be PAYMENT or CONSENT")
	}
	ex.Payload = &c
	return nil
}

func decodeValidation(ex *Exchange) error {
	var v ValidationRequest
	if err := decodeBody(ex, &v); err != nil {
		return err
	}
	if strings.TrimSpace(v.Code) == "" {
		return errors.New("code is required")
	}
	ex.Payload = &v
	return nil
}

func positiveAmount(s string) bool {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	return ok && r.Sign() > 0
}
