package handlers

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	httperrors "github.com/dropDatabas3/consentgate/internal/http/errors"
)

// RequirementChecker decide si un monto necesita SCA.
type RequirementChecker interface {
	IsRequired(amount, currency string) bool
}

var currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)

// SCARequirementHandler responde si un pago de cierto monto exige SCA, para
// que el TPP sepa de antemano si tiene que iniciar un challenge.
type SCARequirementHandler struct {
	policy RequirementChecker
}

func NewSCARequirementHandler(p RequirementChecker) *SCARequirementHandler {
	return &SCARequirementHandler{policy: p}
}

func (h *SCARequirementHandler) Register(r chi.Router) {
	r.Get("/v1/sca/requirement", h.check)
}

type requirementResponse struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	SCARequired bool   `json:"scaRequired"`
}

func (h *SCARequirementHandler) check(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount := strings.TrimSpace(q.Get("amount"))
	currency := strings.ToUpper(strings.TrimSpace(q.Get("currency")))

	appErr := httperrors.ErrFormat.WithDetail("amount and currency are required")
	invalid := false
	if amount == "" {
		appErr, invalid = appErr.WithField("amount", "required"), true
	}
	if !currencyRe.MatchString(currency) {
		appErr, invalid = appErr.WithField("currency", "must be an ISO 4217 code"), true
	}
	if invalid {
		httperrors.WriteError(w, r, appErr)
		return
	}

	writeJSON(w, http.StatusOK, requirementResponse{
		Amount:      amount,
		Currency:    currency,
		SCARequired: h.policy.IsRequired(amount, currency),
	})
}
