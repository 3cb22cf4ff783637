package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/consentgate/internal/gateway"
	httperrors "github.com/dropDatabas3/consentgate/internal/http/errors"
	"github.com/dropDatabas3/consentgate/internal/http/middlewares"
)

// TPPHandler expone el catálogo de operaciones a los TPP. Toda la lógica de
// autorización vive en el mediador; aquí sólo se traduce HTTP <-> Request.
type TPPHandler struct {
	med *gateway.Mediator
	cat *gateway.Catalog
}

func NewTPPHandler(med *gateway.Mediator, cat *gateway.Catalog) *TPPHandler {
	return &TPPHandler{med: med, cat: cat}
}

func (h *TPPHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Get("/v1/accounts", h.mediate(h.cat.ListAccounts, ""))
		r.Get("/v1/accounts/{accountId}", h.mediate(h.cat.GetAccount, "accountId"))
		r.Get("/v1/accounts/{accountId}/balances", h.mediate(h.cat.GetBalances, "accountId"))
		r.Get("/v1/accounts/{accountId}/transactions", h.mediate(h.cat.GetTransactions, "accountId"))

		r.Get("/v1/cards", h.mediate(h.cat.ListCards, ""))
		r.Get("/v1/cards/{cardId}", h.mediate(h.cat.GetCard, "cardId"))
		r.Get("/v1/cards/{cardId}/balances", h.mediate(h.cat.GetCardBalances, "cardId"))
		r.Get("/v1/cards/{cardId}/transactions", h.mediate(h.cat.GetCardTransactions, "cardId"))

		r.Post("/v1/payments", h.mediate(h.cat.InitiatePayment, ""))
		r.Get("/v1/payments/{paymentId}/status", h.mediate(h.cat.GetPaymentStatus, "paymentId"))

		r.Post("/v1/funds-confirmations", h.mediate(h.cat.ConfirmFunds, ""))

		r.Post("/v1/consents", h.mediate(h.cat.CreateConsent, ""))
		r.Get("/v1/consents/{consentId}", h.mediate(h.cat.GetConsent, "consentId"))
		r.Get("/v1/consents/{consentId}/status", h.mediate(h.cat.GetConsentStatus, "consentId"))
		r.Post("/v1/consents/{consentId}/authorisations", h.mediate(h.cat.AuthoriseConsent, "consentId"))
		r.Delete("/v1/consents/{consentId}", h.mediate(h.cat.RevokeConsent, "consentId"))

		r.Post("/v1/sca/challenges", h.mediate(h.cat.StartSCA, ""))
		r.Post("/v1/sca/challenges/{challengeId}/validation", h.mediate(h.cat.ValidateSCA, "challengeId"))
	})
}

func (h *TPPHandler) mediate(op *gateway.Operation, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			httperrors.WriteError(w, r, err)
			return
		}

		req := gateway.Request{
			Method:    r.Method,
			Path:      r.URL.Path,
			Header:    r.Header,
			Query:     r.URL.Query(),
			Body:      body,
			ClientIP:  clientIP(r),
			UserAgent: r.UserAgent(),
		}
		if param != "" {
			req.ResourceID = chi.URLParam(r, param)
		}
		if r.TLS != nil {
			req.PeerCertificates = r.TLS.PeerCertificates
		}

		ex := h.med.Handle(r.Context(), op, req)
		if ex.Err != nil {
			httperrors.WriteError(w, r, ex.Err)
			return
		}
		status := op.SuccessCode()
		if ex.Result == nil || status == http.StatusNoContent {
			w.WriteHeader(status)
			return
		}
		writeJSON(w, status, ex.Result)
	}
}

func clientIP(r *http.Request) string {
	if ip := middlewares.GetClientIP(r.Context()); ip != "" {
		return ip
	}
	return middlewares.ClientIP(r, false)
}
