// Package errors define la taxonomía de errores expuesta a los TPP y cómo se
// serializa.
package errors

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dropDatabas3/consentgate/internal/observability/logger"
)

// APIVersion viaja en cada cuerpo de error.
const APIVersion = "v1"

type link struct {
	Href string `json:"href"`
}

type tppMessage struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Text     string `json:"text,omitempty"`
}

type errorResponse struct {
	APIVersion  string          `json:"apiVersion"`
	Status      int             `json:"status"`
	Code        string          `json:"code"`
	Message     string          `json:"message"`
	Detail      string          `json:"detail,omitempty"`
	Timestamp   string          `json:"timestamp"`
	Path        string          `json:"path"`
	RequestID   string          `json:"requestId,omitempty"`
	TPPMessages []tppMessage    `json:"tppMessages,omitempty"`
	Links       map[string]link `json:"_links"`
	Errors      []FieldError    `json:"errors,omitempty"`
}

// WriteError serializa err. El request id sale del header de respuesta (lo
// setea el middleware de request id) o, en su defecto, del request.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := FromError(err)

	rid := w.Header().Get("X-Request-ID")
	if rid == "" {
		rid = r.Header.Get("X-Request-ID")
	}

	if appErr.HTTPStatus >= http.StatusInternalServerError {
		logger.From(r.Context()).Error("request failed",
			logger.String("code", appErr.Code),
			logger.Err(appErr.Err),
		)
	}

	resp := errorResponse{
		APIVersion: APIVersion,
		Status:     appErr.HTTPStatus,
		Code:       appErr.Code,
		Message:    appErr.Message,
		Detail:     appErr.Detail,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Path:       r.URL.Path,
		RequestID:  rid,
		Links:      map[string]link{"self": {Href: r.URL.RequestURI()}},
		Errors:     appErr.Fields,
	}
	for rel, href := range appErr.Links {
		resp.Links[rel] = link{Href: href}
	}
	if appErr.Detail != "" && appErr.HTTPStatus < http.StatusInternalServerError {
		resp.TPPMessages = []tppMessage{{Category: "ERROR", Code: appErr.Code, Text: appErr.Detail}}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(resp)
}
