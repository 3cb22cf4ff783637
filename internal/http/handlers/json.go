package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	httperrors "github.com/dropDatabas3/consentgate/internal/http/errors"
)

const (
	maxJSONBody  = 64 << 10 // admin
	maxTPPBody   = 1 << 20
	jsonMimeType = "application/json"
)

// readStrictJSON decodifica el body de la API de administración. Devuelve
// false si ya escribió el error.
func readStrictJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Type")))
	if !strings.Contains(ct, jsonMimeType) {
		httperrors.WriteError(w, r, httperrors.ErrFormat.WithDetail("Content-Type must be application/json"))
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "malformed JSON body"
		if errors.Is(err, io.EOF) {
			msg = "empty body"
		}
		httperrors.WriteError(w, r, httperrors.ErrFormat.WithDetail(msg))
		return false
	}
	if dec.More() {
		httperrors.WriteError(w, r, httperrors.ErrFormat.WithDetail("trailing data after JSON body"))
		return false
	}
	return true
}

// readBody lee el body crudo de una llamada TPP (el mediador lo parsea).
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTPPBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, httperrors.ErrFormat.WithDetail("payload too large")
		}
		return nil, httperrors.ErrFormat.WithDetail("unreadable body")
	}
	return b, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
