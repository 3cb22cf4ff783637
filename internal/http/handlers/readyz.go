package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/consentgate/internal/observability/logger"
)

// Check es una dependencia que debe responder para que el gateway esté listo.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// ReadyzHandler responde 200 si todas las dependencias responden y 503 si no.
type ReadyzHandler struct {
	checks  []Check
	timeout time.Duration
	version string
}

func NewReadyzHandler(version string, checks ...Check) *ReadyzHandler {
	return &ReadyzHandler{checks: checks, timeout: 2 * time.Second, version: version}
}

func (h *ReadyzHandler) Register(r chi.Router) {
	r.Get("/readyz", h.serve)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

type readyzResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks"`
}

func (h *ReadyzHandler) serve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := readyzResponse{Status: "ok", Version: h.version, Checks: map[string]string{}}
	status := http.StatusOK
	for _, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			logger.From(r.Context()).Error("readiness check failed", logger.Component(c.Name), logger.Err(err))
			resp.Checks[c.Name] = "unavailable"
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, resp)
}
