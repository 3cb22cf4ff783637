// Package http arma el router del gateway: API TPP, API de administración,
// readiness y métricas.
package http

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"

	httperrors "github.com/dropDatabas3/consentgate/internal/http/errors"
	"github.com/dropDatabas3/consentgate/internal/http/handlers"
	mw "github.com/dropDatabas3/consentgate/internal/http/middlewares"
)

// RouterDeps agrupa los handlers ya construidos. Admin nil deshabilita la API
// de administración; Metrics nil no expone /metrics.
type RouterDeps struct {
	TPP     *handlers.TPPHandler
	SCA     *handlers.SCARequirementHandler
	Admin   *handlers.AdminHandler
	Readyz  *handlers.ReadyzHandler
	Metrics stdhttp.Handler

	AdminKey   string
	TrustProxy bool
}

func NewRouter(d RouterDeps) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(mw.Use(
		mw.WithRequestID(),
		mw.WithClientIP(d.TrustProxy),
		mw.WithLogging(),
		mw.WithMetrics(),
		mw.WithRecover(),
		mw.WithSecurityHeaders(),
	)...)

	r.NotFound(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		httperrors.WriteError(w, r, httperrors.ErrResourceUnknown.WithDetail("no route for "+r.URL.Path))
	})
	r.MethodNotAllowed(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		httperrors.WriteError(w, r, httperrors.ErrFormat.WithDetail("method "+r.Method+" not allowed"))
	})

	if d.Readyz != nil {
		d.Readyz.Register(r)
	}
	if d.Metrics != nil {
		r.Method(stdhttp.MethodGet, "/metrics", d.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(mw.Use(mw.WithNoStore())...)
		if d.TPP != nil {
			d.TPP.Register(r)
		}
		if d.SCA != nil {
			d.SCA.Register(r)
		}
		if d.Admin != nil {
			r.Route("/v1/admin", func(r chi.Router) {
				r.Use(mw.Use(mw.RequireAdminKey(d.AdminKey))...)
				d.Admin.Register(r)
			})
		}
	})
	return r
}
