package middlewares

import (
	"crypto/subtle"
	"net/http"
	"strings"

	httperrors "github.com/dropDatabas3/consentgate/internal/http/errors"
	"github.com/dropDatabas3/consentgate/internal/observability/logger"
)

// HeaderAdminKey autentica al operador en la API de administración.
const HeaderAdminKey = "X-Admin-API-Key"

// RequireAdminKey exige X-Admin-API-Key igual a key (comparación en tiempo
// constante). Con key vacía la API de administración queda cerrada.
func RequireAdminKey(key string) Middleware {
	expected := []byte(strings.TrimSpace(key))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				httperrors.WriteError(w, r, httperrors.ErrResourceBlocked.WithDetail("admin api disabled"))
				return
			}
			got := []byte(strings.TrimSpace(r.Header.Get(HeaderAdminKey)))
			if subtle.ConstantTimeCompare(got, expected) != 1 {
				logger.From(r.Context()).Warn("admin key rejected", logger.ClientIP(clientIP(r)))
				httperrors.WriteError(w, r, httperrors.ErrUnauthorized.WithDetail("invalid admin key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
