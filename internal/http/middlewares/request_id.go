package middlewares

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
)

// HeaderRequestID es el header de correlación que envía el TPP.
const HeaderRequestID = "X-Request-ID"

// WithRequestID propaga el X-Request-ID del TPP o genera uno nuevo.
// El ID se expone en el header de respuesta y se inyecta en el contexto.
// El header del request no se toca: la validación de presencia la hace el
// mediador, que rechaza llamadas TPP sin request id propio.
func WithRequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := strings.TrimSpace(r.Header.Get(HeaderRequestID))
			if rid == "" || len(rid) > 128 {
				var b [16]byte
				_, _ = rand.Read(b[:])
				rid = hex.EncodeToString(b[:])
			}

			w.Header().Set(HeaderRequestID, rid)
			next.ServeHTTP(w, r.WithContext(setRequestID(r.Context(), rid)))
		})
	}
}
