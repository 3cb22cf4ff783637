package middlewares

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/consentgate/internal/metrics"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestChain_Order(t *testing.T) {
	var seen []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = append(seen, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(okHandler(), mark("a"), mark("b"), mark("c"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestWithRequestID(t *testing.T) {
	var inCtx string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inCtx = GetRequestID(r.Context())
	}), WithRequestID())

	t.Run("propagates", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, "tpp-req-1")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, "tpp-req-1", rr.Header().Get(HeaderRequestID))
		assert.Equal(t, "tpp-req-1", inCtx)
	})

	t.Run("generates", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Len(t, rr.Header().Get(HeaderRequestID), 32)
		assert.Equal(t, rr.Header().Get(HeaderRequestID), inCtx)
		assert.Empty(t, req.Header.Get(HeaderRequestID))
	})
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:4711"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	assert.Equal(t, "10.0.0.9", ClientIP(req, false))
	assert.Equal(t, "203.0.113.7", ClientIP(req, true))

	var got string
	Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetClientIP(r.Context())
	}), WithClientIP(true)).ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "203.0.113.7", got)
}

func TestWithRecover_WritesInternalError(t *testing.T) {
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), WithRequestID(), WithRecover())

	req := httptest.NewRequest(http.MethodGet, "/v1/accounts", nil)
	req.Header.Set(HeaderRequestID, "rid-1")
	rr := httptest.NewRecorder()
	require.NotPanics(t, func() { h.ServeHTTP(rr, req) })

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_SERVER_ERROR", body["code"])
	assert.Equal(t, "rid-1", body["requestId"])
	assert.NotContains(t, rr.Body.String(), "boom")
}

func TestSecurityHeadersAndNoStore(t *testing.T) {
	h := Chain(okHandler(), WithSecurityHeaders(), WithNoStore())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	assert.Empty(t, rr.Header().Get("Strict-Transport-Security"))

	req.Header.Set("X-Forwarded-Proto", "https")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.NotEmpty(t, rr.Header().Get("Strict-Transport-Security"))
}

func TestRequireAdminKey(t *testing.T) {
	h := Chain(okHandler(), RequireAdminKey("s3cret-admin"))

	cases := []struct {
		name string
		key  string
		want int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "s3cret-admiN", http.StatusUnauthorized},
		{"ok", "s3cret-admin", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/admin/providers", nil)
			if tc.key != "" {
				req.Header.Set(HeaderAdminKey, tc.key)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tc.want, rr.Code)
		})
	}

	closed := Chain(okHandler(), RequireAdminKey(""))
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/providers", nil)
	req.Header.Set(HeaderAdminKey, "")
	rr := httptest.NewRecorder()
	closed.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestWithMetrics_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Use(WithMetrics())...)
	r.Get("/v1/accounts/{accountId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	counter := metrics.HTTPRequestsTotal.WithLabelValues("GET", "/v1/accounts/{accountId}", "418")
	before := testutil.ToFloat64(counter)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/accounts/acc-1", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/accounts/acc-2", nil))

	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/", normalizePath(""))
	assert.Equal(t, "/v1/consents/:param/status", normalizePath("/v1/consents/3f0e7a52-1c1e-4c1f-9b7a-2a7d1f3e9c10/status"))
	assert.Equal(t, "/v1/payments/:param", normalizePath("/v1/payments/12345"))
	assert.Equal(t, "/v1/accounts", normalizePath("/v1/accounts?x=1"))
}
