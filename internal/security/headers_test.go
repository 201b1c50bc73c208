package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func serve(h Headers, req *http.Request) http.Header {
	handler := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr.Result().Header
}

func TestHeadersOverTLS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://promo.example.com/api/v1/promotions/active", nil)
	req.TLS = &tls.ConnectionState{}

	headers := serve(Headers{HSTSMaxAge: 600, HSTSIncludeSubdomains: true}, req)
	require.Equal(t, "nosniff", headers.Get("X-Content-Type-Options"))
	require.Equal(t, "no-store", headers.Get("Cache-Control"))
	require.Equal(t, "max-age=600; includeSubDomains", headers.Get("Strict-Transport-Security"))
}

func TestHeadersPlainHTTPSkipsHSTS(t *testing.T) {
	headers := serve(Headers{}, httptest.NewRequest(http.MethodGet, "http://localhost/health/live", nil))
	require.Equal(t, "DENY", headers.Get("X-Frame-Options"))
	require.Empty(t, headers.Get("Strict-Transport-Security"))
}
