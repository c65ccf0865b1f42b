package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteLimiterThrottlesMutations(t *testing.T) {
	handler := WriteLimiter()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	var last int
	for i := 0; i < writeRateLimit+1; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/purchase-orders", nil)
		req.RemoteAddr = "10.1.2.3:4000"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		last = rr.Code
	}
	require.Equal(t, http.StatusTooManyRequests, last)
}

func TestWriteLimiterIgnoresReads(t *testing.T) {
	handler := WriteLimiter()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < writeRateLimit*2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/purchase-orders", nil)
		req.RemoteAddr = "10.1.2.3:4000"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
	}
}
