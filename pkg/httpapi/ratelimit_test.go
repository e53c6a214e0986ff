package httpapi_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latchflow/core/pkg/httpapi"
)

func TestAuthRateLimiterAllowsWithinBudget(t *testing.T) {
	limiter := httpapi.NewAuthRateLimiter(2)
	mw := limiter.Middleware("auth.start", nil)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest("POST", "/auth/admin/start", nil)
	req.RemoteAddr = "10.0.0.1:1111"

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestAuthRateLimiterRejectsOverBudget(t *testing.T) {
	limiter := httpapi.NewAuthRateLimiter(1)
	mw := limiter.Middleware("auth.start", nil)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest("POST", "/auth/admin/start", nil)
	req.RemoteAddr = "10.0.0.2:1111"

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	require.Equal(t, http.StatusOK, rec1.Code)

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusTooManyRequests, rec2.Code)
}

func TestAuthRateLimiterKeysBySubject(t *testing.T) {
	limiter := httpapi.NewAuthRateLimiter(1)
	mw := limiter.Middleware("auth.start", func(r *http.Request) string { return r.URL.Query().Get("email") })
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req1 := httptest.NewRequest("POST", "/auth/admin/start?email=a@example.com", nil)
	req1.RemoteAddr = "10.0.0.3:1111"
	req2 := httptest.NewRequest("POST", "/auth/admin/start?email=b@example.com", nil)
	req2.RemoteAddr = "10.0.0.3:1111"

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusOK, rec1.Code)

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code, "distinct subject keys should have independent budgets")
}
