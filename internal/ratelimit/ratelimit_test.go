package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledLimiterAlwaysAllows(t *testing.T) {
	l := New(Config{Enabled: false})
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("1.2.3.4"))
	}
}

func TestLimiterEnforcesBurst(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerSecond: 1, Burst: 2})

	assert.True(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"))
}

func TestLimiterTracksClientsIndependently(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerSecond: 1, Burst: 1})

	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("5.6.7.8"))
}

func TestMiddlewareRejectsOverLimitRequests(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerSecond: 1, Burst: 1})
	handler := Middleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/ocsp", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestClientIPPrefersForwardedHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ocsp", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")

	assert.Equal(t, "203.0.113.5", clientIP(req))
}
