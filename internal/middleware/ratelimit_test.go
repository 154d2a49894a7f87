package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	now := time.Unix(0, 0)
	rl := NewRateLimiter(2, 1)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "buckets are per key")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
}

func TestRateLimiter_SweepsIdleBuckets(t *testing.T) {
	now := time.Unix(0, 0)
	rl := NewRateLimiter(1, 1)
	rl.lastSweep = now
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	rl.Allow("b")
	assert.Equal(t, 2, rl.Len())

	now = now.Add(bucketIdleTTL + time.Minute)
	rl.Allow("c")
	assert.Equal(t, 1, rl.Len())
}

func TestRateLimitMiddleware(t *testing.T) {
	h := RateLimitMiddleware(1, 0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(path, addr string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, do("/analyze", "10.0.0.1:1000"))
	assert.Equal(t, http.StatusTooManyRequests, do("/analyze", "10.0.0.1:2000"), "port is not part of the key")
	assert.Equal(t, http.StatusNoContent, do("/analyze", "10.0.0.2:1000"))
	assert.Equal(t, http.StatusNoContent, do("/health", "10.0.0.1:1000"))
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/analyses/latest", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, ":192.0.2.1", clientKey(req))

	req = req.WithContext(context.WithValue(req.Context(), ClientKey, "ui"))
	assert.Equal(t, "ui:192.0.2.1", clientKey(req))
}
