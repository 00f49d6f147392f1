package internal

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllow(t *testing.T) {
	t.Run("allows up to limit", func(t *testing.T) {
		rl := NewRateLimiter(3, time.Minute)

		for i := 0; i < 3; i++ {
			assert.True(t, rl.allow("1.2.3.4"), "request %d should be allowed", i+1)
		}
		assert.False(t, rl.allow("1.2.3.4"))
	})

	t.Run("limits are per ip", func(t *testing.T) {
		rl := NewRateLimiter(1, time.Minute)

		assert.True(t, rl.allow("1.2.3.4"))
		assert.False(t, rl.allow("1.2.3.4"))
		assert.True(t, rl.allow("5.6.7.8"))
	})

	t.Run("window reset restores allowance", func(t *testing.T) {
		rl := NewRateLimiter(1, 20*time.Millisecond)

		require.True(t, rl.allow("1.2.3.4"))
		require.False(t, rl.allow("1.2.3.4"))

		time.Sleep(40 * time.Millisecond)
		assert.True(t, rl.allow("1.2.3.4"))
	})

	t.Run("cleanup drops expired buckets", func(t *testing.T) {
		rl := NewRateLimiter(10, 10*time.Millisecond)
		rl.allow("1.2.3.4")
		rl.allow("5.6.7.8")

		time.Sleep(30 * time.Millisecond)
		rl.Cleanup()

		rl.mu.Lock()
		size := len(rl.requests)
		rl.mu.Unlock()
		assert.Equal(t, 0, size)
	})
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.RemoteAddr = "1.2.3.4:5000"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestGetClientIP(t *testing.T) {
	t.Run("prefers x-forwarded-for", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

		assert.Equal(t, "203.0.113.7", GetClientIP(req))
	})

	t.Run("falls back to remote addr", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"

		assert.Equal(t, "10.0.0.1:1234", GetClientIP(req))
	})
}
