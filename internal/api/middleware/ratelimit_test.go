package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewClientRateLimiter(t *testing.T) {
	t.Run("creates limiter with specified rate and burst", func(t *testing.T) {
		crl := NewClientRateLimiter(100, 50)
		assert.NotNil(t, crl)
		assert.NotNil(t, crl.limiters)
	})

	t.Run("defaults when zero rps provided", func(t *testing.T) {
		crl := NewClientRateLimiter(0, 0)
		assert.True(t, crl.Allow("client"))
	})
}

func TestClientRateLimiter_Allow(t *testing.T) {
	t.Run("allows requests within burst", func(t *testing.T) {
		crl := NewClientRateLimiter(10, 5)
		for i := 0; i < 5; i++ {
			assert.True(t, crl.Allow("client-1"), "request %d should be allowed", i)
		}
	})

	t.Run("denies requests over burst", func(t *testing.T) {
		crl := NewClientRateLimiter(1, 2)
		crl.Allow("client-1")
		crl.Allow("client-1")
		assert.False(t, crl.Allow("client-1"))
	})

	t.Run("tracks separate buckets per client", func(t *testing.T) {
		crl := NewClientRateLimiter(1, 1)
		assert.True(t, crl.Allow("client-1"))
		assert.True(t, crl.Allow("client-2"))
		assert.False(t, crl.Allow("client-1"))
	})

	t.Run("refills over time", func(t *testing.T) {
		crl := NewClientRateLimiter(20, 1)
		assert.True(t, crl.Allow("client-1"))
		assert.False(t, crl.Allow("client-1"))

		time.Sleep(100 * time.Millisecond)
		assert.True(t, crl.Allow("client-1"))
	})
}

func TestRateLimit_Middleware(t *testing.T) {
	t.Run("allows requests within limit", func(t *testing.T) {
		handler := RateLimit(100, 50)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("returns 429 when limit exceeded", func(t *testing.T) {
		handler := RateLimit(1, 2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		for i := 0; i < 3; i++ {
			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = "192.168.1.1:12345"
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if i < 2 {
				assert.Equal(t, http.StatusOK, w.Code)
			} else {
				assert.Equal(t, http.StatusTooManyRequests, w.Code)
				assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
				assert.Equal(t, "1", w.Header().Get("Retry-After"))
			}
		}
	})

	t.Run("uses X-API-Key over remote address for client identity", func(t *testing.T) {
		handler := RateLimit(1, 1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		for _, key := range []string{"key-a", "key-b"} {
			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("X-API-Key", key)
			req.RemoteAddr = "192.168.1.1:12345"
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
		}
	})
}
