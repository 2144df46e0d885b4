package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cleanpipe/core/internal/logger"
)

// ClientRateLimiter maintains one token bucket per client, identified by
// API key or remote address, so one noisy caller can't starve the rest of
// the admin surface.
type ClientRateLimiter struct {
	limiters map[string]*clientEntry
	rps      rate.Limit
	burst    int
	mu       sync.Mutex
	idleTTL  time.Duration
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientRateLimiter creates a per-client rate limiter allowing rps
// requests per second with the given burst.
func NewClientRateLimiter(rps float64, burst int) *ClientRateLimiter {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = int(rps) * 2
	}
	crl := &ClientRateLimiter{
		limiters: make(map[string]*clientEntry),
		rps:      rate.Limit(rps),
		burst:    burst,
		idleTTL:  10 * time.Minute,
	}
	go crl.evictIdle()
	return crl
}

// evictIdle periodically drops limiters for clients that haven't made a
// request in idleTTL, so the map doesn't grow without bound.
func (crl *ClientRateLimiter) evictIdle() {
	ticker := time.NewTicker(crl.idleTTL)
	defer ticker.Stop()
	for range ticker.C {
		crl.mu.Lock()
		for id, entry := range crl.limiters {
			if time.Since(entry.lastSeen) > crl.idleTTL {
				delete(crl.limiters, id)
			}
		}
		crl.mu.Unlock()
	}
}

// Allow reports whether the client identified by clientID may proceed,
// creating its bucket on first use.
func (crl *ClientRateLimiter) Allow(clientID string) bool {
	crl.mu.Lock()
	entry, ok := crl.limiters[clientID]
	if !ok {
		entry = &clientEntry{limiter: rate.NewLimiter(crl.rps, crl.burst)}
		crl.limiters[clientID] = entry
	}
	entry.lastSeen = time.Now()
	crl.mu.Unlock()

	return entry.limiter.Allow()
}

// RateLimit returns a middleware enforcing a per-client request rate,
// keyed on X-API-Key when present, else on X-Forwarded-For, else on the
// remote address.
func RateLimit(rps float64, burst int) func(next http.Handler) http.Handler {
	limiter := NewClientRateLimiter(rps, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := r.Header.Get("X-API-Key")
			if clientID == "" {
				clientID = r.Header.Get("X-Forwarded-For")
			}
			if clientID == "" {
				clientID = r.RemoteAddr
			}

			if !limiter.Allow(clientID) {
				logger.Warn().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("client", clientID).
					Msg("rate limit exceeded")

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"Too Many Requests","message":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
