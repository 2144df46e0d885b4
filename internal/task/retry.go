package task

import (
	"math"
	"time"
)

const maxRetryDelay = 5 * time.Minute

// RetryPolicy implements the exponential backoff formula shared by the
// TaskConsumer's retry path and the queue connection's reconnection policy
// (§4.4, §9): delay = min(baseRetryDelay * 2^retryCount, 5 minutes).
type RetryPolicy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// DefaultRetryPolicy returns the spec's default values (§6).
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		BaseDelay:  1 * time.Second,
		MaxDelay:   maxRetryDelay,
		MaxRetries: 3,
	}
}

// Delay computes the backoff for the given retry count (0-indexed).
func (p *RetryPolicy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := float64(p.BaseDelay) * math.Pow(2, float64(retryCount))
	max := float64(p.MaxDelay)
	if max <= 0 {
		max = float64(maxRetryDelay)
	}
	if d > max {
		d = max
	}
	return time.Duration(d)
}

// ShouldRetry reports whether a task with the given retry count may be
// retried under this policy.
func (p *RetryPolicy) ShouldRetry(retryCount int) bool {
	return retryCount < p.MaxRetries
}
