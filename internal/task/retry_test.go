package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	assert.Equal(t, 1*time.Second, policy.BaseDelay)
	assert.Equal(t, 5*time.Minute, policy.MaxDelay)
	assert.Equal(t, 3, policy.MaxRetries)
}

func TestRetryPolicy_Delay(t *testing.T) {
	policy := &RetryPolicy{
		BaseDelay:  1 * time.Second,
		MaxDelay:   1 * time.Minute,
		MaxRetries: 5,
	}

	tests := []struct {
		retryCount int
		expected   time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{10, 1 * time.Minute}, // capped
	}

	for _, tt := range tests {
		got := policy.Delay(tt.retryCount)
		assert.Equal(t, tt.expected, got, "retryCount %d", tt.retryCount)
	}
}

func TestRetryPolicy_Delay_DefaultCap(t *testing.T) {
	policy := DefaultRetryPolicy()

	// 2^10 seconds would blow past 5 minutes; must be capped there.
	assert.Equal(t, 5*time.Minute, policy.Delay(10))
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	policy := &RetryPolicy{MaxRetries: 3}

	tests := []struct {
		retryCount int
		expected   bool
	}{
		{0, true},
		{1, true},
		{2, true},
		{3, false},
		{5, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, policy.ShouldRetry(tt.retryCount), "retryCount %d", tt.retryCount)
	}
}
