package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aios-systems/aios/core"
)

func TestRetrySucceedsEventually(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2}
	attempts := 0
	err := Retry(context.Background(), policy, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	attempts := 0
	err := Retry(context.Background(), policy, func() error {
		attempts++
		return errors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts) // initial attempt + 2 retries
	var ce *core.CoreError
	require.ErrorAs(t, err, &ce)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 10, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, policy, func() error { return errors.New("x") })
	require.Error(t, err)
}

func TestRetrySleepsExactExponentialDelaysWithoutJitter(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: 20 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	var timestamps []time.Time
	err := Retry(context.Background(), policy, func() error {
		timestamps = append(timestamps, time.Now())
		return errors.New("permanent")
	})
	require.Error(t, err)
	require.Len(t, timestamps, 4)

	want := []time.Duration{20 * time.Millisecond, 40 * time.Millisecond, 80 * time.Millisecond}
	for i, w := range want {
		got := timestamps[i+1].Sub(timestamps[i])
		assert.InDeltaf(t, float64(w), float64(got), float64(10*time.Millisecond),
			"delay between attempt %d and %d = %v, want ~%v", i, i+1, got, w)
	}
}

func TestRetryWithCircuitBreakerShortCircuits(t *testing.T) {
	cfg := DefaultCircuitConfig("retry-test")
	cfg.VolumeThreshold = 1
	cfg.ErrorThreshold = 0.1
	cfg.SleepWindow = time.Hour
	cb := NewCircuitBreaker(cfg)

	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	calls := 0
	_ = RetryWithCircuitBreaker(context.Background(), policy, cb, func() error {
		calls++
		return errors.New("boom")
	})
	require.Equal(t, StateOpen, cb.State())

	callsAfterOpen := calls
	_ = RetryWithCircuitBreaker(context.Background(), policy, cb, func() error {
		calls++
		return nil
	})
	assert.Equal(t, callsAfterOpen, calls, "breaker open should prevent fn from running")
}
