package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	cfg := DefaultCircuitConfig("test")
	cfg.VolumeThreshold = 4
	cfg.ErrorThreshold = 0.5
	cb := NewCircuitBreaker(cfg)

	boom := errors.New("boom")
	for i := 0; i < 4; i++ {
		_ = cb.Execute(context.Background(), func() error { return boom })
	}

	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerRejectsWhileOpen(t *testing.T) {
	cfg := DefaultCircuitConfig("test")
	cfg.VolumeThreshold = 1
	cfg.ErrorThreshold = 0.1
	cfg.SleepWindow = time.Hour
	cb := NewCircuitBreaker(cfg)

	_ = cb.Execute(context.Background(), func() error { return errors.New("x") })
	require.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func() error { called = true; return nil })
	assert.False(t, called)
	require.Error(t, err)
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	cfg := DefaultCircuitConfig("test")
	cfg.VolumeThreshold = 1
	cfg.ErrorThreshold = 0.1
	cfg.SleepWindow = 10 * time.Millisecond
	cfg.HalfOpenRequests = 1
	cfg.SuccessThreshold = 0.5
	cb := NewCircuitBreaker(cfg)

	_ = cb.Execute(context.Background(), func() error { return errors.New("x") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	err := cb.Execute(context.Background(), func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestDefaultErrorClassifierIgnoresNil(t *testing.T) {
	assert.False(t, DefaultErrorClassifier(nil))
	assert.True(t, DefaultErrorClassifier(errors.New("infra down")))
}
