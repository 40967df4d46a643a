package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aios-systems/aios/core"
)

// RetryPolicy is the exponential-backoff policy spec §4.3.3 applies to
// DAG node retries: delay = base_delay * multiplier^attempt, capped at
// max_delay, for up to max_retries retries after the first attempt. No jitter, per §8's
// retry-determinism property: a given policy and failure sequence must
// sleep the exact same delays every run.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryPolicy mirrors config.RetryPolicyConfig's defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
	}
}

// newBackOff builds a cenkalti/backoff ExponentialBackOff configured to
// reproduce base_delay * multiplier^attempt, wrapped so ctx cancellation
// aborts the whole retry loop immediately and MaxRetries bounds attempts.
func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.MaxInterval = p.MaxDelay
	eb.Multiplier = p.Multiplier
	eb.RandomizationFactor = 0 // exact delays, per §8's retry-determinism property
	eb.MaxElapsedTime = 0      // bounded by MaxRetries, not wall-clock

	withCtx := backoff.WithContext(eb, ctx)
	return backoff.WithMaxRetries(withCtx, uint64(p.MaxRetries))
}

// Retry runs fn under policy, retrying on any non-nil error until
// MaxRetries is exhausted, ctx is cancelled, or fn succeeds. It returns
// a CoreError wrapping core.ErrMaxRetriesExceeded when attempts run out.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error
	attempt := 0

	op := func() error {
		attempt++
		err := fn()
		lastErr = err
		return err
	}

	err := backoff.Retry(op, policy.newBackOff(ctx))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return core.NewCoreError(core.LayerOrchestration, core.KindOrchestration, "max_retries_exceeded",
		fmt.Sprintf("operation failed after %d attempts", attempt), false,
		fmt.Errorf("%w: %w", core.ErrMaxRetriesExceeded, lastErr)).
		WithDetail("sentinel", core.ErrMaxRetriesExceeded.Error())
}

// RetryWithCircuitBreaker wraps fn so each attempt checks cb before
// running, short-circuiting further retries once the breaker opens
// rather than burning through the retry budget against a dead dependency.
func RetryWithCircuitBreaker(ctx context.Context, policy RetryPolicy, cb *CircuitBreaker, fn func() error) error {
	return Retry(ctx, policy, func() error {
		err := cb.Execute(ctx, fn)
		if errors.Is(err, core.ErrCircuitBreakerOpen) {
			return backoff.Permanent(err)
		}
		return err
	})
}