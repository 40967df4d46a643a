package orchestration

import (
	"context"
	"time"

	"github.com/aios-systems/aios/resilience"
)

// RetryPolicy is a per-node retry configuration: up to MaxAttempts
// retries, sleeping BaseDelay*2^attempt between them, per §4.3.3's
// "base_delay · 2^attempt" backoff rule.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy returns the zero-retry policy a node uses when it
// does not declare one of its own.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 0, BaseDelay: time.Second}
}

// toResiliencePolicy adapts a node's RetryPolicy into the shared
// resilience.RetryPolicy, fixing the multiplier at 2 to match the
// engine's base·2^attempt rule exactly.
func (p RetryPolicy) toResiliencePolicy() resilience.RetryPolicy {
	maxDelay := p.BaseDelay
	if p.MaxAttempts > 0 {
		maxDelay = p.BaseDelay << uint(p.MaxAttempts)
	}
	return resilience.RetryPolicy{
		MaxRetries: p.MaxAttempts,
		BaseDelay:  p.BaseDelay,
		MaxDelay:   maxDelay,
		Multiplier: 2.0,
	}
}

// run executes fn under p's retry policy via resilience.Retry, which is
// itself built on cenkalti/backoff/v4 — the node-level retry loop named
// in §4.3.3 reuses the pipeline-wide retry primitive rather than
// reimplementing the backoff math.
func (p RetryPolicy) run(ctx context.Context, fn func() error) error {
	return resilience.Retry(ctx, p.toResiliencePolicy(), fn)
}
