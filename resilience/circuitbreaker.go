// Package resilience holds the retry and circuit-breaker primitives; the
// orchestration tier's per-node retries run through Retry. The circuit
// breaker is a closed/open/half-open state machine evaluated over a
// sliding error-rate window; retry is a thin wrapper around
// cenkalti/backoff/v4 for exponential delay without jitter.
package resilience

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aios-systems/aios/core"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MetricsCollector receives circuit breaker state transitions and call
// outcomes; nil-safe no-op default is used when a caller doesn't wire one.
type MetricsCollector interface {
	RecordSuccess(name string)
	RecordFailure(name string)
	RecordStateChange(name string, from, to CircuitState)
	RecordRejection(name string)
}

type noopMetrics struct{}

func (noopMetrics) RecordSuccess(name string)                        {}
func (noopMetrics) RecordFailure(name string)                        {}
func (noopMetrics) RecordStateChange(name string, from, to CircuitState) {}
func (noopMetrics) RecordRejection(name string)                      {}

// ErrorClassifier decides whether an error should count toward the
// circuit's failure rate. Non-recoverable/not-found errors (bad input,
// missing entity) should not trip the breaker the way infra errors do.
type ErrorClassifier func(error) bool

// DefaultErrorClassifier counts everything except validation and
// not-found errors — those are caller mistakes, not infrastructure
// trouble, and shouldn't push a healthy dependency into the open state.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	if core.IsNotFound(err) {
		return false
	}
	var ce *core.CoreError
	if ok := asCoreError(err, &ce); ok && ce.Kind == core.KindValidation {
		return false
	}
	return true
}

func asCoreError(err error, target **core.CoreError) bool {
	for err != nil {
		if ce, ok := err.(*core.CoreError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Config configures a CircuitBreaker.
type Config struct {
	Name             string
	ErrorThreshold   float64       // error rate in [0,1] that trips the breaker
	VolumeThreshold  int           // minimum calls in the window before evaluation
	SleepWindow      time.Duration // how long Open lasts before trying Half-Open
	HalfOpenRequests int           // trial calls allowed while Half-Open
	SuccessThreshold float64       // success rate in Half-Open needed to Close
	WindowSize       time.Duration
	ErrorClassifier  ErrorClassifier
	Logger           core.Logger
	Metrics          MetricsCollector
}

// DefaultCircuitConfig returns production-sane defaults.
func DefaultCircuitConfig(name string) *Config {
	return &Config{
		Name:             name,
		ErrorThreshold:   0.5,
		VolumeThreshold:  10,
		SleepWindow:      30 * time.Second,
		HalfOpenRequests: 5,
		SuccessThreshold: 0.6,
		WindowSize:       60 * time.Second,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           &core.NoOpLogger{},
		Metrics:          noopMetrics{},
	}
}

// outcome is one recorded call result. The breaker keeps them in a
// time-ordered slice and drops entries older than WindowSize each time a
// new outcome is recorded.
type outcome struct {
	at      time.Time
	success bool
}

// CircuitBreaker implements the closed/open/half-open state machine used
// to guard calls to an expert adapter, a resource backend, or the event
// bus from cascading into repeated timeouts.
type CircuitBreaker struct {
	cfg *Config

	mu             sync.Mutex
	state          CircuitState
	stateChangedAt time.Time
	outcomes       []outcome

	halfOpenInFlight  atomic.Int32
	halfOpenSuccesses atomic.Int32
	halfOpenFailures  atomic.Int32
}

// NewCircuitBreaker builds a CircuitBreaker from cfg (DefaultCircuitConfig
// when cfg is nil), filling in a nil ErrorClassifier, Logger or Metrics
// and a zero WindowSize or HalfOpenRequests with the defaults; the
// thresholds and SleepWindow are used as given.
func NewCircuitBreaker(cfg *Config) *CircuitBreaker {
	if cfg == nil {
		cfg = DefaultCircuitConfig("default")
	}
	if cfg.ErrorClassifier == nil {
		cfg.ErrorClassifier = DefaultErrorClassifier
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.WindowSize == 0 {
		cfg.WindowSize = 60 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 5
	}
	return &CircuitBreaker{
		cfg:            cfg,
		state:          StateClosed,
		stateChangedAt: time.Now(),
	}
}

// Execute runs fn if the breaker allows it, records the outcome, and
// returns core.ErrCircuitBreakerOpen without calling fn if it does not.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.allow() {
		cb.cfg.Metrics.RecordRejection(cb.cfg.Name)
		return core.NewCoreError(core.LayerAgents, core.KindAgent, "circuit_open",
			fmt.Sprintf("circuit breaker %q is open", cb.cfg.Name), true, core.ErrCircuitBreakerOpen)
	}

	err := fn()
	cb.recordOutcome(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.stateChangedAt) >= cb.cfg.SleepWindow {
			cb.transition(StateHalfOpen)
			cb.halfOpenInFlight.Store(0)
			cb.halfOpenSuccesses.Store(0)
			cb.halfOpenFailures.Store(0)
		} else {
			return false
		}
		fallthrough
	case StateHalfOpen:
		if cb.halfOpenInFlight.Load() >= int32(cb.cfg.HalfOpenRequests) {
			return false
		}
		cb.halfOpenInFlight.Add(1)
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) recordOutcome(err error) {
	success := !cb.cfg.ErrorClassifier(err)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.outcomes = append(cb.outcomes, outcome{at: now, success: success})
	cb.outcomes = pruneOutcomes(cb.outcomes, now, cb.cfg.WindowSize)

	if success {
		cb.cfg.Metrics.RecordSuccess(cb.cfg.Name)
	} else {
		cb.cfg.Metrics.RecordFailure(cb.cfg.Name)
	}

	switch cb.state {
	case StateHalfOpen:
		if success {
			cb.halfOpenSuccesses.Add(1)
		} else {
			cb.halfOpenFailures.Add(1)
		}
		total := cb.halfOpenSuccesses.Load() + cb.halfOpenFailures.Load()
		if total >= int32(cb.cfg.HalfOpenRequests) {
			rate := float64(cb.halfOpenSuccesses.Load()) / float64(total)
			if rate >= cb.cfg.SuccessThreshold {
				cb.transition(StateClosed)
				cb.outcomes = nil
			} else {
				cb.transition(StateOpen)
			}
		}
	case StateClosed:
		if len(cb.outcomes) >= cb.cfg.VolumeThreshold {
			failures := 0
			for _, o := range cb.outcomes {
				if !o.success {
					failures++
				}
			}
			if float64(failures)/float64(len(cb.outcomes)) >= cb.cfg.ErrorThreshold {
				cb.transition(StateOpen)
			}
		}
	}
}

func pruneOutcomes(outcomes []outcome, now time.Time, window time.Duration) []outcome {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(outcomes); i++ {
		if outcomes[i].at.After(cutoff) {
			break
		}
	}
	return outcomes[i:]
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.stateChangedAt = time.Now()
	cb.cfg.Logger.Info("circuit breaker state change", map[string]interface{}{
		"name": cb.cfg.Name, "from": from.String(), "to": to.String(),
	})
	cb.cfg.Metrics.RecordStateChange(cb.cfg.Name, from, to)
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to Closed and clears its window.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
	cb.outcomes = nil
}
