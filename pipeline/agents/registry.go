// Package agents implements L4: the expert pool the pipeline dispatches a
// single invocation to per request, plus the text-generation, knowledge,
// and analytics expert archetypes named in the agent tier's contract.
package agents

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aios-systems/aios/core"
	"github.com/aios-systems/aios/envelope"
)

// Expert is the capability every agent-tier adapter satisfies. It embeds
// core.Component for the initialize/shutdown/health lifecycle and adds the
// single-invocation execute contract plus the self-reported capabilities
// and strengths the registry surfaces to the router.
type Expert interface {
	core.Component
	Execute(ctx context.Context, req *envelope.Request) (*envelope.Response, error)
	Capabilities() []string
	Strengths() []string
}

// Stats is the rolling per-expert statistics the dispatch loop updates
// after every call: attempt count, success count, and a running average
// latency, from which the success rate is derived on read.
type Stats struct {
	Attempts       int64
	Successes      int64
	AvgLatencyMS   float64
}

// SuccessRate returns successes/attempts, or 0 when the expert has never
// been called.
func (s Stats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// Registry holds every configured expert, tracks which ones failed
// initialization, and accumulates the rolling stats the dispatch loop
// reads and writes: a name-keyed map behind a RWMutex.
type Registry struct {
	mu            sync.RWMutex
	experts       map[string]Expert
	unavailable   map[string]bool
	stats         map[string]*Stats
	priorities    map[string]int
	defaultExpert string
	logger        core.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger core.Logger) *Registry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Registry{
		experts:     make(map[string]Expert),
		unavailable: make(map[string]bool),
		stats:       make(map[string]*Stats),
		priorities:  make(map[string]int),
		logger:      logger,
	}
}

// Register adds an expert under name with its static priority, the
// router's tie-break when two experts score equally and neither appears
// in a request's suggested_agents. It does not initialize the expert;
// call Initialize once every expert has been registered.
func (r *Registry) Register(name string, expert Expert, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.experts[name] = expert
	r.stats[name] = &Stats{}
	r.priorities[name] = priority
}

// SetDefault names the expert dispatch falls back to when a request's
// target_agent is absent or unavailable.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultExpert = name
}

// Initialize calls Initialize on every registered expert. An expert that
// fails initialization is marked unavailable rather than aborting startup,
// per the agent tier's registry contract.
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.Lock()
	names := make([]string, 0, len(r.experts))
	for name := range r.experts {
		names = append(names, name)
	}
	sort.Strings(names)
	r.mu.Unlock()

	for _, name := range names {
		r.mu.RLock()
		expert := r.experts[name]
		r.mu.RUnlock()

		if err := expert.Initialize(ctx); err != nil {
			r.logger.Warn("expert initialization failed, marking unavailable", map[string]interface{}{
				"expert": name,
				"error":  err.Error(),
			})
			r.mu.Lock()
			r.unavailable[name] = true
			r.mu.Unlock()
			continue
		}
		r.logger.Info("expert initialized", map[string]interface{}{"expert": name})
	}
	return nil
}

// Shutdown shuts down every registered expert, collecting the first error
// but attempting every expert regardless.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	experts := make(map[string]Expert, len(r.experts))
	for k, v := range r.experts {
		experts[k] = v
	}
	r.mu.RUnlock()

	var firstErr error
	for name, expert := range experts {
		if err := expert.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shutting down expert %s: %w", name, err)
		}
	}
	return firstErr
}

// Resolve returns the expert that should handle a request naming target,
// falling back to the configured default when target is empty or the
// named expert is absent, unavailable, or failing its health check. It
// reports core.ErrAgentUnavailable when neither target nor the default can
// serve.
func (r *Registry) Resolve(ctx context.Context, target string) (string, Expert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if target != "" {
		if expert, ok := r.experts[target]; ok && !r.unavailable[target] && expert.HealthCheck(ctx) == nil {
			return target, expert, nil
		}
	}
	if r.defaultExpert != "" {
		if expert, ok := r.experts[r.defaultExpert]; ok && !r.unavailable[r.defaultExpert] && expert.HealthCheck(ctx) == nil {
			return r.defaultExpert, expert, nil
		}
	}
	return "", nil, core.NewCoreError(core.LayerAgents, core.KindAgent, "agent_unavailable",
		fmt.Sprintf("no expert available for target %q", target), false, core.ErrAgentUnavailable)
}

// RecordOutcome folds one call's outcome into the expert's rolling stats.
func (r *Registry) RecordOutcome(name string, success bool, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[name]
	if !ok {
		s = &Stats{}
		r.stats[name] = s
	}
	s.Attempts++
	if success {
		s.Successes++
	}
	latencyMS := float64(latency.Milliseconds())
	if s.Attempts == 1 {
		s.AvgLatencyMS = latencyMS
	} else {
		s.AvgLatencyMS += (latencyMS - s.AvgLatencyMS) / float64(s.Attempts)
	}
}

// StatsFor returns a copy of the named expert's current stats.
func (r *Registry) StatsFor(name string) Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.stats[name]; ok {
		return *s
	}
	return Stats{}
}

// List returns the names of every registered expert, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.experts))
	for name := range r.experts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Candidate is one router-eligible expert: its name, self-reported
// capabilities and strengths, its rolling success rate, and its static
// priority (the router's last-resort tie-break).
type Candidate struct {
	Name         string
	Capabilities []string
	Strengths    []string
	SuccessRate  float64
	Priority     int
}

// Candidates returns every registered, available expert as router input,
// sorted by name for deterministic scoring order.
func (r *Registry) Candidates() []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.experts))
	for name := range r.experts {
		if r.unavailable[name] {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Candidate, 0, len(names))
	for _, name := range names {
		expert := r.experts[name]
		successRate := 0.0
		if s, ok := r.stats[name]; ok {
			successRate = s.SuccessRate()
		}
		out = append(out, Candidate{
			Name:         name,
			Capabilities: expert.Capabilities(),
			Strengths:    expert.Strengths(),
			SuccessRate:  successRate,
			Priority:     r.priorities[name],
		})
	}
	return out
}
