package agents

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/aios-systems/aios/core"
	"github.com/aios-systems/aios/envelope"
)

// Pool is L4's entry point: it resolves the target expert, wraps the call
// in a per-request timeout, updates rolling stats, and prepends the
// expert's label to the response's layer trace.
type Pool struct {
	registry  *Registry
	logger    core.Logger
	telemetry core.Telemetry
}

// NewPool builds a dispatch pool over registry.
func NewPool(registry *Registry, logger core.Logger, telemetry core.Telemetry) *Pool {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &Pool{registry: registry, logger: logger, telemetry: telemetry}
}

// Process runs the agent tier's four-step dispatch contract for req.
func (p *Pool) Process(ctx context.Context, req *envelope.Request) (*envelope.Response, error) {
	ctx, span := p.telemetry.StartSpan(ctx, "agents.process")
	defer span.End()

	name, expert, err := p.registry.Resolve(ctx, req.Hints.TargetAgent)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttribute("expert", name)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, callErr := p.invoke(callCtx, expert, req)
	latency := time.Since(start)

	success := callErr == nil
	p.registry.RecordOutcome(name, success, latency)
	p.telemetry.RecordMetric("agents.call.latency_ms", float64(latency.Milliseconds()), map[string]string{"expert": name})

	if callErr != nil {
		if callCtx.Err() != nil {
			timeoutErr := core.NewCoreError(core.LayerAgents, core.KindAgent, "agent_timeout",
				fmt.Sprintf("expert %s did not respond within %s", name, timeout), true, core.ErrAgentTimeout).
				WithDetail("expert", name).WithDetail("timeout", timeout.String())
			span.RecordError(timeoutErr)
			return nil, timeoutErr
		}
		span.RecordError(callErr)
		return nil, core.NewCoreError(core.LayerAgents, core.KindAgent, "agent_call_failed",
			fmt.Sprintf("expert %s call failed", name), true, callErr).WithDetail("expert", name)
	}

	return resp.WithLayer(name), nil
}

// invoke calls the expert's Execute, recovering a panic into an error so
// one misbehaving adapter never takes the pool down with it.
func (p *Pool) invoke(ctx context.Context, expert Expert, req *envelope.Request) (resp *envelope.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("expert panicked", map[string]interface{}{
				"panic": fmt.Sprintf("%v", r),
				"stack": string(debug.Stack()),
			})
			err = fmt.Errorf("expert panic: %v", r)
		}
	}()
	return expert.Execute(ctx, req)
}
