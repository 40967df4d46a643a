package orchestration

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime/debug"
	"sync"
	"time"

	"github.com/aios-systems/aios/core"
	"github.com/aios-systems/aios/envelope"
)

// AgentCaller is the narrow contract the engine needs from L4: run one
// request through the expert pool and get a response back. Satisfied
// structurally by *pipeline/agents.Pool, so this package never imports
// the agent tier directly.
type AgentCaller interface {
	Process(ctx context.Context, req *envelope.Request) (*envelope.Response, error)
}

// Engine runs one DAG to completion in waves: a scheduling loop computes
// the ready nodes, starts one goroutine per node bounded by a semaphore,
// and folds the wave's outcomes back into the DAG before the next wave, calling
// directly into L4 instead of over a transport, honoring branch
// conditions and per-node retry policies, and checkpointing through
// CheckpointStore.
type Engine struct {
	agents      AgentCaller
	checkpoints *CheckpointStore
	logger      core.Logger
	telemetry   core.Telemetry
	parallelism int
}

// NewEngine builds an engine dispatching through agents, checkpointing
// through checkpoints (nil disables checkpointing), bounding the READY
// wave's concurrency at parallelism (0 defaults to 5, per §4.3.3).
func NewEngine(agents AgentCaller, checkpoints *CheckpointStore, logger core.Logger, telemetry core.Telemetry, parallelism int) *Engine {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	if parallelism <= 0 {
		parallelism = 5
	}
	return &Engine{agents: agents, checkpoints: checkpoints, logger: logger, telemetry: telemetry, parallelism: parallelism}
}

// Execution is one in-flight or completed workflow run.
type Execution struct {
	WorkflowID string
	DAG        *DAG
	Results    map[string]StepResult

	mu       sync.Mutex
	cancelled bool
}

// Cancel requests cancellation; PENDING/READY nodes transition to
// CANCELLED at the engine's next scheduling iteration, per §4.3.3.
func (e *Execution) Cancel() {
	e.mu.Lock()
	e.cancelled = true
	e.mu.Unlock()
}

func (e *Execution) isCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// NewExecution builds a fresh execution over dag.
func NewExecution(workflowID string, dag *DAG) *Execution {
	return &Execution{WorkflowID: workflowID, DAG: dag, Results: map[string]StepResult{}}
}

type nodeOutcome struct {
	nodeID string
	result StepResult
	failed bool
}

// Run executes exec.DAG to completion, dispatching each ready node
// through req (the node's ExpertHint overrides req's target_agent).
// checkpointOnEveryChange, when true, checkpoints after every state
// change rather than only at the start and end, per §4.3.3's "may
// checkpoint after any change, must checkpoint on explicit request" rule.
func (e *Engine) Run(ctx context.Context, exec *Execution, req *envelope.Request, checkpointOnEveryChange bool) error {
	if err := exec.DAG.Validate(); err != nil {
		return err
	}

	if e.checkpoints != nil {
		if _, err := e.checkpoints.Save(ctx, exec.WorkflowID, exec.DAG.TakeSnapshot(), exec.Results); err != nil {
			e.logger.Warn("pre-execution checkpoint failed", map[string]interface{}{"error": err.Error()})
		}
	}

	sem := make(chan struct{}, e.parallelism)
	outcomes := make(chan nodeOutcome, 64)
	var wg sync.WaitGroup
	var haltErr error

	for {
		if exec.isCancelled() {
			exec.DAG.CancelPending()
		}

		ready := exec.DAG.GetReadyNodes(exec.Results)
		if len(ready) == 0 {
			if exec.DAG.IsComplete() {
				break
			}
			if !exec.DAG.HasRunningNodes() {
				if haltErr != nil {
					break
				}
				return core.NewCoreError(core.LayerOrchestration, core.KindOrchestration, "deadlock",
					"workflow deadlock: no ready or running nodes", false, core.ErrDeadlock)
			}
			select {
			case <-time.After(50 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for _, nodeID := range ready {
			node := exec.DAG.GetNode(nodeID)
			exec.DAG.MarkRunning(nodeID)

			wg.Add(1)
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				wg.Done()
				return ctx.Err()
			}

			go func(node *DAGNode) {
				defer wg.Done()
				defer func() { <-sem }()
				outcomes <- e.runNode(ctx, node, req, exec.Results)
			}(node)
		}

		drained := e.drainAvailable(outcomes, ready, exec, checkpointOnEveryChange, ctx)
		if drained != nil {
			if errors.Is(drained, context.Canceled) || errors.Is(drained, context.DeadlineExceeded) {
				return drained
			}
			if haltErr == nil {
				haltErr = drained
			}
		}
	}

	wg.Wait()
	if e.checkpoints != nil {
		if _, err := e.checkpoints.Save(ctx, exec.WorkflowID, exec.DAG.TakeSnapshot(), exec.Results); err != nil {
			e.logger.Warn("final checkpoint failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return haltErr
}

// drainAvailable blocks until every node of this wave has reported its
// outcome, applying each one as it arrives, to keep the ready-wave/results bookkeeping simple
// without a second goroutine driving the DAG. A failed node without
// ContinueOnError propagates per §7: every outcome in the current wave is
// still applied, and every node not reachable from the failed one is
// cancelled, but a BranchOnFailure/BranchOnCondition handler downstream of
// the failure keeps its scheduled chance to run in a later wave. Run
// surfaces the returned error only once the DAG finishes draining.
func (e *Engine) drainAvailable(outcomes chan nodeOutcome, wave []string, exec *Execution, checkpointEvery bool, ctx context.Context) error {
	remaining := map[string]bool{}
	for _, id := range wave {
		remaining[id] = true
	}

	var haltErr error
	var haltedNodes []string
	for len(remaining) > 0 {
		select {
		case o := <-outcomes:
			delete(remaining, o.nodeID)
			exec.Results[o.nodeID] = o.result
			if o.failed {
				exec.DAG.MarkFailed(o.nodeID)
				if node := exec.DAG.GetNode(o.nodeID); node != nil && !node.ContinueOnError {
					haltedNodes = append(haltedNodes, o.nodeID)
					if haltErr == nil {
						haltErr = core.NewCoreError(core.LayerOrchestration, core.KindOrchestration, "step_failed",
							fmt.Sprintf("step %q failed without continue_on_error: %s", o.nodeID, o.result.Error),
							false, core.ErrStepFailed)
					}
				}
			} else {
				exec.DAG.MarkCompleted(o.nodeID)
			}
			if checkpointEvery && e.checkpoints != nil {
				if _, err := e.checkpoints.Save(ctx, exec.WorkflowID, exec.DAG.TakeSnapshot(), exec.Results); err != nil {
					e.logger.Warn("checkpoint after state change failed", map[string]interface{}{"error": err.Error()})
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if len(haltedNodes) > 0 {
		exec.DAG.CancelUnrelatedPending(haltedNodes)
	}
	return haltErr
}

var templateTokenRE = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// resolvePrompt substitutes `{node_id}` tokens in template with the
// textual content of that node's result, per §4.3.3's `{prev_step}`
// substitution rule generalized to name any earlier step.
func resolvePrompt(template string, results map[string]StepResult) string {
	return templateTokenRE.ReplaceAllStringFunc(template, func(token string) string {
		name := token[1 : len(token)-1]
		result, ok := results[name]
		if !ok {
			return token
		}
		return fmt.Sprintf("%v", result.Output)
	})
}

// runNode executes one node under its retry policy and recovers a panic
// into a failed outcome, mirroring workflow_engine.go's worker-panic
// recovery but folded into the single-node call instead of a separate
// worker goroutine wrapper.
func (e *Engine) runNode(ctx context.Context, node *DAGNode, base *envelope.Request, results map[string]StepResult) (out nodeOutcome) {
	out.nodeID = node.ID
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("node execution panicked", map[string]interface{}{
				"node": node.ID, "panic": fmt.Sprintf("%v", r), "stack": string(debug.Stack()),
			})
			out.failed = true
			out.result = StepResult{Success: false, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	nodeCtx := ctx
	var cancel context.CancelFunc
	if node.Timeout > 0 {
		nodeCtx, cancel = context.WithTimeout(ctx, time.Duration(node.Timeout)*time.Millisecond)
		defer cancel()
	}

	req := base.WithTargetAgent(node.ExpertHint)
	if node.PromptTemplate != "" {
		req = req.WithContext("resolved_prompt", resolvePrompt(node.PromptTemplate, results))
	}

	var resp *envelope.Response
	attempts := 0
	err := node.Retry.run(nodeCtx, func() error {
		attempts++
		var callErr error
		resp, callErr = e.agents.Process(nodeCtx, req)
		return callErr
	})

	if err != nil {
		out.failed = true
		out.result = StepResult{Success: false, Error: err.Error()}
		return out
	}

	out.result = StepResult{Success: resp.Success, Output: resp.Content, Error: resp.Error}
	out.failed = !resp.Success
	return out
}
