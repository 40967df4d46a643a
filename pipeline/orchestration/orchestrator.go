package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aios-systems/aios/core"
	"github.com/aios-systems/aios/envelope"
	"github.com/aios-systems/aios/eventbus"
	"github.com/aios-systems/aios/statestore"
)

// WorkflowRegistry holds named workflow builders: §4.3.3's "pre-built
// workflow templates are fixtures, not part of the core contract" — the
// registry itself is the contract, templates are just entries in it.
type WorkflowRegistry struct {
	builders map[string]func(req *envelope.Request) *DAG
}

// NewWorkflowRegistry builds a registry seeded with the single_agent and
// multi_agent templates named in §4.3.3.
func NewWorkflowRegistry() *WorkflowRegistry {
	r := &WorkflowRegistry{builders: map[string]func(req *envelope.Request) *DAG{}}
	r.Register("single_agent", func(req *envelope.Request) *DAG {
		dag := NewDAG()
		dag.AddNode(&DAGNode{ID: "execute", ExpertHint: req.Hints.TargetAgent, PromptTemplate: req.Content, Retry: DefaultRetryPolicy()})
		return dag
	})
	r.Register("multi_agent", func(req *envelope.Request) *DAG {
		return SynthesizePipeline(req)
	})
	return r
}

// Register names a workflow builder.
func (r *WorkflowRegistry) Register(name string, build func(req *envelope.Request) *DAG) {
	r.builders[name] = build
}

// Build constructs the named workflow's DAG for req, or reports
// core.ErrWorkflowNotFound.
func (r *WorkflowRegistry) Build(name string, req *envelope.Request) (*DAG, error) {
	build, ok := r.builders[name]
	if !ok {
		return nil, core.NewCoreError(core.LayerOrchestration, core.KindOrchestration, "workflow_not_found",
			fmt.Sprintf("workflow %q is not registered", name), false, core.ErrWorkflowNotFound)
	}
	return build(req), nil
}

// Orchestrator is L3's entry point: it validates the request, picks a
// strategy, and runs it to completion, returning the envelope the
// interface tier ultimately sees.
type Orchestrator struct {
	agents                AgentCaller
	workflows             *WorkflowRegistry
	validator             *Validator
	engine                *Engine
	logger                core.Logger
	telemetry             core.Telemetry
	checkpointEveryChange bool
	stateStore            *statestore.Store
	events                eventbus.Bus
}

// SetStateStore wires the crosscutting coarse state store (spec §4.6)
// into the orchestrator, so a medium-or-higher-risk action gets a
// snapshot taken before it runs. Optional: a nil state store (the
// default) simply skips the snapshot, since the state store is a
// crosscutting facility the core can run without.
func (o *Orchestrator) SetStateStore(s *statestore.Store) {
	o.stateStore = s
}

// SetEventBus wires the optional crosscutting message bus (§5) into the
// orchestrator, so a DAG run's completion or cancellation gets published
// best-effort. Optional: a nil bus (the default) simply skips publishing.
func (o *Orchestrator) SetEventBus(b eventbus.Bus) {
	o.events = b
}

// NewOrchestrator wires together the strategy selector, validator, and
// DAG engine into the orchestration tier.
func NewOrchestrator(agents AgentCaller, workflows *WorkflowRegistry, validator *Validator, checkpoints *CheckpointStore,
	logger core.Logger, telemetry core.Telemetry, parallelism int, checkpointEveryChange bool) *Orchestrator {
	if workflows == nil {
		workflows = NewWorkflowRegistry()
	}
	if validator == nil {
		validator = NewValidator()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &Orchestrator{
		agents:                agents,
		workflows:             workflows,
		validator:             validator,
		engine:                NewEngine(agents, checkpoints, logger, telemetry, parallelism),
		logger:                logger,
		telemetry:             telemetry,
		checkpointEveryChange: checkpointEveryChange,
	}
}

// actionPlanFromRequest reads the `{action_name, target_sites,
// target_devices, plan, user, metadata}` tuple the validator inspects out
// of the request context, where an upstream caller (or a workflow step
// built on top of this core) places it.
func actionPlanFromRequest(req *envelope.Request) ActionPlan {
	plan := ActionPlan{ActionName: req.Content, User: req.UserID, Metadata: req.Context}
	if v, ok := req.Context["action_name"].(string); ok {
		plan.ActionName = v
	}
	if v, ok := req.Context["target_sites"].([]string); ok {
		plan.TargetSites = v
	}
	if v, ok := req.Context["target_devices"].([]string); ok {
		plan.TargetDevices = v
	}
	if v, ok := req.Context["plan"].(map[string]interface{}); ok {
		plan.Plan = v
	}
	return plan
}

// Process implements §4.3's full orchestration-tier contract: risk
// validation, strategy selection, and execution.
func (o *Orchestrator) Process(ctx context.Context, req *envelope.Request) (*envelope.Response, error) {
	ctx, span := o.telemetry.StartSpan(ctx, "orchestration.process")
	defer span.End()

	validation := o.validator.Validate(actionPlanFromRequest(req))
	if validation.Result == CheckRejected || validation.Result == CheckEscalate {
		resp := envelope.NewResponse(req.RequestID).
			WithContent(nil, false, fmt.Sprintf("request %s by risk validation: %s",
				strings.ToLower(string(validation.Result)), strings.Join(validation.Issues, "; "))).
			WithArtifact("validation", validation).
			WithLayer(core.LayerOrchestration)
		return resp, nil
	}
	if o.stateStore != nil && validation.Risk >= RiskMedium {
		if _, err := o.stateStore.Checkpoint(req.RequestID); err != nil {
			o.logger.Warn("failed to snapshot state before a medium-or-higher-risk action", map[string]interface{}{
				"request_id": req.RequestID, "error": err.Error(),
			})
		}
	}

	strategy := SelectStrategy(req)
	span.SetAttribute("strategy", string(strategy))

	switch strategy {
	case StrategySingle:
		resp, err := o.agents.Process(ctx, req)
		if err != nil {
			return nil, err
		}
		return resp.WithLayer(core.LayerOrchestration), nil

	case StrategyPipeline:
		dag := SynthesizePipeline(req)
		return o.runDAG(ctx, "pipeline", dag, req)

	case StrategyWorkflow:
		dag, err := o.workflows.Build(req.Hints.TargetWorkflow, req)
		if err != nil {
			return nil, err
		}
		return o.runDAG(ctx, req.Hints.TargetWorkflow, dag, req)

	default:
		return nil, core.NewCoreError(core.LayerOrchestration, core.KindOrchestration, "unknown_strategy",
			"no strategy matched the request", false, nil)
	}
}

// runDAG drives exec.DAG to completion and folds the per-node results
// into one Response. Overall success is determined by the primary/first
// node (named "primary" in a synthesized pipeline, or the
// topologically-first node with no dependencies otherwise), per §4.3.3's
// ordering-and-tie-breaks rule.
func (o *Orchestrator) runDAG(ctx context.Context, workflowID string, dag *DAG, req *envelope.Request) (*envelope.Response, error) {
	exec := NewExecution(workflowID, dag)
	if err := o.engine.Run(ctx, exec, req, o.checkpointEveryChange); err != nil && !errors.Is(err, core.ErrStepFailed) {
		return nil, err
	}

	primaryID := "primary"
	if dag.GetNode(primaryID) == nil {
		primaryID = firstRootNode(dag)
	}

	success := false
	if primaryID != "" {
		if result, ok := exec.Results[primaryID]; ok {
			success = result.Success
		}
	}

	completed := 0
	for _, id := range dag.Nodes() {
		if node := dag.GetNode(id); node != nil && node.Status == NodeCompleted {
			completed++
		}
	}

	o.publishRunEvent(ctx, workflowID, req.RequestID, exec, success)

	resp := envelope.NewResponse(req.RequestID).
		WithContent(resultContent(exec.Results, primaryID), success, "").
		WithSteps(completed, len(dag.Nodes())).
		WithArtifact("step_results", exec.Results).
		WithLayer(core.LayerOrchestration)
	return resp, nil
}

// publishRunEvent tells the event bus a workflow run finished, best
// effort: a nil bus (no SetEventBus call, e.g. in a test that builds an
// Orchestrator directly) skips straight through, per §5's "never
// required on the request hot path."
func (o *Orchestrator) publishRunEvent(ctx context.Context, workflowID, requestID string, exec *Execution, success bool) {
	if o.events == nil {
		return
	}
	subject := "workflow.step.completed"
	if exec.isCancelled() {
		subject = "workflow.cancelled"
	}
	o.events.Publish(ctx, subject, map[string]interface{}{
		"request_id":  requestID,
		"workflow_id": workflowID,
		"success":     success,
	})
}

func resultContent(results map[string]StepResult, primaryID string) interface{} {
	if r, ok := results[primaryID]; ok {
		return r.Output
	}
	return nil
}

func firstRootNode(dag *DAG) string {
	for _, id := range dag.Nodes() {
		if node := dag.GetNode(id); node != nil && len(node.Dependencies) == 0 {
			return id
		}
	}
	return ""
}
