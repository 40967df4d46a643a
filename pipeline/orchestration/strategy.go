package orchestration

import (
	"fmt"

	"github.com/aios-systems/aios/envelope"
)

// Strategy is the execution path L3 picks for one request, per §4.3.1.
type Strategy string

const (
	StrategyWorkflow Strategy = "workflow"
	StrategyPipeline Strategy = "pipeline"
	StrategySingle   Strategy = "single"
)

// suggestedAgents reads the router's ordered expert suggestions out of
// the request context, where L2 places them under "suggested_agents".
func suggestedAgents(req *envelope.Request) []string {
	raw, ok := req.Context["suggested_agents"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// requiresMultiAgent reads the router's requires_multi_agent verdict out
// of the request context.
func requiresMultiAgent(req *envelope.Request) bool {
	v, _ := req.Context["requires_multi_agent"].(bool)
	return v
}

// complexity reads the classifier's complexity tier out of the request
// context.
func complexity(req *envelope.Request) string {
	v, _ := req.Context["complexity"].(string)
	return v
}

// SelectStrategy implements §4.3.1: an explicit target_workflow wins;
// otherwise a complex/multi-agent request gets a synthesized pipeline;
// everything else is a single L4 call.
func SelectStrategy(req *envelope.Request) Strategy {
	if req.Hints.TargetWorkflow != "" {
		return StrategyWorkflow
	}
	if complexity(req) == "complex" || requiresMultiAgent(req) {
		return StrategyPipeline
	}
	return StrategySingle
}

// SynthesizePipeline builds the one-primary-step, one-secondary-step-per-
// secondary-expert, one-synthesis-step workflow §4.3.1 describes for the
// pipeline strategy, using the router's ordered suggested_agents: the
// first is primary, the rest are parallel secondaries gated on the
// primary's success, and a final synthesis step depends on all of them.
func SynthesizePipeline(req *envelope.Request) *DAG {
	agents := suggestedAgents(req)
	dag := NewDAG()

	if len(agents) == 0 {
		dag.AddNode(&DAGNode{ID: "primary", ExpertHint: "", PromptTemplate: req.Content, Retry: DefaultRetryPolicy()})
		dag.AddNode(&DAGNode{ID: "synthesize", Dependencies: []string{"primary"}, Branch: BranchOnSuccess,
			PromptTemplate: "Summarize the result of {primary}.", Retry: DefaultRetryPolicy()})
		return dag
	}

	primary := agents[0]
	dag.AddNode(&DAGNode{ID: "primary", ExpertHint: primary, PromptTemplate: req.Content, Retry: DefaultRetryPolicy()})

	var secondaryIDs []string
	for i, agent := range agents[1:] {
		id := fmt.Sprintf("secondary_%d", i+1)
		secondaryIDs = append(secondaryIDs, id)
		dag.AddNode(&DAGNode{
			ID:              id,
			ExpertHint:      agent,
			Dependencies:    []string{"primary"},
			Branch:          BranchOnSuccess,
			PromptTemplate:  req.Content,
			ContinueOnError: true,
			Retry:           DefaultRetryPolicy(),
		})
	}

	synthDeps := append([]string{"primary"}, secondaryIDs...)
	dag.AddNode(&DAGNode{
		ID:             "synthesize",
		Dependencies:   synthDeps,
		Branch:         BranchAlways,
		PromptTemplate: "Combine the results of {primary} and its secondary steps into one answer.",
		Retry:          DefaultRetryPolicy(),
	})

	return dag
}
