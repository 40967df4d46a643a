package orchestration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aios-systems/aios/envelope"
)

type fakeAgentCaller struct {
	mu       sync.Mutex
	handlers map[string]func(ctx context.Context, req *envelope.Request) (*envelope.Response, error)
	calls    []string
}

func newFakeAgentCaller() *fakeAgentCaller {
	return &fakeAgentCaller{handlers: map[string]func(ctx context.Context, req *envelope.Request) (*envelope.Response, error){}}
}

func (f *fakeAgentCaller) on(agent string, h func(ctx context.Context, req *envelope.Request) (*envelope.Response, error)) {
	f.handlers[agent] = h
}

func (f *fakeAgentCaller) Process(ctx context.Context, req *envelope.Request) (*envelope.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Hints.TargetAgent)
	f.mu.Unlock()

	if h, ok := f.handlers[req.Hints.TargetAgent]; ok {
		return h(ctx, req)
	}
	return envelope.NewResponse(req.RequestID).WithContent("ok", true, ""), nil
}

func TestEngineRunsLinearChain(t *testing.T) {
	dag := NewDAG()
	dag.AddNode(&DAGNode{ID: "a", ExpertHint: "writer", Retry: DefaultRetryPolicy()})
	dag.AddNode(&DAGNode{ID: "b", ExpertHint: "reviewer", Dependencies: []string{"a"}, Branch: BranchOnSuccess, Retry: DefaultRetryPolicy()})

	caller := newFakeAgentCaller()
	engine := NewEngine(caller, nil, nil, nil, 2)
	exec := NewExecution("wf", dag)
	req := envelope.New("do it", envelope.RequestQuery, envelope.SourceAPI)

	err := engine.Run(context.Background(), exec, req, false)
	require.NoError(t, err)
	assert.True(t, exec.Results["a"].Success)
	assert.True(t, exec.Results["b"].Success)
	assert.Equal(t, NodeCompleted, dag.GetNode("a").Status)
	assert.Equal(t, NodeCompleted, dag.GetNode("b").Status)
}

func TestEngineMarksNodeFailedOnAgentError(t *testing.T) {
	dag := NewDAG()
	dag.AddNode(&DAGNode{ID: "a", ExpertHint: "writer", Retry: DefaultRetryPolicy()})
	dag.AddNode(&DAGNode{ID: "b", ExpertHint: "reviewer", Dependencies: []string{"a"}, Branch: BranchOnFailure, Retry: DefaultRetryPolicy()})

	caller := newFakeAgentCaller()
	caller.on("writer", func(ctx context.Context, req *envelope.Request) (*envelope.Response, error) {
		return nil, errors.New("agent exploded")
	})

	engine := NewEngine(caller, nil, nil, nil, 2)
	exec := NewExecution("wf", dag)
	req := envelope.New("do it", envelope.RequestQuery, envelope.SourceAPI)

	err := engine.Run(context.Background(), exec, req, false)
	require.Error(t, err)
	assert.Equal(t, NodeFailed, dag.GetNode("a").Status)
	assert.Equal(t, NodeCompleted, dag.GetNode("b").Status)
}

func TestEngineRunsParallelSecondaries(t *testing.T) {
	dag := NewDAG()
	dag.AddNode(&DAGNode{ID: "primary", ExpertHint: "writer", Retry: DefaultRetryPolicy()})
	dag.AddNode(&DAGNode{ID: "s1", ExpertHint: "a", Dependencies: []string{"primary"}, Branch: BranchOnSuccess, Retry: DefaultRetryPolicy()})
	dag.AddNode(&DAGNode{ID: "s2", ExpertHint: "b", Dependencies: []string{"primary"}, Branch: BranchOnSuccess, Retry: DefaultRetryPolicy()})

	caller := newFakeAgentCaller()
	engine := NewEngine(caller, nil, nil, nil, 5)
	exec := NewExecution("wf", dag)
	req := envelope.New("do it", envelope.RequestQuery, envelope.SourceAPI)

	err := engine.Run(context.Background(), exec, req, false)
	require.NoError(t, err)
	assert.Equal(t, NodeCompleted, dag.GetNode("s1").Status)
	assert.Equal(t, NodeCompleted, dag.GetNode("s2").Status)
}

func TestEngineNodeTimeoutFailsNode(t *testing.T) {
	dag := NewDAG()
	dag.AddNode(&DAGNode{ID: "a", ExpertHint: "slow", Timeout: 10, Retry: DefaultRetryPolicy()})

	caller := newFakeAgentCaller()
	caller.on("slow", func(ctx context.Context, req *envelope.Request) (*envelope.Response, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return envelope.NewResponse(req.RequestID).WithContent("late", true, ""), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	engine := NewEngine(caller, nil, nil, nil, 1)
	exec := NewExecution("wf", dag)
	req := envelope.New("do it", envelope.RequestQuery, envelope.SourceAPI)

	err := engine.Run(context.Background(), exec, req, false)
	require.Error(t, err)
	assert.Equal(t, NodeFailed, dag.GetNode("a").Status)
}

func TestEngineContinueOnErrorSuppressesPropagation(t *testing.T) {
	dag := NewDAG()
	dag.AddNode(&DAGNode{ID: "a", ExpertHint: "writer", ContinueOnError: true, Retry: DefaultRetryPolicy()})
	dag.AddNode(&DAGNode{ID: "b", ExpertHint: "reviewer", Dependencies: []string{"a"}, Branch: BranchAlways, Retry: DefaultRetryPolicy()})

	caller := newFakeAgentCaller()
	caller.on("writer", func(ctx context.Context, req *envelope.Request) (*envelope.Response, error) {
		return nil, errors.New("agent exploded")
	})

	engine := NewEngine(caller, nil, nil, nil, 2)
	exec := NewExecution("wf", dag)
	req := envelope.New("do it", envelope.RequestQuery, envelope.SourceAPI)

	err := engine.Run(context.Background(), exec, req, false)
	require.NoError(t, err)
	assert.Equal(t, NodeFailed, dag.GetNode("a").Status)
	assert.Equal(t, NodeCompleted, dag.GetNode("b").Status)
}

func TestEngineFailureWithoutContinueOnErrorCancelsUnrelatedBranch(t *testing.T) {
	dag := NewDAG()
	dag.AddNode(&DAGNode{ID: "a", ExpertHint: "writer", Retry: DefaultRetryPolicy()})
	dag.AddNode(&DAGNode{ID: "handler", ExpertHint: "reviewer", Dependencies: []string{"a"}, Branch: BranchOnFailure, Retry: DefaultRetryPolicy()})
	dag.AddNode(&DAGNode{ID: "gate", ExpertHint: "other", Retry: DefaultRetryPolicy()})
	dag.AddNode(&DAGNode{ID: "unrelated", ExpertHint: "other", Dependencies: []string{"gate"}, Branch: BranchAlways, Retry: DefaultRetryPolicy()})

	caller := newFakeAgentCaller()
	caller.on("writer", func(ctx context.Context, req *envelope.Request) (*envelope.Response, error) {
		return nil, errors.New("agent exploded")
	})

	engine := NewEngine(caller, nil, nil, nil, 2)
	exec := NewExecution("wf", dag)
	req := envelope.New("do it", envelope.RequestQuery, envelope.SourceAPI)

	err := engine.Run(context.Background(), exec, req, false)
	require.Error(t, err)
	assert.Equal(t, NodeFailed, dag.GetNode("a").Status)
	assert.Equal(t, NodeCompleted, dag.GetNode("handler").Status)
	assert.Equal(t, NodeCompleted, dag.GetNode("gate").Status)
	assert.Equal(t, NodeCancelled, dag.GetNode("unrelated").Status)
}

func TestResolvePromptSubstitutesPriorStepOutput(t *testing.T) {
	results := map[string]StepResult{"primary": {Output: "hello world"}}
	out := resolvePrompt("Summarize: {primary}", results)
	assert.Equal(t, "Summarize: hello world", out)
}

func TestResolvePromptLeavesUnknownTokenUntouched(t *testing.T) {
	out := resolvePrompt("Use {missing}", map[string]StepResult{})
	assert.Equal(t, "Use {missing}", out)
}

func TestEngineDetectsDeadlockOnCyclicDAG(t *testing.T) {
	dag := NewDAG()
	dag.AddNode(&DAGNode{ID: "a", Dependencies: []string{"b"}})
	dag.AddNode(&DAGNode{ID: "b", Dependencies: []string{"a"}})

	caller := newFakeAgentCaller()
	engine := NewEngine(caller, nil, nil, nil, 2)
	exec := NewExecution("wf", dag)
	req := envelope.New("do it", envelope.RequestQuery, envelope.SourceAPI)

	err := engine.Run(context.Background(), exec, req, false)
	assert.Error(t, err)
}
