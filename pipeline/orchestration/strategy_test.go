package orchestration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aios-systems/aios/envelope"
)

func TestSelectStrategyTargetWorkflowWins(t *testing.T) {
	req := envelope.New("do the thing", envelope.RequestCommand, envelope.SourceAPI)
	req = req.WithTargetWorkflow("nightly_report")
	assert.Equal(t, StrategyWorkflow, SelectStrategy(req))
}

func TestSelectStrategyComplexGoesToPipeline(t *testing.T) {
	req := envelope.New("diagnose the outage", envelope.RequestQuery, envelope.SourceAPI)
	req = req.WithContext("complexity", "complex")
	assert.Equal(t, StrategyPipeline, SelectStrategy(req))
}

func TestSelectStrategyRequiresMultiAgentGoesToPipeline(t *testing.T) {
	req := envelope.New("compare two sites", envelope.RequestQuery, envelope.SourceAPI)
	req = req.WithContext("requires_multi_agent", true)
	assert.Equal(t, StrategyPipeline, SelectStrategy(req))
}

func TestSelectStrategyDefaultsToSingle(t *testing.T) {
	req := envelope.New("what time is it", envelope.RequestQuery, envelope.SourceAPI)
	assert.Equal(t, StrategySingle, SelectStrategy(req))
}

func TestSynthesizePipelineWithNoSuggestedAgents(t *testing.T) {
	req := envelope.New("summarize this", envelope.RequestQuery, envelope.SourceAPI)
	dag := SynthesizePipeline(req)

	require.NotNil(t, dag.GetNode("primary"))
	require.NotNil(t, dag.GetNode("synthesize"))
	assert.Equal(t, []string{"primary"}, dag.GetNode("synthesize").Dependencies)
}

func TestSynthesizePipelineBuildsSecondariesAndSynthesis(t *testing.T) {
	req := envelope.New("compare site A and site B", envelope.RequestQuery, envelope.SourceAPI)
	req = req.WithContext("suggested_agents", []string{"writer", "researcher", "analyst"})
	dag := SynthesizePipeline(req)

	primary := dag.GetNode("primary")
	require.NotNil(t, primary)
	assert.Equal(t, "writer", primary.ExpertHint)

	sec1 := dag.GetNode("secondary_1")
	require.NotNil(t, sec1)
	assert.Equal(t, "researcher", sec1.ExpertHint)
	assert.Equal(t, []string{"primary"}, sec1.Dependencies)
	assert.True(t, sec1.ContinueOnError)

	sec2 := dag.GetNode("secondary_2")
	require.NotNil(t, sec2)
	assert.Equal(t, "analyst", sec2.ExpertHint)

	synth := dag.GetNode("synthesize")
	require.NotNil(t, synth)
	assert.ElementsMatch(t, []string{"primary", "secondary_1", "secondary_2"}, synth.Dependencies)
	assert.Equal(t, BranchAlways, synth.Branch)
}

func TestSynthesizePipelineHandlesInterfaceSliceSuggestedAgents(t *testing.T) {
	req := envelope.New("do it", envelope.RequestQuery, envelope.SourceAPI)
	req = req.WithContext("suggested_agents", []interface{}{"writer", "researcher"})
	dag := SynthesizePipeline(req)

	assert.Equal(t, "writer", dag.GetNode("primary").ExpertHint)
	assert.Equal(t, "researcher", dag.GetNode("secondary_1").ExpertHint)
}
