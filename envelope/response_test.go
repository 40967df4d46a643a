package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResponsePending(t *testing.T) {
	r := NewResponse("req-1")
	assert.Equal(t, "req-1", r.RequestID)
	assert.Equal(t, StatusPending, r.Status)
	assert.False(t, r.Success)
}

func TestWithLayerPrependsOutermostFirst(t *testing.T) {
	r := NewResponse("req-1")
	r = r.WithLayer("L5:Resources")
	r = r.WithLayer("L4:Agents")
	r = r.WithLayer("L3:Orchestration")

	require.Equal(t, []string{"L3:Orchestration", "L4:Agents", "L5:Resources"}, r.LayerTrace)
}

func TestWithContentSetsSuccessAndError(t *testing.T) {
	r := NewResponse("req-1")
	ok := r.WithContent("done", true, "")
	failed := r.WithContent(nil, false, "boom")

	assert.True(t, ok.Success)
	assert.Equal(t, "done", ok.Content)
	assert.False(t, failed.Success)
	assert.Equal(t, "boom", failed.Error)
}

func TestWithArtifactDoesNotMutateOriginal(t *testing.T) {
	r := NewResponse("req-1")
	r2 := r.WithArtifact("step_1", map[string]int{"a": 1})

	assert.Empty(t, r.Artifacts)
	assert.NotEmpty(t, r2.Artifacts)
}

func TestFinishComputesDuration(t *testing.T) {
	r := NewResponse("req-1")
	finished := r.Finish()
	assert.GreaterOrEqual(t, finished.DurationMS, int64(0))
}
