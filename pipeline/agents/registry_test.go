package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aios-systems/aios/core"
	"github.com/aios-systems/aios/envelope"
)

type stubExpert struct {
	name    string
	failInit bool
}

func (s *stubExpert) Initialize(ctx context.Context) error {
	if s.failInit {
		return assertErr
	}
	return nil
}
func (s *stubExpert) Shutdown(ctx context.Context) error  { return nil }
func (s *stubExpert) GetID() string                       { return s.name }
func (s *stubExpert) GetName() string                     { return s.name }
func (s *stubExpert) GetType() core.ComponentType          { return core.ComponentTypeExpert }
func (s *stubExpert) HealthCheck(ctx context.Context) error { return nil }
func (s *stubExpert) Capabilities() []string               { return []string{"stub"} }
func (s *stubExpert) Strengths() []string                  { return []string{"stub"} }
func (s *stubExpert) Execute(ctx context.Context, req *envelope.Request) (*envelope.Response, error) {
	return envelope.NewResponse(req.RequestID).WithContent("ok", true, ""), nil
}

var assertErr = core.NewCoreError(core.LayerAgents, core.KindAgent, "init_failed", "boom", false, nil)

func TestRegistryInitializeMarksFailedExpertsUnavailable(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("good", &stubExpert{name: "good"}, 0)
	r.Register("bad", &stubExpert{name: "bad", failInit: true}, 0)
	r.SetDefault("good")

	require.NoError(t, r.Initialize(context.Background()))

	name, expert, err := r.Resolve(context.Background(), "bad")
	require.NoError(t, err)
	assert.Equal(t, "good", name)
	assert.NotNil(t, expert)
}

func TestRegistryResolveFallsBackToDefault(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("default", &stubExpert{name: "default"}, 0)
	r.SetDefault("default")
	require.NoError(t, r.Initialize(context.Background()))

	name, expert, err := r.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "default", name)
	assert.NotNil(t, expert)
}

func TestRegistryResolveFailsWithoutDefault(t *testing.T) {
	r := NewRegistry(nil)
	_, _, err := r.Resolve(context.Background(), "missing")
	require.Error(t, err)
}

func TestRegistryRecordOutcomeTracksRollingStats(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("e", &stubExpert{name: "e"}, 0)

	r.RecordOutcome("e", true, 100*time.Millisecond)
	r.RecordOutcome("e", false, 200*time.Millisecond)

	stats := r.StatsFor("e")
	assert.Equal(t, int64(2), stats.Attempts)
	assert.Equal(t, int64(1), stats.Successes)
	assert.Equal(t, 0.5, stats.SuccessRate())
	assert.InDelta(t, 150.0, stats.AvgLatencyMS, 0.1)
}

func TestRegistryListIsSorted(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("zeta", &stubExpert{name: "zeta"}, 0)
	r.Register("alpha", &stubExpert{name: "alpha"}, 0)
	assert.Equal(t, []string{"alpha", "zeta"}, r.List())
}
