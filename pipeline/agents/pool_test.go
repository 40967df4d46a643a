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

type slowExpert struct {
	stubExpert
	delay   time.Duration
	panics  bool
}

func (s *slowExpert) Execute(ctx context.Context, req *envelope.Request) (*envelope.Response, error) {
	if s.panics {
		panic("adapter exploded")
	}
	select {
	case <-time.After(s.delay):
		return envelope.NewResponse(req.RequestID).WithContent("done", true, ""), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestPoolProcessDispatchesToTargetAgent(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("writer", &stubExpert{name: "writer"}, 0)
	require.NoError(t, r.Initialize(context.Background()))

	pool := NewPool(r, nil, nil)
	req := envelope.New("hello", envelope.RequestGeneral, envelope.SourceCLI).WithTargetAgent("writer")

	resp, err := pool.Process(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"writer"}, resp.LayerTrace)

	stats := r.StatsFor("writer")
	assert.Equal(t, int64(1), stats.Attempts)
	assert.Equal(t, int64(1), stats.Successes)
}

func TestPoolProcessUnavailableAgent(t *testing.T) {
	r := NewRegistry(nil)
	pool := NewPool(r, nil, nil)
	req := envelope.New("hello", envelope.RequestGeneral, envelope.SourceCLI).WithTargetAgent("missing")

	_, err := pool.Process(context.Background(), req)
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))
}

func TestPoolProcessTimesOut(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("slow", &slowExpert{stubExpert: stubExpert{name: "slow"}, delay: 200 * time.Millisecond}, 0)
	require.NoError(t, r.Initialize(context.Background()))

	pool := NewPool(r, nil, nil)
	req := envelope.New("hello", envelope.RequestGeneral, envelope.SourceCLI).WithTargetAgent("slow")
	req.Timeout = 10 * time.Millisecond

	_, err := pool.Process(context.Background(), req)
	require.Error(t, err)
	assert.True(t, core.IsRetryable(err))

	stats := r.StatsFor("slow")
	assert.Equal(t, int64(1), stats.Attempts)
	assert.Equal(t, int64(0), stats.Successes)
}

func TestPoolProcessRecoversExpertPanic(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("panicky", &slowExpert{stubExpert: stubExpert{name: "panicky"}, panics: true}, 0)
	require.NoError(t, r.Initialize(context.Background()))

	pool := NewPool(r, nil, nil)
	req := envelope.New("hello", envelope.RequestGeneral, envelope.SourceCLI).WithTargetAgent("panicky")

	_, err := pool.Process(context.Background(), req)
	require.Error(t, err)
}
