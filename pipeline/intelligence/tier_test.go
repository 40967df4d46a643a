package intelligence

import (
	"context"
	"testing"
	"time"

	"github.com/aios-systems/aios/core"
	"github.com/aios-systems/aios/envelope"
)

type fakeNext struct {
	calls   int
	lastReq *envelope.Request
	resp    *envelope.Response
	err     error
}

func (f *fakeNext) Process(ctx context.Context, req *envelope.Request) (*envelope.Response, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func newTestTier(next Next, registry CandidateSource) *Tier {
	return NewTier(next, registry, nil, 10, time.Hour, &core.NoOpLogger{}, &core.NoOpTelemetry{})
}

func TestTierStampsClassificationAndTargetAgent(t *testing.T) {
	registry := stubCandidateSource{candidates: []Candidate{
		{Name: "code-expert", Capabilities: []string{"code"}, Strengths: []string{"code"}, SuccessRate: 1.0},
	}}
	next := &fakeNext{resp: envelope.NewResponse("r1").WithContent("done", true, "")}
	tier := newTestTier(next, registry)

	req := envelope.New("write a python function to reverse a list", envelope.RequestGeneral, envelope.SourceCLI)
	resp, err := tier.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.lastReq.Hints.Classification != string(DomainCode) {
		t.Fatalf("Classification = %q, want %q", next.lastReq.Hints.Classification, DomainCode)
	}
	if next.lastReq.Hints.TargetAgent != "code-expert" {
		t.Fatalf("TargetAgent = %q, want code-expert", next.lastReq.Hints.TargetAgent)
	}
	if resp.LayerTrace[0] != core.LayerIntelligence {
		t.Fatalf("LayerTrace = %v, want L2 prepended", resp.LayerTrace)
	}
}

func TestTierForwardsErrorFromNextUnchanged(t *testing.T) {
	registry := stubCandidateSource{}
	next := &fakeNext{err: core.NewCoreError(core.LayerOrchestration, core.KindOrchestration, "boom", "boom", false, nil)}
	tier := newTestTier(next, registry)

	req := envelope.New("hello", envelope.RequestGeneral, envelope.SourceCLI)
	_, err := tier.Process(context.Background(), req)
	if err == nil {
		t.Fatal("expected the downstream error to propagate")
	}
}

func TestTierFallsBackWhenNoCandidatesRegistered(t *testing.T) {
	registry := stubCandidateSource{}
	next := &fakeNext{resp: envelope.NewResponse("r1").WithContent("done", true, "")}
	tier := newTestTier(next, registry)

	req := envelope.New("hello there", envelope.RequestGeneral, envelope.SourceCLI)
	_, err := tier.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.lastReq.Hints.TargetAgent != defaultExpertName {
		t.Fatalf("TargetAgent = %q, want fallback %q", next.lastReq.Hints.TargetAgent, defaultExpertName)
	}
}

func TestTierRecordsInteractionIntoSessionContext(t *testing.T) {
	registry := stubCandidateSource{}
	next := &fakeNext{resp: envelope.NewResponse("r1").WithContent("a helpful reply", true, "")}
	tier := newTestTier(next, registry)

	req := envelope.New("hello there", envelope.RequestGeneral, envelope.SourceCLI)
	req.SessionID = "sess-1"
	if _, err := tier.Process(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sc := tier.context.Get("sess-1")
	if len(sc.Interactions) != 1 {
		t.Fatalf("len(Interactions) = %d, want 1", len(sc.Interactions))
	}
	if sc.Interactions[0].UserText != "hello there" {
		t.Fatalf("UserText = %q, want %q", sc.Interactions[0].UserText, "hello there")
	}
}

func TestTierEnrichesContextFromPriorSessionVariables(t *testing.T) {
	registry := stubCandidateSource{}
	next := &fakeNext{resp: envelope.NewResponse("r1").WithContent("ok", true, "")}
	tier := newTestTier(next, registry)

	first := envelope.New(`open "config.yaml"`, envelope.RequestGeneral, envelope.SourceCLI)
	first.SessionID = "sess-1"
	if _, err := tier.Process(context.Background(), first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := envelope.New("now apply it", envelope.RequestGeneral, envelope.SourceCLI)
	second.SessionID = "sess-1"
	if _, err := tier.Process(context.Background(), second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := next.lastReq.Context["quoted_0"]; !ok {
		t.Fatal("expected the second request to carry the prior turn's extracted variable")
	}
}
