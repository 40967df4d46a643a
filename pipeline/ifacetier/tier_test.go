package ifacetier

import (
	"context"
	"testing"
	"time"

	"github.com/aios-systems/aios/core"
	"github.com/aios-systems/aios/envelope"
)

type fakeNext struct {
	calls int
	resp  *envelope.Response
	err   error
}

func (f *fakeNext) Process(ctx context.Context, req *envelope.Request) (*envelope.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeLimiter struct {
	allow      bool
	retryAfter int
}

func (f *fakeLimiter) Allow(ctx context.Context, identity string) (bool, int) {
	return f.allow, f.retryAfter
}

func newTestTier(next Next, limiter RateLimiter) *Tier {
	return NewTier(next, limiter, 100, time.Minute, 100, &core.NoOpLogger{}, &core.NoOpTelemetry{})
}

func TestTierForwardsGeneralRequestToNext(t *testing.T) {
	next := &fakeNext{resp: envelope.NewResponse("r1").WithContent("ok", true, "")}
	tier := newTestTier(next, &fakeLimiter{allow: true})

	req := envelope.New("summarize this report", envelope.RequestGeneral, envelope.SourceCLI)
	resp, err := tier.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.calls != 1 {
		t.Fatalf("next.calls = %d, want 1", next.calls)
	}
	if resp.LayerTrace[0] != core.LayerInterface {
		t.Fatalf("LayerTrace = %v, want L1 prepended", resp.LayerTrace)
	}
}

func TestTierHandlesStatusCommandWithoutForwarding(t *testing.T) {
	next := &fakeNext{resp: envelope.NewResponse("r1").WithContent("unused", true, "")}
	tier := newTestTier(next, &fakeLimiter{allow: true})

	req := envelope.New("status", envelope.RequestCommand, envelope.SourceCLI)
	resp, err := tier.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.calls != 0 {
		t.Fatal("status command should not forward to L2")
	}
	if len(resp.LayerTrace) != 1 || resp.LayerTrace[0] != core.LayerInterface {
		t.Fatalf("LayerTrace = %v, want exactly [L1:Interface]", resp.LayerTrace)
	}
}

func TestTierHandlesHelpCommandWithoutForwarding(t *testing.T) {
	next := &fakeNext{}
	tier := newTestTier(next, &fakeLimiter{allow: true})

	req := envelope.New("help", envelope.RequestCommand, envelope.SourceCLI)
	resp, err := tier.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.calls != 0 {
		t.Fatal("help command should not forward to L2")
	}
	if resp.Content != helpText {
		t.Fatalf("Content = %v, want static help text", resp.Content)
	}
}

func TestTierHistoryCommandReturnsRecordedEntries(t *testing.T) {
	next := &fakeNext{}
	tier := newTestTier(next, &fakeLimiter{allow: true})

	for i := 0; i < 3; i++ {
		req := envelope.New("general message", envelope.RequestGeneral, envelope.SourceCLI)
		next.resp = envelope.NewResponse(req.RequestID).WithContent("ok", true, "")
		if _, err := tier.Process(context.Background(), req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	req := envelope.New("history", envelope.RequestCommand, envelope.SourceCLI)
	resp, err := tier.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries, ok := resp.Content.([]HistoryEntry)
	if !ok {
		t.Fatalf("Content type = %T, want []HistoryEntry", resp.Content)
	}
	// 3 general requests plus the history command request itself, recorded
	// before dispatch.
	if len(entries) != 4 {
		t.Fatalf("len(entries) = %d, want 4", len(entries))
	}
}

func TestTierUnknownCommandForwardsToNext(t *testing.T) {
	next := &fakeNext{resp: envelope.NewResponse("r1").WithContent("ok", true, "")}
	tier := newTestTier(next, &fakeLimiter{allow: true})

	req := envelope.New("deploy service x", envelope.RequestCommand, envelope.SourceCLI)
	if _, err := tier.Process(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.calls != 1 {
		t.Fatal("unrecognized command should forward to L2")
	}
}

func TestTierRejectsRequestOverRateLimit(t *testing.T) {
	next := &fakeNext{}
	tier := newTestTier(next, &fakeLimiter{allow: false, retryAfter: 60})

	req := envelope.New("hello", envelope.RequestGeneral, envelope.SourceCLI)
	_, err := tier.Process(context.Background(), req)
	if err == nil {
		t.Fatal("expected a rate-limit error")
	}
	ce, ok := err.(*core.CoreError)
	if !ok {
		t.Fatalf("error type = %T, want *core.CoreError", err)
	}
	if ce.Kind != core.KindRateLimit {
		t.Fatalf("Kind = %v, want KindRateLimit", ce.Kind)
	}
	if next.calls != 0 {
		t.Fatal("rate-limited request must never reach L2")
	}
}

func TestTierRejectsInvalidRequestBeforeRateLimitCheck(t *testing.T) {
	next := &fakeNext{}
	tier := newTestTier(next, &fakeLimiter{allow: true})

	req := envelope.New("", envelope.RequestGeneral, envelope.SourceCLI)
	req.Context = nil
	_, err := tier.Process(context.Background(), req)
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if next.calls != 0 {
		t.Fatal("invalid request must never reach L2")
	}
}
