package ifacetier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aios-systems/aios/core"
	"github.com/aios-systems/aios/envelope"
)

// Next is the downstream contract L1 forwards non-built-in requests to:
// L2's Process entry point. Satisfied structurally by
// *pipeline/intelligence.Tier, kept narrow here the same way L3's
// AgentCaller keeps orchestration decoupled from the agent package.
type Next interface {
	Process(ctx context.Context, req *envelope.Request) (*envelope.Response, error)
}

// HealthSnapshot is the payload the `status` built-in command and any
// external health probe returns: overall status, uptime, history size,
// and a map of component health.
type HealthSnapshot struct {
	Status      string            `json:"status"`
	Uptime      time.Duration     `json:"uptime"`
	HistorySize int               `json:"history_size"`
	Components  map[string]string `json:"components"`
}

// Tier is L1: validation, rate limiting, the history ring, and built-in
// command dispatch, in front of whatever Next implements L2.
type Tier struct {
	next      Next
	limiter   RateLimiter
	history   *HistoryRing
	logger    core.Logger
	telemetry core.Telemetry

	window      time.Duration
	maxRequests int
	startedAt   time.Time
}

// NewTier builds L1 dispatching non-built-in requests to next.
func NewTier(next Next, limiter RateLimiter, historyCapacity int, window time.Duration, maxRequests int,
	logger core.Logger, telemetry core.Telemetry) *Tier {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &Tier{
		next:        next,
		limiter:     limiter,
		history:     NewHistoryRing(historyCapacity),
		logger:      logger,
		telemetry:   telemetry,
		window:      window,
		maxRequests: maxRequests,
		startedAt:   time.Now(),
	}
}

// Process implements §4.1's full contract: validate, rate limit, record
// into history, then dispatch to a built-in handler or forward to L2.
func (t *Tier) Process(ctx context.Context, req *envelope.Request) (*envelope.Response, error) {
	ctx, span := t.telemetry.StartSpan(ctx, "ifacetier.process")
	defer span.End()

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	identity := req.UserID
	if identity == "" {
		identity = string(req.Source)
	}
	allowed, retryAfter := t.limiter.Allow(ctx, identity)
	if !allowed {
		err := core.NewCoreError(core.LayerInterface, core.KindRateLimit, "rate_limited",
			fmt.Sprintf("rate limit exceeded for %q", identity), true, core.ErrRateLimited).
			WithDetail("retry_after", retryAfter)
		t.logger.Warn("request rate limited", map[string]interface{}{"identity": identity, "retry_after": retryAfter})
		return nil, err
	}

	t.history.Record(req)

	if resp, handled := t.dispatchBuiltin(req); handled {
		return resp.WithLayer(core.LayerInterface), nil
	}

	resp, err := t.next.Process(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.WithLayer(core.LayerInterface), nil
}

// dispatchBuiltin implements §4.1's built-in command handlers. Only a
// command request whose content is exactly `status`, `help`, or
// `history` is terminal at L1; everything else, including unrecognized
// commands, queries, workflows, and general text, forwards to L2.
func (t *Tier) dispatchBuiltin(req *envelope.Request) (*envelope.Response, bool) {
	if req.Type != envelope.RequestCommand {
		return nil, false
	}
	switch strings.ToLower(strings.TrimSpace(req.Content)) {
	case "status":
		return t.handleStatus(req), true
	case "help":
		return t.handleHelp(req), true
	case "history":
		return t.handleHistory(req), true
	default:
		return nil, false
	}
}

func (t *Tier) handleStatus(req *envelope.Request) *envelope.Response {
	snapshot := HealthSnapshot{
		Status:      "healthy",
		Uptime:      time.Since(t.startedAt),
		HistorySize: t.history.Len(),
		Components:  map[string]string{"interface": "healthy"},
	}
	return envelope.NewResponse(req.RequestID).WithContent(snapshot, true, "")
}

const helpText = `Available commands:
  /status   report local health
  /help     show this message
  /history  show the last 10 requests
Anything else is routed to the intelligence tier for classification.`

func (t *Tier) handleHelp(req *envelope.Request) *envelope.Response {
	return envelope.NewResponse(req.RequestID).WithContent(helpText, true, "")
}

func (t *Tier) handleHistory(req *envelope.Request) *envelope.Response {
	entries := t.history.Last(10)
	return envelope.NewResponse(req.RequestID).WithContent(entries, true, "")
}
