package intelligence

import (
	"context"
	"time"

	"github.com/aios-systems/aios/core"
	"github.com/aios-systems/aios/envelope"
)

// Next is L3's entry point, kept as a narrow structural interface so
// this package never imports pipeline/orchestration directly.
type Next interface {
	Process(ctx context.Context, req *envelope.Request) (*envelope.Response, error)
}

// defaultExpertName is the fallback suggested agent used when the
// classifier or router fails outright, per §4.2's failure semantics.
const defaultExpertName = "textgen"

// Tier is L2: intent parsing, MoE routing, session context enrichment,
// and classification caching in front of whatever Next implements L3.
type Tier struct {
	next       Next
	classifier *Classifier
	router     *Router
	context    *ContextManager
	cache      *ClassificationCache
	embeddings EmbeddingBackend
	logger     core.Logger
	telemetry  core.Telemetry
}

// NewTier builds L2. embeddings may be nil for rule-only classification.
func NewTier(next Next, registry CandidateSource, embeddings EmbeddingBackend,
	historyDepth int, sessionTTL time.Duration, logger core.Logger, telemetry core.Telemetry) *Tier {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &Tier{
		next:       next,
		classifier: NewClassifier(embeddings, registry),
		router:     NewRouter(registry),
		context:    NewContextManager(historyDepth, sessionTTL),
		cache:      NewClassificationCache(),
		embeddings: embeddings,
		logger:     logger,
		telemetry:  telemetry,
	}
}

// Process implements §4.2's full contract. A classifier or router
// failure never blocks the request: it falls back to a general
// classification naming the default expert and still forwards to L3.
// Only an error from the L3 call itself propagates upward.
func (t *Tier) Process(ctx context.Context, req *envelope.Request) (*envelope.Response, error) {
	ctx, span := t.telemetry.StartSpan(ctx, "intelligence.process")
	defer span.End()

	sessionCtx := t.context.Get(req.SessionID)
	enriched := req
	if sessionCtx != nil {
		for k, v := range sessionCtx.Variables {
			if _, exists := enriched.Context[k]; exists {
				continue // an explicit field on the incoming request wins over session history
			}
			enriched = enriched.WithContext(k, v)
		}
	}

	classification := t.classify(ctx, enriched)
	decision := t.router.Route(classification)

	primary := decision.Primary
	if primary == "" {
		primary = defaultExpertName
	}

	out := enriched.
		WithClassification(string(classification.PrimaryCategory)).
		WithTargetAgent(primary)
	out.Context["sub_category"] = string(classification.SubCategory)
	out.Context["complexity"] = string(classification.Complexity)
	out.Context["confidence"] = classification.Confidence
	out.Context["suggested_agents"] = append([]string{primary}, decision.Secondaries...)
	out.Context["requires_multi_agent"] = classification.RequiresMultiAgent
	out.Context["routing_reason"] = decision.Reason

	resp, err := t.next.Process(ctx, out)
	if err != nil {
		return nil, err
	}

	if req.SessionID != "" {
		summary := ""
		if resp != nil {
			if s, ok := resp.Content.(string); ok {
				summary = s
			}
		}
		t.context.Record(req.SessionID, req.Content, summary)
	}

	return resp.WithLayer(core.LayerIntelligence), nil
}

// classify runs the cache-then-classifier path, falling back to a bare
// general classification naming the default expert on any panic from
// the classifier (e.g. a misbehaving embedding backend), per §4.2's
// "never blocks the request" failure semantics.
func (t *Tier) classify(ctx context.Context, req *envelope.Request) (classification Classification) {
	domainHint := DomainGeneral
	if hint, ok := req.Context["domain"].(string); ok && hint != "" {
		domainHint = Domain(hint)
	}

	if cached, ok := t.cache.Get(req.Content, domainHint); ok {
		return cached
	}

	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("classifier panicked, falling back to general", map[string]interface{}{"panic": r})
			classification = Classification{
				PrimaryCategory:    DomainGeneral,
				Complexity:         ComplexitySimple,
				Confidence:         0.7,
				SuggestedAgents:    []string{defaultExpertName},
				RequiresMultiAgent: false,
			}
		}
	}()

	var vector []float32
	if t.embeddings != nil {
		if v, err := t.embeddings.Embed(ctx, req.Content); err == nil {
			vector = v
		} else {
			t.logger.Debug("embedding backend unavailable, degrading to rule-only", map[string]interface{}{"error": err.Error()})
		}
	}

	classification = t.classifier.Classify(req.Content, vector)
	t.cache.Put(req.Content, domainHint, classification)
	return classification
}
