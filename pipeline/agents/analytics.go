package agents

import (
	"context"
	"strings"

	"github.com/aios-systems/aios/core"
	"github.com/aios-systems/aios/envelope"
	"github.com/aios-systems/aios/pipeline/resources"
)

// Analyzer is the deterministic, local half of the analytics expert
// archetype: given the request content, it computes a summary without
// calling out to anything.
type Analyzer func(content string) map[string]interface{}

// WordFrequencyAnalyzer is a default Analyzer computing a simple word
// count and the top repeated token, standing in for the document-corpus
// statistics the archetype's real analyzers would compute.
func WordFrequencyAnalyzer(content string) map[string]interface{} {
	words := strings.Fields(content)
	counts := make(map[string]int, len(words))
	for _, w := range words {
		counts[strings.ToLower(w)]++
	}
	top, topCount := "", 0
	for w, c := range counts {
		if c > topCount {
			top, topCount = w, c
		}
	}
	return map[string]interface{}{
		"word_count":      len(words),
		"unique_words":    len(counts),
		"most_common":     top,
		"most_common_count": topCount,
	}
}

// AnalyticsExpert is the analytics expert archetype: it combines a
// deterministic local Analyzer with a tool call against a persisted
// corpus on its MCP server, per the agent tier's contract.
type AnalyticsExpert struct {
	id, name string
	server   string
	tool     string
	analyze  Analyzer
	manager  *resources.Manager
	logger   core.Logger
}

// NewAnalyticsExpert builds an analytics expert that runs analyze locally
// and, when manager/server/tool are set, augments the result with a
// document-search tool call.
func NewAnalyticsExpert(name, server, tool string, analyze Analyzer, manager *resources.Manager, logger core.Logger) *AnalyticsExpert {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if analyze == nil {
		analyze = WordFrequencyAnalyzer
	}
	return &AnalyticsExpert{
		id: name, name: name,
		server: server, tool: tool,
		analyze: analyze, manager: manager, logger: logger,
	}
}

func (e *AnalyticsExpert) Initialize(ctx context.Context) error { return nil }
func (e *AnalyticsExpert) Shutdown(ctx context.Context) error   { return nil }
func (e *AnalyticsExpert) GetID() string                        { return e.id }
func (e *AnalyticsExpert) GetName() string                      { return e.name }
func (e *AnalyticsExpert) GetType() core.ComponentType          { return core.ComponentTypeExpert }
func (e *AnalyticsExpert) Capabilities() []string               { return []string{"analytics", "document_search"} }
func (e *AnalyticsExpert) Strengths() []string                  { return []string{"corpus_statistics"} }
func (e *AnalyticsExpert) HealthCheck(ctx context.Context) error { return nil }

// Execute runs the local analyzer, then, if a server and tool are
// configured, augments the result with a document-search tool call
// against req.Content.
func (e *AnalyticsExpert) Execute(ctx context.Context, req *envelope.Request) (*envelope.Response, error) {
	summary := e.analyze(req.Content)

	resp := envelope.NewResponse(req.RequestID).
		WithContent(summary, true, "").
		WithArtifact("analysis", summary)

	if e.manager == nil || e.server == "" || e.tool == "" {
		return resp, nil
	}

	result, err := e.manager.Execute(ctx, e.server, e.tool, map[string]interface{}{"query": req.Content})
	if err != nil {
		e.logger.Warn("analytics corpus search failed, returning local analysis only", map[string]interface{}{
			"expert": e.name, "error": err.Error(),
		})
		return resp, nil
	}
	return resp.WithArtifact("corpus_search", result), nil
}

var _ Expert = (*AnalyticsExpert)(nil)
