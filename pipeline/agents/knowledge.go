package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/aios-systems/aios/core"
	"github.com/aios-systems/aios/envelope"
	"github.com/aios-systems/aios/pipeline/resources"
)

// ToolRoute maps a keyword to the MCP tool that should handle a request
// containing it. Routes are checked in order; the first keyword match wins.
type ToolRoute struct {
	Keyword string
	Tool    string
}

// KnowledgeExpert is the knowledge expert archetype: it picks which tool
// on its MCP server to invoke by lightweight keyword inspection of the
// request content, per the agent tier's contract, rather than running any
// model inference itself.
type KnowledgeExpert struct {
	id, name   string
	server     string
	defaultTool string
	routes     []ToolRoute
	manager    *resources.Manager
	logger     core.Logger
}

// NewKnowledgeExpert builds a knowledge expert that dispatches to the MCP
// server registered under server via manager, routing by routes and
// falling back to defaultTool when no keyword matches.
func NewKnowledgeExpert(name, server, defaultTool string, routes []ToolRoute, manager *resources.Manager, logger core.Logger) *KnowledgeExpert {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &KnowledgeExpert{
		id:          name,
		name:        name,
		server:      server,
		defaultTool: defaultTool,
		routes:      routes,
		manager:     manager,
		logger:      logger,
	}
}

func (e *KnowledgeExpert) Initialize(ctx context.Context) error         { return nil }
func (e *KnowledgeExpert) Shutdown(ctx context.Context) error           { return nil }
func (e *KnowledgeExpert) GetID() string                                { return e.id }
func (e *KnowledgeExpert) GetName() string                              { return e.name }
func (e *KnowledgeExpert) GetType() core.ComponentType                  { return core.ComponentTypeExpert }
func (e *KnowledgeExpert) Capabilities() []string                      { return []string{"knowledge_lookup", "document_retrieval"} }
func (e *KnowledgeExpert) Strengths() []string                          { return []string{"tool_routing"} }

// HealthCheck is always healthy; the underlying MCP server's reachability
// is only known at call time.
func (e *KnowledgeExpert) HealthCheck(ctx context.Context) error { return nil }

// selectTool returns the first route whose keyword appears in content,
// case-insensitively, falling back to defaultTool.
func (e *KnowledgeExpert) selectTool(content string) string {
	lower := strings.ToLower(content)
	for _, route := range e.routes {
		if strings.Contains(lower, strings.ToLower(route.Keyword)) {
			return route.Tool
		}
	}
	return e.defaultTool
}

// Execute routes req to the keyword-selected tool on the expert's MCP
// server and folds the flattened tool result into the response content.
func (e *KnowledgeExpert) Execute(ctx context.Context, req *envelope.Request) (*envelope.Response, error) {
	tool := e.selectTool(req.Content)
	if tool == "" {
		return nil, core.NewCoreError(core.LayerAgents, core.KindAgent, "knowledge_no_route",
			"no tool route matched request and no default tool is configured", false, nil)
	}

	args := map[string]interface{}{"query": req.Content}
	result, err := e.manager.Execute(ctx, e.server, tool, args)
	if err != nil {
		return nil, core.NewCoreError(core.LayerAgents, core.KindAgent, "knowledge_tool_failed",
			fmt.Sprintf("tool %s on server %s failed", tool, e.server), true, err)
	}

	text, _ := result["text"].([]string)
	content := strings.Join(text, "\n")
	resp := envelope.NewResponse(req.RequestID).
		WithContent(content, true, "").
		WithArtifact("tool_used", tool).
		WithArtifact("tool_result", result)
	return resp, nil
}

var _ Expert = (*KnowledgeExpert)(nil)
