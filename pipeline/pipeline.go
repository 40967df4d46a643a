// Package pipeline wires L1 through L5 into the single request-dispatch
// core the rest of the process talks to: one Build call constructs every
// tier bottom-up (resources, then agents, then orchestration, then
// intelligence, then interface), Process hands a request to L1, and
// Shutdown tears every tier down in the reverse order.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/aios-systems/aios/config"
	"github.com/aios-systems/aios/core"
	"github.com/aios-systems/aios/envelope"
	"github.com/aios-systems/aios/eventbus"
	"github.com/aios-systems/aios/pipeline/agents"
	"github.com/aios-systems/aios/pipeline/ifacetier"
	"github.com/aios-systems/aios/pipeline/intelligence"
	"github.com/aios-systems/aios/pipeline/orchestration"
	"github.com/aios-systems/aios/pipeline/resources"
	"github.com/aios-systems/aios/statestore"
	"github.com/aios-systems/aios/telemetry"
)

// Pipeline is the constructed five-tier core. Callers only ever use
// Process and Shutdown; the tier fields are exported so a caller that
// needs to reach past L1 (the scheduler's dispatch callback, an admin
// endpoint listing registered experts) can, without the builder growing
// a method per use case.
type Pipeline struct {
	Resources    *resources.Manager
	KVStore      *resources.KVStore
	FileStore    *resources.FileStore
	VectorStore  *resources.ChromemVectorStore
	StateStore   *statestore.Store
	EventBus     eventbus.Bus
	Agents       *agents.Registry
	AgentPool    *agents.Pool
	Workflows    *orchestration.WorkflowRegistry
	Checkpoints  *orchestration.CheckpointStore
	Orchestrator *orchestration.Orchestrator
	Scheduler    *orchestration.Scheduler
	Intelligence *intelligence.Tier
	Interface    *ifacetier.Tier

	logger    core.Logger
	telemetry *telemetry.Provider
}

// Build constructs every tier from cfg, in the dependency order L5 → L4
// → L3 → L2 → L1, and returns the assembled Pipeline. A failure at any
// tier aborts the build, and the telemetry provider and the tiers already
// built (MCP server processes, agent experts) are shut down before Build
// returns the error.
func Build(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := cfg.Logger()

	provider, err := telemetry.NewProvider("aios")
	if err != nil {
		return nil, fmt.Errorf("building telemetry provider: %w", err)
	}
	var tel core.Telemetry = provider

	p := &Pipeline{logger: logger, telemetry: provider}

	if err := p.buildResources(ctx, cfg, logger); err != nil {
		_ = provider.Shutdown(ctx)
		return nil, fmt.Errorf("building resources tier: %w", err)
	}
	if err := p.buildAgents(ctx, cfg, logger, tel); err != nil {
		_ = p.Resources.Shutdown(ctx)
		_ = provider.Shutdown(ctx)
		return nil, fmt.Errorf("building agents tier: %w", err)
	}
	if err := p.buildOrchestration(cfg, logger, tel); err != nil {
		_ = p.Agents.Shutdown(ctx)
		_ = p.Resources.Shutdown(ctx)
		_ = provider.Shutdown(ctx)
		return nil, fmt.Errorf("building orchestration tier: %w", err)
	}
	p.buildIntelligence(cfg, logger, tel)
	p.buildInterface(cfg, logger, tel)

	p.Scheduler.Start(ctx)
	return p, nil
}

// buildResources constructs L5: the key-value store, file store, vector
// store, and MCP server manager.
func (p *Pipeline) buildResources(ctx context.Context, cfg *config.Config, logger core.Logger) error {
	kv, err := resources.NewKVStore(cfg.Resources.DataPath+"/kv_store.json", logger)
	if err != nil {
		return err
	}
	files, err := resources.NewFileStore(cfg.Resources.DataPath+"/files", logger)
	if err != nil {
		return err
	}

	persistPath := ""
	if cfg.Resources.VectorDB.Provider == "chromem" {
		persistPath = cfg.Resources.VectorDB.PersistPath
	}
	vectors, err := resources.NewChromemVectorStore(persistPath)
	if err != nil {
		return err
	}

	manager := resources.NewManager()
	for name, serverCfg := range cfg.Resources.MCPServers {
		if !serverCfg.Enabled {
			continue
		}
		server, err := buildMCPServer(ctx, name, serverCfg)
		if err != nil {
			logger.Warn("skipping mcp server that failed to start", map[string]interface{}{
				"server": name, "error": err.Error(),
			})
			continue
		}
		manager.Register(name, server)
	}

	p.KVStore = kv
	p.FileStore = files
	p.VectorStore = vectors
	p.Resources = manager
	return nil
}

// buildMCPServer reads the {command, args, env} tuple out of an MCP
// server's options map and connects a stdio-backed handle for it, per
// spec §6's mcp_servers construction block.
func buildMCPServer(ctx context.Context, name string, cfg config.MCPServerConfig) (resources.MCPServer, error) {
	command, _ := cfg.Options["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("mcp server %q has no command configured", name)
	}

	var args []string
	switch raw := cfg.Options["args"].(type) {
	case []string:
		args = raw
	case []interface{}:
		for _, v := range raw {
			if s, ok := v.(string); ok {
				args = append(args, s)
			}
		}
	}

	env := map[string]string{}
	switch raw := cfg.Options["env"].(type) {
	case map[string]string:
		env = raw
	case map[string]interface{}:
		for k, v := range raw {
			if s, ok := v.(string); ok {
				env[k] = s
			}
		}
	}

	server, err := resources.NewStdioMCPServer(name, command, args, env)
	if err != nil {
		return nil, err
	}
	if err := server.Connect(ctx); err != nil {
		return nil, err
	}
	return server, nil
}

// buildAgents constructs L4: one expert per enabled entry in
// cfg.Agents, keyed by provider, registered into a pool-backed registry.
func (p *Pipeline) buildAgents(ctx context.Context, cfg *config.Config, logger core.Logger, telemetry core.Telemetry) error {
	registry := agents.NewRegistry(logger)

	for name, agentCfg := range cfg.Agents {
		if !agentCfg.Enabled {
			continue
		}
		expert, err := buildExpert(name, agentCfg, p.Resources, logger)
		if err != nil {
			return fmt.Errorf("agent %q: %w", name, err)
		}
		registry.Register(name, expert, agentCfg.Priority)
	}
	if len(registry.List()) == 0 {
		logger.Warn("no agents enabled in configuration", nil)
	}

	if err := registry.Initialize(ctx); err != nil {
		return err
	}

	p.Agents = registry
	p.AgentPool = agents.NewPool(registry, logger, telemetry)
	return nil
}

// buildExpert picks the expert archetype named by agentCfg.Provider,
// per spec §6's agents.<id>.provider construction field. "analytics" and
// "knowledge" fall back to their archetypes' own default local analyzer
// and tool routing, since those two archetypes take construction
// parameters (an Analyzer function, a []ToolRoute table) the flat
// AgentConfig block has no room to express; wiring a real corpus/route
// table per deployment is a configuration surface left for a future
// config schema revision, not something this core can synthesize from a
// provider string alone.
func buildExpert(name string, cfg config.AgentConfig, manager *resources.Manager, logger core.Logger) (agents.Expert, error) {
	switch cfg.Provider {
	case "anthropic":
		return agents.NewAnthropicExpert(name, cfg.APIKey, cfg.Model, logger), nil
	case "openai":
		return agents.NewOpenAIExpert(name, cfg.APIKey, cfg.Model, logger), nil
	case "analytics":
		return agents.NewAnalyticsExpert(name, name, "search", nil, manager, logger), nil
	case "knowledge":
		return agents.NewKnowledgeExpert(name, name, "search", nil, manager, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// buildOrchestration constructs L3: the checkpoint store, workflow
// registry, validator, DAG engine, and the scheduler that drives
// recurring workflows into the orchestrator.
func (p *Pipeline) buildOrchestration(cfg *config.Config, logger core.Logger, telemetry core.Telemetry) error {
	checkpoints, err := orchestration.NewCheckpointStore(cfg.Resources.DataPath + "/checkpoints")
	if err != nil {
		return err
	}

	statePath := cfg.Resources.StateStore.Path
	if statePath == "" {
		statePath = cfg.Resources.DataPath + "/state.json"
	}
	state, err := statestore.New(statePath, logger)
	if err != nil {
		return err
	}

	bus := eventbus.New(cfg.Resources.EventBus, logger)

	workflows := orchestration.NewWorkflowRegistry()
	validator := orchestration.NewValidator()

	orchestrator := orchestration.NewOrchestrator(p.AgentPool, workflows, validator, checkpoints,
		logger, telemetry, cfg.Orchestration.MaxParallelPipelines, cfg.Orchestration.CheckpointEnabled)
	orchestrator.SetStateStore(state)
	orchestrator.SetEventBus(bus)

	scheduler := orchestration.NewScheduler(func(ctx context.Context, workflowID string) error {
		req := envelope.New(workflowID, envelope.RequestWorkflow, envelope.SourceTrigger)
		req.Hints.TargetWorkflow = workflowID
		_, err := orchestrator.Process(ctx, req)
		return err
	}, logger)

	p.Checkpoints = checkpoints
	p.StateStore = state
	p.EventBus = bus
	p.Workflows = workflows
	p.Orchestrator = orchestrator
	p.Scheduler = scheduler
	return nil
}

// sessionContextTTL bounds how long L2 keeps a session's interaction
// history and extracted variables around between requests.
const sessionContextTTL = 30 * time.Minute

// registryCandidates adapts the agent registry to intelligence.CandidateSource,
// converting each agents.Candidate to the field-identical intelligence.Candidate.
type registryCandidates struct {
	registry *agents.Registry
}

func (r registryCandidates) Candidates() []intelligence.Candidate {
	in := r.registry.Candidates()
	out := make([]intelligence.Candidate, len(in))
	for i, c := range in {
		out[i] = intelligence.Candidate(c)
	}
	return out
}

// buildIntelligence constructs L2 over the already-built agent registry
// (as CandidateSource) and orchestrator (as Next).
func (p *Pipeline) buildIntelligence(cfg *config.Config, logger core.Logger, telemetry core.Telemetry) {
	p.Intelligence = intelligence.NewTier(p.Orchestrator, registryCandidates{registry: p.Agents}, nil,
		cfg.Intelligence.ContextManager.HistoryDepth, sessionContextTTL, logger, telemetry)
}

// buildInterface constructs L1 over the already-built intelligence tier,
// choosing a Redis-backed rate limiter when a Redis URL is configured and
// an in-memory one otherwise.
func (p *Pipeline) buildInterface(cfg *config.Config, logger core.Logger, telemetry core.Telemetry) {
	window := time.Duration(cfg.Interface.RateLimit.WindowSeconds) * time.Second
	var limiter ifacetier.RateLimiter
	if cfg.Resources.RedisURL != "" {
		redisLimiter, err := ifacetier.NewRedisRateLimiter(cfg.Resources.RedisURL, window, cfg.Interface.RateLimit.MaxRequests)
		if err != nil {
			logger.Warn("falling back to in-memory rate limiter", map[string]interface{}{"error": err.Error()})
			limiter = ifacetier.NewInMemoryRateLimiter(window, cfg.Interface.RateLimit.MaxRequests)
		} else {
			limiter = redisLimiter
		}
	} else {
		limiter = ifacetier.NewInMemoryRateLimiter(window, cfg.Interface.RateLimit.MaxRequests)
	}

	p.Interface = ifacetier.NewTier(p.Intelligence, limiter, cfg.Interface.History.Capacity,
		window, cfg.Interface.RateLimit.MaxRequests, logger, telemetry)
}

// Process runs req through the full L1-L5 pipeline.
func (p *Pipeline) Process(ctx context.Context, req *envelope.Request) (*envelope.Response, error) {
	return p.Interface.Process(ctx, req)
}

// Shutdown tears every tier down in the reverse of its construction
// order: the scheduler stops first so no new workflow dispatch can start
// mid-teardown, then the agent registry closes its experts, then the MCP
// manager closes its subprocesses, then the event bus disconnects (a
// no-op for the in-memory default).
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.Scheduler.Stop()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(p.Agents.Shutdown(ctx))
	record(p.Resources.Shutdown(ctx))
	if p.EventBus != nil {
		record(p.EventBus.Close())
	}
	if p.telemetry != nil {
		record(p.telemetry.Shutdown(ctx))
	}
	return firstErr
}
