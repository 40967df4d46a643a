// Package config holds the Config object consumed (not produced) by the
// pipeline: every tier reads its own subsection at construction time.
// Loading follows a three-layer precedence: compiled-in defaults, then
// environment variables, then functional options supplied by the
// caller, each layer overriding the previous one.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aios-systems/aios/core"
)

// Config is the full configuration surface of spec §6's table, grouped by
// the tier that owns each subsection.
type Config struct {
	Interface     InterfaceConfig
	Intelligence  IntelligenceConfig
	Orchestration OrchestrationConfig
	Agents        map[string]AgentConfig
	Resources     ResourcesConfig
	Logging       LoggingConfig

	logger core.Logger
}

// InterfaceConfig configures L1.
type InterfaceConfig struct {
	Enabled   bool `json:"enabled" env:"AIOS_INTERFACE_ENABLED" default:"true"`
	CLI       CLIConfig
	RateLimit RateLimitConfig
	History   HistoryConfig
}

// CLIConfig configures the CLI external collaborator's prompt; the core
// never renders it, it only passes it through.
type CLIConfig struct {
	Prompt string `json:"prompt" env:"AIOS_CLI_PROMPT" default:"aios> "`
}

// RateLimitConfig tunes L1's sliding-window-per-identity limiter.
type RateLimitConfig struct {
	WindowSeconds int `json:"window_seconds" env:"AIOS_RATE_LIMIT_WINDOW_SECONDS" default:"60"`
	MaxRequests   int `json:"max_requests" env:"AIOS_RATE_LIMIT_MAX_REQUESTS" default:"100"`
}

// HistoryConfig bounds L1's process-wide request-history ring.
type HistoryConfig struct {
	Capacity int `json:"capacity" env:"AIOS_HISTORY_CAPACITY" default:"1000"`
}

// IntelligenceConfig configures L2.
type IntelligenceConfig struct {
	MoERouter      MoERouterConfig
	ContextManager ContextManagerConfig
}

// MoERouterConfig tunes the mixture-of-experts router.
type MoERouterConfig struct {
	ConfidenceThreshold float64 `json:"confidence_threshold" env:"AIOS_MOE_CONFIDENCE_THRESHOLD" default:"0.5"`
}

// ContextManagerConfig bounds per-session context.
type ContextManagerConfig struct {
	MaxContextLength int `json:"max_context_length" env:"AIOS_CONTEXT_MAX_LENGTH" default:"4096"`
	HistoryDepth     int `json:"history_depth" env:"AIOS_CONTEXT_HISTORY_DEPTH" default:"10"`
}

// OrchestrationConfig configures L3.
type OrchestrationConfig struct {
	MaxParallelPipelines int             `json:"max_parallel_pipelines" env:"AIOS_MAX_PARALLEL_PIPELINES" default:"5"`
	CheckpointEnabled    bool            `json:"checkpoint_enabled" env:"AIOS_CHECKPOINT_ENABLED" default:"true"`
	TimeoutDefault       time.Duration   `json:"timeout_default" env:"AIOS_ORCHESTRATION_TIMEOUT_DEFAULT" default:"300s"`
	RetryPolicy          RetryPolicyConfig
	Validation           ValidationConfig
}

// RetryPolicyConfig is the default per-step retry policy.
type RetryPolicyConfig struct {
	MaxRetries   int           `json:"max_retries" env:"AIOS_RETRY_MAX_RETRIES" default:"3"`
	Backoff      float64       `json:"backoff" env:"AIOS_RETRY_BACKOFF" default:"2.0"`
	InitialDelay time.Duration `json:"initial_delay" env:"AIOS_RETRY_INITIAL_DELAY" default:"1s"`
	MaxDelay     time.Duration `json:"max_delay" env:"AIOS_RETRY_MAX_DELAY" default:"30s"`
}

// ValidationConfig wires the maker/checker validator.
type ValidationConfig struct {
	Enabled           bool   `json:"enabled" env:"AIOS_VALIDATION_ENABLED" default:"false"`
	AutoApproveLevel  string `json:"auto_approve_level" env:"AIOS_VALIDATION_AUTO_APPROVE_LEVEL" default:"low"`
}

// AgentConfig is the per-expert construction block addressed as
// agents.<expert_id> in spec §6.
type AgentConfig struct {
	Enabled      bool          `json:"enabled"`
	Timeout      time.Duration `json:"timeout"`
	Model        string        `json:"model"`
	Provider     string        `json:"provider"`
	APIKey       string        `json:"api_key"`
	Capabilities []string      `json:"capabilities"`
	// Priority is the expert's static priority: the router's tie-break
	// when two experts score equally and neither is in a request's
	// suggested_agents. Higher wins; unset (0) is the lowest priority.
	Priority int `json:"priority"`
}

// ResourcesConfig configures L5.
type ResourcesConfig struct {
	VectorDB   VectorDBConfig
	StateStore StateStoreConfig
	EventBus   EventBusConfig
	MCPServers map[string]MCPServerConfig
	DataPath   string `json:"data_path" env:"AIOS_DATA_PATH" default:"./data"`
	RedisURL   string `json:"redis_url" env:"AIOS_REDIS_URL" default:""`
}

// EventBusConfig wires the optional crosscutting message bus (§5). An
// empty NATSURL keeps the bus in-memory; setting it activates the
// nats.go-backed implementation.
type EventBusConfig struct {
	NATSURL string `json:"nats_url" env:"AIOS_EVENT_BUS_NATS_URL" default:""`
}

// VectorDBConfig wires the vector store resource.
type VectorDBConfig struct {
	Provider       string `json:"provider" env:"AIOS_VECTOR_DB_PROVIDER" default:"chromem"`
	PersistPath    string `json:"persist_path" env:"AIOS_VECTOR_DB_PERSIST_PATH" default:"./data/vectors"`
	CollectionName string `json:"collection_name" env:"AIOS_VECTOR_DB_COLLECTION" default:"aios"`
}

// StateStoreConfig wires the crosscutting coarse state store.
type StateStoreConfig struct {
	Provider string `json:"provider" env:"AIOS_STATE_STORE_PROVIDER" default:"file"`
	Path     string `json:"path" env:"AIOS_STATE_STORE_PATH" default:"./data/state.json"`
}

// MCPServerConfig is one entry of resources.mcp_servers.
type MCPServerConfig struct {
	Enabled bool                   `json:"enabled"`
	Options map[string]interface{} `json:"options"`
}

// LoggingConfig is the ambient logging subsection.
type LoggingConfig struct {
	Level  string `json:"level" env:"AIOS_LOG_LEVEL" default:"INFO"`
	Format string `json:"format" env:"AIOS_LOG_FORMAT" default:"text"`
}

// Option mutates a Config during construction; applied after defaults and
// environment loading, so options always win.
type Option func(*Config) error

// DefaultConfig returns the compiled-in defaults, the first of the three
// loading layers.
func DefaultConfig() *Config {
	return &Config{
		Interface: InterfaceConfig{
			Enabled:   true,
			CLI:       CLIConfig{Prompt: "aios> "},
			RateLimit: RateLimitConfig{WindowSeconds: 60, MaxRequests: 100},
			History:   HistoryConfig{Capacity: 1000},
		},
		Intelligence: IntelligenceConfig{
			MoERouter: MoERouterConfig{ConfidenceThreshold: 0.5},
			ContextManager: ContextManagerConfig{
				MaxContextLength: 4096,
				HistoryDepth:     10,
			},
		},
		Orchestration: OrchestrationConfig{
			MaxParallelPipelines: 5,
			CheckpointEnabled:    true,
			TimeoutDefault:       300 * time.Second,
			RetryPolicy: RetryPolicyConfig{
				MaxRetries:   3,
				Backoff:      2.0,
				InitialDelay: time.Second,
				MaxDelay:     30 * time.Second,
			},
			Validation: ValidationConfig{
				Enabled:          false,
				AutoApproveLevel: "low",
			},
		},
		Agents: map[string]AgentConfig{},
		Resources: ResourcesConfig{
			VectorDB: VectorDBConfig{
				Provider:       "chromem",
				PersistPath:    "./data/vectors",
				CollectionName: "aios",
			},
			StateStore: StateStoreConfig{
				Provider: "file",
				Path:     "./data/state.json",
			},
			EventBus:   EventBusConfig{NATSURL: ""},
			MCPServers: map[string]MCPServerConfig{},
			DataPath:   "./data",
			RedisURL:   "",
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// LoadFromEnv overlays environment variables onto the current values,
// the second loading layer. Unset variables leave the existing value
// (the default, or whatever an earlier call already set) untouched.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("AIOS_INTERFACE_ENABLED"); v != "" {
		c.Interface.Enabled = parseBool(v)
	}
	if v := os.Getenv("AIOS_CLI_PROMPT"); v != "" {
		c.Interface.CLI.Prompt = v
	}
	if v := os.Getenv("AIOS_RATE_LIMIT_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Interface.RateLimit.WindowSeconds = n
		}
	}
	if v := os.Getenv("AIOS_RATE_LIMIT_MAX_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Interface.RateLimit.MaxRequests = n
		}
	}
	if v := os.Getenv("AIOS_HISTORY_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Interface.History.Capacity = n
		}
	}

	if v := os.Getenv("AIOS_MOE_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Intelligence.MoERouter.ConfidenceThreshold = f
		} else if c.logger != nil {
			c.logger.Warn("invalid confidence threshold", map[string]interface{}{"value": v, "error": err})
		}
	}
	if v := os.Getenv("AIOS_CONTEXT_MAX_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Intelligence.ContextManager.MaxContextLength = n
		}
	}
	if v := os.Getenv("AIOS_CONTEXT_HISTORY_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Intelligence.ContextManager.HistoryDepth = n
		}
	}

	if v := os.Getenv("AIOS_MAX_PARALLEL_PIPELINES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestration.MaxParallelPipelines = n
		}
	}
	if v := os.Getenv("AIOS_CHECKPOINT_ENABLED"); v != "" {
		c.Orchestration.CheckpointEnabled = parseBool(v)
	}
	if v := os.Getenv("AIOS_ORCHESTRATION_TIMEOUT_DEFAULT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Orchestration.TimeoutDefault = d
		}
	}
	if v := os.Getenv("AIOS_RETRY_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestration.RetryPolicy.MaxRetries = n
		}
	}
	if v := os.Getenv("AIOS_RETRY_BACKOFF"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Orchestration.RetryPolicy.Backoff = f
		}
	}
	if v := os.Getenv("AIOS_RETRY_INITIAL_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Orchestration.RetryPolicy.InitialDelay = d
		}
	}
	if v := os.Getenv("AIOS_RETRY_MAX_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Orchestration.RetryPolicy.MaxDelay = d
		}
	}
	if v := os.Getenv("AIOS_VALIDATION_ENABLED"); v != "" {
		c.Orchestration.Validation.Enabled = parseBool(v)
	}
	if v := os.Getenv("AIOS_VALIDATION_AUTO_APPROVE_LEVEL"); v != "" {
		c.Orchestration.Validation.AutoApproveLevel = v
	}

	if v := os.Getenv("AIOS_VECTOR_DB_PROVIDER"); v != "" {
		c.Resources.VectorDB.Provider = v
	}
	if v := os.Getenv("AIOS_VECTOR_DB_PERSIST_PATH"); v != "" {
		c.Resources.VectorDB.PersistPath = v
	}
	if v := os.Getenv("AIOS_VECTOR_DB_COLLECTION"); v != "" {
		c.Resources.VectorDB.CollectionName = v
	}
	if v := os.Getenv("AIOS_STATE_STORE_PROVIDER"); v != "" {
		c.Resources.StateStore.Provider = v
	}
	if v := os.Getenv("AIOS_STATE_STORE_PATH"); v != "" {
		c.Resources.StateStore.Path = v
	}
	if v := os.Getenv("AIOS_EVENT_BUS_NATS_URL"); v != "" {
		c.Resources.EventBus.NATSURL = v
	}
	if v := os.Getenv("AIOS_DATA_PATH"); v != "" {
		c.Resources.DataPath = v
	}
	if v := os.Getenv("AIOS_REDIS_URL"); v != "" {
		c.Resources.RedisURL = v
	}

	if v := os.Getenv("AIOS_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToUpper(v)
	}
	if v := os.Getenv("AIOS_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}

	return nil
}

// parseBool accepts "true", "1", "yes", "on" (case-insensitive) as true;
// everything else is false.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// New builds a Config by layering defaults, environment, then opts, and
// validating the result. This is the entry point callers (cmd/aiosd, or
// tests) use instead of touching DefaultConfig directly.
func New(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.logger == nil {
		cfg.logger = core.NewProductionLogger("aios", cfg.Logging.Level, cfg.Logging.Format)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Logger returns the logger resolved during New, defaulting to a no-op
// logger for Configs built directly via DefaultConfig in tests.
func (c *Config) Logger() core.Logger {
	if c.logger == nil {
		return &core.NoOpLogger{}
	}
	return c.logger
}

// Validate checks invariants New cannot fix with a default.
func (c *Config) Validate() error {
	if c.Intelligence.MoERouter.ConfidenceThreshold < 0 || c.Intelligence.MoERouter.ConfidenceThreshold > 1 {
		return fmt.Errorf("intelligence.moe_router.confidence_threshold must be in [0,1], got %f", c.Intelligence.MoERouter.ConfidenceThreshold)
	}
	if c.Orchestration.MaxParallelPipelines < 1 {
		return fmt.Errorf("orchestration.max_parallel_pipelines must be >= 1, got %d", c.Orchestration.MaxParallelPipelines)
	}
	if c.Intelligence.ContextManager.HistoryDepth < 1 {
		return fmt.Errorf("intelligence.context_manager.history_depth must be >= 1, got %d", c.Intelligence.ContextManager.HistoryDepth)
	}
	for id, agent := range c.Agents {
		if agent.Enabled && agent.Timeout <= 0 {
			return fmt.Errorf("agents.%s.timeout must be > 0 when enabled", id)
		}
	}
	return nil
}

// --- functional options ---

// WithAgent registers or overwrites the agents.<id> construction block.
func WithAgent(id string, agent AgentConfig) Option {
	return func(c *Config) error {
		if c.Agents == nil {
			c.Agents = map[string]AgentConfig{}
		}
		c.Agents[id] = agent
		return nil
	}
}

// WithMCPServer registers or overwrites one resources.mcp_servers entry.
func WithMCPServer(name string, server MCPServerConfig) Option {
	return func(c *Config) error {
		if c.Resources.MCPServers == nil {
			c.Resources.MCPServers = map[string]MCPServerConfig{}
		}
		c.Resources.MCPServers[name] = server
		return nil
	}
}

// WithConfidenceThreshold overrides the MoE router's confidence floor.
func WithConfidenceThreshold(threshold float64) Option {
	return func(c *Config) error {
		if threshold < 0 || threshold > 1 {
			return fmt.Errorf("confidence threshold must be in [0,1], got %f", threshold)
		}
		c.Intelligence.MoERouter.ConfidenceThreshold = threshold
		return nil
	}
}

// WithMaxParallelPipelines overrides the outer workflow semaphore size.
func WithMaxParallelPipelines(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return fmt.Errorf("max parallel pipelines must be >= 1, got %d", n)
		}
		c.Orchestration.MaxParallelPipelines = n
		return nil
	}
}

// WithDataPath overrides the root directory the resource tier persists
// kv_store.json, files/, and vector data under.
func WithDataPath(path string) Option {
	return func(c *Config) error {
		c.Resources.DataPath = path
		return nil
	}
}

// WithStateStorePath overrides where the crosscutting state store's
// document and checkpoints are written.
func WithStateStorePath(path string) Option {
	return func(c *Config) error {
		c.Resources.StateStore.Path = path
		return nil
	}
}

// WithLogLevel overrides the ambient log level.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = strings.ToUpper(level)
		return nil
	}
}

// WithLogger injects a pre-built logger, bypassing the level/format-driven
// ProductionLogger construction in New.
func WithLogger(logger core.Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}
