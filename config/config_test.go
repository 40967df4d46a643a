package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigPassesValidation(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Orchestration.MaxParallelPipelines)
	assert.Equal(t, 10, cfg.Intelligence.ContextManager.HistoryDepth)
	assert.InDelta(t, 0.5, cfg.Intelligence.MoERouter.ConfidenceThreshold, 0.0001)
	assert.Equal(t, 300*time.Second, cfg.Orchestration.TimeoutDefault)
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("AIOS_MOE_CONFIDENCE_THRESHOLD", "0.75")
	t.Setenv("AIOS_MAX_PARALLEL_PIPELINES", "9")
	t.Setenv("AIOS_CHECKPOINT_ENABLED", "false")
	t.Setenv("AIOS_ORCHESTRATION_TIMEOUT_DEFAULT", "45s")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.InDelta(t, 0.75, cfg.Intelligence.MoERouter.ConfidenceThreshold, 0.0001)
	assert.Equal(t, 9, cfg.Orchestration.MaxParallelPipelines)
	assert.False(t, cfg.Orchestration.CheckpointEnabled)
	assert.Equal(t, 45*time.Second, cfg.Orchestration.TimeoutDefault)
}

func TestNewAppliesOptionsAfterEnv(t *testing.T) {
	os.Unsetenv("AIOS_MAX_PARALLEL_PIPELINES")
	t.Setenv("AIOS_MAX_PARALLEL_PIPELINES", "3")

	cfg, err := New(WithMaxParallelPipelines(7), WithConfidenceThreshold(0.9))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Orchestration.MaxParallelPipelines, "option must win over env")
	assert.InDelta(t, 0.9, cfg.Intelligence.MoERouter.ConfidenceThreshold, 0.0001)
}

func TestNewRejectsInvalidConfidenceThreshold(t *testing.T) {
	_, err := New(WithConfidenceThreshold(1.5))
	require.Error(t, err)
}

func TestNewRejectsZeroParallelism(t *testing.T) {
	_, err := New(WithMaxParallelPipelines(0))
	require.Error(t, err)
}

func TestWithAgentRegistersBlock(t *testing.T) {
	cfg, err := New(WithAgent("summarizer", AgentConfig{
		Enabled: true,
		Timeout: 10 * time.Second,
		Model:   "claude-3-haiku",
	}))
	require.NoError(t, err)
	require.Contains(t, cfg.Agents, "summarizer")
	assert.Equal(t, "claude-3-haiku", cfg.Agents["summarizer"].Model)
}

func TestValidateRejectsEnabledAgentWithoutTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agents["broken"] = AgentConfig{Enabled: true}
	assert.Error(t, cfg.Validate())
}

func TestWithMCPServerRegistersEntry(t *testing.T) {
	cfg, err := New(WithMCPServer("filesystem", MCPServerConfig{Enabled: true}))
	require.NoError(t, err)
	require.Contains(t, cfg.Resources.MCPServers, "filesystem")
	assert.True(t, cfg.Resources.MCPServers["filesystem"].Enabled)
}

func TestWithStateStorePathOverridesDefault(t *testing.T) {
	cfg, err := New(WithStateStorePath("/tmp/custom-state.json"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-state.json", cfg.Resources.StateStore.Path)
}

func TestLoadFromEnvOverridesEventBusURL(t *testing.T) {
	t.Setenv("AIOS_EVENT_BUS_NATS_URL", "nats://localhost:4222")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, "nats://localhost:4222", cfg.Resources.EventBus.NATSURL)
}
