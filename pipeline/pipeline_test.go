package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aios-systems/aios/config"
	"github.com/aios-systems/aios/envelope"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dataPath := t.TempDir()
	cfg, err := config.New(
		config.WithDataPath(dataPath),
		config.WithStateStorePath(filepath.Join(dataPath, "state.json")),
		config.WithAgent("textgen", config.AgentConfig{
			Enabled: true, Provider: "openai", Model: "gpt-4o-mini", APIKey: "test-key",
			Timeout: 1000000000,
		}),
	)
	if err != nil {
		t.Fatalf("building config: %v", err)
	}
	return cfg
}

func TestBuildWiresAllFiveTiers(t *testing.T) {
	p, err := Build(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.Resources == nil || p.AgentPool == nil || p.Orchestrator == nil || p.Intelligence == nil || p.Interface == nil {
		t.Fatal("expected every tier to be constructed")
	}
	if p.StateStore == nil {
		t.Fatal("expected the crosscutting state store to be constructed")
	}
	if p.EventBus == nil {
		t.Fatal("expected the event bus to be constructed")
	}
	if len(p.Agents.List()) != 1 {
		t.Fatalf("len(Agents.List()) = %d, want 1", len(p.Agents.List()))
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Intelligence.ContextManager.HistoryDepth = 0

	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatal("expected Build to reject an invalid config")
	}
}

func TestPipelineProcessHandlesBuiltinStatusCommand(t *testing.T) {
	p, err := Build(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer p.Shutdown(context.Background())

	req := envelope.New("status", envelope.RequestCommand, envelope.SourceCLI)
	resp, err := p.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected the status built-in to succeed, got error %q", resp.Error)
	}
}

func TestPipelineShutdownSucceedsOnAgentsAndResources(t *testing.T) {
	p, err := Build(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
