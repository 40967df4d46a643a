// Command aiosd constructs the five-tier request-dispatch core and runs
// it until an operator asks it to stop. It demonstrates the
// construction/shutdown surface config.New → pipeline.Build →
// pipeline.Process → pipeline.Shutdown; it does not stand up an HTTP,
// CLI, or webhook listener of its own, since those transports remain
// external collaborators the core never implements (§6) — an operator
// wires one of them to Pipeline.Process.
//
// Environment Variables:
//
//	AIOS_DATA_PATH                  - on-disk root for the kv/file/state stores (default: ./data)
//	AIOS_REDIS_URL                  - optional Redis URL for resources that support it
//	AIOS_EVENT_BUS_NATS_URL         - optional nats.go URL; empty keeps the event bus in-memory
//	AIOS_MAX_PARALLEL_PIPELINES     - orchestration tier's parallelism budget
//	AIOS_CHECKPOINT_ENABLED         - whether the DAG engine checkpoints every step change
//	AIOS_MOE_CONFIDENCE_THRESHOLD   - intelligence tier's router confidence floor
//	AIOS_ORCHESTRATION_TIMEOUT_DEFAULT - default step timeout; read into the config, but the DAG engine bounds a step only by its node's own Timeout
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aios-systems/aios/config"
	"github.com/aios-systems/aios/envelope"
	"github.com/aios-systems/aios/pipeline"
)

func main() {
	startupStart := time.Now()

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := cfg.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := pipeline.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("building pipeline: %v", err)
	}

	logger.Info("aiosd starting", map[string]interface{}{
		"agents":          len(p.Agents.List()),
		"data_path":       cfg.Resources.DataPath,
		"event_bus":       cfg.Resources.EventBus.NATSURL != "",
		"startup_ms":      time.Since(startupStart).Milliseconds(),
		"max_parallelism": cfg.Orchestration.MaxParallelPipelines,
	})

	// Demonstrate the wiring end to end with the built-in status command,
	// the same way the framework's own health surface would before any
	// real traffic arrives.
	statusReq := envelope.New("status", envelope.RequestCommand, envelope.SourceTrigger)
	if resp, err := p.Process(ctx, statusReq); err != nil {
		logger.Warn("startup status check failed", map[string]interface{}{"error": err.Error()})
	} else {
		logger.Info("startup status check", map[string]interface{}{"success": resp.Success})
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	shutdownErr := make(chan error, 1)
	go func() {
		<-sigChan
		logger.Info("shutting down gracefully", nil)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		cancel()
		shutdownErr <- p.Shutdown(shutdownCtx)
	}()

	<-ctx.Done()
	if !errors.Is(ctx.Err(), context.Canceled) {
		log.Fatalf("context error: %v", ctx.Err())
	}

	if err := <-shutdownErr; err != nil {
		logger.Error("shutdown error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	logger.Info("shutdown completed", nil)
}
