// Package main implements the entry point for the telempipe collector, a
// single-process telemetry collection-and-delivery pipeline.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/telempipe/config"
	"github.com/c360/telempipe/event"
	"github.com/c360/telempipe/metric"
	"github.com/c360/telempipe/pkg/retry"
	"github.com/c360/telempipe/platform"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "telempipe"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting telempipe",
		"version", Version,
		"config_path", cliCfg.ConfigPath)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	nc, err := connectNATS(cfg.NATS.URL)
	if err != nil {
		return err
	}
	if nc != nil {
		defer nc.Close()
	}

	registry := metric.NewRegistry()
	bus := event.NewBus(logger, nc)

	orchestrator := platform.New(cfg, platform.Collaborators{
		Discovery: &staticDiscovery{resourcesPerProvider: 3},
		Transform: transformResource,
		Generate:  generateRecord,
		Enrich:    enrichRecord,
	},
		platform.WithBus(bus),
		platform.WithLogger(logger),
		platform.WithMetrics(registry),
	)

	if err := orchestrator.Initialize(); err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}

	metricsServer := startMetricsServer(cfg.Metrics, registry)
	if metricsServer != nil {
		defer func() { _ = metricsServer.Stop() }()
	}

	return runWithSignalHandling(orchestrator, cliCfg.ShutdownTimeout)
}

// connectNATS dials the event-mirroring broker. An empty URL disables
// mirroring and is not an error.
func connectNATS(url string) (*nats.Conn, error) {
	if url == "" {
		return nil, nil
	}

	// The client reconnects on its own once connected; only the initial dial
	// is retried here so a broker restarting alongside us is not fatal.
	var nc *nats.Conn
	err := retry.Do(context.Background(), retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}, func() error {
		var dialErr error
		nc, dialErr = nats.Connect(url,
			nats.Name(appName),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		return dialErr
	})
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	slog.Info("Connected to NATS", "url", url)
	return nc, nil
}

// startMetricsServer serves the Prometheus endpoint in the background. A
// missing address disables it.
func startMetricsServer(cfg config.Metrics, registry *metric.Registry) *metric.Server {
	if cfg.Addr == "" {
		return nil
	}

	server := metric.NewServer(cfg.Addr, cfg.Path, registry)
	go func() {
		if err := server.Start(); err != nil {
			slog.Error("Metrics server exited", "error", err)
		}
	}()

	slog.Info("Metrics server listening", "addr", cfg.Addr, "path", cfg.Path)
	return server
}

// runWithSignalHandling starts the pipeline and blocks until a shutdown
// signal arrives.
func runWithSignalHandling(orchestrator *platform.Orchestrator, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := orchestrator.StartPipeline(signalCtx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	status := orchestrator.Status()
	slog.Info("Pipeline started", "mode", string(status.Mode))

	<-signalCtx.Done()
	slog.Info("Received shutdown signal", "timeout", shutdownTimeout.String())

	done := make(chan error, 1)
	go func() { done <- orchestrator.Shutdown() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	case <-time.After(shutdownTimeout):
		return fmt.Errorf("shutdown timed out after %s", shutdownTimeout)
	}

	slog.Info("Shutdown complete")
	return nil
}
