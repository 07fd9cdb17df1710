// Omerta - Risk and outcome resolution engine for a persistent-world crime sim
package main

import (
	"context"
	"os"

	"github.com/mbd888/omerta/internal/config"
	"github.com/mbd888/omerta/internal/logging"
	"github.com/mbd888/omerta/internal/server"
	"github.com/mbd888/omerta/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Create logger
	logger := logging.New("info", "text")

	logger.Info("starting omerta",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"sweep_interval", cfg.SweepInterval,
		"cascade_max_depth", cfg.CascadeMaxDepth,
	)

	ctx := context.Background()

	// Initialize tracing (no-op when no OTLP endpoint configured)
	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTraces(context.Background()) }()

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
