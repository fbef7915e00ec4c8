// Package main is the entrypoint for the chatstats message logging and
// analytics backend.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/edgard/chatstats/internal/app"
	"github.com/edgard/chatstats/internal/config"
	"github.com/edgard/chatstats/internal/logger"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all components, blocks until shutdown, and returns an
// exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, v, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.New(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	a, err := app.New(cfg, v, log)
	if err != nil {
		log.Error("Failed to initialize application", "error", err)
		return 1
	}

	if err := a.Run(ctx); err != nil {
		log.Error("Application exited with error", "error", err)
		return 1
	}
	return 0
}
