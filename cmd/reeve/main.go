// The reeve daemon: pulse store, scheduler, agent executor, and HTTP ingress
// in one process.
package main

import (
	"context"
	"os"

	"github.com/reevehq/reeve/internal/common/config"
	"github.com/reevehq/reeve/internal/common/logger"
	"github.com/reevehq/reeve/internal/pulse/daemon"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Default().WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err == nil {
		logger.SetDefault(log)
	}
	defer logger.Default().Sync()

	engine, err := daemon.New(cfg)
	if err != nil {
		logger.Default().WithError(err).Error("failed to start engine")
		os.Exit(1)
	}

	if err := engine.Run(context.Background()); err != nil {
		os.Exit(1)
	}
}
