// The inbound bridge: long-polls Telegram and turns chat messages into
// pulses via the daemon's HTTP ingress.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/reevehq/reeve/internal/common/config"
	"github.com/reevehq/reeve/internal/common/logger"
	"github.com/reevehq/reeve/internal/telegram"
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

	if cfg.Telegram.BotToken == "" || cfg.Telegram.ChatID == "" {
		logger.Default().Error("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID are required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener := telegram.NewListener(
		telegram.NewBotClient(cfg.Telegram.BotToken),
		telegram.NewPulseClient(cfg.API.URL, cfg.API.Token),
		telegram.NewOffsetFile(cfg.OffsetFilePath()),
		cfg.Telegram.ChatID,
	)

	if err := listener.Run(ctx); err != nil {
		logger.Default().WithError(err).Error("bridge terminated")
		os.Exit(1)
	}
}
