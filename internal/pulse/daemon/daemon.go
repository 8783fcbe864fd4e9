// Package daemon assembles the engine: store, scheduler, executor, event
// bus, sentinel, and HTTP ingress, with signal-driven graceful shutdown.
package daemon

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/reevehq/reeve/internal/api"
	"github.com/reevehq/reeve/internal/common/config"
	"github.com/reevehq/reeve/internal/common/logger"
	"github.com/reevehq/reeve/internal/events/bus"
	"github.com/reevehq/reeve/internal/pulse/executor"
	"github.com/reevehq/reeve/internal/pulse/scheduler"
	"github.com/reevehq/reeve/internal/pulse/store"
	"github.com/reevehq/reeve/internal/sentinel"
	"github.com/reevehq/reeve/internal/tracing"
)

// drainTimeout bounds how long shutdown waits for in-flight executions.
const drainTimeout = 30 * time.Second

// Engine owns the long-running components of the pulse daemon.
type Engine struct {
	cfg       *config.Config
	store     *store.Store
	events    bus.EventBus
	scheduler *scheduler.Scheduler
	server    *api.Server
	log       *logger.Logger
}

// New wires the engine from configuration. The store open is the only
// fatal dependency; a missing event bus degrades to in-memory.
func New(cfg *config.Config) (*Engine, error) {
	log := logger.Default().WithComponent("daemon")

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pulse store: %w", err)
	}

	events, err := bus.New(cfg.NATS.URL)
	if err != nil {
		log.WithError(err).Warn("event bus unavailable, falling back to in-memory")
		events = bus.NewMemoryBus()
	}

	backend, err := sentinel.ResolveBackend(cfg.Sentinel.Backend, cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	if err != nil {
		log.WithError(err).Warn("sentinel backend misconfigured, alerts disabled")
		backend = nil
	}
	alerter := sentinel.New(backend, cfg.SentinelStateDir())

	exec := executor.New(
		cfg.Agent.Command,
		cfg.DeskPath,
		time.Duration(cfg.Agent.TimeoutSeconds)*time.Second,
	)

	sched := scheduler.New(st, exec, alerter, events, cfg.Scheduler.MaxConcurrent)
	server := api.NewServer(cfg, st, sched, events)

	return &Engine{
		cfg:       cfg,
		store:     st,
		events:    events,
		scheduler: sched,
		server:    server,
		log:       log,
	}, nil
}

// Run starts the engine and blocks until SIGINT/SIGTERM or a fatal server
// error, then drains and shuts down. Returns nil on clean shutdown.
func (e *Engine) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e.log.Info("engine starting",
		zap.String("database", e.cfg.Database.Path),
		zap.String("desk_path", e.cfg.DeskPath),
		zap.Int("api_port", e.cfg.API.Port),
		zap.Int("max_concurrent", e.cfg.Scheduler.MaxConcurrent),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- e.server.Start(runCtx)
	}()

	schedDone := make(chan struct{})
	go func() {
		e.scheduler.Run(runCtx)
		close(schedDone)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		e.log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			e.log.WithError(err).Error("http ingress failed")
			runErr = err
		}
	}

	// Stop new claims and the ingress, then give in-flight executions a
	// bounded window to finish. Executions cancelled at the deadline leave
	// their pulses in the processing state.
	cancel()
	<-schedDone

	remaining := e.scheduler.Drain(drainTimeout)
	if remaining > 0 {
		e.log.Warn("executions force-cancelled at shutdown", zap.Int("count", remaining))
	}

	if err := e.events.Close(); err != nil {
		e.log.WithError(err).Warn("event bus close failed")
	}
	if err := e.store.Close(); err != nil {
		e.log.WithError(err).Warn("store close failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		e.log.WithError(err).Warn("tracer shutdown failed")
	}

	e.log.Info("engine stopped")
	return runErr
}
