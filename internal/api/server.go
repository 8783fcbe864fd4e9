// Package api is the HTTP ingress: a bearer-authenticated gin server that
// schedules and inspects pulses.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/reevehq/reeve/internal/common/config"
	"github.com/reevehq/reeve/internal/common/httpmw"
	"github.com/reevehq/reeve/internal/common/logger"
	"github.com/reevehq/reeve/internal/events/bus"
	"github.com/reevehq/reeve/internal/pulse/store"
)

// ConcurrencyReporter exposes live execution counts for the status endpoint.
// Satisfied by *scheduler.Scheduler.
type ConcurrencyReporter interface {
	InFlight() int
	MaxConcurrent() int
}

// Server is the HTTP ingress.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	reporter ConcurrencyReporter
	events   bus.EventBus
	engine   *gin.Engine
	httpSrv  *http.Server
	log      *logger.Logger
}

// NewServer builds the ingress. reporter and events may be nil (the status
// endpoint then omits live concurrency numbers, and no scheduled events are
// published).
func NewServer(cfg *config.Config, st *store.Store, reporter ConcurrencyReporter, events bus.EventBus) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:      cfg,
		store:    st,
		reporter: reporter,
		events:   events,
		log:      logger.Default().WithComponent("api"),
	}

	engine := gin.New()
	engine.Use(httpmw.Recovery())
	engine.Use(httpmw.RequestLogger())

	root := engine.Group("/api")
	root.GET("/health", s.handleHealth)

	authed := root.Group("")
	authed.Use(httpmw.BearerAuth(cfg.API.Token))
	{
		authed.POST("/pulse/schedule", s.handleSchedule)
		authed.GET("/pulse/upcoming", s.handleUpcoming)
		authed.GET("/pulse/list", s.handleList)
		authed.GET("/pulse/stats", s.handlePulseStats)
		authed.GET("/pulse/:id", s.handleGetPulse)
		authed.GET("/stats", s.handleExecutionStats)
		authed.GET("/status", s.handleStatus)
	}

	s.engine = engine
	return s
}

// Handler returns the underlying handler. Test hook for httptest.
func (s *Server) Handler() http.Handler { return s.engine }

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully. Returns nil on clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.API.Port),
		Handler:      s.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http ingress listening", zap.Int("port", s.cfg.API.Port))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
