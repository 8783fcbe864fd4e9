// Package scheduler runs the dispatch loop: it wakes every second, claims
// due pulses up to the concurrency cap, and drives each through execution
// and its terminal status transition.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/reevehq/reeve/internal/common/logger"
	"github.com/reevehq/reeve/internal/events/bus"
	"github.com/reevehq/reeve/internal/pulse"
	"github.com/reevehq/reeve/internal/pulse/executor"
	"github.com/reevehq/reeve/internal/sentinel"
)

const (
	tickInterval = 1 * time.Second

	// errorBackoff pauses the loop after a store error so a wedged
	// database does not spin the loop hot.
	errorBackoff = 5 * time.Second
)

// Store is the pulse persistence surface the scheduler needs.
type Store interface {
	GetDue(ctx context.Context, limit int) ([]*pulse.Pulse, error)
	MarkProcessing(ctx context.Context, id int64) (bool, error)
	MarkCompleted(ctx context.Context, id int64, duration time.Duration, sessionID string) error
	MarkFailed(ctx context.Context, id int64, duration time.Duration, errMsg string, shouldRetry bool) (*pulse.Pulse, error)
}

// Executor runs the agent for one pulse.
type Executor interface {
	Execute(ctx context.Context, p *pulse.Pulse) (*executor.Result, error)
}

// Alerter raises failsafe alerts. Satisfied by *sentinel.Service.
type Alerter interface {
	Alert(ctx context.Context, message, cooldownKey string, cooldown time.Duration) bool
}

// Scheduler owns the dispatch loop and the in-flight execution pool.
type Scheduler struct {
	store    Store
	executor Executor
	alerter  Alerter
	events   bus.EventBus

	maxConcurrent int64
	sem           *semaphore.Weighted
	inFlight      atomic.Int64
	wg            sync.WaitGroup

	// execCtx outlives the dispatch loop so in-flight executions keep
	// running during drain; execCancel force-kills them at the deadline.
	execCtx    context.Context
	execCancel context.CancelFunc

	log *logger.Logger
}

// New builds a Scheduler. alerter and events may be nil.
func New(store Store, exec Executor, alerter Alerter, events bus.EventBus, maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	execCtx, execCancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:         store,
		executor:      exec,
		alerter:       alerter,
		events:        events,
		maxConcurrent: int64(maxConcurrent),
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		execCtx:       execCtx,
		execCancel:    execCancel,
		log:           logger.Default().WithComponent("scheduler"),
	}
}

// InFlight returns the number of executions currently running.
func (s *Scheduler) InFlight() int {
	return int(s.inFlight.Load())
}

// MaxConcurrent returns the configured concurrency cap.
func (s *Scheduler) MaxConcurrent() int {
	return int(s.maxConcurrent)
}

// Run blocks, dispatching due pulses every tick until ctx is cancelled.
// Cancellation stops new claims only; call Drain to wait for in-flight work.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("dispatch loop started", zap.Int64("max_concurrent", s.maxConcurrent))

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("dispatch loop stopped")
			return
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.log.WithError(err).Error("dispatch tick failed")
				select {
				case <-ctx.Done():
					return
				case <-time.After(errorBackoff):
				}
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	available := int(s.maxConcurrent - s.inFlight.Load())
	if available <= 0 {
		return nil
	}

	due, err := s.store.GetDue(ctx, available)
	if err != nil {
		return fmt.Errorf("failed to fetch due pulses: %w", err)
	}

	for _, p := range due {
		if ctx.Err() != nil {
			return nil
		}
		if !s.sem.TryAcquire(1) {
			return nil
		}

		claimed, err := s.store.MarkProcessing(ctx, p.ID)
		if err != nil {
			s.sem.Release(1)
			return fmt.Errorf("failed to claim pulse %d: %w", p.ID, err)
		}
		if !claimed {
			// Lost the race to another claimer, or the pulse was
			// cancelled between fetch and claim.
			s.sem.Release(1)
			continue
		}

		s.publish(bus.SubjectPulseStarted, bus.PulseEvent{
			PulseID:   p.ID,
			Status:    string(pulse.StatusProcessing),
			Priority:  string(p.Priority),
			CreatedBy: p.CreatedBy,
		})

		s.inFlight.Add(1)
		s.wg.Add(1)
		go s.execute(p)
	}
	return nil
}

// execute runs one claimed pulse to its terminal status. Runs on its own
// goroutine under execCtx so it survives dispatch loop shutdown.
func (s *Scheduler) execute(p *pulse.Pulse) {
	defer func() {
		s.inFlight.Add(-1)
		s.sem.Release(1)
		s.wg.Done()
	}()

	result, err := s.executor.Execute(s.execCtx, p)
	if err != nil {
		s.finishFailed(p, 0, err.Error())
		return
	}
	if result.Success {
		s.finishCompleted(p, result)
		return
	}
	if s.execCtx.Err() != nil && !result.TimedOut {
		// Force-cancelled at shutdown. The pulse stays processing; it did
		// not genuinely fail, so no failure is recorded and no retry budget
		// is consumed.
		s.log.WithPulseID(p.ID).Warn("execution cancelled at shutdown, pulse left processing")
		return
	}
	s.finishFailed(p, result.Duration, result.ErrorMessage)
}

func (s *Scheduler) finishCompleted(p *pulse.Pulse, result *executor.Result) {
	// Status writes use a fresh context: the terminal transition must land
	// even when execCtx was cancelled mid-drain.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.store.MarkCompleted(ctx, p.ID, result.Duration, result.SessionID); err != nil {
		s.log.WithError(err).WithPulseID(p.ID).Error("failed to record completion")
		return
	}
	s.publish(bus.SubjectPulseCompleted, bus.PulseEvent{
		PulseID:    p.ID,
		Status:     string(pulse.StatusCompleted),
		Priority:   string(p.Priority),
		CreatedBy:  p.CreatedBy,
		DurationMS: result.Duration.Milliseconds(),
	})
}

func (s *Scheduler) finishFailed(p *pulse.Pulse, duration time.Duration, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	retry, err := s.store.MarkFailed(ctx, p.ID, duration, errMsg, true)
	if err != nil {
		s.log.WithError(err).WithPulseID(p.ID).Error("failed to record failure")
		return
	}

	event := bus.PulseEvent{
		PulseID:    p.ID,
		Status:     string(pulse.StatusFailed),
		Priority:   string(p.Priority),
		CreatedBy:  p.CreatedBy,
		Error:      errMsg,
		DurationMS: duration.Milliseconds(),
	}
	s.publish(bus.SubjectPulseFailed, event)

	if retry != nil {
		s.publish(bus.SubjectPulseRetry, bus.PulseEvent{
			PulseID:   retry.ID,
			Status:    string(pulse.StatusPending),
			Priority:  string(retry.Priority),
			CreatedBy: retry.CreatedBy,
			RetryOf:   p.ID,
		})
		return
	}

	// Retries exhausted: this failure is final, so wake a human.
	if s.alerter != nil {
		message := fmt.Sprintf(
			"🚨 Pulse %d failed permanently after %d retries.\nPrompt: %s\nError: %s",
			p.ID, p.MaxRetries, truncate(p.Prompt, 200), truncate(errMsg, 500),
		)
		s.alerter.Alert(ctx, message, fmt.Sprintf("pulse_failed_%d", p.ID), sentinel.DefaultCooldown)
	}
}

func (s *Scheduler) publish(subject string, event bus.PulseEvent) {
	if s.events == nil {
		return
	}
	s.events.Publish(context.Background(), subject, event)
}

// Drain waits up to timeout for in-flight executions to finish, then
// force-cancels any that remain. Returns the number still running at the
// deadline (their pulses stay in the processing state).
func (s *Scheduler) Drain(timeout time.Duration) int {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.execCancel()
		return 0
	case <-time.After(timeout):
		remaining := s.InFlight()
		s.log.Warn("drain deadline reached, cancelling executions", zap.Int("remaining", remaining))
		s.execCancel()
		s.wg.Wait()
		return remaining
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
