// Package sentinel is the last-resort alert channel. It must keep working
// when the scheduler, store, or API are broken, so it never propagates
// failures to callers and keeps its cooldown state in plain files.
package sentinel

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reevehq/reeve/internal/common/logger"
)

// DefaultCooldown suppresses duplicate alerts for the same key.
const DefaultCooldown = 30 * time.Minute

// Service delivers alerts with per-key cooldowns.
type Service struct {
	backend  Backend
	stateDir string
	log      *logger.Logger

	now func() time.Time
}

// New builds a Service. backend may be nil, in which case alerts are logged
// and reported as undelivered.
func New(backend Backend, stateDir string) *Service {
	return &Service{
		backend:  backend,
		stateDir: stateDir,
		log:      logger.Default().WithComponent("sentinel"),
		now:      time.Now,
	}
}

// Alert delivers message unless an alert with the same cooldownKey fired
// within cooldown. Returns true only when the message was actually sent.
// Alert never panics and never returns an error; delivery failures are
// logged and swallowed.
func (s *Service) Alert(ctx context.Context, message, cooldownKey string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	if cooldownKey != "" && s.inCooldown(cooldownKey, cooldown) {
		s.log.Debug("alert suppressed by cooldown", zap.String("cooldown_key", cooldownKey))
		return false
	}

	if s.backend == nil {
		s.log.Warn("no sentinel backend configured, alert dropped", zap.String("message", message))
		return false
	}

	if err := s.backend.Send(ctx, message); err != nil {
		s.log.WithError(err).Error("alert delivery failed", zap.String("backend", s.backend.Name()))
		return false
	}

	if cooldownKey != "" {
		s.touchCooldown(cooldownKey)
	}
	s.log.Info("alert delivered",
		zap.String("backend", s.backend.Name()),
		zap.String("cooldown_key", cooldownKey),
	)
	return true
}

func (s *Service) inCooldown(key string, cooldown time.Duration) bool {
	info, err := os.Stat(s.cooldownPath(key))
	if err != nil {
		return false
	}
	return s.now().Sub(info.ModTime()) < cooldown
}

func (s *Service) touchCooldown(key string) {
	path := s.cooldownPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
		f.Close()
	}
	now := s.now()
	_ = os.Chtimes(path, now, now)
}

func (s *Service) cooldownPath(key string) string {
	return filepath.Join(s.stateDir, ".cooldown_"+sanitizeKey(key))
}

// sanitizeKey keeps cooldown filenames safe regardless of what callers put
// in the key.
func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// SetNow overrides the clock. Test hook only.
func (s *Service) SetNow(now func() time.Time) { s.now = now }
