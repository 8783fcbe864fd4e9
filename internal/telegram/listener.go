// Package telegram bridges inbound chat messages into pulses. The listener
// long-polls the Bot API, filters to the configured chat, and posts each
// text message to the daemon's schedule endpoint as a critical pulse.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/reevehq/reeve/internal/common/logger"
)

const (
	// pollPause separates polling cycles after a successful batch.
	pollPause = 1 * time.Second

	// maxBackoff caps the exponential error backoff.
	maxBackoff = 300 * time.Second

	// maxConsecutiveErrors terminates the bridge; something structural is
	// wrong and a supervisor restart is more useful than spinning.
	maxConsecutiveErrors = 10
)

// Listener is the inbound bridge.
type Listener struct {
	bot    *BotClient
	pulses *PulseClient
	offset *OffsetFile
	chatID string
	log    *logger.Logger

	lastUpdateID int64
	errorCount   int

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewListener builds the bridge. chatID is the only authorized chat.
func NewListener(bot *BotClient, pulses *PulseClient, offset *OffsetFile, chatID string) *Listener {
	return &Listener{
		bot:    bot,
		pulses: pulses,
		offset: offset,
		chatID: chatID,
		log:    logger.Default().WithComponent("telegram"),
		sleep:  sleepCtx,
	}
}

// Run verifies credentials, then polls until ctx is cancelled or the error
// budget is exhausted. The offset is saved after every successful batch and
// once more on shutdown.
func (l *Listener) Run(ctx context.Context) error {
	info, err := l.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("bot verification failed: %w", err)
	}
	l.log.Info("bot verified",
		zap.String("username", info.Username),
		zap.String("first_name", info.FirstName),
	)

	if offset, ok := l.offset.Load(); ok {
		l.lastUpdateID = offset
		l.log.Info("loaded offset from disk", zap.Int64("offset", offset))
	} else {
		l.log.Info("no offset found, starting fresh")
	}

	l.log.Info("polling loop started")
	defer l.saveOffset()

	for {
		if ctx.Err() != nil {
			l.log.Info("polling loop stopped")
			return nil
		}

		updates, err := l.bot.GetUpdates(ctx, l.lastUpdateID)
		if err != nil {
			if ctx.Err() != nil {
				l.log.Info("polling loop stopped")
				return nil
			}
			l.errorCount++
			if l.errorCount >= maxConsecutiveErrors {
				return fmt.Errorf("too many consecutive errors (%d), last: %w", l.errorCount, err)
			}
			backoff := backoffFor(l.errorCount)
			l.log.WithError(err).Warn("polling error, backing off",
				zap.Int("error_count", l.errorCount),
				zap.Duration("backoff", backoff),
			)
			l.sleep(ctx, backoff)
			continue
		}

		if len(updates) > 0 {
			for _, update := range updates {
				l.processUpdate(ctx, update)
				// Always acknowledge, filtered or failed updates
				// included; a poison update must not wedge the
				// bridge.
				l.lastUpdateID = update.UpdateID + 1
			}
			l.saveOffset()
			l.log.Debug("processed update batch", zap.Int("count", len(updates)))
		}
		l.errorCount = 0

		l.sleep(ctx, pollPause)
	}
}

// processUpdate handles one update. Failures are logged and swallowed so the
// batch continues.
func (l *Listener) processUpdate(ctx context.Context, update Update) {
	msg := update.Message
	if msg == nil {
		l.log.Debug("update has no message, skipping", zap.Int64("update_id", update.UpdateID))
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	if chatID != l.chatID {
		l.log.Warn("ignoring message from unauthorized chat",
			zap.String("chat_id", chatID),
			zap.String("expected", l.chatID),
		)
		return
	}

	if msg.Text == "" {
		l.log.Debug("skipping non-text message")
		return
	}

	display := "User"
	if msg.From != nil {
		display = msg.From.FirstName
		if msg.From.Username != "" {
			display += " (@" + msg.From.Username + ")"
		}
	}
	prompt := fmt.Sprintf("Telegram message from %s: %s", display, msg.Text)

	l.log.Info("received message", zap.String("preview", preview(msg.Text, 50)))

	pulseID, err := l.pulses.TriggerPulse(ctx, prompt)
	if err != nil {
		l.log.WithError(err).Error("failed to trigger pulse", zap.String("user", display))
		return
	}
	l.log.WithPulseID(pulseID).Info("triggered pulse", zap.String("user", display))
}

func (l *Listener) saveOffset() {
	if l.lastUpdateID == 0 {
		return
	}
	if err := l.offset.Save(l.lastUpdateID); err != nil {
		l.log.WithError(err).Warn("failed to save offset")
	}
}

// backoffFor returns min(2^n, maxBackoff) seconds.
func backoffFor(errorCount int) time.Duration {
	if errorCount > 8 {
		return maxBackoff
	}
	d := time.Duration(1<<errorCount) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func preview(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
