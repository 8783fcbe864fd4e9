// Package store persists pulses in SQLite and implements every lifecycle
// transition the scheduler and API depend on.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/reevehq/reeve/internal/common/logger"
	"github.com/reevehq/reeve/internal/db"
	"github.com/reevehq/reeve/internal/pulse"
	"github.com/reevehq/reeve/internal/tracing"
)

const schema = `
CREATE TABLE IF NOT EXISTS pulses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	scheduled_at TIMESTAMP NOT NULL,
	prompt TEXT NOT NULL,
	priority TEXT NOT NULL DEFAULT 'normal',
	status TEXT NOT NULL DEFAULT 'pending',
	session_id TEXT,
	sticky_notes TEXT NOT NULL DEFAULT '[]',
	tags TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL,
	created_by TEXT NOT NULL DEFAULT 'system',
	executed_at TIMESTAMP,
	execution_duration_ms INTEGER,
	error_message TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3
);

CREATE INDEX IF NOT EXISTS idx_pulse_execution ON pulses (status, scheduled_at, priority);
CREATE INDEX IF NOT EXISTS idx_pulse_upcoming ON pulses (scheduled_at, status);
`

// priorityOrder sorts due pulses critical-first inside a single query.
const priorityOrder = `CASE priority
	WHEN 'critical' THEN 0
	WHEN 'high' THEN 1
	WHEN 'normal' THEN 2
	WHEN 'low' THEN 3
	WHEN 'deferred' THEN 4
	ELSE 2 END`

// maxClaimBatch caps how many due pulses a single tick may fetch.
const maxClaimBatch = 10

// Stats is the queue-depth snapshot returned by the stats endpoints.
type Stats struct {
	Pending        int `json:"pending"`
	Overdue        int `json:"overdue"`
	Failed         int `json:"failed"`
	CompletedToday int `json:"completed_today"`
	Processing     int `json:"processing"`
}

// FailureSummary is one recent failed execution, prompt truncated for display.
type FailureSummary struct {
	ID           int64   `json:"id"`
	Prompt       string  `json:"prompt"`
	ErrorMessage *string `json:"error_message"`
}

// ExecutionStats summarizes executions over the trailing 7 days. SuccessRate
// is a percentage rounded to two decimals.
type ExecutionStats struct {
	TotalCompleted int              `json:"total_completed"`
	TotalFailed    int              `json:"total_failed"`
	SuccessRate    float64          `json:"success_rate"`
	AvgDurationMS  float64          `json:"avg_duration_ms"`
	RecentFailures []FailureSummary `json:"recent_failures"`
}

// ScheduleParams carries the caller-supplied fields of a new pulse.
type ScheduleParams struct {
	ScheduledAt time.Time
	Prompt      string
	Priority    pulse.Priority
	SessionID   string
	StickyNotes []string
	Tags        []string
	CreatedBy   string
	MaxRetries  int
}

// Store is the durable pulse queue. Writes go through the single-connection
// writer pool; reads go through the reader pool.
type Store struct {
	pool   *db.Pool
	tracer trace.Tracer
	log    *logger.Logger

	// now is swappable in tests.
	now func() time.Time
}

// Open opens (and migrates) the pulse database at dbPath.
func Open(dbPath string) (*Store, error) {
	writer, err := db.OpenWriter(dbPath)
	if err != nil {
		return nil, err
	}
	wx := sqlx.NewDb(writer, "sqlite3")

	if _, err := wx.Exec(schema); err != nil {
		wx.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	reader, err := db.OpenReader(dbPath)
	if err != nil {
		wx.Close()
		return nil, err
	}
	rx := sqlx.NewDb(reader, "sqlite3")

	return NewWithPool(db.NewPool(wx, rx)), nil
}

// NewWithPool builds a Store over an existing connection pool. The schema
// must already be applied; used by tests with in-memory databases.
func NewWithPool(pool *db.Pool) *Store {
	return &Store{
		pool:   pool,
		tracer: tracing.Tracer("reeve-db"),
		log:    logger.Default().WithComponent("store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ApplySchema creates the pulses table and indexes if missing.
func ApplySchema(conn *sqlx.DB) error {
	_, err := conn.Exec(schema)
	return err
}

// Close closes the underlying database connections.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Schedule inserts a new pending pulse and returns it.
func (s *Store) Schedule(ctx context.Context, params ScheduleParams) (*pulse.Pulse, error) {
	ctx, span := s.tracer.Start(ctx, "store.schedule")
	defer span.End()

	if params.Priority == "" {
		params.Priority = pulse.PriorityNormal
	}
	if params.CreatedBy == "" {
		params.CreatedBy = "system"
	}
	if params.MaxRetries <= 0 {
		params.MaxRetries = 3
	}

	p := &pulse.Pulse{
		ScheduledAt: params.ScheduledAt.UTC(),
		Prompt:      params.Prompt,
		Priority:    params.Priority,
		Status:      pulse.StatusPending,
		StickyNotes: params.StickyNotes,
		Tags:        params.Tags,
		CreatedAt:   s.now(),
		CreatedBy:   params.CreatedBy,
		MaxRetries:  params.MaxRetries,
	}
	if params.SessionID != "" {
		p.SessionID.String = params.SessionID
		p.SessionID.Valid = true
	}

	id, err := s.insert(ctx, s.pool.Writer(), p)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule pulse: %w", err)
	}
	p.ID = id
	span.SetAttributes(attribute.Int64("pulse.id", id))

	s.log.WithPulseID(id).Info("pulse scheduled",
		zap.Time("scheduled_at", p.ScheduledAt),
		zap.String("priority", string(p.Priority)),
		zap.String("created_by", p.CreatedBy),
	)

	return p, nil
}

// insert works over both *sqlx.DB and *sqlx.Tx so MarkFailed can create the
// retry pulse inside the failure transaction.
func (s *Store) insert(ctx context.Context, ext sqlx.ExtContext, p *pulse.Pulse) (int64, error) {
	query := ext.Rebind(`
		INSERT INTO pulses (
			scheduled_at, prompt, priority, status, session_id,
			sticky_notes, tags, created_at, created_by,
			retry_count, max_retries
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	notes, err := p.StickyNotes.Value()
	if err != nil {
		return 0, err
	}
	tags, err := p.Tags.Value()
	if err != nil {
		return 0, err
	}

	res, err := ext.ExecContext(ctx, query,
		p.ScheduledAt, p.Prompt, string(p.Priority), string(p.Status),
		p.SessionID, notes, tags, p.CreatedAt, p.CreatedBy,
		p.RetryCount, p.MaxRetries,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Get returns a single pulse by id, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id int64) (*pulse.Pulse, error) {
	conn := s.pool.Reader()
	query := conn.Rebind(`SELECT * FROM pulses WHERE id = ?`)

	var p pulse.Pulse
	if err := conn.GetContext(ctx, &p, query, id); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pulse %d: %w", id, err)
	}
	return &p, nil
}

// GetDue returns pending pulses whose scheduled time has arrived, ordered by
// priority, then scheduled time, then id. limit is capped at the claim batch
// size; a non-positive limit returns nothing.
func (s *Store) GetDue(ctx context.Context, limit int) ([]*pulse.Pulse, error) {
	ctx, span := s.tracer.Start(ctx, "store.get_due")
	defer span.End()

	if limit <= 0 {
		return nil, nil
	}
	if limit > maxClaimBatch {
		limit = maxClaimBatch
	}

	conn := s.pool.Reader()
	query := conn.Rebind(fmt.Sprintf(`
		SELECT * FROM pulses
		WHERE status = 'pending' AND scheduled_at <= ?
		ORDER BY %s, scheduled_at ASC, id ASC
		LIMIT ?`, priorityOrder))

	return s.selectPulses(ctx, conn, query, s.now(), limit)
}

// GetUpcoming returns pending pulses soonest-first.
func (s *Store) GetUpcoming(ctx context.Context, limit int) ([]*pulse.Pulse, error) {
	if limit <= 0 {
		limit = 20
	}
	conn := s.pool.Reader()
	query := conn.Rebind(`
		SELECT * FROM pulses
		WHERE status = 'pending'
		ORDER BY scheduled_at ASC, id ASC
		LIMIT ?`)
	return s.selectPulses(ctx, conn, query, limit)
}

// GetByStatus lists pulses for the API. filter accepts a status name, the
// pseudo-status "overdue" (pending past schedule), or "all". Results are
// newest-scheduled first.
func (s *Store) GetByStatus(ctx context.Context, filter string, limit int) ([]*pulse.Pulse, error) {
	if limit <= 0 {
		limit = 20
	}
	conn := s.pool.Reader()

	switch filter {
	case "all":
		query := conn.Rebind(`
			SELECT * FROM pulses
			ORDER BY scheduled_at DESC, id DESC
			LIMIT ?`)
		return s.selectPulses(ctx, conn, query, limit)
	case "overdue":
		query := conn.Rebind(`
			SELECT * FROM pulses
			WHERE status = 'pending' AND scheduled_at < ?
			ORDER BY scheduled_at DESC, id DESC
			LIMIT ?`)
		return s.selectPulses(ctx, conn, query, s.now(), limit)
	default:
		if !pulse.Status(filter).Valid() {
			return nil, fmt.Errorf("invalid status filter: %q", filter)
		}
		query := conn.Rebind(`
			SELECT * FROM pulses
			WHERE status = ?
			ORDER BY scheduled_at DESC, id DESC
			LIMIT ?`)
		return s.selectPulses(ctx, conn, query, filter, limit)
	}
}

func (s *Store) selectPulses(ctx context.Context, conn *sqlx.DB, query string, args ...any) ([]*pulse.Pulse, error) {
	var rows []*pulse.Pulse
	if err := conn.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query pulses: %w", err)
	}
	return rows, nil
}

// MarkProcessing atomically claims a pending pulse. Returns false when the
// pulse is missing or no longer pending; a false return means another path
// already owns it and the caller must skip execution.
func (s *Store) MarkProcessing(ctx context.Context, id int64) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "store.mark_processing")
	defer span.End()
	span.SetAttributes(attribute.Int64("pulse.id", id))

	conn := s.pool.Writer()
	query := conn.Rebind(`
		UPDATE pulses SET status = 'processing'
		WHERE id = ? AND status = 'pending'`)

	res, err := conn.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim pulse %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// MarkCompleted finalizes a successful execution.
func (s *Store) MarkCompleted(ctx context.Context, id int64, duration time.Duration, sessionID string) error {
	ctx, span := s.tracer.Start(ctx, "store.mark_completed")
	defer span.End()
	span.SetAttributes(attribute.Int64("pulse.id", id))

	conn := s.pool.Writer()
	query := conn.Rebind(`
		UPDATE pulses SET
			status = 'completed',
			executed_at = ?,
			execution_duration_ms = ?,
			session_id = COALESCE(NULLIF(?, ''), session_id)
		WHERE id = ?`)

	if _, err := conn.ExecContext(ctx, query, s.now(), duration.Milliseconds(), sessionID, id); err != nil {
		return fmt.Errorf("failed to complete pulse %d: %w", id, err)
	}

	s.log.WithPulseID(id).Info("pulse completed",
		zap.Int64("duration_ms", duration.Milliseconds()))
	return nil
}

// MarkFailed finalizes a failed execution. When shouldRetry is true and the
// pulse still has retries left, a retry pulse is created in the same
// transaction with exponential backoff (2^retry_count minutes) and returned;
// otherwise nil is returned and the failure is final.
func (s *Store) MarkFailed(ctx context.Context, id int64, duration time.Duration, errMsg string, shouldRetry bool) (*pulse.Pulse, error) {
	ctx, span := s.tracer.Start(ctx, "store.mark_failed")
	defer span.End()
	span.SetAttributes(attribute.Int64("pulse.id", id))

	conn := s.pool.Writer()
	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var p pulse.Pulse
	if err := tx.GetContext(ctx, &p, tx.Rebind(`SELECT * FROM pulses WHERE id = ?`), id); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("pulse %d not found", id)
		}
		return nil, fmt.Errorf("failed to load pulse %d: %w", id, err)
	}

	now := s.now()
	update := tx.Rebind(`
		UPDATE pulses SET
			status = 'failed',
			executed_at = ?,
			execution_duration_ms = ?,
			error_message = ?
		WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, update, now, duration.Milliseconds(), errMsg, id); err != nil {
		return nil, fmt.Errorf("failed to fail pulse %d: %w", id, err)
	}

	var retry *pulse.Pulse
	if shouldRetry && !p.RetriesExhausted() {
		backoff := time.Duration(math.Pow(2, float64(p.RetryCount))) * time.Minute
		retry = &pulse.Pulse{
			ScheduledAt: now.Add(backoff),
			Prompt:      p.Prompt,
			Priority:    p.Priority,
			Status:      pulse.StatusPending,
			SessionID:   p.SessionID,
			StickyNotes: p.StickyNotes,
			Tags:        p.Tags,
			CreatedAt:   now,
			CreatedBy:   retryCreatedBy(p.CreatedBy),
			RetryCount:  p.RetryCount + 1,
			MaxRetries:  p.MaxRetries,
		}
		retryID, err := s.insert(ctx, tx, retry)
		if err != nil {
			return nil, fmt.Errorf("failed to create retry pulse for %d: %w", id, err)
		}
		retry.ID = retryID
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit failure for pulse %d: %w", id, err)
	}

	entry := s.log.WithPulseID(id).WithFields(
		zap.String("error", errMsg),
		zap.Int("retry_count", p.RetryCount),
		zap.Int("max_retries", p.MaxRetries),
	)
	if retry != nil {
		entry.Warn("pulse failed, retry scheduled",
			zap.Int64("retry_pulse_id", retry.ID),
			zap.Time("retry_at", retry.ScheduledAt),
		)
	} else {
		entry.Error("pulse failed, retries exhausted")
	}

	return retry, nil
}

// retryCreatedBy tags retry pulses with the lineage of their origin. The
// prefix is applied once; a retry of a retry keeps the same creator.
func retryCreatedBy(createdBy string) string {
	const prefix = "retry_"
	if len(createdBy) >= len(prefix) && createdBy[:len(prefix)] == prefix {
		return createdBy
	}
	return prefix + createdBy
}

// Cancel marks a pending pulse cancelled. Returns false when the pulse is
// missing or not pending.
func (s *Store) Cancel(ctx context.Context, id int64) (bool, error) {
	conn := s.pool.Writer()
	query := conn.Rebind(`
		UPDATE pulses SET status = 'cancelled'
		WHERE id = ? AND status = 'pending'`)
	res, err := conn.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel pulse %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Reschedule moves a pending pulse to a new time. Returns false when the
// pulse is missing or not pending.
func (s *Store) Reschedule(ctx context.Context, id int64, at time.Time) (bool, error) {
	conn := s.pool.Writer()
	query := conn.Rebind(`
		UPDATE pulses SET scheduled_at = ?
		WHERE id = ? AND status = 'pending'`)
	res, err := conn.ExecContext(ctx, query, at.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to reschedule pulse %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// GetStats returns the queue-depth snapshot.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	conn := s.pool.Reader()
	now := s.now()

	var stats Stats
	query := conn.Rebind(`
		SELECT
			SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END) AS pending,
			SUM(CASE WHEN status = 'pending' AND scheduled_at < ? THEN 1 ELSE 0 END) AS overdue,
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) AS failed,
			SUM(CASE WHEN status = 'completed' AND executed_at >= ? THEN 1 ELSE 0 END) AS completed_today,
			SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END) AS processing
		FROM pulses`)

	row := conn.QueryRowxContext(ctx, query, now, now.Add(-24*time.Hour))
	var pending, overdue, failed, completedToday, processing *int
	if err := row.Scan(&pending, &overdue, &failed, &completedToday, &processing); err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	stats.Pending = deref(pending)
	stats.Overdue = deref(overdue)
	stats.Failed = deref(failed)
	stats.CompletedToday = deref(completedToday)
	stats.Processing = deref(processing)
	return &stats, nil
}

// GetExecutionStats summarizes executions over the trailing seven days.
// The average duration covers completed pulses only; the recent-failure
// list is the last five failures regardless of window.
func (s *Store) GetExecutionStats(ctx context.Context) (*ExecutionStats, error) {
	conn := s.pool.Reader()
	since := s.now().Add(-7 * 24 * time.Hour)

	stats := &ExecutionStats{RecentFailures: []FailureSummary{}}

	query := conn.Rebind(`
		SELECT
			SUM(CASE WHEN status = 'completed' AND executed_at >= ? THEN 1 ELSE 0 END) AS completed,
			SUM(CASE WHEN status = 'failed' AND executed_at >= ? THEN 1 ELSE 0 END) AS failed,
			AVG(CASE WHEN status = 'completed' AND executed_at >= ? THEN execution_duration_ms END) AS avg_duration
		FROM pulses`)

	var completed, failed *int
	var avgDuration *float64
	if err := conn.QueryRowxContext(ctx, query, since, since, since).Scan(&completed, &failed, &avgDuration); err != nil {
		return nil, fmt.Errorf("failed to compute execution stats: %w", err)
	}
	stats.TotalCompleted = deref(completed)
	stats.TotalFailed = deref(failed)
	total := stats.TotalCompleted + stats.TotalFailed
	if total > 0 {
		stats.SuccessRate = round2(float64(stats.TotalCompleted) / float64(total) * 100.0)
	}
	if avgDuration != nil {
		stats.AvgDurationMS = round2(*avgDuration)
	}

	failures, err := s.selectPulses(ctx, conn, conn.Rebind(`
		SELECT * FROM pulses
		WHERE status = 'failed'
		ORDER BY executed_at DESC, id DESC
		LIMIT 5`))
	if err != nil {
		return nil, err
	}
	for _, f := range failures {
		summary := FailureSummary{
			ID:     f.ID,
			Prompt: truncatePrompt(f.Prompt, 100),
		}
		if f.ErrorMessage.Valid {
			msg := f.ErrorMessage.String
			summary.ErrorMessage = &msg
		}
		stats.RecentFailures = append(stats.RecentFailures, summary)
	}

	return stats, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// SetNow overrides the store clock. Test hook only.
func (s *Store) SetNow(now func() time.Time) {
	s.now = now
}

func truncatePrompt(prompt string, max int) string {
	runes := []rune(prompt)
	if len(runes) <= max {
		return prompt
	}
	return string(runes[:max]) + "..."
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
