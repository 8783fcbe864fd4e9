// Package pulse defines the pulse domain model: a scheduled unit of agent
// work with priority, lifecycle status, and retry accounting.
package pulse

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Priority orders pulses competing for the same dispatch slot.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
	PriorityDeferred Priority = "deferred"
)

// Rank returns the dispatch ordering weight. Lower values dispatch first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	case PriorityDeferred:
		return 4
	default:
		return 2
	}
}

// Valid reports whether p is a recognized priority level.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow, PriorityDeferred:
		return true
	}
	return false
}

// Status is the lifecycle state of a pulse.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a recognized lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the pulse will receive no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Pulse is one scheduled unit of agent work.
type Pulse struct {
	ID          int64     `db:"id"`
	ScheduledAt time.Time `db:"scheduled_at"`
	Prompt      string    `db:"prompt"`
	Priority    Priority  `db:"priority"`
	Status      Status    `db:"status"`

	// SessionID links the execution to a prior agent conversation.
	SessionID   sql.NullString `db:"session_id"`
	StickyNotes JSONStrings    `db:"sticky_notes"`
	Tags        JSONStrings    `db:"tags"`

	CreatedAt time.Time `db:"created_at"`
	CreatedBy string    `db:"created_by"`

	ExecutedAt          sql.NullTime   `db:"executed_at"`
	ExecutionDurationMS sql.NullInt64  `db:"execution_duration_ms"`
	ErrorMessage        sql.NullString `db:"error_message"`

	RetryCount int `db:"retry_count"`
	MaxRetries int `db:"max_retries"`
}

// Overdue reports whether the pulse is pending past its scheduled time.
func (p *Pulse) Overdue(now time.Time) bool {
	return p.Status == StatusPending && p.ScheduledAt.Before(now)
}

// RetriesExhausted reports whether a failure should not spawn a retry pulse.
func (p *Pulse) RetriesExhausted() bool {
	return p.RetryCount >= p.MaxRetries
}

// JSONStrings stores a string slice as a JSON text column.
type JSONStrings []string

// Scan implements sql.Scanner.
func (j *JSONStrings) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		*j = nil
		return nil
	}
	if len(raw) == 0 {
		*j = nil
		return nil
	}
	return json.Unmarshal(raw, (*[]string)(j))
}

// Value implements driver.Valuer. A nil slice persists as the empty list
// so reads never have to distinguish NULL from [].
func (j JSONStrings) Value() (driver.Value, error) {
	if j == nil {
		return "[]", nil
	}
	raw, err := json.Marshal([]string(j))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
