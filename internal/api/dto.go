package api

import (
	"github.com/reevehq/reeve/internal/common/timeutil"
	"github.com/reevehq/reeve/internal/pulse"
)

// scheduleRequest is the POST /api/pulse/schedule body.
type scheduleRequest struct {
	Prompt      string   `json:"prompt"`
	ScheduledAt string   `json:"scheduled_at"`
	Priority    string   `json:"priority"`
	SessionID   string   `json:"session_id"`
	StickyNotes []string `json:"sticky_notes"`
	Tags        []string `json:"tags"`
	Source      string   `json:"source"`
}

// scheduleResponse confirms a scheduled pulse.
type scheduleResponse struct {
	PulseID     int64  `json:"pulse_id"`
	ScheduledAt string `json:"scheduled_at"`
	Message     string `json:"message"`
}

// upcomingItem is one entry in the upcoming list, prompt truncated.
type upcomingItem struct {
	ID          int64  `json:"id"`
	ScheduledAt string `json:"scheduled_at"`
	Priority    string `json:"priority"`
	Prompt      string `json:"prompt"`
	Status      string `json:"status"`
}

type upcomingResponse struct {
	Count  int            `json:"count"`
	Pulses []upcomingItem `json:"pulses"`
}

type listResponse struct {
	Count  int            `json:"count"`
	Status string         `json:"status"`
	Pulses []pulseDetails `json:"pulses"`
}

// pulseDetails is the full pulse record as exposed over HTTP.
type pulseDetails struct {
	ID                  int64    `json:"id"`
	ScheduledAt         string   `json:"scheduled_at"`
	Prompt              string   `json:"prompt"`
	Priority            string   `json:"priority"`
	Status              string   `json:"status"`
	SessionID           *string  `json:"session_id"`
	StickyNotes         []string `json:"sticky_notes"`
	Tags                []string `json:"tags"`
	CreatedAt           string   `json:"created_at"`
	CreatedBy           string   `json:"created_by"`
	ExecutedAt          *string  `json:"executed_at"`
	ExecutionDurationMS *int64   `json:"execution_duration_ms"`
	ErrorMessage        *string  `json:"error_message"`
	RetryCount          int      `json:"retry_count"`
	MaxRetries          int      `json:"max_retries"`
}

func toPulseDetails(p *pulse.Pulse) pulseDetails {
	d := pulseDetails{
		ID:          p.ID,
		ScheduledAt: timeutil.FormatUTC(p.ScheduledAt),
		Prompt:      p.Prompt,
		Priority:    string(p.Priority),
		Status:      string(p.Status),
		StickyNotes: emptyIfNil(p.StickyNotes),
		Tags:        emptyIfNil(p.Tags),
		CreatedAt:   timeutil.FormatUTC(p.CreatedAt),
		CreatedBy:   p.CreatedBy,
		RetryCount:  p.RetryCount,
		MaxRetries:  p.MaxRetries,
	}
	if p.SessionID.Valid {
		v := p.SessionID.String
		d.SessionID = &v
	}
	if p.ExecutedAt.Valid {
		v := timeutil.FormatUTC(p.ExecutedAt.Time)
		d.ExecutedAt = &v
	}
	if p.ExecutionDurationMS.Valid {
		v := p.ExecutionDurationMS.Int64
		d.ExecutionDurationMS = &v
	}
	if p.ErrorMessage.Valid {
		v := p.ErrorMessage.String
		d.ErrorMessage = &v
	}
	return d
}

func toUpcomingItem(p *pulse.Pulse) upcomingItem {
	return upcomingItem{
		ID:          p.ID,
		ScheduledAt: timeutil.FormatUTC(p.ScheduledAt),
		Priority:    string(p.Priority),
		Prompt:      truncate(p.Prompt, 100),
		Status:      string(p.Status),
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
