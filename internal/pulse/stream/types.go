// Package stream parses the line-delimited JSON event stream emitted by the
// agent CLI in stream-json output mode.
package stream

import "encoding/json"

// Event types emitted by the agent CLI.
const (
	EventSystem    = "system"
	EventAssistant = "assistant"
	EventUser      = "user"
	EventResult    = "result"
)

// Event is one decoded line of the agent stream. Only the fields the engine
// consumes are modeled; everything else is ignored at decode time.
type Event struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`

	// SessionID appears on system init events and on the final result.
	SessionID string `json:"session_id,omitempty"`

	// Message carries content blocks on assistant and user events.
	Message *Message `json:"message,omitempty"`

	// Result fields, present on the final result event.
	IsError    bool            `json:"is_error,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Errors     []string        `json:"errors,omitempty"`
	DurationMS int64           `json:"duration_ms,omitempty"`
	NumTurns   int             `json:"num_turns,omitempty"`
	TotalCost  float64         `json:"total_cost_usd,omitempty"`
}

// Message is the inner message payload of assistant and user events.
type Message struct {
	Role    string         `json:"role,omitempty"`
	Content []ContentBlock `json:"content,omitempty"`
}

// ContentBlock is one block of message content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// Tool use fields.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// Tool result fields.
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ResultText returns the result payload as a string when it is a JSON
// string, otherwise the raw JSON text.
func (e *Event) ResultText() string {
	if len(e.Result) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Result, &s); err == nil {
		return s
	}
	return string(e.Result)
}
