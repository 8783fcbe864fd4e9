package stream

import (
	"encoding/json"
	"strings"
)

// Summary is the digest of a full agent stream: what the engine needs to
// decide success, link sessions, and report errors.
type Summary struct {
	// SessionID from the system init event, falling back to the result.
	SessionID string

	// ResultReceived is true once a result event has been seen.
	ResultReceived bool
	IsError        bool
	ErrorMessage   string
	ResultText     string

	ToolUseCount   int
	AssistantTurns int

	// ToolResultIDs are the tool_use ids answered by tool_result blocks,
	// in stream order.
	ToolResultIDs []string
}

// Parser consumes agent output one line at a time and accumulates a Summary.
// Lines that are not valid events (log noise, partial writes, blank lines)
// are skipped rather than failing the stream.
type Parser struct {
	summary Summary

	// sessionFromInit records that SessionID came from the system init
	// event, which wins over the result event's copy.
	sessionFromInit bool
}

// NewParser returns a Parser with empty state.
func NewParser() *Parser {
	return &Parser{}
}

// ParseLine decodes one line of agent output. It returns the decoded event,
// or nil when the line carries no event. Malformed lines never return an
// error; agent CLIs interleave plain log text with the JSON stream.
func (p *Parser) ParseLine(line string) *Event {
	payload := extractJSON(line)
	if payload == "" {
		return nil
	}

	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil
	}
	if ev.Type == "" {
		return nil
	}

	p.observe(&ev)
	return &ev
}

// ParseAll resets the parser and consumes a complete output blob.
func (p *Parser) ParseAll(output string) []*Event {
	p.Reset()
	var events []*Event
	for _, line := range strings.Split(output, "\n") {
		if ev := p.ParseLine(line); ev != nil {
			events = append(events, ev)
		}
	}
	return events
}

// Reset clears all accumulated state.
func (p *Parser) Reset() {
	*p = Parser{}
}

// Summary returns the digest accumulated so far.
func (p *Parser) Summary() Summary {
	return p.summary
}

func (p *Parser) observe(ev *Event) {
	switch ev.Type {
	case EventSystem:
		if ev.Subtype == "init" && ev.SessionID != "" {
			p.summary.SessionID = ev.SessionID
			p.sessionFromInit = true
		}
	case EventAssistant:
		p.summary.AssistantTurns++
		if ev.Message != nil {
			for _, block := range ev.Message.Content {
				if block.Type == "tool_use" {
					p.summary.ToolUseCount++
				}
			}
		}
	case EventUser:
		if ev.Message != nil {
			for _, block := range ev.Message.Content {
				if block.Type == "tool_result" && block.ToolUseID != "" {
					p.summary.ToolResultIDs = append(p.summary.ToolResultIDs, block.ToolUseID)
				}
			}
		}
	case EventResult:
		p.summary.ResultReceived = true
		p.summary.IsError = ev.IsError
		p.summary.ResultText = ev.ResultText()
		if len(ev.Errors) > 0 {
			p.summary.ErrorMessage = ev.Errors[0]
		}
		if ev.SessionID != "" && !p.sessionFromInit {
			p.summary.SessionID = ev.SessionID
		}
	}
}

// extractJSON returns the JSON object portion of a line, tolerating prefix
// noise (timestamps, log levels) before the opening brace. Returns "" when
// the line holds no object.
func extractJSON(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	idx := strings.IndexByte(line, '{')
	if idx < 0 {
		return ""
	}
	return line[idx:]
}
