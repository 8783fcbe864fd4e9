package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureStream = `{"type":"system","subtype":"init","session_id":"sess-abc123"}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Working on it"}]}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"tu_1","name":"read_file","input":{"path":"notes.md"}}]}}
{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu_1","content":"ok"}]}}
{"type":"result","subtype":"success","session_id":"sess-abc123","is_error":false,"result":"Done.","duration_ms":4210,"num_turns":3}`

func TestParseAllFixture(t *testing.T) {
	p := NewParser()
	events := p.ParseAll(fixtureStream)
	require.Len(t, events, 5)

	assert.Equal(t, EventSystem, events[0].Type)
	assert.Equal(t, "init", events[0].Subtype)
	assert.Equal(t, EventResult, events[4].Type)

	sum := p.Summary()
	assert.Equal(t, "sess-abc123", sum.SessionID)
	assert.True(t, sum.ResultReceived)
	assert.False(t, sum.IsError)
	assert.Equal(t, "Done.", sum.ResultText)
	assert.Equal(t, 1, sum.ToolUseCount)
	assert.Equal(t, 2, sum.AssistantTurns)
	assert.Equal(t, []string{"tu_1"}, sum.ToolResultIDs)
}

func TestToolResultIDsInStreamOrder(t *testing.T) {
	p := NewParser()
	p.ParseLine(`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu_a","content":"ok"}]}}`)
	p.ParseLine(`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu_b","content":"ok"},{"type":"text","text":"and also"}]}}`)

	assert.Equal(t, []string{"tu_a", "tu_b"}, p.Summary().ToolResultIDs)
}

func TestParseToleratesNoise(t *testing.T) {
	noisy := strings.Join([]string{
		"",
		"starting agent...",
		"2026-01-20 09:00:01 INFO warming up",
		`   {"type":"system","subtype":"init","session_id":"sess-noise"}`,
		"not json at all",
		`garbage prefix {"type":"result","is_error":false,"result":"fine"}`,
		"{broken json",
	}, "\n")

	p := NewParser()
	events := p.ParseAll(noisy)
	require.Len(t, events, 2)

	sum := p.Summary()
	assert.Equal(t, "sess-noise", sum.SessionID)
	assert.True(t, sum.ResultReceived)
	assert.Equal(t, "fine", sum.ResultText)
}

// The aggregate over a noisy stream must match the aggregate over the clean
// stream with the same events.
func TestNoisePrefixDoesNotChangeAggregate(t *testing.T) {
	clean := NewParser()
	clean.ParseAll(fixtureStream)

	var noisy strings.Builder
	noisy.WriteString("boot noise\nmore noise without braces\n")
	noisy.WriteString(fixtureStream)

	dirty := NewParser()
	dirty.ParseAll(noisy.String())

	assert.Equal(t, clean.Summary(), dirty.Summary())
}

func TestSessionIDFromInitWinsOverResult(t *testing.T) {
	p := NewParser()
	p.ParseLine(`{"type":"system","subtype":"init","session_id":"from-init"}`)
	p.ParseLine(`{"type":"result","session_id":"from-result","is_error":false}`)
	assert.Equal(t, "from-init", p.Summary().SessionID)
}

func TestSessionIDFallsBackToResult(t *testing.T) {
	p := NewParser()
	p.ParseLine(`{"type":"result","session_id":"only-result","is_error":false}`)
	assert.Equal(t, "only-result", p.Summary().SessionID)
}

func TestErrorResult(t *testing.T) {
	p := NewParser()
	p.ParseLine(`{"type":"result","is_error":true,"errors":["model overloaded","secondary"],"result":"failed"}`)

	sum := p.Summary()
	assert.True(t, sum.IsError)
	assert.Equal(t, "model overloaded", sum.ErrorMessage)
}

func TestTypelessObjectIgnored(t *testing.T) {
	p := NewParser()
	assert.Nil(t, p.ParseLine(`{"session_id":"orphan"}`))
	assert.Empty(t, p.Summary().SessionID)
}

func TestReset(t *testing.T) {
	p := NewParser()
	p.ParseLine(`{"type":"system","subtype":"init","session_id":"sess-1"}`)
	require.Equal(t, "sess-1", p.Summary().SessionID)

	p.Reset()
	assert.Equal(t, Summary{}, p.Summary())
}
