// Package executor runs the agent CLI for a single pulse and digests its
// stream-json output into a pass/fail verdict.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/reevehq/reeve/internal/common/logger"
	"github.com/reevehq/reeve/internal/pulse"
	"github.com/reevehq/reeve/internal/pulse/stream"
	"github.com/reevehq/reeve/internal/tracing"
)

// Launch failures, detected before or instead of running the agent.
var (
	ErrExecutableMissing = errors.New("agent executable not found")
	ErrWorkingDirMissing = errors.New("agent working directory does not exist")
)

// DefaultTimeout bounds a single agent execution.
const DefaultTimeout = 3600 * time.Second

// maxScanTokenSize allows very long single-line JSON events.
const maxScanTokenSize = 10 * 1024 * 1024

// Result is the outcome of one agent execution.
type Result struct {
	// Success is true when the process exited 0 and the stream's result
	// event did not flag an error.
	Success bool

	// ReturnCode is the process exit code; -1 when killed on timeout or
	// cancellation.
	ReturnCode int
	TimedOut   bool

	// SessionID extracted from the stream, empty when none was reported.
	SessionID string

	ErrorMessage string
	Duration     time.Duration

	// Stdout is the raw agent output; Summary is its parsed digest.
	Stdout  string
	Stderr  string
	Summary stream.Summary
}

// Executor launches the agent CLI in the desk directory.
type Executor struct {
	agentCommand string
	deskPath     string
	timeout      time.Duration
	tracer       trace.Tracer
	log          *logger.Logger
}

// New builds an Executor. A non-positive timeout falls back to DefaultTimeout.
func New(agentCommand, deskPath string, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{
		agentCommand: agentCommand,
		deskPath:     deskPath,
		timeout:      timeout,
		tracer:       tracing.Tracer("reeve-executor"),
		log:          logger.Default().WithComponent("executor"),
	}
}

// BuildPrompt composes the full prompt sent to the agent, appending sticky
// notes as a reminder block when present.
func BuildPrompt(prompt string, stickyNotes []string) string {
	if len(stickyNotes) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\n📌 Reminders:")
	for _, note := range stickyNotes {
		b.WriteString("\n  - ")
		b.WriteString(note)
	}
	return b.String()
}

// Execute runs the agent for one pulse and blocks until it finishes, times
// out, or ctx is cancelled. A returned error means the process could not be
// launched; once the process runs, failures are reported through Result.
func (e *Executor) Execute(ctx context.Context, p *pulse.Pulse) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "executor.execute")
	defer span.End()
	span.SetAttributes(attribute.Int64("pulse.id", p.ID))

	if info, err := os.Stat(e.deskPath); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrWorkingDirMissing, e.deskPath)
	}
	binary, err := exec.LookPath(e.agentCommand)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrExecutableMissing, e.agentCommand)
	}

	args := []string{"--print", "--output-format", "stream-json", "--verbose"}
	if p.SessionID.Valid && p.SessionID.String != "" {
		args = append(args, "--resume", p.SessionID.String)
	}
	fullPrompt := BuildPrompt(p.Prompt, p.StickyNotes)
	args = append(args, fullPrompt)

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, binary, args...)
	cmd.Dir = e.deskPath

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	e.log.WithPulseID(p.ID).Info("launching agent",
		zap.String("agent", e.agentCommand),
		zap.String("prompt_preview", preview(p.Prompt, 50)),
		zap.Bool("resume", p.SessionID.Valid),
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrExecutableMissing, e.agentCommand)
		}
		return nil, fmt.Errorf("failed to start agent: %w", err)
	}

	// Drain both pipes concurrently so the agent never blocks on a full
	// pipe buffer.
	parser := stream.NewParser()
	var stdoutBuf, stderrBuf strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), maxScanTokenSize)
		for scanner.Scan() {
			line := scanner.Text()
			stdoutBuf.WriteString(line)
			stdoutBuf.WriteByte('\n')
			parser.ParseLine(line)
		}
	}()
	go func() {
		defer wg.Done()
		io.Copy(&stderrBuf, stderr)
	}()

	waitErr := cmd.Wait()
	wg.Wait()
	duration := time.Since(start)

	result := &Result{
		Duration: duration,
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Summary:  parser.Summary(),
	}
	result.SessionID = result.Summary.SessionID

	switch {
	case runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		result.ReturnCode = -1
		result.TimedOut = true
		result.ErrorMessage = fmt.Sprintf("execution timed out after %ds", int(e.timeout.Seconds()))
	case ctx.Err() != nil:
		result.ReturnCode = -1
		result.ErrorMessage = "execution cancelled"
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ReturnCode = exitErr.ExitCode()
		} else {
			result.ReturnCode = -1
		}
		result.ErrorMessage = e.failureMessage(result)
	default:
		result.ReturnCode = 0
		if result.Summary.IsError {
			result.ErrorMessage = e.failureMessage(result)
		} else {
			result.Success = true
		}
	}

	entry := e.log.WithPulseID(p.ID).WithFields(
		zap.Int("return_code", result.ReturnCode),
		zap.Int64("duration_ms", duration.Milliseconds()),
		zap.Int("tool_uses", result.Summary.ToolUseCount),
	)
	if result.Success {
		entry.Info("agent execution completed")
	} else {
		entry.Warn("agent execution failed", zap.String("error", result.ErrorMessage))
	}

	return result, nil
}

// failureMessage prefers the stream's own error report, falling back to the
// stderr tail and finally the exit code.
func (e *Executor) failureMessage(r *Result) string {
	if msg := r.Summary.ErrorMessage; msg != "" {
		return msg
	}
	if r.Summary.IsError && r.Summary.ResultText != "" {
		return r.Summary.ResultText
	}
	if tail := strings.TrimSpace(r.Stderr); tail != "" {
		return preview(tail, 500)
	}
	return fmt.Sprintf("agent exited with code %d", r.ReturnCode)
}

func preview(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
