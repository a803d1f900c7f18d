// Package terminal runs one-shot shell commands in the workspace directory.
// Commands are parsed as shell syntax before execution so malformed input
// fails fast instead of spawning a process that dies on a parse error.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"mvdan.cc/sh/v3/syntax"

	"github.com/agentdeck/agentdeck/internal/logging"
)

const (
	// DefaultTimeout bounds a command when the caller gives none.
	DefaultTimeout = 30 * time.Second
	// maxOutputBytes caps captured output.
	maxOutputBytes = 1 << 20
)

// ErrEmptyCommand is returned for blank commands.
var ErrEmptyCommand = errors.New("command is empty")

// SyntaxError reports a shell parse failure before execution.
type SyntaxError struct {
	Err error
}

func (e *SyntaxError) Error() string { return fmt.Sprintf("invalid shell syntax: %v", e.Err) }
func (e *SyntaxError) Unwrap() error { return e.Err }

// Result is the outcome of one command.
type Result struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exitCode"`
	TimedOut bool   `json:"timedOut"`
	Duration int64  `json:"durationMs"`
}

// Runner executes commands under a fixed working directory.
type Runner struct {
	dir     string
	timeout time.Duration
	log     zerolog.Logger
}

// NewRunner creates a runner rooted at dir. timeout <= 0 means
// DefaultTimeout.
func NewRunner(dir string, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{
		dir:     dir,
		timeout: timeout,
		log:     logging.For("terminal"),
	}
}

// Run executes one command and captures its combined output. A non-zero
// exit status is not an error; it lands in Result.ExitCode. Errors mean the
// command never ran (empty input, bad syntax, spawn failure).
func (r *Runner) Run(ctx context.Context, command string) (*Result, error) {
	if strings.TrimSpace(command) == "" {
		return nil, ErrEmptyCommand
	}

	parser := syntax.NewParser()
	if _, err := parser.Parse(strings.NewReader(command), ""); err != nil {
		return nil, &SyntaxError{Err: err}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = r.dir

	var out boundedBuffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := &Result{
		Output:   out.String(),
		Duration: elapsed.Milliseconds(),
		TimedOut: errors.Is(runCtx.Err(), context.DeadlineExceeded),
	}

	switch {
	case err == nil:
		result.ExitCode = 0
	case result.TimedOut:
		result.ExitCode = -1
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("failed to run command: %w", err)
		}
	}

	r.log.Debug().Str("command", command).Int("exitCode", result.ExitCode).
		Dur("elapsed", elapsed).Msg("command finished")
	return result, nil
}

// boundedBuffer keeps at most maxOutputBytes; the rest is discarded.
type boundedBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if remaining := maxOutputBytes - len(b.buf); remaining > 0 {
		if len(p) > remaining {
			b.buf = append(b.buf, p[:remaining]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
