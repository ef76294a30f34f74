// Package execution runs notebook code cells. Cells are submitted to a FIFO
// Queue drained by a single worker, which hands each source to a Runner and
// writes outputs, execution counts and optional timing back to the cell.
package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"nbscenes/internal/logging"
)

// Result is the outcome of running one cell source.
type Result struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
	Killed     bool
	KillReason string
	Truncated  bool
}

// Failed reports whether the run should surface as an error output.
func (r *Result) Failed() bool {
	return r.Killed || r.ExitCode != 0
}

// Runner executes source code and reports what happened. A returned error
// means the runner itself could not start; script failures are reported in
// the Result.
type Runner interface {
	Run(ctx context.Context, source string) (*Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, source string) (*Result, error)

func (f RunnerFunc) Run(ctx context.Context, source string) (*Result, error) { return f(ctx, source) }

// ProcessRunner pipes each source into a fresh interpreter process.
type ProcessRunner struct {
	// Interpreter is the argv of the interpreter; the source is its stdin.
	Interpreter    []string
	Timeout        time.Duration
	MaxOutputBytes int64
	Dir            string
	Env            []string
}

// DefaultMaxOutputBytes caps each captured stream.
const DefaultMaxOutputBytes = 1 << 20

const killWaitDelay = 500 * time.Millisecond

// NewProcessRunner returns a runner for interpreter with timeout.
func NewProcessRunner(interpreter []string, timeout time.Duration) *ProcessRunner {
	logging.ExecutionDebug("creating process runner: interpreter=%v timeout=%s", interpreter, timeout)
	return &ProcessRunner{
		Interpreter:    interpreter,
		Timeout:        timeout,
		MaxOutputBytes: DefaultMaxOutputBytes,
	}
}

// Run starts the interpreter, feeds it source and waits for it to exit.
func (p *ProcessRunner) Run(ctx context.Context, source string) (*Result, error) {
	if len(p.Interpreter) == 0 || p.Interpreter[0] == "" {
		return nil, errors.New("interpreter is required")
	}

	runCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, p.Interpreter[0], p.Interpreter[1:]...)
	cmd.Dir = p.Dir
	cmd.Env = append(os.Environ(), p.Env...)
	cmd.Stdin = strings.NewReader(source)
	// Children that inherit stdout must not keep Run blocked after a kill.
	cmd.WaitDelay = killWaitDelay

	maxOutput := p.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutputBytes
	}
	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: maxOutput}
	stderr := &limitedWriter{w: &stderrBuf, max: maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	result := &Result{StartedAt: time.Now()}
	err := cmd.Run()
	result.FinishedAt = time.Now()
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()
	result.Truncated = stdout.truncated || stderr.truncated
	if result.Truncated {
		logging.ExecutionWarn("output truncated: %d bytes discarded", stdout.discarded+stderr.discarded)
	}

	if err == nil {
		return result, nil
	}
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.Killed = true
		result.KillReason = fmt.Sprintf("timeout after %s", p.Timeout)
		result.ExitCode = -1
		logging.ExecutionWarn("cell killed: %s", result.KillReason)
	case errors.Is(runCtx.Err(), context.Canceled):
		result.Killed = true
		result.KillReason = "canceled"
		result.ExitCode = -1
	default:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("start %s: %w", p.Interpreter[0], err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}

// limitedWriter keeps at most max bytes and silently discards the rest.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
