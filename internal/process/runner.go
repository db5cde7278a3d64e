// Package process runs build step programs for the update engine.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"wsync-go/internal/wsync"
)

// waitDelay bounds how long a canceled step's children may hold its
// output pipes open.
const waitDelay = 5 * time.Second

// ExecRunner starts build steps with os/exec. Output is streamed to the
// caller's writer and captured for the result.
type ExecRunner struct {
	// Env is appended to the current environment of every process.
	Env []string
	// LogWindow, when set, also receives the output of steps that ask for
	// a log window.
	LogWindow io.Writer

	logger wsync.Logger
}

// NewExecRunner creates an ExecRunner.
func NewExecRunner(logger wsync.Logger) *ExecRunner {
	if logger == nil {
		logger = wsync.NewNopLogger()
	}
	return &ExecRunner{logger: logger}
}

func (r *ExecRunner) Run(ctx context.Context, spec wsync.ProcessSpec, output io.Writer) (wsync.ProcessResult, error) {
	if spec.Executable == "" {
		return wsync.ProcessResult{}, fmt.Errorf("executable required")
	}
	args, err := SplitArguments(spec.Arguments)
	if err != nil {
		return wsync.ProcessResult{}, fmt.Errorf("parsing arguments for %s: %w", spec.Executable, err)
	}

	cmd := exec.CommandContext(ctx, spec.Executable, args...)
	cmd.Dir = spec.WorkingDir
	cmd.WaitDelay = waitDelay
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}

	var captured bytes.Buffer
	writers := []io.Writer{&captured}
	if output != nil {
		writers = append(writers, output)
	}
	if spec.UseLogWindow && r.LogWindow != nil {
		writers = append(writers, r.LogWindow)
	}
	w := &lockedWriter{w: io.MultiWriter(writers...)}
	cmd.Stdout = w
	cmd.Stderr = w

	r.logger.Debug("starting process", "exe", spec.Executable, "args", spec.Arguments, "dir", spec.WorkingDir)
	runErr := cmd.Run()
	result := wsync.ProcessResult{Output: captured.String()}
	if runErr == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		r.logger.Info("process exited", "exe", spec.Executable, "code", result.ExitCode)
		return result, nil
	}
	return result, fmt.Errorf("starting %s: %w", spec.Executable, runErr)
}

// lockedWriter serializes the stdout and stderr copies exec makes from
// separate goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// SplitArguments splits a command line into arguments. Double quotes group
// words and a backslash escapes a quote inside them.
func SplitArguments(s string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		inQuote bool
		started bool
	)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '\\' && inQuote && i+1 < len(s) && (s[i+1] == '"' || s[i+1] == '\\'):
			current.WriteByte(s[i+1])
			i++
		case ch == '"':
			inQuote = !inQuote
			started = true
		case (ch == ' ' || ch == '\t' || ch == '\n') && !inQuote:
			if started {
				args = append(args, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteByte(ch)
			started = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote in %q", s)
	}
	if started {
		args = append(args, current.String())
	}
	return args, nil
}

var _ wsync.ProcessRunner = (*ExecRunner)(nil)
