package testutil

import (
	"context"
	"io"
	"slices"
	"sync"

	"wsync-go/internal/wsync"
)

// FakeRunner records process invocations instead of running them.
type FakeRunner struct {
	mu sync.Mutex

	// ExitCode decides the exit code of a spec; nil means every run succeeds.
	ExitCode func(wsync.ProcessSpec) int
	Output   string

	// When Block is non-nil Run signals Entered and waits for Block or ctx.
	Block   chan struct{}
	Entered chan struct{}

	specs []wsync.ProcessSpec
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// FailExecutable makes every run of exe exit with code.
func (r *FakeRunner) FailExecutable(exe string, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ExitCode = func(spec wsync.ProcessSpec) int {
		if spec.Executable == exe {
			return code
		}
		return 0
	}
}

func (r *FakeRunner) Run(ctx context.Context, spec wsync.ProcessSpec, output io.Writer) (wsync.ProcessResult, error) {
	r.mu.Lock()
	r.specs = append(r.specs, spec)
	block, entered, exitCode, out := r.Block, r.Entered, r.ExitCode, r.Output
	r.mu.Unlock()

	if block != nil {
		if entered != nil {
			select {
			case entered <- struct{}{}:
			default:
			}
		}
		select {
		case <-block:
		case <-ctx.Done():
			return wsync.ProcessResult{ExitCode: -1}, ctx.Err()
		}
	}

	if out != "" && output != nil {
		io.WriteString(output, out)
	}
	code := 0
	if exitCode != nil {
		code = exitCode(spec)
	}
	return wsync.ProcessResult{ExitCode: code, Output: out}, nil
}

// Specs returns every invocation in order.
func (r *FakeRunner) Specs() []wsync.ProcessSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.specs)
}

// Compile-time check
var _ wsync.ProcessRunner = (*FakeRunner)(nil)
