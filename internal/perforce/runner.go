package perforce

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// Output is what one p4 invocation printed.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes p4 with the given arguments. A non-zero exit is reported
// through Output.ExitCode; errors mean p4 could not be started.
type Runner interface {
	Run(ctx context.Context, args []string, stdin io.Reader) (Output, error)
}

// ExecRunner runs the p4 executable.
type ExecRunner struct {
	Path string
}

func (r ExecRunner) Run(ctx context.Context, args []string, stdin io.Reader) (Output, error) {
	path := r.Path
	if path == "" {
		path = "p4"
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, fmt.Errorf("running %s: %w", path, err)
	}
	return out, nil
}
