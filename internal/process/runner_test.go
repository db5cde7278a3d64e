package process

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"wsync-go/internal/wsync"
)

func TestSplitArguments(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{in: "", want: nil},
		{in: "UE4Editor Win64 Development -Rebuild", want: []string{"UE4Editor", "Win64", "Development", "-Rebuild"}},
		{in: `  -project="C:/My Game/Game.uproject"  -waitmutex`, want: []string{"-project=C:/My Game/Game.uproject", "-waitmutex"}},
		{in: `"" tail`, want: []string{"", "tail"}},
		{in: `"say \"hi\""`, want: []string{`say "hi"`}},
		{in: `C:\Engine\Build.bat`, want: []string{`C:\Engine\Build.bat`}},
		{in: `"open`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SplitArguments(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SplitArguments() error = %v, wantErr %v", err, tt.wantErr)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("SplitArguments() = %q, want %q", got, tt.want)
			}
		})
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts")
	}
	path := filepath.Join(t.TempDir(), "step.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecRunner_Run(t *testing.T) {
	t.Run("captures and streams output", func(t *testing.T) {
		script := writeScript(t, `echo "building $1"; echo "warning" 1>&2; pwd`)
		dir := t.TempDir()
		r := NewExecRunner(nil)

		var out bytes.Buffer
		res, err := r.Run(context.Background(), wsync.ProcessSpec{
			Executable: script,
			Arguments:  `"Game Editor"`,
			WorkingDir: dir,
		}, &out)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.ExitCode != 0 {
			t.Errorf("ExitCode = %d, want 0", res.ExitCode)
		}
		for _, want := range []string{"building Game Editor", "warning", filepath.Base(dir)} {
			if !strings.Contains(res.Output, want) {
				t.Errorf("Output = %q, missing %q", res.Output, want)
			}
		}
		if out.String() != res.Output {
			t.Errorf("streamed %q, captured %q", out.String(), res.Output)
		}
	})

	t.Run("non-zero exit is a result", func(t *testing.T) {
		script := writeScript(t, `echo "error C2065"; exit 6`)
		res, err := NewExecRunner(nil).Run(context.Background(), wsync.ProcessSpec{Executable: script}, nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.ExitCode != 6 {
			t.Errorf("ExitCode = %d, want 6", res.ExitCode)
		}
	})

	t.Run("log window", func(t *testing.T) {
		script := writeScript(t, `echo cooking`)
		r := NewExecRunner(nil)
		var window bytes.Buffer
		r.LogWindow = &window
		if _, err := r.Run(context.Background(), wsync.ProcessSpec{Executable: script, UseLogWindow: true}, nil); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !strings.Contains(window.String(), "cooking") {
			t.Errorf("log window = %q", window.String())
		}
	})

	t.Run("environment", func(t *testing.T) {
		script := writeScript(t, `echo "$WSYNC_STEP"`)
		r := NewExecRunner(nil)
		r.Env = []string{"WSYNC_STEP=compile"}
		res, err := r.Run(context.Background(), wsync.ProcessSpec{Executable: script}, nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if strings.TrimSpace(res.Output) != "compile" {
			t.Errorf("Output = %q, want compile", res.Output)
		}
	})

	t.Run("missing executable", func(t *testing.T) {
		_, err := NewExecRunner(nil).Run(context.Background(), wsync.ProcessSpec{Executable: filepath.Join(t.TempDir(), "nope")}, nil)
		if err == nil {
			t.Error("Run() expected error for a missing executable")
		}
	})

	t.Run("canceled", func(t *testing.T) {
		script := writeScript(t, `exec sleep 10`)
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		if _, err := NewExecRunner(nil).Run(ctx, wsync.ProcessSpec{Executable: script}, nil); err == nil {
			t.Error("Run() expected error after cancellation")
		}
	})
}
