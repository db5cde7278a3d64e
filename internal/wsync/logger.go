package wsync

import (
	"bytes"
	"io"
	"sync"
)

// Logger receives structured diagnostics from the engine and catalog.
// Args alternate keys and values in the slog style.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger discards everything. Use in tests.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}

// outputSink serializes writes from the run goroutine and child processes,
// and keeps the most recent lines for failure messages.
type outputSink struct {
	mu    sync.Mutex
	w     io.Writer
	tail  []string
	limit int
	line  bytes.Buffer
}

func newOutputSink(w io.Writer, limit int) *outputSink {
	if w == nil {
		w = io.Discard
	}
	return &outputSink{w: w, limit: limit}
}

func (s *outputSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range p {
		if b == '\n' {
			s.pushLine()
			continue
		}
		s.line.WriteByte(b)
	}
	// sink errors never fail the run
	_, _ = s.w.Write(p)
	return len(p), nil
}

func (s *outputSink) pushLine() {
	s.tail = append(s.tail, string(bytes.TrimRight(s.line.Bytes(), "\r")))
	s.line.Reset()
	if len(s.tail) > s.limit {
		s.tail = s.tail[len(s.tail)-s.limit:]
	}
}

// Println writes one engine status line.
func (s *outputSink) Println(line string) {
	_, _ = s.Write([]byte(line + "\n"))
}

// Reset forgets the captured tail.
func (s *outputSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tail = nil
	s.line.Reset()
}

// Tail returns the captured lines joined by newlines.
func (s *outputSink) Tail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := append([]string(nil), s.tail...)
	if s.line.Len() > 0 {
		lines = append(lines, s.line.String())
	}
	var b bytes.Buffer
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l)
	}
	return b.String()
}
