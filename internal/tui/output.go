package tui

import (
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

type outputMsg struct {
	lines []string
}

type outputDoneMsg struct{}

// OutputWriter turns process output into complete lines for the view.
// Writes never block: when the view falls behind, lines are dropped from the
// view only, since the full log goes to the sync log file as well.
type OutputWriter struct {
	mu      sync.Mutex
	ch      chan outputMsg
	partial strings.Builder
	closed  bool
}

// NewOutputWriter creates a writer buffering up to size pending batches.
func NewOutputWriter(size int) *OutputWriter {
	if size < 1 {
		size = 256
	}
	return &OutputWriter{ch: make(chan outputMsg, size)}
}

func (w *OutputWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return len(p), nil
	}
	w.partial.Write(p)
	text := w.partial.String()
	i := strings.LastIndexByte(text, '\n')
	if i < 0 {
		return len(p), nil
	}
	w.partial.Reset()
	w.partial.WriteString(text[i+1:])
	lines := strings.Split(strings.TrimRight(text[:i], "\r"), "\n")
	for j := range lines {
		lines[j] = strings.TrimRight(lines[j], "\r")
	}
	select {
	case w.ch <- outputMsg{lines: lines}:
	default:
	}
	return len(p), nil
}

// Close flushes a trailing partial line and ends the stream.
func (w *OutputWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if rest := w.partial.String(); rest != "" {
		select {
		case w.ch <- outputMsg{lines: []string{rest}}:
		default:
		}
	}
	close(w.ch)
	return nil
}

func listenOutputCmd(ch <-chan outputMsg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return outputDoneMsg{}
		}
		return msg
	}
}
