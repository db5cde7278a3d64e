package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"wsync-go/internal/wsync"
)

type staticSource struct {
	p wsync.Progress
}

func (s *staticSource) CurrentProgress() wsync.Progress { return s.p }

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update() returned %T, want Model", next)
	}
	return model, cmd
}

func TestModel_Progress(t *testing.T) {
	source := &staticSource{p: wsync.Progress{Message: "Compiling GameEditor...", Fraction: 0.5}}
	m := NewModel("Sync to 102", source, make(chan wsync.UpdateCompletion), nil, nil)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})

	m, cmd := update(t, m, tickMsg{})
	if cmd == nil {
		t.Error("tick while running should schedule the next tick")
	}
	view := m.View()
	for _, want := range []string{"Sync to 102", "Compiling GameEditor..."} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q:\n%s", want, view)
		}
	}

	source.p = wsync.Progress{Message: "Syncing to 102...", Indeterminate: true}
	m, _ = update(t, m, tickMsg{})
	if !strings.Contains(m.View(), "Syncing to 102...") {
		t.Errorf("View() did not pick up the new status:\n%s", m.View())
	}
}

func TestModel_Output(t *testing.T) {
	m := NewModel("Build", nil, make(chan wsync.UpdateCompletion), nil, nil)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 20})
	m, _ = update(t, m, outputMsg{lines: []string{"//depot/Game/Source/Loader.cpp#4 - updated", "Building 12 actions"}})
	if !strings.Contains(m.View(), "Building 12 actions") {
		t.Errorf("View() missing output:\n%s", m.View())
	}

	many := make([]string, maxLines+10)
	for i := range many {
		many[i] = "line"
	}
	m, _ = update(t, m, outputMsg{lines: many})
	if len(m.lines) != maxLines {
		t.Errorf("len(lines) = %d, want %d", len(m.lines), maxLines)
	}
}

func TestModel_Cancel(t *testing.T) {
	canceled := 0
	m := NewModel("Sync", nil, make(chan wsync.UpdateCompletion), nil, func() { canceled++ })
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if canceled != 1 {
		t.Errorf("cancel called %d times, want 1", canceled)
	}
	if !strings.Contains(m.View(), "Canceling...") {
		t.Errorf("View() missing cancel status:\n%s", m.View())
	}
}

func TestModel_Completion(t *testing.T) {
	m := NewModel("Sync", nil, make(chan wsync.UpdateCompletion), nil, nil)
	if m.Completion() != nil {
		t.Fatal("Completion() non-nil before the run finished")
	}
	m, cmd := update(t, m, completionMsg{
		completion: wsync.UpdateCompletion{Result: wsync.ResultFailedToCompile, Message: "Compile GameEditor failed"},
		ok:         true,
	})
	if cmd == nil {
		t.Fatal("completion should quit the program")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("completion command is not tea.Quit")
	}
	c := m.Completion()
	if c == nil || c.Result != wsync.ResultFailedToCompile {
		t.Fatalf("Completion() = %+v", c)
	}
	if !strings.Contains(m.View(), "FailedToCompile: Compile GameEditor failed") {
		t.Errorf("View() = %q", m.View())
	}

	t.Run("closed channel counts as canceled", func(t *testing.T) {
		m := NewModel("Sync", nil, nil, nil, nil)
		m, _ = update(t, m, completionMsg{})
		if c := m.Completion(); c == nil || c.Result != wsync.ResultCanceled {
			t.Errorf("Completion() = %+v, want Canceled", c)
		}
	})
}

func TestOutputWriter(t *testing.T) {
	w := NewOutputWriter(8)
	w.Write([]byte("first li"))
	w.Write([]byte("ne\r\nsecond\nthi"))
	w.Write([]byte("rd"))
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var got []string
	for msg := range w.ch {
		got = append(got, msg.lines...)
	}
	want := "first line|second|third"
	if strings.Join(got, "|") != want {
		t.Errorf("lines = %q, want %q", strings.Join(got, "|"), want)
	}

	if n, err := w.Write([]byte("late\n")); err != nil || n != 5 {
		t.Errorf("Write() after Close = %d, %v", n, err)
	}
}

func TestListenOutputCmd(t *testing.T) {
	if listenOutputCmd(nil) != nil {
		t.Error("listenOutputCmd(nil) should be nil")
	}
	w := NewOutputWriter(1)
	w.Close()
	if _, ok := listenOutputCmd(w.ch)().(outputDoneMsg); !ok {
		t.Error("closed stream should yield outputDoneMsg")
	}
}

func TestAbandon(t *testing.T) {
	t.Run("cancels and waits for the completion", func(t *testing.T) {
		done := make(chan wsync.UpdateCompletion)
		canceled := false
		cancel := func() {
			canceled = true
			go func() {
				done <- wsync.UpdateCompletion{Result: wsync.ResultCanceled, Message: "stopped"}
				close(done)
			}()
		}
		c := abandon(done, cancel)
		if !canceled {
			t.Error("cancel was not called")
		}
		if c.Result != wsync.ResultCanceled || c.Message != "stopped" {
			t.Errorf("abandon() = %+v, want the run's completion", c)
		}
	})

	t.Run("run finished before cancel", func(t *testing.T) {
		done := make(chan wsync.UpdateCompletion, 1)
		done <- wsync.UpdateCompletion{Result: wsync.ResultSuccess}
		close(done)
		if c := abandon(done, func() {}); c.Result != wsync.ResultSuccess {
			t.Errorf("abandon() = %v, want Success", c.Result)
		}
	})

	t.Run("completion already consumed", func(t *testing.T) {
		done := make(chan wsync.UpdateCompletion)
		close(done)
		if c := abandon(done, nil); c.Result != wsync.ResultCanceled {
			t.Errorf("abandon() = %v, want Canceled", c.Result)
		}
	})

	t.Run("nil channel", func(t *testing.T) {
		if c := abandon(nil, nil); c.Result != wsync.ResultCanceled {
			t.Errorf("abandon() = %v, want Canceled", c.Result)
		}
	})
}
