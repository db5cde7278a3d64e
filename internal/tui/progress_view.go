// Package tui shows a running workspace update in the terminal.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"wsync-go/internal/wsync"
)

const (
	tickInterval = 150 * time.Millisecond
	maxLines     = 2000
)

var spinnerFrames = []string{"|", "/", "-", "\\"}

// ProgressSource reports the progress of the running update.
type ProgressSource interface {
	CurrentProgress() wsync.Progress
}

type tickMsg struct{}

type completionMsg struct {
	completion wsync.UpdateCompletion
	ok         bool
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

func waitCompletionCmd(done <-chan wsync.UpdateCompletion) tea.Cmd {
	return func() tea.Msg {
		c, ok := <-done
		return completionMsg{completion: c, ok: ok}
	}
}

// Model is the bubbletea model of the progress view.
type Model struct {
	title  string
	source ProgressSource
	done   <-chan wsync.UpdateCompletion
	output <-chan outputMsg
	cancel func()

	bar      progress.Model
	viewport viewport.Model
	lines    []string
	status   wsync.Progress
	frame    int

	width, height int
	canceling     bool
	completion    *wsync.UpdateCompletion
}

// NewModel creates the view for one update. cancel is called when the user
// presses q or ctrl+c.
func NewModel(title string, source ProgressSource, done <-chan wsync.UpdateCompletion, output *OutputWriter, cancel func()) Model {
	m := Model{
		title:    title,
		source:   source,
		done:     done,
		cancel:   cancel,
		bar:      progress.New(progress.WithDefaultGradient()),
		viewport: viewport.New(80, 10),
		width:    80,
		height:   24,
	}
	if output != nil {
		m.output = output.ch
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), waitCompletionCmd(m.done), listenOutputCmd(m.output))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.layout()
		return m, nil
	case tickMsg:
		if m.completion != nil {
			return m, nil
		}
		if m.source != nil {
			m.status = m.source.CurrentProgress()
		}
		m.frame = (m.frame + 1) % len(spinnerFrames)
		return m, tickCmd()
	case outputMsg:
		m.appendLines(typed.lines)
		return m, listenOutputCmd(m.output)
	case outputDoneMsg:
		m.output = nil
		return m, nil
	case completionMsg:
		c := typed.completion
		if !typed.ok {
			c = wsync.UpdateCompletion{Result: wsync.ResultCanceled}
		}
		m.completion = &c
		return m, tea.Quit
	case tea.KeyMsg:
		switch typed.String() {
		case "q", "ctrl+c", "esc":
			if !m.canceling && m.cancel != nil {
				m.canceling = true
				m.cancel()
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) appendLines(lines []string) {
	m.lines = append(m.lines, lines...)
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) layout() {
	m.bar.Width = max(10, m.width-4)
	m.viewport.Width = max(10, m.width)
	m.viewport.Height = max(3, m.height-6)
	m.viewport.GotoBottom()
}

// Completion returns the finished run, or nil while it is still running.
func (m Model) Completion() *wsync.UpdateCompletion {
	return m.completion
}

func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	mutedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	statusStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")

	if m.completion != nil {
		b.WriteString(renderResult(*m.completion))
		b.WriteString("\n")
		return b.String()
	}

	message := m.status.Message
	if message == "" {
		message = "Starting..."
	}
	if m.canceling {
		message = "Canceling..."
	}
	if m.status.Indeterminate {
		fmt.Fprintf(&b, "%s %s\n", spinnerFrames[m.frame], statusStyle.Render(message))
		b.WriteString(mutedStyle.Render(strings.Repeat("─", max(10, m.width-4))))
	} else {
		b.WriteString(statusStyle.Render(message))
		b.WriteString("\n")
		b.WriteString(m.bar.ViewAs(m.status.Fraction))
	}
	b.WriteString("\n\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("q: cancel  ↑/↓: scroll"))
	return b.String()
}

func renderResult(c wsync.UpdateCompletion) string {
	style := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	if c.Result.IsFailure() || c.Result == wsync.ResultCanceled {
		style = style.Foreground(lipgloss.Color("196"))
	}
	text := c.Result.String()
	if c.Message != "" {
		text += ": " + c.Message
	}
	return style.Render(text)
}

// Run shows the view until the update completes and returns its completion.
func Run(title string, source ProgressSource, done <-chan wsync.UpdateCompletion, output *OutputWriter, cancel func()) (wsync.UpdateCompletion, error) {
	model := NewModel(title, source, done, output, cancel)
	final, err := tea.NewProgram(model).Run()
	if err != nil {
		return abandon(done, cancel), fmt.Errorf("running progress view: %w", err)
	}
	if c := final.(Model).Completion(); c != nil {
		return *c, nil
	}
	return abandon(done, cancel), nil
}

// abandon cancels a run the view stopped watching and waits until the run
// has finished, so its result is recorded before the caller moves on.
func abandon(done <-chan wsync.UpdateCompletion, cancel func()) wsync.UpdateCompletion {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return wsync.UpdateCompletion{Result: wsync.ResultCanceled}
	}
	c, ok := <-done
	if !ok {
		return wsync.UpdateCompletion{Result: wsync.ResultCanceled}
	}
	return c
}
