// Package tui renders the coaching session in the terminal and maps keys to
// the same commands voice and HTTP use.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vango-go/vai-coach/pkg/coach"
)

// Controller is the slice of *coach.Coach the terminal drives.
type Controller interface {
	Subscribe() (<-chan coach.Projection, func())
	Execute(cmd coach.Command) bool
	Primary()
	TogglePause() bool
}

type projectionMsg coach.Projection

// closedMsg reports that the projection feed ended.
type closedMsg struct{}

// Model is the bubbletea model for a coaching session.
type Model struct {
	ctrl   Controller
	feed   <-chan coach.Projection
	proj   coach.Projection
	styles Styles
	width  int
	height int
	ready  bool
}

func NewModel(ctrl Controller, feed <-chan coach.Projection) Model {
	return Model{ctrl: ctrl, feed: feed, styles: DefaultStyles()}
}

func (m Model) Init() tea.Cmd {
	return waitForProjection(m.feed)
}

func waitForProjection(feed <-chan coach.Projection) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-feed
		if !ok {
			return closedMsg{}
		}
		return projectionMsg(p)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case projectionMsg:
		m.proj = coach.Projection(msg)
		m.ready = true
		return m, waitForProjection(m.feed)
	case closedMsg:
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case " ", "space", "enter":
		m.ctrl.Primary()
	case "p":
		m.ctrl.TogglePause()
	case "s", "n", "right":
		m.ctrl.Execute(coach.CommandSkip)
	case "d":
		m.ctrl.Execute(coach.CommandDone)
	case "r":
		m.ctrl.Execute(coach.CommandReset)
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return m.styles.Frame.Render("Starting camera...")
	}
	s := m.styles
	p := m.proj

	var b strings.Builder

	header := s.Badge.Render(p.Badge)
	if p.TargetObject != "" {
		header = lipgloss.JoinHorizontal(lipgloss.Center, header, "  ", s.Title.Render(p.TargetObject))
	}
	if p.Paused {
		header = lipgloss.JoinHorizontal(lipgloss.Center, header, "  ", s.Paused.Render("PAUSED"))
	}
	b.WriteString(header)
	b.WriteString("\n\n")

	if p.Status != "" {
		if p.StatusIsError {
			b.WriteString(s.Error.Render(p.Status))
		} else {
			b.WriteString(s.Status.Render(p.Status))
		}
		b.WriteString("\n\n")
	}

	for _, st := range p.Steps {
		b.WriteString(m.renderStep(st))
		b.WriteString("\n")
	}
	if len(p.Steps) > 0 {
		b.WriteString("\n")
	}

	b.WriteString(s.Button.Render(p.Button))
	b.WriteString("\n")
	b.WriteString(s.Footer.Render(footer(p)))

	out := s.Frame.Render(b.String())
	if m.width > 0 {
		out = lipgloss.NewStyle().MaxWidth(m.width).Render(out)
	}
	return out
}

func (m Model) renderStep(st coach.StepView) string {
	s := m.styles
	var line string
	switch st.State {
	case coach.StepCompleted:
		line = s.Completed.Render(fmt.Sprintf("✓ %d. %s", st.Number, st.Action))
	case coach.StepActive:
		line = s.Active.Render(fmt.Sprintf("▶ %d. %s", st.Number, st.Action))
	default:
		line = s.Pending.Render(fmt.Sprintf("  %d. %s", st.Number, st.Action))
	}
	if st.LookFor != "" {
		line += "\n     " + s.LookFor.Render("look for: "+st.LookFor)
	}
	return line
}

func footer(p coach.Projection) string {
	voice := p.Voice.Transport
	if voice == "" {
		voice = "off"
	}
	line := "voice: " + voice
	if p.Voice.LastCommand != "" {
		line += " (last: " + p.Voice.LastCommand + ")"
	}
	return line + "   space: primary  p: pause  s: skip  d: done  r: reset  q: quit"
}

// Run shows the session until the user quits or ctx is cancelled.
func Run(ctx context.Context, ctrl Controller, opts ...tea.ProgramOption) error {
	feed, cancel := ctrl.Subscribe()
	defer cancel()

	opts = append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, opts...)
	_, err := tea.NewProgram(NewModel(ctrl, feed), opts...).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
