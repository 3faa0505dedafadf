package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent  = lipgloss.Color("#8BC34A")
	colorMuted   = lipgloss.Color("#6b7280")
	colorError   = lipgloss.Color("#e53935")
	colorWarning = lipgloss.Color("#FFC107")
	colorInfo    = lipgloss.Color("#2196F3")
)

// Styles groups the lipgloss styles used by the view.
type Styles struct {
	Badge     lipgloss.Style
	Title     lipgloss.Style
	Status    lipgloss.Style
	Error     lipgloss.Style
	Paused    lipgloss.Style
	Completed lipgloss.Style
	Active    lipgloss.Style
	Pending   lipgloss.Style
	LookFor   lipgloss.Style
	Button    lipgloss.Style
	Footer    lipgloss.Style
	Frame     lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		Badge: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#101F38")).
			Background(colorAccent).
			Padding(0, 1),
		Title:     lipgloss.NewStyle().Bold(true),
		Status:    lipgloss.NewStyle().Foreground(colorInfo),
		Error:     lipgloss.NewStyle().Foreground(colorError).Bold(true),
		Paused:    lipgloss.NewStyle().Foreground(colorWarning).Bold(true),
		Completed: lipgloss.NewStyle().Foreground(colorAccent).Strikethrough(true),
		Active:    lipgloss.NewStyle().Bold(true),
		Pending:   lipgloss.NewStyle().Foreground(colorMuted),
		LookFor:   lipgloss.NewStyle().Foreground(colorMuted).Italic(true),
		Button: lipgloss.NewStyle().
			Bold(true).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 2),
		Footer: lipgloss.NewStyle().Foreground(colorMuted),
		Frame:  lipgloss.NewStyle().Padding(1, 2),
	}
}
