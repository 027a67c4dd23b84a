package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/runoshun/crewstate/internal/domain"
)

// Colors defines the dashboard palette.
var Colors = struct {
	Primary   lipgloss.Color
	Muted     lipgloss.Color
	Error     lipgloss.Color
	Success   lipgloss.Color
	Warning   lipgloss.Color
	Info      lipgloss.Color
	Secondary lipgloss.Color
	Text      lipgloss.Color
	Selected  lipgloss.Color
}{
	Primary:   lipgloss.Color("#6C5CE7"), // Purple
	Muted:     lipgloss.Color("#636E72"), // Gray
	Error:     lipgloss.Color("#D63031"), // Red
	Success:   lipgloss.Color("#00B894"), // Green
	Warning:   lipgloss.Color("#FDCB6E"), // Yellow
	Info:      lipgloss.Color("#74B9FF"), // Light blue
	Secondary: lipgloss.Color("#A29BFE"), // Lavender
	Text:      lipgloss.Color("#DFE6E9"), // Light gray
	Selected:  lipgloss.Color("#FFEAA7"), // Pale yellow
}

// Styles contains the lipgloss styles used by the dashboard.
type Styles struct {
	App      lipgloss.Style
	Header   lipgloss.Style
	Section  lipgloss.Style
	Label    lipgloss.Style
	Value    lipgloss.Style
	Muted    lipgloss.Style
	Selected lipgloss.Style
	Cursor   lipgloss.Style
	ErrorMsg lipgloss.Style
	Footer   lipgloss.Style
}

// DefaultStyles returns the default styles.
func DefaultStyles() Styles {
	return Styles{
		App:      lipgloss.NewStyle().Padding(1, 2),
		Header:   lipgloss.NewStyle().Bold(true).Foreground(Colors.Primary),
		Section:  lipgloss.NewStyle().Bold(true).Foreground(Colors.Secondary).MarginTop(1),
		Label:    lipgloss.NewStyle().Foreground(Colors.Muted).Width(14),
		Value:    lipgloss.NewStyle().Foreground(Colors.Text),
		Muted:    lipgloss.NewStyle().Foreground(Colors.Muted),
		Selected: lipgloss.NewStyle().Bold(true).Foreground(Colors.Selected),
		Cursor:   lipgloss.NewStyle().Foreground(Colors.Primary),
		ErrorMsg: lipgloss.NewStyle().Foreground(Colors.Error),
		Footer:   lipgloss.NewStyle().Foreground(Colors.Muted).MarginTop(1),
	}
}

// TaskStatusStyle returns the style for a task status.
func TaskStatusStyle(s domain.Status) lipgloss.Style {
	base := lipgloss.NewStyle()
	switch s {
	case domain.StatusPending:
		return base.Foreground(Colors.Info)
	case domain.StatusRunning:
		return base.Foreground(Colors.Warning)
	case domain.StatusRetrying:
		return base.Foreground(Colors.Secondary)
	case domain.StatusCompleted:
		return base.Foreground(Colors.Success)
	case domain.StatusFailed:
		return base.Foreground(Colors.Error)
	case domain.StatusBlocked, domain.StatusSkipped:
		return base.Foreground(Colors.Muted)
	default:
		return base
	}
}

// SessionStatusStyle returns the style for a session status.
func SessionStatusStyle(s domain.SessionStatus) lipgloss.Style {
	base := lipgloss.NewStyle().Width(10)
	switch s {
	case domain.SessionCreated:
		return base.Foreground(Colors.Info)
	case domain.SessionRunning:
		return base.Foreground(Colors.Warning)
	case domain.SessionPaused:
		return base.Foreground(Colors.Secondary)
	case domain.SessionCompleted:
		return base.Foreground(Colors.Success)
	case domain.SessionFailed:
		return base.Foreground(Colors.Error)
	case domain.SessionCancelled:
		return base.Foreground(Colors.Muted)
	default:
		return base
	}
}
