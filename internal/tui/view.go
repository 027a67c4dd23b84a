package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/runoshun/crewstate/internal/domain"
)

// View renders the dashboard.
func (m *Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.viewHeader())
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(m.styles.ErrorMsg.Render("Error: "+m.err.Error()) + "\n")
	}

	b.WriteString(m.viewTasks())
	b.WriteString(m.viewSessions())
	if s := m.SelectedSession(); s != nil {
		b.WriteString(m.viewSessionDetail(s))
	}

	b.WriteString(m.styles.Footer.Render(m.help.View(m.keys)))
	return m.styles.App.Render(b.String())
}

// viewHeader renders the title line.
func (m *Model) viewHeader() string {
	title := m.styles.Header.Render("crewstate · " + m.projectID)
	if m.loadedAt.IsZero() {
		return title
	}
	return title + "  " + m.styles.Muted.Render("updated "+m.loadedAt.Format("15:04:05"))
}

// viewTasks renders the task status counts and overall completion.
func (m *Model) viewTasks() string {
	var b strings.Builder
	b.WriteString(m.styles.Section.Render("Tasks"))
	b.WriteString("\n")

	st := m.stats
	if st == nil || st.Total == 0 {
		b.WriteString(m.styles.Muted.Render("No tasks"))
		b.WriteString("\n")
		return b.String()
	}

	counts := make([]string, 0, len(domain.AllStatuses()))
	for _, s := range domain.AllStatuses() {
		if n := st.ByStatus[s]; n > 0 {
			counts = append(counts, TaskStatusStyle(s).Render(fmt.Sprintf("%s %d", s.Display(), n)))
		}
	}
	b.WriteString(strings.Join(counts, "  "))
	b.WriteString("\n")

	b.WriteString(m.progress.ViewAs(st.CompletionPercent / 100))
	b.WriteString(fmt.Sprintf("  %d/%d", st.ByStatus[domain.StatusCompleted], st.Total))
	if st.ETA > 0 {
		b.WriteString(m.styles.Muted.Render("  eta " + formatDuration(st.ETA)))
	}
	b.WriteString("\n")
	return b.String()
}

// viewSessions renders the session list.
func (m *Model) viewSessions() string {
	var b strings.Builder
	title := "Sessions"
	if m.showAll {
		title = "Sessions (all)"
	}
	b.WriteString(m.styles.Section.Render(title))
	b.WriteString("\n")

	visible := m.visibleSessions()
	if len(visible) == 0 {
		b.WriteString(m.styles.Muted.Render("No active sessions"))
		b.WriteString("\n")
		return b.String()
	}

	for i, s := range visible {
		cursor := "  "
		name := m.styles.Value.Render(s.Name)
		if i == m.cursor {
			cursor = m.styles.Cursor.Render("> ")
			name = m.styles.Selected.Render(s.Name)
		}
		settled := len(s.CompletedTaskIDs) + len(s.FailedTaskIDs) + len(s.SkippedTaskIDs)
		_, _ = fmt.Fprintf(&b, "%s%s %s  %s\n",
			cursor,
			SessionStatusStyle(s.Status).Render(s.Status.Display()),
			name,
			m.styles.Muted.Render(fmt.Sprintf("%d/%d settled  %.2f%%", settled, s.TasksTotal, s.CompletionPercent())),
		)
	}
	return b.String()
}

// viewSessionDetail renders the selected session.
func (m *Model) viewSessionDetail(s *domain.Session) string {
	var b strings.Builder
	b.WriteString(m.styles.Section.Render(s.ID))
	b.WriteString("\n")
	b.WriteString(m.progress.ViewAs(s.CompletionPercent() / 100))
	b.WriteString("\n")

	row := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(m.styles.Label.Render(label))
		b.WriteString(m.styles.Value.Render(value))
		b.WriteString("\n")
	}
	row("Current", s.CurrentTaskID)
	row("Completed", fmt.Sprintf("%d", len(s.CompletedTaskIDs)))
	row("Failed", strings.Join(s.FailedTaskIDs, ", "))
	row("Skipped", strings.Join(s.SkippedTaskIDs, ", "))
	row("Checkpoint", s.LastCheckpointID)
	row("Error", s.Error)
	if !m.loadedAt.IsZero() && !s.LastActive.IsZero() {
		row("Last active", formatDuration(m.loadedAt.Sub(s.LastActive))+" ago")
	}
	return b.String()
}

// formatDuration renders d rounded to seconds.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Round(time.Second).String()
}
