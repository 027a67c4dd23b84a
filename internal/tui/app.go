package tui

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/runoshun/crewstate/internal/app"
	"github.com/runoshun/crewstate/internal/domain"
	"github.com/runoshun/crewstate/internal/usecase"
)

// DefaultInterval is the refresh interval used when none is given.
const DefaultInterval = 2 * time.Second

// Model is the read-only dashboard for a project's sessions and tasks.
type Model struct {
	// Dependencies (pointers first for alignment)
	container *app.Container
	stats     *usecase.TaskStatsOutput
	err       error

	// State
	loadedAt  time.Time
	sessions  []*domain.Session
	projectID string

	// Components
	keys     KeyMap
	styles   Styles
	help     help.Model
	progress progress.Model

	// Numeric state (smaller types last)
	interval time.Duration
	width    int
	height   int
	cursor   int
	showAll  bool
}

// New creates a dashboard for projectID that refreshes every interval.
func New(c *app.Container, projectID string, interval time.Duration) *Model {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Model{
		container: c,
		projectID: projectID,
		interval:  interval,
		keys:      DefaultKeyMap(),
		styles:    DefaultStyles(),
		help:      help.New(),
		progress:  progress.New(progress.WithDefaultGradient()),
	}
}

// Init loads the first snapshot and starts the refresh timer.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.loadSnapshot(), m.tick())
}

// loadSnapshot returns a command that reads sessions and task stats.
func (m *Model) loadSnapshot() tea.Cmd {
	c := m.container
	projectID := m.projectID
	return func() tea.Msg {
		ctx := context.Background()
		sessions, err := c.ListSessionsUseCase().Execute(ctx, usecase.ListSessionsInput{ProjectID: projectID})
		if err != nil {
			return MsgError{Err: err}
		}
		stats, err := c.TaskStatsUseCase().Execute(ctx, usecase.TaskStatsInput{ProjectID: projectID})
		if err != nil {
			return MsgError{Err: err}
		}
		return MsgSnapshotLoaded{
			Sessions: sessions.Sessions,
			Stats:    stats,
			LoadedAt: c.Clock.Now(),
		}
	}
}

// tick schedules the next refresh.
func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return MsgTick{At: t}
	})
}

// visibleSessions returns the sessions shown in the list, most recently active first.
// Finished sessions are hidden unless showAll is set.
func (m *Model) visibleSessions() []*domain.Session {
	out := make([]*domain.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if !m.showAll && s.Status.IsTerminal() {
			continue
		}
		out = append(out, s)
	}
	slices.SortStableFunc(out, func(a, b *domain.Session) int {
		if c := b.LastActive.Compare(a.LastActive); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// SelectedSession returns the session under the cursor.
func (m *Model) SelectedSession() *domain.Session {
	visible := m.visibleSessions()
	if m.cursor < 0 || m.cursor >= len(visible) {
		return nil
	}
	return visible[m.cursor]
}

// clampCursor keeps the cursor inside the visible list.
func (m *Model) clampCursor() {
	n := len(m.visibleSessions())
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}
