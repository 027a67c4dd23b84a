package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// progressPadding is the horizontal space reserved around progress bars.
const progressPadding = 8

// maxProgressWidth caps the progress bar width on wide terminals.
const maxProgressWidth = 60

// Update handles messages and updates the model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.progress.Width = min(max(msg.Width-progressPadding, 10), maxProgressWidth)
		return m, nil

	case MsgSnapshotLoaded:
		m.sessions = msg.Sessions
		m.stats = msg.Stats
		m.loadedAt = msg.LoadedAt
		m.err = nil
		m.clampCursor()
		return m, nil

	case MsgTick:
		return m, tea.Batch(m.loadSnapshot(), m.tick())

	case MsgError:
		m.err = msg.Err
		return m, nil
	}

	return m, nil
}

// handleKeyMsg handles keyboard input.
func (m *Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.visibleSessions())-1 {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, m.keys.ShowAll):
		m.showAll = !m.showAll
		m.clampCursor()
		return m, nil

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		return m, m.loadSnapshot()
	}

	return m, nil
}
