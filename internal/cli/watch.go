package cli

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/runoshun/crewstate/internal/app"
	"github.com/runoshun/crewstate/internal/tui"
)

// newWatchCommand creates the watch command.
func newWatchCommand(c *app.Container, g *globalFlags) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show a live dashboard of sessions and tasks",
		Long: `Show a read-only dashboard of the project's sessions and task progress.

The dashboard re-reads the state directory every --interval, so it can run
next to 'crewstate run' in another terminal.

Keys:
  j/k    move between sessions
  a      toggle finished sessions
  r      refresh now
  q      quit`,
		RunE: func(_ *cobra.Command, _ []string) error {
			if interval <= 0 {
				return fmt.Errorf("interval must be positive, got %s", interval)
			}
			model := tui.New(c, g.project, interval)
			p := tea.NewProgram(model, tea.WithAltScreen())
			_, err := p.Run()
			return err
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", tui.DefaultInterval, "Refresh interval")

	return cmd
}
