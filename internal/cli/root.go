// Package cli provides the command-line interface for crewstate.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/runoshun/crewstate/internal/app"
)

// Command group IDs.
const (
	groupSetup     = "setup"
	groupTask      = "task"
	groupSession   = "session"
	groupExecution = "execution"
)

// defaultProject is used when neither --project nor CREWSTATE_PROJECT is set.
const defaultProject = "default"

// globalFlags holds flags shared by every subcommand.
type globalFlags struct {
	project string
}

// NewRootCommand creates the root command for crewstate.
// It receives the container for dependency injection and version for display.
func NewRootCommand(c *app.Container, version string) *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "crewstate",
		Short: "Task, session and checkpoint state for long-running agent work",
		Long: `crewstate tracks tasks with dependencies, groups runs over them into
resumable sessions with checkpoints, and drives tasks to completion with
classified errors and bounded retries.

State lives in .crewstate/ next to your work. Run 'crewstate init' first.`,
		Version: version,
		// SilenceUsage prevents usage from being printed on errors
		SilenceUsage: true,
		// SilenceErrors prevents Cobra from printing errors (we handle it in main)
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if c == nil || c.AppConfig == nil {
				return nil
			}
			for _, w := range c.AppConfig.Warnings {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", w)
			}
			return nil
		},
	}

	project := os.Getenv("CREWSTATE_PROJECT")
	if project == "" {
		project = defaultProject
	}
	root.PersistentFlags().StringVarP(&g.project, "project", "p", project, "Project id (env CREWSTATE_PROJECT)")

	root.AddGroup(
		&cobra.Group{ID: groupSetup, Title: "Setup Commands:"},
		&cobra.Group{ID: groupTask, Title: "Task Management:"},
		&cobra.Group{ID: groupSession, Title: "Session Management:"},
		&cobra.Group{ID: groupExecution, Title: "Execution:"},
	)

	// Setup commands
	initCmd := newInitCommand(c)
	initCmd.GroupID = groupSetup

	configCmd := newConfigCommand(c)
	configCmd.GroupID = groupSetup

	// Task management commands
	taskCmd := newTaskCommand(c, g)
	taskCmd.GroupID = groupTask

	// Session management commands
	sessionCmd := newSessionCommand(c, g)
	sessionCmd.GroupID = groupSession

	// Execution commands
	runCmd := newRunCommand(c, g)
	runCmd.GroupID = groupExecution

	watchCmd := newWatchCommand(c, g)
	watchCmd.GroupID = groupExecution

	root.AddCommand(
		initCmd,
		configCmd,
		taskCmd,
		sessionCmd,
		runCmd,
		watchCmd,
	)

	return root
}
