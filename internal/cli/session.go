package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/runoshun/crewstate/internal/app"
	"github.com/runoshun/crewstate/internal/domain"
	"github.com/runoshun/crewstate/internal/usecase"
)

// newSessionCommand creates the session command group.
func newSessionCommand(c *app.Container, g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage execution sessions",
		Long: `Manage execution sessions and their checkpoints.

A session is one resumable run over a project's tasks. It records which
tasks completed, failed or were skipped, and snapshots that progress into
immutable checkpoints. Only one session per project may be running.`,
	}

	cmd.AddCommand(
		newSessionNewCommand(c, g),
		newSessionTransitionCommand("start", "Start a created session", func(cmd *cobra.Command, id string) (*domain.Session, error) {
			out, err := c.StartSessionUseCase().Execute(cmd.Context(), usecase.SessionInput{SessionID: id})
			return sessionOf(out, err)
		}),
		newSessionTransitionCommand("pause", "Pause a running session", func(cmd *cobra.Command, id string) (*domain.Session, error) {
			out, err := c.PauseSessionUseCase().Execute(cmd.Context(), usecase.SessionInput{SessionID: id})
			return sessionOf(out, err)
		}),
		newSessionTransitionCommand("resume", "Resume a paused or failed session", func(cmd *cobra.Command, id string) (*domain.Session, error) {
			out, err := c.ResumeSessionUseCase().Execute(cmd.Context(), usecase.SessionInput{SessionID: id})
			return sessionOf(out, err)
		}),
		newSessionCompleteCommand(c),
		newSessionFailCommand(c),
		newSessionCancelCommand(c),
		newSessionProgressCommand(c),
		newSessionCheckpointCommand(c),
		newSessionRestoreCommand(c),
		newSessionCheckpointsCommand(c),
		newSessionResumableCommand(c, g),
		newSessionStatsCommand(c),
		newSessionReconcileCommand(c),
		newSessionListCommand(c, g),
		newSessionShowCommand(c),
	)
	return cmd
}

func sessionOf(out *usecase.SessionOutput, err error) (*domain.Session, error) {
	if err != nil {
		return nil, err
	}
	return out.Session, nil
}

// newSessionTransitionCommand creates a command that moves a session to another status.
func newSessionTransitionCommand(verb, short string, run func(cmd *cobra.Command, id string) (*domain.Session, error)) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := run(cmd, args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Session %s is %s\n", s.ID, s.Status)
			return nil
		},
	}
}

// newSessionNewCommand creates the session new command.
func newSessionNewCommand(c *app.Container, g *globalFlags) *cobra.Command {
	var opts struct {
		Name        string
		Description string
		TaskIDs     []string
		Total       int
		Start       bool
	}

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a new session",
		Long: `Create a session in the created state.

Without --task the session covers every task of the project. The planned
task count defaults to the scope size, or to the project's unfinished tasks.

Examples:
  crewstate session new --name nightly
  crewstate session new --name release --task build,test,deploy --start`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := usecase.NewSessionInput{
				ProjectID:   g.project,
				Name:        opts.Name,
				Description: opts.Description,
				TaskIDs:     opts.TaskIDs,
			}
			if cmd.Flags().Changed("total") {
				in.TasksTotal = &opts.Total
			}
			out, err := c.NewSessionUseCase().Execute(cmd.Context(), in)
			if err != nil {
				return err
			}
			s := out.Session
			if opts.Start {
				started, err := c.StartSessionUseCase().Execute(cmd.Context(), usecase.SessionInput{SessionID: s.ID})
				if err != nil {
					return err
				}
				s = started.Session
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created session %s (%s, %d task(s))\n", s.ID, s.Status, s.TasksTotal)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "Session name (required)")
	cmd.Flags().StringVar(&opts.Description, "desc", "", "Session description")
	cmd.Flags().StringSliceVar(&opts.TaskIDs, "task", nil, "Fixed task scope (comma separated or repeated)")
	cmd.Flags().IntVar(&opts.Total, "total", 0, "Planned task count (default: derived from the scope)")
	cmd.Flags().BoolVar(&opts.Start, "start", false, "Start the session right away")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

// newSessionCompleteCommand creates the session complete command.
func newSessionCompleteCommand(c *app.Container) *cobra.Command {
	var result string

	cmd := &cobra.Command{
		Use:   "complete <session-id>",
		Short: "Complete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseJSONObject(result)
			if err != nil {
				return fmt.Errorf("parse --result: %w", err)
			}
			out, err := c.CompleteSessionUseCase().Execute(cmd.Context(), usecase.CompleteSessionInput{SessionID: args[0], Result: payload})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Session %s is %s\n", out.Session.ID, out.Session.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&result, "result", "", "Result payload as a JSON object")

	return cmd
}

// newSessionFailCommand creates the session fail command.
func newSessionFailCommand(c *app.Container) *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "fail <session-id>",
		Short: "Mark a session as failed",
		Long:  `Mark a session as failed. Failed sessions can still be resumed.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.FailSessionUseCase().Execute(cmd.Context(), usecase.FailSessionInput{SessionID: args[0], Message: message})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Session %s is %s\n", out.Session.ID, out.Session.Status)
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "Failure message")

	return cmd
}

// newSessionCancelCommand creates the session cancel command.
func newSessionCancelCommand(c *app.Container) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel a session",
		Long: `Cancel a session for good. A running driver stops before its next task;
the attempt in flight finishes and its outcome is kept in the task store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.CancelSessionUseCase().Execute(cmd.Context(), usecase.CancelSessionInput{SessionID: args[0], Reason: reason})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Session %s is %s\n", out.Session.ID, out.Session.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the session is cancelled")

	return cmd
}

// newSessionProgressCommand creates the session progress command.
func newSessionProgressCommand(c *app.Container) *cobra.Command {
	var u domain.ProgressUpdate

	cmd := &cobra.Command{
		Use:   "progress <session-id>",
		Short: "Record task progress on a session",
		Long: `Record the current task or a settled task on a session.

Completed ids never leave the completed set. A task already recorded as
failed or skipped moves to completed when it is completed later.

Examples:
  crewstate session progress api-20260118T093251-1a2b3c4d --current build
  crewstate session progress api-20260118T093251-1a2b3c4d --completed build`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if u.IsEmpty() {
				return fmt.Errorf("nothing to record (use --current, --completed, --failed or --skipped)")
			}
			out, err := c.RecordProgressUseCase().Execute(cmd.Context(), usecase.RecordProgressInput{SessionID: args[0], Update: u})
			if err != nil {
				return err
			}
			s := out.Session
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Session %s: %d/%d completed (%.2f%%)\n",
				s.ID, len(s.CompletedTaskIDs), s.TasksTotal, s.CompletionPercent())
			return nil
		},
	}

	cmd.Flags().StringVar(&u.CurrentTaskID, "current", "", "Task now in progress")
	cmd.Flags().StringVar(&u.CompletedID, "completed", "", "Task that completed")
	cmd.Flags().StringVar(&u.FailedID, "failed", "", "Task that failed")
	cmd.Flags().StringVar(&u.SkippedID, "skipped", "", "Task that was skipped")

	return cmd
}

// newSessionCheckpointCommand creates the session checkpoint command.
func newSessionCheckpointCommand(c *app.Container) *cobra.Command {
	var pairs map[string]string

	cmd := &cobra.Command{
		Use:   "checkpoint <session-id>",
		Short: "Snapshot a session's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := make(map[string]any, len(pairs))
			for k, v := range pairs {
				payload[k] = v
			}
			out, err := c.CreateCheckpointUseCase().Execute(cmd.Context(), usecase.CreateCheckpointInput{SessionID: args[0], Context: payload})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created checkpoint %s\n", out.Checkpoint.ID)
			return nil
		},
	}

	cmd.Flags().StringToStringVar(&pairs, "context", nil, "Context key=value pairs stored with the checkpoint")

	return cmd
}

// newSessionRestoreCommand creates the session restore command.
func newSessionRestoreCommand(c *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <checkpoint-id>",
		Short: "Roll a session back to a checkpoint",
		Long: `Restore a session's progress from one of its checkpoints.

The session ends up paused. Completed, cancelled and running sessions
cannot be restored. Task states are not changed; run 'session reconcile'
afterwards to bring the session in line with the task store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.RestoreCheckpointUseCase().Execute(cmd.Context(), usecase.RestoreCheckpointInput{CheckpointID: args[0]})
			if err != nil {
				return err
			}
			s := out.Session
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Restored session %s from %s (%d completed, %d failed, %d skipped)\n",
				s.ID, out.Checkpoint.ID, len(s.CompletedTaskIDs), len(s.FailedTaskIDs), len(s.SkippedTaskIDs))
			return nil
		},
	}
}

// newSessionCheckpointsCommand creates the session checkpoints command.
func newSessionCheckpointsCommand(c *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoints <session-id>",
		Short: "List a session's checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.ListCheckpointsUseCase().Execute(cmd.Context(), usecase.ListCheckpointsInput{SessionID: args[0]})
			if err != nil {
				return err
			}
			printCheckpointList(cmd.OutOrStdout(), out.Checkpoints)
			return nil
		},
	}
}

func printCheckpointList(w io.Writer, checkpoints []*domain.Checkpoint) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	defer func() { _ = tw.Flush() }()

	_, _ = fmt.Fprintln(tw, "ID\tCREATED\tCOMPLETED\tFAILED\tSKIPPED\tCURRENT")
	for _, cp := range checkpoints {
		current := cp.Progress.CurrentTaskID
		if current == "" {
			current = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
			cp.ID, cp.CreatedAt.Format(time.RFC3339),
			cp.Progress.CompletedCount, cp.Progress.FailedCount, cp.Progress.SkippedCount, current)
	}
}

// newSessionResumableCommand creates the session resumable command.
func newSessionResumableCommand(c *app.Container, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resumable",
		Short: "Show the session a run would resume",
		Long:  `Show the most recently active paused or failed session of the project.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := c.FindResumableUseCase().Execute(cmd.Context(), usecase.FindResumableInput{ProjectID: g.project})
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if out.Session == nil {
				_, _ = fmt.Fprintln(w, "No resumable session")
				return nil
			}
			s := out.Session
			_, _ = fmt.Fprintf(w, "%s [%s] %s (last active %s)\n", s.ID, s.Status, s.Name, s.LastActive.Format(time.RFC3339))
			return nil
		},
	}
}

// newSessionStatsCommand creates the session stats command.
func newSessionStatsCommand(c *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <session-id>",
		Short: "Show session statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.SessionStatsUseCase().Execute(cmd.Context(), usecase.SessionStatsInput{SessionID: args[0]})
			if err != nil {
				return err
			}
			printSessionStats(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func printSessionStats(w io.Writer, out *usecase.SessionStatsOutput) {
	s := out.Session
	_, _ = fmt.Fprintf(w, "Session: %s (%s)\n", s.ID, s.Name)
	_, _ = fmt.Fprintf(w, "Status: %s\n", s.Status)
	_, _ = fmt.Fprintf(w, "Progress: %d/%d completed (%.2f%%)\n", out.Completed, s.TasksTotal, out.CompletionPercent)
	_, _ = fmt.Fprintf(w, "Failed: %d\n", out.Failed)
	_, _ = fmt.Fprintf(w, "Skipped: %d\n", out.Skipped)
	_, _ = fmt.Fprintf(w, "Remaining: %d\n", out.Remaining)
	_, _ = fmt.Fprintf(w, "Checkpoints: %d\n", out.CheckpointCount)
	if out.Elapsed > 0 {
		_, _ = fmt.Fprintf(w, "Elapsed: %s\n", formatDuration(out.Elapsed))
	}
	_, _ = fmt.Fprintf(w, "Idle: %s\n", formatDuration(out.Idle))
	if out.CanResume {
		_, _ = fmt.Fprintln(w, "Can resume: yes")
	} else {
		_, _ = fmt.Fprintln(w, "Can resume: no")
	}
}

// newSessionReconcileCommand creates the session reconcile command.
func newSessionReconcileCommand(c *app.Container) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "reconcile <session-id>",
		Short: "Align a session's progress with the task store",
		Long: `Compare a session's completed, failed and skipped sets with the task
store and correct every mismatch. The task store wins. 'run' does this
automatically before resuming a session.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.ReconcileSessionUseCase().Execute(cmd.Context(), usecase.ReconcileSessionInput{SessionID: args[0], DryRun: dryRun})
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(out.Corrections) == 0 {
				_, _ = fmt.Fprintf(w, "Session %s is consistent\n", out.Session.ID)
				return nil
			}
			verb := "Corrected"
			if dryRun {
				verb = "Would correct"
			}
			_, _ = fmt.Fprintf(w, "%s %d entr(ies) of %s:\n", verb, len(out.Corrections), out.Session.ID)
			for _, corr := range out.Corrections {
				_, _ = fmt.Fprintf(w, "  %s\n", corr)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show corrections without saving them")

	return cmd
}

// newSessionListCommand creates the session list command.
func newSessionListCommand(c *app.Container, g *globalFlags) *cobra.Command {
	var opts struct {
		Statuses []string
		JSON     bool
	}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Long:  `List the project's sessions, most recently active first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := c.ListSessionsUseCase().Execute(cmd.Context(), usecase.ListSessionsInput{ProjectID: g.project, Statuses: opts.Statuses})
			if err != nil {
				return err
			}
			if opts.JSON {
				return writeJSON(cmd.OutOrStdout(), out.Sessions)
			}
			printSessionList(cmd.OutOrStdout(), out.Sessions)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&opts.Statuses, "status", nil, "Filter by status (can specify multiple)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output in JSON format")

	return cmd
}

func printSessionList(w io.Writer, sessions []*domain.Session) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	defer func() { _ = tw.Flush() }()

	_, _ = fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tLAST ACTIVE\tNAME")
	for _, s := range sessions {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
			s.ID, s.Status, len(s.CompletedTaskIDs), s.TasksTotal, s.LastActive.Format(time.RFC3339), s.Name)
	}
}

// newSessionShowCommand creates the session show command.
func newSessionShowCommand(c *app.Container) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show session details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.ShowSessionUseCase().Execute(cmd.Context(), usecase.ShowSessionInput{SessionID: args[0]})
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), out.Session)
			}
			printSessionDetails(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in JSON format")

	return cmd
}

func printSessionDetails(w io.Writer, out *usecase.ShowSessionOutput) {
	s := out.Session
	_, _ = fmt.Fprintf(w, "# Session %s: %s\n\n", s.ID, s.Name)
	if s.Description != "" {
		_, _ = fmt.Fprintf(w, "%s\n\n", s.Description)
	}
	_, _ = fmt.Fprintf(w, "Project: %s\n", s.ProjectID)
	_, _ = fmt.Fprintf(w, "Status: %s\n", s.Status)
	if s.Error != "" {
		_, _ = fmt.Fprintf(w, "Error: %s\n", s.Error)
	}
	if s.CancelReason != "" {
		_, _ = fmt.Fprintf(w, "Cancel reason: %s\n", s.CancelReason)
	}
	if len(s.TaskIDs) > 0 {
		_, _ = fmt.Fprintf(w, "Scope: %s\n", strings.Join(s.TaskIDs, ", "))
	} else {
		_, _ = fmt.Fprintln(w, "Scope: all tasks")
	}
	_, _ = fmt.Fprintf(w, "Progress: %d/%d (%.2f%%)\n", len(s.CompletedTaskIDs), s.TasksTotal, s.CompletionPercent())
	if s.CurrentTaskID != "" {
		_, _ = fmt.Fprintf(w, "Current: %s\n", s.CurrentTaskID)
	}
	printIDSet(w, "Completed", s.CompletedTaskIDs)
	printIDSet(w, "Failed", s.FailedTaskIDs)
	printIDSet(w, "Skipped", s.SkippedTaskIDs)
	_, _ = fmt.Fprintf(w, "Created: %s\n", s.CreatedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "Last active: %s\n", s.LastActive.Format(time.RFC3339))

	if len(out.Checkpoints) > 0 {
		_, _ = fmt.Fprintln(w, "\nCheckpoints:")
		printCheckpointList(w, out.Checkpoints)
	}
}

func printIDSet(w io.Writer, label string, ids []string) {
	if len(ids) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "%s: %s\n", label, strings.Join(ids, ", "))
}
