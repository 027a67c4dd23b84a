package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/runoshun/crewstate/internal/app"
	"github.com/runoshun/crewstate/internal/domain"
	"github.com/runoshun/crewstate/internal/usecase"
)

// newTaskCommand creates the task command group.
func newTaskCommand(c *app.Container, g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long: `Manage the tasks of a project.

Tasks move pending -> running -> completed, or through retrying on a failed
attempt until their attempt budget is spent. A task is runnable once every
task it depends on has completed.`,
	}

	cmd.AddCommand(
		newTaskAddCommand(c, g),
		newTaskListCommand(c, g),
		newTaskShowCommand(c, g),
		newTaskStartCommand(c, g),
		newTaskCompleteCommand(c, g),
		newTaskFailCommand(c, g),
		newTaskSkipCommand(c, g),
		newTaskBlockCommand(c, g),
		newTaskNextCommand(c, g),
		newTaskStatsCommand(c, g),
		newTaskStalledCommand(c, g),
		newTaskImportCommand(c, g),
		newTaskExportCommand(c, g),
	)
	return cmd
}

// newTaskAddCommand creates the task add command.
func newTaskAddCommand(c *app.Container, g *globalFlags) *cobra.Command {
	var opts struct {
		Metadata    map[string]string
		Title       string
		Description string
		Type        string
		Priority    string
		DependsOn   []string
		Tags        []string
		Estimate    time.Duration
		MaxAttempts int
	}

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Create a new task",
		Long: `Create a new pending task.

Dependencies may name tasks that do not exist yet; the task stays
unrunnable until they are created and completed. Cycles are rejected.

Examples:
  # Create a task
  crewstate task add build --title "Build the service"

  # Create a task that runs after build
  crewstate task add deploy --title "Deploy" --depends-on build --priority high`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uc := c.NewTaskUseCase()
			out, err := uc.Execute(cmd.Context(), usecase.NewTaskInput{
				ProjectID:         g.project,
				TaskID:            args[0],
				Title:             opts.Title,
				Description:       opts.Description,
				Type:              opts.Type,
				Priority:          opts.Priority,
				DependsOn:         opts.DependsOn,
				Tags:              opts.Tags,
				Metadata:          opts.Metadata,
				EstimatedDuration: opts.Estimate,
				MaxAttempts:       opts.MaxAttempts,
			})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created task %s (%s)\n", out.Task.ID, out.Task.Priority)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Title, "title", "", "Task title (required)")
	cmd.Flags().StringVar(&opts.Description, "body", "", "Task description (passed to the task command on stdin)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "Task type")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "Priority: critical, high, medium, low (default from config)")
	cmd.Flags().StringSliceVar(&opts.DependsOn, "depends-on", nil, "Task ids that must complete first (comma separated or repeated)")
	cmd.Flags().StringArrayVar(&opts.Tags, "tag", nil, "Tags (can specify multiple)")
	cmd.Flags().StringToStringVar(&opts.Metadata, "meta", nil, "Metadata key=value pairs")
	cmd.Flags().DurationVar(&opts.Estimate, "estimate", 0, "Estimated duration (e.g. 30m)")
	cmd.Flags().IntVar(&opts.MaxAttempts, "max-attempts", 0, "Attempt budget (default from config)")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}

// newTaskListCommand creates the task list command.
func newTaskListCommand(c *app.Container, g *globalFlags) *cobra.Command {
	var opts struct {
		Statuses []string
		Tags     []string
		JSON     bool
	}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Long: `Display the tasks of a project in creation order.

Output format is tab-separated with columns:
  ID, STATUS, PRIORITY, ATTEMPTS, DEPENDS, TITLE

Examples:
  # List every task
  crewstate task list

  # List failed and retrying tasks
  crewstate task list --status failed --status retrying`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			uc := c.ListTasksUseCase()
			out, err := uc.Execute(cmd.Context(), usecase.ListTasksInput{
				ProjectID: g.project,
				Statuses:  opts.Statuses,
				Tags:      opts.Tags,
			})
			if err != nil {
				return err
			}

			if opts.JSON {
				return writeJSON(cmd.OutOrStdout(), out.Tasks)
			}
			printTaskList(cmd.OutOrStdout(), out.Tasks)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&opts.Statuses, "status", nil, "Filter by status (can specify multiple)")
	cmd.Flags().StringArrayVar(&opts.Tags, "tag", nil, "Filter by tags (AND condition)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output in JSON format")

	return cmd
}

// printTaskList prints tasks in TSV format.
func printTaskList(w io.Writer, tasks []*domain.Task) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	defer func() { _ = tw.Flush() }()

	_, _ = fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tATTEMPTS\tDEPENDS\tTITLE")
	for _, t := range tasks {
		deps := "-"
		if len(t.DependsOn) > 0 {
			deps = strings.Join(t.DependsOn, ",")
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			t.ID, t.Status, t.Priority, t.AttemptCount, t.MaxAttempts, deps, t.Title)
	}
}

// newTaskShowCommand creates the task show command.
func newTaskShowCommand(c *app.Container, g *globalFlags) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show task details",
		Long: `Display a task with its dependencies, dependents and error history.

Examples:
  crewstate task show build
  crewstate task show build --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uc := c.ShowTaskUseCase()
			out, err := uc.Execute(cmd.Context(), usecase.ShowTaskInput{ProjectID: g.project, TaskID: args[0]})
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), out.Task)
			}
			printTaskDetails(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in JSON format")

	return cmd
}

// printTaskDetails prints a task in a human readable layout.
func printTaskDetails(w io.Writer, out *usecase.ShowTaskOutput) {
	task := out.Task

	_, _ = fmt.Fprintf(w, "# Task %s: %s\n\n", task.ID, task.Title)
	if task.Description != "" {
		_, _ = fmt.Fprintf(w, "%s\n\n", task.Description)
	}

	_, _ = fmt.Fprintf(w, "Status: %s\n", task.Status)
	if task.Reason != "" {
		_, _ = fmt.Fprintf(w, "Reason: %s\n", task.Reason)
	}
	_, _ = fmt.Fprintf(w, "Priority: %s\n", task.Priority)
	if task.Type != "" {
		_, _ = fmt.Fprintf(w, "Type: %s\n", task.Type)
	}
	_, _ = fmt.Fprintf(w, "Attempts: %d/%d\n", task.AttemptCount, task.MaxAttempts)
	switch {
	case out.Runnable:
		_, _ = fmt.Fprintln(w, "Runnable: yes")
	case out.Stalled:
		_, _ = fmt.Fprintln(w, "Runnable: no (stalled, a dependency can never complete)")
	default:
		_, _ = fmt.Fprintln(w, "Runnable: no")
	}
	if len(task.Tags) > 0 {
		_, _ = fmt.Fprintf(w, "Tags: [%s]\n", strings.Join(task.Tags, ", "))
	}
	for _, k := range sortedKeys(task.Metadata) {
		_, _ = fmt.Fprintf(w, "Meta %s: %s\n", k, task.Metadata[k])
	}
	if task.EstimatedDuration > 0 {
		_, _ = fmt.Fprintf(w, "Estimate: %s\n", task.EstimatedDuration)
	}
	_, _ = fmt.Fprintf(w, "Created: %s\n", task.CreatedAt.Format(time.RFC3339))
	if !task.StartedAt.IsZero() {
		_, _ = fmt.Fprintf(w, "Started: %s\n", task.StartedAt.Format(time.RFC3339))
	}
	if !task.CompletedAt.IsZero() {
		_, _ = fmt.Fprintf(w, "Completed: %s (took %s)\n", task.CompletedAt.Format(time.RFC3339), formatDuration(task.Duration()))
	}

	if len(out.Dependencies) > 0 || len(out.Missing) > 0 {
		_, _ = fmt.Fprintln(w, "\nDepends on:")
		for _, d := range out.Dependencies {
			_, _ = fmt.Fprintf(w, "  %s [%s] %s\n", d.ID, d.Status, d.Title)
		}
		for _, id := range out.Missing {
			_, _ = fmt.Fprintf(w, "  %s [missing]\n", id)
		}
	}
	if len(out.Dependents) > 0 {
		_, _ = fmt.Fprintf(w, "\nRequired by: %s\n", strings.Join(out.Dependents, ", "))
	}

	if len(task.Result) > 0 {
		_, _ = fmt.Fprintln(w, "\nResult:")
		_ = writeJSON(w, task.Result)
	}

	if len(task.Errors) > 0 {
		_, _ = fmt.Fprintln(w, "\nErrors:")
		for _, e := range task.Errors {
			_, _ = fmt.Fprintf(w, "  #%d [%s] %s/%s: %s\n",
				e.Attempt, e.Timestamp.Format(time.RFC3339), e.Category, e.Severity, e.Message)
		}
	}
}

// newTaskStartCommand creates the task start command.
func newTaskStartCommand(c *app.Container, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Mark a task as running",
		Long: `Move a pending or retrying task to running.

The task must be runnable: every dependency has completed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uc := c.StartTaskUseCase()
			out, err := uc.Execute(cmd.Context(), usecase.StartTaskInput{ProjectID: g.project, TaskID: args[0]})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Started task %s\n", out.Task.ID)
			return nil
		},
	}
}

// newTaskCompleteCommand creates the task complete command.
func newTaskCompleteCommand(c *app.Container, g *globalFlags) *cobra.Command {
	var result string

	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a running task as completed",
		Long: `Move a running task to completed, optionally storing a result.

Examples:
  crewstate task complete build --result '{"artifact": "bin/app"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseJSONObject(result)
			if err != nil {
				return fmt.Errorf("parse --result: %w", err)
			}

			uc := c.CompleteTaskUseCase()
			out, err := uc.Execute(cmd.Context(), usecase.CompleteTaskInput{
				ProjectID: g.project,
				TaskID:    args[0],
				Result:    payload,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Completed task %s\n", out.Task.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&result, "result", "", "Result payload as a JSON object")

	return cmd
}

// newTaskFailCommand creates the task fail command.
func newTaskFailCommand(c *app.Container, g *globalFlags) *cobra.Command {
	var opts struct {
		Message  string
		Category string
		Severity string
	}

	cmd := &cobra.Command{
		Use:   "fail <id>",
		Short: "Record a failed attempt",
		Long: `Record a failed attempt on a running task.

The message is classified into a category and severity unless both are
given. The task moves to retrying while its budget lasts and the error is
recoverable, otherwise to failed.

Examples:
  crewstate task fail build --message "connection refused"
  crewstate task fail build --message "bad input" --category validation --severity high`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cause, err := failureCause(opts.Message, opts.Category, opts.Severity, c.Clock.Now())
			if err != nil {
				return err
			}

			uc := c.FailTaskUseCase()
			out, err := uc.Execute(cmd.Context(), usecase.FailTaskInput{
				ProjectID: g.project,
				TaskID:    args[0],
				Err:       cause,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Task %s is %s after attempt %d/%d [%s/%s]\n",
				out.Task.ID, out.Task.Status, out.Task.AttemptCount, out.Task.MaxAttempts,
				out.Error.Category, out.Error.Severity)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Message, "message", "m", "", "Failure message (required)")
	cmd.Flags().StringVar(&opts.Category, "category", "", "Error category (skips classification, requires --severity)")
	cmd.Flags().StringVar(&opts.Severity, "severity", "", "Error severity: low, medium, high, critical")
	_ = cmd.MarkFlagRequired("message")

	return cmd
}

// failureCause builds the error recorded by task fail.
func failureCause(message, category, severity string, now time.Time) (error, error) {
	cause := errors.New(message)
	if category == "" && severity == "" {
		return cause, nil
	}
	if category == "" || severity == "" {
		return nil, errors.New("--category and --severity must be given together")
	}
	cat := domain.ErrorCategory(category)
	if !slices.Contains(domain.AllErrorCategories(), cat) {
		return nil, fmt.Errorf("unknown category %q", category)
	}
	sev := domain.Severity(severity)
	if !slices.Contains(domain.AllSeverities(), sev) {
		return nil, fmt.Errorf("unknown severity %q", severity)
	}
	return domain.NewAgentError(cause, cat, sev, now), nil
}

// newTaskSkipCommand creates the task skip command.
func newTaskSkipCommand(c *app.Container, g *globalFlags) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "skip <id>",
		Short: "Skip a task",
		Long:  `Move a pending, running or retrying task to skipped. Dependents of a skipped task never become runnable.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uc := c.SkipTaskUseCase()
			out, err := uc.Execute(cmd.Context(), usecase.SkipTaskInput{ProjectID: g.project, TaskID: args[0], Reason: reason})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Skipped task %s\n", out.Task.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the task is skipped")

	return cmd
}

// newTaskBlockCommand creates the task block command.
func newTaskBlockCommand(c *app.Container, g *globalFlags) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "block <id>",
		Short: "Block a task",
		Long:  `Move a pending, running or retrying task to blocked.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uc := c.BlockTaskUseCase()
			out, err := uc.Execute(cmd.Context(), usecase.BlockTaskInput{ProjectID: g.project, TaskID: args[0], Reason: reason})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Blocked task %s\n", out.Task.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the task is blocked")

	return cmd
}

// newTaskNextCommand creates the task next command.
func newTaskNextCommand(c *app.Container, g *globalFlags) *cobra.Command {
	var scope []string

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show the next runnable task",
		Long: `Show the runnable task that would be picked next: highest priority first,
then earliest created. Prints nothing runnable when every dependency is
unmet, along with stalled tasks whose dependencies can never complete.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			uc := c.NextTaskUseCase()
			out, err := uc.Execute(cmd.Context(), usecase.NextTaskInput{ProjectID: g.project, Scope: scope})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out.Task == nil {
				_, _ = fmt.Fprintf(w, "No runnable task (%d remaining)\n", out.Remaining)
			} else {
				_, _ = fmt.Fprintf(w, "%s [%s] %s\n", out.Task.ID, out.Task.Priority, out.Task.Title)
			}
			for _, t := range out.Stalled {
				_, _ = fmt.Fprintf(w, "stalled: %s\n", t.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&scope, "task", nil, "Restrict to these task ids")

	return cmd
}

// newTaskStatsCommand creates the task stats command.
func newTaskStatsCommand(c *app.Container, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show task statistics",
		Long:  `Show task counts per status, completion percentage, average duration and ETA.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			uc := c.TaskStatsUseCase()
			out, err := uc.Execute(cmd.Context(), usecase.TaskStatsInput{ProjectID: g.project})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "Total: %d\n", out.Total)
			for _, s := range domain.AllStatuses() {
				if n := out.ByStatus[s]; n > 0 {
					_, _ = fmt.Fprintf(w, "  %-10s %d\n", s, n)
				}
			}
			_, _ = fmt.Fprintf(w, "Completion: %.2f%%\n", out.CompletionPercent)
			_, _ = fmt.Fprintf(w, "Remaining: %d\n", out.Remaining)
			if out.AverageDuration > 0 {
				_, _ = fmt.Fprintf(w, "Average duration: %s\n", formatDuration(out.AverageDuration))
				_, _ = fmt.Fprintf(w, "ETA: %s\n", formatDuration(out.ETA))
			}
			return nil
		},
	}
}

// newTaskStalledCommand creates the task stalled command.
func newTaskStalledCommand(c *app.Container, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stalled",
		Short: "List tasks whose dependencies can never complete",
		Long: `List pending or retrying tasks that depend on a failed, skipped or
blocked task. They need an operator decision: block or skip them,
or run 'crewstate run --block-stalled'.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			uc := c.StalledTasksUseCase()
			out, err := uc.Execute(cmd.Context(), usecase.StalledTasksInput{ProjectID: g.project})
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			defer func() { _ = tw.Flush() }()
			_, _ = fmt.Fprintln(tw, "ID\tSTATUS\tBLOCKED BY")
			for _, st := range out.Tasks {
				blockers := make([]string, 0, len(st.Blockers))
				for _, b := range st.Blockers {
					blockers = append(blockers, fmt.Sprintf("%s (%s)", b.ID, b.Status))
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", st.Task.ID, st.Task.Status, strings.Join(blockers, ", "))
			}
			return nil
		},
	}
}

// newTaskImportCommand creates the task import command.
func newTaskImportCommand(c *app.Container, g *globalFlags) *cobra.Command {
	var skipExisting bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import tasks from a YAML file",
		Long: `Create tasks from a YAML task file ("-" reads stdin).

File format:
  project: api
  tasks:
    - task_id: build
      title: Build the service
    - task_id: deploy
      title: Deploy
      depends_on: [build]
      priority: high

An explicit --project overrides the project named in the file; without
either, the default project is used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			project := ""
			if cmd.Flags().Changed("project") {
				project = g.project
			}
			uc := c.ImportTasksUseCase()
			out, err := uc.Execute(cmd.Context(), usecase.ImportTasksInput{
				ProjectID:         project,
				FallbackProjectID: g.project,
				Data:              data,
				SkipExisting:      skipExisting,
			})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d task(s) into %s", len(out.Created), out.ProjectID)
			if len(out.Skipped) > 0 {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), " (skipped existing: %s)", strings.Join(out.Skipped, ", "))
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "Skip tasks that already exist instead of failing")

	return cmd
}

// newTaskExportCommand creates the task export command.
func newTaskExportCommand(c *app.Container, g *globalFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export tasks as YAML",
		Long:  `Write the project's tasks as a YAML task file that 'task import' accepts.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			uc := c.ExportTasksUseCase()
			out, err := uc.Execute(cmd.Context(), usecase.ExportTasksInput{ProjectID: g.project})
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(out.Data)
				return err
			}
			if err := os.WriteFile(output, out.Data, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d task(s) to %s\n", out.Count, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")

	return cmd
}

// readInput reads path, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// parseJSONObject parses s as a JSON object. Empty input yields nil.
func parseJSONObject(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
