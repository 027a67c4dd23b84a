package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/runoshun/crewstate/internal/app"
	"github.com/runoshun/crewstate/internal/domain"
	"github.com/runoshun/crewstate/internal/infra/executor"
	"github.com/runoshun/crewstate/internal/infra/metrics"
	"github.com/runoshun/crewstate/internal/usecase"
)

// newRunCommand creates the run command.
func newRunCommand(c *app.Container, g *globalFlags) *cobra.Command {
	var opts struct {
		SessionID    string
		Name         string
		Command      string
		MetricsAddr  string
		TaskIDs      []string
		BlockStalled bool
		NoResume     bool
		Verbose      bool
	}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive a session until its tasks are done",
		Long: `Run the tasks of a session one at a time until nothing is left to run.

The session is the one given by --session, else the most recently active
paused or failed session (after reconciling it with the task store), else
a new one. Each task is handed to the task command ([driver] command or
--command) and retried per the [retry] policy. Progress is checkpointed
every [session] checkpoint_interval settled tasks and once at the end.

The run stops when:
- every task in scope is settled: the session completes
- tasks remain but none is runnable: the session is paused
  (--block-stalled blocks tasks whose dependencies can never complete instead)
- the session is paused or cancelled from another shell
- Ctrl-C: the session is paused and the interrupted attempt is recorded
  as a failed attempt on the next run

The task command runs with 'sh -c' in the project directory. It receives
CREWSTATE_PROJECT, CREWSTATE_TASK_ID, CREWSTATE_TASK_TITLE, CREWSTATE_ATTEMPT and related
variables, the description on stdin, and may print a JSON object as result.

Examples:
  # Run everything with a shell command
  crewstate run --command './scripts/do-task.sh'

  # Serve Prometheus metrics while running
  crewstate run --metrics-addr :9090 --verbose`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Verbose {
				c.SetVerbose(cmd.ErrOrStderr())
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			addr := opts.MetricsAddr
			if addr == "" && c.AppConfig != nil {
				addr = c.AppConfig.Metrics.Addr
			}
			if addr != "" && c.Metrics != nil {
				srv, err := metrics.StartServer(ctx, addr, c.Metrics, c.Logger)
				if err != nil {
					return fmt.Errorf("start metrics server: %w", err)
				}
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Serving metrics on http://%s/metrics\n", srv.Addr())
			}

			var performer domain.TaskPerformer
			if opts.Command != "" {
				performer = executor.NewPerformer(opts.Command, c.Config.RootDir).
					WithEnv("CREWSTATE_STATE_DIR=" + c.Config.StateDir)
			}

			uc := c.RunSessionUseCase(performer)
			out, err := uc.Execute(ctx, usecase.RunSessionInput{
				ProjectID:    g.project,
				SessionID:    opts.SessionID,
				Name:         opts.Name,
				TaskIDs:      opts.TaskIDs,
				BlockStalled: opts.BlockStalled,
				NoResume:     opts.NoResume,
			})
			if out != nil {
				printRunSummary(cmd.OutOrStdout(), out)
			}
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Interrupted; run again to resume")
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&opts.SessionID, "session", "", "Session to start or resume")
	cmd.Flags().StringVar(&opts.Name, "name", "", "Name for a new session")
	cmd.Flags().StringSliceVar(&opts.TaskIDs, "task", nil, "Task scope for a new session")
	cmd.Flags().StringVar(&opts.Command, "command", "", "Task command (overrides [driver] command)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides [metrics] addr)")
	cmd.Flags().BoolVar(&opts.BlockStalled, "block-stalled", false, "Block tasks whose dependencies can never complete")
	cmd.Flags().BoolVar(&opts.NoResume, "no-resume", false, "Always start a new session")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Mirror log entries to stderr")

	return cmd
}

// printRunSummary prints what one run did.
func printRunSummary(w io.Writer, out *usecase.RunSessionOutput) {
	s := out.Session
	if s == nil {
		return
	}
	verb := "Started"
	if out.Resumed {
		verb = "Resumed"
	}
	_, _ = fmt.Fprintf(w, "%s session %s\n", verb, s.ID)
	_, _ = fmt.Fprintf(w, "Status: %s\n", s.Status)
	_, _ = fmt.Fprintf(w, "Progress: %d/%d completed (%.2f%%)\n", len(s.CompletedTaskIDs), s.TasksTotal, s.CompletionPercent())
	_, _ = fmt.Fprintf(w, "This run: %d attempt(s), %d completed, %d failed, %d blocked\n",
		out.Attempts, len(out.Completed), len(out.Failed), len(out.Blocked))
	if len(out.Failed) > 0 {
		_, _ = fmt.Fprintf(w, "Failed: %s\n", strings.Join(out.Failed, ", "))
	}
	if len(out.Stalled) > 0 {
		_, _ = fmt.Fprintf(w, "Stalled: %s (see 'crewstate task stalled')\n", strings.Join(out.Stalled, ", "))
	}

	if out.Errors.Total == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "Errors: %d (%d recoverable)\n", out.Errors.Total, out.Errors.Recoverable)
	cats := make([]string, 0, len(out.Errors.ByCategory))
	for cat := range out.Errors.ByCategory {
		cats = append(cats, string(cat))
	}
	slices.Sort(cats)
	for _, cat := range cats {
		_, _ = fmt.Fprintf(w, "  %-15s %d\n", cat, out.Errors.ByCategory[domain.ErrorCategory(cat)])
	}
}
