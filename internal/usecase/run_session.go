package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/runoshun/crewstate/internal/domain"
	"github.com/runoshun/crewstate/internal/retry"
	"github.com/runoshun/crewstate/internal/usecase/shared"
)

// errRetryMismatch aborts the retry loop when the task store already moved
// the task to failed.
var errRetryMismatch = errors.New("task failed in store")

// driverErrors are performer errors no retry can fix. They stop the run
// instead of being charged to the task.
var driverErrors = []error{domain.ErrNoTaskCommand, domain.ErrNotInitialized}

func stopsDriver(err error) bool {
	for _, target := range driverErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// RunSessionInput contains the parameters for driving a session.
// Fields are ordered to minimize memory padding.
type RunSessionInput struct {
	ProjectID    string   // Project to run (required unless SessionID is set)
	SessionID    string   // Session to start or resume (empty = latest resumable, else a new one)
	Name         string   // Name for a new session
	TaskIDs      []string // Scope for a new session
	BlockStalled bool     // Block stalled tasks instead of pausing ([driver] block_stalled also enables this)
	NoResume     bool     // Always create a new session
}

// RunSessionOutput summarizes one driver run.
// Fields are ordered to minimize memory padding.
type RunSessionOutput struct {
	Session   *domain.Session
	Errors    retry.Summary // Classified failures seen during this run
	Completed []string      // Tasks completed during this run
	Failed    []string      // Tasks failed during this run
	Blocked   []string      // Stalled tasks blocked during this run
	Stalled   []string      // Stalled tasks left in place when the run paused
	Attempts  int           // Performer calls during this run
	Resumed   bool          // True if an existing session was resumed
}

// RunSessionDeps holds the ports used by RunSession.
type RunSessionDeps struct {
	Tasks       domain.TaskRepository
	Sessions    domain.SessionRepository
	Checkpoints domain.CheckpointRepository
	Locker      domain.Locker
	Config      domain.ConfigLoader
	Clock       domain.Clock
	Logger      domain.Logger
	Performer   domain.TaskPerformer
	Metrics     domain.MetricsRecorder
}

// RunSession is the execution driver: it picks runnable tasks of a session's
// scope one at a time, performs them under the retry policy and records
// progress and checkpoints until nothing is left to run.
type RunSession struct {
	deps  RunSessionDeps
	sleep func(ctx context.Context, d time.Duration) error
	rnd   func() float64

	newSession    *NewSession
	startSession  *StartSession
	resumeSession *ResumeSession
	pauseSession  *PauseSession
	completeSess  *CompleteSession
	failSession   *FailSession
	progress      *RecordProgress
	checkpoint    *CreateCheckpoint
	reconcile     *ReconcileSession
	findResumable *FindResumable
	nextTask      *NextTask
	startTask     *StartTask
	completeTask  *CompleteTask
	failTask      *FailTask
	blockTask     *BlockTask
}

// NewRunSession creates a new RunSession use case.
func NewRunSession(deps RunSessionDeps) *RunSession {
	if deps.Metrics == nil {
		deps.Metrics = domain.NopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = domain.NopLogger{}
	}
	d := deps
	classifier := retry.NewClassifier(d.Clock)
	return &RunSession{
		deps:          d,
		newSession:    NewNewSession(d.Sessions, d.Tasks, d.Locker, d.Clock, d.Logger),
		startSession:  NewStartSession(d.Sessions, d.Locker, d.Clock, d.Logger),
		resumeSession: NewResumeSession(d.Sessions, d.Locker, d.Clock, d.Logger),
		pauseSession:  NewPauseSession(d.Sessions, d.Locker, d.Clock, d.Logger),
		completeSess:  NewCompleteSession(d.Sessions, d.Locker, d.Clock, d.Logger),
		failSession:   NewFailSession(d.Sessions, d.Locker, d.Clock, d.Logger),
		progress:      NewRecordProgress(d.Sessions, d.Locker, d.Clock, d.Logger),
		checkpoint:    NewCreateCheckpoint(d.Sessions, d.Checkpoints, d.Locker, d.Clock, d.Logger),
		reconcile:     NewReconcileSession(d.Tasks, d.Sessions, d.Locker, d.Clock, d.Logger),
		findResumable: NewFindResumable(d.Sessions),
		nextTask:      NewNextTask(d.Tasks),
		startTask:     NewStartTask(d.Tasks, d.Locker, d.Clock, d.Logger),
		completeTask:  NewCompleteTask(d.Tasks, d.Locker, d.Clock, d.Logger),
		failTask:      NewFailTask(d.Tasks, d.Locker, d.Clock, d.Logger, classifier.Wrap),
		blockTask:     NewBlockTask(d.Tasks, d.Locker, d.Clock, d.Logger),
	}
}

// WithSleep replaces the retry backoff sleep. Used by tests.
func (uc *RunSession) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *RunSession {
	uc.sleep = sleep
	return uc
}

// WithRand replaces the retry jitter source. Used by tests.
func (uc *RunSession) WithRand(rnd func() float64) *RunSession {
	uc.rnd = rnd
	return uc
}

// runState carries the bookkeeping of one Execute call.
type runState struct {
	cfg     *domain.Config
	history *retry.History
	limiter *rate.Limiter
	out     *RunSessionOutput
	session *domain.Session
	settled int
}

// Execute drives the session until every task in scope is settled, nothing
// runnable remains, the session is cancelled or paused elsewhere, or ctx is done.
// A performer that reports it cannot run is rejected before any session is
// touched. A structural error fails the session and is returned.
func (uc *RunSession) Execute(ctx context.Context, in RunSessionInput) (*RunSessionOutput, error) {
	cfg, err := uc.deps.Config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	st := &runState{
		cfg:     cfg,
		history: retry.NewHistory(cfg.Retry.HistorySize),
		out:     &RunSessionOutput{},
	}
	if tpm := cfg.Driver.TasksPerMinute; tpm > 0 {
		st.limiter = rate.NewLimiter(rate.Limit(tpm/60), 1)
	}
	blockStalled := in.BlockStalled || cfg.Driver.BlockStalled

	if rc, ok := uc.deps.Performer.(domain.ReadinessChecker); ok {
		if err := rc.Ready(); err != nil {
			return nil, err
		}
	}

	session, resumed, err := uc.acquire(ctx, in)
	if err != nil {
		return nil, err
	}
	st.session = session
	st.out.Resumed = resumed
	uc.deps.Logger.Info(session.ProjectID, "driver", fmt.Sprintf("running %s (resumed=%t)", session.ID, resumed))

	err = uc.loop(ctx, st, blockStalled)
	st.out.Errors = st.history.Summary()
	if err == nil {
		st.out.Session = st.session
		return st.out, nil
	}

	// The session outlives the run: persist its final state even when ctx is done.
	bg := context.WithoutCancel(ctx)
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		uc.stop(bg, st, "interrupted")
		st.out.Session = st.session
		return st.out, err
	}
	uc.deps.Logger.Error(st.session.ProjectID, "driver", fmt.Sprintf("%s crashed: %v", st.session.ID, err))
	if out, ferr := uc.failSession.Execute(bg, FailSessionInput{SessionID: st.session.ID, Message: err.Error()}); ferr == nil {
		st.session = out.Session
		uc.deps.Metrics.SessionFinished(st.session.ProjectID, domain.SessionFailed)
	}
	st.out.Session = st.session
	return st.out, err
}

// acquire returns the session to drive, moved to running.
func (uc *RunSession) acquire(ctx context.Context, in RunSessionInput) (*domain.Session, bool, error) {
	var target *domain.Session
	switch {
	case in.SessionID != "":
		s, err := shared.GetSession(uc.deps.Sessions, in.SessionID)
		if err != nil {
			return nil, false, err
		}
		target = s
	case in.ProjectID == "":
		return nil, false, domain.ErrEmptyProjectID
	case !in.NoResume:
		found, err := uc.findResumable.Execute(ctx, FindResumableInput{ProjectID: in.ProjectID})
		if err != nil {
			return nil, false, err
		}
		target = found.Session
	}

	if target == nil {
		name := in.Name
		if name == "" {
			name = "run " + uc.deps.Clock.Now().UTC().Format(time.RFC3339)
		}
		created, err := uc.newSession.Execute(ctx, NewSessionInput{ProjectID: in.ProjectID, Name: name, TaskIDs: in.TaskIDs})
		if err != nil {
			return nil, false, err
		}
		target = created.Session
	}

	switch {
	case target.Status == domain.SessionCreated:
		out, err := uc.startSession.Execute(ctx, SessionInput{SessionID: target.ID})
		if err != nil {
			return nil, false, err
		}
		return out.Session, false, nil
	case target.CanResume():
		// The task store is authoritative; fix drift left by a crash first.
		if _, err := uc.reconcile.Execute(ctx, ReconcileSessionInput{SessionID: target.ID}); err != nil {
			return nil, false, err
		}
		out, err := uc.resumeSession.Execute(ctx, SessionInput{SessionID: target.ID})
		if err != nil {
			return nil, false, err
		}
		return out.Session, true, nil
	case target.Status == domain.SessionRunning:
		return nil, false, &domain.ConflictError{
			Err:    domain.ErrSessionRunning,
			ID:     target.ID,
			Reason: "session is already running (pause it first if its driver died)",
		}
	default:
		return nil, false, &domain.InvalidTransitionError{Entity: "session", ID: target.ID, From: string(target.Status), To: string(domain.SessionRunning)}
	}
}

func (uc *RunSession) loop(ctx context.Context, st *runState, blockStalled bool) error {
	if err := uc.recoverInterrupted(ctx, st); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		current, err := shared.GetSession(uc.deps.Sessions, st.session.ID)
		if err != nil {
			return err
		}
		st.session = current
		if current.Status != domain.SessionRunning {
			uc.deps.Logger.Info(current.ProjectID, "driver", fmt.Sprintf("%s is %s, stopping", current.ID, current.Status))
			uc.deps.Metrics.SessionFinished(current.ProjectID, current.Status)
			return nil
		}

		next, err := uc.nextTask.Execute(ctx, NextTaskInput{ProjectID: current.ProjectID, Scope: current.TaskIDs})
		if err != nil {
			return err
		}

		if next.Task == nil {
			if next.Remaining == 0 {
				return uc.finish(ctx, st)
			}
			if blockStalled && len(next.Stalled) > 0 {
				if err := uc.blockStalled(ctx, st, next.Stalled); err != nil {
					return err
				}
				continue
			}
			for _, t := range next.Stalled {
				st.out.Stalled = append(st.out.Stalled, t.ID)
			}
			uc.stop(ctx, st, fmt.Sprintf("%d task(s) remain but none is runnable", next.Remaining))
			return nil
		}

		if st.limiter != nil {
			if err := st.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if err := uc.runTask(ctx, st, next.Task); err != nil {
			return err
		}
	}
}

// recoverInterrupted records a failed attempt for tasks left running by a
// previous driver that died mid-attempt.
func (uc *RunSession) recoverInterrupted(ctx context.Context, st *runState) error {
	s := st.session
	running, err := uc.deps.Tasks.List(s.ProjectID, domain.TaskFilter{Statuses: []domain.Status{domain.StatusRunning}})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	for _, t := range running {
		if !s.InScope(t.ID) {
			continue
		}
		uc.deps.Logger.Warn(s.ProjectID, "driver", fmt.Sprintf("recovering interrupted attempt of %s", t.ID))
		out, err := uc.failTask.Execute(ctx, FailTaskInput{ProjectID: s.ProjectID, TaskID: t.ID, Err: errors.New("attempt interrupted")})
		if err != nil {
			return err
		}
		if out.Task.Status == domain.StatusFailed {
			if err := uc.record(ctx, st, domain.ProgressUpdate{FailedID: t.ID}); err != nil {
				return err
			}
			st.out.Failed = append(st.out.Failed, t.ID)
		}
	}
	return nil
}

// runTask performs one task under the retry policy. Returns only errors that
// should stop the driver.
func (uc *RunSession) runTask(ctx context.Context, st *runState, task *domain.Task) error {
	pid := task.ProjectID
	started := uc.deps.Clock.Now()
	if err := uc.record(ctx, st, domain.ProgressUpdate{CurrentTaskID: task.ID}); err != nil {
		return err
	}
	if st.session.Status != domain.SessionRunning {
		return nil
	}

	policy := retry.PolicyFromConfig(st.cfg.Retry)
	policy.MaxAttempts = min(policy.MaxAttempts, task.MaxAttempts-task.AttemptCount)
	exec := retry.NewExecutor(policy, uc.deps.Clock, st.history)
	if uc.sleep != nil {
		exec = exec.WithSleep(uc.sleep)
	}
	if uc.rnd != nil {
		exec = exec.WithRand(uc.rnd)
	}

	current := task
	hooks := retry.Hooks{
		BeforeAttempt: func(ctx context.Context, _ int) error {
			out, err := uc.startTask.Execute(ctx, StartTaskInput{ProjectID: pid, TaskID: task.ID})
			if err != nil {
				return err
			}
			current = out.Task
			uc.deps.Metrics.TaskStarted(pid)
			return nil
		},
		AfterFailure: func(ctx context.Context, _ int, aerr *domain.AgentError, retrying bool) error {
			if ctx.Err() != nil {
				// Leave the task running; the next run records the interruption.
				return ctx.Err()
			}
			out, err := uc.failTask.Execute(ctx, FailTaskInput{ProjectID: pid, TaskID: task.ID, Err: aerr})
			if err != nil {
				return err
			}
			current = out.Task
			if out.Retrying {
				uc.deps.Metrics.RetryScheduled(pid, aerr.Category)
			}
			if retrying && !out.Retrying {
				return errRetryMismatch
			}
			return nil
		},
	}

	op := func(ctx context.Context, _ int) (map[string]any, error) {
		st.out.Attempts++
		result, err := uc.deps.Performer.Perform(ctx, current)
		if err != nil && stopsDriver(err) {
			return nil, retry.Abort(err)
		}
		return result, err
	}

	result, err := exec.Execute(ctx, op, hooks)
	var exhausted *retry.ExhaustedError
	switch {
	case err == nil:
		if _, err := uc.completeTask.Execute(ctx, CompleteTaskInput{ProjectID: pid, TaskID: task.ID, Result: result}); err != nil {
			return err
		}
		uc.deps.Metrics.TaskFinished(pid, domain.StatusCompleted, uc.deps.Clock.Now().Sub(started))
		st.out.Completed = append(st.out.Completed, task.ID)
		return uc.settle(ctx, st, domain.ProgressUpdate{CompletedID: task.ID})
	case errors.As(err, &exhausted) || errors.Is(err, errRetryMismatch):
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if current.Status != domain.StatusFailed {
			// Budget left on the task; it is picked again later.
			return nil
		}
		uc.deps.Metrics.TaskFinished(pid, domain.StatusFailed, uc.deps.Clock.Now().Sub(started))
		st.out.Failed = append(st.out.Failed, task.ID)
		return uc.settle(ctx, st, domain.ProgressUpdate{FailedID: task.ID})
	default:
		return fmt.Errorf("run task %s: %w", task.ID, err)
	}
}

// blockStalled blocks tasks whose dependencies can never complete and
// records them as skipped.
func (uc *RunSession) blockStalled(ctx context.Context, st *runState, stalled []*domain.Task) error {
	all, err := uc.deps.Tasks.List(st.session.ProjectID, domain.TaskFilter{})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	byID := make(map[string]*domain.Task, len(all))
	for _, t := range all {
		byID[t.ID] = t
	}

	for _, t := range stalled {
		var blockers []string
		for _, dep := range t.DependsOn {
			if d, ok := byID[dep]; ok && d.Status.IsTerminal() && d.Status != domain.StatusCompleted {
				blockers = append(blockers, fmt.Sprintf("%s (%s)", d.ID, d.Status))
			}
		}
		reason := "dependency can never complete: " + strings.Join(blockers, ", ")
		if _, err := uc.blockTask.Execute(ctx, BlockTaskInput{ProjectID: t.ProjectID, TaskID: t.ID, Reason: reason}); err != nil {
			return err
		}
		uc.deps.Metrics.TaskFinished(t.ProjectID, domain.StatusBlocked, 0)
		st.out.Blocked = append(st.out.Blocked, t.ID)
		if err := uc.settle(ctx, st, domain.ProgressUpdate{SkippedID: t.ID}); err != nil {
			return err
		}
	}
	return nil
}

// record applies a progress update. A session finished elsewhere while a
// task was in flight (e.g. cancelled) keeps its final state; the task store
// still holds the outcome.
func (uc *RunSession) record(ctx context.Context, st *runState, u domain.ProgressUpdate) error {
	out, err := uc.progress.Execute(ctx, RecordProgressInput{SessionID: st.session.ID, Update: u})
	if err == nil {
		st.session = out.Session
		return nil
	}
	if errors.Is(err, domain.ErrConflict) {
		if s, gerr := shared.GetSession(uc.deps.Sessions, st.session.ID); gerr == nil && s.Status.IsTerminal() {
			st.session = s
			uc.deps.Logger.Warn(s.ProjectID, "driver", fmt.Sprintf("progress not recorded, %s is %s", s.ID, s.Status))
			return nil
		}
	}
	return err
}

// settle records a settled task and checkpoints every checkpoint_interval tasks.
func (uc *RunSession) settle(ctx context.Context, st *runState, u domain.ProgressUpdate) error {
	if err := uc.record(ctx, st, u); err != nil {
		return err
	}
	st.settled++
	if n := st.cfg.Session.CheckpointInterval; n > 0 && st.settled%n == 0 {
		return uc.snapshot(ctx, st, "interval")
	}
	return nil
}

func (uc *RunSession) snapshot(ctx context.Context, st *runState, trigger string) error {
	out, err := uc.checkpoint.Execute(ctx, CreateCheckpointInput{
		SessionID: st.session.ID,
		Context:   map[string]any{"trigger": trigger, "settled_this_run": st.settled},
	})
	if err != nil {
		return err
	}
	st.session = out.Session
	uc.deps.Metrics.CheckpointCreated(st.session.ProjectID)
	return nil
}

// finish writes the final checkpoint and completes the session.
func (uc *RunSession) finish(ctx context.Context, st *runState) error {
	if err := uc.snapshot(ctx, st, "final"); err != nil {
		return err
	}
	s := st.session
	result := map[string]any{
		"completed": len(s.CompletedTaskIDs),
		"failed":    len(s.FailedTaskIDs),
		"skipped":   len(s.SkippedTaskIDs),
	}
	out, err := uc.completeSess.Execute(ctx, CompleteSessionInput{SessionID: s.ID, Result: result})
	if err != nil {
		return err
	}
	st.session = out.Session
	uc.deps.Metrics.SessionFinished(s.ProjectID, domain.SessionCompleted)
	return nil
}

// stop checkpoints and pauses the session so it can be resumed later.
// Failures are logged; the run is ending anyway.
func (uc *RunSession) stop(ctx context.Context, st *runState, reason string) {
	pid := st.session.ProjectID
	if err := uc.snapshot(ctx, st, "final"); err != nil {
		uc.deps.Logger.Warn(pid, "driver", fmt.Sprintf("final checkpoint of %s: %v", st.session.ID, err))
	}
	out, err := uc.pauseSession.Execute(ctx, SessionInput{SessionID: st.session.ID})
	if err != nil {
		uc.deps.Logger.Warn(pid, "driver", fmt.Sprintf("pause %s: %v", st.session.ID, err))
		return
	}
	st.session = out.Session
	uc.deps.Metrics.SessionFinished(pid, domain.SessionPaused)
	uc.deps.Logger.Info(pid, "driver", fmt.Sprintf("%s paused: %s", st.session.ID, reason))
}
