package usecase

import (
	"context"
	"fmt"

	"github.com/runoshun/crewstate/internal/domain"
	"github.com/runoshun/crewstate/internal/usecase/shared"
)

// taskMutator applies a locked read-modify-write to one task.
// Fields are ordered to minimize memory padding.
type taskMutator struct {
	tasks  domain.TaskRepository
	locker domain.Locker
	clock  domain.Clock
	logger domain.Logger
}

// mutate loads the task, applies fn and saves the result under the project lock.
func (m taskMutator) mutate(ctx context.Context, projectID, taskID string, fn func(t *domain.Task) error) (*domain.Task, error) {
	if err := validateTaskIDs(projectID, taskID); err != nil {
		return nil, err
	}
	var task *domain.Task
	err := shared.WithProjectLock(ctx, m.locker, projectID, func() error {
		t, err := shared.GetTask(m.tasks, projectID, taskID)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
		if err := m.tasks.Save(t); err != nil {
			return fmt.Errorf("save task: %w", err)
		}
		task = t
		return nil
	})
	return task, err
}

func (m taskMutator) log(projectID, msg string) {
	if m.logger != nil {
		m.logger.Info(projectID, "task", msg)
	}
}

// StartTaskInput contains the parameters for starting a task.
type StartTaskInput struct {
	ProjectID string
	TaskID    string
}

// StartTaskOutput contains the result of starting a task.
type StartTaskOutput struct {
	Task *domain.Task
}

// StartTask is the use case for moving a pending or retrying task to running.
type StartTask struct {
	m taskMutator
}

// NewStartTask creates a new StartTask use case.
func NewStartTask(tasks domain.TaskRepository, locker domain.Locker, clock domain.Clock, logger domain.Logger) *StartTask {
	return &StartTask{m: taskMutator{tasks: tasks, locker: locker, clock: clock, logger: logger}}
}

// Execute starts the task. started_at is only set on the first start.
func (uc *StartTask) Execute(ctx context.Context, in StartTaskInput) (*StartTaskOutput, error) {
	task, err := uc.m.mutate(ctx, in.ProjectID, in.TaskID, func(t *domain.Task) error {
		return t.Start(uc.m.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	uc.m.log(in.ProjectID, fmt.Sprintf("started %s (attempt %d/%d)", task.ID, task.AttemptCount+1, task.MaxAttempts))
	return &StartTaskOutput{Task: task}, nil
}

// CompleteTaskInput contains the parameters for completing a task.
type CompleteTaskInput struct {
	Result    map[string]any // Opaque result payload
	ProjectID string
	TaskID    string
}

// CompleteTaskOutput contains the result of completing a task.
type CompleteTaskOutput struct {
	Task *domain.Task
}

// CompleteTask is the use case for marking a running task as completed.
type CompleteTask struct {
	m taskMutator
}

// NewCompleteTask creates a new CompleteTask use case.
func NewCompleteTask(tasks domain.TaskRepository, locker domain.Locker, clock domain.Clock, logger domain.Logger) *CompleteTask {
	return &CompleteTask{m: taskMutator{tasks: tasks, locker: locker, clock: clock, logger: logger}}
}

// Execute completes the task and stores its result.
func (uc *CompleteTask) Execute(ctx context.Context, in CompleteTaskInput) (*CompleteTaskOutput, error) {
	task, err := uc.m.mutate(ctx, in.ProjectID, in.TaskID, func(t *domain.Task) error {
		return t.Complete(in.Result, uc.m.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	uc.m.log(in.ProjectID, fmt.Sprintf("completed %s", task.ID))
	return &CompleteTaskOutput{Task: task}, nil
}

// FailTaskInput contains the parameters for recording a failed attempt.
type FailTaskInput struct {
	Err       error // Failure cause; classified unless it already is a *domain.AgentError
	ProjectID string
	TaskID    string
}

// FailTaskOutput contains the result of recording a failed attempt.
type FailTaskOutput struct {
	Task     *domain.Task
	Error    *domain.AgentError // The classified error that was recorded
	Retrying bool               // True if the task moved to retrying
}

// FailTask is the use case for recording a failed attempt on a running task.
type FailTask struct {
	m        taskMutator
	classify func(error) *domain.AgentError
}

// NewFailTask creates a new FailTask use case.
// classify turns arbitrary errors into AgentErrors (see retry.Classifier.Wrap).
func NewFailTask(tasks domain.TaskRepository, locker domain.Locker, clock domain.Clock, logger domain.Logger, classify func(error) *domain.AgentError) *FailTask {
	return &FailTask{m: taskMutator{tasks: tasks, locker: locker, clock: clock, logger: logger}, classify: classify}
}

// Execute appends the error to the task history and moves the task to
// retrying or failed.
func (uc *FailTask) Execute(ctx context.Context, in FailTaskInput) (*FailTaskOutput, error) {
	var aerr *domain.AgentError
	if in.Err != nil {
		aerr = uc.classify(in.Err)
	}

	var status domain.Status
	task, err := uc.m.mutate(ctx, in.ProjectID, in.TaskID, func(t *domain.Task) error {
		var ferr error
		status, ferr = t.Fail(aerr, uc.m.clock.Now())
		return ferr
	})
	if err != nil {
		return nil, err
	}

	if uc.m.logger != nil {
		msg := fmt.Sprintf("attempt %d of %s failed -> %s", task.AttemptCount, task.ID, status)
		if last := task.LastError(); last != nil {
			msg += fmt.Sprintf(": [%s/%s] %s", last.Category, last.Severity, last.Message)
		}
		uc.m.logger.Warn(in.ProjectID, "task", msg)
	}
	return &FailTaskOutput{Task: task, Error: aerr, Retrying: status == domain.StatusRetrying}, nil
}

// SkipTaskInput contains the parameters for skipping a task.
type SkipTaskInput struct {
	ProjectID string
	TaskID    string
	Reason    string
}

// SkipTaskOutput contains the result of skipping a task.
type SkipTaskOutput struct {
	Task *domain.Task
}

// SkipTask is the use case for moving a non-terminal task to skipped.
type SkipTask struct {
	m taskMutator
}

// NewSkipTask creates a new SkipTask use case.
func NewSkipTask(tasks domain.TaskRepository, locker domain.Locker, clock domain.Clock, logger domain.Logger) *SkipTask {
	return &SkipTask{m: taskMutator{tasks: tasks, locker: locker, clock: clock, logger: logger}}
}

// Execute skips the task.
func (uc *SkipTask) Execute(ctx context.Context, in SkipTaskInput) (*SkipTaskOutput, error) {
	task, err := uc.m.mutate(ctx, in.ProjectID, in.TaskID, func(t *domain.Task) error {
		return t.Skip(in.Reason, uc.m.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	uc.m.log(in.ProjectID, fmt.Sprintf("skipped %s: %s", task.ID, in.Reason))
	return &SkipTaskOutput{Task: task}, nil
}

// BlockTaskInput contains the parameters for blocking a task.
type BlockTaskInput struct {
	ProjectID string
	TaskID    string
	Reason    string
}

// BlockTaskOutput contains the result of blocking a task.
type BlockTaskOutput struct {
	Task *domain.Task
}

// BlockTask is the use case for moving a non-terminal task to blocked.
type BlockTask struct {
	m taskMutator
}

// NewBlockTask creates a new BlockTask use case.
func NewBlockTask(tasks domain.TaskRepository, locker domain.Locker, clock domain.Clock, logger domain.Logger) *BlockTask {
	return &BlockTask{m: taskMutator{tasks: tasks, locker: locker, clock: clock, logger: logger}}
}

// Execute blocks the task.
func (uc *BlockTask) Execute(ctx context.Context, in BlockTaskInput) (*BlockTaskOutput, error) {
	task, err := uc.m.mutate(ctx, in.ProjectID, in.TaskID, func(t *domain.Task) error {
		return t.Block(in.Reason, uc.m.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	uc.m.log(in.ProjectID, fmt.Sprintf("blocked %s: %s", task.ID, in.Reason))
	return &BlockTaskOutput{Task: task}, nil
}
