package usecase

import (
	"context"
	"fmt"
	"slices"

	"github.com/runoshun/crewstate/internal/domain"
)

// NextTaskInput contains the parameters for picking the next runnable task.
type NextTaskInput struct {
	ProjectID string
	Scope     []string // Restrict to these task ids (empty = all)
}

// NextTaskOutput contains the result of picking the next runnable task.
// Fields are ordered to minimize memory padding.
type NextTaskOutput struct {
	Task      *domain.Task   // Next runnable task, nil if none
	Stalled   []*domain.Task // Pending/retrying tasks whose dependencies can never complete
	Running   []*domain.Task // Tasks currently in running status
	Remaining int            // Non-terminal tasks in scope
}

// NextTask is the use case for selecting the next runnable task.
type NextTask struct {
	tasks domain.TaskRepository
}

// NewNextTask creates a new NextTask use case.
func NewNextTask(tasks domain.TaskRepository) *NextTask {
	return &NextTask{tasks: tasks}
}

// Execute returns the highest-priority runnable task: status pending or
// retrying and every dependency completed. Ties break on creation time, then id.
func (uc *NextTask) Execute(_ context.Context, in NextTaskInput) (*NextTaskOutput, error) {
	if in.ProjectID == "" {
		return nil, domain.ErrEmptyProjectID
	}
	all, err := uc.tasks.List(in.ProjectID, domain.TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	byID := make(map[string]*domain.Task, len(all))
	for _, t := range all {
		byID[t.ID] = t
	}

	out := &NextTaskOutput{}
	var runnable []*domain.Task
	for _, t := range all {
		if len(in.Scope) > 0 && !slices.Contains(in.Scope, t.ID) {
			continue
		}
		if !t.Status.IsTerminal() {
			out.Remaining++
		}
		switch {
		case t.Status == domain.StatusRunning:
			out.Running = append(out.Running, t)
		case t.IsRunnable(byID):
			runnable = append(runnable, t)
		case t.IsStalled(byID):
			out.Stalled = append(out.Stalled, t)
		}
	}

	if len(runnable) > 0 {
		slices.SortFunc(runnable, domain.CompareRunOrder)
		out.Task = runnable[0]
	}
	return out, nil
}
