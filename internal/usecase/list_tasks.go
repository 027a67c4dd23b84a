package usecase

import (
	"context"
	"fmt"
	"slices"

	"github.com/runoshun/crewstate/internal/domain"
	"github.com/runoshun/crewstate/internal/usecase/shared"
)

// ListTasksInput contains the parameters for listing tasks.
type ListTasksInput struct {
	ProjectID string
	Statuses  []string // Filter by status (empty = all)
	Tags      []string // Filter by tags (AND condition)
}

// ListTasksOutput contains the result of listing tasks.
type ListTasksOutput struct {
	Tasks []*domain.Task
}

// ListTasks is the use case for listing a project's tasks.
type ListTasks struct {
	tasks domain.TaskRepository
}

// NewListTasks creates a new ListTasks use case.
func NewListTasks(tasks domain.TaskRepository) *ListTasks {
	return &ListTasks{tasks: tasks}
}

// Execute lists tasks matching the filter in creation order.
func (uc *ListTasks) Execute(_ context.Context, in ListTasksInput) (*ListTasksOutput, error) {
	if in.ProjectID == "" {
		return nil, domain.ErrEmptyProjectID
	}
	filter := domain.TaskFilter{Tags: in.Tags}
	for _, s := range in.Statuses {
		st := domain.Status(s)
		if !st.IsValid() {
			return nil, fmt.Errorf("status %q: %w", s, domain.ErrInvalidStatus)
		}
		filter.Statuses = append(filter.Statuses, st)
	}

	tasks, err := uc.tasks.List(in.ProjectID, filter)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return &ListTasksOutput{Tasks: tasks}, nil
}

// ShowTaskInput contains the parameters for showing a task.
type ShowTaskInput struct {
	ProjectID string
	TaskID    string
}

// ShowTaskOutput contains a task and its dependency context.
// Fields are ordered to minimize memory padding.
type ShowTaskOutput struct {
	Task         *domain.Task
	Dependencies []*domain.Task // Existing dependencies, in depends_on order
	Missing      []string       // Dependencies not created yet
	Dependents   []string       // Tasks depending on this one
	Runnable     bool
	Stalled      bool
}

// ShowTask is the use case for displaying a task.
type ShowTask struct {
	tasks domain.TaskRepository
}

// NewShowTask creates a new ShowTask use case.
func NewShowTask(tasks domain.TaskRepository) *ShowTask {
	return &ShowTask{tasks: tasks}
}

// Execute returns the task with its dependencies and dependents.
func (uc *ShowTask) Execute(_ context.Context, in ShowTaskInput) (*ShowTaskOutput, error) {
	task, err := shared.GetTask(uc.tasks, in.ProjectID, in.TaskID)
	if err != nil {
		return nil, err
	}
	all, err := uc.tasks.List(in.ProjectID, domain.TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	byID := make(map[string]*domain.Task, len(all))
	for _, t := range all {
		byID[t.ID] = t
	}

	out := &ShowTaskOutput{
		Task:     task,
		Runnable: task.IsRunnable(byID),
		Stalled:  task.IsStalled(byID),
	}
	for _, dep := range task.DependsOn {
		if d, ok := byID[dep]; ok {
			out.Dependencies = append(out.Dependencies, d)
		} else {
			out.Missing = append(out.Missing, dep)
		}
	}
	for _, t := range all {
		if slices.Contains(t.DependsOn, task.ID) {
			out.Dependents = append(out.Dependents, t.ID)
		}
	}
	return out, nil
}
