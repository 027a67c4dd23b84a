// Package usecase contains application use cases.
package usecase

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/runoshun/crewstate/internal/domain"
	"github.com/runoshun/crewstate/internal/usecase/shared"
)

// NewTaskInput contains the parameters for creating a new task.
// Fields are ordered to minimize memory padding.
type NewTaskInput struct {
	Metadata          map[string]string // Free-form metadata (optional)
	ProjectID         string            // Owning project (required)
	TaskID            string            // Unique within the project (required)
	Title             string            // Task title (required)
	Description       string            // Task description (optional)
	Type              string            // Task type (optional)
	Priority          string            // Priority (optional, empty = [tasks] default_priority)
	DependsOn         []string          // Dependency task ids (may reference tasks not created yet)
	Tags              []string          // Labels (optional)
	EstimatedDuration time.Duration     // Operator estimate (optional)
	MaxAttempts       int               // Attempt budget (0 = [tasks] max_attempts)
}

// NewTaskOutput contains the result of creating a new task.
type NewTaskOutput struct {
	Task *domain.Task // The created task
}

// NewTask is the use case for creating a new task.
type NewTask struct {
	tasks  domain.TaskRepository
	locker domain.Locker
	config domain.ConfigLoader
	clock  domain.Clock
	logger domain.Logger
}

// NewNewTask creates a new NewTask use case.
func NewNewTask(tasks domain.TaskRepository, locker domain.Locker, config domain.ConfigLoader, clock domain.Clock, logger domain.Logger) *NewTask {
	return &NewTask{
		tasks:  tasks,
		locker: locker,
		config: config,
		clock:  clock,
		logger: logger,
	}
}

// Execute creates a new task with the given input.
// The duplicate and cycle checks run under the project lock, so two
// concurrent creates cannot both succeed for the same id.
func (uc *NewTask) Execute(ctx context.Context, in NewTaskInput) (*NewTaskOutput, error) {
	if err := validateTaskIDs(in.ProjectID, in.TaskID); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, domain.ErrEmptyTitle
	}
	deps := dedupe(in.DependsOn)
	for _, dep := range deps {
		if !domain.ValidateID(dep) {
			return nil, fmt.Errorf("dependency %q: %w", dep, domain.ErrInvalidID)
		}
	}

	cfg, err := uc.config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	priority := cfg.Tasks.DefaultPriority
	if in.Priority != "" {
		if priority, err = domain.ParsePriority(in.Priority); err != nil {
			return nil, fmt.Errorf("priority %q: %w", in.Priority, err)
		}
	}
	maxAttempts := in.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = cfg.Tasks.MaxAttempts
	}

	var task *domain.Task
	err = shared.WithProjectLock(ctx, uc.locker, in.ProjectID, func() error {
		existing, err := uc.tasks.Get(in.ProjectID, in.TaskID)
		if err != nil {
			return fmt.Errorf("get task: %w", err)
		}
		if existing != nil {
			return &domain.DuplicateTaskError{ProjectID: in.ProjectID, TaskID: in.TaskID}
		}

		all, err := uc.tasks.List(in.ProjectID, domain.TaskFilter{})
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		edges := make(map[string][]string, len(all))
		for _, t := range all {
			edges[t.ID] = t.DependsOn
		}
		if path := domain.FindDependencyCycle(edges, in.TaskID, deps); path != nil {
			return &domain.CyclicDependencyError{Path: path}
		}

		now := uc.clock.Now()
		task = &domain.Task{
			ProjectID:         in.ProjectID,
			ID:                in.TaskID,
			Title:             title,
			Description:       in.Description,
			Type:              in.Type,
			Priority:          priority,
			Status:            domain.StatusPending,
			DependsOn:         deps,
			Tags:              dedupe(in.Tags),
			Metadata:          in.Metadata,
			EstimatedDuration: in.EstimatedDuration,
			MaxAttempts:       maxAttempts,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := uc.tasks.Save(task); err != nil {
			return fmt.Errorf("save task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if uc.logger != nil {
		uc.logger.Info(in.ProjectID, "task", fmt.Sprintf("created %s: %q", task.ID, task.Title))
	}
	return &NewTaskOutput{Task: task}, nil
}

func validateTaskIDs(projectID, taskID string) error {
	if projectID == "" {
		return domain.ErrEmptyProjectID
	}
	if taskID == "" {
		return domain.ErrEmptyTaskID
	}
	if !domain.ValidateID(projectID) {
		return fmt.Errorf("project %q: %w", projectID, domain.ErrInvalidID)
	}
	if !domain.ValidateID(taskID) {
		return fmt.Errorf("task %q: %w", taskID, domain.ErrInvalidID)
	}
	return nil
}

// dedupe drops empty and repeated entries, keeping first occurrences in order.
func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
