package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/runoshun/crewstate/internal/domain"
)

// TaskStatsInput contains the parameters for computing task statistics.
type TaskStatsInput struct {
	ProjectID string
}

// TaskStatsOutput contains a project's task statistics.
// Fields are ordered to minimize memory padding.
type TaskStatsOutput struct {
	ByStatus          map[domain.Status]int
	AverageDuration   time.Duration // Mean start-to-completion time of completed tasks
	ETA               time.Duration // AverageDuration x Remaining (0 without history)
	CompletionPercent float64       // completed / total, two decimals
	Total             int
	Remaining         int // pending + running + retrying
}

// TaskStats is the use case for summarizing a project's tasks.
type TaskStats struct {
	tasks domain.TaskRepository
}

// NewTaskStats creates a new TaskStats use case.
func NewTaskStats(tasks domain.TaskRepository) *TaskStats {
	return &TaskStats{tasks: tasks}
}

// Execute computes counts per status, completion, average duration and ETA.
func (uc *TaskStats) Execute(_ context.Context, in TaskStatsInput) (*TaskStatsOutput, error) {
	if in.ProjectID == "" {
		return nil, domain.ErrEmptyProjectID
	}
	tasks, err := uc.tasks.List(in.ProjectID, domain.TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	out := &TaskStatsOutput{
		ByStatus: make(map[domain.Status]int, len(domain.AllStatuses())),
		Total:    len(tasks),
	}
	for _, st := range domain.AllStatuses() {
		out.ByStatus[st] = 0
	}

	var total time.Duration
	var timed int
	for _, t := range tasks {
		out.ByStatus[t.Status]++
		if !t.Status.IsTerminal() {
			out.Remaining++
		}
		if d := t.Duration(); d > 0 {
			total += d
			timed++
		}
	}

	if out.Total > 0 {
		pct := float64(out.ByStatus[domain.StatusCompleted]) / float64(out.Total) * 100
		out.CompletionPercent = math.Round(pct*100) / 100
	}
	if timed > 0 {
		out.AverageDuration = total / time.Duration(timed)
		out.ETA = out.AverageDuration * time.Duration(out.Remaining)
	}
	return out, nil
}

// StalledTasksInput contains the parameters for listing stalled tasks.
type StalledTasksInput struct {
	ProjectID string
}

// StalledTask is a task together with the dependencies that stall it.
type StalledTask struct {
	Task     *domain.Task
	Blockers []*domain.Task // Failed, skipped or blocked dependencies
}

// StalledTasksOutput contains the stalled tasks of a project.
type StalledTasksOutput struct {
	Tasks []StalledTask
}

// StalledTasks is the use case for reporting tasks that can never become runnable.
// Nothing is transitioned; blocking them is the caller's decision.
type StalledTasks struct {
	tasks domain.TaskRepository
}

// NewStalledTasks creates a new StalledTasks use case.
func NewStalledTasks(tasks domain.TaskRepository) *StalledTasks {
	return &StalledTasks{tasks: tasks}
}

// Execute lists pending/retrying tasks with a failed, skipped or blocked dependency.
func (uc *StalledTasks) Execute(_ context.Context, in StalledTasksInput) (*StalledTasksOutput, error) {
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

	out := &StalledTasksOutput{}
	for _, t := range all {
		if !t.IsStalled(byID) {
			continue
		}
		st := StalledTask{Task: t}
		for _, dep := range t.DependsOn {
			if d, ok := byID[dep]; ok && d.Status.IsTerminal() && d.Status != domain.StatusCompleted {
				st.Blockers = append(st.Blockers, d)
			}
		}
		out.Tasks = append(out.Tasks, st)
	}
	return out, nil
}
