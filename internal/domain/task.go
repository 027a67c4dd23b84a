// Package domain contains core business entities and interfaces.
package domain

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// Priority orders runnable tasks. Higher ranks run first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// AllPriorities returns all priorities from highest to lowest.
func AllPriorities() []Priority {
	return []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
}

// Rank returns a comparable weight for the priority. Unknown priorities rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// IsValid returns true if the priority is a known value.
func (p Priority) IsValid() bool {
	return p.Rank() > 0
}

// ParsePriority parses a case-insensitive priority name.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", ErrInvalidPriority
	}
	return p, nil
}

// Task represents one unit of work tracked for a project.
// Fields are ordered to minimize memory padding.
type Task struct {
	CreatedAt         time.Time         `json:"created_at" yaml:"created_at"`                                     // Creation time
	StartedAt         time.Time         `json:"started_at,omitempty" yaml:"started_at,omitempty"`                 // First start (set once)
	CompletedAt       time.Time         `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`             // Completion time (set once)
	UpdatedAt         time.Time         `json:"updated_at" yaml:"updated_at"`                                     // Last mutation
	Result            map[string]any    `json:"result,omitempty" yaml:"result,omitempty"`                         // Opaque payload, set on completion only
	Metadata          map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`                     // Free-form metadata
	ProjectID         string            `json:"project_id" yaml:"project_id"`                                     // Owning project
	ID                string            `json:"task_id" yaml:"task_id"`                                           // Unique within project
	Title             string            `json:"title" yaml:"title"`                                               // Title (required)
	Description       string            `json:"description,omitempty" yaml:"description,omitempty"`               // Work description handed to the performer
	Type              string            `json:"task_type,omitempty" yaml:"task_type,omitempty"`                   // Free-form classification
	Priority          Priority          `json:"priority" yaml:"priority"`                                         // Scheduling priority
	Status            Status            `json:"status" yaml:"status"`                                             // Current status
	Reason            string            `json:"reason,omitempty" yaml:"reason,omitempty"`                         // Skip or block reason
	DependsOn         []string          `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`                 // Task ids that must complete first
	Tags              []string          `json:"tags,omitempty" yaml:"tags,omitempty"`                             // Labels
	Errors            []TaskError       `json:"errors,omitempty" yaml:"errors,omitempty"`                         // Failed attempt history, oldest first
	EstimatedDuration time.Duration     `json:"estimated_duration,omitempty" yaml:"estimated_duration,omitempty"` // Operator estimate
	AttemptCount      int               `json:"attempt_count" yaml:"attempt_count"`                               // Failed attempts so far
	MaxAttempts       int               `json:"max_attempts" yaml:"max_attempts"`                                 // Attempt budget
}

// LastError returns the most recent error history entry, or nil.
func (t *Task) LastError() *TaskError {
	if len(t.Errors) == 0 {
		return nil
	}
	e := t.Errors[len(t.Errors)-1]
	return &e
}

// Duration returns the wall time between first start and completion.
// Returns 0 if the task has not completed.
func (t *Task) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.CompletedAt.IsZero() {
		return 0
	}
	return t.CompletedAt.Sub(t.StartedAt)
}

// Clone returns a copy that shares no slices or maps with t.
// Values nested inside Result are shared.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Result = maps.Clone(t.Result)
	c.Metadata = maps.Clone(t.Metadata)
	c.DependsOn = slices.Clone(t.DependsOn)
	c.Tags = slices.Clone(t.Tags)
	c.Errors = slices.Clone(t.Errors)
	return &c
}

func (t *Task) transitionError(to Status) error {
	return &InvalidTransitionError{Entity: "task", ID: t.ID, From: string(t.Status), To: string(to)}
}

// Start moves a pending or retrying task to running.
// StartedAt is only set on the first start.
func (t *Task) Start(now time.Time) error {
	if !t.Status.CanStart() {
		return t.transitionError(StatusRunning)
	}
	t.Status = StatusRunning
	if t.StartedAt.IsZero() {
		t.StartedAt = now
	}
	t.UpdatedAt = now
	return nil
}

// Complete moves a running task to completed and stores its result.
func (t *Task) Complete(result map[string]any, now time.Time) error {
	if !t.Status.CanTransitionTo(StatusCompleted) {
		return t.transitionError(StatusCompleted)
	}
	t.Status = StatusCompleted
	t.Result = maps.Clone(result)
	if t.CompletedAt.IsZero() {
		t.CompletedAt = now
	}
	t.UpdatedAt = now
	return nil
}

// Fail records a failed attempt on a running task.
// The task moves to retrying while attempts remain and the error is
// recoverable, otherwise to failed. The new status is returned.
func (t *Task) Fail(aerr *AgentError, now time.Time) (Status, error) {
	if t.Status != StatusRunning {
		return t.Status, t.transitionError(StatusFailed)
	}
	recoverable := aerr == nil || aerr.Recoverable
	retry := t.AttemptCount+1 < t.MaxAttempts && recoverable

	t.AttemptCount++
	entry := TaskError{Timestamp: now, Attempt: t.AttemptCount, Category: CategoryUnknown, Severity: SeverityMedium}
	if aerr != nil {
		entry.Message = aerr.Message
		entry.Category = aerr.Category
		entry.Severity = aerr.Severity
	}
	t.Errors = append(t.Errors, entry)

	if retry {
		t.Status = StatusRetrying
	} else {
		t.Status = StatusFailed
	}
	t.UpdatedAt = now
	return t.Status, nil
}

// Skip moves a non-terminal task to skipped.
func (t *Task) Skip(reason string, now time.Time) error {
	if !t.Status.CanTransitionTo(StatusSkipped) {
		return t.transitionError(StatusSkipped)
	}
	t.Status = StatusSkipped
	t.Reason = reason
	t.UpdatedAt = now
	return nil
}

// Block moves a non-terminal task to blocked.
func (t *Task) Block(reason string, now time.Time) error {
	if !t.Status.CanTransitionTo(StatusBlocked) {
		return t.transitionError(StatusBlocked)
	}
	t.Status = StatusBlocked
	t.Reason = reason
	t.UpdatedAt = now
	return nil
}

// DependenciesMet reports whether every dependency exists and is completed.
func (t *Task) DependenciesMet(byID map[string]*Task) bool {
	for _, dep := range t.DependsOn {
		d, ok := byID[dep]
		if !ok || d.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// IsRunnable reports whether the task can be picked by the driver.
func (t *Task) IsRunnable(byID map[string]*Task) bool {
	return t.Status.CanStart() && t.DependenciesMet(byID)
}

// IsStalled reports whether a pending or retrying task depends on a task
// that can never complete.
func (t *Task) IsStalled(byID map[string]*Task) bool {
	if !t.Status.CanStart() {
		return false
	}
	for _, dep := range t.DependsOn {
		if d, ok := byID[dep]; ok && d.Status.IsTerminal() && d.Status != StatusCompleted {
			return true
		}
	}
	return false
}

// CompareRunOrder orders runnable tasks: higher priority, then earlier
// creation, then task id.
func CompareRunOrder(a, b *Task) int {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return rb - ra
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// FindDependencyCycle reports whether adding taskID with deps would close a
// cycle in the graph described by edges (task id to its depends_on).
// Returns the cycle path starting and ending with taskID, or nil.
func FindDependencyCycle(edges map[string][]string, taskID string, deps []string) []string {
	for _, dep := range deps {
		if dep == taskID {
			return []string{taskID, taskID}
		}
	}

	visited := make(map[string]bool)
	var walk func(id string, path []string) []string
	walk = func(id string, path []string) []string {
		if id == taskID {
			return append(path, id)
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		for _, next := range edges[id] {
			if p := walk(next, append(path, id)); p != nil {
				return p
			}
		}
		return nil
	}

	for _, dep := range deps {
		if p := walk(dep, []string{taskID}); p != nil {
			return p
		}
	}
	return nil
}

// TaskFilter specifies criteria for listing tasks.
type TaskFilter struct {
	Statuses []Status // empty = all statuses
	Tags     []string // AND condition
}

// Matches reports whether t satisfies the filter.
func (f TaskFilter) Matches(t *Task) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
		return false
	}
	for _, tag := range f.Tags {
		if !slices.Contains(t.Tags, tag) {
			return false
		}
	}
	return true
}
