package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrTaskNotFound      = fmt.Errorf("task %w", ErrNotFound)
	ErrSessionNotFound   = fmt.Errorf("session %w", ErrNotFound)
	ErrCheckpointMissing = fmt.Errorf("checkpoint %w", ErrNotFound)
	ErrDuplicateTask     = errors.New("task already exists")
	ErrCyclicDependency  = errors.New("cyclic dependency detected")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("conflict")
	ErrSessionRunning    = fmt.Errorf("%w: another session is running", ErrConflict)
	ErrCheckpointExists  = errors.New("checkpoint already exists")
	ErrEmptyTitle        = errors.New("title cannot be empty")
	ErrEmptyTaskID       = errors.New("task id cannot be empty")
	ErrEmptyProjectID    = errors.New("project id cannot be empty")
	ErrEmptySessionName  = errors.New("session name cannot be empty")
	ErrInvalidPriority   = errors.New("invalid priority")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidID         = errors.New("id must start with a letter or digit and use only letters, digits, '.', '_', ':' or '-'")
	ErrNotInitialized    = errors.New("crewstate not initialized (run 'crewstate init' first)")
	ErrConfigExists      = errors.New("config file already exists")
	ErrNoTaskCommand     = errors.New("no task command configured (set [driver] command)")
)

// DuplicateTaskError reports a create for a task id that already exists.
type DuplicateTaskError struct {
	ProjectID string
	TaskID    string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task %s already exists in project %s", e.TaskID, e.ProjectID)
}

func (e *DuplicateTaskError) Unwrap() error { return ErrDuplicateTask }

// CyclicDependencyError reports a dependency list that would close a cycle.
// Path starts and ends with the same task id.
type CyclicDependencyError struct {
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Path, " -> "))
}

func (e *CyclicDependencyError) Unwrap() error { return ErrCyclicDependency }

// InvalidTransitionError reports an operation not permitted from the current status.
type InvalidTransitionError struct {
	Entity string // "task" or "session"
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot transition from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// NotFoundError reports a missing task, session or checkpoint.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	switch e.Kind {
	case "task":
		return ErrTaskNotFound
	case "session":
		return ErrSessionNotFound
	case "checkpoint":
		return ErrCheckpointMissing
	default:
		return ErrNotFound
	}
}

// ConflictError reports an operation that conflicts with current state,
// such as starting a second running session or restoring a finished one.
type ConflictError struct {
	Err    error // Optional sentinel; defaults to ErrConflict
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrConflict
}

// IsStructural reports whether err is a programming or state error that must
// not be retried.
func IsStructural(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicateTask) ||
		errors.Is(err, ErrCyclicDependency) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrConflict)
}
