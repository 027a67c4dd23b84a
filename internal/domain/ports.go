package domain

import (
	"context"
	"time"
)

// StoreInitializer initializes the data store.
type StoreInitializer interface {
	// Initialize creates the store layout if it doesn't exist.
	Initialize() error

	// IsInitialized checks if the store has been initialized.
	IsInitialized() bool
}

// TaskRepository manages task persistence.
// Implementations write each record atomically; callers serialize
// read-modify-write cycles through a Locker.
type TaskRepository interface {
	// Get retrieves a task. Returns nil if not found.
	Get(projectID, taskID string) (*Task, error)

	// List retrieves a project's tasks matching the filter, ordered by creation.
	List(projectID string, filter TaskFilter) ([]*Task, error)

	// Save creates or updates a task.
	Save(task *Task) error

	// ListProjects returns every project id that has tasks.
	ListProjects() ([]string, error)
}

// SessionRepository manages session persistence.
type SessionRepository interface {
	// Get retrieves a session by ID. Returns nil if not found.
	Get(sessionID string) (*Session, error)

	// ListByProject returns a project's sessions, most recently active first.
	ListByProject(projectID string) ([]*Session, error)

	// Save creates or updates a session.
	Save(session *Session) error
}

// CheckpointRepository stores immutable checkpoints.
type CheckpointRepository interface {
	// Get retrieves a checkpoint by ID. Returns nil if not found.
	Get(checkpointID string) (*Checkpoint, error)

	// Create stores a new checkpoint. Returns ErrCheckpointExists if the id is taken.
	Create(cp *Checkpoint) error

	// ListBySession returns a session's checkpoints in creation order.
	ListBySession(sessionID string) ([]*Checkpoint, error)
}

// Locker serializes mutations per key.
type Locker interface {
	// Lock blocks until the key is held or ctx is done.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// ProjectLockKey returns the lock key shared by task and session mutations of a project.
func ProjectLockKey(projectID string) string {
	return "project-" + projectID
}

// TaskPerformer carries out the work described by a task.
// The returned map becomes the task result.
type TaskPerformer interface {
	Perform(ctx context.Context, task *Task) (map[string]any, error)
}

// ReadinessChecker is implemented by performers that can tell before a run
// whether they are able to perform any task at all.
type ReadinessChecker interface {
	Ready() error
}

// TaskPerformerFunc adapts a function to TaskPerformer.
type TaskPerformerFunc func(ctx context.Context, task *Task) (map[string]any, error)

// Perform calls f.
func (f TaskPerformerFunc) Perform(ctx context.Context, task *Task) (map[string]any, error) {
	return f(ctx, task)
}

// MetricsRecorder receives execution events.
type MetricsRecorder interface {
	TaskStarted(projectID string)
	TaskFinished(projectID string, status Status, elapsed time.Duration)
	RetryScheduled(projectID string, category ErrorCategory)
	CheckpointCreated(projectID string)
	SessionFinished(projectID string, status SessionStatus)
}

// NopMetrics discards all events.
type NopMetrics struct{}

func (NopMetrics) TaskStarted(string)                         {}
func (NopMetrics) TaskFinished(string, Status, time.Duration) {}
func (NopMetrics) RetryScheduled(string, ErrorCategory)       {}
func (NopMetrics) CheckpointCreated(string)                   {}
func (NopMetrics) SessionFinished(string, SessionStatus)      {}

// Logger writes diagnostic entries. Scope is a project id, or empty for global.
type Logger interface {
	Debug(scope, category, msg string)
	Info(scope, category, msg string)
	Warn(scope, category, msg string)
	Error(scope, category, msg string)
}

// NopLogger discards all entries.
type NopLogger struct{}

func (NopLogger) Debug(string, string, string) {}
func (NopLogger) Info(string, string, string)  {}
func (NopLogger) Warn(string, string, string)  {}
func (NopLogger) Error(string, string, string) {}

// ConfigLoader loads configuration from files.
type ConfigLoader interface {
	// Load returns the merged configuration (default <- global <- repo).
	Load() (*Config, error)

	// LoadGlobal returns only the global configuration.
	LoadGlobal() (*Config, error)

	// LoadRepo returns only the repository configuration.
	LoadRepo() (*Config, error)
}

// ConfigInfo describes a config file on disk.
type ConfigInfo struct {
	Path    string
	Content string
	Exists  bool
}

// ConfigManager inspects and creates config files.
type ConfigManager interface {
	GetRepoConfigInfo() ConfigInfo
	GetGlobalConfigInfo() ConfigInfo
	InitRepoConfig() error
	InitGlobalConfig() error
}

// Clock provides time operations for testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time {
	return time.Now()
}
