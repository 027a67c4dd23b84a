// Package testutil provides shared test utilities and mock implementations.
package testutil

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/runoshun/crewstate/internal/domain"
)

// MockClock is a test double for domain.Clock.
type MockClock struct {
	NowTime time.Time
	mu      sync.Mutex
}

// Now returns the configured time.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.NowTime
}

// Advance moves the clock forward by d.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NowTime = m.NowTime.Add(d)
}

// Ensure mocks implement the domain ports.
var (
	_ domain.TaskRepository       = (*MockTaskRepository)(nil)
	_ domain.SessionRepository    = (*MockSessionRepository)(nil)
	_ domain.CheckpointRepository = (*MockCheckpointRepository)(nil)
	_ domain.StoreInitializer     = (*MockStoreInitializer)(nil)
	_ domain.Locker               = (*MockLocker)(nil)
	_ domain.Logger               = (*MockLogger)(nil)
	_ domain.MetricsRecorder      = (*MockMetrics)(nil)
	_ domain.TaskPerformer        = (*MockPerformer)(nil)
	_ domain.ConfigLoader         = (*MockConfigLoader)(nil)
	_ domain.ConfigManager        = (*MockConfigManager)(nil)
)

// MockTaskRepository is an in-memory domain.TaskRepository.
// Stored tasks are copied on the way in and out.
// Fields are ordered to minimize memory padding.
type MockTaskRepository struct {
	Tasks     map[string]*domain.Task // Keyed by "<project>/<task>"
	SaveErr   error
	GetErr    error
	ListErr   error
	SaveCount int
	mu        sync.Mutex
}

// NewMockTaskRepository creates a new MockTaskRepository with initialized maps.
func NewMockTaskRepository() *MockTaskRepository {
	return &MockTaskRepository{Tasks: make(map[string]*domain.Task)}
}

func taskKey(projectID, taskID string) string {
	return projectID + "/" + taskID
}

// Put stores task directly, bypassing SaveErr.
func (m *MockTaskRepository) Put(tasks ...*domain.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tasks {
		m.Tasks[taskKey(t.ProjectID, t.ID)] = t.Clone()
	}
}

// Task returns a copy of a stored task, or nil.
func (m *MockTaskRepository) Task(projectID, taskID string) *domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.Tasks[taskKey(projectID, taskID)]; ok {
		return t.Clone()
	}
	return nil
}

// Get retrieves a task.
func (m *MockTaskRepository) Get(projectID, taskID string) (*domain.Task, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	return m.Task(projectID, taskID), nil
}

// List returns a project's tasks matching the filter in creation order.
func (m *MockTaskRepository) List(projectID string, filter domain.TaskFilter) ([]*domain.Task, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var tasks []*domain.Task
	for _, t := range m.Tasks {
		if t.ProjectID == projectID && filter.Matches(t) {
			tasks = append(tasks, t.Clone())
		}
	}
	slices.SortFunc(tasks, func(a, b *domain.Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return tasks, nil
}

// Save saves a task.
func (m *MockTaskRepository) Save(task *domain.Task) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tasks[taskKey(task.ProjectID, task.ID)] = task.Clone()
	m.SaveCount++
	return nil
}

// ListProjects returns the sorted project ids that have tasks.
func (m *MockTaskRepository) ListProjects() ([]string, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	for _, t := range m.Tasks {
		seen[t.ProjectID] = true
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

// MockSessionRepository is an in-memory domain.SessionRepository.
// Fields are ordered to minimize memory padding.
type MockSessionRepository struct {
	Sessions map[string]*domain.Session
	SaveErr  error
	GetErr   error
	mu       sync.Mutex
}

// NewMockSessionRepository creates a new MockSessionRepository.
func NewMockSessionRepository() *MockSessionRepository {
	return &MockSessionRepository{Sessions: make(map[string]*domain.Session)}
}

// Put stores sessions directly, bypassing SaveErr.
func (m *MockSessionRepository) Put(sessions ...*domain.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range sessions {
		m.Sessions[s.ID] = s.Clone()
	}
}

// Session returns a copy of a stored session, or nil.
func (m *MockSessionRepository) Session(id string) *domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.Sessions[id]; ok {
		return s.Clone()
	}
	return nil
}

// Get retrieves a session by ID.
func (m *MockSessionRepository) Get(sessionID string) (*domain.Session, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	return m.Session(sessionID), nil
}

// ListByProject returns a project's sessions, most recently active first.
func (m *MockSessionRepository) ListByProject(projectID string) ([]*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Session
	for _, s := range m.Sessions {
		if s.ProjectID == projectID {
			out = append(out, s.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *domain.Session) int {
		if c := b.LastActive.Compare(a.LastActive); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Save saves a session.
func (m *MockSessionRepository) Save(session *domain.Session) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.Put(session)
	return nil
}

// MockCheckpointRepository is an in-memory domain.CheckpointRepository.
// Fields are ordered to minimize memory padding.
type MockCheckpointRepository struct {
	Checkpoints map[string]*domain.Checkpoint
	CreateErr   error
	mu          sync.Mutex
}

// NewMockCheckpointRepository creates a new MockCheckpointRepository.
func NewMockCheckpointRepository() *MockCheckpointRepository {
	return &MockCheckpointRepository{Checkpoints: make(map[string]*domain.Checkpoint)}
}

func copyCheckpoint(cp *domain.Checkpoint) *domain.Checkpoint {
	c := *cp
	c.Context = maps.Clone(cp.Context)
	c.Progress.CompletedTaskIDs = slices.Clone(cp.Progress.CompletedTaskIDs)
	c.Progress.FailedTaskIDs = slices.Clone(cp.Progress.FailedTaskIDs)
	c.Progress.SkippedTaskIDs = slices.Clone(cp.Progress.SkippedTaskIDs)
	return &c
}

// Get retrieves a checkpoint by ID.
func (m *MockCheckpointRepository) Get(checkpointID string) (*domain.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cp, ok := m.Checkpoints[checkpointID]; ok {
		return copyCheckpoint(cp), nil
	}
	return nil, nil
}

// Create stores a new checkpoint.
func (m *MockCheckpointRepository) Create(cp *domain.Checkpoint) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Checkpoints[cp.ID]; ok {
		return domain.ErrCheckpointExists
	}
	m.Checkpoints[cp.ID] = copyCheckpoint(cp)
	return nil
}

// ListBySession returns a session's checkpoints in creation order.
func (m *MockCheckpointRepository) ListBySession(sessionID string) ([]*domain.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Checkpoint
	for _, cp := range m.Checkpoints {
		if cp.SessionID == sessionID {
			out = append(out, copyCheckpoint(cp))
		}
	}
	slices.SortFunc(out, func(a, b *domain.Checkpoint) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// MockStoreInitializer is a test double for domain.StoreInitializer.
type MockStoreInitializer struct {
	InitErr     error
	Initialized bool
}

// Initialize marks the store initialized.
func (m *MockStoreInitializer) Initialize() error {
	if m.InitErr != nil {
		return m.InitErr
	}
	m.Initialized = true
	return nil
}

// IsInitialized reports whether Initialize succeeded.
func (m *MockStoreInitializer) IsInitialized() bool {
	return m.Initialized
}

// MockLocker is an in-process keyed domain.Locker.
type MockLocker struct {
	LockErr error
	keys    map[string]chan struct{}
	Calls   []string
	mu      sync.Mutex
}

// NewMockLocker creates a new MockLocker.
func NewMockLocker() *MockLocker {
	return &MockLocker{keys: make(map[string]chan struct{})}
}

// Lock blocks until key is free or ctx is done.
func (m *MockLocker) Lock(ctx context.Context, key string) (func(), error) {
	if m.LockErr != nil {
		return nil, m.LockErr
	}
	m.mu.Lock()
	ch, ok := m.keys[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.keys[key] = ch
	}
	m.Calls = append(m.Calls, key)
	m.mu.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-ch }) }, nil
}

// LogEntry is one entry captured by MockLogger.
type LogEntry struct {
	Level    string
	Scope    string
	Category string
	Msg      string
}

// MockLogger records log entries.
type MockLogger struct {
	Entries []LogEntry
	mu      sync.Mutex
}

func (m *MockLogger) add(level, scope, category, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, LogEntry{Level: level, Scope: scope, Category: category, Msg: msg})
}

// Debug records a debug entry.
func (m *MockLogger) Debug(scope, category, msg string) { m.add("DEBUG", scope, category, msg) }

// Info records an info entry.
func (m *MockLogger) Info(scope, category, msg string) { m.add("INFO", scope, category, msg) }

// Warn records a warn entry.
func (m *MockLogger) Warn(scope, category, msg string) { m.add("WARN", scope, category, msg) }

// Error records an error entry.
func (m *MockLogger) Error(scope, category, msg string) { m.add("ERROR", scope, category, msg) }

// Contains reports whether any entry message contains substr.
func (m *MockLogger) Contains(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Entries {
		if strings.Contains(e.Msg, substr) {
			return true
		}
	}
	return false
}

// MockMetrics counts recorded events.
type MockMetrics struct {
	Finished    map[domain.Status]int
	Retries     map[domain.ErrorCategory]int
	Sessions    map[domain.SessionStatus]int
	Started     int
	Checkpoints int
	mu          sync.Mutex
}

// NewMockMetrics creates a new MockMetrics.
func NewMockMetrics() *MockMetrics {
	return &MockMetrics{
		Finished: make(map[domain.Status]int),
		Retries:  make(map[domain.ErrorCategory]int),
		Sessions: make(map[domain.SessionStatus]int),
	}
}

func (m *MockMetrics) TaskStarted(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Started++
}

func (m *MockMetrics) TaskFinished(_ string, status domain.Status, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Finished[status]++
}

func (m *MockMetrics) RetryScheduled(_ string, category domain.ErrorCategory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Retries[category]++
}

func (m *MockMetrics) CheckpointCreated(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Checkpoints++
}

func (m *MockMetrics) SessionFinished(_ string, status domain.SessionStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sessions[status]++
}

// MockPerformer is a scripted domain.TaskPerformer.
// Each call for a task consumes the next entry of Errors[taskID];
// a nil entry or an exhausted list succeeds with Results[taskID].
type MockPerformer struct {
	Errors    map[string][]error
	Results   map[string]map[string]any
	OnPerform func(ctx context.Context, task *domain.Task)
	Calls     []string
	mu        sync.Mutex
}

// NewMockPerformer creates a new MockPerformer.
func NewMockPerformer() *MockPerformer {
	return &MockPerformer{
		Errors:  make(map[string][]error),
		Results: make(map[string]map[string]any),
	}
}

// Perform records the call and returns the scripted outcome.
func (m *MockPerformer) Perform(ctx context.Context, task *domain.Task) (map[string]any, error) {
	if m.OnPerform != nil {
		m.OnPerform(ctx, task)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, task.ID)
	if errs := m.Errors[task.ID]; len(errs) > 0 {
		m.Errors[task.ID] = errs[1:]
		if errs[0] != nil {
			return nil, errs[0]
		}
	}
	if r, ok := m.Results[task.ID]; ok {
		return maps.Clone(r), nil
	}
	return map[string]any{"task": task.ID}, nil
}

// CallCount returns how often taskID was performed.
func (m *MockPerformer) CallCount(taskID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range m.Calls {
		if id == taskID {
			n++
		}
	}
	return n
}

// MockConfigLoader is a test double for domain.ConfigLoader.
type MockConfigLoader struct {
	Config  *domain.Config
	LoadErr error
}

// Load returns the configured config or defaults.
func (m *MockConfigLoader) Load() (*domain.Config, error) {
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	if m.Config == nil {
		return domain.NewDefaultConfig(), nil
	}
	return m.Config, nil
}

// LoadGlobal returns the same as Load.
func (m *MockConfigLoader) LoadGlobal() (*domain.Config, error) { return m.Load() }

// LoadRepo returns the same as Load.
func (m *MockConfigLoader) LoadRepo() (*domain.Config, error) { return m.Load() }

// MockConfigManager is a test double for domain.ConfigManager.
type MockConfigManager struct {
	InitErr     error
	Repo        domain.ConfigInfo
	Global      domain.ConfigInfo
	RepoInits   int
	GlobalInits int
}

func (m *MockConfigManager) GetRepoConfigInfo() domain.ConfigInfo   { return m.Repo }
func (m *MockConfigManager) GetGlobalConfigInfo() domain.ConfigInfo { return m.Global }

func (m *MockConfigManager) InitRepoConfig() error {
	if m.InitErr != nil {
		return m.InitErr
	}
	if m.Repo.Exists {
		return domain.ErrConfigExists
	}
	m.RepoInits++
	m.Repo = domain.ConfigInfo{Path: "config.toml", Content: domain.ConfigTemplate(), Exists: true}
	return nil
}

func (m *MockConfigManager) InitGlobalConfig() error {
	if m.InitErr != nil {
		return m.InitErr
	}
	if m.Global.Exists {
		return domain.ErrConfigExists
	}
	m.GlobalInits++
	m.Global = domain.ConfigInfo{Path: "global.toml", Content: domain.ConfigTemplate(), Exists: true}
	return nil
}

// NewTestTask returns a pending task with the given id for project "proj".
func NewTestTask(id string, createdAt time.Time) *domain.Task {
	return &domain.Task{
		ProjectID:   "proj",
		ID:          id,
		Title:       fmt.Sprintf("Task %s", id),
		Priority:    domain.PriorityMedium,
		Status:      domain.StatusPending,
		MaxAttempts: domain.DefaultMaxAttempts,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}
