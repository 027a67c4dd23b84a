// Package app provides the dependency injection container for the application.
package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/runoshun/crewstate/internal/domain"
	"github.com/runoshun/crewstate/internal/infra/config"
	"github.com/runoshun/crewstate/internal/infra/executor"
	"github.com/runoshun/crewstate/internal/infra/filestore"
	"github.com/runoshun/crewstate/internal/infra/gitstore"
	"github.com/runoshun/crewstate/internal/infra/lockfile"
	"github.com/runoshun/crewstate/internal/infra/logging"
	"github.com/runoshun/crewstate/internal/infra/metrics"
	"github.com/runoshun/crewstate/internal/infra/sqlitestore"
	"github.com/runoshun/crewstate/internal/retry"
	"github.com/runoshun/crewstate/internal/usecase"
)

// Config holds the application paths.
type Config struct {
	RootDir  string // Directory the state directory lives in (also the task command's working dir)
	StateDir string // Path to .crewstate
}

// NewConfig resolves the paths for root.
func NewConfig(root string) (Config, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Config{}, fmt.Errorf("resolve %s: %w", root, err)
	}
	return Config{RootDir: abs, StateDir: domain.StateDir(abs)}, nil
}

// Container provides dependency injection for the application.
// It holds all port implementations and provides factory methods for use cases.
type Container struct {
	// Ports (interfaces bound to implementations)
	Tasks            domain.TaskRepository
	Sessions         domain.SessionRepository
	Checkpoints      domain.CheckpointRepository
	StoreInitializer domain.StoreInitializer
	Locker           domain.Locker
	Clock            domain.Clock
	Logger           domain.Logger
	Performer        domain.TaskPerformer
	ConfigLoader     domain.ConfigLoader
	ConfigManager    domain.ConfigManager

	// Pointer fields
	Metrics    *metrics.Recorder
	Diag       *slog.Logger // CLI diagnostics on stderr
	AppConfig  *domain.Config
	fileLogger *logging.Logger
	closers    []io.Closer

	// Configuration
	Config Config
}

// New creates a new Container for the state directory under dir.
func New(dir string) (*Container, error) {
	cfg, err := NewConfig(dir)
	if err != nil {
		return nil, err
	}

	configLoader := config.NewLoader(cfg.StateDir)
	appConfig, err := configLoader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	clock := domain.RealClock{}
	c := &Container{
		Clock:         clock,
		ConfigLoader:  configLoader,
		ConfigManager: config.NewManager(cfg.StateDir),
		Locker:        lockfile.New(cfg.StateDir),
		Metrics:       metrics.NewRecorder(),
		Diag: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})),
		AppConfig: appConfig,
		Config:    cfg,
	}

	c.fileLogger = logging.New(cfg.StateDir, logging.ParseLevel(appConfig.Log.Level)).WithClock(clock)
	c.Logger = c.fileLogger
	c.closers = append(c.closers, c.fileLogger)

	if err := c.openStore(appConfig.Store); err != nil {
		_ = c.Close()
		return nil, err
	}

	c.Performer = executor.NewPerformer(appConfig.Driver.Command, cfg.RootDir).
		WithEnv("CREWSTATE_STATE_DIR=" + cfg.StateDir)

	return c, nil
}

// openStore binds the repositories to the configured backend.
func (c *Container) openStore(sc domain.StoreConfig) error {
	var inits storeInitializers
	switch sc.Backend {
	case domain.StoreBackendSQLite:
		path := sc.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(c.Config.StateDir, path)
		}
		store, err := sqlitestore.Open(path, c.Clock)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, store)
		c.Tasks = store
		c.Sessions = store.Sessions()
		c.Checkpoints = store.Checkpoints()
		inits = append(inits, store)
	default:
		store := filestore.New(c.Config.StateDir, c.Clock)
		c.Tasks = store
		c.Sessions = store.Sessions()
		c.Checkpoints = store.Checkpoints()
		inits = append(inits, store)
	}

	if sc.Checkpoints == domain.CheckpointArchiveGit {
		archive, err := gitstore.New(c.Config.RootDir, sc.GitNamespace)
		if err != nil {
			return err
		}
		c.Checkpoints = archive
		inits = append(inits, archive)
	}

	c.StoreInitializer = inits
	return nil
}

// NewWithDeps creates a new Container with custom dependencies for testing.
func NewWithDeps(cfg Config, tasks domain.TaskRepository, sessions domain.SessionRepository, checkpoints domain.CheckpointRepository, storeInit domain.StoreInitializer, clock domain.Clock) *Container {
	return &Container{
		Tasks:            tasks,
		Sessions:         sessions,
		Checkpoints:      checkpoints,
		StoreInitializer: storeInit,
		Locker:           lockfile.New(cfg.StateDir),
		Clock:            clock,
		Logger:           domain.NopLogger{},
		ConfigLoader:     config.NewLoaderWithGlobalDir(cfg.StateDir, ""),
		ConfigManager:    config.NewManagerWithGlobalDir(cfg.StateDir, ""),
		Metrics:          metrics.NewRecorder(),
		Diag:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		AppConfig:        domain.NewDefaultConfig(),
		Config:           cfg,
	}
}

// SetVerbose mirrors every log entry to w.
func (c *Container) SetVerbose(w io.Writer) {
	if c.fileLogger != nil {
		c.fileLogger.WithMirror(w)
	}
}

// Close releases open files and database handles.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// storeInitializers initializes every backing store in order.
type storeInitializers []domain.StoreInitializer

func (s storeInitializers) Initialize() error {
	for _, init := range s {
		if err := init.Initialize(); err != nil {
			return err
		}
	}
	return nil
}

func (s storeInitializers) IsInitialized() bool {
	for _, init := range s {
		if !init.IsInitialized() {
			return false
		}
	}
	return len(s) > 0
}

// UseCase factory methods

// InitRepoUseCase returns a new InitRepo use case.
func (c *Container) InitRepoUseCase() *usecase.InitRepo {
	return usecase.NewInitRepo(c.StoreInitializer, c.ConfigManager)
}

// ShowConfigUseCase returns a new ShowConfig use case.
func (c *Container) ShowConfigUseCase() *usecase.ShowConfig {
	return usecase.NewShowConfig(c.ConfigManager, c.ConfigLoader)
}

// InitConfigUseCase returns a new InitConfig use case.
func (c *Container) InitConfigUseCase() *usecase.InitConfig {
	return usecase.NewInitConfig(c.ConfigManager)
}

// NewTaskUseCase returns a new NewTask use case.
func (c *Container) NewTaskUseCase() *usecase.NewTask {
	return usecase.NewNewTask(c.Tasks, c.Locker, c.ConfigLoader, c.Clock, c.Logger)
}

// ListTasksUseCase returns a new ListTasks use case.
func (c *Container) ListTasksUseCase() *usecase.ListTasks {
	return usecase.NewListTasks(c.Tasks)
}

// ShowTaskUseCase returns a new ShowTask use case.
func (c *Container) ShowTaskUseCase() *usecase.ShowTask {
	return usecase.NewShowTask(c.Tasks)
}

// StartTaskUseCase returns a new StartTask use case.
func (c *Container) StartTaskUseCase() *usecase.StartTask {
	return usecase.NewStartTask(c.Tasks, c.Locker, c.Clock, c.Logger)
}

// CompleteTaskUseCase returns a new CompleteTask use case.
func (c *Container) CompleteTaskUseCase() *usecase.CompleteTask {
	return usecase.NewCompleteTask(c.Tasks, c.Locker, c.Clock, c.Logger)
}

// FailTaskUseCase returns a new FailTask use case classifying errors with the retry classifier.
func (c *Container) FailTaskUseCase() *usecase.FailTask {
	return usecase.NewFailTask(c.Tasks, c.Locker, c.Clock, c.Logger, retry.NewClassifier(c.Clock).Wrap)
}

// SkipTaskUseCase returns a new SkipTask use case.
func (c *Container) SkipTaskUseCase() *usecase.SkipTask {
	return usecase.NewSkipTask(c.Tasks, c.Locker, c.Clock, c.Logger)
}

// BlockTaskUseCase returns a new BlockTask use case.
func (c *Container) BlockTaskUseCase() *usecase.BlockTask {
	return usecase.NewBlockTask(c.Tasks, c.Locker, c.Clock, c.Logger)
}

// NextTaskUseCase returns a new NextTask use case.
func (c *Container) NextTaskUseCase() *usecase.NextTask {
	return usecase.NewNextTask(c.Tasks)
}

// TaskStatsUseCase returns a new TaskStats use case.
func (c *Container) TaskStatsUseCase() *usecase.TaskStats {
	return usecase.NewTaskStats(c.Tasks)
}

// StalledTasksUseCase returns a new StalledTasks use case.
func (c *Container) StalledTasksUseCase() *usecase.StalledTasks {
	return usecase.NewStalledTasks(c.Tasks)
}

// ImportTasksUseCase returns a new ImportTasks use case.
func (c *Container) ImportTasksUseCase() *usecase.ImportTasks {
	return usecase.NewImportTasks(c.NewTaskUseCase())
}

// ExportTasksUseCase returns a new ExportTasks use case.
func (c *Container) ExportTasksUseCase() *usecase.ExportTasks {
	return usecase.NewExportTasks(c.Tasks, c.Clock)
}

// NewSessionUseCase returns a new NewSession use case.
func (c *Container) NewSessionUseCase() *usecase.NewSession {
	return usecase.NewNewSession(c.Sessions, c.Tasks, c.Locker, c.Clock, c.Logger)
}

// StartSessionUseCase returns a new StartSession use case.
func (c *Container) StartSessionUseCase() *usecase.StartSession {
	return usecase.NewStartSession(c.Sessions, c.Locker, c.Clock, c.Logger)
}

// PauseSessionUseCase returns a new PauseSession use case.
func (c *Container) PauseSessionUseCase() *usecase.PauseSession {
	return usecase.NewPauseSession(c.Sessions, c.Locker, c.Clock, c.Logger)
}

// ResumeSessionUseCase returns a new ResumeSession use case.
func (c *Container) ResumeSessionUseCase() *usecase.ResumeSession {
	return usecase.NewResumeSession(c.Sessions, c.Locker, c.Clock, c.Logger)
}

// CompleteSessionUseCase returns a new CompleteSession use case.
func (c *Container) CompleteSessionUseCase() *usecase.CompleteSession {
	return usecase.NewCompleteSession(c.Sessions, c.Locker, c.Clock, c.Logger)
}

// FailSessionUseCase returns a new FailSession use case.
func (c *Container) FailSessionUseCase() *usecase.FailSession {
	return usecase.NewFailSession(c.Sessions, c.Locker, c.Clock, c.Logger)
}

// CancelSessionUseCase returns a new CancelSession use case.
func (c *Container) CancelSessionUseCase() *usecase.CancelSession {
	return usecase.NewCancelSession(c.Sessions, c.Locker, c.Clock, c.Logger)
}

// RecordProgressUseCase returns a new RecordProgress use case.
func (c *Container) RecordProgressUseCase() *usecase.RecordProgress {
	return usecase.NewRecordProgress(c.Sessions, c.Locker, c.Clock, c.Logger)
}

// CreateCheckpointUseCase returns a new CreateCheckpoint use case.
func (c *Container) CreateCheckpointUseCase() *usecase.CreateCheckpoint {
	return usecase.NewCreateCheckpoint(c.Sessions, c.Checkpoints, c.Locker, c.Clock, c.Logger)
}

// RestoreCheckpointUseCase returns a new RestoreCheckpoint use case.
func (c *Container) RestoreCheckpointUseCase() *usecase.RestoreCheckpoint {
	return usecase.NewRestoreCheckpoint(c.Sessions, c.Checkpoints, c.Locker, c.Clock, c.Logger)
}

// ListCheckpointsUseCase returns a new ListCheckpoints use case.
func (c *Container) ListCheckpointsUseCase() *usecase.ListCheckpoints {
	return usecase.NewListCheckpoints(c.Sessions, c.Checkpoints)
}

// ListSessionsUseCase returns a new ListSessions use case.
func (c *Container) ListSessionsUseCase() *usecase.ListSessions {
	return usecase.NewListSessions(c.Sessions)
}

// ShowSessionUseCase returns a new ShowSession use case.
func (c *Container) ShowSessionUseCase() *usecase.ShowSession {
	return usecase.NewShowSession(c.Sessions, c.Checkpoints)
}

// FindResumableUseCase returns a new FindResumable use case.
func (c *Container) FindResumableUseCase() *usecase.FindResumable {
	return usecase.NewFindResumable(c.Sessions)
}

// SessionStatsUseCase returns a new SessionStats use case.
func (c *Container) SessionStatsUseCase() *usecase.SessionStats {
	return usecase.NewSessionStats(c.Sessions, c.Clock)
}

// ReconcileSessionUseCase returns a new ReconcileSession use case.
func (c *Container) ReconcileSessionUseCase() *usecase.ReconcileSession {
	return usecase.NewReconcileSession(c.Tasks, c.Sessions, c.Locker, c.Clock, c.Logger)
}

// RunSessionUseCase returns a new RunSession use case driving tasks with performer.
// A nil performer uses the configured shell command.
func (c *Container) RunSessionUseCase(performer domain.TaskPerformer) *usecase.RunSession {
	if performer == nil {
		performer = c.Performer
	}
	return usecase.NewRunSession(usecase.RunSessionDeps{
		Tasks:       c.Tasks,
		Sessions:    c.Sessions,
		Checkpoints: c.Checkpoints,
		Locker:      c.Locker,
		Config:      c.ConfigLoader,
		Clock:       c.Clock,
		Logger:      c.Logger,
		Performer:   performer,
		Metrics:     c.Metrics,
	})
}
