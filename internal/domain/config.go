package domain

import (
	_ "embed"
	"fmt"
	"time"
)

//go:embed config_template.toml
var configTemplateContent string

// ConfigTemplate returns the commented default config file.
func ConfigTemplate() string {
	return configTemplateContent
}

// Store backends.
const (
	StoreBackendFile   = "file"
	StoreBackendSQLite = "sqlite"

	CheckpointArchiveGit = "git"
)

// Config holds crewstate configuration.
// Fields are ordered to minimize memory padding.
type Config struct {
	Store    StoreConfig
	Log      LogConfig
	Metrics  MetricsConfig
	Driver   DriverConfig
	Tasks    TasksConfig
	Retry    RetryConfig
	Session  SessionConfig
	Warnings []string // Unknown keys found while loading
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend      string // file or sqlite
	Path         string // sqlite database path (relative to the state dir)
	Checkpoints  string // "" = same backend, "git" = git refs archive
	GitNamespace string // ref namespace for the git archive
}

// TasksConfig holds task defaults.
type TasksConfig struct {
	DefaultPriority Priority
	MaxAttempts     int
}

// RetryConfig configures the retry executor used by the driver.
// Fields are ordered to minimize memory padding.
type RetryConfig struct {
	BaseDelay       Duration
	MaxDelay        Duration
	AttemptTimeout  Duration // 0 = no per-attempt timeout
	MaxTotalTime    Duration // 0 = unbounded
	ExponentialBase float64
	MaxAttempts     int
	HistorySize     int
	Jitter          bool
}

// SessionConfig holds session defaults.
type SessionConfig struct {
	CheckpointInterval int // checkpoint every N settled tasks (0 = final only)
}

// DriverConfig configures the execution driver.
type DriverConfig struct {
	Command        string  // shell command run for each task
	TasksPerMinute float64 // 0 = unpaced
	BlockStalled   bool    // block tasks whose dependencies can never complete
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string // debug, info, warn, error
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Addr string // empty = disabled
}

// Default values.
const (
	DefaultLogLevel           = "info"
	DefaultMaxAttempts        = 3
	DefaultHistorySize        = 200
	DefaultCheckpointInterval = 5
	DefaultGitNamespace       = "crewstate"
	DefaultSQLitePath         = "state.db"
)

// NewDefaultConfig returns a Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:      StoreBackendFile,
			Path:         DefaultSQLitePath,
			GitNamespace: DefaultGitNamespace,
		},
		Tasks: TasksConfig{
			MaxAttempts:     DefaultMaxAttempts,
			DefaultPriority: PriorityMedium,
		},
		Retry: RetryConfig{
			MaxAttempts:     DefaultMaxAttempts,
			BaseDelay:       Duration(time.Second),
			MaxDelay:        Duration(30 * time.Second),
			ExponentialBase: 2.0,
			Jitter:          true,
			HistorySize:     DefaultHistorySize,
		},
		Session: SessionConfig{
			CheckpointInterval: DefaultCheckpointInterval,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

// Validate checks value ranges after merging.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreBackendFile, StoreBackendSQLite:
	default:
		return fmt.Errorf("invalid [store] backend %q (want %q or %q)", c.Store.Backend, StoreBackendFile, StoreBackendSQLite)
	}
	if c.Store.Checkpoints != "" && c.Store.Checkpoints != CheckpointArchiveGit {
		return fmt.Errorf("invalid [store] checkpoints %q", c.Store.Checkpoints)
	}
	if c.Tasks.MaxAttempts < 1 {
		return fmt.Errorf("[tasks] max_attempts must be positive: %d", c.Tasks.MaxAttempts)
	}
	if !c.Tasks.DefaultPriority.IsValid() {
		return fmt.Errorf("[tasks] default_priority: %w", ErrInvalidPriority)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("[retry] max_attempts must be positive: %d", c.Retry.MaxAttempts)
	}
	if c.Retry.ExponentialBase < 1 {
		return fmt.Errorf("[retry] exponential_base must be >= 1: %v", c.Retry.ExponentialBase)
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("[retry] max_delay %s is below base_delay %s", c.Retry.MaxDelay, c.Retry.BaseDelay)
	}
	if c.Session.CheckpointInterval < 0 {
		return fmt.Errorf("[session] checkpoint_interval must not be negative: %d", c.Session.CheckpointInterval)
	}
	if c.Driver.TasksPerMinute < 0 {
		return fmt.Errorf("[driver] tasks_per_minute must not be negative: %v", c.Driver.TasksPerMinute)
	}
	return nil
}

// Duration is a time.Duration written as a string ("2s", "500ms") in config files.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}
