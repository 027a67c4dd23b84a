// Package config provides configuration loading functionality.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"
	"github.com/runoshun/crewstate/internal/domain"
)

// Ensure Loader implements domain.ConfigLoader.
var _ domain.ConfigLoader = (*Loader)(nil)

// Loader loads configuration from TOML files.
type Loader struct {
	stateDir      string // Path to .crewstate directory
	globalConfDir string // Path to global config directory (e.g., ~/.config/crewstate)
}

// NewLoader creates a new Loader.
func NewLoader(stateDir string) *Loader {
	return &Loader{
		stateDir:      stateDir,
		globalConfDir: defaultGlobalConfigDir(),
	}
}

// NewLoaderWithGlobalDir creates a new Loader with a custom global config directory.
// This is useful for testing.
func NewLoaderWithGlobalDir(stateDir, globalConfDir string) *Loader {
	return &Loader{
		stateDir:      stateDir,
		globalConfDir: globalConfDir,
	}
}

// defaultGlobalConfigDir returns the default global config directory.
func defaultGlobalConfigDir() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return domain.GlobalConfigDir(configHome)
}

func (l *Loader) globalPath() string {
	if l.globalConfDir == "" {
		return ""
	}
	return filepath.Join(l.globalConfDir, domain.ConfigFileName)
}

// Load returns the merged configuration (default <- global <- repo).
// Keys set in a later file override earlier ones; unset keys keep their value.
func (l *Loader) Load() (*domain.Config, error) {
	cfg := domain.NewDefaultConfig()

	for _, path := range []string{l.globalPath(), domain.RepoConfigPath(l.stateDir)} {
		if path == "" {
			continue
		}
		raw, err := readRaw(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		applyRaw(cfg, raw)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadGlobal returns only the global configuration.
func (l *Loader) LoadGlobal() (*domain.Config, error) {
	path := l.globalPath()
	if path == "" {
		return nil, os.ErrNotExist
	}
	return loadFile(path)
}

// LoadRepo returns only the repository configuration.
func (l *Loader) LoadRepo() (*domain.Config, error) {
	return loadFile(domain.RepoConfigPath(l.stateDir))
}

// loadFile loads a configuration from a file. Keys missing from the file stay zero.
func loadFile(path string) (*domain.Config, error) {
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	cfg := &domain.Config{}
	applyRaw(cfg, raw)
	return cfg, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return raw, nil
}

// sectionParser assigns one key of a section. It returns false for unknown keys.
type sectionParser func(cfg *domain.Config, key string, v any) (known bool, err error)

var sections = map[string]sectionParser{
	"store":   parseStore,
	"tasks":   parseTasks,
	"retry":   parseRetry,
	"session": parseSession,
	"driver":  parseDriver,
	"log":     parseLog,
	"metrics": parseMetrics,
}

// applyRaw overlays the raw TOML map onto cfg and appends warnings for
// unknown sections, unknown keys, and values of the wrong type.
func applyRaw(cfg *domain.Config, raw map[string]any) {
	var warnings []string

	for section, value := range raw {
		parse, ok := sections[section]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("unknown section: %s", section))
			continue
		}
		m, ok := value.(map[string]any)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("[%s] must be a table", section))
			continue
		}
		for k, v := range m {
			known, err := parse(cfg, k, v)
			switch {
			case !known:
				warnings = append(warnings, fmt.Sprintf("unknown key in [%s]: %s", section, k))
			case err != nil:
				warnings = append(warnings, fmt.Sprintf("invalid value for [%s] %s: %v", section, k, err))
			}
		}
	}

	sort.Strings(warnings)
	cfg.Warnings = append(cfg.Warnings, warnings...)
}

func parseStore(cfg *domain.Config, key string, v any) (bool, error) {
	switch key {
	case "backend":
		return true, setString(&cfg.Store.Backend, v)
	case "path":
		return true, setString(&cfg.Store.Path, v)
	case "checkpoints":
		return true, setString(&cfg.Store.Checkpoints, v)
	case "git_namespace":
		return true, setString(&cfg.Store.GitNamespace, v)
	}
	return false, nil
}

func parseTasks(cfg *domain.Config, key string, v any) (bool, error) {
	switch key {
	case "max_attempts":
		return true, setInt(&cfg.Tasks.MaxAttempts, v)
	case "default_priority":
		var s string
		if err := setString(&s, v); err != nil {
			return true, err
		}
		p, err := domain.ParsePriority(s)
		if err != nil {
			return true, err
		}
		cfg.Tasks.DefaultPriority = p
		return true, nil
	}
	return false, nil
}

func parseRetry(cfg *domain.Config, key string, v any) (bool, error) {
	switch key {
	case "max_attempts":
		return true, setInt(&cfg.Retry.MaxAttempts, v)
	case "base_delay":
		return true, setDuration(&cfg.Retry.BaseDelay, v)
	case "max_delay":
		return true, setDuration(&cfg.Retry.MaxDelay, v)
	case "exponential_base":
		return true, setFloat(&cfg.Retry.ExponentialBase, v)
	case "jitter":
		return true, setBool(&cfg.Retry.Jitter, v)
	case "attempt_timeout":
		return true, setDuration(&cfg.Retry.AttemptTimeout, v)
	case "max_total_time":
		return true, setDuration(&cfg.Retry.MaxTotalTime, v)
	case "history_size":
		return true, setInt(&cfg.Retry.HistorySize, v)
	}
	return false, nil
}

func parseSession(cfg *domain.Config, key string, v any) (bool, error) {
	switch key {
	case "checkpoint_interval":
		return true, setInt(&cfg.Session.CheckpointInterval, v)
	}
	return false, nil
}

func parseDriver(cfg *domain.Config, key string, v any) (bool, error) {
	switch key {
	case "command":
		return true, setString(&cfg.Driver.Command, v)
	case "tasks_per_minute":
		return true, setFloat(&cfg.Driver.TasksPerMinute, v)
	case "block_stalled":
		return true, setBool(&cfg.Driver.BlockStalled, v)
	}
	return false, nil
}

func parseLog(cfg *domain.Config, key string, v any) (bool, error) {
	switch key {
	case "level":
		return true, setString(&cfg.Log.Level, v)
	}
	return false, nil
}

func parseMetrics(cfg *domain.Config, key string, v any) (bool, error) {
	switch key {
	case "addr":
		return true, setString(&cfg.Metrics.Addr, v)
	}
	return false, nil
}

func setString(dst *string, v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("want string, got %T", v)
	}
	*dst = s
	return nil
}

func setInt(dst *int, v any) error {
	n, ok := v.(int64)
	if !ok {
		return fmt.Errorf("want integer, got %T", v)
	}
	*dst = int(n)
	return nil
}

func setFloat(dst *float64, v any) error {
	switch n := v.(type) {
	case float64:
		*dst = n
	case int64:
		*dst = float64(n)
	default:
		return fmt.Errorf("want number, got %T", v)
	}
	return nil
}

func setBool(dst *bool, v any) error {
	b, ok := v.(bool)
	if !ok {
		return fmt.Errorf("want boolean, got %T", v)
	}
	*dst = b
	return nil
}

func setDuration(dst *domain.Duration, v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("want duration string, got %T", v)
	}
	return dst.UnmarshalText([]byte(s))
}
