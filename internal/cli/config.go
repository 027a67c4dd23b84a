package cli

import (
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/runoshun/crewstate/internal/app"
	"github.com/runoshun/crewstate/internal/domain"
	"github.com/runoshun/crewstate/internal/usecase"
)

// newConfigCommand creates the config command.
func newConfigCommand(c *app.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  `Manage crewstate configuration files and settings.`,
		// No RunE: shows subcommand list when called without arguments
	}

	cmd.AddCommand(newConfigShowCommand(c))
	cmd.AddCommand(newConfigTemplateCommand())
	cmd.AddCommand(newConfigInitCommand(c))

	return cmd
}

// newConfigShowCommand creates the config show subcommand.
func newConfigShowCommand(c *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration",
		Long: `Display effective configuration after merging all sources.

Shows which config files were loaded and the final merged configuration
(default <- global <- repository).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			uc := c.ShowConfigUseCase()
			out, err := uc.Execute(cmd.Context(), usecase.ShowConfigInput{})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(w, "[Loaded from]")
			for _, info := range []domain.ConfigInfo{out.GlobalConfig, out.RepoConfig} {
				if info.Path == "" {
					continue
				}
				if info.Exists {
					_, _ = fmt.Fprintf(w, "- %s\n", info.Path)
				} else {
					_, _ = fmt.Fprintf(w, "- %s (not found)\n", info.Path)
				}
			}
			_, _ = fmt.Fprintln(w)

			_, _ = fmt.Fprintln(w, "[Effective Config]")
			return formatEffectiveConfig(w, out.Effective)
		},
	}
}

// effectiveConfig mirrors domain.Config with the keys used in config files.
type effectiveConfig struct {
	Store struct {
		Backend      string `toml:"backend"`
		Path         string `toml:"path"`
		Checkpoints  string `toml:"checkpoints"`
		GitNamespace string `toml:"git_namespace"`
	} `toml:"store"`
	Tasks struct {
		DefaultPriority string `toml:"default_priority"`
		MaxAttempts     int    `toml:"max_attempts"`
	} `toml:"tasks"`
	Retry struct {
		BaseDelay       string  `toml:"base_delay"`
		MaxDelay        string  `toml:"max_delay"`
		AttemptTimeout  string  `toml:"attempt_timeout"`
		MaxTotalTime    string  `toml:"max_total_time"`
		ExponentialBase float64 `toml:"exponential_base"`
		MaxAttempts     int     `toml:"max_attempts"`
		HistorySize     int     `toml:"history_size"`
		Jitter          bool    `toml:"jitter"`
	} `toml:"retry"`
	Session struct {
		CheckpointInterval int `toml:"checkpoint_interval"`
	} `toml:"session"`
	Driver struct {
		Command        string  `toml:"command"`
		TasksPerMinute float64 `toml:"tasks_per_minute"`
		BlockStalled   bool    `toml:"block_stalled"`
	} `toml:"driver"`
	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
	Metrics struct {
		Addr string `toml:"addr"`
	} `toml:"metrics"`
}

// formatEffectiveConfig writes cfg as TOML.
func formatEffectiveConfig(w io.Writer, cfg *domain.Config) error {
	var out effectiveConfig
	out.Store.Backend = cfg.Store.Backend
	out.Store.Path = cfg.Store.Path
	out.Store.Checkpoints = cfg.Store.Checkpoints
	out.Store.GitNamespace = cfg.Store.GitNamespace
	out.Tasks.DefaultPriority = string(cfg.Tasks.DefaultPriority)
	out.Tasks.MaxAttempts = cfg.Tasks.MaxAttempts
	out.Retry.BaseDelay = cfg.Retry.BaseDelay.String()
	out.Retry.MaxDelay = cfg.Retry.MaxDelay.String()
	out.Retry.AttemptTimeout = cfg.Retry.AttemptTimeout.String()
	out.Retry.MaxTotalTime = cfg.Retry.MaxTotalTime.String()
	out.Retry.ExponentialBase = cfg.Retry.ExponentialBase
	out.Retry.MaxAttempts = cfg.Retry.MaxAttempts
	out.Retry.HistorySize = cfg.Retry.HistorySize
	out.Retry.Jitter = cfg.Retry.Jitter
	out.Session.CheckpointInterval = cfg.Session.CheckpointInterval
	out.Driver.Command = cfg.Driver.Command
	out.Driver.TasksPerMinute = cfg.Driver.TasksPerMinute
	out.Driver.BlockStalled = cfg.Driver.BlockStalled
	out.Log.Level = cfg.Log.Level
	out.Metrics.Addr = cfg.Metrics.Addr

	if err := toml.NewEncoder(w).Encode(out); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// newConfigTemplateCommand creates the config template subcommand.
func newConfigTemplateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "template",
		Short: "Output configuration template",
		Long: `Output the commented configuration template to stdout.

It does not depend on existing configuration files and works even if they are broken.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _ = fmt.Fprint(cmd.OutOrStdout(), domain.ConfigTemplate())
			return nil
		},
	}
}

// newConfigInitCommand creates the config init subcommand.
func newConfigInitCommand(c *app.Container) *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate configuration file template",
		Long: `Generate a configuration file template.

By default, creates the repository configuration file at .crewstate/config.toml.
With --global, creates the global configuration file at ~/.config/crewstate/config.toml.

Error conditions:
- Target file already exists: error`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			uc := c.InitConfigUseCase()
			out, err := uc.Execute(cmd.Context(), usecase.InitConfigInput{Global: global})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created config file: %s\n", out.Path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "Generate global configuration")

	return cmd
}
