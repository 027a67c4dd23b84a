package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/runoshun/crewstate/internal/app"
	"github.com/runoshun/crewstate/internal/usecase"
)

// newInitCommand creates the init command.
func newInitCommand(c *app.Container) *cobra.Command {
	var noConfig bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the state directory",
		Long: `Initialize crewstate in the current directory.

This creates the .crewstate/ directory with:
- meta.json (file backend) or state.db (sqlite backend)
- config.toml: commented configuration template
- logs/ and locks/ on first use

Running init again is safe; existing state is left untouched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			uc := c.InitRepoUseCase()
			out, err := uc.Execute(cmd.Context(), usecase.InitRepoInput{WriteConfig: !noConfig})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out.AlreadyInitialized {
				_, _ = fmt.Fprintf(w, "crewstate already initialized in %s\n", c.Config.StateDir)
			} else {
				_, _ = fmt.Fprintf(w, "Initialized crewstate in %s\n", c.Config.StateDir)
			}
			if out.ConfigCreated {
				_, _ = fmt.Fprintf(w, "Created config file: %s\n", out.ConfigPath)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noConfig, "no-config", false, "Do not write the config template")

	return cmd
}
