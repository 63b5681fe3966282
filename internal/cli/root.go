// Package cli implements the latentbo command line.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thalesfsp/latentbo"
	"github.com/thalesfsp/latentbo/execution"
)

// Exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitTerminal = 2
)

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "latentbo",
		Short: "Constrained latent-space Bayesian optimization of sequences",
		Long: `latentbo searches the latent space of a sequence codec for sequences that
maximize an objective oracle while satisfying black-box constraints.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCommand(), newValidateCommand(), newDefaultsCommand())

	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	err := NewRootCommand().Execute()
	if err == nil {
		return exitOK
	}

	fmt.Fprintln(os.Stderr, "Error:", err)

	if latentbo.IsTerminalError(err) || errors.Is(err, errSeeds) {
		return exitTerminal
	}

	return exitFailure
}

// newValidateCommand checks a configuration file and that every oracle it
// names can be resolved.
func newValidateCommand() *cobra.Command {
	var (
		configPath string
		oracles    oracleFlags
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a run configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			if _, err := oracles.resolve(execution.New(cfg.Device, 1), cfg); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: configuration is valid (%d constraints)\n", displayPath(configPath), len(cfg.ConstraintIDs))

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Run configuration file (.yaml, .yml or .toml)")
	oracles.register(cmd)

	return cmd
}

// newDefaultsCommand prints the default configuration.
func newDefaultsCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "defaults",
		Short: "Print the default run configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := renderConfig(latentbo.DefaultConfig(), format)
			if err != nil {
				return err
			}

			_, err = cmd.OutOrStdout().Write(out)

			return err
		},
	}

	cmd.Flags().StringVar(&format, "format", "yaml", "Output format (yaml, toml)")

	return cmd
}
