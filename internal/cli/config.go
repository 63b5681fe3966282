package cli

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/thalesfsp/latentbo"
	"github.com/thalesfsp/latentbo/execution"
	"github.com/thalesfsp/latentbo/oracle"
)

// oracleFlags are the oracle selection flags shared by run and validate.
type oracleFlags struct {
	objective string
	endpoints map[string]string
	envFiles  []string
	sanitize  bool
}

func (f *oracleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.objective, "objective", "length", fmt.Sprintf("Objective oracle id (builtins: %v, or any id given an endpoint)", oracle.Names()))
	cmd.Flags().StringToStringVar(&f.endpoints, "oracle-endpoint", nil, "HTTP oracle endpoints as id=url, repeatable")
	cmd.Flags().StringSliceVar(&f.envFiles, "env-file", []string{".env"}, "Files with LATENTBO_ORACLE_* settings for HTTP oracles")
	cmd.Flags().BoolVar(&f.sanitize, "sanitize", false, "Strip gaps and non-canonical residues before scoring")
}

// resolve builds the oracle set for cfg's constraints.
func (f *oracleFlags) resolve(ec *execution.Context, cfg latentbo.Config) (latentbo.OracleSet, error) {
	settings, err := oracle.LoadHTTPSettings(f.envFiles...)
	if err != nil {
		return latentbo.OracleSet{}, err
	}

	return oracle.ResolveSet(ec, f.objective, cfg.ConstraintIDs, f.endpoints, settings, f.sanitize)
}

// loadConfig reads path, or returns the validated defaults when path is
// empty.
func loadConfig(path string) (latentbo.Config, error) {
	if path == "" {
		cfg := latentbo.DefaultConfig()

		return cfg, cfg.Validate()
	}

	return latentbo.LoadConfig(path)
}

func renderConfig(cfg latentbo.Config, format string) ([]byte, error) {
	switch format {
	case "yaml", "yml":
		return cfg.YAML()
	case "toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}

		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

func displayPath(path string) string {
	if path == "" {
		return "<defaults>"
	}

	return path
}
