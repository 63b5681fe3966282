// Command latentbo runs constrained latent-space Bayesian optimization from
// the command line. See `latentbo --help`.
package main

import (
	"os"

	"github.com/thalesfsp/latentbo/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
