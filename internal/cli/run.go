package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/thalesfsp/latentbo"
	"github.com/thalesfsp/latentbo/codec"
	"github.com/thalesfsp/latentbo/execution"
	"github.com/thalesfsp/latentbo/mongostore"
)

// mongoTimeout bounds connecting to MongoDB and loading a checkpoint.
const mongoTimeout = 30 * time.Second

type runOptions struct {
	configPath string
	seedPath   string
	numSeeds   int

	logLevel string
	logFile  string

	checkpointPath  string
	mongoURI        string
	mongoDatabase   string
	mongoCollection string
	resume          bool
	runID           string

	metricsAddr string

	vocabulary  string
	decodeNoise float64

	oracles oracleFlags
}

// report is the JSON summary printed at the end of a run.
type report struct {
	RunID       string                       `json:"run_id"`
	Status      latentbo.Status              `json:"status"`
	Iterations  int                          `json:"iterations"`
	OracleCalls int                          `json:"oracle_calls"`
	DatasetSize int                          `json:"dataset_size"`
	Best        *latentbo.Candidate          `json:"best,omitempty"`
	Incumbent   *latentbo.Candidate          `json:"incumbent,omitempty"`
	TrustRegion latentbo.TrustRegionSnapshot `json:"trust_region"`
	Error       string                       `json:"error,omitempty"`
}

func newRunCommand() *cobra.Command {
	var o runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an optimization",
		Long: `Run bootstraps the dataset from a seed table (or a checkpoint), then
iterates until the evaluation budget is exhausted, the target objective is
reached, the trust region collapses under the terminate policy, or the
process is interrupted. A JSON report is printed to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return o.run(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", "", "Run configuration file (.yaml, .yml or .toml); defaults when empty")
	f.StringVar(&o.seedPath, "seed-data", "", "Seed table CSV with x (sequence) and y (objective, may be empty) columns")
	f.IntVar(&o.numSeeds, "num-seeds", 0, "Use only the first n seed rows (0 uses all)")
	f.StringVar(&o.logLevel, "log", "info", "Log level (trace, debug, info, warn, error)")
	f.StringVar(&o.logFile, "log-file", "", "Also write JSON logs to this rotated file")
	f.StringVar(&o.checkpointPath, "checkpoint", "", "Checkpoint file written after every iteration")
	f.StringVar(&o.mongoURI, "mongo-uri", "", "Store checkpoints in MongoDB instead of a file")
	f.StringVar(&o.mongoDatabase, "mongo-database", "latentbo", "MongoDB database")
	f.StringVar(&o.mongoCollection, "mongo-collection", mongostore.DefaultCollection, "MongoDB collection")
	f.BoolVar(&o.resume, "resume", false, "Continue from the checkpoint instead of the seed table")
	f.StringVar(&o.runID, "run-id", "", "Run to resume from MongoDB")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	f.StringVar(&o.vocabulary, "vocabulary", codec.AminoAcids, "Codec vocabulary")
	f.Float64Var(&o.decodeNoise, "decode-noise", 0, "Standard deviation of decode noise; 0 decodes deterministically")
	o.oracles.register(cmd)

	return cmd
}

func (o *runOptions) run(ctx context.Context, stdout, stderr io.Writer) error {
	logger, closeLog, err := newLogger(o.logLevel, o.logFile, stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return err
	}

	checkpointer, closeStore, err := o.checkpointer(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		seeds      []latentbo.Seed
		checkpoint *latentbo.Checkpoint
		ecOpts     = []execution.Option{execution.WithLogger(logger)}
	)

	if o.resume {
		checkpoint, err = o.loadCheckpoint(ctx, checkpointer)
		if err != nil {
			return err
		}

		ecOpts = append(ecOpts, execution.WithRunID(checkpoint.RunID))
	} else {
		if o.seedPath == "" {
			return fmt.Errorf("%w: --seed-data is required unless resuming", errSeeds)
		}

		if seeds, err = LoadSeeds(o.seedPath, o.numSeeds); err != nil {
			return err
		}
	}

	ec := execution.New(cfg.Device, cfg.Seed, ecOpts...)

	c, err := codec.NewAlphabet(ec, cfg.Dim, cfg.MaxStringLength,
		codec.WithVocabulary(o.vocabulary),
		codec.WithDecodeNoise(o.decodeNoise),
	)
	if err != nil {
		return err
	}

	oracles, err := o.oracles.resolve(ec, cfg)
	if err != nil {
		return err
	}

	opts := []latentbo.Option{latentbo.WithExecutionContext(ec)}

	if checkpointer != nil {
		opts = append(opts, latentbo.WithCheckpointer(checkpointer))
	}

	if checkpoint != nil {
		opts = append(opts, latentbo.WithResume(checkpoint))
	}

	if o.metricsAddr != "" {
		m, srv, err := startMetrics(o.metricsAddr, ec.Logger)
		if err != nil {
			return fmt.Errorf("starting metrics server: %w", err)
		}
		defer srv.stop()

		opts = append(opts, latentbo.WithMetrics(m))
	}

	progress := make(chan latentbo.ProgressUpdate, 16)
	opts = append(opts, latentbo.WithProgress(progress))

	done := make(chan struct{})
	go func() {
		defer close(done)

		logProgress(ec.Logger, progress)
	}()

	opt, err := latentbo.New(cfg, c, oracles, opts...)
	if err != nil {
		close(progress)
		<-done

		return err
	}

	res, runErr := opt.Run(ctx, seeds)

	close(progress)
	<-done

	if res == nil {
		return runErr
	}

	if err := writeReport(stdout, res, runErr); err != nil {
		return err
	}

	return runErr
}

// checkpointer picks MongoDB when a URI is set, else the checkpoint file.
// Both may be absent.
func (o *runOptions) checkpointer(ctx context.Context) (latentbo.Checkpointer, func(), error) {
	noop := func() {}

	switch {
	case o.mongoURI != "":
		cctx, cancel := context.WithTimeout(ctx, mongoTimeout)
		defer cancel()

		store, disconnect, err := mongostore.Connect(cctx, o.mongoURI, o.mongoDatabase, o.mongoCollection)
		if err != nil {
			return nil, noop, err
		}

		return store, func() {
			dctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
			defer cancel()

			_ = disconnect(dctx)
		}, nil
	case o.checkpointPath != "":
		return latentbo.FileCheckpointer{Path: o.checkpointPath}, noop, nil
	default:
		return nil, noop, nil
	}
}

func (o *runOptions) loadCheckpoint(ctx context.Context, cp latentbo.Checkpointer) (*latentbo.Checkpoint, error) {
	if store, ok := cp.(*mongostore.Store); ok {
		if o.runID == "" {
			return nil, fmt.Errorf("%w: --run-id is required to resume from MongoDB", latentbo.ErrInvalidConfig)
		}

		cctx, cancel := context.WithTimeout(ctx, mongoTimeout)
		defer cancel()

		return store.Load(cctx, o.runID)
	}

	if o.checkpointPath == "" {
		return nil, fmt.Errorf("%w: --resume needs --checkpoint or --mongo-uri", latentbo.ErrInvalidConfig)
	}

	return latentbo.LoadCheckpoint(o.checkpointPath)
}

func logProgress(log *logrus.Entry, updates <-chan latentbo.ProgressUpdate) {
	for u := range updates {
		log.WithFields(logrus.Fields{
			"phase":        u.Phase,
			"iteration":    u.Iteration,
			"oracle_calls": fmt.Sprintf("%d/%d", u.OracleCalls, u.Budget),
			"best":         u.BestObjective,
			"feasible":     u.BestFeasible,
		}).Debug("Progress")
	}
}

func writeReport(w io.Writer, res *latentbo.Result, runErr error) error {
	r := report{
		RunID:       res.RunID,
		Status:      res.Status,
		Iterations:  res.Iterations,
		OracleCalls: res.OracleCalls,
		DatasetSize: len(res.Dataset.Candidates),
		Best:        res.Best,
		Incumbent:   res.Incumbent,
		TrustRegion: res.TrustRegion,
	}

	if runErr != nil {
		r.Error = runErr.Error()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(r); err != nil {
		return errors.Join(runErr, err)
	}

	return nil
}
