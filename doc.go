// Package latentbo searches a space of discrete sequences for members that
// maximize an expensive black-box objective while satisfying expensive
// black-box constraints. The search runs in the continuous latent space of a
// sequence codec, using trust-region Bayesian optimization with Gaussian
// Process surrogates.
//
// # Features
//
//   - Latent-space search: a Codec maps sequences to fixed-size latents and
//     back; the optimizer never manipulates sequences directly
//   - Constrained optimization: any number of min/max threshold constraints,
//     modeled by their own surrogates and folded into the acquisition as a
//     probability of feasibility
//   - Trust region: a hyper-rectangle around the incumbent that grows after
//     consecutive improvements and shrinks after consecutive failures, with a
//     configurable collapse policy
//   - Acquisition functions: Expected Improvement (default), Upper Confidence
//     Bound, Probability of Improvement and Thompson Sampling
//   - Parallel scoring: oracle calls within a batch run on a bounded worker
//     pool; oracles implementing BatchOracle get the whole batch at once
//   - Budget accounting: only successful objective scorings count
//   - Progress monitoring: non-blocking updates via channels
//   - Checkpoints: the full run state is persisted after every iteration and
//     can be resumed
//
// # The loop
//
// Every iteration:
//
//  1. Fits one surrogate per target (objective plus each constraint)
//  2. Draws a candidate pool inside the trust region and scores it with the
//     acquisition function times the probability of feasibility
//  3. Keeps the best BatchSize diverse points and decodes them
//  4. Drops invalid sequences and duplicates
//  5. Scores the survivors with every oracle, in parallel
//  6. Appends every result to the Dataset, including failed scorings
//  7. Updates the trust region and re-pins its center on the incumbent
//
// The run ends when the budget is exhausted, when a feasible candidate
// reaches TargetObjective, when the trust region collapses under the
// terminate policy, when the context is cancelled, or after MaxEmptyBatches
// consecutive batches without a single scored candidate.
//
// # Feasibility
//
// A candidate is feasible iff it was scored and every constraint is
// satisfied:
//
//	min constraint: value >= threshold
//	max constraint: value <= threshold
//
// With no constraints every scored candidate is feasible.
//
// # Configuration
//
// Config is loaded from YAML or TOML with LoadConfig. Unknown keys are
// rejected, and so are constraint lists of unequal length:
//
//	dim: 256
//	max_string_length: 150
//	budget: 500
//	acquisition: ei
//	constraint_ids: [plddt]
//	constraint_thresholds: [70]
//	constraint_types: [min]
//	trust_region:
//	  collapse_policy: restart
//
// # Usage
//
//	ec := execution.New("cpu", 42)
//
//	c, _ := codec.NewAlphabet(ec, 256, 150)
//
//	cfg := latentbo.DefaultConfig()
//	cfg.Dim, cfg.MaxStringLength = c.Dim(), c.MaxLength()
//
//	opt, err := latentbo.New(cfg, c, latentbo.OracleSet{Objective: objective},
//	    latentbo.WithExecutionContext(ec),
//	    latentbo.WithCheckpointer(latentbo.FileCheckpointer{Path: "run.json"}),
//	)
//	if err != nil {
//	    return err
//	}
//
//	res, err := opt.Run(ctx, seeds)
//
// # Thread Safety
//
//   - An Optimizer is driven by a single goroutine; Run must not be called
//     concurrently
//   - Dataset reads are safe while Run is in progress
//   - Gaussian Process models use an RWMutex; predictions run in parallel
//   - Every subsystem draws from its own RNG partition, so runs with the same
//     seed, codec and oracles are reproducible
package latentbo
