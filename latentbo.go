package latentbo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/thalesfsp/latentbo/execution"
)

//////
// Const, vars, types.
//////

// Filter reasons reported in metrics and debug logs.
const (
	filterInvalid   = "invalid"
	filterDuplicate = "duplicate"
)

// Optimizer drives the constrained trust-region latent-space optimization
// loop. It exclusively owns the Dataset, the Trust Region and the Surrogate
// Bank; nothing else mutates them.
//
// An Optimizer runs once. Create a new one for every run.
type Optimizer struct {
	cfg         Config
	constraints []ConstraintSpec

	codec   Codec
	oracles OracleSet
	exec    *execution.Context
	log     *logrus.Entry

	dataset *Dataset
	bank    *SurrogateBank
	tr      *TrustRegion
	acq     *AcquisitionOptimizer
	scorer  *scorer

	metrics      *Metrics
	checkpointer Checkpointer
	progress     chan<- ProgressUpdate
	factory      SurrogateFactory
	resume       *Checkpoint

	iteration   int
	oracleCalls int
	emptyStreak int
}

// Option customizes an Optimizer.
type Option func(*Optimizer)

// Result is the outcome of a run.
type Result struct {
	// RunID identifies the run.
	RunID string

	// Status is the terminal state.
	Status Status

	// Best is the best feasible candidate, nil if none was found.
	Best *Candidate

	// Incumbent is the best scored candidate ignoring feasibility, nil if
	// nothing was scored.
	Incumbent *Candidate

	// Dataset is the final dataset.
	Dataset DatasetSnapshot

	// Iterations is the number of completed iterations.
	Iterations int

	// OracleCalls is the number of successful objective scorings.
	OracleCalls int

	// TrustRegion is the final trust region state.
	TrustRegion TrustRegionSnapshot
}

//////
// Options.
//////

// WithExecutionContext sets the execution context shared with the codec and
// oracles. Without it a context is built from Config.Device and Config.Seed.
func WithExecutionContext(ec *execution.Context) Option {
	return func(o *Optimizer) {
		o.exec = ec
	}
}

// WithMetrics records run metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Optimizer) {
		o.metrics = m
	}
}

// WithCheckpointer persists the run state after every iteration.
func WithCheckpointer(c Checkpointer) Option {
	return func(o *Optimizer) {
		o.checkpointer = c
	}
}

// WithProgress sends a ProgressUpdate after the seed phase and after every
// iteration. Sends never block: updates are dropped when the channel is
// full.
func WithProgress(ch chan<- ProgressUpdate) Option {
	return func(o *Optimizer) {
		o.progress = ch
	}
}

// WithSurrogateFactory replaces the default Gaussian process surrogate.
func WithSurrogateFactory(f SurrogateFactory) Option {
	return func(o *Optimizer) {
		o.factory = f
	}
}

// WithResume continues from a checkpoint instead of the seed table. Seeds
// passed to Run are ignored. New rejects a checkpoint that does not match the
// configuration with ErrInvalidConfig.
func WithResume(cp *Checkpoint) Option {
	return func(o *Optimizer) {
		o.resume = cp
	}
}

//////
// Exported functionalities.
//////

// New validates the configuration against the codec and oracles and builds
// an Optimizer. Every error wraps ErrInvalidConfig.
//
// Usage example:
//
//	cfg := latentbo.DefaultConfig()
//	cfg.Dim, cfg.MaxStringLength = c.Dim(), c.MaxLength()
//
//	opt, err := latentbo.New(cfg, c, latentbo.OracleSet{Objective: objective})
//	if err != nil {
//	    return err
//	}
//
//	res, err := opt.Run(ctx, seeds)
func New(cfg Config, codec Codec, oracles OracleSet, opts ...Option) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	constraints, err := cfg.Constraints()
	if err != nil {
		return nil, err
	}

	if codec == nil {
		return nil, fmt.Errorf("%w: codec is required", ErrInvalidConfig)
	}

	if codec.Dim() != cfg.Dim {
		return nil, fmt.Errorf("%w: codec dimension %d does not match dim %d", ErrInvalidConfig, codec.Dim(), cfg.Dim)
	}

	if oracles.Objective == nil {
		return nil, fmt.Errorf("%w: objective oracle is required", ErrInvalidConfig)
	}

	if len(oracles.Constraints) != len(constraints) {
		return nil, fmt.Errorf("%w: %d constraint oracles for %d declared constraints", ErrInvalidConfig, len(oracles.Constraints), len(constraints))
	}

	for _, c := range constraints {
		if oracles.Constraints[c.ID] == nil {
			return nil, fmt.Errorf("%w: no oracle for constraint %q", ErrInvalidConfig, c.ID)
		}
	}

	o := &Optimizer{
		cfg:         cfg,
		constraints: constraints,
		codec:       codec,
		oracles:     oracles,
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.exec == nil {
		o.exec = execution.New(cfg.Device, cfg.Seed)
	}

	if o.resume != nil {
		if err := validateCheckpoint(o.resume, cfg, constraints); err != nil {
			return nil, err
		}
	}

	o.log = o.exec.Logger

	acq, err := NewAcquisitionOptimizer(cfg, constraints, o.exec.RNG.ForSubsystem(execution.SubsystemAcquisition))
	if err != nil {
		return nil, err
	}

	o.acq = acq
	o.dataset = NewDataset(constraints)
	o.bank = NewSurrogateBank(len(constraints), cfg.MinFitPoints, cfg.SurrogateWindow, o.factory)
	o.tr = NewTrustRegion(cfg.TrustRegion, cfg.Dim)
	o.scorer = &scorer{
		oracles:     oracles,
		constraints: constraints,
		workers:     cfg.Workers,
		metrics:     o.metrics,
	}

	return o, nil
}

// Run executes the loop until the budget is exhausted, the target is
// reached, the trust region collapses under the terminate policy, or ctx is
// cancelled.
//
// How it works:
// 1. Initializing: encode the seeds, score unknown seed objectives, evaluate
// seed constraints
// 2. Iterating: fit surrogates, propose a batch in the trust region, decode,
// drop invalid and duplicate sequences, score in parallel, append, update
// the trust region
// 3. Stop on a terminal status
//
// Cancellation is honored between iterations; the returned Result then has
// StatusStopped and a nil error, and the dataset holds everything scored so
// far. A nil Result is only returned with configuration or seed errors.
func (o *Optimizer) Run(ctx context.Context, seeds []Seed) (*Result, error) {
	if o.resume != nil {
		o.restore(o.resume)
	} else if err := o.initialize(ctx, seeds); err != nil {
		return nil, err
	}

	o.tr.SetScale(o.dataset.Latents())
	o.pinCenter()
	o.sendProgress("Initializing", 0)

	for {
		if ctx.Err() != nil {
			o.log.WithError(ctx.Err()).Info("Run stopped")

			return o.result(StatusStopped), nil
		}

		if o.oracleCalls >= o.cfg.Budget {
			o.log.WithField("oracle_calls", o.oracleCalls).Info("Evaluation budget exhausted")

			return o.result(StatusBudgetExhausted), nil
		}

		if o.converged() {
			o.log.Info("Target objective reached")

			return o.result(StatusConverged), nil
		}

		status, err := o.step(ctx)
		if err != nil {
			return o.result(status), err
		}

		if status != "" {
			return o.result(status), nil
		}
	}
}

// Dataset returns the dataset. It is safe to read concurrently with Run.
func (o *Optimizer) Dataset() *Dataset {
	return o.dataset
}

//////
// Phases.
//////

// initialize encodes the seeds and scores what is missing.
func (o *Optimizer) initialize(ctx context.Context, seeds []Seed) error {
	ctx, span := o.exec.Tracer.Start(ctx, "latentbo.initialize", trace.WithAttributes(attribute.Int("seeds", len(seeds))))
	defer span.End()

	var (
		seqs    []string
		known   []*float64
		latents [][]float64
		unknown int
	)

	inTable := make(map[string]bool, len(seeds))

	for _, s := range seeds {
		if inTable[s.Sequence] {
			o.log.WithField("sequence", s.Sequence).Debug("Dropping duplicate seed")

			continue
		}

		if n := utf8.RuneCountInString(s.Sequence); n == 0 || n > o.cfg.MaxStringLength {
			o.log.WithField("sequence", s.Sequence).Warn("Dropping seed outside the length limit")

			continue
		}

		obj := s.Objective
		if obj != nil && !finite(*obj) {
			obj = nil
		}

		if obj == nil {
			if unknown >= o.cfg.Budget {
				o.log.WithField("sequence", s.Sequence).Warn("Dropping unscored seed: budget exhausted")

				continue
			}

			unknown++
		}

		z, err := o.codec.Encode(ctx, s.Sequence)
		if err != nil || len(z) != o.cfg.Dim {
			o.log.WithError(err).WithField("sequence", s.Sequence).Warn("Dropping seed that failed to encode")

			if obj == nil {
				unknown--
			}

			continue
		}

		inTable[s.Sequence] = true
		seqs = append(seqs, s.Sequence)
		known = append(known, obj)
		latents = append(latents, z)
	}

	if len(seqs) <= o.cfg.MinFitPoints {
		err := fmt.Errorf("%w: %d usable seeds, need more than %d", ErrInsufficientSeeds, len(seqs), o.cfg.MinFitPoints)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return err
	}

	results := o.scorer.score(ctx, seqs, known)
	o.record(0, latents, seqs, results)

	o.log.WithFields(logrus.Fields{
		"seeds":        len(seqs),
		"scored":       o.dataset.Len(),
		"oracle_calls": o.oracleCalls,
	}).Info("Seed dataset initialized")

	return nil
}

// restore loads a checkpoint into the optimizer state.
func (o *Optimizer) restore(cp *Checkpoint) {
	o.dataset = NewDataset(o.constraints)
	for _, c := range cp.Dataset.Candidates {
		o.dataset.Append(c)
	}

	o.iteration = cp.Iteration
	o.oracleCalls = cp.OracleCalls

	if cp.TrustRegion.Length > 0 {
		o.tr.Length = clamp(cp.TrustRegion.Length, o.cfg.TrustRegion.MinLength, o.cfg.TrustRegion.MaxLength)
	}

	o.tr.SuccessStreak = max(cp.TrustRegion.SuccessStreak, 0)
	o.tr.FailureStreak = max(cp.TrustRegion.FailureStreak, 0)
	o.tr.Restarts = max(cp.TrustRegion.Restarts, 0)

	o.log.WithFields(logrus.Fields{
		"iteration":    o.iteration,
		"dataset_size": o.dataset.Len(),
	}).Info("Resumed from checkpoint")
}

// step runs one iteration. A non-empty status ends the run.
func (o *Optimizer) step(ctx context.Context) (Status, error) {
	o.iteration++

	ctx, span := o.exec.Tracer.Start(ctx, "latentbo.iteration", trace.WithAttributes(attribute.Int("iteration", o.iteration)))
	defer span.End()

	log := o.log.WithField("iteration", o.iteration)

	// Fit.
	if err := o.bank.Fit(o.dataset); err != nil {
		o.metrics.observeSurrogateFailure()
		log.WithError(err).Warn("Surrogate fit failed, keeping previous models")
	}

	o.tr.SetScale(o.dataset.Latents())

	// Propose.
	prevBest, hadFeasible := o.bestFeasibleObjective()
	incumbent := o.incumbentObjective()
	n := min(o.cfg.BatchSize, o.cfg.Budget-o.oracleCalls)

	// Proposals are decoded in rank order and only valid, new sequences are
	// kept.
	var seqs []string

	inBatch := make(map[string]bool, n)

	latents, err := o.acq.Propose(ctx, o.bank, o.tr, incumbent, n, func(z []float64) bool {
		seq, ok := o.admit(ctx, log, z, inBatch)
		if ok {
			seqs = append(seqs, seq)
		}

		return ok
	})
	if err != nil {
		if ctx.Err() != nil {
			return StatusStopped, nil
		}

		span.RecordError(err)

		return o.emptyBatch(log, err.Error())
	}

	if len(latents) == 0 {
		return o.emptyBatch(log, "no proposal survived decoding and filtering")
	}

	// Once proposals exist the iteration runs to completion so the dataset
	// is never left half-updated; cancellation is honored at the next
	// iteration boundary.
	work := context.WithoutCancel(ctx)

	// Score and append.
	results := o.scorer.score(work, seqs, nil)
	scored, consumed := o.record(o.iteration, latents, seqs, results)

	if scored == 0 && consumed == 0 {
		return o.emptyBatch(log, "every oracle call in the batch failed")
	}

	o.emptyStreak = 0

	// Update the trust region.
	newBest, newFeasible := math.Inf(-1), false
	for i, r := range results {
		if r.err != nil {
			continue
		}

		c := o.dataset.At(o.dataset.Len() - len(results) + i)
		if c.Feasible && c.Objective > newBest {
			newBest, newFeasible = c.Objective, true
		}
	}

	improved := newFeasible && (!hadFeasible || newBest > prevBest+o.cfg.TrustRegion.SuccessTolerance*math.Max(1, math.Abs(prevBest)))

	collapsed := o.tr.Update(improved)
	o.pinCenter()

	if status := o.handleCollapse(log, collapsed); status != "" {
		return status, nil
	}

	o.finishIteration(work, log, scored)

	return "", nil
}

// admit decodes z and reports whether the sequence may join the batch. It
// rejects invalid sequences and, when deduplicating, sequences already in the
// batch or the dataset. Admitted sequences are added to inBatch.
func (o *Optimizer) admit(ctx context.Context, log *logrus.Entry, z []float64, inBatch map[string]bool) (string, bool) {
	seq, err := o.codec.Decode(ctx, z)
	if err == nil {
		if n := utf8.RuneCountInString(seq); n == 0 || n > o.cfg.MaxStringLength {
			err = fmt.Errorf("%w: length %d outside (0, %d]", ErrInvalidCandidate, n, o.cfg.MaxStringLength)
		}
	}

	if err != nil {
		o.metrics.observeFiltered(filterInvalid)
		log.WithError(err).Debug("Dropping invalid candidate")

		return "", false
	}

	if o.cfg.Deduplicate && (inBatch[seq] || o.dataset.Contains(seq)) {
		o.metrics.observeFiltered(filterDuplicate)
		log.WithError(fmt.Errorf("%w: %s", ErrDuplicateCandidate, seq)).Trace("Dropping duplicate candidate")

		return "", false
	}

	inBatch[seq] = true

	return seq, true
}

// emptyBatch shrinks the region after a batch that produced nothing and
// fails the run once the retry bound is reached.
func (o *Optimizer) emptyBatch(log *logrus.Entry, reason string) (Status, error) {
	o.emptyStreak++
	o.metrics.observeIteration(o.incumbentObjective(), o.tr.Length, o.dataset.Len())

	log.WithFields(logrus.Fields{
		"reason":       reason,
		"empty_streak": o.emptyStreak,
	}).Warn("Empty batch, shrinking trust region")

	if o.emptyStreak >= o.cfg.MaxEmptyBatches {
		return StatusNoViableCandidates, fmt.Errorf("%w: %d consecutive empty batches", ErrNoViableCandidates, o.emptyStreak)
	}

	collapsed := o.tr.Shrink()
	o.pinCenter()

	return o.handleCollapse(log, collapsed), nil
}

// handleCollapse applies the collapse policy after a trust region update.
func (o *Optimizer) handleCollapse(log *logrus.Entry, collapsed bool) Status {
	if !collapsed {
		return ""
	}

	if o.tr.State() == RegionTerminated {
		log.Info("Trust region collapsed, terminating")

		return StatusCollapsed
	}

	o.metrics.observeRestart()
	log.WithField("restarts", o.tr.Restarts).Info("Trust region collapsed, restarting at the global best")

	return ""
}

// finishIteration reports progress, metrics and checkpoints.
func (o *Optimizer) finishIteration(ctx context.Context, log *logrus.Entry, scored int) {
	best := o.incumbentObjective()

	o.metrics.observeIteration(best, o.tr.Length, o.dataset.Len())
	o.sendProgress("Iterating", scored)

	log.WithFields(logrus.Fields{
		"scored":       scored,
		"oracle_calls": o.oracleCalls,
		"best":         best,
		"tr_length":    o.tr.Length,
		"tr_state":     o.tr.State(),
	}).Info("Iteration complete")

	if o.checkpointer == nil {
		return
	}

	cp := Checkpoint{
		Version:     checkpointVersion,
		RunID:       o.exec.RunID,
		Iteration:   o.iteration,
		OracleCalls: o.oracleCalls,
		TrustRegion: o.tr.Snapshot(),
		Dataset:     o.dataset.Snapshot(),
		Timestamp:   time.Now(),
	}

	if err := o.checkpointer.Save(ctx, cp); err != nil {
		log.WithError(err).Warn("Checkpoint failed")
	}
}

//////
// Helpers.
//////

// record appends one candidate per sequence in input order. It returns the
// number scored successfully and the number of objective evaluations charged
// to the budget; a successful objective call is charged even when a
// constraint oracle failed.
func (o *Optimizer) record(iteration int, latents [][]float64, seqs []string, results []scoreResult) (scored, consumed int) {
	for i, r := range results {
		c := Candidate{
			ID:          uuid.NewString(),
			Iteration:   iteration,
			Latent:      latents[i],
			Sequence:    seqs[i],
			Constraints: r.constraints,
		}

		if r.consumed {
			o.oracleCalls++
			consumed++
		}

		if r.err != nil {
			c.Error = r.err.Error()
			c.Constraints = make([]float64, len(o.constraints))
		} else {
			c.Objective = r.objective
			c.Scored = true
			scored++
		}

		o.dataset.Append(c)
	}

	return scored, consumed
}

// pinCenter re-pins the trust region on the incumbent.
func (o *Optimizer) pinCenter() {
	if idx, ok := o.dataset.Best(); ok {
		o.tr.Recenter(idx, o.dataset.At(idx).Latent)
	}
}

func (o *Optimizer) bestFeasibleObjective() (float64, bool) {
	idx, ok := o.dataset.BestFeasible()
	if !ok {
		return math.Inf(-1), false
	}

	return o.dataset.At(idx).Objective, true
}

// incumbentObjective is the objective of the best candidate, feasible first.
func (o *Optimizer) incumbentObjective() float64 {
	idx, ok := o.dataset.Best()
	if !ok {
		return math.NaN()
	}

	return o.dataset.At(idx).Objective
}

func (o *Optimizer) converged() bool {
	if o.cfg.TargetObjective == nil {
		return false
	}

	best, ok := o.bestFeasibleObjective()

	return ok && best >= *o.cfg.TargetObjective
}

// sendProgress emits a ProgressUpdate without blocking.
func (o *Optimizer) sendProgress(phase string, scored int) {
	if o.progress == nil {
		return
	}

	update := ProgressUpdate{
		Phase:             phase,
		Iteration:         o.iteration,
		OracleCalls:       o.oracleCalls,
		Budget:            o.cfg.Budget,
		DatasetSize:       o.dataset.Len(),
		BatchScored:       scored,
		BestObjective:     o.incumbentObjective(),
		CenterObjective:   math.NaN(),
		TrustRegionLength: o.tr.Length,
	}

	if _, ok := o.dataset.BestFeasible(); ok {
		update.BestFeasible = true
	}

	if o.tr.CenterIndex >= 0 {
		update.CenterObjective = o.dataset.At(o.tr.CenterIndex).Objective
	}

	select {
	case o.progress <- update:
	default:
		// Skip update if channel is full.
	}
}

func (o *Optimizer) result(status Status) *Result {
	r := &Result{
		RunID:       o.exec.RunID,
		Status:      status,
		Dataset:     o.dataset.Snapshot(),
		Iterations:  o.iteration,
		OracleCalls: o.oracleCalls,
		TrustRegion: o.tr.Snapshot(),
	}

	if idx, ok := o.dataset.BestFeasible(); ok {
		c := o.dataset.At(idx)
		r.Best = &c
	}

	if idx, ok := o.dataset.Best(); ok {
		c := o.dataset.At(idx)
		r.Incumbent = &c
	}

	return r
}

// IsTerminalError reports whether err ended a run abnormally.
func IsTerminalError(err error) bool {
	return errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrInsufficientSeeds) || errors.Is(err, ErrNoViableCandidates)
}
