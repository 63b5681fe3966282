package latentbo

import (
	"context"
	"fmt"
	"strings"
)

//////
// Constraints.
//////

// Direction tells which side of a threshold a constraint value must fall on.
type Direction string

const (
	// DirectionMin means the oracle value must be >= threshold.
	DirectionMin Direction = "min"

	// DirectionMax means the oracle value must be <= threshold.
	DirectionMax Direction = "max"
)

// ParseDirection converts a string to a Direction, case-insensitively.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case DirectionMin, DirectionMax:
		return d, nil
	default:
		return "", fmt.Errorf("%w: unknown constraint direction %q (want min or max)", ErrInvalidConfig, s)
	}
}

// ConstraintSpec declares one black-box inequality constraint. It is
// immutable for the run.
//
// Usage:
//
//	// pLDDT must be at least 70.
//	c := ConstraintSpec{ID: "plddt", Threshold: 70, Direction: DirectionMin}
type ConstraintSpec struct {
	// ID names the constraint oracle. Must match a key of OracleSet.Constraints.
	ID string `json:"id" bson:"id"`

	// Threshold is the boundary value.
	Threshold float64 `json:"threshold" bson:"threshold"`

	// Direction selects the satisfied side of Threshold.
	Direction Direction `json:"direction" bson:"direction"`
}

// Satisfied reports whether value is on the allowed side of the threshold.
// NaN never satisfies.
func (c ConstraintSpec) Satisfied(value float64) bool {
	switch c.Direction {
	case DirectionMin:
		return value >= c.Threshold
	case DirectionMax:
		return value <= c.Threshold
	default:
		return false
	}
}

//////
// Candidates.
//////

// Candidate is one evaluated (or attempted) point of the search.
//
// Invariant: Feasible is true iff Scored is true and every Constraints[i]
// satisfies the i-th declared ConstraintSpec. Dataset.Append derives it; do
// not set it by hand.
type Candidate struct {
	// ID uniquely identifies the candidate across runs.
	ID string `json:"id" bson:"id"`

	// Iteration is the loop iteration that proposed this candidate. Seeds
	// are iteration 0.
	Iteration int `json:"iteration" bson:"iteration"`

	// Latent is the latent vector, length D.
	Latent []float64 `json:"latent" bson:"latent"`

	// Sequence is the decoded sequence.
	Sequence string `json:"sequence" bson:"sequence"`

	// Objective is the objective oracle value. Meaningless when Scored is
	// false.
	Objective float64 `json:"objective" bson:"objective"`

	// Scored is false for candidates whose oracle calls failed. They stay in
	// the dataset for audit but never feed the surrogates or the incumbent.
	Scored bool `json:"scored" bson:"scored"`

	// Constraints holds one value per declared constraint, in declaration
	// order.
	Constraints []float64 `json:"constraints" bson:"constraints"`

	// Feasible is derived from Constraints and Scored.
	Feasible bool `json:"feasible" bson:"feasible"`

	// Error keeps the oracle failure message of an unscored candidate.
	Error string `json:"error,omitempty" bson:"error,omitempty"`
}

// Seed is one row of the seed table used to bootstrap the dataset.
type Seed struct {
	// Sequence is the seed sequence; it is encoded by the Codec.
	Sequence string

	// Objective is the known objective value. Nil means "unknown": the seed
	// is scored by the objective oracle and consumes budget.
	Objective *float64
}

//////
// Collaborators.
//////

// Codec projects sequences into the latent space and back.
//
// Implementations must be deterministic on Encode. Decode may be stochastic
// but must be reproducible under a fixed seed; it must reject sequences
// longer than MaxLength with an error wrapping ErrInvalidCandidate.
type Codec interface {
	// Dim is the latent dimensionality D.
	Dim() int

	// MaxLength is the longest sequence Decode may return.
	MaxLength() int

	// Encode maps a sequence to its latent vector.
	Encode(ctx context.Context, sequence string) ([]float64, error)

	// Decode maps a latent vector to a sequence.
	Decode(ctx context.Context, latent []float64) (string, error)
}

// Oracle is an expensive black-box scoring function.
//
// Errors, NaN and infinite values are all treated as an "unscored" outcome.
// Implementations may be called from several goroutines at once.
type Oracle interface {
	Score(ctx context.Context, sequence string) (float64, error)
}

// BatchOracle is implemented by oracles that score many sequences in one
// call (e.g. a batched GPU forward pass). Results must be index-aligned with
// the input.
type BatchOracle interface {
	Oracle

	ScoreBatch(ctx context.Context, sequences []string) ([]float64, []error)
}

// OracleFunc adapts a plain function to the Oracle interface.
type OracleFunc func(ctx context.Context, sequence string) (float64, error)

// Score implements Oracle.
func (f OracleFunc) Score(ctx context.Context, sequence string) (float64, error) {
	return f(ctx, sequence)
}

// OracleSet groups the objective oracle with the constraint oracles.
// Constraint keys map 1:1 to ConstraintSpec IDs.
type OracleSet struct {
	Objective   Oracle
	Constraints map[string]Oracle
}

// EvaluateObjective scores sequence with the objective oracle.
func (s OracleSet) EvaluateObjective(ctx context.Context, sequence string) (float64, error) {
	return checkedScore(ctx, s.Objective, "objective", sequence)
}

// EvaluateConstraint scores sequence with the constraint oracle id.
func (s OracleSet) EvaluateConstraint(ctx context.Context, id, sequence string) (float64, error) {
	o, ok := s.Constraints[id]
	if !ok {
		return 0, fmt.Errorf("%w: no oracle registered for constraint %q", ErrOracleFailure, id)
	}

	return checkedScore(ctx, o, id, sequence)
}

//////
// Run status and progress.
//////

// Status is the terminal state of a run.
type Status string

const (
	// StatusBudgetExhausted means the evaluation budget was fully consumed.
	StatusBudgetExhausted Status = "budget_exhausted"

	// StatusConverged means the configured target objective was reached.
	StatusConverged Status = "converged"

	// StatusCollapsed means the trust region collapsed under the terminate
	// policy.
	StatusCollapsed Status = "collapsed"

	// StatusStopped means the context was cancelled between iterations.
	StatusStopped Status = "stopped"

	// StatusNoViableCandidates means proposals kept being filtered out.
	StatusNoViableCandidates Status = "no_viable_candidates"
)

// ProgressUpdate is sent after the seed phase and after every iteration.
type ProgressUpdate struct {
	// Phase is "Initializing" or "Iterating".
	Phase string

	// Iteration is the current iteration number (0 for the seed phase).
	Iteration int

	// OracleCalls is the number of successful objective scorings so far.
	OracleCalls int

	// Budget is the configured evaluation budget.
	Budget int

	// DatasetSize is the number of candidates recorded.
	DatasetSize int

	// BatchScored is the number of candidates scored in this iteration.
	BatchScored int

	// BestObjective is the incumbent objective, NaN if none.
	BestObjective float64

	// BestFeasible tells whether the incumbent satisfies all constraints.
	BestFeasible bool

	// CenterObjective is the objective of the trust-region center.
	CenterObjective float64

	// TrustRegionLength is the current trust-region edge length.
	TrustRegionLength float64
}
