package latentbo

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc/pool"
)

//////
// Const, vars, types.
//////

// scoreResult is the outcome of scoring one sequence with every oracle.
type scoreResult struct {
	objective   float64
	constraints []float64

	// err is non-nil when any oracle failed; the candidate is unscored.
	err error

	// consumed tells whether the objective oracle was invoked and returned
	// a value, which charges one evaluation to the budget.
	consumed bool
}

// scorer fans a batch of sequences out to the oracle set. Calls within a
// batch are independent and may run in parallel; results are gathered by
// index so they come back in input order.
type scorer struct {
	oracles     OracleSet
	constraints []ConstraintSpec
	workers     int
	metrics     *Metrics
}

//////
// Methods.
//////

// score evaluates every sequence. known[i], when non-nil, is used as the
// objective value instead of calling the objective oracle. Blocks until
// every call has returned.
func (s *scorer) score(ctx context.Context, seqs []string, known []*float64) []scoreResult {
	n := len(seqs)
	targets := 1 + len(s.constraints)

	values := make([][]float64, targets)
	errs := make([][]error, targets)

	for t := range values {
		values[t] = make([]float64, n)
		errs[t] = make([]error, n)
	}

	p := pool.New().WithMaxGoroutines(s.workers)

	for t := 0; t < targets; t++ {
		t := t
		name, oracle := s.oracleFor(t)

		idx := make([]int, 0, n)
		for i := range seqs {
			if t == 0 && known != nil && known[i] != nil {
				values[0][i] = *known[i]

				continue
			}

			idx = append(idx, i)
		}

		if len(idx) == 0 {
			continue
		}

		if bo, ok := oracle.(BatchOracle); ok {
			p.Go(func() {
				s.scoreBatched(ctx, bo, name, seqs, idx, values[t], errs[t])
			})

			continue
		}

		for _, i := range idx {
			i := i
			p.Go(func() {
				values[t][i], errs[t][i] = checkedScore(ctx, oracle, name, seqs[i])
				s.metrics.observeOracleCall(name, errs[t][i])
			})
		}
	}

	p.Wait()

	out := make([]scoreResult, n)
	for i := range out {
		r := scoreResult{
			objective:   values[0][i],
			constraints: make([]float64, len(s.constraints)),
			consumed:    (known == nil || known[i] == nil) && errs[0][i] == nil,
		}

		var failures []error
		for t := 0; t < targets; t++ {
			if errs[t][i] != nil {
				failures = append(failures, errs[t][i])
			}

			if t > 0 {
				r.constraints[t-1] = values[t][i]
			}
		}

		r.err = errors.Join(failures...)
		out[i] = r
	}

	return out
}

// scoreBatched issues a single ScoreBatch call for the sequences at idx and
// writes the checked results into values and errs.
func (s *scorer) scoreBatched(ctx context.Context, bo BatchOracle, name string, seqs []string, idx []int, values []float64, errs []error) {
	batch := make([]string, len(idx))
	for k, i := range idx {
		batch[k] = seqs[i]
	}

	got, gotErrs := bo.ScoreBatch(ctx, batch)

	for k, i := range idx {
		switch {
		case len(got) != len(batch) || (gotErrs != nil && len(gotErrs) != len(batch)):
			errs[i] = fmt.Errorf("%w: %s returned %d results for %d sequences", ErrOracleFailure, name, len(got), len(batch))
		case gotErrs != nil && gotErrs[k] != nil:
			errs[i] = fmt.Errorf("%w: %s: %v", ErrOracleFailure, name, gotErrs[k])
		case !finite(got[k]):
			errs[i] = fmt.Errorf("%w: %s returned degenerate value %v", ErrOracleFailure, name, got[k])
		default:
			values[i] = got[k]
		}

		s.metrics.observeOracleCall(name, errs[i])
	}
}

func (s *scorer) oracleFor(t int) (string, Oracle) {
	if t == 0 {
		return "objective", s.oracles.Objective
	}

	id := s.constraints[t-1].ID

	return id, s.oracles.Constraints[id]
}

//////
// Helpers.
//////

// checkedScore calls o and maps errors and degenerate values to
// ErrOracleFailure.
func checkedScore(ctx context.Context, o Oracle, name, sequence string) (float64, error) {
	if o == nil {
		return 0, fmt.Errorf("%w: %s: no oracle configured", ErrOracleFailure, name)
	}

	v, err := o.Score(ctx, sequence)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrOracleFailure, name, err)
	}

	if !finite(v) {
		return 0, fmt.Errorf("%w: %s returned degenerate value %v", ErrOracleFailure, name, v)
	}

	return v, nil
}
