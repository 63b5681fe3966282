package latentbo

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScorer_ResultsFollowInputOrder(t *testing.T) {
	// Later sequences return first.
	slow := &countingOracle{fn: func(seq string) (float64, error) {
		time.Sleep(time.Duration(10-len(seq)) * time.Millisecond)

		return float64(len(seq)), nil
	}}

	s := &scorer{oracles: OracleSet{Objective: slow}, workers: 4}

	seqs := []string{"A", "AA", "AAA", "AAAA", "AAAAA", "AAAAAA"}
	results := s.score(context.Background(), seqs, nil)

	require.Len(t, results, len(seqs))

	for i, r := range results {
		require.NoError(t, r.err)
		assert.Equal(t, float64(i+1), r.objective)
		assert.True(t, r.consumed)
	}
}

func TestScorer_KnownObjectivesSkipTheOracle(t *testing.T) {
	objective := &countingOracle{fn: lengthScore}
	constraint := &countingOracle{fn: lengthScore}

	s := &scorer{
		oracles:     OracleSet{Objective: objective, Constraints: map[string]Oracle{"len": constraint}},
		constraints: []ConstraintSpec{{ID: "len", Threshold: 2, Direction: DirectionMin}},
		workers:     2,
	}

	results := s.score(context.Background(), []string{"A", "AB", "ABC"}, []*float64{ptr(9), nil, ptr(7)})

	assert.Equal(t, int64(1), objective.calls.Load())
	assert.Equal(t, int64(3), constraint.calls.Load())

	assert.Equal(t, 9.0, results[0].objective)
	assert.False(t, results[0].consumed)
	assert.Equal(t, 2.0, results[1].objective)
	assert.True(t, results[1].consumed)

	for i, r := range results {
		assert.Equal(t, []float64{float64(i + 1)}, r.constraints)
	}
}

func TestScorer_FailuresAreIsolated(t *testing.T) {
	objective := &countingOracle{fn: func(seq string) (float64, error) {
		switch seq {
		case "err":
			return 0, errors.New("model crashed")
		case "nan":
			return math.NaN(), nil
		default:
			return 1, nil
		}
	}}

	s := &scorer{oracles: OracleSet{Objective: objective}, workers: 3}

	results := s.score(context.Background(), []string{"ok", "err", "nan"}, nil)

	assert.NoError(t, results[0].err)
	assert.ErrorIs(t, results[1].err, ErrOracleFailure)
	assert.ErrorIs(t, results[2].err, ErrOracleFailure)

	assert.True(t, results[0].consumed)
	assert.False(t, results[1].consumed)
	assert.False(t, results[2].consumed)
}

func TestScorer_ConstraintFailureStillConsumesObjective(t *testing.T) {
	s := &scorer{
		oracles: OracleSet{
			Objective:   &countingOracle{fn: lengthScore},
			Constraints: map[string]Oracle{"len": &countingOracle{fn: func(string) (float64, error) { return 0, errors.New("down") }}},
		},
		constraints: []ConstraintSpec{{ID: "len", Threshold: 2, Direction: DirectionMin}},
		workers:     2,
	}

	results := s.score(context.Background(), []string{"A", "AB"}, nil)

	for _, r := range results {
		assert.ErrorIs(t, r.err, ErrOracleFailure)
		assert.True(t, r.consumed)
	}
}

func TestScorer_BatchOracle(t *testing.T) {
	objective := &batchOracle{fn: lengthScore}

	s := &scorer{oracles: OracleSet{Objective: objective}, workers: 2}

	results := s.score(context.Background(), []string{"A", "AB", "ABC"}, []*float64{nil, ptr(5), nil})

	require.Len(t, objective.batches, 1)
	assert.Equal(t, []string{"A", "ABC"}, objective.batches[0])

	assert.Equal(t, 1.0, results[0].objective)
	assert.Equal(t, 5.0, results[1].objective)
	assert.Equal(t, 3.0, results[2].objective)
}

// shortBatch returns one value fewer than asked.
type shortBatch struct{ batchOracle }

func (s *shortBatch) ScoreBatch(_ context.Context, seqs []string) ([]float64, []error) {
	return make([]float64, len(seqs)-1), nil
}

func TestScorer_MisalignedBatchFailsEveryEntry(t *testing.T) {
	s := &scorer{oracles: OracleSet{Objective: &shortBatch{}}, workers: 1}

	for _, r := range s.score(context.Background(), []string{"A", "B"}, nil) {
		assert.ErrorIs(t, r.err, ErrOracleFailure)
	}
}

func TestOracleSet_Evaluate(t *testing.T) {
	set := OracleSet{
		Objective:   OracleFunc(func(context.Context, string) (float64, error) { return math.Inf(-1), nil }),
		Constraints: map[string]Oracle{"len": OracleFunc(func(_ context.Context, s string) (float64, error) { return float64(len(s)), nil })},
	}

	_, err := set.EvaluateObjective(context.Background(), "A")
	assert.ErrorIs(t, err, ErrOracleFailure)

	v, err := set.EvaluateConstraint(context.Background(), "len", "ABC")
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	_, err = set.EvaluateConstraint(context.Background(), "missing", "ABC")
	assert.ErrorIs(t, err, ErrOracleFailure)
}
