package codec

import (
	"context"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thalesfsp/latentbo"
	"github.com/thalesfsp/latentbo/execution"
)

func quietContext(seed int64) *execution.Context {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)

	return execution.New("cpu", seed, execution.WithLogger(l))
}

func TestAlphabet_RoundTrip(t *testing.T) {
	a, err := NewAlphabet(quietContext(1), 64, 48)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(4))

	for i := 0; i < 100; i++ {
		n := 1 + rng.Intn(48)

		b := make([]byte, n)
		for j := range b {
			b[j] = AminoAcids[rng.Intn(len(AminoAcids))]
		}

		seq := string(b)

		z, err := a.Encode(context.Background(), seq)
		require.NoError(t, err)
		require.Len(t, z, 64)

		got, err := a.Decode(context.Background(), z)
		require.NoError(t, err)
		assert.Equal(t, seq, got)
	}
}

func TestAlphabet_EncodeRejects(t *testing.T) {
	a, err := NewAlphabet(quietContext(1), 8, 4)
	require.NoError(t, err)

	_, err = a.Encode(context.Background(), "ACDEF")
	assert.ErrorIs(t, err, latentbo.ErrInvalidCandidate)

	_, err = a.Encode(context.Background(), "AXC")
	assert.ErrorIs(t, err, latentbo.ErrInvalidCandidate)
}

func TestAlphabet_DecodeRejectsOverLongSequences(t *testing.T) {
	a, err := NewAlphabet(quietContext(1), 6, 4, WithVocabulary("AB"))
	require.NoError(t, err)

	// Five non-terminating coordinates decode to five letters.
	_, err = a.Decode(context.Background(), []float64{0.5, 1, 0.5, 1, 0.5, 0})
	assert.ErrorIs(t, err, latentbo.ErrInvalidCandidate)

	_, err = a.Decode(context.Background(), []float64{0.5, 1})
	assert.ErrorIs(t, err, latentbo.ErrInvalidCandidate)

	got, err := a.Decode(context.Background(), []float64{0.5, 1, 3, 0.1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, "ABB", got)

	got, err = a.Decode(context.Background(), make([]float64, 6))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAlphabet_NoisyDecodeIsReproducible(t *testing.T) {
	decode := func() []string {
		a, err := NewAlphabet(quietContext(11), 16, 16, WithDecodeNoise(0.05))
		require.NoError(t, err)

		z, err := a.Encode(context.Background(), "MKTAYIAKQR")
		require.NoError(t, err)

		out := make([]string, 5)
		for i := range out {
			out[i], err = a.Decode(context.Background(), z)
			require.NoError(t, err)
		}

		return out
	}

	assert.Equal(t, decode(), decode())
}

func TestNewAlphabet_Validation(t *testing.T) {
	ec := quietContext(1)

	tests := []struct {
		name   string
		dim    int
		maxLen int
		opts   []Option
	}{
		{name: "max length above dim", dim: 4, maxLen: 8},
		{name: "zero max length", dim: 4, maxLen: 0},
		{name: "empty vocabulary", dim: 4, maxLen: 4, opts: []Option{WithVocabulary("")}},
		{name: "repeated letter", dim: 4, maxLen: 4, opts: []Option{WithVocabulary("ABA")}},
		{name: "negative noise", dim: 4, maxLen: 4, opts: []Option{WithDecodeNoise(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAlphabet(ec, tt.dim, tt.maxLen, tt.opts...)
			assert.ErrorIs(t, err, latentbo.ErrInvalidConfig)
		})
	}

	_, err := NewAlphabet(nil, 4, 4)
	assert.ErrorIs(t, err, latentbo.ErrInvalidConfig)
}

func TestAlphabet_DrivesOptimizer(t *testing.T) {
	ec := quietContext(3)

	a, err := NewAlphabet(ec, 12, 12, WithVocabulary("AILV"))
	require.NoError(t, err)

	cfg := latentbo.DefaultConfig()
	cfg.Dim, cfg.MaxStringLength = a.Dim(), a.MaxLength()
	cfg.Budget = 8
	cfg.BatchSize = 4
	cfg.NumCandidates = 64

	// Reward isoleucine.
	objective := latentbo.OracleFunc(func(_ context.Context, s string) (float64, error) {
		n := 0
		for _, r := range s {
			if r == 'I' {
				n++
			}
		}

		return float64(n) / float64(len(s)), nil
	})

	opt, err := latentbo.New(cfg, a, latentbo.OracleSet{Objective: objective}, latentbo.WithExecutionContext(ec))
	require.NoError(t, err)

	seeds := []latentbo.Seed{
		{Sequence: "AAAA"}, {Sequence: "IAAV"}, {Sequence: "LLVV"}, {Sequence: "VIAL"}, {Sequence: "AIIA"},
	}

	res, err := opt.Run(context.Background(), seeds)
	require.NoError(t, err)

	assert.Equal(t, latentbo.StatusBudgetExhausted, res.Status)
	assert.Equal(t, cfg.Budget, res.OracleCalls)
	require.NotNil(t, res.Best)
	assert.GreaterOrEqual(t, res.Best.Objective, 0.5)
}
