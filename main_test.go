package latentbo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/thalesfsp/latentbo/execution"
)

func TestMain(m *testing.M) {
	// Set DEBUG_TESTS=1 to see run logs.
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}

	os.Exit(m.Run())
}

//////
// Test codec.
//////

// testAlphabet is the vocabulary of testCodec.
const testAlphabet = "ACGT"

// testCodec writes one coordinate per position: (k+1)/V for the k-th
// letter, 0 past the end. Decoding rounds each coordinate back to a letter
// and stops at the first coordinate below half a step.
type testCodec struct {
	dim        int
	maxLen     int
	failDecode bool
}

func (c *testCodec) Dim() int       { return c.dim }
func (c *testCodec) MaxLength() int { return c.maxLen }

func (c *testCodec) Encode(_ context.Context, seq string) ([]float64, error) {
	if len(seq) > c.dim {
		return nil, fmt.Errorf("%w: %q longer than %d", ErrInvalidCandidate, seq, c.dim)
	}

	v := float64(len(testAlphabet))
	z := make([]float64, c.dim)

	for i, r := range seq {
		k := strings.IndexRune(testAlphabet, r)
		if k < 0 {
			return nil, fmt.Errorf("%w: %q not in alphabet", ErrInvalidCandidate, r)
		}

		z[i] = float64(k+1) / v
	}

	return z, nil
}

func (c *testCodec) Decode(_ context.Context, z []float64) (string, error) {
	if c.failDecode {
		return "", fmt.Errorf("%w: decoder disabled", ErrInvalidCandidate)
	}

	v := float64(len(testAlphabet))

	var b strings.Builder

	for _, x := range z {
		if x < 0.5/v {
			break
		}

		k := clamp(int(math.Round(x*v))-1, 0, len(testAlphabet)-1)
		b.WriteByte(testAlphabet[k])
	}

	if b.Len() > c.maxLen {
		return "", fmt.Errorf("%w: length %d exceeds %d", ErrInvalidCandidate, b.Len(), c.maxLen)
	}

	return b.String(), nil
}

//////
// Test oracles.
//////

// countingOracle counts calls and delegates to fn.
type countingOracle struct {
	calls atomic.Int64
	fn    func(seq string) (float64, error)
}

func (o *countingOracle) Score(_ context.Context, seq string) (float64, error) {
	o.calls.Add(1)

	return o.fn(seq)
}

// batchOracle records the batches it received.
type batchOracle struct {
	mu      sync.Mutex
	batches [][]string
	fn      func(seq string) (float64, error)
}

func (o *batchOracle) Score(_ context.Context, seq string) (float64, error) {
	return o.fn(seq)
}

func (o *batchOracle) ScoreBatch(_ context.Context, seqs []string) ([]float64, []error) {
	o.mu.Lock()
	o.batches = append(o.batches, append([]string(nil), seqs...))
	o.mu.Unlock()

	values := make([]float64, len(seqs))
	errs := make([]error, len(seqs))

	for i, s := range seqs {
		values[i], errs[i] = o.fn(s)
	}

	return values, errs
}

// gcContent is the fraction of G and C letters, a cheap smooth objective.
func gcContent(seq string) (float64, error) {
	if seq == "" {
		return 0, errors.New("empty sequence")
	}

	n := strings.Count(seq, "G") + strings.Count(seq, "C")

	return float64(n) / float64(len(seq)), nil
}

// lengthScore returns the sequence length.
func lengthScore(seq string) (float64, error) {
	return float64(len(seq)), nil
}

//////
// Fixtures.
//////

func ptr(v float64) *float64 { return &v }

// testConfig is a small, fast configuration for testCodec.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Dim = 8
	cfg.MaxStringLength = 8
	cfg.Budget = 20
	cfg.BatchSize = 4
	cfg.NumCandidates = 64
	cfg.Workers = 2
	cfg.Seed = 7

	return cfg
}

// testSeeds returns five distinct seeds with known objectives.
func testSeeds(objectives ...float64) []Seed {
	seqs := []string{"ACGT", "CATG", "GGCA", "TTAC", "AGTC", "CCGA", "GATT", "TGCA"}

	seeds := make([]Seed, len(objectives))
	for i, v := range objectives {
		seeds[i] = Seed{Sequence: seqs[i], Objective: ptr(v)}
	}

	return seeds
}

func testExecution() *execution.Context {
	return execution.New("cpu", 7)
}

// newTestOptimizer builds an Optimizer over testCodec.
func newTestOptimizer(t *testing.T, cfg Config, oracles OracleSet, opts ...Option) *Optimizer {
	t.Helper()

	opts = append([]Option{WithExecutionContext(testExecution())}, opts...)

	o, err := New(cfg, &testCodec{dim: cfg.Dim, maxLen: cfg.MaxStringLength}, oracles, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return o
}
