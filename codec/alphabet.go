// Package codec provides a reference latentbo.Codec over a fixed alphabet.
//
// Alphabet is not a learned model: it writes one latent coordinate per
// sequence position, which makes it useful for demos, tests and as a
// baseline against learned encoders served elsewhere.
package codec

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/thalesfsp/latentbo"
	"github.com/thalesfsp/latentbo/execution"
)

//////
// Const, vars, types.
//////

// AminoAcids is the default vocabulary: the 20 canonical amino acids.
const AminoAcids = "ACDEFGHIKLMNPQRSTVWY"

// Alphabet maps a sequence over a vocabulary of V letters to a latent of
// dimension D, one coordinate per position:
//
//	z[i] = (k + 1) / V   for the k-th letter of the vocabulary
//	z[i] = 0             past the end of the sequence
//
// Decoding rounds every coordinate to the nearest letter and stops at the
// first coordinate below half a step (0.5 / V). Round trips are exact for
// sequences of the vocabulary up to MaxLength under zero noise.
//
// Thread safety: Encode is pure; Decode serializes access to the decode RNG.
type Alphabet struct {
	vocab string
	index map[rune]int

	dim    int
	maxLen int
	noise  float64

	mu  sync.Mutex
	rng *rand.Rand
}

// Option customizes an Alphabet.
type Option func(*Alphabet)

//////
// Options.
//////

// WithVocabulary replaces the default amino-acid vocabulary. Letters must be
// unique.
func WithVocabulary(vocab string) Option {
	return func(a *Alphabet) {
		a.vocab = vocab
	}
}

// WithDecodeNoise adds Gaussian noise with standard deviation sigma to every
// coordinate before rounding, making decoding stochastic. The noise is drawn
// from the execution context's decode stream, so it is reproducible under a
// fixed seed.
func WithDecodeNoise(sigma float64) Option {
	return func(a *Alphabet) {
		a.noise = sigma
	}
}

//////
// Methods.
//////

// Dim implements latentbo.Codec.
func (a *Alphabet) Dim() int {
	return a.dim
}

// MaxLength implements latentbo.Codec.
func (a *Alphabet) MaxLength() int {
	return a.maxLen
}

// Vocabulary returns the letters in index order.
func (a *Alphabet) Vocabulary() string {
	return a.vocab
}

// Encode implements latentbo.Codec.
func (a *Alphabet) Encode(_ context.Context, sequence string) ([]float64, error) {
	if n := len([]rune(sequence)); n > a.maxLen {
		return nil, fmt.Errorf("%w: length %d exceeds %d", latentbo.ErrInvalidCandidate, n, a.maxLen)
	}

	v := float64(len(a.index))
	z := make([]float64, a.dim)

	i := 0
	for _, r := range sequence {
		k, ok := a.index[r]
		if !ok {
			return nil, fmt.Errorf("%w: %q is not in the vocabulary", latentbo.ErrInvalidCandidate, r)
		}

		z[i] = float64(k+1) / v
		i++
	}

	return z, nil
}

// Decode implements latentbo.Codec. Latents whose decoded length exceeds
// MaxLength are rejected.
func (a *Alphabet) Decode(_ context.Context, latent []float64) (string, error) {
	if len(latent) != a.dim {
		return "", fmt.Errorf("%w: latent has %d coordinates, want %d", latentbo.ErrInvalidCandidate, len(latent), a.dim)
	}

	z := latent
	if a.noise > 0 {
		z = a.perturb(latent)
	}

	letters := []rune(a.vocab)
	v := float64(len(letters))

	var b strings.Builder

	n := 0
	for _, x := range z {
		if math.IsNaN(x) || x < 0.5/v {
			break
		}

		k := int(math.Round(x*v)) - 1
		if k >= len(letters) {
			k = len(letters) - 1
		}

		if k < 0 {
			k = 0
		}

		b.WriteRune(letters[k])
		n++
	}

	if n > a.maxLen {
		return "", fmt.Errorf("%w: decoded length %d exceeds %d", latentbo.ErrInvalidCandidate, n, a.maxLen)
	}

	return b.String(), nil
}

func (a *Alphabet) perturb(latent []float64) []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]float64, len(latent))
	for i, x := range latent {
		out[i] = x + a.noise*a.rng.NormFloat64()
	}

	return out
}

//////
// Factory.
//////

// NewAlphabet creates an Alphabet codec of dimension dim that decodes
// sequences of at most maxLen letters. dim must be at least maxLen; extra
// coordinates let Decode produce over-long sequences, which it rejects.
func NewAlphabet(ec *execution.Context, dim, maxLen int, opts ...Option) (*Alphabet, error) {
	if ec == nil {
		return nil, fmt.Errorf("%w: execution context is required", latentbo.ErrInvalidConfig)
	}

	if maxLen <= 0 || dim < maxLen {
		return nil, fmt.Errorf("%w: need 0 < max length <= dim, got max length %d and dim %d", latentbo.ErrInvalidConfig, maxLen, dim)
	}

	a := &Alphabet{
		vocab:  AminoAcids,
		dim:    dim,
		maxLen: maxLen,
		rng:    ec.RNG.ForSubsystem(execution.SubsystemDecode),
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.vocab == "" {
		return nil, fmt.Errorf("%w: empty vocabulary", latentbo.ErrInvalidConfig)
	}

	if a.noise < 0 || math.IsNaN(a.noise) || math.IsInf(a.noise, 0) {
		return nil, fmt.Errorf("%w: decode noise must be finite and non-negative, got %v", latentbo.ErrInvalidConfig, a.noise)
	}

	a.index = make(map[rune]int, len(a.vocab))
	for k, r := range []rune(a.vocab) {
		if _, dup := a.index[r]; dup {
			return nil, fmt.Errorf("%w: letter %q repeated in vocabulary", latentbo.ErrInvalidConfig, r)
		}

		a.index[r] = k
	}

	ec.Logger.WithFields(logrus.Fields{
		"component":    "codec",
		"dim":          dim,
		"max_length":   maxLen,
		"vocabulary":   len(a.index),
		"decode_noise": a.noise,
		"device":       ec.Device,
	}).Debug("Alphabet codec ready")

	return a, nil
}
