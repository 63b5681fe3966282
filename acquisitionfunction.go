package latentbo

import (
	"fmt"
	"math"
	"math/rand"
)

//////
// Available acquisition functions.
// Each scores a latent point from the surrogate's predictive mean and
// variance. Higher values are more promising: the objective is maximized.
//////

// AcquisitionKind names a built-in acquisition function in configuration.
type AcquisitionKind string

const (
	// EI selects ExpectedImprovement.
	EI AcquisitionKind = "ei"

	// UCB selects UpperConfidenceBound.
	UCB AcquisitionKind = "ucb"

	// PI selects ProbabilityOfImprovement.
	PI AcquisitionKind = "pi"

	// Thompson selects ThompsonSampling.
	Thompson AcquisitionKind = "thompson"
)

// AcquisitionFunc scores a point from its predictive mean and variance.
// Implementations must handle zero variance and must return higher values
// for more promising points.
type AcquisitionFunc func(mean, variance float64, params AcquisitionParams) float64

// AcquisitionParams holds the knobs shared by the built-in acquisition
// functions.
type AcquisitionParams struct {
	// Beta is the UCB exploration weight. Typical range 0.1 to 5.
	Beta float64

	// Xi is the minimum improvement EI and PI look for.
	Xi float64

	// BestSoFar is the incumbent objective. The optimizer refreshes it
	// before every proposal.
	BestSoFar float64

	// RandomState drives Thompson sampling. Must not be shared across
	// goroutines.
	RandomState *rand.Rand
}

// Func returns the acquisition function for the kind.
func (k AcquisitionKind) Func() (AcquisitionFunc, error) {
	switch k {
	case EI:
		return ExpectedImprovement, nil
	case UCB:
		return UpperConfidenceBound, nil
	case PI:
		return ProbabilityOfImprovement, nil
	case Thompson:
		return ThompsonSampling, nil
	default:
		return nil, fmt.Errorf("%w: unknown acquisition %q", ErrInvalidConfig, k)
	}
}

// NonNegative reports whether the acquisition never goes below zero, which
// allows combining it multiplicatively with a feasibility probability.
func (k AcquisitionKind) NonNegative() bool {
	return k == EI || k == PI
}

// UpperConfidenceBound returns mean + Beta * sigma.
//
// Example:
//
//	params := AcquisitionParams{Beta: 2.0}
//	value := UpperConfidenceBound(0.5, 0.2, params)
func UpperConfidenceBound(mean, variance float64, params AcquisitionParams) float64 {
	return mean + params.Beta*math.Sqrt(variance)
}

// ProbabilityOfImprovement returns the probability that the point beats
// BestSoFar by at least Xi.
//
// Example:
//
//	params := AcquisitionParams{BestSoFar: 1.0, Xi: 0.01}
//	prob := ProbabilityOfImprovement(1.2, 0.2, params)
func ProbabilityOfImprovement(mean, variance float64, params AcquisitionParams) float64 {
	sigma := math.Sqrt(variance)
	improvement := mean - params.BestSoFar - params.Xi

	if sigma < 1e-12 {
		if improvement > 0 {
			return 1
		}

		return 0
	}

	return normalCDF(improvement / sigma)
}

// ExpectedImprovement returns the expected amount by which the point beats
// BestSoFar + Xi.
//
// Mathematical formula:
//
//	EI = (mu - best - xi) * Phi(z) + sigma * phi(z),  z = (mu - best - xi) / sigma
func ExpectedImprovement(mean, variance float64, params AcquisitionParams) float64 {
	sigma := math.Sqrt(variance)
	improvement := mean - params.BestSoFar - params.Xi

	if sigma < 1e-12 {
		return math.Max(improvement, 0)
	}

	z := improvement / sigma

	return math.Max(improvement*normalCDF(z)+sigma*normalPDF(z), 0)
}

// ThompsonSampling draws one sample from the marginal posterior at the
// point.
//
// Warning:
// - RandomState must be set
// - Don't share RandomState between goroutines
func ThompsonSampling(mean, variance float64, params AcquisitionParams) float64 {
	return mean + math.Sqrt(variance)*params.RandomState.NormFloat64()
}

// FeasibilityProbability returns the probability, under independent Gaussian
// predictions, that every constraint is satisfied.
func FeasibilityProbability(p Prediction, constraints []ConstraintSpec) float64 {
	prob := 1.0

	for i, c := range constraints {
		mean, sigma := p.Mean[i+1], math.Sqrt(p.Variance[i+1])

		var pi float64

		switch {
		case sigma < 1e-12:
			if c.Satisfied(mean) {
				pi = 1
			}
		case c.Direction == DirectionMin:
			pi = normalCDF((mean - c.Threshold) / sigma)
		default:
			pi = normalCDF((c.Threshold - mean) / sigma)
		}

		prob *= pi
	}

	return prob
}
