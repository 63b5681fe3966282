package latentbo

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

//////
// Const, vars, types.
//////

// Surrogate is a regression model over latent vectors with a predictive
// mean and variance. Fit either succeeds and fully replaces the model state,
// or fails and leaves it unchanged. Predict must be side-effect free and
// safe for concurrent use.
type Surrogate interface {
	Fit(X [][]float64, y []float64) error
	Predict(x []float64) (mean, variance float64)
}

// SurrogateFactory creates a fresh, untrained Surrogate.
type SurrogateFactory func() Surrogate

// Prediction holds the predictive mean and variance of every target at one
// latent point. Index 0 is the objective, index i+1 the i-th constraint.
type Prediction struct {
	Mean     []float64
	Variance []float64
}

// standardizer maps raw latents and targets to zero mean, unit variance and
// back.
type standardizer struct {
	xMean, xStd []float64
	yMean, yStd float64
}

// fittedModel pairs a trained model with the scaling it was trained under.
// It is immutable once built and swapped in wholesale.
type fittedModel struct {
	model  Surrogate
	scale  *standardizer
	points int
}

// SurrogateBank owns one surrogate for the objective and one per
// constraint. Only the orchestrator calls Fit; Predict may be called from
// several goroutines between fits.
type SurrogateBank struct {
	factory   SurrogateFactory
	minPoints int
	window    int
	models    []*fittedModel
}

//////
// Methods.
//////

// Fit retrains every target on the dataset. A target with fewer than
// minPoints training points, or whose fit fails, keeps its previous model;
// the joined error wraps ErrSurrogateFit for each such target.
func (b *SurrogateBank) Fit(d *Dataset) error {
	var errs []error

	for t := range b.models {
		target := Target(t)

		X, y := d.TrainingSet(target, b.minPoints, b.window)
		if len(X) < b.minPoints {
			errs = append(errs, fmt.Errorf("%w: %s has %d points, need %d", ErrSurrogateFit, targetName(target), len(X), b.minPoints))

			continue
		}

		scale := newStandardizer(X, y)

		Xs := make([][]float64, len(X))
		ys := make([]float64, len(y))

		for i := range X {
			Xs[i] = scale.input(X[i])
			ys[i] = (y[i] - scale.yMean) / scale.yStd
		}

		model := b.factory()
		if err := model.Fit(Xs, ys); err != nil {
			if !errors.Is(err, ErrSurrogateFit) {
				err = fmt.Errorf("%w: %v", ErrSurrogateFit, err)
			}

			errs = append(errs, fmt.Errorf("%s: %w", targetName(target), err))

			continue
		}

		b.models[t] = &fittedModel{model: model, scale: scale, points: len(X)}
	}

	return errors.Join(errs...)
}

// Predict returns the un-standardized predictions of every target at x. A
// target that was never fitted returns the prior (0, 1).
func (b *SurrogateBank) Predict(x []float64) Prediction {
	p := Prediction{
		Mean:     make([]float64, len(b.models)),
		Variance: make([]float64, len(b.models)),
	}

	for t, m := range b.models {
		if m == nil {
			p.Mean[t], p.Variance[t] = 0, 1

			continue
		}

		mean, variance := m.model.Predict(m.scale.input(x))
		p.Mean[t] = mean*m.scale.yStd + m.scale.yMean
		p.Variance[t] = variance * m.scale.yStd * m.scale.yStd
	}

	return p
}

// PredictBatch applies Predict to every latent, preserving order.
func (b *SurrogateBank) PredictBatch(latents [][]float64) []Prediction {
	out := make([]Prediction, len(latents))
	for i, x := range latents {
		out[i] = b.Predict(x)
	}

	return out
}

// Targets returns the number of targets (1 + number of constraints).
func (b *SurrogateBank) Targets() int {
	return len(b.models)
}

// Fitted reports whether target has a trained model and on how many points.
func (b *SurrogateBank) Fitted(target Target) (points int, ok bool) {
	m := b.models[target]
	if m == nil {
		return 0, false
	}

	return m.points, true
}

//////
// Helpers.
//////

func newStandardizer(X [][]float64, y []float64) *standardizer {
	dim := len(X[0])
	s := &standardizer{
		xMean: make([]float64, dim),
		xStd:  make([]float64, dim),
	}

	col := make([]float64, len(X))
	for j := 0; j < dim; j++ {
		for i := range X {
			col[i] = X[i][j]
		}

		s.xMean[j], s.xStd[j] = meanStd(col)
	}

	s.yMean, s.yStd = meanStd(y)

	return s
}

// meanStd returns the mean and standard deviation of v, with a unit
// deviation substituted for constant or single-point columns.
func meanStd(v []float64) (float64, float64) {
	if len(v) < 2 {
		if len(v) == 1 {
			return v[0], 1
		}

		return 0, 1
	}

	m, sd := stat.MeanStdDev(v, nil)
	if sd < 1e-12 || math.IsNaN(sd) {
		sd = 1
	}

	return m, sd
}

func (s *standardizer) input(x []float64) []float64 {
	out := make([]float64, len(x))
	for j := range x {
		out[j] = (x[j] - s.xMean[j]) / s.xStd[j]
	}

	return out
}

func targetName(t Target) string {
	if t == TargetObjective {
		return "objective"
	}

	return fmt.Sprintf("constraint[%d]", int(t)-1)
}

//////
// Factory.
//////

// NewSurrogateBank creates a bank with one slot for the objective and one
// per constraint. A nil factory uses NewGaussianProcess.
func NewSurrogateBank(numConstraints, minPoints, window int, factory SurrogateFactory) *SurrogateBank {
	if factory == nil {
		factory = func() Surrogate { return NewGaussianProcess() }
	}

	return &SurrogateBank{
		factory:   factory,
		minPoints: minPoints,
		window:    window,
		models:    make([]*fittedModel, numConstraints+1),
	}
}
