package latentbo

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
)

//////
// Const, vars, types.
//////

// Default hyperparameter grids. Lengthscale multipliers are applied to
// sqrt(D), the typical distance between standardized points.
var (
	defaultLengthscaleFactors = []float64{0.25, 0.5, 1, 2}
	defaultNoiseLevels        = []float64{1e-4, 1e-2}
	jitterLevels              = []float64{0, 1e-6, 1e-4, 1e-2}
)

// GaussianProcess is an exact Gaussian Process regressor with an RBF kernel
// and unit signal variance. It expects standardized inputs and targets; the
// Surrogate Bank takes care of that.
//
// Fields:
// - mu: RWMutex guarding every field
// - X: training inputs
// - alpha: K^-1 y, cached at fit time
// - chol: Cholesky factor of K + noise*I
// - lengthscale, noise: hyperparameters chosen at fit time
//
// Thread safety:
// - Fit takes the write lock
// - Predict takes the read lock and never mutates state
//
// Complexity:
// - Fit is O(g * n^3) for a grid of g hyperparameter pairs
// - Predict is O(n^2) per point
type GaussianProcess struct {
	mu sync.RWMutex

	X     [][]float64
	alpha []float64
	chol  *mat.Cholesky

	lengthscale float64
	noise       float64

	// LengthscaleFactors and NoiseLevels define the hyperparameter grid
	// searched by Fit. Nil uses the defaults.
	LengthscaleFactors []float64
	NoiseLevels        []float64
}

//////
// Methods.
//////

// RBFKernel implements the Radial Basis Function kernel with the fitted
// lengthscale.
//
// Mathematical formula:
//
//	k(x1, x2) = exp(-sum((x1 - x2)^2) / (2 * l^2))
//
// Panics if input vectors have different lengths.
func (gp *GaussianProcess) RBFKernel(x1, x2 []float64) float64 {
	gp.mu.RLock()
	l := gp.lengthscale
	gp.mu.RUnlock()

	return rbf(squaredDistance(x1, x2), l)
}

// Fit trains the model on X, y, choosing the lengthscale and noise level
// that maximize the log marginal likelihood over the grid. On error the
// model is left unchanged.
func (gp *GaussianProcess) Fit(X [][]float64, y []float64) error {
	n := len(X)
	if n == 0 || n != len(y) {
		return fmt.Errorf("%w: need matching non-empty inputs, got %d points and %d targets", ErrSurrogateFit, n, len(y))
	}

	dim := len(X[0])

	// Pairwise squared distances are shared by every grid point.
	d2 := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < i; j++ {
			v := squaredDistance(X[i], X[j])
			d2[i*n+j] = v
			d2[j*n+i] = v
		}
	}

	factors := gp.LengthscaleFactors
	if len(factors) == 0 {
		factors = defaultLengthscaleFactors
	}

	noises := gp.NoiseLevels
	if len(noises) == 0 {
		noises = defaultNoiseLevels
	}

	yVec := mat.NewVecDense(n, append([]float64(nil), y...))

	var (
		bestLML   = math.Inf(-1)
		bestChol  *mat.Cholesky
		bestAlpha []float64
		bestL     float64
		bestNoise float64
	)

	for _, f := range factors {
		l := f * math.Sqrt(float64(dim))

		for _, noise := range noises {
			chol, ok := factorize(d2, n, l, noise)
			if !ok {
				continue
			}

			var alpha mat.VecDense
			if err := chol.SolveVecTo(&alpha, yVec); err != nil {
				continue
			}

			lml := -0.5*mat.Dot(yVec, &alpha) - 0.5*chol.LogDet() - 0.5*float64(n)*math.Log(2*math.Pi)
			if math.IsNaN(lml) || lml <= bestLML {
				continue
			}

			bestLML = lml
			bestChol = chol
			bestAlpha = append([]float64(nil), alpha.RawVector().Data...)
			bestL = l
			bestNoise = noise
		}
	}

	if bestChol == nil {
		return fmt.Errorf("%w: kernel matrix is not positive definite for any hyperparameter setting", ErrSurrogateFit)
	}

	xs := make([][]float64, n)
	for i := range X {
		xs[i] = append([]float64(nil), X[i]...)
	}

	gp.mu.Lock()
	defer gp.mu.Unlock()

	gp.X = xs
	gp.alpha = bestAlpha
	gp.chol = bestChol
	gp.lengthscale = bestL
	gp.noise = bestNoise

	return nil
}

// Predict returns the posterior mean and variance of the latent function at
// x. With no observations it returns the prior (0, 1).
func (gp *GaussianProcess) Predict(x []float64) (mean, variance float64) {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	n := len(gp.X)
	if n == 0 {
		return 0, 1
	}

	k := make([]float64, n)
	for i := range gp.X {
		k[i] = rbf(squaredDistance(x, gp.X[i]), gp.lengthscale)
		mean += k[i] * gp.alpha[i]
	}

	kVec := mat.NewVecDense(n, k)

	var v mat.VecDense
	if err := gp.chol.SolveVecTo(&v, kVec); err != nil {
		return mean, 1
	}

	variance = 1 - mat.Dot(kVec, &v)
	if variance < 1e-12 {
		variance = 1e-12
	}

	return mean, variance
}

// Lengthscale returns the fitted kernel lengthscale.
func (gp *GaussianProcess) Lengthscale() float64 {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	return gp.lengthscale
}

// Noise returns the fitted observation noise variance.
func (gp *GaussianProcess) Noise() float64 {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	return gp.noise
}

//////
// Helpers.
//////

func rbf(d2, l float64) float64 {
	return math.Exp(-d2 / (2 * l * l))
}

// factorize builds K + (noise+jitter)*I from the squared distances and
// factorizes it, escalating the jitter until it succeeds.
func factorize(d2 []float64, n int, l, noise float64) (*mat.Cholesky, bool) {
	for _, jitter := range jitterLevels {
		K := mat.NewSymDense(n, nil)

		for i := 0; i < n; i++ {
			K.SetSym(i, i, 1+noise+jitter)

			for j := 0; j < i; j++ {
				K.SetSym(i, j, rbf(d2[i*n+j], l))
			}
		}

		var chol mat.Cholesky
		if chol.Factorize(K) {
			return &chol, true
		}
	}

	return nil, false
}

//////
// Factory.
//////

// NewGaussianProcess returns an untrained model with the default grid.
func NewGaussianProcess() *GaussianProcess {
	return &GaussianProcess{
		lengthscale: 1.0,
		noise:       defaultNoiseLevels[0],
	}
}
