package latentbo

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGaussianProcess_PriorBeforeFit(t *testing.T) {
	gp := NewGaussianProcess()

	mean, variance := gp.Predict([]float64{0.3, 0.1})
	assert.Equal(t, 0.0, mean)
	assert.Equal(t, 1.0, variance)
}

func TestGaussianProcess_InterpolatesTrainingPoints(t *testing.T) {
	X := [][]float64{{-1.5}, {-0.5}, {0}, {0.5}, {1.5}}
	y := make([]float64, len(X))

	for i, x := range X {
		y[i] = math.Sin(x[0])
	}

	gp := NewGaussianProcess()
	require.NoError(t, gp.Fit(X, y))

	for i, x := range X {
		mean, variance := gp.Predict(x)
		assert.InDelta(t, y[i], mean, 0.1, "x=%v", x)
		assert.Less(t, variance, 0.1)
	}

	// Far from the data the posterior reverts to the prior.
	mean, variance := gp.Predict([]float64{50})
	assert.InDelta(t, 0, mean, 1e-6)
	assert.InDelta(t, 1, variance, 1e-6)

	assert.Greater(t, gp.Lengthscale(), 0.0)
	assert.Contains(t, defaultNoiseLevels, gp.Noise())
}

func TestGaussianProcess_DuplicateInputsStillFactorize(t *testing.T) {
	X := [][]float64{{1, 1}, {1, 1}, {1, 1}, {0, 0}}
	y := []float64{1, 1.1, 0.9, -1}

	gp := NewGaussianProcess()
	gp.NoiseLevels = []float64{0}

	require.NoError(t, gp.Fit(X, y))

	mean, _ := gp.Predict([]float64{1, 1})
	assert.InDelta(t, 1, mean, 0.2)
}

func TestGaussianProcess_FitErrorsKeepState(t *testing.T) {
	gp := NewGaussianProcess()
	require.NoError(t, gp.Fit([][]float64{{0}, {1}}, []float64{0, 1}))

	before, _ := gp.Predict([]float64{1})

	assert.ErrorIs(t, gp.Fit(nil, nil), ErrSurrogateFit)
	assert.ErrorIs(t, gp.Fit([][]float64{{0}}, []float64{1, 2}), ErrSurrogateFit)

	after, _ := gp.Predict([]float64{1})
	assert.Equal(t, before, after)
}

func TestGaussianProcess_RBFKernel(t *testing.T) {
	gp := NewGaussianProcess()

	assert.Equal(t, 1.0, gp.RBFKernel([]float64{1, 2}, []float64{1, 2}))
	assert.InDelta(t, math.Exp(-0.5), gp.RBFKernel([]float64{0}, []float64{1}), 1e-12)
	assert.Panics(t, func() { gp.RBFKernel([]float64{0}, []float64{0, 1}) })
}

func TestGaussianProcess_ConcurrentPredict(t *testing.T) {
	gp := NewGaussianProcess()
	require.NoError(t, gp.Fit([][]float64{{0}, {1}, {2}}, []float64{0, 1, 0}))

	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			_, variance := gp.Predict([]float64{float64(i) / 4})
			assert.Greater(t, variance, 0.0)
		}(i)
	}

	wg.Wait()
}
