package latentbo

import (
	"math"

	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/stat/distuv"
)

//////
// Helper functions.
//////

// normalCDF is the cumulative distribution function of the standard normal
// distribution.
func normalCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// normalPDF is the probability density function of the standard normal
// distribution.
func normalPDF(x float64) float64 {
	return distuv.UnitNormal.Prob(x)
}

// squaredDistance returns the squared Euclidean distance between x1 and x2.
// Panics if the vectors have different lengths.
func squaredDistance(x1, x2 []float64) float64 {
	if len(x1) != len(x2) {
		panic("input vectors must have the same length")
	}

	var sum float64

	for i := range x1 {
		diff := x1[i] - x2[i]
		sum += diff * diff
	}

	return sum
}

// clamp restricts v to [lo, hi].
func clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}

// finite reports whether v is neither NaN nor infinite.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
