package latentbo

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegionConfig() TrustRegionConfig {
	return TrustRegionConfig{
		InitialLength:  0.8,
		MinLength:      0.1,
		MaxLength:      1.6,
		SuccessStreak:  3,
		FailureStreak:  3,
		CollapsePolicy: CollapseRestart,
	}
}

func TestTrustRegion_GrowAndShrinkCounts(t *testing.T) {
	tr := NewTrustRegion(testRegionConfig(), 2)

	// Two successes are not enough.
	tr.Update(true)
	tr.Update(true)
	assert.Equal(t, 0.8, tr.Length)

	tr.Update(true)
	assert.Equal(t, 1.6, tr.Length)
	assert.Equal(t, 1, tr.Grows)

	// Capped at the maximum.
	for i := 0; i < 3; i++ {
		tr.Update(true)
	}

	assert.Equal(t, 1.6, tr.Length)
	assert.Equal(t, 2, tr.Grows)

	// A failure resets the success streak.
	tr.Update(true)
	tr.Update(true)
	tr.Update(false)
	tr.Update(true)
	assert.Equal(t, 1, tr.SuccessStreak)

	for i := 0; i < 3; i++ {
		tr.Update(false)
	}

	assert.Equal(t, 0.8, tr.Length)
	assert.Equal(t, 1, tr.Shrinks)
	assert.Equal(t, RegionExploring, tr.State())

	for i := 0; i < 3; i++ {
		tr.Update(false)
	}

	assert.Equal(t, 0.4, tr.Length)
	assert.Equal(t, RegionContracting, tr.State())
}

func TestTrustRegion_CollapseRestart(t *testing.T) {
	tr := NewTrustRegion(testRegionConfig(), 2)

	// 0.8 -> 0.4 -> 0.2 -> 0.1 -> collapse.
	for i := 0; i < 3; i++ {
		assert.False(t, tr.Shrink())
	}

	assert.Equal(t, 0.1, tr.Length)

	assert.True(t, tr.Shrink())
	assert.Equal(t, 0.8, tr.Length)
	assert.Equal(t, 1, tr.Restarts)
	assert.Equal(t, RegionExploring, tr.State())
}

func TestTrustRegion_CollapseTerminate(t *testing.T) {
	cfg := testRegionConfig()
	cfg.CollapsePolicy = CollapseTerminate

	tr := NewTrustRegion(cfg, 2)

	collapsed := false
	for i := 0; i < 4; i++ {
		collapsed = tr.Shrink()
	}

	assert.True(t, collapsed)
	assert.Equal(t, RegionTerminated, tr.State())
	assert.Equal(t, cfg.MinLength, tr.Length)

	// Terminal: further updates are ignored.
	assert.False(t, tr.Update(true))
	assert.False(t, tr.Shrink())
	assert.Equal(t, cfg.MinLength, tr.Length)
}

// The length stays within [MinLength, MaxLength] for any sequence of
// outcomes.
func TestTrustRegion_LengthBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	for _, policy := range []CollapsePolicy{CollapseRestart, CollapseTerminate} {
		cfg := testRegionConfig()
		cfg.CollapsePolicy = policy
		cfg.SuccessStreak = 1 + rng.Intn(3)
		cfg.FailureStreak = 1 + rng.Intn(3)

		tr := NewTrustRegion(cfg, 3)

		for i := 0; i < 500; i++ {
			switch rng.Intn(3) {
			case 0:
				tr.Update(true)
			case 1:
				tr.Update(false)
			default:
				tr.Shrink()
			}

			require.GreaterOrEqual(t, tr.Length, cfg.MinLength)
			require.LessOrEqual(t, tr.Length, cfg.MaxLength)
		}
	}
}

func TestTrustRegion_Bounds(t *testing.T) {
	tr := NewTrustRegion(testRegionConfig(), 2)
	tr.Recenter(4, []float64{1, -1})
	tr.SetScale([][]float64{{0, 0}, {2, 0}})

	lb, ub := tr.Bounds()

	// Column 0 has std sqrt(2); column 1 is constant and falls back to 1.
	assert.InDeltaSlice(t, []float64{1 - 0.4*1.4142135623730951, -1.4}, lb, 1e-9)
	assert.InDeltaSlice(t, []float64{1 + 0.4*1.4142135623730951, -0.6}, ub, 1e-9)

	snap := tr.Snapshot()
	assert.Equal(t, 4, snap.CenterIndex)
	assert.Equal(t, 0.8, snap.Length)
}
