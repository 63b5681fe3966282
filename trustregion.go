package latentbo

import "math"

//////
// Const, vars, types.
//////

// CollapsePolicy decides what happens when the trust region shrinks below
// its minimum length.
type CollapsePolicy string

const (
	// CollapseRestart re-centers on the global best and resets the length.
	CollapseRestart CollapsePolicy = "restart"

	// CollapseTerminate ends the run with StatusCollapsed.
	CollapseTerminate CollapsePolicy = "terminate"
)

// RegionState is the conceptual state of the trust region.
type RegionState string

const (
	// RegionExploring means the length is at or above its initial value.
	RegionExploring RegionState = "exploring"

	// RegionContracting means the length shrank after failures.
	RegionContracting RegionState = "contracting"

	// RegionTerminated means the region collapsed under the terminate
	// policy.
	RegionTerminated RegionState = "terminated"
)

// TrustRegion is a hyper-rectangle centered on the incumbent. Its edge
// length is expressed in standardized latent units; Scale converts it to raw
// units per dimension.
//
// Invariant: MinLength <= Length <= MaxLength at all times.
type TrustRegion struct {
	cfg TrustRegionConfig

	// Center is the latent of the incumbent.
	Center []float64

	// CenterIndex is the dataset index of the incumbent, -1 before the first
	// pin.
	CenterIndex int

	// Length is the edge length.
	Length float64

	// Scale is the per-dimension spread of the training latents.
	Scale []float64

	SuccessStreak int
	FailureStreak int

	// Grows and Shrinks count length changes; Restarts counts collapses
	// handled by the restart policy.
	Grows    int
	Shrinks  int
	Restarts int

	terminated bool
}

// TrustRegionSnapshot is a read-only view used in results and checkpoints.
type TrustRegionSnapshot struct {
	CenterIndex   int         `json:"center_index" bson:"center_index"`
	Length        float64     `json:"length" bson:"length"`
	State         RegionState `json:"state" bson:"state"`
	SuccessStreak int         `json:"success_streak" bson:"success_streak"`
	FailureStreak int         `json:"failure_streak" bson:"failure_streak"`
	Restarts      int         `json:"restarts" bson:"restarts"`
}

//////
// Methods.
//////

// Update applies the success/failure rule for one evaluated batch and
// returns true when the region collapsed during this update.
func (tr *TrustRegion) Update(improved bool) (collapsed bool) {
	if tr.terminated {
		return false
	}

	if improved {
		tr.SuccessStreak++
		tr.FailureStreak = 0

		if tr.SuccessStreak >= tr.cfg.SuccessStreak {
			tr.Length = math.Min(2*tr.Length, tr.cfg.MaxLength)
			tr.SuccessStreak = 0
			tr.Grows++
		}

		return false
	}

	tr.FailureStreak++
	tr.SuccessStreak = 0

	if tr.FailureStreak >= tr.cfg.FailureStreak {
		tr.FailureStreak = 0

		return tr.halve()
	}

	return false
}

// Shrink halves the length unconditionally. Used when a batch produced no
// usable candidates.
func (tr *TrustRegion) Shrink() (collapsed bool) {
	if tr.terminated {
		return false
	}

	tr.SuccessStreak = 0
	tr.FailureStreak = 0

	return tr.halve()
}

// Recenter pins the region on the dataset entry idx.
func (tr *TrustRegion) Recenter(idx int, latent []float64) {
	tr.CenterIndex = idx
	tr.Center = append(tr.Center[:0], latent...)
}

// SetScale derives the per-dimension spread from the training latents.
func (tr *TrustRegion) SetScale(latents [][]float64) {
	if len(latents) == 0 {
		return
	}

	col := make([]float64, len(latents))
	for j := range tr.Scale {
		for i := range latents {
			col[i] = latents[i][j]
		}

		_, tr.Scale[j] = meanStd(col)
	}
}

// Bounds returns the lower and upper corners of the region.
func (tr *TrustRegion) Bounds() (lb, ub []float64) {
	return tr.boundsAt(tr.Length)
}

// boundsAt returns the corners of a box with edge length around the center.
func (tr *TrustRegion) boundsAt(length float64) (lb, ub []float64) {
	lb = make([]float64, len(tr.Center))
	ub = make([]float64, len(tr.Center))

	for j, c := range tr.Center {
		half := length / 2 * tr.Scale[j]
		lb[j] = c - half
		ub[j] = c + half
	}

	return lb, ub
}

// State returns the conceptual state.
func (tr *TrustRegion) State() RegionState {
	switch {
	case tr.terminated:
		return RegionTerminated
	case tr.Length >= tr.cfg.InitialLength:
		return RegionExploring
	default:
		return RegionContracting
	}
}

// Snapshot returns a read-only view of the region.
func (tr *TrustRegion) Snapshot() TrustRegionSnapshot {
	return TrustRegionSnapshot{
		CenterIndex:   tr.CenterIndex,
		Length:        tr.Length,
		State:         tr.State(),
		SuccessStreak: tr.SuccessStreak,
		FailureStreak: tr.FailureStreak,
		Restarts:      tr.Restarts,
	}
}

func (tr *TrustRegion) halve() bool {
	tr.Shrinks++

	next := tr.Length / 2
	if next >= tr.cfg.MinLength {
		tr.Length = next

		return false
	}

	if tr.cfg.CollapsePolicy == CollapseTerminate {
		tr.Length = tr.cfg.MinLength
		tr.terminated = true

		return true
	}

	tr.Length = tr.cfg.InitialLength
	tr.SuccessStreak = 0
	tr.FailureStreak = 0
	tr.Restarts++

	return true
}

//////
// Factory.
//////

// NewTrustRegion creates a region of dimension dim at the initial length.
// The center is pinned later by the orchestrator.
func NewTrustRegion(cfg TrustRegionConfig, dim int) *TrustRegion {
	scale := make([]float64, dim)
	for i := range scale {
		scale[i] = 1
	}

	return &TrustRegion{
		cfg:         cfg,
		Center:      make([]float64, dim),
		CenterIndex: -1,
		Length:      cfg.InitialLength,
		Scale:       scale,
	}
}
