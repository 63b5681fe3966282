package latentbo

import (
	"math"
	"sort"
	"sync"
)

//////
// Const, vars, types.
//////

// Target selects which surrogate a training set is built for.
type Target int

// TargetObjective selects the objective; constraint i is Target(i+1).
const TargetObjective Target = 0

// ConstraintTarget returns the Target of the i-th constraint.
func ConstraintTarget(i int) Target {
	return Target(i + 1)
}

// Dataset is the append-only record of every evaluated candidate, with
// index-aligned latents and objective scores kept for surrogate fitting.
//
// Thread safety:
// - The orchestrator is the only writer
// - Readers (checkpointing, progress reporting) may run concurrently
// - All fields are protected by an RWMutex
type Dataset struct {
	mu sync.RWMutex

	constraints []ConstraintSpec

	candidates []Candidate

	// latents[i] and scores[i] belong to candidates[i]. Unscored entries
	// hold NaN.
	latents [][]float64
	scores  []float64

	// seen indexes sequences for exact-match deduplication.
	seen map[string]int
}

// DatasetSnapshot is a deep, serializable copy of a Dataset.
type DatasetSnapshot struct {
	Constraints []ConstraintSpec `json:"constraints"`
	Candidates  []Candidate      `json:"candidates"`
}

//////
// Methods.
//////

// Append derives the candidate's feasibility, stores a copy and returns it.
// Candidates are never removed.
func (d *Dataset) Append(c Candidate) Candidate {
	c.Latent = append([]float64(nil), c.Latent...)
	c.Constraints = append([]float64(nil), c.Constraints...)
	c.Feasible = d.isFeasible(c)

	score := math.NaN()
	if c.Scored {
		score = c.Objective
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[c.Sequence]; !ok {
		d.seen[c.Sequence] = len(d.candidates)
	}

	d.candidates = append(d.candidates, c)
	d.latents = append(d.latents, c.Latent)
	d.scores = append(d.scores, score)

	return c
}

// Len returns the number of recorded candidates.
func (d *Dataset) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.candidates)
}

// At returns a copy of the i-th candidate.
func (d *Dataset) At(i int) Candidate {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return cloneCandidate(d.candidates[i])
}

// Contains reports whether sequence was already recorded.
func (d *Dataset) Contains(sequence string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.seen[sequence]

	return ok
}

// Constraints returns the declared constraint specs.
func (d *Dataset) Constraints() []ConstraintSpec {
	return append([]ConstraintSpec(nil), d.constraints...)
}

// Best returns the index of the best feasible scored candidate. When no
// candidate is feasible it falls back to the best scored candidate ignoring
// feasibility. ok is false when nothing is scored.
func (d *Dataset) Best() (idx int, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if idx, ok := d.bestLocked(true); ok {
		return idx, true
	}

	return d.bestLocked(false)
}

// BestFeasible returns the index of the best feasible scored candidate.
func (d *Dataset) BestFeasible() (idx int, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.bestLocked(true)
}

// CountFeasible returns the number of feasible candidates.
func (d *Dataset) CountFeasible() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, c := range d.candidates {
		if c.Feasible {
			n++
		}
	}

	return n
}

// TrainingSet returns copies of the latents and target values a surrogate is
// fitted on.
//
// The objective is trained on feasible scored candidates; while fewer than
// minFeasible exist it uses every scored candidate. Constraints are trained
// on every scored candidate, since the boundary can only be learned from
// both sides.
//
// A positive window keeps the window/2 best candidates by objective plus the
// most recent ones up to window points in total.
func (d *Dataset) TrainingSet(target Target, minFeasible, window int) (X [][]float64, y []float64) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	feasibleOnly := false
	if target == TargetObjective {
		n := 0
		for _, c := range d.candidates {
			if c.Feasible {
				n++
			}
		}

		feasibleOnly = n >= minFeasible
	}

	idx := make([]int, 0, len(d.candidates))
	for i, c := range d.candidates {
		if !c.Scored || (feasibleOnly && !c.Feasible) {
			continue
		}

		idx = append(idx, i)
	}

	if window > 0 && len(idx) > window {
		idx = d.windowLocked(idx, window)
	}

	X = make([][]float64, len(idx))
	y = make([]float64, len(idx))

	for k, i := range idx {
		X[k] = append([]float64(nil), d.latents[i]...)

		if target == TargetObjective {
			y[k] = d.scores[i]
		} else {
			y[k] = d.candidates[i].Constraints[int(target)-1]
		}
	}

	return X, y
}

// Latents returns copies of the scored latents, used to scale the trust
// region.
func (d *Dataset) Latents() [][]float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([][]float64, 0, len(d.latents))
	for i, l := range d.latents {
		if d.candidates[i].Scored {
			out = append(out, append([]float64(nil), l...))
		}
	}

	return out
}

// Snapshot returns a deep copy suitable for checkpointing. Safe to call
// while a run is in progress.
func (d *Dataset) Snapshot() DatasetSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := DatasetSnapshot{
		Constraints: append([]ConstraintSpec(nil), d.constraints...),
		Candidates:  make([]Candidate, len(d.candidates)),
	}

	for i, c := range d.candidates {
		s.Candidates[i] = cloneCandidate(c)
	}

	return s
}

func (d *Dataset) isFeasible(c Candidate) bool {
	if !c.Scored || len(c.Constraints) != len(d.constraints) {
		return false
	}

	for i, spec := range d.constraints {
		if !spec.Satisfied(c.Constraints[i]) {
			return false
		}
	}

	return true
}

func (d *Dataset) bestLocked(feasibleOnly bool) (int, bool) {
	best, found := -1, false

	for i, c := range d.candidates {
		if !c.Scored || (feasibleOnly && !c.Feasible) {
			continue
		}

		if !found || d.scores[i] > d.scores[best] {
			best, found = i, true
		}
	}

	return best, found
}

func (d *Dataset) windowLocked(idx []int, window int) []int {
	byScore := append([]int(nil), idx...)
	sort.SliceStable(byScore, func(a, b int) bool {
		return d.scores[byScore[a]] > d.scores[byScore[b]]
	})

	keep := make(map[int]bool, window)
	for _, i := range byScore[:window/2] {
		keep[i] = true
	}

	for k := len(idx) - 1; k >= 0 && len(keep) < window; k-- {
		keep[idx[k]] = true
	}

	out := make([]int, 0, window)
	for _, i := range idx {
		if keep[i] {
			out = append(out, i)
		}
	}

	return out
}

//////
// Factory.
//////

// NewDataset creates an empty dataset for the given constraints.
func NewDataset(constraints []ConstraintSpec) *Dataset {
	return &Dataset{
		constraints: append([]ConstraintSpec(nil), constraints...),
		seen:        make(map[string]int),
	}
}

// RestoreDataset rebuilds a dataset from a snapshot. Feasibility is derived
// again from the snapshot's constraints.
func RestoreDataset(s DatasetSnapshot) *Dataset {
	d := NewDataset(s.Constraints)
	for _, c := range s.Candidates {
		d.Append(c)
	}

	return d
}

func cloneCandidate(c Candidate) Candidate {
	c.Latent = append([]float64(nil), c.Latent...)
	c.Constraints = append([]float64(nil), c.Constraints...)

	return c
}
