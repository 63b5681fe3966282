package latentbo

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/sourcegraph/conc/pool"
)

//////
// Const, vars, types.
//////

// SamplingMode selects how the candidate pool is drawn inside the trust
// region.
type SamplingMode string

const (
	// SamplingPerturb replaces a random subset of the center's coordinates
	// with uniform draws inside the region, at least one per candidate.
	SamplingPerturb SamplingMode = "perturb"

	// SamplingUniform draws every coordinate uniformly inside the region.
	SamplingUniform SamplingMode = "uniform"
)

// perturbDims is the expected number of coordinates perturbed per pool
// candidate in SamplingPerturb mode.
const perturbDims = 20.0

// AcquisitionOptimizer turns surrogate predictions into a batch of latent
// proposals inside the trust region.
type AcquisitionOptimizer struct {
	kind        AcquisitionKind
	fn          AcquisitionFunc
	params      AcquisitionParams
	constraints []ConstraintSpec

	numCandidates int
	sampling      SamplingMode
	minDistance   float64
	penalty       float64
	workers       int

	rng *rand.Rand
}

// scoredPoint is a pool candidate with its combined acquisition score and
// squared distance to the region center.
type scoredPoint struct {
	latent []float64
	score  float64
	dist   float64
}

//////
// Methods.
//////

// Propose returns up to n latents maximizing the feasibility-weighted
// acquisition. best is the incumbent objective used by EI and PI; when it is
// not finite the lowest predicted mean of the pool stands in for it.
//
// accept, when non-nil, is asked about every point that passes the
// diversity filter, in rank order, and may turn it down (for example because
// it decodes to a sequence that is already known). Rejected points do not
// count towards n.
//
// How it works:
// 1. Draws NumCandidates points inside the trust region
// 2. Predicts every target at every point, in parallel
// 3. Scores each point by acquisition combined with the probability of
// feasibility (multiplied for EI/PI, log-penalized otherwise)
// 4. Sorts by score, breaking ties towards the center
// 5. Walks the whole ranking, keeping points at least MinProposalDistance
// apart that accept admits, until n are kept
// 6. While fewer than n are kept, draws a fresh pool from a box twice as
// wide, up to the maximum region length
//
// The trust region itself is never modified. Fewer than n latents are
// returned when every pool is exhausted.
func (a *AcquisitionOptimizer) Propose(ctx context.Context, bank *SurrogateBank, tr *TrustRegion, best float64, n int, accept func(latent []float64) bool) ([][]float64, error) {
	if n <= 0 {
		return nil, nil
	}

	selected := make([][]float64, 0, n)

	for _, length := range poolLengths(tr) {
		points, err := a.rank(ctx, bank, tr, best, length)
		if err != nil {
			return selected, err
		}

		selected = a.selectDiverse(points, n, selected, accept)
		if len(selected) == n {
			break
		}
	}

	return selected, nil
}

// rank draws a pool from the box of the given edge length around the
// center and sorts it by combined score.
func (a *AcquisitionOptimizer) rank(ctx context.Context, bank *SurrogateBank, tr *TrustRegion, best, length float64) ([]scoredPoint, error) {
	candidates := a.samplePool(tr, length)

	preds, err := a.predict(ctx, bank, candidates)
	if err != nil {
		return nil, err
	}

	params := a.params
	params.BestSoFar = best
	params.RandomState = a.rng

	if !finite(best) {
		params.BestSoFar = math.Inf(1)
		for _, p := range preds {
			params.BestSoFar = math.Min(params.BestSoFar, p.Mean[0])
		}
	}

	points := make([]scoredPoint, 0, len(candidates))
	for i, x := range candidates {
		score := a.combine(a.fn(preds[i].Mean[0], preds[i].Variance[0], params), FeasibilityProbability(preds[i], a.constraints))
		if !finite(score) {
			continue
		}

		points = append(points, scoredPoint{latent: x, score: score, dist: squaredDistance(x, tr.Center)})
	}

	sort.SliceStable(points, func(i, j int) bool {
		if points[i].score != points[j].score {
			return points[i].score > points[j].score
		}

		return points[i].dist < points[j].dist
	})

	return points, nil
}

// combine merges an acquisition value with a feasibility probability.
func (a *AcquisitionOptimizer) combine(acq, feasibility float64) float64 {
	if len(a.constraints) == 0 {
		return acq
	}

	if a.kind.NonNegative() {
		return acq * feasibility
	}

	return acq + a.penalty*math.Log(math.Max(feasibility, 1e-12))
}

// selectDiverse extends selected with ranked points until it holds n.
func (a *AcquisitionOptimizer) selectDiverse(points []scoredPoint, n int, selected [][]float64, accept func([]float64) bool) [][]float64 {
	minD2 := a.minDistance * a.minDistance

	for _, p := range points {
		if len(selected) == n {
			break
		}

		ok := true
		for _, s := range selected {
			if d2 := squaredDistance(p.latent, s); d2 == 0 || d2 < minD2 {
				ok = false

				break
			}
		}

		if ok && (accept == nil || accept(p.latent)) {
			selected = append(selected, p.latent)
		}
	}

	return selected
}

// samplePool draws the candidate pool from the box of the given edge length
// around the trust region center.
func (a *AcquisitionOptimizer) samplePool(tr *TrustRegion, length float64) [][]float64 {
	lb, ub := tr.boundsAt(length)
	dim := len(tr.Center)
	prob := math.Min(1, perturbDims/float64(dim))

	out := make([][]float64, a.numCandidates)
	for i := range out {
		x := append([]float64(nil), tr.Center...)

		switch a.sampling {
		case SamplingUniform:
			for j := range x {
				x[j] = lb[j] + (ub[j]-lb[j])*a.rng.Float64()
			}
		default:
			perturbed := false

			for j := range x {
				if a.rng.Float64() < prob {
					x[j] = lb[j] + (ub[j]-lb[j])*a.rng.Float64()
					perturbed = true
				}
			}

			if !perturbed {
				j := a.rng.Intn(dim)
				x[j] = lb[j] + (ub[j]-lb[j])*a.rng.Float64()
			}
		}

		out[i] = x
	}

	return out
}

// predict evaluates the bank on every candidate, fanning chunks out to the
// worker pool. Results are index-aligned with candidates.
func (a *AcquisitionOptimizer) predict(ctx context.Context, bank *SurrogateBank, candidates [][]float64) ([]Prediction, error) {
	preds := make([]Prediction, len(candidates))
	chunk := (len(candidates) + a.workers - 1) / a.workers

	p := pool.New().WithMaxGoroutines(a.workers).WithContext(ctx)

	for start := 0; start < len(candidates); start += chunk {
		start, end := start, min(start+chunk, len(candidates))

		p.Go(func(ctx context.Context) error {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}

				preds[i] = bank.Predict(candidates[i])
			}

			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}

	return preds, nil
}

//////
// Helpers.
//////

// poolLengths lists the box edge lengths tried by Propose: the region's own
// length, then doubling up to the maximum length.
func poolLengths(tr *TrustRegion) []float64 {
	lengths := []float64{tr.Length}

	for l := tr.Length; l > 0 && l < tr.cfg.MaxLength; {
		l = math.Min(2*l, tr.cfg.MaxLength)
		lengths = append(lengths, l)
	}

	return lengths
}

//////
// Factory.
//////

// NewAcquisitionOptimizer builds the optimizer from a validated config. rng
// must not be shared with other goroutines.
func NewAcquisitionOptimizer(cfg Config, constraints []ConstraintSpec, rng *rand.Rand) (*AcquisitionOptimizer, error) {
	fn, err := cfg.Acquisition.Func()
	if err != nil {
		return nil, err
	}

	return &AcquisitionOptimizer{
		kind:          cfg.Acquisition,
		fn:            fn,
		params:        AcquisitionParams{Beta: cfg.Beta, Xi: cfg.Xi},
		constraints:   constraints,
		numCandidates: cfg.NumCandidates,
		sampling:      cfg.Sampling,
		minDistance:   cfg.MinProposalDistance,
		penalty:       cfg.FeasibilityPenalty,
		workers:       max(cfg.Workers, 1),
		rng:           rng,
	}, nil
}
