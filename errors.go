package latentbo

import "errors"

// Error taxonomy. Match with errors.Is; every error returned by this package
// wraps one of these.
var (
	// ErrInvalidConfig is returned at construction for any configuration
	// problem: unknown keys, out-of-range values, mismatched constraint
	// lists, missing oracles.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidCandidate marks a decoded sequence that violates length or
	// alphabet limits. Dropped before any oracle call.
	ErrInvalidCandidate = errors.New("invalid candidate")

	// ErrDuplicateCandidate marks a sequence that was already scored.
	// Dropped before any oracle call.
	ErrDuplicateCandidate = errors.New("duplicate candidate")

	// ErrOracleFailure marks a failed or degenerate oracle call. The
	// candidate is kept unscored.
	ErrOracleFailure = errors.New("oracle failure")

	// ErrSurrogateFit marks a surrogate refit that was skipped or failed.
	// The previous model is kept.
	ErrSurrogateFit = errors.New("surrogate fit failure")

	// ErrInsufficientSeeds is returned when the seed table is not larger
	// than the surrogate minimum-fit threshold.
	ErrInsufficientSeeds = errors.New("insufficient seed data")

	// ErrNoViableCandidates is returned when batches keep coming back empty
	// past the retry bound.
	ErrNoViableCandidates = errors.New("no viable candidates")
)
