package latentbo

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//////
// Const, vars, types.
//////

// validate checks struct tags on Config. Safe for concurrent use.
var validate = newValidator()

// TrustRegionConfig configures the trust region controller.
type TrustRegionConfig struct {
	// InitialLength is the edge length at start and after a restart, in
	// standardized latent units.
	InitialLength float64 `yaml:"initial_length" toml:"initial_length" validate:"finite,gt=0"`

	// MinLength is the collapse threshold.
	MinLength float64 `yaml:"min_length" toml:"min_length" validate:"finite,gt=0"`

	// MaxLength caps growth.
	MaxLength float64 `yaml:"max_length" toml:"max_length" validate:"finite,gt=0"`

	// SuccessTolerance is the relative improvement a batch must achieve over
	// the incumbent to count as a success.
	SuccessTolerance float64 `yaml:"success_tolerance" toml:"success_tolerance" validate:"finite,gte=0"`

	// SuccessStreak is the number of consecutive successes that doubles the
	// length.
	SuccessStreak int `yaml:"success_streak" toml:"success_streak" validate:"gte=1"`

	// FailureStreak is the number of consecutive failures that halves the
	// length.
	FailureStreak int `yaml:"failure_streak" toml:"failure_streak" validate:"gte=1"`

	// CollapsePolicy decides what happens when the length drops below
	// MinLength.
	CollapsePolicy CollapsePolicy `yaml:"collapse_policy" toml:"collapse_policy" validate:"oneof=restart terminate"`
}

// Config holds every recognized run option. Build it with DefaultConfig or
// LoadConfig, then adjust fields; New validates it.
//
// Usage example:
//
//	cfg := DefaultConfig()
//	cfg.Dim = 256
//	cfg.Budget = 500
//	cfg.ConstraintIDs = []string{"plddt"}
//	cfg.ConstraintThresholds = []float64{70}
//	cfg.ConstraintTypes = []string{"min"}
type Config struct {
	// Dim is the latent dimensionality D. Must match Codec.Dim.
	Dim int `yaml:"dim" toml:"dim" validate:"gt=0"`

	// MaxStringLength bounds decoded sequences. Must match Codec.MaxLength.
	MaxStringLength int `yaml:"max_string_length" toml:"max_string_length" validate:"gt=0"`

	// Budget is the maximum number of successful objective scorings.
	Budget int `yaml:"budget" toml:"budget" validate:"gt=0"`

	// BatchSize is the number of proposals per iteration.
	BatchSize int `yaml:"batch_size" toml:"batch_size" validate:"gt=0"`

	// NumCandidates is the size of the acquisition pool per iteration.
	NumCandidates int `yaml:"num_candidates" toml:"num_candidates" validate:"gtefield=BatchSize"`

	// MinFitPoints is the minimum number of points a surrogate is fitted on.
	MinFitPoints int `yaml:"min_fit_points" toml:"min_fit_points" validate:"gte=1"`

	// SurrogateWindow bounds the training set size; 0 uses every point.
	SurrogateWindow int `yaml:"surrogate_window" toml:"surrogate_window" validate:"gte=0"`

	// Acquisition selects the acquisition function.
	Acquisition AcquisitionKind `yaml:"acquisition" toml:"acquisition" validate:"oneof=ei ucb pi thompson"`

	// Xi is the minimum improvement demanded by EI and PI.
	Xi float64 `yaml:"xi" toml:"xi" validate:"finite,gte=0"`

	// Beta is the UCB exploration weight.
	Beta float64 `yaml:"beta" toml:"beta" validate:"finite,gte=0"`

	// FeasibilityPenalty weighs log feasibility probability for
	// acquisitions that can go negative.
	FeasibilityPenalty float64 `yaml:"feasibility_penalty" toml:"feasibility_penalty" validate:"finite,gte=0"`

	// Sampling selects how the candidate pool is drawn.
	Sampling SamplingMode `yaml:"sampling" toml:"sampling" validate:"oneof=perturb uniform"`

	// MinProposalDistance is the minimum pairwise latent distance within a
	// batch; 0 only rejects identical latents.
	MinProposalDistance float64 `yaml:"min_proposal_distance" toml:"min_proposal_distance" validate:"finite,gte=0"`

	// TrustRegion configures the trust region controller.
	TrustRegion TrustRegionConfig `yaml:"trust_region" toml:"trust_region"`

	// Deduplicate drops decoded sequences already present in the dataset or
	// earlier in the same batch.
	Deduplicate bool `yaml:"deduplicate" toml:"deduplicate"`

	// MaxEmptyBatches is the number of consecutive empty batches tolerated
	// before the run fails with ErrNoViableCandidates.
	MaxEmptyBatches int `yaml:"max_empty_batches" toml:"max_empty_batches" validate:"gte=1"`

	// TargetObjective stops the run once a feasible candidate reaches it.
	TargetObjective *float64 `yaml:"target_objective,omitempty" toml:"target_objective,omitempty" validate:"omitempty,finite"`

	// Workers bounds parallel oracle calls and pool predictions.
	Workers int `yaml:"workers" toml:"workers" validate:"gte=1"`

	// Seed is the master random seed; 0 picks a time-based seed.
	Seed int64 `yaml:"seed" toml:"seed"`

	// Device names the inference device handed to codecs and oracles.
	Device string `yaml:"device" toml:"device"`

	// ConstraintIDs, ConstraintThresholds and ConstraintTypes are parallel
	// lists; empty lists mean unconstrained.
	ConstraintIDs        []string  `yaml:"constraint_ids" toml:"constraint_ids" validate:"dive,required"`
	ConstraintThresholds []float64 `yaml:"constraint_thresholds" toml:"constraint_thresholds" validate:"dive,finite"`
	ConstraintTypes      []string  `yaml:"constraint_types" toml:"constraint_types" validate:"dive,oneof=min max"`
}

//////
// Exported functionalities.
//////

// DefaultConfig returns a configuration with literature-standard defaults
// (TuRBO trust-region lengths, streak thresholds of 3, EI acquisition).
func DefaultConfig() Config {
	return Config{
		Dim:                 1024,
		MaxStringLength:     150,
		Budget:              1000,
		BatchSize:           10,
		NumCandidates:       2000,
		MinFitPoints:        3,
		SurrogateWindow:     0,
		Acquisition:         EI,
		Xi:                  0.01,
		Beta:                2.0,
		FeasibilityPenalty:  1.0,
		Sampling:            SamplingPerturb,
		MinProposalDistance: 0,
		TrustRegion: TrustRegionConfig{
			InitialLength:    0.8,
			MinLength:        math.Pow(0.5, 7),
			MaxLength:        1.6,
			SuccessTolerance: 1e-3,
			SuccessStreak:    3,
			FailureStreak:    3,
			CollapsePolicy:   CollapseRestart,
		},
		Deduplicate:     true,
		MaxEmptyBatches: 5,
		Workers:         4,
		Device:          "cpu",
	}
}

// LoadConfig reads a YAML (.yaml, .yml) or TOML (.toml) file on top of
// DefaultConfig. Unknown keys are rejected. The result is validated.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("%w: parsing config: %v", ErrInvalidConfig, err)
		}

		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}

			return Config{}, fmt.Errorf("%w: unknown keys: %s", ErrInvalidConfig, strings.Join(keys, ", "))
		}
	default:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)

		// An empty file decodes to io.EOF; defaults stand.
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("%w: parsing config: %v", ErrInvalidConfig, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks field ranges and the cross-field rules. Every failure
// wraps ErrInvalidConfig.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	n := len(c.ConstraintIDs)
	if len(c.ConstraintThresholds) != n || len(c.ConstraintTypes) != n {
		return fmt.Errorf("%w: constraint lists must have equal length (ids=%d thresholds=%d types=%d)",
			ErrInvalidConfig, n, len(c.ConstraintThresholds), len(c.ConstraintTypes))
	}

	seen := make(map[string]bool, n)
	for _, id := range c.ConstraintIDs {
		if seen[id] {
			return fmt.Errorf("%w: duplicate constraint id %q", ErrInvalidConfig, id)
		}

		seen[id] = true
	}

	tr := c.TrustRegion
	if tr.MinLength > tr.InitialLength || tr.InitialLength > tr.MaxLength {
		return fmt.Errorf("%w: trust region lengths must satisfy min <= initial <= max, got %g, %g, %g",
			ErrInvalidConfig, tr.MinLength, tr.InitialLength, tr.MaxLength)
	}

	return nil
}

// Constraints builds the ConstraintSpecs from the parallel lists. Call it on
// a validated Config.
func (c Config) Constraints() ([]ConstraintSpec, error) {
	specs := make([]ConstraintSpec, len(c.ConstraintIDs))

	for i, id := range c.ConstraintIDs {
		dir, err := ParseDirection(c.ConstraintTypes[i])
		if err != nil {
			return nil, err
		}

		specs[i] = ConstraintSpec{ID: id, Threshold: c.ConstraintThresholds[i], Direction: dir}
	}

	return specs, nil
}

// YAML renders the configuration as YAML, e.g. to print defaults.
func (c Config) YAML() ([]byte, error) {
	var buf bytes.Buffer

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(c); err != nil {
		return nil, err
	}

	if err := enc.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

//////
// Helpers.
//////

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()

		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})

	return v
}
