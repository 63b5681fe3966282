package latentbo

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, EI, cfg.Acquisition)
	assert.Equal(t, CollapseRestart, cfg.TrustRegion.CollapsePolicy)
	assert.Equal(t, 3, cfg.TrustRegion.SuccessStreak)
	assert.Equal(t, 3, cfg.TrustRegion.FailureStreak)
	assert.True(t, cfg.Deduplicate)
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfig(t, "run.yaml", `
dim: 64
max_string_length: 32
budget: 200
acquisition: ucb
beta: 1.5
constraint_ids: [plddt, charge]
constraint_thresholds: [70, 5]
constraint_types: [min, max]
trust_region:
  collapse_policy: terminate
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.Dim)
	assert.Equal(t, 200, cfg.Budget)
	assert.Equal(t, UCB, cfg.Acquisition)
	assert.Equal(t, 1.5, cfg.Beta)
	assert.Equal(t, CollapseTerminate, cfg.TrustRegion.CollapsePolicy)

	// Unset keys keep their defaults.
	assert.Equal(t, DefaultConfig().BatchSize, cfg.BatchSize)
	assert.Equal(t, DefaultConfig().TrustRegion.InitialLength, cfg.TrustRegion.InitialLength)

	specs, err := cfg.Constraints()
	require.NoError(t, err)
	assert.Equal(t, []ConstraintSpec{
		{ID: "plddt", Threshold: 70, Direction: DirectionMin},
		{ID: "charge", Threshold: 5, Direction: DirectionMax},
	}, specs)
}

func TestLoadConfig_TOML(t *testing.T) {
	path := writeConfig(t, "run.toml", `
dim = 64
budget = 50
target_objective = 0.95

[trust_region]
failure_streak = 5
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.Dim)
	assert.Equal(t, 50, cfg.Budget)
	require.NotNil(t, cfg.TargetObjective)
	assert.Equal(t, 0.95, *cfg.TargetObjective)
	assert.Equal(t, 5, cfg.TrustRegion.FailureStreak)
}

func TestLoadConfig_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "empty.yaml", ""))
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_Rejects(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "unknown yaml key", file: "a.yaml", body: "dim: 8\nbudgett: 10\n"},
		{name: "unknown nested yaml key", file: "b.yaml", body: "trust_region:\n  radius: 1\n"},
		{name: "unknown toml key", file: "c.toml", body: "dim = 8\nbudgett = 10\n"},
		{name: "mismatched constraint lists", file: "d.yaml", body: "constraint_ids: [a, b]\nconstraint_thresholds: [1]\nconstraint_types: [min, min]\n"},
		{name: "duplicate constraint ids", file: "e.yaml", body: "constraint_ids: [a, a]\nconstraint_thresholds: [1, 2]\nconstraint_types: [min, min]\n"},
		{name: "bad constraint type", file: "f.yaml", body: "constraint_ids: [a]\nconstraint_thresholds: [1]\nconstraint_types: [above]\n"},
		{name: "unknown acquisition", file: "g.yaml", body: "acquisition: random\n"},
		{name: "zero budget", file: "h.yaml", body: "budget: 0\n"},
		{name: "pool smaller than batch", file: "i.yaml", body: "batch_size: 20\nnum_candidates: 10\n"},
		{name: "initial length above max", file: "j.yaml", body: "trust_region:\n  initial_length: 2\n"},
		{name: "malformed yaml", file: "k.yaml", body: "dim: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.file, tt.body))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_ValidateNonFinite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Xi = math.NaN()
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.TargetObjective = ptr(math.Inf(1))
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestConfig_YAMLRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConstraintIDs = []string{"plddt"}
	cfg.ConstraintThresholds = []float64{70}
	cfg.ConstraintTypes = []string{"min"}

	data, err := cfg.YAML()
	require.NoError(t, err)

	loaded, err := LoadConfig(writeConfig(t, "defaults.yaml", string(data)))
	require.NoError(t, err)

	assert.Equal(t, cfg, loaded)
}
