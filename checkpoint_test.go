package latentbo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCheckpointer_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")

	d := NewDataset([]ConstraintSpec{{ID: "plddt", Threshold: 70, Direction: DirectionMin}})
	d.Append(Candidate{ID: "a", Sequence: "MKV", Latent: []float64{0.1, -0.2}, Objective: 1.5, Scored: true, Constraints: []float64{80}})
	d.Append(Candidate{ID: "b", Iteration: 1, Sequence: "MKW", Latent: []float64{0.3, 0.4}, Constraints: []float64{0}, Error: "oracle failure"})

	cp := Checkpoint{
		Version:     checkpointVersion,
		RunID:       "run-1",
		Iteration:   1,
		OracleCalls: 1,
		TrustRegion: TrustRegionSnapshot{CenterIndex: 0, Length: 0.4, State: RegionContracting, FailureStreak: 2},
		Dataset:     d.Snapshot(),
		Timestamp:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, FileCheckpointer{Path: path}.Save(context.Background(), cp))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file must be renamed away")

	loaded, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, cp, *loaded)

	assert.True(t, RestoreDataset(loaded.Dataset).At(0).Feasible)
}

func TestLoadCheckpoint_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadCheckpoint(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))

	_, err = LoadCheckpoint(bad)
	assert.Error(t, err)

	future := filepath.Join(dir, "future.json")
	require.NoError(t, os.WriteFile(future, []byte(`{"version": 99}`), 0o600))

	_, err = LoadCheckpoint(future)
	assert.ErrorContains(t, err, "version")
}
