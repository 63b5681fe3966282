package latentbo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// checkpointVersion is bumped on structural changes of Checkpoint.
const checkpointVersion = 1

// Checkpoint is the persisted state of a run after an iteration.
type Checkpoint struct {
	Version     int                 `json:"version"`
	RunID       string              `json:"run_id"`
	Iteration   int                 `json:"iteration"`
	OracleCalls int                 `json:"oracle_calls"`
	TrustRegion TrustRegionSnapshot `json:"trust_region"`
	Dataset     DatasetSnapshot     `json:"dataset"`
	Timestamp   time.Time           `json:"timestamp"`
}

// Checkpointer persists checkpoints. Save is called synchronously after
// every iteration; a failing Save is logged and does not stop the run.
type Checkpointer interface {
	Save(ctx context.Context, cp Checkpoint) error
}

// FileCheckpointer writes checkpoints as indented JSON to Path. Writes go to
// a temporary file first and are renamed into place, so readers never see a
// partial file.
type FileCheckpointer struct {
	Path string
}

// Save implements Checkpointer.
func (f FileCheckpointer) Save(_ context.Context, cp Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}

	return os.Rename(tmp, f.Path)
}

// LoadCheckpoint reads a checkpoint written by FileCheckpointer.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parsing checkpoint: %w", err)
	}

	if cp.Version != checkpointVersion {
		return nil, fmt.Errorf("checkpoint version mismatch: got %d, want %d", cp.Version, checkpointVersion)
	}

	return &cp, nil
}

// validateCheckpoint checks that cp can be resumed under cfg and the
// declared constraints.
func validateCheckpoint(cp *Checkpoint, cfg Config, constraints []ConstraintSpec) error {
	if cp.Iteration < 0 || cp.OracleCalls < 0 {
		return fmt.Errorf("%w: checkpoint has negative counters", ErrInvalidConfig)
	}

	if len(cp.Dataset.Constraints) != len(constraints) {
		return fmt.Errorf("%w: checkpoint has %d constraints, config declares %d", ErrInvalidConfig, len(cp.Dataset.Constraints), len(constraints))
	}

	for i, c := range cp.Dataset.Constraints {
		if c.ID != constraints[i].ID {
			return fmt.Errorf("%w: checkpoint constraint %d is %q, config declares %q", ErrInvalidConfig, i, c.ID, constraints[i].ID)
		}
	}

	for i, c := range cp.Dataset.Candidates {
		if len(c.Latent) != cfg.Dim {
			return fmt.Errorf("%w: checkpoint candidate %d has latent dimension %d, want %d", ErrInvalidConfig, i, len(c.Latent), cfg.Dim)
		}

		if len(c.Constraints) != len(constraints) {
			return fmt.Errorf("%w: checkpoint candidate %d has %d constraint values, want %d", ErrInvalidConfig, i, len(c.Constraints), len(constraints))
		}
	}

	return nil
}
