// Package file persists executor checkpoints as JSON documents on disk.
// A checkpoint is a single file holding the solver and the state, written
// atomically via a temporary file and rename so a crash mid-save never
// leaves a truncated checkpoint behind.
package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/descentlab/descent/core"
)

// Checkpoint implements core.Checkpoint backed by a JSON file. SO is the
// solver type and ST the state type; both must be JSON round-trippable and
// pointer shaped (or interfaces holding pointers) so Load can decode into
// them in place.
type Checkpoint[SO, ST any] struct {
	dir  string
	name string
	freq core.CheckpointingFrequency
}

// document is the on-disk layout. Solver and state are kept as raw
// messages so Load can decode them into live values one at a time.
type document struct {
	Solver json.RawMessage `json:"solver"`
	State  json.RawMessage `json:"state"`
}

// New creates a checkpointing backend writing <dir>/<name>.json at the
// given frequency. The directory is created on the first save.
func New[SO, ST any](dir, name string, freq core.CheckpointingFrequency) *Checkpoint[SO, ST] {
	return &Checkpoint[SO, ST]{dir: dir, name: name, freq: freq}
}

// Path returns the location of the checkpoint file.
func (c *Checkpoint[SO, ST]) Path() string {
	return filepath.Join(c.dir, c.name+".json")
}

// Frequency returns how often the Executor should save.
func (c *Checkpoint[SO, ST]) Frequency() core.CheckpointingFrequency {
	return c.freq
}

// Save writes solver and state, replacing any previous checkpoint.
func (c *Checkpoint[SO, ST]) Save(solver SO, state ST) error {
	solverData, err := json.Marshal(solver)
	if err != nil {
		return fmt.Errorf("encoding solver: %w", err)
	}
	stateData, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	data, err := json.MarshalIndent(document{Solver: solverData, State: stateData}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}

	path := c.Path()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing checkpoint: %w", err)
	}
	return nil
}

// Load restores the checkpoint into solver and state. It returns false and
// leaves both untouched when no checkpoint file exists.
func (c *Checkpoint[SO, ST]) Load(solver SO, state ST) (bool, error) {
	data, err := os.ReadFile(c.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading checkpoint: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("decoding checkpoint: %w", err)
	}
	// solver and state are pointer shaped, so decoding goes through them
	// directly rather than through their addresses, which would only
	// reassign the local copies.
	if err := json.Unmarshal(doc.Solver, solver); err != nil {
		return false, fmt.Errorf("decoding solver: %w", err)
	}
	if err := json.Unmarshal(doc.State, state); err != nil {
		return false, fmt.Errorf("decoding state: %w", err)
	}
	return true, nil
}
