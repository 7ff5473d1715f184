package core

import "fmt"

// Checkpoint is implemented by checkpointing backends. SO is the solver
// type and ST the state type, both typically pointer shaped so Load can
// decode into them in place.
type Checkpoint[SO, ST any] interface {
	// Save persists solver and state.
	Save(solver SO, state ST) error

	// Load restores the most recent checkpoint into the given solver and
	// state. It returns false and leaves both untouched when no
	// checkpoint exists.
	Load(solver SO, state ST) (bool, error)

	// Frequency indicates at which iterations Save should be called.
	Frequency() CheckpointingFrequency
}

// CheckpointingFrequency defines how often a checkpoint is saved: never
// (0), every iteration (1) or every n-th iteration (n).
type CheckpointingFrequency uint64

const (
	// CheckpointNever disables checkpoint saving.
	CheckpointNever CheckpointingFrequency = 0

	// CheckpointAlways saves a checkpoint in every iteration.
	CheckpointAlways CheckpointingFrequency = 1
)

// CheckpointEvery saves a checkpoint in every n-th iteration.
func CheckpointEvery(n uint64) CheckpointingFrequency {
	return CheckpointingFrequency(n)
}

// ShouldSave reports whether a checkpoint is due at the given iteration.
func (f CheckpointingFrequency) ShouldSave(iter uint64) bool {
	return f != 0 && iter%uint64(f) == 0
}

// String returns "Never", "Always" or "Every(n)".
func (f CheckpointingFrequency) String() string {
	switch f {
	case CheckpointNever:
		return "Never"
	case CheckpointAlways:
		return "Always"
	}
	return fmt.Sprintf("Every(%d)", uint64(f))
}
