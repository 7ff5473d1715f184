// Package store persists optimization runs on the filesystem. A run owns a
// directory holding its metadata, the engine checkpoint and a cost trace;
// the CLI and the job server share this layout, so a run started by one can
// be inspected or resumed by the other.
package store

// Store persists run metadata. Implementations must be safe for concurrent
// use.
//
// Error conventions:
//   - nil on success
//   - NotFoundError if the run does not exist (Load/Delete)
//   - wrapped errors with context for I/O and serialization failures
type Store interface {
	// SaveMeta atomically writes the metadata of a run, replacing any
	// previous version.
	SaveMeta(meta *RunMeta) error

	// LoadMeta reads the metadata of a run. Returns a NotFoundError if
	// the run does not exist.
	LoadMeta(runID string) (*RunMeta, error)

	// List returns the metadata of all stored runs. Corrupt entries are
	// skipped.
	List() ([]RunMeta, error)

	// Delete removes a run and all its artifacts: metadata, checkpoint
	// and trace. Returns a NotFoundError if the run does not exist.
	Delete(runID string) error
}

// ErrNotFound is a sentinel for errors.Is checks against missing runs.
var ErrNotFound = &NotFoundError{}

// NotFoundError reports a run that is not in the store.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "run not found: " + e.RunID
	}
	return "run not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
