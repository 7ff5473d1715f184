package store

import (
	"math"
	"strconv"
	"time"

	"github.com/descentlab/descent/core"
	"github.com/descentlab/descent/internal/opt"
)

// RunMeta is the stored description of an optimization run. It carries the
// full run configuration so a run can be resumed from its checkpoint alone,
// plus a progress summary updated whenever the run advances.
type RunMeta struct {
	// RunID uniquely identifies the run and names its directory.
	RunID string `json:"runId"`

	// Config is the configuration the run was started with. Resuming
	// replays it verbatim; see IsCompatible.
	Config opt.Config `json:"config"`

	// BestCost is the lowest cost seen so far. Infinity before the first
	// evaluation.
	BestCost core.Float `json:"bestCost"`

	// Iterations counts completed iterations.
	Iterations uint64 `json:"iterations"`

	// Termination is empty while the run is in progress or interrupted,
	// otherwise the reason it stopped.
	Termination core.TerminationReason `json:"termination,omitempty"`

	// CreatedAt is when the run was first started.
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is when this metadata was last written.
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewRunMeta builds the initial metadata for a fresh run.
func NewRunMeta(runID string, cfg opt.Config) *RunMeta {
	now := time.Now()
	return &RunMeta{
		RunID:     runID,
		Config:    cfg,
		BestCost:  core.Float(math.Inf(1)),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks that the metadata is complete enough to store.
func (m *RunMeta) Validate() error {
	if m.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if m.CreatedAt.IsZero() {
		return &ValidationError{Field: "CreatedAt", Reason: "cannot be zero"}
	}
	if err := m.Config.Validate(); err != nil {
		return &ValidationError{Field: "Config", Reason: err.Error()}
	}
	return nil
}

// ValidationError reports metadata that cannot be stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks whether a resume request matches the stored run. The
// checkpoint restores the engine state wholesale, so the parts of the
// configuration that shape that state must not change between runs.
func (m *RunMeta) IsCompatible(cfg opt.Config) error {
	if m.Config.Function != cfg.Function {
		return &CompatibilityError{Field: "Function", Expected: m.Config.Function, Actual: cfg.Function}
	}
	if m.Config.Solver != cfg.Solver {
		return &CompatibilityError{Field: "Solver", Expected: m.Config.Solver, Actual: cfg.Solver}
	}
	if len(m.Config.X0) != len(cfg.X0) {
		return &CompatibilityError{Field: "X0", Expected: dimension(m.Config.X0), Actual: dimension(cfg.X0)}
	}
	return nil
}

func dimension(v []float64) string {
	return "dimension " + strconv.Itoa(len(v))
}

// CompatibilityError reports a resume request that does not match the
// stored run.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
