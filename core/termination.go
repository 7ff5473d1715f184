package core

// TerminationReason names why an optimization run stopped. The zero value
// is "not terminated".
type TerminationReason string

// Reasons set by the Executor and by solvers.
const (
	// MaxItersReached is set by the Executor once the iteration count
	// reaches the configured maximum.
	MaxItersReached TerminationReason = "MaxItersReached"

	// TargetCostReached is set by the Executor once the best cost drops to
	// or below the configured target cost.
	TargetCostReached TerminationReason = "TargetCostReached"

	// TargetPrecisionReached is set by solvers that track a tolerance on
	// the parameter vector, such as interval based methods.
	TargetPrecisionReached TerminationReason = "TargetPrecisionReached"

	// SolverConverged is set by a solver that reached its own convergence
	// criterion.
	SolverConverged TerminationReason = "SolverConverged"

	// Aborted is set when a run is abandoned for a non-error reason that
	// is neither convergence nor interruption.
	Aborted TerminationReason = "Aborted"

	// Interrupt is set when the run's context is cancelled, typically by
	// Ctrl-C.
	Interrupt TerminationReason = "Interrupt"

	// Timeout is set by the Executor when the configured wall clock budget
	// is exhausted.
	Timeout TerminationReason = "Timeout"
)

// SolverExit builds a solver-specific termination reason carrying an
// explanation, for cases the fixed reasons above do not cover.
func SolverExit(explanation string) TerminationReason {
	return TerminationReason("SolverExit: " + explanation)
}

// String returns a human readable description of the reason.
func (r TerminationReason) String() string {
	switch r {
	case "":
		return "Not terminated"
	case MaxItersReached:
		return "Maximum number of iterations reached"
	case TargetCostReached:
		return "Target cost value reached"
	case TargetPrecisionReached:
		return "Target precision reached"
	case SolverConverged:
		return "Solver converged"
	case Aborted:
		return "Optimization aborted"
	case Interrupt:
		return "Optimization interrupted"
	case Timeout:
		return "Timeout reached"
	}
	return string(r)
}

// TerminationStatus reports whether a run has terminated and why. The zero
// value means the run is still in progress.
type TerminationStatus struct {
	Reason TerminationReason `json:"reason,omitempty"`
}

// Terminated reports whether a termination reason has been set.
func (s TerminationStatus) Terminated() bool {
	return s.Reason != ""
}

// String returns the human readable form of the status.
func (s TerminationStatus) String() string {
	return s.Reason.String()
}
