package core

import "context"

// Solver is implemented by optimization algorithms driven by an Executor.
// O is the user objective type and S the state type the solver works on.
// Solvers express the capabilities they need from O as generic bounds on
// their own type, so handing an objective without a gradient to a solver
// that needs one fails at compile time.
type Solver[O any, S State[S]] interface {
	// Name identifies the solver in logs, observations and results.
	Name() string

	// Init prepares solver and state before the first iteration, for
	// example by evaluating cost and gradient of the initial parameter
	// vector. The returned KV describes the solver configuration and is
	// handed to observers. Init is skipped when a run resumes from a
	// checkpoint.
	Init(ctx context.Context, problem *Problem[O], state S) (KV, error)

	// NextIter advances the optimization by one iteration, mutating the
	// state through its setters. The returned KV carries per-iteration
	// metrics for observers.
	NextIter(ctx context.Context, problem *Problem[O], state S) (KV, error)

	// Terminate implements solver specific stopping criteria. The
	// Executor calls it before every iteration and layers the iteration
	// limit and target cost checks on top. Solvers without own criteria
	// return the zero status.
	Terminate(state S) TerminationStatus
}

// terminateInternal evaluates the stopping criteria in their order of
// precedence: the solver's own criteria, then the iteration limit, then
// the target cost compared against the best cost so far.
func terminateInternal[O any, S State[S]](solver Solver[O, S], state S) TerminationStatus {
	if status := solver.Terminate(state); status.Terminated() {
		return status
	}
	if state.Iter() >= state.MaxIters() {
		return TerminationStatus{Reason: MaxItersReached}
	}
	if state.BestCost() <= state.TargetCost() {
		return TerminationStatus{Reason: TargetCostReached}
	}
	return TerminationStatus{}
}
