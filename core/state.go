package core

import "time"

// State is implemented by the state types threaded through an optimization
// run: IterState for gradient style methods, PopulationState for
// population based methods and LinearProgramState for linear programs.
//
// The type parameter S is the implementing type itself, for example
// *IterState[P, G, H, J]. Builder style methods return S so call sites can
// chain them, and the Executor can hold the concrete state without losing
// its type.
//
// Parameter vectors handed to a state are treated as immutable from then
// on. Rotation into previous and best slots shares them instead of copying,
// so solvers must allocate fresh vectors rather than mutate stored ones.
type State[S any] interface {
	// New returns a state with defaulted fields: infinite costs, a target
	// cost of negative infinity, zero iteration counters and no iteration
	// limit. It must be callable on the zero value of S, which for the
	// pointer state types is nil.
	New() S

	// Update promotes the current iterate to best iterate if its cost
	// improves on the best cost. Two infinite costs of the same sign count
	// as an improvement, so methods that never evaluate cost still record
	// a best parameter vector.
	Update()

	// FuncCounts copies evaluation counts gathered by a Problem into the
	// state, overwriting existing entries per key.
	FuncCounts(counts map[string]uint64)

	// SetTime records the elapsed wall clock time since the run started.
	SetTime(elapsed *time.Duration) S

	// Time returns the recorded elapsed time, or nil if timing is off.
	Time() *time.Duration

	// TerminateWith marks the state terminated for the given reason.
	TerminateWith(reason TerminationReason) S

	// TerminationStatus returns the current termination status.
	TerminationStatus() TerminationStatus

	// Terminated reports whether a termination reason has been set.
	Terminated() bool

	// IncrementIter advances the iteration counter by one.
	IncrementIter()

	// Iter returns the current iteration number.
	Iter() uint64

	// LastBestIter returns the iteration in which the best iterate so far
	// was found.
	LastBestIter() uint64

	// MaxIters returns the iteration limit.
	MaxIters() uint64

	// Cost returns the cost of the current iterate.
	Cost() float64

	// BestCost returns the cost of the best iterate found so far.
	BestCost() float64

	// TargetCost returns the cost at or below which the run stops.
	TargetCost() float64

	// Counts returns the evaluation counts recorded by FuncCounts, keyed
	// by count name such as "cost_count".
	Counts() map[string]uint64

	// IsBest reports whether the most recent Update promoted the current
	// iterate, that is whether the best iterate stems from this iteration.
	IsBest() bool
}
