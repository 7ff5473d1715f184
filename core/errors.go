package core

import "errors"

// Sentinel errors returned by core operations and solvers. They are usually
// wrapped with additional context, so callers should match them with
// errors.Is rather than direct comparison.
var (
	// ErrInvalidParameter indicates that a configuration value or argument
	// is outside its valid range, for example a negative step length.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotInitialized indicates that a solver was run without a required
	// piece of initial state, such as an initial parameter vector.
	ErrNotInitialized = errors.New("not initialized")

	// ErrConditionViolated indicates that a mathematical precondition of a
	// solver does not hold, for instance a search direction that is not a
	// descent direction.
	ErrConditionViolated = errors.New("condition violated")

	// ErrPotentialBug indicates an internal inconsistency, such as
	// evaluating a problem whose objective has been taken out. Hitting it
	// almost always means a solver or the driver misbehaved.
	ErrPotentialBug = errors.New("potential bug")

	// ErrNotImplemented indicates that an objective does not provide the
	// capability a solver asked for.
	ErrNotImplemented = errors.New("not implemented")
)
