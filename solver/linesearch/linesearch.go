package linesearch

import (
	"math"

	"github.com/descentlab/descent/core"
)

// machEps is the distance between 1.0 and the next larger float64.
var machEps = math.Nextafter(1, 2) - 1

// State is the iterate state a line search runs on. Parameter vectors and
// gradients share the type P; no Hessian or Jacobian is tracked.
type State[P any] = *core.IterState[P, P, struct{}, struct{}]

// Objective is the problem surface a line search evaluates: cost along the
// search ray and, for the curvature conditions, the gradient.
type Objective[P any] interface {
	core.CostFunction[P]
	core.Gradient[P, P]
}

// LineSearch is implemented by solvers that minimize along a ray. Callers
// such as descent methods set the ray before handing the line search to an
// Executor; the initial iterate supplies the ray origin.
type LineSearch[P any] interface {
	// SetSearchDirection sets the direction of the ray to search along.
	SetSearchDirection(dir P)

	// SetInitialStepLength sets the step length the search starts from.
	// Implementations may reject values that violate their assumptions.
	SetInitialStepLength(alpha float64) error
}

// Solver is a line search that a descent method can drive through a nested
// Executor run: it searches along a configurable ray and implements the
// full solver contract on the line search state.
type Solver[O Objective[P], P any] interface {
	LineSearch[P]
	core.Solver[O, State[P]]
}
