package trustregion

import (
	"github.com/descentlab/descent/core"
)

// State is the iterate state shared by trust-region methods and their
// subproblem solvers. Parameter vectors and gradients share the type P,
// Hessians have type M.
type State[P, M any] = *core.IterState[P, P, M, struct{}]

// Objective describes the problem capabilities a trust-region method
// requires: cost, gradient and Hessian evaluation.
type Objective[P, M any] interface {
	core.CostFunction[P]
	core.Gradient[P, P]
	core.Hessian[P, M]
}

// Radius is implemented by subproblem solvers whose trust-region radius
// the calling method adjusts between nested runs.
type Radius interface {
	// SetRadius sets the trust-region radius for the next run.
	SetRadius(radius float64)
}

// Subproblem is the contract between a trust-region method and the solver
// of its constrained quadratic model problem. The caller sets the radius,
// configures a nested run on the current gradient and Hessian, and reads
// the chosen step from the final parameter vector of that run.
type Subproblem[O Objective[P, M], P, M any] interface {
	Radius
	core.Solver[O, State[P, M]]
}
