package quasinewton

import (
	"math"

	"github.com/descentlab/descent/core"
)

var machEps = math.Nextafter(1, 2) - 1

// State is the iterate state the quasi-Newton solvers operate on.
// Parameter vectors and gradients share the type P; the Hessian
// approximation, inverse or direct, has type M.
type State[P, M any] = *core.IterState[P, P, M, struct{}]
