package trustregion

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/descentlab/descent/core"
	"github.com/descentlab/descent/linalg"
)

// CauchyPoint computes the minimizer of the quadratic model of the
// objective along the steepest descent direction, restricted to the trust
// region. It is the cheapest admissible subproblem solver: a single
// iteration yields the step.
//
// J. Nocedal and S. J. Wright, "Numerical Optimization", second edition,
// Springer, 2006.
type CauchyPoint[O Objective[P, M], P, M any] struct {
	ops    linalg.MatrixOps[P, M]
	radius float64
}

// NewCauchyPoint creates a Cauchy point subproblem solver using ops for
// vector and matrix arithmetic. The radius is unset until the caller
// provides one through SetRadius.
func NewCauchyPoint[O Objective[P, M], P, M any](ops linalg.MatrixOps[P, M]) *CauchyPoint[O, P, M] {
	return &CauchyPoint[O, P, M]{ops: ops, radius: math.NaN()}
}

// SetRadius sets the trust-region radius for the next run.
func (c *CauchyPoint[O, P, M]) SetRadius(radius float64) {
	c.radius = radius
}

// Name identifies the solver in observer output and checkpoints.
func (c *CauchyPoint[O, P, M]) Name() string { return "Cauchy Point" }

// Init is a no-op; the step is computed in the single iteration.
func (c *CauchyPoint[O, P, M]) Init(ctx context.Context, problem *core.Problem[O], state State[P, M]) (core.KV, error) {
	return nil, nil
}

// NextIter computes the Cauchy step from the gradient and Hessian in the
// state, evaluating whichever of the two is missing at the current
// parameter vector. The step replaces the parameter vector of the state.
func (c *CauchyPoint[O, P, M]) NextIter(ctx context.Context, problem *core.Problem[O], state State[P, M]) (core.KV, error) {
	param := state.Param()

	grad := state.Gradient()
	if grad == nil {
		if param == nil {
			return nil, fmt.Errorf("%w: Cauchy point: neither gradient nor parameter vector set", core.ErrNotInitialized)
		}
		g, err := core.EvalGradient[O, P, P](problem, *param)
		if err != nil {
			return nil, err
		}
		grad = &g
	}
	gradNorm := c.ops.Norm(*grad)

	hessian := state.Hessian()
	if hessian == nil {
		if param == nil {
			return nil, fmt.Errorf("%w: Cauchy point: neither Hessian nor parameter vector set", core.ErrNotInitialized)
		}
		h, err := core.EvalHessian[O, P, M](problem, *param)
		if err != nil {
			return nil, err
		}
		hessian = &h
	}

	// Full step to the boundary along -grad unless the model curvature
	// along the gradient cuts the minimizer short of it.
	wdp := c.ops.Dot(*grad, c.ops.MatVec(*hessian, *grad))
	tau := 1.0
	if wdp > 0 {
		tau = math.Min(1, gradNorm*gradNorm*gradNorm/(c.radius*wdp))
	}

	state.SetParam(c.ops.Scale(*grad, -tau*c.radius/gradNorm))
	return nil, nil
}

// Terminate stops after the first iteration.
func (c *CauchyPoint[O, P, M]) Terminate(state State[P, M]) core.TerminationStatus {
	if state.Iter() >= 1 {
		return core.TerminationStatus{Reason: core.MaxItersReached}
	}
	return core.TerminationStatus{}
}

type cauchyPointJSON struct {
	Radius core.Float `json:"radius"`
}

// MarshalJSON implements json.Marshaler for checkpointing.
func (c *CauchyPoint[O, P, M]) MarshalJSON() ([]byte, error) {
	return json.Marshal(cauchyPointJSON{Radius: core.Float(c.radius)})
}

// UnmarshalJSON implements json.Unmarshaler. The vector arithmetic is not
// reconstructed from JSON, so the receiver must have been built with
// NewCauchyPoint.
func (c *CauchyPoint[O, P, M]) UnmarshalJSON(data []byte) error {
	var aux cauchyPointJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.radius = float64(aux.Radius)
	return nil
}
