package quasinewton

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/descentlab/descent/core"
	"github.com/descentlab/descent/linalg"
	"github.com/descentlab/descent/solver/linesearch"
)

// BFGS is the Broyden-Fletcher-Goldfarb-Shanno quasi-Newton method. It
// maintains an approximation of the inverse Hessian, rebuilt each
// iteration from the parameter and gradient differences, and obtains the
// step length along the quasi-Newton direction from a line search run in
// a nested Executor.
//
// J. Nocedal and S. J. Wright, "Numerical Optimization", second edition,
// Springer, 2006.
type BFGS[O linesearch.Objective[P], P, M any] struct {
	ops            linalg.MatrixOps[P, M]
	initInvHessian *M
	linesearch     linesearch.Solver[O, P]
	tolGrad        float64
	tolCost        float64
}

// NewBFGS creates a BFGS solver that starts from the given inverse Hessian
// approximation, typically the identity, and delegates the step length
// choice to ls. The gradient tolerance defaults to the square root of
// machine epsilon and the cost tolerance to machine epsilon.
func NewBFGS[O linesearch.Objective[P], P, M any](ops linalg.MatrixOps[P, M], initInvHessian M, ls linesearch.Solver[O, P]) *BFGS[O, P, M] {
	return &BFGS[O, P, M]{
		ops:            ops,
		initInvHessian: &initInvHessian,
		linesearch:     ls,
		tolGrad:        math.Sqrt(machEps),
		tolCost:        machEps,
	}
}

// WithTolGrad sets the gradient norm below which the run stops.
func (s *BFGS[O, P, M]) WithTolGrad(tolGrad float64) *BFGS[O, P, M] {
	s.tolGrad = tolGrad
	return s
}

// WithTolCost sets the cost change between consecutive iterations below
// which the run stops.
func (s *BFGS[O, P, M]) WithTolCost(tolCost float64) *BFGS[O, P, M] {
	s.tolCost = tolCost
	return s
}

// Name identifies the solver in observer output and checkpoints.
func (s *BFGS[O, P, M]) Name() string { return "BFGS" }

// Init evaluates cost and gradient of the initial parameter vector and
// moves the configured inverse Hessian approximation into the state.
func (s *BFGS[O, P, M]) Init(ctx context.Context, problem *core.Problem[O], state State[P, M]) (core.KV, error) {
	param := state.TakeParam()
	if param == nil {
		return nil, fmt.Errorf("%w: BFGS: initial parameter vector not set", core.ErrNotInitialized)
	}
	cost, err := core.EvalCost(problem, *param)
	if err != nil {
		return nil, err
	}
	grad, err := core.EvalGradient[O, P, P](problem, *param)
	if err != nil {
		return nil, err
	}
	if s.initInvHessian == nil {
		return nil, fmt.Errorf("%w: BFGS: initial inverse Hessian already consumed", core.ErrPotentialBug)
	}
	invHessian := *s.initInvHessian
	s.initInvHessian = nil

	state.SetParam(*param).SetCost(cost).SetGradient(grad).SetInvHessian(invHessian)
	return nil, nil
}

// NextIter runs the line search along the quasi-Newton direction and
// applies the BFGS update to the inverse Hessian approximation. The
// objective moves into the nested run and back, folding the inner
// evaluation counts into problem.
func (s *BFGS[O, P, M]) NextIter(ctx context.Context, problem *core.Problem[O], state State[P, M]) (core.KV, error) {
	param := state.TakeParam()
	if param == nil {
		return nil, fmt.Errorf("%w: BFGS: parameter vector in state not set", core.ErrPotentialBug)
	}
	cost := state.Cost()
	prevGrad := state.TakeGradient()
	if prevGrad == nil {
		return nil, fmt.Errorf("%w: BFGS: gradient in state not set", core.ErrPotentialBug)
	}
	invHessian := state.InvHessian()
	if invHessian == nil {
		return nil, fmt.Errorf("%w: BFGS: inverse Hessian in state not set", core.ErrPotentialBug)
	}

	s.linesearch.SetSearchDirection(s.ops.Scale(s.ops.MatVec(*invHessian, *prevGrad), -1))

	objective := problem.TakeProblem()
	if objective == nil {
		return nil, fmt.Errorf("%w: BFGS: objective has been taken out of the problem", core.ErrPotentialBug)
	}
	res, err := core.NewExecutor[O, linesearch.State[P]](*objective, s.linesearch).
		Configure(func(ls linesearch.State[P]) linesearch.State[P] {
			return ls.SetParam(s.ops.CopyOf(*param)).SetGradient(s.ops.CopyOf(*prevGrad)).SetCost(cost)
		}).
		Run(ctx)
	if err != nil {
		return nil, err
	}
	problem.ConsumeProblem(res.Problem)

	xk1 := res.State.TakeParam()
	if xk1 == nil {
		return nil, fmt.Errorf("%w: BFGS: line search produced no parameter vector", core.ErrPotentialBug)
	}
	nextCost := res.State.Cost()

	grad, err := core.EvalGradient[O, P, P](problem, *xk1)
	if err != nil {
		return nil, err
	}
	yk := s.ops.Sub(grad, *prevGrad)
	sk := s.ops.Sub(*xk1, *param)
	rhok := 1 / s.ops.Dot(yk, sk)

	eye := s.ops.Eye(s.ops.Dim(sk))
	skyk := s.ops.ScaleMat(s.ops.Outer(sk, yk), rhok)
	left := s.ops.SubMat(eye, skyk)
	right := s.ops.SubMat(eye, s.ops.Transpose(skyk))
	sksk := s.ops.ScaleMat(s.ops.Outer(sk, sk), rhok)
	nextInvHessian := s.ops.AddMat(s.ops.MatMul(left, s.ops.MatMul(*invHessian, right)), sksk)

	state.SetParam(*xk1).SetCost(nextCost).SetGradient(grad).SetInvHessian(nextInvHessian)
	return nil, nil
}

// Terminate stops once the gradient norm or the cost change between
// consecutive iterations falls below its tolerance.
func (s *BFGS[O, P, M]) Terminate(state State[P, M]) core.TerminationStatus {
	grad := state.Gradient()
	if grad == nil {
		return core.TerminationStatus{}
	}
	if s.ops.Norm(*grad) < s.tolGrad {
		return core.TerminationStatus{Reason: core.TargetPrecisionReached}
	}
	if math.Abs(state.PrevCost()-state.Cost()) < s.tolCost {
		return core.TerminationStatus{Reason: core.SolverConverged}
	}
	return core.TerminationStatus{}
}

// bfgsJSON mirrors BFGS for serialization. The line search serializes
// into a raw message decoded by the concrete line search type.
type bfgsJSON[M any] struct {
	InitInvHessian *M              `json:"init_inv_hessian,omitempty"`
	TolGrad        float64         `json:"tol_grad"`
	TolCost        float64         `json:"tol_cost"`
	LineSearch     json.RawMessage `json:"linesearch"`
}

// MarshalJSON implements json.Marshaler for checkpointing.
func (s *BFGS[O, P, M]) MarshalJSON() ([]byte, error) {
	ls, err := json.Marshal(s.linesearch)
	if err != nil {
		return nil, err
	}
	return json.Marshal(bfgsJSON[M]{
		InitInvHessian: s.initInvHessian,
		TolGrad:        s.tolGrad,
		TolCost:        s.tolCost,
		LineSearch:     ls,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The line search and the
// matrix arithmetic are not reconstructed from JSON, so the receiver must
// have been built with NewBFGS around the same line search type.
func (s *BFGS[O, P, M]) UnmarshalJSON(data []byte) error {
	var aux bfgsJSON[M]
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.initInvHessian = aux.InitInvHessian
	s.tolGrad = aux.TolGrad
	s.tolCost = aux.TolCost
	if len(aux.LineSearch) == 0 {
		return nil
	}
	if s.linesearch == nil {
		return fmt.Errorf("%w: BFGS: line search not set", core.ErrNotInitialized)
	}
	return json.Unmarshal(aux.LineSearch, s.linesearch)
}
