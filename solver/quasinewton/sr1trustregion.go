package quasinewton

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/descentlab/descent/core"
	"github.com/descentlab/descent/linalg"
	"github.com/descentlab/descent/solver/trustregion"
)

// SR1TrustRegion combines the symmetric rank-1 update of the Hessian
// approximation with a trust-region globalization. Each iteration solves
// the constrained quadratic model through the configured subproblem
// solver in a nested Executor, accepts or rejects the step based on the
// ratio of actual to predicted reduction, and adjusts the radius by the
// standard three-way rule.
//
// J. Nocedal and S. J. Wright, "Numerical Optimization", second edition,
// Springer, 2006.
type SR1TrustRegion[O trustregion.Objective[P, M], P, M any] struct {
	ops        linalg.MatrixOps[P, M]
	subproblem trustregion.Subproblem[O, P, M]
	r          float64
	radius     float64
	eta        float64
	tolGrad    float64
}

// NewSR1TrustRegion creates an SR1 trust-region solver around the given
// subproblem solver, with a denominator safeguard of 1e-8, an initial
// radius of 1, an acceptance threshold of 0.5e-3 and a gradient tolerance
// of 1e-3.
func NewSR1TrustRegion[O trustregion.Objective[P, M], P, M any](ops linalg.MatrixOps[P, M], subproblem trustregion.Subproblem[O, P, M]) *SR1TrustRegion[O, P, M] {
	return &SR1TrustRegion[O, P, M]{
		ops:        ops,
		subproblem: subproblem,
		r:          1e-8,
		radius:     1.0,
		eta:        0.5e-3,
		tolGrad:    1e-3,
	}
}

// WithR sets the safeguard factor against a vanishing denominator in the
// SR1 update. Must lie in (0, 1).
func (s *SR1TrustRegion[O, P, M]) WithR(r float64) (*SR1TrustRegion[O, P, M], error) {
	if r <= 0 || r >= 1 {
		return nil, fmt.Errorf("%w: SR1 trust region: r must be in (0, 1)", core.ErrInvalidParameter)
	}
	s.r = r
	return s, nil
}

// WithRadius sets the initial trust-region radius to the absolute value
// of radius.
func (s *SR1TrustRegion[O, P, M]) WithRadius(radius float64) *SR1TrustRegion[O, P, M] {
	s.radius = math.Abs(radius)
	return s
}

// WithEta sets the reduction ratio above which a step is accepted. Must
// lie in (0, 0.01).
func (s *SR1TrustRegion[O, P, M]) WithEta(eta float64) (*SR1TrustRegion[O, P, M], error) {
	if eta <= 0 || eta >= 0.01 {
		return nil, fmt.Errorf("%w: SR1 trust region: eta must be in (0, 0.01)", core.ErrInvalidParameter)
	}
	s.eta = eta
	return s, nil
}

// WithTolGrad sets the gradient norm below which the run stops.
func (s *SR1TrustRegion[O, P, M]) WithTolGrad(tolGrad float64) *SR1TrustRegion[O, P, M] {
	s.tolGrad = tolGrad
	return s
}

// Name identifies the solver in observer output and checkpoints.
func (s *SR1TrustRegion[O, P, M]) Name() string { return "SR1 Trust Region" }

// Init evaluates cost and gradient of the initial parameter vector. The
// initial Hessian approximation comes from the configured state or, when
// absent, from the objective.
func (s *SR1TrustRegion[O, P, M]) Init(ctx context.Context, problem *core.Problem[O], state State[P, M]) (core.KV, error) {
	param := state.TakeParam()
	if param == nil {
		return nil, fmt.Errorf("%w: SR1 trust region: initial parameter vector not set", core.ErrNotInitialized)
	}
	cost, err := core.EvalCost(problem, *param)
	if err != nil {
		return nil, err
	}
	grad, err := core.EvalGradient[O, P, P](problem, *param)
	if err != nil {
		return nil, err
	}
	hessian := state.TakeHessian()
	if hessian == nil {
		h, err := core.EvalHessian[O, P, M](problem, *param)
		if err != nil {
			return nil, err
		}
		hessian = &h
	}

	state.SetParam(*param).SetCost(cost).SetGradient(grad).SetHessian(*hessian)
	return nil, nil
}

// NextIter solves the trust-region subproblem for a candidate step,
// decides acceptance on the actual-to-predicted reduction ratio, adjusts
// the radius and updates the Hessian approximation. The update is skipped
// when its denominator is small relative to the step and residual norms.
func (s *SR1TrustRegion[O, P, M]) NextIter(ctx context.Context, problem *core.Problem[O], state State[P, M]) (core.KV, error) {
	xk := state.TakeParam()
	if xk == nil {
		return nil, fmt.Errorf("%w: SR1 trust region: parameter vector in state not set", core.ErrPotentialBug)
	}
	cost := state.Cost()
	prevGrad := state.TakeGradient()
	if prevGrad == nil {
		g, err := core.EvalGradient[O, P, P](problem, *xk)
		if err != nil {
			return nil, err
		}
		prevGrad = &g
	}
	hessian := state.TakeHessian()
	if hessian == nil {
		return nil, fmt.Errorf("%w: SR1 trust region: Hessian in state not set", core.ErrPotentialBug)
	}

	s.subproblem.SetRadius(s.radius)

	objective := problem.TakeProblem()
	if objective == nil {
		return nil, fmt.Errorf("%w: SR1 trust region: objective has been taken out of the problem", core.ErrPotentialBug)
	}
	res, err := core.NewExecutor[O, trustregion.State[P, M]](*objective, s.subproblem).
		Configure(func(sub trustregion.State[P, M]) trustregion.State[P, M] {
			return sub.SetParam(s.ops.ZeroLike(*xk)).
				SetHessian(s.ops.CopyMat(*hessian)).
				SetGradient(s.ops.CopyOf(*prevGrad)).
				SetCost(cost)
		}).
		Run(ctx)
	if err != nil {
		return nil, err
	}
	problem.ConsumeProblem(res.Problem)

	sk := res.State.TakeParam()
	if sk == nil {
		return nil, fmt.Errorf("%w: SR1 trust region: subproblem produced no step", core.ErrPotentialBug)
	}

	xksk := s.ops.Add(*xk, *sk)
	dfk1, err := core.EvalGradient[O, P, P](problem, xksk)
	if err != nil {
		return nil, err
	}
	yk := s.ops.Sub(dfk1, *prevGrad)
	fk1, err := core.EvalCost(problem, xksk)
	if err != nil {
		return nil, err
	}

	ared := cost - fk1
	pred := -s.ops.Dot(*prevGrad, *sk) - 0.5*s.ops.Dot(*sk, s.ops.MatVec(*hessian, *sk))
	ap := ared / pred

	nextParam, nextCost, nextGrad := *xk, cost, *prevGrad
	if ap > s.eta {
		nextParam, nextCost, nextGrad = xksk, fk1, dfk1
	}

	switch {
	case ap > 0.75:
		if s.ops.Norm(*sk) > 0.8*s.radius {
			s.radius = 2 * s.radius
		}
	case ap >= 0.1:
		// The model predicted the reduction well enough; keep the radius.
	default:
		s.radius = 0.5 * s.radius
	}

	bksk := s.ops.MatVec(*hessian, *sk)
	ykbksk := s.ops.Sub(yk, bksk)
	skykbksk := s.ops.Dot(*sk, ykbksk)

	// Strict inequality: when the secant residual vanishes the
	// approximation already satisfies the secant equation and there is
	// nothing to correct.
	hessianUpdate := math.Abs(skykbksk) > s.r*s.ops.Norm(*sk)*s.ops.Norm(ykbksk)
	nextHessian := *hessian
	if hessianUpdate {
		nextHessian = s.ops.AddMat(*hessian, s.ops.ScaleMat(s.ops.Outer(ykbksk, ykbksk), 1/skykbksk))
	}

	state.SetParam(nextParam).SetCost(nextCost).SetGradient(nextGrad).SetHessian(nextHessian)
	return core.KV{
		slog.Float64("ared", ared),
		slog.Float64("pred", pred),
		slog.Float64("ap", ap),
		slog.Float64("radius", s.radius),
		slog.Bool("hessian_update", hessianUpdate),
	}, nil
}

// Terminate stops once the gradient norm falls below the tolerance.
func (s *SR1TrustRegion[O, P, M]) Terminate(state State[P, M]) core.TerminationStatus {
	grad := state.Gradient()
	if grad == nil {
		return core.TerminationStatus{}
	}
	if s.ops.Norm(*grad) < s.tolGrad {
		return core.TerminationStatus{Reason: core.TargetPrecisionReached}
	}
	return core.TerminationStatus{}
}

// sr1TrustRegionJSON mirrors SR1TrustRegion for serialization. The
// subproblem serializes into a raw message decoded by the concrete
// subproblem type.
type sr1TrustRegionJSON struct {
	R          float64         `json:"r"`
	Radius     float64         `json:"radius"`
	Eta        float64         `json:"eta"`
	TolGrad    float64         `json:"tol_grad"`
	Subproblem json.RawMessage `json:"subproblem"`
}

// MarshalJSON implements json.Marshaler for checkpointing.
func (s *SR1TrustRegion[O, P, M]) MarshalJSON() ([]byte, error) {
	sub, err := json.Marshal(s.subproblem)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sr1TrustRegionJSON{
		R:          s.r,
		Radius:     s.radius,
		Eta:        s.eta,
		TolGrad:    s.tolGrad,
		Subproblem: sub,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The subproblem solver and
// the matrix arithmetic are not reconstructed from JSON, so the receiver
// must have been built with NewSR1TrustRegion around the same subproblem
// type.
func (s *SR1TrustRegion[O, P, M]) UnmarshalJSON(data []byte) error {
	var aux sr1TrustRegionJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.r = aux.R
	s.radius = aux.Radius
	s.eta = aux.Eta
	s.tolGrad = aux.TolGrad
	if len(aux.Subproblem) == 0 {
		return nil
	}
	if s.subproblem == nil {
		return fmt.Errorf("%w: SR1 trust region: subproblem not set", core.ErrNotInitialized)
	}
	return json.Unmarshal(aux.Subproblem, s.subproblem)
}
