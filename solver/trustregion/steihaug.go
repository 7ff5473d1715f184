package trustregion

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/descentlab/descent/core"
	"github.com/descentlab/descent/linalg"
)

// Steihaug approximately minimizes the quadratic model of the objective
// within the trust region using conjugate gradients. The iteration stops
// early when it encounters a direction of non-positive curvature or when
// the next iterate would leave the region, stepping to the boundary in
// both cases.
//
// J. Nocedal and S. J. Wright, "Numerical Optimization", second edition,
// Springer, 2006.
type Steihaug[O, P, M any] struct {
	ops linalg.MatrixOps[P, M]

	radius   float64
	epsilon  float64
	p        *P
	r        *P
	d        *P
	rtr      float64
	r0norm   float64
	maxIters uint64
}

// NewSteihaug creates a Steihaug subproblem solver using ops for vector
// and matrix arithmetic, with a relative residual tolerance of 10^-9 and
// no iteration limit of its own. The radius is unset until the caller
// provides one through SetRadius.
func NewSteihaug[O, P, M any](ops linalg.MatrixOps[P, M]) *Steihaug[O, P, M] {
	return &Steihaug[O, P, M]{
		ops:      ops,
		radius:   math.NaN(),
		epsilon:  10e-10,
		rtr:      math.NaN(),
		r0norm:   math.NaN(),
		maxIters: math.MaxUint64,
	}
}

// WithEpsilon sets the tolerance below which the residual norm, relative
// to the initial residual norm, counts as converged. Must be positive.
func (s *Steihaug[O, P, M]) WithEpsilon(epsilon float64) (*Steihaug[O, P, M], error) {
	if epsilon <= 0 {
		return nil, fmt.Errorf("%w: Steihaug: epsilon must be > 0", core.ErrInvalidParameter)
	}
	s.epsilon = epsilon
	return s, nil
}

// WithMaxIters limits the number of conjugate gradient iterations.
func (s *Steihaug[O, P, M]) WithMaxIters(iters uint64) *Steihaug[O, P, M] {
	s.maxIters = iters
	return s
}

// SetRadius sets the trust-region radius for the next run.
func (s *Steihaug[O, P, M]) SetRadius(radius float64) {
	s.radius = radius
}

// Name identifies the solver in observer output and checkpoints.
func (s *Steihaug[O, P, M]) Name() string { return "Steihaug" }

// Init reads the gradient from the state as the initial residual and
// prepares the conjugate gradient iteration, starting from the zero step.
// Gradient and Hessian must have been configured; the objective itself is
// never evaluated.
func (s *Steihaug[O, P, M]) Init(ctx context.Context, problem *core.Problem[O], state State[P, M]) (core.KV, error) {
	grad := state.Gradient()
	if grad == nil {
		return nil, fmt.Errorf("%w: Steihaug: initial gradient not set", core.ErrNotInitialized)
	}
	if state.Hessian() == nil {
		return nil, fmt.Errorf("%w: Steihaug: initial Hessian not set", core.ErrNotInitialized)
	}

	r := s.ops.CopyOf(*grad)
	s.r0norm = s.ops.Norm(r)
	s.rtr = s.ops.Dot(r, r)
	d := s.ops.Scale(r, -1)
	p := s.ops.ZeroLike(r)

	s.r = &r
	s.d = &d
	s.p = &p

	state.SetParam(s.ops.CopyOf(p))
	return nil, nil
}

// NextIter performs one conjugate gradient step on the quadratic model.
// The boundary cases terminate the run from within the iteration; the
// interior case writes the advanced step and the squared residual norm
// into the state.
func (s *Steihaug[O, P, M]) NextIter(ctx context.Context, problem *core.Problem[O], state State[P, M]) (core.KV, error) {
	grad := state.TakeGradient()
	if grad == nil {
		return nil, fmt.Errorf("%w: Steihaug: gradient in state not set", core.ErrPotentialBug)
	}
	hessian := state.TakeHessian()
	if hessian == nil {
		return nil, fmt.Errorf("%w: Steihaug: Hessian in state not set", core.ErrPotentialBug)
	}

	d := *s.d
	p := *s.p
	dhd := s.ops.Dot(d, s.ops.MatVec(*hessian, d))

	// The search direction has zero or negative curvature, so the model
	// is unbounded along it within the region. Step to the boundary
	// point with the lowest model value.
	if dhd <= 0 {
		tau := s.tau(func(float64) bool { return true }, true, *grad, *hessian)
		state.SetParam(s.ops.ScaledAdd(p, tau, d)).TerminateWith(core.SolverConverged)
		return nil, nil
	}

	alpha := s.rtr / dhd
	pn := s.ops.ScaledAdd(p, alpha, d)

	// The unconstrained step leaves the trust region.
	if s.ops.Norm(pn) >= s.radius {
		tau := s.tau(func(x float64) bool { return x >= 0 }, false, *grad, *hessian)
		state.SetParam(s.ops.ScaledAdd(p, tau, d)).TerminateWith(core.SolverConverged)
		return nil, nil
	}

	rn := s.ops.ScaledAdd(*s.r, alpha, s.ops.MatVec(*hessian, d))
	if s.ops.Norm(rn) < s.epsilon*s.r0norm {
		state.SetParam(pn).TerminateWith(core.SolverConverged)
		return nil, nil
	}

	rntrn := s.ops.Dot(rn, rn)
	beta := rntrn / s.rtr
	dn := s.ops.ScaledAdd(s.ops.Scale(rn, -1), beta, d)
	pc := s.ops.CopyOf(pn)

	s.d = &dn
	s.r = &rn
	s.p = &pc
	s.rtr = rntrn

	state.SetParam(pn).SetCost(s.rtr).SetGradient(*grad).SetHessian(*hessian)
	return nil, nil
}

// Terminate reports convergence when the initial residual was already
// below the tolerance and stops once the iteration limit is reached.
func (s *Steihaug[O, P, M]) Terminate(state State[P, M]) core.TerminationStatus {
	if s.r0norm < s.epsilon {
		return core.TerminationStatus{Reason: core.SolverConverged}
	}
	if state.Iter() >= s.maxIters {
		return core.TerminationStatus{Reason: core.MaxItersReached}
	}
	return core.TerminationStatus{}
}

// model evaluates the quadratic model g^T p + 0.5 p^T H p. The constant
// cost term is left out; comparisons between candidate steps do not need
// it.
func (s *Steihaug[O, P, M]) model(p, g P, h M) float64 {
	return s.ops.Dot(g, p) + 0.5*s.ops.Dot(p, s.ops.MatVec(h, p))
}

// tau determines the step length along the current direction whose
// endpoint lies on the trust-region boundary, solving the quadratic
// equation for the intersection. Candidates failing accept are dropped.
// With eval set, the candidate with the lowest model value wins, otherwise
// the largest candidate.
func (s *Steihaug[O, P, M]) tau(accept func(float64) bool, eval bool, g P, h M) float64 {
	p := *s.p
	d := *s.d
	a := s.ops.Dot(p, p)
	b := s.ops.Dot(d, d)
	c := s.ops.Dot(p, d)
	delta := s.radius * s.radius
	t1 := math.Sqrt(-a*b + b*delta + c*c)
	tau1 := -(t1 + c) / b
	tau2 := (t1 - c) / b
	taus := []float64{tau1, tau2}
	if math.IsNaN(tau1) || math.IsNaN(tau2) || math.IsInf(tau1, 0) || math.IsInf(tau2, 0) {
		// The quadratic degenerated, typically because d is zero. Fall
		// back to the linear solution.
		taus = append(taus, (delta-a)/(2*c))
	}

	type candidate struct {
		idx   int
		score float64
	}
	var ranked []candidate
	for i, tau := range taus {
		if !accept(tau) {
			continue
		}
		score := tau
		if eval {
			score = s.model(s.ops.ScaledAdd(p, tau, d), g, h)
		}
		ranked = append(ranked, candidate{idx: i, score: score})
	}
	if eval {
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score < ranked[j].score })
	} else {
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	}
	return taus[ranked[0].idx]
}

// steihaugJSON mirrors Steihaug for serialization. Scalars that may hold
// NaN before the first run use Float.
type steihaugJSON[P any] struct {
	Radius   core.Float `json:"radius"`
	Epsilon  float64    `json:"epsilon"`
	P        *P         `json:"p,omitempty"`
	R        *P         `json:"r,omitempty"`
	D        *P         `json:"d,omitempty"`
	RTR      core.Float `json:"rtr"`
	R0Norm   core.Float `json:"r0_norm"`
	MaxIters uint64     `json:"max_iters"`
}

// MarshalJSON implements json.Marshaler for checkpointing.
func (s *Steihaug[O, P, M]) MarshalJSON() ([]byte, error) {
	return json.Marshal(steihaugJSON[P]{
		Radius:   core.Float(s.radius),
		Epsilon:  s.epsilon,
		P:        s.p,
		R:        s.r,
		D:        s.d,
		RTR:      core.Float(s.rtr),
		R0Norm:   core.Float(s.r0norm),
		MaxIters: s.maxIters,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The vector arithmetic is not
// reconstructed from JSON, so the receiver must have been built with
// NewSteihaug.
func (s *Steihaug[O, P, M]) UnmarshalJSON(data []byte) error {
	var aux steihaugJSON[P]
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.radius = float64(aux.Radius)
	s.epsilon = aux.Epsilon
	s.p = aux.P
	s.r = aux.R
	s.d = aux.D
	s.rtr = float64(aux.RTR)
	s.r0norm = float64(aux.R0Norm)
	s.maxIters = aux.MaxIters
	return nil
}
