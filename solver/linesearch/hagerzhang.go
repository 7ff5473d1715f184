package linesearch

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/descentlab/descent/core"
	"github.com/descentlab/descent/linalg"
)

// triplet is a point on the search ray together with the cost and the
// directional derivative there.
type triplet struct {
	x float64
	f float64
	g float64
}

// HagerZhang is the line search of Hager and Zhang. It maintains a bracket
// around a step satisfying the (approximate) Wolfe conditions and shrinks
// it with double secant steps, falling back to bisection when the bracket
// does not contract fast enough.
//
// W. W. Hager and H. Zhang, "A new conjugate gradient method with
// guaranteed descent and an efficient line search", SIAM J. Optim. 16(1),
// 2006.
type HagerZhang[O Objective[P], P any] struct {
	ops linalg.VectorOps[P]

	delta    float64
	sigma    float64
	epsilon  float64
	epsilonK float64
	theta    float64
	gamma    float64
	eta      float64

	aInit float64
	bInit float64
	cInit float64
	a     triplet
	b     triplet
	c     triplet
	best  triplet

	initParam       *P
	initGrad        *P
	searchDirection *P
	dginit          float64
	finit           float64
}

// NewHagerZhang creates a Hager-Zhang line search using ops for vector
// arithmetic, with delta = 0.1, sigma = 0.9, epsilon = 1e-6, theta = 0.5,
// gamma = 0.66 and eta = 0.01. The initial bracket spans machine epsilon to
// 100 with a first trial step of 1.
func NewHagerZhang[O Objective[P], P any](ops linalg.VectorOps[P]) *HagerZhang[O, P] {
	nan := math.NaN()
	return &HagerZhang[O, P]{
		ops:      ops,
		delta:    0.1,
		sigma:    0.9,
		epsilon:  1e-6,
		epsilonK: nan,
		theta:    0.5,
		gamma:    0.66,
		eta:      0.01,
		aInit:    machEps,
		bInit:    100.0,
		cInit:    1.0,
		a:        triplet{x: nan, f: nan, g: nan},
		b:        triplet{x: nan, f: nan, g: nan},
		c:        triplet{x: nan, f: nan, g: nan},
		best:     triplet{x: 0, f: math.Inf(1), g: nan},
		dginit:   nan,
		finit:    math.Inf(1),
	}
}

// WithDelta sets the sufficient decrease coefficient of the Wolfe
// conditions. delta must be in (0, 1) and not exceed sigma.
func (h *HagerZhang[O, P]) WithDelta(delta float64) (*HagerZhang[O, P], error) {
	if delta <= 0 || delta >= 1 {
		return nil, fmt.Errorf("%w: Hager-Zhang line search: delta must be in (0, 1)", core.ErrInvalidParameter)
	}
	h.delta = delta
	return h, nil
}

// WithSigma sets the curvature coefficient of the Wolfe conditions. sigma
// must be in [delta, 1).
func (h *HagerZhang[O, P]) WithSigma(sigma float64) (*HagerZhang[O, P], error) {
	if sigma < h.delta || sigma >= 1 {
		return nil, fmt.Errorf("%w: Hager-Zhang line search: sigma must be in [delta, 1)", core.ErrInvalidParameter)
	}
	h.sigma = sigma
	return h, nil
}

// WithEpsilon sets the cost tolerance of the approximate Wolfe termination.
// epsilon must be non-negative.
func (h *HagerZhang[O, P]) WithEpsilon(epsilon float64) (*HagerZhang[O, P], error) {
	if epsilon < 0 {
		return nil, fmt.Errorf("%w: Hager-Zhang line search: epsilon must be >= 0", core.ErrInvalidParameter)
	}
	h.epsilon = epsilon
	return h, nil
}

// WithTheta sets the split point used when the bracket update has to
// bisect. theta must be in (0, 1).
func (h *HagerZhang[O, P]) WithTheta(theta float64) (*HagerZhang[O, P], error) {
	if theta <= 0 || theta >= 1 {
		return nil, fmt.Errorf("%w: Hager-Zhang line search: theta must be in (0, 1)", core.ErrInvalidParameter)
	}
	h.theta = theta
	return h, nil
}

// WithGamma sets the bracket contraction factor below which a bisection
// step is inserted. gamma must be in (0, 1).
func (h *HagerZhang[O, P]) WithGamma(gamma float64) (*HagerZhang[O, P], error) {
	if gamma <= 0 || gamma >= 1 {
		return nil, fmt.Errorf("%w: Hager-Zhang line search: gamma must be in (0, 1)", core.ErrInvalidParameter)
	}
	h.gamma = gamma
	return h, nil
}

// WithEta sets the lower bound coefficient used by the conjugate gradient
// update the search was designed for. eta must be positive.
func (h *HagerZhang[O, P]) WithEta(eta float64) (*HagerZhang[O, P], error) {
	if eta <= 0 {
		return nil, fmt.Errorf("%w: Hager-Zhang line search: eta must be > 0", core.ErrInvalidParameter)
	}
	h.eta = eta
	return h, nil
}

// WithBounds sets the step lengths the initial bracket spans. alphaMin must
// be non-negative and smaller than alphaMax.
func (h *HagerZhang[O, P]) WithBounds(alphaMin, alphaMax float64) (*HagerZhang[O, P], error) {
	if alphaMin < 0 {
		return nil, fmt.Errorf("%w: Hager-Zhang line search: lower step length bound must be >= 0", core.ErrInvalidParameter)
	}
	if alphaMax <= alphaMin {
		return nil, fmt.Errorf("%w: Hager-Zhang line search: upper step length bound must be greater than the lower bound", core.ErrInvalidParameter)
	}
	h.aInit = alphaMin
	h.bInit = alphaMax
	return h, nil
}

// SetSearchDirection sets the direction of the ray to search along.
func (h *HagerZhang[O, P]) SetSearchDirection(dir P) {
	h.searchDirection = &dir
}

// SetInitialStepLength sets the first trial step length inside the initial
// bracket.
func (h *HagerZhang[O, P]) SetInitialStepLength(alpha float64) error {
	h.cInit = alpha
	return nil
}

// Name identifies the solver in observer output and checkpoints.
func (h *HagerZhang[O, P]) Name() string { return "Hager-Zhang Line search" }

// Init stores the ray origin, cost and gradient from the state, evaluates
// the initial bracket triplets and moves the state to the best of them.
func (h *HagerZhang[O, P]) Init(ctx context.Context, problem *core.Problem[O], state State[P]) (core.KV, error) {
	if h.sigma < h.delta {
		return nil, fmt.Errorf("%w: Hager-Zhang line search: sigma must be >= delta", core.ErrInvalidParameter)
	}
	if h.searchDirection == nil {
		return nil, fmt.Errorf("%w: Hager-Zhang line search: search direction not set", core.ErrNotInitialized)
	}
	param := state.Param()
	if param == nil {
		return nil, fmt.Errorf("%w: Hager-Zhang line search: initial parameter vector not set", core.ErrNotInitialized)
	}
	initParam := h.ops.CopyOf(*param)
	h.initParam = &initParam

	if cost := state.Cost(); math.IsInf(cost, 0) {
		c, err := core.EvalCost(problem, initParam)
		if err != nil {
			return nil, err
		}
		h.finit = c
	} else {
		h.finit = cost
	}

	if grad := state.TakeGradient(); grad != nil {
		h.initGrad = grad
	} else {
		g, err := core.EvalGradient[O, P, P](problem, initParam)
		if err != nil {
			return nil, err
		}
		h.initGrad = &g
	}

	h.a.x = h.aInit
	h.b.x = h.bInit
	h.c.x = h.cInit

	var err error
	if h.a.f, err = h.calc(problem, h.a.x); err != nil {
		return nil, err
	}
	if h.a.g, err = h.calcGrad(problem, h.a.x); err != nil {
		return nil, err
	}
	if h.b.f, err = h.calc(problem, h.b.x); err != nil {
		return nil, err
	}
	if h.b.g, err = h.calcGrad(problem, h.b.x); err != nil {
		return nil, err
	}
	if h.c.f, err = h.calc(problem, h.c.x); err != nil {
		return nil, err
	}
	if h.c.g, err = h.calcGrad(problem, h.c.x); err != nil {
		return nil, err
	}

	h.epsilonK = h.epsilon * math.Abs(h.finit)
	h.dginit = h.ops.Dot(*h.initGrad, *h.searchDirection)

	h.setBest()
	state.SetParam(h.ops.ScaledAdd(initParam, h.best.x, *h.searchDirection)).SetCost(h.best.f)
	return nil, nil
}

// NextIter performs one double secant step on the bracket, inserting a
// bisection step when the bracket did not contract by at least gamma, and
// moves the state to the best point seen.
func (h *HagerZhang[O, P]) NextIter(ctx context.Context, problem *core.Problem[O], state State[P]) (core.KV, error) {
	if h.initParam == nil || h.searchDirection == nil {
		return nil, fmt.Errorf("%w: Hager-Zhang line search: not initialized", core.ErrNotInitialized)
	}

	at, bt, err := h.secant2(problem, h.a, h.b)
	if err != nil {
		return nil, err
	}

	if bt.x-at.x > h.gamma*(h.b.x-h.a.x) {
		cx := (at.x + bt.x) / 2
		cf, err := h.calc(problem, cx)
		if err != nil {
			return nil, err
		}
		cg, err := h.calcGrad(problem, cx)
		if err != nil {
			return nil, err
		}
		at, bt, err = h.update(problem, at, bt, triplet{x: cx, f: cf, g: cg})
		if err != nil {
			return nil, err
		}
	}

	h.a = at
	h.b = bt

	h.setBest()
	state.SetParam(h.ops.ScaledAdd(*h.initParam, h.best.x, *h.searchDirection)).SetCost(h.best.f)
	return nil, nil
}

// Terminate stops the run once the best point satisfies the original or
// the approximate Wolfe conditions.
func (h *HagerZhang[O, P]) Terminate(state State[P]) core.TerminationStatus {
	if h.best.f-h.finit <= h.delta*h.best.x*h.dginit && h.best.g >= h.sigma*h.dginit {
		return core.TerminationStatus{Reason: core.SolverConverged}
	}
	if (2*h.delta-1)*h.dginit >= h.best.g &&
		h.best.g >= h.sigma*h.dginit &&
		h.best.f <= h.finit+h.epsilonK {
		return core.TerminationStatus{Reason: core.SolverConverged}
	}
	return core.TerminationStatus{}
}

// update shrinks the bracket [a, b] using the trial point c, preserving the
// opposite slope condition. Trial points outside the bracket leave it
// unchanged; a high trial cost triggers the inner bisection loop.
func (h *HagerZhang[O, P]) update(problem *core.Problem[O], a, b, c triplet) (triplet, triplet, error) {
	if c.x <= a.x || c.x >= b.x {
		return a, b, nil
	}
	if c.g >= 0 {
		return a, c, nil
	}
	if c.g < 0 && c.f <= h.finit+h.epsilonK {
		return c, b, nil
	}
	if c.g < 0 && c.f > h.finit+h.epsilonK {
		ah := a
		bhx := c.x
		for {
			dx := (1-h.theta)*ah.x + h.theta*bhx
			df, err := h.calc(problem, dx)
			if err != nil {
				return triplet{}, triplet{}, err
			}
			dg, err := h.calcGrad(problem, dx)
			if err != nil {
				return triplet{}, triplet{}, err
			}
			if dg >= 0 {
				return ah, triplet{x: dx, f: df, g: dg}, nil
			}
			if dg < 0 && df <= h.finit+h.epsilonK {
				ah = triplet{x: dx, f: df, g: dg}
			}
			if dg < 0 && df > h.finit+h.epsilonK {
				bhx = dx
			}
		}
	}
	return triplet{}, triplet{}, fmt.Errorf("%w: Hager-Zhang line search: unreachable point in bracket update", core.ErrPotentialBug)
}

// secant2 performs the double secant step: a secant step, a bracket update
// and, when the update pinned the trial to a bracket end, a second secant
// step from that end.
func (h *HagerZhang[O, P]) secant2(problem *core.Problem[O], a, b triplet) (triplet, triplet, error) {
	cx := secant(a, b)
	cf, err := h.calc(problem, cx)
	if err != nil {
		return triplet{}, triplet{}, err
	}
	cg, err := h.calcGrad(problem, cx)
	if err != nil {
		return triplet{}, triplet{}, err
	}

	aa, bb, err := h.update(problem, a, b, triplet{x: cx, f: cf, g: cg})
	if err != nil {
		return triplet{}, triplet{}, err
	}

	cbarX := 0.0
	if math.Abs(cx-bb.x) < machEps {
		cbarX = secant(b, bb)
	}
	if math.Abs(cx-aa.x) < machEps {
		cbarX = secant(a, aa)
	}
	if math.Abs(cx-aa.x) < machEps || math.Abs(cx-bb.x) < machEps {
		cbarF, err := h.calc(problem, cbarX)
		if err != nil {
			return triplet{}, triplet{}, err
		}
		cbarG, err := h.calcGrad(problem, cbarX)
		if err != nil {
			return triplet{}, triplet{}, err
		}
		return h.update(problem, aa, bb, triplet{x: cbarX, f: cbarF, g: cbarG})
	}
	return aa, bb, nil
}

// secant returns the step length where the secant through the directional
// derivatives at a and b vanishes.
func secant(a, b triplet) float64 {
	return (a.x*b.g - b.x*a.g) / (b.g - a.g)
}

// calc evaluates the cost at the given step length along the ray.
func (h *HagerZhang[O, P]) calc(problem *core.Problem[O], alpha float64) (float64, error) {
	p := h.ops.ScaledAdd(*h.initParam, alpha, *h.searchDirection)
	return core.EvalCost(problem, p)
}

// calcGrad evaluates the directional derivative at the given step length
// along the ray.
func (h *HagerZhang[O, P]) calcGrad(problem *core.Problem[O], alpha float64) (float64, error) {
	p := h.ops.ScaledAdd(*h.initParam, alpha, *h.searchDirection)
	grad, err := core.EvalGradient[O, P, P](problem, p)
	if err != nil {
		return 0, err
	}
	return h.ops.Dot(*h.searchDirection, grad), nil
}

// setBest records the bracket point with the lowest cost. Ties prefer the
// trial point over the bracket ends.
func (h *HagerZhang[O, P]) setBest() {
	if h.a.f <= h.b.f && h.a.f <= h.c.f {
		h.best = h.a
	}
	if h.b.f <= h.a.f && h.b.f <= h.c.f {
		h.best = h.b
	}
	if h.c.f <= h.a.f && h.c.f <= h.b.f {
		h.best = h.c
	}
}

type tripletJSON struct {
	X core.Float `json:"x"`
	F core.Float `json:"f"`
	G core.Float `json:"g"`
}

func (t triplet) toJSON() tripletJSON {
	return tripletJSON{X: core.Float(t.x), F: core.Float(t.f), G: core.Float(t.g)}
}

func (t tripletJSON) toTriplet() triplet {
	return triplet{x: float64(t.X), f: float64(t.F), g: float64(t.G)}
}

type hagerZhangJSON[P any] struct {
	Delta           float64     `json:"delta"`
	Sigma           float64     `json:"sigma"`
	Epsilon         float64     `json:"epsilon"`
	EpsilonK        core.Float  `json:"epsilon_k"`
	Theta           float64     `json:"theta"`
	Gamma           float64     `json:"gamma"`
	Eta             float64     `json:"eta"`
	AInit           float64     `json:"a_init"`
	BInit           float64     `json:"b_init"`
	CInit           float64     `json:"c_init"`
	A               tripletJSON `json:"a"`
	B               tripletJSON `json:"b"`
	C               tripletJSON `json:"c"`
	Best            tripletJSON `json:"best"`
	InitParam       *P          `json:"init_param,omitempty"`
	InitGrad        *P          `json:"init_grad,omitempty"`
	SearchDirection *P          `json:"search_direction,omitempty"`
	Dginit          core.Float  `json:"dginit"`
	Finit           core.Float  `json:"finit"`
}

// MarshalJSON implements json.Marshaler for checkpointing.
func (h *HagerZhang[O, P]) MarshalJSON() ([]byte, error) {
	return json.Marshal(hagerZhangJSON[P]{
		Delta:           h.delta,
		Sigma:           h.sigma,
		Epsilon:         h.epsilon,
		EpsilonK:        core.Float(h.epsilonK),
		Theta:           h.theta,
		Gamma:           h.gamma,
		Eta:             h.eta,
		AInit:           h.aInit,
		BInit:           h.bInit,
		CInit:           h.cInit,
		A:               h.a.toJSON(),
		B:               h.b.toJSON(),
		C:               h.c.toJSON(),
		Best:            h.best.toJSON(),
		InitParam:       h.initParam,
		InitGrad:        h.initGrad,
		SearchDirection: h.searchDirection,
		Dginit:          core.Float(h.dginit),
		Finit:           core.Float(h.finit),
	})
}

// UnmarshalJSON implements json.Unmarshaler. The vector arithmetic is not
// serialized, so the receiver must have been built with NewHagerZhang.
func (h *HagerZhang[O, P]) UnmarshalJSON(data []byte) error {
	var aux hagerZhangJSON[P]
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	h.delta = aux.Delta
	h.sigma = aux.Sigma
	h.epsilon = aux.Epsilon
	h.epsilonK = float64(aux.EpsilonK)
	h.theta = aux.Theta
	h.gamma = aux.Gamma
	h.eta = aux.Eta
	h.aInit = aux.AInit
	h.bInit = aux.BInit
	h.cInit = aux.CInit
	h.a = aux.A.toTriplet()
	h.b = aux.B.toTriplet()
	h.c = aux.C.toTriplet()
	h.best = aux.Best.toTriplet()
	h.initParam = aux.InitParam
	h.initGrad = aux.InitGrad
	h.searchDirection = aux.SearchDirection
	h.dginit = float64(aux.Dginit)
	h.finit = float64(aux.Finit)
	return nil
}
