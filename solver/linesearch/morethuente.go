package linesearch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/descentlab/descent/core"
	"github.com/descentlab/descent/linalg"
)

// step is a point on the search ray together with the cost and the
// directional derivative there.
type step struct {
	x  float64
	fx float64
	gx float64
}

// MoreThuente is the line search of More and Thuente. It looks for a step
// satisfying the strong Wolfe conditions by maintaining an interval of
// uncertainty and shrinking it with safeguarded cubic and quadratic
// interpolation, following the MINPACK routine csrch.
//
// J. J. More and D. J. Thuente, "Line search algorithms with guaranteed
// sufficient decrease", ACM Trans. Math. Softw. 20(3), 1994.
type MoreThuente[O Objective[P], P any] struct {
	ops linalg.VectorOps[P]

	initParam       *P
	initGrad        *P
	searchDirection *P

	finit  float64
	dginit float64
	dgtest float64
	ftol   float64
	gtol   float64
	xtrapf float64
	width  float64
	width1 float64
	xtol   float64
	alpha  float64
	stpmin float64
	stpmax float64
	stp    step
	stx    step
	sty    step
	f      float64
	brackt bool
	stage1 bool
	infoc  int
}

// NewMoreThuente creates a More-Thuente line search using ops for vector
// arithmetic, with c1 = 1e-4, c2 = 0.9, a width tolerance of 1e-10 and step
// lengths bounded below by the square root of machine epsilon.
func NewMoreThuente[O Objective[P], P any](ops linalg.VectorOps[P]) *MoreThuente[O, P] {
	return &MoreThuente[O, P]{
		ops:    ops,
		finit:  math.Inf(1),
		ftol:   1e-4,
		gtol:   0.9,
		xtrapf: 4.0,
		width:  math.NaN(),
		width1: math.NaN(),
		xtol:   1e-10,
		alpha:  1.0,
		stpmin: math.Sqrt(machEps),
		stpmax: math.Inf(1),
		f:      math.NaN(),
		stage1: true,
		infoc:  1,
	}
}

// WithC sets the coefficients of the strong Wolfe conditions the search
// aims for: c1 for sufficient decrease, c2 for curvature, with
// 0 < c1 < c2 < 1.
func (m *MoreThuente[O, P]) WithC(c1, c2 float64) (*MoreThuente[O, P], error) {
	if c1 <= 0 || c1 >= c2 {
		return nil, fmt.Errorf("%w: More-Thuente line search: c1 must be in (0, c2)", core.ErrInvalidParameter)
	}
	if c2 >= 1 {
		return nil, fmt.Errorf("%w: More-Thuente line search: c2 must be in (c1, 1)", core.ErrInvalidParameter)
	}
	m.ftol = c1
	m.gtol = c2
	return m, nil
}

// WithBounds sets the smallest and largest admissible step length. alphaMin
// must be non-negative and smaller than alphaMax.
func (m *MoreThuente[O, P]) WithBounds(alphaMin, alphaMax float64) (*MoreThuente[O, P], error) {
	if alphaMin < 0 {
		return nil, fmt.Errorf("%w: More-Thuente line search: lower step length bound must be >= 0", core.ErrInvalidParameter)
	}
	if alphaMax <= alphaMin {
		return nil, fmt.Errorf("%w: More-Thuente line search: upper step length bound must be greater than the lower bound", core.ErrInvalidParameter)
	}
	m.stpmin = alphaMin
	m.stpmax = alphaMax
	return m, nil
}

// WithWidthTolerance sets the relative width of the interval of uncertainty
// below which the search stops. xtol must be non-negative.
func (m *MoreThuente[O, P]) WithWidthTolerance(xtol float64) (*MoreThuente[O, P], error) {
	if xtol < 0 {
		return nil, fmt.Errorf("%w: More-Thuente line search: width tolerance must be >= 0", core.ErrInvalidParameter)
	}
	m.xtol = xtol
	return m, nil
}

// SetSearchDirection sets the direction of the ray to search along.
func (m *MoreThuente[O, P]) SetSearchDirection(dir P) {
	m.searchDirection = &dir
}

// SetInitialStepLength sets the step length the first trial step uses. It
// must be positive.
func (m *MoreThuente[O, P]) SetInitialStepLength(alpha float64) error {
	if alpha <= 0 {
		return fmt.Errorf("%w: More-Thuente line search: initial step length must be > 0", core.ErrInvalidParameter)
	}
	m.alpha = alpha
	return nil
}

// Name identifies the solver in observer output and checkpoints.
func (m *MoreThuente[O, P]) Name() string { return "More-Thuente Line search" }

// Init stores the ray origin, cost and gradient from the state, evaluating
// whatever the state does not provide, and sets up the initial interval of
// uncertainty. The search direction must be a descent direction.
func (m *MoreThuente[O, P]) Init(ctx context.Context, problem *core.Problem[O], state State[P]) (core.KV, error) {
	if m.searchDirection == nil {
		return nil, fmt.Errorf("%w: More-Thuente line search: search direction not set", core.ErrNotInitialized)
	}
	param := state.TakeParam()
	if param == nil {
		return nil, fmt.Errorf("%w: More-Thuente line search: initial parameter vector not set", core.ErrNotInitialized)
	}
	m.initParam = param

	if cost := state.Cost(); math.IsInf(cost, 0) {
		c, err := core.EvalCost(problem, *param)
		if err != nil {
			return nil, err
		}
		m.finit = c
	} else {
		m.finit = cost
	}

	if grad := state.TakeGradient(); grad != nil {
		m.initGrad = grad
	} else {
		g, err := core.EvalGradient[O, P, P](problem, *param)
		if err != nil {
			return nil, err
		}
		m.initGrad = &g
	}

	m.dginit = m.ops.Dot(*m.initGrad, *m.searchDirection)
	if m.dginit >= 0 {
		return nil, fmt.Errorf("%w: More-Thuente line search: search direction must be a descent direction", core.ErrConditionViolated)
	}

	m.stage1 = true
	m.brackt = false

	m.dgtest = m.ftol * m.dginit
	m.width = m.stpmax - m.stpmin
	m.width1 = 2 * m.width
	m.f = m.finit

	m.stp = step{x: m.alpha, fx: math.NaN(), gx: math.NaN()}
	m.stx = step{x: 0, fx: m.finit, gx: m.dginit}
	m.sty = step{x: 0, fx: m.finit, gx: m.dginit}

	return nil, nil
}

// NextIter evaluates one trial step and updates the interval of
// uncertainty. The state is only written once the search terminates, with
// the accepted parameter vector, cost and gradient; the reported info code
// follows csrch, where 1 means the strong Wolfe conditions hold and larger
// codes mean the interval degenerated or hit a bound.
func (m *MoreThuente[O, P]) NextIter(ctx context.Context, problem *core.Problem[O], state State[P]) (core.KV, error) {
	if m.initParam == nil || m.searchDirection == nil {
		return nil, fmt.Errorf("%w: More-Thuente line search: not initialized", core.ErrNotInitialized)
	}

	info := 0
	var stmin, stmax float64
	if m.brackt {
		stmin = math.Min(m.stx.x, m.sty.x)
		stmax = math.Max(m.stx.x, m.sty.x)
	} else {
		stmin = m.stx.x
		stmax = m.stp.x + m.xtrapf*(m.stp.x-m.stx.x)
	}

	m.stp.x = math.Max(m.stp.x, m.stpmin)
	m.stp.x = math.Min(m.stp.x, m.stpmax)

	// If the search is about to terminate in an unusual way, let the trial
	// step be the lowest point obtained so far.
	if (m.brackt && (m.stp.x <= stmin || m.stp.x >= stmax)) ||
		(m.brackt && stmax-stmin <= m.xtol*stmax) ||
		m.infoc == 0 {
		m.stp.x = m.stx.x
	}

	newParam := m.ops.ScaledAdd(*m.initParam, m.stp.x, *m.searchDirection)
	f, err := core.EvalCost(problem, newParam)
	if err != nil {
		return nil, err
	}
	m.f = f
	newGrad, err := core.EvalGradient[O, P, P](problem, newParam)
	if err != nil {
		return nil, err
	}
	dg := m.ops.Dot(*m.searchDirection, newGrad)
	ftest1 := m.finit + m.stp.x*m.dgtest

	if (m.brackt && (m.stp.x <= stmin || m.stp.x >= stmax)) || m.infoc == 0 {
		info = 6
	}
	if math.Abs(m.stp.x-m.stpmax) < machEps && m.f <= ftest1 && dg <= m.dgtest {
		info = 5
	}
	if math.Abs(m.stp.x-m.stpmin) < machEps && (m.f > ftest1 || dg >= m.dgtest) {
		info = 4
	}
	if m.brackt && stmax-stmin <= m.xtol*stmax {
		info = 2
	}
	if m.f <= ftest1 && math.Abs(dg) <= m.gtol*(-m.dginit) {
		info = 1
	}

	if info != 0 {
		state.SetParam(newParam).SetCost(m.f).SetGradient(newGrad)
		state.TerminateWith(core.SolverConverged)
		return core.KV{slog.Int("info", info)}, nil
	}

	if m.stage1 && m.f <= ftest1 && dg >= math.Min(m.ftol, m.gtol)*m.dginit {
		m.stage1 = false
	}

	if m.stage1 && m.f <= m.stp.fx && m.f > ftest1 {
		// Work on modified function values in stage 1 so the safeguarded
		// interpolation sees a function with a strict minimum.
		fm := m.f - m.stp.x*m.dgtest
		fxm := m.stx.fx - m.stx.x*m.dgtest
		fym := m.sty.fx - m.sty.x*m.dgtest
		dgm := dg - m.dgtest
		dgxm := m.stx.gx - m.dgtest
		dgym := m.sty.gx - m.dgtest

		stx1, sty1, stp1, brackt1, infoc, err := cstep(
			step{x: m.stx.x, fx: fxm, gx: dgxm},
			step{x: m.sty.x, fx: fym, gx: dgym},
			step{x: m.stp.x, fx: fm, gx: dgm},
			m.brackt, stmin, stmax,
		)
		if err != nil {
			return nil, err
		}
		m.stx.x = stx1.x
		m.sty.x = sty1.x
		m.stp.x = stp1.x
		m.stx.fx = m.stx.fx + stx1.x*m.dgtest
		m.sty.fx = m.sty.fx + sty1.x*m.dgtest
		m.stx.gx = m.stx.gx + m.dgtest
		m.sty.gx = m.sty.gx + m.dgtest
		m.brackt = brackt1
		m.stp = stp1
		m.infoc = infoc
	} else {
		stx1, sty1, stp1, brackt1, infoc, err := cstep(
			m.stx, m.sty, step{x: m.stp.x, fx: m.f, gx: dg},
			m.brackt, stmin, stmax,
		)
		if err != nil {
			return nil, err
		}
		m.stx = stx1
		m.sty = sty1
		m.stp = stp1
		m.f = m.stp.fx
		m.brackt = brackt1
		m.infoc = infoc
	}

	// Force a bisection step if the interval did not shrink enough over the
	// last two trials.
	if m.brackt {
		if math.Abs(m.sty.x-m.stx.x) >= 0.66*m.width1 {
			m.stp.x = m.stx.x + 0.5*(m.sty.x-m.stx.x)
		}
		m.width1 = m.width
		m.width = math.Abs(m.sty.x - m.stx.x)
	}

	return nil, nil
}

// Terminate reports no stopping decision of its own; the search terminates
// from within NextIter once a trial step is accepted or the interval of
// uncertainty degenerates.
func (m *MoreThuente[O, P]) Terminate(state State[P]) core.TerminationStatus {
	return core.TerminationStatus{}
}

// checkFinite guards the interpolation inputs, which must be finite for
// the step computation to make sense.
func checkFinite(xs ...float64) error {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: More-Thuente line search: NaN or Inf encountered during iteration", core.ErrConditionViolated)
		}
	}
	return nil
}

// cstep computes a safeguarded trial step for the interval of uncertainty
// held by stx and sty, following the MINPACK routine cstep. It returns the
// updated interval ends, the new trial step, the bracketing flag and an
// info code identifying the interpolation case, 0 meaning the inputs were
// inconsistent and nothing changed.
func cstep(stx, sty, stp step, brackt bool, stpmin, stpmax float64) (step, step, step, bool, int, error) {
	info := 0
	bound := false
	var stpf, stpc, stpq float64

	if (brackt && (stp.x <= math.Min(stx.x, sty.x) || stp.x >= math.Max(stx.x, sty.x))) ||
		stx.gx*(stp.x-stx.x) >= 0 ||
		stpmax < stpmin {
		return stx, sty, stp, brackt, info, nil
	}

	// Determine whether the derivatives have opposite sign.
	sgnd := stp.gx * (stx.gx / math.Abs(stx.gx))

	switch {
	case stp.fx > stx.fx:
		// A higher function value: the minimum is bracketed. Take the cubic
		// step if it is closer to stx, else the average of the cubic and
		// the quadratic step.
		info = 1
		bound = true
		theta := 3*(stx.fx-stp.fx)/(stp.x-stx.x) + stx.gx + stp.gx
		if err := checkFinite(theta, stx.gx, stp.gx); err != nil {
			return stx, sty, stp, brackt, info, err
		}
		s := math.Max(theta, math.Max(stx.gx, stp.gx))
		gamma := s * math.Sqrt((theta/s)*(theta/s)-(stx.gx/s)*(stp.gx/s))
		if stp.x < stx.x {
			gamma = -gamma
		}
		p := (gamma - stx.gx) + theta
		q := ((gamma - stx.gx) + gamma) + stp.gx
		r := p / q
		stpc = stx.x + r*(stp.x-stx.x)
		stpq = stx.x + ((stx.gx/((stx.fx-stp.fx)/(stp.x-stx.x)+stx.gx))/2)*(stp.x-stx.x)
		if math.Abs(stpc-stx.x) < math.Abs(stpq-stx.x) {
			stpf = stpc
		} else {
			stpf = stpc + (stpq-stpc)/2
		}
		brackt = true

	case sgnd < 0:
		// A lower function value and derivatives of opposite sign: the
		// minimum is bracketed. Take the cubic step if it is closer to stx,
		// else the quadratic (secant) step.
		info = 2
		bound = false
		theta := 3*(stx.fx-stp.fx)/(stp.x-stx.x) + stx.gx + stp.gx
		if err := checkFinite(theta, stx.gx, stp.gx); err != nil {
			return stx, sty, stp, brackt, info, err
		}
		s := math.Max(theta, math.Max(stx.gx, stp.gx))
		gamma := s * math.Sqrt((theta/s)*(theta/s)-(stx.gx/s)*(stp.gx/s))
		if stp.x > stx.x {
			gamma = -gamma
		}
		p := (gamma - stp.gx) + theta
		q := ((gamma - stp.gx) + gamma) + stx.gx
		r := p / q
		stpc = stp.x + r*(stx.x-stp.x)
		stpq = stp.x + (stp.gx/(stp.gx-stx.gx))*(stx.x-stp.x)
		if math.Abs(stpc-stp.x) > math.Abs(stpq-stp.x) {
			stpf = stpc
		} else {
			stpf = stpq
		}
		brackt = true

	case math.Abs(stp.gx) < math.Abs(stx.gx):
		// A lower function value, derivatives of the same sign and a
		// decreasing derivative magnitude. The cubic step is only used if
		// it tends to infinity in the direction of the step or lies beyond
		// stp; otherwise a bound replaces it.
		info = 3
		bound = true
		theta := 3*(stx.fx-stp.fx)/(stp.x-stx.x) + stx.gx + stp.gx
		if err := checkFinite(theta, stx.gx, stp.gx); err != nil {
			return stx, sty, stp, brackt, info, err
		}
		s := math.Max(theta, math.Max(stx.gx, stp.gx))
		// gamma = 0 only arises if the cubic does not tend to infinity in
		// the direction of the step.
		gamma := s * math.Sqrt(math.Max(0, (theta/s)*(theta/s)-(stx.gx/s)*(stp.gx/s)))
		if stp.x > stx.x {
			gamma = -gamma
		}
		p := (gamma - stp.gx) + theta
		q := (gamma + (stx.gx - stp.gx)) + gamma
		r := p / q
		if r < 0 && gamma != 0 {
			stpc = stp.x + r*(stx.x-stp.x)
		} else if stp.x > stx.x {
			stpc = stpmax
		} else {
			stpc = stpmin
		}
		stpq = stp.x + (stp.gx/(stp.gx-stx.gx))*(stx.x-stp.x)
		if brackt {
			if math.Abs(stp.x-stpc) < math.Abs(stp.x-stpq) {
				stpf = stpc
			} else {
				stpf = stpq
			}
		} else if math.Abs(stp.x-stpc) > math.Abs(stp.x-stpq) {
			stpf = stpc
		} else {
			stpf = stpq
		}

	default:
		// A lower function value, derivatives of the same sign and no
		// decrease in derivative magnitude. Take the cubic step only if the
		// minimum is bracketed, else run to the relevant bound.
		info = 4
		bound = false
		if brackt {
			theta := 3*(stp.fx-sty.fx)/(sty.x-stp.x) + sty.gx + stp.gx
			if err := checkFinite(theta, sty.gx, stp.gx); err != nil {
				return stx, sty, stp, brackt, info, err
			}
			s := math.Max(theta, math.Max(sty.gx, stp.gx))
			gamma := s * math.Sqrt((theta/s)*(theta/s)-(sty.gx/s)*(stp.gx/s))
			if stp.x > sty.x {
				gamma = -gamma
			}
			p := (gamma - stp.gx) + theta
			q := ((gamma - stp.gx) + gamma) + sty.gx
			r := p / q
			stpc = stp.x + r*(sty.x-stp.x)
			stpf = stpc
		} else if stp.x > stx.x {
			stpf = stpmax
		} else {
			stpf = stpmin
		}
	}

	// Update the interval of uncertainty. This does not depend on the new
	// step or the case analysis above.
	stxOut := stx
	styOut := sty
	stpOut := stp
	if stpOut.fx > stxOut.fx {
		styOut = stpOut
	} else {
		if sgnd < 0 {
			styOut = stxOut
		}
		stxOut = stpOut
	}

	// Compute the new step and safeguard it.
	stpf = math.Min(stpmax, stpf)
	stpf = math.Max(stpmin, stpf)
	stpOut.x = stpf
	if brackt && bound {
		if styOut.x > stxOut.x {
			stpOut.x = math.Min(stpOut.x, stxOut.x+0.66*(styOut.x-stxOut.x))
		} else {
			stpOut.x = math.Max(stpOut.x, stxOut.x+0.66*(styOut.x-stxOut.x))
		}
	}

	return stxOut, styOut, stpOut, brackt, info, nil
}

type stepJSON struct {
	X  core.Float `json:"x"`
	Fx core.Float `json:"fx"`
	Gx core.Float `json:"gx"`
}

func (s step) toJSON() stepJSON {
	return stepJSON{X: core.Float(s.x), Fx: core.Float(s.fx), Gx: core.Float(s.gx)}
}

func (s stepJSON) toStep() step {
	return step{x: float64(s.X), fx: float64(s.Fx), gx: float64(s.Gx)}
}

type moreThuenteJSON[P any] struct {
	InitParam       *P         `json:"init_param,omitempty"`
	InitGrad        *P         `json:"init_grad,omitempty"`
	SearchDirection *P         `json:"search_direction,omitempty"`
	Finit           core.Float `json:"finit"`
	Dginit          core.Float `json:"dginit"`
	Dgtest          core.Float `json:"dgtest"`
	Ftol            float64    `json:"ftol"`
	Gtol            float64    `json:"gtol"`
	Xtrapf          float64    `json:"xtrapf"`
	Width           core.Float `json:"width"`
	Width1          core.Float `json:"width1"`
	Xtol            float64    `json:"xtol"`
	Alpha           float64    `json:"alpha"`
	Stpmin          float64    `json:"stpmin"`
	Stpmax          core.Float `json:"stpmax"`
	Stp             stepJSON   `json:"stp"`
	Stx             stepJSON   `json:"stx"`
	Sty             stepJSON   `json:"sty"`
	F               core.Float `json:"f"`
	Brackt          bool       `json:"brackt"`
	Stage1          bool       `json:"stage1"`
	Infoc           int        `json:"infoc"`
}

// MarshalJSON implements json.Marshaler for checkpointing.
func (m *MoreThuente[O, P]) MarshalJSON() ([]byte, error) {
	return json.Marshal(moreThuenteJSON[P]{
		InitParam:       m.initParam,
		InitGrad:        m.initGrad,
		SearchDirection: m.searchDirection,
		Finit:           core.Float(m.finit),
		Dginit:          core.Float(m.dginit),
		Dgtest:          core.Float(m.dgtest),
		Ftol:            m.ftol,
		Gtol:            m.gtol,
		Xtrapf:          m.xtrapf,
		Width:           core.Float(m.width),
		Width1:          core.Float(m.width1),
		Xtol:            m.xtol,
		Alpha:           m.alpha,
		Stpmin:          m.stpmin,
		Stpmax:          core.Float(m.stpmax),
		Stp:             m.stp.toJSON(),
		Stx:             m.stx.toJSON(),
		Sty:             m.sty.toJSON(),
		F:               core.Float(m.f),
		Brackt:          m.brackt,
		Stage1:          m.stage1,
		Infoc:           m.infoc,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The vector arithmetic is not
// serialized, so the receiver must have been built with NewMoreThuente.
func (m *MoreThuente[O, P]) UnmarshalJSON(data []byte) error {
	var aux moreThuenteJSON[P]
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.initParam = aux.InitParam
	m.initGrad = aux.InitGrad
	m.searchDirection = aux.SearchDirection
	m.finit = float64(aux.Finit)
	m.dginit = float64(aux.Dginit)
	m.dgtest = float64(aux.Dgtest)
	m.ftol = aux.Ftol
	m.gtol = aux.Gtol
	m.xtrapf = aux.Xtrapf
	m.width = float64(aux.Width)
	m.width1 = float64(aux.Width1)
	m.xtol = aux.Xtol
	m.alpha = aux.Alpha
	m.stpmin = aux.Stpmin
	m.stpmax = float64(aux.Stpmax)
	m.stp = aux.Stp.toStep()
	m.stx = aux.Stx.toStep()
	m.sty = aux.Sty.toStep()
	m.f = float64(aux.F)
	m.brackt = aux.Brackt
	m.stage1 = aux.Stage1
	m.infoc = aux.Infoc
	return nil
}
