package linesearch

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/descentlab/descent/core"
	"github.com/descentlab/descent/linalg"
)

// Backtracking is a line search that starts from an initial step length and
// repeatedly shrinks it by a constant factor until the acceptance condition
// holds. With the Armijo condition this is the classic backtracking-Armijo
// search; the curvature conditions work as well at the price of a gradient
// evaluation per trial step.
type Backtracking[O Objective[P], P any] struct {
	ops linalg.VectorOps[P]

	initParam       *P
	initCost        float64
	initGrad        *P
	searchDirection *P
	rho             float64
	condition       Condition
	alpha           float64
	alphaInit       float64
}

// NewBacktracking creates a backtracking line search that uses ops for
// vector arithmetic and accepts trial steps per condition. The contraction
// factor defaults to 0.9 and the initial step length to 1.
func NewBacktracking[O Objective[P], P any](ops linalg.VectorOps[P], condition Condition) *Backtracking[O, P] {
	return &Backtracking[O, P]{
		ops:       ops,
		initCost:  math.Inf(1),
		rho:       0.9,
		condition: condition,
		alpha:     1.0,
		alphaInit: 1.0,
	}
}

// WithRho sets the contraction factor applied to the step length after each
// rejected trial step. rho must be in (0, 1).
func (b *Backtracking[O, P]) WithRho(rho float64) (*Backtracking[O, P], error) {
	if rho <= 0 || rho >= 1 {
		return nil, fmt.Errorf("%w: backtracking line search: rho must be in (0, 1)", core.ErrInvalidParameter)
	}
	b.rho = rho
	return b, nil
}

// SetSearchDirection sets the direction of the ray to search along.
func (b *Backtracking[O, P]) SetSearchDirection(dir P) {
	b.searchDirection = &dir
}

// SetInitialStepLength sets the step length the first trial step uses. It
// must be positive.
func (b *Backtracking[O, P]) SetInitialStepLength(alpha float64) error {
	if alpha <= 0 {
		return fmt.Errorf("%w: backtracking line search: initial step length must be > 0", core.ErrInvalidParameter)
	}
	b.alpha = alpha
	b.alphaInit = alpha
	return nil
}

// Name identifies the solver in observer output and checkpoints.
func (b *Backtracking[O, P]) Name() string { return "Backtracking line search" }

// Init stores the ray origin, cost and gradient from the state, evaluating
// whatever the state does not provide, and takes the first trial step.
func (b *Backtracking[O, P]) Init(ctx context.Context, problem *core.Problem[O], state State[P]) (core.KV, error) {
	if b.searchDirection == nil {
		return nil, fmt.Errorf("%w: backtracking line search: search direction not set", core.ErrNotInitialized)
	}
	// Solvers reuse one line search across their outer iterations, so every
	// run restarts from the configured step length.
	b.alpha = b.alphaInit
	param := state.Param()
	if param == nil {
		return nil, fmt.Errorf("%w: backtracking line search: initial parameter vector not set", core.ErrNotInitialized)
	}
	initParam := b.ops.CopyOf(*param)
	b.initParam = &initParam

	if cost := state.Cost(); math.IsInf(cost, 1) {
		c, err := core.EvalCost(problem, initParam)
		if err != nil {
			return nil, err
		}
		b.initCost = c
	} else {
		b.initCost = cost
	}

	if grad := state.TakeGradient(); grad != nil {
		b.initGrad = grad
	} else {
		g, err := core.EvalGradient[O, P, P](problem, initParam)
		if err != nil {
			return nil, err
		}
		b.initGrad = &g
	}

	return nil, b.step(problem, state)
}

// NextIter contracts the step length by rho and takes the next trial step.
func (b *Backtracking[O, P]) NextIter(ctx context.Context, problem *core.Problem[O], state State[P]) (core.KV, error) {
	b.alpha = b.alpha * b.rho
	return nil, b.step(problem, state)
}

// step evaluates the trial point at the current step length and writes it
// to the state. The gradient is only evaluated when the condition needs it.
func (b *Backtracking[O, P]) step(problem *core.Problem[O], state State[P]) error {
	if b.initParam == nil || b.searchDirection == nil {
		return fmt.Errorf("%w: backtracking line search: not initialized", core.ErrNotInitialized)
	}
	newParam := b.ops.ScaledAdd(*b.initParam, b.alpha, *b.searchDirection)
	newCost, err := core.EvalCost(problem, newParam)
	if err != nil {
		return err
	}
	if b.condition.RequiresCurrentGradient() {
		grad, err := core.EvalGradient[O, P, P](problem, newParam)
		if err != nil {
			return err
		}
		state.SetGradient(grad)
	}
	state.SetParam(newParam).SetCost(newCost)
	return nil
}

// Terminate stops the run as soon as the current iterate satisfies the
// acceptance condition.
func (b *Backtracking[O, P]) Terminate(state State[P]) core.TerminationStatus {
	if b.initGrad == nil || b.searchDirection == nil {
		return core.TerminationStatus{}
	}
	met := EvalCondition(
		b.ops,
		b.condition,
		state.Cost(),
		state.Gradient(),
		b.initCost,
		*b.initGrad,
		*b.searchDirection,
		b.alpha,
	)
	if met {
		return core.TerminationStatus{Reason: core.SolverConverged}
	}
	return core.TerminationStatus{}
}

type backtrackingJSON[P any] struct {
	InitParam       *P         `json:"init_param,omitempty"`
	InitCost        core.Float `json:"init_cost"`
	InitGrad        *P         `json:"init_grad,omitempty"`
	SearchDirection *P         `json:"search_direction,omitempty"`
	Rho             float64    `json:"rho"`
	Condition       Condition  `json:"condition"`
	Alpha           float64    `json:"alpha"`
	AlphaInit       float64    `json:"alpha_init"`
}

// MarshalJSON implements json.Marshaler for checkpointing.
func (b *Backtracking[O, P]) MarshalJSON() ([]byte, error) {
	return json.Marshal(backtrackingJSON[P]{
		InitParam:       b.initParam,
		InitCost:        core.Float(b.initCost),
		InitGrad:        b.initGrad,
		SearchDirection: b.searchDirection,
		Rho:             b.rho,
		Condition:       b.condition,
		Alpha:           b.alpha,
		AlphaInit:       b.alphaInit,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The vector arithmetic is not
// serialized, so the receiver must have been built with NewBacktracking.
func (b *Backtracking[O, P]) UnmarshalJSON(data []byte) error {
	var aux backtrackingJSON[P]
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	b.initParam = aux.InitParam
	b.initCost = float64(aux.InitCost)
	b.initGrad = aux.InitGrad
	b.searchDirection = aux.SearchDirection
	b.rho = aux.Rho
	b.condition = aux.Condition
	b.alpha = aux.Alpha
	b.alphaInit = aux.AlphaInit
	return nil
}
