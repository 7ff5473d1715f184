package linesearch

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/descentlab/descent/core"
	"github.com/descentlab/descent/linalg"
)

const (
	armijoKind      = "Armijo"
	wolfeKind       = "Wolfe"
	strongWolfeKind = "StrongWolfe"
	goldsteinKind   = "Goldstein"
)

// Condition is an acceptance rule for a trial step along a search ray. It
// is constructed through one of the New*Condition functions, which validate
// the coefficients; the zero Condition accepts nothing.
type Condition struct {
	kind string
	c1   float64
	c2   float64
}

// NewArmijoCondition builds the sufficient decrease condition
//
//	f(x + alpha*d) <= f(x) + c*alpha*d^T grad(x)
//
// with c in (0, 1). Smaller values of c accept steps more readily.
func NewArmijoCondition(c float64) (Condition, error) {
	if c <= 0 || c >= 1 {
		return Condition{}, fmt.Errorf("%w: Armijo condition: c must be in (0, 1)", core.ErrInvalidParameter)
	}
	return Condition{kind: armijoKind, c1: c}, nil
}

// NewWolfeCondition builds the Wolfe conditions, sufficient decrease with
// coefficient c1 plus the curvature requirement
//
//	d^T grad(x + alpha*d) >= c2 * d^T grad(x)
//
// with 0 < c1 < c2 < 1. Evaluating it needs the gradient at the trial
// point.
func NewWolfeCondition(c1, c2 float64) (Condition, error) {
	if c1 <= 0 || c1 >= 1 {
		return Condition{}, fmt.Errorf("%w: Wolfe condition: c1 must be in (0, 1)", core.ErrInvalidParameter)
	}
	if c2 <= c1 || c2 >= 1 {
		return Condition{}, fmt.Errorf("%w: Wolfe condition: c2 must be in (c1, 1)", core.ErrInvalidParameter)
	}
	return Condition{kind: wolfeKind, c1: c1, c2: c2}, nil
}

// NewStrongWolfeCondition builds the strong Wolfe conditions, which bound
// the magnitude of the directional derivative at the trial point:
//
//	|d^T grad(x + alpha*d)| <= c2 * |d^T grad(x)|
//
// with 0 < c1 < c2 < 1. Evaluating it needs the gradient at the trial
// point.
func NewStrongWolfeCondition(c1, c2 float64) (Condition, error) {
	if c1 <= 0 || c1 >= 1 {
		return Condition{}, fmt.Errorf("%w: strong Wolfe condition: c1 must be in (0, 1)", core.ErrInvalidParameter)
	}
	if c2 <= c1 || c2 >= 1 {
		return Condition{}, fmt.Errorf("%w: strong Wolfe condition: c2 must be in (c1, 1)", core.ErrInvalidParameter)
	}
	return Condition{kind: strongWolfeKind, c1: c1, c2: c2}, nil
}

// NewGoldsteinCondition builds the Goldstein conditions, which sandwich the
// trial cost between two linear decrease bounds:
//
//	f(x) + (1-c)*alpha*m <= f(x + alpha*d) <= f(x) + c*alpha*m
//
// where m = d^T grad(x) and c is in (0, 0.5).
func NewGoldsteinCondition(c float64) (Condition, error) {
	if c <= 0 || c >= 0.5 {
		return Condition{}, fmt.Errorf("%w: Goldstein condition: c must be in (0, 0.5)", core.ErrInvalidParameter)
	}
	return Condition{kind: goldsteinKind, c1: c}, nil
}

// RequiresCurrentGradient reports whether evaluating the condition needs
// the gradient at the trial point. Only the curvature conditions do; a line
// search can skip the gradient evaluation otherwise.
func (c Condition) RequiresCurrentGradient() bool {
	return c.kind == wolfeKind || c.kind == strongWolfeKind
}

// EvalCondition reports whether a trial step satisfies the condition.
// currentGradient may be nil unless cond.RequiresCurrentGradient is true;
// passing nil for a curvature condition panics once the sufficient decrease
// part has been met.
func EvalCondition[P any](
	ops linalg.VectorOps[P],
	cond Condition,
	currentCost float64,
	currentGradient *P,
	initialCost float64,
	initialGradient P,
	searchDirection P,
	stepLength float64,
) bool {
	m := ops.Dot(initialGradient, searchDirection)
	switch cond.kind {
	case armijoKind:
		return currentCost <= initialCost+cond.c1*stepLength*m
	case wolfeKind:
		if currentCost > initialCost+cond.c1*stepLength*m {
			return false
		}
		return ops.Dot(*currentGradient, searchDirection) >= cond.c2*m
	case strongWolfeKind:
		if currentCost > initialCost+cond.c1*stepLength*m {
			return false
		}
		return math.Abs(ops.Dot(*currentGradient, searchDirection)) <= cond.c2*math.Abs(m)
	case goldsteinKind:
		return initialCost+(1-cond.c1)*stepLength*m <= currentCost &&
			currentCost <= initialCost+cond.c1*stepLength*m
	default:
		return false
	}
}

type conditionJSON struct {
	Kind string  `json:"kind"`
	C1   float64 `json:"c1"`
	C2   float64 `json:"c2,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal(conditionJSON{Kind: c.kind, C1: c.c1, C2: c.c2})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var aux conditionJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.kind = aux.Kind
	c.c1 = aux.C1
	c.c2 = aux.C2
	return nil
}
