package gradientdescent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/descentlab/descent/core"
	"github.com/descentlab/descent/linalg"
	"github.com/descentlab/descent/solver/linesearch"
)

// State is the iterate state steepest descent operates on. Parameter
// vectors and gradients share the type P.
type State[P any] = *core.IterState[P, P, struct{}, struct{}]

// SteepestDescent iteratively steps in the direction of the strongest
// negative gradient. Each iteration hands the negated gradient to a line
// search, which determines the step length in a nested Executor run.
type SteepestDescent[O linesearch.Objective[P], P any] struct {
	ops        linalg.VectorOps[P]
	linesearch linesearch.Solver[O, P]
}

// NewSteepestDescent creates a steepest descent solver that uses ops for
// vector arithmetic and delegates the step length choice to ls.
func NewSteepestDescent[O linesearch.Objective[P], P any](ops linalg.VectorOps[P], ls linesearch.Solver[O, P]) *SteepestDescent[O, P] {
	return &SteepestDescent[O, P]{ops: ops, linesearch: ls}
}

// Name identifies the solver in observer output and checkpoints.
func (s *SteepestDescent[O, P]) Name() string { return "Steepest Descent" }

// Init is a no-op; the first iteration works directly on the configured
// initial parameter vector.
func (s *SteepestDescent[O, P]) Init(ctx context.Context, problem *core.Problem[O], state State[P]) (core.KV, error) {
	return nil, nil
}

// NextIter evaluates cost and gradient at the current iterate and runs the
// line search along the negated gradient. The objective moves into the
// nested run and back, folding the inner evaluation counts into problem.
func (s *SteepestDescent[O, P]) NextIter(ctx context.Context, problem *core.Problem[O], state State[P]) (core.KV, error) {
	param := state.TakeParam()
	if param == nil {
		return nil, fmt.Errorf("%w: steepest descent: initial parameter vector not set", core.ErrNotInitialized)
	}
	cost, err := core.EvalCost(problem, *param)
	if err != nil {
		return nil, err
	}
	grad, err := core.EvalGradient[O, P, P](problem, *param)
	if err != nil {
		return nil, err
	}

	s.linesearch.SetSearchDirection(s.ops.Scale(grad, -1))

	objective := problem.TakeProblem()
	if objective == nil {
		return nil, fmt.Errorf("%w: steepest descent: objective has been taken out of the problem", core.ErrPotentialBug)
	}
	res, err := core.NewExecutor[O, State[P]](*objective, s.linesearch).
		Configure(func(ls State[P]) State[P] {
			return ls.SetParam(*param).SetGradient(grad).SetCost(cost)
		}).
		Run(ctx)
	if err != nil {
		return nil, err
	}
	problem.ConsumeProblem(res.Problem)

	next := res.State.TakeParam()
	if next == nil {
		return nil, fmt.Errorf("%w: steepest descent: line search produced no parameter vector", core.ErrPotentialBug)
	}
	state.SetParam(*next).SetCost(res.State.Cost())
	return nil, nil
}

// Terminate has no solver specific criterion; runs stop on the iteration
// limit or the target cost.
func (s *SteepestDescent[O, P]) Terminate(state State[P]) core.TerminationStatus {
	return core.TerminationStatus{}
}

type steepestDescentJSON struct {
	LineSearch json.RawMessage `json:"linesearch"`
}

// MarshalJSON implements json.Marshaler for checkpointing.
func (s *SteepestDescent[O, P]) MarshalJSON() ([]byte, error) {
	ls, err := json.Marshal(s.linesearch)
	if err != nil {
		return nil, err
	}
	return json.Marshal(steepestDescentJSON{LineSearch: ls})
}

// UnmarshalJSON implements json.Unmarshaler. The line search and the vector
// arithmetic are not reconstructed from JSON, so the receiver must have
// been built with NewSteepestDescent around the same line search type.
func (s *SteepestDescent[O, P]) UnmarshalJSON(data []byte) error {
	var aux steepestDescentJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.LineSearch) == 0 {
		return nil
	}
	if s.linesearch == nil {
		return fmt.Errorf("%w: steepest descent: line search not set", core.ErrNotInitialized)
	}
	return json.Unmarshal(aux.LineSearch, s.linesearch)
}
