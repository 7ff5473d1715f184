package gradientdescent

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/descentlab/descent/core"
	"github.com/descentlab/descent/linalg"
	"github.com/descentlab/descent/solver/linesearch"
)

var _ core.Solver[sphere, State[[]float64]] = (*SteepestDescent[sphere, []float64])(nil)

// sphere is f(x) = sum of x_i^2 with gradient 2x, minimal at the origin.
type sphere struct{}

func (sphere) Cost(param []float64) (float64, error) {
	sum := 0.0
	for _, x := range param {
		sum += x * x
	}
	return sum, nil
}

func (sphere) Gradient(param []float64) ([]float64, error) {
	grad := make([]float64, len(param))
	for i, x := range param {
		grad[i] = 2 * x
	}
	return grad, nil
}

func floatsEqual(got, want []float64, tol float64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			return false
		}
	}
	return true
}

func TestSteepestDescent_ConvergesOnSphere(t *testing.T) {
	cond, err := linesearch.NewArmijoCondition(1e-4)
	if err != nil {
		t.Fatalf("Failed to construct condition: %v", err)
	}
	ls := linesearch.NewBacktracking[sphere, []float64](linalg.Slices{}, cond)
	if err := ls.SetInitialStepLength(0.8); err != nil {
		t.Fatalf("Failed to set initial step length: %v", err)
	}
	sd := NewSteepestDescent[sphere, []float64](linalg.Slices{}, ls)

	res, err := core.NewExecutor[sphere, State[[]float64]](sphere{}, sd).
		Configure(func(s State[[]float64]) State[[]float64] {
			return s.SetParam([]float64{-1, 0}).SetMaxIters(50).SetTargetCost(1e-6)
		}).
		Run(context.Background())
	if err != nil {
		t.Fatalf("Failed to run steepest descent: %v", err)
	}

	if got := res.State.TerminationStatus().Reason; got != core.TargetCostReached {
		t.Errorf("Expected TargetCostReached, got %q", got)
	}
	if got := res.State.BestCost(); got > 1e-6 {
		t.Errorf("Expected best cost below the target, got %v", got)
	}
	// Every outer iteration accepts the first trial step and scales the
	// iterate by -0.6, so the cost shrinks by 0.36 per iteration.
	if got := res.State.Iter(); got != 14 {
		t.Errorf("Expected 14 iterations, got %d", got)
	}
	best := res.State.BestParam()
	if best == nil {
		t.Fatalf("Failed to produce a best parameter vector")
	}
	if !floatsEqual(*best, []float64{0, 0}, 1e-2) {
		t.Errorf("Expected best parameter close to the origin, got %v", *best)
	}
}

func TestSteepestDescent_CountsNestedEvaluations(t *testing.T) {
	ls := linesearch.NewMoreThuente[sphere, []float64](linalg.Slices{})
	sd := NewSteepestDescent[sphere, []float64](linalg.Slices{}, ls)

	res, err := core.NewExecutor[sphere, State[[]float64]](sphere{}, sd).
		Configure(func(s State[[]float64]) State[[]float64] {
			return s.SetParam([]float64{1.5, 2}).SetMaxIters(1)
		}).
		Run(context.Background())
	if err != nil {
		t.Fatalf("Failed to run steepest descent: %v", err)
	}

	if got := res.State.TerminationStatus().Reason; got != core.MaxItersReached {
		t.Errorf("Expected MaxItersReached, got %q", got)
	}
	param := res.State.Param()
	if param == nil {
		t.Fatalf("Failed to produce a parameter vector")
	}
	if !floatsEqual(*param, []float64{0, 0}, 1e-15) {
		t.Errorf("Expected parameter at the origin, got %v", *param)
	}
	if got := res.State.Cost(); got != 0 {
		t.Errorf("Expected cost 0, got %v", got)
	}
	// One cost and gradient evaluation in the outer iteration, two of each
	// in the nested line search run, folded back via ConsumeProblem.
	if got := res.State.Counts()["cost_count"]; got != 3 {
		t.Errorf("Expected 3 cost evaluations, got %d", got)
	}
	if got := res.State.Counts()["gradient_count"]; got != 3 {
		t.Errorf("Expected 3 gradient evaluations, got %d", got)
	}
}

func TestSteepestDescent_MissingParameter(t *testing.T) {
	ls := linesearch.NewMoreThuente[sphere, []float64](linalg.Slices{})
	sd := NewSteepestDescent[sphere, []float64](linalg.Slices{}, ls)

	_, err := core.NewExecutor[sphere, State[[]float64]](sphere{}, sd).
		Run(context.Background())
	if !errors.Is(err, core.ErrNotInitialized) {
		t.Errorf("Expected not initialized error, got %v", err)
	}
}
