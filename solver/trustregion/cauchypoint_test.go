package trustregion

import (
	"context"
	"errors"
	"testing"

	"github.com/descentlab/descent/core"
	"github.com/descentlab/descent/linalg"
)

func TestCauchyPoint_StepsToBoundaryOnFlatCurvature(t *testing.T) {
	sub := NewCauchyPoint[sphere, []float64, [][]float64](linalg.Slices{})
	sub.SetRadius(2)

	// A zero Hessian leaves no curvature along the gradient, so the full
	// step to the boundary is taken.
	res, err := core.NewExecutor[sphere, State[[]float64, [][]float64]](sphere{}, sub).
		Configure(func(s State[[]float64, [][]float64]) State[[]float64, [][]float64] {
			return s.SetGradient([]float64{3, 4}).SetHessian([][]float64{{0, 0}, {0, 0}})
		}).
		Run(context.Background())
	if err != nil {
		t.Fatalf("Failed to run CauchyPoint: %v", err)
	}

	if reason := res.State.TerminationStatus().Reason; reason != core.MaxItersReached {
		t.Errorf("Expected termination reason %v, got %v", core.MaxItersReached, reason)
	}
	if iter := res.State.Iter(); iter != 1 {
		t.Errorf("Expected exactly one iteration, got %d", iter)
	}
	step := res.State.Param()
	if step == nil {
		t.Fatal("Expected a step in the final state")
	}
	// The gradient has norm 5, so the boundary step is -(2/5) * (3, 4).
	if want := []float64{-1.2, -1.6}; !floatsEqual(*step, want, 1e-12) {
		t.Errorf("Expected step %v, got %v", want, *step)
	}
}

func TestCauchyPoint_StopsAtInteriorModelMinimizer(t *testing.T) {
	sub := NewCauchyPoint[sphere, []float64, [][]float64](linalg.Slices{})
	sub.SetRadius(2)

	// Gradient and Hessian of the sphere at (1, 0): the model minimizer
	// along -grad is the origin, reached with the step (-1, 0) of norm 1,
	// well inside the radius.
	res, err := core.NewExecutor[sphere, State[[]float64, [][]float64]](sphere{}, sub).
		Configure(func(s State[[]float64, [][]float64]) State[[]float64, [][]float64] {
			return s.SetGradient([]float64{2, 0}).SetHessian([][]float64{{2, 0}, {0, 2}})
		}).
		Run(context.Background())
	if err != nil {
		t.Fatalf("Failed to run CauchyPoint: %v", err)
	}

	step := res.State.Param()
	if step == nil {
		t.Fatal("Expected a step in the final state")
	}
	if want := []float64{-1, 0}; !floatsEqual(*step, want, 1e-15) {
		t.Errorf("Expected step %v, got %v", want, *step)
	}
}

func TestCauchyPoint_EvaluatesMissingDerivatives(t *testing.T) {
	sub := NewCauchyPoint[sphere, []float64, [][]float64](linalg.Slices{})
	sub.SetRadius(2)

	// Only the parameter vector is configured; gradient and Hessian come
	// from the objective.
	res, err := core.NewExecutor[sphere, State[[]float64, [][]float64]](sphere{}, sub).
		Configure(func(s State[[]float64, [][]float64]) State[[]float64, [][]float64] {
			return s.SetParam([]float64{1, 0})
		}).
		Run(context.Background())
	if err != nil {
		t.Fatalf("Failed to run CauchyPoint: %v", err)
	}

	counts := res.State.Counts()
	if got := counts["gradient_count"]; got != 1 {
		t.Errorf("Expected 1 gradient evaluation, got %d", got)
	}
	if got := counts["hessian_count"]; got != 1 {
		t.Errorf("Expected 1 Hessian evaluation, got %d", got)
	}
	step := res.State.Param()
	if step == nil {
		t.Fatal("Expected a step in the final state")
	}
	if want := []float64{-1, 0}; !floatsEqual(*step, want, 1e-15) {
		t.Errorf("Expected step %v, got %v", want, *step)
	}
}

func TestCauchyPoint_MissingState(t *testing.T) {
	sub := NewCauchyPoint[sphere, []float64, [][]float64](linalg.Slices{})
	sub.SetRadius(2)

	_, err := core.NewExecutor[sphere, State[[]float64, [][]float64]](sphere{}, sub).
		Run(context.Background())
	if !errors.Is(err, core.ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized without parameter vector and gradient, got %v", err)
	}
}
