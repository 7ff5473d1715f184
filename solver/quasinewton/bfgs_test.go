package quasinewton

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/descentlab/descent/core"
	"github.com/descentlab/descent/linalg"
	"github.com/descentlab/descent/solver/linesearch"
)

var _ core.Solver[sphere, State[[]float64, [][]float64]] = (*BFGS[sphere, []float64, [][]float64])(nil)

// sphere is f(x) = x.x with gradient 2x and constant Hessian 2I.
type sphere struct{}

func (sphere) Cost(x []float64) (float64, error) {
	cost := 0.0
	for _, v := range x {
		cost += v * v
	}
	return cost, nil
}

func (sphere) Gradient(x []float64) ([]float64, error) {
	grad := make([]float64, len(x))
	for i, v := range x {
		grad[i] = 2 * v
	}
	return grad, nil
}

func (sphere) Hessian(x []float64) ([][]float64, error) {
	hessian := make([][]float64, len(x))
	for i := range hessian {
		hessian[i] = make([]float64, len(x))
		hessian[i][i] = 2
	}
	return hessian, nil
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

func TestBFGS_ConvergesOnSphere(t *testing.T) {
	ls := linesearch.NewMoreThuente[sphere, []float64](linalg.Slices{})
	solver := NewBFGS[sphere, []float64, [][]float64](linalg.Slices{}, [][]float64{{1, 0}, {0, 1}}, ls)

	res, err := core.NewExecutor[sphere, State[[]float64, [][]float64]](sphere{}, solver).
		Configure(func(s State[[]float64, [][]float64]) State[[]float64, [][]float64] {
			return s.SetParam([]float64{1, 0}).SetMaxIters(10)
		}).
		Run(context.Background())
	if err != nil {
		t.Fatalf("Failed to run BFGS: %v", err)
	}

	if reason := res.State.TerminationStatus().Reason; reason != core.TargetPrecisionReached {
		t.Errorf("Expected termination reason %v, got %v", core.TargetPrecisionReached, reason)
	}
	// The line search steps straight to the minimizer, so the gradient
	// norm drops below the tolerance after one iteration.
	if iter := res.State.Iter(); iter != 1 {
		t.Errorf("Expected one iteration, got %d", iter)
	}
	best := res.State.BestParam()
	if best == nil {
		t.Fatal("Expected a best parameter vector")
	}
	if want := []float64{0, 0}; !floatsEqual(*best, want, 1e-15) {
		t.Errorf("Expected best parameter vector %v, got %v", want, *best)
	}
	if cost := res.State.BestCost(); cost != 0 {
		t.Errorf("Expected best cost 0, got %v", cost)
	}

	counts := res.State.Counts()
	if got := counts["cost_count"]; got != 3 {
		t.Errorf("Expected 3 cost evaluations, got %d", got)
	}
	if got := counts["gradient_count"]; got != 4 {
		t.Errorf("Expected 4 gradient evaluations, got %d", got)
	}

	// One update of the identity with sk = (-1, 0), yk = (-2, 0).
	invHessian := res.State.InvHessian()
	if invHessian == nil {
		t.Fatal("Expected an inverse Hessian approximation")
	}
	want := [][]float64{{0.5, 0}, {0, 1}}
	for i := range want {
		if !floatsEqual((*invHessian)[i], want[i], 1e-15) {
			t.Errorf("Expected inverse Hessian row %d to be %v, got %v", i, want[i], (*invHessian)[i])
			break
		}
	}
}

func TestBFGS_StopsOnSmallCostChange(t *testing.T) {
	ls := linesearch.NewMoreThuente[sphere, []float64](linalg.Slices{})
	solver := NewBFGS[sphere, []float64, [][]float64](linalg.Slices{}, [][]float64{{1, 0}, {0, 1}}, ls).
		WithTolGrad(0).
		WithTolCost(2)

	res, err := core.NewExecutor[sphere, State[[]float64, [][]float64]](sphere{}, solver).
		Configure(func(s State[[]float64, [][]float64]) State[[]float64, [][]float64] {
			return s.SetParam([]float64{1, 0}).SetMaxIters(10)
		}).
		Run(context.Background())
	if err != nil {
		t.Fatalf("Failed to run BFGS: %v", err)
	}

	// The gradient criterion is disabled, so the drop from cost 1 to 0,
	// below the configured cost tolerance, stops the run instead.
	if reason := res.State.TerminationStatus().Reason; reason != core.SolverConverged {
		t.Errorf("Expected termination reason %v, got %v", core.SolverConverged, reason)
	}
	if iter := res.State.Iter(); iter != 1 {
		t.Errorf("Expected one iteration, got %d", iter)
	}
}

func TestBFGS_MissingParameter(t *testing.T) {
	ls := linesearch.NewMoreThuente[sphere, []float64](linalg.Slices{})
	solver := NewBFGS[sphere, []float64, [][]float64](linalg.Slices{}, [][]float64{{1, 0}, {0, 1}}, ls)

	_, err := core.NewExecutor[sphere, State[[]float64, [][]float64]](sphere{}, solver).
		Run(context.Background())
	if !errors.Is(err, core.ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized without parameter vector, got %v", err)
	}
}
