package cmaes

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/descentlab/descent/core"
	"github.com/descentlab/descent/linalg"
)

var _ core.Solver[sphere, State[[]float64]] = (*CMAES[sphere, []float64, [][]float64])(nil)

// sphere is f(x) = sum x_i^2, minimal at the origin.
type sphere struct{}

func (sphere) Cost(x []float64) (float64, error) {
	total := 0.0
	for _, v := range x {
		total += v * v
	}
	return total, nil
}

func TestCMAES_ConstantDerivation(t *testing.T) {
	solver := NewCMAES[sphere, []float64, [][]float64](linalg.Slices{}, []float64{1, 2}, 4, 5)

	if solver.dim != 2 {
		t.Errorf("Expected dim 2, got %d", solver.dim)
	}
	if solver.mu != 2 {
		t.Errorf("Expected mu 2, got %d", solver.mu)
	}
	if len(solver.weights) != 2 {
		t.Fatalf("Expected 2 weights, got %d", len(solver.weights))
	}

	constants := []struct {
		name string
		got  float64
		want float64
	}{
		{"weights[0]", solver.weights[0], 0.8042},
		{"weights[1]", solver.weights[1], 0.1958},
		{"mueff", solver.mueff, 1.4598},
		{"cs", solver.cs, 0.5356},
		{"cc", solver.cc, 0.6667},
		{"ccov1", solver.ccov1, 0.1619},
		{"ccovmu", solver.ccovmu, 0.0166},
		{"chiN", solver.chiN, 1.2543},
		{"damps", solver.damps, 1.5356},
	}
	for _, c := range constants {
		if math.Abs(c.got-c.want) > 1e-4 {
			t.Errorf("Expected %s %v within 1e-4, got %v", c.name, c.want, c.got)
		}
	}

	// The identity covariance seeds B diag(D) as the identity and both
	// evolution paths as zero.
	bdSum := 0.0
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			bdSum += solver.bd[i][j]
		}
	}
	if math.Abs(bdSum-2) > 1e-4 {
		t.Errorf("Expected the entries of B diag(D) to sum to 2, got %v", bdSum)
	}
	if norm := (linalg.Slices{}).Norm(solver.ps); norm != 0 {
		t.Errorf("Expected zero step size path, got norm %v", norm)
	}
	if norm := (linalg.Slices{}).Norm(solver.pc); norm != 0 {
		t.Errorf("Expected zero covariance path, got norm %v", norm)
	}
}

func TestCMAES_ParameterValidation(t *testing.T) {
	problem := core.NewProblem(sphere{})
	state := core.NewPopulationState[[]float64]()

	for _, lambda := range []int{0, 1} {
		solver := NewCMAES[sphere, []float64, [][]float64](linalg.Slices{}, []float64{1, 2}, 1, lambda)
		if _, err := solver.Init(context.Background(), problem, state); !errors.Is(err, core.ErrInvalidParameter) {
			t.Errorf("Expected ErrInvalidParameter for lambda %d, got %v", lambda, err)
		}
	}
	for _, sigma := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		solver := NewCMAES[sphere, []float64, [][]float64](linalg.Slices{}, []float64{1, 2}, sigma, 8)
		if _, err := solver.Init(context.Background(), problem, state); !errors.Is(err, core.ErrInvalidParameter) {
			t.Errorf("Expected ErrInvalidParameter for sigma %v, got %v", sigma, err)
		}
	}

	solver := NewCMAES[sphere, []float64, [][]float64](linalg.Slices{}, []float64{1, 2}, 1, 2)
	if _, err := solver.Init(context.Background(), problem, state); err != nil {
		t.Errorf("Expected lambda 2 and sigma 1 to be accepted, got %v", err)
	}
}

func TestCMAES_ConvergesOnSphere(t *testing.T) {
	solver := NewCMAES[sphere, []float64, [][]float64](linalg.Slices{}, []float64{3, 4}, 3, 16).
		WithRng(rand.New(rand.NewPCG(17, 23)))

	res, err := core.NewExecutor[sphere, State[[]float64]](sphere{}, solver).
		Configure(func(s State[[]float64]) State[[]float64] {
			return s.SetMaxIters(120)
		}).
		BulkConcurrency(4).
		Run(context.Background())
	if err != nil {
		t.Fatalf("Failed to run CMAES: %v", err)
	}

	if reason := res.State.TerminationStatus().Reason; reason != core.MaxItersReached {
		t.Errorf("Expected termination reason %v, got %v", core.MaxItersReached, reason)
	}
	// A healthy run lands around 1e-30 here; the thresholds leave room
	// for unlucky draw sequences.
	if cost := res.State.BestCost(); cost > 1e-12 {
		t.Errorf("Expected best cost at most 1e-12, got %v", cost)
	}
	best := res.State.BestIndividual()
	if best == nil {
		t.Fatal("Expected a best individual")
	}
	if len(*best) != 2 {
		t.Fatalf("Expected a two-dimensional best individual, got %v", *best)
	}
	for i, x := range *best {
		if math.Abs(x) > 1e-6 {
			t.Errorf("Expected best individual component %d near 0, got %v", i, x)
		}
	}
	if got := res.State.Counts()["cost_count"]; got != 16*120 {
		t.Errorf("Expected %d cost evaluations, got %d", 16*120, got)
	}

	population := res.State.Population()
	if len(population) != 16 {
		t.Fatalf("Expected a population of 16, got %d", len(population))
	}
	genMin := math.Inf(1)
	for _, individual := range population {
		cost, costErr := sphere{}.Cost(individual)
		if costErr != nil {
			t.Fatalf("Failed to evaluate individual: %v", costErr)
		}
		genMin = math.Min(genMin, cost)
	}
	if cost := res.State.Cost(); cost != genMin {
		t.Errorf("Expected the current cost to be the generation minimum %v, got %v", genMin, cost)
	}
}

func TestCMAES_ClampsStepSizeOverflow(t *testing.T) {
	solver := NewCMAES[sphere, []float64, [][]float64](linalg.Slices{}, []float64{1, 2}, 1, 8).
		WithRng(rand.New(rand.NewPCG(5, 7)))
	// A gigantic step size path makes the exponential update overflow no
	// matter what the generation looks like.
	solver.ps = []float64{1e200, 0}

	state := core.NewPopulationState[[]float64]()
	if _, err := solver.NextIter(context.Background(), core.NewProblem(sphere{}), state); err != nil {
		t.Fatalf("Failed to run iteration: %v", err)
	}
	if solver.sigma != math.MaxFloat64 {
		t.Errorf("Expected sigma clamped to MaxFloat64, got %v", solver.sigma)
	}
}
