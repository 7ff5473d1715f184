package opt

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/descentlab/descent/core"
)

func TestRunSolversOnSphere(t *testing.T) {
	solvers := []string{"steepestdescent", "bfgs", "sr1", "cmaes", "particleswarm", "annealing"}
	for _, name := range solvers {
		t.Run(name, func(t *testing.T) {
			cfg := Config{
				Function: "sphere",
				Solver:   name,
				X0:       []float64{2, -1.5},
				MaxIters: 50,
				Seed:     42,
			}
			cfg.ApplyDefaults()

			res, err := Run(context.Background(), cfg, RunOptions{})
			if err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			if res.Iterations == 0 {
				t.Fatal("run finished without iterating")
			}
			if res.Termination == "" {
				t.Fatal("run finished without a termination reason")
			}
			best := float64(res.BestCost)
			if math.IsNaN(best) || math.IsInf(best, 0) {
				t.Fatalf("best cost = %v", best)
			}
			// sphere(2, -1.5) = 6.25; every solver should improve on the
			// starting point within 50 iterations.
			if best >= 6.25 {
				t.Fatalf("best cost = %v, want an improvement over 6.25", best)
			}
			if len(res.BestParam) != 2 {
				t.Fatalf("best param = %v, want dimension 2", res.BestParam)
			}
		})
	}
}

func TestRunReachesTargetCost(t *testing.T) {
	target := 1e-6
	cfg := Config{
		Function:   "sphere",
		Solver:     "bfgs",
		X0:         []float64{3, 4},
		MaxIters:   200,
		TargetCost: &target,
	}
	cfg.ApplyDefaults()

	res, err := Run(context.Background(), cfg, RunOptions{})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if float64(res.BestCost) > target {
		t.Fatalf("best cost = %v, want <= %v", res.BestCost, target)
	}
	if res.Termination != core.TargetCostReached {
		t.Fatalf("termination = %q, want %q", res.Termination, core.TargetCostReached)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := Config{Function: "sphere", Solver: "newton"}
	cfg.ApplyDefaults()

	if _, err := Run(context.Background(), cfg, RunOptions{}); !errors.Is(err, core.ErrInvalidParameter) {
		t.Fatalf("Run() error = %v, want ErrInvalidParameter", err)
	}
}

func TestRunReportsInterrupt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{
		Function: "sphere",
		Solver:   "steepestdescent",
		X0:       []float64{2, 2},
		MaxIters: 50,
	}
	cfg.ApplyDefaults()

	res, err := Run(ctx, cfg, RunOptions{})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Termination != core.Interrupt {
		t.Fatalf("termination = %q, want %q", res.Termination, core.Interrupt)
	}
}

func TestRunCallsProgressCallback(t *testing.T) {
	cfg := Config{
		Function: "sphere",
		Solver:   "steepestdescent",
		X0:       []float64{1, 1},
		MaxIters: 5,
	}
	cfg.ApplyDefaults()

	var samples []Progress
	opts := RunOptions{OnProgress: func(p Progress) { samples = append(samples, p) }}
	if _, err := Run(context.Background(), cfg, opts); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(samples) == 0 {
		t.Fatal("no progress samples delivered")
	}
	last := samples[len(samples)-1]
	if math.IsNaN(last.BestCost) {
		t.Fatalf("last progress sample has NaN best cost: %+v", last)
	}
}

func TestRunWritesCheckpointAndResumes(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Function: "sphere",
		Solver:   "steepestdescent",
		X0:       []float64{2, -1.5},
		MaxIters: 3,
	}
	cfg.ApplyDefaults()

	first, err := Run(context.Background(), cfg, RunOptions{CheckpointDir: dir})
	if err != nil {
		t.Fatalf("first Run() error: %v", err)
	}
	path := filepath.Join(dir, CheckpointName+".json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("checkpoint not written: %v", err)
	}

	// A resumed run restores the stored state wholesale, so a different
	// starting point must not influence the outcome.
	resumed := cfg
	resumed.X0 = []float64{100, 100}
	second, err := Run(context.Background(), resumed, RunOptions{CheckpointDir: dir})
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}
	if second.Iterations != first.Iterations {
		t.Fatalf("resumed iterations = %d, want %d", second.Iterations, first.Iterations)
	}
	if float64(second.BestCost) != float64(first.BestCost) {
		t.Fatalf("resumed best cost = %v, want %v", second.BestCost, first.BestCost)
	}
}

func TestRunWritesParamSnapshots(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Function: "sphere",
		Solver:   "steepestdescent",
		X0:       []float64{1, 1},
		MaxIters: 3,
	}
	cfg.ApplyDefaults()

	if _, err := Run(context.Background(), cfg, RunOptions{ParamDir: dir}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	for _, name := range []string{"params_init.json", "params_final.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("snapshot %s not written: %v", name, err)
		}
	}
}

func TestRunSeedsAreReproducible(t *testing.T) {
	cfg := Config{
		Function: "ackley",
		Solver:   "cmaes",
		X0:       []float64{2, 2},
		MaxIters: 20,
		Seed:     7,
	}
	cfg.ApplyDefaults()

	a, err := Run(context.Background(), cfg, RunOptions{})
	if err != nil {
		t.Fatalf("first Run() error: %v", err)
	}
	b, err := Run(context.Background(), cfg, RunOptions{})
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}
	if float64(a.BestCost) != float64(b.BestCost) {
		t.Fatalf("seeded runs diverged: %v vs %v", a.BestCost, b.BestCost)
	}
}

func TestNewObjectiveUnknownName(t *testing.T) {
	if _, err := NewObjective("griewank", nil); !errors.Is(err, core.ErrInvalidParameter) {
		t.Fatalf("NewObjective() error = %v, want ErrInvalidParameter", err)
	}
}
