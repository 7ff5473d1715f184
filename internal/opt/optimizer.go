// Package opt assembles typed optimization runs from plain configuration.
// It is the bridge between the string-keyed outer surface (CLI flags, API
// requests, stored run metadata) and the generic engine: it picks the
// objective and solver, builds the executor with observers, checkpointing
// and cancellation wired up, and flattens the generic result into a shape
// the callers can serialize.
package opt

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/descentlab/descent/core"
)

// Objective is the capability surface the bundled test functions provide.
// Every solver offered here constrains its objective with a subset of it.
type Objective interface {
	core.CostFunction[[]float64]
	core.Gradient[[]float64, []float64]
	core.Hessian[[]float64, [][]float64]
	core.Anneal[[]float64]
}

var (
	functions = []string{"sphere", "rosenbrock", "himmelblau", "ackley"}
	solvers   = []string{"steepestdescent", "bfgs", "sr1", "cmaes", "particleswarm", "annealing"}
)

// Functions lists the available objective names.
func Functions() []string { return append([]string(nil), functions...) }

// Solvers lists the available solver names.
func Solvers() []string { return append([]string(nil), solvers...) }

// Config describes a run. It is the serializable part of a run request,
// shared between the CLI, the job server API and stored run metadata.
type Config struct {
	// Function names the objective, one of Functions().
	Function string `json:"function"`

	// Solver names the method, one of Solvers().
	Solver string `json:"solver"`

	// X0 is the initial parameter vector. For CMA-ES it is the initial
	// centroid; for the particle swarm it only fixes the dimension.
	X0 []float64 `json:"x0,omitempty"`

	// MaxIters limits the number of iterations.
	MaxIters uint64 `json:"maxIters,omitempty"`

	// TargetCost stops the run once the best cost drops to or below it.
	TargetCost *float64 `json:"targetCost,omitempty"`

	// Seed makes the stochastic solvers reproducible. Zero draws from
	// the shared source.
	Seed uint64 `json:"seed,omitempty"`

	// InitTemp is the initial temperature of simulated annealing.
	InitTemp float64 `json:"initTemp,omitempty"`

	// Sigma is the initial step size of CMA-ES.
	Sigma float64 `json:"sigma,omitempty"`

	// Lambda is the CMA-ES population size.
	Lambda int `json:"lambda,omitempty"`

	// Particles is the particle swarm size.
	Particles int `json:"particles,omitempty"`

	// LowerBound and UpperBound are the particle swarm search window,
	// elementwise over the dimension of X0.
	LowerBound []float64 `json:"lowerBound,omitempty"`
	UpperBound []float64 `json:"upperBound,omitempty"`

	// Concurrency lets population solvers evaluate generations on up to
	// this many goroutines.
	Concurrency int `json:"concurrency,omitempty"`
}

// ApplyDefaults fills unset fields with workable defaults. Function and
// Solver are left alone; they must be chosen explicitly.
func (c *Config) ApplyDefaults() {
	if c.X0 == nil {
		c.X0 = []float64{-1.2, 1}
	}
	if c.MaxIters == 0 {
		c.MaxIters = 100
	}
	if c.InitTemp == 0 {
		c.InitTemp = 10
	}
	if c.Sigma == 0 {
		c.Sigma = 1
	}
	if c.Lambda == 0 {
		c.Lambda = 20
	}
	if c.Particles == 0 {
		c.Particles = 40
	}
	if c.LowerBound == nil && c.UpperBound == nil {
		c.LowerBound = uniformVector(len(c.X0), -5)
		c.UpperBound = uniformVector(len(c.X0), 5)
	}
}

func uniformVector(n int, x float64) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = x
	}
	return v
}

// Validate checks the configuration for a runnable combination. It is
// called by Run but exposed so API handlers can reject bad requests
// before spawning a job.
func (c *Config) Validate() error {
	if !contains(functions, c.Function) {
		return fmt.Errorf("%w: unknown function %q, want one of %v", core.ErrInvalidParameter, c.Function, functions)
	}
	if !contains(solvers, c.Solver) {
		return fmt.Errorf("%w: unknown solver %q, want one of %v", core.ErrInvalidParameter, c.Solver, solvers)
	}
	if len(c.X0) == 0 {
		return fmt.Errorf("%w: x0 must not be empty", core.ErrInvalidParameter)
	}
	if c.MaxIters == 0 {
		return fmt.Errorf("%w: maxIters must be positive", core.ErrInvalidParameter)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("%w: concurrency must not be negative", core.ErrInvalidParameter)
	}
	switch c.Solver {
	case "annealing":
		if !(c.InitTemp > 0) {
			return fmt.Errorf("%w: initTemp must be positive", core.ErrInvalidParameter)
		}
	case "cmaes":
		if !(c.Sigma > 0) {
			return fmt.Errorf("%w: sigma must be positive", core.ErrInvalidParameter)
		}
		if c.Lambda < 2 {
			return fmt.Errorf("%w: lambda must be at least 2", core.ErrInvalidParameter)
		}
	case "particleswarm":
		if c.Particles < 1 {
			return fmt.Errorf("%w: particles must be positive", core.ErrInvalidParameter)
		}
		if len(c.LowerBound) != len(c.X0) || len(c.UpperBound) != len(c.X0) {
			return fmt.Errorf("%w: bounds must match the dimension of x0", core.ErrInvalidParameter)
		}
		for i := range c.LowerBound {
			if !(c.LowerBound[i] < c.UpperBound[i]) {
				return fmt.Errorf("%w: lower bound must be below upper bound in every dimension", core.ErrInvalidParameter)
			}
		}
	}
	return nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// Progress is a per-iteration sample handed to RunOptions.OnProgress.
type Progress struct {
	Iter     uint64
	Cost     float64
	BestCost float64
}

// RunOptions carries the non-serializable parts of a run: where to log,
// checkpoint and plot, and who to tell about progress.
type RunOptions struct {
	// Logger receives per-iteration slog records; nil disables logging.
	Logger *slog.Logger

	// OnProgress is called after every iteration; nil disables it.
	OnProgress func(Progress)

	// CheckpointDir enables file checkpointing when non-empty. The
	// checkpoint is written as <CheckpointDir>/checkpoint.json and an
	// existing one is restored at the start of the run.
	CheckpointDir string

	// CheckpointEvery saves every n-th iteration; zero means every
	// iteration once CheckpointDir is set.
	CheckpointEvery uint64

	// ParamDir enables per-iteration parameter snapshots for the
	// iterate-based solvers; empty disables them. Population solvers
	// ignore it.
	ParamDir string

	// ParamPrefix names the snapshot files; defaults to "params".
	ParamPrefix string

	// PlotPath renders a cost chart PNG there when non-empty.
	PlotPath string

	// Timeout aborts the run after the given wall clock duration.
	Timeout time.Duration
}

// Result is the flattened outcome of a run.
type Result struct {
	BestParam    []float64              `json:"bestParam,omitempty"`
	BestCost     core.Float             `json:"bestCost"`
	Iterations   uint64                 `json:"iterations"`
	LastBestIter uint64                 `json:"lastBestIter"`
	Termination  core.TerminationReason `json:"termination"`
	FuncCounts   map[string]uint64      `json:"funcCounts,omitempty"`
	Elapsed      *time.Duration         `json:"elapsed,omitempty"`

	// Summary is the engine's human-readable result rendering.
	Summary string `json:"-"`
}
