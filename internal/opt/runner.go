package opt

import (
	"context"
	"fmt"
	"maps"
	"math/rand/v2"

	"github.com/descentlab/descent/checkpoint/file"
	"github.com/descentlab/descent/core"
	"github.com/descentlab/descent/linalg"
	"github.com/descentlab/descent/observer/costplot"
	"github.com/descentlab/descent/observer/paramwriter"
	"github.com/descentlab/descent/observer/slogger"
	"github.com/descentlab/descent/solver/cmaes"
	"github.com/descentlab/descent/solver/gradientdescent"
	"github.com/descentlab/descent/solver/linesearch"
	"github.com/descentlab/descent/solver/particleswarm"
	"github.com/descentlab/descent/solver/quasinewton"
	"github.com/descentlab/descent/solver/simulatedannealing"
	"github.com/descentlab/descent/solver/trustregion"
	"github.com/descentlab/descent/testfunc"
)

// CheckpointName is the file stem of run checkpoints inside a checkpoint
// directory.
const CheckpointName = "checkpoint"

// NewObjective builds the named test function. A non-nil rng seeds its
// annealing neighborhood sampling.
func NewObjective(name string, rng *rand.Rand) (Objective, error) {
	switch name {
	case "sphere":
		f := testfunc.NewSphere()
		if rng != nil {
			f = f.WithRng(rng)
		}
		return f, nil
	case "rosenbrock":
		f := testfunc.NewRosenbrock()
		if rng != nil {
			f = f.WithRng(rng)
		}
		return f, nil
	case "himmelblau":
		f := testfunc.NewHimmelblau()
		if rng != nil {
			f = f.WithRng(rng)
		}
		return f, nil
	case "ackley":
		f := testfunc.NewAckley()
		if rng != nil {
			f = f.WithRng(rng)
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: unknown function %q, want one of %v", core.ErrInvalidParameter, name, functions)
}

// Run executes the configured optimization and blocks until it terminates,
// the context is cancelled or the timeout fires. The config is validated
// first; defaults must already have been applied by the caller (both the
// CLI and the job server call ApplyDefaults before persisting the config,
// so a stored config replays identically).
func Run(ctx context.Context, cfg Config, opts RunOptions) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Two independent streams per seed: one for the solver, one for the
	// objective's annealing neighborhood. A zero seed keeps the solvers'
	// own default sources.
	var solverRng, objectiveRng *rand.Rand
	if cfg.Seed != 0 {
		solverRng = rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
		objectiveRng = rand.New(rand.NewPCG(cfg.Seed+1, cfg.Seed+1))
	}

	objective, err := NewObjective(cfg.Function, objectiveRng)
	if err != nil {
		return nil, err
	}

	ops := linalg.Slices{}

	switch cfg.Solver {
	case "steepestdescent":
		ls := linesearch.NewMoreThuente[Objective, []float64](ops)
		solver := gradientdescent.NewSteepestDescent[Objective, []float64](ops, ls)
		pw, err := maybeParamWriter[gradientdescent.State[[]float64]](opts)
		if err != nil {
			return nil, err
		}
		return execute[gradientdescent.State[[]float64]](ctx, objective, solver, cfg, opts,
			func(s gradientdescent.State[[]float64]) gradientdescent.State[[]float64] {
				return configureIterRun(s.SetParam(vectorCopy(cfg.X0)), cfg)
			},
			bestVector[gradientdescent.State[[]float64]], pw)

	case "bfgs":
		ls := linesearch.NewMoreThuente[Objective, []float64](ops)
		solver := quasinewton.NewBFGS[Objective, []float64, [][]float64](ops, ops.Eye(len(cfg.X0)), ls)
		pw, err := maybeParamWriter[quasinewton.State[[]float64, [][]float64]](opts)
		if err != nil {
			return nil, err
		}
		return execute[quasinewton.State[[]float64, [][]float64]](ctx, objective, solver, cfg, opts,
			func(s quasinewton.State[[]float64, [][]float64]) quasinewton.State[[]float64, [][]float64] {
				return configureIterRun(s.SetParam(vectorCopy(cfg.X0)), cfg)
			},
			bestVector[quasinewton.State[[]float64, [][]float64]], pw)

	case "sr1":
		subproblem := trustregion.NewSteihaug[Objective, []float64, [][]float64](ops)
		solver := quasinewton.NewSR1TrustRegion[Objective, []float64, [][]float64](ops, subproblem)
		pw, err := maybeParamWriter[quasinewton.State[[]float64, [][]float64]](opts)
		if err != nil {
			return nil, err
		}
		return execute[quasinewton.State[[]float64, [][]float64]](ctx, objective, solver, cfg, opts,
			func(s quasinewton.State[[]float64, [][]float64]) quasinewton.State[[]float64, [][]float64] {
				return configureIterRun(s.SetParam(vectorCopy(cfg.X0)), cfg)
			},
			bestVector[quasinewton.State[[]float64, [][]float64]], pw)

	case "annealing":
		solver, err := simulatedannealing.NewSimulatedAnnealing[Objective, []float64](cfg.InitTemp)
		if err != nil {
			return nil, err
		}
		if solverRng != nil {
			solver = solver.WithRng(solverRng)
		}
		pw, err := maybeParamWriter[simulatedannealing.State[[]float64]](opts)
		if err != nil {
			return nil, err
		}
		return execute[simulatedannealing.State[[]float64]](ctx, objective, solver, cfg, opts,
			func(s simulatedannealing.State[[]float64]) simulatedannealing.State[[]float64] {
				return configureIterRun(s.SetParam(vectorCopy(cfg.X0)), cfg)
			},
			bestVector[simulatedannealing.State[[]float64]], pw)

	case "cmaes":
		solver := cmaes.NewCMAES[Objective, []float64, [][]float64](ops, vectorCopy(cfg.X0), cfg.Sigma, cfg.Lambda)
		if solverRng != nil {
			solver = solver.WithRng(solverRng)
		}
		return execute[cmaes.State[[]float64]](ctx, objective, solver, cfg, opts,
			func(s cmaes.State[[]float64]) cmaes.State[[]float64] {
				return configureIterRun(s, cfg)
			},
			func(s cmaes.State[[]float64]) []float64 {
				if best := s.BestIndividual(); best != nil {
					return vectorCopy(*best)
				}
				return nil
			})

	case "particleswarm":
		solver := particleswarm.NewParticleSwarm[Objective, []float64](
			ops, vectorCopy(cfg.LowerBound), vectorCopy(cfg.UpperBound), cfg.Particles)
		if solverRng != nil {
			solver = solver.WithRng(solverRng)
		}
		return execute[particleswarm.State[[]float64]](ctx, objective, solver, cfg, opts,
			func(s particleswarm.State[[]float64]) particleswarm.State[[]float64] {
				return configureIterRun(s, cfg)
			},
			func(s particleswarm.State[[]float64]) []float64 {
				if best := s.BestIndividual(); best != nil {
					return vectorCopy(best.BestPosition)
				}
				return nil
			})
	}

	return nil, fmt.Errorf("%w: unknown solver %q, want one of %v", core.ErrInvalidParameter, cfg.Solver, solvers)
}

// execute runs a fully assembled solver through the executor and flattens
// the typed result. The configure and best callbacks absorb the state type
// differences between the solver families.
func execute[S core.State[S]](
	ctx context.Context,
	objective Objective,
	solver core.Solver[Objective, S],
	cfg Config,
	opts RunOptions,
	configure func(S) S,
	best func(S) []float64,
	extra ...core.Observer[S],
) (*Result, error) {
	exec := core.NewExecutor[Objective, S](objective, solver).Configure(configure)

	if opts.Logger != nil {
		exec.AddObserver(slogger.New[S](opts.Logger), core.ObserveAlways)
	}
	if opts.OnProgress != nil {
		exec.AddObserver(&progressObserver[S]{fn: opts.OnProgress}, core.ObserveAlways)
	}
	if opts.PlotPath != "" {
		exec.AddObserver(costplot.New[S](opts.PlotPath), core.ObserveAlways)
	}
	for _, o := range extra {
		if o != nil {
			exec.AddObserver(o, core.ObserveAlways)
		}
	}

	if opts.CheckpointDir != "" {
		freq := core.CheckpointAlways
		if opts.CheckpointEvery > 0 {
			freq = core.CheckpointEvery(opts.CheckpointEvery)
		}
		exec.Checkpointing(file.New[core.Solver[Objective, S], S](opts.CheckpointDir, CheckpointName, freq))
	}
	if opts.Timeout > 0 {
		exec.Timeout(opts.Timeout)
	}
	if cfg.Concurrency > 0 {
		exec.BulkConcurrency(cfg.Concurrency)
	}

	res, err := exec.Run(ctx)
	if err != nil {
		return nil, err
	}
	return &Result{
		BestParam:    best(res.State),
		BestCost:     core.Float(res.State.BestCost()),
		Iterations:   res.State.Iter(),
		LastBestIter: res.State.LastBestIter(),
		Termination:  res.State.TerminationStatus().Reason,
		FuncCounts:   maps.Clone(res.State.Counts()),
		Elapsed:      res.State.Time(),
		Summary:      res.String(),
	}, nil
}

// configureIterRun applies the run limits shared by every state family.
func configureIterRun[S interface {
	SetMaxIters(uint64) S
	SetTargetCost(float64) S
}](s S, cfg Config) S {
	s = s.SetMaxIters(cfg.MaxIters)
	if cfg.TargetCost != nil {
		s = s.SetTargetCost(*cfg.TargetCost)
	}
	return s
}

// bestVector copies the best parameter out of an iterate-based state.
func bestVector[S paramwriter.ParamState[[]float64]](s S) []float64 {
	if best := s.BestParam(); best != nil {
		return vectorCopy(*best)
	}
	return nil
}

// maybeParamWriter builds the parameter snapshot observer when a snapshot
// directory is configured. Only the iterate-based solvers expose the
// parameter accessors it needs.
func maybeParamWriter[S interface {
	core.State[S]
	paramwriter.ParamState[[]float64]
}](opts RunOptions) (core.Observer[S], error) {
	if opts.ParamDir == "" {
		return nil, nil
	}
	prefix := opts.ParamPrefix
	if prefix == "" {
		prefix = "params"
	}
	return paramwriter.New[S, []float64](opts.ParamDir, prefix)
}

func vectorCopy(v []float64) []float64 {
	return append([]float64(nil), v...)
}

// progressObserver forwards per-iteration samples to a callback. The job
// server uses it to stream live updates without knowing the state type.
type progressObserver[S core.State[S]] struct {
	fn func(Progress)
}

func (o *progressObserver[S]) ObserveInit(name string, state S, kv core.KV) error { return nil }

func (o *progressObserver[S]) ObserveIter(state S, kv core.KV) error {
	o.fn(Progress{Iter: state.Iter(), Cost: state.Cost(), BestCost: state.BestCost()})
	return nil
}

func (o *progressObserver[S]) ObserveFinal(state S) error {
	o.fn(Progress{Iter: state.Iter(), Cost: state.Cost(), BestCost: state.BestCost()})
	return nil
}
