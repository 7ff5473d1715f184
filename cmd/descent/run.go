package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/descentlab/descent/internal/opt"
	"github.com/descentlab/descent/internal/store"
)

var runFlags struct {
	function        string
	solver          string
	x0              []float64
	maxIters        uint64
	targetCost      float64
	seed            uint64
	initTemp        float64
	sigma           float64
	lambda          int
	particles       int
	lowerBound      []float64
	upperBound      []float64
	concurrency     int
	checkpointDir   string
	checkpointEvery uint64
	plotPath        string
	writeParams     string
	timeout         time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an optimization",
	Long: `Runs the chosen solver against a test function and prints the result
summary. With --checkpoint-dir the run is registered under a fresh run id
and periodically checkpointed, so it can be picked up again with
"descent resume".`,
	RunE: runOptimization,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.function, "function", "sphere",
		"Objective function ("+strings.Join(opt.Functions(), ", ")+")")
	f.StringVar(&runFlags.solver, "solver", "bfgs",
		"Solver ("+strings.Join(opt.Solvers(), ", ")+")")
	f.Float64SliceVar(&runFlags.x0, "x0", []float64{-1.2, 1}, "Initial parameter vector")
	f.Uint64Var(&runFlags.maxIters, "max-iters", 100, "Maximum number of iterations")
	f.Float64Var(&runFlags.targetCost, "target-cost", 0, "Stop once the best cost reaches this value")
	f.Uint64Var(&runFlags.seed, "seed", 0, "Random seed for stochastic solvers (0 = nondeterministic)")
	f.Float64Var(&runFlags.initTemp, "init-temp", 10, "Initial temperature (annealing)")
	f.Float64Var(&runFlags.sigma, "sigma", 1, "Initial step size (cmaes)")
	f.IntVar(&runFlags.lambda, "lambda", 20, "Population size (cmaes)")
	f.IntVar(&runFlags.particles, "particles", 40, "Swarm size (particleswarm)")
	f.Float64SliceVar(&runFlags.lowerBound, "lower-bound", nil, "Search window lower bound (particleswarm)")
	f.Float64SliceVar(&runFlags.upperBound, "upper-bound", nil, "Search window upper bound (particleswarm)")
	f.IntVar(&runFlags.concurrency, "concurrency", 0, "Parallel cost evaluations for population solvers (0 = sequential)")
	f.StringVar(&runFlags.checkpointDir, "checkpoint-dir", "", "Data directory for run checkpoints and metadata")
	f.Uint64Var(&runFlags.checkpointEvery, "checkpoint-every", 0, "Save a checkpoint every N iterations (0 = every iteration)")
	f.StringVar(&runFlags.plotPath, "plot", "", "Write a cost chart PNG to this path")
	f.StringVar(&runFlags.writeParams, "write-params", "", "Write per-iteration parameter snapshots into this directory")
	f.DurationVar(&runFlags.timeout, "timeout", 0, "Abort the run after this duration")

	rootCmd.AddCommand(runCmd)
}

func runOptimization(cmd *cobra.Command, args []string) error {
	cfg := opt.Config{
		Function:    runFlags.function,
		Solver:      runFlags.solver,
		X0:          runFlags.x0,
		MaxIters:    runFlags.maxIters,
		Seed:        runFlags.seed,
		InitTemp:    runFlags.initTemp,
		Sigma:       runFlags.sigma,
		Lambda:      runFlags.lambda,
		Particles:   runFlags.particles,
		LowerBound:  runFlags.lowerBound,
		UpperBound:  runFlags.upperBound,
		Concurrency: runFlags.concurrency,
	}
	cfg.ApplyDefaults()
	if cmd.Flags().Changed("target-cost") {
		target := runFlags.targetCost
		cfg.TargetCost = &target
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := opt.RunOptions{
		Logger:   slog.Default(),
		PlotPath: runFlags.plotPath,
		ParamDir: runFlags.writeParams,
		Timeout:  runFlags.timeout,
	}

	var (
		st   *store.FSStore
		meta *store.RunMeta
	)
	if runFlags.checkpointDir != "" {
		var err error
		st, err = store.NewFSStore(runFlags.checkpointDir)
		if err != nil {
			return fmt.Errorf("opening checkpoint store: %w", err)
		}
		meta = store.NewRunMeta(uuid.New().String(), cfg)
		if err := st.SaveMeta(meta); err != nil {
			return fmt.Errorf("registering run: %w", err)
		}
		opts.CheckpointDir = st.RunDir(meta.RunID)
		opts.CheckpointEvery = runFlags.checkpointEvery
		fmt.Printf("run id: %s\n", meta.RunID)
	}

	result, err := opt.Run(ctx, cfg, opts)
	if err != nil {
		return err
	}

	if st != nil {
		meta.BestCost = result.BestCost
		meta.Iterations = result.Iterations
		meta.Termination = result.Termination
		meta.UpdatedAt = time.Now()
		if err := st.SaveMeta(meta); err != nil {
			slog.Warn("saving run metadata", "runID", meta.RunID, "error", err)
		}
	}

	fmt.Print(result.Summary)
	fmt.Printf("best parameter: %v\n", result.BestParam)
	return nil
}
