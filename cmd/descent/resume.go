package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/descentlab/descent/internal/opt"
	"github.com/descentlab/descent/internal/store"
)

var resumeFlags struct {
	dataDir  string
	plotPath string
	timeout  time.Duration
}

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a checkpointed run",
	Long: `Resumes an interrupted run from its checkpoint. The run keeps its
stored configuration; the checkpoint restores the solver and the state, so
the run continues where it stopped.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeFlags.dataDir, "data-dir", "./data", "Data directory holding the run")
	resumeCmd.Flags().StringVar(&resumeFlags.plotPath, "plot", "", "Write a cost chart PNG to this path")
	resumeCmd.Flags().DurationVar(&resumeFlags.timeout, "timeout", 0, "Abort the run after this duration")

	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st, err := store.NewFSStore(resumeFlags.dataDir)
	if err != nil {
		return fmt.Errorf("opening checkpoint store: %w", err)
	}
	meta, err := st.LoadMeta(runID)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("resuming run",
		"runID", runID,
		"function", meta.Config.Function,
		"solver", meta.Config.Solver,
		"iterations", meta.Iterations,
	)

	result, err := opt.Run(ctx, meta.Config, opt.RunOptions{
		Logger:        slog.Default(),
		CheckpointDir: st.RunDir(runID),
		PlotPath:      resumeFlags.plotPath,
		Timeout:       resumeFlags.timeout,
	})
	if err != nil {
		return err
	}

	meta.BestCost = result.BestCost
	meta.Iterations = result.Iterations
	meta.Termination = result.Termination
	meta.UpdatedAt = time.Now()
	if err := st.SaveMeta(meta); err != nil {
		slog.Warn("saving run metadata", "runID", runID, "error", err)
	}

	fmt.Print(result.Summary)
	fmt.Printf("best parameter: %v\n", result.BestParam)
	return nil
}
