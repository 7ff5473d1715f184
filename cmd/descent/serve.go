package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/descentlab/descent/internal/server"
	"github.com/descentlab/descent/internal/store"
)

var serveFlags struct {
	addr    string
	dataDir string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the optimization job server",
	Long: `Serves the job API over HTTP. Jobs are spawned with POST /api/jobs,
stream their progress over SSE at /api/jobs/{id}/events and persist their
checkpoints and traces into the data directory.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveFlags.dataDir, "data-dir", "./data", "Data directory for run persistence")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	st, err := store.NewFSStore(serveFlags.dataDir)
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}

	srv := server.NewServer(serveFlags.addr, st)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("signal received, shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
