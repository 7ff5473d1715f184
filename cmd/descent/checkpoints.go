package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/descentlab/descent/internal/store"
)

var checkpointFlags struct {
	dataDir       string
	keepLast      int
	olderThanDays int
	force         bool
}

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Manage checkpointed runs",
	Long: `Lists and cleans stored runs. Each run keeps its metadata, checkpoint
and cost trace in the data directory until it is cleaned.`,
}

var listCheckpointsCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs",
	RunE:  runListCheckpoints,
}

var cleanCheckpointsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete stored runs by retention policy",
	Long: `Deletes stored runs that fall outside the retention policy, either
keeping only the most recently updated N runs or dropping runs older than
N days.`,
	RunE: runCleanCheckpoints,
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)
	checkpointsCmd.AddCommand(listCheckpointsCmd)
	checkpointsCmd.AddCommand(cleanCheckpointsCmd)

	checkpointsCmd.PersistentFlags().StringVar(&checkpointFlags.dataDir, "data-dir", "./data", "Data directory holding stored runs")

	cleanCheckpointsCmd.Flags().IntVar(&checkpointFlags.keepLast, "keep-last", 0, "Keep only the most recently updated N runs (0 = keep all)")
	cleanCheckpointsCmd.Flags().IntVar(&checkpointFlags.olderThanDays, "older-than", 0, "Delete runs not updated for N days (0 = no age limit)")
	cleanCheckpointsCmd.Flags().BoolVarP(&checkpointFlags.force, "force", "f", false, "Skip confirmation prompt")
}

func runListCheckpoints(cmd *cobra.Command, args []string) error {
	st, err := store.NewFSStore(checkpointFlags.dataDir)
	if err != nil {
		return fmt.Errorf("opening checkpoint store: %w", err)
	}

	metas, err := st.List()
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	if len(metas) == 0 {
		fmt.Println("No stored runs found.")
		return nil
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tUPDATED\tFUNCTION\tSOLVER\tITER\tBEST COST\tSIZE")
	fmt.Fprintln(w, "------\t-------\t--------\t------\t----\t---------\t----")
	for _, meta := range metas {
		sizeStr := "unknown"
		if size, err := getDirSize(st.RunDir(meta.RunID)); err == nil {
			sizeStr = formatBytes(size)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%g\t%s\n",
			shortID(meta.RunID),
			meta.UpdatedAt.Format("2006-01-02 15:04:05"),
			meta.Config.Function,
			meta.Config.Solver,
			meta.Iterations,
			float64(meta.BestCost),
			sizeStr,
		)
	}
	w.Flush()

	fmt.Printf("\nTotal runs: %d\n", len(metas))
	return nil
}

func runCleanCheckpoints(cmd *cobra.Command, args []string) error {
	if checkpointFlags.keepLast == 0 && checkpointFlags.olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	st, err := store.NewFSStore(checkpointFlags.dataDir)
	if err != nil {
		return fmt.Errorf("opening checkpoint store: %w", err)
	}

	metas, err := st.List()
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	if len(metas) == 0 {
		fmt.Println("No stored runs to clean.")
		return nil
	}

	toDelete := selectRunsForDeletion(metas, checkpointFlags.keepLast, checkpointFlags.olderThanDays, time.Now())
	if len(toDelete) == 0 {
		fmt.Println("No runs match the deletion criteria.")
		return nil
	}

	fmt.Printf("Found %d run(s) to delete:\n", len(toDelete))
	for _, meta := range toDelete {
		fmt.Printf("  - %s (%s/%s, updated %s)\n",
			shortID(meta.RunID),
			meta.Config.Function,
			meta.Config.Solver,
			meta.UpdatedAt.Format("2006-01-02 15:04:05"),
		)
	}

	if !checkpointFlags.force {
		fmt.Print("\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted, failed := 0, 0
	for _, meta := range toDelete {
		if err := st.Delete(meta.RunID); err != nil {
			slog.Error("deleting run", "runID", meta.RunID, "error", err)
			failed++
			continue
		}
		deleted++
	}

	fmt.Printf("\nDeleted %d run(s), %d failed.\n", deleted, failed)
	return nil
}

// selectRunsForDeletion applies the retention policy. Age-based and
// count-based criteria combine: a run is deleted when either matches.
func selectRunsForDeletion(metas []store.RunMeta, keepLast, olderThanDays int, now time.Time) []store.RunMeta {
	marked := make(map[string]bool)
	var toDelete []store.RunMeta

	if olderThanDays > 0 {
		cutoff := now.AddDate(0, 0, -olderThanDays)
		for _, meta := range metas {
			if meta.UpdatedAt.Before(cutoff) && !marked[meta.RunID] {
				marked[meta.RunID] = true
				toDelete = append(toDelete, meta)
			}
		}
	}

	if keepLast > 0 && len(metas) > keepLast {
		sorted := make([]store.RunMeta, len(metas))
		copy(sorted, metas)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].UpdatedAt.Before(sorted[j].UpdatedAt)
		})
		for _, meta := range sorted[:len(sorted)-keepLast] {
			if !marked[meta.RunID] {
				marked[meta.RunID] = true
				toDelete = append(toDelete, meta)
			}
		}
	}

	return toDelete
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

// getDirSize totals the file sizes under path.
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
