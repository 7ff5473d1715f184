package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/descentlab/descent/internal/opt"
	"github.com/descentlab/descent/internal/store"
)

func metaUpdatedAt(runID string, updatedAt time.Time) store.RunMeta {
	return store.RunMeta{
		RunID: runID,
		Config: opt.Config{
			Function: "sphere",
			Solver:   "bfgs",
			X0:       []float64{1, 1},
			MaxIters: 10,
		},
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

func TestSelectRunsForDeletion(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	metas := []store.RunMeta{
		metaUpdatedAt("run-a", now.AddDate(0, 0, -1)),
		metaUpdatedAt("run-b", now.AddDate(0, 0, -10)),
		metaUpdatedAt("run-c", now.AddDate(0, 0, -30)),
		metaUpdatedAt("run-d", now.AddDate(0, 0, -100)),
	}

	tests := []struct {
		name          string
		keepLast      int
		olderThanDays int
		want          []string
	}{
		{
			name: "no criteria deletes nothing",
			want: nil,
		},
		{
			name:          "older than 20 days",
			olderThanDays: 20,
			want:          []string{"run-c", "run-d"},
		},
		{
			name:     "keep last two",
			keepLast: 2,
			want:     []string{"run-d", "run-c"},
		},
		{
			name:     "keep more than exist",
			keepLast: 10,
			want:     nil,
		},
		{
			name:          "combined criteria without duplicates",
			keepLast:      1,
			olderThanDays: 20,
			want:          []string{"run-c", "run-d", "run-b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectRunsForDeletion(metas, tt.keepLast, tt.olderThanDays, now)
			if len(got) != len(tt.want) {
				t.Fatalf("selected %d runs, want %d", len(got), len(tt.want))
			}
			for i, meta := range got {
				if meta.RunID != tt.want[i] {
					t.Errorf("run %d: got %q, want %q", i, meta.RunID, tt.want[i])
				}
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1024 * 1024, "1.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}

	for _, tt := range tests {
		if got := formatBytes(tt.bytes); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("abc"); got != "abc" {
		t.Errorf("short input should pass through, got %q", got)
	}
	long := "0123456789abcdef"
	if got := shortID(long); got != "0123456789ab..." {
		t.Errorf("shortID(%q) = %q", long, got)
	}
}

func TestGetDirSize(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a"), make([]byte, 100), 0o644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "b"), make([]byte, 50), 0o644); err != nil {
		t.Fatal(err)
	}

	size, err := getDirSize(dir)
	if err != nil {
		t.Fatalf("getDirSize: %v", err)
	}
	if size != 150 {
		t.Errorf("size = %d, want 150", size)
	}
}
