package store

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/descentlab/descent/internal/opt"
)

func setupTestStore(t *testing.T) (*FSStore, string) {
	t.Helper()

	tempDir := t.TempDir()
	st, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	return st, tempDir
}

func testMeta(runID string) *RunMeta {
	cfg := opt.Config{Function: "sphere", Solver: "bfgs"}
	cfg.ApplyDefaults()
	meta := NewRunMeta(runID, cfg)
	meta.BestCost = 0.0234
	meta.Iterations = 500
	return meta
}

func TestNewFSStore(t *testing.T) {
	st, tempDir := setupTestStore(t)

	if st.BaseDir() != tempDir {
		t.Fatalf("BaseDir() = %q, want %q", st.BaseDir(), tempDir)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "runs")); err != nil {
		t.Fatalf("runs directory was not created: %v", err)
	}
}

func TestSaveMeta(t *testing.T) {
	st, tempDir := setupTestStore(t)

	meta := testMeta("run-123")
	if err := st.SaveMeta(meta); err != nil {
		t.Fatalf("SaveMeta failed: %v", err)
	}

	path := filepath.Join(tempDir, "runs", "run-123", "meta.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("meta.json was not created: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind after save")
	}
}

func TestSaveMetaRejectsInvalid(t *testing.T) {
	st, _ := setupTestStore(t)

	if err := st.SaveMeta(nil); err == nil {
		t.Fatal("expected error for nil meta")
	}

	meta := testMeta("")
	var verr *ValidationError
	if err := st.SaveMeta(meta); !errors.As(err, &verr) {
		t.Fatalf("SaveMeta error = %v, want ValidationError", err)
	}
}

func TestSaveMetaOverwrites(t *testing.T) {
	st, _ := setupTestStore(t)

	meta := testMeta("run-overwrite")
	meta.BestCost = 0.5
	if err := st.SaveMeta(meta); err != nil {
		t.Fatalf("first SaveMeta failed: %v", err)
	}

	meta.BestCost = 0.1
	meta.Iterations = 900
	if err := st.SaveMeta(meta); err != nil {
		t.Fatalf("second SaveMeta failed: %v", err)
	}

	loaded, err := st.LoadMeta("run-overwrite")
	if err != nil {
		t.Fatalf("LoadMeta failed: %v", err)
	}
	if float64(loaded.BestCost) != 0.1 || loaded.Iterations != 900 {
		t.Fatalf("loaded stale metadata: %+v", loaded)
	}
}

func TestLoadMetaRoundTrip(t *testing.T) {
	st, _ := setupTestStore(t)

	meta := testMeta("run-roundtrip")
	if err := st.SaveMeta(meta); err != nil {
		t.Fatalf("SaveMeta failed: %v", err)
	}

	loaded, err := st.LoadMeta("run-roundtrip")
	if err != nil {
		t.Fatalf("LoadMeta failed: %v", err)
	}
	if loaded.RunID != meta.RunID {
		t.Errorf("RunID = %q, want %q", loaded.RunID, meta.RunID)
	}
	if loaded.Config.Function != "sphere" || loaded.Config.Solver != "bfgs" {
		t.Errorf("config not preserved: %+v", loaded.Config)
	}
	if loaded.Iterations != meta.Iterations {
		t.Errorf("Iterations = %d, want %d", loaded.Iterations, meta.Iterations)
	}
}

func TestLoadMetaNotFound(t *testing.T) {
	st, _ := setupTestStore(t)

	_, err := st.LoadMeta("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadMeta error = %v, want NotFoundError", err)
	}
}

func TestList(t *testing.T) {
	st, tempDir := setupTestStore(t)

	metas, err := st.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(metas) != 0 {
		t.Fatalf("fresh store listed %d runs", len(metas))
	}

	for _, id := range []string{"run-a", "run-b", "run-c"} {
		if err := st.SaveMeta(testMeta(id)); err != nil {
			t.Fatalf("SaveMeta(%s) failed: %v", id, err)
		}
	}

	// A corrupt run directory must not break the listing.
	corruptDir := filepath.Join(tempDir, "runs", "run-corrupt")
	if err := os.MkdirAll(corruptDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(corruptDir, "meta.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	metas, err = st.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(metas) != 3 {
		t.Fatalf("List returned %d runs, want 3", len(metas))
	}
}

func TestDelete(t *testing.T) {
	st, _ := setupTestStore(t)

	meta := testMeta("run-delete")
	if err := st.SaveMeta(meta); err != nil {
		t.Fatalf("SaveMeta failed: %v", err)
	}

	// Artifacts in the run directory go with it.
	tw, err := NewTraceWriter(st.RunDir("run-delete"), false)
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}
	tw.Write(TraceEntry{Iteration: 1, Cost: 1, BestCost: 1, Timestamp: time.Now()})
	tw.Close()

	if err := st.Delete("run-delete"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(st.RunDir("run-delete")); !os.IsNotExist(err) {
		t.Fatal("run directory still exists after delete")
	}
}

func TestDeleteNotFound(t *testing.T) {
	st, _ := setupTestStore(t)

	if err := st.Delete("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete error = %v, want NotFoundError", err)
	}
}

func TestConcurrentSaves(t *testing.T) {
	st, _ := setupTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			meta := testMeta("run-concurrent")
			meta.Iterations = uint64(n)
			if err := st.SaveMeta(meta); err != nil {
				t.Errorf("SaveMeta failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if _, err := st.LoadMeta("run-concurrent"); err != nil {
		t.Fatalf("LoadMeta after concurrent saves failed: %v", err)
	}
}
