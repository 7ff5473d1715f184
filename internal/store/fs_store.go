package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FSStore implements Store on the filesystem. Each run owns a directory
// <baseDir>/runs/<runID>/ holding meta.json next to the engine checkpoint
// and the cost trace.
//
// Writes go through the temp file + rename pattern, so no locking is
// needed; concurrent calls are safe.
type FSStore struct {
	baseDir string
}

// NewFSStore opens a store rooted at baseDir, creating it if needed.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, "runs"), 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// BaseDir returns the store root.
func (fs *FSStore) BaseDir() string {
	return fs.baseDir
}

// RunDir returns the directory of a run. The engine's file checkpoint is
// pointed here so that metadata, checkpoint and trace live side by side.
func (fs *FSStore) RunDir(runID string) string {
	return filepath.Join(fs.baseDir, "runs", runID)
}

func (fs *FSStore) metaPath(runID string) string {
	return filepath.Join(fs.RunDir(runID), "meta.json")
}

// SaveMeta atomically writes the metadata of a run.
func (fs *FSStore) SaveMeta(meta *RunMeta) error {
	if meta == nil {
		return fmt.Errorf("meta cannot be nil")
	}
	if err := meta.Validate(); err != nil {
		return err
	}

	runDir := fs.RunDir(meta.RunID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing run metadata: %w", err)
	}

	finalPath := fs.metaPath(meta.RunID)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("writing run metadata: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("replacing run metadata: %w", err)
	}

	slog.Debug("run metadata saved", "runID", meta.RunID, "path", finalPath)
	return nil
}

// LoadMeta reads the metadata of a run.
func (fs *FSStore) LoadMeta(runID string) (*RunMeta, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}

	data, err := os.ReadFile(fs.metaPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{RunID: runID}
		}
		return nil, fmt.Errorf("reading run metadata: %w", err)
	}

	var meta RunMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("deserializing run metadata: %w", err)
	}
	return &meta, nil
}

// List returns the metadata of all stored runs, skipping entries that
// cannot be read.
func (fs *FSStore) List() ([]RunMeta, error) {
	runsDir := filepath.Join(fs.baseDir, "runs")

	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMeta{}, nil
		}
		return nil, fmt.Errorf("reading runs directory: %w", err)
	}

	metas := make([]RunMeta, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := fs.LoadMeta(entry.Name())
		if err != nil {
			if _, missing := err.(*NotFoundError); !missing {
				slog.Warn("skipping unreadable run", "runID", entry.Name(), "error", err)
			}
			continue
		}
		metas = append(metas, *meta)
	}
	return metas, nil
}

// Delete removes a run directory with everything in it.
func (fs *FSStore) Delete(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	runDir := fs.RunDir(runID)
	if _, err := os.Stat(runDir); err != nil {
		if os.IsNotExist(err) {
			return &NotFoundError{RunID: runID}
		}
		return fmt.Errorf("checking run directory: %w", err)
	}
	if err := os.RemoveAll(runDir); err != nil {
		return fmt.Errorf("removing run directory: %w", err)
	}

	slog.Debug("run deleted", "runID", runID, "path", runDir)
	return nil
}
