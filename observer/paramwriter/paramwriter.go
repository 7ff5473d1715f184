// Package paramwriter writes the parameter vector of each observed
// iteration to disk as a small JSON document, one file per observation.
// The files let a run be inspected or replayed after the fact without
// keeping anything in memory.
package paramwriter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/descentlab/descent/core"
)

// ParamState is the slice of the state surface the writer reads. It is
// satisfied by the iterate-based states; population-based states do not
// carry a single parameter vector and are better served by a logger.
type ParamState[P any] interface {
	Iter() uint64
	Cost() float64
	BestCost() float64
	Param() *P
	BestParam() *P
}

// ParamWriter is an observer that serializes the current parameter vector
// to <dir>/<prefix>_<iter>.json after every observed iteration, plus
// <prefix>_init.json after solver initialization and <prefix>_final.json
// with the best iterate when the run ends. Writes are atomic.
type ParamWriter[S ParamState[P], P any] struct {
	dir    string
	prefix string
}

// snapshot is the document written per observation.
type snapshot[P any] struct {
	Iter  uint64     `json:"iter"`
	Cost  core.Float `json:"cost"`
	Param *P         `json:"param,omitempty"`
}

// New creates a writer targeting dir, creating it if needed. The prefix
// names the run within the directory and must not be empty.
func New[S ParamState[P], P any](dir, prefix string) (*ParamWriter[S, P], error) {
	if prefix == "" {
		return nil, fmt.Errorf("%w: prefix must not be empty", core.ErrInvalidParameter)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating parameter directory: %w", err)
	}
	return &ParamWriter[S, P]{dir: dir, prefix: prefix}, nil
}

// ObserveInit writes the initial iterate.
func (w *ParamWriter[S, P]) ObserveInit(name string, state S, kv core.KV) error {
	return w.write(w.prefix+"_init.json", snapshot[P]{
		Iter:  state.Iter(),
		Cost:  core.Float(state.Cost()),
		Param: state.Param(),
	})
}

// ObserveIter writes the current iterate.
func (w *ParamWriter[S, P]) ObserveIter(state S, kv core.KV) error {
	return w.write(fmt.Sprintf("%s_%d.json", w.prefix, state.Iter()), snapshot[P]{
		Iter:  state.Iter(),
		Cost:  core.Float(state.Cost()),
		Param: state.Param(),
	})
}

// ObserveFinal writes the best iterate of the run.
func (w *ParamWriter[S, P]) ObserveFinal(state S) error {
	return w.write(w.prefix+"_final.json", snapshot[P]{
		Iter:  state.Iter(),
		Cost:  core.Float(state.BestCost()),
		Param: state.BestParam(),
	})
}

func (w *ParamWriter[S, P]) write(name string, doc snapshot[P]) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding parameter snapshot: %w", err)
	}
	path := filepath.Join(w.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing parameter snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing parameter snapshot: %w", err)
	}
	return nil
}
