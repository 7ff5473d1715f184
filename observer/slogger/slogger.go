package slogger

import (
	"context"
	"log/slog"
	"sort"

	"github.com/descentlab/descent/core"
)

// Slogger logs the progress of an optimization run through log/slog, one
// record per observation. The init record carries the solver name and its
// configuration, iteration records carry the iteration number, costs,
// evaluation counts and the solver's own metrics, and the final record
// carries the termination reason.
type Slogger[S core.State[S]] struct {
	logger *slog.Logger
}

// New creates an observer that writes to logger.
func New[S core.State[S]](logger *slog.Logger) *Slogger[S] {
	return &Slogger[S]{logger: logger}
}

// NewDefault creates an observer that writes to slog.Default().
func NewDefault[S core.State[S]]() *Slogger[S] {
	return New[S](slog.Default())
}

// ObserveInit logs the solver name and its configuration.
func (s *Slogger[S]) ObserveInit(name string, state S, kv core.KV) error {
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, name, kv...)
	return nil
}

// ObserveIter logs one record per iteration.
func (s *Slogger[S]) ObserveIter(state S, kv core.KV) error {
	counts := state.Counts()
	attrs := make([]slog.Attr, 0, 3+len(counts)+len(kv))
	attrs = append(attrs,
		slog.Uint64("iter", state.Iter()),
		slog.Float64("cost", state.Cost()),
		slog.Float64("best_cost", state.BestCost()),
	)
	attrs = append(attrs, countAttrs(counts)...)
	attrs = append(attrs, kv...)
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, "iteration", attrs...)
	return nil
}

// ObserveFinal logs the termination reason and the closing numbers.
func (s *Slogger[S]) ObserveFinal(state S) error {
	attrs := []slog.Attr{
		slog.String("reason", state.TerminationStatus().Reason.String()),
		slog.Uint64("iter", state.Iter()),
		slog.Float64("best_cost", state.BestCost()),
	}
	if elapsed := state.Time(); elapsed != nil {
		attrs = append(attrs, slog.Duration("time", *elapsed))
	}
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, "terminated", attrs...)
	return nil
}

// countAttrs renders evaluation counts in a stable order, since map
// iteration would shuffle them between records.
func countAttrs(counts map[string]uint64) []slog.Attr {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]slog.Attr, len(keys))
	for i, k := range keys {
		out[i] = slog.Uint64(k, counts[k])
	}
	return out
}
