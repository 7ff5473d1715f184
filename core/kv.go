package core

import "log/slog"

// KV carries solver-specific metrics for a single observation, for example
// the step length chosen by a line search or the population spread of an
// evolutionary method. Solvers return a KV from Init and NextIter; the
// Executor hands it to observers alongside the state.
//
// KV is a plain slice of slog attributes so observers built on log/slog can
// pass the entries through unchanged.
type KV []slog.Attr

// Merge returns a new KV holding the entries of kv followed by those of
// other. Neither input is modified.
func (kv KV) Merge(other KV) KV {
	if len(other) == 0 {
		return kv
	}
	out := make(KV, 0, len(kv)+len(other))
	out = append(out, kv...)
	out = append(out, other...)
	return out
}
