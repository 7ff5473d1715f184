package core

import (
	"fmt"
	"sort"
	"strings"
)

// OptimizationResult bundles what a finished run leaves behind: the
// problem wrapper with its accumulated evaluation counts, the solver in
// its final configuration and the final state.
type OptimizationResult[O any, S State[S]] struct {
	Problem *Problem[O]
	Solver  Solver[O, S]
	State   S
}

// String renders a multi-line summary of the run.
func (r *OptimizationResult[O, S]) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "OptimizationResult:\n")
	fmt.Fprintf(&b, "    solver:        %s\n", r.Solver.Name())
	fmt.Fprintf(&b, "    iters:         %d\n", r.State.Iter())
	fmt.Fprintf(&b, "    iters (best):  %d\n", r.State.LastBestIter())
	fmt.Fprintf(&b, "    cost (best):   %v\n", r.State.BestCost())
	counts := r.State.Counts()
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "    %-14s %d\n", k+":", counts[k])
	}
	fmt.Fprintf(&b, "    termination:   %s\n", r.State.TerminationStatus())
	if t := r.State.Time(); t != nil {
		fmt.Fprintf(&b, "    time:          %s\n", t)
	}
	return b.String()
}
