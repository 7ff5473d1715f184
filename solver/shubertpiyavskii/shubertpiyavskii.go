package shubertpiyavskii

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/descentlab/descent/core"
)

// State is the iterate state the Shubert-Piyavskii method runs on: a
// scalar location in the search interval and its cost.
type State = *core.IterState[float64, struct{}, struct{}, struct{}]

// searchInterval is a candidate subinterval of the search range together
// with the objective values at its endpoints and the lowest value the
// objective could attain inside it under the Lipschitz bound.
type searchInterval struct {
	XLower     float64 `json:"x_lower"`
	XUpper     float64 `json:"x_upper"`
	FLower     float64 `json:"f_lower"`
	FUpper     float64 `json:"f_upper"`
	LowerBound float64 `json:"lower_bound"`
}

func newSearchInterval(xLower, xUpper, fLower, fUpper, lipschitzConst float64) (searchInterval, error) {
	if math.IsNaN(fLower) || math.IsInf(fLower, 0) {
		return searchInterval{}, nonFiniteErr(xLower)
	}
	if math.IsNaN(fUpper) || math.IsInf(fUpper, 0) {
		return searchInterval{}, nonFiniteErr(xUpper)
	}
	return searchInterval{
		XLower:     xLower,
		XUpper:     xUpper,
		FLower:     fLower,
		FUpper:     fUpper,
		LowerBound: (fLower + fUpper - lipschitzConst*(xUpper-xLower)) / 2,
	}, nil
}

func nonFiniteErr(x float64) error {
	return fmt.Errorf("%w: Shubert-Piyavskii method: objective returned non-finite value at x = %v; cannot be Lipschitz continuous", core.ErrInvalidParameter, x)
}

// intervalHeap is a min-heap on the lower bound, so the subinterval that
// could reach the lowest objective value pops first.
type intervalHeap []searchInterval

func (h intervalHeap) Len() int           { return len(h) }
func (h intervalHeap) Less(i, j int) bool { return h[i].LowerBound < h[j].LowerBound }
func (h intervalHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *intervalHeap) Push(x any) {
	*h = append(*h, x.(searchInterval))
}

func (h *intervalHeap) Pop() any {
	old := *h
	n := len(old)
	interval := old[n-1]
	*h = old[:n-1]
	return interval
}

// ShubertPiyavskii finds the global minimum of a univariate Lipschitz
// continuous function on a bounded interval, also known as the sawtooth
// method. It keeps a queue of subintervals ordered by the lowest value
// each could still attain under the Lipschitz constant, repeatedly splits
// the most promising one at the minimum of its sawtooth underestimator
// and discards every subinterval that cannot improve on the best cost
// found so far by at least the tolerance. The Lipschitz constant must
// bound the absolute slope of the objective everywhere on the interval;
// a constant of zero treats the objective as constant.
//
// S. Piyavskii, "An algorithm for finding the absolute extremum of a
// function", USSR Computational Mathematics and Mathematical Physics 12
// (4), 1972, 57-67.
//
// B. O. Shubert, "A sequential method seeking the global maximum of a
// function", SIAM Journal on Numerical Analysis 9 (3), 1972, 379-388.
type ShubertPiyavskii[O core.CostFunction[float64]] struct {
	minBound       float64
	maxBound       float64
	lipschitzConst float64
	tolerance      float64
	intervals      intervalHeap
}

// NewShubertPiyavskii creates a Shubert-Piyavskii solver searching
// [minBound, maxBound] for an objective whose absolute slope is bounded
// by lipschitzConst, with a tolerance of 0.01.
func NewShubertPiyavskii[O core.CostFunction[float64]](minBound, maxBound, lipschitzConst float64) (*ShubertPiyavskii[O], error) {
	if !(maxBound > minBound) {
		return nil, fmt.Errorf("%w: Shubert-Piyavskii method: min bound must be smaller than max bound", core.ErrInvalidParameter)
	}
	if !(lipschitzConst >= 0) {
		return nil, fmt.Errorf("%w: Shubert-Piyavskii method: Lipschitz constant must not be negative", core.ErrInvalidParameter)
	}
	return &ShubertPiyavskii[O]{
		minBound:       minBound,
		maxBound:       maxBound,
		lipschitzConst: lipschitzConst,
		tolerance:      0.01,
	}, nil
}

// WithTolerance sets how far above a subinterval's lowest achievable
// value the best cost must lie for the subinterval to stay in play. Must
// be positive.
func (s *ShubertPiyavskii[O]) WithTolerance(tolerance float64) (*ShubertPiyavskii[O], error) {
	if !(tolerance > 0) {
		return nil, fmt.Errorf("%w: Shubert-Piyavskii method: tolerance must be positive", core.ErrInvalidParameter)
	}
	s.tolerance = tolerance
	return s, nil
}

// Name identifies the solver in observer output and checkpoints.
func (s *ShubertPiyavskii[O]) Name() string { return "Shubert-Piyavskii method" }

// samplePoint is the location of the minimum of the subinterval's
// sawtooth underestimator, clamped into the subinterval.
func (s *ShubertPiyavskii[O]) samplePoint(interval searchInterval) float64 {
	x := (interval.XLower + interval.XUpper - (interval.FUpper-interval.FLower)/s.lipschitzConst) / 2
	return math.Min(math.Max(x, interval.XLower), interval.XUpper)
}

// splitInterval cuts the subinterval at its sample point and returns the
// two halves. The objective is evaluated once, at the sample point.
func (s *ShubertPiyavskii[O]) splitInterval(problem *core.Problem[O], interval searchInterval) (searchInterval, searchInterval, error) {
	xSample := s.samplePoint(interval)
	fSample, err := core.EvalCost(problem, xSample)
	if err != nil {
		return searchInterval{}, searchInterval{}, err
	}
	lower, err := newSearchInterval(interval.XLower, xSample, interval.FLower, fSample, s.lipschitzConst)
	if err != nil {
		return searchInterval{}, searchInterval{}, err
	}
	upper, err := newSearchInterval(xSample, interval.XUpper, fSample, interval.FUpper, s.lipschitzConst)
	if err != nil {
		return searchInterval{}, searchInterval{}, err
	}
	return lower, upper, nil
}

// Init evaluates the objective at both ends of the search range, takes
// the lower of the two as the first best guess and enqueues the full
// range as the root subinterval. No initial parameter is required.
func (s *ShubertPiyavskii[O]) Init(ctx context.Context, problem *core.Problem[O], state State) (core.KV, error) {
	fLower, err := core.EvalCost(problem, s.minBound)
	if err != nil {
		return nil, err
	}
	fUpper, err := core.EvalCost(problem, s.maxBound)
	if err != nil {
		return nil, err
	}

	xBest, fBest := s.minBound, fLower
	if fLower > fUpper {
		xBest, fBest = s.maxBound, fUpper
	}

	root, err := newSearchInterval(s.minBound, s.maxBound, fLower, fUpper, s.lipschitzConst)
	if err != nil {
		return nil, err
	}
	heap.Push(&s.intervals, root)

	state.SetParam(xBest).SetCost(fBest)
	return nil, nil
}

// NextIter pops the subinterval with the lowest achievable value. If the
// best cost is not already within tolerance of that value, the
// subinterval is split at its sample point, the best guess updated, and
// each half pushed back only while it could still improve on the best
// cost by at least the tolerance.
func (s *ShubertPiyavskii[O]) NextIter(ctx context.Context, problem *core.Problem[O], state State) (core.KV, error) {
	if s.intervals.Len() == 0 {
		return nil, fmt.Errorf("%w: Shubert-Piyavskii method: no candidate subintervals left", core.ErrPotentialBug)
	}
	interval := heap.Pop(&s.intervals).(searchInterval)

	param := state.TakeParam()
	if param == nil {
		return nil, fmt.Errorf("%w: Shubert-Piyavskii method: best guess in state not set", core.ErrPotentialBug)
	}
	xBest, fBest := *param, state.Cost()

	if fBest-interval.LowerBound >= s.tolerance {
		lower, upper, err := s.splitInterval(problem, interval)
		if err != nil {
			return nil, err
		}
		// The sample point is the upper edge of the lower half.
		if lower.FUpper <= fBest {
			xBest, fBest = lower.XUpper, lower.FUpper
		}
		for _, child := range [2]searchInterval{lower, upper} {
			if fBest-child.LowerBound >= s.tolerance {
				heap.Push(&s.intervals, child)
			}
		}
	}

	state.SetParam(xBest).SetCost(fBest)
	return nil, nil
}

// Terminate reports convergence once no candidate subinterval is left.
func (s *ShubertPiyavskii[O]) Terminate(state State) core.TerminationStatus {
	if s.intervals.Len() == 0 {
		return core.TerminationStatus{Reason: core.SolverConverged}
	}
	return core.TerminationStatus{}
}

// shubertPiyavskiiJSON mirrors ShubertPiyavskii for serialization. The
// subinterval queue round-trips in array order, which keeps the heap
// invariant intact.
type shubertPiyavskiiJSON struct {
	MinBound       float64          `json:"min_bound"`
	MaxBound       float64          `json:"max_bound"`
	LipschitzConst float64          `json:"lipschitz_const"`
	Tolerance      float64          `json:"tolerance"`
	Intervals      []searchInterval `json:"intervals"`
}

// MarshalJSON encodes the solver configuration and the pending
// subinterval queue.
func (s *ShubertPiyavskii[O]) MarshalJSON() ([]byte, error) {
	return json.Marshal(shubertPiyavskiiJSON{
		MinBound:       s.minBound,
		MaxBound:       s.maxBound,
		LipschitzConst: s.lipschitzConst,
		Tolerance:      s.tolerance,
		Intervals:      s.intervals,
	})
}

// UnmarshalJSON restores the solver configuration and the pending
// subinterval queue.
func (s *ShubertPiyavskii[O]) UnmarshalJSON(data []byte) error {
	var js shubertPiyavskiiJSON
	if err := json.Unmarshal(data, &js); err != nil {
		return err
	}
	s.minBound = js.MinBound
	s.maxBound = js.MaxBound
	s.lipschitzConst = js.LipschitzConst
	s.tolerance = js.Tolerance
	s.intervals = js.Intervals
	return nil
}
