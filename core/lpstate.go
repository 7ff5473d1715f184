package core

import (
	"encoding/json"
	"math"
	"time"
)

// LinearProgramState is the state type used by linear programming solvers.
// It is an IterState stripped of the derivative slots.
type LinearProgramState[P any] struct {
	param         *P
	prevParam     *P
	bestParam     *P
	prevBestParam *P

	cost         float64
	prevCost     float64
	bestCost     float64
	prevBestCost float64
	targetCost   float64

	iter         uint64
	lastBestIter uint64
	maxIters     uint64
	counts       map[string]uint64
	elapsed      *time.Duration
	termStatus   TerminationStatus
}

// NewLinearProgramState returns a LinearProgramState with defaulted fields.
func NewLinearProgramState[P any]() *LinearProgramState[P] {
	var s *LinearProgramState[P]
	return s.New()
}

// New returns a fresh state with defaulted fields. Callable on a nil
// receiver.
func (s *LinearProgramState[P]) New() *LinearProgramState[P] {
	zero := time.Duration(0)
	return &LinearProgramState[P]{
		cost:         math.Inf(1),
		prevCost:     math.Inf(1),
		bestCost:     math.Inf(1),
		prevBestCost: math.Inf(1),
		targetCost:   math.Inf(-1),
		maxIters:     math.MaxUint64,
		counts:       make(map[string]uint64),
		elapsed:      &zero,
	}
}

// SetParam sets the current parameter vector, moving the former one into
// the previous slot.
func (s *LinearProgramState[P]) SetParam(param P) *LinearProgramState[P] {
	s.prevParam = s.param
	s.param = &param
	return s
}

// Param returns the current parameter vector, or nil if unset.
func (s *LinearProgramState[P]) Param() *P { return s.param }

// PrevParam returns the previous parameter vector, or nil if unset.
func (s *LinearProgramState[P]) PrevParam() *P { return s.prevParam }

// BestParam returns the best parameter vector found so far, or nil.
func (s *LinearProgramState[P]) BestParam() *P { return s.bestParam }

// TakeParam removes and returns the current parameter vector, or nil.
func (s *LinearProgramState[P]) TakeParam() *P {
	p := s.param
	s.param = nil
	return p
}

// SetCost sets the cost of the current iterate, moving the former value
// into the previous slot.
func (s *LinearProgramState[P]) SetCost(cost float64) *LinearProgramState[P] {
	s.prevCost = s.cost
	s.cost = cost
	return s
}

// SetTargetCost sets the cost at or below which the run terminates.
func (s *LinearProgramState[P]) SetTargetCost(cost float64) *LinearProgramState[P] {
	s.targetCost = cost
	return s
}

// SetMaxIters limits the number of iterations.
func (s *LinearProgramState[P]) SetMaxIters(iters uint64) *LinearProgramState[P] {
	s.maxIters = iters
	return s
}

// Cost returns the cost of the current iterate.
func (s *LinearProgramState[P]) Cost() float64 { return s.cost }

// PrevCost returns the cost of the previous iterate.
func (s *LinearProgramState[P]) PrevCost() float64 { return s.prevCost }

// BestCost returns the best cost found so far.
func (s *LinearProgramState[P]) BestCost() float64 { return s.bestCost }

// TargetCost returns the target cost.
func (s *LinearProgramState[P]) TargetCost() float64 { return s.targetCost }

// Update promotes the current iterate to best iterate if its cost improves
// on the best cost, with infinite ties of the same sign counting as an
// improvement.
func (s *LinearProgramState[P]) Update() {
	improved := s.cost < s.bestCost ||
		(math.IsInf(s.cost, 0) && math.IsInf(s.bestCost, 0) && (s.cost > 0) == (s.bestCost > 0))
	if !improved {
		return
	}
	if s.param != nil {
		s.prevBestParam = s.bestParam
		s.bestParam = s.param
	}
	s.prevBestCost = s.bestCost
	s.bestCost = s.cost
	s.lastBestIter = s.iter
}

// FuncCounts copies evaluation counts into the state, overwriting existing
// entries per key.
func (s *LinearProgramState[P]) FuncCounts(counts map[string]uint64) {
	if s.counts == nil {
		s.counts = make(map[string]uint64, len(counts))
	}
	for k, v := range counts {
		s.counts[k] = v
	}
}

// Counts returns the recorded evaluation counts.
func (s *LinearProgramState[P]) Counts() map[string]uint64 { return s.counts }

// SetTime records the elapsed time since the run started.
func (s *LinearProgramState[P]) SetTime(elapsed *time.Duration) *LinearProgramState[P] {
	s.elapsed = elapsed
	return s
}

// Time returns the recorded elapsed time, or nil.
func (s *LinearProgramState[P]) Time() *time.Duration { return s.elapsed }

// TerminateWith marks the state terminated for the given reason.
func (s *LinearProgramState[P]) TerminateWith(reason TerminationReason) *LinearProgramState[P] {
	s.termStatus = TerminationStatus{Reason: reason}
	return s
}

// TerminationStatus returns the current termination status.
func (s *LinearProgramState[P]) TerminationStatus() TerminationStatus { return s.termStatus }

// Terminated reports whether a termination reason has been set.
func (s *LinearProgramState[P]) Terminated() bool { return s.termStatus.Terminated() }

// IncrementIter advances the iteration counter.
func (s *LinearProgramState[P]) IncrementIter() { s.iter++ }

// Iter returns the current iteration number.
func (s *LinearProgramState[P]) Iter() uint64 { return s.iter }

// LastBestIter returns the iteration in which the best iterate was found.
func (s *LinearProgramState[P]) LastBestIter() uint64 { return s.lastBestIter }

// MaxIters returns the iteration limit.
func (s *LinearProgramState[P]) MaxIters() uint64 { return s.maxIters }

// IsBest reports whether the best iterate stems from the current
// iteration.
func (s *LinearProgramState[P]) IsBest() bool { return s.lastBestIter == s.iter }

type linearProgramStateJSON[P any] struct {
	Param         *P                `json:"param,omitempty"`
	PrevParam     *P                `json:"prevParam,omitempty"`
	BestParam     *P                `json:"bestParam,omitempty"`
	PrevBestParam *P                `json:"prevBestParam,omitempty"`
	Cost          Float             `json:"cost"`
	PrevCost      Float             `json:"prevCost"`
	BestCost      Float             `json:"bestCost"`
	PrevBestCost  Float             `json:"prevBestCost"`
	TargetCost    Float             `json:"targetCost"`
	Iter          uint64            `json:"iter"`
	LastBestIter  uint64            `json:"lastBestIter"`
	MaxIters      uint64            `json:"maxIters"`
	Counts        map[string]uint64 `json:"counts,omitempty"`
	Elapsed       *time.Duration    `json:"elapsed,omitempty"`
	Termination   TerminationStatus `json:"termination"`
}

// MarshalJSON implements json.Marshaler.
func (s *LinearProgramState[P]) MarshalJSON() ([]byte, error) {
	return json.Marshal(linearProgramStateJSON[P]{
		Param:         s.param,
		PrevParam:     s.prevParam,
		BestParam:     s.bestParam,
		PrevBestParam: s.prevBestParam,
		Cost:          Float(s.cost),
		PrevCost:      Float(s.prevCost),
		BestCost:      Float(s.bestCost),
		PrevBestCost:  Float(s.prevBestCost),
		TargetCost:    Float(s.targetCost),
		Iter:          s.iter,
		LastBestIter:  s.lastBestIter,
		MaxIters:      s.maxIters,
		Counts:        s.counts,
		Elapsed:       s.elapsed,
		Termination:   s.termStatus,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *LinearProgramState[P]) UnmarshalJSON(data []byte) error {
	aux := linearProgramStateJSON[P]{
		Cost:         Float(math.Inf(1)),
		PrevCost:     Float(math.Inf(1)),
		BestCost:     Float(math.Inf(1)),
		PrevBestCost: Float(math.Inf(1)),
		TargetCost:   Float(math.Inf(-1)),
		MaxIters:     math.MaxUint64,
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = LinearProgramState[P]{
		param:         aux.Param,
		prevParam:     aux.PrevParam,
		bestParam:     aux.BestParam,
		prevBestParam: aux.PrevBestParam,
		cost:          float64(aux.Cost),
		prevCost:      float64(aux.PrevCost),
		bestCost:      float64(aux.BestCost),
		prevBestCost:  float64(aux.PrevBestCost),
		targetCost:    float64(aux.TargetCost),
		iter:          aux.Iter,
		lastBestIter:  aux.LastBestIter,
		maxIters:      aux.MaxIters,
		counts:        aux.Counts,
		elapsed:       aux.Elapsed,
		termStatus:    aux.Termination,
	}
	if s.counts == nil {
		s.counts = make(map[string]uint64)
	}
	return nil
}
