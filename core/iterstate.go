package core

import (
	"encoding/json"
	"math"
	"time"
)

// IterState is the state type used by iterative solvers that track a single
// iterate, optionally together with gradient, Hessian, inverse Hessian and
// Jacobian. The type parameters fix the parameter vector type P, gradient
// type G, Hessian type H and Jacobian type J. Solvers that do not use one
// of these slots instantiate it with struct{}.
//
// Current values rotate into their "previous" slot whenever a setter
// assigns a new value, so after SetParam the former parameter vector is
// available via PrevParam. Absent values are represented by nil pointers.
type IterState[P, G, H, J any] struct {
	param         *P
	prevParam     *P
	bestParam     *P
	prevBestParam *P

	cost         float64
	prevCost     float64
	bestCost     float64
	prevBestCost float64
	targetCost   float64

	grad           *G
	prevGrad       *G
	hessian        *H
	prevHessian    *H
	invHessian     *H
	prevInvHessian *H
	jacobian       *J
	prevJacobian   *J

	iter         uint64
	lastBestIter uint64
	maxIters     uint64
	counts       map[string]uint64
	elapsed      *time.Duration
	termStatus   TerminationStatus
}

// NewIterState returns an IterState with defaulted fields. See New.
func NewIterState[P, G, H, J any]() *IterState[P, G, H, J] {
	var s *IterState[P, G, H, J]
	return s.New()
}

// New returns a fresh state: all costs +Inf, target cost -Inf, iteration
// counters zero, no iteration limit and zero elapsed time. Callable on a
// nil receiver.
func (s *IterState[P, G, H, J]) New() *IterState[P, G, H, J] {
	zero := time.Duration(0)
	return &IterState[P, G, H, J]{
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
func (s *IterState[P, G, H, J]) SetParam(param P) *IterState[P, G, H, J] {
	s.prevParam = s.param
	s.param = &param
	return s
}

// Param returns the current parameter vector, or nil if unset.
func (s *IterState[P, G, H, J]) Param() *P { return s.param }

// PrevParam returns the previous parameter vector, or nil if unset.
func (s *IterState[P, G, H, J]) PrevParam() *P { return s.prevParam }

// BestParam returns the best parameter vector found so far, or nil.
func (s *IterState[P, G, H, J]) BestParam() *P { return s.bestParam }

// PrevBestParam returns the second best parameter vector seen, or nil.
func (s *IterState[P, G, H, J]) PrevBestParam() *P { return s.prevBestParam }

// TakeParam removes and returns the current parameter vector, or nil.
func (s *IterState[P, G, H, J]) TakeParam() *P {
	p := s.param
	s.param = nil
	return p
}

// TakePrevParam removes and returns the previous parameter vector, or nil.
func (s *IterState[P, G, H, J]) TakePrevParam() *P {
	p := s.prevParam
	s.prevParam = nil
	return p
}

// TakeBestParam removes and returns the best parameter vector, or nil.
func (s *IterState[P, G, H, J]) TakeBestParam() *P {
	p := s.bestParam
	s.bestParam = nil
	return p
}

// SetBestParam overrides the best parameter vector, moving the former one
// into the previous best slot. Intended for solvers that maintain their own
// notion of best, such as simulated annealing.
func (s *IterState[P, G, H, J]) SetBestParam(param P) *IterState[P, G, H, J] {
	s.prevBestParam = s.bestParam
	s.bestParam = &param
	return s
}

// SetCost sets the cost of the current iterate, moving the former value
// into the previous slot.
func (s *IterState[P, G, H, J]) SetCost(cost float64) *IterState[P, G, H, J] {
	s.prevCost = s.cost
	s.cost = cost
	return s
}

// SetBestCost overrides the best cost, moving the former value into the
// previous best slot. Pair it with SetBestParam.
func (s *IterState[P, G, H, J]) SetBestCost(cost float64) *IterState[P, G, H, J] {
	s.prevBestCost = s.bestCost
	s.bestCost = cost
	return s
}

// SetTargetCost sets the cost at or below which the run terminates.
func (s *IterState[P, G, H, J]) SetTargetCost(cost float64) *IterState[P, G, H, J] {
	s.targetCost = cost
	return s
}

// SetMaxIters limits the number of iterations.
func (s *IterState[P, G, H, J]) SetMaxIters(iters uint64) *IterState[P, G, H, J] {
	s.maxIters = iters
	return s
}

// SetGradient sets the gradient, moving the former one into the previous
// slot.
func (s *IterState[P, G, H, J]) SetGradient(grad G) *IterState[P, G, H, J] {
	s.prevGrad = s.grad
	s.grad = &grad
	return s
}

// Gradient returns the current gradient, or nil if unset.
func (s *IterState[P, G, H, J]) Gradient() *G { return s.grad }

// PrevGradient returns the previous gradient, or nil if unset.
func (s *IterState[P, G, H, J]) PrevGradient() *G { return s.prevGrad }

// TakeGradient removes and returns the current gradient, or nil.
func (s *IterState[P, G, H, J]) TakeGradient() *G {
	g := s.grad
	s.grad = nil
	return g
}

// TakePrevGradient removes and returns the previous gradient, or nil.
func (s *IterState[P, G, H, J]) TakePrevGradient() *G {
	g := s.prevGrad
	s.prevGrad = nil
	return g
}

// SetHessian sets the Hessian, moving the former one into the previous
// slot.
func (s *IterState[P, G, H, J]) SetHessian(hessian H) *IterState[P, G, H, J] {
	s.prevHessian = s.hessian
	s.hessian = &hessian
	return s
}

// Hessian returns the current Hessian, or nil if unset.
func (s *IterState[P, G, H, J]) Hessian() *H { return s.hessian }

// PrevHessian returns the previous Hessian, or nil if unset.
func (s *IterState[P, G, H, J]) PrevHessian() *H { return s.prevHessian }

// TakeHessian removes and returns the current Hessian, or nil.
func (s *IterState[P, G, H, J]) TakeHessian() *H {
	h := s.hessian
	s.hessian = nil
	return h
}

// SetInvHessian sets the inverse Hessian, moving the former one into the
// previous slot.
func (s *IterState[P, G, H, J]) SetInvHessian(invHessian H) *IterState[P, G, H, J] {
	s.prevInvHessian = s.invHessian
	s.invHessian = &invHessian
	return s
}

// InvHessian returns the current inverse Hessian, or nil if unset.
func (s *IterState[P, G, H, J]) InvHessian() *H { return s.invHessian }

// PrevInvHessian returns the previous inverse Hessian, or nil if unset.
func (s *IterState[P, G, H, J]) PrevInvHessian() *H { return s.prevInvHessian }

// TakeInvHessian removes and returns the current inverse Hessian, or nil.
func (s *IterState[P, G, H, J]) TakeInvHessian() *H {
	h := s.invHessian
	s.invHessian = nil
	return h
}

// SetJacobian sets the Jacobian, moving the former one into the previous
// slot.
func (s *IterState[P, G, H, J]) SetJacobian(jacobian J) *IterState[P, G, H, J] {
	s.prevJacobian = s.jacobian
	s.jacobian = &jacobian
	return s
}

// Jacobian returns the current Jacobian, or nil if unset.
func (s *IterState[P, G, H, J]) Jacobian() *J { return s.jacobian }

// PrevJacobian returns the previous Jacobian, or nil if unset.
func (s *IterState[P, G, H, J]) PrevJacobian() *J { return s.prevJacobian }

// TakeJacobian removes and returns the current Jacobian, or nil.
func (s *IterState[P, G, H, J]) TakeJacobian() *J {
	j := s.jacobian
	s.jacobian = nil
	return j
}

// Cost returns the cost of the current iterate.
func (s *IterState[P, G, H, J]) Cost() float64 { return s.cost }

// PrevCost returns the cost of the previous iterate.
func (s *IterState[P, G, H, J]) PrevCost() float64 { return s.prevCost }

// BestCost returns the best cost found so far.
func (s *IterState[P, G, H, J]) BestCost() float64 { return s.bestCost }

// PrevBestCost returns the previous best cost.
func (s *IterState[P, G, H, J]) PrevBestCost() float64 { return s.prevBestCost }

// TargetCost returns the target cost.
func (s *IterState[P, G, H, J]) TargetCost() float64 { return s.targetCost }

// Update promotes the current iterate to best iterate if its cost improves
// on the best cost, where two infinite costs of the same sign count as an
// improvement. The former best values rotate into the previous best slots
// and LastBestIter is set to the current iteration.
func (s *IterState[P, G, H, J]) Update() {
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
func (s *IterState[P, G, H, J]) FuncCounts(counts map[string]uint64) {
	if s.counts == nil {
		s.counts = make(map[string]uint64, len(counts))
	}
	for k, v := range counts {
		s.counts[k] = v
	}
}

// Counts returns the recorded evaluation counts.
func (s *IterState[P, G, H, J]) Counts() map[string]uint64 { return s.counts }

// SetTime records the elapsed time since the run started.
func (s *IterState[P, G, H, J]) SetTime(elapsed *time.Duration) *IterState[P, G, H, J] {
	s.elapsed = elapsed
	return s
}

// Time returns the recorded elapsed time, or nil.
func (s *IterState[P, G, H, J]) Time() *time.Duration { return s.elapsed }

// TerminateWith marks the state terminated for the given reason.
func (s *IterState[P, G, H, J]) TerminateWith(reason TerminationReason) *IterState[P, G, H, J] {
	s.termStatus = TerminationStatus{Reason: reason}
	return s
}

// TerminationStatus returns the current termination status.
func (s *IterState[P, G, H, J]) TerminationStatus() TerminationStatus { return s.termStatus }

// Terminated reports whether a termination reason has been set.
func (s *IterState[P, G, H, J]) Terminated() bool { return s.termStatus.Terminated() }

// IncrementIter advances the iteration counter.
func (s *IterState[P, G, H, J]) IncrementIter() { s.iter++ }

// Iter returns the current iteration number.
func (s *IterState[P, G, H, J]) Iter() uint64 { return s.iter }

// LastBestIter returns the iteration in which the best iterate was found.
func (s *IterState[P, G, H, J]) LastBestIter() uint64 { return s.lastBestIter }

// MaxIters returns the iteration limit.
func (s *IterState[P, G, H, J]) MaxIters() uint64 { return s.maxIters }

// IsBest reports whether the best iterate stems from the current
// iteration.
func (s *IterState[P, G, H, J]) IsBest() bool { return s.lastBestIter == s.iter }

// iterStateJSON mirrors IterState for serialization. Costs use Float so
// that infinities survive the round trip.
type iterStateJSON[P, G, H, J any] struct {
	Param          *P                `json:"param,omitempty"`
	PrevParam      *P                `json:"prevParam,omitempty"`
	BestParam      *P                `json:"bestParam,omitempty"`
	PrevBestParam  *P                `json:"prevBestParam,omitempty"`
	Cost           Float             `json:"cost"`
	PrevCost       Float             `json:"prevCost"`
	BestCost       Float             `json:"bestCost"`
	PrevBestCost   Float             `json:"prevBestCost"`
	TargetCost     Float             `json:"targetCost"`
	Gradient       *G                `json:"gradient,omitempty"`
	PrevGradient   *G                `json:"prevGradient,omitempty"`
	Hessian        *H                `json:"hessian,omitempty"`
	PrevHessian    *H                `json:"prevHessian,omitempty"`
	InvHessian     *H                `json:"invHessian,omitempty"`
	PrevInvHessian *H                `json:"prevInvHessian,omitempty"`
	Jacobian       *J                `json:"jacobian,omitempty"`
	PrevJacobian   *J                `json:"prevJacobian,omitempty"`
	Iter           uint64            `json:"iter"`
	LastBestIter   uint64            `json:"lastBestIter"`
	MaxIters       uint64            `json:"maxIters"`
	Counts         map[string]uint64 `json:"counts,omitempty"`
	Elapsed        *time.Duration    `json:"elapsed,omitempty"`
	Termination    TerminationStatus `json:"termination"`
}

// MarshalJSON implements json.Marshaler.
func (s *IterState[P, G, H, J]) MarshalJSON() ([]byte, error) {
	return json.Marshal(iterStateJSON[P, G, H, J]{
		Param:          s.param,
		PrevParam:      s.prevParam,
		BestParam:      s.bestParam,
		PrevBestParam:  s.prevBestParam,
		Cost:           Float(s.cost),
		PrevCost:       Float(s.prevCost),
		BestCost:       Float(s.bestCost),
		PrevBestCost:   Float(s.prevBestCost),
		TargetCost:     Float(s.targetCost),
		Gradient:       s.grad,
		PrevGradient:   s.prevGrad,
		Hessian:        s.hessian,
		PrevHessian:    s.prevHessian,
		InvHessian:     s.invHessian,
		PrevInvHessian: s.prevInvHessian,
		Jacobian:       s.jacobian,
		PrevJacobian:   s.prevJacobian,
		Iter:           s.iter,
		LastBestIter:   s.lastBestIter,
		MaxIters:       s.maxIters,
		Counts:         s.counts,
		Elapsed:        s.elapsed,
		Termination:    s.termStatus,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The whole state is replaced,
// fields absent from the input revert to their New defaults.
func (s *IterState[P, G, H, J]) UnmarshalJSON(data []byte) error {
	aux := iterStateJSON[P, G, H, J]{
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
	*s = IterState[P, G, H, J]{
		param:          aux.Param,
		prevParam:      aux.PrevParam,
		bestParam:      aux.BestParam,
		prevBestParam:  aux.PrevBestParam,
		cost:           float64(aux.Cost),
		prevCost:       float64(aux.PrevCost),
		bestCost:       float64(aux.BestCost),
		prevBestCost:   float64(aux.PrevBestCost),
		targetCost:     float64(aux.TargetCost),
		grad:           aux.Gradient,
		prevGrad:       aux.PrevGradient,
		hessian:        aux.Hessian,
		prevHessian:    aux.PrevHessian,
		invHessian:     aux.InvHessian,
		prevInvHessian: aux.PrevInvHessian,
		jacobian:       aux.Jacobian,
		prevJacobian:   aux.PrevJacobian,
		iter:           aux.Iter,
		lastBestIter:   aux.LastBestIter,
		maxIters:       aux.MaxIters,
		counts:         aux.Counts,
		elapsed:        aux.Elapsed,
		termStatus:     aux.Termination,
	}
	if s.counts == nil {
		s.counts = make(map[string]uint64)
	}
	return nil
}
