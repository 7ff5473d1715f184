package core

import (
	"encoding/json"
	"math"
	"time"
)

// PopulationState is the state type used by population based solvers such
// as CMA-ES and particle swarm optimization. It tracks a single best
// individual of type I alongside the current population.
//
// Like IterState, setting the individual or its cost rotates the former
// value into a previous slot. The population itself has no history.
type PopulationState[I any] struct {
	individual         *I
	prevIndividual     *I
	bestIndividual     *I
	prevBestIndividual *I

	cost         float64
	prevCost     float64
	bestCost     float64
	prevBestCost float64
	targetCost   float64

	population []I

	iter         uint64
	lastBestIter uint64
	maxIters     uint64
	counts       map[string]uint64
	elapsed      *time.Duration
	termStatus   TerminationStatus
}

// NewPopulationState returns a PopulationState with defaulted fields. See
// New.
func NewPopulationState[I any]() *PopulationState[I] {
	var s *PopulationState[I]
	return s.New()
}

// New returns a fresh state with defaulted fields. Callable on a nil
// receiver.
func (s *PopulationState[I]) New() *PopulationState[I] {
	zero := time.Duration(0)
	return &PopulationState[I]{
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

// SetIndividual sets the current individual, moving the former one into the
// previous slot.
func (s *PopulationState[I]) SetIndividual(individual I) *PopulationState[I] {
	s.prevIndividual = s.individual
	s.individual = &individual
	return s
}

// Individual returns the current individual, or nil if unset.
func (s *PopulationState[I]) Individual() *I { return s.individual }

// PrevIndividual returns the previous individual, or nil if unset.
func (s *PopulationState[I]) PrevIndividual() *I { return s.prevIndividual }

// BestIndividual returns the best individual found so far, or nil.
func (s *PopulationState[I]) BestIndividual() *I { return s.bestIndividual }

// PrevBestIndividual returns the previous best individual, or nil.
func (s *PopulationState[I]) PrevBestIndividual() *I { return s.prevBestIndividual }

// TakeIndividual removes and returns the current individual, or nil.
func (s *PopulationState[I]) TakeIndividual() *I {
	ind := s.individual
	s.individual = nil
	return ind
}

// TakeBestIndividual removes and returns the best individual, or nil.
func (s *PopulationState[I]) TakeBestIndividual() *I {
	ind := s.bestIndividual
	s.bestIndividual = nil
	return ind
}

// SetPopulation replaces the current population.
func (s *PopulationState[I]) SetPopulation(population []I) *PopulationState[I] {
	s.population = population
	return s
}

// Population returns the current population, or nil if unset.
func (s *PopulationState[I]) Population() []I { return s.population }

// TakePopulation removes and returns the current population, or nil.
func (s *PopulationState[I]) TakePopulation() []I {
	pop := s.population
	s.population = nil
	return pop
}

// SetCost sets the cost of the current individual, moving the former value
// into the previous slot.
func (s *PopulationState[I]) SetCost(cost float64) *PopulationState[I] {
	s.prevCost = s.cost
	s.cost = cost
	return s
}

// SetTargetCost sets the cost at or below which the run terminates.
func (s *PopulationState[I]) SetTargetCost(cost float64) *PopulationState[I] {
	s.targetCost = cost
	return s
}

// SetMaxIters limits the number of iterations.
func (s *PopulationState[I]) SetMaxIters(iters uint64) *PopulationState[I] {
	s.maxIters = iters
	return s
}

// Cost returns the cost of the current individual.
func (s *PopulationState[I]) Cost() float64 { return s.cost }

// PrevCost returns the cost of the previous individual.
func (s *PopulationState[I]) PrevCost() float64 { return s.prevCost }

// BestCost returns the best cost found so far.
func (s *PopulationState[I]) BestCost() float64 { return s.bestCost }

// PrevBestCost returns the previous best cost.
func (s *PopulationState[I]) PrevBestCost() float64 { return s.prevBestCost }

// TargetCost returns the target cost.
func (s *PopulationState[I]) TargetCost() float64 { return s.targetCost }

// Update promotes the current individual to best individual if its cost
// improves on the best cost, with infinite ties of the same sign counting
// as an improvement.
func (s *PopulationState[I]) Update() {
	improved := s.cost < s.bestCost ||
		(math.IsInf(s.cost, 0) && math.IsInf(s.bestCost, 0) && (s.cost > 0) == (s.bestCost > 0))
	if !improved {
		return
	}
	if s.individual != nil {
		s.prevBestIndividual = s.bestIndividual
		s.bestIndividual = s.individual
	}
	s.prevBestCost = s.bestCost
	s.bestCost = s.cost
	s.lastBestIter = s.iter
}

// FuncCounts copies evaluation counts into the state, overwriting existing
// entries per key.
func (s *PopulationState[I]) FuncCounts(counts map[string]uint64) {
	if s.counts == nil {
		s.counts = make(map[string]uint64, len(counts))
	}
	for k, v := range counts {
		s.counts[k] = v
	}
}

// Counts returns the recorded evaluation counts.
func (s *PopulationState[I]) Counts() map[string]uint64 { return s.counts }

// SetTime records the elapsed time since the run started.
func (s *PopulationState[I]) SetTime(elapsed *time.Duration) *PopulationState[I] {
	s.elapsed = elapsed
	return s
}

// Time returns the recorded elapsed time, or nil.
func (s *PopulationState[I]) Time() *time.Duration { return s.elapsed }

// TerminateWith marks the state terminated for the given reason.
func (s *PopulationState[I]) TerminateWith(reason TerminationReason) *PopulationState[I] {
	s.termStatus = TerminationStatus{Reason: reason}
	return s
}

// TerminationStatus returns the current termination status.
func (s *PopulationState[I]) TerminationStatus() TerminationStatus { return s.termStatus }

// Terminated reports whether a termination reason has been set.
func (s *PopulationState[I]) Terminated() bool { return s.termStatus.Terminated() }

// IncrementIter advances the iteration counter.
func (s *PopulationState[I]) IncrementIter() { s.iter++ }

// Iter returns the current iteration number.
func (s *PopulationState[I]) Iter() uint64 { return s.iter }

// LastBestIter returns the iteration in which the best individual was
// found.
func (s *PopulationState[I]) LastBestIter() uint64 { return s.lastBestIter }

// MaxIters returns the iteration limit.
func (s *PopulationState[I]) MaxIters() uint64 { return s.maxIters }

// IsBest reports whether the best individual stems from the current
// iteration.
func (s *PopulationState[I]) IsBest() bool { return s.lastBestIter == s.iter }

// populationStateJSON mirrors PopulationState for serialization.
type populationStateJSON[I any] struct {
	Individual         *I                `json:"individual,omitempty"`
	PrevIndividual     *I                `json:"prevIndividual,omitempty"`
	BestIndividual     *I                `json:"bestIndividual,omitempty"`
	PrevBestIndividual *I                `json:"prevBestIndividual,omitempty"`
	Cost               Float             `json:"cost"`
	PrevCost           Float             `json:"prevCost"`
	BestCost           Float             `json:"bestCost"`
	PrevBestCost       Float             `json:"prevBestCost"`
	TargetCost         Float             `json:"targetCost"`
	Population         []I               `json:"population,omitempty"`
	Iter               uint64            `json:"iter"`
	LastBestIter       uint64            `json:"lastBestIter"`
	MaxIters           uint64            `json:"maxIters"`
	Counts             map[string]uint64 `json:"counts,omitempty"`
	Elapsed            *time.Duration    `json:"elapsed,omitempty"`
	Termination        TerminationStatus `json:"termination"`
}

// MarshalJSON implements json.Marshaler.
func (s *PopulationState[I]) MarshalJSON() ([]byte, error) {
	return json.Marshal(populationStateJSON[I]{
		Individual:         s.individual,
		PrevIndividual:     s.prevIndividual,
		BestIndividual:     s.bestIndividual,
		PrevBestIndividual: s.prevBestIndividual,
		Cost:               Float(s.cost),
		PrevCost:           Float(s.prevCost),
		BestCost:           Float(s.bestCost),
		PrevBestCost:       Float(s.prevBestCost),
		TargetCost:         Float(s.targetCost),
		Population:         s.population,
		Iter:               s.iter,
		LastBestIter:       s.lastBestIter,
		MaxIters:           s.maxIters,
		Counts:             s.counts,
		Elapsed:            s.elapsed,
		Termination:        s.termStatus,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The whole state is replaced,
// fields absent from the input revert to their New defaults.
func (s *PopulationState[I]) UnmarshalJSON(data []byte) error {
	aux := populationStateJSON[I]{
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
	*s = PopulationState[I]{
		individual:         aux.Individual,
		prevIndividual:     aux.PrevIndividual,
		bestIndividual:     aux.BestIndividual,
		prevBestIndividual: aux.PrevBestIndividual,
		cost:               float64(aux.Cost),
		prevCost:           float64(aux.PrevCost),
		bestCost:           float64(aux.BestCost),
		prevBestCost:       float64(aux.PrevBestCost),
		targetCost:         float64(aux.TargetCost),
		population:         aux.Population,
		iter:               aux.Iter,
		lastBestIter:       aux.LastBestIter,
		maxIters:           aux.MaxIters,
		counts:             aux.Counts,
		elapsed:            aux.Elapsed,
		termStatus:         aux.Termination,
	}
	if s.counts == nil {
		s.counts = make(map[string]uint64)
	}
	return nil
}
