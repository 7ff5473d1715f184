package simulatedannealing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/descentlab/descent/core"
)

// State is the iterate state simulated annealing runs on. Only the
// parameter vector and the scalar costs are tracked.
type State[P any] = *core.IterState[P, struct{}, struct{}, struct{}]

// Objective describes the problem capabilities simulated annealing
// requires: cost evaluation and the temperature driven move proposal.
type Objective[P any] interface {
	core.CostFunction[P]
	core.Anneal[P]
}

// SimulatedAnnealing is a stochastic method that imitates annealing in
// metallurgy. Each iteration asks the objective to perturb the current
// parameter vector by an extent given by the current temperature. Moves
// that lower the cost are always accepted; worse moves are accepted with a
// probability that shrinks with the cost increase and with the cooling
// temperature, which lets the method escape local minima early on and
// settle as the temperature drops. The temperature can optionally be reset
// to its initial value on fixed intervals or after stretches without
// accepted or best solutions, and such stretches can also stop the run.
//
// S. Kirkpatrick, C. D. Gelatt Jr. and M. P. Vecchi, "Optimization by
// Simulated Annealing", Science 220 (4598), 1983, 671-680.
// DOI: 10.1126/science.220.4598.671
type SimulatedAnnealing[O Objective[P], P any] struct {
	initTemp               float64
	schedule               Schedule
	tempIter               uint64
	stallIterAccepted      uint64
	stallIterAcceptedLimit uint64
	stallIterBest          uint64
	stallIterBestLimit     uint64
	reannealFixed          uint64
	reannealIterFixed      uint64
	reannealAccepted       uint64
	reannealIterAccepted   uint64
	reannealBest           uint64
	reannealIterBest       uint64
	curTemp                float64
	rng                    *rand.Rand
}

// NewSimulatedAnnealing creates a simulated annealing solver starting at
// the given temperature, which must be positive. It cools on the fast
// schedule; stalling and reannealing are disabled by default.
func NewSimulatedAnnealing[O Objective[P], P any](initTemp float64) (*SimulatedAnnealing[O, P], error) {
	if !(initTemp > 0) {
		return nil, fmt.Errorf("%w: Simulated Annealing: initial temperature must be > 0", core.ErrInvalidParameter)
	}
	return &SimulatedAnnealing[O, P]{
		initTemp:               initTemp,
		schedule:               NewFastSchedule(),
		stallIterAcceptedLimit: math.MaxUint64,
		stallIterBestLimit:     math.MaxUint64,
		reannealFixed:          math.MaxUint64,
		reannealAccepted:       math.MaxUint64,
		reannealBest:           math.MaxUint64,
		curTemp:                initTemp,
	}, nil
}

// WithSchedule sets the cooling schedule. Defaults to the fast schedule.
func (s *SimulatedAnnealing[O, P]) WithSchedule(schedule Schedule) *SimulatedAnnealing[O, P] {
	s.schedule = schedule
	return s
}

// WithStallAccepted stops the run once no solution was accepted for iter
// consecutive iterations. Defaults to never.
func (s *SimulatedAnnealing[O, P]) WithStallAccepted(iter uint64) *SimulatedAnnealing[O, P] {
	s.stallIterAcceptedLimit = iter
	return s
}

// WithStallBest stops the run once no new best solution was found for iter
// consecutive iterations. Defaults to never.
func (s *SimulatedAnnealing[O, P]) WithStallBest(iter uint64) *SimulatedAnnealing[O, P] {
	s.stallIterBestLimit = iter
	return s
}

// WithReannealingFixed resets the temperature to its initial value every
// iter iterations. Defaults to never.
func (s *SimulatedAnnealing[O, P]) WithReannealingFixed(iter uint64) *SimulatedAnnealing[O, P] {
	s.reannealFixed = iter
	return s
}

// WithReannealingAccepted resets the temperature to its initial value once
// no solution was accepted for iter consecutive iterations. Defaults to
// never.
func (s *SimulatedAnnealing[O, P]) WithReannealingAccepted(iter uint64) *SimulatedAnnealing[O, P] {
	s.reannealAccepted = iter
	return s
}

// WithReannealingBest resets the temperature to its initial value once no
// new best solution was found for iter consecutive iterations. Defaults to
// never.
func (s *SimulatedAnnealing[O, P]) WithReannealingBest(iter uint64) *SimulatedAnnealing[O, P] {
	s.reannealBest = iter
	return s
}

// WithRng sets the random source driving the acceptance draws, making runs
// reproducible. By default the shared source of math/rand/v2 is used.
func (s *SimulatedAnnealing[O, P]) WithRng(rng *rand.Rand) *SimulatedAnnealing[O, P] {
	s.rng = rng
	return s
}

// Name identifies the solver in observer output and checkpoints.
func (s *SimulatedAnnealing[O, P]) Name() string { return "Simulated Annealing" }

// Init requires an initial parameter vector and keeps a finite cost
// already carried by the state, evaluating the objective otherwise.
func (s *SimulatedAnnealing[O, P]) Init(ctx context.Context, problem *core.Problem[O], state State[P]) (core.KV, error) {
	param := state.TakeParam()
	if param == nil {
		return nil, fmt.Errorf("%w: Simulated Annealing: initial parameter vector not set", core.ErrNotInitialized)
	}
	cost := state.Cost()
	if math.IsInf(cost, 0) {
		c, err := core.EvalCost(problem, *param)
		if err != nil {
			return nil, err
		}
		cost = c
	}
	state.SetParam(*param).SetCost(cost)

	return core.KV{
		slog.Float64("initial_temperature", s.initTemp),
		slog.Uint64("stall_iter_accepted_limit", s.stallIterAcceptedLimit),
		slog.Uint64("stall_iter_best_limit", s.stallIterBestLimit),
		slog.Uint64("reanneal_fixed", s.reannealFixed),
		slog.Uint64("reanneal_accepted", s.reannealAccepted),
		slog.Uint64("reanneal_best", s.reannealBest),
	}, nil
}

// NextIter proposes a move at the current temperature, applies the
// acceptance rule, advances the stall and reannealing counters and cools
// the temperature. The counter and temperature updates are keyed to the
// iteration number; their order must not change.
func (s *SimulatedAnnealing[O, P]) NextIter(ctx context.Context, problem *core.Problem[O], state State[P]) (core.KV, error) {
	prevParam := state.TakeParam()
	if prevParam == nil {
		return nil, fmt.Errorf("%w: Simulated Annealing: parameter vector in state not set", core.ErrPotentialBug)
	}
	prevCost := state.Cost()

	newParam, err := core.EvalAnneal(problem, *prevParam, s.curTemp)
	if err != nil {
		return nil, err
	}
	newCost, err := core.EvalCost(problem, newParam)
	if err != nil {
		return nil, err
	}

	// Moves that improve on the previous cost always pass. Worse moves
	// pass with probability 1/(1+exp((newCost-prevCost)/t)), which lies
	// in (0, 0.5] and shrinks as the temperature cools.
	prob := s.uniformFloat64()
	accepted := newCost < prevCost ||
		1/(1+math.Exp((newCost-prevCost)/s.curTemp)) > prob

	newBestFound := newCost < state.BestCost()

	s.updateStallAndReannealCounters(accepted, newBestFound)
	reannealedFixed, reannealedAccepted, reannealedBest := s.reanneal()

	s.tempIter++
	s.reannealIterFixed++
	s.curTemp = s.schedule.temperature(s.initTemp, s.tempIter)

	if accepted {
		state.SetParam(newParam).SetCost(newCost)
	} else {
		state.SetParam(*prevParam).SetCost(prevCost)
	}

	return core.KV{
		slog.Float64("t", s.curTemp),
		slog.Bool("new_be", newBestFound),
		slog.Bool("acc", accepted),
		slog.Uint64("st_i_be", s.stallIterBest),
		slog.Uint64("st_i_ac", s.stallIterAccepted),
		slog.Uint64("ra_i_fi", s.reannealIterFixed),
		slog.Uint64("ra_i_be", s.reannealIterBest),
		slog.Uint64("ra_i_ac", s.reannealIterAccepted),
		slog.Bool("ra_fi", reannealedFixed),
		slog.Bool("ra_be", reannealedBest),
		slog.Bool("ra_ac", reannealedAccepted),
	}, nil
}

// Terminate stops once either stall counter exceeds its limit.
func (s *SimulatedAnnealing[O, P]) Terminate(state State[P]) core.TerminationStatus {
	if s.stallIterAccepted > s.stallIterAcceptedLimit {
		return core.TerminationStatus{Reason: core.SolverExit("AcceptedStallIterExceeded")}
	}
	if s.stallIterBest > s.stallIterBestLimit {
		return core.TerminationStatus{Reason: core.SolverExit("BestStallIterExceeded")}
	}
	return core.TerminationStatus{}
}

// updateStallAndReannealCounters resets the counters fed by accepted and
// best solutions when one was found and advances them otherwise.
func (s *SimulatedAnnealing[O, P]) updateStallAndReannealCounters(accepted, newBest bool) {
	if accepted {
		s.stallIterAccepted = 0
		s.reannealIterAccepted = 0
	} else {
		s.stallIterAccepted++
		s.reannealIterAccepted++
	}
	if newBest {
		s.stallIterBest = 0
		s.reannealIterBest = 0
	} else {
		s.stallIterBest++
		s.reannealIterBest++
	}
}

// reanneal reports which reannealing thresholds have been crossed. If any
// was, the reannealing counters reset and the temperature returns to its
// initial value.
func (s *SimulatedAnnealing[O, P]) reanneal() (fixed, accepted, best bool) {
	fixed = s.reannealIterFixed >= s.reannealFixed
	accepted = s.reannealIterAccepted >= s.reannealAccepted
	best = s.reannealIterBest >= s.reannealBest
	if fixed || accepted || best {
		s.reannealIterFixed = 0
		s.reannealIterAccepted = 0
		s.reannealIterBest = 0
		s.curTemp = s.initTemp
		s.tempIter = 0
	}
	return fixed, accepted, best
}

func (s *SimulatedAnnealing[O, P]) uniformFloat64() float64 {
	if s.rng != nil {
		return s.rng.Float64()
	}
	return rand.Float64()
}

// simulatedAnnealingJSON mirrors SimulatedAnnealing for serialization.
type simulatedAnnealingJSON struct {
	InitTemp               float64  `json:"init_temp"`
	Schedule               Schedule `json:"schedule"`
	TempIter               uint64   `json:"temp_iter"`
	StallIterAccepted      uint64   `json:"stall_iter_accepted"`
	StallIterAcceptedLimit uint64   `json:"stall_iter_accepted_limit"`
	StallIterBest          uint64   `json:"stall_iter_best"`
	StallIterBestLimit     uint64   `json:"stall_iter_best_limit"`
	ReannealFixed          uint64   `json:"reanneal_fixed"`
	ReannealIterFixed      uint64   `json:"reanneal_iter_fixed"`
	ReannealAccepted       uint64   `json:"reanneal_accepted"`
	ReannealIterAccepted   uint64   `json:"reanneal_iter_accepted"`
	ReannealBest           uint64   `json:"reanneal_best"`
	ReannealIterBest       uint64   `json:"reanneal_iter_best"`
	CurTemp                float64  `json:"cur_temp"`
}

// MarshalJSON implements json.Marshaler for checkpointing. The random
// source is not part of the checkpoint; a resumed run continues on fresh
// draws.
func (s *SimulatedAnnealing[O, P]) MarshalJSON() ([]byte, error) {
	return json.Marshal(simulatedAnnealingJSON{
		InitTemp:               s.initTemp,
		Schedule:               s.schedule,
		TempIter:               s.tempIter,
		StallIterAccepted:      s.stallIterAccepted,
		StallIterAcceptedLimit: s.stallIterAcceptedLimit,
		StallIterBest:          s.stallIterBest,
		StallIterBestLimit:     s.stallIterBestLimit,
		ReannealFixed:          s.reannealFixed,
		ReannealIterFixed:      s.reannealIterFixed,
		ReannealAccepted:       s.reannealAccepted,
		ReannealIterAccepted:   s.reannealIterAccepted,
		ReannealBest:           s.reannealBest,
		ReannealIterBest:       s.reannealIterBest,
		CurTemp:                s.curTemp,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The random source is not
// reconstructed from JSON; a source set through WithRng must be set again
// on the restored solver.
func (s *SimulatedAnnealing[O, P]) UnmarshalJSON(data []byte) error {
	var aux simulatedAnnealingJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.initTemp = aux.InitTemp
	s.schedule = aux.Schedule
	s.tempIter = aux.TempIter
	s.stallIterAccepted = aux.StallIterAccepted
	s.stallIterAcceptedLimit = aux.StallIterAcceptedLimit
	s.stallIterBest = aux.StallIterBest
	s.stallIterBestLimit = aux.StallIterBestLimit
	s.reannealFixed = aux.ReannealFixed
	s.reannealIterFixed = aux.ReannealIterFixed
	s.reannealAccepted = aux.ReannealAccepted
	s.reannealIterAccepted = aux.ReannealIterAccepted
	s.reannealBest = aux.ReannealBest
	s.reannealIterBest = aux.ReannealIterBest
	s.curTemp = aux.CurTemp
	return nil
}
