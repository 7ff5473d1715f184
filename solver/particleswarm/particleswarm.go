package particleswarm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/descentlab/descent/core"
	"github.com/descentlab/descent/linalg"
)

// State is the population state the swarm operates on.
type State[P any] = *core.PopulationState[Particle[P]]

// Particle is one member of the swarm: a position in the search space,
// the velocity it moves with, the cost at its position and the best
// point it has visited so far.
type Particle[P any] struct {
	Position     P       `json:"position"`
	Velocity     P       `json:"velocity"`
	Cost         float64 `json:"cost"`
	BestPosition P       `json:"best_position"`
	BestCost     float64 `json:"best_cost"`
}

// NewParticle creates a particle at position with the given cost and
// velocity. The particle's best point starts out as its position.
func NewParticle[P any](position P, cost float64, velocity P) Particle[P] {
	return Particle[P]{
		Position:     position,
		Velocity:     velocity,
		Cost:         cost,
		BestPosition: position,
		BestCost:     cost,
	}
}

// ParticleSwarm is the canonical particle swarm optimization method, a
// stochastic, derivative-free, population-based method. Every iteration
// each particle moves with a velocity blended from its momentum, a
// random pull toward the best point the particle itself has visited and
// a random pull toward the best point the swarm has visited, clamped to
// the search window, and the whole generation is evaluated in bulk.
//
// M. Zambrano-Bigiarini, M. Clerc and R. Rojas, "Standard Particle Swarm
// Optimisation 2011 at CEC-2013: A baseline for future PSO improvements",
// 2013 IEEE Congress on Evolutionary Computation, 2013.
type ParticleSwarm[O core.CostFunction[P], P any] struct {
	ops linalg.VectorOps[P]
	rng *rand.Rand

	weightInertia   float64
	weightCognitive float64
	weightSocial    float64
	lowerBound      P
	upperBound      P
	numParticles    int
}

// NewParticleSwarm creates a particle swarm solver using ops for vector
// arithmetic, searching between lowerBound and upperBound with
// numParticles particles. The inertia weight defaults to 1/(2 ln 2), the
// cognitive and social acceleration factors to 0.5 + ln 2.
func NewParticleSwarm[O core.CostFunction[P], P any](ops linalg.VectorOps[P], lowerBound, upperBound P, numParticles int) *ParticleSwarm[O, P] {
	return &ParticleSwarm[O, P]{
		ops:             ops,
		weightInertia:   1 / (2 * math.Ln2),
		weightCognitive: 0.5 + math.Ln2,
		weightSocial:    0.5 + math.Ln2,
		lowerBound:      lowerBound,
		upperBound:      upperBound,
		numParticles:    numParticles,
	}
}

// WithInertiaFactor sets the inertia weight on particle velocity. Must
// not be negative.
func (s *ParticleSwarm[O, P]) WithInertiaFactor(factor float64) (*ParticleSwarm[O, P], error) {
	if !(factor >= 0) {
		return nil, fmt.Errorf("%w: Particle Swarm Optimization: inertia factor must not be negative", core.ErrInvalidParameter)
	}
	s.weightInertia = factor
	return s, nil
}

// WithCognitiveFactor sets the acceleration toward a particle's own best
// point. Must not be negative.
func (s *ParticleSwarm[O, P]) WithCognitiveFactor(factor float64) (*ParticleSwarm[O, P], error) {
	if !(factor >= 0) {
		return nil, fmt.Errorf("%w: Particle Swarm Optimization: cognitive factor must not be negative", core.ErrInvalidParameter)
	}
	s.weightCognitive = factor
	return s, nil
}

// WithSocialFactor sets the acceleration toward the swarm's best point.
// Must not be negative.
func (s *ParticleSwarm[O, P]) WithSocialFactor(factor float64) (*ParticleSwarm[O, P], error) {
	if !(factor >= 0) {
		return nil, fmt.Errorf("%w: Particle Swarm Optimization: social factor must not be negative", core.ErrInvalidParameter)
	}
	s.weightSocial = factor
	return s, nil
}

// WithRng sets the random source used to draw positions, velocities and
// pulls, making runs reproducible. By default the shared source of
// math/rand/v2 is used.
func (s *ParticleSwarm[O, P]) WithRng(rng *rand.Rand) *ParticleSwarm[O, P] {
	s.rng = rng
	return s
}

// Name identifies the solver in observer output and checkpoints.
func (s *ParticleSwarm[O, P]) Name() string { return "Particle Swarm Optimization" }

// Init readies the swarm. A population provided through the state is
// sorted by cost and must match the configured particle count; without
// one the swarm starts from positions drawn uniformly inside the bounds
// and velocities drawn uniformly within plus/minus the window extent,
// evaluated in bulk.
func (s *ParticleSwarm[O, P]) Init(ctx context.Context, problem *core.Problem[O], state State[P]) (core.KV, error) {
	if s.numParticles < 1 {
		return nil, fmt.Errorf("%w: Particle Swarm Optimization: at least one particle is required", core.ErrInvalidParameter)
	}

	particles := state.TakePopulation()
	switch {
	case particles == nil:
		var err error
		if particles, err = s.initializeParticles(ctx, problem); err != nil {
			return nil, err
		}
	case len(particles) != s.numParticles:
		return nil, fmt.Errorf("%w: Particle Swarm Optimization: provided population has %d particles, expected %d", core.ErrInvalidParameter, len(particles), s.numParticles)
	default:
		sortByCost(particles)
	}

	state.SetIndividual(particles[0]).SetCost(particles[0].Cost).SetPopulation(particles)
	return nil, nil
}

// NextIter moves every particle, clamps it into the search window,
// evaluates the generation in bulk and updates the per-particle and
// swarm bests.
func (s *ParticleSwarm[O, P]) NextIter(ctx context.Context, problem *core.Problem[O], state State[P]) (core.KV, error) {
	bestParticle := state.TakeIndividual()
	if bestParticle == nil {
		return nil, fmt.Errorf("%w: Particle Swarm Optimization: no current best individual in state", core.ErrPotentialBug)
	}
	bestCost := state.Cost()
	particles := state.TakePopulation()
	if particles == nil {
		return nil, fmt.Errorf("%w: Particle Swarm Optimization: no population in state", core.ErrPotentialBug)
	}

	zero := s.ops.ZeroLike(bestParticle.Position)

	positions := make([]P, len(particles))
	for i := range particles {
		p := &particles[i]

		// The new velocity blends the momentum of the old one with
		// random pulls toward the particle's own best point and the
		// swarm's best point.
		momentum := s.ops.Scale(p.Velocity, s.weightInertia)
		toOptimum := s.ops.Sub(p.BestPosition, p.Position)
		pullToOptimum := s.ops.Scale(s.randFromRange(zero, toOptimum), s.weightCognitive)
		toGlobalOptimum := s.ops.Sub(bestParticle.Position, p.Position)
		pullToGlobalOptimum := s.ops.Scale(s.randFromRange(zero, toGlobalOptimum), s.weightSocial)

		p.Velocity = s.ops.Add(s.ops.Add(momentum, pullToOptimum), pullToGlobalOptimum)
		p.Position = s.clampToBounds(s.ops.Add(p.Position, p.Velocity))
		positions[i] = p.Position
	}

	costs, err := core.BulkCost(ctx, problem, positions)
	if err != nil {
		return nil, err
	}

	for i := range particles {
		p := &particles[i]
		p.Cost = costs[i]
		if p.Cost < p.BestCost {
			p.BestPosition = p.Position
			p.BestCost = p.Cost

			if p.Cost < bestCost {
				bestParticle.Position = p.Position
				bestParticle.BestPosition = p.Position
				bestParticle.Cost = p.Cost
				bestParticle.BestCost = p.Cost
				bestCost = p.Cost
			}
		}
	}

	state.SetIndividual(*bestParticle).SetCost(bestCost).SetPopulation(particles)
	return nil, nil
}

// Terminate never fires; runs end through the iteration limit or the
// target cost.
func (s *ParticleSwarm[O, P]) Terminate(state State[P]) core.TerminationStatus {
	return core.TerminationStatus{}
}

// initializeParticles draws the starting swarm and ranks it so the first
// particle is the best one.
func (s *ParticleSwarm[O, P]) initializeParticles(ctx context.Context, problem *core.Problem[O]) ([]Particle[P], error) {
	positions, velocities := s.initializePositionsAndVelocities()

	costs, err := core.BulkCost(ctx, problem, positions)
	if err != nil {
		return nil, err
	}

	particles := make([]Particle[P], s.numParticles)
	for i := range particles {
		particles[i] = NewParticle(positions[i], costs[i], velocities[i])
	}
	sortByCost(particles)
	return particles, nil
}

// initializePositionsAndVelocities samples positions uniformly inside
// the bounds and velocities uniformly in plus/minus the window extent.
func (s *ParticleSwarm[O, P]) initializePositionsAndVelocities() ([]P, []P) {
	delta := s.ops.Sub(s.upperBound, s.lowerBound)
	deltaNeg := s.ops.Scale(delta, -1)

	positions := make([]P, s.numParticles)
	velocities := make([]P, s.numParticles)
	for i := range positions {
		positions[i] = s.randFromRange(s.lowerBound, s.upperBound)
		velocities[i] = s.randFromRange(deltaNeg, delta)
	}
	return positions, velocities
}

// randFromRange draws a vector with each element uniform between the
// corresponding elements of a and b, in either order.
func (s *ParticleSwarm[O, P]) randFromRange(a, b P) P {
	lo := s.ops.ToSlice(a)
	hi := s.ops.ToSlice(b)
	draws := make([]float64, len(lo))
	for i := range draws {
		draws[i] = lo[i] + s.uniformFloat64()*(hi[i]-lo[i])
	}
	return s.ops.FromSlice(draws)
}

// clampToBounds limits a position to the search window.
func (s *ParticleSwarm[O, P]) clampToBounds(position P) P {
	xs := s.ops.ToSlice(position)
	lo := s.ops.ToSlice(s.lowerBound)
	hi := s.ops.ToSlice(s.upperBound)
	for i := range xs {
		xs[i] = math.Min(math.Max(xs[i], lo[i]), hi[i])
	}
	return s.ops.FromSlice(xs)
}

func (s *ParticleSwarm[O, P]) uniformFloat64() float64 {
	if s.rng != nil {
		return s.rng.Float64()
	}
	return rand.Float64()
}

func sortByCost[P any](particles []Particle[P]) {
	sort.SliceStable(particles, func(i, j int) bool {
		return particles[i].Cost < particles[j].Cost
	})
}

// particleSwarmJSON mirrors ParticleSwarm for serialization.
type particleSwarmJSON[P any] struct {
	WeightInertia   float64 `json:"weight_inertia"`
	WeightCognitive float64 `json:"weight_cognitive"`
	WeightSocial    float64 `json:"weight_social"`
	LowerBound      P       `json:"lower_bound"`
	UpperBound      P       `json:"upper_bound"`
	NumParticles    int     `json:"num_particles"`
}

// MarshalJSON implements json.Marshaler for checkpointing. The random
// source is not part of the checkpoint; a resumed run continues on fresh
// draws.
func (s *ParticleSwarm[O, P]) MarshalJSON() ([]byte, error) {
	return json.Marshal(particleSwarmJSON[P]{
		WeightInertia:   s.weightInertia,
		WeightCognitive: s.weightCognitive,
		WeightSocial:    s.weightSocial,
		LowerBound:      s.lowerBound,
		UpperBound:      s.upperBound,
		NumParticles:    s.numParticles,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The vector arithmetic and
// the random source are not reconstructed from JSON, so the receiver
// must have been built with NewParticleSwarm.
func (s *ParticleSwarm[O, P]) UnmarshalJSON(data []byte) error {
	var aux particleSwarmJSON[P]
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.weightInertia = aux.WeightInertia
	s.weightCognitive = aux.WeightCognitive
	s.weightSocial = aux.WeightSocial
	s.lowerBound = aux.LowerBound
	s.upperBound = aux.UpperBound
	s.numParticles = aux.NumParticles
	return nil
}
