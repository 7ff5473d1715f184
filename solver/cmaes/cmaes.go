package cmaes

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/descentlab/descent/core"
	"github.com/descentlab/descent/linalg"
)

var machEps = math.Nextafter(1, 2) - 1

// State is the population state CMA-ES operates on.
type State[P any] = *core.PopulationState[P]

// CMAES is the covariance matrix adaptation evolution strategy, a
// stochastic, derivative-free, population-based method. Each generation
// samples lambda candidates from a multivariate normal distribution, ranks
// them by cost and re-estimates the distribution from the best mu
// individuals, adapting mean, covariance matrix and step size as the
// search proceeds.
//
// N. Hansen, "The CMA Evolution Strategy: A Tutorial", arXiv:1604.00772,
// 2016.
type CMAES[O core.CostFunction[P], P, M any] struct {
	ops linalg.MatrixOps[P, M]
	rng *rand.Rand

	centroid P
	weights  []float64
	sigma    float64
	mueff    float64
	lambda   int
	dim      int
	mu       int
	b        M
	bd       M
	c        M
	diagD    P
	ps       P
	pc       P
	cs       float64
	cc       float64
	ccov1    float64
	ccovmu   float64
	chiN     float64
	damps    float64
}

// NewCMAES creates a CMA-ES solver using ops for vector and matrix
// arithmetic. The search starts from a normal distribution centered on
// centroid with standard deviation sigma, sampling lambda children per
// generation of which the best lambda/2 shape the next distribution. All
// strategy constants are derived here, and the covariance matrix starts
// out as the identity.
func NewCMAES[O core.CostFunction[P], P, M any](ops linalg.MatrixOps[P, M], centroid P, sigma float64, lambda int) *CMAES[O, P, M] {
	dim := ops.Dim(centroid)
	dimF := float64(dim)
	s := &CMAES[O, P, M]{
		ops:      ops,
		centroid: centroid,
		sigma:    sigma,
		lambda:   lambda,
		dim:      dim,
		mu:       lambda / 2,
		c:        ops.Eye(dim),
		ps:       ops.ZeroLike(centroid),
		pc:       ops.ZeroLike(centroid),
		chiN:     math.Sqrt(dimF) * (1 - 1/(4*dimF) + 1/(21*dimF*dimF)),
	}
	if err := s.factorize(false); err != nil {
		// The identity matrix cannot defeat the eigensolver.
		panic(err)
	}

	weights := make([]float64, s.mu)
	wc := math.Log(0.5 + float64(s.mu))
	sum := 0.0
	for i := range weights {
		weights[i] = wc - math.Log(float64(i+1))
		sum += weights[i]
	}
	sqSum := 0.0
	for i := range weights {
		weights[i] /= sum
		sqSum += weights[i] * weights[i]
	}
	s.weights = weights
	s.mueff = 1 / sqSum

	s.cc = 4 / (dimF + 4)
	s.cs = (s.mueff + 2) / (dimF + s.mueff + 3)
	s.ccov1 = 2 / ((dimF+1.3)*(dimF+1.3) + s.mueff)
	s.ccovmu = math.Min(2*(s.mueff-2+1/s.mueff)/((dimF+2)*(dimF+2)+s.mueff), 1-s.ccov1)
	s.damps = 1 + 2*math.Max(0, math.Sqrt((s.mueff-1)/(dimF+1))-1) + s.cs
	return s
}

// WithRng sets the random source used to sample generations, making runs
// reproducible. By default the shared source of math/rand/v2 is used.
func (s *CMAES[O, P, M]) WithRng(rng *rand.Rand) *CMAES[O, P, M] {
	s.rng = rng
	return s
}

// Name identifies the solver in observer output and checkpoints.
func (s *CMAES[O, P, M]) Name() string { return "CMA-ES method" }

// Init checks the construction parameters. The distribution itself was
// fully set up by NewCMAES, so no evaluation takes place.
func (s *CMAES[O, P, M]) Init(ctx context.Context, problem *core.Problem[O], state State[P]) (core.KV, error) {
	if s.lambda < 2 {
		return nil, fmt.Errorf("%w: CMA-ES: lambda must be at least 2", core.ErrInvalidParameter)
	}
	if !(s.sigma > 0) || math.IsInf(s.sigma, 1) {
		return nil, fmt.Errorf("%w: CMA-ES: sigma must be positive and finite", core.ErrInvalidParameter)
	}
	return nil, nil
}

// NextIter samples a generation, ranks it by cost and moves the
// distribution toward the best mu individuals: the centroid becomes their
// weighted mean, the evolution paths ps and pc absorb the centroid shift,
// the covariance matrix receives its rank-one and rank-mu updates and the
// step size adapts to the length of ps. The state records the generation,
// the new centroid as current individual and the best sampled cost.
func (s *CMAES[O, P, M]) NextIter(ctx context.Context, problem *core.Problem[O], state State[P]) (core.KV, error) {
	population := s.generate()
	state.SetPopulation(population)

	fitness, err := core.BulkCost(ctx, problem, population)
	if err != nil {
		return nil, err
	}
	ranked := linalg.Argsort(fitness)

	newCentroid := s.ops.ZeroLike(s.centroid)
	for i, w := range s.weights {
		newCentroid = s.ops.ScaledAdd(newCentroid, w, population[ranked[i]])
	}
	cDiff := s.ops.Sub(newCentroid, s.centroid)

	// Step size path, fed the centroid shift whitened through the current
	// factorization: C^(-1/2) = B diag(1/D) B^T.
	white := s.ops.ToSlice(s.ops.MatVec(s.ops.Transpose(s.b), cDiff))
	diag := s.ops.ToSlice(s.diagD)
	for i := range white {
		white[i] /= diag[i]
	}
	s.ps = s.ops.ScaledAdd(
		s.ops.Scale(s.ps, 1-s.cs),
		math.Sqrt(s.cs*(2-s.cs)*s.mueff)/s.sigma,
		s.ops.MatVec(s.b, s.ops.FromSlice(white)),
	)
	psNorm := s.ops.Norm(s.ps)

	// hsig stalls the covariance path while ps is longer than expected
	// under purely random selection.
	hsig := 0.0
	expected := math.Sqrt(1 - math.Pow(1-s.cs, 2*(float64(state.Iter())+2)))
	if psNorm/expected/s.chiN < 1.4+2/(float64(s.dim)+1) {
		hsig = 1
	}
	s.pc = s.ops.ScaledAdd(
		s.ops.Scale(s.pc, 1-s.cc),
		hsig*math.Sqrt(s.cc*(2-s.cc)*s.mueff)/s.sigma,
		cDiff,
	)

	// Rank-one and rank-mu covariance update. The deviations are measured
	// from the centroid the generation was sampled around, while pc has
	// already absorbed the move to the new one.
	decay := 1 - s.ccov1 - s.ccovmu + (1-hsig)*s.ccov1*s.cc*(2-s.cc)
	c := s.ops.AddMat(s.ops.ScaleMat(s.c, decay), s.ops.ScaleMat(s.ops.Outer(s.pc, s.pc), s.ccov1))
	for i, w := range s.weights {
		dev := s.ops.Sub(population[ranked[i]], s.centroid)
		c = s.ops.AddMat(c, s.ops.ScaleMat(s.ops.Outer(dev, dev), s.ccovmu*w/(s.sigma*s.sigma)))
	}
	s.c = c

	s.sigma *= math.Exp((psNorm/s.chiN - 1) * s.cs / s.damps)
	if math.IsInf(s.sigma, 0) {
		s.sigma = math.MaxFloat64
	}

	if err := s.factorize(true); err != nil {
		return nil, err
	}
	s.centroid = newCentroid

	genMin := math.Inf(1)
	for _, f := range fitness {
		genMin = math.Min(genMin, f)
	}
	state.SetIndividual(s.centroid).SetCost(genMin)
	return nil, nil
}

// Terminate never fires; runs end through the iteration limit or the
// target cost.
func (s *CMAES[O, P, M]) Terminate(state State[P]) core.TerminationStatus {
	return core.TerminationStatus{}
}

// generate samples lambda individuals from N(centroid, sigma^2 C) using
// the factorization C = (B diag(D)) (B diag(D))^T.
func (s *CMAES[O, P, M]) generate() []P {
	population := make([]P, s.lambda)
	draws := make([]float64, s.dim)
	for k := range population {
		for i := range draws {
			draws[i] = s.normFloat64()
		}
		step := s.ops.MatVec(s.bd, s.ops.FromSlice(draws))
		population[k] = s.ops.ScaledAdd(s.centroid, s.sigma, step)
	}
	return population
}

func (s *CMAES[O, P, M]) normFloat64() float64 {
	if s.rng != nil {
		return s.rng.NormFloat64()
	}
	return rand.NormFloat64()
}

// factorize refreshes b, diagD and bd from the eigendecomposition of the
// covariance matrix, with eigenpairs sorted ascending. With lift set, the
// eigenvalues are raised by one machine epsilon first so that values that
// drifted just below zero survive the square root.
func (s *CMAES[O, P, M]) factorize(lift bool) error {
	vals, vecs, err := s.ops.EigSym(s.c)
	if err != nil {
		return err
	}
	eigen := s.ops.ToSlice(vals)
	if lift {
		for i := range eigen {
			eigen[i] += machEps
		}
	}
	indx := linalg.Argsort(eigen)

	sorted := make([]float64, len(eigen))
	b := s.ops.ZeroMat(s.dim, s.dim)
	for j, k := range indx {
		sorted[j] = math.Sqrt(eigen[k])
		for i := 0; i < s.dim; i++ {
			s.ops.SetAt(b, i, j, s.ops.At(vecs, i, k))
		}
	}
	s.diagD = s.ops.FromSlice(sorted)
	s.b = b
	s.bd = s.ops.MatMul(b, s.ops.Diag(s.diagD))
	return nil
}

// cmaesJSON mirrors CMAES for serialization.
type cmaesJSON[P, M any] struct {
	Centroid P         `json:"centroid"`
	Weights  []float64 `json:"weights"`
	Sigma    float64   `json:"sigma"`
	Mueff    float64   `json:"mueff"`
	Lambda   int       `json:"lambda"`
	Dim      int       `json:"dim"`
	Mu       int       `json:"mu"`
	B        M         `json:"b"`
	BD       M         `json:"bd"`
	C        M         `json:"c"`
	DiagD    P         `json:"diag_d"`
	Ps       P         `json:"ps"`
	Pc       P         `json:"pc"`
	Cs       float64   `json:"cs"`
	Cc       float64   `json:"cc"`
	Ccov1    float64   `json:"ccov1"`
	Ccovmu   float64   `json:"ccovmu"`
	ChiN     float64   `json:"chi_n"`
	Damps    float64   `json:"damps"`
}

// MarshalJSON implements json.Marshaler for checkpointing. The random
// source is not part of the checkpoint; a resumed run continues on fresh
// draws.
func (s *CMAES[O, P, M]) MarshalJSON() ([]byte, error) {
	return json.Marshal(cmaesJSON[P, M]{
		Centroid: s.centroid,
		Weights:  s.weights,
		Sigma:    s.sigma,
		Mueff:    s.mueff,
		Lambda:   s.lambda,
		Dim:      s.dim,
		Mu:       s.mu,
		B:        s.b,
		BD:       s.bd,
		C:        s.c,
		DiagD:    s.diagD,
		Ps:       s.ps,
		Pc:       s.pc,
		Cs:       s.cs,
		Cc:       s.cc,
		Ccov1:    s.ccov1,
		Ccovmu:   s.ccovmu,
		ChiN:     s.chiN,
		Damps:    s.damps,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The vector arithmetic and the
// random source are not reconstructed from JSON, so the receiver must have
// been built with NewCMAES.
func (s *CMAES[O, P, M]) UnmarshalJSON(data []byte) error {
	var aux cmaesJSON[P, M]
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.centroid = aux.Centroid
	s.weights = aux.Weights
	s.sigma = aux.Sigma
	s.mueff = aux.Mueff
	s.lambda = aux.Lambda
	s.dim = aux.Dim
	s.mu = aux.Mu
	s.b = aux.B
	s.bd = aux.BD
	s.c = aux.C
	s.diagD = aux.DiagD
	s.ps = aux.Ps
	s.pc = aux.Pc
	s.cs = aux.Cs
	s.cc = aux.Cc
	s.ccov1 = aux.Ccov1
	s.ccovmu = aux.Ccovmu
	s.chiN = aux.ChiN
	s.damps = aux.Damps
	return nil
}
