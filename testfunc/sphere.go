package testfunc

import "math/rand/v2"

// Sphere is the sphere function
//
//	f(x) = Σ x_i²
//
// with its global minimum f(0, ..., 0) = 0 at the origin.
type Sphere struct {
	rng *rand.Rand
}

// NewSphere creates a sphere objective.
func NewSphere() *Sphere {
	return &Sphere{}
}

// WithRng sets the random source used by Anneal, making annealing runs
// reproducible. By default the shared source of math/rand/v2 is used.
func (s *Sphere) WithRng(rng *rand.Rand) *Sphere {
	s.rng = rng
	return s
}

// Cost computes f(x).
func (s *Sphere) Cost(param []float64) (float64, error) {
	total := 0.0
	for _, x := range param {
		total += x * x
	}
	return total, nil
}

// Gradient computes the derivative, 2 x_i per coordinate.
func (s *Sphere) Gradient(param []float64) ([]float64, error) {
	out := make([]float64, len(param))
	for i, x := range param {
		out[i] = 2 * x
	}
	return out, nil
}

// Hessian computes the Hessian, the constant diagonal matrix diag(2).
func (s *Sphere) Hessian(param []float64) ([][]float64, error) {
	n := len(param)
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		out[i][i] = 2
	}
	return out, nil
}

// Anneal perturbs every coordinate uniformly within ±extent.
func (s *Sphere) Anneal(param []float64, extent float64) ([]float64, error) {
	return dither(s.rng, param, extent), nil
}
