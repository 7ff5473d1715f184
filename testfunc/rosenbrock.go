package testfunc

import "math/rand/v2"

// Rosenbrock is the multidimensional Rosenbrock function
//
//	f(x) = Σ_{i=1}^{n-1} [ (a - x_i)² + b (x_{i+1} - x_i²)² ]
//
// whose global minimum for the usual coefficients a = 1 and b = 100 sits
// at f(1, ..., 1) = 0, inside a long curved valley that is notoriously
// hard to follow for gradient methods.
type Rosenbrock struct {
	a, b float64
	rng  *rand.Rand
}

// NewRosenbrock creates a Rosenbrock objective with the usual coefficients
// a = 1 and b = 100.
func NewRosenbrock() *Rosenbrock {
	return NewRosenbrockAB(1, 100)
}

// NewRosenbrockAB creates a Rosenbrock objective with freely chosen
// coefficients.
func NewRosenbrockAB(a, b float64) *Rosenbrock {
	return &Rosenbrock{a: a, b: b}
}

// WithRng sets the random source used by Anneal, making annealing runs
// reproducible. By default the shared source of math/rand/v2 is used.
func (r *Rosenbrock) WithRng(rng *rand.Rand) *Rosenbrock {
	r.rng = rng
	return r
}

// Cost computes f(x).
func (r *Rosenbrock) Cost(param []float64) (float64, error) {
	total := 0.0
	for i := 0; i+1 < len(param); i++ {
		xi, xi1 := param[i], param[i+1]
		u := r.a - xi
		v := xi1 - xi*xi
		total += u*u + r.b*v*v
	}
	return total, nil
}

// Gradient computes the derivative. Interior coordinates appear in two
// summands, so their entries accumulate both contributions.
func (r *Rosenbrock) Gradient(param []float64) ([]float64, error) {
	out := make([]float64, len(param))
	for i := 0; i+1 < len(param); i++ {
		xi, xi1 := param[i], param[i+1]
		out[i] += -4*r.b*xi*(xi1-xi*xi) + 2*(xi-r.a)
		out[i+1] += 2 * r.b * (xi1 - xi*xi)
	}
	return out, nil
}

// Hessian computes the Hessian, a symmetric tridiagonal matrix.
func (r *Rosenbrock) Hessian(param []float64) ([][]float64, error) {
	n := len(param)
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
	}
	for i := 0; i+1 < n; i++ {
		xi, xi1 := param[i], param[i+1]
		out[i][i] += 12*r.b*xi*xi - 4*r.b*xi1 + 2*r.a
		out[i+1][i+1] = 2 * r.b
		out[i][i+1] = -4 * r.b * xi
		out[i+1][i] = -4 * r.b * xi
	}
	return out, nil
}

// Anneal perturbs every coordinate uniformly within ±extent.
func (r *Rosenbrock) Anneal(param []float64, extent float64) ([]float64, error) {
	return dither(r.rng, param, extent), nil
}
