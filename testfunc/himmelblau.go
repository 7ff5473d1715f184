package testfunc

import (
	"fmt"
	"math/rand/v2"

	"github.com/descentlab/descent/core"
)

// Himmelblau is the two dimensional Himmelblau function
//
//	f(x_1, x_2) = (x_1² + x_2 - 11)² + (x_1 + x_2² - 7)²
//
// with four identical global minima f = 0 at (3, 2),
// (-2.805118, 3.131312), (-3.779310, -3.283186) and
// (3.584428, -1.848126).
type Himmelblau struct {
	rng *rand.Rand
}

// NewHimmelblau creates a Himmelblau objective.
func NewHimmelblau() *Himmelblau {
	return &Himmelblau{}
}

// WithRng sets the random source used by Anneal, making annealing runs
// reproducible. By default the shared source of math/rand/v2 is used.
func (h *Himmelblau) WithRng(rng *rand.Rand) *Himmelblau {
	h.rng = rng
	return h
}

// Cost computes f(x).
func (h *Himmelblau) Cost(param []float64) (float64, error) {
	if len(param) != 2 {
		return 0, errDimension(len(param))
	}
	x1, x2 := param[0], param[1]
	u := x1*x1 + x2 - 11
	v := x1 + x2*x2 - 7
	return u*u + v*v, nil
}

// Gradient computes the derivative.
func (h *Himmelblau) Gradient(param []float64) ([]float64, error) {
	if len(param) != 2 {
		return nil, errDimension(len(param))
	}
	x1, x2 := param[0], param[1]
	u := x1*x1 + x2 - 11
	v := x1 + x2*x2 - 7
	return []float64{
		4*x1*u + 2*v,
		2*u + 4*x2*v,
	}, nil
}

// Hessian computes the Hessian.
func (h *Himmelblau) Hessian(param []float64) ([][]float64, error) {
	if len(param) != 2 {
		return nil, errDimension(len(param))
	}
	x1, x2 := param[0], param[1]
	offDiag := 4 * (x1 + x2)
	return [][]float64{
		{4*(x1*x1+x2-11) + 8*x1*x1 + 2, offDiag},
		{offDiag, 4*(x1+x2*x2-7) + 8*x2*x2 + 2},
	}, nil
}

// Anneal perturbs every coordinate uniformly within ±extent.
func (h *Himmelblau) Anneal(param []float64, extent float64) ([]float64, error) {
	return dither(h.rng, param, extent), nil
}

func errDimension(n int) error {
	return fmt.Errorf("%w: Himmelblau function: parameter has %d coordinates, expected 2", core.ErrInvalidParameter, n)
}
