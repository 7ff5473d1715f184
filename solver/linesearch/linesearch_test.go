package linesearch

import (
	"math"

	"github.com/descentlab/descent/core"
)

// Compile-time checks that the line searches satisfy the solver and line
// search contracts.
var (
	_ core.Solver[sphere, State[[]float64]] = (*Backtracking[sphere, []float64])(nil)
	_ core.Solver[sphere, State[[]float64]] = (*HagerZhang[sphere, []float64])(nil)
	_ core.Solver[sphere, State[[]float64]] = (*MoreThuente[sphere, []float64])(nil)

	_ Solver[sphere, []float64] = (*Backtracking[sphere, []float64])(nil)
	_ Solver[sphere, []float64] = (*HagerZhang[sphere, []float64])(nil)
	_ Solver[sphere, []float64] = (*MoreThuente[sphere, []float64])(nil)
)

// sphere is f(x) = sum of x_i^2 with gradient 2x, minimal at the origin.
type sphere struct{}

func (sphere) Cost(param []float64) (float64, error) {
	sum := 0.0
	for _, x := range param {
		sum += x * x
	}
	return sum, nil
}

func (sphere) Gradient(param []float64) ([]float64, error) {
	grad := make([]float64, len(param))
	for i, x := range param {
		grad[i] = 2 * x
	}
	return grad, nil
}

func floatsEqual(got, want []float64, tol float64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			return false
		}
	}
	return true
}
