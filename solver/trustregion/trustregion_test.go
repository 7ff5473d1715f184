package trustregion

import (
	"math"
)

// Both subproblem solvers plug into trust-region methods through the
// Subproblem contract.
var (
	_ Subproblem[sphere, []float64, [][]float64] = (*CauchyPoint[sphere, []float64, [][]float64])(nil)
	_ Subproblem[sphere, []float64, [][]float64] = (*Steihaug[sphere, []float64, [][]float64])(nil)
)

// sphere is f(x) = x.x with gradient 2x and constant Hessian 2I.
type sphere struct{}

func (sphere) Cost(x []float64) (float64, error) {
	cost := 0.0
	for _, v := range x {
		cost += v * v
	}
	return cost, nil
}

func (sphere) Gradient(x []float64) ([]float64, error) {
	grad := make([]float64, len(x))
	for i, v := range x {
		grad[i] = 2 * v
	}
	return grad, nil
}

func (sphere) Hessian(x []float64) ([][]float64, error) {
	hessian := make([][]float64, len(x))
	for i := range hessian {
		hessian[i] = make([]float64, len(x))
		hessian[i][i] = 2
	}
	return hessian, nil
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
