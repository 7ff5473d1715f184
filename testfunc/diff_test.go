package testfunc

import (
	"math"
	"testing"
)

// near reports whether got is within tol of want, relative to the larger
// of 1 and |want|.
func near(got, want, tol float64) bool {
	return math.Abs(got-want) <= tol*math.Max(1, math.Abs(want))
}

// gradientDiff approximates the gradient of cost at x by central
// differences.
func gradientDiff(t *testing.T, cost func([]float64) (float64, error), x []float64) []float64 {
	t.Helper()
	const h = 1e-6
	out := make([]float64, len(x))
	shifted := make([]float64, len(x))
	for i := range x {
		copy(shifted, x)
		shifted[i] = x[i] + h
		up, err := cost(shifted)
		if err != nil {
			t.Fatalf("Failed to evaluate cost: %v", err)
		}
		shifted[i] = x[i] - h
		down, err := cost(shifted)
		if err != nil {
			t.Fatalf("Failed to evaluate cost: %v", err)
		}
		out[i] = (up - down) / (2 * h)
	}
	return out
}

// hessianDiff approximates the Hessian of the cost at x by central
// differences of its analytic gradient.
func hessianDiff(t *testing.T, gradient func([]float64) ([]float64, error), x []float64) [][]float64 {
	t.Helper()
	const h = 1e-6
	out := make([][]float64, len(x))
	shifted := make([]float64, len(x))
	for i := range x {
		copy(shifted, x)
		shifted[i] = x[i] + h
		up, err := gradient(shifted)
		if err != nil {
			t.Fatalf("Failed to evaluate gradient: %v", err)
		}
		shifted[i] = x[i] - h
		down, err := gradient(shifted)
		if err != nil {
			t.Fatalf("Failed to evaluate gradient: %v", err)
		}
		row := make([]float64, len(x))
		for j := range row {
			row[j] = (up[j] - down[j]) / (2 * h)
		}
		out[i] = row
	}
	return out
}
