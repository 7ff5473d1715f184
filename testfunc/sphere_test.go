package testfunc

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/descentlab/descent/core"
)

var (
	_ core.CostFunction[[]float64]         = (*Sphere)(nil)
	_ core.Gradient[[]float64, []float64]  = (*Sphere)(nil)
	_ core.Hessian[[]float64, [][]float64] = (*Sphere)(nil)
	_ core.Anneal[[]float64]               = (*Sphere)(nil)
)

func TestSphere_Cost(t *testing.T) {
	sphere := NewSphere()
	cases := []struct {
		param []float64
		want  float64
	}{
		{[]float64{0, 0, 0}, 0},
		{[]float64{1, 2}, 5},
		{[]float64{-3}, 9},
	}
	for _, c := range cases {
		got, err := sphere.Cost(c.param)
		if err != nil {
			t.Fatalf("Failed to evaluate cost at %v: %v", c.param, err)
		}
		if got != c.want {
			t.Errorf("Expected cost %v at %v, got %v", c.want, c.param, got)
		}
	}
}

func TestSphere_Gradient(t *testing.T) {
	sphere := NewSphere()
	grad, err := sphere.Gradient([]float64{1, -2})
	if err != nil {
		t.Fatalf("Failed to evaluate gradient: %v", err)
	}
	if grad[0] != 2 || grad[1] != -4 {
		t.Errorf("Expected gradient [2 -4], got %v", grad)
	}

	at := []float64{0.7, -1.3, 2.1}
	grad, err = sphere.Gradient(at)
	if err != nil {
		t.Fatalf("Failed to evaluate gradient: %v", err)
	}
	fd := gradientDiff(t, sphere.Cost, at)
	for i := range fd {
		if !near(grad[i], fd[i], 1e-4) {
			t.Errorf("Expected gradient component %d near %v, got %v", i, fd[i], grad[i])
		}
	}
}

func TestSphere_Hessian(t *testing.T) {
	sphere := NewSphere()
	hess, err := sphere.Hessian([]float64{1, 2})
	if err != nil {
		t.Fatalf("Failed to evaluate Hessian: %v", err)
	}
	want := [][]float64{{2, 0}, {0, 2}}
	for i := range want {
		for j := range want[i] {
			if hess[i][j] != want[i][j] {
				t.Errorf("Expected Hessian entry (%d, %d) to be %v, got %v", i, j, want[i][j], hess[i][j])
			}
		}
	}
}

func TestSphere_Anneal(t *testing.T) {
	sphere := NewSphere().WithRng(rand.New(rand.NewPCG(3, 9)))
	param := []float64{1, 2, 3}

	first, err := sphere.Anneal(param, 0.5)
	if err != nil {
		t.Fatalf("Failed to anneal: %v", err)
	}
	if len(first) != len(param) {
		t.Fatalf("Expected %d coordinates, got %d", len(param), len(first))
	}
	for i := range first {
		if math.Abs(first[i]-param[i]) > 0.5 {
			t.Errorf("Expected coordinate %d within 0.5 of %v, got %v", i, param[i], first[i])
		}
	}
	if param[0] != 1 || param[1] != 2 || param[2] != 3 {
		t.Errorf("Expected the input parameter to be left untouched, got %v", param)
	}

	second, err := sphere.Anneal(param, 0.5)
	if err != nil {
		t.Fatalf("Failed to anneal: %v", err)
	}
	same := true
	for i := range second {
		if second[i] != first[i] {
			same = false
		}
	}
	if same {
		t.Errorf("Expected consecutive proposals to differ, got %v twice", first)
	}

	still, err := sphere.Anneal(param, 0)
	if err != nil {
		t.Fatalf("Failed to anneal: %v", err)
	}
	for i := range still {
		if still[i] != param[i] {
			t.Errorf("Expected a zero extent to keep coordinate %d at %v, got %v", i, param[i], still[i])
		}
	}
}
