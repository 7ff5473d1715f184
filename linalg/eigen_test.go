package linalg

import (
	"math"
	"testing"
)

func TestEigen_SymmetricRoundTrip(t *testing.T) {
	ops := Slices{}
	m := [][]float64{
		{5, 3},
		{3, 5},
	}

	re, im, vecs, err := Eigen(m)
	if err != nil {
		t.Fatalf("Failed to decompose matrix: %v", err)
	}
	for i, v := range im {
		if math.Abs(v) > 1e-10 {
			t.Fatalf("Expected real spectrum, got imaginary part %v at %d", v, i)
		}
	}

	rebuilt := ops.MatMul(ops.MatMul(vecs, ops.Diag(re)), ops.Transpose(vecs))
	if !matricesEqual(rebuilt, m, 1e-4) {
		t.Errorf("Expected reconstruction within 1e-4, got %v", rebuilt)
	}
}

func TestEigen_Identity(t *testing.T) {
	ops := Slices{}

	re, im, vecs, err := Eigen(ops.Eye(3))
	if err != nil {
		t.Fatalf("Failed to decompose identity: %v", err)
	}
	for i := 0; i < 3; i++ {
		if math.Abs(re[i]-1) > 1e-14 || math.Abs(im[i]) > 1e-14 {
			t.Errorf("Expected eigenvalue 1, got %v + %vi at %d", re[i], im[i], i)
		}
	}
	if !matricesEqual(vecs, ops.Eye(3), 1e-14) {
		t.Errorf("Expected identity eigenvectors, got %v", vecs)
	}
}

func TestEigen_RealNonsymmetric(t *testing.T) {
	ops := Slices{}
	m := [][]float64{
		{2, 1, 0},
		{0, 3, 1},
		{0, 0, 5},
	}

	re, im, vecs, err := Eigen(m)
	if err != nil {
		t.Fatalf("Failed to decompose matrix: %v", err)
	}

	// Every eigenpair must satisfy m*v = lambda*v; the columns are not
	// normalized, so check the residual relative to the vector norm.
	for j := 0; j < 3; j++ {
		if math.Abs(im[j]) > 1e-10 {
			t.Fatalf("Expected real spectrum, got imaginary part %v at %d", im[j], j)
		}
		v := column(vecs, j)
		if ops.Norm(v) == 0 {
			t.Fatalf("Expected nonzero eigenvector for eigenvalue %v", re[j])
		}
		resid := ops.Sub(ops.MatVec(m, v), ops.Scale(v, re[j]))
		if ops.Norm(resid) > 1e-10*ops.Norm(v) {
			t.Errorf("Expected m*v = %v*v, got residual %v", re[j], resid)
		}
	}

	found := map[float64]bool{}
	for _, v := range re {
		found[math.Round(v)] = true
	}
	for _, want := range []float64{2, 3, 5} {
		if !found[want] {
			t.Errorf("Expected eigenvalue %v in %v", want, re)
		}
	}
}

func TestEigen_ComplexPair(t *testing.T) {
	ops := Slices{}
	m := [][]float64{
		{0, -1},
		{1, 0},
	}

	re, im, vecs, err := Eigen(m)
	if err != nil {
		t.Fatalf("Failed to decompose matrix: %v", err)
	}

	if math.Abs(re[0]) > 1e-12 || math.Abs(re[1]) > 1e-12 {
		t.Errorf("Expected purely imaginary eigenvalues, got real parts %v", re)
	}
	if math.Abs(im[0]-1) > 1e-12 || math.Abs(im[1]+1) > 1e-12 {
		t.Errorf("Expected imaginary parts +1, -1, got %v", im)
	}

	// Columns 0 and 1 hold the real and imaginary part of the
	// eigenvector for the eigenvalue with positive imaginary part, so
	// m*vr = re*vr - im*vi and m*vi = re*vi + im*vr.
	vr := column(vecs, 0)
	vi := column(vecs, 1)
	wantR := ops.Sub(ops.Scale(vr, re[0]), ops.Scale(vi, im[0]))
	wantI := ops.Add(ops.Scale(vi, re[0]), ops.Scale(vr, im[0]))
	if got := ops.MatVec(m, vr); !floatsEqual(got, wantR, 1e-12) {
		t.Errorf("Expected m*vr = %v, got %v", wantR, got)
	}
	if got := ops.MatVec(m, vi); !floatsEqual(got, wantI, 1e-12) {
		t.Errorf("Expected m*vi = %v, got %v", wantI, got)
	}
}

func TestEigen_ScaledNonsymmetric(t *testing.T) {
	ops := Slices{}
	// Large scale exercises the deflation bookkeeping; the spectrum is
	// {100, 300} with non-trivial Schur vectors.
	m := [][]float64{
		{200, 100},
		{100, 200},
	}

	re, im, vecs, err := Eigen(m)
	if err != nil {
		t.Fatalf("Failed to decompose matrix: %v", err)
	}
	for j := 0; j < 2; j++ {
		if math.Abs(im[j]) > 1e-8 {
			t.Fatalf("Expected real spectrum, got imaginary part %v at %d", im[j], j)
		}
		v := column(vecs, j)
		resid := ops.Sub(ops.MatVec(m, v), ops.Scale(v, re[j]))
		if ops.Norm(resid) > 1e-8*ops.Norm(v) {
			t.Errorf("Expected m*v = %v*v, got residual %v", re[j], resid)
		}
	}
}

func column(m [][]float64, j int) []float64 {
	out := make([]float64, len(m))
	for i := range m {
		out[i] = m[i][j]
	}
	return out
}
