package linalg

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Gonum implements MatrixOps for *mat.VecDense vectors and *mat.Dense
// matrices, delegating the heavy lifting to gonum. Note that gonum types do
// not serialize to JSON, so runs on this backend cannot be checkpointed.
type Gonum struct{}

// Dim returns the number of elements of v.
func (Gonum) Dim(v *mat.VecDense) int { return v.Len() }

// CopyOf returns an independent copy of v.
func (Gonum) CopyOf(v *mat.VecDense) *mat.VecDense { return mat.VecDenseCopyOf(v) }

// ZeroLike returns a zero vector with the length of v.
func (Gonum) ZeroLike(v *mat.VecDense) *mat.VecDense { return mat.NewVecDense(v.Len(), nil) }

// FromSlice builds a vector from xs. The slice is copied.
func (Gonum) FromSlice(xs []float64) *mat.VecDense {
	data := make([]float64, len(xs))
	copy(data, xs)
	return mat.NewVecDense(len(data), data)
}

// ToSlice returns the elements of v as a plain float64 slice.
func (Gonum) ToSlice(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}

// Dot returns the inner product of a and b.
func (Gonum) Dot(a, b *mat.VecDense) float64 { return mat.Dot(a, b) }

// Norm returns the Euclidean norm of v.
func (Gonum) Norm(v *mat.VecDense) float64 { return math.Sqrt(mat.Dot(v, v)) }

// Add returns a + b.
func (Gonum) Add(a, b *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(a.Len(), nil)
	out.AddVec(a, b)
	return out
}

// Sub returns a - b.
func (Gonum) Sub(a, b *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(a.Len(), nil)
	out.SubVec(a, b)
	return out
}

// Scale returns f * v.
func (Gonum) Scale(v *mat.VecDense, f float64) *mat.VecDense {
	out := mat.NewVecDense(v.Len(), nil)
	out.ScaleVec(f, v)
	return out
}

// ScaledAdd returns a + f*b.
func (Gonum) ScaledAdd(a *mat.VecDense, f float64, b *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(a.Len(), nil)
	out.AddScaledVec(a, f, b)
	return out
}

// Dims returns the number of rows and columns of m.
func (Gonum) Dims(m *mat.Dense) (int, int) { return m.Dims() }

// CopyMat returns an independent copy of m.
func (Gonum) CopyMat(m *mat.Dense) *mat.Dense { return mat.DenseCopyOf(m) }

// Eye returns the n-by-n identity matrix.
func (Gonum) Eye(n int) *mat.Dense {
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		out.Set(i, i, 1)
	}
	return out
}

// ZeroMat returns a rows-by-cols zero matrix.
func (Gonum) ZeroMat(rows, cols int) *mat.Dense { return mat.NewDense(rows, cols, nil) }

// MatVec returns the matrix-vector product m * v.
func (Gonum) MatVec(m *mat.Dense, v *mat.VecDense) *mat.VecDense {
	rows, _ := m.Dims()
	out := mat.NewVecDense(rows, nil)
	out.MulVec(m, v)
	return out
}

// MatMul returns the matrix product a * b.
func (Gonum) MatMul(a, b *mat.Dense) *mat.Dense {
	ar, _ := a.Dims()
	_, bc := b.Dims()
	out := mat.NewDense(ar, bc, nil)
	out.Mul(a, b)
	return out
}

// Transpose returns the transpose of m.
func (Gonum) Transpose(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(cols, rows, nil)
	out.Copy(m.T())
	return out
}

// Outer returns the outer product a * b^T.
func (Gonum) Outer(a, b *mat.VecDense) *mat.Dense {
	out := mat.NewDense(a.Len(), b.Len(), nil)
	out.Outer(1, a, b)
	return out
}

// ScaleMat returns f * m.
func (Gonum) ScaleMat(m *mat.Dense, f float64) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Scale(f, m)
	return out
}

// AddMat returns a + b.
func (Gonum) AddMat(a, b *mat.Dense) *mat.Dense {
	rows, cols := a.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Add(a, b)
	return out
}

// SubMat returns a - b.
func (Gonum) SubMat(a, b *mat.Dense) *mat.Dense {
	rows, cols := a.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Sub(a, b)
	return out
}

// Diag returns a square matrix with v on its diagonal.
func (Gonum) Diag(v *mat.VecDense) *mat.Dense {
	n := v.Len()
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		out.Set(i, i, v.AtVec(i))
	}
	return out
}

// At returns the element of m at row i, column j.
func (Gonum) At(m *mat.Dense, i, j int) float64 { return m.At(i, j) }

// SetAt sets the element of m at row i, column j to x, mutating m.
func (Gonum) SetAt(m *mat.Dense, i, j int, x float64) { m.Set(i, j, x) }

// EigSym computes the eigendecomposition of the symmetric matrix m with
// mat.EigenSym. Eigenvalues are returned in ascending order; column j of
// the returned matrix is the eigenvector for eigenvalue j. Only the upper
// triangle of m is read.
func (Gonum) EigSym(m *mat.Dense) (*mat.VecDense, *mat.Dense, error) {
	n, cols := m.Dims()
	if n == 0 || n != cols {
		panic("linalg: matrix is not square")
	}
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, m.At(i, j))
		}
	}
	var es mat.EigenSym
	if !es.Factorize(sym, true) {
		return nil, nil, fmt.Errorf("eigendecomposition of %dx%d symmetric matrix: %w", n, n, ErrNoConvergence)
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)
	return mat.NewVecDense(n, vals), &vecs, nil
}
