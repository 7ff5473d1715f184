package linalg

import "math"

// Slices implements MatrixOps for plain []float64 vectors and row-major
// [][]float64 matrices with hand-written kernels. It is the backend used by
// the bundled solvers and keeps parameters JSON-serializable for
// checkpointing.
type Slices struct{}

// Dim returns the number of elements of v.
func (Slices) Dim(v []float64) int { return len(v) }

// CopyOf returns an independent copy of v.
func (Slices) CopyOf(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

// ZeroLike returns a zero vector with the length of v.
func (Slices) ZeroLike(v []float64) []float64 { return make([]float64, len(v)) }

// FromSlice builds a vector from xs. The slice is copied.
func (s Slices) FromSlice(xs []float64) []float64 { return s.CopyOf(xs) }

// ToSlice returns the elements of v. The slice is copied.
func (s Slices) ToSlice(v []float64) []float64 { return s.CopyOf(v) }

// Dot returns the inner product of a and b.
func (Slices) Dot(a, b []float64) float64 {
	if len(a) != len(b) {
		panic("linalg: dimension mismatch")
	}
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Norm returns the Euclidean norm of v.
func (s Slices) Norm(v []float64) float64 { return math.Sqrt(s.Dot(v, v)) }

// Add returns a + b.
func (Slices) Add(a, b []float64) []float64 {
	if len(a) != len(b) {
		panic("linalg: dimension mismatch")
	}
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out
}

// Sub returns a - b.
func (Slices) Sub(a, b []float64) []float64 {
	if len(a) != len(b) {
		panic("linalg: dimension mismatch")
	}
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

// Scale returns f * v.
func (Slices) Scale(v []float64, f float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = f * v[i]
	}
	return out
}

// ScaledAdd returns a + f*b.
func (Slices) ScaledAdd(a []float64, f float64, b []float64) []float64 {
	if len(a) != len(b) {
		panic("linalg: dimension mismatch")
	}
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] + f*b[i]
	}
	return out
}

// Dims returns the number of rows and columns of m.
func (Slices) Dims(m [][]float64) (int, int) {
	if len(m) == 0 {
		return 0, 0
	}
	return len(m), len(m[0])
}

// CopyMat returns an independent copy of m.
func (Slices) CopyMat(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = make([]float64, len(row))
		copy(out[i], row)
	}
	return out
}

// Eye returns the n-by-n identity matrix.
func (Slices) Eye(n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		out[i][i] = 1
	}
	return out
}

// ZeroMat returns a rows-by-cols zero matrix.
func (Slices) ZeroMat(rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
	}
	return out
}

// MatVec returns the matrix-vector product m * v.
func (Slices) MatVec(m [][]float64, v []float64) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		if len(row) != len(v) {
			panic("linalg: dimension mismatch")
		}
		sum := 0.0
		for j := range row {
			sum += row[j] * v[j]
		}
		out[i] = sum
	}
	return out
}

// MatMul returns the matrix product a * b.
func (s Slices) MatMul(a, b [][]float64) [][]float64 {
	ar, ac := s.Dims(a)
	br, bc := s.Dims(b)
	if ac != br {
		panic("linalg: dimension mismatch")
	}
	out := make([][]float64, ar)
	for i := range out {
		out[i] = make([]float64, bc)
		for k := 0; k < ac; k++ {
			aik := a[i][k]
			if aik == 0 {
				continue
			}
			for j := 0; j < bc; j++ {
				out[i][j] += aik * b[k][j]
			}
		}
	}
	return out
}

// Transpose returns the transpose of m.
func (s Slices) Transpose(m [][]float64) [][]float64 {
	rows, cols := s.Dims(m)
	out := make([][]float64, cols)
	for j := range out {
		out[j] = make([]float64, rows)
		for i := 0; i < rows; i++ {
			out[j][i] = m[i][j]
		}
	}
	return out
}

// Outer returns the outer product a * b^T.
func (Slices) Outer(a, b []float64) [][]float64 {
	out := make([][]float64, len(a))
	for i := range a {
		out[i] = make([]float64, len(b))
		for j := range b {
			out[i][j] = a[i] * b[j]
		}
	}
	return out
}

// ScaleMat returns f * m.
func (Slices) ScaleMat(m [][]float64, f float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = make([]float64, len(row))
		for j := range row {
			out[i][j] = f * row[j]
		}
	}
	return out
}

// AddMat returns a + b.
func (Slices) AddMat(a, b [][]float64) [][]float64 {
	if len(a) != len(b) {
		panic("linalg: dimension mismatch")
	}
	out := make([][]float64, len(a))
	for i := range a {
		if len(a[i]) != len(b[i]) {
			panic("linalg: dimension mismatch")
		}
		out[i] = make([]float64, len(a[i]))
		for j := range a[i] {
			out[i][j] = a[i][j] + b[i][j]
		}
	}
	return out
}

// SubMat returns a - b.
func (Slices) SubMat(a, b [][]float64) [][]float64 {
	if len(a) != len(b) {
		panic("linalg: dimension mismatch")
	}
	out := make([][]float64, len(a))
	for i := range a {
		if len(a[i]) != len(b[i]) {
			panic("linalg: dimension mismatch")
		}
		out[i] = make([]float64, len(a[i]))
		for j := range a[i] {
			out[i][j] = a[i][j] - b[i][j]
		}
	}
	return out
}

// Diag returns a square matrix with v on its diagonal.
func (Slices) Diag(v []float64) [][]float64 {
	out := make([][]float64, len(v))
	for i := range v {
		out[i] = make([]float64, len(v))
		out[i][i] = v[i]
	}
	return out
}

// At returns the element of m at row i, column j.
func (Slices) At(m [][]float64, i, j int) float64 { return m[i][j] }

// SetAt sets the element of m at row i, column j to x.
func (Slices) SetAt(m [][]float64, i, j int, x float64) { m[i][j] = x }

// EigSym computes the eigendecomposition of the symmetric matrix m via
// Householder tridiagonalization followed by implicit-QL iteration with
// shifts. Eigenvalues come back in ascending order; column j of the second
// return value is the unit eigenvector for eigenvalue j. Only the upper
// triangle of m is read. Returns ErrNoConvergence if any eigenvalue fails
// to converge within the sweep cap.
func (s Slices) EigSym(m [][]float64) ([]float64, [][]float64, error) {
	rows, cols := s.Dims(m)
	if rows == 0 || rows != cols {
		panic("linalg: matrix is not square")
	}
	return symEig(m)
}
