package linalg

import (
	"errors"
	"sort"
)

// ErrNoConvergence indicates that an iterative decomposition exceeded its
// iteration cap. It signals a genuine numerical failure of the input, not a
// usage error, and is wrapped with context by the routines that return it.
var ErrNoConvergence = errors.New("no convergence")

// VectorOps describes the vector arithmetic a solver needs, implemented for
// a concrete vector type V. All methods treat their arguments as immutable
// and return fresh values. Implementations panic on dimension mismatches,
// which are programming errors rather than runtime conditions.
type VectorOps[V any] interface {
	// Dim returns the number of elements of v.
	Dim(v V) int
	// CopyOf returns an independent copy of v.
	CopyOf(v V) V
	// ZeroLike returns a zero vector with the dimensions of v.
	ZeroLike(v V) V
	// FromSlice builds a vector from a plain float64 slice.
	FromSlice(xs []float64) V
	// ToSlice returns the elements of v as a plain float64 slice.
	ToSlice(v V) []float64
	// Dot returns the inner product of a and b.
	Dot(a, b V) float64
	// Norm returns the Euclidean norm of v.
	Norm(v V) float64
	// Add returns a + b.
	Add(a, b V) V
	// Sub returns a - b.
	Sub(a, b V) V
	// Scale returns f * v.
	Scale(v V, f float64) V
	// ScaledAdd returns a + f*b.
	ScaledAdd(a V, f float64, b V) V
}

// MatrixOps extends VectorOps with the matrix arithmetic used by the
// second-order and population-based solvers, implemented for a concrete
// matrix type M.
type MatrixOps[V, M any] interface {
	VectorOps[V]

	// Dims returns the number of rows and columns of m.
	Dims(m M) (rows, cols int)
	// CopyMat returns an independent copy of m.
	CopyMat(m M) M
	// Eye returns the n-by-n identity matrix.
	Eye(n int) M
	// ZeroMat returns a rows-by-cols zero matrix.
	ZeroMat(rows, cols int) M
	// MatVec returns the matrix-vector product m * v.
	MatVec(m M, v V) V
	// MatMul returns the matrix product a * b.
	MatMul(a, b M) M
	// Transpose returns the transpose of m.
	Transpose(m M) M
	// Outer returns the outer product a * b^T.
	Outer(a, b V) M
	// ScaleMat returns f * m.
	ScaleMat(m M, f float64) M
	// AddMat returns a + b.
	AddMat(a, b M) M
	// SubMat returns a - b.
	SubMat(a, b M) M
	// Diag returns a square matrix with v on its diagonal.
	Diag(v V) M
	// At returns the element of m at row i, column j.
	At(m M, i, j int) float64
	// SetAt sets the element of m at row i, column j to x, mutating m.
	SetAt(m M, i, j int, x float64)
	// EigSym computes the eigendecomposition of the symmetric matrix m.
	// Eigenvalues are returned in ascending order; column j of the
	// returned matrix is the eigenvector for eigenvalue j. Only the upper
	// triangle of m is read. Returns ErrNoConvergence if the iteration
	// cap is exceeded.
	EigSym(m M) (V, M, error)
}

// Argsort returns the indices that sort xs in ascending order, leaving xs
// untouched. Equal elements keep their relative order.
func Argsort(xs []float64) []int {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return xs[idx[a]] < xs[idx[b]] })
	return idx
}
