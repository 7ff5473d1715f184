package linalg

import (
	"fmt"
	"math"
)

// eigenMaxSweeps caps the number of QL sweeps spent on a single eigenvalue.
// Exceeding it means the input genuinely resists diagonalization; the cap
// surfaces as ErrNoConvergence rather than an abort.
const eigenMaxSweeps = 30

var machEps = math.Nextafter(1, 2) - 1

// triDiagonal reduces a symmetric matrix to tridiagonal form by successive
// Householder reflections. The reflectors stay packed inside hv; main and
// secondary hold the diagonal and sub-diagonal of the reduced matrix.
type triDiagonal struct {
	hv        [][]float64
	main      []float64
	secondary []float64
}

func newTriDiagonal(m [][]float64) *triDiagonal {
	n := len(m)
	hv := Slices{}.CopyMat(m)
	main := make([]float64, n)
	secondary := make([]float64, n-1)
	z := make([]float64, n)

	// Zero out one row and column per reflection, touching only the upper
	// triangle so a slightly asymmetric input cannot skew the result.
	for k := 0; k < n-1; k++ {
		main[k] = hv[k][k]
		xNormSqr := 0.0
		for j := k + 1; j < n; j++ {
			c := hv[k][j]
			xNormSqr += c * c
		}
		a := math.Sqrt(xNormSqr)
		if hv[k][k+1] > 0 {
			a = -a
		}
		secondary[k] = a
		if a != 0 {
			hv[k][k+1] -= a
			beta := -1 / (a * hv[k][k+1])

			// z = beta * A * v for the Householder vector v.
			for i := k + 1; i < n; i++ {
				z[i] = 0
			}
			for i := k + 1; i < n; i++ {
				hi := hv[i]
				hki := hv[k][i]
				zi := hi[i] * hki
				for j := i + 1; j < n; j++ {
					hij := hi[j]
					zi += hij * hv[k][j]
					z[j] += hij * hki
				}
				z[i] = beta * (z[i] + zi)
			}

			// gamma = beta * v^T z / 2, then z -= gamma * v.
			gamma := 0.0
			for i := k + 1; i < n; i++ {
				gamma += z[i] * hv[k][i]
			}
			gamma *= beta / 2
			for i := k + 1; i < n; i++ {
				z[i] -= gamma * hv[k][i]
			}

			// A = A - v z^T - z v^T on the upper triangle.
			for i := k + 1; i < n; i++ {
				for j := i; j < n; j++ {
					hv[i][j] -= hv[k][i]*z[j] + z[i]*hv[k][j]
				}
			}
		}
	}
	main[n-1] = hv[n-1][n-1]

	return &triDiagonal{hv: hv, main: main, secondary: secondary}
}

// qt unpacks the accumulated reflections into the transpose of the
// orthogonal factor Q, with a = Q * T * Q^T.
func (t *triDiagonal) qt() [][]float64 {
	n := len(t.hv)
	qta := Slices{}.ZeroMat(n, n)

	for k := n - 1; k >= 1; k-- {
		hk := t.hv[k-1]
		qta[k][k] = 1
		if hk[k] != 0 {
			inv := 1 / (t.secondary[k-1] * hk[k])
			beta := 1 / t.secondary[k-1]
			qta[k][k] = 1 + beta*hk[k]
			for i := k + 1; i < n; i++ {
				qta[k][i] = beta * hk[i]
			}
			for j := k + 1; j < n; j++ {
				beta = 0
				for i := k + 1; i < n; i++ {
					beta += qta[j][i] * hk[i]
				}
				beta *= inv
				qta[j][k] = beta * hk[k]
				for i := k + 1; i < n; i++ {
					qta[j][i] += beta * hk[i]
				}
			}
		}
	}
	qta[0][0] = 1
	return qta
}

// symEig diagonalizes the tridiagonal form with implicit-QL sweeps, floors
// values that fell below machine precision relative to the largest entry,
// orders the spectrum and hands back eigenvalues ascending with matching
// eigenvector columns.
func symEig(a [][]float64) ([]float64, [][]float64, error) {
	t := newTriDiagonal(a)
	z := t.qt()
	n := len(t.main)
	eig := make([]float64, n)
	e := make([]float64, n)
	for i := 0; i < n-1; i++ {
		eig[i] = t.main[i]
		e[i] = t.secondary[i]
	}
	eig[n-1] = t.main[n-1]
	e[n-1] = 0

	maxAbs := 0.0
	for i := 0; i < n; i++ {
		if v := math.Abs(eig[i]); v > maxAbs {
			maxAbs = v
		}
		if v := math.Abs(e[i]); v > maxAbs {
			maxAbs = v
		}
	}
	if maxAbs != 0 {
		for i := 0; i < n; i++ {
			if math.Abs(eig[i]) <= machEps*maxAbs {
				eig[i] = 0
			}
			if math.Abs(e[i]) <= machEps*maxAbs {
				e[i] = 0
			}
		}
	}

	for j := 0; j < n; j++ {
		its := 0
		var m int
		for {
			// Find the first negligible sub-diagonal element at or
			// beyond j; the block [j,m) still needs work.
			m = j
			for m < n-1 {
				delta := math.Abs(eig[m]) + math.Abs(eig[m+1])
				if math.Abs((math.Abs(e[m])+delta)-delta) <= machEps {
					break
				}
				m++
			}
			if m != j {
				if its == eigenMaxSweeps {
					return nil, nil, fmt.Errorf("ql iteration for eigenvalue %d: %w", j, ErrNoConvergence)
				}
				its++

				// Wilkinson-style shift.
				q := (eig[j+1] - eig[j]) / (2 * e[j])
				tv := math.Sqrt(1 + q*q)
				if q < 0 {
					q = eig[m] - eig[j] + e[j]/(q-tv)
				} else {
					q = eig[m] - eig[j] + e[j]/(q+tv)
				}

				u, s, c := 0.0, 1.0, 1.0
				i := m - 1
				for i >= j {
					p := s * e[i]
					h := c * e[i]
					if math.Abs(p) >= math.Abs(q) {
						c = q / p
						tv = math.Sqrt(c*c + 1)
						e[i+1] = p * tv
						s = 1 / tv
						c *= s
					} else {
						s = p / q
						tv = math.Sqrt(s*s + 1)
						e[i+1] = q * tv
						c = 1 / tv
						s *= c
					}
					if e[i+1] == 0 {
						eig[i+1] -= u
						e[m] = 0
						break
					}
					q = eig[i+1] - u
					tv = (eig[i]-q)*s + 2*c*h
					u = s * tv
					eig[i+1] = q + u
					q = c*tv - h

					for ia := 0; ia < n; ia++ {
						p = z[i+1][ia]
						z[i+1][ia] = s*z[i][ia] + c*p
						z[i][ia] = c*z[i][ia] - s*p
					}

					if i == 0 {
						break
					}
					i--
				}
				if tv == 0 && i >= j {
					continue
				}
				eig[j] -= u
				e[j] = q
				e[m] = 0
			}
			if m == j {
				break
			}
		}
	}

	// Descending selection sort, carrying the eigenvector rows along.
	for i := 0; i < n; i++ {
		k := i
		p := eig[i]
		for j := i + 1; j < n; j++ {
			if eig[j] > p {
				k = j
				p = eig[j]
			}
		}
		if k != i {
			eig[k] = eig[i]
			eig[i] = p
			z[i], z[k] = z[k], z[i]
		}
	}

	maxAbs = 0
	for i := 0; i < n; i++ {
		if v := math.Abs(eig[i]); v > maxAbs {
			maxAbs = v
		}
	}
	if maxAbs != 0 {
		for i := 0; i < n; i++ {
			if math.Abs(eig[i]) < machEps*maxAbs {
				eig[i] = 0
			}
		}
	}

	// Report ascending with eigenvectors as columns, the order the other
	// backend produces natively.
	vals := make([]float64, n)
	vecs := make([][]float64, n)
	for i := range vecs {
		vecs[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		vals[i] = eig[n-1-i]
		for j := 0; j < n; j++ {
			vecs[j][i] = z[n-1-i][j]
		}
	}
	return vals, vecs, nil
}
