package linalg

import (
	"fmt"
	"math"
)

// schurMaxIterations caps the implicit double-shift QR iterations spent on
// a single eigenvalue block during the Schur reduction.
const schurMaxIterations = 1000

// Eigen computes the eigendecomposition of a general real square matrix.
// It reduces a to Hessenberg form, iterates to a real Schur form, reads the
// eigenvalues off the (quasi-)triangular factor and back-solves for the
// eigenvectors of the original matrix.
//
// Eigenvalues are returned as separate real and imaginary parts in Schur
// order; complex eigenvalues come in conjugate pairs with the positive
// imaginary part first. Column j of the returned matrix holds the
// eigenvector for a real eigenvalue j; for a conjugate pair in positions
// j, j+1 the columns hold the real and imaginary parts of the eigenvector
// belonging to the eigenvalue with positive imaginary part. Returns
// ErrNoConvergence if the Schur iteration cap is exceeded.
func Eigen(a [][]float64) (re, im []float64, vectors [][]float64, err error) {
	rows, cols := Slices{}.Dims(a)
	if rows == 0 || rows != cols {
		panic("linalg: matrix is not square")
	}

	sf, err := newSchurForm(a)
	if err != nil {
		return nil, nil, nil, err
	}

	n := rows
	re = make([]float64, n)
	im = make([]float64, n)

	// Read eigenvalues off the quasi-triangular factor: 1x1 diagonal
	// blocks are real eigenvalues, 2x2 blocks are conjugate pairs.
	for i := 0; i < n; {
		if i == n-1 || math.Abs(sf.t[i+1][i]) <= machEps {
			re[i] = sf.t[i][i]
		} else {
			x := sf.t[i+1][i+1]
			p := 0.5 * (sf.t[i][i] - x)
			z := math.Sqrt(math.Abs(p*p + sf.t[i+1][i]*sf.t[i][i+1]))
			re[i] = x + p
			im[i] = z
			re[i+1] = x + p
			im[i+1] = -z
			i++
		}
		i++
	}

	backSubstitute(sf.t, sf.p, re, im)

	return re, im, sf.p, nil
}

// backSubstitute recovers the eigenvectors of the original matrix from its
// real Schur form: it solves the shifted triangular systems column by
// column, rescaling a column whenever its magnitude threatens the divisions
// that follow, and finally applies the accumulated orthogonal factor.
func backSubstitute(t, pm [][]float64, re, im []float64) {
	n := len(t)

	norm := 0.0
	for i := 0; i < n; i++ {
		lo := i - 1
		if lo < 0 {
			lo = 0
		}
		for j := lo; j < n; j++ {
			norm += math.Abs(t[i][j])
		}
	}

	r, s, z := 0.0, 0.0, 0.0
	for idx := n - 1; idx >= 0; idx-- {
		p := re[idx]
		q := im[idx]

		switch {
		case math.Abs(q) <= machEps:
			// Real eigenvalue.
			l := idx
			t[idx][idx] = 1
			for i := idx - 1; i >= 0; i-- {
				w := t[i][i] - p
				r = 0
				for j := l; j <= idx; j++ {
					r += t[i][j] * t[j][idx]
				}
				if im[i] < -machEps {
					z = w
					s = r
					continue
				}
				l = i
				if math.Abs(im[i]) <= machEps {
					if w != 0 {
						t[i][idx] = -r / w
					} else {
						t[i][idx] = -r / (machEps * norm)
					}
				} else {
					// Solve the 2x2 real system of the
					// conjugate block above.
					x := t[i][i+1]
					y := t[i+1][i]
					q = (re[i]-p)*(re[i]-p) + im[i]*im[i]
					tv := (x*s - z*r) / q
					t[i][idx] = tv
					if math.Abs(x) > math.Abs(z) {
						t[i+1][idx] = (-r - w*tv) / x
					} else {
						t[i+1][idx] = (-s - y*tv) / z
					}
				}

				// Overflow control.
				tv := math.Abs(t[i][idx])
				if machEps*tv*tv > 1 {
					for j := i; j <= idx; j++ {
						t[j][idx] /= tv
					}
				}
			}

		case q < 0:
			// Second of a complex-conjugate pair. The last vector
			// components come from the trailing 2x2 block.
			l := idx - 1
			if math.Abs(t[idx][idx-1]) > math.Abs(t[idx-1][idx]) {
				t[idx-1][idx-1] = q / t[idx][idx-1]
				t[idx-1][idx] = -(t[idx][idx] - p) / t[idx][idx-1]
			} else {
				c := complex(0, -t[idx-1][idx]) / complex(t[idx-1][idx-1]-p, q)
				t[idx-1][idx-1] = real(c)
				t[idx-1][idx] = imag(c)
			}
			t[idx][idx-1] = 0
			t[idx][idx] = 1

			for i := idx - 2; i >= 0; i-- {
				ra, sa := 0.0, 0.0
				for j := l; j <= idx; j++ {
					ra += t[i][j] * t[j][idx-1]
					sa += t[i][j] * t[j][idx]
				}
				w := t[i][i] - p
				if im[i] < -machEps {
					z = w
					r = ra
					s = sa
					continue
				}
				l = i
				if math.Abs(im[i]) <= machEps {
					c := complex(-ra, -sa) / complex(w, q)
					t[i][idx-1] = real(c)
					t[i][idx] = imag(c)
				} else {
					// Solve the complex 2x2 system of the
					// conjugate block above.
					x := t[i][i+1]
					y := t[i+1][i]
					vr := (re[i]-p)*(re[i]-p) + im[i]*im[i] - q*q
					vi := (re[i] - p) * 2 * q
					if math.Abs(vr) <= machEps && math.Abs(vi) <= machEps {
						vr = machEps * norm *
							(math.Abs(w) + math.Abs(q) + math.Abs(x) + math.Abs(y) + math.Abs(z))
					}
					c := complex(x*r-z*ra+q*sa, x*s-z*sa-q*ra) / complex(vr, vi)
					t[i][idx-1] = real(c)
					t[i][idx] = imag(c)
					if math.Abs(x) > math.Abs(z)+math.Abs(q) {
						t[i+1][idx-1] = (-ra - w*t[i][idx-1] + q*t[i][idx]) / x
						t[i+1][idx] = (-sa - w*t[i][idx] - q*t[i][idx-1]) / x
					} else {
						c2 := complex(-r-y*t[i][idx-1], -s-y*t[i][idx]) / complex(z, q)
						t[i+1][idx-1] = real(c2)
						t[i+1][idx] = imag(c2)
					}
				}

				// Overflow control.
				tv := math.Max(math.Abs(t[i][idx-1]), math.Abs(t[i][idx]))
				if machEps*tv*tv > 1 {
					for j := i; j <= idx; j++ {
						t[j][idx-1] /= tv
						t[j][idx] /= tv
					}
				}
			}
		}
	}

	// Back-transform the Schur vectors into eigenvectors of the original
	// matrix.
	for j := n - 1; j >= 0; j-- {
		for i := 0; i < n; i++ {
			z = 0
			for k := 0; k <= j; k++ {
				z += pm[i][k] * t[k][j]
			}
			pm[i][j] = z
		}
	}
}

// hessenberg reduces a matrix to upper Hessenberg form by Householder
// reflections, accumulating the orthogonal factor p with a = p * h * p^T.
type hessenberg struct {
	p [][]float64
	h [][]float64
}

func newHessenberg(a [][]float64) *hessenberg {
	hv := Slices{}.CopyMat(a)
	ort := make([]float64, len(a))
	hessenbergTransform(hv, ort)
	return &hessenberg{
		p: hessenbergP(hv, ort),
		h: hessenbergH(hv),
	}
}

func hessenbergTransform(hv [][]float64, ort []float64) {
	n := len(hv)
	high := n - 1

	for m := 1; m <= high-1; m++ {
		scale := 0.0
		for i := m; i <= high; i++ {
			scale += math.Abs(hv[i][m-1])
		}

		if math.Abs(scale) > machEps {
			h := 0.0
			for i := high; i >= m; i-- {
				ort[i] = hv[i][m-1] / scale
				h += ort[i] * ort[i]
			}
			g := math.Sqrt(h)
			if ort[m] > 0 {
				g = -g
			}
			h -= ort[m] * g
			ort[m] -= g

			// Apply the Householder reflection from both sides.
			for j := m; j < n; j++ {
				f := 0.0
				for i := high; i >= m; i-- {
					f += ort[i] * hv[i][j]
				}
				f /= h
				for i := m; i <= high; i++ {
					hv[i][j] -= f * ort[i]
				}
			}
			for i := 0; i <= high; i++ {
				f := 0.0
				for j := high; j >= m; j-- {
					f += ort[j] * hv[i][j]
				}
				f /= h
				for j := m; j <= high; j++ {
					hv[i][j] -= f * ort[j]
				}
			}

			ort[m] *= scale
			hv[m][m-1] = scale * g
		}
	}
}

func hessenbergP(hv [][]float64, ort []float64) [][]float64 {
	n := len(hv)
	high := n - 1
	p := Slices{}.Eye(n)

	for m := high - 1; m >= 1; m-- {
		if hv[m][m-1] != 0 {
			for i := m + 1; i <= high; i++ {
				ort[i] = hv[i][m-1]
			}
			for j := m; j <= high; j++ {
				g := 0.0
				for i := m; i <= high; i++ {
					g += ort[i] * p[i][j]
				}
				// Double division avoids possible underflow.
				g = (g / ort[m]) / hv[m][m-1]
				for i := m; i <= high; i++ {
					p[i][j] += g * ort[i]
				}
			}
		}
	}
	return p
}

func hessenbergH(hv [][]float64) [][]float64 {
	n := len(hv)
	h := Slices{}.ZeroMat(n, n)
	for i := 0; i < n; i++ {
		if i > 0 {
			h[i][i-1] = hv[i][i-1]
		}
		for j := i; j < n; j++ {
			h[i][j] = hv[i][j]
		}
	}
	return h
}

// schurForm holds the real Schur decomposition a = p * t * p^T with p
// orthogonal and t quasi-upper-triangular.
type schurForm struct {
	p [][]float64
	t [][]float64
}

type schurShift struct {
	x       float64
	y       float64
	w       float64
	exShift float64
}

func newSchurForm(a [][]float64) (*schurForm, error) {
	hb := newHessenberg(a)
	if err := schurTransform(hb); err != nil {
		return nil, err
	}
	return &schurForm{p: hb.p, t: hb.h}, nil
}

func schurTransform(hb *hessenberg) error {
	h := hb.h
	n := len(h)

	// The quasi-triangular factor keeps one sub-diagonal, so include it
	// in the norm.
	norm := 0.0
	for i := 0; i < n; i++ {
		lo := i - 1
		if lo < 0 {
			lo = 0
		}
		for j := lo; j < n; j++ {
			norm += math.Abs(h[i][j])
		}
	}

	var shift schurShift
	hVec := make([]float64, 3)

	iteration := 0
	for iu := n - 1; iu >= 0; {
		il := findSmallSubDiagonal(h, iu, norm)

		switch {
		case il == iu:
			// One real root found. The deflation criterion deemed
			// the boundary element negligible, so make it an exact
			// zero for the block re-scan that follows.
			h[iu][iu] += shift.exShift
			if iu > 0 {
				h[iu][iu-1] = 0
			}
			iu--
			iteration = 0

		case il == iu-1:
			// A 2x2 block: either two real roots or a conjugate
			// pair. Real roots get rotated apart here.
			p := (h[iu-1][iu-1] - h[iu][iu]) / 2
			q := p*p + h[iu][iu-1]*h[iu-1][iu]
			h[iu][iu] += shift.exShift
			h[iu-1][iu-1] += shift.exShift

			if q >= 0 {
				z := math.Sqrt(math.Abs(q))
				if p >= 0 {
					z += p
				} else {
					z = p - z
				}
				x := h[iu][iu-1]
				s := math.Abs(x) + math.Abs(z)
				p = x / s
				q = z / s
				r := math.Sqrt(p*p + q*q)
				p /= r
				q /= r

				for j := iu - 1; j < n; j++ {
					z = h[iu-1][j]
					h[iu-1][j] = q*z + p*h[iu][j]
					h[iu][j] = q*h[iu][j] - p*z
				}
				for i := 0; i <= iu; i++ {
					z = h[i][iu-1]
					h[i][iu-1] = q*z + p*h[i][iu]
					h[i][iu] = q*h[i][iu] - p*z
				}
				for i := 0; i < n; i++ {
					z = hb.p[i][iu-1]
					hb.p[i][iu-1] = q*z + p*hb.p[i][iu]
					hb.p[i][iu] = q*hb.p[i][iu] - p*z
				}
				h[iu][iu-1] = 0
			}
			if iu-1 > 0 {
				h[iu-1][iu-2] = 0
			}

			iu -= 2
			iteration = 0

		default:
			computeSchurShift(h, il, iu, iteration, &shift)
			iteration++
			if iteration > schurMaxIterations {
				return fmt.Errorf("schur reduction of %dx%d matrix: %w", n, n, ErrNoConvergence)
			}

			im := initQRStep(h, il, iu, &shift, hVec)
			doubleQRStep(hb, il, im, iu, &shift, hVec)
		}
	}
	return nil
}

func findSmallSubDiagonal(h [][]float64, startIdx int, norm float64) int {
	l := startIdx
	for l > 0 {
		s := math.Abs(h[l-1][l-1]) + math.Abs(h[l][l])
		if s == 0 {
			s = norm
		}
		if math.Abs(h[l][l-1]) < machEps*s {
			break
		}
		l--
	}
	return l
}

func computeSchurShift(h [][]float64, l, idx, iteration int, shift *schurShift) {
	shift.x = h[idx][idx]
	shift.y = 0
	shift.w = 0
	if l < idx {
		shift.y = h[idx-1][idx-1]
		shift.w = h[idx][idx-1] * h[idx-1][idx]
	}

	// Wilkinson's original ad hoc shift.
	if iteration == 10 {
		shift.exShift += shift.x
		for i := 0; i <= idx; i++ {
			h[i][i] -= shift.x
		}
		s := math.Abs(h[idx][idx-1]) + math.Abs(h[idx-1][idx-2])
		shift.x = 0.75 * s
		shift.y = 0.75 * s
		shift.w = -0.4375 * s * s
	}

	// MATLAB's new ad hoc shift.
	if iteration == 30 {
		s := (shift.y - shift.x) / 2
		s = s*s + shift.w
		if s > 0 {
			s = math.Sqrt(s)
			if shift.y < shift.x {
				s = -s
			}
			s = shift.x - shift.w/((shift.y-shift.x)/2+s)
			for i := 0; i <= idx; i++ {
				h[i][i] -= s
			}
			shift.exShift += s
			shift.x, shift.y, shift.w = 0.964, 0.964, 0.964
		}
	}
}

func initQRStep(h [][]float64, il, iu int, shift *schurShift, hVec []float64) int {
	im := iu - 2
	for im >= il {
		z := h[im][im]
		r := shift.x - z
		s := shift.y - z
		hVec[0] = (r*s-shift.w)/h[im+1][im] + h[im][im+1]
		hVec[1] = h[im+1][im+1] - z - r - s
		hVec[2] = h[im+2][im+1]

		if im == il {
			break
		}

		lhs := math.Abs(h[im][im-1]) * (math.Abs(hVec[1]) + math.Abs(hVec[2]))
		rhs := math.Abs(hVec[0]) * (math.Abs(h[im-1][im-1]) + math.Abs(z) + math.Abs(h[im+1][im+1]))
		if lhs < machEps*rhs {
			break
		}
		im--
	}
	return im
}

func doubleQRStep(hb *hessenberg, il, im, iu int, shift *schurShift, hVec []float64) {
	h := hb.h
	n := len(h)
	p := hVec[0]
	q := hVec[1]
	r := hVec[2]

	for k := im; k <= iu-1; k++ {
		notLast := k != iu-1
		if k != im {
			p = h[k][k-1]
			q = h[k+1][k-1]
			r = 0
			if notLast {
				r = h[k+2][k-1]
			}
			shift.x = math.Abs(p) + math.Abs(q) + math.Abs(r)
			if math.Abs(shift.x) <= machEps {
				continue
			}
			p /= shift.x
			q /= shift.x
			r /= shift.x
		}
		s := math.Sqrt(p*p + q*q + r*r)
		if p < 0 {
			s = -s
		}
		if s != 0 {
			if k != im {
				h[k][k-1] = -s * shift.x
			} else if il != im {
				h[k][k-1] = -h[k][k-1]
			}
			p += s
			shift.x = p / s
			shift.y = q / s
			z := r / s
			q /= p
			r /= p

			// Row modification.
			for j := k; j < n; j++ {
				p = h[k][j] + q*h[k+1][j]
				if notLast {
					p += r * h[k+2][j]
					h[k+2][j] -= p * z
				}
				h[k][j] -= p * shift.x
				h[k+1][j] -= p * shift.y
			}

			// Column modification.
			hi := iu
			if k+3 < hi {
				hi = k + 3
			}
			for i := 0; i <= hi; i++ {
				p = shift.x*h[i][k] + shift.y*h[i][k+1]
				if notLast {
					p += z * h[i][k+2]
					h[i][k+2] -= p * r
				}
				h[i][k] -= p
				h[i][k+1] -= p * q
			}

			// Accumulate transformations.
			for i := 0; i < n; i++ {
				p = shift.x*hb.p[i][k] + shift.y*hb.p[i][k+1]
				if notLast {
					p += z * hb.p[i][k+2]
					hb.p[i][k+2] -= p * r
				}
				hb.p[i][k] -= p
				hb.p[i][k+1] -= p * q
			}
		}
	}

	for i := im + 2; i <= iu; i++ {
		h[i][i-2] = 0
		if i > im+2 {
			h[i][i-3] = 0
		}
	}
}
