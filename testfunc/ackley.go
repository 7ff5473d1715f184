package testfunc

import (
	"math"
	"math/rand/v2"
)

var machEps = math.Nextafter(1, 2) - 1

// Ackley is the Ackley function on d coordinates
//
//	f(x) = -a exp(-b √(Σ x_i² / d)) - exp(Σ cos(c x_i) / d) + a + e
//
// with its global minimum f(0, ..., 0) = 0 at the origin, surrounded by
// a regular grid of local minima.
type Ackley struct {
	a, b, c float64
	rng     *rand.Rand
}

// NewAckley creates an Ackley objective with the usual coefficients
// a = 20, b = 0.2 and c = 2π.
func NewAckley() *Ackley {
	return NewAckleyABC(20, 0.2, 2*math.Pi)
}

// NewAckleyABC creates an Ackley objective with freely chosen
// coefficients.
func NewAckleyABC(a, b, c float64) *Ackley {
	return &Ackley{a: a, b: b, c: c}
}

// WithRng sets the random source used by Anneal, making annealing runs
// reproducible. By default the shared source of math/rand/v2 is used.
func (f *Ackley) WithRng(rng *rand.Rand) *Ackley {
	f.rng = rng
	return f
}

// Cost computes f(x).
func (f *Ackley) Cost(param []float64) (float64, error) {
	d := float64(len(param))
	sqSum, cosSum := 0.0, 0.0
	for _, x := range param {
		sqSum += x * x
		cosSum += math.Cos(f.c * x)
	}
	return -f.a*math.Exp(-f.b*math.Sqrt(sqSum/d)) - math.Exp(cosSum/d) + f.a + math.Exp(1), nil
}

// Gradient computes the derivative. The radial term degenerates at the
// origin, where its contribution vanishes.
func (f *Ackley) Gradient(param []float64) ([]float64, error) {
	d := float64(len(param))
	sqSum, cosSum := 0.0, 0.0
	for _, x := range param {
		sqSum += x * x
		cosSum += math.Cos(f.c * x)
	}
	norm := math.Sqrt(sqSum)

	f1 := f.c * math.Exp(cosSum/d) / d
	f2 := 0.0
	if norm > machEps {
		f2 = f.a * f.b * math.Exp(-f.b*norm/math.Sqrt(d)) / (math.Sqrt(d) * norm)
	}

	out := make([]float64, len(param))
	for i, x := range param {
		out[i] = math.Sin(f.c*x)*f1 + x*f2
	}
	return out, nil
}

// Hessian computes the Hessian. As in Gradient, the radial terms drop
// out at the origin.
func (f *Ackley) Hessian(param []float64) ([][]float64, error) {
	n := len(param)
	d := float64(n)
	sqSum, cosSum := 0.0, 0.0
	for _, x := range param {
		sqSum += x * x
		cosSum += math.Cos(f.c * x)
	}
	norm := math.Sqrt(sqSum)
	radExp := math.Exp(-f.b * norm / math.Sqrt(d))

	f1 := -f.c * f.c * math.Exp(cosSum/d)
	f2 := f.a * f.b * f.b * radExp / (d * sqSum)
	f3 := f.a * f.b * radExp / (math.Sqrt(d) * norm * norm * norm)
	f4 := f.a * f.b * radExp / (math.Sqrt(d) * norm)

	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		si, ci := math.Sin(f.c*param[i]), math.Cos(f.c*param[i])
		out[i][i] = si*si*f1/(d*d) - ci*f1/d
		if norm > machEps {
			out[i][i] -= param[i]*param[i]*(f2+f3) - f4
		}
		for j := 0; j < i; j++ {
			v := si * math.Sin(f.c*param[j]) * f1 / (d * d)
			if norm > machEps {
				v += param[i] * param[j] * (-f2 - f3)
			}
			out[i][j] = v
			out[j][i] = v
		}
	}
	return out, nil
}

// Anneal perturbs every coordinate uniformly within ±extent.
func (f *Ackley) Anneal(param []float64, extent float64) ([]float64, error) {
	return dither(f.rng, param, extent), nil
}
