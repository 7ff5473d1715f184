package testfunc

import "math/rand/v2"

// dither returns a copy of param with every coordinate perturbed uniformly
// within ±extent. All objectives in this package propose annealing moves
// this way.
func dither(rng *rand.Rand, param []float64, extent float64) []float64 {
	out := make([]float64, len(param))
	for i, x := range param {
		out[i] = x + extent*(2*uniformFloat64(rng)-1)
	}
	return out
}

func uniformFloat64(rng *rand.Rand) float64 {
	if rng != nil {
		return rng.Float64()
	}
	return rand.Float64()
}
