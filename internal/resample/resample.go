// Package resample implements the resampler (C8): systematic
// stratified resampling with a single shared jitter offset, per
// spec.md §4.7. Grounded on the threshold-gated resample step of
// original_source/ble-cpp's particle filter core, wired the way
// internal/pf (C9) drives every other per-tick operation.
package resample

import (
	"math/rand/v2"

	"github.com/banshee-data/bleloc/internal/geo"
)

// GridResampler implements spec.md §4.7's systematic resampling rule:
// draw a single u0 ~ U[0, 1/N), then pick the particle whose
// cumulative weight interval contains u0 + k/N for each k in [0, N).
// Ties (a cumulative-weight boundary exactly equal to a pick point)
// resolve to the lower index. After resampling every output particle
// has weight 1/N.
type GridResampler struct{}

// Resample draws len(particles) new particles from the input
// population using systematic stratified resampling. The input
// weights need not be pre-normalized; Resample normalizes internally.
// Returns a new slice; the input is left untouched.
func (GridResampler) Resample(particles []geo.Particle, rng *rand.Rand) []geo.Particle {
	n := len(particles)
	if n == 0 {
		return nil
	}

	var sumW float64
	for _, p := range particles {
		sumW += p.Weight
	}

	normalized := make([]float64, n)
	if sumW > 0 {
		for i, p := range particles {
			normalized[i] = p.Weight / sumW
		}
	} else {
		// Degenerate population: every particle is equally likely.
		for i := range normalized {
			normalized[i] = 1.0 / float64(n)
		}
	}

	out := make([]geo.Particle, n)
	u0 := rng.Float64() / float64(n)
	j := 0
	cum := normalized[0]

	for k := 0; k < n; k++ {
		target := u0 + float64(k)/float64(n)
		for cum < target && j < n-1 {
			j++
			cum += normalized[j]
		}
		out[k] = geo.Particle{State: particles[j].State, Weight: 1.0 / float64(n)}
	}
	return out
}
