// Package initializer implements the status initializer (C7):
// drawing an initial particle cloud either from empirical survey
// locations (BySampleLocations) or from a Metropolis sampler weighted
// by the observation likelihood of the current beacon scan
// (ByBeacons), per spec.md §4.6. Grounded on the acceptance/rejection
// shape of BasicLocalizer.hpp's particle-filter reset path in
// original_source/ble-cpp, expressed with gonum's distuv sampling the
// way internal/obsmodel and internal/motion already do.
package initializer

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/banshee-data/bleloc/internal/beacon"
	"github.com/banshee-data/bleloc/internal/bldg"
	"github.com/banshee-data/bleloc/internal/geo"
	"github.com/banshee-data/bleloc/internal/obsmodel"
	"gonum.org/v1/gonum/stat/distuv"
)

// Config controls both initialization strategies (spec.md §4.6).
type Config struct {
	BurnIn   int     // Metropolis burn-in steps before collecting samples
	Radius2D float64 // proposal step standard deviation, meters
	Interval int     // thinning: keep every Interval-th post-burn-in sample

	StdX, StdY float64 // Gaussian jitter applied to each accepted center

	// HeadingConfidence mixes a heading hint with a uniform prior:
	// with probability HeadingConfidence, orientation is drawn from
	// N(heading, StdTheta); otherwise uniformly in [-π, π).
	HeadingConfidence float64
	StdTheta          float64
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{
		BurnIn:            50,
		Radius2D:          1.0,
		Interval:          5,
		StdX:              0.5,
		StdY:              0.5,
		HeadingConfidence: 0,
		StdTheta:          20 * math.Pi / 180,
	}
}

// HeadingHint carries an optional external heading estimate (from a
// local-heading sensor or a prior Status) used to seed orientation
// with higher confidence than the uniform prior.
type HeadingHint struct {
	Heading float64
	Valid   bool
}

// drawOrientation implements spec.md §4.6's heading-seeding rule:
// uniform over the full circle, in [-π, π), unless a valid hint is
// supplied, in which case it
// is drawn from N(heading, stdTheta) with probability
// headingConfidenceForOrientationInit, falling back to uniform
// otherwise.
func drawOrientation(hint HeadingHint, cfg Config, rng *rand.Rand) float64 {
	if hint.Valid && rng.Float64() < cfg.HeadingConfidence {
		o := distuv.Normal{Mu: hint.Heading, Sigma: cfg.StdTheta, Src: rng}.Rand()
		return geo.WrapAngle(o)
	}
	return rng.Float64()*2*math.Pi - math.Pi
}

// BySampleLocations draws n particles by sampling uniformly (with
// replacement) from the supplied survey locations and jittering each
// draw by (StdX, StdY); every particle's weight is 1/n.
func BySampleLocations(samples []geo.Location, n int, rng *rand.Rand, cfg Config, hint HeadingHint) ([]geo.Particle, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("initializer: no sample locations to draw from")
	}
	if n <= 0 {
		return nil, fmt.Errorf("initializer: particle count must be positive, got %d", n)
	}

	particles := make([]geo.Particle, n)
	w := 1.0 / float64(n)
	for i := 0; i < n; i++ {
		base := samples[rng.IntN(len(samples))]
		x := base.X + distuv.Normal{Mu: 0, Sigma: cfg.StdX, Src: rng}.Rand()
		y := base.Y + distuv.Normal{Mu: 0, Sigma: cfg.StdY, Src: rng}.Rand()
		particles[i] = geo.Particle{
			State: geo.State{
				Pose: geo.Pose{
					Location:    geo.Location{X: x, Y: y, Z: base.Z, Floor: base.Floor},
					Orientation: drawOrientation(hint, cfg, rng),
				},
			},
			Weight: w,
		}
	}
	return particles, nil
}

// ByBeacons runs a Metropolis sampler over the walkable cells of
// floor, targeting the (unnormalized) observation likelihood of scan
// under model, then jitters each accepted center by (StdX, StdY) and
// seeds orientation per drawOrientation. Returns n particles with
// uniform weight 1/n.
func ByBeacons(
	scan beacon.Scan,
	known map[uint32]geo.Location,
	model *obsmodel.Parameters,
	building *bldg.Map,
	floor int,
	n int,
	rng *rand.Rand,
	cfg Config,
	hint HeadingHint,
) ([]geo.Particle, error) {
	if n <= 0 {
		return nil, fmt.Errorf("initializer: particle count must be positive, got %d", n)
	}
	f := building.Floor(floor)
	if f == nil {
		return nil, fmt.Errorf("initializer: unknown floor %d", floor)
	}

	current, err := building.RandomWalkableLocation(floor, rng)
	if err != nil {
		return nil, fmt.Errorf("initializer: %w", err)
	}
	currentLL := scoreLocation(model, scan, known, current)

	centers := make([]geo.Location, 0, n)
	step := 0
	for len(centers) < n {
		step++
		proposal := geo.Location{
			X:     current.X + distuv.Normal{Mu: 0, Sigma: cfg.Radius2D, Src: rng}.Rand(),
			Y:     current.Y + distuv.Normal{Mu: 0, Sigma: cfg.Radius2D, Src: rng}.Rand(),
			Z:     current.Z,
			Floor: current.Floor,
		}
		row, col := f.WorldToCell(proposal.X, proposal.Y)
		if f.IsWalkableCell(row, col) {
			proposalLL := scoreLocation(model, scan, known, proposal)
			if proposalLL >= currentLL || math.Log(rng.Float64()) < proposalLL-currentLL {
				current = proposal
				currentLL = proposalLL
			}
		}

		if step > cfg.BurnIn && cfg.Interval > 0 && (step-cfg.BurnIn)%cfg.Interval == 0 {
			centers = append(centers, current)
		}
		if step > cfg.BurnIn*100+n*cfg.Interval*100+10000 {
			// Safety valve: the chain cannot make progress (e.g. an
			// isolated walkable island smaller than Radius2D). Fill
			// the remainder with the last accepted center rather than
			// spinning forever.
			for len(centers) < n {
				centers = append(centers, current)
			}
			break
		}
	}

	particles := make([]geo.Particle, n)
	w := 1.0 / float64(n)
	for i, c := range centers {
		x := c.X + distuv.Normal{Mu: 0, Sigma: cfg.StdX, Src: rng}.Rand()
		y := c.Y + distuv.Normal{Mu: 0, Sigma: cfg.StdY, Src: rng}.Rand()
		particles[i] = geo.Particle{
			State: geo.State{
				Pose: geo.Pose{
					Location:    geo.Location{X: x, Y: y, Z: c.Z, Floor: c.Floor},
					Orientation: drawOrientation(hint, cfg, rng),
				},
			},
			Weight: w,
		}
	}
	return particles, nil
}

// scoreLocation evaluates the scan's observation log-likelihood at
// loc using a zero-bias, zero-velocity state: the Metropolis target is
// over position only, biases are left to the filter's own diffusion
// once particles are seeded.
func scoreLocation(model *obsmodel.Parameters, scan beacon.Scan, known map[uint32]geo.Location, loc geo.Location) float64 {
	s := geo.State{Pose: geo.Pose{Location: loc}}
	return model.LogLikelihood(s, scan, known)
}
