// Package pf implements the particle filter core (C9): the single
// mutating entry point that owns the particle cloud, the system model
// (C6), and the observation model (C5), plus the mixture-recovery and
// floor-transition monitor described in spec.md §4.8. Grounded on the
// mutex-guarded, single-entry-point shape of
// internal/lidar/l5tracks/tracking.go's Tracker: one struct owns all
// mutable state behind a mutex, exposes one mutating call per input
// kind, and snapshot accessors for everything else.
package pf

import (
	"fmt"
	"math"
	"sync"

	"math/rand/v2"

	"github.com/banshee-data/bleloc/internal/beacon"
	"github.com/banshee-data/bleloc/internal/bldg"
	"github.com/banshee-data/bleloc/internal/geo"
	"github.com/banshee-data/bleloc/internal/initializer"
	"github.com/banshee-data/bleloc/internal/motion"
	"github.com/banshee-data/bleloc/internal/obsmodel"
	"github.com/banshee-data/bleloc/internal/resample"
	"github.com/banshee-data/bleloc/internal/sensors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Config holds every filter-level tunable of spec.md §4.7/§4.8.
type Config struct {
	NumParticles int

	EffectiveSampleSizeThreshold float64 // resample when ESS falls below this

	// MixtureProbability is the fraction of the lowest-weight
	// population replaced with fresh C7 draws at every observation
	// update (default 0, disabling the mechanism).
	MixtureProbability    float64
	RejectDistance        float64 // meters; reject mixture replacements farther than this from the mean
	RejectFloorDifference float64 // floors; reject mixture replacements differing by more than this

	// FloorVoteDwellUpdates is the number of consecutive putBeacons
	// updates a candidate floor must hold >50% of the weighted
	// population before the reported floor flips.
	FloorVoteDwellUpdates int

	// LowESSCollapseUpdates is the number of consecutive updates with
	// ESS below LowESSFloor before the filter is considered collapsed
	// (caller should transition the lifecycle state back to UNKNOWN).
	LowESSCollapseUpdates int
	LowESSFloor           float64

	BeaconFilterK int

	MinVelocity, MaxVelocity float64

	// DoesUpdateWhenStopping controls whether PutBeacons still runs the
	// observation update while the pedometer has reported !IsWalking
	// for StoppingUpdateSkipStreak or more consecutive acceleration
	// samples. Default false matches the C++ default: skip the update
	// (weights untouched) while stationary, per spec.md §9(a).
	DoesUpdateWhenStopping bool
	StoppingUpdateSkipStreak int

	SystemConfig      motion.Config
	InitializerConfig initializer.Config
}

// DefaultConfig returns spec.md's documented filter-level defaults.
func DefaultConfig() Config {
	return Config{
		NumParticles:                 1000,
		EffectiveSampleSizeThreshold: 1000,
		MixtureProbability:           0,
		RejectDistance:               10,
		RejectFloorDifference:        0.5,
		FloorVoteDwellUpdates:        5,
		LowESSCollapseUpdates:        10,
		LowESSFloor:                  2,
		BeaconFilterK:                10,
		MinVelocity:                  0,
		MaxVelocity:                  2.0,
		DoesUpdateWhenStopping:       false,
		StoppingUpdateSkipStreak:     2,
		SystemConfig:                 motion.DefaultConfig(),
		InitializerConfig:            initializer.DefaultConfig(),
	}
}

// PoseStdev is the diagonal standard deviation used by
// ResetStatusAround (spec.md §4.8's resetStatus(pose, stdevPose)).
type PoseStdev struct {
	X, Y, Floor, Orientation float64
}

// Status is the public snapshot returned by Status(): everything a
// caller needs without touching the particle cloud directly.
type Status struct {
	Mean              geo.Location
	Stdev             geo.Location
	ReportedFloor     int
	EffectiveSampleSize float64
	NumParticles      int
	Collapsed         bool
}

// Filter owns the particle cloud and every per-tick input handler
// (spec.md §4.8). All mutation is serialized behind mu; callers may
// invoke Put*/Reset*/Status from multiple goroutines, but per spec.md
// §5 the engine (C10) itself is expected to call in from one thread.
type Filter struct {
	mu sync.Mutex

	cfg Config
	rng *rand.Rand

	particles []geo.Particle
	system    motion.Model
	obs       *obsmodel.Parameters
	building  *bldg.Map
	known     map[uint32]geo.Location

	beaconFilter     *beacon.Filter
	orientationMeter *sensors.OrientationMeter
	pedometer        *sensors.Pedometer
	resampler        resample.GridResampler

	lastBeaconTimestamp int64
	lowESSStreak        int
	collapsed           bool
	stoppedStreak       int

	reportedFloor     int
	floorCandidate    int
	floorCandidateRun int
}

// New constructs a Filter ready to receive sensor input once seeded
// by ResetStatus or ResetStatusAround. system and obs must be
// non-nil; building may be nil for floor-less deployments (building
// constraints are then skipped, per internal/motion).
func New(cfg Config, system motion.Model, obs *obsmodel.Parameters, building *bldg.Map, known map[uint32]geo.Location, rng *rand.Rand) *Filter {
	if cfg.NumParticles <= 0 {
		cfg.NumParticles = 1000
	}
	return &Filter{
		cfg:              cfg,
		rng:              rng,
		system:           system,
		obs:              obs,
		building:         building,
		known:            known,
		beaconFilter:     beacon.NewFilter(cfg.BeaconFilterK),
		orientationMeter: sensors.NewOrientationMeter(0, 0),
		pedometer:        sensors.NewPedometer(sensors.DefaultPedometerConfig()),
	}
}

// PutAttitude forwards one attitude sample to the orientation meter
// (C2). O(1); no particle work (spec.md §4.8).
func (f *Filter) PutAttitude(a sensors.Attitude) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orientationMeter.Put(a)
}

// PutAcceleration forwards one acceleration sample to the pedometer
// (C3); when the pedometer reports a step, every particle is advanced
// by C6 with dt = the elapsed time since the previous sample. O(N).
func (f *Filter) PutAcceleration(a sensors.Acceleration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stepped, dt := f.pedometer.Put(a)
	if f.pedometer.IsWalking() {
		f.stoppedStreak = 0
	} else {
		f.stoppedStreak++
	}
	if !stepped || dt <= 0 {
		return
	}

	ctx := &motion.Context{
		Building:               f.building,
		RNG:                    f.rng,
		Velocity:                f.pedometer.Velocity(),
		IsWalking:               f.pedometer.IsWalking(),
		Orientation:             f.orientationMeter.Yaw(),
		OrientationInitialized:  f.orientationMeter.IsInitialized(),
	}
	for i := range f.particles {
		f.system.Advance(&f.particles[i], dt, ctx)
		f.particles[i].State.Velocity = geo.ClampVelocity(f.pedometer.Velocity(), f.cfg.MinVelocity, f.cfg.MaxVelocity)
	}
}

// PutBeacons runs one observation update (spec.md §4.8): per-particle
// log-likelihood from C5, numerically stabilized reweighting,
// renormalization, ESS computation, mixture recovery, the
// floor-transition monitor, and a threshold-gated resample.
// Out-of-order scans (Timestamp older than the last processed one) are
// dropped silently, matching spec.md §5's ordering guarantee. Returns
// an error only for a structurally invalid scan (EmptyScan after
// filtering); the filter state is left untouched in that case.
func (f *Filter) PutBeacons(scan beacon.Scan) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if scan.Timestamp < f.lastBeaconTimestamp {
		return nil
	}
	f.lastBeaconTimestamp = scan.Timestamp

	filtered := f.beaconFilter.Apply(scan)
	if len(filtered.Beacons) == 0 {
		return &EmptyScanError{}
	}

	skipUpdate := !f.cfg.DoesUpdateWhenStopping && f.stoppedStreak >= f.cfg.StoppingUpdateSkipStreak
	if !skipUpdate {
		f.reweight(filtered)
		f.applyMixtureRecovery(filtered)
		f.updateFloorMonitor()
	}

	ess := effectiveSampleSize(f.particles)
	if ess < f.cfg.LowESSFloor {
		f.lowESSStreak++
	} else {
		f.lowESSStreak = 0
	}
	f.collapsed = f.lowESSStreak >= f.cfg.LowESSCollapseUpdates

	if ess < f.cfg.EffectiveSampleSizeThreshold {
		f.particles = f.resampler.Resample(f.particles, f.rng)
	}
	return nil
}

// reweight multiplies each particle's weight by the (numerically
// stabilized) observation likelihood of scan and renormalizes.
func (f *Filter) reweight(scan beacon.Scan) {
	n := len(f.particles)
	if n == 0 {
		return
	}
	logLiks := make([]float64, n)
	maxLL := math.Inf(-1)
	for i := range f.particles {
		ll := f.obs.LogLikelihood(f.particles[i].State, scan, f.known)
		logLiks[i] = ll
		if ll > maxLL {
			maxLL = ll
		}
	}

	var sumW float64
	for i := range f.particles {
		w := f.particles[i].Weight * math.Exp(logLiks[i]-maxLL)
		f.particles[i].Weight = w
		sumW += w
	}
	if sumW <= 0 {
		uniform := 1.0 / float64(n)
		for i := range f.particles {
			f.particles[i].Weight = uniform
		}
		return
	}
	for i := range f.particles {
		f.particles[i].Weight /= sumW
	}
}

// applyMixtureRecovery replaces the lowest-weight
// cfg.MixtureProbability fraction of the population with fresh C7
// draws conditioned on scan, rejecting any replacement too far (in
// distance or floor) from the current weighted mean (spec.md §4.8).
func (f *Filter) applyMixtureRecovery(scan beacon.Scan) {
	if f.cfg.MixtureProbability <= 0 || f.building == nil || len(f.particles) == 0 {
		return
	}
	n := len(f.particles)
	replaceCount := int(float64(n) * f.cfg.MixtureProbability)
	if replaceCount <= 0 {
		return
	}

	mean := geo.MeanLocation(f.particles)
	floor := mean.FloorIndex()

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sortByWeightAscending(order, f.particles)

	fresh, err := initializer.ByBeacons(scan, f.known, f.obs, f.building, floor, replaceCount, f.rng, f.cfg.InitializerConfig, initializer.HeadingHint{})
	if err != nil {
		return
	}

	j := 0
	for _, idx := range order[:replaceCount] {
		if j >= len(fresh) {
			break
		}
		candidate := fresh[j]
		j++
		if candidate.State.Location.Distance2D(mean) > f.cfg.RejectDistance {
			continue
		}
		if math.Abs(candidate.State.Location.Floor-mean.Floor) > f.cfg.RejectFloorDifference {
			continue
		}
		f.particles[idx] = candidate
	}
}

// sortByWeightAscending sorts order (particle indices) by ascending
// particle weight, lowest-weight first.
func sortByWeightAscending(order []int, particles []geo.Particle) {
	for i := 1; i < len(order); i++ {
		key := order[i]
		j := i - 1
		for j >= 0 && particles[order[j]].Weight > particles[key].Weight {
			order[j+1] = order[j]
			j--
		}
		order[j+1] = key
	}
}

// updateFloorMonitor implements spec.md §4.8's floor-transition
// monitor: the reported floor only flips once a different floor has
// held a strict majority of the weighted population for
// FloorVoteDwellUpdates consecutive updates in a row.
func (f *Filter) updateFloorMonitor() {
	if len(f.particles) == 0 {
		return
	}
	fractions := make(map[int]float64)
	var total float64
	for _, p := range f.particles {
		fractions[p.State.FloorIndex()] += p.Weight
		total += p.Weight
	}
	if total <= 0 {
		return
	}

	dominant, dominantFrac := f.reportedFloor, 0.0
	for floor, w := range fractions {
		frac := w / total
		if frac > dominantFrac {
			dominant, dominantFrac = floor, frac
		}
	}

	if dominant == f.reportedFloor {
		f.floorCandidate = f.reportedFloor
		f.floorCandidateRun = 0
		return
	}
	if dominantFrac <= 0.5 {
		f.floorCandidate = f.reportedFloor
		f.floorCandidateRun = 0
		return
	}

	if f.floorCandidate != dominant {
		f.floorCandidate = dominant
		f.floorCandidateRun = 1
	} else {
		f.floorCandidateRun++
	}
	if f.floorCandidateRun >= f.cfg.FloorVoteDwellUpdates {
		f.reportedFloor = dominant
		f.floorCandidate = dominant
		f.floorCandidateRun = 0
	}
}

// ResetStatus delegates to C7's beacon-weighted Metropolis sampler,
// replacing the entire particle cloud with draws seeded from scan
// (spec.md §4.8).
func (f *Filter) ResetStatus(scan beacon.Scan, floor int, hint initializer.HeadingHint) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	particles, err := initializer.ByBeacons(scan, f.known, f.obs, f.building, floor, f.cfg.NumParticles, f.rng, f.cfg.InitializerConfig, hint)
	if err != nil {
		return fmt.Errorf("pf: reset by beacons: %w", err)
	}
	f.particles = particles
	f.reportedFloor = floor
	f.floorCandidate = floor
	f.floorCandidateRun = 0
	f.lowESSStreak = 0
	f.collapsed = false
	return nil
}

// ResetStatusAround draws every particle as pose + N(0, diag(stdev))
// (spec.md §4.8's resetStatus(pose, stdevPose)), using gonum's
// multivariate normal sampler over (x, y, floor, orientation).
func (f *Filter) ResetStatusAround(pose geo.Pose, stdev PoseStdev) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	mu := []float64{pose.X, pose.Y, pose.Floor, pose.Orientation}
	sigma := mat.NewSymDense(4, nil)
	sigma.SetSym(0, 0, stdev.X*stdev.X)
	sigma.SetSym(1, 1, stdev.Y*stdev.Y)
	sigma.SetSym(2, 2, stdev.Floor*stdev.Floor)
	sigma.SetSym(3, 3, stdev.Orientation*stdev.Orientation)

	normal, ok := distmv.NewNormal(mu, sigma, f.rng)
	if !ok {
		return fmt.Errorf("pf: reset pose covariance is not positive definite")
	}

	n := f.cfg.NumParticles
	particles := make([]geo.Particle, n)
	w := 1.0 / float64(n)
	sample := make([]float64, 4)
	for i := 0; i < n; i++ {
		normal.Rand(sample)
		particles[i] = geo.Particle{
			State: geo.State{
				Pose: geo.Pose{
					Location:    geo.Location{X: sample[0], Y: sample[1], Floor: sample[2]},
					Orientation: geo.WrapAngle(sample[3]),
				},
			},
			Weight: w,
		}
	}
	f.particles = particles
	f.reportedFloor = int(math.Round(pose.Floor))
	f.floorCandidate = f.reportedFloor
	f.floorCandidateRun = 0
	f.lowESSStreak = 0
	f.collapsed = false
	return nil
}

// Status returns a snapshot of the current particle cloud.
func (f *Filter) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	mean := geo.MeanLocation(f.particles)
	stdev := geo.StdevLocation(f.particles, mean)
	return Status{
		Mean:                mean,
		Stdev:               stdev,
		ReportedFloor:       f.reportedFloor,
		EffectiveSampleSize: effectiveSampleSize(f.particles),
		NumParticles:        len(f.particles),
		Collapsed:           f.collapsed,
	}
}

// Particles returns a snapshot copy of the current particle cloud,
// for callers (e.g. internal/dashboard) that need more than the
// summary Status.
func (f *Filter) Particles() []geo.Particle {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]geo.Particle, len(f.particles))
	copy(out, f.particles)
	return out
}

// effectiveSampleSize computes ESS = 1 / Σwᵢ² over a normalized
// weight population. Returns 0 for an empty cloud.
func effectiveSampleSize(particles []geo.Particle) float64 {
	if len(particles) == 0 {
		return 0
	}
	var sumSq float64
	for _, p := range particles {
		sumSq += p.Weight * p.Weight
	}
	if sumSq <= 0 {
		return 0
	}
	return 1.0 / sumSq
}

// EmptyScanError is returned by PutBeacons when a scan has no beacons
// left after strongest-K filtering (spec.md §7).
type EmptyScanError struct{}

func (e *EmptyScanError) Error() string { return "pf: scan has no usable beacons after filtering" }
