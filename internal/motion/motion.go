// Package motion implements the system (motion) model (C6): four
// pedestrian-dead-reckoning variants sharing one building-constraint
// post-filter, plus per-tick bias diffusion. Grounded on spec.md §4.5
// and the original_source/ble-cpp component names referenced from
// BasicLocalizer.hpp (RandomWalker, RandomWalkerMotion,
// SystemModelInBuilding, WeakPoseRandomWalker); the tagged
// single-interface variant dispatch follows Design Note §9
// ("Polymorphism over system-model variants").
package motion

import (
	"math"
	"math/rand/v2"

	"github.com/banshee-data/bleloc/internal/bldg"
	"github.com/banshee-data/bleloc/internal/geo"
	"gonum.org/v1/gonum/stat/distuv"
)

// Config holds every tunable of every motion variant (spec.md §4.5);
// unused fields for a given variant are simply ignored.
type Config struct {
	// RANDOM_WALK
	SigmaPositionRandomWalk float64 // default 0.25m

	// RANDOM_WALK_ACC / RANDOM_WALK_ACC_ATT
	SigmaMove float64
	SigmaStop float64

	// RANDOM_WALK_ACC_ATT
	AngularVelocityLimitRadPerSec float64 // default 30deg/s

	// WEAK_POSE_RANDOM_WALKER
	ProbabilityOrientationBiasJump float64
	ProbabilityBackwardMove        float64
	RandomWalkRate                 float64
	PoseRandomWalkRate             float64

	// Bias diffusion (all variants)
	DiffusionRSSIBias        float64
	DiffusionOrientationBias float64
	MinRSSIBias, MaxRSSIBias float64
	StdOrientationBias       float64

	// Building constraint
	WeightDecayHalfLifeSteps float64 // default 5
	VelocityRateFloor        float64
	VelocityRateStair        float64
	VelocityRateElevator     float64
	VelocityRateEscalator    float64
	MaxIncidenceAngleRad     float64 // default 45deg

	// FloorDiffusionSigma is the per-sqrt(second) standard deviation of
	// the floor-index random walk applied while a particle stands on a
	// transition cell within MaxIncidenceAngleRad of its heading,
	// scaled by that cell's velocityRate (spec.md §4.5's "allow
	// floor-index diffusion").
	FloorDiffusionSigma float64
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{
		SigmaPositionRandomWalk:        0.25,
		SigmaMove:                      1.0,
		SigmaStop:                      0.1,
		AngularVelocityLimitRadPerSec:  30 * deg2rad,
		ProbabilityOrientationBiasJump: 0.1,
		ProbabilityBackwardMove:        0.0,
		RandomWalkRate:                 0.2,
		PoseRandomWalkRate:             1.0,
		DiffusionRSSIBias:              0.2,
		DiffusionOrientationBias:       10 * deg2rad,
		MinRSSIBias:                    -10,
		MaxRSSIBias:                    10,
		StdOrientationBias:             3 * deg2rad,
		WeightDecayHalfLifeSteps:       5,
		VelocityRateFloor:              1.0,
		VelocityRateStair:              0.5,
		VelocityRateElevator:           0.5,
		VelocityRateEscalator:          0.5,
		MaxIncidenceAngleRad:           45 * deg2rad,
		FloorDiffusionSigma:            0.3,
	}
}

const deg2rad = 3.141592653589793 / 180

// WeightDecayRate converts the configured half-life (in rejected
// steps) to the per-step multiplicative weight decay applied when a
// proposed move lands on a non-walkable cell (spec.md §4.5).
func (c Config) WeightDecayRate() float64 {
	hl := c.WeightDecayHalfLifeSteps
	if hl <= 0 {
		hl = 5
	}
	return powHalfLife(hl)
}

func powHalfLife(halfLife float64) float64 {
	return math.Pow(0.5, 1/halfLife)
}

// Context carries the per-tick inputs a motion variant needs beyond
// the particle itself: the building map (for the constraint
// post-filter), the RNG stream, pedestrian velocity/walking state from
// the pedometer, and the current smoothed orientation from the
// orientation meter.
type Context struct {
	Building               *bldg.Map
	RNG                    *rand.Rand
	Velocity               float64
	IsWalking              bool
	Orientation            float64
	OrientationInitialized bool
}

// Model advances one particle's State by dt seconds. Implementations
// must call ApplyBuildingConstraint after computing a proposed new
// position, per spec.md §4.5.
type Model interface {
	Advance(p *geo.Particle, dt float64, ctx *Context)
}

// DiffuseBias applies the shared per-tick bias diffusion to a
// particle's rssiBias and orientationBias (spec.md §4.5), common to
// every variant.
func DiffuseBias(p *geo.Particle, dt float64, cfg Config, rng *rand.Rand) {
	if dt <= 0 {
		return
	}
	rssiStep := distuv.Normal{Mu: 0, Sigma: sqrtPositive(cfg.DiffusionRSSIBias * dt), Src: rng}.Rand()
	p.State.RSSIBias = geo.ClampBias(p.State.RSSIBias+rssiStep, cfg.MinRSSIBias, cfg.MaxRSSIBias)

	oriStep := distuv.Normal{Mu: 0, Sigma: sqrtPositive(cfg.DiffusionOrientationBias * dt), Src: rng}.Rand()
	p.State.OrientationBias = geo.WrapAngle(p.State.OrientationBias + oriStep)
}

func sqrtPositive(v float64) float64 {
	if v <= 0 {
		return 1e-9
	}
	return math.Sqrt(v)
}

// ApplyBuildingConstraint is the shared post-filter every variant runs
// after proposing (newX, newY) for a particle currently at oldX, oldY
// on the given floor (spec.md §4.5). Proposed moves onto a
// non-walkable cell are rejected (the particle stays put) and its
// weight is decayed by cfg.WeightDecayRate(); moves onto a
// transitional cell (stair/elevator/escalator) are accepted, and when
// the move's direction is within MaxIncidenceAngleRad of the
// particle's heading (Orientation + OrientationBias) the particle's
// NormalVelocity is scaled by that cell type's velocity rate and its
// floor index diffuses. Cells carry no traversal axis, so the angle is
// not measured against the transition's own direction; beyond the
// limit neither the scaling nor the diffusion happens. dt and rng
// drive the diffusion step (spec.md §4.5's "allow floor-index
// diffusion"); pass dt <= 0 or a nil rng to skip it.
func ApplyBuildingConstraint(p *geo.Particle, newX, newY, dt float64, building *bldg.Map, cfg Config, rng *rand.Rand) {
	floor := p.State.FloorIndex()
	if building == nil {
		p.State.Location.X = newX
		p.State.Location.Y = newY
		return
	}

	f := building.Floor(floor)
	if f == nil {
		p.State.Location.X = newX
		p.State.Location.Y = newY
		return
	}

	row, col := f.WorldToCell(newX, newY)
	if !f.IsWalkableCell(row, col) {
		p.Weight *= cfg.WeightDecayRate()
		return
	}

	oldX, oldY := p.State.Location.X, p.State.Location.Y
	p.State.Location.X = newX
	p.State.Location.Y = newY

	cellType := f.TypeAt(row, col)
	if cellType == bldg.CellNormal || cellType == bldg.CellNonWalkable {
		maybeChangeFloor(p, cfg.VelocityRateFloor, 0, cfg, nil)
		return
	}

	approach := math.Atan2(newY-oldY, newX-oldX)
	incidence := geo.WrapAngle(approach - (p.State.Orientation + p.State.OrientationBias))
	if incidence < 0 {
		incidence = -incidence
	}
	if incidence > cfg.MaxIncidenceAngleRad {
		return
	}

	switch cellType {
	case bldg.CellStair:
		maybeChangeFloor(p, cfg.VelocityRateStair, dt, cfg, rng)
	case bldg.CellElevator:
		maybeChangeFloor(p, cfg.VelocityRateElevator, dt, cfg, rng)
	case bldg.CellEscalator:
		maybeChangeFloor(p, cfg.VelocityRateEscalator, dt, cfg, rng)
	}
}

// maybeChangeFloor scales a particle's NormalVelocity by rate
// (ApplyBuildingConstraint passes VelocityRateFloor for a normal cell
// and the cell type's rate for a stair/elevator/escalator cell); no
// motion variant reads NormalVelocity, so this does not change later
// step sizes. When dt > 0 and rng is non-nil it also lets the floor
// index take a Gaussian random-walk step scaled by the same rate
// (spec.md §4.5), so a particle lingering
// on a stair/elevator/escalator cell can actually cross onto the
// adjacent floor instead of being pinned to the one it entered on.
func maybeChangeFloor(p *geo.Particle, rate, dt float64, cfg Config, rng *rand.Rand) {
	p.State.NormalVelocity *= rate
	if dt <= 0 || rng == nil || cfg.FloorDiffusionSigma <= 0 {
		return
	}
	sigma := cfg.FloorDiffusionSigma * rate * math.Sqrt(dt)
	p.State.Location.Floor += distuv.Normal{Mu: 0, Sigma: sigma, Src: rng}.Rand()
}

// RandomWalk implements the RANDOM_WALK variant (spec.md §4.5): an
// isotropic Gaussian step in X/Y with no use of pedometer or
// orientation input, the simplest of the four.
type RandomWalk struct {
	Config Config
}

// Advance proposes an isotropic Gaussian displacement and runs it
// through the shared building constraint.
func (m RandomWalk) Advance(p *geo.Particle, dt float64, ctx *Context) {
	if dt <= 0 {
		return
	}
	sigma := m.Config.SigmaPositionRandomWalk * math.Sqrt(dt)
	dx := distuv.Normal{Mu: 0, Sigma: sigma, Src: ctx.RNG}.Rand()
	dy := distuv.Normal{Mu: 0, Sigma: sigma, Src: ctx.RNG}.Rand()
	ApplyBuildingConstraint(p, p.State.Location.X+dx, p.State.Location.Y+dy, dt, ctx.Building, m.Config, ctx.RNG)
	DiffuseBias(p, dt, m.Config, ctx.RNG)
}

// RandomWalkAcc implements RANDOM_WALK_ACC: the step size is driven by
// the pedometer's walking/resting state (SigmaMove vs SigmaStop)
// rather than a single fixed sigma, but still has no preferred
// heading.
type RandomWalkAcc struct {
	Config Config
}

// Advance proposes a displacement whose magnitude reflects the
// pedometer's walking state, still isotropic in direction.
func (m RandomWalkAcc) Advance(p *geo.Particle, dt float64, ctx *Context) {
	if dt <= 0 {
		return
	}
	sigma := m.Config.SigmaStop
	if ctx.IsWalking {
		sigma = m.Config.SigmaMove
	}
	sigma *= math.Sqrt(dt)
	dx := distuv.Normal{Mu: 0, Sigma: sigma, Src: ctx.RNG}.Rand()
	dy := distuv.Normal{Mu: 0, Sigma: sigma, Src: ctx.RNG}.Rand()
	ApplyBuildingConstraint(p, p.State.Location.X+dx, p.State.Location.Y+dy, dt, ctx.Building, m.Config, ctx.RNG)
	DiffuseBias(p, dt, m.Config, ctx.RNG)
}

// RandomWalkAccAtt implements RANDOM_WALK_ACC_ATT, the default
// tracking variant (spec.md §4.5): pedestrian step length is driven
// by the pedometer's velocity estimate along the particle's own
// tracked heading (orientation + orientationBias), with the heading
// itself allowed to drift at no more than
// AngularVelocityLimitRadPerSec per second.
type RandomWalkAccAtt struct {
	Config Config
}

// Advance walks the particle forward along orientation+orientationBias
// at the pedometer's current velocity, jitters the heading within the
// configured angular-velocity limit, and runs the proposed position
// through the shared building constraint.
func (m RandomWalkAccAtt) Advance(p *geo.Particle, dt float64, ctx *Context) {
	if dt <= 0 {
		return
	}
	if ctx.OrientationInitialized {
		p.State.Orientation = ctx.Orientation
	}

	maxDelta := m.Config.AngularVelocityLimitRadPerSec * dt
	headingJitter := distuv.Normal{Mu: 0, Sigma: sqrtPositive(m.Config.StdOrientationBias * dt), Src: ctx.RNG}.Rand()
	if headingJitter > maxDelta {
		headingJitter = maxDelta
	} else if headingJitter < -maxDelta {
		headingJitter = -maxDelta
	}
	p.State.OrientationBias = geo.WrapAngle(p.State.OrientationBias + headingJitter)

	heading := p.State.Orientation + p.State.OrientationBias
	step := ctx.Velocity * dt
	dx := step * math.Cos(heading)
	dy := step * math.Sin(heading)

	sigma := m.Config.SigmaStop
	if ctx.IsWalking {
		sigma = m.Config.SigmaMove
	}
	sigma *= math.Sqrt(dt)
	dx += distuv.Normal{Mu: 0, Sigma: sigma, Src: ctx.RNG}.Rand()
	dy += distuv.Normal{Mu: 0, Sigma: sigma, Src: ctx.RNG}.Rand()

	ApplyBuildingConstraint(p, p.State.Location.X+dx, p.State.Location.Y+dy, dt, ctx.Building, m.Config, ctx.RNG)
	p.State.RSSIBias = geo.ClampBias(p.State.RSSIBias, m.Config.MinRSSIBias, m.Config.MaxRSSIBias)

	rssiStep := distuv.Normal{Mu: 0, Sigma: sqrtPositive(m.Config.DiffusionRSSIBias * dt), Src: ctx.RNG}.Rand()
	p.State.RSSIBias = geo.ClampBias(p.State.RSSIBias+rssiStep, m.Config.MinRSSIBias, m.Config.MaxRSSIBias)
}

// WeakPoseRandomWalker implements WEAK_POSE_RANDOM_WALKER (spec.md
// §4.5): mixes a pedestrian-driven step (as in RandomWalkAccAtt) with
// a low-probability orientation-bias "jump" that lets the filter
// recover from an accumulated heading error faster than slow
// diffusion alone would, and allows an occasional backward step to
// account for a device carried facing away from the walking
// direction.
type WeakPoseRandomWalker struct {
	Config Config
}

// Advance mixes a pedestrian forward/backward step with an
// occasional large orientation-bias jump, then runs the shared
// building constraint.
func (m WeakPoseRandomWalker) Advance(p *geo.Particle, dt float64, ctx *Context) {
	if dt <= 0 {
		return
	}
	if ctx.OrientationInitialized {
		p.State.Orientation = ctx.Orientation
	}

	if ctx.RNG.Float64() < m.Config.ProbabilityOrientationBiasJump*dt {
		p.State.OrientationBias = geo.WrapAngle(ctx.RNG.Float64()*2*math.Pi - math.Pi)
	} else {
		DiffuseBias(p, dt, m.Config, ctx.RNG)
	}

	direction := 1.0
	if ctx.RNG.Float64() < m.Config.ProbabilityBackwardMove {
		direction = -1.0
	}

	heading := p.State.Orientation + p.State.OrientationBias
	step := direction * ctx.Velocity * dt * m.Config.PoseRandomWalkRate
	dx := step * math.Cos(heading)
	dy := step * math.Sin(heading)

	freeSigma := m.Config.RandomWalkRate * math.Sqrt(dt)
	dx += distuv.Normal{Mu: 0, Sigma: freeSigma, Src: ctx.RNG}.Rand()
	dy += distuv.Normal{Mu: 0, Sigma: freeSigma, Src: ctx.RNG}.Rand()

	ApplyBuildingConstraint(p, p.State.Location.X+dx, p.State.Location.Y+dy, dt, ctx.Building, m.Config, ctx.RNG)
}
