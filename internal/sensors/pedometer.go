package sensors

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Acceleration is one 3-axis accelerometer sample with a monotonic
// millisecond timestamp.
type Acceleration struct {
	X, Y, Z   float64
	Timestamp int64
}

// PedometerConfig holds the tunables for step/walking-speed detection
// (spec.md §4.3).
type PedometerConfig struct {
	WalkDetectSigmaThreshold float64 // multiple of resting σ that flags a step
	MinVelocity              float64
	MaxVelocity              float64
	WindowSize               int     // samples in the sliding variance window
	RestingSigma             float64 // σ_rest, the assumed standard-deviation floor at rest
	VelocityStep             float64 // m/s added per detected step, decayed otherwise
	VelocityDecay            float64 // multiplicative decay per sample while not stepping
}

// DefaultPedometerConfig returns spec.md's documented defaults.
func DefaultPedometerConfig() PedometerConfig {
	return PedometerConfig{
		WalkDetectSigmaThreshold: 0.6,
		MinVelocity:              0.1,
		MaxVelocity:              1.5,
		WindowSize:               10,
		RestingSigma:             0.05,
		VelocityStep:             0.15,
		VelocityDecay:            0.8,
	}
}

// Pedometer detects steps from the vertical-component variance of a
// high-pass filtered acceleration stream and maintains a clamped
// instantaneous walking velocity.
type Pedometer struct {
	cfg PedometerConfig

	highPassPrevRaw  float64
	highPassPrevOut  float64
	haveHighPassPrev bool

	window []float64 // ring of recent high-passed vertical samples

	velocity  float64
	isWalking bool

	lastTimestamp int64
	haveLast      bool
}

// NewPedometer returns a Pedometer configured by cfg.
func NewPedometer(cfg PedometerConfig) *Pedometer {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 10
	}
	return &Pedometer{cfg: cfg}
}

const highPassAlpha = 0.9 // single-pole high-pass coefficient

// Put processes one acceleration sample, updating the step detector
// and walking-velocity estimate. StepDt is the elapsed time in seconds
// since the previous sample (0 for the first sample); it is the
// interval the particle filter core (C9) should use for its C6
// predict call when Put reports stepped == true.
func (p *Pedometer) Put(a Acceleration) (stepped bool, stepDt float64) {
	if p.haveLast {
		stepDt = float64(a.Timestamp-p.lastTimestamp) / 1000.0
		if stepDt < 0 {
			stepDt = 0
		}
	}
	p.lastTimestamp = a.Timestamp
	p.haveLast = true

	vertical := a.Z
	var hp float64
	if !p.haveHighPassPrev {
		hp = 0
	} else {
		hp = highPassAlpha * (p.highPassPrevOut + vertical - p.highPassPrevRaw)
	}
	p.highPassPrevRaw = vertical
	p.highPassPrevOut = hp
	p.haveHighPassPrev = true

	p.window = append(p.window, hp)
	if len(p.window) > p.cfg.WindowSize {
		p.window = p.window[len(p.window)-p.cfg.WindowSize:]
	}

	if len(p.window) < 2 {
		p.decayVelocity()
		return false, stepDt
	}

	_, variance := stat.MeanVariance(p.window, nil)
	sigma := math.Sqrt(variance)
	threshold := p.cfg.WalkDetectSigmaThreshold * p.cfg.RestingSigma
	stepped = sigma > threshold

	if stepped {
		p.velocity += p.cfg.VelocityStep
		p.isWalking = true
	} else {
		p.decayVelocity()
	}
	p.velocity = clamp(p.velocity, p.cfg.MinVelocity, p.cfg.MaxVelocity)
	return stepped, stepDt
}

func (p *Pedometer) decayVelocity() {
	p.velocity *= p.cfg.VelocityDecay
	if p.velocity <= p.cfg.MinVelocity*1.01 {
		p.isWalking = false
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Velocity returns the current clamped instantaneous walking speed (m/s).
func (p *Pedometer) Velocity() float64 { return p.velocity }

// IsWalking reports whether the most recent samples indicate the
// device is being carried by a walking user.
func (p *Pedometer) IsWalking() bool { return p.isWalking }
