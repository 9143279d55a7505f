// Package geo holds the pose/state value types shared by every stage of
// the positioning pipeline: the building map, the motion model, the
// observation model, and the particle filter core.
package geo

import "math"

// Location is a point in the building-local Cartesian frame. Floor is
// carried as a real number so Gaussian jitter during resets and bias
// diffusion stays well-defined; callers round it to an int for map
// lookups via FloorIndex.
type Location struct {
	X, Y, Z float64
	Floor   float64
}

// FloorIndex rounds Floor to the nearest integer floor for map lookup.
func (l Location) FloorIndex() int {
	return int(math.Round(l.Floor))
}

// Distance2D returns the horizontal Euclidean distance to other.
func (l Location) Distance2D(other Location) float64 {
	dx := l.X - other.X
	dy := l.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Distance3D returns the full 3D Euclidean distance to other.
func (l Location) Distance3D(other Location) float64 {
	dx := l.X - other.X
	dy := l.Y - other.Y
	dz := l.Z - other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Pose is a Location plus heading and pedestrian motion state.
type Pose struct {
	Location
	Orientation    float64 // radians
	Velocity       float64 // m/s, instantaneous walking speed
	NormalVelocity float64 // m/s, component normal to Orientation (lateral drift)
}

// State is a Pose plus the two slowly-drifting latent bias terms.
type State struct {
	Pose
	RSSIBias        float64
	OrientationBias float64
}

// Particle is one hypothesis in the posterior cloud: a State and a
// non-negative weight.
type Particle struct {
	State  State
	Weight float64
}

// ClampBias clamps v into [min, max]. Used to enforce the RSSIBias and
// OrientationBias invariants after every diffusion step.
func ClampBias(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ClampVelocity clamps v into [min, max], as required of every
// particle's Pose.Velocity (spec invariant 2).
func ClampVelocity(v, min, max float64) float64 {
	return ClampBias(v, min, max)
}

// WrapAngle normalizes an angle in radians to (-pi, pi].
func WrapAngle(rad float64) float64 {
	for rad > math.Pi {
		rad -= 2 * math.Pi
	}
	for rad <= -math.Pi {
		rad += 2 * math.Pi
	}
	return rad
}

// MeanLocation returns the weight-normalized mean location of particles.
// Weights need not sum to 1; they are normalized internally. Returns the
// zero Location if particles is empty or all weights are zero.
func MeanLocation(particles []Particle) Location {
	var sumW, x, y, z, floor float64
	for _, p := range particles {
		w := p.Weight
		sumW += w
		x += w * p.State.X
		y += w * p.State.Y
		z += w * p.State.Z
		floor += w * p.State.Floor
	}
	if sumW <= 0 {
		return Location{}
	}
	return Location{X: x / sumW, Y: y / sumW, Z: z / sumW, Floor: floor / sumW}
}

// MeanPose returns the weight-normalized mean pose of particles: the
// mean location (per MeanLocation), the weighted circular mean of
// orientation, and the weighted mean velocity. Returns the zero Pose
// (at MeanLocation's zero value) if particles is empty or all weights
// are zero.
func MeanPose(particles []Particle) Pose {
	loc := MeanLocation(particles)

	var sumW, sinSum, cosSum, vel float64
	for _, p := range particles {
		w := p.Weight
		sumW += w
		sinSum += w * math.Sin(p.State.Orientation)
		cosSum += w * math.Cos(p.State.Orientation)
		vel += w * p.State.Velocity
	}
	if sumW <= 0 {
		return Pose{Location: loc}
	}
	return Pose{
		Location:    loc,
		Orientation: math.Atan2(sinSum/sumW, cosSum/sumW),
		Velocity:    vel / sumW,
	}
}

// StdevLocation returns the weight-normalized per-axis standard
// deviation of particle locations around mean.
func StdevLocation(particles []Particle, mean Location) Location {
	var sumW, vx, vy, vz, vf float64
	for _, p := range particles {
		w := p.Weight
		sumW += w
		dx := p.State.X - mean.X
		dy := p.State.Y - mean.Y
		dz := p.State.Z - mean.Z
		df := p.State.Floor - mean.Floor
		vx += w * dx * dx
		vy += w * dy * dy
		vz += w * dz * dz
		vf += w * df * df
	}
	if sumW <= 0 {
		return Location{}
	}
	return Location{
		X:     math.Sqrt(vx / sumW),
		Y:     math.Sqrt(vy / sumW),
		Z:     math.Sqrt(vz / sumW),
		Floor: math.Sqrt(vf / sumW),
	}
}
