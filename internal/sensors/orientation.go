// Package sensors implements the orientation meter (C2) and pedometer
// (C3): low-pass yaw smoothing and step/walking-speed detection from
// the raw attitude and acceleration streams. Grounded on the parameter
// names of original_source/ble-cpp's OrientationMeterAverage and
// PedometerWalkingState (referenced from BasicLocalizer.hpp), and on
// the running-mean/variance idiom the teacher uses for its own
// background-noise thresholds.
package sensors

import (
	"math"

	"github.com/banshee-data/bleloc/internal/geo"
)

// Attitude is one pitch/roll/yaw sample (radians) with a monotonic
// millisecond timestamp.
type Attitude struct {
	Pitch, Roll, Yaw float64
	Timestamp        int64
}

// OrientationMeter exponentially smooths yaw with a configurable time
// constant, updating at most once per Interval seconds (spec.md §4.2).
type OrientationMeter struct {
	WindowAveraging float64 // seconds, EWMA time constant
	Interval        float64 // seconds, minimum update spacing

	initialized bool
	yaw         float64
	lastUpdate  int64 // ms
}

// NewOrientationMeter returns a meter with spec.md's documented
// defaults (windowAveraging 0.1s); pass 0 for interval to update on
// every sample.
func NewOrientationMeter(windowAveraging, interval float64) *OrientationMeter {
	if windowAveraging <= 0 {
		windowAveraging = 0.1
	}
	return &OrientationMeter{WindowAveraging: windowAveraging, Interval: interval}
}

// Put processes one attitude sample. Returns false if the sample was
// dropped because it arrived before Interval seconds have elapsed
// since the last update.
func (m *OrientationMeter) Put(a Attitude) bool {
	if m.initialized && m.Interval > 0 {
		dt := float64(a.Timestamp-m.lastUpdate) / 1000.0
		if dt < m.Interval {
			return false
		}
	}
	if !m.initialized {
		m.yaw = a.Yaw
		m.initialized = true
		m.lastUpdate = a.Timestamp
		return true
	}
	dt := float64(a.Timestamp-m.lastUpdate) / 1000.0
	if dt < 0 {
		dt = 0
	}
	alpha := 1 - math.Exp(-dt/m.WindowAveraging)
	// Smooth through the shortest angular path so wraparound near ±π
	// doesn't cause the EWMA to swing the long way around.
	delta := geo.WrapAngle(a.Yaw - m.yaw)
	m.yaw = geo.WrapAngle(m.yaw + alpha*delta)
	m.lastUpdate = a.Timestamp
	return true
}

// Yaw returns the current smoothed yaw in radians.
func (m *OrientationMeter) Yaw() float64 { return m.yaw }

// IsInitialized reports whether at least one attitude sample has been
// processed; the filter must not advance particles using orientation
// before this is true (spec.md §4.2).
func (m *OrientationMeter) IsInitialized() bool { return m.initialized }
