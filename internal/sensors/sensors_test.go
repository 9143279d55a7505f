package sensors

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrientationMeterNotInitializedUntilFirstSample(t *testing.T) {
	t.Parallel()
	m := NewOrientationMeter(0.1, 0)
	assert.False(t, m.IsInitialized())
	m.Put(Attitude{Yaw: 0.5, Timestamp: 0})
	assert.True(t, m.IsInitialized())
	assert.InDelta(t, 0.5, m.Yaw(), 1e-9)
}

func TestOrientationMeterSmoothsTowardNewYaw(t *testing.T) {
	t.Parallel()
	m := NewOrientationMeter(0.1, 0)
	m.Put(Attitude{Yaw: 0, Timestamp: 0})
	m.Put(Attitude{Yaw: 1.0, Timestamp: 100})
	// After 100ms with a 100ms time constant, yaw should have moved
	// partway toward 1.0 but not reached it.
	assert.Greater(t, m.Yaw(), 0.0)
	assert.Less(t, m.Yaw(), 1.0)
}

func TestOrientationMeterRespectsMinInterval(t *testing.T) {
	t.Parallel()
	m := NewOrientationMeter(0.1, 1.0)
	require.True(t, m.Put(Attitude{Yaw: 0, Timestamp: 0}))
	assert.False(t, m.Put(Attitude{Yaw: 1.0, Timestamp: 10}))
	assert.InDelta(t, 0, m.Yaw(), 1e-9)
}

func TestPedometerVelocityClampedAndWalkingDetected(t *testing.T) {
	t.Parallel()
	cfg := DefaultPedometerConfig()
	p := NewPedometer(cfg)

	ts := int64(0)
	var lastStepped bool
	for i := 0; i < 30; i++ {
		z := 9.8 + 2.0*math.Sin(float64(i))
		stepped, _ := p.Put(Acceleration{Z: z, Timestamp: ts})
		lastStepped = lastStepped || stepped
		ts += 100
	}
	assert.True(t, lastStepped)
	assert.GreaterOrEqual(t, p.Velocity(), cfg.MinVelocity)
	assert.LessOrEqual(t, p.Velocity(), cfg.MaxVelocity)
}

func TestPedometerRestingStaysAtMinVelocity(t *testing.T) {
	t.Parallel()
	cfg := DefaultPedometerConfig()
	p := NewPedometer(cfg)
	ts := int64(0)
	for i := 0; i < 20; i++ {
		p.Put(Acceleration{Z: 9.8, Timestamp: ts})
		ts += 100
	}
	assert.False(t, p.IsWalking())
	assert.Equal(t, cfg.MinVelocity, p.Velocity())
}
