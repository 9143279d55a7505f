package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloorIndexRounds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		floor float64
		want  int
	}{
		{1.0, 1},
		{1.4, 1},
		{1.6, 2},
		{-0.4, 0},
	}
	for _, c := range cases {
		loc := Location{Floor: c.floor}
		assert.Equal(t, c.want, loc.FloorIndex())
	}
}

func TestMeanAndStdevLocation(t *testing.T) {
	t.Parallel()

	particles := []Particle{
		{State: State{Pose: Pose{Location: Location{X: 0, Y: 0, Floor: 1}}}, Weight: 0.5},
		{State: State{Pose: Pose{Location: Location{X: 2, Y: 0, Floor: 1}}}, Weight: 0.5},
	}
	mean := MeanLocation(particles)
	require.InDelta(t, 1.0, mean.X, 1e-9)
	require.InDelta(t, 0.0, mean.Y, 1e-9)

	stdev := StdevLocation(particles, mean)
	assert.InDelta(t, 1.0, stdev.X, 1e-9)
}

func TestMeanLocationEmptyIsZero(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Location{}, MeanLocation(nil))
}

func TestClampHelpers(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.1, ClampVelocity(-1, 0.1, 1.5))
	assert.Equal(t, 1.5, ClampVelocity(5, 0.1, 1.5))
	assert.Equal(t, 0.5, ClampVelocity(0.5, 0.1, 1.5))
}

func TestWrapAngle(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 0.0, WrapAngle(0), 1e-9)
	assert.InDelta(t, 3.14159, WrapAngle(3.14159+2*3.14159265), 1e-3)
}
