package obsmodel

import (
	"math"
	"testing"

	"github.com/banshee-data/bleloc/internal/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrainBeaconFitsLDPLTrend(t *testing.T) {
	t.Parallel()

	beaconLoc := geo.Location{X: 0, Y: 0, Z: 0, Floor: 1}
	cfg := DefaultTrainConfig()

	trueTheta := Theta{Theta0: -40, Theta1: 2.0, Theta2: 0, Theta3: 0}
	samples := make([]SurveySample, 0)
	for _, d := range []float64{2, 4, 6, 8, 10, 12, 14, 16} {
		loc := geo.Location{X: d, Y: 0, Z: 0, Floor: 1}
		rssi := trueTheta.Theta0 - 10*trueTheta.Theta1*math.Log10(d)
		samples = append(samples, SurveySample{Location: loc, RSSI: rssi})
	}

	m, err := TrainBeacon(samples, beaconLoc, cfg)
	require.NoError(t, err)
	assert.InDelta(t, trueTheta.Theta0, m.Theta.Theta0, 1.0)
	assert.InDelta(t, trueTheta.Theta1, m.Theta.Theta1, 0.5)
	assert.Less(t, m.Sigma, 2.0)
}

func TestTrainBeaconRequiresMinimumSamples(t *testing.T) {
	t.Parallel()
	_, err := TrainBeacon(nil, geo.Location{}, DefaultTrainConfig())
	require.Error(t, err)
	var trainErr *TrainingError
	assert.ErrorAs(t, err, &trainErr)
}

func TestTrainFitsEveryKnownBeaconAndBuildsGlobalFallback(t *testing.T) {
	t.Parallel()
	cfg := DefaultTrainConfig()

	makeSamples := func(beaconLoc geo.Location, theta Theta) []SurveySample {
		out := make([]SurveySample, 0, 8)
		for _, d := range []float64{2, 4, 6, 8, 10, 12, 14, 16} {
			loc := geo.Location{X: beaconLoc.X + d, Y: beaconLoc.Y, Floor: beaconLoc.Floor}
			rssi := theta.Theta0 - 10*theta.Theta1*math.Log10(d)
			out = append(out, SurveySample{Location: loc, RSSI: rssi})
		}
		return out
	}

	idA, idB := uint32(1), uint32(2)
	beaconLoc := map[uint32]geo.Location{
		idA: {X: 0, Y: 0, Floor: 1},
		idB: {X: 20, Y: 0, Floor: 1},
	}
	samples := map[uint32][]SurveySample{
		idA: makeSamples(beaconLoc[idA], Theta{Theta0: -40, Theta1: 2.0}),
		idB: makeSamples(beaconLoc[idB], Theta{Theta0: -45, Theta1: 2.2}),
	}

	params, err := Train(samples, beaconLoc, cfg)
	require.NoError(t, err)
	require.Contains(t, params.PerBeacon, idA)
	require.Contains(t, params.PerBeacon, idB)
	require.NotNil(t, params.Global)
}

func TestTrainSkipsBeaconsWithoutKnownLocation(t *testing.T) {
	t.Parallel()
	samples := map[uint32][]SurveySample{
		99: {{Location: geo.Location{}, RSSI: -50}},
	}
	_, err := Train(samples, map[uint32]geo.Location{}, DefaultTrainConfig())
	require.Error(t, err)
}
