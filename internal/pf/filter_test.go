package pf

import (
	"math/rand/v2"
	"testing"

	"github.com/banshee-data/bleloc/internal/beacon"
	"github.com/banshee-data/bleloc/internal/bldg"
	"github.com/banshee-data/bleloc/internal/geo"
	"github.com/banshee-data/bleloc/internal/motion"
	"github.com/banshee-data/bleloc/internal/obsmodel"
	"github.com/banshee-data/bleloc/internal/sensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRNG() *rand.Rand {
	return rand.New(rand.NewPCG(42, 7))
}

func openFloorMap(index int) *bldg.Map {
	rows, cols := 40, 40
	walkable := make([]bool, rows*cols)
	types := make([]bldg.CellType, rows*cols)
	cost := make([]float64, rows*cols)
	for i := range walkable {
		walkable[i] = true
		types[i] = bldg.CellNormal
		cost[i] = 1
	}
	m := bldg.NewMap()
	m.AddFloor(&bldg.Floor{
		Index:     index,
		Rows:      rows,
		Cols:      cols,
		Walkable:  walkable,
		Types:     types,
		Cost:      cost,
		Transform: bldg.Transform{PPMX: 1, PPMY: 1, OriginX: -20, OriginY: -20},
	})
	return m
}

func testModel() *obsmodel.Parameters {
	p := obsmodel.DefaultParameters()
	id := beacon.Beacon{Major: 1, Minor: 1}.ID()
	p.PerBeacon[id] = &obsmodel.PerBeaconModel{
		Theta: obsmodel.Theta{Theta0: -40, Theta1: 2.0},
		Sigma: 4.0,
	}
	return &p
}

func newTestFilter(t *testing.T) (*Filter, map[uint32]geo.Location) {
	t.Helper()
	building := openFloorMap(0)
	known := map[uint32]geo.Location{
		beacon.Beacon{Major: 1, Minor: 1}.ID(): {X: 5, Y: 5, Floor: 0},
	}
	cfg := DefaultConfig()
	cfg.NumParticles = 200
	f := New(cfg, motion.RandomWalkAccAtt{Config: motion.DefaultConfig()}, testModel(), building, known, newRNG())
	return f, known
}

func TestResetStatusAroundProducesNormalizedWeights(t *testing.T) {
	t.Parallel()
	f, _ := newTestFilter(t)
	err := f.ResetStatusAround(geo.Pose{Location: geo.Location{X: 1, Y: 2, Floor: 0}}, PoseStdev{X: 1, Y: 1, Floor: 0.01, Orientation: 0.1})
	require.NoError(t, err)

	status := f.Status()
	assert.Equal(t, 200, status.NumParticles)
	assert.InDelta(t, 200.0, status.EffectiveSampleSize, 1e-6)
}

func TestPutBeaconsNormalizesWeights(t *testing.T) {
	t.Parallel()
	f, _ := newTestFilter(t)
	require.NoError(t, f.ResetStatusAround(geo.Pose{Location: geo.Location{X: 5, Y: 5, Floor: 0}}, PoseStdev{X: 2, Y: 2, Floor: 0.01, Orientation: 0.5}))

	scan := beacon.Scan{Beacons: []beacon.Beacon{{Major: 1, Minor: 1, RSSI: -40}}, Timestamp: 1000}
	err := f.PutBeacons(scan)
	require.NoError(t, err)

	var sumW float64
	f.mu.Lock()
	for _, p := range f.particles {
		sumW += p.Weight
		assert.GreaterOrEqual(t, p.Weight, 0.0)
	}
	f.mu.Unlock()
	assert.InDelta(t, 1.0, sumW, 1e-9)
}

func TestPutBeaconsRejectsEmptyScanAfterFiltering(t *testing.T) {
	t.Parallel()
	f, _ := newTestFilter(t)
	require.NoError(t, f.ResetStatusAround(geo.Pose{Location: geo.Location{X: 0, Y: 0, Floor: 0}}, PoseStdev{X: 1, Y: 1, Floor: 0.01, Orientation: 0.1}))

	scan := beacon.Scan{Beacons: []beacon.Beacon{{Major: 1, Minor: 1, RSSI: beacon.SentinelRSSI}}, Timestamp: 1}
	err := f.PutBeacons(scan)
	var emptyErr *EmptyScanError
	assert.ErrorAs(t, err, &emptyErr)
}

func TestPutBeaconsDropsOutOfOrderScans(t *testing.T) {
	t.Parallel()
	f, _ := newTestFilter(t)
	require.NoError(t, f.ResetStatusAround(geo.Pose{Location: geo.Location{X: 5, Y: 5, Floor: 0}}, PoseStdev{X: 1, Y: 1, Floor: 0.01, Orientation: 0.1}))

	require.NoError(t, f.PutBeacons(beacon.Scan{Beacons: []beacon.Beacon{{Major: 1, Minor: 1, RSSI: -40}}, Timestamp: 100}))
	before := f.Status()

	err := f.PutBeacons(beacon.Scan{Beacons: []beacon.Beacon{{Major: 1, Minor: 1, RSSI: -90}}, Timestamp: 50})
	require.NoError(t, err)
	after := f.Status()
	assert.Equal(t, before.Mean, after.Mean)
}

func TestEffectiveSampleSizeBounds(t *testing.T) {
	t.Parallel()
	particles := []geo.Particle{
		{Weight: 0.5},
		{Weight: 0.3},
		{Weight: 0.2},
	}
	ess := effectiveSampleSize(particles)
	assert.GreaterOrEqual(t, ess, 1.0)
	assert.LessOrEqual(t, ess, float64(len(particles)))
}

func TestEffectiveSampleSizeEmptyIsZero(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.0, effectiveSampleSize(nil))
}

func TestPutAccelerationAdvancesParticlesOnStep(t *testing.T) {
	t.Parallel()
	f, _ := newTestFilter(t)
	require.NoError(t, f.ResetStatusAround(geo.Pose{Location: geo.Location{X: 10, Y: 10, Floor: 0}}, PoseStdev{X: 0.01, Y: 0.01, Floor: 0.001, Orientation: 0.001}))
	f.PutAttitude(sensors.Attitude{Yaw: 0, Timestamp: 0})

	before := f.Status().Mean

	ts := int64(0)
	for i := 0; i < 30; i++ {
		ts += 100
		f.PutAcceleration(sensors.Acceleration{X: 0, Y: 0, Z: 10 + 2*float64(i%2), Timestamp: ts})
	}

	after := f.Status().Mean
	// Every step after the first sample advances the cloud along yaw 0
	// (+x) without changing the cloud size.
	assert.Greater(t, after.X, before.X)
	assert.Equal(t, 200, f.Status().NumParticles)
}

func TestPutBeaconsSkipsUpdateWhileStopped(t *testing.T) {
	t.Parallel()
	f, _ := newTestFilter(t)
	require.NoError(t, f.ResetStatusAround(geo.Pose{Location: geo.Location{X: 5, Y: 5, Floor: 0}}, PoseStdev{X: 2, Y: 2, Floor: 0.01, Orientation: 0.5}))

	// Feed enough stationary acceleration samples to push stoppedStreak
	// past the default skip threshold without ever registering a step.
	ts := int64(0)
	for i := 0; i < 5; i++ {
		ts += 100
		f.PutAcceleration(sensors.Acceleration{X: 0, Y: 0, Z: 9.8, Timestamp: ts})
	}
	require.GreaterOrEqual(t, f.stoppedStreak, f.cfg.StoppingUpdateSkipStreak)

	before := f.Status().Mean
	scan := beacon.Scan{Beacons: []beacon.Beacon{{Major: 1, Minor: 1, RSSI: -90}}, Timestamp: ts + 100}
	require.NoError(t, f.PutBeacons(scan))
	after := f.Status().Mean

	// Weights were never reweighted against the (very unlikely) scan,
	// so the mean must be unchanged (resampling uniform weights is a
	// no-op in expectation).
	assert.InDelta(t, before.X, after.X, 1e-9)
	assert.InDelta(t, before.Y, after.Y, 1e-9)
}

func TestPutBeaconsUpdatesWhenDoesUpdateWhenStoppingSet(t *testing.T) {
	t.Parallel()
	building := openFloorMap(0)
	known := map[uint32]geo.Location{
		beacon.Beacon{Major: 1, Minor: 1}.ID(): {X: 5, Y: 5, Floor: 0},
	}
	cfg := DefaultConfig()
	cfg.NumParticles = 200
	cfg.DoesUpdateWhenStopping = true
	f := New(cfg, motion.RandomWalkAccAtt{Config: motion.DefaultConfig()}, testModel(), building, known, newRNG())
	require.NoError(t, f.ResetStatusAround(geo.Pose{Location: geo.Location{X: 5, Y: 5, Floor: 0}}, PoseStdev{X: 2, Y: 2, Floor: 0.01, Orientation: 0.5}))

	ts := int64(0)
	for i := 0; i < 5; i++ {
		ts += 100
		f.PutAcceleration(sensors.Acceleration{X: 0, Y: 0, Z: 9.8, Timestamp: ts})
	}
	require.GreaterOrEqual(t, f.stoppedStreak, f.cfg.StoppingUpdateSkipStreak)

	scan := beacon.Scan{Beacons: []beacon.Beacon{{Major: 1, Minor: 1, RSSI: -40}}, Timestamp: ts + 100}
	require.NoError(t, f.PutBeacons(scan))

	var sumW float64
	f.mu.Lock()
	for _, p := range f.particles {
		sumW += p.Weight
	}
	f.mu.Unlock()
	assert.InDelta(t, 1.0, sumW, 1e-9)
}

// floorLevel returns an all-walkable, all-normal-cell floor raster at
// the given index, for building a multi-floor map out of
// openFloorMap's single-floor shape.
func floorLevel(index int) *bldg.Floor {
	rows, cols := 40, 40
	walkable := make([]bool, rows*cols)
	types := make([]bldg.CellType, rows*cols)
	cost := make([]float64, rows*cols)
	for i := range walkable {
		walkable[i] = true
		types[i] = bldg.CellNormal
		cost[i] = 1
	}
	return &bldg.Floor{
		Index:     index,
		Rows:      rows,
		Cols:      cols,
		Walkable:  walkable,
		Types:     types,
		Cost:      cost,
		Transform: bldg.Transform{PPMX: 1, PPMY: 1, OriginX: -20, OriginY: -20},
	}
}

// TestFloorMonitorFlipsAfterDwellOnStrongFloorEvidence exercises
// spec.md §8 scenario 4: a scan that strongly favors floor 1 must
// flip the reported floor exactly once, only after the dominant-floor
// fraction has held for FloorVoteDwellUpdates consecutive updates, and
// must not oscillate back under further replay of the same evidence.
func TestFloorMonitorFlipsAfterDwellOnStrongFloorEvidence(t *testing.T) {
	t.Parallel()
	building := bldg.NewMap()
	building.AddFloor(floorLevel(0))
	building.AddFloor(floorLevel(1))

	knownID := beacon.Beacon{Major: 10, Minor: 1}.ID()
	known := map[uint32]geo.Location{knownID: {X: 5, Y: 5, Floor: 1}}

	// Theta2 penalizes each floor of difference to the beacon; it is
	// what gives the scan its floor-1 evidence.
	model := obsmodel.DefaultParameters()
	model.PerBeacon[knownID] = &obsmodel.PerBeaconModel{
		Theta: obsmodel.Theta{Theta0: -40, Theta1: 2.0, Theta2: 10},
		Sigma: 4.0,
	}

	cfg := DefaultConfig()
	cfg.NumParticles = 200
	f := New(cfg, motion.RandomWalkAccAtt{Config: motion.DefaultConfig()}, &model, building, known, newRNG())

	require.NoError(t, f.ResetStatusAround(geo.Pose{Location: geo.Location{X: 5, Y: 5, Floor: 0}}, PoseStdev{X: 0.01, Y: 0.01, Floor: 0.001, Orientation: 0.01}))
	require.Equal(t, 0, f.Status().ReportedFloor)

	// Split the cloud evenly across floor 0 and floor 1 at the same
	// (x, y) as the known beacon, so the observation update alone (no
	// motion) decides which floor dominates.
	f.mu.Lock()
	for i := range f.particles {
		if i%2 == 0 {
			f.particles[i].State.Location.Floor = 1
		} else {
			f.particles[i].State.Location.Floor = 0
		}
		f.particles[i].Weight = 1.0 / float64(len(f.particles))
	}
	f.mu.Unlock()

	scan := beacon.Scan{Beacons: []beacon.Beacon{{Major: 10, Minor: 1, RSSI: -43}}, Timestamp: 1000}

	flipped := false
	for i := 0; i < cfg.FloorVoteDwellUpdates+2; i++ {
		scan.Timestamp += 1000
		require.NoError(t, f.PutBeacons(scan))
		if f.Status().ReportedFloor == 1 {
			flipped = true
			break
		}
	}
	assert.True(t, flipped, "reported floor should flip to 1 once floor 1 dominates for the configured dwell")

	for i := 0; i < 10; i++ {
		scan.Timestamp += 1000
		require.NoError(t, f.PutBeacons(scan))
		assert.Equal(t, 1, f.Status().ReportedFloor, "reported floor must not oscillate back under continued replay")
	}
}

func TestSortByWeightAscending(t *testing.T) {
	t.Parallel()
	particles := []geo.Particle{{Weight: 0.5}, {Weight: 0.1}, {Weight: 0.3}}
	order := []int{0, 1, 2}
	sortByWeightAscending(order, particles)
	require.Len(t, order, 3)
	assert.Equal(t, 1, order[0])
	assert.Equal(t, 2, order[1])
	assert.Equal(t, 0, order[2])
}
