package beacon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterDropsSentinelsAndKeepsStrongestK(t *testing.T) {
	t.Parallel()

	f := NewFilter(2)
	scan := Scan{
		Beacons: []Beacon{
			{Major: 1, Minor: 1, RSSI: 0}, // sentinel, dropped
			{Major: 1, Minor: 2, RSSI: -80},
			{Major: 1, Minor: 3, RSSI: -50},
			{Major: 1, Minor: 4, RSSI: -65},
		},
		Timestamp: 100,
	}

	got := f.Apply(scan)
	require.Len(t, got.Beacons, 2)
	assert.Equal(t, -50.0, got.Beacons[0].RSSI)
	assert.Equal(t, -65.0, got.Beacons[1].RSSI)
	assert.Equal(t, int64(100), got.Timestamp)
}

func TestFilterEmptyWhenAllSentinel(t *testing.T) {
	t.Parallel()
	f := NewFilter(10)
	got := f.Apply(Scan{Beacons: []Beacon{{Major: 1, Minor: 1, RSSI: 0}}})
	assert.Empty(t, got.Beacons)
}

func TestRSSIRingAveragesNonSentinelOccurrences(t *testing.T) {
	t.Parallel()

	ring := NewRSSIRing(3)
	ring.Push(Scan{Beacons: []Beacon{{Major: 1, Minor: 1, RSSI: -60}}, Timestamp: 1})
	ring.Push(Scan{Beacons: []Beacon{{Major: 1, Minor: 1, RSSI: -70}, {Major: 1, Minor: 2, RSSI: -40}}, Timestamp: 2})
	got := ring.Push(Scan{Beacons: []Beacon{{Major: 1, Minor: 1, RSSI: 0}}, Timestamp: 3})

	byID := map[uint32]Beacon{}
	for _, b := range got.Beacons {
		byID[b.ID()] = b
	}
	require.Contains(t, byID, Beacon{Major: 1, Minor: 1}.ID())
	assert.InDelta(t, -65.0, byID[Beacon{Major: 1, Minor: 1}.ID()].RSSI, 1e-9)
	assert.InDelta(t, -40.0, byID[Beacon{Major: 1, Minor: 2}.ID()].RSSI, 1e-9)
}

func TestRSSIRingCapsAt10(t *testing.T) {
	t.Parallel()
	ring := NewRSSIRing(50)
	assert.Equal(t, 10, ring.capacity)
}
