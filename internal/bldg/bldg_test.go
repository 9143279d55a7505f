package bldg

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallFloor() *Floor {
	// 3x3 grid, center cell walkable + normal, rest non-walkable.
	walkable := make([]bool, 9)
	types := make([]CellType, 9)
	cost := make([]float64, 9)
	walkable[4] = true
	types[4] = CellNormal
	cost[4] = 1.0
	return &Floor{
		Index:     1,
		Rows:      3,
		Cols:      3,
		Walkable:  walkable,
		Types:     types,
		Cost:      cost,
		Transform: Transform{PPMX: 1, PPMY: 1, OriginX: 0, OriginY: 0},
	}
}

func TestWorldToCellRoundTrip(t *testing.T) {
	t.Parallel()
	f := smallFloor()
	row, col := f.WorldToCell(1, 1)
	assert.Equal(t, 1, row)
	assert.Equal(t, 1, col)
	x, y := f.CellToWorld(row, col)
	assert.InDelta(t, 1.0, x, 1e-9)
	assert.InDelta(t, 1.0, y, 1e-9)
}

func TestIsWalkableOutOfBounds(t *testing.T) {
	t.Parallel()
	f := smallFloor()
	assert.False(t, f.IsWalkableCell(-1, 0))
	assert.False(t, f.IsWalkableCell(10, 10))
	assert.True(t, f.IsWalkableCell(1, 1))
}

func TestMapIsWalkableUnknownFloor(t *testing.T) {
	t.Parallel()
	m := NewMap()
	m.AddFloor(smallFloor())
	assert.False(t, m.IsWalkable(99, 0, 0))
	assert.True(t, m.IsWalkable(1, 1, 1))
}

func TestRandomWalkableLocationOnlyReturnsWalkableCells(t *testing.T) {
	t.Parallel()
	m := NewMap()
	m.AddFloor(smallFloor())
	rng := rand.New(rand.NewPCG(1, 2))
	loc, err := m.RandomWalkableLocation(1, rng)
	require.NoError(t, err)
	assert.True(t, m.IsWalkable(1, loc.X, loc.Y))
}

func TestRandomWalkableLocationErrorsOnEmptyFloor(t *testing.T) {
	t.Parallel()
	m := NewMap()
	empty := smallFloor()
	empty.Walkable = make([]bool, 9)
	m.AddFloor(empty)
	rng := rand.New(rand.NewPCG(1, 2))
	_, err := m.RandomWalkableLocation(1, rng)
	assert.Error(t, err)
}
