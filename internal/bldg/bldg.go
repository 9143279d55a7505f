// Package bldg implements the building map (C1): a per-floor
// rasterized walkability grid with cell-type and entry-cost channels,
// and the affine image-to-world transform used to address it.
//
// This is grounded on the grid+affine-origin shape of the occupancy
// map in _examples/other_examples's itohio-EasyRobot SLAM filter
// (mapGrid + mapResolution/mapOriginX/mapOriginY), generalized to a
// multi-floor, multi-channel raster per spec.md §3/§4.1.
package bldg

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/banshee-data/bleloc/internal/geo"
)

// CellType classifies a raster cell's traversal semantics.
type CellType uint8

const (
	CellNonWalkable CellType = iota
	CellNormal
	CellStair
	CellElevator
	CellEscalator
)

// Transform is the affine image-to-world mapping for one floor's
// raster, taken from the model bundle's layer `param` block.
type Transform struct {
	PPMX, PPMY       float64 // pixels per meter, X and Y
	OriginX, OriginY float64
}

// Floor is one level's rasterized map: parallel walkable/type/cost
// channels plus the transform used to address them from world
// coordinates.
type Floor struct {
	Index     int
	Rows      int
	Cols      int
	Walkable  []bool     // row-major, len == Rows*Cols
	Types     []CellType // row-major
	Cost      []float64  // row-major, entry cost
	Transform Transform
}

func (f *Floor) idx(row, col int) (int, bool) {
	if row < 0 || row >= f.Rows || col < 0 || col >= f.Cols {
		return 0, false
	}
	return row*f.Cols + col, true
}

// WorldToCell converts a world-frame (x, y) to a (row, col) raster
// address on this floor.
func (f *Floor) WorldToCell(x, y float64) (row, col int) {
	col = int((x - f.Transform.OriginX) * f.Transform.PPMX)
	row = int((y - f.Transform.OriginY) * f.Transform.PPMY)
	return row, col
}

// CellToWorld converts a (row, col) raster address back to the
// world-frame origin corner of that cell (its smallest x and y), not
// its center.
func (f *Floor) CellToWorld(row, col int) (x, y float64) {
	x = float64(col)/f.Transform.PPMX + f.Transform.OriginX
	y = float64(row)/f.Transform.PPMY + f.Transform.OriginY
	return x, y
}

// IsWalkableCell reports whether (row, col) is in-bounds and walkable.
func (f *Floor) IsWalkableCell(row, col int) bool {
	i, ok := f.idx(row, col)
	if !ok {
		return false
	}
	return f.Walkable[i]
}

// TypeAt returns the cell type at (row, col), or CellNonWalkable when
// out of bounds.
func (f *Floor) TypeAt(row, col int) CellType {
	i, ok := f.idx(row, col)
	if !ok {
		return CellNonWalkable
	}
	return f.Types[i]
}

// CostAt returns the entry cost at (row, col), or +Inf when out of
// bounds or non-walkable.
func (f *Floor) CostAt(row, col int) float64 {
	i, ok := f.idx(row, col)
	if !ok || !f.Walkable[i] {
		return math.Inf(1)
	}
	return f.Cost[i]
}

// Map owns every floor of the building, keyed by floor index.
type Map struct {
	Floors map[int]*Floor
}

// NewMap returns an empty Map ready to have floors added.
func NewMap() *Map {
	return &Map{Floors: make(map[int]*Floor)}
}

// AddFloor registers a decoded floor raster.
func (m *Map) AddFloor(f *Floor) {
	m.Floors[f.Index] = f
}

// Floor returns the raster for the given floor index, or nil if unknown.
func (m *Map) Floor(index int) *Floor {
	return m.Floors[index]
}

// IsWalkable reports whether the world-frame location (x, y) is
// walkable on the given floor. Unknown floors are never walkable.
func (m *Map) IsWalkable(floorIndex int, x, y float64) bool {
	f := m.Floor(floorIndex)
	if f == nil {
		return false
	}
	row, col := f.WorldToCell(x, y)
	return f.IsWalkableCell(row, col)
}

// CellType returns the type of the cell at the world-frame location on
// the given floor.
func (m *Map) CellType(floorIndex int, x, y float64) CellType {
	f := m.Floor(floorIndex)
	if f == nil {
		return CellNonWalkable
	}
	row, col := f.WorldToCell(x, y)
	return f.TypeAt(row, col)
}

// Cost returns the entry cost of the cell at the world-frame location.
func (m *Map) Cost(floorIndex int, x, y float64) float64 {
	f := m.Floor(floorIndex)
	if f == nil {
		return math.Inf(1)
	}
	row, col := f.WorldToCell(x, y)
	return f.CostAt(row, col)
}

// RandomWalkableLocation draws a uniformly-random walkable cell on the
// given floor and returns its world-frame origin corner (see
// CellToWorld). Used by the status
// initializer (C7) to seed particles over walkable area.
func (m *Map) RandomWalkableLocation(floorIndex int, rng *rand.Rand) (geo.Location, error) {
	f := m.Floor(floorIndex)
	if f == nil {
		return geo.Location{}, fmt.Errorf("bldg: unknown floor %d", floorIndex)
	}
	walkableIdx := make([]int, 0, len(f.Walkable))
	for i, w := range f.Walkable {
		if w {
			walkableIdx = append(walkableIdx, i)
		}
	}
	if len(walkableIdx) == 0 {
		return geo.Location{}, fmt.Errorf("bldg: floor %d has no walkable cells", floorIndex)
	}
	i := walkableIdx[rng.IntN(len(walkableIdx))]
	row, col := i/f.Cols, i%f.Cols
	x, y := f.CellToWorld(row, col)
	return geo.Location{X: x, Y: y, Z: 0, Floor: float64(floorIndex)}, nil
}
