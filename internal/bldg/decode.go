package bldg

import (
	"bytes"
	"fmt"
	"image"
	_ "image/png"
)

// LayerParam is the per-floor geometry header from the model bundle's
// `layers[].param` block (spec.md §6).
type LayerParam struct {
	PPMX, PPMY, PPMZ          float64
	OriginX, OriginY, OriginZ float64
	Floor                     int
}

// DecodeFloorPNG decodes one floor's walkability raster from a PNG
// image whose channels carry (per spec.md §3): red = walkable,
// green = floor-type code, blue = cost (0-255, linearly rescaled to
// [0, costScale]).
//
// Decoding a bundle's in-memory PNG is a stdlib concern: no library in
// the retrieval pack offers a better fit than image/png for this (see
// DESIGN.md).
func DecodeFloorPNG(data []byte, param LayerParam, costScale float64) (*Floor, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("bldg: decode floor raster: %w", err)
	}
	bounds := img.Bounds()
	rows := bounds.Dy()
	cols := bounds.Dx()
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("bldg: empty floor raster")
	}

	walkable := make([]bool, rows*cols)
	types := make([]CellType, rows*cols)
	cost := make([]float64, rows*cols)

	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			r, g, b, _ := img.At(bounds.Min.X+col, bounds.Min.Y+row).RGBA()
			// RGBA() returns 16-bit-scaled components; rescale to 8-bit.
			r8, g8, b8 := r>>8, g>>8, b>>8
			i := row*cols + col
			walkable[i] = r8 > 0
			types[i] = floorTypeFromCode(byte(g8))
			cost[i] = float64(b8) / 255.0 * costScale
		}
	}

	return &Floor{
		Index:    param.Floor,
		Rows:     rows,
		Cols:     cols,
		Walkable: walkable,
		Types:    types,
		Cost:     cost,
		Transform: Transform{
			PPMX:    param.PPMX,
			PPMY:    param.PPMY,
			OriginX: param.OriginX,
			OriginY: param.OriginY,
		},
	}, nil
}

// floorTypeFromCode maps the green-channel code to a CellType: 1 stair,
// 2 elevator, 3 escalator; 0 and any other code give CellNormal.
// Walkability comes from the red channel alone (computed by the
// caller) and is stored separately in Walkable, so a non-walkable
// cell can still carry CellNormal in Types.
func floorTypeFromCode(code byte) CellType {
	switch code {
	case 1:
		return CellStair
	case 2:
		return CellElevator
	case 3:
		return CellEscalator
	default:
		return CellNormal
	}
}
