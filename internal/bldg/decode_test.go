package bldg

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeTestPNG(t *testing.T, w, h int, fill func(x, y int) color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill(x, y))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeFloorPNGChannels(t *testing.T) {
	t.Parallel()
	data := encodeTestPNG(t, 2, 2, func(x, y int) color.Color {
		if x == 0 && y == 0 {
			return color.RGBA{R: 255, G: 1, B: 128, A: 255} // walkable stair, half cost
		}
		return color.RGBA{R: 0, G: 0, B: 0, A: 255} // non-walkable
	})

	f, err := DecodeFloorPNG(data, LayerParam{PPMX: 10, PPMY: 10, Floor: 2}, 4.0)
	require.NoError(t, err)
	require.Equal(t, 2, f.Rows)
	require.Equal(t, 2, f.Cols)
	require.True(t, f.IsWalkableCell(0, 0))
	require.Equal(t, CellStair, f.TypeAt(0, 0))
	require.InDelta(t, 4.0*128.0/255.0, f.CostAt(0, 0), 1e-6)
	require.False(t, f.IsWalkableCell(1, 1))
	require.Equal(t, 2, f.Index)
}
