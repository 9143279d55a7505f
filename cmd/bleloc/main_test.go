package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/bleloc/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBundleFlagDefined(t *testing.T) {
	t.Parallel()
	require.NotNil(t, bundlePath)
	assert.Equal(t, "", *bundlePath)
}

func TestLoadTuningFallsBackOnMissingFile(t *testing.T) {
	t.Parallel()
	cfg := loadTuning(filepath.Join(t.TempDir(), "missing.json"))
	require.NotNil(t, cfg)
	assert.Equal(t, 1000, cfg.GetNumParticles())
}

func TestLoadTuningEmptyPathUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg := loadTuning("")
	assert.Equal(t, 1000, cfg.GetNumParticles())
}

func TestApplyRecordDispatchesByType(t *testing.T) {
	t.Parallel()
	loc := engine.New(engine.DefaultConfig())
	err := applyRecord(loc, traceRecord{Type: "attitude", Yaw: 0.1})
	var notReady *engine.NotReadyError
	assert.ErrorAs(t, err, &notReady, "not ready until SetModel completes")
}

func TestApplyRecordRejectsUnknownType(t *testing.T) {
	t.Parallel()
	loc := engine.New(engine.DefaultConfig())
	err := applyRecord(loc, traceRecord{Type: "nonsense"})
	assert.Error(t, err)
}

func encodeOpenFloorPNG(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func writeTestBundle(t *testing.T) string {
	t.Helper()
	samplesCSV := ""
	for _, d := range []float64{1, 2, 3, 4, 5, 6, 7, 8} {
		rssi := -40.0 - 20*math.Log10(d)
		samplesCSV += fmt.Sprintf("0,%f,0,0,1,1,%f\n", d, rssi)
	}

	doc := map[string]any{
		"anchor": map[string]any{"latitude": 35.0, "longitude": 139.0, "rotate": 0.0},
		"layers": []any{
			map[string]any{
				"param": map[string]any{"ppmx": 1.0, "ppmy": 1.0, "ppmz": 1.0, "originx": -20.0, "originy": -20.0, "originz": 0.0, "floor": 0},
				"data":  encodeOpenFloorPNG(t),
			},
		},
		"samples": []any{map[string]any{"data": samplesCSV}},
		"beacons": []any{map[string]any{"data": "1,1,5,5,0,0\n"}},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bundle.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func TestReplayDrivesLocalizerThroughTrace(t *testing.T) {
	t.Parallel()
	bundle := writeTestBundle(t)

	trace := filepath.Join(t.TempDir(), "trace.jsonl")
	lines := []string{
		`{"type":"attitude","yaw":0,"timestamp":1}`,
		`{"type":"beacons","timestamp":10,"beacons":[{"major":1,"minor":1,"rssi":-40}]}`,
		`{"type":"beacons","timestamp":20,"beacons":[{"major":1,"minor":1,"rssi":-40}]}`,
		`not json at all`,
		`{"type":"unknown_kind","timestamp":30}`,
	}
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteString("\n")
	}
	require.NoError(t, os.WriteFile(trace, buf.Bytes(), 0o644))

	cfg := engine.DefaultConfig()
	cfg.FilterConfig.NumParticles = 100
	loc := engine.New(cfg)
	require.NoError(t, loc.SetModel(bundle, ""))

	var updates int
	loc.OnStatus(func(s *engine.Status) { updates++ })

	require.NoError(t, replay(trace, loc))
	assert.Equal(t, 2, updates)
}
