package dashboard

import (
	"bytes"
	"strings"
	"testing"

	"github.com/banshee-data/bleloc/internal/geo"
	"github.com/banshee-data/bleloc/internal/pf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleParticles() []geo.Particle {
	return []geo.Particle{
		{State: geo.State{Pose: geo.Pose{Location: geo.Location{X: 1, Y: 2, Floor: 0}}}, Weight: 0.6},
		{State: geo.State{Pose: geo.Pose{Location: geo.Location{X: -3, Y: 4, Floor: 1}}}, Weight: 0.4},
	}
}

func TestRenderProducesHTMLDocument(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	snap := Snapshot{
		Particles: sampleParticles(),
		Status:    pf.Status{NumParticles: 2, EffectiveSampleSize: 1.8},
		ESSHistory: []ESSSample{
			{Index: 0, Value: 2.0},
			{Index: 1, Value: 1.8},
		},
	}
	require.NoError(t, Render(&buf, snap))

	out := buf.String()
	assert.Contains(t, out, "<html")
	assert.Contains(t, strings.ToLower(out), "particle cloud")
}

func TestRenderHandlesEmptyParticleCloud(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := Render(&buf, Snapshot{})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "<html")
}

func TestFloorHistogramBuildsBarChart(t *testing.T) {
	t.Parallel()
	bar := floorHistogram(sampleParticles())
	require.NotNil(t, bar)
}

func TestParticleScatterHandlesSingleFloor(t *testing.T) {
	t.Parallel()
	particles := []geo.Particle{
		{State: geo.State{Pose: geo.Pose{Location: geo.Location{X: 0, Y: 0, Floor: 2}}}, Weight: 1},
	}
	scatter := particleScatter(particles)
	require.NotNil(t, scatter)
}
