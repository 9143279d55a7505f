package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/bleloc/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, cfg *TuningConfig) string {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "tuning.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func TestEmptyTuningConfigUsesDocumentedDefaults(t *testing.T) {
	t.Parallel()
	cfg := EmptyTuningConfig()
	assert.Equal(t, 1000, cfg.GetNumParticles())
	assert.Equal(t, 1000.0, cfg.GetEffectiveSampleSizeThreshold())
	assert.Equal(t, 0.0, cfg.GetMixtureProbability())
	assert.Equal(t, 2.0, cfg.GetMaxVelocity())
	assert.Equal(t, "continuous", cfg.GetEngineMode())
}

func TestLoadTuningConfigAppliesPartialOverrides(t *testing.T) {
	t.Parallel()
	path := writeConfigFile(t, &TuningConfig{NumParticles: ptrInt(500), MixtureProbability: ptrFloat64(0.05)})

	cfg, err := LoadTuningConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.GetNumParticles())
	assert.Equal(t, 0.05, cfg.GetMixtureProbability())
	// Untouched fields keep their documented defaults.
	assert.Equal(t, 1000.0, cfg.GetEffectiveSampleSizeThreshold())
}

func TestLoadTuningConfigRejectsNonJSONExtension(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	_, err := LoadTuningConfig(path)
	assert.Error(t, err)
}

func TestValidateRejectsOutOfRangeMixtureProbability(t *testing.T) {
	t.Parallel()
	cfg := &TuningConfig{MixtureProbability: ptrFloat64(1.5)}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveNumParticles(t *testing.T) {
	t.Parallel()
	cfg := &TuningConfig{NumParticles: ptrInt(0)}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownEngineMode(t *testing.T) {
	t.Parallel()
	cfg := &TuningConfig{EngineMode: ptrString("sometimes")}
	assert.Error(t, cfg.Validate())
}

func TestBuildEngineConfigNestsFilterAndMotionConfigs(t *testing.T) {
	t.Parallel()
	cfg := &TuningConfig{
		NumParticles:  ptrInt(300),
		SigmaMove:     ptrFloat64(0.5),
		InitBurnIn:    ptrInt(20),
		EngineNSmooth: ptrInt(2),
		EngineMode:    ptrString("oneshot"),
	}

	built := cfg.BuildEngineConfig()
	assert.Equal(t, 300, built.FilterConfig.NumParticles)
	assert.Equal(t, 0.5, built.FilterConfig.SystemConfig.SigmaMove)
	assert.Equal(t, 20, built.FilterConfig.InitializerConfig.BurnIn)
	assert.Equal(t, 2, built.NSmooth)
	assert.Equal(t, engine.ModeOneshot, built.Mode)
}

func TestMustLoadDefaultConfigFindsRepoRootFile(t *testing.T) {
	t.Parallel()
	cfg := MustLoadDefaultConfig()
	assert.Equal(t, 1000, cfg.GetNumParticles())
}

func TestBuildMotionConfigConvertsDegreesToRadians(t *testing.T) {
	t.Parallel()
	cfg := &TuningConfig{MaxIncidenceAngleDeg: ptrFloat64(90)}
	built := cfg.BuildMotionConfig()
	assert.InDelta(t, 3.141592653589793/2, built.MaxIncidenceAngleRad, 1e-9)
}
