// Package config loads the tuning file that parameterizes a bleloc
// run: particle filter, motion model, initializer, and engine
// lifecycle knobs in one JSON document. Grounded on
// internal/config/tuning.go's pointer-optional-field shape: every
// tunable is a `*T` with a paired `Get*` accessor returning a
// documented default when the field is omitted, so a partial JSON
// config is always safe to load.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/bleloc/internal/engine"
	"github.com/banshee-data/bleloc/internal/initializer"
	"github.com/banshee-data/bleloc/internal/motion"
	"github.com/banshee-data/bleloc/internal/pf"
)

// DefaultConfigPath is the canonical tuning defaults file, matched by
// MustLoadDefaultConfig's search path.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the root tuning document. JSON field names are
// snake_case to match a hand-edited config file.
type TuningConfig struct {
	// Particle filter core (C9)
	NumParticles                 *int     `json:"num_particles,omitempty"`
	EffectiveSampleSizeThreshold  *float64 `json:"effective_sample_size_threshold,omitempty"`
	MixtureProbability            *float64 `json:"mixture_probability,omitempty"`
	RejectDistance                *float64 `json:"reject_distance_meters,omitempty"`
	RejectFloorDifference          *float64 `json:"reject_floor_difference,omitempty"`
	FloorVoteDwellUpdates          *int     `json:"floor_vote_dwell_updates,omitempty"`
	LowESSCollapseUpdates          *int     `json:"low_ess_collapse_updates,omitempty"`
	LowESSFloor                    *float64 `json:"low_ess_floor,omitempty"`
	BeaconFilterK                  *int     `json:"beacon_filter_k,omitempty"`
	MinVelocity                    *float64 `json:"min_velocity,omitempty"`
	MaxVelocity                    *float64 `json:"max_velocity,omitempty"`

	// Motion model (C6)
	SigmaPositionRandomWalk        *float64 `json:"sigma_position_random_walk,omitempty"`
	SigmaMove                      *float64 `json:"sigma_move,omitempty"`
	SigmaStop                      *float64 `json:"sigma_stop,omitempty"`
	AngularVelocityLimitDegPerSec  *float64 `json:"angular_velocity_limit_deg_per_sec,omitempty"`
	ProbabilityOrientationBiasJump *float64 `json:"probability_orientation_bias_jump,omitempty"`
	ProbabilityBackwardMove        *float64 `json:"probability_backward_move,omitempty"`
	WeightDecayHalfLifeSteps       *float64 `json:"weight_decay_half_life_steps,omitempty"`
	MaxIncidenceAngleDeg           *float64 `json:"max_incidence_angle_deg,omitempty"`

	// Status initializer (C7)
	InitBurnIn            *int     `json:"init_burn_in,omitempty"`
	InitRadius2D           *float64 `json:"init_radius_2d,omitempty"`
	InitInterval           *int     `json:"init_interval,omitempty"`
	InitStdX               *float64 `json:"init_std_x,omitempty"`
	InitStdY               *float64 `json:"init_std_y,omitempty"`
	InitHeadingConfidence  *float64 `json:"init_heading_confidence,omitempty"`
	InitStdThetaDeg        *float64 `json:"init_std_theta_deg,omitempty"`

	// Engine lifecycle (C10)
	EngineNSmooth *int    `json:"engine_n_smooth,omitempty"`
	EngineMode    *string `json:"engine_mode,omitempty"` // "continuous" or "oneshot"
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }

// EmptyTuningConfig returns a TuningConfig with every field nil; every
// Get* accessor falls back to its documented default.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file at path.
// Fields omitted from the file keep their documented defaults.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath, searching from the current directory up through
// a few parent levels. Panics if no defaults file can be found;
// intended for test setup, matching the teacher's own helper.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that any set fields are within their valid ranges.
func (c *TuningConfig) Validate() error {
	if c.NumParticles != nil && *c.NumParticles <= 0 {
		return fmt.Errorf("num_particles must be positive, got %d", *c.NumParticles)
	}
	if c.MixtureProbability != nil && (*c.MixtureProbability < 0 || *c.MixtureProbability > 1) {
		return fmt.Errorf("mixture_probability must be between 0 and 1, got %f", *c.MixtureProbability)
	}
	if c.InitHeadingConfidence != nil && (*c.InitHeadingConfidence < 0 || *c.InitHeadingConfidence > 1) {
		return fmt.Errorf("init_heading_confidence must be between 0 and 1, got %f", *c.InitHeadingConfidence)
	}
	if c.EngineMode != nil && *c.EngineMode != "continuous" && *c.EngineMode != "oneshot" {
		return fmt.Errorf("engine_mode must be \"continuous\" or \"oneshot\", got %q", *c.EngineMode)
	}
	return nil
}

func (c *TuningConfig) GetNumParticles() int {
	if c.NumParticles == nil {
		return 1000
	}
	return *c.NumParticles
}

func (c *TuningConfig) GetEffectiveSampleSizeThreshold() float64 {
	if c.EffectiveSampleSizeThreshold == nil {
		return 1000
	}
	return *c.EffectiveSampleSizeThreshold
}

func (c *TuningConfig) GetMixtureProbability() float64 {
	if c.MixtureProbability == nil {
		return 0
	}
	return *c.MixtureProbability
}

func (c *TuningConfig) GetRejectDistance() float64 {
	if c.RejectDistance == nil {
		return 10
	}
	return *c.RejectDistance
}

func (c *TuningConfig) GetRejectFloorDifference() float64 {
	if c.RejectFloorDifference == nil {
		return 0.5
	}
	return *c.RejectFloorDifference
}

func (c *TuningConfig) GetFloorVoteDwellUpdates() int {
	if c.FloorVoteDwellUpdates == nil {
		return 5
	}
	return *c.FloorVoteDwellUpdates
}

func (c *TuningConfig) GetLowESSCollapseUpdates() int {
	if c.LowESSCollapseUpdates == nil {
		return 10
	}
	return *c.LowESSCollapseUpdates
}

func (c *TuningConfig) GetLowESSFloor() float64 {
	if c.LowESSFloor == nil {
		return 2
	}
	return *c.LowESSFloor
}

func (c *TuningConfig) GetBeaconFilterK() int {
	if c.BeaconFilterK == nil {
		return 10
	}
	return *c.BeaconFilterK
}

func (c *TuningConfig) GetMinVelocity() float64 {
	if c.MinVelocity == nil {
		return 0
	}
	return *c.MinVelocity
}

func (c *TuningConfig) GetMaxVelocity() float64 {
	if c.MaxVelocity == nil {
		return 2.0
	}
	return *c.MaxVelocity
}

func (c *TuningConfig) GetSigmaPositionRandomWalk() float64 {
	if c.SigmaPositionRandomWalk == nil {
		return 0.25
	}
	return *c.SigmaPositionRandomWalk
}

func (c *TuningConfig) GetSigmaMove() float64 {
	if c.SigmaMove == nil {
		return 1.0
	}
	return *c.SigmaMove
}

func (c *TuningConfig) GetSigmaStop() float64 {
	if c.SigmaStop == nil {
		return 0.1
	}
	return *c.SigmaStop
}

func (c *TuningConfig) GetAngularVelocityLimitDegPerSec() float64 {
	if c.AngularVelocityLimitDegPerSec == nil {
		return 30
	}
	return *c.AngularVelocityLimitDegPerSec
}

func (c *TuningConfig) GetProbabilityOrientationBiasJump() float64 {
	if c.ProbabilityOrientationBiasJump == nil {
		return 0.1
	}
	return *c.ProbabilityOrientationBiasJump
}

func (c *TuningConfig) GetProbabilityBackwardMove() float64 {
	if c.ProbabilityBackwardMove == nil {
		return 0
	}
	return *c.ProbabilityBackwardMove
}

func (c *TuningConfig) GetWeightDecayHalfLifeSteps() float64 {
	if c.WeightDecayHalfLifeSteps == nil {
		return 5
	}
	return *c.WeightDecayHalfLifeSteps
}

func (c *TuningConfig) GetMaxIncidenceAngleDeg() float64 {
	if c.MaxIncidenceAngleDeg == nil {
		return 45
	}
	return *c.MaxIncidenceAngleDeg
}

func (c *TuningConfig) GetInitBurnIn() int {
	if c.InitBurnIn == nil {
		return 50
	}
	return *c.InitBurnIn
}

func (c *TuningConfig) GetInitRadius2D() float64 {
	if c.InitRadius2D == nil {
		return 1.0
	}
	return *c.InitRadius2D
}

func (c *TuningConfig) GetInitInterval() int {
	if c.InitInterval == nil {
		return 5
	}
	return *c.InitInterval
}

func (c *TuningConfig) GetInitStdX() float64 {
	if c.InitStdX == nil {
		return 0.5
	}
	return *c.InitStdX
}

func (c *TuningConfig) GetInitStdY() float64 {
	if c.InitStdY == nil {
		return 0.5
	}
	return *c.InitStdY
}

func (c *TuningConfig) GetInitHeadingConfidence() float64 {
	if c.InitHeadingConfidence == nil {
		return 0
	}
	return *c.InitHeadingConfidence
}

func (c *TuningConfig) GetInitStdThetaDeg() float64 {
	if c.InitStdThetaDeg == nil {
		return 20
	}
	return *c.InitStdThetaDeg
}

func (c *TuningConfig) GetEngineNSmooth() int {
	if c.EngineNSmooth == nil {
		return 5
	}
	return *c.EngineNSmooth
}

func (c *TuningConfig) GetEngineMode() string {
	if c.EngineMode == nil {
		return "continuous"
	}
	return *c.EngineMode
}

const deg2rad = 3.141592653589793 / 180

// BuildMotionConfig assembles an internal/motion.Config from this
// tuning document, leaving every variant-specific field the motion
// package's own defaults don't cover at its spec.md default.
func (c *TuningConfig) BuildMotionConfig() motion.Config {
	base := motion.DefaultConfig()
	base.SigmaPositionRandomWalk = c.GetSigmaPositionRandomWalk()
	base.SigmaMove = c.GetSigmaMove()
	base.SigmaStop = c.GetSigmaStop()
	base.AngularVelocityLimitRadPerSec = c.GetAngularVelocityLimitDegPerSec() * deg2rad
	base.ProbabilityOrientationBiasJump = c.GetProbabilityOrientationBiasJump()
	base.ProbabilityBackwardMove = c.GetProbabilityBackwardMove()
	base.WeightDecayHalfLifeSteps = c.GetWeightDecayHalfLifeSteps()
	base.MaxIncidenceAngleRad = c.GetMaxIncidenceAngleDeg() * deg2rad
	return base
}

// BuildInitializerConfig assembles an internal/initializer.Config.
func (c *TuningConfig) BuildInitializerConfig() initializer.Config {
	base := initializer.DefaultConfig()
	base.BurnIn = c.GetInitBurnIn()
	base.Radius2D = c.GetInitRadius2D()
	base.Interval = c.GetInitInterval()
	base.StdX = c.GetInitStdX()
	base.StdY = c.GetInitStdY()
	base.HeadingConfidence = c.GetInitHeadingConfidence()
	base.StdTheta = c.GetInitStdThetaDeg() * deg2rad
	return base
}

// BuildFilterConfig assembles an internal/pf.Config, nesting the
// motion and initializer configs built above.
func (c *TuningConfig) BuildFilterConfig() pf.Config {
	base := pf.DefaultConfig()
	base.NumParticles = c.GetNumParticles()
	base.EffectiveSampleSizeThreshold = c.GetEffectiveSampleSizeThreshold()
	base.MixtureProbability = c.GetMixtureProbability()
	base.RejectDistance = c.GetRejectDistance()
	base.RejectFloorDifference = c.GetRejectFloorDifference()
	base.FloorVoteDwellUpdates = c.GetFloorVoteDwellUpdates()
	base.LowESSCollapseUpdates = c.GetLowESSCollapseUpdates()
	base.LowESSFloor = c.GetLowESSFloor()
	base.BeaconFilterK = c.GetBeaconFilterK()
	base.MinVelocity = c.GetMinVelocity()
	base.MaxVelocity = c.GetMaxVelocity()
	base.SystemConfig = c.BuildMotionConfig()
	base.InitializerConfig = c.BuildInitializerConfig()
	return base
}

// BuildEngineConfig assembles an internal/engine.Config, nesting the
// filter config built above.
func (c *TuningConfig) BuildEngineConfig() engine.Config {
	base := engine.DefaultConfig()
	base.NSmooth = c.GetEngineNSmooth()
	base.FilterConfig = c.BuildFilterConfig()
	if c.GetEngineMode() == "oneshot" {
		base.Mode = engine.ModeOneshot
	} else {
		base.Mode = engine.ModeContinuous
	}
	return base
}
