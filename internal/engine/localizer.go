// Package engine implements the streaming front-end (C10): the
// lifecycle state machine, smoothing buffers, and sensor push API
// that gate every input on isReady and own the particle filter (C9)
// exclusively, per spec.md §4.9. Grounded on
// original_source/ble-cpp/src/localizer/BasicLocalizer.hpp's
// ownership shape (one localizer owns one StreamParticleFilter and
// its OrientationMeter/Pedometer), adapted to Go's callback-hook idiom
// in place of the C++ function-pointer-plus-userdata pairs.
package engine

import (
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/banshee-data/bleloc/internal/beacon"
	"github.com/banshee-data/bleloc/internal/geo"
	"github.com/banshee-data/bleloc/internal/initializer"
	"github.com/banshee-data/bleloc/internal/modelio"
	"github.com/banshee-data/bleloc/internal/motion"
	"github.com/banshee-data/bleloc/internal/pf"
	"github.com/banshee-data/bleloc/internal/sensors"
	"github.com/banshee-data/bleloc/internal/store"
)

// LifecycleState mirrors spec.md §2's UNKNOWN -> LOCATING -> TRACKING
// state machine.
type LifecycleState int

const (
	StateUnknown LifecycleState = iota
	StateLocating
	StateTracking
)

func (s LifecycleState) String() string {
	switch s {
	case StateLocating:
		return "LOCATING"
	case StateTracking:
		return "TRACKING"
	default:
		return "UNKNOWN"
	}
}

// LocalizeMode selects whether successive beacon scans build temporal
// continuity (CONTINUOUS) or each scan independently re-initializes
// the filter (ONESHOT), per spec.md §4.9.
type LocalizeMode int

const (
	ModeContinuous LocalizeMode = iota
	ModeOneshot
)

// SystemModelKind selects which of the four internal/motion variants
// backs the filter (spec.md §4.5).
type SystemModelKind int

const (
	SystemRandomWalk SystemModelKind = iota
	SystemRandomWalkAcc
	SystemRandomWalkAccAtt
	SystemWeakPoseRandomWalker
)

// Config aggregates every engine-level tunable: the lifecycle
// dwell/thresholds plus the filter-level Config the particle filter
// core is constructed with.
type Config struct {
	Mode LocalizeMode

	// NSmooth caps the status history (location smoothing uses
	// SmoothingWindow instead) and, in LOCATING, is the number of
	// consecutive non-collapsed updates
	// required before promoting to TRACKING.
	NSmooth int

	SystemModel       SystemModelKind
	FilterConfig      pf.Config
	HeadingBufferSize int // default 10, per original_source's LocalHeadingBuffer

	// RecenterStdev is the small covariance the particle cloud is
	// redrawn around when LOCATING reaches NSmooth consecutive updates
	// and promotes to TRACKING (spec.md §2/§4.9).
	RecenterStdev pf.PoseStdev

	// SmoothMode selects one of beacon.SmoothMode's two mutually
	// exclusive temporal-smoothing strategies (spec.md §4.1). Default
	// SmoothLocation matches the original's default smoothType.
	SmoothMode beacon.SmoothMode
	// SmoothingWindow is M: the ring size backing whichever smoothing
	// mode is active, clamped to [1,10] for SmoothRSSI per spec.md
	// §4.1 ("M ≤ 10").
	SmoothingWindow int

	Seed1, Seed2 uint64 // PCG seed for the filter's RNG stream
}

// DefaultConfig returns spec.md's documented engine-level defaults.
func DefaultConfig() Config {
	return Config{
		Mode:              ModeContinuous,
		NSmooth:           5,
		SystemModel:       SystemRandomWalkAccAtt,
		FilterConfig:      pf.DefaultConfig(),
		HeadingBufferSize: 10,
		RecenterStdev:     pf.PoseStdev{X: 0.3, Y: 0.3, Floor: 0.05, Orientation: 5 * math.Pi / 180},
		SmoothMode:        beacon.SmoothLocation,
		SmoothingWindow:   5,
		Seed1:             1,
		Seed2:             2,
	}
}

// LocalHeading is one external heading-sensor sample, supplementing
// spec.md's dropped LocalHeadingBuffer type (SPEC_FULL §4 supplement).
type LocalHeading struct {
	Heading   float64
	Timestamp int64
}

// LocalHeadingBuffer is a small mutex-guarded ring of the most recent
// LocalHeading samples, mirroring BasicLocalizer.hpp's buffer of the
// same name; only its latest entry is consulted, at reset time, when
// headingConfidenceForOrientationInit > 0.
type LocalHeadingBuffer struct {
	mu       sync.Mutex
	buf      []LocalHeading
	capacity int
}

// NewLocalHeadingBuffer returns a buffer holding at most capacity
// samples (falling back to 10 for capacity <= 0).
func NewLocalHeadingBuffer(capacity int) *LocalHeadingBuffer {
	if capacity <= 0 {
		capacity = 10
	}
	return &LocalHeadingBuffer{capacity: capacity}
}

// Push appends h, evicting the oldest entry once capacity is reached.
func (b *LocalHeadingBuffer) Push(h LocalHeading) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, h)
	if len(b.buf) > b.capacity {
		b.buf = b.buf[len(b.buf)-b.capacity:]
	}
}

// Latest returns the most recent heading sample, or false if empty.
func (b *LocalHeadingBuffer) Latest() (LocalHeading, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) == 0 {
		return LocalHeading{}, false
	}
	return b.buf[len(b.buf)-1], true
}

// Status is the snapshot delivered to OnStatus callbacks: the filter's
// own Status plus the lifecycle state the engine layers on top.
type Status struct {
	pf.Status
	State LifecycleState
}

// LogFunc matches spec.md §2's log-callback hook; the default wraps
// the stdlib log package exactly as the teacher's own binaries do.
type LogFunc func(level, msg string)

func defaultLogFunc(level, msg string) {
	log.Printf("[%s] %s", level, msg)
}

// Localizer owns the particle filter exclusively and gates every
// input on isReady (spec.md §4.9). All public entry points are
// expected to be called from one goroutine per spec.md §5; the
// internal mutex only protects against accidental concurrent misuse,
// it does not make concurrent calls meaningful.
type Localizer struct {
	mu sync.Mutex

	cfg     Config
	isReady bool

	filter        *pf.Filter
	headingBuffer *LocalHeadingBuffer

	// rssiRing backs SmoothRSSI: non-nil only when cfg.SmoothMode
	// selects it. locationRing backs SmoothLocation: a ring of
	// particle-cloud snapshots the reported mean location is averaged
	// over (spec.md §4.1).
	rssiRing     *beacon.RSSIRing
	locationRing [][]geo.Particle

	state            LifecycleState
	goodUpdateStreak int
	history          []Status // ring, most recent last, capped at cfg.NSmooth

	onStatus func(*Status)
	onLog    LogFunc
}

// New returns a Localizer that is not yet ready; SetModel must
// complete successfully before any Put* call will be accepted.
func New(cfg Config) *Localizer {
	if cfg.NSmooth <= 0 {
		cfg.NSmooth = 5
	}
	l := &Localizer{
		cfg:           cfg,
		headingBuffer: NewLocalHeadingBuffer(cfg.HeadingBufferSize),
		onLog:         defaultLogFunc,
		state:         StateUnknown,
	}
	if cfg.SmoothMode == beacon.SmoothRSSI {
		l.rssiRing = beacon.NewRSSIRing(cfg.SmoothingWindow)
	}
	return l
}

// OnStatus registers the callback invoked after every PutBeacons
// update with the latest Status.
func (l *Localizer) OnStatus(fn func(*Status)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onStatus = fn
}

// OnLog registers the diagnostic log hook, replacing the default
// stdlib-log-backed one.
func (l *Localizer) OnLog(fn LogFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fn != nil {
		l.onLog = fn
	}
}

func (l *Localizer) log(level, msg string) {
	if l.onLog != nil {
		l.onLog(level, msg)
	}
}

// SetModel loads the model bundle at bundlePath (spec.md §6) and
// constructs the particle filter core. When cachePath is non-empty,
// the SQLite cache at cachePath is synchronized with the loaded bundle
// (see syncCache, internal/store). The bundle is parsed, and trained
// when it carries no stored blob, before the cache is consulted, so
// the cache does not spare a run its parsing or training.
func (l *Localizer) SetModel(bundlePath, cachePath string) error {
	bundle, err := modelio.LoadBundle(bundlePath)
	if err != nil {
		return &ModelLoadError{Kind: KindModelLoad, Message: err.Error(), Err: err}
	}

	if cachePath != "" {
		if err := l.syncCache(bundlePath, cachePath, bundle); err != nil {
			l.log("WARN", fmt.Sprintf("model cache sync failed: %v", err))
		}
	}

	system := systemModelFor(l.cfg.SystemModel, l.cfg.FilterConfig.SystemConfig)
	rng := rand.New(rand.NewPCG(l.cfg.Seed1, l.cfg.Seed2))
	filter := pf.New(l.cfg.FilterConfig, system, bundle.Observation, bundle.Building, bundle.KnownBeacons, rng)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.filter = filter
	l.state = StateUnknown
	l.goodUpdateStreak = 0
	l.history = nil
	l.locationRing = nil
	l.isReady = true
	return nil
}

// syncCache persists a freshly-trained observation model and the
// survey tables to cachePath when the bundle had no stored blob
// (bundle.Trained). When the bundle did carry a blob, a model already
// cached under bundlePath replaces the bundle's decoded one. Training,
// when needed, has already run by the time this is called.
func (l *Localizer) syncCache(bundlePath, cachePath string, bundle *modelio.Bundle) error {
	db, err := store.Open(cachePath)
	if err != nil {
		return fmt.Errorf("engine: open model cache: %w", err)
	}
	defer db.Close()

	if bundle.Trained {
		if err := db.SaveObservationModel(bundlePath, bundle.Observation, time.Unix(0, 0)); err != nil {
			return err
		}
		return db.SaveSurvey(bundlePath, bundle.Survey, bundle.KnownBeacons)
	}

	cached, err := db.LoadObservationModel(bundlePath)
	if err != nil {
		return err
	}
	if cached != nil {
		bundle.Observation = cached
	}
	return nil
}

func systemModelFor(kind SystemModelKind, cfg motion.Config) motion.Model {
	switch kind {
	case SystemRandomWalk:
		return motion.RandomWalk{Config: cfg}
	case SystemRandomWalkAcc:
		return motion.RandomWalkAcc{Config: cfg}
	case SystemWeakPoseRandomWalker:
		return motion.WeakPoseRandomWalker{Config: cfg}
	default:
		return motion.RandomWalkAccAtt{Config: cfg}
	}
}

// PutAttitude forwards one attitude sample to the filter's orientation
// meter. Returns NotReadyError before SetModel completes.
func (l *Localizer) PutAttitude(a sensors.Attitude) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isReady {
		return &NotReadyError{Kind: KindNotReady}
	}
	l.filter.PutAttitude(a)
	return nil
}

// PutAcceleration forwards one acceleration sample to the filter's
// pedometer, driving C6 when a step is detected.
func (l *Localizer) PutAcceleration(a sensors.Acceleration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isReady {
		return &NotReadyError{Kind: KindNotReady}
	}
	l.filter.PutAcceleration(a)
	return nil
}

// PutLocalHeading records an external heading estimate, consulted the
// next time the filter resets from a scan (spec.md §4.6's heading
// seeding rule).
func (l *Localizer) PutLocalHeading(h LocalHeading) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isReady {
		return &NotReadyError{Kind: KindNotReady}
	}
	l.headingBuffer.Push(h)
	return nil
}

// PutBeacons runs one observation update and advances the lifecycle
// state machine (spec.md §2/§4.9):
//   - UNKNOWN resets the cloud from the scan via C7 and promotes to
//     LOCATING.
//   - LOCATING re-initializes the cloud from the scan via C7 on every
//     scan, accumulating smoothed location statistics; once NSmooth
//     consecutive LOCATING updates have run, the cloud is recentered
//     on the weighted-mean pose with RecenterStdev and the state
//     promotes to TRACKING.
//   - TRACKING runs the full C9 predict/update/resample cycle; a
//     collapsed filter (C9's ESS-floor streak) demotes back to
//     UNKNOWN.
//   - In ModeOneshot every scan fully re-initializes the filter
//     regardless of lifecycle state, per spec.md §4.9.
//
// The incoming scan is first run through whichever temporal-smoothing
// mode is configured (spec.md §4.1). The returned Status is also
// delivered to the OnStatus callback, if registered.
func (l *Localizer) PutBeacons(scan beacon.Scan) (*Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isReady {
		return nil, &NotReadyError{Kind: KindNotReady}
	}

	scan = l.smoothScan(scan)

	hint := initializer.HeadingHint{}
	if h, ok := l.headingBuffer.Latest(); ok {
		hint = initializer.HeadingHint{Heading: h.Heading, Valid: true}
	}

	switch {
	case l.cfg.Mode == ModeOneshot:
		if err := l.resetFromScan(scan, hint); err != nil {
			return nil, err
		}
		l.state = StateLocating
		l.goodUpdateStreak = 0

	case l.state == StateUnknown:
		if err := l.resetFromScan(scan, hint); err != nil {
			return nil, err
		}
		l.state = StateLocating
		l.goodUpdateStreak = 0

	case l.state == StateLocating:
		if err := l.resetFromScan(scan, hint); err != nil {
			return nil, err
		}
		l.goodUpdateStreak++
		if l.goodUpdateStreak >= l.cfg.NSmooth {
			mean := geo.MeanPose(l.filter.Particles())
			if err := l.filter.ResetStatusAround(mean, l.cfg.RecenterStdev); err != nil {
				l.log("ERROR", fmt.Sprintf("locating recenter failed: %v", err))
			} else {
				l.state = StateTracking
				l.goodUpdateStreak = 0
				l.locationRing = nil
			}
		}

	default: // StateTracking
		if err := l.filter.PutBeacons(scan); err != nil {
			var empty *pf.EmptyScanError
			if asEmptyScan(err, &empty) {
				l.log("INFO", "empty scan skipped")
				return l.currentStatus(), &EmptyScanError{Kind: KindEmptyScan}
			}
			return nil, &InvalidInputError{Kind: KindInvalidInput, Message: err.Error()}
		}
	}

	raw := l.filter.Status()
	if raw.Collapsed {
		l.state = StateUnknown
		l.goodUpdateStreak = 0
	}
	l.applyLocationSmoothing(&raw)

	status := Status{Status: raw, State: l.state}
	l.history = append(l.history, status)
	if len(l.history) > l.cfg.NSmooth {
		l.history = l.history[len(l.history)-l.cfg.NSmooth:]
	}

	if l.onStatus != nil {
		l.onStatus(&status)
	}
	return &status, nil
}

// resetFromScan delegates to C7's beacon-weighted reset, seeding the
// floor from the most recently reported floor (or 0 before any status
// has been produced). Shared by the UNKNOWN, LOCATING and ModeOneshot
// branches of PutBeacons.
func (l *Localizer) resetFromScan(scan beacon.Scan, hint initializer.HeadingHint) error {
	floor := 0
	if len(l.history) > 0 {
		floor = l.history[len(l.history)-1].ReportedFloor
	}
	if err := l.filter.ResetStatus(scan, floor, hint); err != nil {
		l.log("ERROR", fmt.Sprintf("reset by beacons failed: %v", err))
		return &InvalidInputError{Kind: KindInvalidInput, Message: err.Error()}
	}
	return nil
}

// smoothScan applies the configured temporal-smoothing mode (spec.md
// §4.1) to a raw incoming scan before it reaches the filter's
// strongest-K beacon filter. In SmoothRSSI mode it returns a
// synthesized scan averaged over the last SmoothingWindow raw scans;
// in SmoothLocation mode the scan passes through unchanged and
// smoothing instead happens to the reported mean location, in
// applyLocationSmoothing.
func (l *Localizer) smoothScan(scan beacon.Scan) beacon.Scan {
	if l.rssiRing != nil && l.cfg.Mode != ModeOneshot {
		return l.rssiRing.Push(scan)
	}
	return scan
}

// applyLocationSmoothing implements SmoothLocation (spec.md §4.1):
// keeps a ring of the last SmoothingWindow particle-cloud snapshots
// and overwrites status's Mean/Stdev with the statistics of their
// concatenation, rather than the instantaneous cloud's alone.
func (l *Localizer) applyLocationSmoothing(status *pf.Status) {
	if l.cfg.SmoothMode != beacon.SmoothLocation || l.cfg.Mode == ModeOneshot {
		return
	}
	window := l.cfg.SmoothingWindow
	if window <= 0 {
		window = 5
	}

	l.locationRing = append(l.locationRing, l.filter.Particles())
	if len(l.locationRing) > window {
		l.locationRing = l.locationRing[len(l.locationRing)-window:]
	}

	var all []geo.Particle
	for _, snapshot := range l.locationRing {
		all = append(all, snapshot...)
	}
	mean := geo.MeanLocation(all)
	status.Mean = mean
	status.Stdev = geo.StdevLocation(all, mean)
}

// asEmptyScan reports whether err is a *pf.EmptyScanError, assigning
// it to target on success.
func asEmptyScan(err error, target **pf.EmptyScanError) bool {
	e, ok := err.(*pf.EmptyScanError)
	if ok {
		*target = e
	}
	return ok
}

// currentStatus returns the most recent smoothed status, or a zero
// Status if none has been produced yet.
func (l *Localizer) currentStatus() *Status {
	if len(l.history) == 0 {
		return &Status{State: l.state}
	}
	s := l.history[len(l.history)-1]
	return &s
}

// Status returns the most recent status snapshot without driving the
// filter.
func (l *Localizer) Status() *Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentStatus()
}

// Particles returns a snapshot of the current particle cloud, or nil
// before SetModel has completed.
func (l *Localizer) Particles() []geo.Particle {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isReady {
		return nil
	}
	return l.filter.Particles()
}

// ResetStatusAround seeds the filter directly from a known pose and
// stdev, bypassing C7 (spec.md §4.8's resetStatus(pose, stdevPose)).
// Useful when a host application has an external fix (e.g. a QR code
// or NFC tap) to seed from.
func (l *Localizer) ResetStatusAround(pose geo.Pose, stdev pf.PoseStdev) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isReady {
		return &NotReadyError{Kind: KindNotReady}
	}
	if err := l.filter.ResetStatusAround(pose, stdev); err != nil {
		return &InvalidInputError{Kind: KindInvalidInput, Message: err.Error()}
	}
	l.state = StateLocating
	l.goodUpdateStreak = 0
	l.locationRing = nil
	return nil
}
