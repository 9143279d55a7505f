// Command bleloc replays a recorded sensor trace (attitude,
// acceleration, beacon scans, and optional external heading samples,
// one JSON object per line) against a model bundle and prints the
// particle filter's status after every beacon update. Grounded on the
// teacher's cmd/radar/radar.go flag-based binary style: package-level
// flag.* vars, a JSON tuning config flag defaulting to
// config.DefaultConfigPath, and a -version short-circuit.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/bleloc/internal/beacon"
	"github.com/banshee-data/bleloc/internal/config"
	"github.com/banshee-data/bleloc/internal/dashboard"
	"github.com/banshee-data/bleloc/internal/engine"
	"github.com/banshee-data/bleloc/internal/sensors"
)

var (
	bundlePath    = flag.String("bundle", "", "path to the model bundle JSON document")
	tracePath     = flag.String("trace", "", "path to a JSONL sensor trace")
	configPath    = flag.String("config", config.DefaultConfigPath, "path to JSON tuning configuration file")
	cachePath     = flag.String("cache", "", "path to a SQLite cache for the trained observation model (optional)")
	dashboardPath = flag.String("dashboard", "", "write an HTML particle filter dashboard to this path after replay (optional)")
	versionFlag   = flag.Bool("version", false, "print version information and exit")
)

const version = "0.1.0"

// traceRecord is one line of the replayed sensor trace. Type selects
// which of the optional fields below is populated; unused fields are
// simply zero.
type traceRecord struct {
	Type      string          `json:"type"` // "attitude", "acceleration", "heading", or "beacons"
	Timestamp int64           `json:"timestamp"`
	Yaw       float64         `json:"yaw"`
	Pitch     float64         `json:"pitch"`
	Roll      float64         `json:"roll"`
	X         float64         `json:"x"`
	Y         float64         `json:"y"`
	Z         float64         `json:"z"`
	Heading   float64         `json:"heading"`
	Beacons   []beaconRecord  `json:"beacons"`
}

type beaconRecord struct {
	Major uint16  `json:"major"`
	Minor uint16  `json:"minor"`
	RSSI  float64 `json:"rssi"`
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println("bleloc " + version)
		return
	}

	if *bundlePath == "" || *tracePath == "" {
		fmt.Fprintln(os.Stderr, "usage: bleloc -bundle <model.json> -trace <trace.jsonl> [-config <tuning.json>] [-cache <cache.db>] [-dashboard <out.html>]")
		os.Exit(2)
	}

	tuning := loadTuning(*configPath)
	loc := engine.New(tuning.BuildEngineConfig())
	loc.OnLog(func(level, msg string) { log.Printf("[%s] %s", level, msg) })

	if err := loc.SetModel(*bundlePath, *cachePath); err != nil {
		log.Fatalf("load model bundle: %v", err)
	}

	var essHistory []dashboard.ESSSample
	updateIndex := 0
	loc.OnStatus(func(s *engine.Status) {
		essHistory = append(essHistory, dashboard.ESSSample{Index: updateIndex, Value: s.EffectiveSampleSize})
		updateIndex++
		fmt.Printf("update=%d state=%s floor=%d mean=(%.2f,%.2f) ess=%.1f/%d\n",
			updateIndex, s.State, s.ReportedFloor, s.Mean.X, s.Mean.Y, s.EffectiveSampleSize, s.NumParticles)
	})

	if err := replay(*tracePath, loc); err != nil {
		log.Fatalf("replay trace: %v", err)
	}

	if *dashboardPath != "" {
		if err := writeDashboard(*dashboardPath, loc, essHistory); err != nil {
			log.Printf("write dashboard: %v", err)
		}
	}
}

func loadTuning(path string) *config.TuningConfig {
	if path == "" {
		return config.EmptyTuningConfig()
	}
	cfg, err := config.LoadTuningConfig(path)
	if err != nil {
		log.Printf("using default tuning (could not load %q: %v)", path, err)
		return config.EmptyTuningConfig()
	}
	return cfg
}

// replay streams tracePath line by line, dispatching each record to
// the localizer and logging (but not aborting on) any per-record
// error, matching spec.md §5's ordering guarantee: one bad sample must
// not halt the rest of the trace.
func replay(tracePath string, loc *engine.Localizer) error {
	f, err := os.Open(tracePath)
	if err != nil {
		return fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec traceRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			log.Printf("trace line %d: invalid json: %v", lineNum, err)
			continue
		}
		if err := applyRecord(loc, rec); err != nil {
			log.Printf("trace line %d: %v", lineNum, err)
		}
	}
	return scanner.Err()
}

func applyRecord(loc *engine.Localizer, rec traceRecord) error {
	switch rec.Type {
	case "attitude":
		return loc.PutAttitude(sensors.Attitude{Yaw: rec.Yaw, Pitch: rec.Pitch, Roll: rec.Roll, Timestamp: rec.Timestamp})
	case "acceleration":
		return loc.PutAcceleration(sensors.Acceleration{X: rec.X, Y: rec.Y, Z: rec.Z, Timestamp: rec.Timestamp})
	case "heading":
		return loc.PutLocalHeading(engine.LocalHeading{Heading: rec.Heading, Timestamp: rec.Timestamp})
	case "beacons":
		beacons := make([]beacon.Beacon, len(rec.Beacons))
		for i, b := range rec.Beacons {
			beacons[i] = beacon.Beacon{Major: b.Major, Minor: b.Minor, RSSI: b.RSSI}
		}
		_, err := loc.PutBeacons(beacon.Scan{Beacons: beacons, Timestamp: rec.Timestamp})
		return err
	default:
		return fmt.Errorf("unknown trace record type %q", rec.Type)
	}
}

func writeDashboard(path string, loc *engine.Localizer, essHistory []dashboard.ESSSample) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dashboard file: %w", err)
	}
	defer f.Close()

	status := loc.Status()
	snap := dashboard.Snapshot{
		Particles:  loc.Particles(),
		Status:     status.Status,
		ESSHistory: essHistory,
	}
	return dashboard.Render(f, snap)
}
