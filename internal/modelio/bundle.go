// Package modelio loads the JSON model bundle described in spec.md
// §6: a building-anchor georeference, one or more floor rasters (PNG
// encoded, base64 in the document), the training survey and known
// beacons (CSV), and the trained observation model parameters (a
// compact binary blob, trained on the fly when absent). Grounded on
// the teacher's `internal/db/db.go` embedded-schema pattern for
// "parse once, cache downstream" loading, generalized from SQL schema
// text to a JSON+CSV+PNG composite document.
package modelio

import (
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/bleloc/internal/beacon"
	"github.com/banshee-data/bleloc/internal/bldg"
	"github.com/banshee-data/bleloc/internal/geo"
	"github.com/banshee-data/bleloc/internal/obsmodel"
)

// Anchor is the georeference used to translate the building-local
// frame back to latitude/longitude for external consumers.
type Anchor struct {
	Latitude  float64
	Longitude float64
	Rotate    float64
}

// Bundle is the fully-decoded model bundle: a building map, the known
// beacon locations, the raw survey (kept for re-training), and the
// trained observation model.
type Bundle struct {
	Anchor      Anchor
	Building    *bldg.Map
	KnownBeacons map[uint32]geo.Location
	Survey      map[uint32][]obsmodel.SurveySample
	Observation *obsmodel.Parameters
	// Trained reports whether Observation was trained on load (true)
	// or decoded from the bundle's stored blob (false); SetModel
	// callers use this to decide whether to persist the blob back.
	Trained bool
}

type layerParamJSON struct {
	PPMX    float64 `json:"ppmx"`
	PPMY    float64 `json:"ppmy"`
	PPMZ    float64 `json:"ppmz"`
	OriginX float64 `json:"originx"`
	OriginY float64 `json:"originy"`
	OriginZ float64 `json:"originz"`
	Floor   int     `json:"floor"`
}

type layerJSON struct {
	Param layerParamJSON `json:"param"`
	Data  string          `json:"data"`
}

type textBlockJSON struct {
	Data string `json:"data"`
}

type bundleJSON struct {
	Anchor struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Rotate    float64 `json:"rotate"`
	} `json:"anchor"`
	Layers                     []layerJSON     `json:"layers"`
	Samples                    []textBlockJSON `json:"samples"`
	Beacons                    []textBlockJSON `json:"beacons"`
	ObservationModelParameters string          `json:"ObservationModelParameters"`
}

// Parse decodes a model bundle document already in memory. If the
// bundle has no stored ObservationModelParameters blob, trainCfg
// governs the fallback training run.
func Parse(raw []byte, trainCfg obsmodel.TrainConfig) (*Bundle, error) {
	var doc bundleJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("modelio: parse bundle json: %w", err)
	}

	building := bldg.NewMap()
	for _, layer := range doc.Layers {
		png, err := base64.StdEncoding.DecodeString(layer.Data)
		if err != nil {
			return nil, fmt.Errorf("modelio: decode floor %d png: %w", layer.Param.Floor, err)
		}
		param := bldg.LayerParam{
			PPMX: layer.Param.PPMX, PPMY: layer.Param.PPMY, PPMZ: layer.Param.PPMZ,
			OriginX: layer.Param.OriginX, OriginY: layer.Param.OriginY, OriginZ: layer.Param.OriginZ,
			Floor: layer.Param.Floor,
		}
		floor, err := bldg.DecodeFloorPNG(png, param, 1.0)
		if err != nil {
			return nil, fmt.Errorf("modelio: decode floor %d: %w", layer.Param.Floor, err)
		}
		building.AddFloor(floor)
	}

	knownBeacons, err := parseBeaconsCSV(doc.Beacons)
	if err != nil {
		return nil, err
	}

	survey, err := parseSamplesCSV(doc.Samples)
	if err != nil {
		return nil, err
	}

	bundle := &Bundle{
		Anchor:       Anchor{Latitude: doc.Anchor.Latitude, Longitude: doc.Anchor.Longitude, Rotate: doc.Anchor.Rotate},
		Building:     building,
		KnownBeacons: knownBeacons,
		Survey:       survey,
	}

	if doc.ObservationModelParameters != "" {
		blob, err := base64.StdEncoding.DecodeString(doc.ObservationModelParameters)
		if err != nil {
			return nil, fmt.Errorf("modelio: decode observation model blob: %w", err)
		}
		params, err := obsmodel.DecodeParameters(blob)
		if err != nil {
			return nil, fmt.Errorf("modelio: %w", err)
		}
		bundle.Observation = params
		return bundle, nil
	}

	beaconLoc := make(map[uint32]geo.Location, len(knownBeacons))
	for id, loc := range knownBeacons {
		beaconLoc[id] = loc
	}
	params, err := obsmodel.Train(survey, beaconLoc, trainCfg)
	if err != nil {
		return nil, fmt.Errorf("modelio: train observation model: %w", err)
	}
	bundle.Observation = params
	bundle.Trained = true
	return bundle, nil
}

// parseBeaconsCSV parses every beacons text block as
// "major,minor,x,y,z,floor" rows (a header row is tolerated and
// skipped when its first field is not numeric).
func parseBeaconsCSV(blocks []textBlockJSON) (map[uint32]geo.Location, error) {
	out := make(map[uint32]geo.Location)
	for _, block := range blocks {
		rows, err := csv.NewReader(strings.NewReader(block.Data)).ReadAll()
		if err != nil {
			return nil, fmt.Errorf("modelio: parse beacons csv: %w", err)
		}
		for _, row := range rows {
			if len(row) < 6 {
				continue
			}
			major, err1 := strconv.ParseUint(strings.TrimSpace(row[0]), 10, 16)
			if err1 != nil {
				continue // header row
			}
			minor, _ := strconv.ParseUint(strings.TrimSpace(row[1]), 10, 16)
			x, _ := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
			y, _ := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
			z, _ := strconv.ParseFloat(strings.TrimSpace(row[4]), 64)
			floor, _ := strconv.ParseFloat(strings.TrimSpace(row[5]), 64)
			id := beacon.Beacon{Major: uint16(major), Minor: uint16(minor)}.ID()
			out[id] = geo.Location{X: x, Y: y, Z: z, Floor: floor}
		}
	}
	return out, nil
}

// parseSamplesCSV parses every samples text block as
// "floor,x,y,z,major,minor,rssi" rows, grouping readings by beacon ID.
// A header row is tolerated and skipped when its floor field isn't
// numeric.
func parseSamplesCSV(blocks []textBlockJSON) (map[uint32][]obsmodel.SurveySample, error) {
	out := make(map[uint32][]obsmodel.SurveySample)
	for _, block := range blocks {
		rows, err := csv.NewReader(strings.NewReader(block.Data)).ReadAll()
		if err != nil {
			return nil, fmt.Errorf("modelio: parse samples csv: %w", err)
		}
		for _, row := range rows {
			if len(row) < 7 {
				continue
			}
			floor, err1 := strconv.ParseFloat(strings.TrimSpace(row[0]), 64)
			if err1 != nil {
				continue // header row
			}
			x, _ := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
			y, _ := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
			z, _ := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
			major, _ := strconv.ParseUint(strings.TrimSpace(row[4]), 10, 16)
			minor, _ := strconv.ParseUint(strings.TrimSpace(row[5]), 10, 16)
			rssi, _ := strconv.ParseFloat(strings.TrimSpace(row[6]), 64)
			id := beacon.Beacon{Major: uint16(major), Minor: uint16(minor)}.ID()
			loc := geo.Location{X: x, Y: y, Z: z, Floor: floor}
			out[id] = append(out[id], obsmodel.SurveySample{Location: loc, RSSI: rssi})
		}
	}
	return out, nil
}
