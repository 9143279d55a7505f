// Package store caches a parsed model bundle's trained observation
// model and survey tables in SQLite, keyed by bundle path. It only
// stores and returns them; the engine still parses and, when the
// bundle has no stored model, trains before it consults this cache.
// Grounded on internal/db/db.go's `DB`
// wrapper embedding *sql.DB plus an embedded schema executed on open,
// using the same modernc.org/sqlite driver.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/banshee-data/bleloc/internal/geo"
	"github.com/banshee-data/bleloc/internal/obsmodel"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps a *sql.DB opened against the cache's SQLite file.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the SQLite cache at path and applies
// the embedded schema.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &DB{sqlDB}, nil
}

// SaveObservationModel persists the encoded observation model blob for
// bundlePath, overwriting any previous entry.
func (db *DB) SaveObservationModel(bundlePath string, params *obsmodel.Parameters, trainedAt time.Time) error {
	blob, err := obsmodel.EncodeParameters(params)
	if err != nil {
		return fmt.Errorf("store: encode observation model: %w", err)
	}
	_, err = db.Exec(
		`INSERT INTO model_params (bundle_path, params_blob, trained_at_unix) VALUES (?, ?, ?)
		 ON CONFLICT(bundle_path) DO UPDATE SET params_blob = excluded.params_blob, trained_at_unix = excluded.trained_at_unix`,
		bundlePath, blob, trainedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: save observation model: %w", err)
	}
	return nil
}

// LoadObservationModel returns the cached observation model for
// bundlePath, or (nil, nil) if no entry exists.
func (db *DB) LoadObservationModel(bundlePath string) (*obsmodel.Parameters, error) {
	var blob []byte
	err := db.QueryRow(`SELECT params_blob FROM model_params WHERE bundle_path = ?`, bundlePath).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load observation model: %w", err)
	}
	params, err := obsmodel.DecodeParameters(blob)
	if err != nil {
		return nil, fmt.Errorf("store: decode cached observation model: %w", err)
	}
	return params, nil
}

// SaveSurvey persists every survey sample and known beacon location
// for bundlePath, replacing any previous entries.
func (db *DB) SaveSurvey(bundlePath string, survey map[uint32][]obsmodel.SurveySample, known map[uint32]geo.Location) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin survey tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM survey_samples WHERE bundle_path = ?`, bundlePath); err != nil {
		return fmt.Errorf("store: clear survey samples: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM known_beacons WHERE bundle_path = ?`, bundlePath); err != nil {
		return fmt.Errorf("store: clear known beacons: %w", err)
	}

	for id, samples := range survey {
		for _, s := range samples {
			_, err := tx.Exec(
				`INSERT INTO survey_samples (bundle_path, beacon_id, floor, x, y, z, rssi) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				bundlePath, id, s.Location.Floor, s.Location.X, s.Location.Y, s.Location.Z, s.RSSI,
			)
			if err != nil {
				return fmt.Errorf("store: insert survey sample: %w", err)
			}
		}
	}
	for id, loc := range known {
		_, err := tx.Exec(
			`INSERT INTO known_beacons (bundle_path, beacon_id, floor, x, y, z) VALUES (?, ?, ?, ?, ?, ?)`,
			bundlePath, id, loc.Floor, loc.X, loc.Y, loc.Z,
		)
		if err != nil {
			return fmt.Errorf("store: insert known beacon: %w", err)
		}
	}
	return tx.Commit()
}

// LoadSurvey returns the cached survey samples and known beacons for
// bundlePath. Both maps are empty (not nil) if no rows exist.
func (db *DB) LoadSurvey(bundlePath string) (map[uint32][]obsmodel.SurveySample, map[uint32]geo.Location, error) {
	survey := make(map[uint32][]obsmodel.SurveySample)
	rows, err := db.Query(`SELECT beacon_id, floor, x, y, z, rssi FROM survey_samples WHERE bundle_path = ?`, bundlePath)
	if err != nil {
		return nil, nil, fmt.Errorf("store: load survey samples: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uint32
		var floor, x, y, z, rssi float64
		if err := rows.Scan(&id, &floor, &x, &y, &z, &rssi); err != nil {
			return nil, nil, fmt.Errorf("store: scan survey sample: %w", err)
		}
		survey[id] = append(survey[id], obsmodel.SurveySample{
			Location: geo.Location{X: x, Y: y, Z: z, Floor: floor},
			RSSI:     rssi,
		})
	}

	known := make(map[uint32]geo.Location)
	beaconRows, err := db.Query(`SELECT beacon_id, floor, x, y, z FROM known_beacons WHERE bundle_path = ?`, bundlePath)
	if err != nil {
		return nil, nil, fmt.Errorf("store: load known beacons: %w", err)
	}
	defer beaconRows.Close()
	for beaconRows.Next() {
		var id uint32
		var floor, x, y, z float64
		if err := beaconRows.Scan(&id, &floor, &x, &y, &z); err != nil {
			return nil, nil, fmt.Errorf("store: scan known beacon: %w", err)
		}
		known[id] = geo.Location{X: x, Y: y, Z: z, Floor: floor}
	}
	return survey, known, nil
}
