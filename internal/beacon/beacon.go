// Package beacon holds the BLE beacon data model and the strongest-K
// filter with temporal smoothing described in spec.md §3 and §4.1.
package beacon

import (
	"sort"

	"github.com/banshee-data/bleloc/internal/geo"
)

// SentinelRSSI marks "no reading / unknown" and must never be
// aggregated into a scan.
const SentinelRSSI = 0

// Beacon is one observed BLE advertisement within a scan.
type Beacon struct {
	Major uint16
	Minor uint16
	RSSI  float64 // dBm, negative; 0 is the sentinel "no reading"
}

// ID returns the (major<<16)|minor identifier used to key known beacons.
func (b Beacon) ID() uint32 {
	return uint32(b.Major)<<16 | uint32(b.Minor)
}

// Scan is an ordered sequence of Beacon observations sharing one
// monotonic timestamp (milliseconds).
type Scan struct {
	Beacons   []Beacon
	Timestamp int64
}

// KnownBeacon is a beacon whose location is fixed by the model bundle.
type KnownBeacon struct {
	ID       uint32
	Location geo.Location
}

// Filter implements the strongest-K beacon filter (C4): beacons with
// the sentinel RSSI are dropped, the remainder sorted descending by
// RSSI, and only the top K kept.
type Filter struct {
	K int
}

// NewFilter returns a Filter keeping the k strongest beacons per scan.
func NewFilter(k int) *Filter {
	if k <= 0 {
		k = 10
	}
	return &Filter{K: k}
}

// Apply drops sentinel readings, sorts the rest descending by RSSI and
// returns at most f.K of them. The input scan's Beacons slice is not
// mutated; the returned scan shares the same Timestamp.
func (f *Filter) Apply(scan Scan) Scan {
	kept := make([]Beacon, 0, len(scan.Beacons))
	for _, b := range scan.Beacons {
		if b.RSSI == SentinelRSSI {
			continue
		}
		kept = append(kept, b)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].RSSI > kept[j].RSSI })
	if len(kept) > f.K {
		kept = kept[:f.K]
	}
	return Scan{Beacons: kept, Timestamp: scan.Timestamp}
}

// SmoothMode selects one of the two mutually exclusive temporal
// smoothing strategies of spec.md §4.1.
type SmoothMode int

const (
	// SmoothLocation passes the raw filtered scan through unchanged;
	// smoothing instead applies to the reported mean location, via a
	// ring of recent particle-state snapshots owned by the caller.
	SmoothLocation SmoothMode = iota
	// SmoothRSSI synthesizes a scan whose per-beacon RSSI is the mean
	// of its non-sentinel occurrences across the last M raw scans.
	SmoothRSSI
)

// RSSIRing implements SmoothRSSI: it remembers the last M raw scans
// and, for each new scan, emits beacons averaged across the ring.
type RSSIRing struct {
	capacity int
	scans    []Scan // ring buffer, oldest first, capped at capacity
}

// NewRSSIRing returns a ring that retains up to m (clamped to [1,10])
// historical scans, per spec.md §4.1 ("M ≤ 10").
func NewRSSIRing(m int) *RSSIRing {
	if m <= 0 {
		m = 1
	}
	if m > 10 {
		m = 10
	}
	return &RSSIRing{capacity: m}
}

// Push records a new raw scan and returns the synthesized,
// temporally-smoothed scan to submit to the strongest-K filter.
func (r *RSSIRing) Push(scan Scan) Scan {
	r.scans = append(r.scans, scan)
	if len(r.scans) > r.capacity {
		r.scans = r.scans[len(r.scans)-r.capacity:]
	}

	sums := make(map[uint32]float64)
	counts := make(map[uint32]int)
	order := make([]uint32, 0)
	for _, s := range r.scans {
		for _, b := range s.Beacons {
			if b.RSSI == SentinelRSSI {
				continue
			}
			id := b.ID()
			if _, ok := sums[id]; !ok {
				order = append(order, id)
			}
			sums[id] += b.RSSI
			counts[id]++
		}
	}

	out := make([]Beacon, 0, len(order))
	for _, id := range order {
		out = append(out, Beacon{
			Major: uint16(id >> 16),
			Minor: uint16(id),
			RSSI:  sums[id] / float64(counts[id]),
		})
	}
	return Scan{Beacons: out, Timestamp: scan.Timestamp}
}
