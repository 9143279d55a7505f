// Package obsmodel implements the GP-LDPL-MultiModel observation model
// (C5): a log-distance path-loss base model corrected by a per-beacon
// Gaussian-Process residual, scored against a particle State under a
// Gaussian or Student-t likelihood. Grounded on
// original_source/ble-cpp/src/model/GaussianProcessLDPLMultiModel.hpp
// for the per-beacon structure and spec.md §4.4 for the formula.
package obsmodel

import (
	"math"

	"github.com/banshee-data/bleloc/internal/beacon"
	"github.com/banshee-data/bleloc/internal/geo"
	"gonum.org/v1/gonum/stat/distuv"
)

// UnknownBeaconPolicy selects how a scan beacon absent from the model
// is handled (spec.md §4.4).
type UnknownBeaconPolicy int

const (
	IgnoreUnknown UnknownBeaconPolicy = iota
	GlobalStdevUnknown
)

// NormFuncKind selects the per-beacon residual likelihood.
type NormFuncKind int

const (
	NormFuncGaussian NormFuncKind = iota
	NormFuncStudentT
)

// Theta is the 4-parameter LDPL coefficient vector:
// μ_base = θ0 − 10·θ1·log10(max(d, dOffset)) − θ2·Δfloor − θ3·horiz.
type Theta struct {
	Theta0, Theta1, Theta2, Theta3 float64
}

// PerBeaconModel holds one beacon's trained LDPL coefficients, GP
// residual cache and likelihood stdev.
type PerBeaconModel struct {
	Theta Theta
	Sigma float64 // learned per-beacon stdev

	Kernel    Kernel
	Samples   []geo.Location // GP training locations X_j
	Alpha     []float64      // precomputed GP posterior-mean weights (read-only after training)
}

// gpMean evaluates the GP posterior mean at loc: a linear combination
// of stored sample residuals, i.e. alpha_i * k(loc, X_i).
func (m *PerBeaconModel) gpMean(loc geo.Location) float64 {
	if m.Kernel == nil || len(m.Alpha) == 0 {
		return 0
	}
	var sum float64
	for i, x := range m.Samples {
		sum += m.Alpha[i] * m.Kernel.Eval(loc, x)
	}
	return sum
}

// Parameters is the trained GP-LDPL-MultiModel: one PerBeaconModel per
// known beacon (or a global fallback), plus the shared likelihood and
// unknown-beacon configuration.
type Parameters struct {
	PerBeacon map[uint32]*PerBeaconModel
	Global    *PerBeaconModel // fallback theta/sigma when a beacon has no dedicated fit

	NormFunc               NormFuncKind
	StudentTDegreesOfFreedom float64

	UnknownPolicy             UnknownBeaconPolicy
	StdevRssiForUnknownBeacon float64

	CoeffDiffFloorStdev float64 // spec.md §4.4 floor-mismatch penalty multiplier
	DistanceOffset      float64 // d_offset, default 1.0m
}

// DefaultParameters returns spec.md's documented defaults for the
// shared (non-trained) fields.
func DefaultParameters() Parameters {
	return Parameters{
		PerBeacon:                 make(map[uint32]*PerBeaconModel),
		NormFunc:                  NormFuncGaussian,
		StudentTDegreesOfFreedom:  5,
		UnknownPolicy:             IgnoreUnknown,
		StdevRssiForUnknownBeacon: 8.0,
		CoeffDiffFloorStdev:       5.0,
		DistanceOffset:            1.0,
	}
}

func (p *Parameters) modelFor(id uint32) (*PerBeaconModel, bool) {
	if m, ok := p.PerBeacon[id]; ok {
		return m, true
	}
	return p.Global, p.Global != nil
}

// Mean returns μ_j(s): the predicted RSSI at state s for the beacon at
// knownLoc with the given model, including the GP residual and the
// particle's RSSI bias (spec.md §4.4, steps 1-2).
func (p *Parameters) Mean(s geo.State, knownLoc geo.Location, m *PerBeaconModel) float64 {
	d := s.Location.Distance3D(knownLoc)
	if d < p.DistanceOffset {
		d = p.DistanceOffset
	}
	deltaFloor := math.Abs(s.Location.Floor - knownLoc.Floor)
	horiz := s.Location.Distance2D(knownLoc)
	if math.Round(s.Location.Floor) != math.Round(knownLoc.Floor) {
		horiz *= p.CoeffDiffFloorStdev
	}
	base := m.Theta.Theta0 - 10*m.Theta.Theta1*math.Log10(d) - m.Theta.Theta2*deltaFloor - m.Theta.Theta3*horiz
	return base + m.gpMean(s.Location) + s.RSSIBias
}

func (p *Parameters) logProb(residual, sigma float64) float64 {
	if sigma <= 0 {
		sigma = 1e-6
	}
	switch p.NormFunc {
	case NormFuncStudentT:
		dist := distuv.StudentsT{Mu: 0, Sigma: sigma, Nu: p.StudentTDegreesOfFreedom}
		return dist.LogProb(residual)
	default:
		dist := distuv.Normal{Mu: 0, Sigma: sigma}
		return dist.LogProb(residual)
	}
}

// LogLikelihood computes the observation log-likelihood of scan under
// state s, summed over beacons (spec.md §4.4). known maps a beacon ID
// to its fixed location; beacons absent from known are handled per
// p.UnknownPolicy. The result is invariant to the order of beacons in
// scan (spec invariant: permutation invariance).
func (p *Parameters) LogLikelihood(s geo.State, scan beacon.Scan, known map[uint32]geo.Location) float64 {
	var total float64
	for _, b := range scan.Beacons {
		id := b.ID()
		loc, isKnown := known[id]
		model, hasModel := p.modelFor(id)

		if !isKnown || !hasModel {
			switch p.UnknownPolicy {
			case GlobalStdevUnknown:
				// No known location: score against the particle's own
				// floor/location is meaningless, so contribute a flat
				// residual of 0 at the global stdev (a mild penalty-free
				// term rather than silently dropping the beacon).
				total += p.logProb(0, p.StdevRssiForUnknownBeacon)
			default: // IgnoreUnknown
			}
			continue
		}

		mu := p.Mean(s, loc, model)
		total += p.logProb(b.RSSI-mu, model.Sigma)
	}
	return total
}
