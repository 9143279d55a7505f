package obsmodel

import (
	"fmt"
	"math"

	"github.com/banshee-data/bleloc/internal/geo"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// TrainingError is returned by TrainBeacon and Train when a beacon has
// too few samples, the LDPL least-squares solve fails, or the GP Gram
// matrix cannot be factorized. Both fits are direct solves; no
// iteration budget is involved and TrainConfig.MaxIteration is not read.
type TrainingError struct {
	Reason string
}

func (e *TrainingError) Error() string { return "obsmodel: training did not converge: " + e.Reason }

// SurveySample is one training survey observation: a known location
// plus the RSSI reading for one beacon taken there.
type SurveySample struct {
	Location geo.Location
	RSSI     float64
}

// TrainConfig controls the LDPL fit and GP kernel hyperparameters.
type TrainConfig struct {
	DistanceOffset float64
	KernelVariance float64
	LengthScale    float64
	UseMatern      bool
	Nugget         float64 // GP regularization added to the kernel diagonal
	MaxIteration   int
}

// DefaultTrainConfig returns reasonable defaults for fitting a
// building-scale BLE survey.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		DistanceOffset: 1.0,
		KernelVariance: 16.0,
		LengthScale:    8.0,
		Nugget:         1.0,
		MaxIteration:   100,
	}
}

// TrainBeacon fits an LDPL Theta and a GP residual correction for one
// beacon from its survey samples, at beaconLoc.
//
// The LDPL fit is least squares over
// rssi ≈ θ0 − 10·θ1·log10(max(d,dOffset)) − θ2·Δfloor − θ3·horiz,
// solved via gonum/mat's QR-backed least-squares solver with a
// negligible ridge term, so a coefficient whose column never varies
// in the survey (e.g. θ2 when every sample shares the beacon's floor)
// fits to 0 instead of failing the solve. The GP
// residual is trained on the LDPL fit's residuals using the supplied
// kernel, with the α-vector computed as K⁻¹·r (via Cholesky with a
// nugget for numerical stability) so that per-particle evaluation at
// query time is a simple α·k(query, ·) dot product (spec.md §4.4 step
// 2; Design Note "Per-beacon GP caching").
func TrainBeacon(samples []SurveySample, beaconLoc geo.Location, cfg TrainConfig) (*PerBeaconModel, error) {
	n := len(samples)
	if n < 4 {
		return nil, &TrainingError{Reason: fmt.Sprintf("need at least 4 samples, got %d", n)}
	}

	designRows := make([]float64, 0, n*4)
	target := make([]float64, n)
	for i, s := range samples {
		d := s.Location.Distance3D(beaconLoc)
		if d < cfg.DistanceOffset {
			d = cfg.DistanceOffset
		}
		deltaFloor := math.Abs(s.Location.Floor - beaconLoc.Floor)
		horiz := s.Location.Distance2D(beaconLoc)
		designRows = append(designRows,
			1,
			-10*math.Log10(d),
			-deltaFloor,
			-horiz,
		)
		target[i] = s.RSSI
	}

	// A column that is zero for every sample (Δfloor on a single-floor
	// survey) would leave A rank-deficient and the QR solve would fail;
	// one tiny ridge row per coefficient keeps it full rank.
	const ridge = 1e-6
	for c := 0; c < 4; c++ {
		row := [4]float64{}
		row[c] = ridge
		designRows = append(designRows, row[:]...)
		target = append(target, 0)
	}

	A := mat.NewDense(n+4, 4, designRows)
	y := mat.NewVecDense(n+4, target)

	var qr mat.QR
	qr.Factorize(A)
	var thetaVec mat.VecDense
	if err := qr.SolveVecTo(&thetaVec, false, y); err != nil {
		return nil, &TrainingError{Reason: err.Error()}
	}
	theta := Theta{
		Theta0: thetaVec.AtVec(0),
		Theta1: thetaVec.AtVec(1),
		Theta2: thetaVec.AtVec(2),
		Theta3: thetaVec.AtVec(3),
	}

	residuals := make([]float64, n)
	for i, s := range samples {
		d := s.Location.Distance3D(beaconLoc)
		if d < cfg.DistanceOffset {
			d = cfg.DistanceOffset
		}
		deltaFloor := math.Abs(s.Location.Floor - beaconLoc.Floor)
		horiz := s.Location.Distance2D(beaconLoc)
		base := theta.Theta0 - 10*theta.Theta1*math.Log10(d) - theta.Theta2*deltaFloor - theta.Theta3*horiz
		residuals[i] = s.RSSI - base
	}
	_, sigma2 := stat.MeanVariance(residuals, nil)
	sigma := math.Sqrt(sigma2)
	if sigma < 1e-3 {
		sigma = 1e-3
	}

	kernel := kernelFromConfig(cfg)
	alpha, err := solveGPAlpha(samples, residuals, kernel, cfg.Nugget)
	if err != nil {
		return nil, err
	}

	locs := make([]geo.Location, n)
	for i, s := range samples {
		locs[i] = s.Location
	}

	return &PerBeaconModel{
		Theta:   theta,
		Sigma:   sigma,
		Kernel:  kernel,
		Samples: locs,
		Alpha:   alpha,
	}, nil
}

// Train fits a full Parameters set from a building-wide survey:
// sampled[id] holds every survey reading for beacon id, beaconLoc[id]
// its known location. Beacons with fewer than 4 samples are skipped
// (left to Parameters.Global / the unknown-beacon policy at query
// time) rather than failing the whole training run; Train only
// returns an error when not a single beacon could be fit.
func Train(samples map[uint32][]SurveySample, beaconLoc map[uint32]geo.Location, cfg TrainConfig) (*Parameters, error) {
	params := DefaultParameters()
	params.DistanceOffset = cfg.DistanceOffset

	var lastErr error
	fitted := 0
	for id, s := range samples {
		loc, ok := beaconLoc[id]
		if !ok {
			continue
		}
		m, err := TrainBeacon(s, loc, cfg)
		if err != nil {
			lastErr = err
			continue
		}
		params.PerBeacon[id] = m
		fitted++
	}
	if fitted == 0 {
		if lastErr == nil {
			lastErr = &TrainingError{Reason: "no beacons had a known location with enough samples"}
		}
		return nil, lastErr
	}

	params.Global = globalFallback(params.PerBeacon)
	return &params, nil
}

// globalFallback averages every fitted beacon's Theta0/Theta1 and Sigma
// into a bias-free fallback model, used for a scanned beacon that has a
// known location but no per-beacon fit (see Parameters.modelFor),
// whatever the UnknownPolicy. Beacons with no known location never
// reach it.
func globalFallback(perBeacon map[uint32]*PerBeaconModel) *PerBeaconModel {
	var theta0, theta1, sigma float64
	n := float64(len(perBeacon))
	for _, m := range perBeacon {
		theta0 += m.Theta.Theta0
		theta1 += m.Theta.Theta1
		sigma += m.Sigma
	}
	return &PerBeaconModel{
		Theta: Theta{Theta0: theta0 / n, Theta1: theta1 / n},
		Sigma: sigma / n,
	}
}

func kernelFromConfig(cfg TrainConfig) Kernel {
	if cfg.UseMatern {
		return Matern32{Variance: cfg.KernelVariance, LengthScale: cfg.LengthScale}
	}
	return SquaredExponential{Variance: cfg.KernelVariance, LengthScale: cfg.LengthScale}
}

// solveGPAlpha computes α = (K + nugget·I)⁻¹·r via Cholesky
// factorization of the Gram matrix K built from kernel over samples.
func solveGPAlpha(samples []SurveySample, residuals []float64, kernel Kernel, nugget float64) ([]float64, error) {
	n := len(samples)
	K := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := kernel.Eval(samples[i].Location, samples[j].Location)
			if i == j {
				v += nugget
			}
			K.SetSym(i, j, v)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(K); !ok {
		return nil, &TrainingError{Reason: "GP Gram matrix is not positive definite"}
	}

	r := mat.NewVecDense(n, residuals)
	var alpha mat.VecDense
	if err := chol.SolveVecTo(&alpha, r); err != nil {
		return nil, &TrainingError{Reason: err.Error()}
	}

	out := make([]float64, n)
	for i := range out {
		out[i] = alpha.AtVec(i)
	}
	return out, nil
}
