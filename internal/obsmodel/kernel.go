package obsmodel

import (
	"math"

	"github.com/banshee-data/bleloc/internal/geo"
)

// Kernel is a covariance function over receiver locations, used by the
// Gaussian-Process residual correction (spec.md §4.4).
type Kernel interface {
	Eval(a, b geo.Location) float64
}

// SquaredExponential is the classic GP kernel k(a,b) = σ²·exp(-d²/2l²).
type SquaredExponential struct {
	Variance   float64
	LengthScale float64
}

func (k SquaredExponential) Eval(a, b geo.Location) float64 {
	d := a.Distance2D(b)
	l := k.LengthScale
	if l <= 0 {
		l = 1
	}
	return k.Variance * math.Exp(-(d*d)/(2*l*l))
}

// Matern32 is the Matérn kernel with ν=3/2, a common choice for
// physically-motivated spatial fields with one derivative of
// smoothness (rougher than squared-exponential).
type Matern32 struct {
	Variance    float64
	LengthScale float64
}

func (k Matern32) Eval(a, b geo.Location) float64 {
	d := a.Distance2D(b)
	l := k.LengthScale
	if l <= 0 {
		l = 1
	}
	r := math.Sqrt(3) * d / l
	return k.Variance * (1 + r) * math.Exp(-r)
}
