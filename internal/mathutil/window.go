// Package mathutil provides mathematical functions for filter kernel design.
package mathutil

import "math"

const (
	// sincZeroThreshold is the |x| below which sinc(x) is evaluated at its
	// limit value of 1.0 to avoid 0/0.
	sincZeroThreshold = 1e-10

	// denormalThreshold is the magnitude below which filter coefficients are
	// flushed to zero. Denormal float operands cost orders of magnitude more
	// than normal ones on most CPUs, which matters in a per-sample loop.
	denormalThreshold = 1e-30
)

// Sinc computes the normalized sinc function sin(πx)/(πx).
func Sinc(x float64) float64 {
	if math.Abs(x) < sincZeroThreshold {
		return 1.0
	}
	arg := math.Pi * x
	return math.Sin(arg) / arg
}

// RaisedCosine evaluates a raised-cosine (Hann-like) window at position x
// relative to a one-sided half-width. The window is 1.0 at x=0 and falls
// to 0.0 at |x| = halfWidth; outside the half-width it is exactly zero.
func RaisedCosine(x, halfWidth float64) float64 {
	ax := math.Abs(x)
	if ax >= halfWidth {
		return 0.0
	}
	return 0.5 + 0.5*math.Cos(math.Pi*ax/halfWidth)
}

// FlushDenormal returns x, or exactly 0.0 when |x| is small enough that
// keeping it would introduce denormal operands into sample loops.
func FlushDenormal(x float64) float64 {
	if math.Abs(x) < denormalThreshold {
		return 0.0
	}
	return x
}
