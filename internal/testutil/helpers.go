// Package testutil provides reusable helpers for mixing and resampling
// tests: signal generators and slice-level assertions.
package testutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Default tolerances for various test scenarios.
const (
	DefaultTolerance = 1e-10
	SampleTolerance  = 1e-5
	DBTolerance      = 0.01
)

// SineFrames returns frames of a sine at freq Hz sampled at rate Hz, the
// same value duplicated across channels, interleaved.
func SineFrames(freq float64, rate int32, frames int64, channels int32, amplitude float64) []float32 {
	out := make([]float32, frames*int64(channels))
	for f := int64(0); f < frames; f++ {
		v := float32(amplitude * math.Sin(2*math.Pi*freq*float64(f)/float64(rate)))
		for c := int64(0); c < int64(channels); c++ {
			out[f*int64(channels)+c] = v
		}
	}
	return out
}

// ConstantFrames returns frames of a constant value across all channels.
func ConstantFrames(value float32, frames int64, channels int32) []float32 {
	out := make([]float32, frames*int64(channels))
	for i := range out {
		out[i] = value
	}
	return out
}

// RampFrames returns frames whose value at frame f is start + f*step, the
// same on every channel. Useful for checking which source frames a
// resampler picked.
func RampFrames(start, step float32, frames int64, channels int32) []float32 {
	out := make([]float32, frames*int64(channels))
	for f := int64(0); f < frames; f++ {
		v := start + float32(f)*step
		for c := int64(0); c < int64(channels); c++ {
			out[f*int64(channels)+c] = v
		}
	}
	return out
}

// AssertNoNaNOrInf verifies that no elements in the slice are NaN or Inf.
func AssertNoNaNOrInf(t *testing.T, s []float32, msgAndArgs ...any) bool {
	t.Helper()
	for i, v := range s {
		f := float64(v)
		if math.IsNaN(f) {
			return assert.Fail(t, "found NaN", "s[%d] is NaN", i)
		}
		if math.IsInf(f, 0) {
			return assert.Fail(t, "found Inf", "s[%d] is Inf", i)
		}
	}
	return true
}

// AssertAllInRange verifies that all elements are within [min, max].
func AssertAllInRange(t *testing.T, s []float32, minVal, maxVal float32, msgAndArgs ...any) bool {
	t.Helper()
	for i, v := range s {
		if v < minVal || v > maxVal {
			return assert.Fail(t, "value out of range",
				"s[%d]=%f is outside range [%f, %f]", i, v, minVal, maxVal)
		}
	}
	return true
}

// AssertAllZero verifies that every element is exactly zero.
func AssertAllZero(t *testing.T, s []float32, msgAndArgs ...any) bool {
	t.Helper()
	for i, v := range s {
		if v != 0 {
			return assert.Fail(t, "nonzero sample", "s[%d]=%f, want 0", i, v)
		}
	}
	return true
}

// AssertSamplesEqual verifies two sample slices match within tolerance.
func AssertSamplesEqual(t *testing.T, expected, actual []float32, tolerance float64, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Equal(t, len(expected), len(actual), "sample count mismatch") {
		return false
	}
	for i := range expected {
		if !assert.InDelta(t, expected[i], actual[i], tolerance,
			"sample mismatch at %d: got %f, want %f", i, actual[i], expected[i]) {
			return false
		}
	}
	return true
}

// AssertDCGain verifies that the sum of coefficients equals the expected
// DC gain.
func AssertDCGain(t *testing.T, coeffs []float32, expectedGain, tolerance float64) bool {
	t.Helper()
	var sum float64
	for _, c := range coeffs {
		sum += float64(c)
	}
	return assert.InDelta(t, expectedGain, sum, tolerance,
		"DC gain = %f, want %f", sum, expectedGain)
}

// AssertInRange verifies that a value is within [min, max].
func AssertInRange(t *testing.T, value, minVal, maxVal float64, msgAndArgs ...any) bool {
	t.Helper()
	if value < minVal || value > maxVal {
		return assert.Fail(t, "value out of range",
			"value %f is outside range [%f, %f]", value, minVal, maxVal)
	}
	return true
}

// AssertRelativeError verifies that the relative error between actual and
// expected is within tolerance.
func AssertRelativeError(t *testing.T, expected, actual, tolerance float64, msgAndArgs ...any) bool {
	t.Helper()
	if expected == 0 {
		return assert.InDelta(t, expected, actual, tolerance, msgAndArgs...)
	}
	relError := math.Abs(actual-expected) / math.Abs(expected)
	return assert.LessOrEqual(t, relError, tolerance,
		"relative error %e exceeds tolerance %e (expected=%f, actual=%f)",
		relError, tolerance, expected, actual)
}
