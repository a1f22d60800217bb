// Package filter provides the precomputed convolution kernels used by the
// mixing samplers.
//
// A [Table] holds one-sided coefficients for a symmetric FIR filter,
// organized per fractional phase so that evaluating one output sample is
// two contiguous dot products (one over past source frames, one over
// future frames). Tables are immutable once built and shared through a
// process-wide cache keyed by their construction parameters.
package filter

import (
	"fmt"

	"github.com/soundmesh/go-audio-mixer/internal/mathutil"
	"github.com/tphakala/simd/f32"
	"github.com/tphakala/simd/f64"
)

// Kind selects the kernel family of a coefficient table.
type Kind int

const (
	// KindPoint is a nearest-neighbor (rectangular window) kernel. The two
	// frames equidistant from a midpoint sampling instant are averaged, which
	// keeps the filter zero-phase.
	KindPoint Kind = iota

	// KindLinear is a two-point triangular (Bartlett window) kernel.
	KindLinear

	// KindSinc is a windowed-sinc kernel: sinc multiplied by a raised-cosine
	// window, normalized per phase so DC gain is exactly 1.0.
	KindSinc
)

// String returns the kernel family name.
func (k Kind) String() string {
	switch k {
	case KindPoint:
		return "point"
	case KindLinear:
		return "linear"
	case KindSinc:
		return "sinc"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sinc kernel sizing.
const (
	// sincBaseSideTaps is the taps-per-side of the sinc kernel at unity or
	// upsampling ratios.
	sincBaseSideTaps = 13

	// sincMaxSideTaps caps kernel growth when downsampling. Beyond a 4x rate
	// reduction the kernel stops growing and anti-alias rejection degrades
	// gracefully instead of the table growing without bound.
	sincMaxSideTaps = 52
)

// Key identifies a coefficient table by its construction parameters.
// Tables with equal keys are interchangeable and shared.
type Key struct {
	Kind       Kind
	SourceRate int32
	DestRate   int32
	FracBits   int32
}

// Table is an immutable per-phase coefficient table for one side of a
// symmetric FIR filter.
//
// For a sampling instant S = c + φ (integral frame c, fractional phase φ),
// the output sample is
//
//	Σ src[c-k]·f(φ+k) + Σ src[c+1+k]·f(1-φ+k)       k = 0..sideTaps-1
//
// where f is the one-sided kernel. The past-side coefficients are stored
// reversed so that both sums are dot products over ascending source frames.
type Table struct {
	key       Key
	sideTaps  int
	numPhases int

	// pastRev[p][sideTaps-1-k] = f(φ(p) + k)
	pastRev [][]float32
	// future[p][k] = f(1 - φ(p) + k)
	future [][]float32
}

// Key returns the construction parameters of the table.
func (t *Table) Key() Key { return t.key }

// SideTaps returns the number of taps on each side of the kernel.
func (t *Table) SideTaps() int { return t.sideTaps }

// NumPhases returns the number of fractional phases (1 << FracBits).
func (t *Table) NumPhases() int { return t.numPhases }

// ComputeSample evaluates one output sample for the given fractional
// phase. past must hold the sideTaps source frames ending at the integral
// frame c (ascending order, past[sideTaps-1] == src[c]); future must hold
// the sideTaps frames starting at c+1. Both slices must be exactly
// sideTaps long.
func (t *Table) ComputeSample(phase int, past, future []float32) float32 {
	return f32.DotProductUnsafe(past, t.pastRev[phase]) +
		f32.DotProductUnsafe(future, t.future[phase])
}

// Coefficient returns f(φ(phase) + tap), primarily for analysis and tests.
func (t *Table) Coefficient(phase, tap int) float32 {
	return t.pastRev[phase][t.sideTaps-1-tap]
}

// FutureCoefficient returns f(1 - φ(phase) + tap), the weight of source
// frame c+1+tap.
func (t *Table) FutureCoefficient(phase, tap int) float32 {
	return t.future[phase][tap]
}

func newTable(key Key) *Table {
	if key.SourceRate <= 0 || key.DestRate <= 0 {
		panic(fmt.Sprintf("filter: invalid rates %d -> %d", key.SourceRate, key.DestRate))
	}
	if key.FracBits < 1 || key.FracBits > 20 {
		panic(fmt.Sprintf("filter: invalid fractional bit width %d", key.FracBits))
	}

	t := &Table{
		key:       key,
		numPhases: 1 << key.FracBits,
	}

	switch key.Kind {
	case KindPoint:
		t.sideTaps = 1
		t.fill(pointKernel(t.numPhases))
	case KindLinear:
		t.sideTaps = 1
		t.fill(linearKernel(t.numPhases))
	case KindSinc:
		stretch := float64(key.SourceRate) / float64(key.DestRate)
		if stretch < 1.0 {
			stretch = 1.0
		}
		const maxStretch = float64(sincMaxSideTaps) / float64(sincBaseSideTaps)
		if stretch > maxStretch {
			stretch = maxStretch
		}
		t.sideTaps = int(float64(sincBaseSideTaps)*stretch + 0.5)
		if t.sideTaps > sincMaxSideTaps {
			t.sideTaps = sincMaxSideTaps
		}
		t.fill(sincKernel(stretch, t.sideTaps))
	default:
		panic(fmt.Sprintf("filter: unknown kernel kind %d", int(key.Kind)))
	}
	return t
}

// kernelFunc evaluates the one-sided kernel at distance d frames from the
// sampling instant, d >= 0. phase is the fractional phase being built;
// point kernels need it to resolve the midpoint tie.
type kernelFunc func(d float64, phase, numPhases int) float64

func pointKernel(numPhases int) kernelFunc {
	return func(d float64, _, _ int) float64 {
		switch {
		case d < 0.5:
			return 1.0
		case d == 0.5:
			// Midpoint average: both neighbors contribute half.
			return 0.5
		default:
			return 0.0
		}
	}
}

func linearKernel(int) kernelFunc {
	return func(d float64, _, _ int) float64 {
		if d >= 1.0 {
			return 0.0
		}
		return 1.0 - d
	}
}

func sincKernel(stretch float64, sideTaps int) kernelFunc {
	cutoff := 1.0 / stretch
	halfWidth := float64(sideTaps)
	return func(d float64, _, _ int) float64 {
		return cutoff * mathutil.Sinc(cutoff*d) * mathutil.RaisedCosine(d, halfWidth)
	}
}

// fill evaluates the kernel over every (phase, tap) pair, normalizes each
// phase to unity DC gain, flushes denormals, and stores the float32
// coefficient slices.
func (t *Table) fill(kernel kernelFunc) {
	t.pastRev = make([][]float32, t.numPhases)
	t.future = make([][]float32, t.numPhases)

	past64 := make([]float64, t.sideTaps)
	future64 := make([]float64, t.sideTaps)

	for p := 0; p < t.numPhases; p++ {
		phi := float64(p) / float64(t.numPhases)
		for k := 0; k < t.sideTaps; k++ {
			past64[k] = kernel(phi+float64(k), p, t.numPhases)
			future64[k] = kernel((1.0-phi)+float64(k), p, t.numPhases)
		}

		// Normalize so each phase sums to exactly 1.0 (unity DC gain).
		sum := f64.Sum(past64) + f64.Sum(future64)
		if sum != 0 {
			scale := 1.0 / sum
			f64.Scale(past64, past64, scale)
			f64.Scale(future64, future64, scale)
		}

		pastRev := make([]float32, t.sideTaps)
		future := make([]float32, t.sideTaps)
		for k := 0; k < t.sideTaps; k++ {
			pastRev[t.sideTaps-1-k] = float32(mathutil.FlushDenormal(past64[k]))
			future[k] = float32(mathutil.FlushDenormal(future64[k]))
		}
		t.pastRev[p] = pastRev
		t.future[p] = future
	}
}
