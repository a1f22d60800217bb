package timeline

import (
	"fmt"
	"math"
	"math/bits"
)

// Rounding selects the direction a lossy conversion rounds.
type Rounding int

const (
	// RoundDown rounds toward negative infinity.
	RoundDown Rounding = iota
	// RoundUp rounds toward positive infinity.
	RoundUp
)

// Rate is an exact ratio of two timelines: subjectDelta units of the
// subject timeline elapse per referenceDelta units of the reference
// timeline. Rates are kept in reduced form. The zero value is the
// zero rate (subject does not advance).
type Rate struct {
	subjectDelta   uint64
	referenceDelta uint64
}

// ZeroRate is the rate of a stopped timeline.
var ZeroRate = Rate{subjectDelta: 0, referenceDelta: 1}

// NewRate returns the reduced rate subjectDelta/referenceDelta.
// referenceDelta must be non-zero.
func NewRate(subjectDelta, referenceDelta uint64) Rate {
	if referenceDelta == 0 {
		panic("timeline: rate with zero reference delta")
	}
	g := gcd(subjectDelta, referenceDelta)
	if g == 0 {
		return Rate{subjectDelta: 0, referenceDelta: 1}
	}
	return Rate{subjectDelta: subjectDelta / g, referenceDelta: referenceDelta / g}
}

// SubjectDelta returns the numerator of the reduced rate.
func (r Rate) SubjectDelta() uint64 { return r.subjectDelta }

// ReferenceDelta returns the denominator of the reduced rate.
func (r Rate) ReferenceDelta() uint64 {
	if r.referenceDelta == 0 {
		// The zero value of Rate behaves as 0/1.
		return 1
	}
	return r.referenceDelta
}

// IsZero reports whether the subject timeline does not advance.
func (r Rate) IsZero() bool { return r.subjectDelta == 0 }

// Inverse returns the reciprocal rate. r must not be zero.
func (r Rate) Inverse() Rate {
	if r.subjectDelta == 0 {
		panic("timeline: inverse of zero rate")
	}
	return Rate{subjectDelta: r.ReferenceDelta(), referenceDelta: r.subjectDelta}
}

// Scale converts value reference units into subject units, computing
// value*subjectDelta/referenceDelta through a 128-bit intermediate so the
// product cannot silently overflow. Results beyond the int64 range
// saturate to math.MaxInt64 / math.MinInt64.
func (r Rate) Scale(value int64, rounding Rounding) int64 {
	refDelta := r.ReferenceDelta()
	neg := value < 0
	mag := uint64(value)
	if neg {
		mag = uint64(-value)
	}

	hi, lo := bits.Mul64(mag, r.subjectDelta)
	if hi >= refDelta {
		if neg {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	q, rem := bits.Div64(hi, lo, refDelta)

	// Direction-aware rounding: rounding is defined on the signed result.
	if rem != 0 {
		if (!neg && rounding == RoundUp) || (neg && rounding == RoundDown) {
			q++
		}
	}

	if neg {
		if q > uint64(math.MaxInt64)+1 {
			return math.MinInt64
		}
		return -int64(q)
	}
	if q > uint64(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(q)
}

// ProductRate returns a*b. When the exact product cannot be represented in
// uint64/uint64 even after reduction, the result is approximated by
// discarding low-order bits; set exact to panic instead of approximating.
func ProductRate(a, b Rate, exact bool) Rate {
	aSub, aRef := a.subjectDelta, a.ReferenceDelta()
	bSub, bRef := b.subjectDelta, b.ReferenceDelta()

	// Cross-reduce before multiplying to keep the products small.
	if g := gcd(aSub, bRef); g > 1 {
		aSub /= g
		bRef /= g
	}
	if g := gcd(bSub, aRef); g > 1 {
		bSub /= g
		aRef /= g
	}

	subHi, subLo := bits.Mul64(aSub, bSub)
	refHi, refLo := bits.Mul64(aRef, bRef)

	approximated := false
	for subHi != 0 || refHi != 0 {
		approximated = true
		subLo = subLo>>1 | subHi<<63
		subHi >>= 1
		refLo = refLo>>1 | refHi<<63
		refHi >>= 1
	}
	if approximated && exact {
		panic(fmt.Sprintf("timeline: rate product %d/%d * %d/%d cannot be exact",
			a.subjectDelta, a.ReferenceDelta(), b.subjectDelta, b.ReferenceDelta()))
	}
	if refLo == 0 {
		// Approximation shifted the denominator to zero; the true value is
		// astronomically large. Saturate.
		return Rate{subjectDelta: math.MaxUint64, referenceDelta: 1}
	}
	return NewRate(subLo, refLo)
}

// MulDivMod computes (a*b)/den and (a*b)%den through a 128-bit
// intermediate. den must be non-zero and the quotient must fit in uint64.
func MulDivMod(a, b, den uint64) (quot, rem uint64) {
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		panic("timeline: MulDivMod quotient overflows uint64")
	}
	return bits.Div64(hi, lo, den)
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
