// Package timeline provides the fixed-point frame positions and exact
// rational time mappings used throughout the mixing core.
//
// Audio positions are tracked as fixed-point frame numbers ([Fixed]) with
// sub-frame ("subframe") precision, so that resampling arithmetic never
// loses fractional position. Conversions between timelines (reference
// clocks, monotonic time, frame counters) are expressed as exact rational
// affine mappings ([Rate], [Function]) rather than floating point, so that
// long-running positions do not drift from rounding error.
package timeline

import "fmt"

// FracBits is the number of fractional bits in a Fixed frame position.
// 13 bits gives 8192 subframes per frame, fine enough that one subframe of
// position error at 192kHz is under a nanosecond.
const FracBits = 13

// FracOne is the raw value of exactly one frame.
const FracOne = int64(1) << FracBits

// FracHalf is the raw value of half a frame.
const FracHalf = FracOne >> 1

// fracMask isolates the fractional subframe bits of a raw value.
const fracMask = FracOne - 1

// Fixed is a fixed-point frame position: the upper bits are a signed frame
// index, the low FracBits bits are the fractional subframe offset.
// Arithmetic on Fixed values is ordinary int64 arithmetic on the raw
// representation; helpers below handle the rounding policies.
type Fixed int64

// FixedFromInt64 returns the Fixed position of an integral frame number.
func FixedFromInt64(frames int64) Fixed {
	return Fixed(frames << FracBits)
}

// FixedFromRaw wraps a raw subframe count as a Fixed position.
func FixedFromRaw(raw int64) Fixed {
	return Fixed(raw)
}

// Raw returns the underlying subframe count.
func (f Fixed) Raw() int64 {
	return int64(f)
}

// Floor returns the largest integral frame number not greater than f.
func (f Fixed) Floor() int64 {
	// Arithmetic shift floors for negative values as well.
	return int64(f) >> FracBits
}

// Ceiling returns the smallest integral frame number not less than f.
func (f Fixed) Ceiling() int64 {
	return -((-int64(f)) >> FracBits)
}

// Round returns the nearest integral frame number, rounding half away
// from the floor (i.e. x.5 rounds up).
func (f Fixed) Round() int64 {
	return (int64(f) + FracHalf) >> FracBits
}

// Integral returns f with its fractional subframe bits cleared
// (truncated toward negative infinity).
func (f Fixed) Integral() Fixed {
	return Fixed(int64(f) &^ fracMask)
}

// Fraction returns only the fractional subframe component of f,
// always in [0, FracOne).
func (f Fixed) Fraction() Fixed {
	return Fixed(int64(f) & fracMask)
}

// Abs returns the absolute value of f.
func (f Fixed) Abs() Fixed {
	if f < 0 {
		return -f
	}
	return f
}

// String formats f as "frames+subframes/8192" for diagnostics.
func (f Fixed) String() string {
	return fmt.Sprintf("%d+%d/%d", f.Floor(), f.Fraction().Raw(), FracOne)
}
