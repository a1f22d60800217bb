package mixer

import (
	"log"
	"math/big"
	"math/bits"
	"time"

	"github.com/soundmesh/go-audio-mixer/internal/filter"
	"github.com/soundmesh/go-audio-mixer/timeline"
)

// PrecomputeFilters builds the coefficient tables for common rate pairs
// ahead of time, so the first Select on a deadline thread does not pay
// table construction cost.
func PrecomputeFilters() {
	filter.Precompute(timeline.FracBits)
}

// Resampler selects the sample-rate conversion algorithm for a mix edge.
type Resampler int

const (
	// ResamplerDefault lets Select pick: sample-and-hold when the rates
	// match exactly, windowed sinc otherwise.
	ResamplerDefault Resampler = iota

	// ResamplerSampleAndHold picks the nearest source frame. Cheap, and
	// transparent when no rate conversion occurs.
	ResamplerSampleAndHold

	// ResamplerWindowedSinc interpolates with a windowed-sinc kernel for
	// high-quality arbitrary-ratio conversion.
	ResamplerWindowedSinc
)

func (r Resampler) String() string {
	switch r {
	case ResamplerDefault:
		return "default"
	case ResamplerSampleAndHold:
		return "sample-and-hold"
	case ResamplerWindowedSinc:
		return "windowed-sinc"
	default:
		return "unknown"
	}
}

// sampler is the algorithm behind a Mixer. Implementations keep per-edge
// history so consecutive mix calls are seamless across buffer boundaries.
type sampler interface {
	positiveWidth() timeline.Fixed
	negativeWidth() timeline.Fixed
	mix(a *mixArgs) bool
	reset()
}

// mixArgs carries one mix call's inputs. destOffset and sourceOffset are
// advanced in place.
type mixArgs struct {
	dest         []float32
	destFrames   int64
	destOffset   *int64
	source       []float32
	sourceFrames int64
	sourceOffset *timeline.Fixed
	accumulate   bool
	bk           *Bookkeeping
}

// Bookkeeping is the short-lived state of one mix edge: the resampling
// stride and the gain to apply. It is rewritten as often as every mix job
// by clock reconciliation.
type Bookkeeping struct {
	// Gain is the edge's gain state, applied sample by sample during Mix.
	Gain Gain

	stepSize    timeline.Fixed
	rateModulo  uint64
	denominator uint64

	// SourcePosModulo is the current position's fractional-subframe
	// remainder, in units of 1/denominator subframe.
	SourcePosModulo uint64

	// destFramesPerRefNs maps destination reference time to destination
	// frames, set when the edge is bound to a destination. Gain ramps
	// advance against this rate.
	destFramesPerRefNs timeline.Rate

	// scaleScratch is reused by mix calls while a ramp is in flight.
	scaleScratch [maxRampFrames]float32
}

// StepSize is the fixed-point source stride per destination frame.
func (b *Bookkeeping) StepSize() timeline.Fixed { return b.stepSize }

// SetStepSize replaces the integer-and-subframe portion of the stride.
func (b *Bookkeeping) SetStepSize(step timeline.Fixed) {
	if step < 0 {
		panic("mixer: negative step size")
	}
	b.stepSize = step
}

// RateModulo and Denominator express the stride precision beyond one
// subframe: the true stride is StepSize + RateModulo/Denominator subframe.
func (b *Bookkeeping) RateModulo() uint64  { return b.rateModulo }
func (b *Bookkeeping) Denominator() uint64 { return b.denominator }

// SetRateModuloAndDenominator updates the fractional stride. When the
// denominator changes, any position modulo already accumulated (both the
// edge's and info's long-running one, if info is non-nil) is rescaled
// proportionally so the represented position is preserved.
func (b *Bookkeeping) SetRateModuloAndDenominator(rateModulo, denominator uint64, info *SourceInfo) {
	if rateModulo == 0 {
		denominator = 1
	}
	if denominator == 0 {
		panic("mixer: zero denominator")
	}
	if rateModulo >= denominator {
		panic("mixer: rate modulo must be less than denominator")
	}
	if rateModulo == b.rateModulo && denominator == b.denominator {
		return
	}
	if b.denominator > 0 && denominator != b.denominator {
		b.SourcePosModulo, _ = timeline.MulDivMod(b.SourcePosModulo, denominator, b.denominator)
		if info != nil {
			info.nextSourcePosModulo, _ =
				timeline.MulDivMod(info.nextSourcePosModulo, denominator, b.denominator)
		}
	}
	b.rateModulo = rateModulo
	b.denominator = denominator
	if rateModulo == 0 {
		b.SourcePosModulo = 0
		if info != nil {
			info.nextSourcePosModulo = 0
		}
	}
}

// DestLenToSourceLen returns exactly how much fixed-point source length is
// consumed by destFrames destination strides starting from the given
// position modulo.
func DestLenToSourceLen(destFrames int64, step timeline.Fixed,
	rateModulo, denominator, initialPosModulo uint64) timeline.Fixed {
	if destFrames < 0 {
		panic("mixer: negative dest length")
	}
	raw := step.Raw() * destFrames
	if rateModulo != 0 {
		q, r := timeline.MulDivMod(rateModulo, uint64(destFrames), denominator)
		if r+initialPosModulo >= denominator {
			q++
		}
		raw += int64(q)
	}
	return timeline.FixedFromRaw(raw)
}

// SourceLenToDestLen returns the minimum number of destination strides
// needed to advance through at least sourceLen of source, starting from
// the given position modulo. The stride must be positive.
func SourceLenToDestLen(sourceLen timeline.Fixed, step timeline.Fixed,
	rateModulo, denominator, initialPosModulo uint64) int64 {
	if sourceLen <= 0 {
		return 0
	}
	if step <= 0 && rateModulo == 0 {
		panic("mixer: non-positive step size")
	}
	if denominator == 0 {
		denominator = 1
	}

	// Strides n satisfy n*(step*denom + rateModulo) + initialPosModulo >=
	// sourceLen*denom; solve the ceiling with 128-bit intermediates.
	numHi, numLo := bits.Mul64(uint64(sourceLen.Raw()), denominator)
	var borrow uint64
	numLo, borrow = bits.Sub64(numLo, initialPosModulo, 0)
	numHi -= borrow

	denHi, denLo := bits.Mul64(uint64(step.Raw()), denominator)
	var carry uint64
	denLo, carry = bits.Add64(denLo, rateModulo, 0)
	denHi += carry

	if denHi == 0 {
		if numHi >= denLo {
			// The 128-by-64 quotient would overflow 64 bits; fall through
			// to the arbitrary-precision path.
			return bigCeilDiv(numHi, numLo, denHi, denLo)
		}
		q, r := bits.Div64(numHi, numLo, denLo)
		if r != 0 {
			q++
		}
		return int64(q)
	}
	return bigCeilDiv(numHi, numLo, denHi, denLo)
}

func bigCeilDiv(numHi, numLo, denHi, denLo uint64) int64 {
	num := new(big.Int).Lsh(new(big.Int).SetUint64(numHi), 64)
	num.Add(num, new(big.Int).SetUint64(numLo))
	den := new(big.Int).Lsh(new(big.Int).SetUint64(denHi), 64)
	den.Add(den, new(big.Int).SetUint64(denLo))
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Int64()
}

// SourceInfo is the long-running position state of one mix edge. Unlike
// Bookkeeping it survives clock reconciliation: it is only rewritten on
// discontinuities.
type SourceInfo struct {
	// clockMonoToFracSourceFrames maps monotonic ns to fixed-point source
	// frames; generation tracks the source's timeline version.
	clockMonoToFracSourceFrames timeline.Function
	generation                  uint64

	// destFramesToFracSourceFrames composes the destination and source
	// timelines into the mapping the mix loop actually uses.
	destFramesToFracSourceFrames timeline.Function

	nextDestFrame       int64
	nextSourceFrame     timeline.Fixed
	nextSourcePosModulo uint64

	// sourcePosError is the measured difference between nextSourceFrame
	// and the clock-derived ideal position, expressed as source time.
	sourcePosError time.Duration
}

// NextDestFrame is the destination frame the edge expects to mix next.
func (i *SourceInfo) NextDestFrame() int64 { return i.nextDestFrame }

// NextSourceFrame is the source position corresponding to NextDestFrame.
func (i *SourceInfo) NextSourceFrame() timeline.Fixed { return i.nextSourceFrame }

// NextSourcePosModulo is the sub-subframe remainder of NextSourceFrame.
func (i *SourceInfo) NextSourcePosModulo() uint64 { return i.nextSourcePosModulo }

// SourcePosError is the last measured position error.
func (i *SourceInfo) SourcePosError() time.Duration { return i.sourcePosError }

// DestFramesToFracSourceFrames is the composed dest-to-source mapping.
func (i *SourceInfo) DestFramesToFracSourceFrames() timeline.Function {
	return i.destFramesToFracSourceFrames
}

// ResetPositions restarts the edge's running positions at destFrame,
// deriving the source position from the composed timeline. Accumulated
// modulo and position error are discarded.
func (i *SourceInfo) ResetPositions(destFrame int64, bk *Bookkeeping) {
	i.nextDestFrame = destFrame
	i.nextSourceFrame = timeline.FixedFromRaw(i.destFramesToFracSourceFrames.Apply(destFrame))
	i.nextSourcePosModulo = 0
	i.sourcePosError = 0
	bk.SourcePosModulo = 0
}

// AdvanceAllPositionsBy advances the running positions by destFrames
// strides and keeps the edge's current position modulo in step.
func (i *SourceInfo) AdvanceAllPositionsBy(destFrames int64, bk *Bookkeeping) {
	i.advancePositionsBy(destFrames, bk, true)
}

// AdvanceAllPositionsTo advances the running positions to destFrame.
// Moving backward is allowed and rewinds exactly.
func (i *SourceInfo) AdvanceAllPositionsTo(destFrame int64, bk *Bookkeeping) {
	i.advancePositionsBy(destFrame-i.nextDestFrame, bk, true)
}

// UpdateRunningPositionsBy advances only the running positions, for use
// after a mix call has already advanced the edge's own modulo.
func (i *SourceInfo) UpdateRunningPositionsBy(destFrames int64, bk *Bookkeeping) {
	i.advancePositionsBy(destFrames, bk, false)
}

func (i *SourceInfo) advancePositionsBy(destFrames int64, bk *Bookkeeping, syncBkModulo bool) {
	if destFrames == 0 {
		return
	}
	raw := bk.stepSize.Raw() * destFrames

	if bk.rateModulo != 0 {
		denom := bk.denominator
		if destFrames > 0 {
			q, r := timeline.MulDivMod(bk.rateModulo, uint64(destFrames), denom)
			mod := i.nextSourcePosModulo + r
			if mod >= denom {
				mod -= denom
				q++
			}
			i.nextSourcePosModulo = mod
			raw += int64(q)
		} else {
			q, r := timeline.MulDivMod(bk.rateModulo, uint64(-destFrames), denom)
			mod := i.nextSourcePosModulo
			if mod < r {
				mod += denom
				q++
			}
			mod -= r
			i.nextSourcePosModulo = mod
			raw -= int64(q)
		}
		if syncBkModulo {
			bk.SourcePosModulo = i.nextSourcePosModulo
		}
	}

	i.nextSourceFrame += timeline.FixedFromRaw(raw)
	i.nextDestFrame += destFrames
}

// Mixer resamples and gain-scales one source stream into destination
// buffers. Instances are created by Select and owned by a single mix
// thread; Bookkeeping and SourceInfo expose the edge state that MixStage
// maintains between and during mix jobs.
type Mixer struct {
	sampler      sampler
	sourceFormat Format
	destFormat   Format

	bookkeeping Bookkeeping
	sourceInfo  SourceInfo
}

// Select builds the mixer for a source/destination format pairing.
// It never fails: an unsupported pairing yields a mixer that advances
// positions but produces silence, keeping the graph running while the
// misconfiguration is reported.
func Select(sourceFormat, destFormat Format, hint Resampler) *Mixer {
	m := &Mixer{sourceFormat: sourceFormat, destFormat: destFormat}
	m.bookkeeping.stepSize = timeline.FixedFromInt64(1)
	m.bookkeeping.denominator = 1
	m.bookkeeping.destFramesPerRefNs = destFormat.FramesPerNs()

	if err := sourceFormat.Validate(); err != nil {
		log.Printf("mixer: no-op mixer for unsupported source %v: %v", sourceFormat, err)
		m.sampler = newNoOpSampler()
		return m
	}
	if err := destFormat.Validate(); err != nil {
		log.Printf("mixer: no-op mixer for unsupported dest %v: %v", destFormat, err)
		m.sampler = newNoOpSampler()
		return m
	}
	if sourceFormat.Channels != destFormat.Channels {
		log.Printf("mixer: no-op mixer for channel mismatch %v -> %v", sourceFormat, destFormat)
		m.sampler = newNoOpSampler()
		return m
	}

	switch hint {
	case ResamplerSampleAndHold:
		m.sampler = newPointSampler(sourceFormat, destFormat)
	case ResamplerWindowedSinc:
		m.sampler = newSincSampler(sourceFormat, destFormat)
	default:
		if sourceFormat.FramesPerSecond == destFormat.FramesPerSecond {
			m.sampler = newPointSampler(sourceFormat, destFormat)
		} else {
			m.sampler = newSincSampler(sourceFormat, destFormat)
		}
	}
	return m
}

// SourceFormat and DestFormat return the formats the mixer was built for.
func (m *Mixer) SourceFormat() Format { return m.sourceFormat }
func (m *Mixer) DestFormat() Format   { return m.destFormat }

// Bookkeeping returns the edge's mutable stride-and-gain state.
func (m *Mixer) Bookkeeping() *Bookkeeping { return &m.bookkeeping }

// SourceInfo returns the edge's long-running position state.
func (m *Mixer) SourceInfo() *SourceInfo { return &m.sourceInfo }

// PosFilterWidth is how far beyond a destination frame's source position
// the filter reaches into the future, exclusive.
func (m *Mixer) PosFilterWidth() timeline.Fixed { return m.sampler.positiveWidth() }

// NegFilterWidth is the filter's reach into the past, exclusive.
func (m *Mixer) NegFilterWidth() timeline.Fixed { return m.sampler.negativeWidth() }

// Reset discards the sampler's cross-buffer history, for use at
// discontinuities where the previous samples no longer precede the next.
func (m *Mixer) Reset() { m.sampler.reset() }

// Mix resamples source into dest, advancing *destOffset and
// *sourceOffset. dest holds destFrames frames, source holds sourceFrames
// frames, both interleaved. When accumulate is set, samples are summed
// into dest, otherwise they overwrite it. The edge's gain and stride come
// from Bookkeeping; the position modulo in Bookkeeping is advanced.
//
// Mix returns true if it stopped because the source was exhausted, false
// if the destination filled first.
//
// On entry *sourceOffset must lie in [-PosFilterWidth, sourceFrames<<FracBits).
func (m *Mixer) Mix(dest []float32, destFrames int64, destOffset *int64,
	source []float32, sourceFrames int64, sourceOffset *timeline.Fixed, accumulate bool) bool {

	if *destOffset < 0 || *destOffset > destFrames {
		panic("mixer: dest offset out of range")
	}
	srcEnd := timeline.FixedFromInt64(sourceFrames)
	if *sourceOffset < -m.PosFilterWidth() || *sourceOffset >= srcEnd {
		panic("mixer: source offset out of range")
	}

	return m.sampler.mix(&mixArgs{
		dest:         dest,
		destFrames:   destFrames,
		destOffset:   destOffset,
		source:       source,
		sourceFrames: sourceFrames,
		sourceOffset: sourceOffset,
		accumulate:   accumulate,
		bk:           &m.bookkeeping,
	})
}

