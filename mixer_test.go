package mixer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundmesh/go-audio-mixer/timeline"
)

func monoFormat(rate int32) Format  { return Format{FramesPerSecond: rate, Channels: 1} }
func stereoFormat(rate int32) Format { return Format{FramesPerSecond: rate, Channels: 2} }

func TestFormatValidate(t *testing.T) {
	assert.NoError(t, monoFormat(48000).Validate())
	assert.ErrorIs(t, monoFormat(999).Validate(), ErrInvalidFormat)
	assert.ErrorIs(t, monoFormat(200000).Validate(), ErrInvalidFormat)
	assert.ErrorIs(t, Format{FramesPerSecond: 48000, Channels: 0}.Validate(), ErrInvalidFormat)
	assert.ErrorIs(t, Format{FramesPerSecond: 48000, Channels: 9}.Validate(), ErrInvalidFormat)
}

func TestSelectPicksSampler(t *testing.T) {
	tests := []struct {
		name     string
		source   Format
		dest     Format
		hint     Resampler
		wantSinc bool
	}{
		{"equal rates default to point", monoFormat(48000), monoFormat(48000), ResamplerDefault, false},
		{"unequal rates default to sinc", monoFormat(44100), monoFormat(48000), ResamplerDefault, true},
		{"explicit sinc at equal rates", monoFormat(48000), monoFormat(48000), ResamplerWindowedSinc, true},
		{"explicit point at unequal rates", monoFormat(96000), monoFormat(48000), ResamplerSampleAndHold, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Select(tt.source, tt.dest, tt.hint)
			require.NotNil(t, m)
			if tt.wantSinc {
				assert.IsType(t, &sincSampler{}, m.sampler)
				assert.Greater(t, m.PosFilterWidth().Floor(), int64(1))
			} else {
				assert.IsType(t, &pointSampler{}, m.sampler)
				assert.Equal(t, timeline.FixedFromRaw(timeline.FracHalf), m.PosFilterWidth())
			}
		})
	}
}

func TestSelectReturnsNoOpOnMismatch(t *testing.T) {
	t.Run("channel mismatch", func(t *testing.T) {
		m := Select(monoFormat(48000), stereoFormat(48000), ResamplerDefault)
		require.NotNil(t, m)
		assert.IsType(t, &noOpSampler{}, m.sampler)
	})
	t.Run("invalid source rate", func(t *testing.T) {
		m := Select(monoFormat(5), monoFormat(48000), ResamplerDefault)
		require.NotNil(t, m)
		assert.IsType(t, &noOpSampler{}, m.sampler)
	})
}

func TestBookkeepingSetStepSize(t *testing.T) {
	var bk Bookkeeping
	bk.SetStepSize(timeline.FixedFromInt64(2))
	assert.Equal(t, timeline.FixedFromInt64(2), bk.StepSize())
	assert.Panics(t, func() { bk.SetStepSize(timeline.FixedFromRaw(-1)) })
}

func TestSetRateModuloAndDenominator(t *testing.T) {
	t.Run("rejects invalid fractions", func(t *testing.T) {
		var bk Bookkeeping
		assert.Panics(t, func() { bk.SetRateModuloAndDenominator(5, 5, nil) })
		assert.Panics(t, func() { bk.SetRateModuloAndDenominator(7, 5, nil) })
	})

	t.Run("zero modulo clears position modulo", func(t *testing.T) {
		var bk Bookkeeping
		bk.SetRateModuloAndDenominator(3, 10, nil)
		bk.SourcePosModulo = 7
		bk.SetRateModuloAndDenominator(0, 99, nil)
		assert.Equal(t, uint64(0), bk.RateModulo())
		assert.Equal(t, uint64(1), bk.Denominator())
		assert.Equal(t, uint64(0), bk.SourcePosModulo)
	})

	t.Run("rescales carried modulo on denominator change", func(t *testing.T) {
		var bk Bookkeeping
		var info SourceInfo
		bk.SetRateModuloAndDenominator(1, 4, nil)
		bk.SourcePosModulo = 3 // 3/4 of a subframe
		info.nextSourcePosModulo = 2

		bk.SetRateModuloAndDenominator(1, 8, &info)
		assert.Equal(t, uint64(6), bk.SourcePosModulo) // still 3/4
		assert.Equal(t, uint64(4), info.nextSourcePosModulo)
	})
}

func TestDestLenToSourceLen(t *testing.T) {
	one := timeline.FixedFromInt64(1)

	t.Run("integral stride", func(t *testing.T) {
		got := DestLenToSourceLen(10, one, 0, 1, 0)
		assert.Equal(t, timeline.FixedFromInt64(10), got)
	})

	t.Run("fractional stride accumulates modulo", func(t *testing.T) {
		// Stride 1 + 1/3 subframe: 9 strides carry 3 extra subframes.
		got := DestLenToSourceLen(9, one, 1, 3, 0)
		assert.Equal(t, timeline.FixedFromRaw(9*timeline.FracOne+3), got)
	})

	t.Run("initial modulo can add a subframe", func(t *testing.T) {
		// 2/3 carried, plus 2 strides of 1/3 rolls over exactly once.
		got := DestLenToSourceLen(2, one, 1, 3, 2)
		assert.Equal(t, timeline.FixedFromRaw(2*timeline.FracOne+1), got)
	})
}

func TestSourceLenToDestLen(t *testing.T) {
	one := timeline.FixedFromInt64(1)

	t.Run("exact", func(t *testing.T) {
		assert.Equal(t, int64(10), SourceLenToDestLen(timeline.FixedFromInt64(10), one, 0, 1, 0))
	})

	t.Run("rounds up", func(t *testing.T) {
		src := timeline.FixedFromRaw(10*timeline.FracOne + 1)
		assert.Equal(t, int64(11), SourceLenToDestLen(src, one, 0, 1, 0))
	})

	t.Run("inverse of DestLenToSourceLen", func(t *testing.T) {
		step := timeline.FixedFromRaw(timeline.FracOne*147/160 + 1)
		const rateMod, denom = 7, 11
		for _, destLen := range []int64{1, 3, 100, 9999} {
			srcLen := DestLenToSourceLen(destLen, step, rateMod, denom, 0)
			assert.Equal(t, destLen, SourceLenToDestLen(srcLen, step, rateMod, denom, 0),
				"dest length %d", destLen)
		}
	})

	t.Run("zero length needs zero strides", func(t *testing.T) {
		assert.Equal(t, int64(0), SourceLenToDestLen(0, one, 0, 1, 0))
	})
}

func TestSourceInfoResetPositions(t *testing.T) {
	var bk Bookkeeping
	var info SourceInfo
	info.destFramesToFracSourceFrames = timeline.NewFunction(
		5*timeline.FracOne, 0, timeline.NewRate(uint64(timeline.FracOne), 1))
	bk.SourcePosModulo = 9
	info.nextSourcePosModulo = 9
	info.sourcePosError = 12345

	info.ResetPositions(100, &bk)
	assert.Equal(t, int64(100), info.NextDestFrame())
	assert.Equal(t, timeline.FixedFromInt64(105), info.NextSourceFrame())
	assert.Equal(t, uint64(0), info.NextSourcePosModulo())
	assert.Equal(t, uint64(0), bk.SourcePosModulo)
	assert.Zero(t, info.SourcePosError())
}

func TestSourceInfoAdvance(t *testing.T) {
	t.Run("integral stride", func(t *testing.T) {
		var bk Bookkeeping
		var info SourceInfo
		bk.SetStepSize(timeline.FixedFromInt64(1))

		info.AdvanceAllPositionsBy(10, &bk)
		assert.Equal(t, int64(10), info.NextDestFrame())
		assert.Equal(t, timeline.FixedFromInt64(10), info.NextSourceFrame())
	})

	t.Run("modulo carries into subframes", func(t *testing.T) {
		var bk Bookkeeping
		var info SourceInfo
		bk.SetStepSize(timeline.FixedFromInt64(1))
		bk.SetRateModuloAndDenominator(1, 3, &info)

		info.AdvanceAllPositionsBy(9, &bk)
		assert.Equal(t, timeline.FixedFromRaw(9*timeline.FracOne+3), info.NextSourceFrame())
		assert.Equal(t, uint64(0), info.NextSourcePosModulo())
		assert.Equal(t, bk.SourcePosModulo, info.NextSourcePosModulo())
	})

	t.Run("negative advance rewinds exactly", func(t *testing.T) {
		var bk Bookkeeping
		var info SourceInfo
		bk.SetStepSize(timeline.FixedFromRaw(timeline.FracOne + 5))
		bk.SetRateModuloAndDenominator(2, 7, &info)

		info.AdvanceAllPositionsBy(1000, &bk)
		pos := info.NextSourceFrame()
		mod := info.NextSourcePosModulo()

		info.AdvanceAllPositionsBy(250, &bk)
		info.AdvanceAllPositionsBy(-250, &bk)
		assert.Equal(t, pos, info.NextSourceFrame())
		assert.Equal(t, mod, info.NextSourcePosModulo())
		assert.Equal(t, int64(1000), info.NextDestFrame())
	})

	t.Run("advance to target frame", func(t *testing.T) {
		var bk Bookkeeping
		var info SourceInfo
		bk.SetStepSize(timeline.FixedFromInt64(2))

		info.AdvanceAllPositionsTo(50, &bk)
		assert.Equal(t, int64(50), info.NextDestFrame())
		assert.Equal(t, timeline.FixedFromInt64(100), info.NextSourceFrame())
	})
}

func TestMixPanicsOnBadOffsets(t *testing.T) {
	m := Select(monoFormat(48000), monoFormat(48000), ResamplerSampleAndHold)
	dest := make([]float32, 10)
	source := make([]float32, 10)

	t.Run("dest offset beyond buffer", func(t *testing.T) {
		destOff := int64(11)
		srcOff := timeline.Fixed(0)
		assert.Panics(t, func() {
			m.Mix(dest, 10, &destOff, source, 10, &srcOff, false)
		})
	})

	t.Run("source offset before filter reach", func(t *testing.T) {
		destOff := int64(0)
		srcOff := -m.PosFilterWidth() - timeline.FixedFromRaw(1)
		assert.Panics(t, func() {
			m.Mix(dest, 10, &destOff, source, 10, &srcOff, false)
		})
	})
}
