package mixer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundmesh/go-audio-mixer/internal/testutil"
	"github.com/soundmesh/go-audio-mixer/timeline"
)

// mixAll drives Mix over one source buffer until the source is exhausted
// or dest fills, returning the dest offset reached.
func mixAll(m *Mixer, dest []float32, destFrames int64, source []float32, sourceFrames int64) int64 {
	destOff := int64(0)
	srcOff := timeline.Fixed(0)
	for destOff < destFrames {
		if m.Mix(dest, destFrames, &destOff, source, sourceFrames, &srcOff, true) {
			break
		}
	}
	return destOff
}

func TestPointSamplerPassthrough(t *testing.T) {
	m := Select(monoFormat(48000), monoFormat(48000), ResamplerSampleAndHold)
	m.Bookkeeping().SetStepSize(timeline.FixedFromInt64(1))

	source := testutil.RampFrames(1, 1, 10, 1)
	dest := make([]float32, 10)

	destOff := int64(0)
	srcOff := timeline.Fixed(0)
	consumed := m.Mix(dest, 10, &destOff, source, 10, &srcOff, false)

	assert.True(t, consumed)
	assert.Equal(t, int64(10), destOff)
	assert.Equal(t, timeline.FixedFromInt64(10), srcOff)
	testutil.AssertSamplesEqual(t, source, dest, testutil.SampleTolerance)
}

func TestPointSamplerStereoPassthrough(t *testing.T) {
	m := Select(stereoFormat(48000), stereoFormat(48000), ResamplerSampleAndHold)
	m.Bookkeeping().SetStepSize(timeline.FixedFromInt64(1))

	source := []float32{1, -1, 2, -2, 3, -3, 4, -4}
	dest := make([]float32, 8)
	mixAll(m, dest, 4, source, 4)

	testutil.AssertSamplesEqual(t, source, dest, testutil.SampleTolerance)
}

func TestPointSamplerDecimation(t *testing.T) {
	// 2:1 decimation picks every other source frame.
	m := Select(monoFormat(96000), monoFormat(48000), ResamplerSampleAndHold)
	m.Bookkeeping().SetStepSize(timeline.FixedFromInt64(2))

	source := testutil.RampFrames(0, 1, 8, 1)
	dest := make([]float32, 4)
	mixAll(m, dest, 4, source, 8)

	testutil.AssertSamplesEqual(t, []float32{0, 2, 4, 6}, dest, testutil.SampleTolerance)
}

func TestPointSamplerAccumulates(t *testing.T) {
	m := Select(monoFormat(48000), monoFormat(48000), ResamplerSampleAndHold)
	m.Bookkeeping().SetStepSize(timeline.FixedFromInt64(1))

	source := testutil.ConstantFrames(0.25, 4, 1)
	dest := []float32{1, 1, 1, 1}

	destOff := int64(0)
	srcOff := timeline.Fixed(0)
	m.Mix(dest, 4, &destOff, source, 4, &srcOff, true)
	testutil.AssertSamplesEqual(t, []float32{1.25, 1.25, 1.25, 1.25}, dest, testutil.SampleTolerance)
}

func TestPointSamplerAppliesGain(t *testing.T) {
	m := Select(monoFormat(48000), monoFormat(48000), ResamplerSampleAndHold)
	m.Bookkeeping().SetStepSize(timeline.FixedFromInt64(1))
	m.Bookkeeping().Gain.SetSourceGain(-6.0206) // half scale

	source := testutil.ConstantFrames(1, 4, 1)
	dest := make([]float32, 4)
	mixAll(m, dest, 4, source, 4)

	testutil.AssertSamplesEqual(t, []float32{0.5, 0.5, 0.5, 0.5}, dest, 1e-4)
}

func TestSilentGainWritesNothingButAdvances(t *testing.T) {
	m := Select(monoFormat(48000), monoFormat(48000), ResamplerSampleAndHold)
	m.Bookkeeping().SetStepSize(timeline.FixedFromInt64(1))
	m.Bookkeeping().Gain.SetSourceMute(true)

	source := testutil.ConstantFrames(1, 4, 1)
	dest := []float32{9, 9, 9, 9}

	destOff := int64(0)
	srcOff := timeline.Fixed(0)
	consumed := m.Mix(dest, 4, &destOff, source, 4, &srcOff, true)

	assert.True(t, consumed)
	assert.Equal(t, int64(4), destOff)
	assert.Equal(t, timeline.FixedFromInt64(4), srcOff)
	testutil.AssertSamplesEqual(t, []float32{9, 9, 9, 9}, dest, 0)
}

func TestMixStopsWhenDestFills(t *testing.T) {
	m := Select(monoFormat(48000), monoFormat(48000), ResamplerSampleAndHold)
	m.Bookkeeping().SetStepSize(timeline.FixedFromInt64(1))

	source := testutil.ConstantFrames(1, 100, 1)
	dest := make([]float32, 10)

	destOff := int64(0)
	srcOff := timeline.Fixed(0)
	consumed := m.Mix(dest, 10, &destOff, source, 100, &srcOff, false)

	assert.False(t, consumed)
	assert.Equal(t, int64(10), destOff)
	assert.Equal(t, timeline.FixedFromInt64(10), srcOff)
}

func TestSincSamplerDCPassthrough(t *testing.T) {
	m := Select(monoFormat(48000), monoFormat(48000), ResamplerWindowedSinc)
	m.Bookkeeping().SetStepSize(timeline.FixedFromInt64(1))

	source := testutil.ConstantFrames(1, 200, 1)
	dest := make([]float32, 160)
	n := mixAll(m, dest, 160, source, 200)

	require.Equal(t, int64(160), n)
	taps := int(m.PosFilterWidth().Floor())
	// After the leading transient (history is silence) the output settles
	// at the input's DC level.
	for i := taps + 1; i < len(dest); i++ {
		assert.InDelta(t, 1.0, float64(dest[i]), 1e-3, "frame %d", i)
	}
	testutil.AssertNoNaNOrInf(t, dest)
}

func TestSincSamplerOnGridPassthrough(t *testing.T) {
	// At phase zero the sinc kernel is an impulse, so on-grid unity-rate
	// mixing reproduces samples exactly once history is primed.
	m := Select(monoFormat(48000), monoFormat(48000), ResamplerWindowedSinc)
	m.Bookkeeping().SetStepSize(timeline.FixedFromInt64(1))

	source := testutil.RampFrames(1, 1, 100, 1)
	dest := make([]float32, 80)
	mixAll(m, dest, 80, source, 100)

	taps := int(m.PosFilterWidth().Floor())
	for i := taps + 1; i < len(dest); i++ {
		assert.InDelta(t, float64(source[i]), float64(dest[i]), 1e-3, "frame %d", i)
	}
}

func TestSincSamplerContinuityAcrossBuffers(t *testing.T) {
	// Mixing one long buffer must equal mixing the same data split in
	// two, thanks to the cross-buffer history.
	rate := int32(48000)
	whole := testutil.SineFrames(440, rate, 96, 1, 0.8)

	mixOnce := func() []float32 {
		m := Select(monoFormat(rate), monoFormat(rate), ResamplerWindowedSinc)
		m.Bookkeeping().SetStepSize(timeline.FixedFromInt64(1))
		dest := make([]float32, 64)
		mixAll(m, dest, 64, whole, 96)
		return dest
	}

	mixSplit := func() []float32 {
		m := Select(monoFormat(rate), monoFormat(rate), ResamplerWindowedSinc)
		m.Bookkeeping().SetStepSize(timeline.FixedFromInt64(1))
		dest := make([]float32, 64)

		destOff := int64(0)
		srcOff := timeline.Fixed(0)
		consumed := m.Mix(dest, 64, &destOff, whole[:48], 48, &srcOff, true)
		assert.True(t, consumed)

		// Continue into the second half; the offset re-anchors to it.
		srcOff -= timeline.FixedFromInt64(48)
		m.Mix(dest, 64, &destOff, whole[48:], 48, &srcOff, true)
		return dest
	}

	testutil.AssertSamplesEqual(t, mixOnce(), mixSplit(), 1e-6)
}

func TestSincSamplerResetClearsHistory(t *testing.T) {
	m := Select(monoFormat(48000), monoFormat(48000), ResamplerWindowedSinc)
	m.Bookkeeping().SetStepSize(timeline.FixedFromInt64(1))

	loud := testutil.ConstantFrames(1, 64, 1)
	dest := make([]float32, 48)
	mixAll(m, dest, 48, loud, 64)

	m.Reset()

	// After reset, silence history: mixing zeros must produce zeros, with
	// no leakage from the previous buffer.
	zeros := testutil.ConstantFrames(0, 64, 1)
	dest2 := make([]float32, 48)
	mixDestOff := int64(0)
	srcOff := timeline.Fixed(0)
	m.Mix(dest2, 48, &mixDestOff, zeros, 64, &srcOff, false)
	testutil.AssertAllZero(t, dest2)
}

func TestSincSamplerRateConversionTone(t *testing.T) {
	// Downsample a 1 kHz tone 48k -> 44.1k and check the output is still
	// a bounded, NaN-free signal of roughly unit amplitude.
	m := Select(monoFormat(48000), monoFormat(44100), ResamplerWindowedSinc)
	bk := m.Bookkeeping()

	// Exact stride: 48000/44100 frames, in subframes plus modulo.
	rate := timeline.NewRate(48000<<timeline.FracBits, 44100)
	num, den := rate.SubjectDelta(), rate.ReferenceDelta()
	bk.SetStepSize(timeline.FixedFromRaw(int64(num / den)))
	bk.SetRateModuloAndDenominator(num%den, den, m.SourceInfo())

	source := testutil.SineFrames(1000, 48000, 4800, 1, 1.0)
	dest := make([]float32, 4000)
	n := mixAll(m, dest, 4000, source, 4800)

	require.Greater(t, n, int64(3900))
	testutil.AssertNoNaNOrInf(t, dest[:n])
	testutil.AssertAllInRange(t, dest[:n], -1.1, 1.1)
}

func TestNoOpMixerProducesSilence(t *testing.T) {
	m := Select(monoFormat(48000), stereoFormat(48000), ResamplerDefault)
	m.Bookkeeping().SetStepSize(timeline.FixedFromInt64(1))

	source := testutil.ConstantFrames(1, 8, 1)
	dest := make([]float32, 16)

	destOff := int64(0)
	srcOff := timeline.Fixed(0)
	consumed := m.Mix(dest, 8, &destOff, source, 8, &srcOff, false)

	assert.True(t, consumed)
	assert.Equal(t, int64(8), destOff)
	testutil.AssertAllZero(t, dest)
}
