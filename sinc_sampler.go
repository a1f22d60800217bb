package mixer

import (
	"github.com/soundmesh/go-audio-mixer/internal/filter"
	"github.com/soundmesh/go-audio-mixer/timeline"
)

// sincSampler interpolates with a windowed-sinc kernel. Because the
// filter reaches sideTaps frames to either side of the sampling instant,
// the sampler keeps the trailing frames of each fully consumed buffer so
// the next buffer's leading output frames can still see their past.
type sincSampler struct {
	channels int
	table    *filter.Table
	sideTaps int
	histLen  int

	// history[ch] holds the last histLen source frames, deinterleaved.
	// Zero after reset, meaning silence preceded the next buffer.
	history [][]float32

	// work[ch] is history followed by the current buffer's samples for
	// one channel. Reused across calls, grown as needed.
	work [][]float32
}

func newSincSampler(sourceFormat, destFormat Format) *sincSampler {
	t := filter.Get(filter.KindSinc,
		sourceFormat.FramesPerSecond, destFormat.FramesPerSecond, timeline.FracBits)
	ch := int(sourceFormat.Channels)
	s := &sincSampler{
		channels: ch,
		table:    t,
		sideTaps: t.SideTaps(),
		histLen:  2 * t.SideTaps(),
		history:  make([][]float32, ch),
		work:     make([][]float32, ch),
	}
	for c := 0; c < ch; c++ {
		s.history[c] = make([]float32, s.histLen)
	}
	return s
}

func (s *sincSampler) positiveWidth() timeline.Fixed {
	return timeline.FixedFromInt64(int64(s.sideTaps))
}

func (s *sincSampler) negativeWidth() timeline.Fixed {
	return timeline.FixedFromInt64(int64(s.sideTaps)) - timeline.FixedFromRaw(1)
}

func (s *sincSampler) reset() {
	for c := range s.history {
		for i := range s.history[c] {
			s.history[c][i] = 0
		}
	}
}

// loadWork rebuilds the per-channel working buffers: histLen frames of
// history followed by the deinterleaved source.
func (s *sincSampler) loadWork(source []float32, sourceFrames int64) {
	need := s.histLen + int(sourceFrames)
	for c := 0; c < s.channels; c++ {
		if cap(s.work[c]) < need {
			s.work[c] = make([]float32, need)
		}
		s.work[c] = s.work[c][:need]
		copy(s.work[c], s.history[c])
		for f := int64(0); f < sourceFrames; f++ {
			s.work[c][s.histLen+int(f)] = source[f*int64(s.channels)+int64(c)]
		}
	}
}

// saveHistory captures the last histLen frames of the working buffers,
// to seed the next buffer's past taps.
func (s *sincSampler) saveHistory() {
	for c := 0; c < s.channels; c++ {
		w := s.work[c]
		copy(s.history[c], w[len(w)-s.histLen:])
	}
}

func (s *sincSampler) mix(a *mixArgs) bool {
	posRaw := s.positiveWidth().Raw()
	st := strideOf(a.bk)

	plan, capFrames := planGain(a.bk, a.destFrames-*a.destOffset)
	destLimit := *a.destOffset + capFrames

	if plan.silent {
		silentAdvance(a, st, destLimit, posRaw)
		consumed := sourceExhausted(a, posRaw)
		if consumed {
			// Samples still flowed past the filter window; keep history
			// coherent for when the edge becomes audible again.
			s.loadWork(a.source, a.sourceFrames)
			s.saveHistory()
		}
		return consumed
	}

	s.loadWork(a.source, a.sourceFrames)

	off := a.sourceOffset.Raw()
	dOff := *a.destOffset
	scaleBase := dOff
	endRaw := a.sourceFrames << timeline.FracBits
	ch := int64(s.channels)
	taps := s.sideTaps

	for dOff < destLimit && off+posRaw < endRaw {
		idx := int(off >> timeline.FracBits)
		phase := int(off & (timeline.FracOne - 1))

		scale := plan.scale
		if plan.ramping {
			scale = plan.scales[dOff-scaleBase]
		}

		dBase := dOff * ch
		anchor := s.histLen + idx
		for c := 0; c < s.channels; c++ {
			w := s.work[c]
			v := s.table.ComputeSample(phase,
				w[anchor-taps+1:anchor+1], w[anchor+1:anchor+1+taps])
			v *= scale
			if a.accumulate {
				a.dest[dBase+int64(c)] += v
			} else {
				a.dest[dBase+int64(c)] = v
			}
		}

		off = st.next(off, &a.bk.SourcePosModulo)
		dOff++
	}

	*a.destOffset = dOff
	*a.sourceOffset = timeline.FixedFromRaw(off)

	consumed := off+posRaw >= endRaw
	if consumed {
		s.saveHistory()
	}
	return consumed
}
