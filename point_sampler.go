package mixer

import (
	"github.com/soundmesh/go-audio-mixer/internal/filter"
	"github.com/soundmesh/go-audio-mixer/timeline"
)

// pointSampler picks the nearest source frame for each destination frame
// (averaging the two neighbors at the exact midpoint). It holds no
// cross-buffer history: its filter never reaches more than half a frame
// in either direction.
type pointSampler struct {
	channels int
	table    *filter.Table
}

func newPointSampler(sourceFormat, destFormat Format) *pointSampler {
	return &pointSampler{
		channels: int(sourceFormat.Channels),
		table: filter.Get(filter.KindPoint,
			sourceFormat.FramesPerSecond, destFormat.FramesPerSecond, timeline.FracBits),
	}
}

func (s *pointSampler) positiveWidth() timeline.Fixed {
	return timeline.FixedFromRaw(timeline.FracHalf)
}

func (s *pointSampler) negativeWidth() timeline.Fixed {
	return timeline.FixedFromRaw(timeline.FracHalf - 1)
}

func (s *pointSampler) reset() {}

func (s *pointSampler) mix(a *mixArgs) bool {
	posRaw := s.positiveWidth().Raw()
	st := strideOf(a.bk)

	plan, capFrames := planGain(a.bk, a.destFrames-*a.destOffset)
	destLimit := *a.destOffset + capFrames

	if plan.silent {
		silentAdvance(a, st, destLimit, posRaw)
		return sourceExhausted(a, posRaw)
	}

	off := a.sourceOffset.Raw()
	dOff := *a.destOffset
	scaleBase := dOff
	endRaw := a.sourceFrames << timeline.FracBits
	ch := int64(s.channels)
	src := a.source

	for dOff < destLimit && off+posRaw < endRaw {
		idx := off >> timeline.FracBits
		phase := int(off & (timeline.FracOne - 1))
		pc := s.table.Coefficient(phase, 0)
		fc := s.table.FutureCoefficient(phase, 0)

		scale := plan.scale
		if plan.ramping {
			scale = plan.scales[dOff-scaleBase]
		}

		dBase := dOff * ch
		sBase := idx * ch
		for c := int64(0); c < ch; c++ {
			var v float32
			if pc != 0 && idx >= 0 {
				v = pc * src[sBase+c]
			}
			if fc != 0 && idx+1 < a.sourceFrames {
				v += fc * src[sBase+ch+c]
			}
			v *= scale
			if a.accumulate {
				a.dest[dBase+c] += v
			} else {
				a.dest[dBase+c] = v
			}
		}

		off = st.next(off, &a.bk.SourcePosModulo)
		dOff++
	}

	*a.destOffset = dOff
	*a.sourceOffset = timeline.FixedFromRaw(off)
	return off+posRaw >= endRaw
}
