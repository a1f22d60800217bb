package mixer

import "github.com/soundmesh/go-audio-mixer/timeline"

// noOpSampler stands in when a mixer cannot be built for a format
// pairing. It advances positions at the configured stride but writes
// nothing, so a misconfigured edge consumes and produces silence instead
// of stalling the graph.
type noOpSampler struct{}

func newNoOpSampler() *noOpSampler { return &noOpSampler{} }

func (*noOpSampler) positiveWidth() timeline.Fixed {
	return timeline.FixedFromRaw(timeline.FracHalf)
}

func (*noOpSampler) negativeWidth() timeline.Fixed {
	return timeline.FixedFromRaw(timeline.FracHalf - 1)
}

func (*noOpSampler) reset() {}

func (*noOpSampler) mix(a *mixArgs) bool {
	posRaw := int64(timeline.FracHalf)
	silentAdvance(a, strideOf(a.bk), a.destFrames, posRaw)
	return sourceExhausted(a, posRaw)
}
