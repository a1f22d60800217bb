package mixer

import "github.com/soundmesh/go-audio-mixer/timeline"

// stride is a mix call's snapshot of the source advance per destination
// frame: step subframes plus rateMod/denom of one subframe.
type stride struct {
	step    int64
	rateMod uint64
	denom   uint64
}

func strideOf(bk *Bookkeeping) stride {
	st := stride{step: bk.stepSize.Raw(), rateMod: bk.rateModulo, denom: bk.denominator}
	if st.denom == 0 {
		st.denom = 1
	}
	return st
}

// next advances one destination frame, updating the position modulo and
// returning the new raw source offset.
func (st stride) next(offRaw int64, posModulo *uint64) int64 {
	offRaw += st.step
	if st.rateMod != 0 {
		m := *posModulo + st.rateMod
		if m >= st.denom {
			m -= st.denom
			offRaw++
		}
		*posModulo = m
	}
	return offRaw
}

// gainPlan is the per-mix-call application strategy derived from the
// edge's Gain. While ramping, scales holds one combined scale per
// destination frame starting at the current offset, and the mix is capped
// at len(scales) frames so the next call re-samples the advanced ramp.
type gainPlan struct {
	silent  bool
	unity   bool
	scale   float32
	ramping bool
	scales  []float32
}

// planGain inspects the edge gain and returns the plan plus the capped
// number of destination frames this call may produce.
func planGain(bk *Bookkeeping, destAvail int64) (gainPlan, int64) {
	g := &bk.Gain
	if g.IsSilent() {
		return gainPlan{silent: true}, destAvail
	}
	if g.IsRamping() {
		n := destAvail
		if n > maxRampFrames {
			n = maxRampFrames
		}
		scales := bk.scaleScratch[:n]
		maxScale := g.CalculateScaleArray(scales, bk.destFramesPerRefNs)
		if maxScale == 0 {
			// Every frame of this batch is under the mute floor.
			return gainPlan{silent: true}, n
		}
		return gainPlan{ramping: true, scales: scales}, n
	}
	if g.IsUnity() {
		return gainPlan{unity: true, scale: 1}, destAvail
	}
	return gainPlan{scale: g.GetGainScale()}, destAvail
}

// silentAdvance walks the offsets forward without touching dest, honoring
// the same stopping conditions as a producing loop.
func silentAdvance(a *mixArgs, st stride, destLimit int64, posRaw int64) {
	off := a.sourceOffset.Raw()
	dOff := *a.destOffset
	endRaw := a.sourceFrames << timeline.FracBits
	for dOff < destLimit && off+posRaw < endRaw {
		off = st.next(off, &a.bk.SourcePosModulo)
		dOff++
	}
	*a.destOffset = dOff
	*a.sourceOffset = timeline.FixedFromRaw(off)
}

// sourceExhausted reports whether no further destination frame can be
// produced from this source buffer.
func sourceExhausted(a *mixArgs, posRaw int64) bool {
	return a.sourceOffset.Raw()+posRaw >= a.sourceFrames<<timeline.FracBits
}
