package mixer

import (
	"fmt"
	"math"
	"time"

	"github.com/soundmesh/go-audio-mixer/timeline"
)

// DbToScale converts a decibel gain to a linear amplitude scale.
// Values at or below MutedGainDb map to exactly zero; values above
// MaxGainDb are clamped.
func DbToScale(db float64) float32 {
	if db <= MutedGainDb {
		return 0
	}
	if db >= MaxGainDb {
		db = MaxGainDb
	}
	return float32(math.Pow(10, db/20))
}

// ScaleToDb converts a linear amplitude scale to decibels, clamped to
// [MutedGainDb, MaxGainDb].
func ScaleToDb(scale float32) float64 {
	if scale <= MinGainScale {
		return MutedGainDb
	}
	db := 20 * math.Log10(float64(scale))
	if db <= MutedGainDb {
		return MutedGainDb
	}
	if db >= MaxGainDb {
		return MaxGainDb
	}
	return db
}

// CombineGains sums two gain stages in dB, clamping the result to the
// expressible range. A fully muted stage mutes the combination.
func CombineGains(aDb, bDb float64) float64 {
	if aDb <= MutedGainDb || bDb <= MutedGainDb {
		return MutedGainDb
	}
	sum := aDb + bDb
	if sum <= MutedGainDb {
		return MutedGainDb
	}
	if sum >= MaxGainDb {
		return MaxGainDb
	}
	return sum
}

// gainRamp is an in-flight transition between two linear scales,
// interpolated linearly in scale, not in dB. advanced tracks how much of
// the ramp destination-side time has already been consumed by Advance.
type gainRamp struct {
	startScale float64
	endScale   float64
	duration   time.Duration
	advanced   time.Duration
}

// scaleAt returns the ramp's scale at the given offset past the frames
// already consumed by Advance.
func (r *gainRamp) scaleAt(offset time.Duration) float64 {
	t := r.advanced + offset
	if t >= r.duration {
		return r.endScale
	}
	frac := float64(t) / float64(r.duration)
	return r.startScale + (r.endScale-r.startScale)*frac
}

func (r *gainRamp) done() bool {
	return r.advanced >= r.duration
}

// gainSide is one contributor (source or destination) to an edge's
// combined gain: a static dB value plus an optional in-flight ramp.
// While a ramp is active, gainDb holds the ramp's target.
type gainSide struct {
	gainDb float64
	ramp   *gainRamp
}

// currentScale is the side's instantaneous linear scale.
func (s *gainSide) currentScale() float64 {
	if s.ramp != nil {
		return s.ramp.scaleAt(0)
	}
	return float64(DbToScale(s.gainDb))
}

func (s *gainSide) set(db float64) {
	s.ramp = nil
	s.gainDb = clampGainDb(db)
}

func (s *gainSide) setWithRamp(db float64, d time.Duration) {
	db = clampGainDb(db)
	if d <= 0 {
		s.set(db)
		return
	}
	start := s.currentScale()
	end := float64(DbToScale(db))
	// A flat ramp, or one that never rises above the mute floor, is not
	// audible as a transition. Collapse it to the static value.
	if start == end || (start <= MinGainScale && end <= MinGainScale) {
		s.set(db)
		return
	}
	s.ramp = &gainRamp{startScale: start, endScale: end, duration: d}
	s.gainDb = db
}

// advance consumes d of the side's ramp, completing it if exhausted.
func (s *gainSide) advance(d time.Duration) {
	if s.ramp == nil {
		return
	}
	s.ramp.advanced += d
	if s.ramp.done() {
		s.ramp = nil
	}
}

func (s *gainSide) complete() {
	s.ramp = nil
}

func clampGainDb(db float64) float64 {
	if db <= MutedGainDb {
		return MutedGainDb
	}
	if db >= MaxGainDb {
		return MaxGainDb
	}
	return db
}

// Gain models the gain applied along one mix edge: a source contribution
// and a destination contribution, each with optional ramping, plus a
// source mute that overrides everything without cancelling ramps.
//
// The zero value is unity gain, unmuted, not ramping. Gain is not safe
// for concurrent use; an edge's Gain is owned by its mix thread.
type Gain struct {
	source gainSide
	dest   gainSide
	muted  bool
}

// SetSourceGain sets the source contribution, cancelling any source ramp.
func (g *Gain) SetSourceGain(db float64) { g.source.set(db) }

// SetDestGain sets the destination contribution, cancelling any dest ramp.
func (g *Gain) SetDestGain(db float64) { g.dest.set(db) }

// RampShape selects how a gain ramp interpolates between its endpoints.
type RampShape int

const (
	// RampLinearScale interpolates linearly in the linear-scale domain.
	// It is the only shape currently defined.
	RampLinearScale RampShape = iota
)

func (r RampShape) validate() {
	if r != RampLinearScale {
		panic(fmt.Sprintf("mixer: unknown ramp shape %d", r))
	}
}

// SetSourceGainWithRamp starts a ramp of the given shape from the current
// source scale to db over d. A non-positive duration applies immediately.
func (g *Gain) SetSourceGainWithRamp(db float64, d time.Duration, shape RampShape) {
	shape.validate()
	g.source.setWithRamp(db, d)
}

// SetDestGainWithRamp is the destination-side equivalent of
// SetSourceGainWithRamp.
func (g *Gain) SetDestGainWithRamp(db float64, d time.Duration, shape RampShape) {
	shape.validate()
	g.dest.setWithRamp(db, d)
}

// SetSourceMute sets or clears the source mute. Mute forces silence while
// set but leaves ramp state untouched, so an in-flight ramp continues to
// advance and resumes audibly on unmute.
func (g *Gain) SetSourceMute(muted bool) { g.muted = muted }

// CompleteSourceRamp jumps any in-flight source ramp to its end value.
func (g *Gain) CompleteSourceRamp() {
	if g.source.ramp != nil {
		g.source.ramp = nil
	}
}

// CompleteDestRamp jumps any in-flight destination ramp to its end value.
func (g *Gain) CompleteDestRamp() {
	if g.dest.ramp != nil {
		g.dest.ramp = nil
	}
}

// GetGainScale returns the instantaneous combined linear scale.
func (g *Gain) GetGainScale() float32 {
	if g.muted {
		return 0
	}
	combined := g.source.currentScale() * g.dest.currentScale()
	if combined <= MinGainScale {
		return 0
	}
	return float32(combined)
}

// GetGainDb returns the instantaneous combined gain in dB.
func (g *Gain) GetGainDb() float64 {
	if g.muted {
		return MutedGainDb
	}
	return ScaleToDb(g.GetGainScale())
}

// IsSilent reports whether the edge currently contributes nothing: muted,
// or at/below the mute floor with no ramp in flight, or ramping entirely
// below the floor.
func (g *Gain) IsSilent() bool {
	if g.muted {
		return true
	}
	if g.IsRamping() {
		// A ramp survives only if some part of it is audible, but the
		// instantaneous value may still be under the floor.
		return false
	}
	return g.GetGainScale() == 0
}

// IsUnity reports whether the edge passes samples through unchanged.
func (g *Gain) IsUnity() bool {
	return !g.muted && !g.IsRamping() &&
		g.source.gainDb == UnityGainDb && g.dest.gainDb == UnityGainDb
}

// IsRamping reports whether any ramp is in flight. A muted edge reports
// false: its output is pinned to silence regardless of ramp progress.
func (g *Gain) IsRamping() bool {
	if g.muted {
		return false
	}
	return g.source.ramp != nil || g.dest.ramp != nil
}

// Advance consumes frames of ramp progress, where destFramesPerNs maps
// nanoseconds to destination frames. Calling it with no ramps in flight
// or zero frames is a no-op.
func (g *Gain) Advance(frames int64, destFramesPerNs timeline.Rate) {
	if frames <= 0 || (g.source.ramp == nil && g.dest.ramp == nil) {
		return
	}
	ns := destFramesPerNs.Inverse().Scale(frames, timeline.RoundUp)
	g.source.advance(time.Duration(ns))
	g.dest.advance(time.Duration(ns))
}

// CalculateScaleArray fills scales with the per-frame combined scale for
// the next len(scales) destination frames, without mutating ramp state.
// It returns the maximum scale produced. Two consecutive calls with no
// intervening Advance produce identical contents.
func (g *Gain) CalculateScaleArray(scales []float32, destFramesPerNs timeline.Rate) float32 {
	if len(scales) == 0 {
		return 0
	}
	if !g.IsRamping() {
		s := g.GetGainScale()
		for i := range scales {
			scales[i] = s
		}
		return s
	}
	nsPerFrame := destFramesPerNs.Inverse()
	var maxScale float32
	for i := range scales {
		ns := nsPerFrame.Scale(int64(i), timeline.RoundDown)
		combined := g.source.rampScaleAt(time.Duration(ns)) * g.dest.rampScaleAt(time.Duration(ns))
		if combined <= MinGainScale {
			combined = 0
		}
		s := float32(combined)
		scales[i] = s
		if s > maxScale {
			maxScale = s
		}
	}
	return maxScale
}

// rampScaleAt is currentScale projected offset into the future.
func (s *gainSide) rampScaleAt(offset time.Duration) float64 {
	if s.ramp != nil {
		return s.ramp.scaleAt(offset)
	}
	return float64(DbToScale(s.gainDb))
}
