package mixer

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/soundmesh/go-audio-mixer/timeline"
)

// MixStage combines any number of source streams into one output stream.
// It is itself a ReadableStream, so stages compose into a tree: a read on
// the root recursively mixes every layer.
//
// Each source edge carries its own Mixer (resampler, gain, positions) and
// ClockSync. On every read the stage reconciles each source's clock
// against its own, rewrites the edge's stride, and accumulates the
// source's audio into a reused output buffer.
//
// ReadLock and Trim must be called only from the owning mix thread.
// AddInput, RemoveInput, and the setters may be called from any thread.
type MixStage struct {
	format Format
	clock  Clock

	// presentationFn maps stage reference time to fixed-point output
	// frames. Replacing it (playback start, seek) bumps the generation.
	presentationFn *timeline.Versioned

	mu      sync.Mutex
	sources []*stageSource

	delayMu           sync.Mutex
	presentationDelay time.Duration

	// intrinsicDelay is added on top of the downstream delay when
	// propagating to sources: one read's worth of frames.
	intrinsicDelay time.Duration

	// mix buffer reused across reads.
	outBuf      []float32
	lastReadEnd timeline.Fixed
	everRead    bool

	// Cached result of the last mix, so a reader that consumed it only
	// partially can re-request the remainder without remixing.
	haveCached       bool
	cachedBufStart   int64
	cachedStart      int64
	cachedEnd        int64
	cachedContinuous bool
	cachedUsage      UsageMask
	cachedGain       float64

	// Health counters, guarded by mu.
	jamSyncs   uint64
	underflows uint64
}

// stageSource is one mix edge.
type stageSource struct {
	stream ReadableStream
	mixer  *Mixer
	sync   *ClockSync

	// leadTime is the edge's filter look-ahead, added to the delay
	// propagated to the source.
	leadTime time.Duration
}

// NewMixStage creates a stage producing the given format against clock.
// maxReadFrames bounds a single read and sizes the stage's intrinsic
// delay; presentationFn maps the stage's reference time to fixed-point
// output frames.
func NewMixStage(format Format, maxReadFrames int64, clock Clock,
	presentationFn timeline.Function) (*MixStage, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if maxReadFrames <= 0 {
		return nil, fmt.Errorf("%w: non-positive read size %d", ErrInvalidConfig, maxReadFrames)
	}
	return &MixStage{
		format:         format,
		clock:          clock,
		presentationFn: timeline.NewVersioned(presentationFn),
		intrinsicDelay: format.DurationForFrames(maxReadFrames),
		outBuf:         make([]float32, maxReadFrames*int64(format.Channels)),
	}, nil
}

// Format implements ReadableStream.
func (s *MixStage) Format() Format { return s.format }

// ReferenceClock implements ReadableStream.
func (s *MixStage) ReferenceClock() Clock { return s.clock }

// RefTimeToFracPresentationFrame implements ReadableStream.
func (s *MixStage) RefTimeToFracPresentationFrame() (timeline.Function, uint64) {
	return s.presentationFn.Get()
}

// UpdatePresentationTimeline redefines the stage's reference-time-to-frame
// mapping, as on playback start or seek. Downstream edges will jam-sync
// to the new mapping on their next read.
func (s *MixStage) UpdatePresentationTimeline(fn timeline.Function) {
	s.presentationFn.Set(fn)
}

// PresentationDelay implements ReadableStream.
func (s *MixStage) PresentationDelay() time.Duration {
	s.delayMu.Lock()
	defer s.delayMu.Unlock()
	return s.presentationDelay
}

// SetPresentationDelay implements ReadableStream, propagating the
// downstream delay plus this stage's own contribution to every source.
func (s *MixStage) SetPresentationDelay(delay time.Duration) {
	s.delayMu.Lock()
	s.presentationDelay = delay
	s.delayMu.Unlock()

	for _, src := range s.snapshotSources() {
		src.stream.SetPresentationDelay(delay + s.intrinsicDelay + src.leadTime)
	}
}

// JamSyncCount reports how many times any edge has been forcibly
// re-anchored due to excessive position error.
func (s *MixStage) JamSyncCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jamSyncs
}

// Underflows reports how many source buffers arrived entirely behind the
// mix window and were discarded.
func (s *MixStage) Underflows() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.underflows
}

// snapshotSources copies the source list so per-source work runs without
// holding the stage lock; lock hold time stays independent of how much
// work each source does.
func (s *MixStage) snapshotSources() []*stageSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*stageSource(nil), s.sources...)
}

// AddInput attaches a source stream, returning the edge's Mixer so the
// caller can set gain and inspect positions. The resampler hint is
// resolved by Select.
func (s *MixStage) AddInput(stream ReadableStream, hint Resampler) *Mixer {
	if stream == nil {
		log.Printf("mixer: AddInput on stage %q refused nil stream", s.clock.Name())
		return nil
	}
	m := Select(stream.Format(), s.format, hint)
	src := &stageSource{
		stream:   stream,
		mixer:    m,
		sync:     NewClockSync(stream.ReferenceClock(), s.clock),
		leadTime: stream.Format().DurationForFrames(m.PosFilterWidth().Ceiling()),
	}
	stream.SetPresentationDelay(s.PresentationDelay() + s.intrinsicDelay + src.leadTime)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = append(s.sources, src)
	return m
}

// RemoveInput detaches a stream added with AddInput. Removing a stream
// that is not attached is a no-op.
func (s *MixStage) RemoveInput(stream ReadableStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, src := range s.sources {
		if src.stream == stream {
			s.sources = append(s.sources[:i], s.sources[i+1:]...)
			return
		}
	}
	log.Printf("mixer: RemoveInput on stage %q: stream not attached", s.clock.Name())
}

// ForEachSource visits every attached edge over a snapshot of the source
// list, so fn runs without holding the stage lock.
func (s *MixStage) ForEachSource(fn func(stream ReadableStream, mixer *Mixer)) {
	for _, src := range s.snapshotSources() {
		fn(src.stream, src.mixer)
	}
}

// Trim implements ReadableStream: it releases every source's data below
// the source position corresponding to the given output frame.
func (s *MixStage) Trim(frame timeline.Fixed) {
	for _, src := range s.snapshotSources() {
		fn := src.mixer.SourceInfo().destFramesToFracSourceFrames
		if fn.Rate().IsZero() {
			continue
		}
		src.stream.Trim(timeline.FixedFromRaw(fn.Apply(frame.Floor())))
	}
}

// ReadLock implements ReadableStream: it mixes all sources for the output
// window [startFrame, startFrame+frameCount) and returns the result, or
// nil when every source was silent for the window. The returned buffer is
// valid until the next ReadLock.
func (s *MixStage) ReadLock(startFrame timeline.Fixed, frameCount int64) *Buffer {
	destFrame := startFrame.Floor()

	// A partially consumed previous result that still covers this frame is
	// handed back as-is rather than remixed.
	if s.haveCached && destFrame >= s.cachedStart && destFrame < s.cachedEnd {
		return s.cachedView(destFrame)
	}
	s.haveCached = false

	ch := int64(s.format.Channels)
	need := frameCount * ch
	if int64(cap(s.outBuf)) < need {
		s.outBuf = make([]float32, need)
	}
	out := s.outBuf[:need]
	for i := range out {
		out[i] = 0
	}

	continuous := s.everRead && startFrame == s.lastReadEnd
	s.lastReadEnd = timeline.FixedFromInt64(destFrame + frameCount)
	s.everRead = true

	var (
		usage         UsageMask
		appliedGainDb = MutedGainDb
		audible       bool
	)

	for _, src := range s.snapshotSources() {
		res := s.mixStream(src, out, destFrame, frameCount)
		if res.audible {
			audible = true
			usage |= res.usage
			if res.appliedGainDb > appliedGainDb {
				appliedGainDb = res.appliedGainDb
			}
		}
	}

	if !audible {
		return nil
	}

	s.haveCached = true
	s.cachedBufStart = destFrame
	s.cachedStart = destFrame
	s.cachedEnd = destFrame + frameCount
	s.cachedContinuous = continuous
	s.cachedUsage = usage
	s.cachedGain = appliedGainDb
	return s.cachedView(destFrame)
}

// cachedView returns the cached mix result from the given frame onward.
// Release bookkeeping runs on the mix thread, like the read itself.
func (s *MixStage) cachedView(from int64) *Buffer {
	ch := int64(s.format.Channels)
	payload := s.outBuf[(from-s.cachedBufStart)*ch : (s.cachedEnd-s.cachedBufStart)*ch]
	continuous := s.cachedContinuous || from > s.cachedBufStart
	return NewBuffer(timeline.FixedFromInt64(from), s.cachedEnd-from, payload,
		continuous, s.cachedUsage, s.cachedGain,
		func(fullyConsumed bool, framesConsumed int64) {
			if fullyConsumed || from+framesConsumed >= s.cachedEnd {
				s.haveCached = false
				return
			}
			if framesConsumed > 0 {
				s.cachedStart = from + framesConsumed
			}
		})
}

// mixResult summarizes one edge's contribution to a read.
type mixResult struct {
	audible       bool
	usage         UsageMask
	appliedGainDb float64
}

// mixStream mixes one source into out for the window
// [destFrame, destFrame+frameCount).
func (s *MixStage) mixStream(src *stageSource, out []float32, destFrame, frameCount int64) mixResult {
	m := src.mixer
	bk := m.Bookkeeping()
	info := m.SourceInfo()

	if !s.reconcileClocksAndSetStepSize(src, destFrame) {
		return mixResult{}
	}

	var res mixResult
	destOffset := int64(0)
	pos := m.PosFilterWidth()
	neg := m.NegFilterWidth()

	for destOffset < frameCount {
		remaining := frameCount - destOffset

		// Source length the remaining window needs, padded by the filter
		// reach on both sides.
		srcLen := DestLenToSourceLen(remaining, bk.StepSize(),
			bk.RateModulo(), bk.Denominator(), bk.SourcePosModulo)
		reqStart := info.nextSourceFrame - pos
		reqFrames := (srcLen + pos + neg).Ceiling() + 1

		buf := src.stream.ReadLock(reqStart, reqFrames)
		if buf == nil {
			// Nothing left for this window; the rest is silence.
			info.AdvanceAllPositionsTo(destFrame+frameCount, bk)
			break
		}

		if !buf.IsContinuous() {
			m.Reset()
		}

		offset := info.nextSourceFrame - buf.Start()
		bufEnd := timeline.FixedFromInt64(buf.Length())

		if offset >= bufEnd {
			// The buffer lies entirely behind the current position: the
			// data arrived too late to present.
			s.mu.Lock()
			s.underflows++
			s.mu.Unlock()
			buf.SetFullyConsumed()
			buf.Release()
			continue
		}

		if offset < -pos {
			// The buffer starts in the future: output silence until the
			// filter window first touches it.
			gap := (-pos) - offset
			skip := SourceLenToDestLen(gap, bk.StepSize(),
				bk.RateModulo(), bk.Denominator(), bk.SourcePosModulo)
			if skip > remaining {
				skip = remaining
			}
			if skip > 0 {
				info.AdvanceAllPositionsBy(skip, bk)
				bk.Gain.Advance(skip, bk.destFramesPerRefNs)
				destOffset += skip
			}
			if destOffset >= frameCount {
				buf.SetFramesConsumed(0)
				buf.Release()
				break
			}
			offset = info.nextSourceFrame - buf.Start()
		}

		silent := bk.Gain.IsSilent()
		before := destOffset
		consumed := m.Mix(out, frameCount, &destOffset,
			buf.Payload(), buf.Length(), &offset, true)
		mixed := destOffset - before

		if mixed > 0 {
			info.UpdateRunningPositionsBy(mixed, bk)
			bk.Gain.Advance(mixed, bk.destFramesPerRefNs)
			if !silent {
				res.usage |= buf.Usage()
				edge := CombineGains(buf.AppliedGainDb(), bk.Gain.GetGainDb())
				if !res.audible || edge > res.appliedGainDb {
					res.appliedGainDb = edge
				}
				res.audible = true
			}
		}

		// Buffers are consumed whole: a partially mixed buffer is kept in
		// the stream and re-read by the next job, so the sampler's history
		// stays aligned with buffer starts.
		if consumed {
			buf.SetFullyConsumed()
		} else {
			buf.SetFramesConsumed(0)
		}
		buf.Release()
	}
	return res
}

// reconcileClocksAndSetStepSize recomputes the edge's dest-to-source
// mapping from both clocks, measures the position error, and rewrites the
// edge stride, applying a micro-SRC rate correction or jam-syncing as
// needed. It returns false when the source has no presentation timeline
// and must be skipped.
func (s *MixStage) reconcileClocksAndSetStepSize(src *stageSource, destFrame int64) bool {
	m := src.mixer
	bk := m.Bookkeeping()
	info := m.SourceInfo()

	sourceFn, gen := src.stream.RefTimeToFracPresentationFrame()
	if sourceFn.Rate().IsZero() {
		// Source is stopped; it presents no frames.
		return false
	}
	destFn, _ := s.presentationFn.Get()

	// Compose monotonic ns -> fixed-point source frames.
	sourceToMono := src.stream.ReferenceClock().ToClockMono()
	monoToFracSource := timeline.Compose(sourceFn, sourceToMono.Inverse())

	// Compose integer dest frames -> monotonic ns.
	destToMono := s.clock.ToClockMono()
	fracDestToMono := timeline.Compose(destToMono, destFn.Inverse())
	destFramesToMono := timeline.Compose(fracDestToMono,
		timeline.NewFunction(0, 0, timeline.NewRate(uint64(timeline.FracOne), 1)))

	destFramesToFracSource := timeline.Compose(monoToFracSource, destFramesToMono)
	info.destFramesToFracSourceFrames = destFramesToFracSource

	stepRate := destFramesToFracSource.Rate()
	monoNow := destFramesToMono.Apply(destFrame)

	// Timeline change or dest-side discontinuity: start over from the
	// clock-derived position, no error to correct.
	if gen != info.generation || info.clockMonoToFracSourceFrames.Rate().IsZero() {
		info.clockMonoToFracSourceFrames = monoToFracSource
		info.generation = gen
		info.ResetPositions(destFrame, bk)
		src.sync.Reset(monoNow)
		s.setStepSize(bk, info, stepRate)
		return true
	}
	info.clockMonoToFracSourceFrames = monoToFracSource

	if info.nextDestFrame != destFrame {
		info.ResetPositions(destFrame, bk)
		src.sync.Reset(monoNow)
		s.setStepSize(bk, info, stepRate)
		return true
	}

	if !src.sync.NeedsSynchronization() {
		info.sourcePosError = 0
		s.setStepSize(bk, info, stepRate)
		return true
	}

	// Measured error: where we are versus where the clocks say we should
	// be, expressed as source-side time.
	ideal := timeline.FixedFromRaw(monoToFracSource.Apply(monoNow))
	errFrames := info.nextSourceFrame - ideal
	if errFrames.Abs() < timeline.FixedFromRaw(2) {
		// Within a subframe of ideal; rounding noise, not drift.
		info.sourcePosError = 0
		s.setStepSize(bk, info, stepRate)
		return true
	}
	errNs := monoToFracSource.Rate().Inverse().Scale(errFrames.Raw(), timeline.RoundDown)
	info.sourcePosError = time.Duration(errNs)

	if info.sourcePosError.Abs() > maxErrorThresholdDuration {
		log.Printf("mixer: jam-syncing %s -> %s, position error %v",
			src.stream.ReferenceClock().Name(), s.clock.Name(), info.sourcePosError)
		s.mu.Lock()
		s.jamSyncs++
		s.mu.Unlock()
		m.Reset()
		info.ResetPositions(destFrame, bk)
		src.sync.Reset(monoNow)
		s.setStepSize(bk, info, stepRate)
		return true
	}

	ppm := src.sync.TunePpm(monoNow, info.sourcePosError)
	if ppmInt := int64(math.Round(ppm)); ppmInt != 0 {
		stepRate = timeline.ProductRate(stepRate,
			timeline.NewRate(uint64(1_000_000-ppmInt), 1_000_000), false)
	}
	s.setStepSize(bk, info, stepRate)
	return true
}

// setStepSize decomposes a frac-source-subframes-per-dest-frame rate into
// the edge's stride fields.
func (s *MixStage) setStepSize(bk *Bookkeeping, info *SourceInfo, rate timeline.Rate) {
	num := rate.SubjectDelta()
	den := rate.ReferenceDelta()
	bk.SetStepSize(timeline.FixedFromRaw(int64(num / den)))
	bk.SetRateModuloAndDenominator(num%den, den, info)
}
