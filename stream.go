package mixer

import (
	"time"

	"github.com/soundmesh/go-audio-mixer/timeline"
)

// UsageMask is a bitmask of the render usages present in a mixed buffer.
// A mix output's mask is the union of its contributing sources' masks.
type UsageMask uint32

const (
	UsageBackground UsageMask = 1 << iota
	UsageMedia
	UsageInterruption
	UsageSystemAgent
	UsageCommunication
)

// Contains reports whether every usage in m2 is present in m.
func (m UsageMask) Contains(m2 UsageMask) bool { return m&m2 == m2 }

// ReadableStream is a pull-based source of float32 PCM audio addressed by
// fixed-point frame position. Implementations include PacketQueue (fed by
// a producer) and MixStage (whose reads trigger a recursive mix).
//
// Streams are single-reader: ReadLock and Trim are called only from the
// owning mix thread. A stream position, once trimmed or consumed, can
// never be read again.
type ReadableStream interface {
	// Format returns the stream's PCM layout.
	Format() Format

	// ReferenceClock returns the clock whose timeline the stream's
	// presentation positions are expressed in.
	ReferenceClock() Clock

	// RefTimeToFracPresentationFrame returns the current mapping from
	// reference-clock nanoseconds to fixed-point presentation frames,
	// along with a generation number that increments whenever the mapping
	// is redefined (for example when playback starts or seeks).
	RefTimeToFracPresentationFrame() (timeline.Function, uint64)

	// ReadLock returns audio overlapping [startFrame, startFrame+frameCount),
	// or nil if the stream has nothing in that range. The returned buffer
	// may start before startFrame or end before the requested range does;
	// it remains valid until Release is called on it.
	ReadLock(startFrame timeline.Fixed, frameCount int64) *Buffer

	// Trim releases stream data at positions strictly below frame. The
	// stream may free packets and fire their completion callbacks.
	Trim(frame timeline.Fixed)

	// PresentationDelay returns the total downstream delay reported to
	// this stream.
	PresentationDelay() time.Duration

	// SetPresentationDelay informs the stream of the total downstream
	// delay between it and the output device. Implementations that feed
	// on upstream streams propagate the value, adding their own.
	SetPresentationDelay(delay time.Duration)
}

// Buffer is a run of frames handed out by ReadLock. Payload is interleaved
// float32, len(Payload) == Length()*channels.
type Buffer struct {
	start    timeline.Fixed
	length   int64
	payload  []float32

	continuous    bool
	usage         UsageMask
	appliedGainDb float64

	framesConsumed int64
	fullyConsumed  bool
	onRelease      func(fullyConsumed bool, framesConsumed int64)
	released       bool
}

// NewBuffer wraps payload as a stream buffer starting at start.
// onRelease, if non-nil, fires exactly once when the reader releases the
// buffer, reporting how much of it was consumed.
func NewBuffer(start timeline.Fixed, length int64, payload []float32,
	continuous bool, usage UsageMask, appliedGainDb float64,
	onRelease func(fullyConsumed bool, framesConsumed int64)) *Buffer {
	return &Buffer{
		start:         start,
		length:        length,
		payload:       payload,
		continuous:    continuous,
		usage:         usage,
		appliedGainDb: appliedGainDb,
		onRelease:     onRelease,
	}
}

// Start is the fixed-point position of the buffer's first frame.
func (b *Buffer) Start() timeline.Fixed { return b.start }

// End is the fixed-point position one past the buffer's last frame.
func (b *Buffer) End() timeline.Fixed { return b.start + timeline.FixedFromInt64(b.length) }

// Length is the buffer's whole-frame count.
func (b *Buffer) Length() int64 { return b.length }

// Payload is the interleaved sample data.
func (b *Buffer) Payload() []float32 { return b.payload }

// IsContinuous reports whether this buffer directly follows the
// previously returned one with no gap.
func (b *Buffer) IsContinuous() bool { return b.continuous }

// Usage returns the union of render usages present in the buffer.
func (b *Buffer) Usage() UsageMask { return b.usage }

// AppliedGainDb is the total gain already applied to the payload by
// upstream stages.
func (b *Buffer) AppliedGainDb() float64 { return b.appliedGainDb }

// SetFramesConsumed records how many leading frames the reader used.
// Consuming the full length marks the buffer fully consumed.
func (b *Buffer) SetFramesConsumed(n int64) {
	if n < 0 {
		n = 0
	}
	if n > b.length {
		n = b.length
	}
	b.framesConsumed = n
	b.fullyConsumed = n == b.length
}

// SetFullyConsumed marks the entire buffer as used.
func (b *Buffer) SetFullyConsumed() { b.SetFramesConsumed(b.length) }

// Release returns the buffer to its stream, firing the completion
// callback. Releasing twice is a no-op.
func (b *Buffer) Release() {
	if b.released {
		return
	}
	b.released = true
	if b.onRelease != nil {
		b.onRelease(b.fullyConsumed, b.framesConsumed)
	}
}
