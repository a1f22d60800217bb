package mixer

import (
	"fmt"
	"sync"
	"time"

	"github.com/soundmesh/go-audio-mixer/timeline"
)

// PacketQueue is a ReadableStream fed by a producer pushing timestamped
// packets. The mix thread reads and trims it; the producer pushes from
// any thread. Packets are handed back through their release callbacks
// once fully consumed or trimmed.
type PacketQueue struct {
	format Format
	clock  Clock
	usage  UsageMask

	// presentationFn maps reference time to fixed-point frames. A zero
	// rate means the queue is not presenting (stopped).
	presentationFn *timeline.Versioned

	mu      sync.Mutex
	packets []*queuedPacket
	closed  bool
	delay   time.Duration

	// lastEnd is the end of the last fully consumed packet, for the
	// continuity flag on the next read.
	lastEnd    timeline.Fixed
	haveLast   bool
	underflows uint64
}

type queuedPacket struct {
	start     timeline.Fixed
	length    int64
	payload   []float32
	onRelease func()
}

func (p *queuedPacket) end() timeline.Fixed {
	return p.start + timeline.FixedFromInt64(p.length)
}

// NewPacketQueue creates an empty queue presenting the given format on
// clock. presentationFn maps the clock's reference time to fixed-point
// frame positions; use a zero Function for a queue that starts stopped.
func NewPacketQueue(format Format, clock Clock, presentationFn timeline.Function,
	usage UsageMask) *PacketQueue {
	return &PacketQueue{
		format:         format,
		clock:          clock,
		usage:          usage,
		presentationFn: timeline.NewVersioned(presentationFn),
	}
}

// Format implements ReadableStream.
func (q *PacketQueue) Format() Format { return q.format }

// ReferenceClock implements ReadableStream.
func (q *PacketQueue) ReferenceClock() Clock { return q.clock }

// RefTimeToFracPresentationFrame implements ReadableStream.
func (q *PacketQueue) RefTimeToFracPresentationFrame() (timeline.Function, uint64) {
	return q.presentationFn.Get()
}

// SetPresentationTimeline redefines when the queue's frames present, as
// on play, pause, or seek. Readers observe the change via the generation.
func (q *PacketQueue) SetPresentationTimeline(fn timeline.Function) {
	q.presentationFn.Set(fn)
}

// PresentationDelay implements ReadableStream.
func (q *PacketQueue) PresentationDelay() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.delay
}

// SetPresentationDelay implements ReadableStream.
func (q *PacketQueue) SetPresentationDelay(delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.delay = delay
}

// Underflows reports how many reads found no data.
func (q *PacketQueue) Underflows() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.underflows
}

// PushPacket appends payload starting at startFrame. Packets must be
// pushed in position order; overlaps are rejected. onRelease, if non-nil,
// fires when the packet has been fully consumed or trimmed.
func (q *PacketQueue) PushPacket(startFrame timeline.Fixed, payload []float32, onRelease func()) error {
	ch := int64(q.format.Channels)
	if int64(len(payload))%ch != 0 {
		return fmt.Errorf("%w: payload of %d samples not a whole number of %d-channel frames",
			ErrInvalidFormat, len(payload), ch)
	}
	pkt := &queuedPacket{
		start:     startFrame,
		length:    int64(len(payload)) / ch,
		payload:   payload,
		onRelease: onRelease,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if n := len(q.packets); n > 0 && pkt.start < q.packets[n-1].end() {
		return fmt.Errorf("%w: packet at %v overlaps queued packet ending at %v",
			ErrInvalidFormat, pkt.start, q.packets[n-1].end())
	}
	q.packets = append(q.packets, pkt)
	return nil
}

// Close rejects further pushes. Queued packets remain readable.
func (q *PacketQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// ReadLock implements ReadableStream: it returns the earliest queued
// packet overlapping [startFrame, startFrame+frameCount), or nil. The
// packet is removed from the queue only when the reader releases it fully
// consumed.
func (q *PacketQueue) ReadLock(startFrame timeline.Fixed, frameCount int64) *Buffer {
	windowEnd := startFrame + timeline.FixedFromInt64(frameCount)

	q.mu.Lock()
	defer q.mu.Unlock()

	var pkt *queuedPacket
	for _, p := range q.packets {
		if p.end() > startFrame {
			pkt = p
			break
		}
	}
	if pkt == nil || pkt.start >= windowEnd {
		q.underflows++
		return nil
	}

	continuous := q.haveLast && pkt.start == q.lastEnd
	return NewBuffer(pkt.start, pkt.length, pkt.payload, continuous, q.usage, UnityGainDb,
		func(fullyConsumed bool, _ int64) {
			if fullyConsumed {
				q.retire(pkt)
			}
		})
}

// retire removes pkt (and anything before it) from the queue, firing
// release callbacks.
func (q *PacketQueue) retire(pkt *queuedPacket) {
	q.mu.Lock()
	var released []*queuedPacket
	for len(q.packets) > 0 {
		head := q.packets[0]
		if head.start > pkt.start {
			break
		}
		q.packets = q.packets[1:]
		released = append(released, head)
	}
	q.lastEnd = pkt.end()
	q.haveLast = true
	q.mu.Unlock()

	for _, p := range released {
		if p.onRelease != nil {
			p.onRelease()
		}
	}
}

// Trim implements ReadableStream: packets ending at or before frame are
// dropped and their callbacks fired.
func (q *PacketQueue) Trim(frame timeline.Fixed) {
	q.mu.Lock()
	var released []*queuedPacket
	for len(q.packets) > 0 && q.packets[0].end() <= frame {
		released = append(released, q.packets[0])
		q.packets = q.packets[1:]
	}
	q.mu.Unlock()

	for _, p := range released {
		if p.onRelease != nil {
			p.onRelease()
		}
	}
}
