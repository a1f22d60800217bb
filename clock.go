package mixer

import (
	"sync"
	"time"

	"github.com/soundmesh/go-audio-mixer/timeline"
)

// Clock domains. Clocks in the same hardware domain advance in lockstep
// and never need rate correction against each other. ExternalDomain marks
// a clock with no known hardware relationship to any other.
const (
	MonotonicDomain uint32 = 0
	ExternalDomain  uint32 = 0xFFFFFFFF
)

// Clock maps a stream's reference timeline to the shared monotonic
// timeline. Implementations must be safe for concurrent use.
type Clock interface {
	// Name identifies the clock in logs and metrics.
	Name() string

	// ToClockMono returns the current reference-to-monotonic mapping.
	ToClockMono() timeline.Function

	// MonotonicTimeFromReferenceTime converts a reference timestamp (ns)
	// to monotonic time (ns).
	MonotonicTimeFromReferenceTime(ref int64) int64

	// ReferenceTimeFromMonotonicTime converts a monotonic timestamp (ns)
	// to reference time (ns).
	ReferenceTimeFromMonotonicTime(mono int64) int64

	// IsAdjustable reports whether the clock's owner accepts rate
	// adjustments, letting it converge toward another clock on its own.
	IsAdjustable() bool

	// IsDeviceClock reports whether the clock is recovered from audio
	// hardware rather than owned by a client.
	IsDeviceClock() bool

	// Domain returns the clock's hardware domain.
	Domain() uint32
}

// SyntheticClock is a Clock whose reference-to-monotonic mapping is set
// programmatically. It backs client clocks in production and every clock
// in tests.
type SyntheticClock struct {
	name       string
	device     bool
	adjustable bool
	domain     uint32

	mu     sync.Mutex
	toMono timeline.Function
}

// NewSyntheticClock returns a clock with the given identity whose
// reference timeline initially equals the monotonic timeline.
func NewSyntheticClock(name string, device, adjustable bool, domain uint32) *SyntheticClock {
	return &SyntheticClock{
		name:       name,
		device:     device,
		adjustable: adjustable,
		domain:     domain,
		toMono:     timeline.Identity(),
	}
}

// NewMonotonicClock returns the canonical clock for streams whose
// reference timeline is monotonic time itself.
func NewMonotonicClock() *SyntheticClock {
	return NewSyntheticClock("monotonic", true, false, MonotonicDomain)
}

func (c *SyntheticClock) Name() string       { return c.name }
func (c *SyntheticClock) IsAdjustable() bool { return c.adjustable }
func (c *SyntheticClock) IsDeviceClock() bool { return c.device }
func (c *SyntheticClock) Domain() uint32     { return c.domain }

func (c *SyntheticClock) ToClockMono() timeline.Function {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.toMono
}

func (c *SyntheticClock) MonotonicTimeFromReferenceTime(ref int64) int64 {
	return c.ToClockMono().Apply(ref)
}

func (c *SyntheticClock) ReferenceTimeFromMonotonicTime(mono int64) int64 {
	return c.ToClockMono().ApplyInverse(mono)
}

// SetRatePpm re-anchors the clock at monoNow and sets its rate to
// (1e6 + ppm) reference nanoseconds per 1e6 monotonic nanoseconds.
func (c *SyntheticClock) SetRatePpm(ppm int32, monoNow int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	refNow := c.toMono.ApplyInverse(monoNow)
	// toMono maps reference to monotonic, so a fast clock (positive ppm)
	// has a rate below one.
	c.toMono = timeline.NewFunction(monoNow, refNow,
		timeline.NewRate(1_000_000, uint64(1_000_000+int64(ppm))))
}

// SetToClockMono replaces the clock's mapping wholesale.
func (c *SyntheticClock) SetToClockMono(fn timeline.Function) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toMono = fn
}

// SyncMode describes how a source/destination clock pair is reconciled.
type SyncMode int

const (
	// SyncModeNone means the clocks cannot drift apart: they are the same
	// clock, or hardware clocks in the same domain.
	SyncModeNone SyncMode = iota

	// SyncModeMicroSRC means drift is absorbed by adjusting the mix
	// edge's resampling ratio a few ppm at a time.
	SyncModeMicroSRC
)

func (m SyncMode) String() string {
	switch m {
	case SyncModeNone:
		return "none"
	case SyncModeMicroSRC:
		return "micro-src"
	default:
		return "unknown"
	}
}

// ClockSync reconciles one mix edge's source clock against its
// destination clock. It is owned by the edge's mix thread.
type ClockSync struct {
	source Clock
	dest   Clock
	mode   SyncMode
	pid    pidControl
}

// NewClockSync picks the synchronization strategy for a clock pair.
func NewClockSync(source, dest Clock) *ClockSync {
	s := &ClockSync{source: source, dest: dest, mode: SyncModeMicroSRC, pid: microSrcPid()}
	if source == dest {
		s.mode = SyncModeNone
	} else if source.IsDeviceClock() && dest.IsDeviceClock() &&
		source.Domain() == dest.Domain() && source.Domain() != ExternalDomain {
		s.mode = SyncModeNone
	}
	return s
}

// Mode returns the chosen synchronization strategy.
func (s *ClockSync) Mode() SyncMode { return s.mode }

// NeedsSynchronization reports whether the edge must track position error
// and apply rate correction.
func (s *ClockSync) NeedsSynchronization() bool { return s.mode != SyncModeNone }

// Reset clears accumulated correction state, for use after a jam-sync or
// a destination discontinuity.
func (s *ClockSync) Reset(monoNow int64) {
	s.pid.Start(monoNow)
}

// TunePpm feeds one period's measured position error (source leading
// positive) into the controller and returns the rate correction to apply,
// in ppm, clamped to the micro-SRC limit.
func (s *ClockSync) TunePpm(monoNow int64, posErr time.Duration) float64 {
	if s.mode == SyncModeNone {
		return 0
	}
	ppm := s.pid.TuneForError(monoNow, float64(posErr.Nanoseconds()))
	if ppm > maxMicroSrcPpm {
		ppm = maxMicroSrcPpm
	} else if ppm < -maxMicroSrcPpm {
		ppm = -maxMicroSrcPpm
	}
	return ppm
}
