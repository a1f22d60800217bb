// Package mixer implements the real-time mixing core of an audio pipeline:
// it combines multiple independently-clocked, independently-rated source
// streams into a single output stream, performing sample-rate conversion,
// gain application (including smooth ramps), and clock-drift correction
// under a hard per-period deadline.
//
// # Components
//
// From leaves to root:
//
//   - internal/filter holds precomputed, cached convolution kernels
//     (nearest-neighbor and windowed-sinc) keyed by rate pair.
//   - [Gain] models one edge's source/destination gain, mute state, and
//     in-flight ramps, with exact dB-to-linear-scale conversion.
//   - [Mixer] is the per-edge resampling engine: it consumes one source
//     stream's buffers and accumulates resampled, gain-scaled output into a
//     caller-provided destination buffer. Concrete samplers are selected by
//     [Select] (sample-and-hold vs. windowed sinc).
//   - [MixStage] owns a set of (source stream, Mixer) pairs feeding one
//     destination buffer. Each mix job it reconciles every source's
//     reference clock against its own, sets the mixer's step size (with a
//     micro-SRC rate correction when clocks drift), and sums all sources
//     into the output.
//   - [MixThread] is a dedicated execution context that periodically runs
//     mix jobs for a topologically-ordered set of consumers, honoring a
//     per-period CPU budget and detecting underflow.
//
// # Streams and clocks
//
// Sources are abstract [ReadableStream] capabilities: they produce audio
// for a frame range ([ReadableStream.ReadLock]), discard stale audio
// ([ReadableStream.Trim]), and report their presentation delay. Every
// stream carries a reference [Clock] that maps its own reference time to
// the shared monotonic timeline; clock pairs that cannot self-synchronize
// are reconciled with a small continuously-applied sample-rate correction
// (micro-SRC) so streams stay in sync without audible discontinuities.
// [PacketQueue] is a ready-made packet-fed ReadableStream for producers.
//
// # Time and positions
//
// All stream positions are fixed-point frame numbers with 13 fractional
// bits (see the timeline package). Timeline relationships are exact
// rationals, never floats, so long-running positions cannot drift from
// rounding error.
//
// # Error model
//
// Nothing in the mixing path blocks or fails mid-mix: a source with no
// data contributes silence for the window and the shortfall is recorded as
// an underflow; clock drift beyond the jam-sync threshold re-anchors
// positions and is surfaced as a discontinuity; scheduling lateness rounds
// the next job forward to a whole period boundary. Invariant violations
// are programming errors and panic.
package mixer
