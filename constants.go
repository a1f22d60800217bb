package mixer

import "time"

// Gain limits in decibels. Values below MutedGainDb are indistinguishable
// from silence and are clamped there; values above MaxGainDb would risk
// integer-domain clipping downstream and are clamped as well.
const (
	// UnityGainDb passes samples through unchanged.
	UnityGainDb = 0.0

	// MinGainDb is the lowest expressible gain.
	MinGainDb = -160.0

	// MaxGainDb is the highest expressible gain (+24 dB, about 15.8x).
	MaxGainDb = 24.0

	// MutedGainDb and below is treated as full mute.
	MutedGainDb = MinGainDb
)

// MinGainScale is the linear scale corresponding to MinGainDb.
// Scales at or below this value are flushed to exactly zero.
const MinGainScale = 1e-8

// maxRampFrames bounds how many per-frame gain scales are computed in one
// batch while a ramp is in flight. 960 frames is 10 ms at 96 kHz, well
// under any mix period, so a ramp still advances smoothly across batches.
const maxRampFrames = 960

// Clock reconciliation tuning.
const (
	// maxErrorThresholdDuration is the worst positional error tolerated
	// before the stream's position is jam-synced (snapped) back to the
	// clock-derived ideal, producing an audible discontinuity.
	maxErrorThresholdDuration = 5 * time.Millisecond

	// maxMicroSrcPpm clamps the rate correction applied by micro-SRC.
	// Real oscillators are within a few hundred ppm of nominal; 2500 ppm
	// of headroom converges quickly without audible pitch artifacts.
	maxMicroSrcPpm = 2500.0
)

// Scheduling tuning for MixThread.
const (
	// underflowChaseLimit caps how many consecutive whole periods a late
	// consumer may skip forward in a single wakeup before giving up and
	// re-anchoring to the current time.
	underflowChaseLimit = 64
)
