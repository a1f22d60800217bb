package mixer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/soundmesh/go-audio-mixer/timeline"
)

func TestSyntheticClockIdentity(t *testing.T) {
	c := NewSyntheticClock("test", false, true, ExternalDomain)
	assert.Equal(t, "test", c.Name())
	assert.False(t, c.IsDeviceClock())
	assert.True(t, c.IsAdjustable())
	assert.Equal(t, ExternalDomain, c.Domain())

	assert.Equal(t, int64(12345), c.MonotonicTimeFromReferenceTime(12345))
	assert.Equal(t, int64(12345), c.ReferenceTimeFromMonotonicTime(12345))
}

func TestMonotonicClock(t *testing.T) {
	c := NewMonotonicClock()
	assert.True(t, c.IsDeviceClock())
	assert.False(t, c.IsAdjustable())
	assert.Equal(t, MonotonicDomain, c.Domain())
	assert.Equal(t, timeline.Identity(), c.ToClockMono())
}

func TestSyntheticClockSetRatePpm(t *testing.T) {
	c := NewSyntheticClock("client", false, true, ExternalDomain)

	// +100 ppm: the reference clock runs fast, so after one monotonic
	// second it reads 100us ahead.
	c.SetRatePpm(100, 0)
	ref := c.ReferenceTimeFromMonotonicTime(int64(time.Second))
	assert.Equal(t, int64(time.Second+100*time.Microsecond), ref)

	// The anchor holds: at the change point nothing jumps.
	c2 := NewSyntheticClock("client2", false, true, ExternalDomain)
	c2.SetRatePpm(-250, int64(5*time.Second))
	assert.Equal(t, int64(5*time.Second),
		c2.ReferenceTimeFromMonotonicTime(int64(5*time.Second)))
	ref = c2.ReferenceTimeFromMonotonicTime(int64(6 * time.Second))
	assert.Equal(t, int64(6*time.Second-250*time.Microsecond), ref)
}

func TestSyntheticClockSetToClockMono(t *testing.T) {
	c := NewSyntheticClock("client", false, true, ExternalDomain)
	c.SetToClockMono(timeline.NewFunction(1000, 0, timeline.NewRate(1, 1)))
	assert.Equal(t, int64(1500), c.MonotonicTimeFromReferenceTime(500))
}

func TestNewClockSyncModeSelection(t *testing.T) {
	mono := NewMonotonicClock()
	client := NewSyntheticClock("client", false, true, ExternalDomain)
	devA1 := NewSyntheticClock("a1", true, false, 7)
	devA2 := NewSyntheticClock("a2", true, false, 7)
	devB := NewSyntheticClock("b", true, false, 8)
	extDev1 := NewSyntheticClock("x1", true, false, ExternalDomain)
	extDev2 := NewSyntheticClock("x2", true, false, ExternalDomain)

	tests := []struct {
		name         string
		source, dest Clock
		want         SyncMode
	}{
		{"same clock", mono, mono, SyncModeNone},
		{"client to device", client, mono, SyncModeMicroSRC},
		{"devices in same domain", devA1, devA2, SyncModeNone},
		{"devices in different domains", devA1, devB, SyncModeMicroSRC},
		{"devices both external", extDev1, extDev2, SyncModeMicroSRC},
		{"same external clock", extDev1, extDev1, SyncModeNone},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewClockSync(tc.source, tc.dest)
			assert.Equal(t, tc.want, s.Mode())
			assert.Equal(t, tc.want != SyncModeNone, s.NeedsSynchronization())
		})
	}
}

func TestSyncModeString(t *testing.T) {
	assert.Equal(t, "none", SyncModeNone.String())
	assert.Equal(t, "micro-src", SyncModeMicroSRC.String())
	assert.Equal(t, "unknown", SyncMode(42).String())
}

func TestClockSyncNoneNeverTunes(t *testing.T) {
	mono := NewMonotonicClock()
	s := NewClockSync(mono, mono)
	assert.Zero(t, s.TunePpm(0, time.Millisecond))
}

func TestClockSyncTunePpmDirectionAndClamp(t *testing.T) {
	client := NewSyntheticClock("client", false, false, ExternalDomain)
	s := NewClockSync(client, NewMonotonicClock())
	s.Reset(0)

	// Source ahead of ideal: positive correction, consumption must slow.
	ppm := s.TunePpm(int64(10*time.Millisecond), 100*time.Microsecond)
	assert.Greater(t, ppm, 0.0)
	assert.LessOrEqual(t, ppm, float64(maxMicroSrcPpm))

	// A huge error clamps at the micro-SRC limit.
	s.Reset(0)
	ppm = s.TunePpm(int64(10*time.Millisecond), 4*time.Millisecond)
	assert.Equal(t, float64(maxMicroSrcPpm), ppm)

	s.Reset(0)
	ppm = s.TunePpm(int64(10*time.Millisecond), -4*time.Millisecond)
	assert.Equal(t, float64(-maxMicroSrcPpm), ppm)
}

func TestPidConvergesOnConstantDrift(t *testing.T) {
	// A clock running 200 ppm fast accumulates 2000 ns of error every
	// 10 ms period when uncorrected. Feeding the residual error back
	// through the controller must drive the applied correction toward
	// 200 ppm and the per-period error toward zero.
	pid := microSrcPid()
	pid.Start(0)

	const (
		periodNs = int64(10 * time.Millisecond)
		driftPpm = 200.0
		numSteps = 800
	)
	errNs := 0.0
	applied := 0.0
	for i := 1; i <= numSteps; i++ {
		errNs += (driftPpm - applied) * float64(periodNs) / 1e6
		applied = pid.TuneForError(int64(i)*periodNs, errNs)
	}
	assert.InDelta(t, driftPpm, applied, 5.0)
	assert.InDelta(t, 0.0, errNs, 100.0)
}

func TestPidRestartDiscardsState(t *testing.T) {
	pid := microSrcPid()
	pid.Start(0)
	pid.TuneForError(int64(time.Second), 1e6)
	pid.Start(int64(2 * time.Second))

	// Only the proportional term survives a restart.
	out := pid.TuneForError(int64(2*time.Second), 1000)
	assert.InDelta(t, 2.0, out, 1e-9)
}
