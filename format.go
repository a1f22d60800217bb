package mixer

import (
	"fmt"
	"time"

	"github.com/soundmesh/go-audio-mixer/timeline"
)

// Supported sample-rate range, matching common hardware capabilities.
const (
	MinSampleRate = 1000
	MaxSampleRate = 192000
)

// MaxChannels bounds the channel counts the mix path supports.
const MaxChannels = 8

// Format describes the layout of a float32 PCM stream: interleaved frames
// of Channels samples at FramesPerSecond frames per second.
type Format struct {
	FramesPerSecond int32
	Channels        int32
}

// Validate reports whether the format is usable by the mix path.
func (f Format) Validate() error {
	if f.FramesPerSecond < MinSampleRate || f.FramesPerSecond > MaxSampleRate {
		return fmt.Errorf("%w: frames per second %d outside [%d, %d]",
			ErrInvalidFormat, f.FramesPerSecond, MinSampleRate, MaxSampleRate)
	}
	if f.Channels < 1 || f.Channels > MaxChannels {
		return fmt.Errorf("%w: channel count %d outside [1, %d]",
			ErrInvalidFormat, f.Channels, MaxChannels)
	}
	return nil
}

// FramesPerNs returns the exact rate mapping nanoseconds to frames.
func (f Format) FramesPerNs() timeline.Rate {
	return timeline.NewRate(uint64(f.FramesPerSecond), uint64(time.Second))
}

// FracFramesPerNs returns the exact rate mapping nanoseconds to
// fixed-point (fractional) frames.
func (f Format) FracFramesPerNs() timeline.Rate {
	return timeline.NewRate(uint64(f.FramesPerSecond)<<timeline.FracBits, uint64(time.Second))
}

// DurationForFrames returns the wall time covered by n frames, rounded up
// to whole nanoseconds.
func (f Format) DurationForFrames(n int64) time.Duration {
	return time.Duration(f.FramesPerNs().Inverse().Scale(n, timeline.RoundUp))
}

// FramesForDuration returns how many whole frames fit in d, rounded down.
func (f Format) FramesForDuration(d time.Duration) int64 {
	return f.FramesPerNs().Scale(int64(d), timeline.RoundDown)
}

func (f Format) String() string {
	return fmt.Sprintf("%dch @ %d Hz", f.Channels, f.FramesPerSecond)
}
