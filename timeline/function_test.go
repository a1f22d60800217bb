package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityFunction(t *testing.T) {
	id := Identity()
	assert.Equal(t, int64(42), id.Apply(42))
	assert.Equal(t, int64(-7), id.Apply(-7))
	assert.Equal(t, int64(42), id.ApplyInverse(42))
}

func TestFunctionApply(t *testing.T) {
	// Frame position: 48 frames per ms, frame 100 at t=1ms.
	fn := NewFunction(100, 1_000_000, NewRate(48000, 1_000_000_000))

	assert.Equal(t, int64(100), fn.Apply(1_000_000))
	assert.Equal(t, int64(148), fn.Apply(2_000_000))
	assert.Equal(t, int64(52), fn.Apply(0))

	// Rounds toward negative infinity between frames.
	assert.Equal(t, int64(100), fn.Apply(1_000_001))
	assert.Equal(t, int64(99), fn.Apply(999_999))
}

func TestFunctionInverseRoundTrip(t *testing.T) {
	fn := NewFunction(5000, 17, NewRate(44100, 1_000_000_000))
	inv := fn.Inverse()
	for _, ref := range []int64{0, 17, 1_000_000, 123_456_789} {
		subj := fn.Apply(ref)
		back := inv.Apply(subj)
		// Round trips land within one reference unit per frame of
		// rounding.
		assert.InDelta(t, ref, back, float64(1_000_000_000/44100)+1)
	}
}

func TestCompose(t *testing.T) {
	// ab: seconds -> milliseconds, anchored at zero.
	ab := NewFunction(0, 0, NewRate(1000, 1))
	// bc: milliseconds -> microseconds, anchored at ms=5 -> us=7000.
	bc := NewFunction(7000, 5, NewRate(1000, 1))

	composed := Compose(bc, ab)
	// 2 s -> 2000 ms -> 7000 + (2000-5)*1000 us.
	assert.Equal(t, int64(7000+1995*1000), composed.Apply(2))
	assert.Equal(t, uint64(1_000_000), composed.Rate().SubjectDelta())
	assert.Equal(t, uint64(1), composed.Rate().ReferenceDelta())
}

func TestVersioned(t *testing.T) {
	v := NewVersioned(Identity())
	fn, gen1 := v.Get()
	assert.Equal(t, int64(9), fn.Apply(9))

	v.Set(NewFunction(0, 0, NewRate(2, 1)))
	fn2, gen2 := v.Get()
	assert.Greater(t, gen2, gen1)
	assert.Equal(t, int64(18), fn2.Apply(9))

	// Unchanged reads keep the generation stable.
	_, gen3 := v.Get()
	assert.Equal(t, gen2, gen3)
}
