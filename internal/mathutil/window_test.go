package mathutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSinc(t *testing.T) {
	assert.Equal(t, 1.0, Sinc(0))
	assert.InDelta(t, 0.0, Sinc(1), 1e-12)
	assert.InDelta(t, 0.0, Sinc(2), 1e-12)
	assert.InDelta(t, 2/math.Pi, Sinc(0.5), 1e-12)

	// Even function.
	for _, x := range []float64{0.1, 0.7, 1.3, 5.9} {
		assert.InDelta(t, Sinc(x), Sinc(-x), 1e-15, "sinc not even at %f", x)
	}
}

func TestRaisedCosine(t *testing.T) {
	const halfWidth = 13.0

	assert.InDelta(t, 1.0, RaisedCosine(0, halfWidth), 1e-12)
	assert.InDelta(t, 0.0, RaisedCosine(halfWidth, halfWidth), 1e-12)
	assert.InDelta(t, 0.5, RaisedCosine(halfWidth/2, halfWidth), 1e-12)

	// Zero outside the window.
	assert.Equal(t, 0.0, RaisedCosine(halfWidth+0.001, halfWidth))
	assert.Equal(t, 0.0, RaisedCosine(-halfWidth-1, halfWidth))

	// Monotonically decreasing over [0, halfWidth].
	prev := math.Inf(1)
	for x := 0.0; x <= halfWidth; x += 0.25 {
		v := RaisedCosine(x, halfWidth)
		assert.LessOrEqual(t, v, prev, "raised cosine not decreasing at %f", x)
		prev = v
	}
}

func TestFlushDenormal(t *testing.T) {
	assert.Equal(t, 0.0, FlushDenormal(1e-31))
	assert.Equal(t, 0.0, FlushDenormal(-1e-31))
	assert.Equal(t, 1e-20, FlushDenormal(1e-20))
	assert.Equal(t, -0.5, FlushDenormal(-0.5))
}
