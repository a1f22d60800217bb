package filter

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Response holds the magnitude response of a coefficient table, evaluated
// over normalized frequency (1.0 = the source Nyquist frequency).
type Response struct {
	// Frequencies are normalized to [0, 1] (source Nyquist).
	Frequencies []float64
	// MagnitudeDb is the magnitude at each frequency in dB, normalized so
	// that DC is 0 dB.
	MagnitudeDb []float64
}

// minMagnitude avoids log(0) for frequencies in a true null.
const minMagnitude = 1e-12

// FrequencyResponse computes the magnitude response of the table's
// underlying continuous kernel, reconstructed at subframe resolution and
// transformed with a real FFT.
func FrequencyResponse(t *Table) Response {
	// One-sided oversampled impulse response: g[m] = f(m / numPhases).
	// g[0] is the center tap, shared by both sides of the symmetric filter.
	oneSided := t.sideTaps * t.numPhases
	impulse := make([]float64, 2*oneSided-1)
	for k := 0; k < t.sideTaps; k++ {
		for p := 0; p < t.numPhases; p++ {
			m := k*t.numPhases + p
			c := float64(t.pastRev[p][t.sideTaps-1-k])
			impulse[oneSided-1+m] = c
			impulse[oneSided-1-m] = c
		}
	}

	fftLen := nextPow2(2 * len(impulse))
	padded := make([]float64, fftLen)
	copy(padded, impulse)

	fft := fourier.NewFFT(fftLen)
	spectrum := fft.Coefficients(nil, padded)

	dcMag := math.Max(cmplxAbs(spectrum[0]), minMagnitude)

	resp := Response{
		Frequencies: make([]float64, len(spectrum)),
		MagnitudeDb: make([]float64, len(spectrum)),
	}
	for i, c := range spectrum {
		// Bin i is at i/fftLen cycles per subframe; one frame is numPhases
		// subframes, so normalized frequency (vs source Nyquist) is
		// 2 * numPhases * i / fftLen.
		resp.Frequencies[i] = 2.0 * float64(t.numPhases) * float64(i) / float64(fftLen)
		mag := math.Max(cmplxAbs(c), minMagnitude)
		resp.MagnitudeDb[i] = 20.0 * math.Log10(mag/dcMag)
	}
	return resp
}

// StopbandAttenuationDb returns the attenuation, in positive dB, of the
// least-attenuated bin in [fromFreq, 2.0]. Twice the source Nyquist
// covers the region where the first images of a resampled signal fall.
func (r Response) StopbandAttenuationDb(fromFreq float64) float64 {
	worst := math.Inf(-1)
	for i, f := range r.Frequencies {
		if f < fromFreq || f > 2.0 {
			continue
		}
		if r.MagnitudeDb[i] > worst {
			worst = r.MagnitudeDb[i]
		}
	}
	return -worst
}

// PassbandRippleDb returns the maximum deviation from 0 dB at or below the
// given normalized frequency.
func (r Response) PassbandRippleDb(toFreq float64) float64 {
	worst := 0.0
	for i, f := range r.Frequencies {
		if f > toFreq {
			continue
		}
		if dev := math.Abs(r.MagnitudeDb[i]); dev > worst {
			worst = dev
		}
	}
	return worst
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
