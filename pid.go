package mixer

// pidControl is a textbook proportional-integral-derivative controller
// operating on monotonic-time samples. Micro-SRC uses it to turn a
// measured position error (ns) into a rate correction (ppm).
type pidControl struct {
	pFactor float64 // output per unit error
	iFactor float64 // output per unit error-second accumulated
	dFactor float64 // output per unit error-per-second slope

	integral  float64
	lastError float64
	lastMono  int64
	started   bool
}

// Micro-SRC tuning. Errors are one period's worth of drift (hundreds to
// thousands of ns); the proportional term reacts immediately while the
// integral term converges on the true rate offset within about a second.
func microSrcPid() pidControl {
	return pidControl{
		pFactor: 2.0e-3,
		iFactor: 1.0e-1,
		dFactor: 0,
	}
}

// Start re-anchors the controller at monoNow, discarding accumulated
// state.
func (p *pidControl) Start(monoNow int64) {
	p.integral = 0
	p.lastError = 0
	p.lastMono = monoNow
	p.started = true
}

// TuneForError feeds one error sample taken at monoNow and returns the
// control output. The first sample after Start contributes only its
// proportional term.
func (p *pidControl) TuneForError(monoNow int64, err float64) float64 {
	if !p.started {
		p.Start(monoNow)
	}
	dtSec := float64(monoNow-p.lastMono) / 1e9
	if dtSec < 0 {
		dtSec = 0
	}

	p.integral += err * dtSec
	var slope float64
	if dtSec > 0 {
		slope = (err - p.lastError) / dtSec
	}
	p.lastError = err
	p.lastMono = monoNow

	return p.pFactor*err + p.iFactor*p.integral + p.dFactor*slope
}
