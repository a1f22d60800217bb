package timeline

import "sync"

// Function is an affine mapping between two timelines: a reference value
// maps to subjectTime + rate*(reference - referenceTime). The common cases
// in the mixing core are clock-to-clock mappings (nanoseconds to
// nanoseconds) and clock-to-position mappings (nanoseconds to subframes).
type Function struct {
	subjectTime   int64
	referenceTime int64
	rate          Rate
}

// NewFunction returns the mapping that sends referenceTime to subjectTime
// and advances at the given rate.
func NewFunction(subjectTime, referenceTime int64, rate Rate) Function {
	return Function{subjectTime: subjectTime, referenceTime: referenceTime, rate: rate}
}

// Identity is the mapping that sends every value to itself.
func Identity() Function {
	return Function{rate: NewRate(1, 1)}
}

// SubjectTime returns the subject-timeline anchor point.
func (f Function) SubjectTime() int64 { return f.subjectTime }

// ReferenceTime returns the reference-timeline anchor point.
func (f Function) ReferenceTime() int64 { return f.referenceTime }

// Rate returns the slope of the mapping.
func (f Function) Rate() Rate { return f.rate }

// Apply maps a reference-timeline value to the subject timeline,
// rounding toward negative infinity.
func (f Function) Apply(reference int64) int64 {
	return f.subjectTime + f.rate.Scale(reference-f.referenceTime, RoundDown)
}

// ApplyInverse maps a subject-timeline value back to the reference
// timeline. The rate must be non-zero.
func (f Function) ApplyInverse(subject int64) int64 {
	return f.referenceTime + f.rate.Inverse().Scale(subject-f.subjectTime, RoundDown)
}

// Inverse returns the mapping from subject timeline to reference timeline.
// The rate must be non-zero.
func (f Function) Inverse() Function {
	return Function{
		subjectTime:   f.referenceTime,
		referenceTime: f.subjectTime,
		rate:          f.rate.Inverse(),
	}
}

// Compose returns bc∘ab: a mapping from ab's reference timeline to bc's
// subject timeline. The composed rate is the product of the two rates,
// approximated if it cannot be represented exactly.
func Compose(bc, ab Function) Function {
	return Function{
		subjectTime:   bc.Apply(ab.subjectTime),
		referenceTime: ab.referenceTime,
		rate:          ProductRate(ab.rate, bc.rate, false),
	}
}

// Versioned is a Function paired with a generation counter, safe for
// concurrent use. Writers bump the generation on every update so readers
// can detect that a timeline changed between two snapshots without
// comparing the mappings themselves.
type Versioned struct {
	mu         sync.Mutex
	fn         Function
	generation uint64
}

// NewVersioned returns a Versioned holding fn at generation 1.
func NewVersioned(fn Function) *Versioned {
	return &Versioned{fn: fn, generation: 1}
}

// Get returns the current mapping and its generation.
func (v *Versioned) Get() (Function, uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fn, v.generation
}

// Set replaces the mapping and bumps the generation.
func (v *Versioned) Set(fn Function) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fn = fn
	v.generation++
}
