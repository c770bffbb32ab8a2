// Package shake detects shake gestures in a stream of 3-axis accelerometer readings.
//
// The detector never reads a clock and performs no I/O. Callers pass the sample
// timestamp in, which makes every run replayable from a recorded trace. A
// Detector is not safe for concurrent use; give each sensor stream its own.
package shake

import "math"

// Reading is one accelerometer sample, in the sensor's units (m/s² on most platforms)
type Reading struct {
	X, Y, Z float64
}

// Magnitude returns the Euclidean norm of the reading. It only overflows when
// the norm itself exceeds the float64 range.
func (r Reading) Magnitude() float64 {
	return math.Hypot(math.Hypot(r.X, r.Y), r.Z)
}

// ValidReading reports whether all three axes are finite
func ValidReading(r Reading) bool {
	for _, v := range [3]float64{r.X, r.Y, r.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Event marks a detected shake
type Event struct {
	At            int64  // timestamp (ms) of the movement that fired
	FirstChangeAt int64  // timestamp (ms) that opened the window
	Changes       uint32 // counted movements when it fired
}

// State is the detector's entire mutable memory.
//
// Open, FirstChangeAt, LastChangeAt and Changes are always cleared together.
type State struct {
	LastMagnitude float64
	Open          bool
	FirstChangeAt int64
	LastChangeAt  int64
	Changes       uint32
}

// Idle reports whether no window is open
func (s State) Idle() bool {
	return !s.Open
}

// Detector turns readings into shake events
type Detector struct {
	cfg   Config
	state State
}

// New creates a detector; cfg is validated and then frozen
func New(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg}, nil
}

// Config returns the envelope the detector was built with
func (d *Detector) Config() Config {
	return d.cfg
}

// State returns a copy of the current state
func (d *Detector) State() State {
	return d.state
}

// Reset returns the detector to idle, as after a fire
func (d *Detector) Reset() {
	d.state = State{}
}

// Sample feeds one reading taken at now (ms, non-decreasing) and reports
// whether it completed a shake.
//
// A movement is a magnitude jump strictly greater than MinForce. The first
// movement only opens the window; every later one within MaxPause of the
// previous counts. Once MinDirectionChanges are counted inside MaxDuration the
// detector fires and goes idle. Non-finite readings, readings whose norm
// overflows, and timestamps behind the open window are ignored.
//
// The first reading of a stream is compared against a magnitude of zero, so
// resting gravity alone (about 9.8) stays under the default force but a device
// already in motion may open a window immediately.
func (d *Detector) Sample(r Reading, now int64) (Event, bool) {
	if !ValidReading(r) {
		return Event{}, false
	}

	magnitude := r.Magnitude()
	if math.IsInf(magnitude, 0) {
		return Event{}, false
	}
	movement := math.Abs(magnitude - d.state.LastMagnitude)
	if math.IsNaN(movement) || math.IsInf(movement, 0) || movement <= d.cfg.MinForce {
		return Event{}, false
	}

	s := &d.state
	if !s.Open {
		s.Open = true
		s.FirstChangeAt = now
		s.LastChangeAt = now
		s.LastMagnitude = magnitude
		return Event{}, false
	}

	if now < s.LastChangeAt {
		return Event{}, false
	}

	if now-s.LastChangeAt >= d.cfg.MaxPause {
		d.Reset()
		return Event{}, false
	}

	s.LastChangeAt = now
	s.Changes++
	s.LastMagnitude = magnitude

	if s.Changes < d.cfg.MinDirectionChanges {
		return Event{}, false
	}

	if now-s.FirstChangeAt < d.cfg.MaxDuration {
		evt := Event{At: now, FirstChangeAt: s.FirstChangeAt, Changes: s.Changes}
		d.Reset()
		return evt, true
	}

	if d.cfg.ResetOnOverrun {
		d.Reset()
	}
	return Event{}, false
}
