package scenario

import (
	"fmt"
	"time"
)

// Scenario describes a synthetic accelerometer feed as a sequence of motion phases
type Scenario struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Duration    string  `yaml:"duration"` // e.g., "30s", "unlimited"
	Rate        string  `yaml:"rate"`     // nominal sample rate, e.g., "50hz"
	Jitter      float64 `yaml:"jitter"`   // fraction of the sample interval, 0..1
	Motion      Motion  `yaml:"motion"`
	Phases      []Phase `yaml:"phases"`
}

// Phase represents a time-bounded stage of a scenario with its own motion
type Phase struct {
	Name     string  `yaml:"name"`
	Duration string  `yaml:"duration"`
	Motion   *Motion `yaml:"motion,omitempty"`
}

// Motion is the device movement during a phase.
// Zero fields in a phase inherit from the scenario-level motion.
type Motion struct {
	Gravity []float64    `yaml:"gravity,omitempty"` // resting vector, m/s²
	Noise   float64      `yaml:"noise,omitempty"`   // per-axis sigma, m/s²
	Shake   *Oscillation `yaml:"shake,omitempty"`
}

// Oscillation is a sinusoidal back-and-forth on one axis
type Oscillation struct {
	Axis      string  `yaml:"axis"`      // x|y|z
	Amplitude float64 `yaml:"amplitude"` // peak, m/s²
	Frequency float64 `yaml:"frequency"` // Hz
}

// ParseDuration parses duration strings like "8m", "30s", "unlimited"
func ParseDuration(s string) (time.Duration, bool) {
	if s == "unlimited" || s == "" {
		return 0, true // 0 means unlimited
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return d, false
}

// ParseRate converts a rate like "50hz" into a sample interval
func ParseRate(rate string) (time.Duration, error) {
	var hz float64
	if _, err := fmt.Sscanf(rate, "%fhz", &hz); err != nil {
		return 0, fmt.Errorf("invalid rate %q: %w", rate, err)
	}
	if hz <= 0 {
		return 0, fmt.Errorf("rate must be positive, got %q", rate)
	}
	return time.Duration(float64(time.Second) / hz), nil
}

// Validate checks the fields the generator depends on
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if _, unlimited := ParseDuration(s.Duration); !unlimited {
		if d, err := time.ParseDuration(s.Duration); err != nil || d <= 0 {
			return fmt.Errorf("scenario %s: invalid duration %q", s.Name, s.Duration)
		}
	}
	if _, err := ParseRate(s.Rate); err != nil {
		return fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	if s.Jitter < 0 || s.Jitter >= 1 {
		return fmt.Errorf("scenario %s: jitter must be in [0, 1), got %v", s.Name, s.Jitter)
	}
	if err := s.Motion.validate(); err != nil {
		return fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	for _, p := range s.Phases {
		if _, unlimited := ParseDuration(p.Duration); !unlimited {
			if _, err := time.ParseDuration(p.Duration); err != nil {
				return fmt.Errorf("scenario %s phase %s: invalid duration %q", s.Name, p.Name, p.Duration)
			}
		}
		if p.Motion == nil {
			continue
		}
		if err := p.Motion.validate(); err != nil {
			return fmt.Errorf("scenario %s phase %s: %w", s.Name, p.Name, err)
		}
	}
	return nil
}

func (m Motion) validate() error {
	if m.Gravity != nil && len(m.Gravity) != 3 {
		return fmt.Errorf("gravity needs 3 axes, got %d", len(m.Gravity))
	}
	if m.Noise < 0 {
		return fmt.Errorf("noise must not be negative")
	}
	if o := m.Shake; o != nil {
		switch o.Axis {
		case "x", "y", "z":
		default:
			return fmt.Errorf("shake axis must be x, y or z, got %q", o.Axis)
		}
		if o.Frequency <= 0 {
			return fmt.Errorf("shake frequency must be positive")
		}
	}
	return nil
}

// MotionAt returns the effective motion at a given elapsed time
func (s *Scenario) MotionAt(elapsed time.Duration) Motion {
	merged := s.Motion
	if merged.Gravity == nil {
		merged.Gravity = []float64{0, 0, 9.81}
	}

	phase := s.PhaseAt(elapsed)
	if phase == nil || phase.Motion == nil {
		return merged
	}

	override := phase.Motion
	if override.Gravity != nil {
		merged.Gravity = override.Gravity
	}
	if override.Noise != 0 {
		merged.Noise = override.Noise
	}
	if override.Shake != nil {
		merged.Shake = override.Shake
	}
	return merged
}

// PhaseAt returns the phase active at elapsed, or nil when there are none
func (s *Scenario) PhaseAt(elapsed time.Duration) *Phase {
	if len(s.Phases) == 0 {
		return nil
	}

	var currentTime time.Duration
	for i := range s.Phases {
		phaseDuration, unlimited := ParseDuration(s.Phases[i].Duration)
		if unlimited {
			return &s.Phases[i]
		}

		if elapsed < currentTime+phaseDuration {
			return &s.Phases[i]
		}
		currentTime += phaseDuration
	}

	// Stay in the last phase once the schedule has run out
	return &s.Phases[len(s.Phases)-1]
}
