package scenario

import (
	"sync"
	"time"
)

// Engine tracks progression through a scenario on the sample clock.
// It never reads wall time, so replays of the same seed line up exactly.
type Engine struct {
	scenario *Scenario
	elapsed  time.Duration
	mu       sync.RWMutex
}

// NewEngine creates a new scenario engine
func NewEngine(scenario *Scenario) *Engine {
	return &Engine{scenario: scenario}
}

// Advance moves the sample clock forward
func (e *Engine) Advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.elapsed += d
}

// Elapsed returns the sample-clock time since the scenario started
func (e *Engine) Elapsed() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.elapsed
}

// CurrentPhase returns the phase active at the current elapsed time
func (e *Engine) CurrentPhase() *Phase {
	return e.scenario.PhaseAt(e.Elapsed())
}

// Motion returns the effective motion at the current elapsed time
func (e *Engine) Motion() Motion {
	return e.scenario.MotionAt(e.Elapsed())
}

// IsComplete returns true if the scenario has finished
func (e *Engine) IsComplete() bool {
	duration, unlimited := ParseDuration(e.scenario.Duration)
	if unlimited {
		return false
	}
	return e.Elapsed() >= duration
}

// Scenario returns the underlying scenario
func (e *Engine) Scenario() *Scenario {
	return e.scenario
}

// Reset rewinds the scenario to the beginning
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.elapsed = 0
}
