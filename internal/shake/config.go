package shake

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is returned when detector thresholds would make detection ill-defined
var ErrInvalidConfig = errors.New("invalid shake config")

// Config holds the detection envelope. It is fixed for the lifetime of a Detector.
type Config struct {
	// MinForce is the smallest magnitude jump (exclusive) that counts as a movement
	MinForce float64 `yaml:"min_force"`
	// MinDirectionChanges is the number of counted movements needed to fire
	MinDirectionChanges uint32 `yaml:"min_direction_changes"`
	// MaxPause is the largest gap in ms allowed between consecutive movements
	MaxPause int64 `yaml:"max_pause_ms"`
	// MaxDuration bounds the span in ms from the first to the firing movement
	MaxDuration int64 `yaml:"max_duration_ms"`
	// ResetOnOverrun abandons the window when the count is reached but the
	// duration is exceeded. Off by default, in which case the window stays open.
	ResetOnOverrun bool `yaml:"reset_on_overrun"`
}

// DefaultConfig returns the stock envelope: 10 force, 3 changes, 200ms pause, 400ms total
func DefaultConfig() Config {
	return Config{
		MinForce:            10,
		MinDirectionChanges: 3,
		MaxPause:            200,
		MaxDuration:         400,
	}
}

// Validate reports the first threshold that cannot be used
func (c Config) Validate() error {
	switch {
	case math.IsNaN(c.MinForce) || math.IsInf(c.MinForce, 0):
		return fmt.Errorf("%w: min_force must be finite, got %v", ErrInvalidConfig, c.MinForce)
	case c.MinForce < 0:
		return fmt.Errorf("%w: min_force must not be negative, got %v", ErrInvalidConfig, c.MinForce)
	case c.MinDirectionChanges == 0:
		return fmt.Errorf("%w: min_direction_changes must be at least 1", ErrInvalidConfig)
	case c.MaxPause <= 0:
		return fmt.Errorf("%w: max_pause_ms must be positive, got %d", ErrInvalidConfig, c.MaxPause)
	case c.MaxDuration <= 0:
		return fmt.Errorf("%w: max_duration_ms must be positive, got %d", ErrInvalidConfig, c.MaxDuration)
	}
	return nil
}
