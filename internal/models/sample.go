package models

import "github.com/synheart/shakewatch/internal/shake"

// Sample is one accelerometer reading as it travels through traces and ingest batches
type Sample struct {
	Source string  `json:"source,omitempty"`
	T      int64   `json:"t"` // ms since an arbitrary, per-source epoch
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
}

// Reading returns the axes in detector form
func (s Sample) Reading() shake.Reading {
	return shake.Reading{X: s.X, Y: s.Y, Z: s.Z}
}
