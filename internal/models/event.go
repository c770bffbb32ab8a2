package models

import (
	"time"

	"github.com/synheart/shakewatch/internal/shake"
)

// SchemaVersion identifies the ShakeEvent envelope layout
const SchemaVersion = "shake.event.v1"

// ShakeEvent is the envelope sinks receive for every detected shake
type ShakeEvent struct {
	SchemaVersion string  `json:"schema_version"`
	EventID       string  `json:"event_id"`
	Timestamp     string  `json:"ts"`
	Source        string  `json:"source"`
	Session       Session `json:"session"`
	Shake         Shake   `json:"shake"`
	Meta          Meta    `json:"meta"`
}

// Session identifies the run that produced the event
type Session struct {
	RunID    string `json:"run_id"`
	Scenario string `json:"scenario,omitempty"`
	Seed     int64  `json:"seed,omitempty"`
}

// Shake carries the detector's view of the gesture, in sample-clock milliseconds
type Shake struct {
	AtMs          int64  `json:"at_ms"`
	FirstChangeMs int64  `json:"first_change_ms"`
	Changes       uint32 `json:"changes"`
}

// Meta contains additional event metadata
type Meta struct {
	Sequence int64 `json:"sequence"`
}

// NewShakeEvent wraps a detector event with the current wall-clock timestamp
func NewShakeEvent(eventID, source string, session Session, evt shake.Event, sequence int64) ShakeEvent {
	return ShakeEvent{
		SchemaVersion: SchemaVersion,
		EventID:       eventID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Source:        source,
		Session:       session,
		Shake: Shake{
			AtMs:          evt.At,
			FirstChangeMs: evt.FirstChangeAt,
			Changes:       evt.Changes,
		},
		Meta: Meta{
			Sequence: sequence,
		},
	}
}

// DurationMs is the span of the gesture from the window opener to the firing movement
func (e ShakeEvent) DurationMs() int64 {
	return e.Shake.AtMs - e.Shake.FirstChangeMs
}
