package models

import (
	"math"
	"strconv"
	"time"
)

// BatchSchema identifies the ingest payload layout
const BatchSchema = "shake.samples.v1"

// SampleBatch is the payload devices POST to the receiver
type SampleBatch struct {
	Schema  string   `json:"schema"`
	BatchID string   `json:"batch_id"`
	Source  string   `json:"source"`
	Device  Device   `json:"device"`
	Samples []Sample `json:"samples"`
}

// Device contains sender metadata
type Device struct {
	Platform   string `json:"platform"`
	AppVersion string `json:"app_version,omitempty"`
}

// Validate checks the batch before any sample reaches a detector.
// Timestamps must be non-decreasing within the batch.
func (b *SampleBatch) Validate() error {
	if b.Schema != BatchSchema {
		return &ValidationError{Field: "schema", Message: "must be '" + BatchSchema + "'"}
	}
	if b.BatchID == "" {
		return &ValidationError{Field: "batch_id", Message: "is required"}
	}
	if b.Source == "" {
		return &ValidationError{Field: "source", Message: "is required"}
	}
	if b.Device.Platform == "" {
		return &ValidationError{Field: "device.platform", Message: "is required"}
	}
	if len(b.Samples) == 0 {
		return &ValidationError{Field: "samples", Message: "must not be empty"}
	}
	for i, s := range b.Samples {
		field := "samples[" + strconv.Itoa(i) + "]"
		if i > 0 && s.T < b.Samples[i-1].T {
			return &ValidationError{Field: field + ".t", Message: "must not go backwards"}
		}
		for _, v := range [3]float64{s.X, s.Y, s.Z} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return &ValidationError{Field: field, Message: "axes must be finite"}
			}
		}
	}
	return nil
}

// ValidationError represents a schema validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// BatchReceipt summarizes what the receiver did with a batch
type BatchReceipt struct {
	BatchID     string       `json:"batch_id"`
	Source      string       `json:"source"`
	ReceivedAt  string       `json:"received_at"`
	SampleCount int          `json:"sample_count"`
	Range       string       `json:"range"`
	Shakes      []ShakeEvent `json:"shakes"`
	Duplicate   bool         `json:"duplicate,omitempty"`
}

// NewBatchReceipt creates a receipt from a batch and the shakes it produced
func NewBatchReceipt(batch *SampleBatch, shakes []ShakeEvent, duplicate bool) BatchReceipt {
	if shakes == nil {
		shakes = []ShakeEvent{}
	}
	receipt := BatchReceipt{
		BatchID:     batch.BatchID,
		Source:      batch.Source,
		ReceivedAt:  time.Now().UTC().Format(time.RFC3339),
		SampleCount: len(batch.Samples),
		Shakes:      shakes,
		Duplicate:   duplicate,
	}
	if n := len(batch.Samples); n > 0 {
		receipt.Range = strconv.FormatInt(batch.Samples[0].T, 10) + "ms to " + strconv.FormatInt(batch.Samples[n-1].T, 10) + "ms"
	}
	return receipt
}
