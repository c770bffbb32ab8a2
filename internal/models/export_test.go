package models

import (
	"errors"
	"math"
	"testing"
)

func validBatch() SampleBatch {
	return SampleBatch{
		Schema:  BatchSchema,
		BatchID: "batch-1",
		Source:  "phone-1",
		Device:  Device{Platform: "android", AppVersion: "1.0.0"},
		Samples: []Sample{
			{T: 0, X: 0, Y: 0, Z: 9.8},
			{T: 20, X: 0.1, Y: 0, Z: 9.7},
			{T: 20, X: 0.2, Y: 0, Z: 9.9},
		},
	}
}

func TestSampleBatch_Validate_Valid(t *testing.T) {
	batch := validBatch()
	if err := batch.Validate(); err != nil {
		t.Errorf("expected valid batch, got error: %v", err)
	}
}

func TestSampleBatch_Validate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SampleBatch)
		field  string
	}{
		{"wrong schema", func(b *SampleBatch) { b.Schema = "wrong.schema" }, "schema"},
		{"missing batch id", func(b *SampleBatch) { b.BatchID = "" }, "batch_id"},
		{"missing source", func(b *SampleBatch) { b.Source = "" }, "source"},
		{"missing platform", func(b *SampleBatch) { b.Device.Platform = "" }, "device.platform"},
		{"no samples", func(b *SampleBatch) { b.Samples = nil }, "samples"},
		{"time goes backwards", func(b *SampleBatch) { b.Samples[2].T = 10 }, "samples[2].t"},
		{"nan axis", func(b *SampleBatch) { b.Samples[1].Y = math.NaN() }, "samples[1]"},
		{"infinite axis", func(b *SampleBatch) { b.Samples[0].Z = math.Inf(1) }, "samples[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := validBatch()
			tt.mutate(&batch)

			err := batch.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}

			var valErr *ValidationError
			if !errors.As(err, &valErr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if valErr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, valErr.Field)
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Field: "batch_id", Message: "is required"}
	if err.Error() != "batch_id: is required" {
		t.Errorf("unexpected error string: %s", err.Error())
	}
}

func TestNewBatchReceipt(t *testing.T) {
	batch := validBatch()

	receipt := NewBatchReceipt(&batch, nil, true)

	if receipt.BatchID != "batch-1" || receipt.Source != "phone-1" {
		t.Errorf("unexpected ids: %+v", receipt)
	}
	if receipt.SampleCount != 3 {
		t.Errorf("expected 3 samples, got %d", receipt.SampleCount)
	}
	if receipt.Range != "0ms to 20ms" {
		t.Errorf("unexpected range %q", receipt.Range)
	}
	if receipt.Shakes == nil || len(receipt.Shakes) != 0 {
		t.Errorf("expected empty, non-nil shakes, got %#v", receipt.Shakes)
	}
	if !receipt.Duplicate {
		t.Error("expected duplicate flag")
	}
}
