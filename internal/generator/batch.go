package generator

import (
	"github.com/google/uuid"
	"github.com/synheart/shakewatch/internal/models"
)

// Batcher collects samples into ingest batches the way a phone app would
// upload them: fixed-size chunks, each with its own batch ID
type Batcher struct {
	source   string
	platform string
	size     int
	samples  []models.Sample
}

// NewBatcher creates a batcher that flushes every size samples
func NewBatcher(source, platform string, size int) *Batcher {
	if size <= 0 {
		size = 50
	}
	return &Batcher{
		source:   source,
		platform: platform,
		size:     size,
		samples:  make([]models.Sample, 0, size),
	}
}

// Add appends a sample and returns a full batch when one is ready
func (b *Batcher) Add(s models.Sample) (*models.SampleBatch, bool) {
	s.Source = ""
	b.samples = append(b.samples, s)
	if len(b.samples) < b.size {
		return nil, false
	}
	return b.Flush(), true
}

// Flush returns whatever is buffered as a batch, or nil if empty
func (b *Batcher) Flush() *models.SampleBatch {
	if len(b.samples) == 0 {
		return nil
	}

	batch := &models.SampleBatch{
		Schema:  models.BatchSchema,
		BatchID: uuid.New().String(),
		Source:  b.source,
		Device:  models.Device{Platform: b.platform, AppVersion: "shakewatch-sim"},
		Samples: b.samples,
	}
	b.samples = make([]models.Sample, 0, b.size)
	return batch
}

// Pending returns the number of buffered samples
func (b *Batcher) Pending() int {
	return len(b.samples)
}
