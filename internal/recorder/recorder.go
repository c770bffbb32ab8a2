package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/synheart/shakewatch/internal/models"
)

// Recorder writes samples (or any JSON value) to an NDJSON file, one per line
type Recorder struct {
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
	closed bool
}

// NewRecorder creates a new recorder
func NewRecorder(filename string) (*Recorder, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}

	return &Recorder{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

// Record writes v as a single JSON line
func (r *Recorder) Record(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recorder is closed")
	}

	if _, err := r.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	if err := r.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

// RecordFromChannel records samples until the channel closes or ctx is cancelled
func (r *Recorder) RecordFromChannel(ctx context.Context, samples <-chan models.Sample, onEntry func()) error {
	for {
		select {
		case <-ctx.Done():
			return r.Close()
		case s, ok := <-samples:
			if !ok {
				return r.Close() // Channel closed
			}
			if err := r.Record(s); err != nil {
				return err
			}
			if onEntry != nil {
				onEntry()
			}
		}
	}
}

// Flush flushes the buffer to disk
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	return r.writer.Flush()
}

// Close flushes and closes the recorder. It is safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.writer.Flush(); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to flush buffer: %w", err)
	}

	if err := r.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	return nil
}
