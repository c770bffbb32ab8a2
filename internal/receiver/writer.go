package receiver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/synheart/shakewatch/internal/models"
)

// Writer receives every shake the receiver detects
type Writer interface {
	Write(event *models.ShakeEvent) error
	Close() error
}

func marshalEvent(event *models.ShakeEvent, format string) ([]byte, error) {
	if format == "ndjson" {
		return json.Marshal(event)
	}
	return json.MarshalIndent(event, "", "  ")
}

// StdoutWriter writes events to a stream
type StdoutWriter struct {
	out    io.Writer
	format string // "json" or "ndjson"
	mu     sync.Mutex
}

// NewStdoutWriter creates a new stream writer
func NewStdoutWriter(out io.Writer, format string) *StdoutWriter {
	return &StdoutWriter{
		out:    out,
		format: format,
	}
}

// Write writes one event followed by a newline
func (w *StdoutWriter) Write(event *models.ShakeEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := marshalEvent(event, w.format)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	data = append(data, '\n')

	_, err = w.out.Write(data)
	return err
}

// Close is a no-op for stdout writer
func (w *StdoutWriter) Close() error {
	return nil
}

// FileWriter writes events under a directory. In json format every event gets
// its own file; in ndjson format events are appended to shakes.ndjson.
type FileWriter struct {
	dir    string
	format string
	mu     sync.Mutex
	log    *os.File
}

// NDJSONFileName is the append-only log used by FileWriter in ndjson format
const NDJSONFileName = "shakes.ndjson"

// NewFileWriter creates a new file writer
func NewFileWriter(dir string, format string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	w := &FileWriter{
		dir:    dir,
		format: format,
	}

	if format == "ndjson" {
		f, err := os.OpenFile(filepath.Join(dir, NDJSONFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", NDJSONFileName, err)
		}
		w.log = f
	}

	return w, nil
}

// Write stores one event
func (w *FileWriter) Write(event *models.ShakeEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := marshalEvent(event, w.format)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if w.log != nil {
		if _, err := w.log.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
		return nil
	}

	path := filepath.Join(w.dir, fmt.Sprintf("shake_%s.json", event.EventID))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Close closes the ndjson log if one is open
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.log == nil {
		return nil
	}
	err := w.log.Close()
	w.log = nil
	return err
}

// MultiWriter writes to multiple destinations
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a writer that writes to multiple destinations
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write writes to all underlying writers
func (w *MultiWriter) Write(event *models.ShakeEvent) error {
	var errs []error
	for _, writer := range w.writers {
		if err := writer.Write(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all underlying writers
func (w *MultiWriter) Close() error {
	var errs []error
	for _, writer := range w.writers {
		if err := writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ChannelWriter forwards events to a channel so the receiver can feed the
// same broadcast sinks as the simulator. Full channels drop the event.
type ChannelWriter struct {
	ch chan<- models.ShakeEvent
}

// NewChannelWriter creates a writer that sends to ch without blocking
func NewChannelWriter(ch chan<- models.ShakeEvent) *ChannelWriter {
	return &ChannelWriter{ch: ch}
}

// ErrChannelFull is returned when the destination channel has no room
var ErrChannelFull = errors.New("event channel full")

// Write sends a copy of event
func (w *ChannelWriter) Write(event *models.ShakeEvent) error {
	select {
	case w.ch <- *event:
		return nil
	default:
		return ErrChannelFull
	}
}

// Close is a no-op; the channel is owned by the caller
func (w *ChannelWriter) Close() error {
	return nil
}
