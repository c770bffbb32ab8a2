package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/synheart/shakewatch/internal/models"
)

// Replayer reads and replays samples from an NDJSON trace
type Replayer struct {
	filename    string
	speed       float64
	loop        bool
	sampleCount int
	firstSample *models.Sample
	span        int64
	loaded      bool
}

// NewReplayer creates a new replayer. A speed of 0 replays without delays.
func NewReplayer(filename string, speed float64, loop bool) *Replayer {
	return &Replayer{
		filename: filename,
		speed:    speed,
		loop:     loop,
	}
}

// loadMetadata reads the file once to cache count, first sample and span
func (r *Replayer) loadMetadata() error {
	if r.loaded {
		return nil
	}

	file, err := os.Open(r.filename)
	if err != nil {
		return fmt.Errorf("failed to open recording file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	r.sampleCount = 0
	var last models.Sample

	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		r.sampleCount++
		if err := json.Unmarshal(scanner.Bytes(), &last); err != nil {
			return fmt.Errorf("failed to parse sample %d: %w", r.sampleCount, err)
		}
		if r.sampleCount == 1 {
			first := last
			r.firstSample = &first
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading file: %w", err)
	}

	if r.firstSample != nil {
		r.span = last.T - r.firstSample.T
	}
	r.loaded = true
	return nil
}

// Replay sends samples to output with their recorded spacing scaled by speed.
// When looping, each pass is shifted forward so timestamps never go backwards.
func (r *Replayer) Replay(ctx context.Context, output chan<- models.Sample) error {
	if r.loop {
		if err := r.loadMetadata(); err != nil {
			return err
		}
	}

	var offset int64
	for {
		lastT, err := r.replayOnce(ctx, output, offset)
		if err != nil {
			return err
		}

		if !r.loop {
			break
		}
		offset = lastT + 1 - r.firstT()

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Continue looping
		}
	}

	return nil
}

func (r *Replayer) firstT() int64 {
	if r.firstSample == nil {
		return 0
	}
	return r.firstSample.T
}

func (r *Replayer) replayOnce(ctx context.Context, output chan<- models.Sample, offset int64) (int64, error) {
	file, err := os.Open(r.filename)
	if err != nil {
		return 0, fmt.Errorf("failed to open recording file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var lastT int64
	lineNum := 0
	sent := 0

	for scanner.Scan() {
		lineNum++
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var sample models.Sample
		if err := json.Unmarshal(scanner.Bytes(), &sample); err != nil {
			return lastT, fmt.Errorf("failed to parse sample at line %d: %w", lineNum, err)
		}
		sample.T += offset

		if sent > 0 && r.speed > 0 {
			delay := time.Duration(float64(sample.T-lastT) * float64(time.Millisecond) / r.speed)
			if delay > 0 {
				select {
				case <-ctx.Done():
					return lastT, ctx.Err()
				case <-time.After(delay):
				}
			}
		}

		select {
		case <-ctx.Done():
			return lastT, ctx.Err()
		case output <- sample:
		}
		lastT = sample.T
		sent++
	}

	if err := scanner.Err(); err != nil {
		return lastT, fmt.Errorf("error reading file: %w", err)
	}

	if sent == 0 {
		return lastT, fmt.Errorf("recording file is empty")
	}
	return lastT, nil
}

// CountSamples returns the number of samples in the recording
func (r *Replayer) CountSamples() (int, error) {
	if err := r.loadMetadata(); err != nil {
		return 0, err
	}
	return r.sampleCount, nil
}

// FirstSample returns the first sample in the recording
func (r *Replayer) FirstSample() (*models.Sample, error) {
	if err := r.loadMetadata(); err != nil {
		return nil, err
	}
	if r.firstSample == nil {
		return nil, fmt.Errorf("recording file is empty")
	}
	return r.firstSample, nil
}

// Span returns the time covered by the recording
func (r *Replayer) Span() (time.Duration, error) {
	if err := r.loadMetadata(); err != nil {
		return 0, err
	}
	return time.Duration(r.span) * time.Millisecond, nil
}
