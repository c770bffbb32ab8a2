package generator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/synheart/shakewatch/internal/models"
	"github.com/synheart/shakewatch/internal/scenario"
)

// Generator produces a deterministic accelerometer feed from a scenario.
// Timestamps follow a virtual sample clock with jittered spacing, so the same
// seed always yields the same trace regardless of how fast it is consumed.
type Generator struct {
	engine   *scenario.Engine
	rng      *rand.Rand
	runID    string
	source   string
	interval time.Duration
	jitter   float64
	startMs  int64
}

// Config holds generator configuration
type Config struct {
	Seed     int64
	SourceID string
	StartMs  int64 // sample-clock origin; 0 is fine for most uses
}

// NewGenerator creates a new sample generator
func NewGenerator(engine *scenario.Engine, config Config) (*Generator, error) {
	scen := engine.Scenario()
	interval, err := scenario.ParseRate(scen.Rate)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scen.Name, err)
	}

	source := config.SourceID
	if source == "" {
		source = "mock-phone-01"
	}

	return &Generator{
		engine:   engine,
		rng:      rand.New(rand.NewSource(config.Seed)),
		runID:    uuid.New().String(),
		source:   source,
		interval: interval,
		jitter:   scen.Jitter,
		startMs:  config.StartMs,
	}, nil
}

// Next returns the sample at the current clock position and advances the clock
func (g *Generator) Next() models.Sample {
	elapsed := g.engine.Elapsed()
	motion := g.engine.Motion()
	x, y, z := synthesize(g.rng, motion, elapsed.Seconds())

	g.engine.Advance(g.nextInterval())

	return models.Sample{
		Source: g.source,
		T:      g.startMs + elapsed.Milliseconds(),
		X:      x,
		Y:      y,
		Z:      z,
	}
}

// Trace returns the next n samples, stopping early if the scenario completes
func (g *Generator) Trace(n int) []models.Sample {
	samples := make([]models.Sample, 0, n)
	for i := 0; i < n && !g.engine.IsComplete(); i++ {
		samples = append(samples, g.Next())
	}
	return samples
}

// Generate emits one sample per tick until the scenario completes or ctx is cancelled
func (g *Generator) Generate(ctx context.Context, ticker *time.Ticker, output chan<- models.Sample) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if g.engine.IsComplete() {
				return nil
			}

			select {
			case output <- g.Next():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// nextInterval spreads sample spacing by ±jitter, never below 1ms
func (g *Generator) nextInterval() time.Duration {
	d := g.interval
	if g.jitter > 0 {
		d = time.Duration(float64(d) * (1 + g.jitter*(2*g.rng.Float64()-1)))
	}
	d = d.Round(time.Millisecond)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// Interval returns the nominal sample spacing
func (g *Generator) Interval() time.Duration {
	return g.interval
}

// RunID returns the current run ID
func (g *Generator) RunID() string {
	return g.runID
}

// Source returns the source ID stamped on every sample
func (g *Generator) Source() string {
	return g.source
}
