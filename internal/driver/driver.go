// Package driver feeds sensor streams into shake detectors and fans detected
// shakes out to listeners.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/synheart/shakewatch/internal/models"
	"github.com/synheart/shakewatch/internal/shake"
)

// Listener receives every detected shake. Listeners run on the feeding
// goroutine and must not block.
type Listener func(models.ShakeEvent)

// Stats holds driver counters
type Stats struct {
	Samples  int64 // accepted samples
	Rejected int64 // non-finite or out-of-order samples
	Shakes   int64
	Sources  int // streams with a live detector
}

// stream is one source's detector plus the clock check for its input
type stream struct {
	detector *shake.Detector
	lastT    int64
	seen     bool
}

// Driver owns one detector per source. Feed is safe for concurrent use; calls
// for the same source are serialized so each detector sees one ordered stream.
type Driver struct {
	cfg       shake.Config
	session   models.Session
	log       *slog.Logger
	mu        sync.Mutex
	streams   map[string]*stream
	listeners []Listener
	sequence  int64
	stats     Stats
}

// New creates a driver whose detectors all share cfg
func New(cfg shake.Config, session models.Session, log *slog.Logger) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		cfg:     cfg,
		session: session,
		log:     log,
		streams: make(map[string]*stream),
	}, nil
}

// Subscribe adds a listener for detected shakes
func (d *Driver) Subscribe(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Feed pushes one sample through its source's detector
func (d *Driver) Feed(s models.Sample) (models.ShakeEvent, bool) {
	event, fired, listeners := d.feed(s)
	if !fired {
		return models.ShakeEvent{}, false
	}

	d.log.Info("shake detected",
		"source", event.Source,
		"at_ms", event.Shake.AtMs,
		"duration_ms", event.DurationMs(),
		"changes", event.Shake.Changes,
		"sequence", event.Meta.Sequence)

	for _, l := range listeners {
		l(event)
	}
	return event, true
}

func (d *Driver) feed(s models.Sample) (models.ShakeEvent, bool, []Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, err := d.stream(s.Source)
	if err != nil {
		// unreachable: cfg was validated in New
		d.log.Error("failed to create detector", "source", s.Source, "error", err)
		return models.ShakeEvent{}, false, nil
	}

	reading := s.Reading()
	if !shake.ValidReading(reading) {
		d.stats.Rejected++
		d.log.Debug("rejected non-finite sample", "source", s.Source, "t", s.T)
		return models.ShakeEvent{}, false, nil
	}
	if st.seen && s.T < st.lastT {
		d.stats.Rejected++
		d.log.Debug("rejected out-of-order sample", "source", s.Source, "t", s.T, "last_t", st.lastT)
		return models.ShakeEvent{}, false, nil
	}
	st.lastT = s.T
	st.seen = true
	d.stats.Samples++

	before := st.detector.State()
	evt, fired := st.detector.Sample(reading, s.T)
	if !fired {
		d.logTransition(s, before, st.detector.State())
		return models.ShakeEvent{}, false, nil
	}

	d.sequence++
	d.stats.Shakes++
	event := models.NewShakeEvent(uuid.New().String(), s.Source, d.session, evt, d.sequence)
	return event, true, append([]Listener(nil), d.listeners...)
}

func (d *Driver) logTransition(s models.Sample, before, after shake.State) {
	if !d.log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	switch {
	case !before.Open && after.Open:
		d.log.Debug("window opened", "source", s.Source, "t", s.T, "magnitude", after.LastMagnitude)
	case before.Open && !after.Open:
		d.log.Debug("window abandoned", "source", s.Source, "t", s.T, "changes", before.Changes)
	case after.Changes > before.Changes:
		d.log.Debug("movement counted", "source", s.Source, "t", s.T,
			"movement", math.Abs(after.LastMagnitude-before.LastMagnitude), "changes", after.Changes)
	}
}

func (d *Driver) stream(source string) (*stream, error) {
	if st, ok := d.streams[source]; ok {
		return st, nil
	}
	det, err := shake.New(d.cfg)
	if err != nil {
		return nil, err
	}
	st := &stream{detector: det}
	d.streams[source] = st
	d.log.Debug("detector created", "source", source)
	return st, nil
}

// Run feeds samples from in until it closes or ctx is cancelled.
// Detected shakes are also sent to out when it is non-nil.
func (d *Driver) Run(ctx context.Context, in <-chan models.Sample, out chan<- models.ShakeEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-in:
			if !ok {
				return nil
			}
			event, fired := d.Feed(s)
			if !fired || out == nil {
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Forget drops a source's detector, e.g. when its stream ends
func (d *Driver) Forget(source string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.streams, source)
}

// State returns the detector state for a source
func (d *Driver) State(source string) (shake.State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.streams[source]
	if !ok {
		return shake.State{}, fmt.Errorf("no detector for source %q", source)
	}
	return st.detector.State(), nil
}

// Stats returns a snapshot of the counters
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Sources = len(d.streams)
	return s
}

// Config returns the detector envelope shared by every source
func (d *Driver) Config() shake.Config {
	return d.cfg
}
