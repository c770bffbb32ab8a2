package transport

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/synheart/shakewatch/internal/models"
)

// Dispatcher copies events from one source to multiple subscribers.
// When a subscriber's buffer is full the event is dropped for that subscriber
// so a stalled sink never blocks detection. Drops are logged and counted.
type Dispatcher struct {
	source       <-chan models.ShakeEvent
	subscribers  []chan models.ShakeEvent
	bufferSize   int
	log          *slog.Logger
	mu           sync.Mutex
	droppedTotal atomic.Int64
}

func NewDispatcher(source <-chan models.ShakeEvent, bufferSize int, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		source:      source,
		subscribers: make([]chan models.ShakeEvent, 0),
		bufferSize:  bufferSize,
		log:         orDiscard(log),
	}
}

// Subscribe returns a channel that receives copies of all source events.
// Subscribers should be added before calling Run() to ensure they receive all events.
func (d *Dispatcher) Subscribe() <-chan models.ShakeEvent {
	ch := make(chan models.ShakeEvent, d.bufferSize)
	d.mu.Lock()
	d.subscribers = append(d.subscribers, ch)
	d.mu.Unlock()
	return ch
}

// GetSubscriberCount returns the current number of subscribers
func (d *Dispatcher) GetSubscriberCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subscribers)
}

// GetDroppedCount returns the total number of per-subscriber drops
func (d *Dispatcher) GetDroppedCount() int64 {
	return d.droppedTotal.Load()
}

// Run blocks until ctx is cancelled or source closes, then closes every subscriber
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.closeSubscribers()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-d.source:
			if !ok {
				return
			}
			d.dispatch(ctx, event)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, event models.ShakeEvent) {
	d.mu.Lock()
	subs := d.subscribers
	d.mu.Unlock()

	dropped := 0
	for _, sub := range subs {
		select {
		case sub <- event:
		case <-ctx.Done():
			return
		default:
			dropped++
			d.droppedTotal.Add(1)
		}
	}

	if dropped > 0 {
		d.log.Warn("dispatcher dropped event", "event_id", event.EventID, "subscribers", dropped)
	}
}

func (d *Dispatcher) closeSubscribers() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, sub := range d.subscribers {
		close(sub)
	}
}
