package transport

import (
	"context"
	"log/slog"

	"github.com/synheart/shakewatch/internal/models"
)

// Broadcaster delivers one event to every connected consumer
type Broadcaster interface {
	Broadcast(event models.ShakeEvent) error
}

// pump feeds events into b until ctx is cancelled or events closes.
// Broadcast errors are logged and do not stop the pump.
func pump(ctx context.Context, events <-chan models.ShakeEvent, b Broadcaster, log *slog.Logger, sink string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := b.Broadcast(event); err != nil {
				log.Warn("broadcast failed", "sink", sink, "event_id", event.EventID, "error", err)
			}
		}
	}
}

func orDiscard(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return log
}
