package outbox

import (
	"context"
	"log/slog"
	"time"
)

// Publisher delivers one event to the outbound sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Worker is the dedicated consumer task draining the emitter's queue. Each
// publish is bounded by a short timeout; on failure the event is logged and
// abandoned, never retried in-process.
type Worker struct {
	events         <-chan Event
	publisher      Publisher
	logger         *slog.Logger
	publishTimeout time.Duration
}

func NewWorker(events <-chan Event, publisher Publisher, logger *slog.Logger, publishTimeout time.Duration) *Worker {
	if publishTimeout <= 0 {
		publishTimeout = 2 * time.Second
	}
	return &Worker{
		events:         events,
		publisher:      publisher,
		logger:         logger,
		publishTimeout: publishTimeout,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.events:
			publishCtx, cancel := context.WithTimeout(ctx, w.publishTimeout)
			err := w.publisher.Publish(publishCtx, event)
			cancel()
			if err != nil {
				w.logger.Warn("outbox publish failed, abandoning event",
					"event_type", event.Type,
					"checkin_id", event.CheckinID.String(),
					"error", err,
				)
			}
		}
	}
}
