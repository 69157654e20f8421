// Package outbox delivers domain events to asynchronous consumers (email,
// analytics) on a fire-and-forget contract: a failure to emit never fails
// the operation that produced the event.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"doorledger/internal/platform/metrics"
	id "doorledger/pkg/domain"
)

// Event types emitted by the admission ledger.
const (
	EventAttendeeCheckedIn = "attendee_checked_in"
	EventQuickAddCreated   = "quick_add_created"
)

// Event is one outbound domain event. The payload is deliberately small:
// consumers re-read whatever detail they need.
type Event struct {
	Type           string            `json:"type"`
	CheckinID      id.CheckinID      `json:"checkin_id"`
	RegistrationID id.RegistrationID `json:"registration_id"`
	EventID        id.EventID        `json:"event_id"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

// Emitter is a bounded-queue producer. Emit never blocks the caller: when
// the buffer is full the event is dropped with a logged warning, preserving
// the rule that admission never fails for a notification failure.
type Emitter struct {
	queue   chan Event
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewEmitter(buffer int, logger *slog.Logger, m *metrics.Metrics) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	return &Emitter{
		queue:   make(chan Event, buffer),
		logger:  logger,
		metrics: m,
	}
}

// Emit enqueues an event for asynchronous delivery.
func (e *Emitter) Emit(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	select {
	case e.queue <- event:
	default:
		e.logger.WarnContext(ctx, "outbox buffer full, dropping event",
			"event_type", event.Type,
			"registration_id", event.RegistrationID.String(),
		)
		e.metrics.IncrementOutboxDropped()
	}
}

// Events exposes the consumer side of the queue for the worker.
func (e *Emitter) Events() <-chan Event {
	return e.queue
}
