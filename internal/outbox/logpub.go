package outbox

import (
	"context"
	"log/slog"
)

// LogPublisher writes events to the log instead of a broker. Used when no
// Kafka brokers are configured (local development, tests).
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	p.logger.Info("domain event",
		"event_type", event.Type,
		"checkin_id", event.CheckinID.String(),
		"registration_id", event.RegistrationID.String(),
		"event_id", event.EventID.String(),
	)
	return nil
}
