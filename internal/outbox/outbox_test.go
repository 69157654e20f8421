package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "doorledger/pkg/domain"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) published() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event{}, p.events...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func Test_Emitter_DeliversThroughWorker(t *testing.T) {
	emitter := NewEmitter(8, discardLogger(), nil)
	publisher := &capturePublisher{}
	worker := NewWorker(emitter.Events(), publisher, discardLogger(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = worker.Run(ctx)
	}()

	event := Event{
		Type:           EventAttendeeCheckedIn,
		CheckinID:      id.NewCheckinID(),
		RegistrationID: id.NewRegistrationID(),
		EventID:        id.NewEventID(),
	}
	emitter.Emit(ctx, event)

	require.Eventually(t, func() bool {
		return len(publisher.published()) == 1
	}, time.Second, 10*time.Millisecond)

	got := publisher.published()[0]
	assert.Equal(t, event.Type, got.Type)
	assert.Equal(t, event.CheckinID, got.CheckinID)
	assert.False(t, got.OccurredAt.IsZero(), "emit stamps OccurredAt")

	cancel()
	<-done
}

func Test_Emitter_DropsWhenBufferFull(t *testing.T) {
	// No worker draining: a 1-slot buffer overflows on the second emit.
	emitter := NewEmitter(1, discardLogger(), nil)
	ctx := context.Background()

	emitter.Emit(ctx, Event{Type: EventQuickAddCreated})
	emitter.Emit(ctx, Event{Type: EventQuickAddCreated}) // dropped, must not block

	assert.Len(t, emitter.Events(), 1)
}

func Test_Worker_SwallowsPublishFailure(t *testing.T) {
	emitter := NewEmitter(8, discardLogger(), nil)
	publisher := &capturePublisher{err: errors.New("broker down")}
	worker := NewWorker(emitter.Events(), publisher, discardLogger(), 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = worker.Run(ctx)
	}()

	emitter.Emit(ctx, Event{Type: EventAttendeeCheckedIn})

	// The failing publish must not stop the worker loop.
	require.Eventually(t, func() bool {
		return len(emitter.Events()) == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Empty(t, publisher.published())
}
