package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/teleconsult/internal/persistence"
)

// EventType names a consultation lifecycle event.
type EventType string

const (
	EventConsultationBooked    EventType = "consultation.booked"
	EventConsultationStarted   EventType = "consultation.started"
	EventConsultationCompleted EventType = "consultation.completed"
	EventConsultationCancelled EventType = "consultation.cancelled"
)

// ConsultationEvent is emitted by the lifecycle after a successful change.
type ConsultationEvent struct {
	Type         EventType
	Consultation persistence.Consultation
	ChatRoomID   string
	OccurredAt   time.Time
}

// EventPublisher receives lifecycle events. Publishing never fails the
// operation that produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, event ConsultationEvent)
}

// EventHandler consumes lifecycle events.
type EventHandler func(ctx context.Context, event ConsultationEvent) error

// EventBus fans events out synchronously to its subscribers and logs their failures.
type EventBus struct {
	mu       sync.RWMutex
	handlers []EventHandler
	logger   *slog.Logger
}

// NewEventBus returns a bus without subscribers.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{logger: defaultLogger(logger)}
}

// Subscribe registers handler for every subsequent event.
func (b *EventBus) Subscribe(handler EventHandler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, handler)
	b.mu.Unlock()
}

// Publish delivers event to every subscriber.
func (b *EventBus) Publish(ctx context.Context, event ConsultationEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.handlers...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			b.logger.ErrorContext(ctx, "event handler failed",
				"event", string(event.Type),
				"consultation_id", event.Consultation.ID,
				"error", err,
				"error_kind", ErrorKind(err),
			)
		}
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, ConsultationEvent) {}
