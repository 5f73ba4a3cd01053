package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/teleconsult/internal/application"
	"github.com/example/teleconsult/internal/push"
	"github.com/example/teleconsult/internal/recurrence"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Location    *time.Location
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
		Location:    time.UTC,
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	if factory.Location == nil {
		factory.Location = time.UTC
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithLocation sets the booking and recurrence location.
func WithLocation(loc *time.Location) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Location = loc
	}
}

// WithLogger sets the logger handed to every service.
func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Logger = logger
	}
}

// NewConsultationService builds a consultation service over store. A nil
// events publisher discards events.
func (f *ServiceFactory) NewConsultationService(store application.ConsultationStore, events application.EventPublisher) *application.ConsultationService {
	return application.NewConsultationServiceWithLogger(
		store,
		events,
		f.IDGenerator.NextFunc(),
		f.Clock.NowFunc(),
		f.Location,
		f.Logger,
	)
}

// NewReminderService builds a reminder service.
func (f *ServiceFactory) NewReminderService(store application.ReminderStore, queue application.JobEnqueuer, sender push.Sender) *application.ReminderService {
	return application.NewReminderServiceWithLogger(
		store,
		queue,
		sender,
		recurrence.NewEngine(f.Location),
		f.IDGenerator.NextFunc(),
		f.Clock.NowFunc(),
		f.Logger,
	)
}

// NewNotificationService builds a notification service with the default templates.
func (f *ServiceFactory) NewNotificationService(store application.NotificationStore, queue application.JobEnqueuer, sender push.Sender) *application.NotificationService {
	return application.NewNotificationServiceWithLogger(
		store,
		queue,
		sender,
		nil,
		f.IDGenerator.NextFunc(),
		f.Clock.NowFunc(),
		f.Logger,
	)
}
