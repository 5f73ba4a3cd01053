package persistence

import (
	"context"
	"time"
)

// ConsultationFilter narrows consultation queries. Zero values match everything.
type ConsultationFilter struct {
	PatientID       string
	DoctorID        string
	Statuses        []ConsultationStatus
	ScheduledBefore *time.Time
}

// Transition describes a conditional status change. The update applies only
// when the stored status still equals From. RoomActive, when set, updates the
// consultation's chat room inside the same transaction.
type Transition struct {
	ConsultationID string
	From           ConsultationStatus
	To             ConsultationStatus
	RoomActive     *bool
	At             time.Time
}

// ConsultationRepository stores consultations together with their chat rooms.
type ConsultationRepository interface {
	// CreateConsultation inserts the consultation and its room atomically and
	// returns ErrConflict when the doctor already has an overlapping
	// PENDING or ONGOING consultation.
	CreateConsultation(ctx context.Context, consultation Consultation, room ChatRoom) error
	GetConsultation(ctx context.Context, id string) (Consultation, error)
	ListConsultations(ctx context.Context, filter ConsultationFilter) ([]Consultation, error)
	// TransitionConsultation reports whether the conditional update applied.
	TransitionConsultation(ctx context.Context, transition Transition) (bool, error)
}

// ChatRoomRepository stores chat rooms.
type ChatRoomRepository interface {
	GetChatRoom(ctx context.Context, id string) (ChatRoom, error)
	GetChatRoomByConsultation(ctx context.Context, consultationID string) (ChatRoom, error)
	// EnsureChatRoom inserts room unless one exists for its consultation and
	// returns the stored room either way.
	EnsureChatRoom(ctx context.Context, room ChatRoom) (ChatRoom, error)
}

// MessageFilter narrows message history queries.
type MessageFilter struct {
	Before *time.Time
	Limit  int
}

// MessageRepository stores chat messages.
type MessageRepository interface {
	// CreateMessage inserts message only while its room is active, checked in
	// the same write. It returns ErrNotFound for a missing room and
	// ErrRoomInactive for an inactive one.
	CreateMessage(ctx context.Context, message Message) error
	// ListMessages returns messages ordered by CreatedAt ascending.
	ListMessages(ctx context.Context, chatRoomID string, filter MessageFilter) ([]Message, error)
}

// ReminderRepository stores reminders.
type ReminderRepository interface {
	CreateReminder(ctx context.Context, reminder Reminder) error
	UpdateReminder(ctx context.Context, reminder Reminder) error
	GetReminder(ctx context.Context, id string) (Reminder, error)
	ListReminders(ctx context.Context, userID string) ([]Reminder, error)
	ListActiveReminders(ctx context.Context) ([]Reminder, error)
	DeleteReminder(ctx context.Context, id string) error
	MarkReminderRun(ctx context.Context, id string, at time.Time) error
}

// NotificationFilter narrows notification listings for a user.
type NotificationFilter struct {
	UnreadOnly bool
	Limit      int
}

// NotificationRepository stores notifications.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, notification Notification) error
	GetNotification(ctx context.Context, id string) (Notification, error)
	ListNotifications(ctx context.Context, userID string, filter NotificationFilter) ([]Notification, error)
	// ListDueNotifications returns unsent notifications whose scheduled time
	// is unset or not after now.
	ListDueNotifications(ctx context.Context, now time.Time) ([]Notification, error)
	// MarkNotificationSent reports whether the record transitioned from unsent.
	MarkNotificationSent(ctx context.Context, id string, at time.Time) (bool, error)
	MarkNotificationRead(ctx context.Context, id string, at time.Time) error
	MarkAllNotificationsRead(ctx context.Context, userID string, at time.Time) (int, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
}

// DeviceTokenRepository stores push targets.
type DeviceTokenRepository interface {
	UpsertDeviceToken(ctx context.Context, token DeviceToken) error
	DeleteDeviceToken(ctx context.Context, userID, token string) error
	ListDeviceTokens(ctx context.Context, userID string) ([]DeviceToken, error)
}

// Store aggregates every repository a backend provides.
type Store interface {
	ConsultationRepository
	ChatRoomRepository
	MessageRepository
	ReminderRepository
	NotificationRepository
	DeviceTokenRepository
	Close() error
}
