package testfixtures

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/teleconsult/internal/application"
	"github.com/example/teleconsult/internal/lifecycle"
	"github.com/example/teleconsult/internal/persistence"
)

var (
	consultationCounter uint64
	reminderCounter     uint64
	notificationCounter uint64
)

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// Principals used across service tests.
var (
	Patient      = application.Principal{UserID: "patient-1", Role: application.RoleUser}
	OtherPatient = application.Principal{UserID: "patient-2", Role: application.RoleUser}
	Doctor       = application.Principal{UserID: "doctor-1", Role: application.RoleDoctor}
	OtherDoctor  = application.Principal{UserID: "doctor-2", Role: application.RoleDoctor}
	Admin        = application.Principal{UserID: "admin-1", Role: application.RoleAdmin}
)

// ------------------------- Consultation fixtures -------------------------

// ConsultationFixture is a consultation together with its chat room.
type ConsultationFixture struct {
	Consultation persistence.Consultation
	Room         persistence.ChatRoom
}

// ConsultationOption configures the generated consultation fixture.
type ConsultationOption func(*ConsultationFixture)

// NewConsultationFixture returns a PENDING 30 minute consultation between
// Patient and Doctor starting at ReferenceTime, with an inactive room.
func NewConsultationFixture(opts ...ConsultationOption) ConsultationFixture {
	idx := atomic.AddUint64(&consultationCounter, 1)
	fixture := ConsultationFixture{
		Consultation: persistence.Consultation{
			ID:          fmt.Sprintf("consultation-%03d", idx),
			PatientID:   Patient.UserID,
			DoctorID:    Doctor.UserID,
			Type:        "VIDEO",
			ScheduledAt: referenceTime,
			Duration:    30,
			Status:      persistence.ConsultationPending,
			CreatedAt:   referenceTime.Add(-time.Hour),
			UpdatedAt:   referenceTime.Add(-time.Hour),
		},
		Room: persistence.ChatRoom{
			ID:        fmt.Sprintf("room-%03d", idx),
			CreatedAt: referenceTime.Add(-time.Hour),
			UpdatedAt: referenceTime.Add(-time.Hour),
		},
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	c := &fixture.Consultation
	c.EndAt = lifecycle.EndAt(c.ScheduledAt, c.Duration)
	fixture.Room.ConsultationID = c.ID
	fixture.Room.PatientID = c.PatientID
	fixture.Room.DoctorID = c.DoctorID
	fixture.Room.IsActive = c.Status == persistence.ConsultationOngoing
	return fixture
}

// WithConsultationID overrides the generated consultation ID.
func WithConsultationID(id string) ConsultationOption {
	return func(f *ConsultationFixture) { f.Consultation.ID = id }
}

// WithRoomID overrides the generated chat room ID.
func WithRoomID(id string) ConsultationOption {
	return func(f *ConsultationFixture) { f.Room.ID = id }
}

// WithParticipants sets the patient and doctor.
func WithParticipants(patientID, doctorID string) ConsultationOption {
	return func(f *ConsultationFixture) {
		f.Consultation.PatientID = patientID
		f.Consultation.DoctorID = doctorID
	}
}

// WithSchedule sets the start and duration in minutes.
func WithSchedule(start time.Time, minutes int) ConsultationOption {
	return func(f *ConsultationFixture) {
		f.Consultation.ScheduledAt = start
		f.Consultation.Duration = minutes
	}
}

// WithStatus sets the consultation status. ONGOING fixtures get an active room.
func WithStatus(status persistence.ConsultationStatus) ConsultationOption {
	return func(f *ConsultationFixture) { f.Consultation.Status = status }
}

// -------------------------- Reminder fixtures ---------------------------

// ReminderOption configures the generated reminder.
type ReminderOption func(*persistence.Reminder)

// NewReminder returns an active ONCE reminder for Patient starting an hour
// before ReferenceTime.
func NewReminder(opts ...ReminderOption) persistence.Reminder {
	idx := atomic.AddUint64(&reminderCounter, 1)
	reminder := persistence.Reminder{
		ID:         fmt.Sprintf("reminder-%03d", idx),
		UserID:     Patient.UserID,
		Title:      fmt.Sprintf("Reminder %03d", idx),
		Message:    "Take your medication",
		Type:       "MEDICATION",
		RepeatType: persistence.RepeatOnce,
		StartAt:    referenceTime.Add(-time.Hour),
		IsActive:   true,
		CreatedAt:  referenceTime.Add(-2 * time.Hour),
		UpdatedAt:  referenceTime.Add(-2 * time.Hour),
	}
	for _, opt := range opts {
		opt(&reminder)
	}
	return reminder
}

// WithReminderID overrides the generated reminder ID.
func WithReminderID(id string) ReminderOption {
	return func(r *persistence.Reminder) { r.ID = id }
}

// WithReminderOwner sets the owning user.
func WithReminderOwner(userID string) ReminderOption {
	return func(r *persistence.Reminder) { r.UserID = userID }
}

// WithRepeat sets the recurrence kind.
func WithRepeat(repeat persistence.RepeatType) ReminderOption {
	return func(r *persistence.Reminder) { r.RepeatType = repeat }
}

// WithReminderWindow sets startAt and an optional endAt.
func WithReminderWindow(start time.Time, end *time.Time) ReminderOption {
	return func(r *persistence.Reminder) {
		r.StartAt = start
		r.EndAt = end
	}
}

// WithLastRun sets lastRunAt.
func WithLastRun(at time.Time) ReminderOption {
	return func(r *persistence.Reminder) { r.LastRunAt = &at }
}

// WithReminderActive toggles the active flag.
func WithReminderActive(active bool) ReminderOption {
	return func(r *persistence.Reminder) { r.IsActive = active }
}

// ------------------------ Notification fixtures -------------------------

// NotificationOption configures the generated notification.
type NotificationOption func(*persistence.Notification)

// NewNotification returns an unsent, unread GENERAL notification for Patient
// scheduled at ReferenceTime.
func NewNotification(opts ...NotificationOption) persistence.Notification {
	idx := atomic.AddUint64(&notificationCounter, 1)
	scheduled := referenceTime
	notification := persistence.Notification{
		ID:          fmt.Sprintf("notification-%03d", idx),
		UserID:      Patient.UserID,
		Type:        application.NotificationGeneral,
		Title:       fmt.Sprintf("Notification %03d", idx),
		Message:     "Hello",
		Data:        json.RawMessage(`{"source":"fixture"}`),
		ScheduledAt: &scheduled,
		CreatedAt:   referenceTime.Add(time.Duration(idx) * time.Second),
	}
	for _, opt := range opts {
		opt(&notification)
	}
	return notification
}

// WithNotificationID overrides the generated notification ID.
func WithNotificationID(id string) NotificationOption {
	return func(n *persistence.Notification) { n.ID = id }
}

// WithRecipient sets the owning user.
func WithRecipient(userID string) NotificationOption {
	return func(n *persistence.Notification) { n.UserID = userID }
}

// WithScheduledAt sets the scheduled instant; nil leaves it unset.
func WithScheduledAt(at *time.Time) NotificationOption {
	return func(n *persistence.Notification) { n.ScheduledAt = at }
}

// WithSent marks the notification as sent at the given time.
func WithSent(at time.Time) NotificationOption {
	return func(n *persistence.Notification) {
		n.IsSent = true
		n.SentAt = &at
	}
}

// WithCreatedAt overrides the creation time.
func WithCreatedAt(at time.Time) NotificationOption {
	return func(n *persistence.Notification) { n.CreatedAt = at }
}

// DeviceToken returns a device token for userID registered at ReferenceTime.
func DeviceToken(userID, token string) persistence.DeviceToken {
	return persistence.DeviceToken{
		UserID:    userID,
		Token:     token,
		Platform:  "ios",
		CreatedAt: referenceTime,
	}
}
