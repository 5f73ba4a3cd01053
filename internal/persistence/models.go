package persistence

import (
	"encoding/json"
	"time"
)

// ConsultationStatus enumerates the lifecycle states of a consultation.
type ConsultationStatus string

const (
	ConsultationPending   ConsultationStatus = "PENDING"
	ConsultationOngoing   ConsultationStatus = "ONGOING"
	ConsultationCompleted ConsultationStatus = "COMPLETED"
	ConsultationCancelled ConsultationStatus = "CANCELLED"
)

// Consultation is a booked, time-bounded session between a patient and a doctor.
type Consultation struct {
	ID          string
	PatientID   string
	DoctorID    string
	Type        string
	ScheduledAt time.Time
	// Duration is expressed in minutes.
	Duration  int
	EndAt     time.Time
	Status    ConsultationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChatRoom is the message channel bound one-to-one to a consultation.
type ChatRoom struct {
	ID             string
	ConsultationID string
	PatientID      string
	DoctorID       string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SenderType identifies which side of a consultation authored a message.
type SenderType string

const (
	SenderDoctor SenderType = "DOCTOR"
	SenderUser   SenderType = "USER"
)

// DefaultMessageType is applied when a message carries no explicit type.
const DefaultMessageType = "TEXT"

// Message is an immutable chat message.
type Message struct {
	ID         string
	ChatRoomID string
	SenderType SenderType
	SenderID   string
	Content    string
	Type       string
	Meta       json.RawMessage
	CreatedAt  time.Time
}

// RepeatType enumerates reminder recurrence kinds.
type RepeatType string

const (
	RepeatOnce    RepeatType = "ONCE"
	RepeatDaily   RepeatType = "DAILY"
	RepeatWeekly  RepeatType = "WEEKLY"
	RepeatMonthly RepeatType = "MONTHLY"
)

// Reminder is a user-owned recurring prompt.
type Reminder struct {
	ID         string
	UserID     string
	Title      string
	Message    string
	Type       string
	RepeatType RepeatType
	StartAt    time.Time
	EndAt      *time.Time
	LastRunAt  *time.Time
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Notification is a user-facing message with delivery and read tracking.
type Notification struct {
	ID          string
	UserID      string
	Type        string
	Title       string
	Message     string
	Data        json.RawMessage
	ScheduledAt *time.Time
	IsRead      bool
	IsSent      bool
	SentAt      *time.Time
	ReadAt      *time.Time
	CreatedAt   time.Time
}

// DeviceToken is a push target registered by a user's device.
type DeviceToken struct {
	UserID    string
	Token     string
	Platform  string
	CreatedAt time.Time
}
