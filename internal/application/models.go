package application

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/example/teleconsult/internal/persistence"
)

// Role is the kind of account behind a principal.
type Role string

const (
	RoleUser   Role = "user"
	RoleDoctor Role = "doctor"
	RoleAdmin  Role = "admin"
)

// ParseRole normalises a role claim. Unknown roles are rejected.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleUser, "patient":
		return RoleUser, true
	case RoleDoctor:
		return RoleDoctor, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the principal is an administrator.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// IsDoctor reports whether the principal is a doctor.
func (p Principal) IsDoctor() bool { return p.Role == RoleDoctor }

// SenderType is the chat sender type implied by the role: "DOCTOR" for
// doctors, "USER" for everyone else.
func (p Principal) SenderType() persistence.SenderType {
	if p.IsDoctor() {
		return persistence.SenderDoctor
	}
	return persistence.SenderUser
}

// ConsultationInput captures caller provided booking fields.
type ConsultationInput struct {
	PatientID   string
	DoctorID    string
	Type        string
	ScheduledAt time.Time
	Duration    int
}

// BookConsultationParams wraps the data required to book a consultation.
type BookConsultationParams struct {
	Principal Principal
	Input     ConsultationInput
}

// ListConsultationsParams narrows a consultation listing. Patient and doctor
// principals are always restricted to their own consultations.
type ListConsultationsParams struct {
	Principal Principal
	PatientID string
	DoctorID  string
	Statuses  []persistence.ConsultationStatus
}

// UpdateConsultationStatusParams requests an explicit transition.
type UpdateConsultationStatusParams struct {
	Principal      Principal
	ConsultationID string
	Status         persistence.ConsultationStatus
}

// ConsultationSweepReport summarises one lifecycle sweep.
type ConsultationSweepReport struct {
	Examined  int
	Started   int
	Completed int
	Cancelled int
	Skipped   int
	Failures  []SweepItemError
}

// ReminderInput captures caller provided reminder fields.
type ReminderInput struct {
	Title      string
	Message    string
	Type       string
	RepeatType string
	StartAt    time.Time
	EndAt      *time.Time
	IsActive   *bool
}

// CreateReminderParams wraps the data required to create a reminder.
type CreateReminderParams struct {
	Principal Principal
	// UserID lets administrators create reminders for someone else.
	UserID string
	Input  ReminderInput
}

// UpdateReminderParams wraps the data required to update a reminder.
type UpdateReminderParams struct {
	Principal  Principal
	ReminderID string
	Input      ReminderInput
}

// DispatchReport summarises a reminder or notification sweep.
type DispatchReport struct {
	Examined int
	Enqueued int
	Failures []SweepItemError
}

// CreateNotificationParams describes a notification to create. Title and
// Message override the template registered for Type.
type CreateNotificationParams struct {
	UserID      string
	Type        string
	Title       string
	Message     string
	Meta        map[string]string
	Data        json.RawMessage
	ScheduledAt *time.Time
}

// ListNotificationsParams narrows a notification listing.
type ListNotificationsParams struct {
	Principal  Principal
	UnreadOnly bool
	Limit      int
}

// RegisterDeviceTokenParams registers a push token for the principal.
type RegisterDeviceTokenParams struct {
	Principal Principal
	Token     string
	Platform  string
}
