package postgres

import (
	"encoding/json"
	"time"

	"github.com/example/teleconsult/internal/persistence"
)

type consultationRow struct {
	ID          string    `gorm:"primaryKey;type:text"`
	PatientID   string    `gorm:"type:text;not null;index"`
	DoctorID    string    `gorm:"type:text;not null;index:idx_consultations_doctor_status"`
	Type        string    `gorm:"type:text;not null"`
	ScheduledAt time.Time `gorm:"type:timestamptz;not null;index:idx_consultations_status_scheduled,priority:2"`
	Duration    int       `gorm:"not null"`
	EndAt       time.Time `gorm:"type:timestamptz;not null"`
	Status      string    `gorm:"type:text;not null;index:idx_consultations_doctor_status;index:idx_consultations_status_scheduled,priority:1"`
	CreatedAt   time.Time `gorm:"type:timestamptz;not null;autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"type:timestamptz;not null;autoUpdateTime:false"`
}

func (consultationRow) TableName() string { return "consultations" }

type chatRoomRow struct {
	ID             string           `gorm:"primaryKey;type:text"`
	ConsultationID string           `gorm:"type:text;not null;uniqueIndex"`
	Consultation   *consultationRow `gorm:"foreignKey:ConsultationID;references:ID;constraint:OnDelete:CASCADE"`
	PatientID      string           `gorm:"type:text;not null"`
	DoctorID       string           `gorm:"type:text;not null"`
	IsActive       bool             `gorm:"not null"`
	CreatedAt      time.Time        `gorm:"type:timestamptz;not null;autoCreateTime:false"`
	UpdatedAt      time.Time        `gorm:"type:timestamptz;not null;autoUpdateTime:false"`
}

func (chatRoomRow) TableName() string { return "chat_rooms" }

type messageRow struct {
	Seq        int64        `gorm:"->;type:bigserial"`
	ID         string       `gorm:"primaryKey;type:text"`
	ChatRoomID string       `gorm:"type:text;not null;index:idx_messages_room_created,priority:1"`
	ChatRoom   *chatRoomRow `gorm:"foreignKey:ChatRoomID;references:ID;constraint:OnDelete:CASCADE"`
	SenderType string       `gorm:"type:text;not null"`
	SenderID   string       `gorm:"type:text;not null"`
	Content    string       `gorm:"type:text;not null"`
	Type       string       `gorm:"type:text;not null"`
	Meta       []byte       `gorm:"type:jsonb"`
	CreatedAt  time.Time    `gorm:"type:timestamptz;not null;autoCreateTime:false;index:idx_messages_room_created,priority:2"`
}

func (messageRow) TableName() string { return "messages" }

type reminderRow struct {
	ID         string     `gorm:"primaryKey;type:text"`
	UserID     string     `gorm:"type:text;not null;index"`
	Title      string     `gorm:"type:text;not null"`
	Message    string     `gorm:"type:text;not null"`
	Type       string     `gorm:"type:text;not null"`
	RepeatType string     `gorm:"type:text;not null"`
	StartAt    time.Time  `gorm:"type:timestamptz;not null"`
	EndAt      *time.Time `gorm:"type:timestamptz"`
	LastRunAt  *time.Time `gorm:"type:timestamptz"`
	IsActive   bool       `gorm:"not null;index"`
	CreatedAt  time.Time  `gorm:"type:timestamptz;not null;autoCreateTime:false"`
	UpdatedAt  time.Time  `gorm:"type:timestamptz;not null;autoUpdateTime:false"`
}

func (reminderRow) TableName() string { return "reminders" }

type notificationRow struct {
	ID          string     `gorm:"primaryKey;type:text"`
	UserID      string     `gorm:"type:text;not null;index:idx_notifications_user_created,priority:1"`
	Type        string     `gorm:"type:text;not null"`
	Title       string     `gorm:"type:text;not null"`
	Message     string     `gorm:"type:text;not null"`
	Data        []byte     `gorm:"type:jsonb"`
	ScheduledAt *time.Time `gorm:"type:timestamptz;index:idx_notifications_due,priority:2"`
	IsRead      bool       `gorm:"not null"`
	IsSent      bool       `gorm:"not null;index:idx_notifications_due,priority:1"`
	SentAt      *time.Time `gorm:"type:timestamptz"`
	ReadAt      *time.Time `gorm:"type:timestamptz"`
	CreatedAt   time.Time  `gorm:"type:timestamptz;not null;autoCreateTime:false;index:idx_notifications_user_created,priority:2"`
}

func (notificationRow) TableName() string { return "notifications" }

type deviceTokenRow struct {
	Token     string    `gorm:"primaryKey;type:text"`
	UserID    string    `gorm:"type:text;not null;index"`
	Platform  string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;autoCreateTime:false"`
}

func (deviceTokenRow) TableName() string { return "device_tokens" }

func toConsultationRow(c persistence.Consultation) consultationRow {
	return consultationRow{
		ID:          c.ID,
		PatientID:   c.PatientID,
		DoctorID:    c.DoctorID,
		Type:        c.Type,
		ScheduledAt: c.ScheduledAt.UTC(),
		Duration:    c.Duration,
		EndAt:       c.EndAt.UTC(),
		Status:      string(c.Status),
		CreatedAt:   c.CreatedAt.UTC(),
		UpdatedAt:   c.UpdatedAt.UTC(),
	}
}

func (r consultationRow) toDomain() persistence.Consultation {
	return persistence.Consultation{
		ID:          r.ID,
		PatientID:   r.PatientID,
		DoctorID:    r.DoctorID,
		Type:        r.Type,
		ScheduledAt: r.ScheduledAt.UTC(),
		Duration:    r.Duration,
		EndAt:       r.EndAt.UTC(),
		Status:      persistence.ConsultationStatus(r.Status),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func toChatRoomRow(room persistence.ChatRoom) chatRoomRow {
	return chatRoomRow{
		ID:             room.ID,
		ConsultationID: room.ConsultationID,
		PatientID:      room.PatientID,
		DoctorID:       room.DoctorID,
		IsActive:       room.IsActive,
		CreatedAt:      room.CreatedAt.UTC(),
		UpdatedAt:      room.UpdatedAt.UTC(),
	}
}

func (r chatRoomRow) toDomain() persistence.ChatRoom {
	return persistence.ChatRoom{
		ID:             r.ID,
		ConsultationID: r.ConsultationID,
		PatientID:      r.PatientID,
		DoctorID:       r.DoctorID,
		IsActive:       r.IsActive,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func toMessageRow(m persistence.Message) messageRow {
	return messageRow{
		ID:         m.ID,
		ChatRoomID: m.ChatRoomID,
		SenderType: string(m.SenderType),
		SenderID:   m.SenderID,
		Content:    m.Content,
		Type:       m.Type,
		Meta:       rawBytes(m.Meta),
		CreatedAt:  m.CreatedAt.UTC(),
	}
}

func (r messageRow) toDomain() persistence.Message {
	return persistence.Message{
		ID:         r.ID,
		ChatRoomID: r.ChatRoomID,
		SenderType: persistence.SenderType(r.SenderType),
		SenderID:   r.SenderID,
		Content:    r.Content,
		Type:       r.Type,
		Meta:       rawMessage(r.Meta),
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

func toReminderRow(r persistence.Reminder) reminderRow {
	return reminderRow{
		ID:         r.ID,
		UserID:     r.UserID,
		Title:      r.Title,
		Message:    r.Message,
		Type:       r.Type,
		RepeatType: string(r.RepeatType),
		StartAt:    r.StartAt.UTC(),
		EndAt:      utcPtr(r.EndAt),
		LastRunAt:  utcPtr(r.LastRunAt),
		IsActive:   r.IsActive,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

func (r reminderRow) toDomain() persistence.Reminder {
	return persistence.Reminder{
		ID:         r.ID,
		UserID:     r.UserID,
		Title:      r.Title,
		Message:    r.Message,
		Type:       r.Type,
		RepeatType: persistence.RepeatType(r.RepeatType),
		StartAt:    r.StartAt.UTC(),
		EndAt:      utcPtr(r.EndAt),
		LastRunAt:  utcPtr(r.LastRunAt),
		IsActive:   r.IsActive,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

func toNotificationRow(n persistence.Notification) notificationRow {
	return notificationRow{
		ID:          n.ID,
		UserID:      n.UserID,
		Type:        n.Type,
		Title:       n.Title,
		Message:     n.Message,
		Data:        rawBytes(n.Data),
		ScheduledAt: utcPtr(n.ScheduledAt),
		IsRead:      n.IsRead,
		IsSent:      n.IsSent,
		SentAt:      utcPtr(n.SentAt),
		ReadAt:      utcPtr(n.ReadAt),
		CreatedAt:   n.CreatedAt.UTC(),
	}
}

func (r notificationRow) toDomain() persistence.Notification {
	return persistence.Notification{
		ID:          r.ID,
		UserID:      r.UserID,
		Type:        r.Type,
		Title:       r.Title,
		Message:     r.Message,
		Data:        rawMessage(r.Data),
		ScheduledAt: utcPtr(r.ScheduledAt),
		IsRead:      r.IsRead,
		IsSent:      r.IsSent,
		SentAt:      utcPtr(r.SentAt),
		ReadAt:      utcPtr(r.ReadAt),
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

func (r deviceTokenRow) toDomain() persistence.DeviceToken {
	return persistence.DeviceToken{
		UserID:    r.UserID,
		Token:     r.Token,
		Platform:  r.Platform,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func rawBytes(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func rawMessage(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}
