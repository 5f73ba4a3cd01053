package chat

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/example/teleconsult/internal/persistence"
)

// EventType names a server side chat event.
type EventType string

const (
	EventNewMessage EventType = "new-message"
	EventTyping     EventType = "typing"
	EventJoined     EventType = "joined"
	EventLeft       EventType = "left"
)

// MessageView is the wire form of a persisted message.
type MessageView struct {
	ID         string          `json:"id"`
	ChatRoomID string          `json:"chatRoomId"`
	SenderType string          `json:"senderType"`
	SenderID   string          `json:"senderId"`
	Content    string          `json:"content"`
	Type       string          `json:"type"`
	Meta       json.RawMessage `json:"meta,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// NewMessageView converts a stored message.
func NewMessageView(m persistence.Message) MessageView {
	return MessageView{
		ID:         m.ID,
		ChatRoomID: m.ChatRoomID,
		SenderType: string(m.SenderType),
		SenderID:   m.SenderID,
		Content:    m.Content,
		Type:       m.Type,
		Meta:       m.Meta,
		CreatedAt:  m.CreatedAt,
	}
}

// Event is delivered to every subscriber of a room.
type Event struct {
	Type          EventType    `json:"type"`
	RoomID        string       `json:"roomId"`
	Message       *MessageView `json:"message,omitempty"`
	ParticipantID string       `json:"participantId,omitempty"`
	IsTyping      *bool        `json:"isTyping,omitempty"`
}

var senderAliases = map[string]persistence.SenderType{
	"doctor":    persistence.SenderDoctor,
	"dr":        persistence.SenderDoctor,
	"physician": persistence.SenderDoctor,
	"user":      persistence.SenderUser,
	"patient":   persistence.SenderUser,
	"client":    persistence.SenderUser,
}

// NormalizeSenderType maps a caller supplied sender type onto DOCTOR or USER.
// Unknown values become USER unless strict is set.
func NormalizeSenderType(raw string, strict bool) (persistence.SenderType, error) {
	if senderType, ok := senderAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return senderType, nil
	}
	if strict {
		return "", ErrInvalidSenderType
	}
	return persistence.SenderUser, nil
}

// ResolveSenderType returns role, the sender type the caller's identity
// carries. A non-empty claim must name the same type.
func ResolveSenderType(claimed string, role persistence.SenderType) (persistence.SenderType, error) {
	claimed = strings.ToLower(strings.TrimSpace(claimed))
	if claimed == "" {
		return role, nil
	}
	if senderType, ok := senderAliases[claimed]; ok && senderType == role {
		return role, nil
	}
	return "", ErrSenderTypeMismatch
}

// IsParticipant reports whether userID is the patient or the doctor of room.
func IsParticipant(room persistence.ChatRoom, userID string) bool {
	return userID != "" && (room.PatientID == userID || room.DoctorID == userID)
}
