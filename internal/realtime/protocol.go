package realtime

import (
	"encoding/json"
	"errors"

	"github.com/example/teleconsult/internal/application"
	"github.com/example/teleconsult/internal/chat"
)

// Client events.
const (
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventSendMessage = "send-message"
	EventTyping      = "typing"
)

// EventError is sent to the originating connection only.
const EventError = "error"

var (
	errNotParticipant = errors.New("realtime: not a participant of the room")
	errNotJoined      = errors.New("realtime: room not joined")
	errUnknownEvent   = errors.New("realtime: unknown event")
	errMalformedFrame = errors.New("realtime: malformed frame")
	errMissingRoom    = errors.New("realtime: roomId is required")
)

// clientFrame is the single shape of every client to server frame. Fields not
// used by an event are ignored.
type clientFrame struct {
	Type        string          `json:"type"`
	RoomID      string          `json:"roomId"`
	Content     string          `json:"content,omitempty"`
	MessageType string          `json:"messageType,omitempty"`
	SenderType  string          `json:"senderType,omitempty"`
	Meta        json.RawMessage `json:"meta,omitempty"`
	IsTyping    bool            `json:"isTyping,omitempty"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Request string `json:"request,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newErrorFrame(request, roomID string, err error) errorFrame {
	code, message := describe(err)
	return errorFrame{Type: EventError, Request: request, RoomID: roomID, Code: code, Message: message}
}

func describe(err error) (code, message string) {
	switch {
	case errors.Is(err, chat.ErrRoomNotFound):
		return "ROOM_NOT_FOUND", "chat room not found"
	case errors.Is(err, chat.ErrRoomInactive):
		return "ROOM_INACTIVE", "chat room is not active"
	case errors.Is(err, chat.ErrInvalidSenderType):
		return "INVALID_SENDER_TYPE", "sender type must be DOCTOR or USER"
	case errors.Is(err, chat.ErrSenderTypeMismatch):
		return "SENDER_TYPE_MISMATCH", "sender type does not match your account"
	case errors.Is(err, chat.ErrEmptyMessage):
		return "EMPTY_MESSAGE", "message content is required"
	case errors.Is(err, errNotParticipant), errors.Is(err, application.ErrForbidden):
		return "FORBIDDEN", "not a participant of this room"
	case errors.Is(err, errNotJoined):
		return "NOT_JOINED", "join the room first"
	case errors.Is(err, errMissingRoom):
		return "BAD_REQUEST", "roomId is required"
	case errors.Is(err, errUnknownEvent):
		return "UNKNOWN_EVENT", "unknown event type"
	case errors.Is(err, errMalformedFrame):
		return "BAD_REQUEST", "frame is not valid JSON"
	case errors.Is(err, chat.ErrBrokerStopped):
		return "UNAVAILABLE", "chat is shutting down"
	default:
		return "INTERNAL", "internal error"
	}
}
