package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/example/teleconsult/internal/application"
	"github.com/example/teleconsult/internal/chat"
	"github.com/example/teleconsult/internal/persistence"
)

// Broker is the subset of chat.Broker a connection uses.
type Broker interface {
	Room(ctx context.Context, roomID string) (persistence.ChatRoom, error)
	Join(ctx context.Context, roomID, participantID string, sub chat.Subscriber)
	Leave(ctx context.Context, roomID, participantID, subscriberID string)
	LeaveAll(ctx context.Context, participantID, subscriberID string)
	Send(ctx context.Context, params chat.SendParams) (persistence.Message, error)
	Typing(ctx context.Context, roomID, participantID string, isTyping bool)
}

// session is the per-connection state. handle runs on the read goroutine
// only; the write goroutine drains sub and direct.
type session struct {
	principal application.Principal
	broker    Broker
	sub       *chat.ChannelSubscriber
	direct    chan errorFrame
	logger    *slog.Logger
	joined    map[string]struct{}
}

func newSession(id string, principal application.Principal, broker Broker, buffer int, logger *slog.Logger) *session {
	return &session{
		principal: principal,
		broker:    broker,
		sub:       chat.NewChannelSubscriber(id, buffer),
		direct:    make(chan errorFrame, 16),
		logger:    logger,
		joined:    make(map[string]struct{}),
	}
}

func (s *session) handleRaw(ctx context.Context, raw []byte) {
	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.fail(ctx, "", "", errMalformedFrame)
		return
	}
	s.handle(ctx, frame)
}

func (s *session) handle(ctx context.Context, frame clientFrame) {
	event := strings.ToLower(strings.TrimSpace(frame.Type))
	roomID := strings.TrimSpace(frame.RoomID)
	if roomID == "" && event != "" {
		s.fail(ctx, event, "", errMissingRoom)
		return
	}

	switch event {
	case EventJoinRoom:
		room, err := s.room(ctx, roomID, true)
		if err != nil {
			s.fail(ctx, event, roomID, err)
			return
		}
		s.broker.Join(ctx, room.ID, s.principal.UserID, s.sub)
		s.joined[room.ID] = struct{}{}
	case EventLeaveRoom:
		s.broker.Leave(ctx, roomID, s.principal.UserID, s.sub.ID())
		delete(s.joined, roomID)
	case EventSendMessage:
		room, err := s.room(ctx, roomID, false)
		if err != nil {
			s.fail(ctx, event, roomID, err)
			return
		}
		senderType, err := chat.ResolveSenderType(frame.SenderType, s.principal.SenderType())
		if err != nil {
			s.fail(ctx, event, roomID, err)
			return
		}
		_, err = s.broker.Send(ctx, chat.SendParams{
			RoomID:     room.ID,
			SenderType: string(senderType),
			SenderID:   s.principal.UserID,
			Content:    frame.Content,
			Type:       frame.MessageType,
			Meta:       frame.Meta,
		})
		if err != nil {
			s.fail(ctx, event, roomID, err)
		}
	case EventTyping:
		if _, ok := s.joined[roomID]; !ok {
			s.fail(ctx, event, roomID, errNotJoined)
			return
		}
		s.broker.Typing(ctx, roomID, s.principal.UserID, frame.IsTyping)
	default:
		s.fail(ctx, event, roomID, errUnknownEvent)
	}
}

// room loads roomID and checks the caller belongs to it. Administrators may
// observe any room when observe is set.
func (s *session) room(ctx context.Context, roomID string, observe bool) (persistence.ChatRoom, error) {
	room, err := s.broker.Room(ctx, roomID)
	if err != nil {
		return persistence.ChatRoom{}, err
	}
	if chat.IsParticipant(room, s.principal.UserID) || (observe && s.principal.IsAdmin()) {
		return room, nil
	}
	return persistence.ChatRoom{}, errNotParticipant
}

// fail queues an error frame for this connection only. It never blocks; if
// the client is not reading, the frame is dropped.
func (s *session) fail(ctx context.Context, request, roomID string, err error) {
	frame := newErrorFrame(request, roomID, err)
	if frame.Code == "INTERNAL" {
		s.logger.ErrorContext(ctx, "chat request failed", "request", request, "room_id", roomID, "error", err)
	} else {
		s.logger.DebugContext(ctx, "chat request rejected", "request", request, "room_id", roomID, "code", frame.Code)
	}
	select {
	case s.direct <- frame:
	default:
		s.logger.WarnContext(ctx, "dropping error frame for slow client", "code", frame.Code)
	}
}

func (s *session) close(ctx context.Context) {
	s.broker.LeaveAll(ctx, s.principal.UserID, s.sub.ID())
	s.sub.Close()
}
