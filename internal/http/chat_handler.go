package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/teleconsult/internal/chat"
	"github.com/example/teleconsult/internal/persistence"
)

// ChatBroker is the subset of chat.Broker used over HTTP.
type ChatBroker interface {
	Room(ctx context.Context, roomID string) (persistence.ChatRoom, error)
	Send(ctx context.Context, params chat.SendParams) (persistence.Message, error)
	History(ctx context.Context, roomID string, limit int, before *time.Time) ([]persistence.Message, error)
}

// ChatHandler exposes chat history and message posting for clients that do
// not hold a websocket open.
type ChatHandler struct {
	broker    ChatBroker
	responder responder
	logger    *slog.Logger
}

// NewChatHandler constructs a ChatHandler.
func NewChatHandler(broker ChatBroker, logger *slog.Logger) *ChatHandler {
	logger = defaultLogger(logger)
	return &ChatHandler{broker: broker, responder: newResponder(logger), logger: logger}
}

type sendMessageRequest struct {
	Content    string          `json:"content"`
	Type       string          `json:"type"`
	SenderType string          `json:"senderType"`
	Meta       json.RawMessage `json:"meta"`
}

// room resolves the path room and checks that the caller may use it.
// Administrators may read any room but only participants may post.
func (h *ChatHandler) room(c *gin.Context, write bool) (persistence.ChatRoom, persistence.SenderType, bool) {
	principal, ok := principalFrom(c)
	if !ok {
		h.responder.writeError(c, http.StatusUnauthorized, errMissingPrincipal)
		return persistence.ChatRoom{}, "", false
	}

	room, err := h.broker.Room(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.responder.handleServiceError(c, err)
		return persistence.ChatRoom{}, "", false
	}
	if !chat.IsParticipant(room, principal.UserID) && (write || !principal.IsAdmin()) {
		h.responder.writeError(c, http.StatusForbidden, errNotRoomMember)
		return persistence.ChatRoom{}, "", false
	}
	return room, principal.SenderType(), true
}

// Send posts a message to the room and broadcasts it to connected members.
func (h *ChatHandler) Send(c *gin.Context) {
	room, senderType, ok := h.room(c, true)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.responder.writeError(c, http.StatusBadRequest, errBadRequestBody)
		return
	}
	resolved, err := chat.ResolveSenderType(req.SenderType, senderType)
	if err != nil {
		h.responder.handleServiceError(c, err)
		return
	}

	principal, _ := principalFrom(c)
	message, err := h.broker.Send(c.Request.Context(), chat.SendParams{
		RoomID:     room.ID,
		SenderType: string(resolved),
		SenderID:   principal.UserID,
		Content:    req.Content,
		Type:       req.Type,
		Meta:       req.Meta,
	})
	if err != nil {
		h.responder.handleServiceError(c, err)
		return
	}
	h.responder.writeJSON(c, http.StatusCreated, chat.NewMessageView(message))
}

// History returns the latest messages in ascending order. Query parameters:
// limit (positive integer) and before (RFC3339 timestamp).
func (h *ChatHandler) History(c *gin.Context) {
	room, _, ok := h.room(c, false)
	if !ok {
		return
	}

	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.responder.writeError(c, http.StatusBadRequest, errInvalidLimit)
			return
		}
		limit = n
	}

	var before *time.Time
	if raw := strings.TrimSpace(c.Query("before")); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			h.responder.writeError(c, http.StatusBadRequest, errInvalidTimestamp)
			return
		}
		before = &ts
	}

	messages, err := h.broker.History(c.Request.Context(), room.ID, limit, before)
	if err != nil {
		h.responder.handleServiceError(c, err)
		return
	}

	resp := make([]chat.MessageView, 0, len(messages))
	for _, message := range messages {
		resp = append(resp, chat.NewMessageView(message))
	}
	h.responder.writeJSON(c, http.StatusOK, resp)
}
