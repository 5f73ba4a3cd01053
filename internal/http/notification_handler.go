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

	"github.com/example/teleconsult/internal/application"
	"github.com/example/teleconsult/internal/persistence"
)

// NotificationService is the subset of application.NotificationService used over HTTP.
type NotificationService interface {
	List(ctx context.Context, params application.ListNotificationsParams) ([]persistence.Notification, error)
	Get(ctx context.Context, principal application.Principal, id string) (persistence.Notification, error)
	MarkRead(ctx context.Context, principal application.Principal, id string) error
	MarkAllRead(ctx context.Context, principal application.Principal) (int, error)
	UnreadCount(ctx context.Context, principal application.Principal) (int, error)
	RegisterDeviceToken(ctx context.Context, params application.RegisterDeviceTokenParams) (persistence.DeviceToken, error)
	RemoveDeviceToken(ctx context.Context, principal application.Principal, token string) error
}

// NotificationHandler serves the notification inbox and device registration.
type NotificationHandler struct {
	service   NotificationService
	responder responder
	logger    *slog.Logger
}

// NewNotificationHandler constructs a NotificationHandler.
func NewNotificationHandler(service NotificationService, logger *slog.Logger) *NotificationHandler {
	logger = defaultLogger(logger)
	return &NotificationHandler{service: service, responder: newResponder(logger), logger: logger}
}

type notificationDTO struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Message     string          `json:"message"`
	Data        json.RawMessage `json:"data,omitempty"`
	ScheduledAt *time.Time      `json:"scheduledAt,omitempty"`
	IsRead      bool            `json:"isRead"`
	IsSent      bool            `json:"isSent"`
	SentAt      *time.Time      `json:"sentAt,omitempty"`
	ReadAt      *time.Time      `json:"readAt,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func toNotificationDTO(n persistence.Notification) notificationDTO {
	return notificationDTO{
		ID:          n.ID,
		UserID:      n.UserID,
		Type:        n.Type,
		Title:       n.Title,
		Message:     n.Message,
		Data:        n.Data,
		ScheduledAt: n.ScheduledAt,
		IsRead:      n.IsRead,
		IsSent:      n.IsSent,
		SentAt:      n.SentAt,
		ReadAt:      n.ReadAt,
		CreatedAt:   n.CreatedAt,
	}
}

type countResponse struct {
	Count int `json:"count"`
}

// List returns the caller's notifications, newest first. Query parameters:
// unread (bool) and limit (positive integer).
func (h *NotificationHandler) List(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		h.responder.writeError(c, http.StatusUnauthorized, errMissingPrincipal)
		return
	}

	params := application.ListNotificationsParams{Principal: principal}
	if raw := strings.TrimSpace(c.Query("unread")); raw != "" {
		unread, err := strconv.ParseBool(raw)
		if err != nil {
			h.responder.writeError(c, http.StatusBadRequest, errBadRequestBody)
			return
		}
		params.UnreadOnly = unread
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.responder.writeError(c, http.StatusBadRequest, errInvalidLimit)
			return
		}
		params.Limit = n
	}

	notifications, err := h.service.List(c.Request.Context(), params)
	if err != nil {
		h.responder.handleServiceError(c, err)
		return
	}
	resp := make([]notificationDTO, 0, len(notifications))
	for _, notification := range notifications {
		resp = append(resp, toNotificationDTO(notification))
	}
	h.responder.writeJSON(c, http.StatusOK, resp)
}

// UnreadCount reports how many notifications the caller has not read.
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		h.responder.writeError(c, http.StatusUnauthorized, errMissingPrincipal)
		return
	}

	count, err := h.service.UnreadCount(c.Request.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(c, err)
		return
	}
	h.responder.writeJSON(c, http.StatusOK, countResponse{Count: count})
}

// Get returns a notification and marks it read.
func (h *NotificationHandler) Get(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		h.responder.writeError(c, http.StatusUnauthorized, errMissingPrincipal)
		return
	}

	notification, err := h.service.Get(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		h.responder.handleServiceError(c, err)
		return
	}
	h.responder.writeJSON(c, http.StatusOK, toNotificationDTO(notification))
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		h.responder.writeError(c, http.StatusUnauthorized, errMissingPrincipal)
		return
	}

	if err := h.service.MarkRead(c.Request.Context(), principal, c.Param("id")); err != nil {
		h.responder.handleServiceError(c, err)
		return
	}
	h.responder.writeJSON(c, http.StatusNoContent, nil)
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		h.responder.writeError(c, http.StatusUnauthorized, errMissingPrincipal)
		return
	}

	count, err := h.service.MarkAllRead(c.Request.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(c, err)
		return
	}
	h.responder.writeJSON(c, http.StatusOK, countResponse{Count: count})
}

type deviceTokenRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

type deviceTokenDTO struct {
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"createdAt"`
}

// RegisterDeviceToken stores a push token for the caller. Registering the
// same token again moves it to the caller.
func (h *NotificationHandler) RegisterDeviceToken(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		h.responder.writeError(c, http.StatusUnauthorized, errMissingPrincipal)
		return
	}

	var req deviceTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.responder.writeError(c, http.StatusBadRequest, errBadRequestBody)
		return
	}

	token, err := h.service.RegisterDeviceToken(c.Request.Context(), application.RegisterDeviceTokenParams{
		Principal: principal,
		Token:     req.Token,
		Platform:  req.Platform,
	})
	if err != nil {
		h.responder.handleServiceError(c, err)
		return
	}
	h.responder.writeJSON(c, http.StatusCreated, deviceTokenDTO{
		Token:     token.Token,
		Platform:  token.Platform,
		CreatedAt: token.CreatedAt,
	})
}

func (h *NotificationHandler) RemoveDeviceToken(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		h.responder.writeError(c, http.StatusUnauthorized, errMissingPrincipal)
		return
	}

	if err := h.service.RemoveDeviceToken(c.Request.Context(), principal, c.Param("token")); err != nil {
		h.responder.handleServiceError(c, err)
		return
	}
	h.responder.writeJSON(c, http.StatusNoContent, nil)
}
