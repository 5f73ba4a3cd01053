package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/teleconsult/internal/application"
	"github.com/example/teleconsult/internal/persistence"
)

// ReminderService is the subset of application.ReminderService used over HTTP.
type ReminderService interface {
	Create(ctx context.Context, params application.CreateReminderParams) (persistence.Reminder, error)
	Get(ctx context.Context, principal application.Principal, id string) (persistence.Reminder, error)
	List(ctx context.Context, principal application.Principal) ([]persistence.Reminder, error)
	Update(ctx context.Context, params application.UpdateReminderParams) (persistence.Reminder, error)
	Delete(ctx context.Context, principal application.Principal, id string) error
}

// ReminderHandler serves reminder CRUD.
type ReminderHandler struct {
	service   ReminderService
	responder responder
	logger    *slog.Logger
}

// NewReminderHandler constructs a ReminderHandler.
func NewReminderHandler(service ReminderService, logger *slog.Logger) *ReminderHandler {
	logger = defaultLogger(logger)
	return &ReminderHandler{service: service, responder: newResponder(logger), logger: logger}
}

type reminderRequest struct {
	UserID     string     `json:"userId"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Type       string     `json:"type"`
	RepeatType string     `json:"repeatType"`
	StartAt    time.Time  `json:"startAt"`
	EndAt      *time.Time `json:"endAt"`
	IsActive   *bool      `json:"isActive"`
}

func (r reminderRequest) input() application.ReminderInput {
	return application.ReminderInput{
		Title:      r.Title,
		Message:    r.Message,
		Type:       r.Type,
		RepeatType: r.RepeatType,
		StartAt:    r.StartAt,
		EndAt:      r.EndAt,
		IsActive:   r.IsActive,
	}
}

type reminderDTO struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Type       string     `json:"type"`
	RepeatType string     `json:"repeatType"`
	StartAt    time.Time  `json:"startAt"`
	EndAt      *time.Time `json:"endAt,omitempty"`
	LastRunAt  *time.Time `json:"lastRunAt,omitempty"`
	IsActive   bool       `json:"isActive"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func toReminderDTO(r persistence.Reminder) reminderDTO {
	return reminderDTO{
		ID:         r.ID,
		UserID:     r.UserID,
		Title:      r.Title,
		Message:    r.Message,
		Type:       r.Type,
		RepeatType: string(r.RepeatType),
		StartAt:    r.StartAt,
		EndAt:      r.EndAt,
		LastRunAt:  r.LastRunAt,
		IsActive:   r.IsActive,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// Create registers a reminder for the caller, or for userId when the caller
// is an administrator.
func (h *ReminderHandler) Create(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		h.responder.writeError(c, http.StatusUnauthorized, errMissingPrincipal)
		return
	}

	var req reminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.responder.writeError(c, http.StatusBadRequest, errBadRequestBody)
		return
	}

	reminder, err := h.service.Create(c.Request.Context(), application.CreateReminderParams{
		Principal: principal,
		UserID:    req.UserID,
		Input:     req.input(),
	})
	if err != nil {
		h.responder.handleServiceError(c, err)
		return
	}
	h.responder.writeJSON(c, http.StatusCreated, toReminderDTO(reminder))
}

// List returns the caller's reminders.
func (h *ReminderHandler) List(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		h.responder.writeError(c, http.StatusUnauthorized, errMissingPrincipal)
		return
	}

	reminders, err := h.service.List(c.Request.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(c, err)
		return
	}
	resp := make([]reminderDTO, 0, len(reminders))
	for _, reminder := range reminders {
		resp = append(resp, toReminderDTO(reminder))
	}
	h.responder.writeJSON(c, http.StatusOK, resp)
}

func (h *ReminderHandler) Get(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		h.responder.writeError(c, http.StatusUnauthorized, errMissingPrincipal)
		return
	}

	reminder, err := h.service.Get(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		h.responder.handleServiceError(c, err)
		return
	}
	h.responder.writeJSON(c, http.StatusOK, toReminderDTO(reminder))
}

// Update replaces the editable fields of a reminder.
func (h *ReminderHandler) Update(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		h.responder.writeError(c, http.StatusUnauthorized, errMissingPrincipal)
		return
	}

	var req reminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.responder.writeError(c, http.StatusBadRequest, errBadRequestBody)
		return
	}

	reminder, err := h.service.Update(c.Request.Context(), application.UpdateReminderParams{
		Principal:  principal,
		ReminderID: c.Param("id"),
		Input:      req.input(),
	})
	if err != nil {
		h.responder.handleServiceError(c, err)
		return
	}
	h.responder.writeJSON(c, http.StatusOK, toReminderDTO(reminder))
}

func (h *ReminderHandler) Delete(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		h.responder.writeError(c, http.StatusUnauthorized, errMissingPrincipal)
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	if err := h.service.Delete(ctx, principal, id); err != nil {
		h.responder.handleServiceError(c, err)
		return
	}
	handlerLogger(ctx, h.logger, "ReminderHandler", "Delete", "reminder_id", id).InfoContext(ctx, "reminder deleted")
	h.responder.writeJSON(c, http.StatusNoContent, nil)
}
