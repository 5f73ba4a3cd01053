package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/teleconsult/internal/application"
	"github.com/example/teleconsult/internal/persistence"
)

// ConsultationService is the subset of application.ConsultationService used over HTTP.
type ConsultationService interface {
	Book(ctx context.Context, params application.BookConsultationParams) (persistence.Consultation, error)
	Get(ctx context.Context, principal application.Principal, id string) (persistence.Consultation, error)
	List(ctx context.Context, params application.ListConsultationsParams) ([]persistence.Consultation, error)
	ChatRoomForConsultation(ctx context.Context, principal application.Principal, consultationID string) (persistence.ChatRoom, error)
	UpdateStatus(ctx context.Context, params application.UpdateConsultationStatusParams) (persistence.Consultation, error)
}

// ConsultationHandler serves the consultation booking endpoints.
type ConsultationHandler struct {
	service   ConsultationService
	responder responder
	logger    *slog.Logger
}

// NewConsultationHandler constructs a ConsultationHandler.
func NewConsultationHandler(service ConsultationService, logger *slog.Logger) *ConsultationHandler {
	logger = defaultLogger(logger)
	return &ConsultationHandler{service: service, responder: newResponder(logger), logger: logger}
}

type consultationRequest struct {
	PatientID   string    `json:"patientId"`
	DoctorID    string    `json:"doctorId"`
	Type        string    `json:"type"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Duration    int       `json:"duration"`
}

type consultationDTO struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patientId"`
	DoctorID    string    `json:"doctorId"`
	Type        string    `json:"type"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Duration    int       `json:"duration"`
	EndAt       time.Time `json:"endAt"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toConsultationDTO(c persistence.Consultation) consultationDTO {
	return consultationDTO{
		ID:          c.ID,
		PatientID:   c.PatientID,
		DoctorID:    c.DoctorID,
		Type:        c.Type,
		ScheduledAt: c.ScheduledAt,
		Duration:    c.Duration,
		EndAt:       c.EndAt,
		Status:      string(c.Status),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

type chatRoomDTO struct {
	ID             string    `json:"id"`
	ConsultationID string    `json:"consultationId"`
	PatientID      string    `json:"patientId"`
	DoctorID       string    `json:"doctorId"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func toChatRoomDTO(r persistence.ChatRoom) chatRoomDTO {
	return chatRoomDTO{
		ID:             r.ID,
		ConsultationID: r.ConsultationID,
		PatientID:      r.PatientID,
		DoctorID:       r.DoctorID,
		IsActive:       r.IsActive,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// Create books a consultation.
func (h *ConsultationHandler) Create(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		h.responder.writeError(c, http.StatusUnauthorized, errMissingPrincipal)
		return
	}

	var req consultationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.responder.writeError(c, http.StatusBadRequest, errBadRequestBody)
		return
	}

	consultation, err := h.service.Book(c.Request.Context(), application.BookConsultationParams{
		Principal: principal,
		Input: application.ConsultationInput{
			PatientID:   req.PatientID,
			DoctorID:    req.DoctorID,
			Type:        req.Type,
			ScheduledAt: req.ScheduledAt,
			Duration:    req.Duration,
		},
	})
	if err != nil {
		h.responder.handleServiceError(c, err)
		return
	}
	h.responder.writeJSON(c, http.StatusCreated, toConsultationDTO(consultation))
}

// List returns the consultations visible to the caller. Query parameters
// patientId, doctorId and status (comma separated) narrow the result.
func (h *ConsultationHandler) List(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		h.responder.writeError(c, http.StatusUnauthorized, errMissingPrincipal)
		return
	}

	params := application.ListConsultationsParams{
		Principal: principal,
		PatientID: strings.TrimSpace(c.Query("patientId")),
		DoctorID:  strings.TrimSpace(c.Query("doctorId")),
	}
	for _, raw := range strings.Split(c.Query("status"), ",") {
		if status := strings.ToUpper(strings.TrimSpace(raw)); status != "" {
			params.Statuses = append(params.Statuses, persistence.ConsultationStatus(status))
		}
	}

	consultations, err := h.service.List(c.Request.Context(), params)
	if err != nil {
		h.responder.handleServiceError(c, err)
		return
	}

	resp := make([]consultationDTO, 0, len(consultations))
	for _, consultation := range consultations {
		resp = append(resp, toConsultationDTO(consultation))
	}
	h.responder.writeJSON(c, http.StatusOK, resp)
}

// Get returns one consultation.
func (h *ConsultationHandler) Get(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		h.responder.writeError(c, http.StatusUnauthorized, errMissingPrincipal)
		return
	}

	consultation, err := h.service.Get(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		h.responder.handleServiceError(c, err)
		return
	}
	h.responder.writeJSON(c, http.StatusOK, toConsultationDTO(consultation))
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus applies a manual transition.
func (h *ConsultationHandler) UpdateStatus(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		h.responder.writeError(c, http.StatusUnauthorized, errMissingPrincipal)
		return
	}

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.responder.writeError(c, http.StatusBadRequest, errBadRequestBody)
		return
	}
	status := strings.ToUpper(strings.TrimSpace(req.Status))
	if status == "" {
		h.responder.writeError(c, http.StatusBadRequest, errInvalidStatusBody)
		return
	}

	ctx := c.Request.Context()
	consultation, err := h.service.UpdateStatus(ctx, application.UpdateConsultationStatusParams{
		Principal:      principal,
		ConsultationID: c.Param("id"),
		Status:         persistence.ConsultationStatus(status),
	})
	if err != nil {
		h.responder.handleServiceError(c, err)
		return
	}
	handlerLogger(ctx, h.logger, "ConsultationHandler", "UpdateStatus", "consultation_id", consultation.ID).
		InfoContext(ctx, "consultation status changed", "status", status)
	h.responder.writeJSON(c, http.StatusOK, toConsultationDTO(consultation))
}

// ChatRoom returns the chat room bound to a consultation.
func (h *ConsultationHandler) ChatRoom(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		h.responder.writeError(c, http.StatusUnauthorized, errMissingPrincipal)
		return
	}

	room, err := h.service.ChatRoomForConsultation(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		h.responder.handleServiceError(c, err)
		return
	}
	h.responder.writeJSON(c, http.StatusOK, toChatRoomDTO(room))
}
