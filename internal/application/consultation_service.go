package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/teleconsult/internal/lifecycle"
	"github.com/example/teleconsult/internal/persistence"
	"github.com/example/teleconsult/internal/scheduler"
)

// MaxConsultationMinutes bounds the duration of a single consultation.
const MaxConsultationMinutes = 480

// ConsultationStore captures the persistence operations needed by the service.
type ConsultationStore interface {
	CreateConsultation(ctx context.Context, consultation persistence.Consultation, room persistence.ChatRoom) error
	GetConsultation(ctx context.Context, id string) (persistence.Consultation, error)
	ListConsultations(ctx context.Context, filter persistence.ConsultationFilter) ([]persistence.Consultation, error)
	TransitionConsultation(ctx context.Context, transition persistence.Transition) (bool, error)
	GetChatRoomByConsultation(ctx context.Context, consultationID string) (persistence.ChatRoom, error)
	EnsureChatRoom(ctx context.Context, room persistence.ChatRoom) (persistence.ChatRoom, error)
}

// ConsultationService books consultations and drives them through their lifecycle.
type ConsultationService struct {
	store       ConsultationStore
	events      EventPublisher
	idGenerator func() string
	now         func() time.Time
	location    *time.Location
	logger      *slog.Logger
}

// NewConsultationService constructs a consultation service with the provided dependencies.
func NewConsultationService(store ConsultationStore, events EventPublisher, idGenerator func() string, now func() time.Time) *ConsultationService {
	return NewConsultationServiceWithLogger(store, events, idGenerator, now, nil, nil)
}

// NewConsultationServiceWithLogger constructs a consultation service with a
// specified booking location and logger. A nil location means UTC.
func NewConsultationServiceWithLogger(store ConsultationStore, events EventPublisher, idGenerator func() string, now func() time.Time, location *time.Location, logger *slog.Logger) *ConsultationService {
	if events == nil {
		events = nopPublisher{}
	}
	if idGenerator == nil {
		idGenerator = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	if location == nil {
		location = time.UTC
	}
	return &ConsultationService{
		store:       store,
		events:      events,
		idGenerator: idGenerator,
		now:         now,
		location:    location,
		logger:      defaultLogger(logger),
	}
}

func (s *ConsultationService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ConsultationService", operation, attrs...)
}

// Book validates the request, checks the doctor's schedule and creates the
// consultation together with its inactive chat room.
func (s *ConsultationService) Book(ctx context.Context, params BookConsultationParams) (consultation persistence.Consultation, err error) {
	if s == nil {
		err = fmt.Errorf("ConsultationService is nil")
		return
	}
	if s.store == nil {
		err = fmt.Errorf("consultation store not configured")
		return
	}

	logger := s.loggerWith(ctx, "Book",
		"principal_id", params.Principal.UserID,
		"doctor_id", params.Input.DoctorID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to book consultation", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("consultation_id", consultation.ID).InfoContext(ctx, "consultation booked")
	}()

	input := params.Input
	input.PatientID = strings.TrimSpace(input.PatientID)
	input.DoctorID = strings.TrimSpace(input.DoctorID)
	input.Type = strings.ToUpper(strings.TrimSpace(input.Type))

	switch params.Principal.Role {
	case RoleAdmin:
	case RoleUser:
		if input.PatientID == "" {
			input.PatientID = params.Principal.UserID
		}
		if input.PatientID != params.Principal.UserID {
			err = ErrForbidden
			return
		}
	default:
		err = ErrForbidden
		return
	}

	now := s.now()
	if vErr := s.validateBooking(input, now); vErr.HasErrors() {
		err = vErr
		return
	}

	scheduledAt := input.ScheduledAt.UTC()
	consultation = persistence.Consultation{
		ID:          s.idGenerator(),
		PatientID:   input.PatientID,
		DoctorID:    input.DoctorID,
		Type:        input.Type,
		ScheduledAt: scheduledAt,
		Duration:    input.Duration,
		EndAt:       lifecycle.EndAt(scheduledAt, input.Duration),
		Status:      persistence.ConsultationPending,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}

	if err = s.checkSchedule(ctx, consultation); err != nil {
		consultation = persistence.Consultation{}
		return
	}

	room := s.newChatRoom(consultation, now)
	if err = s.store.CreateConsultation(ctx, consultation, room); err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			err = &ConflictError{DoctorID: consultation.DoctorID}
		} else {
			err = mapConsultationRepoError(err)
		}
		consultation = persistence.Consultation{}
		return
	}

	s.events.Publish(ctx, ConsultationEvent{
		Type:         EventConsultationBooked,
		Consultation: consultation,
		ChatRoomID:   room.ID,
		OccurredAt:   now,
	})
	return
}

func (s *ConsultationService) validateBooking(input ConsultationInput, now time.Time) *ValidationError {
	vErr := &ValidationError{}
	if input.PatientID == "" {
		vErr.add("patientId", "patientId is required")
	}
	if input.DoctorID == "" {
		vErr.add("doctorId", "doctorId is required")
	}
	if input.Type == "" {
		vErr.add("type", "type is required")
	}
	if input.Duration <= 0 {
		vErr.add("duration", "duration must be positive")
	} else if input.Duration > MaxConsultationMinutes {
		vErr.add("duration", fmt.Sprintf("duration must not exceed %d minutes", MaxConsultationMinutes))
	}
	if input.ScheduledAt.IsZero() {
		vErr.add("scheduledAt", "scheduledAt is required")
	} else if !s.withinBookingWindow(input.ScheduledAt, now) {
		vErr.add("scheduledAt", "scheduledAt must fall on today or yesterday")
	}
	return vErr
}

// withinBookingWindow reports whether scheduledAt falls on the calendar date
// of now or the day before, in the service location.
func (s *ConsultationService) withinBookingWindow(scheduledAt, now time.Time) bool {
	day := calendarDate(scheduledAt.In(s.location))
	today := calendarDate(now.In(s.location))
	return day.Equal(today) || day.Equal(today.AddDate(0, 0, -1))
}

func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func (s *ConsultationService) checkSchedule(ctx context.Context, candidate persistence.Consultation) error {
	existing, err := s.store.ListConsultations(ctx, persistence.ConsultationFilter{
		DoctorID: candidate.DoctorID,
		Statuses: []persistence.ConsultationStatus{persistence.ConsultationPending, persistence.ConsultationOngoing},
	})
	if err != nil {
		return mapConsultationRepoError(err)
	}

	bookings := make([]scheduler.Booking, 0, len(existing))
	for _, c := range existing {
		bookings = append(bookings, scheduler.Booking{ID: c.ID, DoctorID: c.DoctorID, Start: c.ScheduledAt, End: c.EndAt})
	}
	conflicts := scheduler.DetectConflicts(bookings, scheduler.Booking{
		ID:       candidate.ID,
		DoctorID: candidate.DoctorID,
		Start:    candidate.ScheduledAt,
		End:      candidate.EndAt,
	})
	if len(conflicts) == 0 {
		return nil
	}

	ids := make([]string, 0, len(conflicts))
	for _, conflict := range conflicts {
		ids = append(ids, conflict.WithBookingID)
	}
	return &ConflictError{DoctorID: candidate.DoctorID, ConsultationIDs: ids}
}

func (s *ConsultationService) newChatRoom(c persistence.Consultation, now time.Time) persistence.ChatRoom {
	return persistence.ChatRoom{
		ID:             s.idGenerator(),
		ConsultationID: c.ID,
		PatientID:      c.PatientID,
		DoctorID:       c.DoctorID,
		IsActive:       false,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}
}

// Get returns a consultation visible to the principal.
func (s *ConsultationService) Get(ctx context.Context, principal Principal, id string) (persistence.Consultation, error) {
	if s == nil {
		return persistence.Consultation{}, fmt.Errorf("ConsultationService is nil")
	}
	consultation, err := s.store.GetConsultation(ctx, id)
	if err != nil {
		return persistence.Consultation{}, mapConsultationRepoError(err)
	}
	if !canView(principal, consultation) {
		return persistence.Consultation{}, ErrForbidden
	}
	return consultation, nil
}

func canView(principal Principal, c persistence.Consultation) bool {
	if principal.IsAdmin() {
		return true
	}
	return principal.UserID != "" && (principal.UserID == c.PatientID || principal.UserID == c.DoctorID)
}

// List returns consultations for the principal. Patients and doctors only
// see their own; administrators may filter freely.
func (s *ConsultationService) List(ctx context.Context, params ListConsultationsParams) (consultations []persistence.Consultation, err error) {
	if s == nil {
		err = fmt.Errorf("ConsultationService is nil")
		return
	}

	filter := persistence.ConsultationFilter{
		PatientID: params.PatientID,
		DoctorID:  params.DoctorID,
		Statuses:  params.Statuses,
	}
	switch params.Principal.Role {
	case RoleAdmin:
	case RoleDoctor:
		filter.DoctorID = params.Principal.UserID
	case RoleUser:
		filter.PatientID = params.Principal.UserID
	default:
		err = ErrForbidden
		return
	}

	consultations, err = s.store.ListConsultations(ctx, filter)
	if err != nil {
		err = mapConsultationRepoError(err)
		s.loggerWith(ctx, "List", "principal_id", params.Principal.UserID).
			ErrorContext(ctx, "failed to list consultations", "error", err, "error_kind", ErrorKind(err))
		return nil, err
	}
	return consultations, nil
}

// ChatRoomForConsultation returns the chat room of a consultation visible to the principal.
func (s *ConsultationService) ChatRoomForConsultation(ctx context.Context, principal Principal, consultationID string) (persistence.ChatRoom, error) {
	if _, err := s.Get(ctx, principal, consultationID); err != nil {
		return persistence.ChatRoom{}, err
	}
	room, err := s.store.GetChatRoomByConsultation(ctx, consultationID)
	if err != nil {
		return persistence.ChatRoom{}, mapConsultationRepoError(err)
	}
	return room, nil
}

// UpdateStatus applies an explicit transition requested by the consultation's doctor.
func (s *ConsultationService) UpdateStatus(ctx context.Context, params UpdateConsultationStatusParams) (consultation persistence.Consultation, err error) {
	if s == nil {
		err = fmt.Errorf("ConsultationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "UpdateStatus",
		"principal_id", params.Principal.UserID,
		"consultation_id", params.ConsultationID,
		"status", string(params.Status),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update consultation status", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "consultation status updated")
	}()

	if !params.Principal.IsDoctor() {
		err = ErrForbidden
		return
	}

	consultation, err = s.store.GetConsultation(ctx, params.ConsultationID)
	if err != nil {
		err = mapConsultationRepoError(err)
		return
	}
	if consultation.DoctorID != params.Principal.UserID {
		consultation = persistence.Consultation{}
		err = ErrForbidden
		return
	}

	var action lifecycle.Action
	switch {
	case consultation.Status == persistence.ConsultationPending && params.Status == persistence.ConsultationOngoing:
		action = lifecycle.ActionStart
	case consultation.Status == persistence.ConsultationOngoing && params.Status == persistence.ConsultationCompleted:
		action = lifecycle.ActionComplete
	default:
		err = ErrInvalidTransition
		return
	}

	var applied bool
	consultation, applied, err = s.apply(ctx, consultation, action)
	if err != nil {
		return
	}
	if !applied {
		err = ErrInvalidTransition
	}
	return
}

// Sweep moves every due consultation along its lifecycle. Per-item failures
// are recorded in the report and do not stop the sweep.
func (s *ConsultationService) Sweep(ctx context.Context) (report ConsultationSweepReport, err error) {
	if s == nil {
		err = fmt.Errorf("ConsultationService is nil")
		return
	}

	now := s.now()
	logger := s.loggerWith(ctx, "Sweep")

	due, err := s.store.ListConsultations(ctx, persistence.ConsultationFilter{
		Statuses:        []persistence.ConsultationStatus{persistence.ConsultationPending, persistence.ConsultationOngoing},
		ScheduledBefore: &now,
	})
	if err != nil {
		err = mapConsultationRepoError(err)
		logger.ErrorContext(ctx, "failed to load due consultations", "error", err, "error_kind", ErrorKind(err))
		return
	}

	for _, consultation := range due {
		if ctx.Err() != nil {
			err = ctx.Err()
			break
		}
		report.Examined++

		action := lifecycle.Plan(consultation, now)
		if action == lifecycle.ActionNone {
			continue
		}

		_, applied, itemErr := s.apply(ctx, consultation, action)
		if itemErr != nil {
			report.Failures = append(report.Failures, SweepItemError{ID: consultation.ID, Err: itemErr})
			logger.ErrorContext(ctx, "failed to advance consultation",
				"consultation_id", consultation.ID,
				"action", action.String(),
				"error", itemErr,
				"error_kind", ErrorKind(itemErr),
			)
			continue
		}
		if !applied {
			report.Skipped++
			continue
		}
		switch action {
		case lifecycle.ActionStart:
			report.Started++
		case lifecycle.ActionComplete:
			report.Completed++
		case lifecycle.ActionCancel:
			report.Cancelled++
		}
	}

	if report.Started+report.Completed+report.Cancelled > 0 || len(report.Failures) > 0 {
		logger.InfoContext(ctx, "consultation sweep finished",
			"examined", report.Examined,
			"started", report.Started,
			"completed", report.Completed,
			"cancelled", report.Cancelled,
			"skipped", report.Skipped,
			"failed", len(report.Failures),
		)
	}
	return
}

// apply performs action as a conditional transition and emits the matching
// event. It reports false when another actor changed the status first.
func (s *ConsultationService) apply(ctx context.Context, consultation persistence.Consultation, action lifecycle.Action) (persistence.Consultation, bool, error) {
	from, to, ok := lifecycle.Target(action)
	if !ok || consultation.Status != from {
		return consultation, false, ErrInvalidTransition
	}

	now := s.now()
	transition := persistence.Transition{
		ConsultationID: consultation.ID,
		From:           from,
		To:             to,
		At:             now.UTC(),
	}

	var roomID string
	var eventType EventType
	switch action {
	case lifecycle.ActionStart:
		room, err := s.store.EnsureChatRoom(ctx, s.newChatRoom(consultation, now))
		if err != nil {
			return consultation, false, mapConsultationRepoError(err)
		}
		roomID = room.ID
		active := true
		transition.RoomActive = &active
		eventType = EventConsultationStarted
	case lifecycle.ActionComplete:
		inactive := false
		transition.RoomActive = &inactive
		eventType = EventConsultationCompleted
	case lifecycle.ActionCancel:
		eventType = EventConsultationCancelled
	}

	applied, err := s.store.TransitionConsultation(ctx, transition)
	if err != nil {
		return consultation, false, mapConsultationRepoError(err)
	}
	if !applied {
		return consultation, false, nil
	}

	consultation.Status = to
	consultation.UpdatedAt = now.UTC()
	if roomID == "" {
		if room, err := s.store.GetChatRoomByConsultation(ctx, consultation.ID); err == nil {
			roomID = room.ID
		}
	}
	s.events.Publish(ctx, ConsultationEvent{
		Type:         eventType,
		Consultation: consultation,
		ChatRoomID:   roomID,
		OccurredAt:   now,
	})
	return consultation, true, nil
}

func mapConsultationRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, persistence.ErrConflict) {
		return ErrConflict
	}
	return err
}
