package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/teleconsult/internal/jobs"
	"github.com/example/teleconsult/internal/persistence"
	"github.com/example/teleconsult/internal/push"
	"github.com/example/teleconsult/internal/recurrence"
)

// ReminderStore captures the persistence operations needed by the service.
type ReminderStore interface {
	CreateReminder(ctx context.Context, reminder persistence.Reminder) error
	UpdateReminder(ctx context.Context, reminder persistence.Reminder) error
	GetReminder(ctx context.Context, id string) (persistence.Reminder, error)
	ListReminders(ctx context.Context, userID string) ([]persistence.Reminder, error)
	ListActiveReminders(ctx context.Context) ([]persistence.Reminder, error)
	DeleteReminder(ctx context.Context, id string) error
	MarkReminderRun(ctx context.Context, id string, at time.Time) error
	ListDeviceTokens(ctx context.Context, userID string) ([]persistence.DeviceToken, error)
}

// ReminderService manages user reminders and turns due ones into push deliveries.
type ReminderService struct {
	store       ReminderStore
	queue       JobEnqueuer
	sender      push.Sender
	engine      *recurrence.Engine
	policy      jobs.RetryPolicy
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewReminderService constructs a reminder service with the provided dependencies.
func NewReminderService(store ReminderStore, queue JobEnqueuer, sender push.Sender, engine *recurrence.Engine, idGenerator func() string, now func() time.Time) *ReminderService {
	return NewReminderServiceWithLogger(store, queue, sender, engine, idGenerator, now, nil)
}

// NewReminderServiceWithLogger constructs a reminder service with a specified logger.
func NewReminderServiceWithLogger(store ReminderStore, queue JobEnqueuer, sender push.Sender, engine *recurrence.Engine, idGenerator func() string, now func() time.Time, logger *slog.Logger) *ReminderService {
	if engine == nil {
		engine = recurrence.NewEngine(time.UTC)
	}
	if idGenerator == nil {
		idGenerator = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	return &ReminderService{
		store:       store,
		queue:       queue,
		sender:      sender,
		engine:      engine,
		policy:      jobs.DefaultRetryPolicy(),
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

// SetRetryPolicy overrides the policy used for delivery jobs.
func (s *ReminderService) SetRetryPolicy(policy jobs.RetryPolicy) {
	s.policy = policy
}

func (s *ReminderService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ReminderService", operation, attrs...)
}

// Create validates input and stores a reminder for the principal, or for
// params.UserID when an administrator asks.
func (s *ReminderService) Create(ctx context.Context, params CreateReminderParams) (reminder persistence.Reminder, err error) {
	if s == nil {
		err = fmt.Errorf("ReminderService is nil")
		return
	}

	ownerID := params.Principal.UserID
	if params.UserID != "" && params.UserID != ownerID {
		if !params.Principal.IsAdmin() {
			err = ErrForbidden
			return
		}
		ownerID = params.UserID
	}

	logger := s.loggerWith(ctx, "Create",
		"principal_id", params.Principal.UserID,
		"user_id", ownerID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create reminder", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("reminder_id", reminder.ID).InfoContext(ctx, "reminder created")
	}()

	if ownerID == "" {
		err = ErrUnauthorized
		return
	}

	frequency, vErr := validateReminderInput(params.Input)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	now := s.now().UTC()
	reminder = persistence.Reminder{
		ID:         s.idGenerator(),
		UserID:     ownerID,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
		RepeatType: persistence.RepeatType(frequency.String()),
	}
	applyReminderInput(&reminder, params.Input)

	if err = s.store.CreateReminder(ctx, reminder); err != nil {
		err = mapReminderRepoError(err)
		reminder = persistence.Reminder{}
	}
	return
}

// Get returns a reminder owned by the principal.
func (s *ReminderService) Get(ctx context.Context, principal Principal, id string) (persistence.Reminder, error) {
	if s == nil {
		return persistence.Reminder{}, fmt.Errorf("ReminderService is nil")
	}
	reminder, err := s.store.GetReminder(ctx, id)
	if err != nil {
		return persistence.Reminder{}, mapReminderRepoError(err)
	}
	if !principal.IsAdmin() && reminder.UserID != principal.UserID {
		return persistence.Reminder{}, ErrForbidden
	}
	return reminder, nil
}

// List returns the principal's reminders.
func (s *ReminderService) List(ctx context.Context, principal Principal) ([]persistence.Reminder, error) {
	if s == nil {
		return nil, fmt.Errorf("ReminderService is nil")
	}
	if principal.UserID == "" {
		return nil, ErrUnauthorized
	}
	reminders, err := s.store.ListReminders(ctx, principal.UserID)
	if err != nil {
		return nil, mapReminderRepoError(err)
	}
	return reminders, nil
}

// Update replaces the editable fields of a reminder. The last run instant is kept.
func (s *ReminderService) Update(ctx context.Context, params UpdateReminderParams) (reminder persistence.Reminder, err error) {
	if s == nil {
		err = fmt.Errorf("ReminderService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Update",
		"principal_id", params.Principal.UserID,
		"reminder_id", params.ReminderID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update reminder", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "reminder updated")
	}()

	existing, err := s.Get(ctx, params.Principal, params.ReminderID)
	if err != nil {
		return
	}

	frequency, vErr := validateReminderInput(params.Input)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	updated := existing
	updated.RepeatType = persistence.RepeatType(frequency.String())
	applyReminderInput(&updated, params.Input)
	updated.UpdatedAt = s.now().UTC()

	if err = s.store.UpdateReminder(ctx, updated); err != nil {
		err = mapReminderRepoError(err)
		return
	}
	reminder = updated
	return
}

// Delete removes a reminder owned by the principal.
func (s *ReminderService) Delete(ctx context.Context, principal Principal, id string) error {
	if s == nil {
		return fmt.Errorf("ReminderService is nil")
	}
	logger := s.loggerWith(ctx, "Delete",
		"principal_id", principal.UserID,
		"reminder_id", id,
	)

	if _, err := s.Get(ctx, principal, id); err != nil {
		logger.ErrorContext(ctx, "failed to delete reminder", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	if err := s.store.DeleteReminder(ctx, id); err != nil {
		err = mapReminderRepoError(err)
		logger.ErrorContext(ctx, "failed to delete reminder", "error", err, "error_kind", ErrorKind(err))
		return err
	}

	logger.InfoContext(ctx, "reminder deleted")
	return nil
}

func validateReminderInput(input ReminderInput) (recurrence.Frequency, *ValidationError) {
	vErr := &ValidationError{}
	if strings.TrimSpace(input.Title) == "" {
		vErr.add("title", "title is required")
	}
	frequency, err := recurrence.ParseFrequency(input.RepeatType)
	if err != nil {
		vErr.add("repeatType", "repeatType must be one of ONCE, DAILY, WEEKLY, MONTHLY")
	}
	if input.StartAt.IsZero() {
		vErr.add("startAt", "startAt is required")
	}
	if input.EndAt != nil && !input.StartAt.IsZero() && !input.EndAt.After(input.StartAt) {
		vErr.add("endAt", "endAt must be after startAt")
	}
	return frequency, vErr
}

func applyReminderInput(reminder *persistence.Reminder, input ReminderInput) {
	reminder.Title = strings.TrimSpace(input.Title)
	reminder.Message = strings.TrimSpace(input.Message)
	reminder.Type = strings.ToUpper(strings.TrimSpace(input.Type))
	reminder.StartAt = input.StartAt.UTC()
	reminder.EndAt = nil
	if input.EndAt != nil {
		end := input.EndAt.UTC()
		reminder.EndAt = &end
	}
	if input.IsActive != nil {
		reminder.IsActive = *input.IsActive
	}
}

func ruleFor(reminder persistence.Reminder) recurrence.Rule {
	frequency, _ := recurrence.ParseFrequency(string(reminder.RepeatType))
	return recurrence.Rule{
		Frequency: frequency,
		Active:    reminder.IsActive,
		StartAt:   reminder.StartAt,
		EndAt:     reminder.EndAt,
		LastRunAt: reminder.LastRunAt,
	}
}

func reminderDedupeKey(reminder persistence.Reminder) string {
	period := "never"
	if reminder.LastRunAt != nil {
		period = reminder.LastRunAt.UTC().Format(time.RFC3339Nano)
	}
	return "reminder:" + reminder.ID + ":" + period
}

// Sweep enqueues a delivery job for every active reminder that is due. It
// never records a run itself; the worker does.
func (s *ReminderService) Sweep(ctx context.Context) (report DispatchReport, err error) {
	if s == nil {
		err = fmt.Errorf("ReminderService is nil")
		return
	}

	now := s.now()
	logger := s.loggerWith(ctx, "Sweep")

	reminders, err := s.store.ListActiveReminders(ctx)
	if err != nil {
		err = mapReminderRepoError(err)
		logger.ErrorContext(ctx, "failed to load active reminders", "error", err, "error_kind", ErrorKind(err))
		return
	}

	for _, reminder := range reminders {
		if ctx.Err() != nil {
			err = ctx.Err()
			break
		}
		report.Examined++
		if !s.engine.ShouldRun(ruleFor(reminder), now) {
			continue
		}

		enqueueErr := enqueueJSON(ctx, s.queue, jobs.ReminderDeliver, reminderJob{ReminderID: reminder.ID}, jobs.EnqueueOptions{
			Policy:    s.policy,
			DedupeKey: reminderDedupeKey(reminder),
		})
		if enqueueErr != nil {
			report.Failures = append(report.Failures, SweepItemError{ID: reminder.ID, Err: enqueueErr})
			logger.ErrorContext(ctx, "failed to enqueue reminder", "reminder_id", reminder.ID, "error", enqueueErr, "error_kind", ErrorKind(enqueueErr))
			continue
		}
		report.Enqueued++
	}

	if report.Enqueued > 0 || len(report.Failures) > 0 {
		logger.InfoContext(ctx, "reminder sweep finished",
			"examined", report.Examined,
			"enqueued", report.Enqueued,
			"failed", len(report.Failures),
		)
	}
	return
}

// Deliver is the reminder.deliver worker. It re-checks that the reminder is
// still due, pushes it to the owner's devices and records the run. A push
// failure is logged and not retried; only store failures return an error.
func (s *ReminderService) Deliver(ctx context.Context, job jobs.Job) (err error) {
	if s == nil {
		return fmt.Errorf("ReminderService is nil")
	}

	var payload reminderJob
	if err = decodeJob(job, &payload); err != nil {
		return err
	}

	logger := s.loggerWith(ctx, "Deliver",
		"reminder_id", payload.ReminderID,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)

	reminder, err := s.store.GetReminder(ctx, payload.ReminderID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			logger.InfoContext(ctx, "reminder no longer exists")
			return nil
		}
		logger.ErrorContext(ctx, "failed to load reminder", "error", err)
		return err
	}

	now := s.now()
	if !s.engine.ShouldRun(ruleFor(reminder), now) {
		logger.DebugContext(ctx, "reminder not due")
		return nil
	}

	tokens, err := s.store.ListDeviceTokens(ctx, reminder.UserID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load device tokens", "error", err)
		return err
	}

	if len(tokens) > 0 && s.sender != nil {
		resp, pushErr := s.sender.SendMulticast(ctx, tokenValues(tokens), push.Message{
			Title: reminder.Title,
			Body:  reminder.Message,
			Data: map[string]string{
				"kind":         "REMINDER",
				"reminderId":   reminder.ID,
				"reminderType": reminder.Type,
			},
		})
		if pushErr != nil {
			logger.WarnContext(ctx, "reminder push failed", "error", pushErr, "tokens", len(tokens))
		} else {
			logger.InfoContext(ctx, "reminder pushed", "success", resp.SuccessCount, "failure", resp.FailureCount)
		}
	}

	if err = s.store.MarkReminderRun(ctx, reminder.ID, now.UTC()); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil
		}
		logger.ErrorContext(ctx, "failed to record reminder run", "error", err)
		return err
	}
	return nil
}

func tokenValues(tokens []persistence.DeviceToken) []string {
	values := make([]string, len(tokens))
	for i, token := range tokens {
		values[i] = token.Token
	}
	return values
}

func mapReminderRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
