package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/teleconsult/internal/jobs"
	"github.com/example/teleconsult/internal/persistence"
	"github.com/example/teleconsult/internal/push"
)

const defaultNotificationLimit = 50

// NotificationStore captures the persistence operations needed by the service.
type NotificationStore interface {
	CreateNotification(ctx context.Context, notification persistence.Notification) error
	GetNotification(ctx context.Context, id string) (persistence.Notification, error)
	ListNotifications(ctx context.Context, userID string, filter persistence.NotificationFilter) ([]persistence.Notification, error)
	ListDueNotifications(ctx context.Context, now time.Time) ([]persistence.Notification, error)
	MarkNotificationSent(ctx context.Context, id string, at time.Time) (bool, error)
	MarkNotificationRead(ctx context.Context, id string, at time.Time) error
	MarkAllNotificationsRead(ctx context.Context, userID string, at time.Time) (int, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
	UpsertDeviceToken(ctx context.Context, token persistence.DeviceToken) error
	DeleteDeviceToken(ctx context.Context, userID, token string) error
	ListDeviceTokens(ctx context.Context, userID string) ([]persistence.DeviceToken, error)
}

// NotificationService creates notifications, delivers them to devices and
// serves the read path.
type NotificationService struct {
	store       NotificationStore
	queue       JobEnqueuer
	sender      push.Sender
	templates   *TemplateRegistry
	policy      jobs.RetryPolicy
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewNotificationService constructs a notification service with the provided dependencies.
func NewNotificationService(store NotificationStore, queue JobEnqueuer, sender push.Sender, idGenerator func() string, now func() time.Time) *NotificationService {
	return NewNotificationServiceWithLogger(store, queue, sender, nil, idGenerator, now, nil)
}

// NewNotificationServiceWithLogger constructs a notification service with a
// specified template registry and logger.
func NewNotificationServiceWithLogger(store NotificationStore, queue JobEnqueuer, sender push.Sender, templates *TemplateRegistry, idGenerator func() string, now func() time.Time, logger *slog.Logger) *NotificationService {
	if templates == nil {
		templates = NewTemplateRegistry()
	}
	if idGenerator == nil {
		idGenerator = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	return &NotificationService{
		store:       store,
		queue:       queue,
		sender:      sender,
		templates:   templates,
		policy:      jobs.DefaultRetryPolicy(),
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

// SetRetryPolicy overrides the policy used for delivery jobs.
func (s *NotificationService) SetRetryPolicy(policy jobs.RetryPolicy) {
	s.policy = policy
}

func (s *NotificationService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "NotificationService", operation, attrs...)
}

// Create persists a notification and enqueues its delivery when it is already due.
func (s *NotificationService) Create(ctx context.Context, params CreateNotificationParams) (notification persistence.Notification, err error) {
	if s == nil {
		err = fmt.Errorf("NotificationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Create",
		"user_id", params.UserID,
		"notification_type", params.Type,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create notification", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("notification_id", notification.ID).InfoContext(ctx, "notification created")
	}()

	notificationType := strings.ToUpper(strings.TrimSpace(params.Type))
	if notificationType == "" {
		notificationType = NotificationGeneral
	}

	title, message, _ := s.templates.Render(notificationType, params.Meta)
	if strings.TrimSpace(params.Title) != "" {
		title = strings.TrimSpace(params.Title)
	}
	if strings.TrimSpace(params.Message) != "" {
		message = strings.TrimSpace(params.Message)
	}

	vErr := &ValidationError{}
	if strings.TrimSpace(params.UserID) == "" {
		vErr.add("userId", "userId is required")
	}
	if title == "" {
		vErr.add("title", "title is required when no template exists for the type")
	}
	if message == "" {
		vErr.add("message", "message is required when no template exists for the type")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	data := params.Data
	if len(data) == 0 && len(params.Meta) > 0 {
		if data, err = json.Marshal(params.Meta); err != nil {
			return
		}
	}

	now := s.now().UTC()
	scheduledAt := now
	if params.ScheduledAt != nil {
		scheduledAt = params.ScheduledAt.UTC()
	}

	notification = persistence.Notification{
		ID:          s.idGenerator(),
		UserID:      params.UserID,
		Type:        notificationType,
		Title:       title,
		Message:     message,
		Data:        data,
		ScheduledAt: &scheduledAt,
		CreatedAt:   now,
	}
	if err = s.store.CreateNotification(ctx, notification); err != nil {
		err = mapNotificationRepoError(err)
		notification = persistence.Notification{}
		return
	}

	if !scheduledAt.After(now) {
		if enqueueErr := s.enqueue(ctx, notification); enqueueErr != nil {
			logger.WarnContext(ctx, "failed to enqueue notification, sweep will retry",
				"notification_id", notification.ID,
				"error", enqueueErr,
			)
		}
	}
	return
}

func (s *NotificationService) enqueue(ctx context.Context, notification persistence.Notification) error {
	return enqueueJSON(ctx, s.queue, jobs.NotificationDeliver, notificationJob{NotificationID: notification.ID}, jobs.EnqueueOptions{
		Policy:    s.policy,
		DedupeKey: "notification:" + notification.ID,
	})
}

// HandleConsultationEvent turns a lifecycle event into notifications for the
// consultation's participants.
func (s *NotificationService) HandleConsultationEvent(ctx context.Context, event ConsultationEvent) error {
	if s == nil {
		return fmt.Errorf("NotificationService is nil")
	}

	var notificationType string
	switch event.Type {
	case EventConsultationBooked:
		notificationType = NotificationConsultationBooked
	case EventConsultationStarted:
		notificationType = NotificationConsultationStarted
	case EventConsultationCompleted:
		notificationType = NotificationConsultationCompleted
	case EventConsultationCancelled:
		notificationType = NotificationConsultationCancelled
	default:
		return nil
	}

	consultation := event.Consultation
	recipients := []struct {
		userID      string
		counterpart string
	}{
		{userID: consultation.PatientID, counterpart: "doctor"},
		{userID: consultation.DoctorID, counterpart: "patient"},
	}

	var errs []error
	for _, recipient := range recipients {
		if recipient.userID == "" {
			continue
		}
		meta := map[string]string{
			"consultationId": consultation.ID,
			"chatRoomId":     event.ChatRoomID,
			"type":           strings.ToLower(consultation.Type),
			"scheduledAt":    consultation.ScheduledAt.UTC().Format("2006-01-02 15:04 MST"),
			"counterpart":    recipient.counterpart,
		}
		if _, err := s.Create(ctx, CreateNotificationParams{
			UserID: recipient.userID,
			Type:   notificationType,
			Meta:   meta,
		}); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", recipient.userID, err))
		}
	}
	return errors.Join(errs...)
}

// Sweep enqueues every unsent notification that is due.
func (s *NotificationService) Sweep(ctx context.Context) (report DispatchReport, err error) {
	if s == nil {
		err = fmt.Errorf("NotificationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Sweep")
	due, err := s.store.ListDueNotifications(ctx, s.now().UTC())
	if err != nil {
		err = mapNotificationRepoError(err)
		logger.ErrorContext(ctx, "failed to load due notifications", "error", err, "error_kind", ErrorKind(err))
		return
	}

	for _, notification := range due {
		if ctx.Err() != nil {
			err = ctx.Err()
			break
		}
		report.Examined++
		if enqueueErr := s.enqueue(ctx, notification); enqueueErr != nil {
			report.Failures = append(report.Failures, SweepItemError{ID: notification.ID, Err: enqueueErr})
			logger.ErrorContext(ctx, "failed to enqueue notification", "notification_id", notification.ID, "error", enqueueErr, "error_kind", ErrorKind(enqueueErr))
			continue
		}
		report.Enqueued++
	}

	if report.Examined > 0 {
		logger.InfoContext(ctx, "notification sweep finished",
			"examined", report.Examined,
			"enqueued", report.Enqueued,
			"failed", len(report.Failures),
		)
	}
	return
}

// Deliver is the notification.deliver worker. A notification is marked sent
// once the transport accepted the multicast, whatever the per-token outcome.
func (s *NotificationService) Deliver(ctx context.Context, job jobs.Job) error {
	if s == nil {
		return fmt.Errorf("NotificationService is nil")
	}

	var payload notificationJob
	if err := decodeJob(job, &payload); err != nil {
		return err
	}

	logger := s.loggerWith(ctx, "Deliver",
		"notification_id", payload.NotificationID,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)

	notification, err := s.store.GetNotification(ctx, payload.NotificationID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			logger.InfoContext(ctx, "notification no longer exists")
			return nil
		}
		logger.ErrorContext(ctx, "failed to load notification", "error", err)
		return err
	}
	if notification.IsSent {
		return nil
	}

	tokens, err := s.store.ListDeviceTokens(ctx, notification.UserID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load device tokens", "error", err)
		return err
	}

	if len(tokens) > 0 && s.sender != nil {
		resp, sendErr := s.sender.SendMulticast(ctx, tokenValues(tokens), push.Message{
			Title: notification.Title,
			Body:  notification.Message,
			Data: map[string]string{
				"kind":             "NOTIFICATION",
				"notificationId":   notification.ID,
				"notificationType": notification.Type,
			},
		})
		if sendErr != nil {
			err = &TransientDeliveryError{Op: jobs.NotificationDeliver, Err: sendErr}
			logger.WarnContext(ctx, "notification push failed", "error", err, "error_kind", ErrorKind(err))
			return err
		}
		logger.InfoContext(ctx, "notification pushed", "success", resp.SuccessCount, "failure", resp.FailureCount)
	}

	if _, err = s.store.MarkNotificationSent(ctx, notification.ID, s.now().UTC()); err != nil {
		logger.ErrorContext(ctx, "failed to mark notification sent", "error", err)
		return err
	}
	return nil
}

// List returns the principal's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, params ListNotificationsParams) ([]persistence.Notification, error) {
	if s == nil {
		return nil, fmt.Errorf("NotificationService is nil")
	}
	if params.Principal.UserID == "" {
		return nil, ErrUnauthorized
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	notifications, err := s.store.ListNotifications(ctx, params.Principal.UserID, persistence.NotificationFilter{
		UnreadOnly: params.UnreadOnly,
		Limit:      limit,
	})
	if err != nil {
		return nil, mapNotificationRepoError(err)
	}
	return notifications, nil
}

func (s *NotificationService) owned(ctx context.Context, principal Principal, id string) (persistence.Notification, error) {
	notification, err := s.store.GetNotification(ctx, id)
	if err != nil {
		return persistence.Notification{}, mapNotificationRepoError(err)
	}
	if notification.UserID != principal.UserID && !principal.IsAdmin() {
		return persistence.Notification{}, ErrForbidden
	}
	return notification, nil
}

// Get returns a notification owned by the principal and marks it read.
func (s *NotificationService) Get(ctx context.Context, principal Principal, id string) (persistence.Notification, error) {
	if s == nil {
		return persistence.Notification{}, fmt.Errorf("NotificationService is nil")
	}
	notification, err := s.owned(ctx, principal, id)
	if err != nil {
		return persistence.Notification{}, err
	}
	if notification.IsRead || notification.UserID != principal.UserID {
		return notification, nil
	}
	if err := s.store.MarkNotificationRead(ctx, id, s.now().UTC()); err != nil {
		return persistence.Notification{}, mapNotificationRepoError(err)
	}
	notification, err = s.store.GetNotification(ctx, id)
	if err != nil {
		return persistence.Notification{}, mapNotificationRepoError(err)
	}
	return notification, nil
}

// MarkRead marks a notification owned by the principal as read.
func (s *NotificationService) MarkRead(ctx context.Context, principal Principal, id string) error {
	if s == nil {
		return fmt.Errorf("NotificationService is nil")
	}
	if _, err := s.owned(ctx, principal, id); err != nil {
		return err
	}
	return mapNotificationRepoError(s.store.MarkNotificationRead(ctx, id, s.now().UTC()))
}

// MarkAllRead marks every unread notification of the principal as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, principal Principal) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("NotificationService is nil")
	}
	if principal.UserID == "" {
		return 0, ErrUnauthorized
	}
	count, err := s.store.MarkAllNotificationsRead(ctx, principal.UserID, s.now().UTC())
	if err != nil {
		return 0, mapNotificationRepoError(err)
	}
	return count, nil
}

// UnreadCount returns the number of unread notifications of the principal.
func (s *NotificationService) UnreadCount(ctx context.Context, principal Principal) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("NotificationService is nil")
	}
	if principal.UserID == "" {
		return 0, ErrUnauthorized
	}
	count, err := s.store.CountUnreadNotifications(ctx, principal.UserID)
	if err != nil {
		return 0, mapNotificationRepoError(err)
	}
	return count, nil
}

// RegisterDeviceToken attaches a push token to the principal.
func (s *NotificationService) RegisterDeviceToken(ctx context.Context, params RegisterDeviceTokenParams) (token persistence.DeviceToken, err error) {
	if s == nil {
		err = fmt.Errorf("NotificationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "RegisterDeviceToken",
		"user_id", params.Principal.UserID,
		"platform", params.Platform,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to register device token", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "device token registered")
	}()

	if params.Principal.UserID == "" {
		err = ErrUnauthorized
		return
	}
	vErr := &ValidationError{}
	if strings.TrimSpace(params.Token) == "" {
		vErr.add("token", "token is required")
	}
	platform := strings.ToLower(strings.TrimSpace(params.Platform))
	switch platform {
	case "ios", "android", "web":
	case "":
		vErr.add("platform", "platform is required")
	default:
		vErr.add("platform", "platform must be one of ios, android, web")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	token = persistence.DeviceToken{
		UserID:    params.Principal.UserID,
		Token:     strings.TrimSpace(params.Token),
		Platform:  platform,
		CreatedAt: s.now().UTC(),
	}
	if err = s.store.UpsertDeviceToken(ctx, token); err != nil {
		err = mapNotificationRepoError(err)
		token = persistence.DeviceToken{}
	}
	return
}

// RemoveDeviceToken detaches a push token from the principal.
func (s *NotificationService) RemoveDeviceToken(ctx context.Context, principal Principal, token string) error {
	if s == nil {
		return fmt.Errorf("NotificationService is nil")
	}
	if principal.UserID == "" {
		return ErrUnauthorized
	}
	if err := s.store.DeleteDeviceToken(ctx, principal.UserID, token); err != nil {
		return mapNotificationRepoError(err)
	}
	s.loggerWith(ctx, "RemoveDeviceToken", "user_id", principal.UserID).InfoContext(ctx, "device token removed")
	return nil
}

func mapNotificationRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
