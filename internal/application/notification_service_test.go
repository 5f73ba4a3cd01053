package application_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/teleconsult/internal/application"
	"github.com/example/teleconsult/internal/jobs"
	"github.com/example/teleconsult/internal/persistence"
	"github.com/example/teleconsult/internal/testfixtures"
)

type notificationEnv struct {
	store  persistence.Store
	clock  *testfixtures.Clock
	queue  *testfixtures.RecordingQueue
	sender *testfixtures.RecordingSender
	svc    *application.NotificationService
}

func newNotificationEnv(t *testing.T) *notificationEnv {
	t.Helper()
	clock := testfixtures.NewClock(time.Time{})
	factory := testfixtures.NewServiceFactory(testfixtures.WithClock(clock))
	env := &notificationEnv{
		store:  testfixtures.NewMemoryStore(t),
		clock:  clock,
		queue:  testfixtures.NewRecordingQueue(),
		sender: &testfixtures.RecordingSender{},
	}
	env.svc = factory.NewNotificationService(env.store, env.queue, env.sender)
	return env
}

func (e *notificationEnv) drain(t *testing.T) []error {
	t.Helper()
	return e.queue.Drain(context.Background(), jobs.NotificationDeliver, e.svc.Deliver)
}

func TestUnscheduledNotificationSentAfterOneCycleWithoutDevices(t *testing.T) {
	t.Parallel()
	env := newNotificationEnv(t)
	ctx := context.Background()

	notification := testfixtures.NewNotification(testfixtures.WithScheduledAt(nil))
	testfixtures.Seed(t, env.store, notification)

	report, err := env.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Enqueued)
	assert.Empty(t, env.drain(t))

	stored, err := env.store.GetNotification(ctx, notification.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsSent)
	require.NotNil(t, stored.SentAt)
	assert.Empty(t, env.sender.Calls())

	report, err = env.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Examined)
}

func TestCreateNotificationEnqueuesWhenDue(t *testing.T) {
	t.Parallel()
	env := newNotificationEnv(t)
	ctx := context.Background()
	testfixtures.Seed(t, env.store,
		testfixtures.DeviceToken(testfixtures.Patient.UserID, "token-a"),
		testfixtures.DeviceToken(testfixtures.Patient.UserID, "token-b"),
	)

	created, err := env.svc.Create(ctx, application.CreateNotificationParams{
		UserID:  testfixtures.Patient.UserID,
		Type:    "general",
		Title:   "Lab results",
		Message: "Your results are ready",
		Data:    json.RawMessage(`{"labId":"lab-1"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, application.NotificationGeneral, created.Type)
	require.NotNil(t, created.ScheduledAt)
	assert.True(t, created.ScheduledAt.Equal(env.clock.Now()))
	assert.False(t, created.IsSent)

	pending := env.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "notification:"+created.ID, pending[0].DedupeKey)
	assert.Equal(t, 3, pending[0].Policy.Attempts)

	assert.Empty(t, env.drain(t))
	calls := env.sender.Calls()
	require.Len(t, calls, 1)
	assert.ElementsMatch(t, []string{"token-a", "token-b"}, calls[0].Tokens)
	assert.Equal(t, "Lab results", calls[0].Message.Title)

	stored, err := env.store.GetNotification(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsSent)
	assert.JSONEq(t, `{"labId":"lab-1"}`, string(stored.Data))
}

func TestScheduledNotificationWaitsForSweep(t *testing.T) {
	t.Parallel()
	env := newNotificationEnv(t)
	ctx := context.Background()

	later := env.clock.Now().Add(time.Hour)
	created, err := env.svc.Create(ctx, application.CreateNotificationParams{
		UserID:      testfixtures.Patient.UserID,
		Title:       "Follow-up",
		Message:     "Book your follow-up",
		ScheduledAt: &later,
	})
	require.NoError(t, err)
	assert.Empty(t, env.queue.Pending())

	report, err := env.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Enqueued)

	env.clock.Advance(time.Hour)
	report, err = env.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Enqueued)
	assert.Empty(t, env.drain(t))

	stored, err := env.store.GetNotification(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsSent)
}

func TestCreateNotificationSurvivesEnqueueFailure(t *testing.T) {
	t.Parallel()
	env := newNotificationEnv(t)
	ctx := context.Background()
	env.queue.Err = errors.New("queue down")

	created, err := env.svc.Create(ctx, application.CreateNotificationParams{
		UserID:  testfixtures.Patient.UserID,
		Title:   "Hello",
		Message: "World",
	})
	require.NoError(t, err)

	env.queue.Err = nil
	report, err := env.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Enqueued)

	pending := env.queue.Pending()
	require.Len(t, pending, 1)
	assert.JSONEq(t, `{"notificationId":"`+created.ID+`"}`, string(pending[0].Job.Payload))
}

func TestCreateNotificationValidation(t *testing.T) {
	t.Parallel()
	env := newNotificationEnv(t)

	_, err := env.svc.Create(context.Background(), application.CreateNotificationParams{Type: "UNKNOWN"})
	var vErr *application.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors, "userId")
	assert.Contains(t, vErr.FieldErrors, "title")
	assert.Contains(t, vErr.FieldErrors, "message")
}

func TestHandleConsultationEventNotifiesParticipants(t *testing.T) {
	t.Parallel()
	env := newNotificationEnv(t)
	ctx := context.Background()

	fixture := testfixtures.NewConsultationFixture()
	event := application.ConsultationEvent{
		Type:         application.EventConsultationStarted,
		Consultation: fixture.Consultation,
		ChatRoomID:   fixture.Room.ID,
		OccurredAt:   env.clock.Now(),
	}
	require.NoError(t, env.svc.HandleConsultationEvent(ctx, event))

	patientNotes, err := env.store.ListNotifications(ctx, testfixtures.Patient.UserID, persistence.NotificationFilter{})
	require.NoError(t, err)
	require.Len(t, patientNotes, 1)
	note := patientNotes[0]
	assert.Equal(t, application.NotificationConsultationStarted, note.Type)
	assert.Equal(t, "Consultation started", note.Title)
	assert.Equal(t, "Your video consultation has started. Join the chat room to talk with your doctor.", note.Message)

	var data map[string]string
	require.NoError(t, json.Unmarshal(note.Data, &data))
	assert.Equal(t, fixture.Consultation.ID, data["consultationId"])
	assert.Equal(t, fixture.Room.ID, data["chatRoomId"])

	doctorNotes, err := env.store.ListNotifications(ctx, testfixtures.Doctor.UserID, persistence.NotificationFilter{})
	require.NoError(t, err)
	require.Len(t, doctorNotes, 1)
	assert.Contains(t, doctorNotes[0].Message, "talk with your patient")

	assert.Len(t, env.queue.Pending(), 2)
}

func TestEventBusDrivesNotifications(t *testing.T) {
	t.Parallel()
	env := newNotificationEnv(t)
	ctx := context.Background()

	bus := application.NewEventBus(nil)
	bus.Subscribe(env.svc.HandleConsultationEvent)
	factory := testfixtures.NewServiceFactory(testfixtures.WithClock(testfixtures.NewClock(morning)))
	consultations := factory.NewConsultationService(env.store, bus)

	_, err := consultations.Book(ctx, application.BookConsultationParams{
		Principal: testfixtures.Patient,
		Input: application.ConsultationInput{
			DoctorID:    testfixtures.Doctor.UserID,
			Type:        "chat",
			ScheduledAt: morning.Add(time.Hour),
			Duration:    20,
		},
	})
	require.NoError(t, err)

	count, err := env.svc.UnreadCount(ctx, testfixtures.Doctor)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	notes, err := env.svc.List(ctx, application.ListNotificationsParams{Principal: testfixtures.Patient})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Your chat consultation is scheduled for 2024-01-02 10:00 UTC.", notes[0].Message)
}

func TestNotificationDeliverTransportFailureIsRetried(t *testing.T) {
	t.Parallel()
	env := newNotificationEnv(t)
	ctx := context.Background()
	env.sender.Err = errors.New("gateway unavailable")

	notification := testfixtures.NewNotification()
	testfixtures.Seed(t, env.store, notification, testfixtures.DeviceToken(notification.UserID, "token-a"))

	_, err := env.svc.Sweep(ctx)
	require.NoError(t, err)
	errs := env.drain(t)
	require.Len(t, errs, 1)
	var transient *application.TransientDeliveryError
	assert.ErrorAs(t, errs[0], &transient)
	assert.False(t, jobs.IsPermanent(errs[0]))

	stored, err := env.store.GetNotification(ctx, notification.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsSent)

	env.sender.Err = nil
	_, err = env.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, env.drain(t))
	stored, err = env.store.GetNotification(ctx, notification.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsSent)
	assert.Len(t, env.sender.Calls(), 2)
}

func TestNotificationDeliverSkipsSentAndMissing(t *testing.T) {
	t.Parallel()
	env := newNotificationEnv(t)
	ctx := context.Background()

	sent := testfixtures.NewNotification(testfixtures.WithSent(env.clock.Now()))
	testfixtures.Seed(t, env.store, sent, testfixtures.DeviceToken(sent.UserID, "token-a"))

	payload, err := json.Marshal(map[string]string{"notificationId": sent.ID})
	require.NoError(t, err)
	require.NoError(t, env.svc.Deliver(ctx, jobs.Job{Name: jobs.NotificationDeliver, Payload: payload}))

	payload, err = json.Marshal(map[string]string{"notificationId": "missing"})
	require.NoError(t, err)
	require.NoError(t, env.svc.Deliver(ctx, jobs.Job{Name: jobs.NotificationDeliver, Payload: payload}))

	assert.Empty(t, env.sender.Calls())
	assert.True(t, jobs.IsPermanent(env.svc.Deliver(ctx, jobs.Job{Name: jobs.NotificationDeliver, Payload: []byte("nope")})))
}

func TestNotificationReadPath(t *testing.T) {
	t.Parallel()
	env := newNotificationEnv(t)
	ctx := context.Background()

	first := testfixtures.NewNotification(testfixtures.WithCreatedAt(env.clock.Now().Add(-2 * time.Minute)))
	second := testfixtures.NewNotification(testfixtures.WithCreatedAt(env.clock.Now().Add(-time.Minute)))
	foreign := testfixtures.NewNotification(testfixtures.WithRecipient(testfixtures.OtherPatient.UserID))
	testfixtures.Seed(t, env.store, first, second, foreign)

	list, err := env.svc.List(ctx, application.ListNotificationsParams{Principal: testfixtures.Patient})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")

	_, err = env.svc.Get(ctx, testfixtures.Patient, foreign.ID)
	assert.ErrorIs(t, err, application.ErrForbidden)
	_, err = env.svc.Get(ctx, testfixtures.Patient, "missing")
	assert.ErrorIs(t, err, application.ErrNotFound)

	read, err := env.svc.Get(ctx, testfixtures.Patient, first.ID)
	require.NoError(t, err)
	assert.True(t, read.IsRead)
	require.NotNil(t, read.ReadAt)

	count, err := env.svc.UnreadCount(ctx, testfixtures.Patient)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	unread, err := env.svc.List(ctx, application.ListNotificationsParams{Principal: testfixtures.Patient, UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, second.ID, unread[0].ID)

	assert.ErrorIs(t, env.svc.MarkRead(ctx, testfixtures.Patient, foreign.ID), application.ErrForbidden)
	require.NoError(t, env.svc.MarkRead(ctx, testfixtures.OtherPatient, foreign.ID))

	marked, err := env.svc.MarkAllRead(ctx, testfixtures.Patient)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)
	count, err = env.svc.UnreadCount(ctx, testfixtures.Patient)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDeviceTokenRegistration(t *testing.T) {
	t.Parallel()
	env := newNotificationEnv(t)
	ctx := context.Background()

	_, err := env.svc.RegisterDeviceToken(ctx, application.RegisterDeviceTokenParams{
		Principal: testfixtures.Patient,
		Token:     "token-a",
		Platform:  "blackberry",
	})
	var vErr *application.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors, "platform")

	token, err := env.svc.RegisterDeviceToken(ctx, application.RegisterDeviceTokenParams{
		Principal: testfixtures.Patient,
		Token:     " token-a ",
		Platform:  "Android",
	})
	require.NoError(t, err)
	assert.Equal(t, "token-a", token.Token)
	assert.Equal(t, "android", token.Platform)

	tokens, err := env.store.ListDeviceTokens(ctx, testfixtures.Patient.UserID)
	require.NoError(t, err)
	assert.Len(t, tokens, 1)

	assert.ErrorIs(t, env.svc.RemoveDeviceToken(ctx, testfixtures.OtherPatient, "token-a"), application.ErrNotFound)
	require.NoError(t, env.svc.RemoveDeviceToken(ctx, testfixtures.Patient, "token-a"))
	tokens, err = env.store.ListDeviceTokens(ctx, testfixtures.Patient.UserID)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}
