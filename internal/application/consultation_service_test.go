package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/teleconsult/internal/application"
	"github.com/example/teleconsult/internal/persistence"
	"github.com/example/teleconsult/internal/testfixtures"
)

var morning = time.Date(2024, time.January, 2, 9, 0, 0, 0, time.UTC)

type eventRecorder struct {
	mu     sync.Mutex
	events []application.ConsultationEvent
}

func (r *eventRecorder) handle(ctx context.Context, event application.ConsultationEvent) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *eventRecorder) types() []application.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]application.EventType, len(r.events))
	for i, event := range r.events {
		out[i] = event.Type
	}
	return out
}

func (r *eventRecorder) last() application.ConsultationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type consultationEnv struct {
	store  persistence.Store
	clock  *testfixtures.Clock
	svc    *application.ConsultationService
	events *eventRecorder
}

func newConsultationEnv(t *testing.T, store persistence.Store) *consultationEnv {
	t.Helper()
	clock := testfixtures.NewClock(morning)
	factory := testfixtures.NewServiceFactory(testfixtures.WithClock(clock))
	recorder := &eventRecorder{}
	bus := application.NewEventBus(nil)
	bus.Subscribe(recorder.handle)
	return &consultationEnv{
		store:  store,
		clock:  clock,
		svc:    factory.NewConsultationService(store, bus),
		events: recorder,
	}
}

func (e *consultationEnv) book(t *testing.T, principal application.Principal, doctorID string, start time.Time, minutes int) (persistence.Consultation, error) {
	t.Helper()
	return e.svc.Book(context.Background(), application.BookConsultationParams{
		Principal: principal,
		Input: application.ConsultationInput{
			DoctorID:    doctorID,
			Type:        "video",
			ScheduledAt: start,
			Duration:    minutes,
		},
	})
}

func TestBookConsultationCreatesInactiveRoom(t *testing.T) {
	t.Parallel()
	env := newConsultationEnv(t, testfixtures.NewMemoryStore(t))
	ctx := context.Background()

	consultation, err := env.book(t, testfixtures.Patient, testfixtures.Doctor.UserID, env.clock.Today(10, 0), 30)
	require.NoError(t, err)

	assert.Equal(t, persistence.ConsultationPending, consultation.Status)
	assert.Equal(t, testfixtures.Patient.UserID, consultation.PatientID)
	assert.Equal(t, "VIDEO", consultation.Type)
	assert.True(t, consultation.EndAt.Equal(consultation.ScheduledAt.Add(30*time.Minute)))

	room, err := env.store.GetChatRoomByConsultation(ctx, consultation.ID)
	require.NoError(t, err)
	assert.False(t, room.IsActive)
	assert.Equal(t, consultation.DoctorID, room.DoctorID)

	require.Equal(t, []application.EventType{application.EventConsultationBooked}, env.events.types())
	assert.Equal(t, room.ID, env.events.last().ChatRoomID)
}

func TestBookConsultationDefaultsToRandomIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testfixtures.NewMemoryStore(t)
	svc := application.NewConsultationService(store, nil, nil, func() time.Time { return morning })

	seen := make(map[string]bool)
	for i, doctorID := range []string{testfixtures.Doctor.UserID, testfixtures.OtherDoctor.UserID} {
		consultation, err := svc.Book(ctx, application.BookConsultationParams{
			Principal: testfixtures.Patient,
			Input: application.ConsultationInput{
				DoctorID:    doctorID,
				Type:        "video",
				ScheduledAt: morning.Add(time.Duration(i+1) * time.Hour),
				Duration:    30,
			},
		})
		require.NoError(t, err)
		room, err := store.GetChatRoomByConsultation(ctx, consultation.ID)
		require.NoError(t, err)

		for _, id := range []string{consultation.ID, room.ID} {
			_, err := uuid.Parse(id)
			assert.NoError(t, err, "id %q", id)
			assert.False(t, seen[id], "id %q reused", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, 4)
}

func TestBookConsultationRejectsOverlap(t *testing.T) {
	t.Parallel()
	env := newConsultationEnv(t, testfixtures.NewMemoryStore(t))

	first, err := env.book(t, testfixtures.Patient, testfixtures.Doctor.UserID, env.clock.Today(10, 0), 30)
	require.NoError(t, err)

	_, err = env.book(t, testfixtures.OtherPatient, testfixtures.Doctor.UserID, env.clock.Today(10, 15), 30)
	require.Error(t, err)
	assert.True(t, errors.Is(err, application.ErrConflict))
	var conflict *application.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{first.ID}, conflict.ConsultationIDs)

	_, err = env.book(t, testfixtures.OtherPatient, testfixtures.Doctor.UserID, env.clock.Today(10, 30), 30)
	assert.ErrorIs(t, err, application.ErrConflict, "back-to-back slots share an instant")

	_, err = env.book(t, testfixtures.OtherPatient, testfixtures.OtherDoctor.UserID, env.clock.Today(10, 15), 30)
	assert.NoError(t, err, "another doctor is free")

	_, err = env.book(t, testfixtures.OtherPatient, testfixtures.Doctor.UserID, env.clock.Today(10, 31), 30)
	assert.NoError(t, err)

	all, err := env.store.ListConsultations(context.Background(), persistence.ConsultationFilter{DoctorID: testfixtures.Doctor.UserID})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestBookConsultationIgnoresCancelledSlots(t *testing.T) {
	t.Parallel()
	env := newConsultationEnv(t, testfixtures.NewMemoryStore(t))
	testfixtures.Seed(t, env.store, testfixtures.NewConsultationFixture(
		testfixtures.WithSchedule(env.clock.Today(10, 0), 60),
		testfixtures.WithStatus(persistence.ConsultationCancelled),
	))

	_, err := env.book(t, testfixtures.Patient, testfixtures.Doctor.UserID, env.clock.Today(10, 0), 30)
	assert.NoError(t, err)
}

func TestBookConsultationValidation(t *testing.T) {
	t.Parallel()
	env := newConsultationEnv(t, testfixtures.NewMemoryStore(t))

	cases := []struct {
		name    string
		doctor  string
		start   time.Time
		minutes int
		field   string
	}{
		{"zero duration", testfixtures.Doctor.UserID, env.clock.Today(10, 0), 0, "duration"},
		{"too long", testfixtures.Doctor.UserID, env.clock.Today(10, 0), application.MaxConsultationMinutes + 1, "duration"},
		{"missing doctor", "", env.clock.Today(10, 0), 30, "doctorId"},
		{"tomorrow", testfixtures.Doctor.UserID, env.clock.Today(10, 0).AddDate(0, 0, 1), 30, "scheduledAt"},
		{"two days ago", testfixtures.Doctor.UserID, env.clock.Today(10, 0).AddDate(0, 0, -2), 30, "scheduledAt"},
	}
	for _, tc := range cases {
		_, err := env.book(t, testfixtures.Patient, tc.doctor, tc.start, tc.minutes)
		var vErr *application.ValidationError
		if assert.ErrorAs(t, err, &vErr, tc.name) {
			assert.Contains(t, vErr.FieldErrors, tc.field, tc.name)
		}
	}

	_, err := env.book(t, testfixtures.Patient, testfixtures.Doctor.UserID, env.clock.Today(23, 0).AddDate(0, 0, -1), 30)
	assert.NoError(t, err, "yesterday is inside the booking window")
	assert.Len(t, env.events.types(), 1)
}

func TestBookConsultationAuthorization(t *testing.T) {
	t.Parallel()
	env := newConsultationEnv(t, testfixtures.NewMemoryStore(t))
	ctx := context.Background()

	_, err := env.book(t, testfixtures.Doctor, testfixtures.Doctor.UserID, env.clock.Today(10, 0), 30)
	assert.ErrorIs(t, err, application.ErrForbidden)

	_, err = env.svc.Book(ctx, application.BookConsultationParams{
		Principal: testfixtures.Patient,
		Input: application.ConsultationInput{
			PatientID:   testfixtures.OtherPatient.UserID,
			DoctorID:    testfixtures.Doctor.UserID,
			Type:        "chat",
			ScheduledAt: env.clock.Today(10, 0),
			Duration:    30,
		},
	})
	assert.ErrorIs(t, err, application.ErrForbidden)

	booked, err := env.svc.Book(ctx, application.BookConsultationParams{
		Principal: testfixtures.Admin,
		Input: application.ConsultationInput{
			PatientID:   testfixtures.OtherPatient.UserID,
			DoctorID:    testfixtures.Doctor.UserID,
			Type:        "chat",
			ScheduledAt: env.clock.Today(10, 0),
			Duration:    30,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, testfixtures.OtherPatient.UserID, booked.PatientID)
}

func TestConsultationSweepLifecycle(t *testing.T) {
	t.Parallel()

	for name, open := range sweepStores() {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			env := newConsultationEnv(t, open(t))
			ctx := context.Background()

			consultation, err := env.book(t, testfixtures.Patient, testfixtures.Doctor.UserID, env.clock.Now().Add(-time.Second), 30)
			require.NoError(t, err)

			report, err := env.svc.Sweep(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, report.Started)
			assert.Empty(t, report.Failures)

			stored, err := env.store.GetConsultation(ctx, consultation.ID)
			require.NoError(t, err)
			assert.Equal(t, persistence.ConsultationOngoing, stored.Status)
			room, err := env.store.GetChatRoomByConsultation(ctx, consultation.ID)
			require.NoError(t, err)
			assert.True(t, room.IsActive)

			report, err = env.svc.Sweep(ctx)
			require.NoError(t, err)
			assert.Zero(t, report.Started+report.Completed+report.Cancelled, "second sweep changes nothing")

			env.clock.Advance(30 * time.Minute)
			report, err = env.svc.Sweep(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, report.Completed)

			stored, err = env.store.GetConsultation(ctx, consultation.ID)
			require.NoError(t, err)
			assert.Equal(t, persistence.ConsultationCompleted, stored.Status)
			room, err = env.store.GetChatRoomByConsultation(ctx, consultation.ID)
			require.NoError(t, err)
			assert.False(t, room.IsActive)

			assert.Equal(t, []application.EventType{
				application.EventConsultationBooked,
				application.EventConsultationStarted,
				application.EventConsultationCompleted,
			}, env.events.types())
			assert.Equal(t, room.ID, env.events.last().ChatRoomID)
		})
	}
}

func TestConsultationSweepCancelsMissedConsultations(t *testing.T) {
	t.Parallel()
	env := newConsultationEnv(t, testfixtures.NewMemoryStore(t))
	ctx := context.Background()

	missed := testfixtures.NewConsultationFixture(testfixtures.WithSchedule(morning.Add(-2*time.Hour), 30))
	future := testfixtures.NewConsultationFixture(
		testfixtures.WithSchedule(morning.Add(2*time.Hour), 30),
		testfixtures.WithParticipants(testfixtures.Patient.UserID, testfixtures.OtherDoctor.UserID),
	)
	testfixtures.Seed(t, env.store, missed, future)

	report, err := env.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Examined, "future consultations are not loaded")
	assert.Equal(t, 1, report.Cancelled)

	stored, err := env.store.GetConsultation(ctx, missed.Consultation.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.ConsultationCancelled, stored.Status)
	assert.Equal(t, []application.EventType{application.EventConsultationCancelled}, env.events.types())
}

// failingTransitionStore rejects transitions of one consultation.
type failingTransitionStore struct {
	persistence.Store
	consultationID string
}

var errTransitionFailed = errors.New("transition failed")

func (s *failingTransitionStore) TransitionConsultation(ctx context.Context, transition persistence.Transition) (bool, error) {
	if transition.ConsultationID == s.consultationID {
		return false, errTransitionFailed
	}
	return s.Store.TransitionConsultation(ctx, transition)
}

func sweepStores() map[string]func(*testing.T) persistence.Store {
	return map[string]func(*testing.T) persistence.Store{
		"memory": func(t *testing.T) persistence.Store { return testfixtures.NewMemoryStore(t) },
		"sqlite": func(t *testing.T) persistence.Store { return testfixtures.NewSQLiteStore(t) },
	}
}

func TestConsultationSweepContinuesPastFailedItems(t *testing.T) {
	t.Parallel()

	for name, open := range sweepStores() {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := open(t)

			broken := testfixtures.NewConsultationFixture(testfixtures.WithSchedule(morning.Add(-time.Minute), 30))
			healthy := testfixtures.NewConsultationFixture(
				testfixtures.WithSchedule(morning.Add(-time.Minute), 30),
				testfixtures.WithParticipants(testfixtures.Patient.UserID, testfixtures.OtherDoctor.UserID),
			)
			testfixtures.Seed(t, store, broken, healthy)

			env := newConsultationEnv(t, &failingTransitionStore{Store: store, consultationID: broken.Consultation.ID})

			report, err := env.svc.Sweep(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, report.Examined)
			assert.Equal(t, 1, report.Started)
			require.Len(t, report.Failures, 1)
			assert.Equal(t, broken.Consultation.ID, report.Failures[0].ID)
			assert.ErrorIs(t, report.Failures[0].Err, errTransitionFailed)

			stored, err := store.GetConsultation(ctx, broken.Consultation.ID)
			require.NoError(t, err)
			assert.Equal(t, persistence.ConsultationPending, stored.Status)

			stored, err = store.GetConsultation(ctx, healthy.Consultation.ID)
			require.NoError(t, err)
			assert.Equal(t, persistence.ConsultationOngoing, stored.Status)
			room, err := store.GetChatRoomByConsultation(ctx, healthy.Consultation.ID)
			require.NoError(t, err)
			assert.True(t, room.IsActive)

			assert.Equal(t, []application.EventType{application.EventConsultationStarted}, env.events.types())
			assert.Equal(t, healthy.Consultation.ID, env.events.last().Consultation.ID)
		})
	}
}

func TestConsultationSweepCreatesMissingRoomOnStart(t *testing.T) {
	t.Parallel()

	for name, open := range sweepStores() {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := open(t)

			fixture := testfixtures.NewConsultationFixture(testfixtures.WithSchedule(morning.Add(-time.Minute), 30))
			testfixtures.Seed(t, store, fixture)
			testfixtures.DropChatRoom(t, store, fixture.Consultation.ID)
			_, err := store.GetChatRoomByConsultation(ctx, fixture.Consultation.ID)
			require.ErrorIs(t, err, persistence.ErrNotFound)

			env := newConsultationEnv(t, store)
			report, err := env.svc.Sweep(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, report.Started)
			assert.Empty(t, report.Failures)

			room, err := store.GetChatRoomByConsultation(ctx, fixture.Consultation.ID)
			require.NoError(t, err)
			assert.True(t, room.IsActive)
			assert.NotEqual(t, fixture.Room.ID, room.ID)
			assert.Equal(t, fixture.Consultation.PatientID, room.PatientID)
			assert.Equal(t, fixture.Consultation.DoctorID, room.DoctorID)

			stored, err := store.GetConsultation(ctx, fixture.Consultation.ID)
			require.NoError(t, err)
			assert.Equal(t, persistence.ConsultationOngoing, stored.Status)
			assert.Equal(t, room.ID, env.events.last().ChatRoomID)
		})
	}
}

func TestUpdateConsultationStatus(t *testing.T) {
	t.Parallel()
	env := newConsultationEnv(t, testfixtures.NewMemoryStore(t))
	ctx := context.Background()

	fixture := testfixtures.NewConsultationFixture(testfixtures.WithSchedule(env.clock.Today(10, 0), 30))
	testfixtures.Seed(t, env.store, fixture)
	id := fixture.Consultation.ID

	update := func(principal application.Principal, status persistence.ConsultationStatus) (persistence.Consultation, error) {
		return env.svc.UpdateStatus(ctx, application.UpdateConsultationStatusParams{
			Principal:      principal,
			ConsultationID: id,
			Status:         status,
		})
	}

	_, err := update(testfixtures.Patient, persistence.ConsultationOngoing)
	assert.ErrorIs(t, err, application.ErrForbidden)
	_, err = update(testfixtures.OtherDoctor, persistence.ConsultationOngoing)
	assert.ErrorIs(t, err, application.ErrForbidden)
	_, err = update(testfixtures.Doctor, persistence.ConsultationCompleted)
	assert.ErrorIs(t, err, application.ErrInvalidTransition)
	_, err = update(testfixtures.Doctor, persistence.ConsultationCancelled)
	assert.ErrorIs(t, err, application.ErrInvalidTransition)

	started, err := update(testfixtures.Doctor, persistence.ConsultationOngoing)
	require.NoError(t, err)
	assert.Equal(t, persistence.ConsultationOngoing, started.Status)
	room, err := env.store.GetChatRoom(ctx, fixture.Room.ID)
	require.NoError(t, err)
	assert.True(t, room.IsActive)

	_, err = update(testfixtures.Doctor, persistence.ConsultationOngoing)
	assert.ErrorIs(t, err, application.ErrInvalidTransition)

	completed, err := update(testfixtures.Doctor, persistence.ConsultationCompleted)
	require.NoError(t, err)
	assert.Equal(t, persistence.ConsultationCompleted, completed.Status)
	room, err = env.store.GetChatRoom(ctx, fixture.Room.ID)
	require.NoError(t, err)
	assert.False(t, room.IsActive)

	_, err = env.svc.UpdateStatus(ctx, application.UpdateConsultationStatusParams{
		Principal:      testfixtures.Doctor,
		ConsultationID: "missing",
		Status:         persistence.ConsultationOngoing,
	})
	assert.ErrorIs(t, err, application.ErrNotFound)
}

func TestConsultationReadPathIsScoped(t *testing.T) {
	t.Parallel()
	env := newConsultationEnv(t, testfixtures.NewMemoryStore(t))
	ctx := context.Background()

	mine := testfixtures.NewConsultationFixture(testfixtures.WithSchedule(env.clock.Today(10, 0), 30))
	theirs := testfixtures.NewConsultationFixture(
		testfixtures.WithSchedule(env.clock.Today(11, 0), 30),
		testfixtures.WithParticipants(testfixtures.OtherPatient.UserID, testfixtures.OtherDoctor.UserID),
	)
	testfixtures.Seed(t, env.store, mine, theirs)

	_, err := env.svc.Get(ctx, testfixtures.Patient, theirs.Consultation.ID)
	assert.ErrorIs(t, err, application.ErrForbidden)
	got, err := env.svc.Get(ctx, testfixtures.Doctor, mine.Consultation.ID)
	require.NoError(t, err)
	assert.Equal(t, mine.Consultation.ID, got.ID)
	_, err = env.svc.Get(ctx, testfixtures.Admin, theirs.Consultation.ID)
	assert.NoError(t, err)

	list, err := env.svc.List(ctx, application.ListConsultationsParams{
		Principal: testfixtures.Patient,
		PatientID: testfixtures.OtherPatient.UserID,
	})
	require.NoError(t, err)
	require.Len(t, list, 1, "patients only see their own consultations")
	assert.Equal(t, mine.Consultation.ID, list[0].ID)

	list, err = env.svc.List(ctx, application.ListConsultationsParams{Principal: testfixtures.Admin})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	room, err := env.svc.ChatRoomForConsultation(ctx, testfixtures.Patient, mine.Consultation.ID)
	require.NoError(t, err)
	assert.Equal(t, mine.Room.ID, room.ID)
	_, err = env.svc.ChatRoomForConsultation(ctx, testfixtures.Patient, theirs.Consultation.ID)
	assert.ErrorIs(t, err, application.ErrForbidden)
}
