// Package storetest holds a behavioural suite every persistence.Store backend
// must pass.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/teleconsult/internal/persistence"
)

// Factory returns a fresh, migrated store. The suite closes it.
type Factory func(t *testing.T) persistence.Store

var seq atomic.Uint64

func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), seq.Add(1))
}

var base = time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)

func newConsultation(doctorID string, start time.Time, minutes int, status persistence.ConsultationStatus) (persistence.Consultation, persistence.ChatRoom) {
	c := persistence.Consultation{
		ID:          nextID("consultation"),
		PatientID:   nextID("patient"),
		DoctorID:    doctorID,
		Type:        "VIDEO",
		ScheduledAt: start,
		Duration:    minutes,
		EndAt:       start.Add(time.Duration(minutes) * time.Minute),
		Status:      status,
		CreatedAt:   base.Add(-time.Hour),
		UpdatedAt:   base.Add(-time.Hour),
	}
	room := persistence.ChatRoom{
		ID:             nextID("room"),
		ConsultationID: c.ID,
		PatientID:      c.PatientID,
		DoctorID:       c.DoctorID,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.CreatedAt,
	}
	return c, room
}

// setRoom moves c between PENDING/ONGOING/COMPLETED and flips its room.
func setRoom(t *testing.T, store persistence.Store, c persistence.Consultation, from, to persistence.ConsultationStatus, active bool) {
	t.Helper()
	applied, err := store.TransitionConsultation(context.Background(), persistence.Transition{
		ConsultationID: c.ID,
		From:           from,
		To:             to,
		RoomActive:     &active,
		At:             base.Add(time.Minute),
	})
	require.NoError(t, err)
	require.True(t, applied)
}

func newMessage(room persistence.ChatRoom, content string) persistence.Message {
	return persistence.Message{
		ID:         nextID("message"),
		ChatRoomID: room.ID,
		SenderType: persistence.SenderUser,
		SenderID:   room.PatientID,
		Content:    content,
		Type:       persistence.DefaultMessageType,
		CreatedAt:  base,
	}
}

// Run executes the suite against stores built by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	open := func(t *testing.T) persistence.Store {
		store := factory(t)
		t.Cleanup(func() { _ = store.Close() })
		return store
	}

	t.Run("consultation is created with an inactive room", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		doctor := nextID("doctor")
		c, room := newConsultation(doctor, base, 30, persistence.ConsultationPending)

		require.NoError(t, store.CreateConsultation(ctx, c, room))

		got, err := store.GetConsultation(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.DoctorID, got.DoctorID)
		assert.True(t, got.ScheduledAt.Equal(c.ScheduledAt))
		assert.True(t, got.EndAt.Equal(c.EndAt))
		assert.Equal(t, persistence.ConsultationPending, got.Status)

		storedRoom, err := store.GetChatRoomByConsultation(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, room.ID, storedRoom.ID)
		assert.False(t, storedRoom.IsActive)

		_, err = store.GetConsultation(ctx, "missing")
		assert.ErrorIs(t, err, persistence.ErrNotFound)
	})

	t.Run("overlapping consultation for the same doctor is rejected", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		doctor := nextID("doctor")

		first, firstRoom := newConsultation(doctor, base, 30, persistence.ConsultationPending)
		require.NoError(t, store.CreateConsultation(ctx, first, firstRoom))

		overlapping, overlappingRoom := newConsultation(doctor, base.Add(15*time.Minute), 30, persistence.ConsultationPending)
		err := store.CreateConsultation(ctx, overlapping, overlappingRoom)
		require.ErrorIs(t, err, persistence.ErrConflict)

		_, err = store.GetConsultation(ctx, overlapping.ID)
		assert.ErrorIs(t, err, persistence.ErrNotFound, "rejected booking must not leave a record")
		_, err = store.GetChatRoom(ctx, overlappingRoom.ID)
		assert.ErrorIs(t, err, persistence.ErrNotFound, "rejected booking must not leave a room")

		other, otherRoom := newConsultation(nextID("doctor"), base.Add(15*time.Minute), 30, persistence.ConsultationPending)
		assert.NoError(t, store.CreateConsultation(ctx, other, otherRoom))

		later, laterRoom := newConsultation(doctor, base.Add(31*time.Minute), 30, persistence.ConsultationPending)
		assert.NoError(t, store.CreateConsultation(ctx, later, laterRoom))
	})

	t.Run("cancelled consultations do not block the doctor", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		doctor := nextID("doctor")

		c, room := newConsultation(doctor, base, 30, persistence.ConsultationPending)
		require.NoError(t, store.CreateConsultation(ctx, c, room))
		applied, err := store.TransitionConsultation(ctx, persistence.Transition{
			ConsultationID: c.ID,
			From:           persistence.ConsultationPending,
			To:             persistence.ConsultationCancelled,
			At:             base,
		})
		require.NoError(t, err)
		require.True(t, applied)

		again, againRoom := newConsultation(doctor, base, 30, persistence.ConsultationPending)
		assert.NoError(t, store.CreateConsultation(ctx, again, againRoom))
	})

	t.Run("transitions are conditional and update the room", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		c, room := newConsultation(nextID("doctor"), base, 30, persistence.ConsultationPending)
		require.NoError(t, store.CreateConsultation(ctx, c, room))

		active := true
		start := persistence.Transition{
			ConsultationID: c.ID,
			From:           persistence.ConsultationPending,
			To:             persistence.ConsultationOngoing,
			RoomActive:     &active,
			At:             base.Add(time.Minute),
		}
		applied, err := store.TransitionConsultation(ctx, start)
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = store.TransitionConsultation(ctx, start)
		require.NoError(t, err)
		assert.False(t, applied, "second transition from a stale status must not apply")

		got, err := store.GetConsultation(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, persistence.ConsultationOngoing, got.Status)

		storedRoom, err := store.GetChatRoom(ctx, room.ID)
		require.NoError(t, err)
		assert.True(t, storedRoom.IsActive)

		_, err = store.TransitionConsultation(ctx, persistence.Transition{
			ConsultationID: "missing",
			From:           persistence.ConsultationPending,
			To:             persistence.ConsultationOngoing,
			At:             base,
		})
		assert.ErrorIs(t, err, persistence.ErrNotFound)
	})

	t.Run("consultations are filtered", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		doctor := nextID("doctor")

		early, earlyRoom := newConsultation(doctor, base, 30, persistence.ConsultationPending)
		late, lateRoom := newConsultation(doctor, base.Add(2*time.Hour), 30, persistence.ConsultationPending)
		require.NoError(t, store.CreateConsultation(ctx, late, lateRoom))
		require.NoError(t, store.CreateConsultation(ctx, early, earlyRoom))

		all, err := store.ListConsultations(ctx, persistence.ConsultationFilter{DoctorID: doctor})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, early.ID, all[0].ID)

		cutoff := base.Add(time.Hour)
		due, err := store.ListConsultations(ctx, persistence.ConsultationFilter{
			Statuses:        []persistence.ConsultationStatus{persistence.ConsultationPending, persistence.ConsultationOngoing},
			ScheduledBefore: &cutoff,
			DoctorID:        doctor,
		})
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, early.ID, due[0].ID)

		mine, err := store.ListConsultations(ctx, persistence.ConsultationFilter{PatientID: late.PatientID})
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, late.ID, mine[0].ID)

		none, err := store.ListConsultations(ctx, persistence.ConsultationFilter{
			DoctorID: doctor,
			Statuses: []persistence.ConsultationStatus{persistence.ConsultationCompleted},
		})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("ensure chat room is idempotent", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		c, room := newConsultation(nextID("doctor"), base, 30, persistence.ConsultationPending)
		require.NoError(t, store.CreateConsultation(ctx, c, room))

		replacement := room
		replacement.ID = nextID("room")
		got, err := store.EnsureChatRoom(ctx, replacement)
		require.NoError(t, err)
		assert.Equal(t, room.ID, got.ID)
	})

	t.Run("messages keep insertion order", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		c, room := newConsultation(nextID("doctor"), base, 30, persistence.ConsultationPending)
		require.NoError(t, store.CreateConsultation(ctx, c, room))
		setRoom(t, store, c, persistence.ConsultationPending, persistence.ConsultationOngoing, true)

		var ids []string
		for i := 0; i < 5; i++ {
			m := persistence.Message{
				ID:         nextID("message"),
				ChatRoomID: room.ID,
				SenderType: persistence.SenderUser,
				SenderID:   c.PatientID,
				Content:    fmt.Sprintf("hello %d", i),
				Type:       persistence.DefaultMessageType,
				CreatedAt:  base.Add(time.Duration(i/2) * time.Second),
			}
			if i == 0 {
				m.Meta = json.RawMessage(`{"attachment":"x-ray.png"}`)
			}
			require.NoError(t, store.CreateMessage(ctx, m))
			ids = append(ids, m.ID)
		}

		history, err := store.ListMessages(ctx, room.ID, persistence.MessageFilter{})
		require.NoError(t, err)
		require.Len(t, history, 5)
		for i, m := range history {
			assert.Equal(t, ids[i], m.ID)
		}
		assert.JSONEq(t, `{"attachment":"x-ray.png"}`, string(history[0].Meta))

		recent, err := store.ListMessages(ctx, room.ID, persistence.MessageFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, ids[3], recent[0].ID)
		assert.Equal(t, ids[4], recent[1].ID)

		err = store.CreateMessage(ctx, persistence.Message{
			ID:         nextID("message"),
			ChatRoomID: "missing-room",
			SenderType: persistence.SenderUser,
			SenderID:   "someone",
			Content:    "orphan",
			Type:       persistence.DefaultMessageType,
			CreatedAt:  base,
		})
		assert.ErrorIs(t, err, persistence.ErrNotFound)
	})

	t.Run("messages require an active room", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		c, room := newConsultation(nextID("doctor"), base, 30, persistence.ConsultationPending)
		require.NoError(t, store.CreateConsultation(ctx, c, room))

		assert.ErrorIs(t, store.CreateMessage(ctx, newMessage(room, "too early")), persistence.ErrRoomInactive)

		setRoom(t, store, c, persistence.ConsultationPending, persistence.ConsultationOngoing, true)
		require.NoError(t, store.CreateMessage(ctx, newMessage(room, "during")))

		setRoom(t, store, c, persistence.ConsultationOngoing, persistence.ConsultationCompleted, false)
		assert.ErrorIs(t, store.CreateMessage(ctx, newMessage(room, "too late")), persistence.ErrRoomInactive)

		history, err := store.ListMessages(ctx, room.ID, persistence.MessageFilter{})
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "during", history[0].Content)
	})

	t.Run("reminder lifecycle", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		user := nextID("user")
		end := base.AddDate(0, 1, 0)

		reminder := persistence.Reminder{
			ID:         nextID("reminder"),
			UserID:     user,
			Title:      "Take medication",
			Message:    "Blood pressure pill",
			Type:       "MEDICATION",
			RepeatType: persistence.RepeatDaily,
			StartAt:    base,
			EndAt:      &end,
			IsActive:   true,
			CreatedAt:  base,
			UpdatedAt:  base,
		}
		inactive := reminder
		inactive.ID = nextID("reminder")
		inactive.IsActive = false
		inactive.EndAt = nil

		require.NoError(t, store.CreateReminder(ctx, reminder))
		require.NoError(t, store.CreateReminder(ctx, inactive))

		got, err := store.GetReminder(ctx, reminder.ID)
		require.NoError(t, err)
		require.NotNil(t, got.EndAt)
		assert.True(t, got.EndAt.Equal(end))
		assert.Nil(t, got.LastRunAt)

		mine, err := store.ListReminders(ctx, user)
		require.NoError(t, err)
		assert.Len(t, mine, 2)

		active, err := store.ListActiveReminders(ctx)
		require.NoError(t, err)
		found := false
		for _, r := range active {
			assert.True(t, r.IsActive)
			if r.ID == reminder.ID {
				found = true
			}
		}
		assert.True(t, found)

		ran := base.Add(time.Hour)
		require.NoError(t, store.MarkReminderRun(ctx, reminder.ID, ran))
		got, err = store.GetReminder(ctx, reminder.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastRunAt)
		assert.True(t, got.LastRunAt.Equal(ran))

		got.Title = "Take medication twice"
		got.RepeatType = persistence.RepeatWeekly
		require.NoError(t, store.UpdateReminder(ctx, got))
		updated, err := store.GetReminder(ctx, reminder.ID)
		require.NoError(t, err)
		assert.Equal(t, "Take medication twice", updated.Title)
		assert.Equal(t, persistence.RepeatWeekly, updated.RepeatType)

		require.NoError(t, store.DeleteReminder(ctx, reminder.ID))
		_, err = store.GetReminder(ctx, reminder.ID)
		assert.ErrorIs(t, err, persistence.ErrNotFound)
		assert.ErrorIs(t, store.DeleteReminder(ctx, reminder.ID), persistence.ErrNotFound)
		assert.ErrorIs(t, store.MarkReminderRun(ctx, reminder.ID, ran), persistence.ErrNotFound)
	})

	t.Run("notification delivery and read tracking", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		user := nextID("user")
		past := base.Add(-time.Minute)
		future := base.Add(time.Hour)

		mk := func(scheduled *time.Time, offset time.Duration) persistence.Notification {
			return persistence.Notification{
				ID:          nextID("notification"),
				UserID:      user,
				Type:        "CONSULTATION_STARTED",
				Title:       "Consultation started",
				Message:     "Join now",
				Data:        json.RawMessage(`{"consultationId":"c-1"}`),
				ScheduledAt: scheduled,
				CreatedAt:   base.Add(-time.Hour + offset),
			}
		}
		unscheduled := mk(nil, 0)
		due := mk(&past, time.Second)
		later := mk(&future, 2*time.Second)
		for _, n := range []persistence.Notification{unscheduled, due, later} {
			require.NoError(t, store.CreateNotification(ctx, n))
		}

		pending, err := store.ListDueNotifications(ctx, base)
		require.NoError(t, err)
		pendingIDs := map[string]bool{}
		for _, n := range pending {
			pendingIDs[n.ID] = true
		}
		assert.True(t, pendingIDs[unscheduled.ID])
		assert.True(t, pendingIDs[due.ID])
		assert.False(t, pendingIDs[later.ID])

		applied, err := store.MarkNotificationSent(ctx, due.ID, base)
		require.NoError(t, err)
		assert.True(t, applied)
		applied, err = store.MarkNotificationSent(ctx, due.ID, base.Add(time.Second))
		require.NoError(t, err)
		assert.False(t, applied)
		_, err = store.MarkNotificationSent(ctx, "missing", base)
		assert.ErrorIs(t, err, persistence.ErrNotFound)

		sent, err := store.GetNotification(ctx, due.ID)
		require.NoError(t, err)
		assert.True(t, sent.IsSent)
		require.NotNil(t, sent.SentAt)
		assert.True(t, sent.SentAt.Equal(base))

		count, err := store.CountUnreadNotifications(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		require.NoError(t, store.MarkNotificationRead(ctx, later.ID, base))
		require.NoError(t, store.MarkNotificationRead(ctx, later.ID, base.Add(time.Hour)))
		read, err := store.GetNotification(ctx, later.ID)
		require.NoError(t, err)
		require.NotNil(t, read.ReadAt)
		assert.True(t, read.ReadAt.Equal(base), "second read must keep the first read time")
		assert.ErrorIs(t, store.MarkNotificationRead(ctx, "missing", base), persistence.ErrNotFound)

		unread, err := store.ListNotifications(ctx, user, persistence.NotificationFilter{UnreadOnly: true})
		require.NoError(t, err)
		assert.Len(t, unread, 2)

		all, err := store.ListNotifications(ctx, user, persistence.NotificationFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, later.ID, all[0].ID, "newest first")

		marked, err := store.MarkAllNotificationsRead(ctx, user, base)
		require.NoError(t, err)
		assert.Equal(t, 2, marked)
		count, err = store.CountUnreadNotifications(ctx, user)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("device tokens", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		user := nextID("user")
		other := nextID("user")
		token := nextID("token")

		require.NoError(t, store.UpsertDeviceToken(ctx, persistence.DeviceToken{UserID: user, Token: token, Platform: "ios", CreatedAt: base}))
		require.NoError(t, store.UpsertDeviceToken(ctx, persistence.DeviceToken{UserID: user, Token: nextID("token"), Platform: "android", CreatedAt: base.Add(time.Second)}))
		require.NoError(t, store.UpsertDeviceToken(ctx, persistence.DeviceToken{UserID: user, Token: token, Platform: "ios", CreatedAt: base.Add(time.Hour)}))

		tokens, err := store.ListDeviceTokens(ctx, user)
		require.NoError(t, err)
		require.Len(t, tokens, 2)
		assert.Equal(t, token, tokens[0].Token)
		assert.True(t, tokens[0].CreatedAt.Equal(base))

		require.NoError(t, store.UpsertDeviceToken(ctx, persistence.DeviceToken{UserID: other, Token: token, Platform: "ios", CreatedAt: base.Add(2 * time.Hour)}))
		tokens, err = store.ListDeviceTokens(ctx, user)
		require.NoError(t, err)
		assert.Len(t, tokens, 1)

		assert.ErrorIs(t, store.DeleteDeviceToken(ctx, user, token), persistence.ErrNotFound)
		require.NoError(t, store.DeleteDeviceToken(ctx, other, token))
		tokens, err = store.ListDeviceTokens(ctx, other)
		require.NoError(t, err)
		assert.Empty(t, tokens)
	})
}
