package realtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/teleconsult/internal/application"
	"github.com/example/teleconsult/internal/chat"
	"github.com/example/teleconsult/internal/persistence"
)

type fakeBroker struct {
	mu      sync.Mutex
	rooms   map[string]persistence.ChatRoom
	sendErr error
	joins   []string
	leaves  []string
	sent    []chat.SendParams
	typing  []bool
	left    int
}

func (f *fakeBroker) Room(_ context.Context, roomID string) (persistence.ChatRoom, error) {
	room, ok := f.rooms[roomID]
	if !ok {
		return persistence.ChatRoom{}, chat.ErrRoomNotFound
	}
	return room, nil
}

func (f *fakeBroker) Join(_ context.Context, roomID, _ string, _ chat.Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, roomID)
}

func (f *fakeBroker) Leave(_ context.Context, roomID, _, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, roomID)
}

func (f *fakeBroker) LeaveAll(context.Context, string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left++
}

func (f *fakeBroker) Send(_ context.Context, params chat.SendParams) (persistence.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return persistence.Message{}, f.sendErr
	}
	f.sent = append(f.sent, params)
	return persistence.Message{ID: "m1", ChatRoomID: params.RoomID}, nil
}

func (f *fakeBroker) Typing(_ context.Context, _, _ string, isTyping bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, isTyping)
}

func newTestSession(principal application.Principal) (*session, *fakeBroker) {
	broker := &fakeBroker{rooms: map[string]persistence.ChatRoom{
		"room-1": {ID: "room-1", PatientID: "patient-1", DoctorID: "doctor-1", IsActive: true},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newSession("conn-1", principal, broker, 4, logger), broker
}

func drainErrors(s *session) []errorFrame {
	var frames []errorFrame
	for {
		select {
		case f := <-s.direct:
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

var (
	patient = application.Principal{UserID: "patient-1", Role: application.RoleUser}
	doctor  = application.Principal{UserID: "doctor-1", Role: application.RoleDoctor}
	admin   = application.Principal{UserID: "admin-1", Role: application.RoleAdmin}
	outside = application.Principal{UserID: "patient-9", Role: application.RoleUser}
)

func TestSessionJoinAndTyping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, broker := newTestSession(patient)

	s.handle(ctx, clientFrame{Type: EventTyping, RoomID: "room-1", IsTyping: true})
	frames := drainErrors(s)
	require.Len(t, frames, 1)
	assert.Equal(t, "NOT_JOINED", frames[0].Code)

	s.handle(ctx, clientFrame{Type: "Join-Room", RoomID: "room-1"})
	s.handle(ctx, clientFrame{Type: EventTyping, RoomID: "room-1", IsTyping: true})
	s.handle(ctx, clientFrame{Type: EventLeaveRoom, RoomID: "room-1"})
	s.handle(ctx, clientFrame{Type: EventTyping, RoomID: "room-1", IsTyping: false})

	assert.Equal(t, []string{"room-1"}, broker.joins)
	assert.Equal(t, []string{"room-1"}, broker.leaves)
	assert.Equal(t, []bool{true}, broker.typing)
	require.Len(t, drainErrors(s), 1)
}

func TestSessionJoinRequiresMembership(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, broker := newTestSession(outside)
	s.handle(ctx, clientFrame{Type: EventJoinRoom, RoomID: "room-1"})
	s.handle(ctx, clientFrame{Type: EventJoinRoom, RoomID: "room-404"})
	frames := drainErrors(s)
	require.Len(t, frames, 2)
	assert.Equal(t, "FORBIDDEN", frames[0].Code)
	assert.Equal(t, "ROOM_NOT_FOUND", frames[1].Code)
	assert.Empty(t, broker.joins)

	observer, broker := newTestSession(admin)
	observer.handle(ctx, clientFrame{Type: EventJoinRoom, RoomID: "room-1"})
	assert.Empty(t, drainErrors(observer))
	assert.Equal(t, []string{"room-1"}, broker.joins)

	observer.handle(ctx, clientFrame{Type: EventSendMessage, RoomID: "room-1", Content: "hi"})
	frames = drainErrors(observer)
	require.Len(t, frames, 1)
	assert.Equal(t, "FORBIDDEN", frames[0].Code)
}

func TestSessionSenderTypeFollowsRole(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, broker := newTestSession(doctor)
	s.handle(ctx, clientFrame{Type: EventSendMessage, RoomID: "room-1", Content: "take rest", MessageType: "text"})
	s.handle(ctx, clientFrame{Type: EventSendMessage, RoomID: "room-1", Content: "again", SenderType: "dr"})

	require.Len(t, broker.sent, 2)
	assert.Equal(t, "DOCTOR", broker.sent[0].SenderType)
	assert.Equal(t, "doctor-1", broker.sent[0].SenderID)
	assert.Equal(t, "text", broker.sent[0].Type)
	assert.Equal(t, "DOCTOR", broker.sent[1].SenderType)
	assert.Empty(t, drainErrors(s))
}

func TestSessionRejectsClaimedSenderTypeOfAnotherRole(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, tc := range []struct {
		principal application.Principal
		claimed   string
	}{
		{patient, "doctor"},
		{patient, "physician"},
		{doctor, "patient"},
		{patient, "nurse"},
	} {
		s, broker := newTestSession(tc.principal)
		s.handle(ctx, clientFrame{Type: EventSendMessage, RoomID: "room-1", Content: "hello", SenderType: tc.claimed})

		assert.Empty(t, broker.sent, "claimed %q as %s", tc.claimed, tc.principal.UserID)
		frames := drainErrors(s)
		require.Len(t, frames, 1)
		assert.Equal(t, "SENDER_TYPE_MISMATCH", frames[0].Code)
	}
}

func TestSessionReportsSendFailuresToSender(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, broker := newTestSession(patient)
	broker.sendErr = chat.ErrRoomInactive
	s.handle(ctx, clientFrame{Type: EventSendMessage, RoomID: "room-1", Content: "hello"})

	frames := drainErrors(s)
	require.Len(t, frames, 1)
	assert.Equal(t, EventError, frames[0].Type)
	assert.Equal(t, EventSendMessage, frames[0].Request)
	assert.Equal(t, "room-1", frames[0].RoomID)
	assert.Equal(t, "ROOM_INACTIVE", frames[0].Code)
}

func TestSessionRejectsBadFrames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestSession(patient)

	s.handleRaw(ctx, []byte("{not json"))
	s.handleRaw(ctx, []byte(`{"type":"dance","roomId":"room-1"}`))
	s.handleRaw(ctx, []byte(`{"type":"join-room"}`))

	frames := drainErrors(s)
	require.Len(t, frames, 3)
	assert.Equal(t, "BAD_REQUEST", frames[0].Code)
	assert.Equal(t, "UNKNOWN_EVENT", frames[1].Code)
	assert.Equal(t, "BAD_REQUEST", frames[2].Code)
}

func TestSessionErrorFramesNeverBlock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestSession(patient)

	for i := 0; i < cap(s.direct)+5; i++ {
		s.handle(ctx, clientFrame{Type: "dance", RoomID: "room-1"})
	}
	assert.Len(t, drainErrors(s), cap(s.direct))
}

func TestSessionCloseLeavesAllRooms(t *testing.T) {
	t.Parallel()
	s, broker := newTestSession(patient)

	s.close(context.Background())
	assert.Equal(t, 1, broker.left)
	_, open := <-s.sub.Events()
	assert.False(t, open)
}
