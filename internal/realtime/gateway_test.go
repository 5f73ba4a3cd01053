package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	fastws "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/teleconsult/internal/application"
	"github.com/example/teleconsult/internal/chat"
	"github.com/example/teleconsult/internal/persistence"
	"github.com/example/teleconsult/internal/testfixtures"
)

type gatewayEnv struct {
	addr  string
	auth  *application.AuthService
	live  testfixtures.ConsultationFixture
	idle  testfixtures.ConsultationFixture
	store persistence.Store
}

func newGatewayEnv(t *testing.T) *gatewayEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := testfixtures.NewMemoryStore(t)
	live := testfixtures.NewConsultationFixture(testfixtures.WithStatus(persistence.ConsultationOngoing))
	idle := testfixtures.NewConsultationFixture(testfixtures.WithSchedule(testfixtures.ReferenceTime().Add(4*time.Hour), 30))
	testfixtures.Seed(t, store, live, idle)

	broker, err := chat.NewBroker(chat.Options{Store: store, Logger: logger})
	require.NoError(t, err)
	require.NoError(t, broker.Start(context.Background()))
	t.Cleanup(func() { _ = broker.Stop() })

	auth := application.NewAuthService([]byte("realtime-secret"), nil)
	gateway, err := NewGateway(Options{Broker: broker, Auth: auth, Logger: logger, PongWait: 5 * time.Second})
	require.NoError(t, err)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	gateway.Register(app)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	return &gatewayEnv{addr: ln.Addr().String(), auth: auth, live: live, idle: idle, store: store}
}

func (e *gatewayEnv) dial(t *testing.T, principal application.Principal) *fastws.Conn {
	t.Helper()
	token, err := e.auth.IssueToken(principal, time.Hour)
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := fastws.DefaultDialer.Dial("ws://"+e.addr+"/ws", header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *fastws.Conn, frame clientFrame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

// next reads frames until one of type want arrives.
func next(t *testing.T, conn *fastws.Conn, want string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var frame map[string]any
		require.NoError(t, json.Unmarshal(raw, &frame))
		if frame["type"] == want {
			return frame
		}
	}
}

func TestGatewayRejectsMissingToken(t *testing.T) {
	t.Parallel()
	env := newGatewayEnv(t)

	_, resp, err := fastws.DefaultDialer.Dial("ws://"+env.addr+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = fastws.DefaultDialer.Dial("ws://"+env.addr+"/ws?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGatewayBroadcastsToRoomMembers(t *testing.T) {
	t.Parallel()
	env := newGatewayEnv(t)
	roomID := env.live.Room.ID

	patientConn := env.dial(t, testfixtures.Patient)
	doctorConn := env.dial(t, testfixtures.Doctor)

	send(t, patientConn, clientFrame{Type: EventJoinRoom, RoomID: roomID})
	joined := next(t, patientConn, string(chat.EventJoined))
	assert.Equal(t, testfixtures.Patient.UserID, joined["participantId"])

	send(t, doctorConn, clientFrame{Type: EventJoinRoom, RoomID: roomID})
	next(t, doctorConn, string(chat.EventJoined))
	next(t, patientConn, string(chat.EventJoined))

	send(t, patientConn, clientFrame{Type: EventSendMessage, RoomID: roomID, Content: "I have a headache"})
	for _, conn := range []*fastws.Conn{patientConn, doctorConn} {
		frame := next(t, conn, string(chat.EventNewMessage))
		message := frame["message"].(map[string]any)
		assert.Equal(t, "I have a headache", message["content"])
		assert.Equal(t, "USER", message["senderType"])
	}

	send(t, patientConn, clientFrame{Type: EventSendMessage, RoomID: env.idle.Room.ID, Content: "too early"})
	failure := next(t, patientConn, EventError)
	assert.Equal(t, "ROOM_INACTIVE", failure["code"])

	// The doctor's next frame is the typing event; the error above went to the patient only.
	send(t, patientConn, clientFrame{Type: EventTyping, RoomID: roomID, IsTyping: true})
	require.NoError(t, doctorConn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var frame map[string]any
	require.NoError(t, doctorConn.ReadJSON(&frame))
	assert.Equal(t, string(chat.EventTyping), frame["type"])
	assert.Equal(t, true, frame["isTyping"])

	history, err := env.store.ListMessages(context.Background(), roomID, persistence.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, testfixtures.Patient.UserID, history[0].SenderID)
}

func TestGatewayAnnouncesDisconnect(t *testing.T) {
	t.Parallel()
	env := newGatewayEnv(t)
	roomID := env.live.Room.ID

	patientConn := env.dial(t, testfixtures.Patient)
	doctorConn := env.dial(t, testfixtures.Doctor)
	send(t, doctorConn, clientFrame{Type: EventJoinRoom, RoomID: roomID})
	next(t, doctorConn, string(chat.EventJoined))
	send(t, patientConn, clientFrame{Type: EventJoinRoom, RoomID: roomID})
	next(t, doctorConn, string(chat.EventJoined))

	require.NoError(t, patientConn.Close())
	left := next(t, doctorConn, string(chat.EventLeft))
	assert.Equal(t, testfixtures.Patient.UserID, left["participantId"])
}
