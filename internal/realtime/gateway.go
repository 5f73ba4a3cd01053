// Package realtime serves the chat websocket endpoint. Each connection is
// authenticated once at upgrade time and then exchanges JSON frames:
// join-room, leave-room, send-message and typing from the client; new-message,
// typing, joined, left and error from the server.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/teleconsult/internal/application"
	"github.com/example/teleconsult/internal/logging"
)

const principalLocal = "principal"

// Authenticator resolves a bearer token into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (application.Principal, error)
}

// Options configures a Gateway.
type Options struct {
	Broker Broker
	Auth   Authenticator
	Logger *slog.Logger
	NewID  func() string

	// MaxMessageSize caps a single client frame in bytes. Zero means 8 KiB.
	MaxMessageSize int64
	// PongWait is how long a connection may stay silent. Zero means 60s.
	PongWait time.Duration
	// PingPeriod must be shorter than PongWait. Zero means 90% of PongWait.
	PingPeriod time.Duration
	// WriteWait bounds a single write. Zero means 10s.
	WriteWait time.Duration
	// Buffer is the number of room events queued per connection. Zero means 64.
	Buffer int
}

// Gateway upgrades HTTP requests on /ws and bridges them to the chat broker.
type Gateway struct {
	opts   Options
	logger *slog.Logger
}

// NewGateway validates opts and fills in defaults.
func NewGateway(opts Options) (*Gateway, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("realtime: broker is required")
	}
	if opts.Auth == nil {
		return nil, fmt.Errorf("realtime: authenticator is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 8 << 10
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.PingPeriod <= 0 || opts.PingPeriod >= opts.PongWait {
		opts.PingPeriod = opts.PongWait * 9 / 10
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	return &Gateway{opts: opts, logger: opts.Logger.With("component", "realtime")}, nil
}

// Register mounts GET /ws on app.
func (g *Gateway) Register(app *fiber.App) {
	app.Use("/ws", g.authorize)
	app.Get("/ws", websocket.New(g.serve))
}

// authorize rejects non-upgrade requests and requests without a valid token.
// The token is read from the token query parameter or the Authorization header.
func (g *Gateway) authorize(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		if scheme, rest, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
			token = strings.TrimSpace(rest)
		}
	}
	if token == "" {
		return fiber.ErrUnauthorized
	}

	principal, err := g.opts.Auth.Authenticate(c.UserContext(), token)
	if err != nil {
		if errors.Is(err, application.ErrUnauthorized) {
			return fiber.ErrUnauthorized
		}
		g.logger.ErrorContext(c.UserContext(), "token verification failed", "error", err)
		return fiber.ErrInternalServerError
	}
	c.Locals(principalLocal, principal)
	return c.Next()
}

func (g *Gateway) serve(conn *websocket.Conn) {
	principal, ok := conn.Locals(principalLocal).(application.Principal)
	if !ok {
		_ = conn.Close()
		return
	}

	id := g.opts.NewID()
	logger := g.logger.With("connection_id", id, "user_id", principal.UserID)
	ctx, cancel := context.WithCancel(logging.Attach(context.Background(), logger))
	defer cancel()

	s := newSession(id, principal, g.opts.Broker, g.opts.Buffer, logger)
	logger.InfoContext(ctx, "websocket connected")

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.writePump(ctx, conn, s, done)
	}()

	g.readPump(ctx, conn, s)

	close(done)
	s.close(ctx)
	wg.Wait()
	_ = conn.Close()
	logger.InfoContext(ctx, "websocket disconnected")
}

func (g *Gateway) readPump(ctx context.Context, conn *websocket.Conn, s *session) {
	conn.SetReadLimit(g.opts.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.WarnContext(ctx, "websocket read failed", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(g.opts.PongWait))
		s.handleRaw(ctx, raw)
	}
}

// writePump is the only writer of conn. It exits when done is closed, on a
// write failure, or when the room buffer overflowed.
func (g *Gateway) writePump(ctx context.Context, conn *websocket.Conn, s *session, done <-chan struct{}) {
	ticker := time.NewTicker(g.opts.PingPeriod)
	defer ticker.Stop()

	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(g.opts.WriteWait))
		if err := conn.WriteJSON(v); err != nil {
			s.logger.DebugContext(ctx, "websocket write failed", "error", err)
			return false
		}
		return true
	}
	closeWith := func(code int, text string) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(g.opts.WriteWait))
		_ = conn.Close()
	}

	events := s.sub.Events()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				closeWith(websocket.CloseNormalClosure, "")
				return
			}
			if !write(ev) {
				_ = conn.Close()
				return
			}
			if s.sub.Overflowed() {
				s.logger.WarnContext(ctx, "disconnecting slow websocket client")
				closeWith(websocket.ClosePolicyViolation, "too slow")
				return
			}
		case frame := <-s.direct:
			if !write(frame) {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if s.sub.Overflowed() {
				s.logger.WarnContext(ctx, "disconnecting slow websocket client")
				closeWith(websocket.ClosePolicyViolation, "too slow")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(g.opts.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
