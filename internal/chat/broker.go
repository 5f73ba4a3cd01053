// Package chat implements the consultation chat room broker: membership of
// live connections, message persistence and ordered broadcast.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/teleconsult/internal/persistence"
)

var (
	// ErrRoomNotFound is returned when the chat room does not exist.
	ErrRoomNotFound = errors.New("chat: room not found")
	// ErrRoomInactive is returned when sending to a room whose consultation is not ongoing.
	ErrRoomInactive = errors.New("chat: room inactive")
	// ErrInvalidSenderType is returned in strict mode for an unknown sender type.
	ErrInvalidSenderType = errors.New("chat: invalid sender type")
	// ErrSenderTypeMismatch is returned when a caller claims a sender type
	// its role does not carry.
	ErrSenderTypeMismatch = errors.New("chat: sender type does not match caller role")
	// ErrEmptyMessage is returned when the message content is blank.
	ErrEmptyMessage = errors.New("chat: empty message")
	// ErrBrokerStopped is returned when the broker is not running.
	ErrBrokerStopped = errors.New("chat: broker stopped")
)

// Store is the persistence the broker needs.
type Store interface {
	GetChatRoom(ctx context.Context, id string) (persistence.ChatRoom, error)
	// CreateMessage must refuse rooms that are inactive at write time with
	// persistence.ErrRoomInactive.
	CreateMessage(ctx context.Context, message persistence.Message) error
	ListMessages(ctx context.Context, chatRoomID string, filter persistence.MessageFilter) ([]persistence.Message, error)
}

// Options configures a Broker.
type Options struct {
	Store  Store
	Fanout Fanout
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
	// StrictSenderType rejects unknown sender types instead of defaulting to USER.
	StrictSenderType bool
	// MaxHistory caps History results. Zero means 100.
	MaxHistory int
}

// SendParams describes a message to post.
type SendParams struct {
	RoomID     string
	SenderType string
	SenderID   string
	Content    string
	Type       string
	Meta       json.RawMessage
}

// Broker tracks room membership and serialises send per room so broadcast
// order equals persistence order.
type Broker struct {
	store      Store
	fanout     Fanout
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
	strict     bool
	maxHistory int

	mu      sync.RWMutex
	rooms   map[string]map[string]Subscriber
	running bool

	sendLocks [sendLockStripes]sync.Mutex
}

// sendLockStripes bounds the per-room send locks. Rooms sharing a stripe
// only serialise each other's sends.
const sendLockStripes = 64

// NewBroker constructs a stopped broker.
func NewBroker(opts Options) (*Broker, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("chat: store is required")
	}
	if opts.Fanout == nil {
		opts.Fanout = NewLocalFanout()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 100
	}
	return &Broker{
		store:      opts.Store,
		fanout:     opts.Fanout,
		logger:     opts.Logger.With("component", "chat.broker"),
		now:        opts.Now,
		newID:      opts.NewID,
		strict:     opts.StrictSenderType,
		maxHistory: opts.MaxHistory,
		rooms:      make(map[string]map[string]Subscriber),
	}, nil
}

// Start connects the broker to its fanout.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}
	if err := b.fanout.Start(ctx, b.deliverLocal); err != nil {
		return err
	}
	b.running = true
	b.logger.InfoContext(ctx, "chat broker started")
	return nil
}

// Stop disconnects from the fanout and forgets every subscriber.
func (b *Broker) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.rooms = make(map[string]map[string]Subscriber)
	b.mu.Unlock()

	err := b.fanout.Close()
	b.logger.Info("chat broker stopped")
	return err
}

// Join adds sub to roomID and announces it to the room.
func (b *Broker) Join(ctx context.Context, roomID, participantID string, sub Subscriber) {
	b.mu.Lock()
	members, ok := b.rooms[roomID]
	if !ok {
		members = make(map[string]Subscriber)
		b.rooms[roomID] = members
	}
	members[sub.ID()] = sub
	b.mu.Unlock()

	b.publish(ctx, Event{Type: EventJoined, RoomID: roomID, ParticipantID: participantID})
}

// Leave removes a subscriber from roomID.
func (b *Broker) Leave(ctx context.Context, roomID, participantID, subscriberID string) {
	if b.remove(roomID, subscriberID) {
		b.publish(ctx, Event{Type: EventLeft, RoomID: roomID, ParticipantID: participantID})
	}
}

// LeaveAll removes a subscriber from every room it joined.
func (b *Broker) LeaveAll(ctx context.Context, participantID, subscriberID string) {
	b.mu.RLock()
	var joined []string
	for roomID, members := range b.rooms {
		if _, ok := members[subscriberID]; ok {
			joined = append(joined, roomID)
		}
	}
	b.mu.RUnlock()

	for _, roomID := range joined {
		b.Leave(ctx, roomID, participantID, subscriberID)
	}
}

func (b *Broker) remove(roomID, subscriberID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	members, ok := b.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := members[subscriberID]; !ok {
		return false
	}
	delete(members, subscriberID)
	if len(members) == 0 {
		delete(b.rooms, roomID)
	}
	return true
}

// Members returns the number of local subscribers in roomID.
func (b *Broker) Members(roomID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[roomID])
}

// Room looks up a chat room.
func (b *Broker) Room(ctx context.Context, roomID string) (persistence.ChatRoom, error) {
	room, err := b.store.GetChatRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return persistence.ChatRoom{}, ErrRoomNotFound
		}
		return persistence.ChatRoom{}, err
	}
	return room, nil
}

// Send persists a message and broadcasts it to the room.
func (b *Broker) Send(ctx context.Context, params SendParams) (message persistence.Message, err error) {
	logger := b.logger.With("room_id", params.RoomID, "sender_id", params.SenderID)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "failed to send message", "error", err)
			return
		}
		logger.DebugContext(ctx, "message sent", "message_id", message.ID)
	}()

	room, err := b.Room(ctx, params.RoomID)
	if err != nil {
		return persistence.Message{}, err
	}
	if !room.IsActive {
		return persistence.Message{}, ErrRoomInactive
	}
	senderType, err := NormalizeSenderType(params.SenderType, b.strict)
	if err != nil {
		return persistence.Message{}, err
	}
	content := strings.TrimSpace(params.Content)
	if content == "" {
		return persistence.Message{}, ErrEmptyMessage
	}
	messageType := strings.ToUpper(strings.TrimSpace(params.Type))
	if messageType == "" {
		messageType = persistence.DefaultMessageType
	}

	lock := b.roomLock(params.RoomID)
	lock.Lock()
	defer lock.Unlock()

	message = persistence.Message{
		ID:         b.newID(),
		ChatRoomID: room.ID,
		SenderType: senderType,
		SenderID:   params.SenderID,
		Content:    content,
		Type:       messageType,
		Meta:       params.Meta,
		CreatedAt:  b.now().UTC(),
	}
	if err = b.store.CreateMessage(ctx, message); err != nil {
		switch {
		case errors.Is(err, persistence.ErrRoomInactive):
			err = ErrRoomInactive
		case errors.Is(err, persistence.ErrNotFound):
			err = ErrRoomNotFound
		}
		return persistence.Message{}, err
	}

	view := NewMessageView(message)
	b.publish(ctx, Event{Type: EventNewMessage, RoomID: room.ID, Message: &view})
	return message, nil
}

// Typing broadcasts a typing indicator. Nothing is persisted.
func (b *Broker) Typing(ctx context.Context, roomID, participantID string, isTyping bool) {
	b.publish(ctx, Event{Type: EventTyping, RoomID: roomID, ParticipantID: participantID, IsTyping: &isTyping})
}

// History returns up to limit of the latest messages of roomID in ascending order.
func (b *Broker) History(ctx context.Context, roomID string, limit int, before *time.Time) ([]persistence.Message, error) {
	if _, err := b.Room(ctx, roomID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > b.maxHistory {
		limit = b.maxHistory
	}
	return b.store.ListMessages(ctx, roomID, persistence.MessageFilter{Before: before, Limit: limit})
}

func (b *Broker) roomLock(roomID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(roomID))
	return &b.sendLocks[h.Sum32()%sendLockStripes]
}

func (b *Broker) publish(ctx context.Context, ev Event) {
	if err := b.fanout.Publish(ctx, ev); err != nil {
		b.logger.WarnContext(ctx, "failed to publish chat event", "room_id", ev.RoomID, "event", ev.Type, "error", err)
	}
}

// deliverLocal hands ev to the subscribers joined on this node.
func (b *Broker) deliverLocal(ev Event) {
	b.mu.RLock()
	members := make([]Subscriber, 0, len(b.rooms[ev.RoomID]))
	for _, sub := range b.rooms[ev.RoomID] {
		members = append(members, sub)
	}
	b.mu.RUnlock()

	for _, sub := range members {
		if !sub.Deliver(ev) {
			b.logger.Warn("dropped chat event for slow subscriber", "room_id", ev.RoomID, "subscriber_id", sub.ID(), "event", ev.Type)
		}
	}
}
