package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

// Fanout carries room events to every node that may hold subscribers.
type Fanout interface {
	// Start begins delivering received events to deliver.
	Start(ctx context.Context, deliver func(Event)) error
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// LocalFanout delivers events within the current process.
type LocalFanout struct {
	mu      sync.RWMutex
	deliver func(Event)
}

// NewLocalFanout returns an in-process fanout.
func NewLocalFanout() *LocalFanout {
	return &LocalFanout{}
}

// Start registers the delivery callback.
func (f *LocalFanout) Start(ctx context.Context, deliver func(Event)) error {
	f.mu.Lock()
	f.deliver = deliver
	f.mu.Unlock()
	return nil
}

// Publish hands ev to the delivery callback synchronously.
func (f *LocalFanout) Publish(ctx context.Context, ev Event) error {
	f.mu.RLock()
	deliver := f.deliver
	f.mu.RUnlock()
	if deliver == nil {
		return ErrBrokerStopped
	}
	deliver(ev)
	return nil
}

// Close drops the delivery callback.
func (f *LocalFanout) Close() error {
	f.mu.Lock()
	f.deliver = nil
	f.mu.Unlock()
	return nil
}

// RoomSubjectPrefix prefixes the NATS subject of every room.
const RoomSubjectPrefix = "chat.room."

// RoomSubject returns the subject carrying events for roomID.
func RoomSubject(roomID string) string {
	return RoomSubjectPrefix + roomID
}

// NATSFanout publishes events on chat.room.<id> and delivers every event
// received on chat.room.* locally, so gateways on several nodes share rooms.
type NATSFanout struct {
	nc     *nats.Conn
	logger *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewNATSFanout returns a fanout over nc.
func NewNATSFanout(nc *nats.Conn, logger *slog.Logger) *NATSFanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSFanout{nc: nc, logger: logger.With("component", "chat.fanout.nats")}
}

// Start subscribes to every room subject.
func (f *NATSFanout) Start(ctx context.Context, deliver func(Event)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub != nil {
		return nil
	}

	sub, err := f.nc.Subscribe(RoomSubjectPrefix+"*", func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			f.logger.Warn("dropping malformed chat event", "subject", msg.Subject, "error", err)
			return
		}
		if ev.RoomID == "" {
			ev.RoomID = strings.TrimPrefix(msg.Subject, RoomSubjectPrefix)
		}
		deliver(ev)
	})
	if err != nil {
		return fmt.Errorf("chat: subscribe room events: %w", err)
	}
	if err := f.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("chat: flush subscription: %w", err)
	}
	f.sub = sub
	return nil
}

// Publish sends ev to the room subject.
func (f *NATSFanout) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("chat: encode event: %w", err)
	}
	if err := f.nc.Publish(RoomSubject(ev.RoomID), data); err != nil {
		return fmt.Errorf("chat: publish event: %w", err)
	}
	return nil
}

// Close drains the room subscription. The connection is owned by the caller.
func (f *NATSFanout) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub == nil {
		return nil
	}
	err := f.sub.Drain()
	f.sub = nil
	return err
}
