// Package memory provides a map backed persistence.Store used by tests and
// single-process deployments.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/example/teleconsult/internal/lifecycle"
	"github.com/example/teleconsult/internal/persistence"
	"github.com/example/teleconsult/internal/scheduler"
)

// Storage is an in-memory implementation of persistence.Store.
type Storage struct {
	mu                  sync.RWMutex
	consultations       map[string]persistence.Consultation
	rooms               map[string]persistence.ChatRoom
	roomsByConsultation map[string]string
	messages            map[string][]persistence.Message
	reminders           map[string]persistence.Reminder
	notifications       map[string]persistence.Notification
	tokens              map[string]persistence.DeviceToken
}

var _ persistence.Store = (*Storage)(nil)

// New returns an empty Storage.
func New() *Storage {
	return &Storage{
		consultations:       make(map[string]persistence.Consultation),
		rooms:               make(map[string]persistence.ChatRoom),
		roomsByConsultation: make(map[string]string),
		messages:            make(map[string][]persistence.Message),
		reminders:           make(map[string]persistence.Reminder),
		notifications:       make(map[string]persistence.Notification),
		tokens:              make(map[string]persistence.DeviceToken),
	}
}

// Close releases resources held by the storage. No-op for the in-memory implementation.
func (s *Storage) Close() error {
	return nil
}

// --- ConsultationRepository implementation ---

// CreateConsultation stores a consultation and its chat room.
func (s *Storage) CreateConsultation(ctx context.Context, consultation persistence.Consultation, room persistence.ChatRoom) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.consultations[consultation.ID]; ok {
		return persistence.ErrDuplicate
	}
	if _, ok := s.rooms[room.ID]; ok {
		return persistence.ErrDuplicate
	}

	for _, existing := range s.consultations {
		if existing.DoctorID != consultation.DoctorID || !lifecycle.Active(existing.Status) {
			continue
		}
		if scheduler.Overlaps(existing.ScheduledAt, existing.EndAt, consultation.ScheduledAt, consultation.EndAt) {
			return persistence.ErrConflict
		}
	}

	s.consultations[consultation.ID] = consultation
	s.rooms[room.ID] = room
	s.roomsByConsultation[consultation.ID] = room.ID
	return nil
}

// GetConsultation retrieves a consultation by ID.
func (s *Storage) GetConsultation(ctx context.Context, id string) (persistence.Consultation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	consultation, ok := s.consultations[id]
	if !ok {
		return persistence.Consultation{}, persistence.ErrNotFound
	}
	return consultation, nil
}

// ListConsultations returns consultations matching filter ordered by ScheduledAt.
func (s *Storage) ListConsultations(ctx context.Context, filter persistence.ConsultationFilter) ([]persistence.Consultation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make(map[persistence.ConsultationStatus]struct{}, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses[status] = struct{}{}
	}

	result := make([]persistence.Consultation, 0)
	for _, c := range s.consultations {
		if filter.PatientID != "" && c.PatientID != filter.PatientID {
			continue
		}
		if filter.DoctorID != "" && c.DoctorID != filter.DoctorID {
			continue
		}
		if len(statuses) > 0 {
			if _, ok := statuses[c.Status]; !ok {
				continue
			}
		}
		if filter.ScheduledBefore != nil && c.ScheduledAt.After(*filter.ScheduledBefore) {
			continue
		}
		result = append(result, c)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ScheduledAt.Equal(result[j].ScheduledAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].ScheduledAt.Before(result[j].ScheduledAt)
	})
	return result, nil
}

// TransitionConsultation applies a conditional status change.
func (s *Storage) TransitionConsultation(ctx context.Context, transition persistence.Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	consultation, ok := s.consultations[transition.ConsultationID]
	if !ok {
		return false, persistence.ErrNotFound
	}
	if consultation.Status != transition.From {
		return false, nil
	}

	if transition.RoomActive != nil {
		roomID, ok := s.roomsByConsultation[consultation.ID]
		if !ok {
			return false, persistence.ErrNotFound
		}
		room := s.rooms[roomID]
		room.IsActive = *transition.RoomActive
		room.UpdatedAt = transition.At
		s.rooms[roomID] = room
	}

	consultation.Status = transition.To
	consultation.UpdatedAt = transition.At
	s.consultations[consultation.ID] = consultation
	return true, nil
}

// --- ChatRoomRepository implementation ---

// GetChatRoom retrieves a chat room by ID.
func (s *Storage) GetChatRoom(ctx context.Context, id string) (persistence.ChatRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return persistence.ChatRoom{}, persistence.ErrNotFound
	}
	return room, nil
}

// GetChatRoomByConsultation retrieves the chat room bound to a consultation.
func (s *Storage) GetChatRoomByConsultation(ctx context.Context, consultationID string) (persistence.ChatRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roomID, ok := s.roomsByConsultation[consultationID]
	if !ok {
		return persistence.ChatRoom{}, persistence.ErrNotFound
	}
	return s.rooms[roomID], nil
}

// EnsureChatRoom stores room unless its consultation already has one.
func (s *Storage) EnsureChatRoom(ctx context.Context, room persistence.ChatRoom) (persistence.ChatRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if roomID, ok := s.roomsByConsultation[room.ConsultationID]; ok {
		return s.rooms[roomID], nil
	}
	if _, ok := s.consultations[room.ConsultationID]; !ok {
		return persistence.ChatRoom{}, persistence.ErrConstraintViolation
	}
	s.rooms[room.ID] = room
	s.roomsByConsultation[room.ConsultationID] = room.ID
	return room, nil
}

// DeleteChatRoom removes the room of consultationID and its messages.
func (s *Storage) DeleteChatRoom(ctx context.Context, consultationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	roomID, ok := s.roomsByConsultation[consultationID]
	if !ok {
		return persistence.ErrNotFound
	}
	delete(s.roomsByConsultation, consultationID)
	delete(s.rooms, roomID)
	delete(s.messages, roomID)
	return nil
}

// --- MessageRepository implementation ---

// CreateMessage appends a message to its room history.
func (s *Storage) CreateMessage(ctx context.Context, message persistence.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[message.ChatRoomID]
	if !ok {
		return persistence.ErrNotFound
	}
	if !room.IsActive {
		return persistence.ErrRoomInactive
	}
	message.Meta = cloneRaw(message.Meta)
	s.messages[message.ChatRoomID] = append(s.messages[message.ChatRoomID], message)
	return nil
}

// ListMessages returns the room history ordered by CreatedAt ascending. With a
// limit, the most recent messages are returned.
func (s *Storage) ListMessages(ctx context.Context, chatRoomID string, filter persistence.MessageFilter) ([]persistence.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.messages[chatRoomID]
	result := make([]persistence.Message, 0, len(history))
	for _, message := range history {
		if filter.Before != nil && !message.CreatedAt.Before(*filter.Before) {
			continue
		}
		message.Meta = cloneRaw(message.Meta)
		result = append(result, message)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[len(result)-filter.Limit:]
	}
	return result, nil
}

// --- ReminderRepository implementation ---

// CreateReminder stores a new reminder.
func (s *Storage) CreateReminder(ctx context.Context, reminder persistence.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reminders[reminder.ID]; ok {
		return persistence.ErrDuplicate
	}
	s.reminders[reminder.ID] = cloneReminder(reminder)
	return nil
}

// UpdateReminder replaces an existing reminder.
func (s *Storage) UpdateReminder(ctx context.Context, reminder persistence.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reminders[reminder.ID]; !ok {
		return persistence.ErrNotFound
	}
	s.reminders[reminder.ID] = cloneReminder(reminder)
	return nil
}

// GetReminder retrieves a reminder by ID.
func (s *Storage) GetReminder(ctx context.Context, id string) (persistence.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reminder, ok := s.reminders[id]
	if !ok {
		return persistence.Reminder{}, persistence.ErrNotFound
	}
	return cloneReminder(reminder), nil
}

// ListReminders returns a user's reminders ordered by StartAt.
func (s *Storage) ListReminders(ctx context.Context, userID string) ([]persistence.Reminder, error) {
	return s.listReminders(func(r persistence.Reminder) bool { return r.UserID == userID }), nil
}

// ListActiveReminders returns every active reminder.
func (s *Storage) ListActiveReminders(ctx context.Context) ([]persistence.Reminder, error) {
	return s.listReminders(func(r persistence.Reminder) bool { return r.IsActive }), nil
}

func (s *Storage) listReminders(match func(persistence.Reminder) bool) []persistence.Reminder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]persistence.Reminder, 0)
	for _, reminder := range s.reminders {
		if match(reminder) {
			result = append(result, cloneReminder(reminder))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartAt.Equal(result[j].StartAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].StartAt.Before(result[j].StartAt)
	})
	return result
}

// DeleteReminder removes a reminder.
func (s *Storage) DeleteReminder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reminders[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.reminders, id)
	return nil
}

// MarkReminderRun records the last run instant of a reminder.
func (s *Storage) MarkReminderRun(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminder, ok := s.reminders[id]
	if !ok {
		return persistence.ErrNotFound
	}
	reminder.LastRunAt = &at
	reminder.UpdatedAt = at
	s.reminders[id] = reminder
	return nil
}

// --- NotificationRepository implementation ---

// CreateNotification stores a new notification.
func (s *Storage) CreateNotification(ctx context.Context, notification persistence.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notifications[notification.ID]; ok {
		return persistence.ErrDuplicate
	}
	s.notifications[notification.ID] = cloneNotification(notification)
	return nil
}

// GetNotification retrieves a notification by ID.
func (s *Storage) GetNotification(ctx context.Context, id string) (persistence.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	notification, ok := s.notifications[id]
	if !ok {
		return persistence.Notification{}, persistence.ErrNotFound
	}
	return cloneNotification(notification), nil
}

// ListNotifications returns a user's notifications, newest first.
func (s *Storage) ListNotifications(ctx context.Context, userID string, filter persistence.NotificationFilter) ([]persistence.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]persistence.Notification, 0)
	for _, n := range s.notifications {
		if n.UserID != userID {
			continue
		}
		if filter.UnreadOnly && n.IsRead {
			continue
		}
		result = append(result, cloneNotification(n))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// ListDueNotifications returns unsent notifications scheduled at or before now.
func (s *Storage) ListDueNotifications(ctx context.Context, now time.Time) ([]persistence.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]persistence.Notification, 0)
	for _, n := range s.notifications {
		if n.IsSent {
			continue
		}
		if n.ScheduledAt != nil && n.ScheduledAt.After(now) {
			continue
		}
		result = append(result, cloneNotification(n))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// MarkNotificationSent flags an unsent notification as delivered.
func (s *Storage) MarkNotificationSent(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return false, persistence.ErrNotFound
	}
	if n.IsSent {
		return false, nil
	}
	n.IsSent = true
	n.SentAt = &at
	s.notifications[id] = n
	return true, nil
}

// MarkNotificationRead flags a notification as read. Reading twice keeps the first ReadAt.
func (s *Storage) MarkNotificationRead(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if n.IsRead {
		return nil
	}
	n.IsRead = true
	n.ReadAt = &at
	s.notifications[id] = n
	return nil
}

// MarkAllNotificationsRead flags every unread notification of a user as read.
func (s *Storage) MarkAllNotificationsRead(ctx context.Context, userID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, n := range s.notifications {
		if n.UserID != userID || n.IsRead {
			continue
		}
		n.IsRead = true
		n.ReadAt = &at
		s.notifications[id] = n
		count++
	}
	return count, nil
}

// CountUnreadNotifications counts a user's unread notifications.
func (s *Storage) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.notifications {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

// --- DeviceTokenRepository implementation ---

// UpsertDeviceToken registers a token, moving it to userID if it belonged to someone else.
func (s *Storage) UpsertDeviceToken(ctx context.Context, token persistence.DeviceToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tokens[token.Token]; ok && existing.UserID == token.UserID {
		token.CreatedAt = existing.CreatedAt
	}
	s.tokens[token.Token] = token
	return nil
}

// DeleteDeviceToken removes a user's token.
func (s *Storage) DeleteDeviceToken(ctx context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tokens[token]
	if !ok || existing.UserID != userID {
		return persistence.ErrNotFound
	}
	delete(s.tokens, token)
	return nil
}

// ListDeviceTokens returns a user's tokens ordered by CreatedAt.
func (s *Storage) ListDeviceTokens(ctx context.Context, userID string) ([]persistence.DeviceToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]persistence.DeviceToken, 0)
	for _, token := range s.tokens {
		if token.UserID == userID {
			result = append(result, token)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Token < result[j].Token
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func cloneReminder(r persistence.Reminder) persistence.Reminder {
	r.EndAt = cloneTime(r.EndAt)
	r.LastRunAt = cloneTime(r.LastRunAt)
	return r
}

func cloneNotification(n persistence.Notification) persistence.Notification {
	n.Data = cloneRaw(n.Data)
	n.ScheduledAt = cloneTime(n.ScheduledAt)
	n.SentAt = cloneTime(n.SentAt)
	n.ReadAt = cloneTime(n.ReadAt)
	return n
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
