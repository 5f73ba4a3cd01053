package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/teleconsult/internal/persistence"
)

func onConflictDoNothing(columns ...string) clause.OnConflict {
	cols := make([]clause.Column, len(columns))
	for i, name := range columns {
		cols[i] = clause.Column{Name: name}
	}
	return clause.OnConflict{Columns: cols, DoNothing: true}
}

func requireRow(result *gorm.DB) error {
	if result.Error != nil {
		return mapError(result.Error)
	}
	if result.RowsAffected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// --- ReminderRepository implementation ---

// CreateReminder inserts a new reminder.
func (s *Storage) CreateReminder(ctx context.Context, reminder persistence.Reminder) error {
	row := toReminderRow(reminder)
	return mapError(s.db.WithContext(ctx).Create(&row).Error)
}

// UpdateReminder replaces the mutable fields of a reminder.
func (s *Storage) UpdateReminder(ctx context.Context, reminder persistence.Reminder) error {
	row := toReminderRow(reminder)
	return requireRow(s.db.WithContext(ctx).Model(&reminderRow{}).
		Where("id = ?", reminder.ID).
		Updates(map[string]any{
			"title":       row.Title,
			"message":     row.Message,
			"type":        row.Type,
			"repeat_type": row.RepeatType,
			"start_at":    row.StartAt,
			"end_at":      row.EndAt,
			"last_run_at": row.LastRunAt,
			"is_active":   row.IsActive,
			"updated_at":  row.UpdatedAt,
		}))
}

// GetReminder retrieves a reminder by ID.
func (s *Storage) GetReminder(ctx context.Context, id string) (persistence.Reminder, error) {
	var row reminderRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return persistence.Reminder{}, mapError(err)
	}
	return row.toDomain(), nil
}

// ListReminders returns a user's reminders ordered by start time.
func (s *Storage) ListReminders(ctx context.Context, userID string) ([]persistence.Reminder, error) {
	return s.findReminders(s.db.WithContext(ctx).Where("user_id = ?", userID))
}

// ListActiveReminders returns every active reminder.
func (s *Storage) ListActiveReminders(ctx context.Context) ([]persistence.Reminder, error) {
	return s.findReminders(s.db.WithContext(ctx).Where("is_active = ?", true))
}

func (s *Storage) findReminders(query *gorm.DB) ([]persistence.Reminder, error) {
	var rows []reminderRow
	if err := query.Order("start_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	result := make([]persistence.Reminder, len(rows))
	for i, row := range rows {
		result[i] = row.toDomain()
	}
	return result, nil
}

// DeleteReminder removes a reminder.
func (s *Storage) DeleteReminder(ctx context.Context, id string) error {
	return requireRow(s.db.WithContext(ctx).Where("id = ?", id).Delete(&reminderRow{}))
}

// MarkReminderRun records the last run instant of a reminder.
func (s *Storage) MarkReminderRun(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	return requireRow(s.db.WithContext(ctx).Model(&reminderRow{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_run_at": at, "updated_at": at}))
}

// --- NotificationRepository implementation ---

// CreateNotification inserts a new notification.
func (s *Storage) CreateNotification(ctx context.Context, notification persistence.Notification) error {
	row := toNotificationRow(notification)
	return mapError(s.db.WithContext(ctx).Create(&row).Error)
}

// GetNotification retrieves a notification by ID.
func (s *Storage) GetNotification(ctx context.Context, id string) (persistence.Notification, error) {
	var row notificationRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return persistence.Notification{}, mapError(err)
	}
	return row.toDomain(), nil
}

// ListNotifications returns a user's notifications, newest first.
func (s *Storage) ListNotifications(ctx context.Context, userID string, filter persistence.NotificationFilter) ([]persistence.Notification, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if filter.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}
	query = query.Order("created_at DESC, id DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	return s.findNotifications(query)
}

// ListDueNotifications returns unsent notifications scheduled at or before now.
func (s *Storage) ListDueNotifications(ctx context.Context, now time.Time) ([]persistence.Notification, error) {
	return s.findNotifications(s.db.WithContext(ctx).
		Where("is_sent = ? AND (scheduled_at IS NULL OR scheduled_at <= ?)", false, now.UTC()).
		Order("created_at ASC, id ASC"))
}

func (s *Storage) findNotifications(query *gorm.DB) ([]persistence.Notification, error) {
	var rows []notificationRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	result := make([]persistence.Notification, len(rows))
	for i, row := range rows {
		result[i] = row.toDomain()
	}
	return result, nil
}

// MarkNotificationSent flags an unsent notification as delivered and reports
// whether this call performed the transition.
func (s *Storage) MarkNotificationSent(ctx context.Context, id string, at time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&notificationRow{}).
		Where("id = ? AND is_sent = ?", id, false).
		Updates(map[string]any{"is_sent": true, "sent_at": at.UTC()})
	if result.Error != nil {
		return false, mapError(result.Error)
	}
	if result.RowsAffected > 0 {
		return true, nil
	}
	return false, s.notificationExists(ctx, id)
}

// MarkNotificationRead flags a notification as read. Reading twice keeps the first read time.
func (s *Storage) MarkNotificationRead(ctx context.Context, id string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&notificationRow{}).
		Where("id = ? AND is_read = ?", id, false).
		Updates(map[string]any{"is_read": true, "read_at": at.UTC()})
	if result.Error != nil {
		return mapError(result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	return s.notificationExists(ctx, id)
}

func (s *Storage) notificationExists(ctx context.Context, id string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&notificationRow{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return mapError(err)
	}
	if count == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// MarkAllNotificationsRead flags every unread notification of a user as read.
func (s *Storage) MarkAllNotificationsRead(ctx context.Context, userID string, at time.Time) (int, error) {
	result := s.db.WithContext(ctx).Model(&notificationRow{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]any{"is_read": true, "read_at": at.UTC()})
	if result.Error != nil {
		return 0, mapError(result.Error)
	}
	return int(result.RowsAffected), nil
}

// CountUnreadNotifications counts a user's unread notifications.
func (s *Storage) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&notificationRow{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return 0, mapError(err)
	}
	return int(count), nil
}

// --- DeviceTokenRepository implementation ---

// UpsertDeviceToken registers a push token. A token moves to the latest user
// that registers it; re-registering keeps the original creation time.
func (s *Storage) UpsertDeviceToken(ctx context.Context, token persistence.DeviceToken) error {
	row := deviceTokenRow{
		Token:     token.Token,
		UserID:    token.UserID,
		Platform:  token.Platform,
		CreatedAt: token.CreatedAt.UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "token"}},
		DoUpdates: clause.Assignments(map[string]any{
			"platform":   gorm.Expr("excluded.platform"),
			"user_id":    gorm.Expr("excluded.user_id"),
			"created_at": gorm.Expr("CASE WHEN device_tokens.user_id = excluded.user_id THEN device_tokens.created_at ELSE excluded.created_at END"),
		}),
	}).Create(&row).Error
	return mapError(err)
}

// DeleteDeviceToken removes a user's token.
func (s *Storage) DeleteDeviceToken(ctx context.Context, userID, token string) error {
	return requireRow(s.db.WithContext(ctx).
		Where("token = ? AND user_id = ?", token, userID).
		Delete(&deviceTokenRow{}))
}

// ListDeviceTokens returns a user's tokens ordered by registration time.
func (s *Storage) ListDeviceTokens(ctx context.Context, userID string) ([]persistence.DeviceToken, error) {
	var rows []deviceTokenRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, token ASC").
		Find(&rows).Error
	if err != nil {
		return nil, mapError(err)
	}
	result := make([]persistence.DeviceToken, len(rows))
	for i, row := range rows {
		result[i] = row.toDomain()
	}
	return result, nil
}
