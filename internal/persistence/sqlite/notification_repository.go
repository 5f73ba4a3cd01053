package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/example/teleconsult/internal/persistence"
)

const notificationColumns = `id, user_id, type, title, message, data, scheduled_at, is_read, is_sent, sent_at, read_at, created_at`

// CreateNotification inserts a new notification.
func (s *Storage) CreateNotification(ctx context.Context, n persistence.Notification) error {
	return s.retry.do(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO notifications (`+notificationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			n.ID,
			n.UserID,
			n.Type,
			n.Title,
			n.Message,
			nullJSON(n.Data),
			nullTime(n.ScheduledAt),
			boolToInt(n.IsRead),
			boolToInt(n.IsSent),
			nullTime(n.SentAt),
			nullTime(n.ReadAt),
			formatTime(n.CreatedAt),
		)
		return classify(err)
	})
}

// GetNotification retrieves a notification by ID.
func (s *Storage) GetNotification(ctx context.Context, id string) (persistence.Notification, error) {
	n, err := scanNotification(s.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id))
	if err != nil {
		return persistence.Notification{}, classify(err)
	}
	return n, nil
}

// ListNotifications returns a user's notifications, newest first.
func (s *Storage) ListNotifications(ctx context.Context, userID string, filter persistence.NotificationFilter) ([]persistence.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = ?`
	args := []any{userID}
	if filter.UnreadOnly {
		query += " AND is_read = 0"
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return s.queryNotifications(ctx, query, args...)
}

// ListDueNotifications returns unsent notifications scheduled at or before now.
func (s *Storage) ListDueNotifications(ctx context.Context, now time.Time) ([]persistence.Notification, error) {
	return s.queryNotifications(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE is_sent = 0 AND (scheduled_at IS NULL OR scheduled_at <= ?)
		ORDER BY created_at ASC, id ASC
	`, formatTime(now))
}

func (s *Storage) queryNotifications(ctx context.Context, query string, args ...any) ([]persistence.Notification, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	notifications := make([]persistence.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return notifications, nil
}

// MarkNotificationSent flags an unsent notification as delivered and reports
// whether this call performed the transition.
func (s *Storage) MarkNotificationSent(ctx context.Context, id string, at time.Time) (bool, error) {
	applied := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		applied = false
		result, err := tx.ExecContext(ctx,
			`UPDATE notifications SET is_sent = 1, sent_at = ? WHERE id = ? AND is_sent = 0`,
			formatTime(at), id,
		)
		if err != nil {
			return classify(err)
		}
		n, err := affected(result)
		if err != nil {
			return err
		}
		if n > 0 {
			applied = true
			return nil
		}
		return s.ensureNotificationExists(ctx, tx, id)
	})
	return applied, err
}

// MarkNotificationRead flags a notification as read. Reading twice keeps the first read time.
func (s *Storage) MarkNotificationRead(ctx context.Context, id string, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE notifications SET is_read = 1, read_at = ? WHERE id = ? AND is_read = 0`,
			formatTime(at), id,
		)
		if err != nil {
			return classify(err)
		}
		n, err := affected(result)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		return s.ensureNotificationExists(ctx, tx, id)
	})
}

func (s *Storage) ensureNotificationExists(ctx context.Context, tx *sql.Tx, id string) error {
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM notifications WHERE id = ?`, id).Scan(&exists); err != nil {
		return classify(err)
	}
	return nil
}

// MarkAllNotificationsRead flags every unread notification of a user as read.
func (s *Storage) MarkAllNotificationsRead(ctx context.Context, userID string, at time.Time) (int, error) {
	var count int64
	err := s.retry.do(ctx, func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE notifications SET is_read = 1, read_at = ? WHERE user_id = ? AND is_read = 0`,
			formatTime(at), userID,
		)
		if err != nil {
			return classify(err)
		}
		count, err = affected(result)
		return err
	})
	return int(count), err
}

// CountUnreadNotifications counts a user's unread notifications.
func (s *Storage) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`, userID).Scan(&count)
	if err != nil {
		return 0, classify(err)
	}
	return count, nil
}

func scanNotification(row scanner) (persistence.Notification, error) {
	var (
		n                                 persistence.Notification
		data, scheduledAt, sentAt, readAt sql.NullString
		isRead, isSent                    int
		createdAt                         string
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &data, &scheduledAt, &isRead, &isSent, &sentAt, &readAt, &createdAt); err != nil {
		return persistence.Notification{}, err
	}
	n.Data = parseNullJSON(data)
	n.IsRead = isRead != 0
	n.IsSent = isSent != 0

	var err error
	if n.ScheduledAt, err = parseNullTime(scheduledAt); err != nil {
		return persistence.Notification{}, err
	}
	if n.SentAt, err = parseNullTime(sentAt); err != nil {
		return persistence.Notification{}, err
	}
	if n.ReadAt, err = parseNullTime(readAt); err != nil {
		return persistence.Notification{}, err
	}
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Notification{}, err
	}
	return n, nil
}

// UpsertDeviceToken registers a push token. A token moves to the latest user
// that registers it; re-registering keeps the original creation time.
func (s *Storage) UpsertDeviceToken(ctx context.Context, token persistence.DeviceToken) error {
	return s.retry.do(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO device_tokens (token, user_id, platform, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (token) DO UPDATE SET
				platform = excluded.platform,
				created_at = CASE WHEN device_tokens.user_id = excluded.user_id THEN device_tokens.created_at ELSE excluded.created_at END,
				user_id = excluded.user_id
		`, token.Token, token.UserID, token.Platform, formatTime(token.CreatedAt))
		return classify(err)
	})
}

// DeleteDeviceToken removes a user's token.
func (s *Storage) DeleteDeviceToken(ctx context.Context, userID, token string) error {
	return s.retry.do(ctx, func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM device_tokens WHERE token = ? AND user_id = ?`, token, userID)
		if err != nil {
			return classify(err)
		}
		return requireRow(result)
	})
}

// ListDeviceTokens returns a user's tokens ordered by registration time.
func (s *Storage) ListDeviceTokens(ctx context.Context, userID string) ([]persistence.DeviceToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token, user_id, platform, created_at FROM device_tokens WHERE user_id = ? ORDER BY created_at ASC, token ASC`,
		userID,
	)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	tokens := make([]persistence.DeviceToken, 0)
	for rows.Next() {
		var (
			t         persistence.DeviceToken
			createdAt string
		)
		if err := rows.Scan(&t.Token, &t.UserID, &t.Platform, &createdAt); err != nil {
			return nil, classify(err)
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return tokens, nil
}
