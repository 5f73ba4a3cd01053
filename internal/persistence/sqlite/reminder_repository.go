package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/example/teleconsult/internal/persistence"
)

const reminderColumns = `id, user_id, title, message, type, repeat_type, start_at, end_at, last_run_at, is_active, created_at, updated_at`

// CreateReminder inserts a new reminder.
func (s *Storage) CreateReminder(ctx context.Context, reminder persistence.Reminder) error {
	return s.retry.do(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO reminders (`+reminderColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			reminder.ID,
			reminder.UserID,
			reminder.Title,
			reminder.Message,
			reminder.Type,
			string(reminder.RepeatType),
			formatTime(reminder.StartAt),
			nullTime(reminder.EndAt),
			nullTime(reminder.LastRunAt),
			boolToInt(reminder.IsActive),
			formatTime(reminder.CreatedAt),
			formatTime(reminder.UpdatedAt),
		)
		return classify(err)
	})
}

// UpdateReminder replaces the mutable fields of a reminder.
func (s *Storage) UpdateReminder(ctx context.Context, reminder persistence.Reminder) error {
	return s.retry.do(ctx, func() error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE reminders
			SET title = ?, message = ?, type = ?, repeat_type = ?, start_at = ?, end_at = ?, last_run_at = ?, is_active = ?, updated_at = ?
			WHERE id = ?
		`,
			reminder.Title,
			reminder.Message,
			reminder.Type,
			string(reminder.RepeatType),
			formatTime(reminder.StartAt),
			nullTime(reminder.EndAt),
			nullTime(reminder.LastRunAt),
			boolToInt(reminder.IsActive),
			formatTime(reminder.UpdatedAt),
			reminder.ID,
		)
		if err != nil {
			return classify(err)
		}
		return requireRow(result)
	})
}

// GetReminder retrieves a reminder by ID.
func (s *Storage) GetReminder(ctx context.Context, id string) (persistence.Reminder, error) {
	reminder, err := scanReminder(s.db.QueryRowContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id))
	if err != nil {
		return persistence.Reminder{}, classify(err)
	}
	return reminder, nil
}

// ListReminders returns a user's reminders ordered by start time.
func (s *Storage) ListReminders(ctx context.Context, userID string) ([]persistence.Reminder, error) {
	return s.queryReminders(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE user_id = ? ORDER BY start_at ASC, id ASC`, userID)
}

// ListActiveReminders returns every active reminder.
func (s *Storage) ListActiveReminders(ctx context.Context) ([]persistence.Reminder, error) {
	return s.queryReminders(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE is_active = 1 ORDER BY start_at ASC, id ASC`)
}

func (s *Storage) queryReminders(ctx context.Context, query string, args ...any) ([]persistence.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	reminders := make([]persistence.Reminder, 0)
	for rows.Next() {
		reminder, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, reminder)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return reminders, nil
}

// DeleteReminder removes a reminder.
func (s *Storage) DeleteReminder(ctx context.Context, id string) error {
	return s.retry.do(ctx, func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
		if err != nil {
			return classify(err)
		}
		return requireRow(result)
	})
}

// MarkReminderRun records the last run instant of a reminder.
func (s *Storage) MarkReminderRun(ctx context.Context, id string, at time.Time) error {
	return s.retry.do(ctx, func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE reminders SET last_run_at = ?, updated_at = ? WHERE id = ?`,
			formatTime(at), formatTime(at), id,
		)
		if err != nil {
			return classify(err)
		}
		return requireRow(result)
	})
}

func requireRow(result sql.Result) error {
	n, err := affected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func scanReminder(row scanner) (persistence.Reminder, error) {
	var (
		r                           persistence.Reminder
		repeatType                  string
		startAt, createdAt, updated string
		endAt, lastRunAt            sql.NullString
		active                      int
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.Title, &r.Message, &r.Type, &repeatType, &startAt, &endAt, &lastRunAt, &active, &createdAt, &updated); err != nil {
		return persistence.Reminder{}, err
	}
	r.RepeatType = persistence.RepeatType(repeatType)
	r.IsActive = active != 0

	var err error
	if r.StartAt, err = parseTime(startAt); err != nil {
		return persistence.Reminder{}, err
	}
	if r.EndAt, err = parseNullTime(endAt); err != nil {
		return persistence.Reminder{}, err
	}
	if r.LastRunAt, err = parseNullTime(lastRunAt); err != nil {
		return persistence.Reminder{}, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Reminder{}, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return persistence.Reminder{}, err
	}
	return r, nil
}
