// Package postgres implements persistence.Store on PostgreSQL through gorm.
//
// The schema is managed with gorm's AutoMigrate. Bookings take a transaction
// scoped advisory lock keyed by doctor so the overlap check and the insert
// cannot interleave across connections or processes.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/teleconsult/internal/persistence"
)

// Storage is a PostgreSQL backed persistence.Store.
type Storage struct {
	db *gorm.DB
}

var _ persistence.Store = (*Storage)(nil)

// Open connects to the database identified by dsn. Slow queries and driver
// warnings are written to logger.
func Open(dsn string, logger *slog.Logger) (*Storage, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(
			slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
			gormlogger.Config{
				SlowThreshold:             200 * time.Millisecond,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	return &Storage{db: db}, nil
}

// Migrate creates or updates the schema.
func (s *Storage) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&consultationRow{},
		&chatRoomRow{},
		&messageRow{},
		&reminderRow{},
		&notificationRow{},
		&deviceTokenRow{},
	)
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return persistence.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return persistence.ErrDuplicate
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return persistence.ErrConstraintViolation
	default:
		return err
	}
}

// --- ConsultationRepository implementation ---

// CreateConsultation stores a consultation and its chat room after checking
// the doctor's schedule under an advisory lock.
func (s *Storage) CreateConsultation(ctx context.Context, consultation persistence.Consultation, room persistence.ChatRoom) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", consultation.DoctorID).Error; err != nil {
			return err
		}

		var overlapping int64
		err := tx.Model(&consultationRow{}).
			Where("doctor_id = ? AND status IN ?", consultation.DoctorID, []string{
				string(persistence.ConsultationPending),
				string(persistence.ConsultationOngoing),
			}).
			Where("scheduled_at <= ? AND end_at >= ?", consultation.EndAt.UTC(), consultation.ScheduledAt.UTC()).
			Count(&overlapping).Error
		if err != nil {
			return err
		}
		if overlapping > 0 {
			return persistence.ErrConflict
		}

		row := toConsultationRow(consultation)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		roomRow := toChatRoomRow(room)
		return tx.Create(&roomRow).Error
	})
	return mapError(err)
}

// GetConsultation retrieves a consultation by ID.
func (s *Storage) GetConsultation(ctx context.Context, id string) (persistence.Consultation, error) {
	var row consultationRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return persistence.Consultation{}, mapError(err)
	}
	return row.toDomain(), nil
}

// ListConsultations returns consultations matching filter ordered by scheduled time.
func (s *Storage) ListConsultations(ctx context.Context, filter persistence.ConsultationFilter) ([]persistence.Consultation, error) {
	query := s.db.WithContext(ctx).Model(&consultationRow{})
	if filter.PatientID != "" {
		query = query.Where("patient_id = ?", filter.PatientID)
	}
	if filter.DoctorID != "" {
		query = query.Where("doctor_id = ?", filter.DoctorID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			statuses[i] = string(status)
		}
		query = query.Where("status IN ?", statuses)
	}
	if filter.ScheduledBefore != nil {
		query = query.Where("scheduled_at <= ?", filter.ScheduledBefore.UTC())
	}

	var rows []consultationRow
	if err := query.Order("scheduled_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	result := make([]persistence.Consultation, len(rows))
	for i, row := range rows {
		result[i] = row.toDomain()
	}
	return result, nil
}

// TransitionConsultation applies a conditional status change and, when
// requested, flips the room's active flag in the same transaction.
func (s *Storage) TransitionConsultation(ctx context.Context, transition persistence.Transition) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied = false
		at := transition.At.UTC()
		result := tx.Model(&consultationRow{}).
			Where("id = ? AND status = ?", transition.ConsultationID, string(transition.From)).
			Updates(map[string]any{"status": string(transition.To), "updated_at": at})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&consultationRow{}).Where("id = ?", transition.ConsultationID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return persistence.ErrNotFound
			}
			return nil
		}

		if transition.RoomActive != nil {
			roomResult := tx.Model(&chatRoomRow{}).
				Where("consultation_id = ?", transition.ConsultationID).
				Updates(map[string]any{"is_active": *transition.RoomActive, "updated_at": at})
			if roomResult.Error != nil {
				return roomResult.Error
			}
			if roomResult.RowsAffected == 0 {
				return persistence.ErrNotFound
			}
		}
		applied = true
		return nil
	})
	return applied, mapError(err)
}

// --- ChatRoomRepository implementation ---

// GetChatRoom retrieves a chat room by ID.
func (s *Storage) GetChatRoom(ctx context.Context, id string) (persistence.ChatRoom, error) {
	var row chatRoomRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return persistence.ChatRoom{}, mapError(err)
	}
	return row.toDomain(), nil
}

// GetChatRoomByConsultation retrieves the chat room bound to a consultation.
func (s *Storage) GetChatRoomByConsultation(ctx context.Context, consultationID string) (persistence.ChatRoom, error) {
	var row chatRoomRow
	if err := s.db.WithContext(ctx).Where("consultation_id = ?", consultationID).First(&row).Error; err != nil {
		return persistence.ChatRoom{}, mapError(err)
	}
	return row.toDomain(), nil
}

// EnsureChatRoom stores room unless its consultation already has one and
// returns the room that is bound to the consultation.
func (s *Storage) EnsureChatRoom(ctx context.Context, room persistence.ChatRoom) (persistence.ChatRoom, error) {
	row := toChatRoomRow(room)
	err := s.db.WithContext(ctx).
		Clauses(onConflictDoNothing("consultation_id")).
		Create(&row).Error
	if err != nil {
		return persistence.ChatRoom{}, mapError(err)
	}
	return s.GetChatRoomByConsultation(ctx, room.ConsultationID)
}

// --- MessageRepository implementation ---

// CreateMessage appends a message to its room history. The room row is
// locked so a concurrent deactivation either precedes the insert or waits
// for it.
func (s *Storage) CreateMessage(ctx context.Context, message persistence.Message) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room chatRoomRow
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Select("id", "is_active").
			Where("id = ?", message.ChatRoomID).
			First(&room).Error
		if err != nil {
			return err
		}
		if !room.IsActive {
			return persistence.ErrRoomInactive
		}
		row := toMessageRow(message)
		return tx.Create(&row).Error
	})
	return mapError(err)
}

// ListMessages returns the room history in ascending order. With a limit, the
// most recent messages are returned.
func (s *Storage) ListMessages(ctx context.Context, chatRoomID string, filter persistence.MessageFilter) ([]persistence.Message, error) {
	query := s.db.WithContext(ctx).Where("chat_room_id = ?", chatRoomID)
	if filter.Before != nil {
		query = query.Where("created_at < ?", filter.Before.UTC())
	}

	var rows []messageRow
	if filter.Limit > 0 {
		if err := query.Order("created_at DESC, seq DESC").Limit(filter.Limit).Find(&rows).Error; err != nil {
			return nil, mapError(err)
		}
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	} else if err := query.Order("created_at ASC, seq ASC").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}

	result := make([]persistence.Message, len(rows))
	for i, row := range rows {
		result[i] = row.toDomain()
	}
	return result, nil
}
