package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/example/teleconsult/internal/persistence"
)

const chatRoomColumns = `id, consultation_id, patient_id, doctor_id, is_active, created_at, updated_at`

// GetChatRoom retrieves a chat room by ID.
func (s *Storage) GetChatRoom(ctx context.Context, id string) (persistence.ChatRoom, error) {
	return s.getChatRoom(ctx, s.db, `SELECT `+chatRoomColumns+` FROM chat_rooms WHERE id = ?`, id)
}

// GetChatRoomByConsultation retrieves the chat room bound to a consultation.
func (s *Storage) GetChatRoomByConsultation(ctx context.Context, consultationID string) (persistence.ChatRoom, error) {
	return s.getChatRoom(ctx, s.db, `SELECT `+chatRoomColumns+` FROM chat_rooms WHERE consultation_id = ?`, consultationID)
}

func (s *Storage) getChatRoom(ctx context.Context, q querier, query string, arg string) (persistence.ChatRoom, error) {
	room, err := scanChatRoom(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		return persistence.ChatRoom{}, classify(err)
	}
	return room, nil
}

// EnsureChatRoom inserts room unless its consultation already has one.
func (s *Storage) EnsureChatRoom(ctx context.Context, room persistence.ChatRoom) (persistence.ChatRoom, error) {
	var stored persistence.ChatRoom
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.getChatRoom(ctx, tx, `SELECT `+chatRoomColumns+` FROM chat_rooms WHERE consultation_id = ?`, room.ConsultationID)
		switch {
		case err == nil:
			stored = existing
			return nil
		case !errors.Is(err, persistence.ErrNotFound):
			return err
		}

		if err := insertChatRoom(ctx, tx, room); err != nil {
			return err
		}
		stored = room
		return nil
	})
	if err != nil {
		return persistence.ChatRoom{}, err
	}
	return stored, nil
}

// DeleteChatRoom removes the room of consultationID and its messages.
func (s *Storage) DeleteChatRoom(ctx context.Context, consultationID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM messages
			WHERE chat_room_id IN (SELECT id FROM chat_rooms WHERE consultation_id = ?)
		`, consultationID); err != nil {
			return classify(err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM chat_rooms WHERE consultation_id = ?`, consultationID)
		if err != nil {
			return classify(err)
		}
		n, err := affected(result)
		if err != nil {
			return err
		}
		if n == 0 {
			return persistence.ErrNotFound
		}
		return nil
	})
}

func insertChatRoom(ctx context.Context, q querier, room persistence.ChatRoom) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO chat_rooms (`+chatRoomColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		room.ID,
		room.ConsultationID,
		room.PatientID,
		room.DoctorID,
		boolToInt(room.IsActive),
		formatTime(room.CreatedAt),
		formatTime(room.UpdatedAt),
	)
	return classify(err)
}

func scanChatRoom(row scanner) (persistence.ChatRoom, error) {
	var (
		room                 persistence.ChatRoom
		active               int
		createdAt, updatedAt string
	)
	if err := row.Scan(&room.ID, &room.ConsultationID, &room.PatientID, &room.DoctorID, &active, &createdAt, &updatedAt); err != nil {
		return persistence.ChatRoom{}, err
	}
	room.IsActive = active != 0

	var err error
	if room.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.ChatRoom{}, err
	}
	if room.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.ChatRoom{}, err
	}
	return room, nil
}

// CreateMessage appends a message to its room history. The insert selects
// from chat_rooms so it only lands while the room is active.
func (s *Storage) CreateMessage(ctx context.Context, message persistence.Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, chat_room_id, sender_type, sender_id, content, type, meta, created_at)
			SELECT ?, id, ?, ?, ?, ?, ?, ?
			FROM chat_rooms WHERE id = ? AND is_active = 1
		`,
			message.ID,
			string(message.SenderType),
			message.SenderID,
			message.Content,
			message.Type,
			nullJSON(message.Meta),
			formatTime(message.CreatedAt),
			message.ChatRoomID,
		)
		if err != nil {
			return classify(err)
		}
		n, err := affected(result)
		if err != nil || n == 1 {
			return err
		}

		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM chat_rooms WHERE id = ?`, message.ChatRoomID).Scan(&exists)
		if err != nil {
			return classify(err)
		}
		return persistence.ErrRoomInactive
	})
}

// ListMessages returns the room history ordered by creation. With a limit the
// most recent messages are returned, still in ascending order.
func (s *Storage) ListMessages(ctx context.Context, chatRoomID string, filter persistence.MessageFilter) ([]persistence.Message, error) {
	query := `SELECT id, chat_room_id, sender_type, sender_id, content, type, meta, created_at, seq FROM messages WHERE chat_room_id = ?`
	args := []any{chatRoomID}
	if filter.Before != nil {
		query += " AND created_at < ?"
		args = append(args, formatTime(*filter.Before))
	}
	if filter.Limit > 0 {
		query = `SELECT * FROM (` + query + ` ORDER BY created_at DESC, seq DESC LIMIT ?) ORDER BY created_at ASC, seq ASC`
		args = append(args, filter.Limit)
	} else {
		query += " ORDER BY created_at ASC, seq ASC"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	messages := make([]persistence.Message, 0)
	for rows.Next() {
		var (
			m          persistence.Message
			senderType string
			meta       sql.NullString
			createdAt  string
			seq        int64
		)
		if err := rows.Scan(&m.ID, &m.ChatRoomID, &senderType, &m.SenderID, &m.Content, &m.Type, &meta, &createdAt, &seq); err != nil {
			return nil, classify(err)
		}
		m.SenderType = persistence.SenderType(senderType)
		m.Meta = parseNullJSON(meta)
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return messages, nil
}
