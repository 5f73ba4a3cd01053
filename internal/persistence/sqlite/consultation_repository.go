package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/example/teleconsult/internal/persistence"
)

const consultationColumns = `id, patient_id, doctor_id, type, scheduled_at, duration, end_at, status, created_at, updated_at`

// CreateConsultation inserts the consultation and its chat room in one
// transaction after re-checking the doctor's schedule for overlaps.
func (s *Storage) CreateConsultation(ctx context.Context, consultation persistence.Consultation, room persistence.ChatRoom) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var overlapping int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM consultations
			WHERE doctor_id = ?
			  AND status IN ('PENDING', 'ONGOING')
			  AND scheduled_at <= ?
			  AND end_at >= ?
		`, consultation.DoctorID, formatTime(consultation.EndAt), formatTime(consultation.ScheduledAt)).Scan(&overlapping)
		if err != nil {
			return classify(err)
		}
		if overlapping > 0 {
			return persistence.ErrConflict
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO consultations (`+consultationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			consultation.ID,
			consultation.PatientID,
			consultation.DoctorID,
			consultation.Type,
			formatTime(consultation.ScheduledAt),
			consultation.Duration,
			formatTime(consultation.EndAt),
			string(consultation.Status),
			formatTime(consultation.CreatedAt),
			formatTime(consultation.UpdatedAt),
		)
		if err != nil {
			return classify(err)
		}

		return insertChatRoom(ctx, tx, room)
	})
}

// GetConsultation retrieves a consultation by ID.
func (s *Storage) GetConsultation(ctx context.Context, id string) (persistence.Consultation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+consultationColumns+` FROM consultations WHERE id = ?`, id)
	consultation, err := scanConsultation(row)
	if err != nil {
		return persistence.Consultation{}, classify(err)
	}
	return consultation, nil
}

// ListConsultations returns consultations matching filter ordered by scheduled time.
func (s *Storage) ListConsultations(ctx context.Context, filter persistence.ConsultationFilter) ([]persistence.Consultation, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.PatientID != "" {
		clauses = append(clauses, "patient_id = ?")
		args = append(args, filter.PatientID)
	}
	if filter.DoctorID != "" {
		clauses = append(clauses, "doctor_id = ?")
		args = append(args, filter.DoctorID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.ScheduledBefore != nil {
		clauses = append(clauses, "scheduled_at <= ?")
		args = append(args, formatTime(*filter.ScheduledBefore))
	}

	query := `SELECT ` + consultationColumns + ` FROM consultations`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY scheduled_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	consultations := make([]persistence.Consultation, 0)
	for rows.Next() {
		consultation, err := scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		consultations = append(consultations, consultation)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return consultations, nil
}

// TransitionConsultation applies a conditional status change and, when
// requested, flips the chat room's active flag in the same transaction.
func (s *Storage) TransitionConsultation(ctx context.Context, transition persistence.Transition) (bool, error) {
	applied := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		applied = false
		result, err := tx.ExecContext(ctx,
			`UPDATE consultations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(transition.To), formatTime(transition.At), transition.ConsultationID, string(transition.From),
		)
		if err != nil {
			return classify(err)
		}
		n, err := affected(result)
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM consultations WHERE id = ?`, transition.ConsultationID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return persistence.ErrNotFound
			}
			return classify(err)
		}

		if transition.RoomActive != nil {
			result, err := tx.ExecContext(ctx,
				`UPDATE chat_rooms SET is_active = ?, updated_at = ? WHERE consultation_id = ?`,
				boolToInt(*transition.RoomActive), formatTime(transition.At), transition.ConsultationID,
			)
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
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func scanConsultation(row scanner) (persistence.Consultation, error) {
	var (
		c                                        persistence.Consultation
		status                                   string
		scheduledAt, endAt, createdAt, updatedAt string
	)
	if err := row.Scan(&c.ID, &c.PatientID, &c.DoctorID, &c.Type, &scheduledAt, &c.Duration, &endAt, &status, &createdAt, &updatedAt); err != nil {
		return persistence.Consultation{}, err
	}
	c.Status = persistence.ConsultationStatus(status)

	var err error
	if c.ScheduledAt, err = parseTime(scheduledAt); err != nil {
		return persistence.Consultation{}, err
	}
	if c.EndAt, err = parseTime(endAt); err != nil {
		return persistence.Consultation{}, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Consultation{}, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Consultation{}, err
	}
	return c, nil
}
