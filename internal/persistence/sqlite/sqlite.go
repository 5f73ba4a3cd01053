package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/teleconsult/internal/persistence"
	"github.com/example/teleconsult/internal/persistence/sqlite/migration"
)

// timeLayout is fixed width so that text comparison in SQL matches
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Storage implements persistence.Store on top of SQLite.
type Storage struct {
	db     *sql.DB
	retry  busyRetry
	logger *slog.Logger
}

var _ persistence.Store = (*Storage)(nil)

// Open connects to the database at path using the default configuration.
func Open(path string, logger *slog.Logger) (*Storage, error) {
	return OpenWithConfig(migration.DefaultSQLiteConfig(path), logger)
}

// OpenWithConfig connects using an explicit configuration.
func OpenWithConfig(config migration.SQLiteConfig, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := migration.Open(config)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", config.Path, err)
	}
	return &Storage{
		db:     db,
		retry:  defaultBusyRetry(),
		logger: logger.With("component", "sqlite"),
	}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Storage) Migrate(ctx context.Context) error {
	migrations, err := migration.Embedded()
	if err != nil {
		return err
	}
	manager := migration.NewManager(migration.NewSQLiteExecutor(s.db), migrations, s.logger)
	_, err = manager.Run(ctx)
	return err
}

// Close releases the database handle.
func (s *Storage) Close() error {
	return s.db.Close()
}

// withTx runs fn in a write transaction, retrying when the database is busy.
func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.retry.do(ctx, func() error {
		return inTx(ctx, s.db, fn)
	})
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: invalid timestamp %q: %w", value, err)
	}
	return t.UTC(), nil
}

func parseNullTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	t, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func parseNullJSON(value sql.NullString) json.RawMessage {
	if !value.Valid || value.String == "" {
		return nil
	}
	return json.RawMessage(value.String)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func affected(result sql.Result) (int64, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
