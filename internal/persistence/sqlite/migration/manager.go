package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Manager applies pending migrations in version order.
type Manager struct {
	executor   *SQLiteExecutor
	migrations []Migration
	logger     *slog.Logger
}

// NewManager creates a Manager for the given migrations.
func NewManager(executor *SQLiteExecutor, migrations []Migration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{executor: executor, migrations: migrations, logger: logger.With("component", "migration")}
}

// Pending returns migrations that have not been applied yet. Applied
// migrations whose checksum changed are reported as ErrChecksumMismatch.
func (m *Manager) Pending(ctx context.Context) ([]Migration, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.executor.AppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	checksums := make(map[string]string, len(applied))
	for _, a := range applied {
		checksums[a.Version] = a.Checksum
	}

	var pending []Migration
	for _, migration := range m.migrations {
		checksum, ok := checksums[migration.Version]
		if !ok {
			pending = append(pending, migration)
			continue
		}
		if checksum != "" && checksum != migration.Checksum {
			return nil, newError(migration.Version, migration.FilePath, "verify checksum", ErrChecksumMismatch)
		}
	}
	return pending, nil
}

// Run executes every pending migration and returns how many were applied.
func (m *Manager) Run(ctx context.Context) (int, error) {
	started := time.Now()

	pending, err := m.Pending(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to determine pending migrations", "error", err)
		return 0, err
	}
	if len(pending) == 0 {
		m.logger.DebugContext(ctx, "schema up to date")
		return 0, nil
	}

	for i, migration := range pending {
		logger := m.logger.With("version", migration.Version, "description", migration.Description)
		logger.InfoContext(ctx, "applying migration", "position", i+1, "total", len(pending))

		if err := m.executor.ExecuteMigration(ctx, migration); err != nil {
			logger.ErrorContext(ctx, "migration failed", "error", err)
			return i, newError(migration.Version, migration.FilePath, "execute migration",
				fmt.Errorf("%w: %v", ErrMigrationFailed, err))
		}
	}

	m.logger.InfoContext(ctx, "migrations applied", "count", len(pending), "duration", time.Since(started))
	return len(pending), nil
}
