// Package migration provides versioned schema migrations for the SQLite store.
//
// Migrations are SQL files named {version}_{description}.sql embedded into the
// binary. Each migration runs in its own transaction together with its row in
// the schema_migrations table, so a failed migration leaves no trace. Applied
// migrations are checksummed and an edited file is rejected on the next run.
//
// Example usage:
//
//	migrations, err := migration.Embedded()
//	if err != nil {
//		return err
//	}
//	manager := migration.NewManager(migration.NewSQLiteExecutor(db), migrations, logger)
//	if _, err := manager.Run(ctx); err != nil {
//		return err
//	}
package migration
