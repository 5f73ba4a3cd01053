package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/teleconsult/internal/persistence"
	"github.com/example/teleconsult/internal/persistence/sqlite"
	"github.com/example/teleconsult/internal/persistence/sqlite/migration"
	"github.com/example/teleconsult/internal/persistence/storetest"
)

func openStorage(t *testing.T) *sqlite.Storage {
	t.Helper()

	config := migration.TempFileTestSQLiteConfig(filepath.Join(t.TempDir(), "teleconsult.db"))
	storage, err := sqlite.OpenWithConfig(config, nil)
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	if err := storage.Migrate(context.Background()); err != nil {
		_ = storage.Close()
		t.Fatalf("failed to migrate storage: %v", err)
	}
	return storage
}

func TestStorageSuite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) persistence.Store {
		return openStorage(t)
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	storage := openStorage(t)
	defer storage.Close()

	if err := storage.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}
