package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/teleconsult/internal/persistence"
	"github.com/example/teleconsult/internal/persistence/memory"
	"github.com/example/teleconsult/internal/persistence/sqlite"
	"github.com/example/teleconsult/internal/persistence/sqlite/migration"
)

// NewSQLiteStore opens a migrated store over a temporary database file. The
// store is closed when the test finishes.
func NewSQLiteStore(tb testing.TB) persistence.Store {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "teleconsult.db")
	storage, err := sqlite.OpenWithConfig(migration.TempFileTestSQLiteConfig(path), nil)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	if err := storage.Migrate(context.Background()); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	tb.Cleanup(func() { _ = storage.Close() })
	return storage
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(tb testing.TB) persistence.Store {
	tb.Helper()
	store := memory.New()
	tb.Cleanup(func() { _ = store.Close() })
	return store
}

// Seed inserts consultations, reminders, notifications and device tokens
// into store, failing the test on the first error.
func Seed(tb testing.TB, store persistence.Store, records ...any) {
	tb.Helper()
	ctx := context.Background()

	for _, record := range records {
		var err error
		switch r := record.(type) {
		case ConsultationFixture:
			err = store.CreateConsultation(ctx, r.Consultation, r.Room)
		case persistence.Reminder:
			err = store.CreateReminder(ctx, r)
		case persistence.Notification:
			err = store.CreateNotification(ctx, r)
		case persistence.DeviceToken:
			err = store.UpsertDeviceToken(ctx, r)
		default:
			tb.Fatalf("cannot seed %T", record)
		}
		if err != nil {
			tb.Fatalf("failed to seed %T: %v", record, err)
		}
	}
}

// DropChatRoom removes the chat room of consultationID from store, leaving
// the consultation without one.
func DropChatRoom(tb testing.TB, store persistence.Store, consultationID string) {
	tb.Helper()

	dropper, ok := store.(interface {
		DeleteChatRoom(ctx context.Context, consultationID string) error
	})
	if !ok {
		tb.Fatalf("%T cannot drop chat rooms", store)
	}
	if err := dropper.DeleteChatRoom(context.Background(), consultationID); err != nil {
		tb.Fatalf("failed to drop chat room of %s: %v", consultationID, err)
	}
}
