package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/teleconsult/internal/application"
	"github.com/example/teleconsult/internal/chat"
	"github.com/example/teleconsult/internal/config"
	"github.com/example/teleconsult/internal/jobs"
	"github.com/example/teleconsult/internal/persistence"
	"github.com/example/teleconsult/internal/push"
	"github.com/example/teleconsult/internal/sweep"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStoreSQLiteAppliesMigrations(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{Store: config.StoreSQLite, SQLiteDSN: filepath.Join(t.TempDir(), "teleconsult.db")}

	store, err := openStore(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("openStore() error = %v", err)
	}
	defer store.Close()

	reminder := persistence.Reminder{
		ID:         "reminder-1",
		UserID:     "patient-1",
		Title:      "Check glucose",
		Type:       "MEASUREMENT",
		RepeatType: persistence.RepeatDaily,
		StartAt:    time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC),
		IsActive:   true,
		CreatedAt:  time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
	}
	if err := store.CreateReminder(ctx, reminder); err != nil {
		t.Fatalf("CreateReminder() error = %v", err)
	}
	active, err := store.ListActiveReminders(ctx)
	if err != nil {
		t.Fatalf("ListActiveReminders() error = %v", err)
	}
	if len(active) != 1 || active[0].ID != reminder.ID {
		t.Fatalf("ListActiveReminders() = %+v, want the created reminder", active)
	}
}

func TestOpenStoreMemory(t *testing.T) {
	store, err := openStore(context.Background(), config.Config{Store: config.StoreMemory}, testLogger())
	if err != nil {
		t.Fatalf("openStore() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestBackplaneWithoutNATSIsInProcess(t *testing.T) {
	bp, err := newBackplane(context.Background(), config.Config{Workers: 2}, testLogger())
	if err != nil {
		t.Fatalf("newBackplane() error = %v", err)
	}
	defer bp.Close()

	if _, ok := bp.Queue.(*jobs.MemoryQueue); !ok {
		t.Errorf("queue = %T, want *jobs.MemoryQueue", bp.Queue)
	}
	if _, ok := bp.Fanout.(*chat.LocalFanout); !ok {
		t.Errorf("fanout = %T, want *chat.LocalFanout", bp.Fanout)
	}
	if _, ok := bp.Sender.(*push.LogSender); !ok {
		t.Errorf("sender = %T, want *push.LogSender", bp.Sender)
	}
}

func TestLeaseWithoutRedisIsLocal(t *testing.T) {
	lease, closeLease, err := newLease(context.Background(), config.Config{}, testLogger())
	if err != nil {
		t.Fatalf("newLease() error = %v", err)
	}
	defer closeLease()
	if _, ok := lease.(*sweep.LocalLease); !ok {
		t.Fatalf("lease = %T, want *sweep.LocalLease", lease)
	}
}

func TestNewRunnersCoversEverySweep(t *testing.T) {
	cfg := config.Config{
		ConsultationSweep: time.Minute,
		ReminderSweep:     time.Minute,
		NotificationSweep: time.Minute,
	}
	runners, err := newRunners(cfg, sweep.NewLocalLease(time.Now), testLogger(),
		&application.ConsultationService{}, &application.ReminderService{}, &application.NotificationService{})
	if err != nil {
		t.Fatalf("newRunners() error = %v", err)
	}

	want := []string{"consultation-lifecycle", "reminder-dispatch", "notification-dispatch"}
	if len(runners) != len(want) {
		t.Fatalf("len(runners) = %d, want %d", len(runners), len(want))
	}
	for i, runner := range runners {
		if runner.Name() != want[i] {
			t.Errorf("runners[%d].Name() = %q, want %q", i, runner.Name(), want[i])
		}
	}

	cfg.ReminderSweep = 0
	if _, err := newRunners(cfg, nil, testLogger(), nil, nil, nil); err == nil {
		t.Fatal("newRunners() with a zero interval should fail")
	}
}
