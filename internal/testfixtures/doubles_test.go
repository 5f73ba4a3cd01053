package testfixtures

import (
	"context"
	"errors"
	"testing"

	"github.com/example/teleconsult/internal/jobs"
)

func TestRecordingQueueDedupesPendingJobs(t *testing.T) {
	queue := NewRecordingQueue()
	ctx := context.Background()
	opts := jobs.EnqueueOptions{Policy: jobs.DefaultRetryPolicy(), DedupeKey: "reminder:r-1"}

	for i := 0; i < 2; i++ {
		if err := queue.Enqueue(ctx, jobs.ReminderDeliver, []byte(`{}`), opts); err != nil {
			t.Fatalf("Enqueue returned error: %v", err)
		}
	}
	if err := queue.Enqueue(ctx, jobs.NotificationDeliver, []byte(`{}`), opts); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	if got := len(queue.Pending()); got != 2 {
		t.Fatalf("expected 2 pending jobs, got %d", got)
	}

	var handled []string
	errs := queue.Drain(ctx, jobs.ReminderDeliver, func(ctx context.Context, job jobs.Job) error {
		handled = append(handled, job.ID)
		return errors.New("boom")
	})
	if len(handled) != 1 || len(errs) != 1 {
		t.Fatalf("expected one handled job and one error, got %v / %v", handled, errs)
	}
	if got := len(queue.Pending()); got != 1 {
		t.Fatalf("expected the notification job to remain, got %d", got)
	}

	if err := queue.Enqueue(ctx, jobs.ReminderDeliver, []byte(`{}`), opts); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	if got := len(queue.All()); got != 3 {
		t.Fatalf("expected drained key to be reusable, got %d jobs", got)
	}
}

func TestServiceFactorySharesClockAndIDs(t *testing.T) {
	factory := NewServiceFactory()
	store := NewMemoryStore(t)
	svc := factory.NewReminderService(store, NewRecordingQueue(), &RecordingSender{})

	if svc == nil {
		t.Fatalf("expected service")
	}
	if got := factory.IDGenerator.Next(); got != "id-1" {
		t.Fatalf("expected fresh generator, got %q", got)
	}
	if !factory.Clock.Now().Equal(ReferenceTime()) {
		t.Fatalf("expected reference clock")
	}
}
