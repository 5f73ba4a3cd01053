package jobs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	header := policyHeader(RetryPolicy{Attempts: 5, Backoff: 250 * time.Millisecond})
	assert.Equal(t, RetryPolicy{Attempts: 5, Backoff: 250 * time.Millisecond}, policyFromHeader(header))

	assert.Equal(t, DefaultRetryPolicy(), policyFromHeader(nats.Header{}))

	broken := nats.Header{}
	broken.Set(headerAttempts, "many")
	broken.Set(headerBackoff, "soon")
	assert.Equal(t, DefaultRetryPolicy(), policyFromHeader(broken))
}

func TestDurableName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "worker_reminder_deliver", durableName(ReminderDeliver))
	assert.Equal(t, "worker_notification_deliver", durableName(NotificationDeliver))
	assert.Equal(t, "jobs.reminder.deliver", subjectFor(ReminderDeliver))
}

func TestJetStreamQueue(t *testing.T) {
	url := os.Getenv("TELECONSULT_TEST_NATS_URL")
	if url == "" {
		t.Skip("TELECONSULT_TEST_NATS_URL not set")
	}

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	q, err := NewJetStreamQueue(ctx, nc, JetStreamOptions{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Storage: jetstream.MemoryStorage,
	})
	require.NoError(t, err)
	defer q.Close()

	name := "test.deliver." + time.Now().Format("150405.000000000")
	attempts := make(chan int, 4)
	require.NoError(t, q.Consume(ctx, name, func(ctx context.Context, job Job) error {
		attempts <- job.Attempt
		if job.Attempt < 2 {
			return assert.AnError
		}
		return nil
	}))

	opts := EnqueueOptions{Policy: RetryPolicy{Attempts: 3, Backoff: 50 * time.Millisecond}, DedupeKey: name}
	require.NoError(t, q.Enqueue(ctx, name, []byte("payload"), opts))
	require.NoError(t, q.Enqueue(ctx, name, []byte("payload"), opts))

	var seen []int
	for len(seen) < 2 {
		select {
		case a := <-attempts:
			seen = append(seen, a)
		case <-ctx.Done():
			t.Fatalf("timed out, attempts seen: %v", seen)
		}
	}
	assert.Equal(t, []int{1, 2}, seen)

	select {
	case a := <-attempts:
		t.Fatalf("unexpected extra delivery with attempt %d", a)
	case <-time.After(200 * time.Millisecond):
	}
}
