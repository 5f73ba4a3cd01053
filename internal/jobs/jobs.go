// Package jobs provides the at-least-once job queue used by the reminder and
// notification workers.
//
// Two implementations are available: MemoryQueue for single process
// deployments and tests, and JetStreamQueue backed by a NATS JetStream work
// queue stream. Handlers must be idempotent; a job may be delivered more than
// once.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Job names used by the workers.
const (
	ReminderDeliver     = "reminder.deliver"
	NotificationDeliver = "notification.deliver"
)

// ErrQueueClosed is returned when enqueueing or consuming on a closed queue.
var ErrQueueClosed = errors.New("jobs: queue closed")

// Job is a single delivery of a queued payload.
type Job struct {
	ID          string
	Name        string
	Payload     []byte
	Attempt     int
	MaxAttempts int
}

// Handler processes a job. A nil error acknowledges it; any other error
// schedules a retry unless the error is permanent or the attempts are spent.
type Handler func(ctx context.Context, job Job) error

// RetryPolicy bounds redelivery of a failing job.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy is three attempts with exponential backoff starting at five seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 5 * time.Second}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	return p
}

// Delay returns how long to wait before the attempt following the given one.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.Backoff
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// EnqueueOptions configures a single Enqueue call.
type EnqueueOptions struct {
	Policy RetryPolicy
	// DedupeKey suppresses a second enqueue of the same logical job while the
	// first one is still pending.
	DedupeKey string
}

// Queue is the job queue capability consumed by the services.
type Queue interface {
	Enqueue(ctx context.Context, name string, payload []byte, opts EnqueueOptions) error
	// Consume registers handler for name and returns once consumption started.
	// Delivery stops when ctx is cancelled or the queue is closed.
	Consume(ctx context.Context, name string, handler Handler) error
	Close() error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return fmt.Sprintf("permanent: %v", e.err) }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
