package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the JetStream stream holding queued jobs.
	StreamName    = "JOBS"
	subjectPrefix = "jobs."

	headerAttempts = "Teleconsult-Job-Attempts"
	headerBackoff  = "Teleconsult-Job-Backoff"
)

// JetStreamOptions configures a JetStreamQueue.
type JetStreamOptions struct {
	Logger *slog.Logger
	NewID  func() string
	// AckWait bounds how long a handler may run before the job is redelivered.
	AckWait time.Duration
	// DuplicateWindow is how long the stream remembers message ids for dedupe.
	DuplicateWindow time.Duration
	Storage         jetstream.StorageType
}

// JetStreamQueue is a Queue backed by a work queue stream. Each job name gets
// a durable consumer with explicit acks; failed jobs are negatively
// acknowledged with the policy delay and terminated after the last attempt.
type JetStreamQueue struct {
	js      jetstream.JetStream
	logger  *slog.Logger
	newID   func() string
	ackWait time.Duration

	mu       sync.Mutex
	consumes []jetstream.ConsumeContext
	closed   bool
}

var _ Queue = (*JetStreamQueue)(nil)

// NewJetStreamQueue ensures the JOBS stream exists and returns a queue using it.
func NewJetStreamQueue(ctx context.Context, nc *nats.Conn, opts JetStreamOptions) (*JetStreamQueue, error) {
	if nc == nil {
		return nil, fmt.Errorf("jobs: nats connection is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.AckWait <= 0 {
		opts.AckWait = 30 * time.Second
	}
	if opts.DuplicateWindow <= 0 {
		opts.DuplicateWindow = 2 * time.Minute
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jobs: create jetstream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Queued reminder and notification deliveries",
		Subjects:    []string{subjectPrefix + ">"},
		Retention:   jetstream.WorkQueuePolicy,
		Storage:     opts.Storage,
		Duplicates:  opts.DuplicateWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("jobs: ensure stream %s: %w", StreamName, err)
	}

	return &JetStreamQueue{
		js:      js,
		logger:  opts.Logger.With("component", "jobs.jetstream"),
		newID:   opts.NewID,
		ackWait: opts.AckWait,
	}, nil
}

func subjectFor(name string) string {
	return subjectPrefix + name
}

// durableName turns a job name into a valid consumer name.
func durableName(name string) string {
	return "worker_" + strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(name)
}

func policyHeader(policy RetryPolicy) nats.Header {
	header := nats.Header{}
	header.Set(headerAttempts, strconv.Itoa(policy.Attempts))
	header.Set(headerBackoff, policy.Backoff.String())
	return header
}

func policyFromHeader(header nats.Header) RetryPolicy {
	policy := DefaultRetryPolicy()
	if v := header.Get(headerAttempts); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			policy.Attempts = n
		}
	}
	if v := header.Get(headerBackoff); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			policy.Backoff = d
		}
	}
	return policy.normalized()
}

// Enqueue publishes a job. The dedupe key becomes the message id so the
// stream drops repeats inside its duplicate window.
func (q *JetStreamQueue) Enqueue(ctx context.Context, name string, payload []byte, opts EnqueueOptions) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrQueueClosed
	}

	msgID := opts.DedupeKey
	if msgID == "" {
		msgID = q.newID()
	}
	msg := &nats.Msg{
		Subject: subjectFor(name),
		Data:    payload,
		Header:  policyHeader(opts.Policy.normalized()),
	}
	ack, err := q.js.PublishMsg(ctx, msg, jetstream.WithMsgID(msgID))
	if err != nil {
		return fmt.Errorf("jobs: publish %s: %w", name, err)
	}
	if ack.Duplicate {
		q.logger.DebugContext(ctx, "job already pending", "job_name", name, "dedupe_key", opts.DedupeKey)
	}
	return nil
}

// Consume binds a durable consumer for name and dispatches its messages to handler.
func (q *JetStreamQueue) Consume(ctx context.Context, name string, handler Handler) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.mu.Unlock()

	consumer, err := q.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       durableName(name),
		FilterSubject: subjectFor(name),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.ackWait,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("jobs: create consumer for %s: %w", name, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		q.handle(ctx, name, msg, handler)
	})
	if err != nil {
		return fmt.Errorf("jobs: consume %s: %w", name, err)
	}

	q.mu.Lock()
	q.consumes = append(q.consumes, cc)
	q.mu.Unlock()

	go func() {
		<-ctx.Done()
		cc.Stop()
	}()

	q.logger.InfoContext(ctx, "consumer started", "job_name", name, "durable", durableName(name))
	return nil
}

func (q *JetStreamQueue) handle(ctx context.Context, name string, msg jetstream.Msg, handler Handler) {
	policy := policyFromHeader(msg.Headers())
	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}

	job := Job{
		ID:          msg.Headers().Get(nats.MsgIdHdr),
		Name:        name,
		Payload:     msg.Data(),
		Attempt:     attempt,
		MaxAttempts: policy.Attempts,
	}
	logger := q.logger.With("job_name", name, "job_id", job.ID, "attempt", attempt)

	err := handler(ctx, job)
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			logger.WarnContext(ctx, "failed to ack job", "error", ackErr)
		}
	case IsPermanent(err):
		logger.ErrorContext(ctx, "job failed permanently", "error", err)
		_ = msg.Term()
	case attempt >= policy.Attempts:
		logger.ErrorContext(ctx, "job dead-lettered", "error", err, "max_attempts", policy.Attempts)
		_ = msg.Term()
	default:
		delay := policy.Delay(attempt)
		logger.WarnContext(ctx, "job failed, retry scheduled", "error", err, "retry_in", delay)
		if nakErr := msg.NakWithDelay(delay); nakErr != nil {
			logger.WarnContext(ctx, "failed to nak job", "error", nakErr)
		}
	}
}

// Close stops every consumer started through this queue. The NATS connection
// is owned by the caller.
func (q *JetStreamQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for _, cc := range q.consumes {
		cc.Stop()
	}
	q.consumes = nil
	return nil
}
