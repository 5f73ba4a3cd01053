package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryOptions configures a MemoryQueue.
type MemoryOptions struct {
	// Workers is the number of goroutines started per Consume call.
	Workers int
	// Buffer is the channel capacity of each named queue.
	Buffer int
	Logger *slog.Logger
	// NewID generates job identifiers. Defaults to random UUIDs.
	NewID func() string
}

type envelope struct {
	job       Job
	policy    RetryPolicy
	dedupeKey string
}

// MemoryQueue is an in-process Queue built on buffered channels. Retries are
// scheduled with timers; jobs that exhaust their attempts are logged as dead
// letters and dropped.
type MemoryQueue struct {
	mu      sync.Mutex
	queues  map[string]chan envelope
	pending map[string]struct{}
	timers  map[*time.Timer]struct{}
	closed  bool

	workers int
	buffer  int
	logger  *slog.Logger
	newID   func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue constructs an empty queue.
func NewMemoryQueue(opts MemoryOptions) *MemoryQueue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 100
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{
		queues:  make(map[string]chan envelope),
		pending: make(map[string]struct{}),
		timers:  make(map[*time.Timer]struct{}),
		workers: opts.Workers,
		buffer:  opts.Buffer,
		logger:  opts.Logger.With("component", "jobs.memory"),
		newID:   opts.NewID,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// queue returns the channel for name, creating it on first use. Callers hold q.mu.
func (q *MemoryQueue) queue(name string) chan envelope {
	ch, ok := q.queues[name]
	if !ok {
		ch = make(chan envelope, q.buffer)
		q.queues[name] = ch
	}
	return ch
}

func pendingKey(name, dedupeKey string) string {
	return name + "/" + dedupeKey
}

// Enqueue adds a job. A job whose dedupe key is still pending is dropped silently.
func (q *MemoryQueue) Enqueue(ctx context.Context, name string, payload []byte, opts EnqueueOptions) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if opts.DedupeKey != "" {
		key := pendingKey(name, opts.DedupeKey)
		if _, ok := q.pending[key]; ok {
			q.mu.Unlock()
			q.logger.DebugContext(ctx, "job already pending", "job_name", name, "dedupe_key", opts.DedupeKey)
			return nil
		}
		q.pending[key] = struct{}{}
	}
	ch := q.queue(name)
	q.mu.Unlock()

	policy := opts.Policy.normalized()
	env := envelope{
		job: Job{
			ID:          q.newID(),
			Name:        name,
			Payload:     append([]byte(nil), payload...),
			Attempt:     1,
			MaxAttempts: policy.Attempts,
		},
		policy:    policy,
		dedupeKey: opts.DedupeKey,
	}

	select {
	case ch <- env:
		return nil
	case <-ctx.Done():
		q.release(env)
		return ctx.Err()
	case <-q.ctx.Done():
		q.release(env)
		return ErrQueueClosed
	}
}

// Consume starts the configured number of workers for name.
func (q *MemoryQueue) Consume(ctx context.Context, name string, handler Handler) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	ch := q.queue(name)
	q.wg.Add(q.workers)
	q.mu.Unlock()

	for i := 0; i < q.workers; i++ {
		go func() {
			defer q.wg.Done()
			for {
				select {
				case env := <-ch:
					q.process(ctx, env, handler)
				case <-ctx.Done():
					return
				case <-q.ctx.Done():
					return
				}
			}
		}()
	}
	q.logger.InfoContext(ctx, "consumer started", "job_name", name, "workers", q.workers)
	return nil
}

func (q *MemoryQueue) process(ctx context.Context, env envelope, handler Handler) {
	job := env.job
	logger := q.logger.With("job_name", job.Name, "job_id", job.ID, "attempt", job.Attempt)

	err := handler(ctx, job)
	switch {
	case err == nil:
		q.release(env)
		logger.DebugContext(ctx, "job completed")
	case IsPermanent(err):
		q.release(env)
		logger.ErrorContext(ctx, "job failed permanently", "error", err)
	case job.Attempt >= job.MaxAttempts:
		q.release(env)
		logger.ErrorContext(ctx, "job dead-lettered", "error", err, "max_attempts", job.MaxAttempts)
	default:
		delay := env.policy.Delay(job.Attempt)
		logger.WarnContext(ctx, "job failed, retry scheduled", "error", err, "retry_in", delay)
		env.job.Attempt++
		q.retryAfter(delay, env)
	}
}

func (q *MemoryQueue) retryAfter(delay time.Duration, env envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		if q.closed {
			q.mu.Unlock()
			return
		}
		ch := q.queue(env.job.Name)
		q.mu.Unlock()

		select {
		case ch <- env:
		case <-q.ctx.Done():
		}
	})
	q.timers[timer] = struct{}{}
}

func (q *MemoryQueue) release(env envelope) {
	if env.dedupeKey == "" {
		return
	}
	q.mu.Lock()
	delete(q.pending, pendingKey(env.job.Name, env.dedupeKey))
	q.mu.Unlock()
}

// Close stops the workers and pending retries and waits for in-flight
// handlers to return.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = make(map[*time.Timer]struct{})
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	return nil
}
