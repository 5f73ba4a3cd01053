package testfixtures

import (
	"context"
	"sync"

	"github.com/example/teleconsult/internal/jobs"
	"github.com/example/teleconsult/internal/push"
)

// PushCall records one multicast.
type PushCall struct {
	Tokens  []string
	Message push.Message
}

// RecordingSender is a push.Sender that records every call. When Err is set
// the call fails as a transport error.
type RecordingSender struct {
	mu    sync.Mutex
	calls []PushCall
	Err   error
}

// SendMulticast records the call and reports every token as delivered.
func (s *RecordingSender) SendMulticast(ctx context.Context, tokens []string, msg push.Message) (push.BatchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, PushCall{Tokens: append([]string(nil), tokens...), Message: msg})
	if s.Err != nil {
		return push.BatchResponse{}, s.Err
	}
	return push.BatchResponse{SuccessCount: len(tokens)}, nil
}

// Calls returns the recorded multicasts.
func (s *RecordingSender) Calls() []PushCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PushCall(nil), s.calls...)
}

// QueuedJob is a job captured by RecordingQueue.
type QueuedJob struct {
	Job       jobs.Job
	DedupeKey string
	Policy    jobs.RetryPolicy
}

// RecordingQueue captures enqueued jobs so tests can run workers
// synchronously. A job whose dedupe key is still queued is dropped, matching
// the queue implementations.
type RecordingQueue struct {
	mu      sync.Mutex
	ids     *IDGenerator
	pending []QueuedJob
	all     []QueuedJob
	Err     error
}

// NewRecordingQueue returns an empty queue.
func NewRecordingQueue() *RecordingQueue {
	return &RecordingQueue{ids: NewIDGenerator("job")}
}

// Enqueue records the job.
func (q *RecordingQueue) Enqueue(ctx context.Context, name string, payload []byte, opts jobs.EnqueueOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return q.Err
	}
	if opts.DedupeKey != "" {
		for _, queued := range q.pending {
			if queued.Job.Name == name && queued.DedupeKey == opts.DedupeKey {
				return nil
			}
		}
	}
	queued := QueuedJob{
		Job: jobs.Job{
			ID:          q.ids.Next(),
			Name:        name,
			Payload:     append([]byte(nil), payload...),
			Attempt:     1,
			MaxAttempts: opts.Policy.Attempts,
		},
		DedupeKey: opts.DedupeKey,
		Policy:    opts.Policy,
	}
	q.pending = append(q.pending, queued)
	q.all = append(q.all, queued)
	return nil
}

// Pending returns the jobs that have not been drained yet.
func (q *RecordingQueue) Pending() []QueuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]QueuedJob(nil), q.pending...)
}

// All returns every accepted job.
func (q *RecordingQueue) All() []QueuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]QueuedJob(nil), q.all...)
}

// Drain removes the pending jobs named name and runs handler on each, in
// enqueue order. Handler errors are collected and returned; failed jobs are
// not requeued.
func (q *RecordingQueue) Drain(ctx context.Context, name string, handler jobs.Handler) []error {
	q.mu.Lock()
	var selected, rest []QueuedJob
	for _, queued := range q.pending {
		if queued.Job.Name == name {
			selected = append(selected, queued)
		} else {
			rest = append(rest, queued)
		}
	}
	q.pending = rest
	q.mu.Unlock()

	var errs []error
	for _, queued := range selected {
		if err := handler(ctx, queued.Job); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
