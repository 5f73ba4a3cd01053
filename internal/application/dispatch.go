package application

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/teleconsult/internal/jobs"
)

// JobEnqueuer is the part of the job queue the services publish to.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, name string, payload []byte, opts jobs.EnqueueOptions) error
}

type reminderJob struct {
	ReminderID string `json:"reminderId"`
}

type notificationJob struct {
	NotificationID string `json:"notificationId"`
}

func decodeJob(job jobs.Job, into any) error {
	if err := json.Unmarshal(job.Payload, into); err != nil {
		return jobs.Permanent(fmt.Errorf("decode %s payload: %w", job.Name, err))
	}
	return nil
}

func enqueueJSON(ctx context.Context, queue JobEnqueuer, name string, payload any, opts jobs.EnqueueOptions) error {
	if queue == nil {
		return fmt.Errorf("job queue not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", name, err)
	}
	return queue.Enqueue(ctx, name, data, opts)
}
