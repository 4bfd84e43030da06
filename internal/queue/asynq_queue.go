package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// AsynqJobQueue keeps publish jobs in redis so they survive restarts. The
// job id doubles as the asynq task id, which is what makes it unique.
type AsynqJobQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
}

func NewAsynqJobQueue(redisConn asynq.RedisConnOpt) *AsynqJobQueue {
	return &AsynqJobQueue{
		client:    asynq.NewClient(redisConn),
		inspector: asynq.NewInspector(redisConn),
		queue:     QueueName,
	}
}

func (q *AsynqJobQueue) Enqueue(ctx context.Context, jobID string, payload PublishPostPayload, delay time.Duration) error {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	active, err := q.remove(jobID)
	if err != nil {
		return err
	}
	if active {
		return fmt.Errorf("%w: %s", ErrJobActive, jobID)
	}

	task := asynq.NewTask(TaskTypePublishPost, taskPayload)
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.TaskID(jobID),
		asynq.Queue(q.queue),
		asynq.ProcessIn(delay),
		// Retrying is the user's call through an explicit retry.
		asynq.MaxRetry(0),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", jobID, err)
	}

	slog.Info("Task scheduled", "task_id", jobID, "delay", delay.Round(time.Millisecond))
	return nil
}

// Cancel drops a waiting job. A job that is already running is left to
// finish; it has no successor because tasks are never retried.
func (q *AsynqJobQueue) Cancel(ctx context.Context, jobID string) error {
	active, err := q.remove(jobID)
	if err != nil {
		return err
	}
	if active {
		slog.Info("Task already running, letting it finish", "task_id", jobID)
	}
	return nil
}

func (q *AsynqJobQueue) Pending(ctx context.Context, jobID string) (bool, error) {
	info, err := q.inspector.GetTaskInfo(q.queue, jobID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}

	switch info.State {
	case asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateRetry, asynq.TaskStateActive:
		return true, nil
	}
	return false, nil
}

func (q *AsynqJobQueue) Close() error {
	ierr := q.inspector.Close()
	if err := q.client.Close(); err != nil {
		return err
	}
	return ierr
}

// remove deletes the task registered under jobID in any non-running
// state, including archived and completed ones that would otherwise block
// the id. It reports whether the task is currently running.
func (q *AsynqJobQueue) remove(jobID string) (bool, error) {
	info, err := q.inspector.GetTaskInfo(q.queue, jobID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if info.State == asynq.TaskStateActive {
		return true, nil
	}

	if err := q.inspector.DeleteTask(q.queue, jobID); err != nil && !isNotFound(err) {
		return false, fmt.Errorf("delete %s: %w", jobID, err)
	}
	return false, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound)
}
