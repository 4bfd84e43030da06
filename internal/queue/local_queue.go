package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
)

// LocalJobQueue runs publish jobs in-process on timers. Jobs do not survive
// a restart by themselves; the startup reconciliation re-arms them from the
// store. It shares the asynq handler and middleware path with the redis
// backed queue.
type LocalJobQueue struct {
	handler    asynq.Handler
	sem        chan struct{}
	retryDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	jobs   map[string]*localJob
	seq    uint64
	closed bool
}

type localJob struct {
	seq       uint64
	payload   []byte
	timer     *time.Timer
	active    bool
	cancelled bool
}

// NewLocalJobQueue runs handler with at most concurrency jobs at a time.
func NewLocalJobQueue(handler asynq.Handler, concurrency int) *LocalJobQueue {
	if concurrency <= 0 {
		concurrency = 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalJobQueue{
		handler:    handler,
		sem:        make(chan struct{}, concurrency),
		retryDelay: NetworkRetryDelay,
		ctx:        ctx,
		cancel:     cancel,
		jobs:       map[string]*localJob{},
	}
}

func (q *LocalJobQueue) Enqueue(ctx context.Context, jobID string, payload PublishPostPayload, delay time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errors.New("job queue is closed")
	}
	if prev, ok := q.jobs[jobID]; ok {
		if prev.active {
			return fmt.Errorf("%w: %s", ErrJobActive, jobID)
		}
		prev.timer.Stop()
		delete(q.jobs, jobID)
	}

	q.seq++
	job := &localJob{seq: q.seq, payload: body}
	q.jobs[jobID] = job
	job.timer = q.arm(jobID, job.seq, delay)

	slog.Info("Task scheduled", "task_id", jobID, "delay", delay.Round(time.Millisecond))
	return nil
}

// Cancel drops a waiting job. A running job finishes but is never re-armed.
func (q *LocalJobQueue) Cancel(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return nil
	}
	if job.active {
		job.cancelled = true
		return nil
	}
	job.timer.Stop()
	delete(q.jobs, jobID)
	return nil
}

func (q *LocalJobQueue) Pending(ctx context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	return ok && !job.cancelled, nil
}

// Close stops all timers, cancels running jobs and waits for them. The
// worker writes a cancelled run's post back as SCHEDULED before returning.
func (q *LocalJobQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	for id, job := range q.jobs {
		if job.timer != nil {
			job.timer.Stop()
		}
		if !job.active {
			delete(q.jobs, id)
		}
	}
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	return nil
}

func (q *LocalJobQueue) arm(jobID string, seq uint64, delay time.Duration) *time.Timer {
	return time.AfterFunc(delay, func() {
		q.fire(jobID, seq)
	})
}

// current reports whether seq is still the registration under jobID.
func (q *LocalJobQueue) current(jobID string, seq uint64) (*localJob, bool) {
	job, ok := q.jobs[jobID]
	if !ok || job.seq != seq {
		return nil, false
	}
	return job, true
}

func (q *LocalJobQueue) fire(jobID string, seq uint64) {
	select {
	case q.sem <- struct{}{}:
	case <-q.ctx.Done():
		return
	}
	defer func() { <-q.sem }()

	q.mu.Lock()
	job, ok := q.current(jobID, seq)
	if !ok || q.closed {
		q.mu.Unlock()
		return
	}
	job.active = true
	payload := job.payload
	q.wg.Add(1)
	q.mu.Unlock()
	defer q.wg.Done()

	err := q.handler.ProcessTask(q.ctx, asynq.NewTask(TaskTypePublishPost, payload))

	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok = q.current(jobID, seq)
	if !ok {
		return
	}
	job.active = false

	if errors.Is(err, ErrNetworkUnavailable) && !job.cancelled && !q.closed {
		slog.Info("Network unavailable, deferring task", "task_id", jobID, "retry_in", q.retryDelay)
		job.timer = q.arm(jobID, seq, q.retryDelay)
		return
	}
	if err != nil && !errors.Is(err, ErrNetworkUnavailable) {
		slog.Warn("Task failed", "task_id", jobID, "error", err)
	}
	delete(q.jobs, jobID)
}
