package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

var ErrJobActive = errors.New("publish job is already running")

// JobQueue is a durable delayed-job facility.
//
// Enqueue replaces any job already registered under jobID instead of adding
// a second one. Cancel of an unknown job is a no-op.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string, payload PublishPostPayload, delay time.Duration) error
	Cancel(ctx context.Context, jobID string) error
	Pending(ctx context.Context, jobID string) (bool, error)
}

func JobID(postID string) string {
	return "post_" + postID
}

// Scheduler turns "publish post P at T" into a job keyed by the post id.
// Firing is no earlier than T and only once the network precondition holds.
type Scheduler struct {
	jobs JobQueue
	now  func() time.Time
}

func NewScheduler(jobs JobQueue) *Scheduler {
	return &Scheduler{jobs: jobs, now: time.Now}
}

// Schedule arms the post at its own scheduled time.
func (s *Scheduler) Schedule(ctx context.Context, post *models.Post) error {
	return s.ScheduleAt(ctx, post, post.ScheduledAt)
}

func (s *Scheduler) ScheduleAt(ctx context.Context, post *models.Post, runAt time.Time) error {
	delay := runAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	err := s.jobs.Enqueue(ctx, JobID(post.ID), PublishPostPayload{PostID: post.ID}, delay)
	if err != nil {
		slog.Error("Failed to schedule post", "post_id", post.ID, "error", err)
		return err
	}

	slog.Info("Post scheduled", "post_id", post.ID, "delay", delay.Round(time.Millisecond))
	return nil
}

func (s *Scheduler) Cancel(ctx context.Context, postID string) error {
	if err := s.jobs.Cancel(ctx, JobID(postID)); err != nil {
		slog.Error("Failed to cancel post", "post_id", postID, "error", err)
		return err
	}
	return nil
}

func (s *Scheduler) Pending(ctx context.Context, postID string) (bool, error) {
	return s.jobs.Pending(ctx, JobID(postID))
}
