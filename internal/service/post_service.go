package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
)

const (
	RetryDelay      = 10 * time.Second
	DuplicateOffset = 24 * time.Hour
)

var (
	ErrNoPlatforms       = errors.New("at least one platform is required")
	ErrMissingMedia      = errors.New("media uri is required")
	ErrWorkerOwnedStatus = errors.New("UPLOADING is set by the publish worker only")
	ErrMissingLastError  = errors.New("FAILED posts need an error message")
)

// PostScheduler arms and disarms publish jobs keyed by post id.
type PostScheduler interface {
	Schedule(ctx context.Context, post *models.Post) error
	ScheduleAt(ctx context.Context, post *models.Post, runAt time.Time) error
	Cancel(ctx context.Context, postID string) error
	Pending(ctx context.Context, postID string) (bool, error)
}

// PostService is the only way posts are mutated outside the publish
// worker. Each call writes the store first and then touches the
// scheduler; a scheduler error is returned without undoing the write.
type PostService interface {
	Create(ctx context.Context, post *models.Post) (*models.Post, error)
	Update(ctx context.Context, post *models.Post) error
	Delete(ctx context.Context, postID string) error
	Retry(ctx context.Context, postID string) error
	Duplicate(ctx context.Context, postID string) (*models.Post, error)
	Get(ctx context.Context, postID string) (*models.Post, error)
	Stats(ctx context.Context) (*transfer.PostStats, error)
	Reconcile(ctx context.Context) (int, error)
}

type postService struct {
	pr    repository.PostRepository
	sched PostScheduler
	now   func() time.Time
}

func NewPostService(pr repository.PostRepository, sched PostScheduler) PostService {
	return &postService{
		pr:    pr,
		sched: sched,
		now:   time.Now,
	}
}

func (s *postService) Create(ctx context.Context, post *models.Post) (*models.Post, error) {
	if post == nil {
		return nil, errors.New("post is nil")
	}
	p := post.Clone()
	now := s.now()

	if p.ID == "" {
		id, err := NewPostID()
		if err != nil {
			return nil, err
		}
		p.ID = id
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.ScheduledAt.IsZero() {
		p.ScheduledAt = now
	}
	p.CreatedAt = models.MillisTime(p.CreatedAt)
	p.ScheduledAt = models.MillisTime(p.ScheduledAt)

	if err := prepare(p); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	p.Status = models.PostStatusScheduled
	p.LastError = nil

	if err := s.pr.Insert(ctx, p); err != nil {
		return nil, fmt.Errorf("error creating post: %w", err)
	}
	if err := s.sched.Schedule(ctx, p); err != nil {
		return p, fmt.Errorf("error scheduling post: %w", err)
	}

	return p, nil
}

func (s *postService) Update(ctx context.Context, post *models.Post) error {
	if post == nil {
		return errors.New("post is nil")
	}
	p := post.Clone()
	if err := prepare(p); err != nil {
		return err
	}

	switch p.Status {
	case models.PostStatusUploading:
		return ErrWorkerOwnedStatus
	case models.PostStatusFailed:
		if p.ErrorMessage() == "" {
			return ErrMissingLastError
		}
	default:
		p.LastError = nil
	}
	p.ScheduledAt = models.MillisTime(p.ScheduledAt)

	if err := s.pr.Update(ctx, p); err != nil {
		return fmt.Errorf("error updating post: %w", err)
	}

	if p.Status == models.PostStatusScheduled {
		if err := s.sched.Schedule(ctx, p); err != nil {
			return fmt.Errorf("error scheduling post: %w", err)
		}
	}
	return nil
}

func (s *postService) Delete(ctx context.Context, postID string) error {
	if err := s.pr.Remove(ctx, postID); err != nil {
		return fmt.Errorf("error removing post: %w", err)
	}
	if err := s.sched.Cancel(ctx, postID); err != nil {
		return fmt.Errorf("error cancelling post: %w", err)
	}
	return nil
}

// Retry re-arms a post ten seconds from now whatever its current status.
func (s *postService) Retry(ctx context.Context, postID string) error {
	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil {
		return nil
	}

	retryAt := models.MillisTime(s.now().Add(RetryDelay))
	updated := post.WithStatus(models.PostStatusScheduled, "")
	updated.ScheduledAt = retryAt

	if err := s.pr.Update(ctx, updated); err != nil {
		if errors.Is(err, repository.ErrPostNotFound) {
			return nil
		}
		return fmt.Errorf("error updating post: %w", err)
	}
	if err := s.sched.ScheduleAt(ctx, updated, retryAt); err != nil {
		return fmt.Errorf("error scheduling post: %w", err)
	}

	slog.Info("Post retry scheduled", "post_id", postID, "run_at", retryAt)
	return nil
}

func (s *postService) Duplicate(ctx context.Context, postID string) (*models.Post, error) {
	original, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, nil
	}

	id, err := NewPostID()
	if err != nil {
		return nil, err
	}

	dup := original.WithStatus(models.PostStatusScheduled, "")
	dup.ID = id
	dup.ScheduledAt = original.ScheduledAt.Add(DuplicateOffset)
	dup.CreatedAt = s.now()

	return s.Create(ctx, dup)
}

func (s *postService) Get(ctx context.Context, postID string) (*models.Post, error) {
	return s.pr.GetByID(ctx, postID)
}

func (s *postService) Stats(ctx context.Context) (*transfer.PostStats, error) {
	counts, err := s.pr.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &transfer.PostStats{
		Scheduled: counts[models.PostStatusScheduled],
		Uploading: counts[models.PostStatusUploading],
		Posted:    counts[models.PostStatusPosted],
		Failed:    counts[models.PostStatusFailed],
	}
	stats.Total = stats.Scheduled + stats.Uploading + stats.Posted + stats.Failed
	return stats, nil
}

// Reconcile re-arms posts that should have a job but do not: SCHEDULED
// posts whose scheduler call failed after the store write, and UPLOADING
// posts whose worker died with the process. UPLOADING posts are handed back
// to SCHEDULED first. It returns how many posts were re-armed.
func (s *postService) Reconcile(ctx context.Context) (int, error) {
	rearmed := 0
	var errs []error
	for _, status := range []models.PostStatus{models.PostStatusScheduled, models.PostStatusUploading} {
		posts, err := s.pr.ListByStatus(ctx, status)
		if err != nil {
			return rearmed, err
		}
		for _, p := range posts {
			ok, err := s.rearm(ctx, p.ID, status)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", p.ID, err))
				continue
			}
			if ok {
				rearmed++
			}
		}
	}

	return rearmed, errors.Join(errs...)
}

// rearm schedules postID if it has no job and is still in status. The row
// is read again after the job check, since a job may finish in between.
func (s *postService) rearm(ctx context.Context, postID string, status models.PostStatus) (bool, error) {
	pending, err := s.sched.Pending(ctx, postID)
	if err != nil || pending {
		return false, err
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return false, err
	}
	if post == nil || post.Status != status {
		return false, nil
	}

	if status == models.PostStatusUploading {
		post = post.WithStatus(models.PostStatusScheduled, "")
		if err := s.pr.Update(ctx, post); err != nil {
			if errors.Is(err, repository.ErrPostNotFound) {
				return false, nil
			}
			return false, err
		}
		slog.Info("Post orphaned in UPLOADING, rescheduling", "post_id", postID)
	}

	if err := s.sched.Schedule(ctx, post); err != nil {
		return false, err
	}
	return true, nil
}

// prepare validates a post before it is stored, normalizes its platforms
// and fills captions for platforms that have none.
func prepare(p *models.Post) error {
	if strings.TrimSpace(p.MediaURI) == "" {
		return ErrMissingMedia
	}
	kind, err := models.ParseMediaKind(strings.ToLower(string(p.MediaKind)))
	if err != nil {
		return err
	}
	p.MediaKind = kind

	p.Platforms = normalizePlatforms(p.Platforms)
	if len(p.Platforms) == 0 {
		return ErrNoPlatforms
	}

	captions := make(map[string]string, len(p.Platforms))
	for k, v := range p.CaptionMap {
		captions[strings.ToLower(strings.TrimSpace(k))] = v
	}
	for _, platform := range p.Platforms {
		if _, ok := captions[platform]; !ok {
			captions[platform] = ""
		}
	}
	p.CaptionMap = captions

	if p.MediaName == "" {
		p.MediaName = mediaNameFrom(p.MediaURI)
	}
	return nil
}

func mediaNameFrom(uri string) string {
	uri = strings.TrimRight(uri, "/")
	if i := strings.LastIndexAny(uri, "/\\"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}
