package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/h2non/filetype"
	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
)

const (
	fallbackFailure = "Upload failed"
	scheduleLayout  = "2006-01-02T15:04:05Z"
)

type ResultStatus int

const (
	ResultSuccess ResultStatus = iota
	ResultFailure
)

// Result is the outcome of one publish run as reported to the job facility.
type Result struct {
	Status ResultStatus
	Reason string
}

func (r Result) Failed() bool { return r.Status == ResultFailure }

// ProcessTask implements asynq.Handler.
func (w *Worker) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishPostPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.PostID == "" {
		return fmt.Errorf("missing post id: %w", asynq.SkipRetry)
	}

	result, err := w.PublishPost(ctx, payload.PostID)
	if err != nil {
		return err
	}
	if result.Failed() {
		return fmt.Errorf("publish %s: %s: %w", payload.PostID, result.Reason, asynq.SkipRetry)
	}
	return nil
}

// PublishPost runs the publish protocol for postID. Storage errors are
// returned; publish errors are recorded on the post and reported as a
// failed Result. A run cut short by its context returns the post to
// SCHEDULED and reports the context error.
func (w *Worker) PublishPost(ctx context.Context, postID string) (Result, error) {
	post, err := w.posts.GetByID(ctx, postID)
	if err != nil {
		return Result{}, err
	}
	if post == nil {
		slog.Info("Post no longer exists, skipping", "post_id", postID)
		return Result{Status: ResultSuccess}, nil
	}

	uploading := post.WithStatus(models.PostStatusUploading, "")
	if gone, err := w.save(ctx, uploading); gone || err != nil {
		return Result{Status: ResultSuccess}, err
	}

	remoteID, perr := w.publish(ctx, uploading)

	// The outcome is written even when the job's context is gone.
	wctx := context.WithoutCancel(ctx)

	if perr != nil && ctx.Err() != nil {
		// Interrupted by shutdown, not a publish failure. The post goes back
		// to SCHEDULED so reconciliation re-arms it.
		slog.Warn("Publish interrupted, handing post back", "post_id", postID, "error", perr)
		if _, err := w.save(wctx, uploading.WithStatus(models.PostStatusScheduled, "")); err != nil {
			return Result{}, err
		}
		return Result{}, ctx.Err()
	}

	if perr != nil {
		reason := perr.Error()
		if reason == "" {
			reason = fallbackFailure
		}
		slog.Error("Post failed", "post_id", postID, "error", reason)

		if gone, err := w.save(wctx, uploading.WithStatus(models.PostStatusFailed, reason)); gone || err != nil {
			return Result{Status: ResultSuccess}, err
		}
		w.record(wctx, &models.PostingHistory{PostID: postID, Status: models.PostStatusFailed, ErrorMessage: reason})
		return Result{Status: ResultFailure, Reason: reason}, nil
	}

	if gone, err := w.save(wctx, uploading.WithStatus(models.PostStatusPosted, "")); gone || err != nil {
		return Result{Status: ResultSuccess}, err
	}
	w.record(wctx, &models.PostingHistory{PostID: postID, Status: models.PostStatusPosted, RemotePostID: remoteID})
	slog.Info("Post published successfully", "post_id", postID, "remote_post_id", remoteID)
	return Result{Status: ResultSuccess}, nil
}

// record is best effort; the post row already holds the outcome.
func (w *Worker) record(ctx context.Context, ph *models.PostingHistory) {
	if w.history == nil {
		return
	}
	if err := w.history.Create(ctx, ph); err != nil {
		slog.Warn("Failed to record posting history", "post_id", ph.PostID, "error", err)
	}
}

// save persists a status change. gone means the post was deleted mid-run.
func (w *Worker) save(ctx context.Context, post *models.Post) (gone bool, err error) {
	err = w.posts.Update(ctx, post)
	if errors.Is(err, repository.ErrPostNotFound) {
		slog.Info("Post deleted during publish", "post_id", post.ID)
		return true, nil
	}
	return false, err
}

// publish uploads the media and registers the post, returning the
// backend's id for it.
func (w *Worker) publish(ctx context.Context, post *models.Post) (string, error) {
	path := localPath(post.MediaURI)
	mimeType := mimeTypeFor(post.MediaKind, path)

	target, err := w.api.CreateSignedUploadTarget(ctx, post.MediaName, mimeType)
	if err != nil {
		return "", err
	}

	if err := w.uploadIfPresent(ctx, path, target.SignedURL, mimeType); err != nil {
		return "", err
	}

	resp, err := w.api.RegisterPost(ctx, &transfer.CreatePostRequest{
		UID:        post.ID,
		Platforms:  post.Platforms,
		Caption:    registrationCaption(post),
		VideoURL:   target.StoragePath,
		ScheduleAt: post.ScheduledAt.UTC().Format(scheduleLayout),
	})
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return resp.PostID, nil
}

// uploadIfPresent streams the local file to the upload target. A missing
// file is skipped; the backend may already hold the media.
func (w *Worker) uploadIfPresent(ctx context.Context, path, uploadURL, mimeType string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		slog.Info("Media file not found locally, skipping upload", "path", path)
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open media: %w", err)
	}
	defer f.Close()

	return w.api.UploadMedia(ctx, uploadURL, mimeType, f, info.Size())
}

func localPath(mediaURI string) string {
	if strings.HasPrefix(mediaURI, "file://") {
		if u, err := url.Parse(mediaURI); err == nil {
			return u.Path
		}
	}
	return mediaURI
}

func mimeTypeFor(kind models.MediaKind, path string) string {
	if kind == models.MediaKindVideo {
		return "video/mp4"
	}
	if t, err := filetype.MatchFile(path); err == nil && t.MIME.Type == "image" {
		return t.MIME.Value
	}
	return "image/jpeg"
}

// registrationCaption picks the single caption the backend accepts: the
// first platform, in order, that has one.
// TODO: send per-platform captions once the backend accepts a caption map.
func registrationCaption(post *models.Post) string {
	for _, p := range post.Platforms {
		if c, ok := post.CaptionMap[p]; ok {
			return c
		}
	}
	keys := make([]string, 0, len(post.CaptionMap))
	for k := range post.CaptionMap {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return post.CaptionMap[keys[0]]
}
