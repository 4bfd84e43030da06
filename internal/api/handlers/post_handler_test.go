package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/eventbus"
	"github.com/maheshrc27/postflow/internal/feed"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopScheduler struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
}

func (s *noopScheduler) Schedule(ctx context.Context, post *models.Post) error {
	return s.ScheduleAt(ctx, post, post.ScheduledAt)
}

func (s *noopScheduler) ScheduleAt(ctx context.Context, post *models.Post, runAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled[post.ID] = runAt
	return nil
}

func (s *noopScheduler) Cancel(ctx context.Context, postID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scheduled, postID)
	return nil
}

func (s *noopScheduler) Pending(ctx context.Context, postID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.scheduled[postID]
	return ok, nil
}

type handlerFixture struct {
	app     *fiber.App
	repo    repository.PostRepository
	history repository.PostingHistoryRepository
	sched   *noopScheduler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	db, dialect, err := repository.OpenDB(context.Background(), "sqlite", filepath.Join(t.TempDir(), "posts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := eventbus.New()
	repo := repository.NewPostRepository(db, dialect, bus)
	history := repository.NewPostingHistoryRepository(db, dialect)
	sched := &noopScheduler{scheduled: map[string]time.Time{}}

	app := fiber.New()
	app.Get("/healthz", NewHealthHandler(db).Healthz)
	NewPostHandler(service.NewPostService(repo, sched), feed.New(repo, bus), history).Register(app.Group("/api"))

	return &handlerFixture{app: app, repo: repo, history: history, sched: sched}
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (f *handlerFixture) create(t *testing.T, scheduledAt time.Time) *models.Post {
	t.Helper()
	resp, data := f.do(t, http.MethodPost, "/api/posts", transfer.PostCreation{
		MediaURI:    "/sdcard/DCIM/clip.mp4",
		MediaType:   "video",
		Platforms:   []string{"YouTube", "instagram"},
		Caption:     "hello",
		ScheduledAt: &scheduledAt,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	var post models.Post
	require.NoError(t, json.Unmarshal(data, &post))
	return &post
}

func TestCreatePostHandler(t *testing.T) {
	f := newHandlerFixture(t)
	at := time.Now().Add(time.Hour).UTC()

	post := f.create(t, at)
	assert.NotEmpty(t, post.ID)
	assert.Equal(t, models.PostStatusScheduled, post.Status)
	assert.Equal(t, []string{"youtube", "instagram"}, post.Platforms)
	assert.Equal(t, "hello", post.CaptionMap["youtube"])
	assert.Equal(t, "clip.mp4", post.MediaName)

	pending, _ := f.sched.Pending(context.Background(), post.ID)
	assert.True(t, pending)
}

func TestCreatePostValidation(t *testing.T) {
	f := newHandlerFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/posts", transfer.PostCreation{MediaURI: "/a.mp4"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/posts", transfer.PostCreation{
		MediaURI: "/a.gif", MediaType: "gif", Platforms: []string{"youtube"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req := httptest.NewRequest(http.MethodPost, "/api/posts", bytes.NewReader([]byte("{")))
	req.Header.Set("Content-Type", "application/json")
	r, err := f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestGetPostHandler(t *testing.T) {
	f := newHandlerFixture(t)
	post := f.create(t, time.Now().Add(time.Hour))

	resp, data := f.do(t, http.MethodGet, "/api/posts/"+post.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), post.ID)

	resp, _ = f.do(t, http.MethodGet, "/api/posts/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdatePostHandler(t *testing.T) {
	f := newHandlerFixture(t)
	post := f.create(t, time.Now().Add(time.Hour))

	later := time.Now().Add(3 * time.Hour).UTC()
	resp, data := f.do(t, http.MethodPut, "/api/posts/"+post.ID, transfer.PostCreation{ScheduledAt: &later})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var updated models.Post
	require.NoError(t, json.Unmarshal(data, &updated))
	assert.True(t, models.MillisTime(later).Equal(updated.ScheduledAt))
	assert.True(t, models.MillisTime(later).Equal(f.sched.scheduled[post.ID]))

	resp, _ = f.do(t, http.MethodPut, "/api/posts/"+post.ID, transfer.PostCreation{Status: "UPLOADING"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPut, "/api/posts/"+post.ID, transfer.PostCreation{Status: "bogus"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPut, "/api/posts/missing", transfer.PostCreation{Caption: "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateFailedPostKeepsError(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	post := f.create(t, time.Now().Add(time.Hour))

	stored, err := f.repo.GetByID(ctx, post.ID)
	require.NoError(t, err)
	require.NoError(t, f.repo.Update(ctx, stored.WithStatus(models.PostStatusFailed, "Upload failed: 500")))

	later := time.Now().Add(3 * time.Hour).UTC()
	resp, data := f.do(t, http.MethodPut, "/api/posts/"+post.ID, transfer.PostCreation{ScheduledAt: &later})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var updated models.Post
	require.NoError(t, json.Unmarshal(data, &updated))
	assert.Equal(t, models.PostStatusFailed, updated.Status)
	assert.Equal(t, "Upload failed: 500", updated.ErrorMessage())

	resp, data = f.do(t, http.MethodPut, "/api/posts/"+post.ID, transfer.PostCreation{Caption: "new words"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	updated = models.Post{}
	require.NoError(t, json.Unmarshal(data, &updated))
	assert.Equal(t, map[string]string{"youtube": "new words", "instagram": "new words"}, updated.CaptionMap)
	assert.Equal(t, "Upload failed: 500", updated.ErrorMessage())

	resp, data = f.do(t, http.MethodPut, "/api/posts/"+post.ID, transfer.PostCreation{Status: "scheduled"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	updated = models.Post{}
	require.NoError(t, json.Unmarshal(data, &updated))
	assert.Equal(t, models.PostStatusScheduled, updated.Status)
	assert.Nil(t, updated.LastError)
}

func TestUpdatePlatformsAreNormalized(t *testing.T) {
	f := newHandlerFixture(t)
	post := f.create(t, time.Now().Add(time.Hour))

	resp, data := f.do(t, http.MethodPut, "/api/posts/"+post.ID, transfer.PostCreation{
		Platforms: []string{" TikTok", "youtube", "tiktok"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var updated models.Post
	require.NoError(t, json.Unmarshal(data, &updated))
	assert.Equal(t, []string{"tiktok", "youtube"}, updated.Platforms)
	assert.Equal(t, "", updated.CaptionMap["tiktok"])
	assert.Equal(t, "hello", updated.CaptionMap["youtube"])
}

func TestDeletePostHandler(t *testing.T) {
	f := newHandlerFixture(t)
	post := f.create(t, time.Now().Add(time.Hour))

	resp, _ := f.do(t, http.MethodDelete, "/api/posts/"+post.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := f.repo.GetByID(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	pending, _ := f.sched.Pending(context.Background(), post.ID)
	assert.False(t, pending)

	resp, _ = f.do(t, http.MethodDelete, "/api/posts/"+post.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRetryAndDuplicateHandlers(t *testing.T) {
	f := newHandlerFixture(t)
	at := time.Now().Add(time.Hour)
	post := f.create(t, at)

	resp, _ := f.do(t, http.MethodPost, "/api/posts/"+post.ID+"/retry", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.WithinDuration(t, time.Now().Add(service.RetryDelay), f.sched.scheduled[post.ID], 2*time.Second)

	stored, err := f.repo.GetByID(context.Background(), post.ID)
	require.NoError(t, err)

	resp, data := f.do(t, http.MethodPost, "/api/posts/"+post.ID+"/duplicate", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var dup models.Post
	require.NoError(t, json.Unmarshal(data, &dup))
	assert.NotEqual(t, post.ID, dup.ID)
	assert.True(t, stored.ScheduledAt.Add(service.DuplicateOffset).Equal(dup.ScheduledAt))

	resp, _ = f.do(t, http.MethodPost, "/api/posts/missing/duplicate", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListAndStatsHandlers(t *testing.T) {
	f := newHandlerFixture(t)
	late := f.create(t, time.Now().Add(2*time.Hour))
	early := f.create(t, time.Now().Add(time.Hour))

	resp, data := f.do(t, http.MethodGet, "/api/posts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var posts []*models.Post
	require.NoError(t, json.Unmarshal(data, &posts))
	require.Len(t, posts, 2)
	assert.Equal(t, early.ID, posts[0].ID)
	assert.Equal(t, late.ID, posts[1].ID)

	resp, data = f.do(t, http.MethodGet, "/api/posts?status=posted", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(data))

	resp, data = f.do(t, http.MethodGet, "/api/posts/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats transfer.PostStats
	require.NoError(t, json.Unmarshal(data, &stats))
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(2), stats.Scheduled)
}

func TestPostHistoryHandler(t *testing.T) {
	f := newHandlerFixture(t)
	post := f.create(t, time.Now().Add(time.Hour))
	require.NoError(t, f.history.Create(context.Background(), &models.PostingHistory{
		PostID:       post.ID,
		Status:       models.PostStatusFailed,
		ErrorMessage: "Upload failed: 503",
	}))

	resp, data := f.do(t, http.MethodGet, "/api/posts/"+post.ID+"/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var runs []*models.PostingHistory
	require.NoError(t, json.Unmarshal(data, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "Upload failed: 503", runs[0].ErrorMessage)
}

func TestHealthz(t *testing.T) {
	f := newHandlerFixture(t)
	resp, data := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))
}

type oneShotFeed struct {
	posts []*models.Post
}

func (f *oneShotFeed) Snapshot(ctx context.Context) ([]*models.Post, error) {
	return f.posts, nil
}

func (f *oneShotFeed) Subscribe(ctx context.Context) (<-chan []*models.Post, error) {
	ch := make(chan []*models.Post, 1)
	ch <- f.posts
	close(ch)
	return ch, nil
}

func TestStreamHandler(t *testing.T) {
	feed := &oneShotFeed{posts: []*models.Post{{ID: "post_a", Status: models.PostStatusScheduled}}}
	app := fiber.New()
	NewPostHandler(nil, feed, nil).Register(app.Group("/api"))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/posts/stream", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "event: posts\n")
	assert.Contains(t, string(body), `"id":"post_a"`)
}
