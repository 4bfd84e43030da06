package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/maheshrc27/postflow/internal/eventbus"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) (PostRepository, eventbus.Bus) {
	t.Helper()
	db, dialect, err := OpenDB(context.Background(), "sqlite", filepath.Join(t.TempDir(), "posts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := eventbus.New()
	return NewPostRepository(db, dialect, bus), bus
}

func samplePost(id string, scheduledAt time.Time) *models.Post {
	return &models.Post{
		ID:          id,
		MediaURI:    "/sdcard/clip.mp4",
		MediaName:   "clip.mp4",
		MediaKind:   models.MediaKindVideo,
		Platforms:   []string{"youtube", "instagram"},
		CaptionMap:  map[string]string{"youtube": "hello", "instagram": "hi"},
		ScheduledAt: models.MillisTime(scheduledAt),
		Status:      models.PostStatusScheduled,
		CreatedAt:   models.MillisTime(time.Now()),
	}
}

func TestInsertAndGetByID(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	post := samplePost("post_a", time.Now().Add(time.Hour))
	require.NoError(t, repo.Insert(ctx, post))

	got, err := repo.GetByID(ctx, "post_a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, post.Platforms, got.Platforms)
	assert.Equal(t, post.CaptionMap, got.CaptionMap)
	assert.Equal(t, post.MediaKind, got.MediaKind)
	assert.True(t, post.ScheduledAt.Equal(got.ScheduledAt))
	assert.True(t, post.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, models.PostStatusScheduled, got.Status)
	assert.Nil(t, got.LastError)
}

func TestGetByIDMissingReturnsNil(t *testing.T) {
	repo, _ := newTestRepository(t)

	got, err := repo.GetByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInsertReplacesExistingRow(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	post := samplePost("post_a", time.Now())
	require.NoError(t, repo.Insert(ctx, post))

	replaced := post.WithStatus(models.PostStatusFailed, "boom")
	require.NoError(t, repo.Insert(ctx, replaced))

	posts, err := repo.ListOrdered(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, models.PostStatusFailed, posts[0].Status)
	assert.Equal(t, "boom", posts[0].ErrorMessage())
}

func TestUpdateMissingRow(t *testing.T) {
	repo, _ := newTestRepository(t)

	err := repo.Update(context.Background(), samplePost("ghost", time.Now()))
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestUpdateClearsLastError(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	failed := samplePost("post_a", time.Now()).WithStatus(models.PostStatusFailed, "upload failed")
	require.NoError(t, repo.Insert(ctx, failed))
	require.NoError(t, repo.Update(ctx, failed.WithStatus(models.PostStatusScheduled, "")))

	got, err := repo.GetByID(ctx, "post_a")
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusScheduled, got.Status)
	assert.Nil(t, got.LastError)
}

func TestInvalidStatusRejected(t *testing.T) {
	repo, _ := newTestRepository(t)

	post := samplePost("post_a", time.Now())
	post.Status = "DRAFT"
	err := repo.Insert(context.Background(), post)
	assert.ErrorIs(t, err, models.ErrInvalidStatus)
}

func TestListOrderedByScheduledAt(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Insert(ctx, samplePost("late", now.Add(2*time.Hour))))
	require.NoError(t, repo.Insert(ctx, samplePost("early", now.Add(-time.Hour))))
	require.NoError(t, repo.Insert(ctx, samplePost("mid", now)))

	posts, err := repo.ListOrdered(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, []string{"early", "mid", "late"}, []string{posts[0].ID, posts[1].ID, posts[2].ID})
}

func TestRemoveIsIdempotent(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, samplePost("post_a", time.Now())))
	require.NoError(t, repo.Remove(ctx, "post_a"))
	require.NoError(t, repo.Remove(ctx, "post_a"))

	got, err := repo.GetByID(ctx, "post_a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListByStatusAndCount(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, samplePost("a", time.Now())))
	require.NoError(t, repo.Insert(ctx, samplePost("b", time.Now())))
	require.NoError(t, repo.Insert(ctx, samplePost("c", time.Now()).WithStatus(models.PostStatusPosted, "")))

	scheduled, err := repo.ListByStatus(ctx, models.PostStatusScheduled)
	require.NoError(t, err)
	assert.Len(t, scheduled, 2)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.PostStatusScheduled])
	assert.Equal(t, int64(1), counts[models.PostStatusPosted])
	assert.Equal(t, int64(0), counts[models.PostStatusFailed])
}

func TestWritesPublishChanges(t *testing.T) {
	repo, bus := newTestRepository(t)
	ctx := context.Background()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	require.NoError(t, repo.Insert(ctx, samplePost("post_a", time.Now())))
	require.NoError(t, repo.Remove(ctx, "post_a"))

	e := <-events
	assert.Equal(t, eventbus.PostChanged, e.Type)
	assert.Equal(t, "post_a", e.PostID)
	e = <-events
	assert.Equal(t, eventbus.PostDeleted, e.Type)
}

func TestRebind(t *testing.T) {
	q := `UPDATE t SET a = ?, b = ? WHERE id = ?`
	assert.Equal(t, q, rebind(DialectSQLite, q))
	assert.Equal(t, `UPDATE t SET a = $1, b = $2 WHERE id = $3`, rebind(DialectPostgres, q))
}
