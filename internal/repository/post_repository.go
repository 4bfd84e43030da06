package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maheshrc27/postflow/internal/eventbus"
	"github.com/maheshrc27/postflow/internal/models"
)

var ErrPostNotFound = errors.New("post not found")

// PostRepository is the durable store of scheduled posts and the single
// source of truth for their state.
type PostRepository interface {
	Insert(ctx context.Context, post *models.Post) error
	Update(ctx context.Context, post *models.Post) error
	Remove(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*models.Post, error)
	ListOrdered(ctx context.Context) ([]*models.Post, error)
	ListByStatus(ctx context.Context, status models.PostStatus) ([]*models.Post, error)
	CountByStatus(ctx context.Context) (map[models.PostStatus]int64, error)
}

type postRepository struct {
	db      *sql.DB
	dialect Dialect
	bus     eventbus.Bus
}

// NewPostRepository returns a store that announces every committed write
// on bus. bus may be nil.
func NewPostRepository(db *sql.DB, dialect Dialect, bus eventbus.Bus) PostRepository {
	return &postRepository{db: db, dialect: dialect, bus: bus}
}

const postColumns = `id, media_uri, media_name, media_type, platforms, caption_map, scheduled_at, status, last_error, created_at`

func (r *postRepository) Insert(ctx context.Context, post *models.Post) error {
	args, err := postArgs(post)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO scheduled_posts (` + postColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			media_uri = excluded.media_uri,
			media_name = excluded.media_name,
			media_type = excluded.media_type,
			platforms = excluded.platforms,
			caption_map = excluded.caption_map,
			scheduled_at = excluded.scheduled_at,
			status = excluded.status,
			last_error = excluded.last_error,
			created_at = excluded.created_at
	`
	if _, err := r.db.ExecContext(ctx, rebind(r.dialect, query), args...); err != nil {
		slog.Info(err.Error())
		return err
	}

	r.changed(ctx, eventbus.PostChanged, post.ID)
	return nil
}

func (r *postRepository) Update(ctx context.Context, post *models.Post) error {
	args, err := postArgs(post)
	if err != nil {
		return err
	}

	query := `
		UPDATE scheduled_posts
		SET media_uri = ?,
			media_name = ?,
			media_type = ?,
			platforms = ?,
			caption_map = ?,
			scheduled_at = ?,
			status = ?,
			last_error = ?,
			created_at = ?
		WHERE id = ?
	`
	// id goes last for the WHERE clause.
	args = append(args[1:], args[0])

	result, err := r.db.ExecContext(ctx, rebind(r.dialect, query), args...)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrPostNotFound, post.ID)
	}

	r.changed(ctx, eventbus.PostChanged, post.ID)
	return nil
}

func (r *postRepository) Remove(ctx context.Context, id string) error {
	query := `DELETE FROM scheduled_posts WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, rebind(r.dialect, query), id); err != nil {
		slog.Info(err.Error())
		return err
	}

	r.changed(ctx, eventbus.PostDeleted, id)
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts WHERE id = ?`
	row := r.db.QueryRowContext(ctx, rebind(r.dialect, query), id)

	post, err := scanPost(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return post, nil
}

func (r *postRepository) ListOrdered(ctx context.Context) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts ORDER BY scheduled_at ASC, created_at ASC`
	return r.list(ctx, query)
}

func (r *postRepository) ListByStatus(ctx context.Context, status models.PostStatus) ([]*models.Post, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidStatus, string(status))
	}
	query := `SELECT ` + postColumns + ` FROM scheduled_posts WHERE status = ? ORDER BY scheduled_at ASC`
	return r.list(ctx, query, string(status))
}

func (r *postRepository) CountByStatus(ctx context.Context) (map[models.PostStatus]int64, error) {
	query := `SELECT status, COUNT(*) FROM scheduled_posts GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.PostStatus]int64, len(models.PostStatuses))
	for _, s := range models.PostStatuses {
		counts[s] = 0
	}
	for rows.Next() {
		var status models.PostStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return counts, nil
}

func (r *postRepository) list(ctx context.Context, query string, args ...any) ([]*models.Post, error) {
	rows, err := r.db.QueryContext(ctx, rebind(r.dialect, query), args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	posts := []*models.Post{}
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return posts, nil
}

func (r *postRepository) changed(ctx context.Context, kind, id string) {
	if r.dialect == DialectPostgres {
		// Other processes sharing the database refresh through PostListener.
		if _, err := r.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, id); err != nil {
			slog.Warn("pg_notify failed", "post_id", id, "error", err)
		}
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: kind, PostID: id})
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*models.Post, error) {
	var (
		post        models.Post
		platforms   string
		captions    string
		scheduledAt int64
		createdAt   int64
		lastError   sql.NullString
		kind        string
	)

	err := row.Scan(&post.ID, &post.MediaURI, &post.MediaName, &kind, &platforms, &captions,
		&scheduledAt, &post.Status, &lastError, &createdAt)
	if err != nil {
		return nil, err
	}

	post.MediaKind = models.MediaKind(kind)
	if err := json.Unmarshal([]byte(platforms), &post.Platforms); err != nil {
		return nil, fmt.Errorf("decode platforms of %s: %w", post.ID, err)
	}
	if err := json.Unmarshal([]byte(captions), &post.CaptionMap); err != nil {
		return nil, fmt.Errorf("decode captions of %s: %w", post.ID, err)
	}
	if post.CaptionMap == nil {
		post.CaptionMap = map[string]string{}
	}
	post.ScheduledAt = time.UnixMilli(scheduledAt)
	post.CreatedAt = time.UnixMilli(createdAt)
	if lastError.Valid {
		post.LastError = &lastError.String
	}

	return &post, nil
}

func postArgs(post *models.Post) ([]any, error) {
	if post == nil || post.ID == "" {
		return nil, errors.New("post id is required")
	}
	if !post.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidStatus, string(post.Status))
	}

	platforms := post.Platforms
	if platforms == nil {
		platforms = []string{}
	}
	platformsJSON, err := json.Marshal(platforms)
	if err != nil {
		return nil, err
	}
	captions := post.CaptionMap
	if captions == nil {
		captions = map[string]string{}
	}
	captionsJSON, err := json.Marshal(captions)
	if err != nil {
		return nil, err
	}

	var lastError sql.NullString
	if post.LastError != nil {
		lastError = sql.NullString{String: *post.LastError, Valid: true}
	}

	return []any{
		post.ID,
		post.MediaURI,
		post.MediaName,
		string(post.MediaKind),
		string(platformsJSON),
		string(captionsJSON),
		post.ScheduledAt.UnixMilli(),
		string(post.Status),
		lastError,
		post.CreatedAt.UnixMilli(),
	}, nil
}
