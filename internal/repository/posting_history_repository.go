package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type PostingHistoryRepository interface {
	Create(ctx context.Context, ph *models.PostingHistory) error
	ListByPostID(ctx context.Context, postID string) ([]*models.PostingHistory, error)
}

type postingHistoryRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewPostingHistoryRepository(db *sql.DB, dialect Dialect) PostingHistoryRepository {
	return &postingHistoryRepository{db: db, dialect: dialect}
}

// Create appends a run outcome. Only terminal statuses are recorded.
func (r *postingHistoryRepository) Create(ctx context.Context, ph *models.PostingHistory) error {
	if ph.Status != models.PostStatusPosted && ph.Status != models.PostStatusFailed {
		return fmt.Errorf("%w: %q", models.ErrInvalidStatus, string(ph.Status))
	}
	if ph.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return err
		}
		ph.ID = "run_" + id
	}
	if ph.CreatedAt.IsZero() {
		ph.CreatedAt = models.MillisTime(time.Now())
	}

	query := `
		INSERT INTO posting_history (id, post_id, status, remote_post_id, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, rebind(r.dialect, query),
		ph.ID, ph.PostID, string(ph.Status), ph.RemotePostID, ph.ErrorMessage, ph.CreatedAt.UnixMilli())
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	return nil
}

func (r *postingHistoryRepository) ListByPostID(ctx context.Context, postID string) ([]*models.PostingHistory, error) {
	query := `
		SELECT id, post_id, status, remote_post_id, error_message, created_at
		FROM posting_history
		WHERE post_id = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, rebind(r.dialect, query), postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	phs := []*models.PostingHistory{}
	for rows.Next() {
		var (
			ph        models.PostingHistory
			createdAt int64
		)
		if err := rows.Scan(&ph.ID, &ph.PostID, &ph.Status, &ph.RemotePostID, &ph.ErrorMessage, &createdAt); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		ph.CreatedAt = time.UnixMilli(createdAt)
		phs = append(phs, &ph)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return phs, nil
}
