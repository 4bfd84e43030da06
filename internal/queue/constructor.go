package queue

import (
	"context"
	"io"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
)

const (
	TaskTypePublishPost = "post:publish"
	QueueName           = "posts"
)

type PublishPostPayload struct {
	PostID string `json:"post_id"`
}

// PostStore is the part of the durable store the worker needs.
type PostStore interface {
	GetByID(ctx context.Context, id string) (*models.Post, error)
	Update(ctx context.Context, post *models.Post) error
}

// PublishAPI is the remote backend the worker publishes through.
type PublishAPI interface {
	CreateSignedUploadTarget(ctx context.Context, fileName, mimeType string) (*transfer.SignedURLResponse, error)
	UploadMedia(ctx context.Context, uploadURL, mimeType string, body io.Reader, size int64) error
	RegisterPost(ctx context.Context, req *transfer.CreatePostRequest) (*transfer.CreatePostResponse, error)
}

// HistoryRecorder keeps the outcome of every publish run.
type HistoryRecorder interface {
	Create(ctx context.Context, ph *models.PostingHistory) error
}

// Worker performs the publish protocol for one post per invocation.
type Worker struct {
	posts   PostStore
	api     PublishAPI
	history HistoryRecorder
}

// NewWorker builds a worker. history may be nil.
func NewWorker(posts PostStore, api PublishAPI, history HistoryRecorder) *Worker {
	return &Worker{
		posts:   posts,
		api:     api,
		history: history,
	}
}
