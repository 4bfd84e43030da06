package models

import "time"

// PostingHistory records the outcome of one publish run.
type PostingHistory struct {
	ID           string     `db:"id" json:"id"`
	PostID       string     `db:"post_id" json:"post_id"`
	Status       PostStatus `db:"status" json:"status"`
	RemotePostID string     `db:"remote_post_id" json:"remote_post_id,omitempty"`
	ErrorMessage string     `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}
