package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidStatus    = errors.New("invalid post status")
	ErrInvalidMediaKind = errors.New("invalid media kind")
)

// PostStatus is the lifecycle state of a Post.
//
//	SCHEDULED -> UPLOADING -> POSTED
//	                       -> FAILED -> SCHEDULED (retry)
type PostStatus string

const (
	PostStatusScheduled PostStatus = "SCHEDULED"
	PostStatusUploading PostStatus = "UPLOADING"
	PostStatusPosted    PostStatus = "POSTED"
	PostStatusFailed    PostStatus = "FAILED"
)

// PostStatuses lists every persisted status in lifecycle order.
var PostStatuses = []PostStatus{
	PostStatusScheduled,
	PostStatusUploading,
	PostStatusPosted,
	PostStatusFailed,
}

func ParsePostStatus(s string) (PostStatus, error) {
	switch PostStatus(s) {
	case PostStatusScheduled, PostStatusUploading, PostStatusPosted, PostStatusFailed:
		return PostStatus(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

func (s PostStatus) Valid() bool {
	_, err := ParsePostStatus(string(s))
	return err == nil
}

// CanTransition reports whether moving from s to next is an edge of the
// status machine. Re-entering SCHEDULED is allowed from every state because
// update and retry re-arm unconditionally.
func (s PostStatus) CanTransition(next PostStatus) bool {
	switch next {
	case PostStatusScheduled:
		return s.Valid()
	case PostStatusUploading:
		return s == PostStatusScheduled
	case PostStatusPosted, PostStatusFailed:
		return s == PostStatusUploading
	}
	return false
}

// Scan rejects unknown statuses at the persistence boundary.
func (s *PostStatus) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidStatus, src)
	}
	parsed, err := ParsePostStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type MediaKind string

const (
	MediaKindVideo MediaKind = "video"
	MediaKindImage MediaKind = "image"
)

func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(s) {
	case MediaKindVideo, MediaKindImage:
		return MediaKind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMediaKind, s)
}

type Post struct {
	ID          string            `db:"id" json:"id"`
	MediaURI    string            `db:"media_uri" json:"media_uri"`
	MediaName   string            `db:"media_name" json:"media_name"`
	MediaKind   MediaKind         `db:"media_type" json:"media_type"`
	Platforms   []string          `db:"platforms" json:"platforms"`
	CaptionMap  map[string]string `db:"caption_map" json:"caption_map"`
	ScheduledAt time.Time         `db:"scheduled_at" json:"scheduled_at"`
	Status      PostStatus        `db:"status" json:"status"`
	LastError   *string           `db:"last_error" json:"last_error"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
}

// Clone returns a deep copy so callers can mutate slices and maps freely.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	c := *p
	c.Platforms = append([]string(nil), p.Platforms...)
	c.CaptionMap = make(map[string]string, len(p.CaptionMap))
	for k, v := range p.CaptionMap {
		c.CaptionMap[k] = v
	}
	if p.LastError != nil {
		e := *p.LastError
		c.LastError = &e
	}
	return &c
}

// WithStatus returns a copy in the given status. lastError is kept only
// for FAILED; every other status clears it.
func (p *Post) WithStatus(status PostStatus, lastError string) *Post {
	c := p.Clone()
	c.Status = status
	c.LastError = nil
	if status == PostStatusFailed {
		c.LastError = &lastError
	}
	return c
}

func (p *Post) ErrorMessage() string {
	if p.LastError == nil {
		return ""
	}
	return *p.LastError
}

// MillisTime truncates t to the millisecond precision the store persists.
func MillisTime(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli())
}
