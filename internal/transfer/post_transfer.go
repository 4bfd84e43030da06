package transfer

import "time"

// PostCreation is the body of a create or update request.
type PostCreation struct {
	MediaURI    string            `json:"media_uri"`
	MediaName   string            `json:"media_name"`
	MediaType   string            `json:"media_type"`
	Platforms   []string          `json:"platforms"`
	Caption     string            `json:"caption"`
	CaptionMap  map[string]string `json:"caption_map"`
	ScheduledAt *time.Time        `json:"scheduled_at"`
	Status      string            `json:"status"`
	LastError   *string           `json:"last_error"`
}

type PostStats struct {
	Total     int64 `json:"total"`
	Scheduled int64 `json:"scheduled"`
	Uploading int64 `json:"uploading"`
	Posted    int64 `json:"posted"`
	Failed    int64 `json:"failed"`
}
