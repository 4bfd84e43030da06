package transfer

type SignedURLRequest struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
}

type SignedURLResponse struct {
	SignedURL   string `json:"signedUrl"`
	StoragePath string `json:"storagePath"`
}

type CreatePostRequest struct {
	UID        string   `json:"uid"`
	Platforms  []string `json:"platforms"`
	Caption    string   `json:"caption"`
	VideoURL   string   `json:"videoUrl"`
	ScheduleAt string   `json:"scheduleAt"`
}

type CreatePostResponse struct {
	Message string `json:"message"`
	PostID  string `json:"postId"`
}

type PublishErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
