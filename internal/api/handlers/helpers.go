package handlers

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/api/middleware"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
)

func GetSubject(c *fiber.Ctx) string {
	subject, _ := c.Locals(middleware.SubjectKey).(string)
	return subject
}

// errorStatus maps service errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, repository.ErrPostNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, queue.ErrJobActive):
		return fiber.StatusConflict
	case errors.Is(err, service.ErrNoPlatforms),
		errors.Is(err, service.ErrMissingMedia),
		errors.Is(err, service.ErrWorkerOwnedStatus),
		errors.Is(err, service.ErrMissingLastError),
		errors.Is(err, models.ErrInvalidStatus),
		errors.Is(err, models.ErrInvalidMediaKind):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

func errorResponse(c *fiber.Ctx, err error) error {
	status := errorStatus(err)
	if status == fiber.StatusInternalServerError {
		slog.Error(err.Error(), "path", c.Path(), "subject", GetSubject(c))
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// newPost builds a post from a create request. A single caption is used
// for every platform that has no entry in the caption map.
func newPost(req *transfer.PostCreation) *models.Post {
	post := &models.Post{
		MediaURI:   strings.TrimSpace(req.MediaURI),
		MediaName:  req.MediaName,
		MediaKind:  models.MediaKind(req.MediaType),
		Platforms:  req.Platforms,
		CaptionMap: captionMap(req),
	}
	if post.MediaKind == "" {
		post.MediaKind = models.MediaKindVideo
	}
	if req.ScheduledAt != nil {
		post.ScheduledAt = req.ScheduledAt.UTC()
	}
	return post
}

// applyUpdate overlays the non-empty fields of req onto a stored post.
// The stored error is only replaced when the request sets one or moves
// the post to another status.
func applyUpdate(post *models.Post, req *transfer.PostCreation) error {
	if req.MediaURI != "" {
		post.MediaURI = req.MediaURI
	}
	if req.MediaName != "" {
		post.MediaName = req.MediaName
	}
	if req.MediaType != "" {
		kind, err := models.ParseMediaKind(strings.ToLower(req.MediaType))
		if err != nil {
			return err
		}
		post.MediaKind = kind
	}
	if len(req.Platforms) > 0 {
		post.Platforms = req.Platforms
	}
	if req.Caption != "" || len(req.CaptionMap) > 0 {
		post.CaptionMap = mergeCaptions(post, req)
	}
	if req.ScheduledAt != nil {
		post.ScheduledAt = req.ScheduledAt.UTC()
	}
	if req.Status != "" {
		status, err := models.ParsePostStatus(strings.ToUpper(req.Status))
		if err != nil {
			return err
		}
		post.Status = status
	}
	if req.Status != "" || req.LastError != nil {
		post.LastError = req.LastError
	}
	return nil
}

// mergeCaptions layers the request's captions over the stored ones. A
// single caption applies to every platform of the post without an
// explicit entry in the request.
func mergeCaptions(post *models.Post, req *transfer.PostCreation) map[string]string {
	captions := make(map[string]string, len(post.CaptionMap)+len(req.CaptionMap))
	for k, v := range post.CaptionMap {
		captions[k] = v
	}
	explicit := make(map[string]struct{}, len(req.CaptionMap))
	for k, v := range req.CaptionMap {
		k = strings.ToLower(strings.TrimSpace(k))
		captions[k] = v
		explicit[k] = struct{}{}
	}
	if req.Caption != "" {
		for _, p := range post.Platforms {
			key := strings.ToLower(strings.TrimSpace(p))
			if _, ok := explicit[key]; !ok {
				captions[key] = req.Caption
			}
		}
	}
	return captions
}

func captionMap(req *transfer.PostCreation) map[string]string {
	captions := make(map[string]string, len(req.Platforms))
	for k, v := range req.CaptionMap {
		captions[strings.ToLower(strings.TrimSpace(k))] = v
	}
	if req.Caption != "" {
		for _, p := range req.Platforms {
			key := strings.ToLower(strings.TrimSpace(p))
			if _, ok := captions[key]; !ok {
				captions[key] = req.Caption
			}
		}
	}
	return captions
}

func filterByStatus(posts []*models.Post, raw string) ([]*models.Post, error) {
	if raw == "" {
		return posts, nil
	}
	status, err := models.ParsePostStatus(strings.ToUpper(raw))
	if err != nil {
		return nil, err
	}
	filtered := make([]*models.Post, 0, len(posts))
	for _, p := range posts {
		if p.Status == status {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}
