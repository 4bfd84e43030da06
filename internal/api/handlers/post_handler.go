package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
)

const streamKeepAlive = 15 * time.Second

// PostFeed is the observable, scheduled-time ordered view of all posts.
type PostFeed interface {
	Snapshot(ctx context.Context) ([]*models.Post, error)
	Subscribe(ctx context.Context) (<-chan []*models.Post, error)
}

// PostHistory lists the recorded publish runs of a post.
type PostHistory interface {
	ListByPostID(ctx context.Context, postID string) ([]*models.PostingHistory, error)
}

type PostHandler struct {
	s       service.PostService
	feed    PostFeed
	history PostHistory
}

func NewPostHandler(service service.PostService, feed PostFeed, history PostHistory) *PostHandler {
	return &PostHandler{s: service, feed: feed, history: history}
}

// Register mounts the post routes. Literal paths come before /posts/:id.
func (h *PostHandler) Register(r fiber.Router) {
	r.Get("/posts", h.ListPosts)
	r.Get("/posts/stats", h.Stats)
	r.Get("/posts/stream", h.Stream)
	r.Post("/posts", h.CreatePost)
	r.Get("/posts/:id", h.GetPost)
	r.Put("/posts/:id", h.UpdatePost)
	r.Delete("/posts/:id", h.RemovePost)
	r.Post("/posts/:id/retry", h.RetryPost)
	r.Post("/posts/:id/duplicate", h.DuplicatePost)
	r.Get("/posts/:id/history", h.PostHistory)
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	var req transfer.PostCreation
	if err := c.BodyParser(&req); err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse body",
		})
	}

	post, err := h.s.Create(c.UserContext(), newPost(&req))
	if err != nil {
		if post != nil {
			// Stored but not armed; the reconcile job picks it up.
			slog.Error(err.Error(), "post_id", post.ID)
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
				"error": "Error scheduling post",
				"post":  post,
			})
		}
		return errorResponse(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(post)
}

func (h *PostHandler) UpdatePost(c *fiber.Ctx) error {
	var req transfer.PostCreation
	if err := c.BodyParser(&req); err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse body",
		})
	}

	post, err := h.s.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	if post == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Post not found",
		})
	}

	if err := applyUpdate(post, &req); err != nil {
		return errorResponse(c, err)
	}
	if err := h.s.Update(c.UserContext(), post); err != nil {
		return errorResponse(c, err)
	}

	updated, err := h.s.Get(c.UserContext(), post.ID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(updated)
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	posts, err := h.feed.Snapshot(c.UserContext())
	if err != nil {
		return errorResponse(c, err)
	}

	posts, err = filterByStatus(posts, c.Query("status"))
	if err != nil {
		return errorResponse(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(posts)
}

func (h *PostHandler) GetPost(c *fiber.Ctx) error {
	post, err := h.s.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	if post == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Post not found",
		})
	}
	return c.Status(fiber.StatusOK).JSON(post)
}

func (h *PostHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.s.Stats(c.UserContext())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}

func (h *PostHandler) RemovePost(c *fiber.Ctx) error {
	if err := h.s.Delete(c.UserContext(), c.Params("id")); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *PostHandler) RetryPost(c *fiber.Ctx) error {
	if err := h.s.Retry(c.UserContext(), c.Params("id")); err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Retry scheduled",
	})
}

func (h *PostHandler) DuplicatePost(c *fiber.Ctx) error {
	post, err := h.s.Duplicate(c.UserContext(), c.Params("id"))
	if err != nil {
		if post != nil {
			slog.Error(err.Error(), "post_id", post.ID)
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
				"error": "Error scheduling post",
				"post":  post,
			})
		}
		return errorResponse(c, err)
	}
	if post == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Post not found",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

func (h *PostHandler) PostHistory(c *fiber.Ctx) error {
	runs, err := h.history.ListByPostID(c.UserContext(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(runs)
}

// Stream sends the ordered post list as server-sent events, once on
// connect and again after every change.
func (h *PostHandler) Stream(c *fiber.Ctx) error {
	ctx, cancel := context.WithCancel(context.Background())
	updates, err := h.feed.Subscribe(ctx)
	if err != nil {
		cancel()
		return errorResponse(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		keepAlive := time.NewTicker(streamKeepAlive)
		defer keepAlive.Stop()

		for {
			select {
			case posts, ok := <-updates:
				if !ok {
					return
				}
				data, err := json.Marshal(posts)
				if err != nil {
					slog.Error(err.Error())
					return
				}
				fmt.Fprintf(w, "event: posts\ndata: %s\n\n", data)
			case <-keepAlive.C:
				fmt.Fprint(w, ": keep-alive\n\n")
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
	return nil
}
