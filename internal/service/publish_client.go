package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/transfer"
)

var ErrPublishAPI = errors.New("publish api error")

// UploadTargetIssuer hands out a URL the media can be PUT to.
type UploadTargetIssuer interface {
	CreateSignedUploadTarget(ctx context.Context, fileName, mimeType string) (*transfer.SignedURLResponse, error)
}

// PublishClient talks to the remote publish backend.
type PublishClient struct {
	client  *resty.Client
	targets UploadTargetIssuer
}

// NewPublishClient builds a client for cfg.PublishAPI. When targets is
// non-nil it issues upload targets instead of the backend.
func NewPublishClient(cfg config.Config, targets UploadTargetIssuer) *PublishClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.PublishAPI.URL, "/")).
		SetTimeout(cfg.PublishAPI.Timeout).
		SetHeader("Accept", "application/json")

	return &PublishClient{client: client, targets: targets}
}

func (c *PublishClient) CreateSignedUploadTarget(ctx context.Context, fileName, mimeType string) (*transfer.SignedURLResponse, error) {
	if c.targets != nil {
		return c.targets.CreateSignedUploadTarget(ctx, fileName, mimeType)
	}

	var out transfer.SignedURLResponse
	var apiErr transfer.PublishErrorResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(transfer.SignedURLRequest{FileName: fileName, MimeType: mimeType}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/uploads/createSignedUrl")
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("create upload target: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: create upload target: %s", ErrPublishAPI, describe(resp, apiErr))
	}
	if out.SignedURL == "" {
		return nil, fmt.Errorf("%w: create upload target: empty signed url", ErrPublishAPI)
	}

	return &out, nil
}

// UploadMedia streams body to uploadURL. The request goes out with a known
// Content-Length so presigned targets accept it without buffering the file.
func (c *PublishClient) UploadMedia(ctx context.Context, uploadURL, mimeType string, body io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, body)
	if err != nil {
		return fmt.Errorf("Upload failed: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", mimeType)

	resp, err := c.client.GetClient().Do(req)
	if err != nil {
		return fmt.Errorf("Upload failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("Upload failed: %d", resp.StatusCode)
	}
	return nil
}

func (c *PublishClient) RegisterPost(ctx context.Context, req *transfer.CreatePostRequest) (*transfer.CreatePostResponse, error) {
	var out transfer.CreatePostResponse
	var apiErr transfer.PublishErrorResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post("/posts/create")
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("register post: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: register post: %s", ErrPublishAPI, describe(resp, apiErr))
	}

	return &out, nil
}

func describe(resp *resty.Response, apiErr transfer.PublishErrorResponse) string {
	msg := apiErr.Error
	if msg == "" {
		msg = apiErr.Message
	}
	if msg == "" {
		msg = strings.TrimSpace(resp.String())
	}
	if msg == "" {
		return resp.Status()
	}
	return fmt.Sprintf("%d %s", resp.StatusCode(), msg)
}
