package service

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	cfg "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/transfer"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// R2Service presigns PUT targets in a Cloudflare R2 bucket so media can be
// uploaded without asking the publish backend for a URL.
type R2Service struct {
	config  cfg.Config
	presign *s3.PresignClient
}

func NewR2Service(ctx context.Context, c cfg.Config) (*R2Service, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.R2.AccessKey, c.R2.SecretKey, "")),
		config.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(r2Endpoint(c.R2.AccountID))
		o.UsePathStyle = true
	})

	return &R2Service{config: c, presign: s3.NewPresignClient(client)}, nil
}

func r2Endpoint(accountID string) string {
	if strings.HasPrefix(accountID, "http://") || strings.HasPrefix(accountID, "https://") {
		return accountID
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
}

// CreateSignedUploadTarget presigns a PUT for a fresh object key. The
// Content-Type is part of the signature, so the upload must send mimeType.
func (r *R2Service) CreateSignedUploadTarget(ctx context.Context, fileName, mimeType string) (*transfer.SignedURLResponse, error) {
	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	key := path.Join("uploads", id, objectName(fileName))

	ttl := r.config.R2.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	req, err := r.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.config.R2.BucketName),
		Key:         aws.String(key),
		ContentType: aws.String(mimeType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("presign upload: %w", err)
	}

	return &transfer.SignedURLResponse{SignedURL: req.URL, StoragePath: key}, nil
}

func objectName(fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "media"
	}
	return name
}
