package minio

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/medialabel/medialabel-labeling-service/internal/domain/port"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Storage struct {
	client        *miniogo.Client
	videoBucket   string
	frameBucket   string
	publicBaseURL string
	mirrorBaseURL string
}

type StorageConfig struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	UseSSL      bool
	VideoBucket string
	FrameBucket string

	// PublicBaseURL is the externally reachable root for uploaded frames,
	// required because the vision API fetches them by URL. MirrorBaseURL is
	// an optional CDN root serving the same keys.
	PublicBaseURL string
	MirrorBaseURL string
}

func NewStorage(cfg StorageConfig) (*Storage, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	publicBase := strings.TrimSuffix(cfg.PublicBaseURL, "/")
	if publicBase == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicBase = fmt.Sprintf("%s://%s", scheme, cfg.Endpoint)
	}

	return &Storage{
		client:        client,
		videoBucket:   cfg.VideoBucket,
		frameBucket:   cfg.FrameBucket,
		publicBaseURL: publicBase,
		mirrorBaseURL: strings.TrimSuffix(cfg.MirrorBaseURL, "/"),
	}, nil
}

func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.videoBucket, s.frameBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{}); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

func (s *Storage) DownloadVideo(ctx context.Context, objectKey string, destPath string) error {
	return s.client.FGetObject(ctx, s.videoBucket, objectKey, destPath, miniogo.GetObjectOptions{})
}

func (s *Storage) UploadFrame(ctx context.Context, objectKey string, reader io.Reader, size int64) (*port.UploadResult, error) {
	_, err := s.client.PutObject(ctx, s.frameBucket, objectKey, reader, size, miniogo.PutObjectOptions{
		ContentType: "image/jpeg",
	})
	if err != nil {
		return nil, fmt.Errorf("upload frame: %w", err)
	}

	result := &port.UploadResult{
		Key:        objectKey,
		PrimaryURL: fmt.Sprintf("%s/%s/%s", s.publicBaseURL, s.frameBucket, objectKey),
	}
	if s.mirrorBaseURL != "" {
		result.MirrorURL = fmt.Sprintf("%s/%s", s.mirrorBaseURL, objectKey)
	}
	return result, nil
}
