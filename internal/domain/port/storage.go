package port

import (
	"context"
	"io"
)

// UploadResult carries where an uploaded object can be reached. MirrorURL is
// empty when no CDN mirror is configured.
type UploadResult struct {
	Key        string
	PrimaryURL string
	MirrorURL  string
}

type MediaStorage interface {
	DownloadVideo(ctx context.Context, objectKey string, destPath string) error
	UploadFrame(ctx context.Context, objectKey string, reader io.Reader, size int64) (*UploadResult, error)
}
