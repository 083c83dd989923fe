package port

import "context"

type FailureNotifier interface {
	NotifyFailure(ctx context.Context, recipient string, videoID string, videoKey string, errorMsg string) error
}
