package port

import (
	"context"
	"time"

	"github.com/medialabel/medialabel-labeling-service/internal/domain/entity"
)

type StatusPublisher interface {
	PublishStatus(ctx context.Context, msg []byte) error
}

type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg []byte, reason string) error
}

// LabelQueue hands frame-labeling work to the frames.label queue. Enqueue
// dispatches immediately; ScheduleRetry delays delivery by the given amount
// so retries stay observable as real queue messages.
type LabelQueue interface {
	EnqueueLabel(ctx context.Context, msg entity.LabelFrameMessage) error
	ScheduleRetry(ctx context.Context, msg entity.LabelFrameMessage, delay time.Duration) error
}
