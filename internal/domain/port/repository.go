package port

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/medialabel/medialabel-labeling-service/internal/domain/entity"
)

// ErrAssetNotFound is returned when no document exists for the requested id.
var ErrAssetNotFound = errors.New("asset not found")

// AssetRepository persists whole documents with last-writer-wins upserts.
// GetVideo reloads the keyframe rows fresh on every call.
type AssetRepository interface {
	SaveVideo(ctx context.Context, video *entity.VideoAsset) error
	GetVideo(ctx context.Context, id uuid.UUID) (*entity.VideoAsset, error)
	SaveKeyframe(ctx context.Context, frame *entity.Keyframe) error
	GetKeyframe(ctx context.Context, id uuid.UUID) (*entity.Keyframe, error)
	// DeleteKeyframes clears a video's keyframe rows before a fresh
	// extraction writes its new list.
	DeleteKeyframes(ctx context.Context, videoID uuid.UUID) error
}
