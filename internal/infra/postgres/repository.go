package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/medialabel/medialabel-labeling-service/internal/domain/entity"
	"github.com/medialabel/medialabel-labeling-service/internal/domain/port"
)

// AssetRepository stores videos and keyframes as whole JSONB documents.
// Saves are upserts, so the most recent writer wins; concurrent labelers
// re-read before deciding instead of locking.
type AssetRepository struct {
	pool *pgxpool.Pool
}

func NewAssetRepository(pool *pgxpool.Pool) *AssetRepository {
	return &AssetRepository{pool: pool}
}

func (r *AssetRepository) SaveVideo(ctx context.Context, video *entity.VideoAsset) error {
	doc, err := json.Marshal(video)
	if err != nil {
		return fmt.Errorf("marshal video doc: %w", err)
	}

	query := `
		INSERT INTO video_assets (id, doc, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`

	if _, err := r.pool.Exec(ctx, query, video.ID, doc, video.UpdatedAt); err != nil {
		return fmt.Errorf("upsert video: %w", err)
	}
	return nil
}

func (r *AssetRepository) GetVideo(ctx context.Context, id uuid.UUID) (*entity.VideoAsset, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM video_assets WHERE id=$1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("video %s: %w", id, port.ErrAssetNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select video: %w", err)
	}

	video := &entity.VideoAsset{}
	if err := json.Unmarshal(doc, video); err != nil {
		return nil, fmt.Errorf("unmarshal video doc: %w", err)
	}

	frames, err := r.listKeyframes(ctx, id)
	if err != nil {
		return nil, err
	}
	video.Keyframes = frames
	return video, nil
}

func (r *AssetRepository) SaveKeyframe(ctx context.Context, frame *entity.Keyframe) error {
	doc, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal keyframe doc: %w", err)
	}

	query := `
		INSERT INTO keyframes (id, parent_video_id, frame_number, doc, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`

	if _, err := r.pool.Exec(ctx, query,
		frame.ID, frame.ParentVideoID, frame.FrameNumber, doc, frame.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert keyframe: %w", err)
	}
	return nil
}

func (r *AssetRepository) GetKeyframe(ctx context.Context, id uuid.UUID) (*entity.Keyframe, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM keyframes WHERE id=$1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("keyframe %s: %w", id, port.ErrAssetNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select keyframe: %w", err)
	}

	frame := &entity.Keyframe{}
	if err := json.Unmarshal(doc, frame); err != nil {
		return nil, fmt.Errorf("unmarshal keyframe doc: %w", err)
	}
	return frame, nil
}

func (r *AssetRepository) DeleteKeyframes(ctx context.Context, videoID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx,
		`DELETE FROM keyframes WHERE parent_video_id=$1`, videoID); err != nil {
		return fmt.Errorf("delete keyframes: %w", err)
	}
	return nil
}

func (r *AssetRepository) listKeyframes(ctx context.Context, videoID uuid.UUID) ([]*entity.Keyframe, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT doc FROM keyframes WHERE parent_video_id=$1 ORDER BY frame_number`, videoID)
	if err != nil {
		return nil, fmt.Errorf("select keyframes: %w", err)
	}
	defer rows.Close()

	var frames []*entity.Keyframe
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan keyframe doc: %w", err)
		}
		frame := &entity.Keyframe{}
		if err := json.Unmarshal(doc, frame); err != nil {
			return nil, fmt.Errorf("unmarshal keyframe doc: %w", err)
		}
		frames = append(frames, frame)
	}
	return frames, rows.Err()
}
