package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/projectcars/speedcam/internal/models"
)

type VideoRepository struct {
	db *DB
}

func NewVideoRepository(db *DB) *VideoRepository {
	return &VideoRepository{db: db}
}

const videoColumns = `
	v.id, v.filename, v.original_path, v.processed_path, v.status,
	v.fps, v.duration, v.total_frames, v.processed_frames, v.width, v.height,
	v.speed_limit, v.vehicle_count, v.avg_speed, v.max_speed, v.min_speed,
	v.error_message, v.uploaded_at, v.processed_at, v.calibrated_at,
	EXISTS(SELECT 1 FROM calibrations c WHERE c.video_id = v.id)`

func (r *VideoRepository) Insert(ctx context.Context, video *models.Video) error {
	query := `
		INSERT INTO videos (
			id, filename, original_path, processed_path, status,
			fps, duration, total_frames, processed_frames, width, height,
			speed_limit, vehicle_count, error_message, uploaded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.conn.ExecContext(ctx, query,
		video.ID,
		video.Filename,
		video.OriginalPath,
		video.ProcessedPath,
		string(video.Status),
		video.FPS,
		video.Duration,
		video.TotalFrames,
		video.ProcessedFrames,
		video.Width,
		video.Height,
		video.SpeedLimit,
		video.VehicleCount,
		video.ErrorMessage,
		video.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert video: %w", err)
	}
	return nil
}

func (r *VideoRepository) GetByID(ctx context.Context, id string) (*models.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos v WHERE v.id = $1`

	video, err := scanVideo(r.db.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("video %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	return video, nil
}

func (r *VideoRepository) List(ctx context.Context) ([]models.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos v ORDER BY v.uploaded_at DESC, v.id`

	rows, err := r.db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	var videos []models.Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, *video)
	}
	return videos, rows.Err()
}

// Delete removes the video and cascades to its calibration and detections in
// one transaction, so no orphans are ever queryable.
func (r *VideoRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM detections WHERE video_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM calibrations WHERE video_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete calibration: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("video %s: %w", id, models.ErrNotFound)
	}

	return tx.Commit()
}

// BeginProcessing moves the video into the processing state with a
// compare-and-set on the prior status, clearing results from any earlier run.
// A concurrent second request loses the race and gets ErrConflict.
func (r *VideoRepository) BeginProcessing(ctx context.Context, id string, speedLimit float64) error {
	query := `
		UPDATE videos SET
			status = $1,
			processed_frames = 0,
			processed_path = '',
			vehicle_count = 0,
			avg_speed = NULL,
			max_speed = NULL,
			min_speed = NULL,
			error_message = '',
			processed_at = NULL,
			speed_limit = $2
		WHERE id = $3 AND status IN ($4, $5, $6)`

	result, err := r.db.conn.ExecContext(ctx, query,
		string(models.StatusProcessing),
		speedLimit,
		id,
		string(models.StatusUploaded),
		string(models.StatusCompleted),
		string(models.StatusFailed),
	)
	if err != nil {
		return fmt.Errorf("failed to start processing: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check processing start: %w", err)
	}
	if affected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("video %s: %w", id, models.ErrConflict)
	}
	return nil
}

// UpdateProgress advances processed_frames. The guard keeps progress
// monotonic within a run and ignores stale updates after a terminal
// transition.
func (r *VideoRepository) UpdateProgress(ctx context.Context, id string, processedFrames int) error {
	query := `
		UPDATE videos SET processed_frames = $1
		WHERE id = $2 AND status = $3 AND processed_frames <= $4`

	_, err := r.db.conn.ExecContext(ctx, query,
		processedFrames, id, string(models.StatusProcessing), processedFrames)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// CompleteProcessing commits the terminal success state together with all
// result counters, so readers never observe a half-finished combination.
func (r *VideoRepository) CompleteProcessing(ctx context.Context, id string, result models.ProcessingResult) error {
	query := `
		UPDATE videos SET
			status = $1,
			processed_frames = $2,
			processed_path = $3,
			vehicle_count = $4,
			avg_speed = $5,
			max_speed = $6,
			min_speed = $7,
			processed_at = $8
		WHERE id = $9 AND status = $10`

	res, err := r.db.conn.ExecContext(ctx, query,
		string(models.StatusCompleted),
		result.ProcessedFrames,
		result.ProcessedPath,
		result.VehicleCount,
		nullableFloat(result.AvgSpeed),
		nullableFloat(result.MaxSpeed),
		nullableFloat(result.MinSpeed),
		time.Now().UTC(),
		id,
		string(models.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to complete processing: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check completion: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("video %s is not processing: %w", id, models.ErrConflict)
	}
	return nil
}

// FailProcessing commits the terminal failure state. Detections already
// persisted by the run stay in place.
func (r *VideoRepository) FailProcessing(ctx context.Context, id string, message string) error {
	query := `
		UPDATE videos SET status = $1, error_message = $2
		WHERE id = $3 AND status = $4`

	_, err := r.db.conn.ExecContext(ctx, query,
		string(models.StatusFailed), message, id, string(models.StatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to mark video failed: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVideo(row rowScanner) (*models.Video, error) {
	var video models.Video
	var status string
	var avgSpeed, maxSpeed, minSpeed sql.NullFloat64
	var processedAt, calibratedAt sql.NullTime

	err := row.Scan(
		&video.ID,
		&video.Filename,
		&video.OriginalPath,
		&video.ProcessedPath,
		&status,
		&video.FPS,
		&video.Duration,
		&video.TotalFrames,
		&video.ProcessedFrames,
		&video.Width,
		&video.Height,
		&video.SpeedLimit,
		&video.VehicleCount,
		&avgSpeed,
		&maxSpeed,
		&minSpeed,
		&video.ErrorMessage,
		&video.UploadedAt,
		&processedAt,
		&calibratedAt,
		&video.IsCalibrated,
	)
	if err != nil {
		return nil, err
	}

	video.Status = models.VideoStatus(status)
	if avgSpeed.Valid {
		video.AvgSpeed = &avgSpeed.Float64
	}
	if maxSpeed.Valid {
		video.MaxSpeed = &maxSpeed.Float64
	}
	if minSpeed.Valid {
		video.MinSpeed = &minSpeed.Float64
	}
	if processedAt.Valid {
		t := processedAt.Time
		video.ProcessedAt = &t
	}
	if calibratedAt.Valid {
		t := calibratedAt.Time
		video.CalibratedAt = &t
	}

	return &video, nil
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
