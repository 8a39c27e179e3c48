package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/projectcars/speedcam/internal/models"
)

type CalibrationRepository struct {
	db *DB
}

func NewCalibrationRepository(db *DB) *CalibrationRepository {
	return &CalibrationRepository{db: db}
}

// Save stores the calibration for a video, replacing any previous one, and
// stamps calibrated_at on the video record in the same transaction.
func (r *CalibrationRepository) Save(ctx context.Context, cal *models.Calibration) error {
	points, err := json.Marshal(cal.Points)
	if err != nil {
		return fmt.Errorf("failed to marshal calibration points: %w", err)
	}

	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM calibrations WHERE video_id = $1`, cal.VideoID); err != nil {
		return fmt.Errorf("failed to replace calibration: %w", err)
	}

	query := `
		INSERT INTO calibrations (video_id, mode, points, reference_distance, approximate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := tx.ExecContext(ctx, query,
		cal.VideoID,
		cal.Mode,
		string(points),
		cal.ReferenceDistance,
		cal.Approximate,
		cal.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert calibration: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE videos SET calibrated_at = $1 WHERE id = $2`, cal.CreatedAt, cal.VideoID)
	if err != nil {
		return fmt.Errorf("failed to stamp video calibration time: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check calibration stamp: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("video %s: %w", cal.VideoID, models.ErrNotFound)
	}

	return tx.Commit()
}

func (r *CalibrationRepository) Get(ctx context.Context, videoID string) (*models.Calibration, error) {
	query := `
		SELECT video_id, mode, points, reference_distance, approximate, created_at
		FROM calibrations WHERE video_id = $1`

	cal := &models.Calibration{}
	var points string

	err := r.db.conn.QueryRowContext(ctx, query, videoID).Scan(
		&cal.VideoID,
		&cal.Mode,
		&points,
		&cal.ReferenceDistance,
		&cal.Approximate,
		&cal.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("calibration for video %s: %w", videoID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get calibration: %w", err)
	}

	if err := json.Unmarshal([]byte(points), &cal.Points); err != nil {
		return nil, fmt.Errorf("failed to unmarshal calibration points: %w", err)
	}

	return cal, nil
}

// Delete removes the calibration and clears the video's calibrated_at stamp.
func (r *CalibrationRepository) Delete(ctx context.Context, videoID string) error {
	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM calibrations WHERE video_id = $1`, videoID)
	if err != nil {
		return fmt.Errorf("failed to delete calibration: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check calibration delete: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("calibration for video %s: %w", videoID, models.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE videos SET calibrated_at = NULL WHERE id = $1`, videoID); err != nil {
		return fmt.Errorf("failed to clear video calibration time: %w", err)
	}

	return tx.Commit()
}
