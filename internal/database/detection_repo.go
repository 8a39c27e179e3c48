package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/projectcars/speedcam/internal/models"
)

// DetectionFilter narrows a detection listing for the report views.
type DetectionFilter string

const (
	FilterAll      DetectionFilter = "all"
	FilterSpeeding DetectionFilter = "speeding"
	FilterNormal   DetectionFilter = "normal"
)

func ParseDetectionFilter(s string) (DetectionFilter, error) {
	switch DetectionFilter(s) {
	case "", FilterAll:
		return FilterAll, nil
	case FilterSpeeding:
		return FilterSpeeding, nil
	case FilterNormal:
		return FilterNormal, nil
	default:
		return "", models.NewValidationError(fmt.Sprintf("unknown detection filter %q", s))
	}
}

type DetectionRepository struct {
	db *DB
}

func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// InsertBatch persists a group of detections atomically. The pipeline calls
// this per progress flush, so a mid-run failure leaves only whole batches.
func (r *DetectionRepository) InsertBatch(ctx context.Context, detections []*models.Detection) error {
	if len(detections) == 0 {
		return nil
	}

	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO detections (id, video_id, track_id, frame_number, timestamp, speed, is_speeding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	if err != nil {
		return fmt.Errorf("failed to prepare detection insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range detections {
		if _, err := stmt.ExecContext(ctx,
			d.ID, d.VideoID, d.TrackID, d.FrameNumber, d.Timestamp,
			nullableFloat(d.Speed), d.IsSpeeding,
		); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	return tx.Commit()
}

func (r *DetectionRepository) ListByVideo(ctx context.Context, videoID string, filter DetectionFilter) ([]models.Detection, error) {
	query := `
		SELECT id, video_id, track_id, frame_number, timestamp, speed, is_speeding
		FROM detections WHERE video_id = $1`

	switch filter {
	case FilterSpeeding:
		query += ` AND is_speeding`
	case FilterNormal:
		query += ` AND NOT is_speeding`
	}
	query += ` ORDER BY frame_number, track_id`

	rows, err := r.db.conn.QueryContext(ctx, query, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list detections: %w", err)
	}
	defer rows.Close()

	var detections []models.Detection
	for rows.Next() {
		var d models.Detection
		var speed sql.NullFloat64

		if err := rows.Scan(&d.ID, &d.VideoID, &d.TrackID, &d.FrameNumber,
			&d.Timestamp, &speed, &d.IsSpeeding); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		if speed.Valid {
			d.Speed = &speed.Float64
		}
		detections = append(detections, d)
	}
	return detections, rows.Err()
}

// DeleteByVideo removes all detections of a video. Reprocessing calls this so
// a new run supersedes the previous one's rows.
func (r *DetectionRepository) DeleteByVideo(ctx context.Context, videoID string) error {
	if _, err := r.db.conn.ExecContext(ctx,
		`DELETE FROM detections WHERE video_id = $1`, videoID); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}
	return nil
}
