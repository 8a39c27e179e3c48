package database

import (
	"context"
	"errors"
	"testing"

	"github.com/projectcars/speedcam/internal/models"
)

func TestCalibrationRepository_SaveAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	videos := NewVideoRepository(db)
	repo := NewCalibrationRepository(db)
	ctx := context.Background()

	video := insertTestVideo(t, videos)

	points := []models.Point{
		{X: 100, Y: 500}, {X: 400, Y: 500}, {X: 400, Y: 700}, {X: 100, Y: 700},
	}
	cal := models.NewCalibration(video.ID, points, 12.5, false)
	if err := repo.Save(ctx, cal); err != nil {
		t.Fatalf("Failed to save calibration: %v", err)
	}

	retrieved, err := repo.Get(ctx, video.ID)
	if err != nil {
		t.Fatalf("Failed to retrieve calibration: %v", err)
	}
	if retrieved.ReferenceDistance != 12.5 {
		t.Errorf("Expected reference distance 12.5, got %g", retrieved.ReferenceDistance)
	}
	if len(retrieved.Points) != 4 {
		t.Fatalf("Expected 4 points, got %d", len(retrieved.Points))
	}
	if retrieved.Points[2] != points[2] {
		t.Errorf("Expected point %v, got %v", points[2], retrieved.Points[2])
	}
	if retrieved.Approximate {
		t.Error("Expected exact calibration")
	}

	updated, err := videos.GetByID(ctx, video.ID)
	if err != nil {
		t.Fatalf("Failed to retrieve video: %v", err)
	}
	if !updated.IsCalibrated {
		t.Error("Expected video to report calibrated")
	}
	if updated.CalibratedAt == nil {
		t.Error("Expected calibrated_at to be set")
	}
}

func TestCalibrationRepository_Save_Replaces(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	videos := NewVideoRepository(db)
	repo := NewCalibrationRepository(db)
	ctx := context.Background()

	video := insertTestVideo(t, videos)
	points := []models.Point{
		{X: 100, Y: 500}, {X: 400, Y: 500}, {X: 400, Y: 700}, {X: 100, Y: 700},
	}

	if err := repo.Save(ctx, models.NewCalibration(video.ID, points, 10, false)); err != nil {
		t.Fatalf("Failed to save calibration: %v", err)
	}
	if err := repo.Save(ctx, models.NewCalibration(video.ID, points, 150, true)); err != nil {
		t.Fatalf("Failed to replace calibration: %v", err)
	}

	retrieved, err := repo.Get(ctx, video.ID)
	if err != nil {
		t.Fatalf("Failed to retrieve calibration: %v", err)
	}
	if retrieved.ReferenceDistance != 150 {
		t.Errorf("Expected replaced distance 150, got %g", retrieved.ReferenceDistance)
	}
	if !retrieved.Approximate {
		t.Error("Expected approximate calibration after replacement")
	}
}

func TestCalibrationRepository_Save_VideoNotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewCalibrationRepository(db)
	points := []models.Point{
		{X: 100, Y: 500}, {X: 400, Y: 500}, {X: 400, Y: 700}, {X: 100, Y: 700},
	}

	err := repo.Save(context.Background(), models.NewCalibration("missing", points, 10, false))
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestCalibrationRepository_Get_NotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	videos := NewVideoRepository(db)
	repo := NewCalibrationRepository(db)

	video := insertTestVideo(t, videos)

	_, err := repo.Get(context.Background(), video.ID)
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestCalibrationRepository_Delete(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	videos := NewVideoRepository(db)
	repo := NewCalibrationRepository(db)
	ctx := context.Background()

	video := insertTestVideo(t, videos)
	points := []models.Point{
		{X: 100, Y: 500}, {X: 400, Y: 500}, {X: 400, Y: 700}, {X: 100, Y: 700},
	}
	if err := repo.Save(ctx, models.NewCalibration(video.ID, points, 10, false)); err != nil {
		t.Fatalf("Failed to save calibration: %v", err)
	}

	if err := repo.Delete(ctx, video.ID); err != nil {
		t.Fatalf("Failed to delete calibration: %v", err)
	}

	if _, err := repo.Get(ctx, video.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected calibration gone, got %v", err)
	}

	updated, err := videos.GetByID(ctx, video.ID)
	if err != nil {
		t.Fatalf("Failed to retrieve video: %v", err)
	}
	if updated.IsCalibrated {
		t.Error("Expected video to report uncalibrated after delete")
	}
	if updated.CalibratedAt != nil {
		t.Error("Expected calibrated_at cleared after delete")
	}

	// Deleting again reports not found.
	if err := repo.Delete(ctx, video.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
