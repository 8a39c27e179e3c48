package report

import (
	"bytes"
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/projectcars/speedcam/internal/database"
	"github.com/projectcars/speedcam/internal/models"
)

type testEnv struct {
	aggregator *Aggregator
	videos     *database.VideoRepository
	detections *database.DetectionRepository
}

func setupAggregator(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.NewDB(database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		videos:     database.NewVideoRepository(db),
		detections: database.NewDetectionRepository(db),
	}
	env.aggregator = NewAggregator(env.videos, env.detections)
	return env
}

// seedCompletedVideo stores a completed video with three detections: two
// speeding (95.5, 104.0) and one within the 80 limit (62.5).
func seedCompletedVideo(t *testing.T, env *testEnv) *models.Video {
	t.Helper()
	ctx := context.Background()

	video := models.NewVideo("traffic.mp4", "traffic.mp4")
	video.FPS = 30
	video.TotalFrames = 900
	if err := env.videos.Insert(ctx, video); err != nil {
		t.Fatalf("Failed to insert video: %v", err)
	}
	if err := env.videos.BeginProcessing(ctx, video.ID, 80); err != nil {
		t.Fatalf("Failed to begin processing: %v", err)
	}

	speeds := []struct {
		trackID  int
		frame    int
		speed    float64
		speeding bool
	}{
		{1, 30, 95.5, true},
		{2, 60, 62.5, false},
		{3, 90, 104.0, true},
	}
	var batch []*models.Detection
	for _, s := range speeds {
		d := models.NewDetection(video.ID, s.trackID, s.frame, float64(s.frame)/30)
		speed := s.speed
		d.Speed = &speed
		d.IsSpeeding = s.speeding
		batch = append(batch, d)
	}
	if err := env.detections.InsertBatch(ctx, batch); err != nil {
		t.Fatalf("Failed to insert detections: %v", err)
	}

	avg := (95.5 + 62.5 + 104.0) / 3
	max := 104.0
	min := 62.5
	result := models.ProcessingResult{
		ProcessedFrames: 900,
		VehicleCount:    3,
		AvgSpeed:        &avg,
		MaxSpeed:        &max,
		MinSpeed:        &min,
	}
	if err := env.videos.CompleteProcessing(ctx, video.ID, result); err != nil {
		t.Fatalf("Failed to complete processing: %v", err)
	}
	return video
}

func TestAggregator_VideoReport(t *testing.T) {
	env := setupAggregator(t)
	video := seedCompletedVideo(t, env)

	report, err := env.aggregator.VideoReport(context.Background(), video.ID, database.FilterAll)
	if err != nil {
		t.Fatalf("Failed to build report: %v", err)
	}

	if report.TotalVehicles != 3 {
		t.Errorf("Expected 3 vehicles, got %d", report.TotalVehicles)
	}
	if report.SpeedingVehicles != 2 {
		t.Errorf("Expected 2 speeding vehicles, got %d", report.SpeedingVehicles)
	}
	if report.MaxSpeed != 104.0 {
		t.Errorf("Expected max speed 104, got %g", report.MaxSpeed)
	}
	wantAvg := (95.5 + 62.5 + 104.0) / 3
	if math.Abs(report.AvgSpeed-wantAvg) > 1e-9 {
		t.Errorf("Expected avg speed %g, got %g", wantAvg, report.AvgSpeed)
	}
	if report.SpeedLimit != 80 {
		t.Errorf("Expected speed limit 80, got %g", report.SpeedLimit)
	}
	if len(report.Detections) != 3 {
		t.Errorf("Expected 3 listed detections, got %d", len(report.Detections))
	}
}

func TestAggregator_VideoReport_FilterKeepsTotals(t *testing.T) {
	env := setupAggregator(t)
	video := seedCompletedVideo(t, env)

	report, err := env.aggregator.VideoReport(context.Background(), video.ID, database.FilterSpeeding)
	if err != nil {
		t.Fatalf("Failed to build report: %v", err)
	}

	if len(report.Detections) != 2 {
		t.Errorf("Expected 2 listed detections, got %d", len(report.Detections))
	}
	// The filter narrows the listing only; the counters stay global.
	if report.TotalVehicles != 3 {
		t.Errorf("Expected totals over all detections, got %d", report.TotalVehicles)
	}
}

func TestAggregator_VideoReport_Empty(t *testing.T) {
	env := setupAggregator(t)

	video := models.NewVideo("empty.mp4", "empty.mp4")
	if err := env.videos.Insert(context.Background(), video); err != nil {
		t.Fatalf("Failed to insert video: %v", err)
	}

	report, err := env.aggregator.VideoReport(context.Background(), video.ID, database.FilterAll)
	if err != nil {
		t.Fatalf("Failed to build report: %v", err)
	}

	if report.TotalVehicles != 0 || report.MaxSpeed != 0 || report.AvgSpeed != 0 {
		t.Errorf("Expected zeroed report, got %+v", report)
	}
	if report.Detections == nil {
		t.Error("Expected an empty detection list, not null")
	}
}

func TestAggregator_VideoReport_NotFound(t *testing.T) {
	env := setupAggregator(t)

	_, err := env.aggregator.VideoReport(context.Background(), "missing", database.FilterAll)
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAggregator_WriteCSV(t *testing.T) {
	env := setupAggregator(t)
	video := seedCompletedVideo(t, env)

	var buf bytes.Buffer
	if err := env.aggregator.WriteCSV(context.Background(), &buf, video.ID, database.FilterAll); err != nil {
		t.Fatalf("Failed to write csv: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("Expected header plus 3 rows, got %d lines", len(lines))
	}
	if lines[0] != "Vehicle ID,Time (s),Frame,Speed (km/h),Speed Limit (km/h),Status" {
		t.Errorf("Unexpected header: %s", lines[0])
	}
	if lines[1] != "1,1.00,30,95.5,80,SPEEDING" {
		t.Errorf("Unexpected first row: %s", lines[1])
	}
	if lines[2] != "2,2.00,60,62.5,80,OK" {
		t.Errorf("Unexpected second row: %s", lines[2])
	}
}

func TestAggregator_Summary(t *testing.T) {
	env := setupAggregator(t)
	ctx := context.Background()

	seedCompletedVideo(t, env)

	failed := models.NewVideo("failed.mp4", "failed.mp4")
	if err := env.videos.Insert(ctx, failed); err != nil {
		t.Fatalf("Failed to insert video: %v", err)
	}
	if err := env.videos.BeginProcessing(ctx, failed.ID, 80); err != nil {
		t.Fatalf("Failed to begin processing: %v", err)
	}
	if err := env.videos.FailProcessing(ctx, failed.ID, "tracker crashed"); err != nil {
		t.Fatalf("Failed to fail processing: %v", err)
	}

	fresh := models.NewVideo("fresh.mp4", "fresh.mp4")
	if err := env.videos.Insert(ctx, fresh); err != nil {
		t.Fatalf("Failed to insert video: %v", err)
	}

	summary, err := env.aggregator.Summary(ctx)
	if err != nil {
		t.Fatalf("Failed to build summary: %v", err)
	}

	if summary.TotalVideos != 3 {
		t.Errorf("Expected 3 videos, got %d", summary.TotalVideos)
	}
	if summary.CompletedVideos != 1 {
		t.Errorf("Expected 1 completed video, got %d", summary.CompletedVideos)
	}
	if summary.FailedVideos != 1 {
		t.Errorf("Expected 1 failed video, got %d", summary.FailedVideos)
	}
	if summary.ProcessingVideos != 0 {
		t.Errorf("Expected 0 processing videos, got %d", summary.ProcessingVideos)
	}
	if summary.TotalVehiclesDetected != 3 {
		t.Errorf("Expected 3 vehicles over completed videos, got %d", summary.TotalVehiclesDetected)
	}
	if summary.AvgProcessingTime == nil {
		t.Error("Expected avg processing time with a completed video")
	} else if *summary.AvgProcessingTime < 0 {
		t.Errorf("Expected non-negative processing time, got %g", *summary.AvgProcessingTime)
	}
}

func TestAggregator_Summary_Empty(t *testing.T) {
	env := setupAggregator(t)

	summary, err := env.aggregator.Summary(context.Background())
	if err != nil {
		t.Fatalf("Failed to build summary: %v", err)
	}
	if summary.TotalVideos != 0 {
		t.Errorf("Expected 0 videos, got %d", summary.TotalVideos)
	}
	if summary.AvgProcessingTime != nil {
		t.Error("Expected no avg processing time without completed videos")
	}
}
