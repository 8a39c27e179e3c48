// Package report builds read-only views over finished processing runs: the
// per-video speed report, its CSV export and the global analytics summary.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/projectcars/speedcam/internal/database"
	"github.com/projectcars/speedcam/internal/models"
)

// VideoReport summarizes one video's detections. The counters always cover
// every detection; Detections carries only the requested filter slice.
type VideoReport struct {
	VideoID          string             `json:"video_id"`
	Filename         string             `json:"filename"`
	Status           models.VideoStatus `json:"status"`
	SpeedLimit       float64            `json:"speed_limit"`
	TotalVehicles    int                `json:"total_vehicles"`
	SpeedingVehicles int                `json:"speeding_vehicles"`
	AvgSpeed         float64            `json:"avg_speed"`
	MaxSpeed         float64            `json:"max_speed"`
	Detections       []models.Detection `json:"detections"`
}

// Summary is the fleet-wide analytics view.
type Summary struct {
	TotalVideos           int      `json:"total_videos"`
	CompletedVideos       int      `json:"completed_videos"`
	ProcessingVideos      int      `json:"processing_videos"`
	FailedVideos          int      `json:"failed_videos"`
	TotalVehiclesDetected int      `json:"total_vehicles_detected"`
	AvgProcessingTime     *float64 `json:"avg_processing_time,omitempty"`
}

type Aggregator struct {
	videos     *database.VideoRepository
	detections *database.DetectionRepository
}

func NewAggregator(videos *database.VideoRepository, detections *database.DetectionRepository) *Aggregator {
	return &Aggregator{videos: videos, detections: detections}
}

// VideoReport builds the report for one video. The filter narrows the listed
// detections; the aggregate counters ignore it.
func (a *Aggregator) VideoReport(ctx context.Context, videoID string, filter database.DetectionFilter) (*VideoReport, error) {
	video, err := a.videos.GetByID(ctx, videoID)
	if err != nil {
		return nil, err
	}

	all, err := a.detections.ListByVideo(ctx, videoID, database.FilterAll)
	if err != nil {
		return nil, err
	}

	report := &VideoReport{
		VideoID:    video.ID,
		Filename:   video.Filename,
		Status:     video.Status,
		SpeedLimit: video.SpeedLimit,
		Detections: []models.Detection{},
	}

	sum := 0.0
	measured := 0
	for _, d := range all {
		report.TotalVehicles++
		if d.IsSpeeding {
			report.SpeedingVehicles++
		}
		if d.Speed == nil {
			continue
		}
		sum += *d.Speed
		measured++
		if *d.Speed > report.MaxSpeed {
			report.MaxSpeed = *d.Speed
		}
	}
	if measured > 0 {
		report.AvgSpeed = sum / float64(measured)
	}

	switch filter {
	case database.FilterAll:
		report.Detections = append(report.Detections, all...)
	default:
		for _, d := range all {
			if (filter == database.FilterSpeeding) == d.IsSpeeding {
				report.Detections = append(report.Detections, d)
			}
		}
	}

	return report, nil
}

// WriteCSV streams a video's detections as a CSV export.
func (a *Aggregator) WriteCSV(ctx context.Context, w io.Writer, videoID string, filter database.DetectionFilter) error {
	video, err := a.videos.GetByID(ctx, videoID)
	if err != nil {
		return err
	}

	detections, err := a.detections.ListByVideo(ctx, videoID, filter)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	header := []string{"Vehicle ID", "Time (s)", "Frame", "Speed (km/h)", "Speed Limit (km/h)", "Status"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, d := range detections {
		speed := ""
		if d.Speed != nil {
			speed = strconv.FormatFloat(*d.Speed, 'f', 1, 64)
		}
		status := "OK"
		if d.IsSpeeding {
			status = "SPEEDING"
		}

		record := []string{
			strconv.Itoa(d.TrackID),
			strconv.FormatFloat(d.Timestamp, 'f', 2, 64),
			strconv.Itoa(d.FrameNumber),
			speed,
			strconv.FormatFloat(video.SpeedLimit, 'f', 0, 64),
			status,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv record: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Summary aggregates across all videos. Average processing time is in
// seconds and omitted until at least one video completed.
func (a *Aggregator) Summary(ctx context.Context) (*Summary, error) {
	videos, err := a.videos.List(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{TotalVideos: len(videos)}

	totalSeconds := 0.0
	timed := 0
	for _, v := range videos {
		switch v.Status {
		case models.StatusCompleted:
			summary.CompletedVideos++
			summary.TotalVehiclesDetected += v.VehicleCount
			if v.ProcessedAt != nil {
				totalSeconds += v.ProcessedAt.Sub(v.UploadedAt).Seconds()
				timed++
			}
		case models.StatusProcessing:
			summary.ProcessingVideos++
		case models.StatusFailed:
			summary.FailedVideos++
		}
	}
	if timed > 0 {
		avg := totalSeconds / float64(timed)
		summary.AvgProcessingTime = &avg
	}

	return summary, nil
}
