package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type VideoStatus string

const (
	StatusUploaded   VideoStatus = "uploaded"
	StatusProcessing VideoStatus = "processing"
	StatusCompleted  VideoStatus = "completed"
	StatusFailed     VideoStatus = "failed"
)

type Video struct {
	ID              string      `json:"id"`
	Filename        string      `json:"filename"`
	OriginalPath    string      `json:"-"`
	ProcessedPath   string      `json:"-"`
	Status          VideoStatus `json:"status"`
	FPS             float64     `json:"fps"`
	Duration        float64     `json:"duration"`
	TotalFrames     int         `json:"total_frames"`
	ProcessedFrames int         `json:"processed_frames"`
	Width           int         `json:"width"`
	Height          int         `json:"height"`
	SpeedLimit      float64     `json:"speed_limit"`
	VehicleCount    int         `json:"vehicle_count"`
	AvgSpeed        *float64    `json:"avg_speed"`
	MaxSpeed        *float64    `json:"max_speed"`
	MinSpeed        *float64    `json:"min_speed"`
	ErrorMessage    string      `json:"error_message,omitempty"`
	UploadedAt      time.Time   `json:"uploaded_at"`
	ProcessedAt     *time.Time  `json:"processed_at"`
	CalibratedAt    *time.Time  `json:"calibrated_at"`
	IsCalibrated    bool        `json:"is_calibrated"`
}

func NewVideo(filename, originalPath string) *Video {
	return &Video{
		ID:           uuid.New().String(),
		Filename:     filename,
		OriginalPath: originalPath,
		Status:       StatusUploaded,
		UploadedAt:   time.Now().UTC(),
	}
}

// Progress reports the processing percentage. Completed videos always report
// 100 and failed videos 0, regardless of how far the run got.
func (v *Video) Progress() int {
	switch v.Status {
	case StatusCompleted:
		return 100
	case StatusFailed:
		return 0
	}
	if v.TotalFrames <= 0 || v.ProcessedFrames <= 0 {
		return 0
	}
	p := v.ProcessedFrames * 100 / v.TotalFrames
	if p > 100 {
		p = 100
	}
	return p
}

// MarshalJSON includes the derived progress so clients polling the list or
// detail endpoints see it without a separate status call.
func (v Video) MarshalJSON() ([]byte, error) {
	type alias Video
	return json.Marshal(struct {
		alias
		Progress int `json:"progress"`
	}{
		alias:    alias(v),
		Progress: v.Progress(),
	})
}

// ProcessingResult carries the final counters of a successful run. It is
// written together with the completed status in a single update.
type ProcessingResult struct {
	ProcessedFrames int
	ProcessedPath   string
	VehicleCount    int
	AvgSpeed        *float64
	MaxSpeed        *float64
	MinSpeed        *float64
}
