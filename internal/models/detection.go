package models

import "github.com/google/uuid"

// Detection is one speed measurement for a tracked vehicle over a measured
// interval of frames. Rows are written only by the processing pipeline and
// are immutable afterwards.
type Detection struct {
	ID          string   `json:"id"`
	VideoID     string   `json:"video_id"`
	TrackID     int      `json:"track_id"`
	FrameNumber int      `json:"frame_number"`
	Timestamp   float64  `json:"timestamp"`
	Speed       *float64 `json:"speed"`
	IsSpeeding  bool     `json:"is_speeding"`
}

func NewDetection(videoID string, trackID, frameNumber int, timestamp float64) *Detection {
	return &Detection{
		ID:          uuid.New().String(),
		VideoID:     videoID,
		TrackID:     trackID,
		FrameNumber: frameNumber,
		Timestamp:   timestamp,
	}
}
