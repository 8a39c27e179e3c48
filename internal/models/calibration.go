package models

import (
	"encoding/json"
	"fmt"
	"time"
)

const CalibrationModeFourPoint = "four_point"

// Point is an image-space coordinate. It marshals as the two-element
// [x, y] array the dashboard sends and expects.
type Point struct {
	X float64
	Y float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("point must be a [x, y] pair: %w", err)
	}
	p.X, p.Y = pair[0], pair[1]
	return nil
}

// Calibration is the current pixel-to-metric mapping configuration for a
// video. At most one exists per video; saving overwrites the previous one.
type Calibration struct {
	VideoID           string    `json:"video_id"`
	Mode              string    `json:"mode"`
	Points            []Point   `json:"points"`
	ReferenceDistance float64   `json:"reference_distance"`
	Approximate       bool      `json:"approximate"`
	CreatedAt         time.Time `json:"created_at"`
}

func NewCalibration(videoID string, points []Point, referenceDistance float64, approximate bool) *Calibration {
	return &Calibration{
		VideoID:           videoID,
		Mode:              CalibrationModeFourPoint,
		Points:            points,
		ReferenceDistance: referenceDistance,
		Approximate:       approximate,
		CreatedAt:         time.Now().UTC(),
	}
}
