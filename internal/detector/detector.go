// Package detector defines the contract with the external object
// detector/tracker. Detection and track association happen out of process;
// this package only streams their results into the pipeline.
package detector

import (
	"context"

	"github.com/projectcars/speedcam/internal/models"
)

// Config is passed through to the external tracker. The thresholds are not
// reinterpreted here: confidence filtering and IoU-based association are the
// tracker's job.
type Config struct {
	ConfidenceThreshold float64
	IOUThreshold        float64
	// OutputPath, when set, asks the tracker to write an annotated copy of
	// the video there.
	OutputPath string
}

// BBox is an axis-aligned bounding box in image coordinates.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// BottomCenter is the representative ground-contact point of the box, the
// anchor used for speed measurement.
func (b BBox) BottomCenter() models.Point {
	return models.Point{X: (b.X1 + b.X2) / 2, Y: b.Y2}
}

// RawDetection is one tracked object observation in one frame.
type RawDetection struct {
	TrackID    int     `json:"track_id"`
	Box        BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
}

// Frame groups the observations of a single video frame. Frames arrive in
// strictly increasing order; frames without vehicles carry an empty slice.
type Frame struct {
	Number     int            `json:"frame"`
	Detections []RawDetection `json:"detections"`
}

// Detector streams ordered per-frame detections for a video. The frames
// channel is closed when the stream ends; a fatal failure is delivered on the
// error channel before both close. Implementations must honor ctx.
type Detector interface {
	Detect(ctx context.Context, videoPath string, cfg Config) (<-chan Frame, <-chan error)
}
