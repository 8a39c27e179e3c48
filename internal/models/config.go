package models

import "fmt"

// ProcessingConfig is the per-run configuration. It is not persisted as an
// entity; the speed limit is copied onto the video record at run start.
type ProcessingConfig struct {
	ConfidenceThreshold    float64 `json:"confidence_threshold"`
	IOUThreshold           float64 `json:"iou_threshold"`
	EnableSpeedCalculation bool    `json:"enable_speed_calculation"`
	SpeedLimit             float64 `json:"speed_limit"`
}

// DefaultProcessingConfig mirrors the dashboard's form defaults.
func DefaultProcessingConfig() ProcessingConfig {
	return ProcessingConfig{
		ConfidenceThreshold: 0.3,
		IOUThreshold:        0.7,
		SpeedLimit:          80.0,
	}
}

func (c ProcessingConfig) Validate() error {
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		return NewValidationError(fmt.Sprintf("confidence_threshold must be in (0, 1], got %g", c.ConfidenceThreshold))
	}
	if c.IOUThreshold <= 0 || c.IOUThreshold > 1 {
		return NewValidationError(fmt.Sprintf("iou_threshold must be in (0, 1], got %g", c.IOUThreshold))
	}
	if c.SpeedLimit <= 0 {
		return NewValidationError(fmt.Sprintf("speed_limit must be positive, got %g", c.SpeedLimit))
	}
	return nil
}
