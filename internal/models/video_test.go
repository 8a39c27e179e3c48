package models

import (
	"encoding/json"
	"testing"
)

func TestVideo_Progress(t *testing.T) {
	tests := []struct {
		name            string
		status          VideoStatus
		processedFrames int
		totalFrames     int
		want            int
	}{
		{"fresh upload", StatusUploaded, 0, 900, 0},
		{"halfway", StatusProcessing, 450, 900, 50},
		{"overshoot clamped", StatusProcessing, 1000, 900, 100},
		{"unknown total", StatusProcessing, 450, 0, 0},
		{"completed always full", StatusCompleted, 450, 900, 100},
		{"failed always zero", StatusFailed, 450, 900, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVideo("traffic.mp4", "traffic.mp4")
			v.Status = tt.status
			v.ProcessedFrames = tt.processedFrames
			v.TotalFrames = tt.totalFrames

			if got := v.Progress(); got != tt.want {
				t.Errorf("Progress() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestVideo_MarshalJSONIncludesProgress(t *testing.T) {
	v := NewVideo("traffic.mp4", "traffic.mp4")
	v.Status = StatusProcessing
	v.ProcessedFrames = 225
	v.TotalFrames = 900

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal video: %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Failed to unmarshal video: %v", err)
	}

	progress, ok := fields["progress"]
	if !ok {
		t.Fatal("Expected a progress field in the video JSON")
	}
	if progress != float64(25) {
		t.Errorf("Expected progress 25, got %v", progress)
	}

	// Paths stay server-side.
	if _, leaked := fields["original_path"]; leaked {
		t.Error("Expected original_path excluded from the video JSON")
	}
}

func TestVideo_MarshalJSONCompletedProgress(t *testing.T) {
	v := NewVideo("done.mp4", "done.mp4")
	v.Status = StatusCompleted
	v.ProcessedFrames = 10
	v.TotalFrames = 900

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal video: %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Failed to unmarshal video: %v", err)
	}
	if fields["progress"] != float64(100) {
		t.Errorf("Expected completed video to report progress 100, got %v", fields["progress"])
	}
}
