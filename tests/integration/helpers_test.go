package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/projectcars/speedcam/internal/api"
	"github.com/projectcars/speedcam/internal/database"
	"github.com/projectcars/speedcam/internal/detector"
	"github.com/projectcars/speedcam/internal/media"
	"github.com/projectcars/speedcam/internal/models"
	"github.com/projectcars/speedcam/internal/pipeline"
	"github.com/projectcars/speedcam/internal/report"
	"github.com/projectcars/speedcam/internal/storage"
)

type TestServer struct {
	Server *httptest.Server
	App    *api.App
	DB     *database.DB
}

// stubProber stands in for ffprobe: every upload reports a 40-frame 30fps
// clip at 1920x1080.
type stubProber struct{}

func (stubProber) Probe(videoPath string) (*media.VideoInfo, error) {
	return &media.VideoInfo{
		FPS:         30,
		TotalFrames: 40,
		Duration:    40.0 / 30,
		Width:       1920,
		Height:      1080,
	}, nil
}

func (stubProber) ExtractFrame(videoPath string) ([]byte, error) {
	return []byte{0xff, 0xd8, 0xff, 0xd9}, nil
}

// writeTrackerScript creates a stand-in tracker binary that replays one
// vehicle crossing the frame at 30px per frame.
func writeTrackerScript(t *testing.T, dir string) string {
	t.Helper()

	script := `#!/bin/sh
i=0
while [ $i -lt 40 ]; do
  x=$((200 + 30 * i))
  printf '{"frame":%d,"detections":[{"track_id":1,"bbox":{"x1":%d,"y1":560,"x2":%d,"y2":600},"confidence":0.9}]}\n' "$i" "$((x - 20))" "$((x + 20))"
  i=$((i + 1))
done
`
	path := filepath.Join(dir, "tracker.sh")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("Failed to write tracker script: %v", err)
	}
	return path
}

func writeFailingTrackerScript(t *testing.T, dir string) string {
	t.Helper()

	script := `#!/bin/sh
echo "model weights missing" >&2
exit 2
`
	path := filepath.Join(dir, "broken-tracker.sh")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("Failed to write tracker script: %v", err)
	}
	return path
}

func setupTestServer(t *testing.T, trackerPath string) *TestServer {
	t.Helper()

	tempDir := t.TempDir()

	uploads, err := storage.NewLocalStorage(filepath.Join(tempDir, "uploads"))
	if err != nil {
		t.Fatalf("Failed to create upload storage: %v", err)
	}
	processed, err := storage.NewLocalStorage(filepath.Join(tempDir, "processed"))
	if err != nil {
		t.Fatalf("Failed to create processed storage: %v", err)
	}

	db, err := database.NewDB(database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(tempDir, "test.db"),
	})
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	videoRepo := database.NewVideoRepository(db)
	calibrationRepo := database.NewCalibrationRepository(db)
	detectionRepo := database.NewDetectionRepository(db)

	det, err := detector.NewCommandDetector(trackerPath)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	pipe := pipeline.NewService(videoRepo, calibrationRepo, detectionRepo, det, uploads, processed, time.Minute)
	t.Cleanup(pipe.Shutdown)

	app := &api.App{
		Uploads:       uploads,
		Processed:     processed,
		DB:            db,
		Videos:        videoRepo,
		Calibrations:  calibrationRepo,
		Detections:    detectionRepo,
		Pipeline:      pipe,
		Media:         stubProber{},
		Reports:       report.NewAggregator(videoRepo, detectionRepo),
		MaxUploadSize: 10 * 1024 * 1024,
	}

	server := httptest.NewServer(api.NewRouter(app))
	t.Cleanup(server.Close)

	return &TestServer{Server: server, App: app, DB: db}
}

func uploadTestVideo(t *testing.T, serverURL, filename string) *models.Video {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("video", filename)
	if err != nil {
		t.Fatalf("Failed to create multipart upload: %v", err)
	}
	part.Write([]byte("fake mp4 content for testing"))
	writer.Close()

	resp, err := http.Post(serverURL+"/api/videos/upload", writer.FormDataContentType(), body)
	if err != nil {
		t.Fatalf("Failed to upload video: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected status 201 on upload, got %d", resp.StatusCode)
	}

	var video models.Video
	if err := json.NewDecoder(resp.Body).Decode(&video); err != nil {
		t.Fatalf("Failed to decode upload response: %v", err)
	}
	return &video
}

func postJSON(t *testing.T, url string, payload interface{}) *http.Response {
	t.Helper()

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return resp
}

func calibrateVideo(t *testing.T, serverURL, videoID string) {
	t.Helper()

	resp := postJSON(t, serverURL+"/api/videos/"+videoID+"/calibration", map[string]interface{}{
		"points":             [][]float64{{100, 500}, {400, 500}, {400, 700}, {100, 700}},
		"reference_distance": 10,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected status 201 on calibration, got %d", resp.StatusCode)
	}
}

func waitForFinalStatus(t *testing.T, serverURL, videoID string) models.VideoStatus {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(serverURL + "/api/videos/" + videoID + "/status")
		if err != nil {
			t.Fatalf("Failed to get status: %v", err)
		}

		var status struct {
			Status       models.VideoStatus `json:"status"`
			ErrorMessage string             `json:"error_message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			t.Fatalf("Failed to decode status: %v", err)
		}
		resp.Body.Close()

		if status.Status == models.StatusCompleted || status.Status == models.StatusFailed {
			return status.Status
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for processing to finish")
	return ""
}

func countRows(t *testing.T, db *database.DB, table string) int {
	t.Helper()

	var count int
	if err := db.Conn().QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
		t.Fatalf("Failed to count %s: %v", table, err)
	}
	return count
}
