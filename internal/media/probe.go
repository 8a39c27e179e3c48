// Package media shells out to ffprobe/ffmpeg for video metadata and
// single-frame extraction. It is the frame-source collaborator: the rest of
// the system never touches video bytes directly.
package media

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type VideoInfo struct {
	FPS         float64
	TotalFrames int
	Duration    float64
	Width       int
	Height      int
}

type Prober struct {
	ffprobePath string
	ffmpegPath  string
	tempDir     string
}

func NewProber() (*Prober, error) {
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	tempDir := filepath.Join(os.TempDir(), "speedcam-frames")
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &Prober{
		ffprobePath: ffprobePath,
		ffmpegPath:  ffmpegPath,
		tempDir:     tempDir,
	}, nil
}

// Probe extracts fps, frame count, duration and frame size from the video's
// first video stream. Frame count falls back to duration*fps when the
// container does not record it.
func (p *Prober) Probe(videoPath string) (*VideoInfo, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("video file not accessible: %w", err)
	}

	cmd := exec.Command(p.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,nb_frames:format=duration",
		"-of", "default=noprint_wrappers=1",
		videoPath)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	info := &VideoInfo{}
	for _, line := range strings.Split(stdout.String(), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || value == "N/A" {
			continue
		}
		switch key {
		case "width":
			info.Width, _ = strconv.Atoi(value)
		case "height":
			info.Height, _ = strconv.Atoi(value)
		case "r_frame_rate":
			info.FPS = parseFrameRate(value)
		case "nb_frames":
			info.TotalFrames, _ = strconv.Atoi(value)
		case "duration":
			info.Duration, _ = strconv.ParseFloat(value, 64)
		}
	}

	if info.FPS <= 0 {
		return nil, fmt.Errorf("invalid frame rate in %s", videoPath)
	}
	if info.Duration <= 0 && info.TotalFrames > 0 {
		info.Duration = float64(info.TotalFrames) / info.FPS
	}
	if info.TotalFrames <= 0 && info.Duration > 0 {
		info.TotalFrames = int(math.Round(info.Duration * info.FPS))
	}
	if info.TotalFrames <= 0 {
		return nil, fmt.Errorf("could not determine frame count for %s", videoPath)
	}

	return info, nil
}

// ExtractFrame returns the first frame of the video encoded as JPEG. The
// calibration page shows it so the user can click the four reference points.
func (p *Prober) ExtractFrame(videoPath string) ([]byte, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("video file not accessible: %w", err)
	}

	tempFile := filepath.Join(p.tempDir, fmt.Sprintf("frame_%s.jpg", uuid.New().String()))
	defer os.Remove(tempFile)

	cmd := exec.Command(p.ffmpegPath,
		"-i", videoPath,
		"-vframes", "1",
		"-q:v", "2",
		"-f", "mjpeg",
		tempFile)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("failed to extract frame: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(tempFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read extracted frame: %w", err)
	}

	return data, nil
}

func (p *Prober) Cleanup() error {
	return os.RemoveAll(p.tempDir)
}

// parseFrameRate handles ffprobe's rational form, e.g. "30000/1001".
func parseFrameRate(value string) float64 {
	num, den, ok := strings.Cut(value, "/")
	if !ok {
		fps, _ := strconv.ParseFloat(value, 64)
		return fps
	}

	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
