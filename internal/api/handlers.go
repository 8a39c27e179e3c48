package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/projectcars/speedcam/internal/database"
	"github.com/projectcars/speedcam/internal/media"
	"github.com/projectcars/speedcam/internal/models"
	"github.com/projectcars/speedcam/internal/pipeline"
	"github.com/projectcars/speedcam/internal/report"
	"github.com/projectcars/speedcam/internal/storage"
)

// MediaProber reads video metadata and frames. Satisfied by media.Prober.
type MediaProber interface {
	Probe(videoPath string) (*media.VideoInfo, error)
	ExtractFrame(videoPath string) ([]byte, error)
}

var allowedExtensions = map[string]bool{
	".mp4": true,
	".avi": true,
	".mov": true,
	".mkv": true,
}

type App struct {
	Uploads       storage.Storage
	Processed     storage.Storage
	DB            *database.DB
	Videos        *database.VideoRepository
	Calibrations  *database.CalibrationRepository
	Detections    *database.DetectionRepository
	Pipeline      *pipeline.Service
	Media         MediaProber
	Reports       *report.Aggregator
	MaxUploadSize int64
}

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

func (app *App) HealthHandler(w http.ResponseWriter, r *http.Request) {
	dbState := "up"
	status := http.StatusOK
	if err := app.DB.Ping(); err != nil {
		dbState = "down"
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]string{
		"status":   "ok",
		"database": dbState,
	})
}

func (app *App) UploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, app.MaxUploadSize)

	if err := r.ParseMultipartForm(app.MaxUploadSize); err != nil {
		respondError(w, models.NewValidationError("file too large"))
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		respondError(w, models.NewValidationError("missing video file"))
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		respondError(w, models.NewValidationError(
			fmt.Sprintf("unsupported video format %q", ext)))
		return
	}

	filename, err := app.Uploads.SaveFile(file, storage.FileInfo{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
	})
	if err != nil {
		respondError(w, fmt.Errorf("failed to save file: %w", err))
		return
	}

	videoPath, err := app.Uploads.FilePath(filename)
	if err != nil {
		app.Uploads.DeleteFile(filename)
		respondError(w, err)
		return
	}

	info, err := app.Media.Probe(videoPath)
	if err != nil {
		app.Uploads.DeleteFile(filename)
		respondError(w, models.NewValidationError("unable to read video metadata"))
		return
	}

	video := models.NewVideo(header.Filename, filename)
	video.FPS = info.FPS
	video.Duration = info.Duration
	video.TotalFrames = info.TotalFrames
	video.Width = info.Width
	video.Height = info.Height

	if err := app.Videos.Insert(r.Context(), video); err != nil {
		app.Uploads.DeleteFile(filename)
		respondError(w, fmt.Errorf("failed to save video record: %w", err))
		return
	}

	respondJSON(w, http.StatusCreated, video)
}

func (app *App) ListVideosHandler(w http.ResponseWriter, r *http.Request) {
	videos, err := app.Videos.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if videos == nil {
		videos = []models.Video{}
	}
	respondJSON(w, http.StatusOK, videos)
}

func (app *App) GetVideoHandler(w http.ResponseWriter, r *http.Request) {
	video, err := app.Videos.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, video)
}

func (app *App) DeleteVideoHandler(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")

	video, err := app.Videos.GetByID(r.Context(), videoID)
	if err != nil {
		respondError(w, err)
		return
	}

	// An active run must settle before its rows disappear under it.
	app.Pipeline.Cancel(videoID)

	if err := app.Videos.Delete(r.Context(), videoID); err != nil {
		respondError(w, err)
		return
	}

	app.Uploads.DeleteFile(video.OriginalPath)
	if video.ProcessedPath != "" {
		app.Processed.DeleteFile(video.ProcessedPath)
	}

	w.WriteHeader(http.StatusNoContent)
}

// FrameHandler serves the first frame as JPEG, the backdrop for placing
// calibration points.
func (app *App) FrameHandler(w http.ResponseWriter, r *http.Request) {
	video, err := app.Videos.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}

	videoPath, err := app.Uploads.FilePath(video.OriginalPath)
	if err != nil {
		respondError(w, err)
		return
	}

	frame, err := app.Media.ExtractFrame(videoPath)
	if err != nil {
		respondError(w, fmt.Errorf("failed to extract frame: %w", err))
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(frame)
}

// DownloadHandler serves the annotated copy written by the tracker.
func (app *App) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	video, err := app.Videos.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	if video.ProcessedPath == "" {
		respondError(w, fmt.Errorf("processed video %w", models.ErrNotFound))
		return
	}

	file, err := app.Processed.OpenFile(video.ProcessedPath)
	if err != nil {
		respondError(w, fmt.Errorf("processed video %w", models.ErrNotFound))
		return
	}
	defer file.Close()

	setHeaders := func() {
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", "processed_"+video.Filename))
	}

	// ServeContent handles Range requests for video players. Stores that
	// cannot stat their files get a plain copy without range support.
	statter, ok := file.(interface{ Stat() (os.FileInfo, error) })
	if !ok {
		setHeaders()
		io.Copy(w, file)
		return
	}
	stat, err := statter.Stat()
	if err != nil {
		respondError(w, err)
		return
	}
	setHeaders()
	http.ServeContent(w, r, video.ProcessedPath, stat.ModTime(), file)
}
