package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/projectcars/speedcam/internal/database"
	"github.com/projectcars/speedcam/internal/models"
)

func (app *App) StartProcessingHandler(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")

	cfg := models.DefaultProcessingConfig()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil && err != io.EOF {
		respondError(w, models.NewValidationError("invalid request body"))
		return
	}

	if err := app.Pipeline.Start(r.Context(), videoID, cfg); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     videoID,
		"status": string(models.StatusProcessing),
	})
}

type statusResponse struct {
	ID              string             `json:"id"`
	Status          models.VideoStatus `json:"status"`
	Progress        int                `json:"progress"`
	ProcessedFrames int                `json:"processed_frames"`
	TotalFrames     int                `json:"total_frames"`
	ErrorMessage    string             `json:"error_message,omitempty"`
}

func (app *App) StatusHandler(w http.ResponseWriter, r *http.Request) {
	video, err := app.Videos.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, statusResponse{
		ID:              video.ID,
		Status:          video.Status,
		Progress:        video.Progress(),
		ProcessedFrames: video.ProcessedFrames,
		TotalFrames:     video.TotalFrames,
		ErrorMessage:    video.ErrorMessage,
	})
}

func (app *App) ListDetectionsHandler(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")

	filter, err := database.ParseDetectionFilter(r.URL.Query().Get("filter"))
	if err != nil {
		respondError(w, err)
		return
	}

	if _, err := app.Videos.GetByID(r.Context(), videoID); err != nil {
		respondError(w, err)
		return
	}

	detections, err := app.Detections.ListByVideo(r.Context(), videoID, filter)
	if err != nil {
		respondError(w, err)
		return
	}
	if detections == nil {
		detections = []models.Detection{}
	}
	respondJSON(w, http.StatusOK, detections)
}

func (app *App) ReportHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := database.ParseDetectionFilter(r.URL.Query().Get("filter"))
	if err != nil {
		respondError(w, err)
		return
	}

	rep, err := app.Reports.VideoReport(r.Context(), chi.URLParam(r, "id"), filter)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

func (app *App) ReportCSVHandler(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")

	filter, err := database.ParseDetectionFilter(r.URL.Query().Get("filter"))
	if err != nil {
		respondError(w, err)
		return
	}

	// Buffered so an error still produces a clean JSON response instead of a
	// truncated download.
	var buf bytes.Buffer
	if err := app.Reports.WriteCSV(r.Context(), &buf, videoID, filter); err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "report_"+videoID+".csv"))
	w.Write(buf.Bytes())
}

func (app *App) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := app.Reports.Summary(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
