package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/projectcars/speedcam/internal/calibration"
	"github.com/projectcars/speedcam/internal/models"
)

// defaultApproximateDistance stands in for the reference distance when the
// operator marks the calibration approximate without measuring one.
const defaultApproximateDistance = 150.0

type calibrationRequest struct {
	Points            []models.Point `json:"points"`
	ReferenceDistance float64        `json:"reference_distance"`
	Approximate       bool           `json:"approximate"`
}

func (app *App) SaveCalibrationHandler(w http.ResponseWriter, r *http.Request) {
	video, err := app.Videos.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}

	var req calibrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, models.NewValidationError("invalid request body"))
		return
	}

	if req.Approximate && req.ReferenceDistance <= 0 {
		req.ReferenceDistance = defaultApproximateDistance
	}

	// A calibration is stored only if it yields a usable transform. Rejection
	// leaves any previously stored calibration in place.
	if _, err := calibration.ComputeTransform(req.Points, req.ReferenceDistance, video.Width, video.Height); err != nil {
		respondError(w, err)
		return
	}

	cal := models.NewCalibration(video.ID, req.Points, req.ReferenceDistance, req.Approximate)
	if err := app.Calibrations.Save(r.Context(), cal); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, cal)
}

func (app *App) GetCalibrationHandler(w http.ResponseWriter, r *http.Request) {
	cal, err := app.Calibrations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cal)
}

func (app *App) DeleteCalibrationHandler(w http.ResponseWriter, r *http.Request) {
	if err := app.Calibrations.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
