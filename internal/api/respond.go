package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/projectcars/speedcam/internal/calibration"
	"github.com/projectcars/speedcam/internal/models"
)

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// respondError translates domain errors to HTTP statuses. Anything outside
// the known taxonomy is a 500 with the detail kept server-side.
func respondError(w http.ResponseWriter, err error) {
	var verr *models.ValidationError

	switch {
	case errors.Is(err, models.ErrNotFound):
		respondJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrConflict):
		respondJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.As(err, &verr),
		errors.Is(err, calibration.ErrInvalidInput),
		errors.Is(err, calibration.ErrDegenerateGeometry):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		log.Printf("[API] Internal error: %v", err)
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}
