package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ping", PingHandler)
	r.Get("/api/health", app.HealthHandler)

	r.Route("/api/videos", func(r chi.Router) {
		r.Post("/upload", app.UploadHandler)
		r.Get("/", app.ListVideosHandler)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", app.GetVideoHandler)
			r.Delete("/", app.DeleteVideoHandler)
			r.Get("/frame", app.FrameHandler)
			r.Get("/download", app.DownloadHandler)

			r.Post("/calibration", app.SaveCalibrationHandler)
			r.Get("/calibration", app.GetCalibrationHandler)
			r.Delete("/calibration", app.DeleteCalibrationHandler)

			r.Post("/process", app.StartProcessingHandler)
			r.Get("/status", app.StatusHandler)
			r.Get("/detections", app.ListDetectionsHandler)
			r.Get("/report", app.ReportHandler)
			r.Get("/report/csv", app.ReportCSVHandler)
		})
	})

	r.Get("/api/analytics/summary", app.SummaryHandler)

	return r
}
