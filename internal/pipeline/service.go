// Package pipeline runs the speed analysis of uploaded videos: it drives the
// external detector/tracker, derives per-track speeds through the calibrated
// ground-plane transform, and persists detections and progress as it goes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/projectcars/speedcam/internal/calibration"
	"github.com/projectcars/speedcam/internal/database"
	"github.com/projectcars/speedcam/internal/detector"
	"github.com/projectcars/speedcam/internal/models"
	"github.com/projectcars/speedcam/internal/storage"
)

const (
	// DefaultTimeout bounds a single processing run.
	DefaultTimeout = 30 * time.Minute

	// progressInterval is the number of frames between progress flushes.
	progressInterval = 10
)

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Service owns the background processing runs, at most one per video.
type Service struct {
	videos       *database.VideoRepository
	calibrations *database.CalibrationRepository
	detections   *database.DetectionRepository
	detector     detector.Detector
	uploads      storage.Storage
	processed    storage.Storage
	timeout      time.Duration

	mu   sync.RWMutex
	runs map[string]*run
}

func NewService(
	videos *database.VideoRepository,
	calibrations *database.CalibrationRepository,
	detections *database.DetectionRepository,
	det detector.Detector,
	uploads, processed storage.Storage,
	timeout time.Duration,
) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		videos:       videos,
		calibrations: calibrations,
		detections:   detections,
		detector:     det,
		uploads:      uploads,
		processed:    processed,
		timeout:      timeout,
		runs:         make(map[string]*run),
	}
}

// Start validates the request, transitions the video to processing and kicks
// off the background run. It returns before any frame is consumed; all
// validation failures surface here and leave the video untouched.
func (s *Service) Start(ctx context.Context, videoID string, cfg models.ProcessingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	video, err := s.videos.GetByID(ctx, videoID)
	if err != nil {
		return err
	}

	var transform *calibration.Transform
	if cfg.EnableSpeedCalculation {
		cal, err := s.calibrations.Get(ctx, videoID)
		if errors.Is(err, models.ErrNotFound) {
			return models.NewValidationError("video must be calibrated before speed calculation")
		}
		if err != nil {
			return err
		}
		if video.FPS <= 0 {
			return models.NewValidationError("video has no frame rate metadata")
		}

		// Snapshot the transform now. A calibration replaced mid-run must not
		// affect a run that already started.
		transform, err = calibration.ComputeTransform(cal.Points, cal.ReferenceDistance, video.Width, video.Height)
		if err != nil {
			return err
		}
	}

	// The run is published fully formed: a concurrent Cancel or Shutdown may
	// fetch it the instant it lands in the map.
	runCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
	r := &run{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if _, active := s.runs[videoID]; active {
		s.mu.Unlock()
		cancel()
		return models.ErrConflict
	}
	s.runs[videoID] = r
	s.mu.Unlock()

	abort := func(err error) error {
		cancel()
		s.remove(videoID)
		close(r.done)
		return err
	}

	if err := s.videos.BeginProcessing(ctx, videoID, cfg.SpeedLimit); err != nil {
		return abort(err)
	}

	// Prior runs' detections are superseded, not merged.
	if err := s.detections.DeleteByVideo(ctx, videoID); err != nil {
		return abort(err)
	}

	go s.process(runCtx, r, video, cfg, transform)

	log.Printf("[PIPELINE] Started processing video %s (speed=%v, limit=%g)",
		videoID, cfg.EnableSpeedCalculation, cfg.SpeedLimit)
	return nil
}

// Cancel stops the active run of a video, if any, and waits for it to settle.
func (s *Service) Cancel(videoID string) {
	s.mu.RLock()
	r, ok := s.runs[videoID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	r.cancel()
	<-r.done
}

// Shutdown cancels every active run and waits for them to settle.
func (s *Service) Shutdown() {
	s.mu.RLock()
	active := make([]*run, 0, len(s.runs))
	for _, r := range s.runs {
		active = append(active, r)
	}
	s.mu.RUnlock()

	for _, r := range active {
		r.cancel()
	}
	for _, r := range active {
		<-r.done
	}
}

func (s *Service) remove(videoID string) {
	s.mu.Lock()
	delete(s.runs, videoID)
	s.mu.Unlock()
}

func (s *Service) process(ctx context.Context, r *run, video *models.Video, cfg models.ProcessingConfig, transform *calibration.Transform) {
	defer func() {
		r.cancel()
		s.remove(video.ID)
		close(r.done)
	}()

	videoPath, err := s.uploads.FilePath(video.OriginalPath)
	if err != nil {
		s.fail(video.ID, fmt.Sprintf("invalid video path: %v", err))
		return
	}

	processedName := video.ID + ".mp4"
	outputPath, err := s.processed.FilePath(processedName)
	if err != nil {
		s.fail(video.ID, fmt.Sprintf("invalid output path: %v", err))
		return
	}

	var estimator *speedEstimator
	// Without speed calculation vehicles are still counted per distinct track.
	seen := make(map[int]struct{})
	if cfg.EnableSpeedCalculation {
		estimator = newSpeedEstimator(transform, video.FPS, cfg.SpeedLimit)
	}

	frames, errs := s.detector.Detect(ctx, videoPath, detector.Config{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		IOUThreshold:        cfg.IOUThreshold,
		OutputPath:          outputPath,
	})

	var batch []*models.Detection
	processedFrames := 0

	for frame := range frames {
		processedFrames = frame.Number + 1

		for _, d := range frame.Detections {
			if d.Confidence < cfg.ConfidenceThreshold {
				continue
			}
			seen[d.TrackID] = struct{}{}

			if estimator == nil {
				continue
			}
			m, ok := estimator.Observe(frame.Number, d.TrackID, d.Box.BottomCenter())
			if ok {
				batch = append(batch, s.toDetection(video, cfg, m))
			}
		}

		if processedFrames%progressInterval == 0 {
			if err := s.flush(ctx, video.ID, batch, processedFrames); err != nil {
				s.fail(video.ID, fmt.Sprintf("failed to persist progress: %v", err))
				return
			}
			batch = batch[:0]
		}
	}

	if err := <-errs; err != nil {
		s.fail(video.ID, failureMessage(ctx, err))
		return
	}
	if ctx.Err() != nil {
		s.fail(video.ID, failureMessage(ctx, ctx.Err()))
		return
	}

	if estimator != nil {
		for _, m := range estimator.Finish() {
			batch = append(batch, s.toDetection(video, cfg, m))
		}
	}
	if err := s.flush(context.Background(), video.ID, batch, processedFrames); err != nil {
		s.fail(video.ID, fmt.Sprintf("failed to persist results: %v", err))
		return
	}

	result := models.ProcessingResult{
		ProcessedFrames: processedFrames,
		VehicleCount:    len(seen),
	}
	if estimator != nil {
		result.VehicleCount = estimator.VehicleCount()
		result.AvgSpeed, result.MaxSpeed, result.MinSpeed = estimator.Stats()
	}
	// The annotated copy is optional; only record it when the tracker wrote one.
	if _, err := os.Stat(outputPath); err == nil {
		result.ProcessedPath = processedName
	}

	if err := s.videos.CompleteProcessing(context.Background(), video.ID, result); err != nil {
		log.Printf("[PIPELINE] Failed to complete video %s: %v", video.ID, err)
		return
	}

	log.Printf("[PIPELINE] Completed video %s: %d frames, %d vehicles",
		video.ID, processedFrames, result.VehicleCount)
}

func (s *Service) toDetection(video *models.Video, cfg models.ProcessingConfig, m measurement) *models.Detection {
	d := models.NewDetection(video.ID, m.trackID, m.frame, float64(m.frame)/video.FPS)
	speed := m.speed
	d.Speed = &speed
	d.IsSpeeding = speed > cfg.SpeedLimit
	return d
}

func (s *Service) flush(ctx context.Context, videoID string, batch []*models.Detection, processedFrames int) error {
	if err := s.detections.InsertBatch(ctx, batch); err != nil {
		return err
	}
	return s.videos.UpdateProgress(ctx, videoID, processedFrames)
}

// fail records the failure on the video. The run context may already be
// cancelled, so the write uses a fresh one. A missing row is fine: deletion
// cancels runs, and the cascade has already removed the video.
func (s *Service) fail(videoID, message string) {
	err := s.videos.FailProcessing(context.Background(), videoID, message)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		log.Printf("[PIPELINE] Failed to mark video %s as failed: %v", videoID, err)
		return
	}
	log.Printf("[PIPELINE] Video %s failed: %s", videoID, message)
}

func failureMessage(ctx context.Context, err error) string {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "processing timed out"
	case errors.Is(ctx.Err(), context.Canceled):
		return "processing cancelled"
	default:
		return err.Error()
	}
}
