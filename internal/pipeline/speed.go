package pipeline

import (
	"math"

	"github.com/projectcars/speedcam/internal/calibration"
	"github.com/projectcars/speedcam/internal/models"
)

const (
	// maxPlausibleSpeed discards measurements from track switches and
	// projection blowups near the horizon.
	maxPlausibleSpeed = 200.0

	mpsToKmh = 3.6
)

type observation struct {
	frame int
	pos   models.Point
}

// measurement is one finished speed reading for one track.
type measurement struct {
	trackID int
	frame   int
	speed   float64
}

// speedEstimator turns per-frame track positions into speed measurements.
// Positions are projected onto the calibrated ground plane as they arrive;
// each track emits one measurement per full observation window.
type speedEstimator struct {
	transform  *calibration.Transform
	fps        float64
	speedLimit float64

	// minSamples is the shortest usable track (a quarter second of frames),
	// window the span of one measurement (about one second).
	minSamples int
	window     int

	tracks  map[int][]observation
	counted map[int]struct{}
	speeds  []float64
}

func newSpeedEstimator(transform *calibration.Transform, fps, speedLimit float64) *speedEstimator {
	minSamples := int(math.Round(fps / 4))
	if minSamples < 2 {
		minSamples = 2
	}
	window := int(math.Round(fps))
	if window < minSamples {
		window = minSamples
	}

	return &speedEstimator{
		transform:  transform,
		fps:        fps,
		speedLimit: speedLimit,
		minSamples: minSamples,
		window:     window,
		tracks:     make(map[int][]observation),
		counted:    make(map[int]struct{}),
	}
}

// Observe records one tracked position. When the track's window fills, the
// finished measurement is returned and the window restarts from its last
// observation so consecutive measurements share an endpoint.
func (e *speedEstimator) Observe(frame, trackID int, anchor models.Point) (measurement, bool) {
	e.counted[trackID] = struct{}{}

	obs := observation{frame: frame, pos: e.transform.Project(anchor)}
	e.tracks[trackID] = append(e.tracks[trackID], obs)

	track := e.tracks[trackID]
	if len(track) < e.window {
		return measurement{}, false
	}

	speed, ok := e.measure(track)
	e.tracks[trackID] = append(track[:0], track[len(track)-1])
	if !ok {
		return measurement{}, false
	}

	e.speeds = append(e.speeds, speed)
	return measurement{trackID: trackID, frame: frame, speed: speed}, true
}

// Finish flushes tracks that ended mid-window. Remainders shorter than
// minSamples are dropped as too noisy to measure.
func (e *speedEstimator) Finish() []measurement {
	var out []measurement
	for trackID, track := range e.tracks {
		if len(track) < e.minSamples {
			continue
		}
		speed, ok := e.measure(track)
		if !ok {
			continue
		}
		e.speeds = append(e.speeds, speed)
		out = append(out, measurement{
			trackID: trackID,
			frame:   track[len(track)-1].frame,
			speed:   speed,
		})
	}
	e.tracks = make(map[int][]observation)
	return out
}

// VehicleCount is the number of distinct tracks observed, measured or not.
func (e *speedEstimator) VehicleCount() int {
	return len(e.counted)
}

// Stats aggregates the accepted measurements. The pointers are nil when no
// track yielded a usable speed.
func (e *speedEstimator) Stats() (avg, max, min *float64) {
	if len(e.speeds) == 0 {
		return nil, nil, nil
	}

	sum := 0.0
	maxV := e.speeds[0]
	minV := e.speeds[0]
	for _, s := range e.speeds {
		sum += s
		maxV = math.Max(maxV, s)
		minV = math.Min(minV, s)
	}
	avgV := sum / float64(len(e.speeds))
	return &avgV, &maxV, &minV
}

func (e *speedEstimator) measure(track []observation) (float64, bool) {
	first := track[0]
	last := track[len(track)-1]

	frames := last.frame - first.frame
	if frames <= 0 {
		return 0, false
	}

	meters := math.Hypot(last.pos.X-first.pos.X, last.pos.Y-first.pos.Y)
	seconds := float64(frames) / e.fps
	speed := meters / seconds * mpsToKmh

	if !isPlausible(speed) {
		return 0, false
	}
	return speed, true
}

func isPlausible(speed float64) bool {
	return speed > 0 && speed < maxPlausibleSpeed && !math.IsNaN(speed) && !math.IsInf(speed, 0)
}
