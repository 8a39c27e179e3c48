// Package calibration converts four user-marked image points plus one known
// real-world distance into a reusable pixel-to-metric transform.
//
// The four points are clicked in order around a planar road region. The
// engine fits the homography that maps that quadrilateral onto an upright
// rectangle and then scales the plane so that the first and second clicked
// points land exactly referenceDistance metres apart.
package calibration

import (
	"errors"
	"fmt"
	"math"

	"github.com/projectcars/speedcam/internal/models"
)

var (
	ErrInvalidInput       = errors.New("invalid calibration input")
	ErrDegenerateGeometry = errors.New("degenerate calibration geometry")
)

const (
	// PointCount is the only accepted number of calibration points.
	PointCount = 4

	// Target rectangle proportions carried over from the original dashboard
	// contract: width 25 units, height 10 units per reference metre.
	targetWidth          = 25.0
	targetHeightPerMeter = 10.0

	collinearEpsilon = 1e-9
	pivotEpsilon     = 1e-12
)

// Transform projects image-space points onto the calibrated ground plane,
// in metres. It is immutable; the pipeline snapshots one per run.
type Transform struct {
	h     [9]float64
	scale float64
}

// ComputeTransform validates the calibration input and fits the projective
// mapping. frameWidth/frameHeight bound the valid pixel space; non-positive
// bounds skip the bounds check (metadata not probed yet).
//
// It is a pure function: persisting an accepted calibration is the caller's
// responsibility, and a rejected one must leave prior state untouched.
func ComputeTransform(points []models.Point, referenceDistance float64, frameWidth, frameHeight int) (*Transform, error) {
	if len(points) != PointCount {
		return nil, fmt.Errorf("%w: exactly %d points required, got %d", ErrInvalidInput, PointCount, len(points))
	}
	if referenceDistance <= 0 || math.IsNaN(referenceDistance) || math.IsInf(referenceDistance, 0) {
		return nil, fmt.Errorf("%w: reference distance must be positive, got %g", ErrInvalidInput, referenceDistance)
	}
	for i, p := range points {
		if !isFinite(p.X) || !isFinite(p.Y) {
			return nil, fmt.Errorf("%w: point %d is not finite", ErrInvalidInput, i)
		}
		if frameWidth > 0 && frameHeight > 0 {
			if p.X < 0 || p.X >= float64(frameWidth) || p.Y < 0 || p.Y >= float64(frameHeight) {
				return nil, fmt.Errorf("%w: point %d (%g, %g) outside frame %dx%d", ErrInvalidInput, i, p.X, p.Y, frameWidth, frameHeight)
			}
		}
	}
	for i := 0; i < PointCount; i++ {
		for j := i + 1; j < PointCount; j++ {
			if points[i] == points[j] {
				return nil, fmt.Errorf("%w: points %d and %d coincide", ErrInvalidInput, i, j)
			}
		}
	}

	if err := checkGeometry(points); err != nil {
		return nil, err
	}

	height := targetHeightPerMeter * referenceDistance
	dst := [PointCount]models.Point{
		{X: 0, Y: 0},
		{X: targetWidth, Y: 0},
		{X: targetWidth, Y: height},
		{X: 0, Y: height},
	}

	h, err := solveHomography(points, dst)
	if err != nil {
		return nil, err
	}

	t := &Transform{h: h, scale: 1}

	// Pin the scale to the reference edge: the first-to-second clicked points
	// span exactly referenceDistance metres in the projected plane.
	edge := distance(t.project(points[0]), t.project(points[1]))
	if edge <= 0 || !isFinite(edge) {
		return nil, fmt.Errorf("%w: reference edge collapses under projection", ErrDegenerateGeometry)
	}
	t.scale = referenceDistance / edge

	return t, nil
}

// Project maps an image-space point to ground-plane coordinates in metres.
func (t *Transform) Project(p models.Point) models.Point {
	m := t.project(p)
	return models.Point{X: m.X * t.scale, Y: m.Y * t.scale}
}

// Distance is the straight-line metric distance between two image points
// after projection.
func (t *Transform) Distance(a, b models.Point) float64 {
	return distance(t.Project(a), t.Project(b))
}

func (t *Transform) project(p models.Point) models.Point {
	w := t.h[6]*p.X + t.h[7]*p.Y + t.h[8]
	return models.Point{
		X: (t.h[0]*p.X + t.h[1]*p.Y + t.h[2]) / w,
		Y: (t.h[3]*p.X + t.h[4]*p.Y + t.h[5]) / w,
	}
}

// checkGeometry rejects quadrilaterals that cannot define a plane mapping:
// any three collinear points, or a (near) zero-area polygon.
func checkGeometry(points []models.Point) error {
	scale := boundingScale(points)
	for i := 0; i < PointCount; i++ {
		for j := i + 1; j < PointCount; j++ {
			for k := j + 1; k < PointCount; k++ {
				if math.Abs(cross(points[i], points[j], points[k])) <= collinearEpsilon*scale*scale {
					return fmt.Errorf("%w: points %d, %d, %d are collinear", ErrDegenerateGeometry, i, j, k)
				}
			}
		}
	}
	if math.Abs(polygonArea(points)) <= collinearEpsilon*scale*scale {
		return fmt.Errorf("%w: zero-area quadrilateral", ErrDegenerateGeometry)
	}
	return nil
}

// solveHomography fits h (with h33 fixed to 1) mapping src[i] to dst[i]
// through an 8x8 linear system solved by Gaussian elimination.
func solveHomography(src []models.Point, dst [PointCount]models.Point) ([9]float64, error) {
	var a [8][9]float64 // augmented matrix

	for i := 0; i < PointCount; i++ {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y

		r1 := [9]float64{x, y, 1, 0, 0, 0, -u * x, -u * y, u}
		r2 := [9]float64{0, 0, 0, x, y, 1, -v * x, -v * y, v}
		a[2*i] = r1
		a[2*i+1] = r2
	}

	for col := 0; col < 8; col++ {
		pivot := col
		for row := col + 1; row < 8; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < pivotEpsilon {
			return [9]float64{}, fmt.Errorf("%w: singular point configuration", ErrDegenerateGeometry)
		}
		a[col], a[pivot] = a[pivot], a[col]

		for row := col + 1; row < 8; row++ {
			f := a[row][col] / a[col][col]
			for k := col; k < 9; k++ {
				a[row][k] -= f * a[col][k]
			}
		}
	}

	var sol [8]float64
	for row := 7; row >= 0; row-- {
		s := a[row][8]
		for k := row + 1; k < 8; k++ {
			s -= a[row][k] * sol[k]
		}
		sol[row] = s / a[row][row]
	}

	return [9]float64{sol[0], sol[1], sol[2], sol[3], sol[4], sol[5], sol[6], sol[7], 1}, nil
}

func cross(o, a, b models.Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

func polygonArea(points []models.Point) float64 {
	var area float64
	for i := range points {
		j := (i + 1) % len(points)
		area += points[i].X*points[j].Y - points[j].X*points[i].Y
	}
	return area / 2
}

func boundingScale(points []models.Point) float64 {
	maxAbs := 1.0
	for _, p := range points {
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(p.X), math.Abs(p.Y)))
	}
	return maxAbs
}

func distance(a, b models.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
