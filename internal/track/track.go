// Package track generates and queries the closed line-follower circuit.
//
// A track is produced by sampling a Catmull-Rom spline over a small set of
// control points that form a closed polygon. The generated point sequence is
// ordered in travel direction and carries a progress parameter t in [0,1);
// the last sample conceptually coincides with the first.
package track

import (
	"fmt"
	"math"
)

// Constants for track generation and the start/finish line.
const (
	// DefaultMarginFraction is the fraction of each canvas dimension kept
	// clear around the scaled track.
	DefaultMarginFraction = 0.1
	// DefaultSamplesPerSegment is the number of spline samples generated
	// between consecutive control points.
	DefaultSamplesPerSegment = 24
	// DefaultLineWidth is the painted line width in canvas units.
	DefaultLineWidth = 18.0
	// StartLineHalfLength is half the length of the start/finish segment.
	StartLineHalfLength = 30.0
	// minTangentLength guards degenerate geometry: tangents shorter than
	// this are replaced with a unit vector along +X.
	minTangentLength = 1e-9
)

// Point is a 2D point in canvas coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TrackPoint is one generated sample of the circuit. T is the point's
// position along the closed track in [0,1), assigned by sample index.
// Points are immutable once generated.
type TrackPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T float64 `json:"t"`
}

// Config holds the inputs to track generation.
type Config struct {
	CanvasWidth       float64
	CanvasHeight      float64
	MarginFraction    float64
	SamplesPerSegment int
	LineWidth         float64

	// ControlPoints is a closed polygon: the first point is duplicated at
	// the end to close the loop.
	ControlPoints []Point
}

// DefaultConfig returns a generation config with an oval-ish eight-point
// circuit sized for an 800x600 canvas.
func DefaultConfig() Config {
	return Config{
		CanvasWidth:       800,
		CanvasHeight:      600,
		MarginFraction:    DefaultMarginFraction,
		SamplesPerSegment: DefaultSamplesPerSegment,
		LineWidth:         DefaultLineWidth,
		ControlPoints: []Point{
			{100, 300},
			{190, 130},
			{400, 80},
			{620, 150},
			{700, 320},
			{590, 470},
			{380, 520},
			{180, 450},
			{100, 300}, // duplicate of the first point, closes the loop
		},
	}
}

// Track owns the generated point sequence, the painted line width, and the
// total arc length (sum of consecutive point distances, for reporting only;
// the parameterization is by sample index, not arc length).
type Track struct {
	Points      []TrackPoint
	LineWidth   float64
	TotalLength float64
}

// Generate builds a Track from cfg. The control points are uniformly scaled
// and translated so their bounding box fits the canvas minus the margin,
// preserving aspect ratio, then sampled along a Catmull-Rom spline with
// wraparound control-point indexing so the curve is continuous across the
// closing seam. Generation is deterministic: identical inputs yield
// point-for-point identical tracks.
func Generate(cfg Config) (*Track, error) {
	if cfg.CanvasWidth <= 0 || cfg.CanvasHeight <= 0 {
		return nil, fmt.Errorf("invalid canvas %gx%g", cfg.CanvasWidth, cfg.CanvasHeight)
	}
	if cfg.SamplesPerSegment < 1 {
		return nil, fmt.Errorf("samples_per_segment must be >= 1, got %d", cfg.SamplesPerSegment)
	}
	if cfg.LineWidth <= 0 {
		return nil, fmt.Errorf("line_width must be positive, got %g", cfg.LineWidth)
	}
	// Need at least a triangle plus the closing duplicate.
	if len(cfg.ControlPoints) < 4 {
		return nil, fmt.Errorf("need at least 4 control points (closed polygon), got %d", len(cfg.ControlPoints))
	}
	first := cfg.ControlPoints[0]
	last := cfg.ControlPoints[len(cfg.ControlPoints)-1]
	if first != last {
		return nil, fmt.Errorf("control polygon is not closed: first %v != last %v", first, last)
	}

	scaled := fitToCanvas(cfg)

	// The closing duplicate is dropped for wraparound indexing: the spline
	// wraps over the unique points.
	unique := scaled[:len(scaled)-1]
	n := len(unique)
	total := (len(cfg.ControlPoints) - 1) * cfg.SamplesPerSegment

	points := make([]TrackPoint, 0, total)
	for i := 0; i < total; i++ {
		seg := i / cfg.SamplesPerSegment
		u := float64(i%cfg.SamplesPerSegment) / float64(cfg.SamplesPerSegment)

		p0 := unique[((seg-1)%n+n)%n]
		p1 := unique[seg%n]
		p2 := unique[(seg+1)%n]
		p3 := unique[(seg+2)%n]

		x, y := catmullRom(p0, p1, p2, p3, u)
		points = append(points, TrackPoint{
			X: x,
			Y: y,
			T: float64(i) / float64(total),
		})
	}

	var length float64
	for i := 1; i < len(points); i++ {
		length += math.Hypot(points[i].X-points[i-1].X, points[i].Y-points[i-1].Y)
	}
	// Closing edge back to the first sample.
	length += math.Hypot(points[0].X-points[len(points)-1].X, points[0].Y-points[len(points)-1].Y)

	return &Track{
		Points:      points,
		LineWidth:   cfg.LineWidth,
		TotalLength: length,
	}, nil
}

// fitToCanvas scales and translates the control points so their bounding box
// fits inside the canvas minus the margin, preserving aspect ratio.
func fitToCanvas(cfg Config) []Point {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range cfg.ControlPoints {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}

	margin := cfg.MarginFraction
	usableW := cfg.CanvasWidth * (1 - 2*margin)
	usableH := cfg.CanvasHeight * (1 - 2*margin)

	boxW := maxX - minX
	boxH := maxY - minY
	scale := 1.0
	if boxW > 0 && boxH > 0 {
		scale = math.Min(usableW/boxW, usableH/boxH)
	}

	// Centre the scaled box on the canvas.
	offX := (cfg.CanvasWidth - boxW*scale) / 2
	offY := (cfg.CanvasHeight - boxH*scale) / 2

	out := make([]Point, len(cfg.ControlPoints))
	for i, p := range cfg.ControlPoints {
		out[i] = Point{
			X: (p.X-minX)*scale + offX,
			Y: (p.Y-minY)*scale + offY,
		}
	}
	return out
}

// catmullRom evaluates a uniform Catmull-Rom spline through p1..p2 at
// parameter u in [0,1), using p0 and p3 as the outer tangent supports.
func catmullRom(p0, p1, p2, p3 Point, u float64) (x, y float64) {
	u2 := u * u
	u3 := u2 * u

	x = 0.5 * ((2 * p1.X) +
		(-p0.X+p2.X)*u +
		(2*p0.X-5*p1.X+4*p2.X-p3.X)*u2 +
		(-p0.X+3*p1.X-3*p2.X+p3.X)*u3)
	y = 0.5 * ((2 * p1.Y) +
		(-p0.Y+p2.Y)*u +
		(2*p0.Y-5*p1.Y+4*p2.Y-p3.Y)*u2 +
		(-p0.Y+3*p1.Y-3*p2.Y+p3.Y)*u3)
	return x, y
}

// FindClosestPoint returns the track point nearest to (x, y), its index, and
// the distance to it. Linear scan over all generated points.
func (t *Track) FindClosestPoint(x, y float64) (TrackPoint, int, float64) {
	best := 0
	bestDist := math.Inf(1)
	for i, p := range t.Points {
		d := math.Hypot(p.X-x, p.Y-y)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return t.Points[best], best, bestDist
}

// FindContinuousT returns the continuous progress parameter for the position
// (x, y): the nearest point's index divided by (pointCount-1).
func (t *Track) FindContinuousT(x, y float64) float64 {
	if len(t.Points) < 2 {
		return 0
	}
	_, idx, _ := t.FindClosestPoint(x, y)
	return float64(idx) / float64(len(t.Points)-1)
}

// IsOnTrack reports whether (x, y) lies within half the line width plus
// margin of the track centerline.
func (t *Track) IsOnTrack(x, y, margin float64) bool {
	_, _, dist := t.FindClosestPoint(x, y)
	return dist <= t.LineWidth/2+margin
}

// TangentAt returns the local (unnormalized) travel direction at point index
// i, wrapping at the seam. A degenerate zero-length tangent is replaced with
// a unit vector along +X.
func (t *Track) TangentAt(i int) (dx, dy float64) {
	n := len(t.Points)
	if n < 2 {
		return 1, 0
	}
	i = ((i % n) + n) % n
	next := (i + 1) % n
	dx = t.Points[next].X - t.Points[i].X
	dy = t.Points[next].Y - t.Points[i].Y
	if math.Hypot(dx, dy) < minTangentLength {
		return 1, 0
	}
	return dx, dy
}

// StartLine returns the two endpoints of the start/finish line: the segment
// perpendicular to the tangent at t=0, centered on the first track point,
// with half-length StartLineHalfLength.
func (t *Track) StartLine() (a, b Point) {
	if len(t.Points) == 0 {
		return Point{}, Point{}
	}
	origin := t.Points[0]
	dx, dy := t.TangentAt(0)
	length := math.Hypot(dx, dy)
	if length < minTangentLength {
		dx, dy, length = 1, 0, 1
	}
	// Unit normal to the travel direction.
	nx := -dy / length
	ny := dx / length
	a = Point{X: origin.X + nx*StartLineHalfLength, Y: origin.Y + ny*StartLineHalfLength}
	b = Point{X: origin.X - nx*StartLineHalfLength, Y: origin.Y - ny*StartLineHalfLength}
	return a, b
}
