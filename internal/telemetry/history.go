package telemetry

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// DefaultHistorySize bounds the scatter series.
const DefaultHistorySize = 500

// Point is one guide error in arcseconds.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stats summarizes the scatter series.
type Stats struct {
	Count int     `json:"count"`
	MeanX float64 `json:"mean_x"`
	MeanY float64 `json:"mean_y"`
	RmsX  float64 `json:"rms_x"`
	RmsY  float64 `json:"rms_y"`
	Rms   float64 `json:"rms"`
}

// History keeps the most recent guide errors for the scatter plot.
type History struct {
	mu     sync.Mutex
	size   int
	points []Point
}

// NewHistory creates a history holding at most size points.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size}
}

// Add appends the sample's scatter point. Samples without a measurement are
// skipped. It reports whether a point was added.
func (h *History) Add(s *Sample) bool {
	x, y, ok := s.ScatterPoint()
	if !ok {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.points) == h.size {
		copy(h.points, h.points[1:])
		h.points = h.points[:h.size-1]
	}
	h.points = append(h.points, Point{X: x, Y: y})
	return true
}

// Points returns a copy of the series, oldest first.
func (h *History) Points() []Point {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Point(nil), h.points...)
}

// Len returns the number of points held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.points)
}

// Stats returns mean and RMS deviation per axis. RMS is the population
// standard deviation about the mean, matching how guide RMS is usually
// reported.
func (h *History) Stats() Stats {
	pts := h.Points()
	if len(pts) == 0 {
		return Stats{}
	}

	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, p := range pts {
		xs[i], ys[i] = p.X, p.Y
	}

	meanX, varX := stat.PopMeanVariance(xs, nil)
	meanY, varY := stat.PopMeanVariance(ys, nil)

	return Stats{
		Count: len(pts),
		MeanX: meanX,
		MeanY: meanY,
		RmsX:  math.Sqrt(varX),
		RmsY:  math.Sqrt(varY),
		Rms:   math.Sqrt(varX + varY),
	}
}

// Clear drops every point.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.points = h.points[:0]
}
