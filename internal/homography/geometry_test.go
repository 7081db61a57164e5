package homography

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"
)

func TestLineRatio(t *testing.T) {
	tests := []struct {
		name       string
		p1, p2, p3 r2.Vec
		expected   float64
	}{
		{
			name:     "point on the line",
			p1:       r2.Vec{X: 0, Y: 0},
			p2:       r2.Vec{X: 10, Y: 0},
			p3:       r2.Vec{X: 5, Y: 0},
			expected: 0,
		},
		{
			name:     "unit square corner",
			p1:       r2.Vec{X: 0, Y: 0},
			p2:       r2.Vec{X: 1, Y: 0},
			p3:       r2.Vec{X: 1, Y: 1},
			expected: 1,
		},
		{
			name:     "scaled by edge length squared",
			p1:       r2.Vec{X: 0, Y: 0},
			p2:       r2.Vec{X: 10, Y: 0},
			p3:       r2.Vec{X: 0, Y: 5},
			expected: 50.0 / 100.0,
		},
		{
			name:     "coincident edge",
			p1:       r2.Vec{X: 3, Y: 3},
			p2:       r2.Vec{X: 3, Y: 3},
			p3:       r2.Vec{X: 0, Y: 5},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := math.Abs(LineRatio(tt.p1, tt.p2, tt.p3))
			if math.Abs(result-tt.expected) > 0.0001 {
				t.Errorf("expected %f, got %f", tt.expected, result)
			}
		})
	}
}

func TestIsGoodSample(t *testing.T) {
	tests := []struct {
		name     string
		pts      [4]r2.Vec
		expected bool
	}{
		{
			name:     "square",
			pts:      [4]r2.Vec{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}},
			expected: true,
		},
		{
			name:     "three collinear",
			pts:      [4]r2.Vec{{X: 0, Y: 0}, {X: 50, Y: 0}, {X: 100, Y: 0}, {X: 0, Y: 100}},
			expected: false,
		},
		{
			name:     "nearly collinear",
			pts:      [4]r2.Vec{{X: 0, Y: 0}, {X: 50, Y: 1}, {X: 100, Y: 0}, {X: 0, Y: 100}},
			expected: false,
		},
		{
			name:     "duplicate point",
			pts:      [4]r2.Vec{{X: 0, Y: 0}, {X: 0, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}},
			expected: false,
		},
		{
			name:     "skewed quad",
			pts:      [4]r2.Vec{{X: 10, Y: 5}, {X: 120, Y: 30}, {X: 90, Y: 140}, {X: -20, Y: 80}},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsGoodSample(tt.pts, 0.03)
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}
