package homography

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// LineRatio measures how far p3 lies from the line through p1 and p2,
// relative to the length of that edge: cross(p2-p1, p3-p1) / |p2-p1|².
// Returns 0 when p1 and p2 coincide.
func LineRatio(p1, p2, p3 r2.Vec) float64 {
	edge := r2.Sub(p2, p1)
	den := r2.Norm2(edge)
	if den == 0 {
		return 0
	}
	return r2.Cross(edge, r2.Sub(p3, p1)) / den
}

// triples lists the four point triples of a 4-point sample.
var triples = [4][3]int{{0, 1, 2}, {0, 1, 3}, {0, 2, 3}, {1, 2, 3}}

// IsGoodSample reports whether no three of the four points are close to
// collinear: for every triple and every edge of its triangle the line ratio
// of the opposite vertex must be at least minRatio in magnitude.
func IsGoodSample(pts [4]r2.Vec, minRatio float64) bool {
	for _, tr := range triples {
		a, b, c := pts[tr[0]], pts[tr[1]], pts[tr[2]]
		if math.Abs(LineRatio(a, b, c)) < minRatio ||
			math.Abs(LineRatio(b, c, a)) < minRatio ||
			math.Abs(LineRatio(c, a, b)) < minRatio {
			return false
		}
	}
	return true
}
