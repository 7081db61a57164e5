// Package homography estimates planar homographies from point
// correspondences: a direct 4-point solve, an adaptive RANSAC estimator and
// a least-squares refit on the inliers.
package homography

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r2"
)

var (
	ErrTooFewCorrespondences = errors.New("at least 4 correspondences are required")
	ErrDegenerateSample      = errors.New("sample points are nearly collinear")
	ErrSingular              = errors.New("homography system is singular")
	ErrNoConsensus           = errors.New("no sample produced a homography")
)

// Matrix is a row-major 3x3 homography. By convention H[2][2] = 1.
type Matrix [3][3]float64

// Identity returns the identity homography.
func Identity() Matrix {
	return Matrix{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Pair is one correspondence: a reference point (page mm) and the frame
// point (px) it was matched to.
type Pair struct {
	Ref   r2.Vec
	Frame r2.Vec
}

// Apply maps p through h. It reports false when p maps to infinity.
func (h Matrix) Apply(p r2.Vec) (r2.Vec, bool) {
	w := h[2][0]*p.X + h[2][1]*p.Y + h[2][2]
	if w == 0 {
		return r2.Vec{}, false
	}
	return r2.Vec{
		X: (h[0][0]*p.X + h[0][1]*p.Y + h[0][2]) / w,
		Y: (h[1][0]*p.X + h[1][1]*p.Y + h[1][2]) / w,
	}, true
}

// SquaredError is the squared distance between h·Ref and Frame.
func (h Matrix) SquaredError(p Pair) float64 {
	q, ok := h.Apply(p.Ref)
	if !ok {
		return math.Inf(1)
	}
	return r2.Norm2(r2.Sub(q, p.Frame))
}

// Pose returns the homography-mode pose: columns 0, 1 and 3 are taken from
// h and column 2 is zero.
func (h Matrix) Pose() [3][4]float64 {
	var pose [3][4]float64
	for r := range 3 {
		pose[r] = [4]float64{h[r][0], h[r][1], 0, h[r][2]}
	}
	return pose
}

// Finite reports whether every element is a finite number.
func (h Matrix) Finite() bool {
	for r := range 3 {
		for c := range 3 {
			if math.IsNaN(h[r][c]) || math.IsInf(h[r][c], 0) {
				return false
			}
		}
	}
	return true
}

// Inverse returns the inverse homography, scaled so that [2][2] = 1.
func (h Matrix) Inverse() (Matrix, error) {
	a := mat.NewDense(3, 3, []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	})
	var inv mat.Dense
	if err := inv.Inverse(a); err != nil {
		return Matrix{}, fmt.Errorf("%w: %w", ErrSingular, err)
	}

	var out Matrix
	for r := range 3 {
		for c := range 3 {
			out[r][c] = inv.At(r, c)
		}
	}
	if out[2][2] == 0 {
		return Matrix{}, ErrSingular
	}
	s := out[2][2]
	for r := range 3 {
		for c := range 3 {
			out[r][c] /= s
		}
	}
	return out, nil
}

// fromVec builds a matrix from the 8 unknowns h00..h21 with h22 = 1.
func fromVec(v *mat.VecDense) Matrix {
	return Matrix{
		{v.AtVec(0), v.AtVec(1), v.AtVec(2)},
		{v.AtVec(3), v.AtVec(4), v.AtVec(5)},
		{v.AtVec(6), v.AtVec(7), 1},
	}
}
