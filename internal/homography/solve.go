package homography

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// system fills the 2n×8 linear system for h00..h21 (h22 = 1):
//
//	x = (h00 X + h01 Y + h02) / (h20 X + h21 Y + 1)
//	y = (h10 X + h11 Y + h12) / (h20 X + h21 Y + 1)
//
// where (X, Y) is the reference point and (x, y) the frame point.
func system(pairs []Pair) (*mat.Dense, *mat.VecDense) {
	n := len(pairs)
	a := mat.NewDense(2*n, 8, nil)
	b := mat.NewVecDense(2*n, nil)
	for i, p := range pairs {
		X, Y := p.Ref.X, p.Ref.Y
		x, y := p.Frame.X, p.Frame.Y
		r := 2 * i
		a.SetRow(r, []float64{X, Y, 1, 0, 0, 0, -X * x, -Y * x})
		b.SetVec(r, x)
		a.SetRow(r+1, []float64{0, 0, 0, X, Y, 1, -X * y, -Y * y})
		b.SetVec(r+1, y)
	}
	return a, b
}

func solveSystem(pairs []Pair) (Matrix, error) {
	a, b := system(pairs)
	var h mat.VecDense
	// Square systems are solved by LU, overdetermined ones by QR least squares.
	// Ill-conditioned systems return a mat.Condition error and count as singular.
	if err := h.SolveVec(a, b); err != nil {
		return Matrix{}, fmt.Errorf("%w: %w", ErrSingular, err)
	}
	m := fromVec(&h)
	if !m.Finite() {
		return Matrix{}, ErrSingular
	}
	return m, nil
}

// Solve4 computes the homography mapping the four reference points exactly
// onto the four frame points.
func Solve4(pairs [4]Pair) (Matrix, error) {
	return solveSystem(pairs[:])
}

// FitLeastSquares fits a homography to four or more pairs, minimizing the
// algebraic error of the linearized system.
func FitLeastSquares(pairs []Pair) (Matrix, error) {
	if len(pairs) < 4 {
		return Matrix{}, ErrTooFewCorrespondences
	}
	return solveSystem(pairs)
}

// MeanSquaredError returns the mean squared reprojection error of h over pairs.
func MeanSquaredError(h Matrix, pairs []Pair) float64 {
	if len(pairs) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pairs {
		sum += h.SquaredError(p)
	}
	return sum / float64(len(pairs))
}
