package index

import "math"

// SquaredDistance computes the squared Euclidean distance between two descriptors.
// Returns +Inf for vectors of different length so they never pass a threshold.
func SquaredDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
