package utils

import "math"

// NormalizeL2 scales x in place to unit length and returns the length it had
// before scaling. A zero vector is left untouched and reports 0.
func NormalizeL2(x []float32) float64 {
	var sumSq float64
	for _, v := range x {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return 0
	}
	norm := math.Sqrt(sumSq)
	inv := 1 / norm
	for i, v := range x {
		x[i] = float32(float64(v) * inv)
	}
	return norm
}

// Finite reports whether every component of x is a real number.
func Finite(x []float32) bool {
	for _, v := range x {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
