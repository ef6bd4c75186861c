package vector

import "math"

// CosineSimilarity scores a against b in a single pass. The result is
// clamped to [-1, 1] to absorb float rounding. Zero vectors and mismatched
// lengths score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, aa, bb float64
	for i, x := range a {
		y := float64(b[i])
		dot += float64(x) * y
		aa += float64(x) * float64(x)
		bb += y * y
	}
	if aa == 0 || bb == 0 {
		return 0
	}
	switch cos := dot / math.Sqrt(aa*bb); {
	case cos > 1:
		return 1
	case cos < -1:
		return -1
	default:
		return cos
	}
}
