// Package math implements the dense-vector routines the retrieval
// pipeline needs. Inputs are float32 slices as produced by embedding
// providers; accumulation happens in float64 to keep long sums stable.
package math

import stdmath "math"

// CosineSimilarity returns the cosine of the angle between a and b,
// clamped to [-1, 1]. Mismatched lengths compare the common prefix.
// Empty or zero-magnitude input yields -1.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) > len(b) {
		a = a[:len(b)]
	} else if len(b) > len(a) {
		b = b[:len(a)]
	}
	if len(a) == 0 {
		return -1
	}

	dot, na, nb := dotAndNorms(a, b)
	denom := stdmath.Sqrt(na) * stdmath.Sqrt(nb)
	if denom == 0 {
		return -1
	}

	cos := dot / denom
	// Rounding can push the ratio just past the mathematical range.
	if cos > 1 {
		return 1
	}
	if cos < -1 {
		return -1
	}
	return cos
}

// CosineDistance returns 1 - CosineSimilarity(a, b), in [0, 2].
// 0 means identical direction, 2 means opposite; degenerate input
// (empty or zero magnitude) maps to the maximum distance 2.
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}

// dotAndNorms computes a.b, a.a and b.b in one pass. Two accumulator
// pairs per quantity keep the floating-point dependency chains short
// enough for the CPU to overlap the multiplies.
func dotAndNorms(a, b []float32) (dot, na, nb float64) {
	var dot0, dot1, na0, na1, nb0, nb1 float64

	i := 0
	for ; i+1 < len(a); i += 2 {
		x0, y0 := float64(a[i]), float64(b[i])
		x1, y1 := float64(a[i+1]), float64(b[i+1])
		dot0 += x0 * y0
		dot1 += x1 * y1
		na0 += x0 * x0
		na1 += x1 * x1
		nb0 += y0 * y0
		nb1 += y1 * y1
	}
	if i < len(a) {
		x, y := float64(a[i]), float64(b[i])
		dot0 += x * y
		na0 += x * x
		nb0 += y * y
	}

	return dot0 + dot1, na0 + na1, nb0 + nb1
}
