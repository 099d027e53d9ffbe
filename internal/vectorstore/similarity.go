// Package vectorstore holds per-session vector indexes with brute-force
// cosine search, SIMD-accelerated where the platform supports it.
package vectorstore

import (
	"fmt"
	"math"

	"github.com/viterin/vek/vek32"
)

// ErrDimensionMismatch signals vectors of different lengths reaching a
// similarity computation. This is a programmer error, never expected from
// user input.
type ErrDimensionMismatch struct {
	A, B int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vectorstore: dimension mismatch: %d vs %d", e.A, e.B)
}

// CosineSimilarity computes the cosine of the angle between a and b using
// SIMD primitives. A zero-magnitude operand yields 0.
func CosineSimilarity(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, &ErrDimensionMismatch{A: len(a), B: len(b)}
	}
	if len(a) == 0 {
		return 0, nil
	}

	dot := vek32.Dot(a, b)
	na := vek32.Norm(a)
	nb := vek32.Norm(b)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (na * nb), nil
}

// cosineScalar is the reference implementation used to validate the SIMD
// path.
func cosineScalar(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, &ErrDimensionMismatch{A: len(a), B: len(b)}
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb))), nil
}

// EuclideanDistance computes the L2 distance between a and b.
func EuclideanDistance(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, &ErrDimensionMismatch{A: len(a), B: len(b)}
	}
	if len(a) == 0 {
		return 0, nil
	}
	return vek32.Distance(a, b), nil
}
