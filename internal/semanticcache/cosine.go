package semanticcache

import (
	"math"

	"github.com/opskb/ragd/internal/model"
)

// yieldEvery matches spec §5's "release control at coarse boundaries" rule
// for CPU-only scans: every 1024 comparisons the scan must be interruptible.
const yieldEvery = 1024

// cosine computes cosine similarity between two equal-length unit vectors.
// Since both inputs are unit-normalized by construction (spec invariant),
// this reduces to a dot product, but the denominator is computed anyway to
// stay correct if that invariant is ever violated upstream.
func cosine(a, b model.Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
