package queryengine

import (
	"math"

	"github.com/opskb/ragd/internal/model"
)

// cosine computes cosine similarity between two snippet embeddings, used
// by the dedup step (spec §4.2 "Aggregation" step 2b). Vector stores may
// return hits without an embedding; callers skip those.
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
