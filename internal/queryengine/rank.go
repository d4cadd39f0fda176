package queryengine

import (
	"sort"

	"github.com/opskb/ragd/internal/model"
)

// rankAndDedup implements spec §4.2 "Aggregation" steps 2-4: dedup by
// (source_id, doc_id), then by snippet-embedding cosine similarity above
// threshold, then by normalized URL equality; compute final_score =
// score * source_weight; stable sort descending; truncate to topK.
func rankAndDedup(hits []model.Hit, weights map[model.SourceId]float64, dedupSimilarity float64, topK int) []model.RankedHit {
	groups := assignDedupGroups(hits, dedupSimilarity)

	ranked := make([]model.RankedHit, 0, len(hits))
	for i, h := range hits {
		w := weights[h.SourceId]
		if w == 0 {
			w = 1
		}
		ranked = append(ranked, model.RankedHit{
			Hit:        h,
			FinalScore: h.Score * w,
			DedupGroup: groups[i],
		})
	}

	// Within each dedup group, keep only the highest-scoring member.
	best := make(map[int]int) // group -> index into ranked of the best member
	for i, r := range ranked {
		cur, ok := best[r.DedupGroup]
		if !ok || r.FinalScore > ranked[cur].FinalScore {
			best[r.DedupGroup] = i
		}
	}
	kept := make([]model.RankedHit, 0, len(best))
	for i, r := range ranked {
		if best[r.DedupGroup] == i {
			kept = append(kept, r)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].FinalScore > kept[j].FinalScore
	})

	if topK > 0 && len(kept) > topK {
		kept = kept[:topK]
	}
	return kept
}

// assignDedupGroups unions hits that collide by (source_id, doc_id),
// snippet-embedding cosine similarity, or normalized URL, returning a
// group id per input index.
func assignDedupGroups(hits []model.Hit, dedupSimilarity float64) []int {
	n := len(hits)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	find := func(x int) int {
		for parent[x] != x {
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	byKey := make(map[string]int, n)
	byURL := make(map[string]int, n)
	for i, h := range hits {
		key := string(h.SourceId) + "\x1F" + h.DocId
		if j, ok := byKey[key]; ok {
			union(i, j)
		} else {
			byKey[key] = i
		}

		if u := normalizeURL(h.Payload.URL); u != "" {
			if j, ok := byURL[u]; ok {
				union(i, j)
			} else {
				byURL[u] = i
			}
		}
	}

	for i := 0; i < n; i++ {
		if len(hits[i].Vector) == 0 {
			continue
		}
		for j := i + 1; j < n; j++ {
			if len(hits[j].Vector) == 0 || find(i) == find(j) {
				continue
			}
			if cosine(hits[i].Vector, hits[j].Vector) >= dedupSimilarity {
				union(i, j)
			}
		}
	}

	groups := make([]int, n)
	for i := range groups {
		groups[i] = find(i)
	}
	return groups
}
