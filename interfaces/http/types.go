package http

import (
	"github.com/opskb/ragd/internal/metrics"
	"github.com/opskb/ragd/internal/model"
)

// queryRequest is the POST /query body (spec.md §6 Input API).
type queryRequest struct {
	Text          string   `json:"text" binding:"required"`
	Mode          string   `json:"mode,omitempty"`
	Sources       []string `json:"sources,omitempty"`
	Tenant        string   `json:"tenant,omitempty"`
	AllowSemantic *bool    `json:"allow_semantic,omitempty"`
}

func (r queryRequest) toQuery() model.Query {
	sources := make([]model.SourceId, 0, len(r.Sources))
	for _, s := range r.Sources {
		sources = append(sources, model.SourceId(s))
	}
	allowSemantic := true
	if r.AllowSemantic != nil {
		allowSemantic = *r.AllowSemantic
	}
	return model.Query{
		Text:          r.Text,
		Tenant:        r.Tenant,
		Mode:          model.Mode(r.Mode),
		SourcesHint:   sources,
		AllowSemantic: allowSemantic,
	}
}

// queryResponse is the POST /query response body.
type queryResponse struct {
	Text      string          `json:"text"`
	Blocks    []model.Block   `json:"blocks"`
	Citations []model.Citation `json:"citations"`
	Metrics   model.Metrics   `json:"metrics"`
}

func queryResponseFromAnswer(a model.Answer) queryResponse {
	return queryResponse{Text: a.Text, Blocks: a.Blocks, Citations: a.Citations, Metrics: a.Metrics}
}

// invalidateRequest is the POST /invalidate body: Key or Predicate must be
// set; when both are, Key is used and Predicate is ignored.
type invalidateRequest struct {
	Key       string              `json:"key,omitempty"`
	Predicate *invalidatePredicate `json:"predicate,omitempty"`
}

// invalidatePredicate selects entries by source, per spec.md §6's
// unelaborated "predicate". Tenant is folded into the exact-match key
// during fingerprinting and isn't recoverable from a stored entry, so the
// only field a caller can match against post-hoc is which source a
// cached answer cited.
type invalidatePredicate struct {
	SourceId string `json:"source_id,omitempty"`
}

type invalidateResponse struct {
	Removed int `json:"removed"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type readyResponse struct {
	Status   string                  `json:"status"`
	Adapters []model.AdapterHealth `json:"adapters"`
}

// statsResponse is the GET /stats body: the cache's own counters plus the
// process-wide latency histograms and breaker-trip counts held in
// metrics.Registry, so the registry's per-source/LLM observations are
// actually surfaced somewhere instead of only being written to.
type statsResponse struct {
	model.Stats
	CacheHitRatio   float64                         `json:"cache_hit_ratio"`
	BreakerTrips    int64                           `json:"breaker_trips"`
	BreakerRecovers int64                           `json:"breaker_recovers"`
	FanoutLatency   map[string]metrics.HistogramSnapshot `json:"fanout_latency_ms"`
	LLMLatency      metrics.HistogramSnapshot       `json:"llm_latency_ms"`
}
