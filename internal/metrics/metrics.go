// Package metrics holds process-wide counters and fixed-bucket latency
// histograms for the gateway (spec §4.7). No metrics/exporter library
// appears anywhere in the reference corpus, so this registry is plain
// sync/atomic counters exposed as a snapshot via GET /stats rather than a
// Prometheus-style pull endpoint; see DESIGN.md for the justification.
package metrics

import (
	"sync/atomic"
	"time"
)

// latencyBucketBoundsMs are the fixed histogram bucket upper bounds, in
// milliseconds. The final bucket is implicitly "+Inf".
var latencyBucketBoundsMs = []int64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Histogram is a fixed-bucket latency histogram. Safe for concurrent use.
type Histogram struct {
	buckets []atomic.Int64
	sum     atomic.Int64
	count   atomic.Int64
}

func newHistogram() *Histogram {
	return &Histogram{buckets: make([]atomic.Int64, len(latencyBucketBoundsMs)+1)}
}

// Observe records one latency sample.
func (h *Histogram) Observe(d time.Duration) {
	ms := d.Milliseconds()
	h.sum.Add(ms)
	h.count.Add(1)
	for i, bound := range latencyBucketBoundsMs {
		if ms <= bound {
			h.buckets[i].Add(1)
			return
		}
	}
	h.buckets[len(h.buckets)-1].Add(1)
}

// HistogramSnapshot is a point-in-time read of a Histogram.
type HistogramSnapshot struct {
	Count   int64   `json:"count"`
	SumMs   int64   `json:"sum_ms"`
	Buckets []int64 `json:"buckets"` // cumulative, parallel to latencyBucketBoundsMs plus +Inf
}

func (h *Histogram) Snapshot() HistogramSnapshot {
	buckets := make([]int64, len(h.buckets))
	var cumulative int64
	for i := range h.buckets {
		cumulative += h.buckets[i].Load()
		buckets[i] = cumulative
	}
	return HistogramSnapshot{Count: h.count.Load(), SumMs: h.sum.Load(), Buckets: buckets}
}

// Registry is the process-wide metrics collection.
type Registry struct {
	exactHits       atomic.Int64
	semanticHits    atomic.Int64
	misses          atomic.Int64
	breakerTrips    atomic.Int64
	breakerRecovers atomic.Int64

	fanoutLatency map[string]*Histogram // per source_id; populated at New, fixed key set
	llmLatency    *Histogram
}

// New builds a Registry with one fan-out histogram per declared source.
func New(sourceIds []string) *Registry {
	r := &Registry{
		fanoutLatency: make(map[string]*Histogram, len(sourceIds)),
		llmLatency:    newHistogram(),
	}
	for _, id := range sourceIds {
		r.fanoutLatency[id] = newHistogram()
	}
	return r
}

func (r *Registry) RecordCacheExactHit()    { r.exactHits.Add(1) }
func (r *Registry) RecordCacheSemanticHit() { r.semanticHits.Add(1) }
func (r *Registry) RecordCacheMiss()        { r.misses.Add(1) }
func (r *Registry) RecordBreakerTrip()      { r.breakerTrips.Add(1) }
func (r *Registry) RecordBreakerRecover()   { r.breakerRecovers.Add(1) }

// ObserveFanoutLatency records a per-source vector-store call latency. A
// source id outside the startup-declared set is silently dropped rather
// than growing the map under concurrent access.
func (r *Registry) ObserveFanoutLatency(sourceId string, d time.Duration) {
	if h, ok := r.fanoutLatency[sourceId]; ok {
		h.Observe(d)
	}
}

func (r *Registry) ObserveLLMLatency(d time.Duration) { r.llmLatency.Observe(d) }

// CacheHitRatio is exact+semantic hits over all lookups observed so far.
func (r *Registry) CacheHitRatio() float64 {
	hits := r.exactHits.Load() + r.semanticHits.Load()
	total := hits + r.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Snapshot is the JSON-serializable form returned by GET /stats.
type Snapshot struct {
	ExactHits       int64                         `json:"exact_hits"`
	SemanticHits    int64                         `json:"semantic_hits"`
	Misses          int64                         `json:"misses"`
	CacheHitRatio   float64                       `json:"cache_hit_ratio"`
	BreakerTrips    int64                         `json:"breaker_trips"`
	BreakerRecovers int64                         `json:"breaker_recovers"`
	FanoutLatency   map[string]HistogramSnapshot `json:"fanout_latency_ms"`
	LLMLatency      HistogramSnapshot             `json:"llm_latency_ms"`
}

func (r *Registry) Snapshot() Snapshot {
	fanout := make(map[string]HistogramSnapshot, len(r.fanoutLatency))
	for id, h := range r.fanoutLatency {
		fanout[id] = h.Snapshot()
	}
	return Snapshot{
		ExactHits:       r.exactHits.Load(),
		SemanticHits:    r.semanticHits.Load(),
		Misses:          r.misses.Load(),
		CacheHitRatio:   r.CacheHitRatio(),
		BreakerTrips:    r.breakerTrips.Load(),
		BreakerRecovers: r.breakerRecovers.Load(),
		FanoutLatency:   fanout,
		LLMLatency:      r.llmLatency.Snapshot(),
	}
}
