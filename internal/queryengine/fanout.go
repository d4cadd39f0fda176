package queryengine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opskb/ragd/internal/breaker"
	"github.com/opskb/ragd/internal/logging"
	"github.com/opskb/ragd/internal/model"
	"github.com/opskb/ragd/internal/vectorstore"
)

// Config holds the Query Engine's concurrency and ranking parameters
// (spec §4.2 "Concurrency" and §6).
type Config struct {
	PerSourceTimeout time.Duration
	OverallDeadline  time.Duration
	TopKPerSource    int
	TopKGlobal       int
	MaxConcurrency   int
	DedupSimilarity  float64
}

// DefaultConfig returns the spec's defaults: 4s per-source timeout, 8s
// overall deadline, top 10 per source, top 8 globally, 6 tasks in flight
// (excess sources wait in FIFO order), 0.97 snippet-dedup threshold.
func DefaultConfig() Config {
	return Config{
		PerSourceTimeout: 4 * time.Second,
		OverallDeadline:  8 * time.Second,
		TopKPerSource:    10,
		TopKGlobal:       8,
		MaxConcurrency:   6,
		DedupSimilarity:  0.97,
	}
}

// sourceResult is the outcome of searching a single source.
type sourceResult struct {
	id   model.SourceId
	hits []model.Hit
	err  error
}

// FanoutObserver receives a per-source search latency. metrics.Registry
// satisfies this via ObserveFanoutLatency; kept as a narrow interface so
// this package doesn't depend on internal/metrics.
type FanoutObserver interface {
	ObserveFanoutLatency(sourceId string, d time.Duration)
}

// Engine is the Query Engine: source selection, bounded-concurrency
// fan-out guarded by per-source circuit breakers, dedup, and ranking.
type Engine struct {
	cfg      Config
	registry *Registry
	matcher  ClientMatcher
	stores   map[model.SourceId]vectorstore.Store
	breakers *breaker.Registry
	observer FanoutObserver
}

// New builds an Engine over the given per-source vector store clients.
// stores must contain an entry for every SourceId the registry declares.
func New(cfg Config, registry *Registry, matcher ClientMatcher, stores map[model.SourceId]vectorstore.Store, breakers *breaker.Registry) *Engine {
	if matcher == nil {
		matcher = NoopClientMatcher{}
	}
	return &Engine{cfg: cfg, registry: registry, matcher: matcher, stores: stores, breakers: breakers}
}

// WithMetrics attaches a FanoutObserver and returns e for chaining.
func (e *Engine) WithMetrics(observer FanoutObserver) *Engine {
	e.observer = observer
	return e
}

// Result is the fan-out + rank outcome passed to the Response Builder.
type Result struct {
	Hits    []model.RankedHit
	Used    []model.SourceId
	Failed  []model.SourceId
	Partial bool
}

// Search embeds nothing itself; it takes the already-computed query
// embedding and fans it out across every selected source (spec §4.2
// "Aggregation" step 1), respecting the overall deadline even if
// individual per-source calls are still outstanding.
func (e *Engine) Search(ctx context.Context, q model.Query, queryVec model.Vector) (Result, error) {
	sources := e.registry.SelectSources(q, e.matcher)
	if len(sources) == 0 {
		return Result{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.OverallDeadline)
	defer cancel()

	sem := newSemaphore(e.cfg.MaxConcurrency, len(sources))
	results := make(chan sourceResult, len(sources))

	var wg sync.WaitGroup
	for _, id := range sources {
		id := id
		wg.Add(1)
		sem.acquire()
		go func() {
			defer wg.Done()
			defer sem.release()
			results <- e.searchOne(ctx, id, q, queryVec)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var (
		allHits []model.Hit
		used    []model.SourceId
		failed  []model.SourceId
	)
	for r := range results {
		if r.err != nil {
			failed = append(failed, r.id)
			logging.GetLogger().WithFields(logrus.Fields{
				"source": r.id,
				"error":  r.err,
			}).Warn("queryengine: source search failed")
			continue
		}
		used = append(used, r.id)
		allHits = append(allHits, r.hits...)
	}

	ranked := rankAndDedup(allHits, e.sourceWeights(), e.cfg.DedupSimilarity, e.cfg.TopKGlobal)

	return Result{
		Hits:    ranked,
		Used:    used,
		Failed:  failed,
		Partial: len(failed) > 0,
	}, nil
}

func (e *Engine) sourceWeights() map[model.SourceId]float64 {
	out := make(map[model.SourceId]float64, len(e.registry.sources))
	for _, s := range e.registry.sources {
		w := s.Weight
		if w == 0 {
			w = 1
		}
		out[s.Id] = w
	}
	return out
}

// searchOne guards a single source's call with its breaker and a
// per-source timeout (spec §4.2 "Per-source timeout").
func (e *Engine) searchOne(ctx context.Context, id model.SourceId, q model.Query, queryVec model.Vector) sourceResult {
	store, ok := e.stores[id]
	if !ok {
		return sourceResult{id: id, err: errUnknownSource(id)}
	}

	b := e.breakers.Get(string(id))
	if !b.Allow() {
		return sourceResult{id: id, err: errBreakerOpen(id)}
	}

	cfg, _ := e.registry.Get(id)

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.PerSourceTimeout)
	defer cancel()

	start := time.Now()
	hits, err := store.Search(callCtx, cfg.Collection, queryVec, e.cfg.TopKPerSource, nil)
	if e.observer != nil {
		e.observer.ObserveFanoutLatency(string(id), time.Since(start))
	}
	b.RecordResult(classifyResult(err))
	if err != nil {
		return sourceResult{id: id, err: err}
	}

	valid := make([]model.Hit, 0, len(hits))
	for i := range hits {
		hits[i].SourceId = id
		if validPayload(hits[i]) {
			valid = append(valid, hits[i])
		}
	}
	return sourceResult{id: id, hits: valid}
}

// validPayload implements spec §4.2 "Aggregation" step 1: a hit must carry
// a doc id and a non-empty snippet to be usable by the Response Builder.
func validPayload(h model.Hit) bool {
	return h.DocId != "" && strings.TrimSpace(h.Payload.Snippet) != ""
}

func classifyResult(err error) breaker.Kind {
	if err == nil {
		return breaker.Success
	}
	if se, ok := err.(*vectorstore.StatusError); ok {
		switch {
		case se.StatusCode == 429:
			return breaker.RateLimited
		case se.StatusCode >= 400 && se.StatusCode < 500:
			return breaker.ClientError
		}
	}
	return breaker.Failure
}

// semaphore bounds fan-out concurrency. A zero limit (or a limit at or
// above the item count) means "no bound": acquire/release are no-ops.
type semaphore struct {
	ch chan struct{}
}

func newSemaphore(limit, itemCount int) *semaphore {
	if limit <= 0 || limit >= itemCount {
		return &semaphore{}
	}
	return &semaphore{ch: make(chan struct{}, limit)}
}

func (s *semaphore) acquire() {
	if s.ch != nil {
		s.ch <- struct{}{}
	}
}

func (s *semaphore) release() {
	if s.ch != nil {
		<-s.ch
	}
}
