// Package orchestrator implements the Pipeline Orchestrator (spec §4.5):
// the single entry point that sequences cache lookups, single-flight
// coalescing, query-engine fan-out, and response building.
package orchestrator

import (
	"context"
	"time"

	"github.com/opskb/ragd/internal/embedding"
	"github.com/opskb/ragd/internal/logging"
	"github.com/opskb/ragd/internal/model"
	"github.com/opskb/ragd/internal/queryengine"
	"github.com/opskb/ragd/internal/responsebuilder"
	"github.com/opskb/ragd/internal/semanticcache"
)

// Config holds the orchestrator's deadline tunables from spec §5.
type Config struct {
	Deadline      time.Duration
	CancelGrace   time.Duration
}

// DefaultConfig returns a 25s pipeline deadline and a 1s CancelGrace.
// Handle bounds the pipeline by Deadline only: CancelGrace is not read
// anywhere in this package, and cancellation reaches the collaborators
// solely through ctx, so how quickly Handle returns after cancellation
// depends on how quickly they honour it.
func DefaultConfig() Config {
	return Config{Deadline: 25 * time.Second, CancelGrace: time.Second}
}

// CacheObserver receives the outcome of every cache lookup. metrics.Registry
// satisfies this via its RecordCache* methods.
type CacheObserver interface {
	RecordCacheExactHit()
	RecordCacheSemanticHit()
	RecordCacheMiss()
}

// DistributedLock coordinates cache misses across ragd replicas. See
// cachemirror.DistributedLock; kept as a narrow interface here so this
// package doesn't depend on cachemirror's Redis transport.
type DistributedLock interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool)
}

// lockTTL bounds how long one replica may hold the cross-replica miss
// lock; it must comfortably exceed a single fan-out+build round trip
// (bounded as a whole by this package's default 25s pipeline deadline) so
// a legitimate in-flight miss is never preempted by its own lock's expiry.
const lockTTL = 30 * time.Second

// Orchestrator is the Pipeline Orchestrator.
type Orchestrator struct {
	cfg      Config
	cache    *semanticcache.Cache
	embedder embedding.Client
	engine   *queryengine.Engine
	builder  *responsebuilder.Builder
	observer CacheObserver
	lock     DistributedLock
}

// New wires the four collaborators behind the single Handle entry point.
func New(cfg Config, cache *semanticcache.Cache, embedder embedding.Client, engine *queryengine.Engine, builder *responsebuilder.Builder) *Orchestrator {
	return &Orchestrator{cfg: cfg, cache: cache, embedder: embedder, engine: engine, builder: builder}
}

// WithMetrics attaches a CacheObserver and returns o for chaining.
func (o *Orchestrator) WithMetrics(observer CacheObserver) *Orchestrator {
	o.observer = observer
	return o
}

// WithDistributedLock attaches cross-replica miss coordination and
// returns o for chaining. Without one, singleflight only coalesces
// misses within this process.
func (o *Orchestrator) WithDistributedLock(lock DistributedLock) *Orchestrator {
	o.lock = lock
	return o
}

// Handle runs the full pipeline for q, per spec §4.5's seven steps.
func (o *Orchestrator) Handle(ctx context.Context, q model.Query) (model.Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Deadline)
	defer cancel()

	if q.RequestedAt.IsZero() {
		q.RequestedAt = time.Now()
	}

	// Step 1: exact cache lookup.
	if res, ok := o.cache.GetExact(q); ok {
		o.recordCacheOutcome(model.CacheResultExact)
		return answerFromCacheHit(res), nil
	}

	// Steps 2-7 run inside the single-flight key so concurrent identical
	// misses share one execution (spec §4.5 step 2, §4.1 "Concurrency").
	answer, err, _ := o.cache.SingleFlight(ctx, q, func() (model.Answer, error) {
		// A caller that missed above but starts its flight only after an
		// earlier flight for q has finished finds that flight's entry here.
		if res, ok := o.cache.GetExact(q); ok {
			o.recordCacheOutcome(model.CacheResultExact)
			return answerFromCacheHit(res), nil
		}
		return o.runMiss(ctx, q)
	})
	return answer, err
}

// runMiss is the single-flighted body: semantic lookup, fan-out, response
// build, and cache write (spec §4.5 steps 3-6). When a DistributedLock is
// configured, it additionally tries to claim the cross-replica lock for
// this fingerprint; on failure to claim it (another replica is already
// computing it), it re-checks the exact cache once before falling through
// to compute its own answer, so a second replica never blocks indefinitely
// on the first.
func (o *Orchestrator) runMiss(ctx context.Context, q model.Query) (model.Answer, error) {
	if o.lock != nil {
		if unlock, ok := o.lock.TryLock(ctx, semanticcache.Fingerprint(q), lockTTL); ok {
			defer unlock()
		} else if res, hit := o.cache.GetExact(q); hit {
			o.recordCacheOutcome(model.CacheResultExact)
			return answerFromCacheHit(res), nil
		}
	}

	if res, err := o.cache.GetSemantic(ctx, q); err == nil && res.Kind == semanticcache.HitSemantic {
		o.recordCacheOutcome(model.CacheResultSemantic)
		return answerFromCacheHit(res), nil
	} else if err != nil {
		logging.GetLogger().WithError(err).Warn("orchestrator: semantic cache lookup failed, continuing to fan-out")
	}

	queryVec, err := o.embedder.Embed(ctx, q.Text)
	if err != nil {
		return model.Answer{}, err
	}

	result, err := o.engine.Search(ctx, q, queryVec)
	if err != nil {
		return model.Answer{}, err
	}

	cacheResult := model.CacheResultMiss
	if len(result.Hits) == 0 {
		cacheResult = model.CacheResultMissNoContext
	}
	o.recordCacheOutcome(cacheResult)

	answer, err := o.builder.Build(ctx, q, result.Hits, result.Used, result.Partial, cacheResult)
	if err != nil {
		return model.Answer{}, err
	}

	o.cache.RecordTokensSpent(int64(answer.Metrics.PromptTokens + answer.Metrics.CompletionTokens))
	o.writeCache(q, answer, queryVec)
	return answer, nil
}

// writeCache implements spec §4.5 step 6: tokens_value is the sum of
// prompt and completion tokens, and the question embedding is stored only
// when the query allows semantic reuse.
func (o *Orchestrator) writeCache(q model.Query, answer model.Answer, queryVec model.Vector) {
	var embeddingToStore model.Vector
	if q.AllowSemantic {
		embeddingToStore = queryVec
	}

	o.cache.Put(context.Background(), semanticcache.PutParams{
		Query:            q,
		Value:            cachedAnswerFromAnswer(answer),
		TokensValue:      answer.Metrics.PromptTokens + answer.Metrics.CompletionTokens,
		Embedding:        embeddingToStore,
		SemanticEligible: q.AllowSemantic,
	})
}

func (o *Orchestrator) recordCacheOutcome(result model.CacheResult) {
	if o.observer == nil {
		return
	}
	switch result {
	case model.CacheResultExact:
		o.observer.RecordCacheExactHit()
	case model.CacheResultSemantic:
		o.observer.RecordCacheSemanticHit()
	default:
		o.observer.RecordCacheMiss()
	}
}

func cachedAnswerFromAnswer(a model.Answer) model.CachedAnswer {
	size := len(a.Text)
	for _, b := range a.Blocks {
		size += len(b.Text)
	}
	return model.CachedAnswer{Text: a.Text, Blocks: a.Blocks, Citations: a.Citations, SizeBytes: size}
}

func answerFromCacheHit(res semanticcache.GetResult) model.Answer {
	cacheResult := model.CacheResultExact
	var similarity *float64
	if res.Kind == semanticcache.HitSemantic {
		cacheResult = model.CacheResultSemantic
		sim := res.Similarity
		similarity = &sim
	}
	return model.Answer{
		Text:      res.Value.Text,
		Blocks:    res.Value.Blocks,
		Citations: res.Value.Citations,
		Metrics: model.Metrics{
			PromptTokens:     0,
			CompletionTokens: 0,
			CacheResult:      cacheResult,
			Similarity:       similarity,
		},
	}
}
