// Package semanticcache implements the Semantic Cache (spec §4.1): exact
// and approximate-similarity lookup of previously computed answers, token
// savings accounting, and size/freshness-bounded eviction.
package semanticcache

import (
	"context"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opskb/ragd/internal/model"
)

// Config holds the tunables from spec §4.1/§6.
type Config struct {
	MaxEntries     int
	MaxBytes       int64
	TTLBase        time.Duration
	SemanticEnabled bool
	BaseThreshold  float64
	MinThreshold   float64
	MaxThreshold   float64
	KBoost         float64
	AdaptiveTTLAlpha   float64
	AdaptiveTTLMaxHits int64
	RingSize           int
	EvictionWeightHits   float64
	EvictionWeightTokens float64
	EvictionWeightAge    float64
}

func DefaultConfig() Config {
	return Config{
		MaxEntries:           10000,
		MaxBytes:             256 << 20,
		TTLBase:               time.Hour,
		SemanticEnabled:       true,
		BaseThreshold:         0.88,
		MinThreshold:          0.78,
		MaxThreshold:          0.95,
		KBoost:                0.01,
		AdaptiveTTLAlpha:      0.1,
		AdaptiveTTLMaxHits:    20,
		RingSize:              256,
		EvictionWeightHits:    1.0,
		EvictionWeightTokens:  0.001,
		EvictionWeightAge:     0.0005,
	}
}

// HitKind tags the outcome of a Get.
type HitKind string

const (
	HitExact    HitKind = "exact"
	HitSemantic HitKind = "semantic"
	HitMiss     HitKind = "miss"
)

// GetResult is the Semantic Cache's Get() return value.
type GetResult struct {
	Kind            HitKind
	Value           model.CachedAnswer
	TokensValue     int
	Similarity      float64
	SourceEntryKey  string
}

// Embedder is the subset of the embedding client the cache needs, kept
// narrow so the cache package has no dependency on the resty transport.
type Embedder interface {
	Embed(ctx context.Context, text string) (model.Vector, error)
}

// Cache is the Semantic Cache. Safe for concurrent use.
type Cache struct {
	cfg      Config
	embedder Embedder
	mirror   Mirror // optional external mirror; nil disables mirroring

	mu      sync.RWMutex
	entries map[string]*model.CacheEntry
	bytes   int64

	ringMu sync.Mutex
	ring   []string // fingerprints, most-recently touched at the tail

	sf singleflight.Group

	statsMu sync.Mutex
	stats   model.Stats
}

// Mirror is the optional external durability layer (spec §6 "Persisted
// state"). A nil Mirror means no mirroring.
type Mirror interface {
	Save(ctx context.Context, entry *model.CacheEntry) error
	Delete(ctx context.Context, key string) error
}

// New creates an empty Cache.
func New(cfg Config, embedder Embedder, mirror Mirror) *Cache {
	return &Cache{
		cfg:      cfg,
		embedder: embedder,
		mirror:   mirror,
		entries:  make(map[string]*model.CacheEntry),
	}
}

// Restore seeds the cache from a previously mirrored entry, re-validating
// expiry before accepting it (spec §6).
func (c *Cache) Restore(entry *model.CacheEntry) {
	if entry == nil || time.Now().After(entry.ExpiresAt) {
		return
	}
	c.mu.Lock()
	c.entries[entry.Key] = entry
	c.bytes += int64(entry.Value.SizeBytes)
	c.mu.Unlock()
	if entry.SemanticEligible && len(entry.Embedding) > 0 {
		c.touchRing(entry.Key)
	}
}

// Get performs the exact lookup, falling back to the semantic lookup when
// the query allows semantic reuse, per spec §4.1. Most callers should use
// GetExact/GetSemantic separately instead, so the orchestrator can run its
// single-flight coalescing between the two steps (spec §4.5 steps 1-3);
// Get is kept for callers that don't need that separation.
func (c *Cache) Get(ctx context.Context, q model.Query) (GetResult, error) {
	if res, ok := c.GetExact(q); ok {
		return res, nil
	}
	return c.GetSemantic(ctx, q)
}

// GetExact performs only the exact fingerprint lookup (spec §4.5 step 1).
func (c *Cache) GetExact(q model.Query) (GetResult, bool) {
	return c.exactGet(Fingerprint(q))
}

// GetSemantic performs only the similarity-scan lookup (spec §4.5 step 3),
// a no-op miss when the query disallows semantic reuse or the cache has
// semantic matching disabled.
func (c *Cache) GetSemantic(ctx context.Context, q model.Query) (GetResult, error) {
	if !q.AllowSemantic || !c.cfg.SemanticEnabled {
		c.recordMiss()
		return GetResult{Kind: HitMiss}, nil
	}
	return c.semanticGet(ctx, q)
}

func (c *Cache) exactGet(key string) (GetResult, bool) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return GetResult{}, false
	}
	now := time.Now()
	if now.After(entry.ExpiresAt) {
		// Expired: remove and treat as miss. Do not fall through to
		// semantic for the same entry (spec §4.1 step 3).
		delete(c.entries, key)
		c.bytes -= int64(entry.Value.SizeBytes)
		c.mu.Unlock()
		c.mirrorDelete(key)
		c.recordEviction()
		return GetResult{}, false
	}

	entry.HitCount++
	entry.LastAccessAt = now
	entry.ExpiresAt = now.Add(c.adaptiveTTL(entry))
	tokensValue := entry.TokensValue
	value := entry.Value
	c.mu.Unlock()

	c.touchRing(key)
	c.recordExactHit(tokensValue)
	return GetResult{Kind: HitExact, Value: value, TokensValue: tokensValue}, true
}

func (c *Cache) semanticGet(ctx context.Context, q model.Query) (GetResult, error) {
	qVec, err := c.embedder.Embed(ctx, normalizeText(q.Text))
	if err != nil {
		return GetResult{}, err
	}

	best, bestSim, bestHits := c.scanRing(qVec)
	if best == nil || bestSim < c.threshold(bestHits) {
		fullBest, fullSim, fullHits := c.scanAll(qVec)
		if fullBest != nil && fullSim > bestSim {
			best, bestSim, bestHits = fullBest, fullSim, fullHits
		}
	}

	if best == nil || bestSim < c.threshold(bestHits) {
		c.recordMiss()
		return GetResult{Kind: HitMiss}, nil
	}

	c.mu.Lock()
	best.HitCount++
	best.LastAccessAt = time.Now()
	best.ExpiresAt = best.LastAccessAt.Add(c.adaptiveTTL(best))
	tokensValue := best.TokensValue
	value := best.Value
	key := best.Key
	c.mu.Unlock()

	c.touchRing(key)
	c.recordSemanticHit(tokensValue)
	return GetResult{
		Kind:           HitSemantic,
		Value:          value,
		TokensValue:    tokensValue,
		Similarity:     bestSim,
		SourceEntryKey: key,
	}, nil
}

// threshold implements spec §4.1 step 4:
// clamp(base - k_boost*log2(1+hit_count), min, max). Takes a snapshotted
// hit count rather than a live *model.CacheEntry so callers can compute it
// from a scan snapshot without re-reading the entry outside c.mu.
func (c *Cache) threshold(hitCount int64) float64 {
	t := c.cfg.BaseThreshold - c.cfg.KBoost*math.Log2(1+float64(hitCount))
	if t < c.cfg.MinThreshold {
		return c.cfg.MinThreshold
	}
	if t > c.cfg.MaxThreshold {
		return c.cfg.MaxThreshold
	}
	return t
}

// adaptiveTTL implements spec §4.1: ttl_base * (1 + alpha*min(hit_count,H)).
func (c *Cache) adaptiveTTL(entry *model.CacheEntry) time.Duration {
	hits := entry.HitCount
	if hits > c.cfg.AdaptiveTTLMaxHits {
		hits = c.cfg.AdaptiveTTLMaxHits
	}
	factor := 1 + c.cfg.AdaptiveTTLAlpha*float64(hits)
	base := entry.TTLBase
	if base <= 0 {
		base = c.cfg.TTLBase
	}
	return time.Duration(float64(base) * factor)
}

// scanSnapshot holds the fields a similarity scan needs, copied out from
// under c.mu so the scan's cosine/threshold math never reads entry.Embedding
// or entry.HitCount concurrently with a Put/exactGet/semanticGet mutating
// them (spec §4.1/§5 "Vector-scan reads a snapshot").
type scanSnapshot struct {
	entry     *model.CacheEntry
	embedding model.Vector
	hitCount  int64
}

// scanRing computes similarity against the W most-recent semantic-eligible
// entries first, per spec §4.1 step 2.
func (c *Cache) scanRing(qVec model.Vector) (*model.CacheEntry, float64, int64) {
	c.ringMu.Lock()
	ring := make([]string, len(c.ring))
	copy(ring, c.ring)
	c.ringMu.Unlock()

	snapshot := make([]scanSnapshot, 0, len(ring))
	c.mu.RLock()
	for _, key := range ring {
		entry, ok := c.entries[key]
		if !ok || !entry.SemanticEligible || len(entry.Embedding) == 0 {
			continue
		}
		snapshot = append(snapshot, scanSnapshot{
			entry:     entry,
			embedding: append(model.Vector(nil), entry.Embedding...),
			hitCount:  entry.HitCount,
		})
	}
	c.mu.RUnlock()

	return c.scanSnapshots(qVec, snapshot)
}

// scanAll is the full-population fallback from spec §4.1 step 3.
func (c *Cache) scanAll(qVec model.Vector) (*model.CacheEntry, float64, int64) {
	c.mu.RLock()
	snapshot := make([]scanSnapshot, 0, len(c.entries))
	for _, e := range c.entries {
		if e.SemanticEligible && len(e.Embedding) > 0 {
			snapshot = append(snapshot, scanSnapshot{
				entry:     e,
				embedding: append(model.Vector(nil), e.Embedding...),
				hitCount:  e.HitCount,
			})
		}
	}
	c.mu.RUnlock()

	return c.scanSnapshots(qVec, snapshot)
}

func (c *Cache) scanSnapshots(qVec model.Vector, snapshot []scanSnapshot) (*model.CacheEntry, float64, int64) {
	var best *model.CacheEntry
	bestSim := -1.0
	var bestHits int64
	for i, s := range snapshot {
		sim := cosine(qVec, s.embedding)
		if sim > bestSim {
			bestSim = sim
			best = s.entry
			bestHits = s.hitCount
		}
		if i%yieldEvery == yieldEvery-1 {
			runtime.Gosched()
		}
	}
	return best, bestSim, bestHits
}

func (c *Cache) touchRing(key string) {
	c.ringMu.Lock()
	defer c.ringMu.Unlock()
	for i, k := range c.ring {
		if k == key {
			c.ring = append(c.ring[:i], c.ring[i+1:]...)
			break
		}
	}
	c.ring = append(c.ring, key)
	if len(c.ring) > c.cfg.RingSize {
		c.ring = c.ring[len(c.ring)-c.cfg.RingSize:]
	}
}

// PutParams bundles a write's inputs.
type PutParams struct {
	Query            model.Query
	Value            model.CachedAnswer
	TokensValue      int
	Embedding        model.Vector
	SemanticEligible bool
}

// Put writes (or refreshes) an entry, then enforces capacity, per spec
// §4.1 "Write".
func (c *Cache) Put(ctx context.Context, p PutParams) {
	key := Fingerprint(p.Query)
	now := time.Now()

	c.mu.Lock()
	entry, exists := c.entries[key]
	if exists {
		c.bytes -= int64(entry.Value.SizeBytes)
		entry.Value = p.Value
		entry.TokensValue = p.TokensValue
		entry.LastAccessAt = now
		if p.Embedding != nil {
			entry.Embedding = p.Embedding
		}
		entry.SemanticEligible = p.SemanticEligible
		// hit_count is left untouched: a fresh put carries no hit of its
		// own, so max(old, new) reduces to old (spec §4.1 "Write" step 2).
		c.bytes += int64(entry.Value.SizeBytes)
	} else {
		entry = &model.CacheEntry{
			Key:              key,
			Embedding:        p.Embedding,
			Value:            p.Value,
			TokensValue:      p.TokensValue,
			CreatedAt:        now,
			LastAccessAt:     now,
			TTLBase:          c.cfg.TTLBase,
			ExpiresAt:        now.Add(c.cfg.TTLBase),
			SemanticEligible: p.SemanticEligible,
		}
		c.entries[key] = entry
		c.bytes += int64(p.Value.SizeBytes)
	}
	c.mu.Unlock()

	if p.SemanticEligible && len(p.Embedding) > 0 {
		c.touchRing(key)
	}
	c.evictIfNeeded()
	c.mirrorSave(entry)
}

// SingleFlight coalesces concurrent pipeline executions for the same
// fingerprint (spec §4.1 "Concurrency", §4.5 step 2): at most one
// execution runs; latecomers await its result.
func (c *Cache) SingleFlight(ctx context.Context, q model.Query, fn func() (model.Answer, error)) (model.Answer, error, bool) {
	key := Fingerprint(q)
	v, err, shared := c.sf.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		return model.Answer{}, err, shared
	}
	return v.(model.Answer), nil, shared
}

// utility is the eviction score from spec §4.1 "Eviction" step 2:
// U = w_h*hit_count + w_s*tokens_value - w_a*age_seconds.
func (c *Cache) utility(e *model.CacheEntry, now time.Time) float64 {
	age := now.Sub(e.CreatedAt).Seconds()
	return c.cfg.EvictionWeightHits*float64(e.HitCount) +
		c.cfg.EvictionWeightTokens*float64(e.TokensValue) -
		c.cfg.EvictionWeightAge*age
}

// Sweep runs the same expiry/capacity eviction pass as an inline Put,
// for a periodic out-of-band caller (e.g. a crontab job) to catch entries
// that expire between writes (spec §4.1 "Eviction" step 1).
func (c *Cache) Sweep() {
	c.evictIfNeeded()
}

func (c *Cache) evictIfNeeded() {
	now := time.Now()

	c.mu.Lock()
	for key, e := range c.entries {
		if now.After(e.ExpiresAt) {
			delete(c.entries, key)
			c.bytes -= int64(e.Value.SizeBytes)
			c.recordEvictionLocked()
			c.mirrorDelete(key)
		}
	}

	overCount := len(c.entries) > c.cfg.MaxEntries
	overBytes := c.bytes > c.cfg.MaxBytes
	if !overCount && !overBytes {
		c.mu.Unlock()
		return
	}

	ranked := make([]*model.CacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		ranked = append(ranked, e)
	}
	sort.Slice(ranked, func(i, j int) bool {
		return c.utility(ranked[i], now) < c.utility(ranked[j], now)
	})

	for _, e := range ranked {
		if len(c.entries) <= c.cfg.MaxEntries && c.bytes <= c.cfg.MaxBytes {
			break
		}
		delete(c.entries, e.Key)
		c.bytes -= int64(e.Value.SizeBytes)
		c.recordEvictionLocked()
		c.mirrorDelete(e.Key)
	}
	c.mu.Unlock()
}

// Invalidate removes a single entry by key.
func (c *Cache) Invalidate(key string) int {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
		c.bytes -= int64(e.Value.SizeBytes)
	}
	c.mu.Unlock()
	if ok {
		c.mirrorDelete(key)
		return 1
	}
	return 0
}

// InvalidateMatching removes every entry for which predicate returns true.
func (c *Cache) InvalidateMatching(predicate func(*model.CacheEntry) bool) int {
	c.mu.Lock()
	removed := make([]string, 0)
	for key, e := range c.entries {
		if predicate(e) {
			removed = append(removed, key)
			delete(c.entries, key)
			c.bytes -= int64(e.Value.SizeBytes)
		}
	}
	c.mu.Unlock()
	for _, key := range removed {
		c.mirrorDelete(key)
	}
	return len(removed)
}

// Stats returns a snapshot of the cumulative counters.
func (c *Cache) Stats() model.Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Cache) recordExactHit(tokensValue int) {
	c.statsMu.Lock()
	c.stats.ExactHits++
	c.stats.TokensSaved += int64(tokensValue)
	c.statsMu.Unlock()
}

func (c *Cache) recordSemanticHit(tokensValue int) {
	c.statsMu.Lock()
	c.stats.SemanticHits++
	c.stats.TokensSaved += int64(tokensValue)
	c.statsMu.Unlock()
}

func (c *Cache) recordMiss() {
	c.statsMu.Lock()
	c.stats.Misses++
	c.statsMu.Unlock()
}

// RecordTokensSpent adds to the cumulative count of tokens actually billed
// by the LLM provider on a cache miss, the counterpart to the tokens_value
// accrued into TokensSaved on a hit (spec.md §9 open question 1).
func (c *Cache) RecordTokensSpent(n int64) {
	c.statsMu.Lock()
	c.stats.TokensSpent += n
	c.statsMu.Unlock()
}

func (c *Cache) recordEviction() {
	c.statsMu.Lock()
	c.stats.Evictions++
	c.statsMu.Unlock()
}

func (c *Cache) recordEvictionLocked() {
	c.recordEviction()
}

func (c *Cache) mirrorSave(entry *model.CacheEntry) {
	if c.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.mirror.Save(ctx, entry)
	}()
}

func (c *Cache) mirrorDelete(key string) {
	if c.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.mirror.Delete(ctx, key)
	}()
}
