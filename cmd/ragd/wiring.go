package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/opskb/ragd/internal/apperr"
	"github.com/opskb/ragd/internal/breaker"
	"github.com/opskb/ragd/internal/cachemirror"
	"github.com/opskb/ragd/internal/config"
	"github.com/opskb/ragd/internal/embedding"
	"github.com/opskb/ragd/internal/httpclient"
	"github.com/opskb/ragd/internal/llmclient"
	"github.com/opskb/ragd/internal/logging"
	"github.com/opskb/ragd/internal/metrics"
	"github.com/opskb/ragd/internal/model"
	"github.com/opskb/ragd/internal/orchestrator"
	"github.com/opskb/ragd/internal/queryengine"
	"github.com/opskb/ragd/internal/responsebuilder"
	"github.com/opskb/ragd/internal/semanticcache"
	"github.com/opskb/ragd/internal/vectorstore"
	ragdhttp "github.com/opskb/ragd/interfaces/http"
)

// Application is the assembled process, the same "one struct holding the
// HTTP server plus anything else main needs to start" shape as the
// teacher's cmd/server.Application.
type Application struct {
	HTTPServer *ragdhttp.Server
	Cache      *semanticcache.Cache
	Mirror     cachemirror.Loadable
	Registry   *metrics.Registry
	ReadyNames []string
}

// Start blocks running the HTTP server.
func (a *Application) Start() error {
	return a.HTTPServer.Run()
}

// CreateApplication is the hand-written equivalent of what `wire` would
// generate from wire.go's provider graph (the wire binary cannot run in
// this environment, so this function is maintained by hand instead).
func CreateApplication(cfg *config.Config) (*Application, error) {
	logging.Init(cfg.Observability.LogLevel, cfg.Observability.LogFormat)

	sourceConfigs, err := sourceConfigsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	sourceIds := make([]string, 0, len(sourceConfigs))
	for _, sc := range sourceConfigs {
		sourceIds = append(sourceIds, string(sc.Id))
	}
	registry := metrics.New(sourceIds)

	breakers := breaker.NewRegistry(breakerConfigFromConfig(cfg, registry))

	embedder := embedding.WithLRU(
		embedding.New(httpclient.NewClient("embedding"), cfg.Embedding.ProviderURL, cfg.Embedding.APIKey, cfg.Embedding.Dim),
		cfg.Embedding.CacheSize,
		cfg.Embedding.CacheTTL,
	)

	store := vectorstore.New(httpclient.NewClient("vector_store"), cfg.VectorStore.URL, cfg.VectorStore.APIKey)
	stores := make(map[model.SourceId]vectorstore.Store, len(sourceConfigs))
	for _, sc := range sourceConfigs {
		stores[sc.Id] = store
	}

	llm := llmclient.New(httpclient.NewClient("llm"), cfg.LLM.BaseURL, cfg.LLM.APIKey, llmclient.DefaultRetryPolicy())

	sourceRegistry := queryengine.NewRegistry(sourceConfigs)
	engine := queryengine.New(queryEngineConfigFromConfig(cfg), sourceRegistry, nil, stores, breakers).WithMetrics(registry)
	builder := responsebuilder.New(responseBuilderConfigFromConfig(cfg), llm, breakers).WithMetrics(registry)

	mirrorDriver := cfg.Cache.Mirror.Driver
	if !cfg.Cache.Mirror.Enabled {
		mirrorDriver = "none"
	}
	mirror, err := cachemirror.Open(context.Background(), mirrorDriver, cfg.Cache.Mirror.DSN)
	if err != nil {
		return nil, fmt.Errorf("ragd: opening cache mirror: %w", err)
	}

	cache := semanticcache.New(cacheConfigFromConfig(cfg), embedder, mirror)
	if err := cachemirror.Restore(context.Background(), mirror, cache); err != nil {
		logging.GetLogger().WithError(err).Warn("ragd: cache mirror restore failed, starting cold")
	}

	orch := orchestrator.New(orchestratorConfigFromConfig(cfg), cache, embedder, engine, builder).WithMetrics(registry)
	if redisMirror, ok := mirror.(*cachemirror.RedisMirror); ok {
		orch = orch.WithDistributedLock(cachemirror.NewRedisLock(redisMirror.Client()))
	}

	readyNames := append(append([]string{}, sourceIds...), "llm")
	server := ragdhttp.NewServer(httpConfigFromConfig(cfg), orch, cache, sourceRegistry, breakers, registry, readyNames)

	return &Application{HTTPServer: server, Cache: cache, Mirror: mirror, Registry: registry, ReadyNames: readyNames}, nil
}

func sourceConfigsFromConfig(cfg *config.Config) ([]model.SourceConfig, error) {
	if len(cfg.VectorStore.Collections) == 0 {
		return nil, apperr.Internal("config: vector_store.collections declares no sources")
	}
	weights := map[string]float64{}
	for id, raw := range cfg.Pipeline.SourceWeights {
		w, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("ragd: pipeline.source_weights[%s]: %w", id, err)
		}
		weights[id] = w
	}

	sources := make([]model.SourceConfig, 0, len(cfg.VectorStore.Collections))
	for id, collection := range cfg.VectorStore.Collections {
		weight := weights[id]
		if weight == 0 {
			weight = 1
		}
		sources = append(sources, model.SourceConfig{
			Id:         model.SourceId(id),
			Collection: collection,
			Weight:     weight,
			Enabled:    true,
		})
	}
	return sources, nil
}

func breakerConfigFromConfig(cfg *config.Config, registry *metrics.Registry) breaker.Config {
	return breaker.Config{
		FailureThreshold:     cfg.Breaker.FailureThreshold,
		Window:               cfg.Breaker.Window,
		FailureRateThreshold: cfg.Breaker.FailureRateThreshold,
		CoolDown:             time.Duration(cfg.Breaker.CoolDownMs) * time.Millisecond,
		CoolDownMax:          time.Duration(cfg.Breaker.CoolDownMaxMs) * time.Millisecond,
		RateLimitDamping:     cfg.Breaker.RateLimitDamping,
		OnTrip:               func(string) { registry.RecordBreakerTrip() },
		OnRecover:            func(string) { registry.RecordBreakerRecover() },
	}
}

func cacheConfigFromConfig(cfg *config.Config) semanticcache.Config {
	c := cfg.Cache
	return semanticcache.Config{
		MaxEntries:           c.MaxEntries,
		MaxBytes:             c.MaxBytes,
		TTLBase:               time.Duration(c.TTLBaseSeconds) * time.Second,
		SemanticEnabled:       c.SemanticEnabled,
		BaseThreshold:         c.SemanticBaseThreshold,
		MinThreshold:          c.SemanticMinThreshold,
		MaxThreshold:          c.SemanticMaxThreshold,
		KBoost:                c.SemanticKBoost,
		AdaptiveTTLAlpha:      c.AdaptiveTTLAlpha,
		AdaptiveTTLMaxHits:    c.AdaptiveTTLMaxHits,
		RingSize:              c.RingSize,
		EvictionWeightHits:    c.EvictionWeightHits,
		EvictionWeightTokens:  c.EvictionWeightTokens,
		EvictionWeightAge:     c.EvictionWeightAge,
	}
}

func queryEngineConfigFromConfig(cfg *config.Config) queryengine.Config {
	p := cfg.Pipeline
	return queryengine.Config{
		PerSourceTimeout: time.Duration(p.PerSourceTimeoutMs) * time.Millisecond,
		OverallDeadline:  time.Duration(p.FanoutDeadlineMs) * time.Millisecond,
		TopKPerSource:    p.TopKPerSource,
		TopKGlobal:       p.TopKGlobal,
		MaxConcurrency:   p.MaxConcurrentSources,
		DedupSimilarity:  p.DedupSnippeSimilarity,
	}
}

func responseBuilderConfigFromConfig(cfg *config.Config) responsebuilder.Config {
	d := responsebuilder.DefaultConfig()
	d.Model = cfg.LLM.Model
	d.ContextBudgetTokens = cfg.Pipeline.ContextBudgetTokens
	d.PerAttemptTimeout = time.Duration(cfg.Pipeline.LLMTimeoutMs) * time.Millisecond
	return d
}

func orchestratorConfigFromConfig(cfg *config.Config) orchestrator.Config {
	d := orchestrator.DefaultConfig()
	d.Deadline = time.Duration(cfg.Pipeline.DeadlineMs) * time.Millisecond
	return d
}

func httpConfigFromConfig(cfg *config.Config) ragdhttp.Config {
	return ragdhttp.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutMs) * time.Millisecond,
	}
}
