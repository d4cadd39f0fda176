// Package config loads the gateway's configuration from environment
// variables, generalizing the upstream codebase's flat reflection-based
// EnvironmentVariable.LoadFromEnv into a nested, typed config tree.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration record (spec §6). Unknown fields at
// load time are impossible by construction (Go structs are closed); a
// required field left unset is a startup error.
type Config struct {
	Embedding   EmbeddingConfig
	VectorStore VectorStoreConfig
	LLM         LLMConfig
	Cache       CacheConfig
	Pipeline    PipelineConfig
	Breaker     BreakerConfig
	HTTP        HTTPConfig
	Observability ObservabilityConfig
}

type EmbeddingConfig struct {
	Dim         int    `env:"EMBEDDING_DIM" required:"true"`
	ProviderURL string `env:"EMBEDDING_PROVIDER_URL" required:"true"`
	APIKey      string `env:"EMBEDDING_API_KEY"`
	CacheSize   int    `env:"EMBEDDING_CACHE_SIZE" default:"4096"`
	CacheTTL    time.Duration `env:"EMBEDDING_CACHE_TTL_MS" default:"600000"`
}

type VectorStoreConfig struct {
	URL         string            `env:"VECTOR_STORE_URL" required:"true"`
	APIKey      string            `env:"VECTOR_STORE_API_KEY"`
	Collections map[string]string `env:"VECTOR_STORE_COLLECTIONS"` // "JIRA=jira_docs,ZENDESK=zendesk_docs"
}

type LLMConfig struct {
	Provider string `env:"LLM_PROVIDER" default:"A"`
	Model    string `env:"LLM_MODEL" required:"true"`
	APIKey   string `env:"LLM_API_KEY" required:"true"`
	BaseURL  string `env:"LLM_BASE_URL"`
}

type CacheConfig struct {
	MaxEntries          int           `env:"CACHE_MAX_ENTRIES" default:"10000"`
	MaxBytes            int64         `env:"CACHE_MAX_BYTES" default:"268435456"`
	TTLBaseSeconds      int           `env:"CACHE_TTL_BASE_SECONDS" default:"3600"`
	SemanticEnabled     bool          `env:"CACHE_SEMANTIC_ENABLED" default:"true"`
	SemanticBaseThreshold float64     `env:"CACHE_SEMANTIC_BASE_THRESHOLD" default:"0.88"`
	SemanticMinThreshold  float64     `env:"CACHE_SEMANTIC_MIN_THRESHOLD" default:"0.78"`
	SemanticMaxThreshold  float64     `env:"CACHE_SEMANTIC_MAX_THRESHOLD" default:"0.95"`
	SemanticKBoost        float64     `env:"CACHE_SEMANTIC_K_BOOST" default:"0.01"`
	AdaptiveTTLAlpha      float64     `env:"CACHE_ADAPTIVE_TTL_ALPHA" default:"0.1"`
	AdaptiveTTLMaxHits    int64       `env:"CACHE_ADAPTIVE_TTL_MAX_HITS" default:"20"`
	RingSize              int        `env:"CACHE_SEMANTIC_RING_SIZE" default:"256"`
	EvictionWeightHits    float64    `env:"CACHE_EVICTION_WEIGHT_HITS" default:"1.0"`
	EvictionWeightTokens  float64    `env:"CACHE_EVICTION_WEIGHT_TOKENS" default:"0.001"`
	EvictionWeightAge     float64    `env:"CACHE_EVICTION_WEIGHT_AGE" default:"0.0005"`
	Mirror                CacheMirrorConfig
}

type CacheMirrorConfig struct {
	Enabled bool   `env:"CACHE_MIRROR_ENABLED" default:"false"`
	Driver  string `env:"CACHE_MIRROR_DRIVER" default:"none"` // postgres|redis|valkey|none
	DSN     string `env:"CACHE_MIRROR_DSN"`
}

type PipelineConfig struct {
	TopKPerSource       int    `env:"PIPELINE_TOP_K_PER_SOURCE" default:"10"`
	TopKGlobal          int    `env:"PIPELINE_TOP_K_GLOBAL" default:"8"`
	DeadlineMs          int    `env:"PIPELINE_DEADLINE_MS" default:"25000"`
	FanoutDeadlineMs    int    `env:"PIPELINE_FANOUT_DEADLINE_MS" default:"8000"`
	PerSourceTimeoutMs  int    `env:"PIPELINE_PER_SOURCE_TIMEOUT_MS" default:"4000"`
	MaxConcurrentSources int   `env:"PIPELINE_MAX_CONCURRENT_SOURCES" default:"6"`
	ContextBudgetTokens int    `env:"PIPELINE_CONTEXT_BUDGET_TOKENS" default:"2000"`
	LLMTimeoutMs        int    `env:"PIPELINE_LLM_TIMEOUT_MS" default:"20000"`
	SourceWeights       map[string]string `env:"PIPELINE_SOURCE_WEIGHTS"` // "JIRA=1.0,ZENDESK=0.8"
	DedupSnippeSimilarity float64 `env:"PIPELINE_DEDUP_SNIPPET_SIMILARITY" default:"0.97"`
}

type BreakerConfig struct {
	FailureThreshold int `env:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	Window           int `env:"BREAKER_WINDOW" default:"20"`
	FailureRateThreshold float64 `env:"BREAKER_FAILURE_RATE" default:"0.5"`
	CoolDownMs       int `env:"BREAKER_COOL_DOWN_MS" default:"30000"`
	CoolDownMaxMs    int `env:"BREAKER_COOL_DOWN_MAX_MS" default:"300000"`
	RateLimitDamping float64 `env:"BREAKER_429_DAMPING" default:"0.5"`
}

type HTTPConfig struct {
	Addr           string `env:"HTTP_ADDR" default:":8080"`
	ReadTimeoutMs  int    `env:"HTTP_READ_TIMEOUT_MS" default:"10000"`
	WriteTimeoutMs int    `env:"HTTP_WRITE_TIMEOUT_MS" default:"30000"`
}

type ObservabilityConfig struct {
	LogLevel         string `env:"LOG_LEVEL" default:"info"`
	LogFormat        string `env:"LOG_FORMAT" default:"json"`
	ProfilingEnabled bool   `env:"PROFILING_ENABLED" default:"false"`
	ProfilingDir     string `env:"PROFILING_DIR" default:"/tmp/ragd-profiles"`
}

// Load reads the process environment into a Config, applying defaults and
// failing loudly (returning an error, never panicking) on a missing
// required field or a value that fails to parse for its field's kind.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadStruct(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)

		if fv.Kind() == reflect.Struct && field.Tag.Get("env") == "" {
			if err := loadStruct(fv); err != nil {
				return err
			}
			continue
		}

		envKey := field.Tag.Get("env")
		if envKey == "" {
			continue
		}
		raw, present := os.LookupEnv(envKey)
		if !present || raw == "" {
			if def, ok := field.Tag.Lookup("default"); ok {
				raw = def
			} else if field.Tag.Get("required") == "true" {
				return fmt.Errorf("config: missing required environment variable %s", envKey)
			} else {
				continue
			}
		}

		if err := setField(fv, raw); err != nil {
			return fmt.Errorf("config: invalid value for %s: %w", envKey, err)
		}
	}
	return nil
}

func setField(fv reflect.Value, raw string) error {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Int, reflect.Int64:
		// time.Duration fields carry env values in milliseconds.
		if fv.Type() == reflect.TypeOf(time.Duration(0)) {
			ms, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return err
			}
			fv.SetInt(int64(time.Duration(ms) * time.Millisecond))
			return nil
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		fv.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Map:
		m := map[string]string{}
		for _, pair := range strings.Split(raw, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) != 2 {
				return fmt.Errorf("expected key=value pairs, got %q", pair)
			}
			m[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
		fv.Set(reflect.ValueOf(m))
	default:
		return fmt.Errorf("unsupported config field kind %s", fv.Kind())
	}
	return nil
}
