package responsebuilder

import (
	"context"
	"time"

	"github.com/opskb/ragd/internal/apperr"
	"github.com/opskb/ragd/internal/breaker"
	"github.com/opskb/ragd/internal/llmclient"
	"github.com/opskb/ragd/internal/model"
)

// Config holds the Response Builder's tunables from spec §4.3/§6.
type Config struct {
	Model               string
	ContextBudgetTokens int
	Temperature         float32
	PerAttemptTimeout   time.Duration
}

// DefaultConfig matches spec §6: a 2000-token context budget, temperature
// 0.2, and a 20s per-attempt LLM timeout. Model has no sensible default —
// callers must set it from the required llm.model config field.
func DefaultConfig() Config {
	return Config{
		ContextBudgetTokens: 2000,
		Temperature:         0.2,
		PerAttemptTimeout:   20 * time.Second,
	}
}

// LatencyObserver receives the LLM call latency. metrics.Registry
// satisfies this via ObserveLLMLatency.
type LatencyObserver interface {
	ObserveLLMLatency(d time.Duration)
}

// Builder is the Response Builder: prompt assembly, LLM invocation
// through the breaker-guarded client, and Answer construction.
type Builder struct {
	cfg      Config
	llm      llmclient.Client
	breaker  *breaker.Breaker
	observer LatencyObserver
}

// New builds a Builder. breakerRegistry supplies the single breaker
// shared by every LLM call (spec §4.4: "one instance per source and
// LLM").
func New(cfg Config, llm llmclient.Client, breakerRegistry *breaker.Registry) *Builder {
	return &Builder{cfg: cfg, llm: llm, breaker: breakerRegistry.Get("llm")}
}

// WithMetrics attaches a LatencyObserver and returns b for chaining.
func (b *Builder) WithMetrics(observer LatencyObserver) *Builder {
	b.observer = observer
	return b
}

// Build composes the prompt from the ranked hits, invokes the LLM, and
// returns the final Answer. hits may be empty (spec §4.5 step 4:
// "Response Builder is still invoked with an empty context").
func (b *Builder) Build(ctx context.Context, q model.Query, hits []model.RankedHit, sourcesUsed []model.SourceId, partial bool, cacheResult model.CacheResult) (model.Answer, error) {
	contextBlock, usedHits := buildContextBlock(hits, b.cfg.ContextBudgetTokens)
	messages := BuildMessages(q, contextBlock, len(usedHits) > 0)

	if !b.breaker.Allow() {
		return model.Answer{}, apperr.Unavailable("llm circuit breaker open")
	}

	params := llmclient.Params{
		Model:       b.cfg.Model,
		Temperature: b.cfg.Temperature,
		MaxTokens:   maxTokensForMode(q.NormalizedMode()),
		Timeout:     b.cfg.PerAttemptTimeout,
	}

	start := time.Now()
	result, err := b.llm.Complete(ctx, messages, params)
	if b.observer != nil {
		b.observer.ObserveLLMLatency(time.Since(start))
	}
	b.breaker.RecordResult(classifyLLMResult(err))
	if err != nil {
		return model.Answer{}, apperr.Newf(apperr.CodeUnavailable, "llm invocation failed: %v", err)
	}

	citations := make([]model.Citation, 0, len(usedHits))
	for _, h := range usedHits {
		citations = append(citations, model.Citation{
			SourceId: h.Hit.SourceId,
			DocId:    h.Hit.DocId,
			Title:    h.Hit.Payload.Title,
			URL:      h.Hit.Payload.URL,
		})
	}

	return model.Answer{
		Text:      result.Text,
		Blocks:    buildBlocks(result.Text, cacheResult),
		Citations: citations,
		Metrics: model.Metrics{
			PromptTokens:     result.PromptTokens,
			CompletionTokens: result.CompletionTokens,
			SourcesUsed:      sourcesUsed,
			CacheResult:      cacheResult,
			Partial:          partial,
		},
	}, nil
}

// buildBlocks renders the answer as the small structured form spec §4.3
// calls for: a section block with the answer text, plus a divider when
// the answer carries no internal-documentation backing.
func buildBlocks(text string, cacheResult model.CacheResult) []model.Block {
	blocks := []model.Block{{Type: "section", Text: text}}
	if cacheResult == model.CacheResultMissNoContext {
		blocks = append(blocks, model.Block{Type: "divider", Text: "Not backed by internal documentation."})
	}
	return blocks
}

func classifyLLMResult(err error) breaker.Kind {
	if err == nil {
		return breaker.Success
	}
	if re, ok := err.(*llmclient.RetryableError); ok {
		if re.StatusCode == 429 {
			return breaker.RateLimited
		}
		if re.StatusCode >= 400 && re.StatusCode < 500 && re.StatusCode != 0 {
			return breaker.ClientError
		}
	}
	return breaker.Failure
}
