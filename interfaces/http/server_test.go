package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/opskb/ragd/internal/breaker"
	"github.com/opskb/ragd/internal/llmclient"
	"github.com/opskb/ragd/internal/metrics"
	"github.com/opskb/ragd/internal/model"
	"github.com/opskb/ragd/internal/orchestrator"
	"github.com/opskb/ragd/internal/queryengine"
	"github.com/opskb/ragd/internal/responsebuilder"
	"github.com/opskb/ragd/internal/semanticcache"
	"github.com/opskb/ragd/internal/vectorstore"
)

type fakeEmbedder struct{ vec model.Vector }

func (f fakeEmbedder) Embed(ctx context.Context, text string) (model.Vector, error) { return f.vec, nil }
func (f fakeEmbedder) Dim() int                                                     { return len(f.vec) }

type fakeLLM struct{}

func (fakeLLM) Complete(ctx context.Context, messages []openai.ChatCompletionMessage, params llmclient.Params) (*llmclient.Result, error) {
	return &llmclient.Result{Text: "restart the vpn client", PromptTokens: 10, CompletionTokens: 5}, nil
}

type fakeStore struct{ hits []model.Hit }

func (f fakeStore) Search(ctx context.Context, collection string, vector model.Vector, k int, filter vectorstore.Filter) ([]model.Hit, error) {
	return f.hits, nil
}
func (f fakeStore) Upsert(ctx context.Context, collection string, hits []model.Hit) error { return nil }

func buildTestServer(t *testing.T) *Server {
	t.Helper()
	embedder := fakeEmbedder{vec: model.Vector{1, 0}}
	cache := semanticcache.New(semanticcache.DefaultConfig(), embedder, nil)

	sources := queryengine.NewRegistry([]model.SourceConfig{{Id: "kb", Collection: "kb_docs", Weight: 1, Enabled: true}})
	stores := map[model.SourceId]vectorstore.Store{
		"kb": fakeStore{hits: []model.Hit{{DocId: "doc-1", Score: 0.9, Payload: model.Payload{Title: "t", Snippet: "restart the vpn client"}}}},
	}
	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	registry := metrics.New([]string{"kb"})
	engine := queryengine.New(queryengine.DefaultConfig(), sources, nil, stores, breakers).WithMetrics(registry)
	builder := responsebuilder.New(responsebuilder.DefaultConfig(), fakeLLM{}, breakers).WithMetrics(registry)
	orch := orchestrator.New(orchestrator.DefaultConfig(), cache, embedder, engine, builder)

	return NewServer(DefaultConfig(), orch, cache, sources, breakers, registry, []string{"kb", "llm"})
}

func TestHandleQuery_ReturnsAnswer(t *testing.T) {
	s := buildTestServer(t)
	body, _ := json.Marshal(queryRequest{Text: "how do I reset my vpn"})

	req := httptest.NewRequest("POST", "/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp queryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Text == "" {
		t.Error("expected non-empty answer text")
	}
	if len(resp.Citations) != 1 {
		t.Errorf("expected 1 citation, got %d", len(resp.Citations))
	}
}

func TestHandleQuery_UnknownSourceIsBadRequest(t *testing.T) {
	s := buildTestServer(t)
	body, _ := json.Marshal(queryRequest{Text: "hi", Sources: []string{"nonexistent"}})

	req := httptest.NewRequest("POST", "/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleQuery_MissingTextIsBadRequest(t *testing.T) {
	s := buildTestServer(t)
	req := httptest.NewRequest("POST", "/query", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleStats_ReturnsCounters(t *testing.T) {
	s := buildTestServer(t)
	req := httptest.NewRequest("GET", "/stats", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var stats statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.FanoutLatency == nil {
		t.Error("expected fanout_latency_ms to be present in the stats response")
	}
}

func TestHandleStats_ReflectsFanoutAndLLMLatencyFromAQuery(t *testing.T) {
	s := buildTestServer(t)
	body, _ := json.Marshal(queryRequest{Text: "how do I reset my vpn"})
	req := httptest.NewRequest("POST", "/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.engine.ServeHTTP(httptest.NewRecorder(), req)

	statsReq := httptest.NewRequest("GET", "/stats", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, statsReq)

	var stats statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.FanoutLatency["kb"].Count != 1 {
		t.Errorf("expected one recorded fan-out latency sample for source kb, got %+v", stats.FanoutLatency["kb"])
	}
	if stats.LLMLatency.Count != 1 {
		t.Errorf("expected one recorded LLM latency sample, got %+v", stats.LLMLatency)
	}
}

func TestHandleInvalidate_ByKey(t *testing.T) {
	s := buildTestServer(t)
	body, _ := json.Marshal(invalidateRequest{Key: "missing-key"})

	req := httptest.NewRequest("POST", "/invalidate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp invalidateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Removed != 0 {
		t.Errorf("expected 0 removed for a missing key, got %d", resp.Removed)
	}
}

func TestHandleInvalidate_RequiresKeyOrPredicate(t *testing.T) {
	s := buildTestServer(t)
	req := httptest.NewRequest("POST", "/invalidate", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleHealth_AlwaysOk(t *testing.T) {
	s := buildTestServer(t)
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleReady_ReportsBreakerState(t *testing.T) {
	s := buildTestServer(t)
	req := httptest.NewRequest("GET", "/ready", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var resp readyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Adapters) != 2 {
		t.Fatalf("expected 2 adapters reported, got %d", len(resp.Adapters))
	}
}
