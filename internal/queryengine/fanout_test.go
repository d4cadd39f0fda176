package queryengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opskb/ragd/internal/breaker"
	"github.com/opskb/ragd/internal/model"
	"github.com/opskb/ragd/internal/vectorstore"
)

type fakeStore struct {
	hits []model.Hit
	err  error
	delay time.Duration
}

func (f fakeStore) Search(ctx context.Context, collection string, vector model.Vector, k int, filter vectorstore.Filter) ([]model.Hit, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

func (f fakeStore) Upsert(ctx context.Context, collection string, hits []model.Hit) error { return nil }

func TestEngine_Search_AggregatesAcrossSources(t *testing.T) {
	registry := testRegistry()
	stores := map[model.SourceId]vectorstore.Store{
		"kb":      fakeStore{hits: []model.Hit{{DocId: "kb-1", Score: 0.9, Payload: model.Payload{Snippet: "kb snippet"}}}},
		"tickets": fakeStore{hits: []model.Hit{{DocId: "tk-1", Score: 0.8, Payload: model.Payload{Snippet: "ticket snippet"}}}},
	}
	eng := New(DefaultConfig(), registry, nil, stores, breaker.NewRegistry(breaker.DefaultConfig()))

	res, err := eng.Search(context.Background(), model.Query{}, model.Vector{1, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Hits) != 2 {
		t.Fatalf("expected 2 hits across both sources, got %d", len(res.Hits))
	}
	if res.Partial {
		t.Fatalf("expected no partial result when both sources succeed")
	}
}

func TestEngine_Search_PartialOnSourceFailure(t *testing.T) {
	registry := testRegistry()
	stores := map[model.SourceId]vectorstore.Store{
		"kb":      fakeStore{hits: []model.Hit{{DocId: "kb-1", Score: 0.9, Payload: model.Payload{Snippet: "kb snippet"}}}},
		"tickets": fakeStore{err: errors.New("boom")},
	}
	eng := New(DefaultConfig(), registry, nil, stores, breaker.NewRegistry(breaker.DefaultConfig()))

	res, err := eng.Search(context.Background(), model.Query{}, model.Vector{1, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Partial {
		t.Fatal("expected a partial result when one source fails")
	}
	if len(res.Hits) != 1 || len(res.Failed) != 1 {
		t.Fatalf("expected 1 surviving hit and 1 failed source, got hits=%d failed=%v", len(res.Hits), res.Failed)
	}
}

func TestEngine_Search_RespectsPerSourceTimeout(t *testing.T) {
	registry := testRegistry()
	stores := map[model.SourceId]vectorstore.Store{
		"kb":      fakeStore{delay: 50 * time.Millisecond, hits: []model.Hit{{DocId: "kb-1", Score: 0.9, Payload: model.Payload{Snippet: "kb snippet"}}}},
		"tickets": fakeStore{hits: []model.Hit{{DocId: "tk-1", Score: 0.8, Payload: model.Payload{Snippet: "ticket snippet"}}}},
	}
	cfg := DefaultConfig()
	cfg.PerSourceTimeout = 5 * time.Millisecond
	eng := New(cfg, registry, nil, stores, breaker.NewRegistry(breaker.DefaultConfig()))

	res, err := eng.Search(context.Background(), model.Query{}, model.Vector{1, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Partial {
		t.Fatal("expected the slow source to time out and the result to be marked partial")
	}
	if len(res.Hits) != 1 || res.Hits[0].Hit.DocId != "tk-1" {
		t.Fatalf("expected only the fast source's hit to survive, got %+v", res.Hits)
	}
}

func TestEngine_Search_SkipsWhenBreakerOpen(t *testing.T) {
	registry := testRegistry()
	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	b := breakers.Get("kb")
	for i := 0; i < breaker.DefaultConfig().FailureThreshold; i++ {
		b.RecordResult(breaker.Failure)
	}
	if b.State() != breaker.Open {
		t.Fatalf("expected breaker to be open after %d failures", breaker.DefaultConfig().FailureThreshold)
	}

	stores := map[model.SourceId]vectorstore.Store{
		"kb":      fakeStore{hits: []model.Hit{{DocId: "kb-1", Score: 0.9, Payload: model.Payload{Snippet: "kb snippet"}}}},
		"tickets": fakeStore{hits: []model.Hit{{DocId: "tk-1", Score: 0.8, Payload: model.Payload{Snippet: "ticket snippet"}}}},
	}
	eng := New(DefaultConfig(), registry, nil, stores, breakers)

	res, err := eng.Search(context.Background(), model.Query{}, model.Vector{1, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Hits) != 1 || res.Hits[0].Hit.DocId != "tk-1" {
		t.Fatalf("expected the open-breaker source to be skipped, got %+v", res.Hits)
	}
	if !res.Partial {
		t.Fatal("expected a skipped source to mark the result partial")
	}
}
