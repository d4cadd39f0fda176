// Package vectorstore implements the Vector Store Client (spec §4,
// component 2): a thin adapter over an external vector database, exposing
// search and upsert per collection.
package vectorstore

import (
	"context"
	"fmt"

	"resty.dev/v3"

	"github.com/opskb/ragd/internal/model"
)

// Filter narrows a search beyond vector similarity (source-specific;
// opaque to the Query Engine beyond pass-through).
type Filter map[string]string

// Store is the Vector Store Client's interface.
type Store interface {
	Search(ctx context.Context, collection string, vector model.Vector, k int, filter Filter) ([]model.Hit, error)
	Upsert(ctx context.Context, collection string, hits []model.Hit) error
}

type restyStore struct {
	http    *resty.Client
	baseURL string
	apiKey  string
}

// New builds a Store against a vector database's REST surface.
func New(httpClient *resty.Client, baseURL, apiKey string) Store {
	return &restyStore{http: httpClient, baseURL: baseURL, apiKey: apiKey}
}

type searchRequest struct {
	Vector     []float32         `json:"vector"`
	K          int               `json:"k"`
	Filter     map[string]string `json:"filter,omitempty"`
	WithVector bool              `json:"with_vector"`
}

type searchResponseItem struct {
	DocId     string            `json:"doc_id"`
	Score     float64           `json:"score"`
	Title     string            `json:"title"`
	URL       string            `json:"url"`
	Snippet   string            `json:"text_snippet"`
	UpdatedAt string            `json:"updated_at,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
	Vector    []float32         `json:"vector,omitempty"`
}

type searchResponse struct {
	Hits []searchResponseItem `json:"hits"`
}

func (s *restyStore) Search(ctx context.Context, collection string, vector model.Vector, k int, filter Filter) ([]model.Hit, error) {
	var resp searchResponse
	r, err := s.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+s.apiKey).
		SetBody(searchRequest{Vector: []float32(vector), K: k, Filter: map[string]string(filter), WithVector: true}).
		SetResult(&resp).
		Post(fmt.Sprintf("%s/collections/%s/search", s.baseURL, collection))
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search failed: %w", err)
	}
	if r.IsError() {
		return nil, &StatusError{Collection: collection, StatusCode: r.StatusCode()}
	}

	hits := make([]model.Hit, 0, len(resp.Hits))
	for _, item := range resp.Hits {
		hits = append(hits, model.Hit{
			DocId:  item.DocId,
			Score:  item.Score,
			Vector: model.Vector(item.Vector),
			Payload: model.Payload{
				Title:       item.Title,
				URL:         item.URL,
				Snippet:     item.Snippet,
				SourceExtra: item.Extra,
			},
		})
	}
	return hits, nil
}

type upsertRequest struct {
	Items []upsertItem `json:"items"`
}

type upsertItem struct {
	DocId     string            `json:"doc_id"`
	Vector    []float32         `json:"vector"`
	Title     string            `json:"title"`
	URL       string            `json:"url"`
	Snippet   string            `json:"text_snippet"`
}

func (s *restyStore) Upsert(ctx context.Context, collection string, hits []model.Hit) error {
	items := make([]upsertItem, 0, len(hits))
	for _, h := range hits {
		items = append(items, upsertItem{
			DocId:   h.DocId,
			Vector:  []float32(h.Vector),
			Title:   h.Payload.Title,
			URL:     h.Payload.URL,
			Snippet: h.Payload.Snippet,
		})
	}
	r, err := s.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+s.apiKey).
		SetBody(upsertRequest{Items: items}).
		Post(fmt.Sprintf("%s/collections/%s/upsert", s.baseURL, collection))
	if err != nil {
		return fmt.Errorf("vectorstore: upsert failed: %w", err)
	}
	if r.IsError() {
		return &StatusError{Collection: collection, StatusCode: r.StatusCode()}
	}
	return nil
}

// StatusError carries the HTTP status so callers can classify it against
// the breaker/error taxonomy (5xx/timeout are failures, 4xx except 429
// are not).
type StatusError struct {
	Collection string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vectorstore: collection %s returned status %d", e.Collection, e.StatusCode)
}
