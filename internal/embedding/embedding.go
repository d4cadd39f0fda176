// Package embedding implements the Embedding Client (spec §4, component 1):
// turns text into a unit-normalized fixed-dimension vector via an external
// provider, with its own small LRU on text->vector.
package embedding

import (
	"context"
	"fmt"
	"math"

	"resty.dev/v3"

	"github.com/opskb/ragd/internal/model"
)

// Client embeds text via an external provider over HTTP.
type Client interface {
	Embed(ctx context.Context, text string) (model.Vector, error)
	Dim() int
}

// restyClient is the concrete HTTP-backed implementation, grounded on the
// teacher's resty adapter shape (app/utils/httpclients/openrouter/client.go).
type restyClient struct {
	http    *resty.Client
	baseURL string
	apiKey  string
	dim     int
}

// New builds a Client against an embedding provider's HTTP API.
func New(httpClient *resty.Client, baseURL, apiKey string, dim int) Client {
	return &restyClient{http: httpClient, baseURL: baseURL, apiKey: apiKey, dim: dim}
}

func (c *restyClient) Dim() int { return c.dim }

type embedRequest struct {
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (c *restyClient) Embed(ctx context.Context, text string) (model.Vector, error) {
	var resp embedResponse
	r, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+c.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(embedRequest{Input: text}).
		SetResult(&resp).
		Post(c.baseURL + "/embed")
	if err != nil {
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	if r.IsError() {
		return nil, fmt.Errorf("embedding: provider returned status %d", r.StatusCode())
	}
	if c.dim > 0 && len(resp.Embedding) != c.dim {
		return nil, fmt.Errorf("embedding: dimension mismatch: want %d got %d", c.dim, len(resp.Embedding))
	}
	return Normalize(resp.Embedding), nil
}

// Normalize rescales v to unit L2 norm, defensively re-normalizing a vector
// the provider may have returned slightly off-unit (spec invariant: every
// vector stored or sent to the vector store has ||v||_2 = 1 +/- 1e-6).
func Normalize(v []float32) model.Vector {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return model.Vector(v)
	}
	out := make(model.Vector, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
