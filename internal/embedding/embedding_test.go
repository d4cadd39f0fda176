package embedding

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/opskb/ragd/internal/model"
)

func TestNormalize_ProducesUnitNorm(t *testing.T) {
	got := Normalize([]float32{3, 4})
	var sumSq float64
	for _, x := range got {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if math.Abs(norm-1) > 1e-6 {
		t.Errorf("||v|| = %v, want 1 +/- 1e-6", norm)
	}
}

func TestNormalize_ZeroVectorPassesThroughUnchanged(t *testing.T) {
	got := Normalize([]float32{0, 0, 0})
	for i, x := range got {
		if x != 0 {
			t.Errorf("got[%d] = %v, want 0 for a zero input vector", i, x)
		}
	}
}

type countingClient struct {
	calls int
	vec   model.Vector
	err   error
}

func (c *countingClient) Dim() int { return len(c.vec) }

func (c *countingClient) Embed(ctx context.Context, text string) (model.Vector, error) {
	c.calls++
	return c.vec, c.err
}

func TestWithLRU_CachesRepeatedText(t *testing.T) {
	inner := &countingClient{vec: model.Vector{1, 0}}
	client := WithLRU(inner, 16, time.Minute)

	for i := 0; i < 3; i++ {
		v, err := client.Embed(context.Background(), "reset my vpn")
		if err != nil {
			t.Fatalf("Embed error = %v", err)
		}
		if len(v) != 2 {
			t.Fatalf("unexpected vector length %d", len(v))
		}
	}

	if inner.calls != 1 {
		t.Errorf("inner.calls = %d, want 1 (subsequent calls should hit the LRU)", inner.calls)
	}
}

func TestWithLRU_DistinctTextMissesCache(t *testing.T) {
	inner := &countingClient{vec: model.Vector{1, 0}}
	client := WithLRU(inner, 16, time.Minute)

	client.Embed(context.Background(), "a")
	client.Embed(context.Background(), "b")

	if inner.calls != 2 {
		t.Errorf("inner.calls = %d, want 2 for two distinct texts", inner.calls)
	}
}

func TestWithLRU_ReturnsCopiesNotSharedSlices(t *testing.T) {
	inner := &countingClient{vec: model.Vector{1, 0}}
	client := WithLRU(inner, 16, time.Minute)

	a, _ := client.Embed(context.Background(), "x")
	a[0] = 999
	b, _ := client.Embed(context.Background(), "x")

	if b[0] == 999 {
		t.Error("expected cached vectors to be cloned per-call, not shared and mutable by callers")
	}
}

func TestWithLRU_DisabledWhenSizeOrTTLNonPositive(t *testing.T) {
	inner := &countingClient{vec: model.Vector{1, 0}}
	client := WithLRU(inner, 0, time.Minute)
	if client != inner {
		t.Error("expected WithLRU to return the underlying client unchanged when size <= 0")
	}
}
