package embedding

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/opskb/ragd/internal/model"
)

// WithLRU wraps next with a text->vector LRU, mirroring the decorator shape
// used for embedding caches elsewhere in this codebase family
// (internal/embedcache.WrapLruCacheToEmbedder in xxxsen-mnote).
func WithLRU(next Client, size int, ttl time.Duration) Client {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	return &lruClient{
		next:  next,
		cache: lru.NewLRU[string, model.Vector](size, nil, ttl),
	}
}

type lruClient struct {
	next  Client
	cache *lru.LRU[string, model.Vector]
}

func (l *lruClient) Dim() int { return l.next.Dim() }

func (l *lruClient) Embed(ctx context.Context, text string) (model.Vector, error) {
	if cached, ok := l.cache.Get(text); ok {
		return cloneVector(cached), nil
	}
	v, err := l.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	l.cache.Add(text, cloneVector(v))
	return v, nil
}

func cloneVector(v model.Vector) model.Vector {
	if len(v) == 0 {
		return nil
	}
	out := make(model.Vector, len(v))
	copy(out, v)
	return out
}
