package cachemirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opskb/ragd/internal/logging"
	"github.com/opskb/ragd/internal/model"
)

const redisKeyPrefix = "ragd:cache:"

// redisEntry is the JSON wire shape stored per key, grounded directly on
// the teacher's Redis cache service's marshal/unmarshal pattern.
type redisEntry struct {
	Key              string       `json:"key"`
	Embedding        model.Vector `json:"embedding"`
	Value            model.CachedAnswer `json:"value"`
	TokensValue      int          `json:"tokens_value"`
	CreatedAt        time.Time    `json:"created_at"`
	LastAccessAt     time.Time    `json:"last_access_at"`
	HitCount         int64        `json:"hit_count"`
	TTLBaseMs        int64        `json:"ttl_base_ms"`
	ExpiresAt        time.Time    `json:"expires_at"`
	SemanticEligible bool         `json:"semantic_eligible"`
}

func redisEntryFrom(e *model.CacheEntry) redisEntry {
	return redisEntry{
		Key:              e.Key,
		Embedding:        e.Embedding,
		Value:            e.Value,
		TokensValue:      e.TokensValue,
		CreatedAt:        e.CreatedAt,
		LastAccessAt:     e.LastAccessAt,
		HitCount:         e.HitCount,
		TTLBaseMs:        e.TTLBase.Milliseconds(),
		ExpiresAt:        e.ExpiresAt,
		SemanticEligible: e.SemanticEligible,
	}
}

func (r redisEntry) toEntry() *model.CacheEntry {
	return &model.CacheEntry{
		Key:              r.Key,
		Embedding:        r.Embedding,
		Value:            r.Value,
		TokensValue:      r.TokensValue,
		CreatedAt:        r.CreatedAt,
		LastAccessAt:     r.LastAccessAt,
		HitCount:         r.HitCount,
		TTLBase:          time.Duration(r.TTLBaseMs) * time.Millisecond,
		ExpiresAt:        r.ExpiresAt,
		SemanticEligible: r.SemanticEligible,
	}
}

// RedisMirror stores CacheEntry records as JSON values in Redis/Valkey,
// keyed by ragd:cache:<fingerprint> with a native TTL matching ExpiresAt,
// grounded on the teacher's RedisCacheService.
type RedisMirror struct {
	client *redis.Client
}

// NewRedisMirror parses url (a redis:// or rediss:// URL) and verifies
// connectivity with a Ping, the same startup check the teacher's service
// performs.
func NewRedisMirror(ctx context.Context, url string) (*RedisMirror, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cachemirror: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cachemirror: redis ping: %w", err)
	}
	logging.GetLogger().Info("cachemirror: connected to redis")
	return &RedisMirror{client: client}, nil
}

func (m *RedisMirror) Save(ctx context.Context, entry *model.CacheEntry) error {
	data, err := json.Marshal(redisEntryFrom(entry))
	if err != nil {
		return err
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return m.client.Set(ctx, redisKeyPrefix+entry.Key, data, ttl).Err()
}

func (m *RedisMirror) Delete(ctx context.Context, key string) error {
	return m.client.Unlink(ctx, redisKeyPrefix+key).Err()
}

// LoadAll scans every mirrored key and decodes it, for Cache.Restore at
// startup. Expired keys are absent already: Redis evicted them via TTL.
func (m *RedisMirror) LoadAll(ctx context.Context) ([]*model.CacheEntry, error) {
	var (
		entries []*model.CacheEntry
		cursor  uint64
	)
	for {
		keys, next, err := m.client.Scan(ctx, cursor, redisKeyPrefix+"*", 200).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			raw, err := m.client.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var re redisEntry
			if err := json.Unmarshal(raw, &re); err != nil {
				continue
			}
			entries = append(entries, re.toEntry())
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return entries, nil
}

// Close releases the underlying connection pool.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}

// Client exposes the underlying connection pool so a RedisLock can share
// it rather than opening a second pool to the same Redis instance.
func (m *RedisMirror) Client() *redis.Client {
	return m.client
}
