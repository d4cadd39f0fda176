package cachemirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/opskb/ragd/internal/logging"
	"github.com/opskb/ragd/internal/model"
)

// ValkeyMirror is an alternative to RedisMirror for deployments that run
// Valkey instead of Redis, grounded on the teacher's ValkeyCacheService.
// The two share the redisEntry wire shape; only the client differs.
type ValkeyMirror struct {
	client valkey.Client
}

// NewValkeyMirror connects to address (host:port, no scheme) and verifies
// connectivity with a Ping.
func NewValkeyMirror(ctx context.Context, address string) (*ValkeyMirror, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{address}})
	if err != nil {
		return nil, fmt.Errorf("cachemirror: new valkey client: %w", err)
	}
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		return nil, fmt.Errorf("cachemirror: valkey ping: %w", err)
	}
	logging.GetLogger().Info("cachemirror: connected to valkey")
	return &ValkeyMirror{client: client}, nil
}

func (m *ValkeyMirror) Save(ctx context.Context, entry *model.CacheEntry) error {
	data, err := json.Marshal(redisEntryFrom(entry))
	if err != nil {
		return err
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return m.client.Do(ctx, m.client.B().Set().Key(redisKeyPrefix+entry.Key).Value(string(data)).ExSeconds(int64(ttl.Seconds())).Build()).Error()
}

func (m *ValkeyMirror) Delete(ctx context.Context, key string) error {
	return m.client.Do(ctx, m.client.B().Unlink().Key(redisKeyPrefix+key).Build()).Error()
}

// LoadAll lists every mirrored key and decodes it, for Cache.Restore at
// startup. Pattern listing uses KEYS, matching the teacher's
// DeletePattern implementation's own documented KEYS-for-small-datasets
// tradeoff, since Valkey's SCAN cursor API needs no use here beyond a
// startup-time, bounded key space.
func (m *ValkeyMirror) LoadAll(ctx context.Context) ([]*model.CacheEntry, error) {
	result := m.client.Do(ctx, m.client.B().Keys().Pattern(redisKeyPrefix+"*").Build())
	if result.Error() != nil {
		return nil, fmt.Errorf("cachemirror: valkey keys: %w", result.Error())
	}
	keys, err := result.AsStrSlice()
	if err != nil {
		return nil, err
	}

	entries := make([]*model.CacheEntry, 0, len(keys))
	for _, key := range keys {
		res := m.client.Do(ctx, m.client.B().Get().Key(key).Build())
		if res.Error() != nil {
			continue
		}
		val, err := res.ToString()
		if err != nil {
			continue
		}
		var re redisEntry
		if err := json.Unmarshal([]byte(val), &re); err != nil {
			continue
		}
		entries = append(entries, re.toEntry())
	}
	return entries, nil
}

// Close closes the underlying connection.
func (m *ValkeyMirror) Close() error {
	m.client.Close()
	return nil
}
