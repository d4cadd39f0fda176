// Package cachemirror implements the optional external durability layer
// for the Semantic Cache (spec.md §6 "Persisted state"): a Postgres/
// pgvector driver and a Redis/Valkey driver, both satisfying
// semanticcache.Mirror.
package cachemirror

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/opskb/ragd/internal/model"
)

// cacheEntryRecord is the gorm schema for a mirrored CacheEntry, grounded
// on the teacher's dbschema pattern (app/infrastructure/database/dbschema)
// of keeping a DB-shaped struct distinct from the domain type and
// converting between them at the repository boundary.
type cacheEntryRecord struct {
	Key              string `gorm:"primaryKey"`
	Embedding        pgvector.Vector `gorm:"type:vector"`
	ValueJSON        string
	TokensValue      int
	CreatedAt        time.Time
	LastAccessAt     time.Time
	HitCount         int64
	TTLBaseMs        int64
	ExpiresAt        time.Time `gorm:"index"`
	SemanticEligible bool
}

func (cacheEntryRecord) TableName() string { return "cache_entries" }

func recordFromEntry(e *model.CacheEntry) (*cacheEntryRecord, error) {
	valueJSON, err := json.Marshal(e.Value)
	if err != nil {
		return nil, err
	}
	return &cacheEntryRecord{
		Key:              e.Key,
		Embedding:        pgvector.NewVector([]float32(e.Embedding)),
		ValueJSON:        string(valueJSON),
		TokensValue:      e.TokensValue,
		CreatedAt:        e.CreatedAt,
		LastAccessAt:     e.LastAccessAt,
		HitCount:         e.HitCount,
		TTLBaseMs:        e.TTLBase.Milliseconds(),
		ExpiresAt:        e.ExpiresAt,
		SemanticEligible: e.SemanticEligible,
	}, nil
}

func (r cacheEntryRecord) toEntry() (*model.CacheEntry, error) {
	var value model.CachedAnswer
	if err := json.Unmarshal([]byte(r.ValueJSON), &value); err != nil {
		return nil, err
	}
	return &model.CacheEntry{
		Key:              r.Key,
		Embedding:        model.Vector(r.Embedding.Slice()),
		Value:            value,
		TokensValue:      r.TokensValue,
		CreatedAt:        r.CreatedAt,
		LastAccessAt:     r.LastAccessAt,
		HitCount:         r.HitCount,
		TTLBase:          time.Duration(r.TTLBaseMs) * time.Millisecond,
		ExpiresAt:        r.ExpiresAt,
		SemanticEligible: r.SemanticEligible,
	}, nil
}

// PostgresMirror stores CacheEntry records in Postgres with the embedding
// in a pgvector column, so a restart can re-hydrate the semantic ring
// directly from SQL without re-embedding anything.
type PostgresMirror struct {
	db *gorm.DB
}

// NewPostgresMirror opens a connection and ensures the cache_entries table
// exists.
func NewPostgresMirror(dsn string) (*PostgresMirror, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&cacheEntryRecord{}); err != nil {
		return nil, err
	}
	return &PostgresMirror{db: db}, nil
}

func (m *PostgresMirror) Save(ctx context.Context, entry *model.CacheEntry) error {
	rec, err := recordFromEntry(entry)
	if err != nil {
		return err
	}
	return m.db.WithContext(ctx).Save(rec).Error
}

func (m *PostgresMirror) Delete(ctx context.Context, key string) error {
	return m.db.WithContext(ctx).Delete(&cacheEntryRecord{}, "key = ?", key).Error
}

// LoadAll returns every mirrored entry whose expiry has not yet passed,
// for Cache.Restore at startup.
func (m *PostgresMirror) LoadAll(ctx context.Context) ([]*model.CacheEntry, error) {
	var records []cacheEntryRecord
	if err := m.db.WithContext(ctx).Where("expires_at > ?", time.Now()).Find(&records).Error; err != nil {
		return nil, err
	}
	entries := make([]*model.CacheEntry, 0, len(records))
	for _, r := range records {
		entry, err := r.toEntry()
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
