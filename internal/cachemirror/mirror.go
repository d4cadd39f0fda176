package cachemirror

import (
	"context"
	"fmt"

	"github.com/opskb/ragd/internal/model"
	"github.com/opskb/ragd/internal/semanticcache"
)

// Loadable is satisfied by every driver in this package: it can list its
// mirrored entries back out for a cold-start restore.
type Loadable interface {
	semanticcache.Mirror
	LoadAll(ctx context.Context) ([]*model.CacheEntry, error)
}

// Open constructs the mirror driver named by driver ("postgres", "redis",
// "valkey"). An empty driver or "none" returns a nil Loadable with no
// error, the caller's signal to run without mirroring.
func Open(ctx context.Context, driver, dsn string) (Loadable, error) {
	switch driver {
	case "", "none":
		return nil, nil
	case "postgres":
		return NewPostgresMirror(dsn)
	case "redis":
		return NewRedisMirror(ctx, dsn)
	case "valkey":
		return NewValkeyMirror(ctx, dsn)
	default:
		return nil, fmt.Errorf("cachemirror: unknown driver %q", driver)
	}
}

// Restore loads every entry from mirror and seeds cache with it, for use
// at startup right after semanticcache.New.
func Restore(ctx context.Context, mirror Loadable, cache *semanticcache.Cache) error {
	if mirror == nil {
		return nil
	}
	entries, err := mirror.LoadAll(ctx)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		cache.Restore(entry)
	}
	return nil
}
