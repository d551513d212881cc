package cstore

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/cache"
	"github.com/ValentinKolb/dDoc/lib/cache/engines/maple"
	"github.com/ValentinKolb/dDoc/lib/cache/engines/redis"
)

// Result cache engines selectable by name
const (
	CacheMaple = "maple" // in-process, lost on restart
	CacheRedis = "redis" // shared by all processes using the same redis
	CacheNone  = "none"  // no caching, every call reaches the database
)

// OpenCache creates the cache engine called kind. redisURL is only used for
// CacheRedis. CacheNone and "" return a nil engine, which disables caching.
func OpenCache(ctx context.Context, kind, redisURL string) (cache.Engine, error) {
	switch kind {
	case CacheMaple:
		return maple.NewMapleCache(maple.DefaultOptions()), nil
	case CacheRedis:
		if redisURL == "" {
			return nil, fmt.Errorf("the redis cache needs a redis url")
		}
		return redis.NewRedisCache(ctx, redis.Options{URL: redisURL})
	case CacheNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid cache %q (expected one of: %s, %s, %s)", kind, CacheMaple, CacheRedis, CacheNone)
	}
}
