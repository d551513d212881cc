package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cache"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultPrefix   = "ddoc:"
	scanBatchSize   = 500
	connectTimeout  = 5 * time.Second
	sampleKeysCount = 100
)

type redisCache struct {
	rdb    *goredis.Client
	prefix string
}

type Options struct {
	URL    string // e.g. redis://localhost:6379/0
	Prefix string // namespace of all keys written by this engine ("" = "ddoc:")
}

// NewRedisCache connects to redis and verifies the connection with a PING
func NewRedisCache(ctx context.Context, opts Options) (cache.Engine, error) {
	redisOpts, err := goredis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := goredis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis not reachable: %w", err)
	}

	return NewFromClient(rdb, opts.Prefix), nil
}

// NewFromClient wraps an existing client. The engine takes ownership of rdb.
func NewFromClient(rdb *goredis.Client, prefix string) cache.Engine {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &redisCache{rdb: rdb, prefix: prefix}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see cache.Engine)
// --------------------------------------------------------------------------

func (r *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	// redis rejects sub-millisecond expiries
	if ttl > 0 && ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return r.rdb.Set(ctx, r.prefix+key, value, ttl).Err()
}

func (r *redisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *redisCache) Delete(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.prefix+key).Err()
}

// Purge deletes every key under the engine's prefix
func (r *redisCache) Purge(ctx context.Context) error {
	return r.scan(ctx, func(keys []string) error {
		return r.rdb.Del(ctx, keys...).Err()
	})
}

func (r *redisCache) SupportsFeature(feature cache.Feature) bool {
	supported := cache.FeatureSet |
		cache.FeatureGet |
		cache.FeatureDelete |
		cache.FeaturePurge |
		cache.FeatureTTL |
		cache.FeatureShared
	return supported&feature == feature
}

func (r *redisCache) GetInfo(ctx context.Context) (cache.Info, error) {
	var (
		entries int
		sampled []string
	)
	err := r.scan(ctx, func(keys []string) error {
		entries += len(keys)
		if len(sampled) < sampleKeysCount {
			sampled = append(sampled, keys...)
		}
		return nil
	})
	if err != nil {
		return cache.Info{}, err
	}

	var sampledBytes int64
	for _, k := range sampled {
		n, err := r.rdb.StrLen(ctx, k).Result()
		if err != nil {
			continue
		}
		sampledBytes += n + int64(len(k))
	}
	var sizeBytes int
	if len(sampled) > 0 {
		sizeBytes = int(sampledBytes/int64(len(sampled))) * entries
	}

	poolStats := r.rdb.PoolStats()
	meta := &struct {
		Prefix     string `json:"prefix"`
		Addr       string `json:"addr"`
		TotalConns uint32 `json:"total_conns"`
		IdleConns  uint32 `json:"idle_conns"`
		Hits       uint32 `json:"pool_hits"`
		Misses     uint32 `json:"pool_misses"`
	}{
		Prefix:     r.prefix,
		Addr:       r.rdb.Options().Addr,
		TotalConns: poolStats.TotalConns,
		IdleConns:  poolStats.IdleConns,
		Hits:       poolStats.Hits,
		Misses:     poolStats.Misses,
	}

	return cache.Info{
		SizeBytes:  sizeBytes,
		Entries:    entries,
		EngineType: cache.ImplRedis,
		SupportedFeatures: []cache.Feature{
			cache.FeatureSet, cache.FeatureGet, cache.FeatureDelete,
			cache.FeaturePurge, cache.FeatureTTL, cache.FeatureShared,
		},
		Metadata: meta,
	}, nil
}

func (r *redisCache) Close() error {
	err := r.rdb.Close()
	if err != nil && strings.Contains(err.Error(), "closed") {
		return nil
	}
	return err
}

// scan calls fn with batches of keys under the engine's prefix
func (r *redisCache) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, r.prefix+"*", scanBatchSize).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
