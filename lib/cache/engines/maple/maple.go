package maple

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cache"
	"github.com/ValentinKolb/dDoc/lib/cache/engines/maple/internal"
	"github.com/ValentinKolb/dDoc/lib/cache/util"
)

const defaultGCInterval = 100 * time.Millisecond

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

type mapleCache struct {
	seed   uint64
	shards []*internal.Shard
	clock  util.Clock

	gcInterval time.Duration
	gcRunning  sync.WaitGroup
	closed     atomic.Bool
}

type Options struct {
	NumShards  int           // Number of shards (0 = number of CPUs)
	GCInterval time.Duration // Time between collector sweeps (0 = 100ms)
	Clock      util.Clock    // Source of the current time (nil = wall clock)
}

func DefaultOptions() *Options {
	return &Options{
		NumShards:  runtime.NumCPU(),
		GCInterval: defaultGCInterval,
		Clock:      util.SystemClock,
	}
}

// --------------------------------------------------------------------------
// Constructor
// --------------------------------------------------------------------------

// NewMapleCache creates an in-process cache engine and starts its collector
func NewMapleCache(opts *Options) cache.Engine {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.NumShards <= 0 {
		opts.NumShards = runtime.NumCPU()
	}
	if opts.GCInterval <= 0 {
		opts.GCInterval = defaultGCInterval
	}
	if opts.Clock == nil {
		opts.Clock = util.SystemClock
	}

	hasher := func(key util.UintKey, mapSeed uint64) uint64 {
		return uint64(key) ^ mapSeed
	}

	shards := make([]*internal.Shard, opts.NumShards)
	for i := range shards {
		shards[i] = internal.NewShard(hasher)
	}

	c := &mapleCache{
		seed:       util.GenerateSeed(),
		shards:     shards,
		clock:      opts.Clock,
		gcInterval: opts.GCInterval,
	}

	for _, shard := range c.shards {
		c.gcRunning.Add(1)
		go c.collect(shard)
	}

	return c
}

func (c *mapleCache) now() uint64 {
	return util.ToMillis(c.clock())
}

func (c *mapleCache) locate(key string) (util.UintKey, *internal.Shard) {
	intKey := util.HashString(key, c.seed)
	return intKey, internal.GetShard(intKey, c.shards)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see cache.Engine)
// --------------------------------------------------------------------------

func (c *mapleCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if c.closed.Load() {
		return cache.ErrClosed
	}

	intKey, shard := c.locate(key)

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	var expireAt uint64
	if ttl > 0 {
		ms := uint64(ttl.Milliseconds())
		if ms == 0 {
			ms = 1
		}
		expireAt = c.now() + ms
	}

	shard.Data.Store(intKey, internal.Entry{Key: key, Value: valueCopy, ExpireAt: expireAt})

	if expireAt != 0 {
		shard.Events.Push(internal.Event{Type: internal.EventTWrite, Key: intKey})
	}
	return nil
}

func (c *mapleCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if c.closed.Load() {
		return nil, false, cache.ErrClosed
	}

	intKey, shard := c.locate(key)
	now := c.now()

	var (
		data []byte
		ok   bool
	)

	shard.Data.Compute(intKey, func(e internal.Entry, loaded bool) (internal.Entry, bool) {
		if !loaded {
			return e, true // delete, else Compute would create the entry
		}
		if e.Key != key {
			return e, false
		}
		if e.Expired(now) {
			return e, true
		}

		ok = true
		data = make([]byte, len(e.Value))
		copy(data, e.Value)
		return e, false
	})

	return data, ok, nil
}

func (c *mapleCache) Delete(_ context.Context, key string) error {
	if c.closed.Load() {
		return cache.ErrClosed
	}

	intKey, shard := c.locate(key)

	removed := false
	shard.Data.Compute(intKey, func(e internal.Entry, loaded bool) (internal.Entry, bool) {
		if !loaded {
			return e, true
		}
		if e.Key != key {
			return e, false
		}
		removed = e.ExpireAt != 0
		return e, true
	})

	if removed {
		shard.Events.Push(internal.Event{Type: internal.EventTDelete, Key: intKey})
	}
	return nil
}

// Purge clears all shards. Deadlines still queued for purged keys are
// skipped by the collector once they come due.
func (c *mapleCache) Purge(_ context.Context) error {
	if c.closed.Load() {
		return cache.ErrClosed
	}
	for _, shard := range c.shards {
		shard.Data.Clear()
	}
	return nil
}

func (c *mapleCache) SupportsFeature(feature cache.Feature) bool {
	supported := cache.FeatureSet |
		cache.FeatureGet |
		cache.FeatureDelete |
		cache.FeaturePurge |
		cache.FeatureTTL
	return supported&feature == feature
}

// GetInfo samples up to 100 entries per shard to estimate the cache size
func (c *mapleCache) GetInfo(_ context.Context) (cache.Info, error) {
	now := c.now()
	histogram := util.NewSizeHistogram()
	const samplesPerShard = 100

	var (
		mu             sync.Mutex
		wg             sync.WaitGroup
		samples        int
		expiredBacklog int
		entries        int
		shardSizes     = make([]float64, len(c.shards))
	)

	wg.Add(len(c.shards))
	for i, shard := range c.shards {
		go func(i int, s *internal.Shard) {
			defer wg.Done()

			n, expired := 0, 0
			s.Data.Range(func(_ util.UintKey, e internal.Entry) bool {
				histogram.AddSample(len(e.Key) + len(e.Value))
				if e.Expired(now) {
					expired++
				}
				n++
				return n < samplesPerShard
			})
			size := s.Data.Size()

			mu.Lock()
			defer mu.Unlock()
			samples += n
			expiredBacklog += expired
			entries += size
			shardSizes[i] = float64(size)
		}(i, shard)
	}
	wg.Wait()

	// 24 bytes for the hashed key, slice header and deadline
	const entryOverhead = 24
	median := histogram.Percentile(50) + entryOverhead
	mean := histogram.Mean() + entryOverhead
	perEntry := (median*60 + mean*40) / 100

	var backlog float64
	if samples > 0 {
		backlog = float64(expiredBacklog) / float64(samples)
	}

	meta := &struct {
		ShardCount        int                    `json:"shard_count"`
		ShardDistribution util.DistributionStats `json:"shard_distribution"`
		ExpiredBacklog    float64                `json:"expired_backlog"`
		Info              string                 `json:"info"`
	}{
		ShardCount:        len(c.shards),
		ShardDistribution: util.NewDistributionStats(shardSizes),
		ExpiredBacklog:    backlog,
		Info:              "SizeBytes and ExpiredBacklog are estimates from sampled entries.",
	}

	return cache.Info{
		SizeBytes:  perEntry * entries,
		Entries:    entries,
		EngineType: cache.ImplMaple,
		SupportedFeatures: []cache.Feature{
			cache.FeatureSet, cache.FeatureGet, cache.FeatureDelete,
			cache.FeaturePurge, cache.FeatureTTL,
		},
		Metadata: meta,
	}, nil
}

// Close stops the collectors. Entries are dropped.
func (c *mapleCache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, shard := range c.shards {
		shard.Events.Close()
	}
	c.gcRunning.Wait()
	for _, shard := range c.shards {
		shard.Data.Clear()
	}
	return nil
}

// --------------------------------------------------------------------------
// Garbage Collection
// --------------------------------------------------------------------------

// collect runs the collector of one shard until its event queue is closed.
// Writes with a ttl schedule a deadline, deletes cancel it. Every gcInterval
// the due deadlines are swept.
func (c *mapleCache) collect(shard *internal.Shard) {
	defer c.gcRunning.Done()

	ticker := time.NewTicker(c.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-shard.Events.Recv():
			if !ok {
				return
			}
			switch event.Type {
			case internal.EventTWrite:
				if e, ok := shard.Data.Load(event.Key); ok && e.ExpireAt != 0 {
					shard.Expiry.Schedule(uint64(event.Key), e.ExpireAt)
				}
			case internal.EventTDelete:
				shard.Expiry.Cancel(uint64(event.Key))
			}

		case <-ticker.C:
			c.sweep(shard)
		}
	}
}

func (c *mapleCache) sweep(shard *internal.Shard) {
	// read the clock once so a sweep always terminates
	now := c.now()

	for {
		next, ok := shard.Expiry.Peek()
		if !ok || next.Deadline > now {
			return
		}

		shard.Data.Compute(util.UintKey(next.Key), func(e internal.Entry, loaded bool) (internal.Entry, bool) {
			if !loaded {
				return e, true
			}
			// a rewrite moved the deadline, its write event reschedules the key
			return e, e.Expired(now)
		})

		shard.Expiry.Cancel(next.Key)
	}
}
