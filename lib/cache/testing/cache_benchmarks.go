package testing

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cache"
)

// RunEngineBenchmarks runs all benchmarks for a cache engine implementation
func RunEngineBenchmarks(b *testing.B, name string, factory EngineFactory) {

	b.Run("Set", func(b *testing.B) {
		benchmarkSet(b, factory())
	})

	b.Run("SetExisting", func(b *testing.B) {
		benchmarkSetExisting(b, factory())
	})

	b.Run("SetLargeValue", func(b *testing.B) {
		benchmarkSetLargeValue(b, factory())
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run("Get(miss)", func(b *testing.B) {
		benchmarkGetMiss(b, factory())
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkSet(b *testing.B, engine cache.Engine) {
	b.Cleanup(func() { _ = engine.Close() })

	requireFeature(b, engine, cache.FeatureSet)

	var counter atomic.Int64
	value := []byte("benchmark-value")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			key := fmt.Sprintf("key-%d", counter.Add(1))
			_ = engine.Set(ctx, key, value, time.Minute)
		}
	})
}

func benchmarkSetExisting(b *testing.B, engine cache.Engine) {
	b.Cleanup(func() { _ = engine.Close() })

	requireFeature(b, engine, cache.FeatureSet)

	ctx := context.Background()
	const keys = 1000
	for i := 0; i < keys; i++ {
		_ = engine.Set(ctx, fmt.Sprintf("key-%d", i), []byte("init"), time.Minute)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		value := []byte("updated")
		for pb.Next() {
			_ = engine.Set(ctx, fmt.Sprintf("key-%d", r.Intn(keys)), value, time.Minute)
		}
	})
}

func benchmarkSetLargeValue(b *testing.B, engine cache.Engine) {
	b.Cleanup(func() { _ = engine.Close() })

	requireFeature(b, engine, cache.FeatureSet)

	var counter atomic.Int64
	value := bytes.Repeat([]byte("x"), 64*1024)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			_ = engine.Set(ctx, fmt.Sprintf("large-%d", counter.Add(1)%1000), value, time.Minute)
		}
	})
}

func benchmarkGet(b *testing.B, engine cache.Engine) {
	b.Cleanup(func() { _ = engine.Close() })

	requireFeature(b, engine, cache.FeatureSet|cache.FeatureGet)

	ctx := context.Background()
	const keys = 10000
	for i := 0; i < keys; i++ {
		_ = engine.Set(ctx, fmt.Sprintf("key-%d", i), []byte("value"), time.Minute)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			_, _, _ = engine.Get(ctx, fmt.Sprintf("key-%d", r.Intn(keys)))
		}
	})
}

func benchmarkGetMiss(b *testing.B, engine cache.Engine) {
	b.Cleanup(func() { _ = engine.Close() })

	requireFeature(b, engine, cache.FeatureGet)

	var counter atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			_, _, _ = engine.Get(ctx, fmt.Sprintf("missing-%d", counter.Add(1)))
		}
	})
}

// 80% reads, 20% writes on a shared key set
func benchmarkMixedUsage(b *testing.B, engine cache.Engine) {
	b.Cleanup(func() { _ = engine.Close() })

	requireFeature(b, engine, cache.FeatureSet|cache.FeatureGet)

	ctx := context.Background()
	const keys = 1000
	for i := 0; i < keys; i++ {
		_ = engine.Set(ctx, fmt.Sprintf("key-%d", i), []byte("value"), time.Minute)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		value := []byte("mixed")
		for pb.Next() {
			key := fmt.Sprintf("key-%d", r.Intn(keys))
			if r.Intn(10) < 8 {
				_, _, _ = engine.Get(ctx, key)
			} else {
				_ = engine.Set(ctx, key, value, time.Minute)
			}
		}
	})
}
