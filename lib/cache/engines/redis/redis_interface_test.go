package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cache"
	cachetesting "github.com/ValentinKolb/dDoc/lib/cache/testing"
)

// The suite needs a running server, e.g. DDOC_TEST_REDIS_URL=redis://localhost:6379/15
func redisURL(tb testing.TB) string {
	url := os.Getenv("DDOC_TEST_REDIS_URL")
	if url == "" {
		tb.Skip("DDOC_TEST_REDIS_URL not set")
	}
	return url
}

func factory(tb testing.TB) cachetesting.EngineFactory {
	url := redisURL(tb)
	return func() cache.Engine {
		engine, err := NewRedisCache(context.Background(), Options{
			URL:    url,
			Prefix: fmt.Sprintf("ddoc-test-%d:", time.Now().UnixNano()),
		})
		if err != nil {
			tb.Fatalf("failed to connect to redis: %v", err)
		}
		return engine
	}
}

func Test(t *testing.T) {
	cachetesting.RunEngineTests(t, "RedisCache", factory(t))
}

func Benchmark(b *testing.B) {
	cachetesting.RunEngineBenchmarks(b, "RedisCache", factory(b))
}

func TestInvalidURL(t *testing.T) {
	if _, err := NewRedisCache(context.Background(), Options{URL: "not-a-url"}); err == nil {
		t.Errorf("expected an error for an invalid url")
	}
}

func TestPurgeKeepsForeignPrefixes(t *testing.T) {
	url := redisURL(t)
	ctx := context.Background()

	a, err := NewRedisCache(ctx, Options{URL: url, Prefix: fmt.Sprintf("ddoc-a-%d:", time.Now().UnixNano())})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := NewRedisCache(ctx, Options{URL: url, Prefix: fmt.Sprintf("ddoc-b-%d:", time.Now().UnixNano())})
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = b.Purge(ctx)
		_ = b.Close()
	}()

	_ = a.Set(ctx, "k", []byte("a"), time.Minute)
	_ = b.Set(ctx, "k", []byte("b"), time.Minute)

	if err := a.Purge(ctx); err != nil {
		t.Fatal(err)
	}

	if v, ok, _ := b.Get(ctx, "k"); !ok || string(v) != "b" {
		t.Errorf("purging one prefix removed another engine's entry")
	}
}
