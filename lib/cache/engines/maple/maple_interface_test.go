package maple

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cache"
	cachetesting "github.com/ValentinKolb/dDoc/lib/cache/testing"
)

func Test(t *testing.T) {
	cachetesting.RunEngineTests(t, "MapleCache", func() cache.Engine {
		return NewMapleCache(nil)
	})
}

func Benchmark(b *testing.B) {
	cachetesting.RunEngineBenchmarks(b, "MapleCache", func() cache.Engine {
		return NewMapleCache(nil)
	})
}

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestExpiryFollowsClock(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	engine := NewMapleCache(&Options{NumShards: 2, GCInterval: time.Hour, Clock: clock.Now})
	defer engine.Close()

	ctx := context.Background()
	_ = engine.Set(ctx, "k", []byte("v"), 10*time.Second)

	clock.Advance(9 * time.Second)
	if _, ok, _ := engine.Get(ctx, "k"); !ok {
		t.Fatalf("entry should be alive before its ttl elapsed")
	}

	clock.Advance(time.Second)
	if _, ok, _ := engine.Get(ctx, "k"); ok {
		t.Errorf("entry should be expired exactly at its deadline")
	}
}

func TestCollectorRemovesExpiredEntries(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	engine := NewMapleCache(&Options{NumShards: 4, GCInterval: 10 * time.Millisecond, Clock: clock.Now})
	defer engine.Close()

	ctx := context.Background()
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		_ = engine.Set(ctx, k, []byte("v"), time.Second)
	}
	_ = engine.Set(ctx, "forever", []byte("v"), 0)

	clock.Advance(2 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for {
		info, _ := engine.GetInfo(ctx)
		if info.Entries == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("collector did not remove expired entries, %d left", info.Entries)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, ok, _ := engine.Get(ctx, "forever"); !ok {
		t.Errorf("entry without ttl must survive the collector")
	}
}

func TestCollectorKeepsRewrittenEntries(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	engine := NewMapleCache(&Options{NumShards: 1, GCInterval: 10 * time.Millisecond, Clock: clock.Now})
	defer engine.Close()

	ctx := context.Background()
	_ = engine.Set(ctx, "k", []byte("old"), time.Second)
	_ = engine.Set(ctx, "k", []byte("new"), time.Hour)

	clock.Advance(2 * time.Second)
	time.Sleep(100 * time.Millisecond)

	v, ok, _ := engine.Get(ctx, "k")
	if !ok || string(v) != "new" {
		t.Errorf("rewritten entry must not be collected at the old deadline, got %q (found=%v)", v, ok)
	}
}
