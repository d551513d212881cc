package testing

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cache"
)

// EngineFactory creates a new, empty engine
type EngineFactory func() cache.Engine

// RunEngineTests runs the conformance suite against an engine implementation
func RunEngineTests(t *testing.T, name string, factory EngineFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("CopySemantics", func(t *testing.T) {
			testCopySemantics(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("TTL", func(t *testing.T) {
			testTTL(t, factory())
		})

		t.Run("OverwriteResetsTTL", func(t *testing.T) {
			testOverwriteResetsTTL(t, factory())
		})

		t.Run("Purge", func(t *testing.T) {
			testPurge(t, factory())
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("Concurrent", func(t *testing.T) {
			testConcurrent(t, factory())
		})

		t.Run("GetInfo", func(t *testing.T) {
			testGetInfo(t, factory())
		})

		t.Run("Closed", func(t *testing.T) {
			testClosed(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// requireFeature skips the test if the engine lacks the feature
func requireFeature(t testing.TB, engine cache.Engine, feature cache.Feature) {
	if !engine.SupportsFeature(feature) {
		t.Skip()
	}
}

func mustSet(t testing.TB, engine cache.Engine, key string, value []byte, ttl time.Duration) {
	t.Helper()
	if err := engine.Set(context.Background(), key, value, ttl); err != nil {
		t.Fatalf("Set(%s) failed: %v", key, err)
	}
}

func mustGet(t testing.TB, engine cache.Engine, key string) ([]byte, bool) {
	t.Helper()
	v, ok, err := engine.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", key, err)
	}
	return v, ok
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, engine cache.Engine) {
	defer engine.Close()

	requireFeature(t, engine, cache.FeatureSet|cache.FeatureGet)

	mustSet(t, engine, "test-key", []byte("value1"), time.Minute)

	v, ok := mustGet(t, engine, "test-key")
	if !ok || !bytes.Equal(v, []byte("value1")) {
		t.Errorf("Expected value1, got %q (found=%v)", v, ok)
	}

	mustSet(t, engine, "test-key", []byte("value2"), time.Minute)

	v, ok = mustGet(t, engine, "test-key")
	if !ok || !bytes.Equal(v, []byte("value2")) {
		t.Errorf("Expected value2 after overwrite, got %q (found=%v)", v, ok)
	}

	if _, ok := mustGet(t, engine, "nonexistent-key"); ok {
		t.Errorf("Expected nonexistent key to return found=false")
	}
}

func testCopySemantics(t *testing.T, engine cache.Engine) {
	defer engine.Close()

	requireFeature(t, engine, cache.FeatureSet|cache.FeatureGet)

	in := []byte("original")
	mustSet(t, engine, "copy-key", in, time.Minute)
	in[0] = 'X'

	out, _ := mustGet(t, engine, "copy-key")
	if !bytes.Equal(out, []byte("original")) {
		t.Errorf("modifying the input slice changed the stored value: %q", out)
	}

	out[0] = 'Y'
	again, _ := mustGet(t, engine, "copy-key")
	if !bytes.Equal(again, []byte("original")) {
		t.Errorf("modifying the returned slice changed the stored value: %q", again)
	}
}

func testDelete(t *testing.T, engine cache.Engine) {
	defer engine.Close()

	requireFeature(t, engine, cache.FeatureSet|cache.FeatureGet|cache.FeatureDelete)

	ctx := context.Background()
	mustSet(t, engine, "del-key", []byte("v"), time.Minute)

	if err := engine.Delete(ctx, "del-key"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := mustGet(t, engine, "del-key"); ok {
		t.Errorf("Expected key to be gone after Delete")
	}

	if err := engine.Delete(ctx, "never-set"); err != nil {
		t.Errorf("Deleting a missing key should not fail: %v", err)
	}
}

func testTTL(t *testing.T, engine cache.Engine) {
	defer engine.Close()

	requireFeature(t, engine, cache.FeatureSet|cache.FeatureGet|cache.FeatureTTL)

	mustSet(t, engine, "short", []byte("v"), 50*time.Millisecond)
	mustSet(t, engine, "long", []byte("v"), time.Minute)

	if _, ok := mustGet(t, engine, "short"); !ok {
		t.Fatalf("Expected short-lived key to exist right after Set")
	}

	time.Sleep(200 * time.Millisecond)

	if _, ok := mustGet(t, engine, "short"); ok {
		t.Errorf("Expected short-lived key to be expired")
	}
	if _, ok := mustGet(t, engine, "long"); !ok {
		t.Errorf("Expected long-lived key to survive")
	}
}

func testOverwriteResetsTTL(t *testing.T, engine cache.Engine) {
	defer engine.Close()

	requireFeature(t, engine, cache.FeatureSet|cache.FeatureGet|cache.FeatureTTL)

	mustSet(t, engine, "k", []byte("old"), 50*time.Millisecond)
	mustSet(t, engine, "k", []byte("new"), time.Minute)

	time.Sleep(200 * time.Millisecond)

	v, ok := mustGet(t, engine, "k")
	if !ok || string(v) != "new" {
		t.Errorf("Expected the overwrite to carry its own ttl, got %q (found=%v)", v, ok)
	}
}

func testPurge(t *testing.T, engine cache.Engine) {
	defer engine.Close()

	requireFeature(t, engine, cache.FeatureSet|cache.FeatureGet|cache.FeaturePurge)

	for i := 0; i < 50; i++ {
		mustSet(t, engine, fmt.Sprintf("purge-%d", i), []byte("v"), time.Minute)
	}

	if err := engine.Purge(context.Background()); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}

	for i := 0; i < 50; i++ {
		if _, ok := mustGet(t, engine, fmt.Sprintf("purge-%d", i)); ok {
			t.Fatalf("Expected key purge-%d to be gone after Purge", i)
		}
	}

	mustSet(t, engine, "after-purge", []byte("v"), time.Minute)
	if _, ok := mustGet(t, engine, "after-purge"); !ok {
		t.Errorf("engine should accept writes after Purge")
	}
}

func testEdgeCases(t *testing.T, engine cache.Engine) {
	defer engine.Close()

	requireFeature(t, engine, cache.FeatureSet|cache.FeatureGet)

	t.Run("EmptyValue", func(t *testing.T) {
		mustSet(t, engine, "empty", []byte{}, time.Minute)
		v, ok := mustGet(t, engine, "empty")
		if !ok || len(v) != 0 {
			t.Errorf("Expected empty value to be stored, got %q (found=%v)", v, ok)
		}
	})

	t.Run("BinaryValue", func(t *testing.T) {
		bin := []byte{0x00, 0xff, 0x10, 0x00}
		mustSet(t, engine, "binary", bin, time.Minute)
		v, _ := mustGet(t, engine, "binary")
		if !bytes.Equal(v, bin) {
			t.Errorf("binary value was altered: %v", v)
		}
	})

	t.Run("LargeValue", func(t *testing.T) {
		large := bytes.Repeat([]byte("x"), 1<<20)
		mustSet(t, engine, "large", large, time.Minute)
		v, _ := mustGet(t, engine, "large")
		if len(v) != len(large) {
			t.Errorf("Expected %d bytes, got %d", len(large), len(v))
		}
	})

	t.Run("SimilarKeys", func(t *testing.T) {
		mustSet(t, engine, "find:{}", []byte("a"), time.Minute)
		mustSet(t, engine, "find:{} ", []byte("b"), time.Minute)
		a, _ := mustGet(t, engine, "find:{}")
		b, _ := mustGet(t, engine, "find:{} ")
		if string(a) != "a" || string(b) != "b" {
			t.Errorf("similar keys interfere: %q %q", a, b)
		}
	})
}

func testConcurrent(t *testing.T, engine cache.Engine) {
	defer engine.Close()

	requireFeature(t, engine, cache.FeatureSet|cache.FeatureGet)

	const workers = 8
	const perWorker = 200

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ctx := context.Background()
			for i := 0; i < perWorker; i++ {
				key := fmt.Sprintf("w%d-k%d", w, i)
				want := []byte(key)
				if err := engine.Set(ctx, key, want, time.Minute); err != nil {
					errs <- err
					return
				}
				got, ok, err := engine.Get(ctx, key)
				if err != nil || !ok || !bytes.Equal(got, want) {
					errs <- fmt.Errorf("read back %s: got %q found=%v err=%v", key, got, ok, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func testGetInfo(t *testing.T, engine cache.Engine) {
	defer engine.Close()

	for i := 0; i < 10; i++ {
		mustSet(t, engine, fmt.Sprintf("info-%d", i), []byte("value"), time.Minute)
	}

	info, err := engine.GetInfo(context.Background())
	if err != nil {
		t.Fatalf("GetInfo failed: %v", err)
	}
	if info.EngineType == "" {
		t.Errorf("Expected engine type to be set")
	}
	if info.Entries < 10 {
		t.Errorf("Expected at least 10 entries, got %d", info.Entries)
	}
	for _, f := range info.SupportedFeatures {
		if !engine.SupportsFeature(f) {
			t.Errorf("GetInfo lists %s but SupportsFeature denies it", f)
		}
	}
}

func testClosed(t *testing.T, engine cache.Engine) {
	if err := engine.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := engine.Set(context.Background(), "k", []byte("v"), time.Minute); err == nil {
		t.Errorf("Expected Set on a closed engine to fail")
	}
}
