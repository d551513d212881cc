// Package testing provides a conformance suite and benchmarks for cache.Engine
// implementations.
//
// Engine packages call the suite from their own tests:
//
//	func Test(t *testing.T) {
//	    cachetesting.RunEngineTests(t, "MapleCache", func() cache.Engine {
//	        return NewMapleCache(nil)
//	    })
//	}
//
// Tests for features an engine does not report via SupportsFeature are skipped.
package testing
