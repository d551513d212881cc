// Package testing provides standardised tests and benchmarks for
// document stores that satisfy the db.Collection interface.
//
// The package contains:
//   - testing: A conformance suite covering queries, projections, sorting,
//     writes, upserts, aggregation and concurrent access
//   - benchmark: Throughput of common operations on a seeded collection
//
// Every test calls the factory for a fresh collection, empties it with
// DeleteMany when the test ends and closes it. Tests for features an engine
// does not report through SupportsFeature are skipped.
//
// Example usage:
//
//	factory := func() db.Collection {
//		return memory.New("test", "people")
//	}
//
//	dbtesting.RunCollectionTests(t, "Memory", factory)
//	dbtesting.RunCollectionBenchmarks(b, "Memory", factory)
package testing
