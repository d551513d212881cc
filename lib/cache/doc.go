// Package cache provides the result cache used by the document store.
//
// The package has two layers:
//
//   - Engine: a byte-transparent key-value store with per-entry expiry.
//     Two implementations exist, engines/maple (in-process, sharded) and
//     engines/redis (shared between processes).
//
//   - Memoizer: wraps an Engine and memoizes operation results. A call is
//     identified by its operation name and arguments; results are stored as
//     BSON together with the full call identity so aliasing hashed keys are
//     detected as misses.
//
// Usage:
//
//	memo := cache.NewMemoizer("posts", maple.NewMapleCache(nil))
//	docs, err := cache.Memoize(ctx, memo, "find", args, time.Hour, func(ctx context.Context) ([]bson.M, error) {
//	    return collection.Find(ctx, filter, opts)
//	})
//
// A ttl of zero bypasses the cache. Failed calls are never stored, and a
// failing engine only costs a live call. The engine errors are logged.
package cache
