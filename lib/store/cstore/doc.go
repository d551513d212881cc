// Package cstore implements store.IStore on top of a db.Collection with
// per-call result caching.
//
// Every operation is memoized with cache.Memoize. The cache key is built
// from the operation name and a canonical serialization of its filter,
// data, field or pipeline and all options except the TTL, so equal calls
// share a cache entry no matter the map order of their arguments. A TTL of
// zero bypasses the cache. Reads default to store.DefaultReadTTL, writes to
// store.DefaultWriteTTL (no caching). Writes do not invalidate cached reads.
//
// Find excludes _id by merging {_id: 0} into the caller's projection unless
// store.WithID is given or the caller's projection mentions _id itself.
//
// Open chooses the engine by url scheme:
//
//	mongodb://, mongodb+srv://   MongoDB driver (lib/db/engines/mongo)
//	memory://                    in-process collection (lib/db/engines/memory)
//
// Each operation records its latency in the ddoc_store_duration_seconds
// histogram and failures in ddoc_store_errors_total, labeled by operation.
//
// Thread-safety: a store may be used by any number of goroutines. It holds no
// state besides the collection handle and the memoizer.
package cstore
