// Package maple implements an in-process cache.Engine built for many
// concurrent readers and writers.
//
// Key Components:
//
//   - mapleCache: implements cache.Engine. String keys are hashed with a per
//     instance seed and spread over shards. Each shard is an xsync.MapOf, so
//     reads and writes on different keys rarely contend.
//
//   - Entry: value bytes, the unhashed key and the expiry deadline as a
//     millisecond tick. The unhashed key is compared on every read, so a hash
//     collision overwrites the older entry instead of returning a foreign value.
//
//   - Collector: one goroutine per shard. Writes with a ttl push an event on
//     the shard's util.EventQueue; the collector moves the deadline into the
//     shard's util.ExpiryHeap and periodically removes entries whose deadline
//     has passed. Deletes cancel the deadline.
//
// Get checks the deadline itself, so an entry is never returned after its ttl
// even when the collector lags behind. The clock is injectable (Options.Clock)
// to make expiry testable without sleeping.
//
// Values are copied on Set and Get. Callers may modify the slices they pass in
// or receive.
package maple
