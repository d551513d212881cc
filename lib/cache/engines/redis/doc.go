// Package redis implements cache.Engine on top of a redis server
// (github.com/redis/go-redis/v9).
//
// Entries are plain redis strings with a native expiry (SET key value PX ttl),
// so several dDoc processes pointing at the same server share one cache. All
// keys are namespaced by a prefix; Purge and GetInfo only touch keys under
// that prefix, using SCAN so large key spaces never block the server.
package redis
