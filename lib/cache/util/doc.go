// Package util holds the building blocks of the cache engines: key hashing,
// the expiry heap and event queue that drive garbage collection, and the
// sampled statistics reported by GetInfo.
package util
