package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random seed for the per-instance key hashing
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// fall back to the current time, only if the system random source fails
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// UintKey is the internal (hashed) representation of a cache key
type UintKey uint64

// HashString hashes a string with a seed using FNV-1a
func HashString(s string, seed uint64) UintKey {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	hash := uint64(offset64) ^ seed
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= prime64
	}

	return UintKey(hash)
}

// --------------------------------------------------------------------------
// Clock
// --------------------------------------------------------------------------

// Clock returns the current time. Engines take a Clock so tests can move time.
type Clock func() time.Time

// SystemClock is the default Clock
func SystemClock() time.Time {
	return time.Now()
}

// ToMillis converts a time to the millisecond tick used as expiry index
func ToMillis(t time.Time) uint64 {
	ms := t.UnixMilli()
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}
