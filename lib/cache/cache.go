package cache

import (
	"context"
	"errors"
	"time"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple Implementation = "maple"
	ImplRedis Implementation = "redis"
)

// Feature represents cache engine features as bit flags
type Feature uint64

const (
	FeatureSet     Feature = 1 << iota // Support for Set operations
	FeatureGet                         // Support for Get operations
	FeatureDelete                      // Support for Delete operations
	FeaturePurge                       // Support for Purge operations
	FeatureTTL                         // Entries expire after their ttl
	FeatureShared                      // Entries are visible to other processes
)

func (f Feature) String() string {
	switch f {
	case FeatureSet:
		return "Set"
	case FeatureGet:
		return "Get"
	case FeatureDelete:
		return "Delete"
	case FeaturePurge:
		return "Purge"
	case FeatureTTL:
		return "TTL"
	case FeatureShared:
		return "Shared"
	default:
		return "Unknown"
	}
}

type Info struct {
	SizeBytes         int            `json:"size_bytes"`
	Entries           int            `json:"entries"`
	EngineType        Implementation `json:"engine_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// ErrClosed is returned by engines after Close
var ErrClosed = errors.New("cache: engine closed")

// --------------------------------------------------------------------------
// Engine Interface
// --------------------------------------------------------------------------

// Engine is a byte-transparent key-value store with per-entry expiry.
// Engines never interpret values. Implementations must be safe for
// concurrent use.
type Engine interface {

	// Set stores value under key. The entry is not returned by Get once ttl
	// has elapsed. A later Set for the same key replaces the entry and its ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns a copy of the value stored under key. found is false for
	// missing and expired entries.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Delete removes the entry for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Purge removes all entries of this engine
	Purge(ctx context.Context) error

	// SupportsFeature checks if the engine supports all given features.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) bool

	// GetInfo returns information about the engine
	GetInfo(ctx context.Context) (Info, error)

	// Close releases the engine's resources
	Close() error
}
