package internal

import (
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/cache/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Events tell a shard's collector about new and removed deadlines
// --------------------------------------------------------------------------

type EventType int

const (
	EventTWrite EventType = iota
	EventTDelete
)

func (e EventType) String() string {
	switch e {
	case EventTWrite:
		return "Write"
	case EventTDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

type Event struct {
	Type EventType
	Key  util.UintKey
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Type: %s, Key: %d}", e.Type, e.Key)
}

// --------------------------------------------------------------------------
// Entry
// --------------------------------------------------------------------------

// Entry is a cached value. Key keeps the unhashed key so two keys that hash
// to the same slot never read each other's value.
type Entry struct {
	Key      string
	Value    []byte
	ExpireAt uint64 // millisecond tick, 0 = never
}

// Expired reports whether the entry is past its deadline at tick now
func (e Entry) Expired(now uint64) bool {
	return e.ExpireAt != 0 && now >= e.ExpireAt
}

// --------------------------------------------------------------------------
// Shard
// --------------------------------------------------------------------------

// Shard is a partition of the cache with its own map and collector state.
// Expiry is only touched by the shard's collector goroutine.
type Shard struct {
	Data   *xsync.MapOf[util.UintKey, Entry]
	Expiry *util.ExpiryHeap
	Events *util.EventQueue[Event]
}

func NewShard(hasher func(util.UintKey, uint64) uint64) *Shard {
	return &Shard{
		Data:   xsync.NewMapOfWithHasher[util.UintKey, Entry](hasher),
		Expiry: util.NewExpiryHeap(),
		Events: util.NewEventQueue[Event](), // closing it stops the shard's collector
	}
}

// GetShard returns the shard responsible for key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](key util.UintKey, shards []*T) *T {
	// the low bits are used by xsync inside the shard
	return shards[(uint64(key)>>7)%uint64(len(shards))]
}
