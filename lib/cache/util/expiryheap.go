// Package util
//
// This file provides the expiry queue used by the cache garbage collector.
//
// The ExpiryHeap is a min-heap ordered by deadline combined with a map from
// key to heap slot. The map gives O(1) membership checks and O(log n) removal
// by key, which the collector needs when an entry is overwritten or deleted
// before its deadline is reached.
//
// The heap is not safe for concurrent use. Each cache shard owns one heap that
// is only touched by the shard's collector goroutine.
//
// Example usage:
//
//	h := NewExpiryHeap()
//	h.Schedule(1001, deadline1)
//	h.Schedule(1002, deadline2)
//
//	for {
//	    next, ok := h.Peek()
//	    if !ok || next.Deadline > now {
//	        break
//	    }
//	    h.Cancel(next.Key)
//	    // evict next.Key
//	}
package util

import (
	"container/heap"
	"strconv"
)

// Deadline is a scheduled expiry of a single key
type Deadline struct {
	Key      uint64 // hashed cache key
	Deadline uint64 // millisecond tick at which the key expires
	index    int    // slot in the heap, maintained by container/heap
}

func (d *Deadline) String() string {
	return "{Key: " + strconv.FormatUint(d.Key, 10) + ", Deadline: " + strconv.FormatUint(d.Deadline, 10) + "}"
}

// ExpiryHeap is a deadline ordered queue with key based access
type ExpiryHeap struct {
	slots []*Deadline
	byKey map[uint64]*Deadline
}

// NewExpiryHeap creates an empty heap
func NewExpiryHeap() *ExpiryHeap {
	return &ExpiryHeap{
		slots: make([]*Deadline, 0),
		byKey: make(map[uint64]*Deadline),
	}
}

// --------------------------------------------------------------------------
// heap.Interface
// --------------------------------------------------------------------------

func (h *ExpiryHeap) Len() int { return len(h.slots) }

func (h *ExpiryHeap) Less(i, j int) bool {
	return h.slots[i].Deadline < h.slots[j].Deadline
}

func (h *ExpiryHeap) Swap(i, j int) {
	h.slots[i], h.slots[j] = h.slots[j], h.slots[i]
	h.slots[i].index = i
	h.slots[j].index = j
}

func (h *ExpiryHeap) Push(x interface{}) {
	d := x.(*Deadline)
	d.index = len(h.slots)
	h.slots = append(h.slots, d)
	h.byKey[d.Key] = d
}

func (h *ExpiryHeap) Pop() interface{} {
	old := h.slots
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	d.index = -1
	h.slots = old[:n-1]
	delete(h.byKey, d.Key)
	return d
}

// --------------------------------------------------------------------------
// Key based operations
// --------------------------------------------------------------------------

// Schedule adds a deadline for key or moves the existing one
func (h *ExpiryHeap) Schedule(key, deadline uint64) {
	if d, ok := h.byKey[key]; ok {
		d.Deadline = deadline
		heap.Fix(h, d.index)
		return
	}
	heap.Push(h, &Deadline{Key: key, Deadline: deadline})
}

// Cancel removes the deadline of key. Returns the removed deadline.
func (h *ExpiryHeap) Cancel(key uint64) (uint64, bool) {
	d, ok := h.byKey[key]
	if !ok {
		return 0, false
	}
	heap.Remove(h, d.index)
	return d.Deadline, true
}

// Peek returns the earliest deadline without removing it
func (h *ExpiryHeap) Peek() (Deadline, bool) {
	if len(h.slots) == 0 {
		return Deadline{}, false
	}
	return *h.slots[0], true
}

// Contains reports whether key has a scheduled deadline
func (h *ExpiryHeap) Contains(key uint64) bool {
	_, ok := h.byKey[key]
	return ok
}

// Reset drops all scheduled deadlines
func (h *ExpiryHeap) Reset() {
	h.slots = h.slots[:0]
	h.byKey = make(map[uint64]*Deadline)
}
