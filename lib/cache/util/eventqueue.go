// Package util
//
// This file provides an unbounded multi-producer single-consumer queue.
//
// Producers append to an intrusive linked list by atomically swapping the
// tail pointer, so Push never takes a lock and never blocks. A single
// forwarding goroutine owns the head of the list and delivers values on the
// channel returned by Recv. Values pushed by the same goroutine are delivered
// in order; values from different goroutines are interleaved in the order the
// tail swaps happened.
//
// After Close, Push is rejected and the Recv channel is closed once every
// accepted value has been delivered.
package util

import (
	"sync/atomic"
)

type qnode[T any] struct {
	value T
	next  atomic.Pointer[qnode[T]]
}

// EventQueue is an unbounded MPSC queue
type EventQueue[T any] struct {
	tail   atomic.Pointer[qnode[T]]
	head   *qnode[T] // owned by the forwarding goroutine
	out    chan T
	wake   chan struct{}
	closed atomic.Bool
}

// NewEventQueue creates a queue and starts its forwarding goroutine
func NewEventQueue[T any]() *EventQueue[T] {
	stub := &qnode[T]{}
	q := &EventQueue[T]{
		head: stub,
		out:  make(chan T),
		wake: make(chan struct{}, 1),
	}
	q.tail.Store(stub)

	go q.forward()
	return q
}

// Push appends a value. Returns false if the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *EventQueue[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}

	n := &qnode[T]{value: value}
	prev := q.tail.Swap(n)
	prev.next.Store(n)

	q.signal()
	return true
}

// Recv returns the channel values are delivered on
func (q *EventQueue[T]) Recv() <-chan T {
	return q.out
}

// Close rejects further pushes. Pending values are still delivered.
func (q *EventQueue[T]) Close() {
	if q.closed.CompareAndSwap(false, true) {
		q.signal()
	}
}

// IsClosed reports whether Close was called
func (q *EventQueue[T]) IsClosed() bool {
	return q.closed.Load()
}

func (q *EventQueue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop removes the oldest linked value. A producer that swapped the tail but
// has not linked its node yet is invisible until it does.
func (q *EventQueue[T]) pop() (T, bool) {
	next := q.head.next.Load()
	if next == nil {
		var zero T
		return zero, false
	}
	q.head = next

	v := next.value
	var zero T
	next.value = zero
	return v, true
}

func (q *EventQueue[T]) forward() {
	defer close(q.out)

	for {
		for {
			v, ok := q.pop()
			if !ok {
				break
			}
			q.out <- v
		}

		if q.closed.Load() {
			// one last pass for producers that passed the closed check before Close
			for {
				v, ok := q.pop()
				if !ok {
					return
				}
				q.out <- v
			}
		}

		<-q.wake
	}
}
