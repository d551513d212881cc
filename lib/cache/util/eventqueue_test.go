package util

import (
	"sync"
	"testing"
	"time"
)

func TestEventQueueDeliversInOrder(t *testing.T) {
	q := NewEventQueue[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		if !q.Push(i) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case v := <-q.Recv():
			if v != i {
				t.Errorf("Expected %d, got %d", i, v)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	select {
	case v := <-q.Recv():
		t.Errorf("Queue should be empty, but got %d", v)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestEventQueueConcurrentProducers(t *testing.T) {
	q := NewEventQueue[int]()
	defer q.Close()

	const producers = 8
	const perProducer = 1000

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(base*perProducer + i)
			}
		}(p)
	}

	seen := make(map[int]bool, producers*perProducer)
	lastPerProducer := make(map[int]int)
	for len(seen) < producers*perProducer {
		select {
		case v := <-q.Recv():
			if seen[v] {
				t.Fatalf("duplicate item %d", v)
			}
			seen[v] = true

			p := v / perProducer
			if last, ok := lastPerProducer[p]; ok && v < last {
				t.Fatalf("items of producer %d out of order: %d after %d", p, v, last)
			}
			lastPerProducer[p] = v
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout, received %d of %d items", len(seen), producers*perProducer)
		}
	}
	wg.Wait()
}

func TestEventQueueCloseDrainsPending(t *testing.T) {
	q := NewEventQueue[string]()

	q.Push("a")
	q.Push("b")
	q.Close()

	if q.Push("c") {
		t.Errorf("Push after Close should be rejected")
	}
	if !q.IsClosed() {
		t.Errorf("IsClosed should report true")
	}

	var got []string
	timeout := time.After(time.Second)
	for {
		select {
		case v, ok := <-q.Recv():
			if !ok {
				if len(got) != 2 || got[0] != "a" || got[1] != "b" {
					t.Errorf("expected [a b] before close, got %v", got)
				}
				return
			}
			got = append(got, v)
		case <-timeout:
			t.Fatal("channel was not closed after Close")
		}
	}
}
