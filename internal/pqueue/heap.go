// Package pqueue implements the quaternary (branching factor 4) priority
// heap at the core of reqflow's scheduling. Ordering is by (priority,
// sequence) so that items of equal priority are dequeued in the order they
// were enqueued.
package pqueue

import "sync"

const arity = 4

// Item is the payload of a single heap slot. Sequence is assigned by the
// queue on Enqueue and is never reused; it is exported so the owning
// channel/container can use it as an identity for TryRemove.
type Item[T any] struct {
	Priority float64
	Sequence uint64
	Value    T
}

// Queue is a thread-safe 4-ary min-heap over Item[T], ordered by
// (Priority, Sequence). A single mutex guards the backing slice and the
// sequence counter, matching the teacher's single-mutex-per-resource style.
type Queue[T any] struct {
	mu   sync.Mutex
	data []Item[T]
	seq  uint64
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

// Enqueue inserts value at the given priority and returns the assigned
// sequence number.
func (q *Queue[T]) Enqueue(priority float64, value T) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	seq := q.seq
	q.data = append(q.data, Item[T]{Priority: priority, Sequence: seq, Value: value})
	q.siftUp(len(q.data) - 1)
	return seq
}

// TryDequeue removes and returns the minimum item. ok is false if the
// queue is empty.
func (q *Queue[T]) TryDequeue() (item Item[T], ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return Item[T]{}, false
	}
	top := q.data[0]
	last := len(q.data) - 1
	q.data[0] = q.data[last]
	q.data = q.data[:last]
	if len(q.data) > 0 {
		q.siftDown(0)
	}
	return top, true
}

// Peek returns the minimum item without removing it.
func (q *Queue[T]) Peek() (item Item[T], ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return Item[T]{}, false
	}
	return q.data[0], true
}

// TryRemove removes the first item whose Sequence matches seq. Reports
// whether an item was removed.
func (q *Queue[T]) TryRemove(seq uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := -1
	for i := range q.data {
		if q.data[i].Sequence == seq {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	last := len(q.data) - 1
	q.data[idx] = q.data[last]
	q.data = q.data[:last]
	if idx < len(q.data) {
		q.siftDown(idx)
		q.siftUp(idx)
	}
	return true
}

// Contains reports whether an item with the given sequence is present.
func (q *Queue[T]) Contains(seq uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.data {
		if q.data[i].Sequence == seq {
			return true
		}
	}
	return false
}

// ToSlice returns a snapshot of the queue in heap order (not sorted order).
func (q *Queue[T]) ToSlice() []Item[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item[T], len(q.data))
	copy(out, q.data)
	return out
}

// IsValid verifies the heap property: every parent key is <= each of its
// children's keys. Intended for tests and debug assertions.
func (q *Queue[T]) IsValid() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.data {
		for c := arity*i + 1; c <= arity*i+arity && c < len(q.data); c++ {
			if less(q.data[c], q.data[i]) {
				return false
			}
		}
	}
	return true
}

func less[T any](a, b Item[T]) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Sequence < b.Sequence
}

func (q *Queue[T]) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / arity
		if !less(q.data[i], q.data[parent]) {
			break
		}
		q.data[i], q.data[parent] = q.data[parent], q.data[i]
		i = parent
	}
}

func (q *Queue[T]) siftDown(i int) {
	n := len(q.data)
	for {
		smallest := i
		first := arity*i + 1
		for c := first; c < first+arity && c < n; c++ {
			if less(q.data[c], q.data[smallest]) {
				smallest = c
			}
		}
		if smallest == i {
			return
		}
		q.data[i], q.data[smallest] = q.data[smallest], q.data[i]
		i = smallest
	}
}
