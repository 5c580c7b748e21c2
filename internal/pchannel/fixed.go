package pchannel

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
)

type fixedElem[T any] struct {
	seq   uint64
	value T
}

// FixedChannel is a Channel backed by N dense integer-indexed FIFO buckets.
// It avoids heap bookkeeping entirely when priorities are known to be small
// contiguous integers. A write whose priority (truncated to int) falls
// outside [0, buckets) is rejected with ErrInvalidPriority, per the spec's
// resolution of the bucket-overflow open question.
type FixedChannel[T any] struct {
	DoP  *DoPController
	opts Options

	mu        sync.Mutex
	buckets   []*list.List
	completed bool
	notify    chan struct{}
	seq       uint64
}

// NewFixed constructs a FixedChannel with the given number of priority
// buckets (indices 0..buckets-1, 0 = highest priority).
func NewFixed[T any](buckets int, opts Options) *FixedChannel[T] {
	if buckets <= 0 {
		buckets = 1
	}
	bs := make([]*list.List, buckets)
	for i := range bs {
		bs[i] = list.New()
	}
	return &FixedChannel[T]{
		DoP:     newDoPController(opts.InitialMaxDegreeOfParallelism),
		opts:    opts,
		buckets: bs,
		notify:  make(chan struct{}),
	}
}

func (c *FixedChannel[T]) wake() {
	c.mu.Lock()
	old := c.notify
	c.notify = make(chan struct{})
	c.mu.Unlock()
	close(old)
}

// Write enqueues item into the bucket indexed by int(priority).
func (c *FixedChannel[T]) Write(priority float64, item T) (Ticket, error) {
	t, ok := c.TryWrite(priority, item)
	if !ok {
		c.mu.Lock()
		completed := c.completed
		c.mu.Unlock()
		if completed {
			return Ticket{}, ErrCompleted
		}
		return Ticket{}, ErrInvalidPriority
	}
	return t, nil
}

// TryWrite is the non-blocking variant of Write.
func (c *FixedChannel[T]) TryWrite(priority float64, item T) (Ticket, bool) {
	idx := int(priority)
	c.mu.Lock()
	if c.completed {
		c.mu.Unlock()
		return Ticket{}, false
	}
	if idx < 0 || idx >= len(c.buckets) {
		c.mu.Unlock()
		return Ticket{}, false
	}
	seq := atomic.AddUint64(&c.seq, 1)
	c.buckets[idx].PushBack(fixedElem[T]{seq: seq, value: item})
	c.mu.Unlock()
	c.wake()
	return Ticket{seq: seq}, true
}

// TryRead scans buckets from index 0 upward and returns the first
// available item.
func (c *FixedChannel[T]) TryRead() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.buckets {
		if e := b.Front(); e != nil {
			b.Remove(e)
			return e.Value.(fixedElem[T]).value, true
		}
	}
	var zero T
	return zero, false
}

// Read blocks until an item is available, the channel is completed and
// drained, or ctx is done.
func (c *FixedChannel[T]) Read(ctx context.Context) (T, error) {
	for {
		if v, ok := c.TryRead(); ok {
			return v, nil
		}
		c.mu.Lock()
		if c.completed {
			c.mu.Unlock()
			var zero T
			return zero, ErrCompleted
		}
		waitCh := c.notify
		c.mu.Unlock()

		select {
		case <-waitCh:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// WaitToRead blocks until an item is visible (true) or the channel has
// drained and completed (false).
func (c *FixedChannel[T]) WaitToRead(ctx context.Context) (bool, error) {
	for {
		c.mu.Lock()
		for _, b := range c.buckets {
			if b.Len() > 0 {
				c.mu.Unlock()
				return true, nil
			}
		}
		if c.completed {
			c.mu.Unlock()
			return false, nil
		}
		waitCh := c.notify
		c.mu.Unlock()

		select {
		case <-waitCh:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// TryComplete marks the channel completed. Idempotent.
func (c *FixedChannel[T]) TryComplete() bool {
	c.mu.Lock()
	if c.completed {
		c.mu.Unlock()
		return false
	}
	c.completed = true
	c.mu.Unlock()
	c.wake()
	return true
}

// TryRemove best-effort removes a previously written, still-queued item by
// scanning all buckets for a matching sequence number.
func (c *FixedChannel[T]) TryRemove(t Ticket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.buckets {
		for e := b.Front(); e != nil; e = e.Next() {
			if e.Value.(fixedElem[T]).seq == t.seq {
				b.Remove(e)
				return true
			}
		}
	}
	return false
}

// Len reports the total number of items currently queued across buckets.
func (c *FixedChannel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.buckets {
		n += b.Len()
	}
	return n
}

// DegreeOfParallelism returns the controller tracking this channel's
// max-worker setting.
func (c *FixedChannel[T]) DegreeOfParallelism() *DoPController {
	return c.DoP
}

var _ Channel[struct{}] = (*FixedChannel[struct{}])(nil)
