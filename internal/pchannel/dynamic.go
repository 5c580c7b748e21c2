package pchannel

import (
	"context"
	"sync"

	"github.com/reqflow/reqflow/internal/pqueue"
	"github.com/reqflow/reqflow/internal/token"
)

// DynamicChannel is a Channel backed by the quaternary priority heap. The
// writer side always accepts (until completed); the reader side blocks on
// a notify signal when the queue is empty and the channel is not yet
// completed, exactly the "wait-to-read" contract in the design doc.
type DynamicChannel[T any] struct {
	q    *pqueue.Queue[T]
	DoP  *DoPController
	opts Options

	mu        sync.Mutex
	completed bool
	notify    chan struct{} // closed and replaced whenever an item becomes visible or the channel completes
}

// NewDynamic constructs a DynamicChannel with the given options.
func NewDynamic[T any](opts Options) *DynamicChannel[T] {
	return &DynamicChannel[T]{
		q:      pqueue.New[T](),
		DoP:    newDoPController(opts.InitialMaxDegreeOfParallelism),
		opts:   opts,
		notify: make(chan struct{}),
	}
}

func (c *DynamicChannel[T]) wake() {
	c.mu.Lock()
	old := c.notify
	c.notify = make(chan struct{})
	c.mu.Unlock()
	close(old)
}

// Write enqueues item at priority, blocking is never required since the
// backing heap is unbounded; it only fails once the channel is completed.
func (c *DynamicChannel[T]) Write(priority float64, item T) (Ticket, error) {
	t, ok := c.TryWrite(priority, item)
	if !ok {
		return Ticket{}, ErrCompleted
	}
	return t, nil
}

// TryWrite is the non-blocking variant of Write.
func (c *DynamicChannel[T]) TryWrite(priority float64, item T) (Ticket, bool) {
	c.mu.Lock()
	if c.completed {
		c.mu.Unlock()
		return Ticket{}, false
	}
	c.mu.Unlock()
	seq := c.q.Enqueue(priority, item)
	c.wake()
	return Ticket{seq: seq}, true
}

// TryRead returns the minimum-priority item without blocking.
func (c *DynamicChannel[T]) TryRead() (T, bool) {
	item, ok := c.q.TryDequeue()
	if !ok {
		var zero T
		return zero, false
	}
	return item.Value, true
}

// Read blocks until an item is available, the channel is completed and
// drained, or ctx is done.
func (c *DynamicChannel[T]) Read(ctx context.Context) (T, error) {
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
			// loop: re-check queue/completion state.
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// WaitToRead blocks until an item is visible (true) or the channel has
// drained and completed (false). Returns an error only on ctx cancellation.
func (c *DynamicChannel[T]) WaitToRead(ctx context.Context) (bool, error) {
	for {
		if item, ok := c.q.Peek(); ok {
			_ = item
			return true, nil
		}
		c.mu.Lock()
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

// TryComplete marks the channel completed. Idempotent; returns true the
// first time it transitions the channel, false on subsequent calls.
func (c *DynamicChannel[T]) TryComplete() bool {
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

// TryRemove best-effort removes a previously written, still-queued item.
func (c *DynamicChannel[T]) TryRemove(t Ticket) bool {
	return c.q.TryRemove(t.seq)
}

// Len reports the number of items currently queued.
func (c *DynamicChannel[T]) Len() int {
	return c.q.Len()
}

// DegreeOfParallelism returns the controller tracking this channel's
// max-worker setting.
func (c *DynamicChannel[T]) DegreeOfParallelism() *DoPController {
	return c.DoP
}

var _ Channel[struct{}] = (*DynamicChannel[struct{}])(nil)

// linkedCancel exposes the channel's configured cancel token, used by
// dispatchers that want to race a single select against both the channel's
// own scope and their own.
func (c *DynamicChannel[T]) linkedCancel() *token.CancelToken {
	return c.opts.CancelToken
}
