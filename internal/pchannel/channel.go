// Package pchannel provides channel-shaped facades over a priority queue:
// a Dynamic variant backed by the quaternary heap in internal/pqueue, and a
// Fixed variant backed by dense integer-indexed FIFO buckets. Both satisfy
// the Channel interface so dispatchers can be written against either.
package pchannel

import (
	"context"
	"errors"
	"sync"

	"github.com/reqflow/reqflow/internal/token"
)

// ErrCompleted is returned by writes after TryComplete, and by reads once
// the channel has been completed and fully drained.
var ErrCompleted = errors.New("pchannel: channel completed")

// ErrInvalidPriority is returned by FixedChannel.Write when the priority
// index falls outside the configured bucket range.
var ErrInvalidPriority = errors.New("pchannel: priority out of range")

// Ticket identifies a previously written item for TryRemove.
type Ticket struct {
	seq uint64
}

// Channel is the shared contract implemented by DynamicChannel and
// FixedChannel.
type Channel[T any] interface {
	Write(priority float64, item T) (Ticket, error)
	TryWrite(priority float64, item T) (Ticket, bool)
	Read(ctx context.Context) (T, error)
	TryRead() (T, bool)
	TryComplete() bool
	TryRemove(t Ticket) bool
	WaitToRead(ctx context.Context) (bool, error)
	Len() int
	// DegreeOfParallelism returns the shared controller tracking this
	// channel's max-worker setting, so a dispatcher can stay agnostic to
	// which concrete backend it is reading from.
	DegreeOfParallelism() *DoPController
}

// Options configures the degree-of-parallelism bookkeeping and the
// pause/cancel scopes shared between a channel and the dispatcher(s)
// reading from it.
type Options struct {
	// PauseToken, if set, is the dispatcher's external pause switch;
	// surfaced here only so WaitToRead can participate in wait_while_paused
	// composition if a caller wants to block on both at once.
	PauseToken *token.PauseToken
	// CancelToken links the channel's lifetime to a broader cancellation
	// scope (e.g. the owning handler's cancel token).
	CancelToken *token.CancelToken
	// InitialMaxDegreeOfParallelism seeds the dispatcher-facing DoP value.
	InitialMaxDegreeOfParallelism int
}

// DoPController tracks a mutable max-degree-of-parallelism value and emits
// signed deltas so a dispatcher reading from it knows exactly how many
// workers to spawn or retire, without ever needing to re-read the absolute
// value and race a concurrent update.
type DoPController struct {
	mu     sync.Mutex
	value  int
	deltas chan int
}

func newDoPController(initial int) *DoPController {
	if initial <= 0 {
		initial = 1
	}
	return &DoPController{value: initial, deltas: make(chan int, 64)}
}

// Value returns the current max degree of parallelism.
func (d *DoPController) Value() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value
}

// Set updates the max degree of parallelism, pushing delta = new-old onto
// the delta stream for subscribed dispatchers.
func (d *DoPController) Set(n int) {
	if n <= 0 {
		n = 1
	}
	d.mu.Lock()
	delta := n - d.value
	d.value = n
	d.mu.Unlock()
	if delta != 0 {
		select {
		case d.deltas <- delta:
		default:
			// channel is a bounded best-effort hint; a dispatcher that is
			// not currently listening will pick up the net effect the next
			// time it calls Value().
		}
	}
}

// Deltas returns the channel of pending +/-k worker adjustments.
func (d *DoPController) Deltas() <-chan int {
	return d.deltas
}
