package reqflow

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// containerPrecedence is the order in which member states dominate the
// aggregate state of a Container, most dominant first.
var containerPrecedence = []RequestState{
	StateFailed,
	StateRunning,
	StateCancelled,
	StateIdle,
	StateWaiting,
	StateCompleted,
	StatePaused,
}

// Container holds a dynamic, ordered collection of Requests, subscribes to
// every member's state changes, and exposes a single aggregate Request view
// over the whole collection. It is itself a Request, so containers nest.
type Container[T Request] struct {
	mu      sync.RWMutex
	members []T
	unsubs  map[string]func()

	writing atomic.Bool
	machine *StateMachine

	doneMu  sync.Mutex
	doneCh  chan struct{}
	batchID uuid.UUID

	subsMu  sync.Mutex
	subs    map[int]func(RequestState)
	subsNum int
}

// NewContainer returns an empty Container. An empty container reports Idle
// and an already-closed Done channel.
func NewContainer[T Request]() *Container[T] {
	c := &Container[T]{unsubs: make(map[string]func())}
	c.machine = NewContainerStateMachine(StateIdle, func(_, to RequestState) { c.notifySubs(to) })
	c.doneCh = closedChan()
	c.batchID = uuid.New()
	return c
}

// Subscribe registers fn for synchronous notification on every aggregate
// state transition of the container.
func (c *Container[T]) Subscribe(fn func(RequestState)) (unsubscribe func()) {
	c.subsMu.Lock()
	if c.subs == nil {
		c.subs = make(map[int]func(RequestState))
	}
	id := c.subsNum
	c.subsNum++
	c.subs[id] = fn
	c.subsMu.Unlock()
	return func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

func (c *Container[T]) notifySubs(to RequestState) {
	c.subsMu.Lock()
	fns := make([]func(RequestState), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subsMu.Unlock()
	for _, fn := range fns {
		fn(to)
	}
}

func (c *Container[T]) ID() string          { return c.batchID.String() }
func (c *Container[T]) State() RequestState { return c.machine.State() }
func (c *Container[T]) Priority() Priority  { return PriorityNormal }
func (c *Container[T]) AttemptCount() int   { return 0 }
func (c *Container[T]) HasCompleted() bool  { return c.State() == StateCompleted }

// Done resolves when every member known at the time of the call has
// reached a terminal state. Adding members after Done is read replaces the
// channel returned by subsequent calls with one tied to the new, larger
// batch.
func (c *Container[T]) Done() <-chan struct{} {
	c.doneMu.Lock()
	defer c.doneMu.Unlock()
	return c.doneCh
}

func (c *Container[T]) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var errs []error
	for _, m := range c.members {
		if err := m.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &AggregateError{Errs: errs}
}

// Start, Pause and Cancel fan out to every current member.
func (c *Container[T]) Start() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.members {
		if err := m.Start(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Container[T]) Pause() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.members {
		m.Pause()
	}
}

func (c *Container[T]) Cancel() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.members {
		m.Cancel()
	}
}

// Dispose unsubscribes from every member without altering member state.
func (c *Container[T]) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = make(map[string]func())
}

// TrySetIdle forces every member idle, per the "all members idle
// afterwards" semantics adopted for containers (see DESIGN.md), and always
// reports success.
func (c *Container[T]) TrySetIdle() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.members {
		m.TrySetIdle()
	}
	return true
}

func (c *Container[T]) TrySetSubsequent(other Request) error {
	return ErrInvalidArgument
}

func (c *Container[T]) Yield(ctx context.Context) error { return nil }

// Add appends r to the container, subscribes to its state changes, and
// recomputes the aggregate state and current-batch completion channel.
// Returns ErrContainerBusy if another structural mutation is in flight.
func (c *Container[T]) Add(r T) error {
	return c.AddRange([]T{r})
}

// AddRange appends rs atomically with respect to other structural
// mutations.
func (c *Container[T]) AddRange(rs []T) error {
	if !c.writing.CompareAndSwap(false, true) {
		return ErrContainerBusy
	}
	defer c.writing.Store(false)

	c.mu.Lock()
	for _, r := range rs {
		unsub := r.Subscribe(func(RequestState) { c.recompute() })
		c.unsubs[r.ID()] = unsub
		c.members = append(c.members, r)
	}
	snapshot := append([]T(nil), c.members...)
	c.mu.Unlock()

	c.recompute()
	c.rebuildBatch(snapshot)
	return nil
}

// Remove drops r from the container, detaching its subscription. Returns
// false if r was not a member.
func (c *Container[T]) Remove(r T) (bool, error) {
	if !c.writing.CompareAndSwap(false, true) {
		return false, ErrContainerBusy
	}
	defer c.writing.Store(false)

	c.mu.Lock()
	idx := -1
	for i, m := range c.members {
		if m.ID() == r.ID() {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return false, nil
	}
	if unsub, ok := c.unsubs[r.ID()]; ok {
		unsub()
		delete(c.unsubs, r.ID())
	}
	c.members = append(c.members[:idx], c.members[idx+1:]...)
	snapshot := append([]T(nil), c.members...)
	c.mu.Unlock()

	c.recompute()
	c.rebuildBatch(snapshot)
	return true, nil
}

// Replace swaps the member at index i for r, detaching the prior member's
// subscription and attaching one for r.
func (c *Container[T]) Replace(i int, r T) error {
	if !c.writing.CompareAndSwap(false, true) {
		return ErrContainerBusy
	}
	defer c.writing.Store(false)

	c.mu.Lock()
	if i < 0 || i >= len(c.members) {
		c.mu.Unlock()
		return ErrInvalidArgument
	}
	old := c.members[i]
	if unsub, ok := c.unsubs[old.ID()]; ok {
		unsub()
		delete(c.unsubs, old.ID())
	}
	c.unsubs[r.ID()] = r.Subscribe(func(RequestState) { c.recompute() })
	c.members[i] = r
	snapshot := append([]T(nil), c.members...)
	c.mu.Unlock()

	c.recompute()
	c.rebuildBatch(snapshot)
	return nil
}

// Members returns a snapshot copy of the current member list.
func (c *Container[T]) Members() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]T(nil), c.members...)
}

func (c *Container[T]) recompute() {
	c.mu.RLock()
	counts := make(map[RequestState]int, len(containerPrecedence))
	for _, m := range c.members {
		counts[m.State()]++
	}
	c.mu.RUnlock()

	if len(counts) == 0 {
		c.machine.ForceTransition(StateIdle)
		return
	}
	for _, s := range containerPrecedence {
		if counts[s] > 0 {
			c.machine.ForceTransition(s)
			return
		}
	}
}

// rebuildBatch replaces the Done() channel with one tied to the supplied
// membership snapshot, joining every member's completion with an errgroup.
// The group's first error (a Failed member's Err) is discarded; member
// errors are available through Err().
func (c *Container[T]) rebuildBatch(members []T) {
	newDone := make(chan struct{})
	c.batchID = uuid.New()
	c.doneMu.Lock()
	c.doneCh = newDone
	c.doneMu.Unlock()

	if len(members) == 0 {
		close(newDone)
		return
	}
	go func() {
		var eg errgroup.Group
		for _, m := range members {
			m := m
			eg.Go(func() error {
				<-m.Done()
				if m.State() == StateFailed {
					return m.Err()
				}
				return nil
			})
		}
		_ = eg.Wait()
		close(newDone)
	}()
}

var _ Request = (*Container[Request])(nil)
