package reqflow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reqflow/reqflow/internal/log"
	"github.com/reqflow/reqflow/internal/pchannel"
	"github.com/reqflow/reqflow/internal/token"
	"github.com/rs/xid"
)

// Events holds the observer callbacks fired by a Request over its
// lifetime. All fields are optional. Callbacks are always posted through
// the owning handler's CallbackSink (or DefaultCallbackSink if none was
// captured), never invoked inline, and a panicking callback is recovered
// and logged rather than allowed to affect scheduling.
type Events struct {
	StateChanged func(from, to RequestState)
	Started      func()
	Completed    func(value any)
	Failed       func(value any)
	Cancelled    func()
	Exception    func(err error)
}

// Request is the common lifecycle contract shared by OwnRequest,
// ParallelHandler, SequentialHandler, Container, and ProgressableContainer.
type Request interface {
	ID() string
	State() RequestState
	Priority() Priority
	Err() error
	AttemptCount() int
	HasCompleted() bool
	Done() <-chan struct{}
	Start() error
	Pause()
	Cancel()
	Dispose()
	TrySetIdle() bool
	TrySetSubsequent(other Request) error
	Yield(ctx context.Context) error
	// Subscribe registers fn to be called (synchronously, on whatever
	// goroutine performed the transition) every time the state changes.
	// It returns an unsubscribe function. Used internally by Container to
	// recompute its aggregate state; exported because nested
	// containers/handlers need it too.
	Subscribe(fn func(RequestState)) (unsubscribe func())
}

// Handler drains a priority channel of Requests under a bound on
// concurrently running workers. ParallelHandler and SequentialHandler are
// the two concrete implementations; both also satisfy Request so they can
// be nested inside a Container.
type Handler interface {
	Request
	submit(r *requestCore, priority Priority) error
	remove(r *requestCore) bool
	cancelScope() *token.CancelToken
	pauseScope() *token.PauseToken
	sink() CallbackSink
	logger() *log.Logger
	// runNow executes r immediately on the calling goroutine, used for
	// subsequent-request chaining so the follow-up bypasses queue priority.
	runNow(ctx context.Context, r *requestCore)
}

type currentRequestKey struct{}

// Yield is the package-level cooperative suspension point. Called from
// inside a work function, it looks up the currently executing request from
// ctx (set by the dispatcher before invoking the work callable) and
// delegates to its Yield. Outside any request context it is a no-op that
// returns nil immediately.
func Yield(ctx context.Context) error {
	v := ctx.Value(currentRequestKey{})
	if v == nil {
		return nil
	}
	return v.(*requestCore).Yield(ctx)
}

// requestCore implements the bulk of the lifecycle algorithm described in
// the design: construction, start, begin-execute, retry interpretation,
// yield, and subsequent-request chaining. OwnRequest embeds it and supplies
// the actual work callable.
type requestCore struct {
	id       xid.ID
	priority Priority
	opts     RequestOptions
	machine  *StateMachine
	handler  Handler
	scope    *token.CancelToken // Link(handler.cancelScope(), userCancelToken)

	attempt atomic.Int32

	mu         sync.Mutex
	errs       []error
	subsequent Request
	done       chan struct{}
	doneOnce   sync.Once

	runMu    sync.Mutex
	runGate  chan struct{} // closed whenever leaving Running; replaced on re-entering Running
	inRun    bool
	myPause  *token.PauseToken // per-request pause gate, separate from the handler's
	deployTm *time.Timer

	ticketMu  sync.Mutex
	ticket    pchannel.Ticket
	hasTicket bool

	subsMu  sync.Mutex
	subs    map[int]func(RequestState)
	subsNum int

	progMu      sync.Mutex
	progSubs    map[int]func(float64)
	progSubsNum int

	events Events

	work func(ctx context.Context) (bool, error)
}

func newRequestCore(opts RequestOptions, work func(ctx context.Context) (bool, error)) *requestCore {
	r := &requestCore{
		id:       xid.New(),
		priority: opts.Priority,
		opts:     opts,
		handler:  opts.Handler,
		done:     make(chan struct{}),
		runGate:  closedChan(),
		myPause:  token.NewPauseToken(),
		work:     work,
	}
	r.machine = NewStateMachine(StatePaused, r.onChange)
	if opts.Handler != nil {
		r.scope = token.Link(opts.Handler.cancelScope(), opts.UserCancelToken)
	} else {
		r.scope = token.Link(opts.UserCancelToken)
	}
	return r
}

func closedChan() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

func (r *requestCore) onChange(from, to RequestState) {
	if to != StateRunning {
		r.runMu.Lock()
		if r.inRun {
			r.inRun = false
			close(r.runGate)
		}
		r.runMu.Unlock()
	} else {
		r.runMu.Lock()
		r.inRun = true
		r.runGate = make(chan struct{})
		r.runMu.Unlock()
	}
	if to == StateCompleted || to == StateFailed || to == StateCancelled {
		r.doneOnce.Do(func() { close(r.done) })
	}
	r.notifySubs(to)

	sink := r.sinkOrDefault()
	cb := r.events.StateChanged
	sink.Post(func() {
		defer recoverObserver(r.loggerOrDefault(), "StateChanged")
		if cb != nil {
			cb(from, to)
		}
	})
}

// Subscribe registers fn for synchronous notification on every state
// transition; used by Container to maintain its aggregate state.
func (r *requestCore) Subscribe(fn func(RequestState)) (unsubscribe func()) {
	r.subsMu.Lock()
	if r.subs == nil {
		r.subs = make(map[int]func(RequestState))
	}
	id := r.subsNum
	r.subsNum++
	r.subs[id] = fn
	r.subsMu.Unlock()
	return func() {
		r.subsMu.Lock()
		delete(r.subs, id)
		r.subsMu.Unlock()
	}
}

func (r *requestCore) notifySubs(to RequestState) {
	r.subsMu.Lock()
	fns := make([]func(RequestState), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subsMu.Unlock()
	for _, fn := range fns {
		fn(to)
	}
}

func (r *requestCore) sinkOrDefault() CallbackSink {
	if r.handler != nil && r.handler.sink() != nil {
		return r.handler.sink()
	}
	return DefaultCallbackSink
}

func (r *requestCore) loggerOrDefault() *log.Logger {
	if r.handler != nil && r.handler.logger() != nil {
		return r.handler.logger()
	}
	return log.Discard()
}

func recoverObserver(l *log.Logger, name string) {
	if rec := recover(); rec != nil {
		l.Warn("observer %s panicked: %v", name, rec)
	}
}

// ID returns the globally unique, sortable identifier assigned at
// construction.
func (r *requestCore) ID() string { return r.id.String() }

func (r *requestCore) State() RequestState { return r.machine.State() }

func (r *requestCore) Priority() Priority { return r.priority }

func (r *requestCore) AttemptCount() int { return int(r.attempt.Load()) }

func (r *requestCore) HasCompleted() bool { return r.State() == StateCompleted }

func (r *requestCore) Done() <-chan struct{} { return r.done }

func (r *requestCore) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) == 0 {
		return nil
	}
	return &AggregateError{Errs: append([]error(nil), r.errs...)}
}

func (r *requestCore) appendErr(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

// Start moves the request from Paused to Idle/Waiting and admits it into
// its handler. A request that is already Idle (including one forced Idle
// via TrySetIdle) or Running is left as it is and not admitted again.
// If the request was paused
// mid-flight (Pause() called while Running), no fresh admission happens:
// a worker already owns this request, so Start() instead just releases the
// pause so that worker's Yield call can continue the same run.
func (r *requestCore) Start() error {
	if r.myPause.Paused() {
		r.resume()
		return nil
	}
	if r.machine.State() == StateIdle || r.machine.State() == StateRunning {
		return nil
	}
	if !r.machine.TryTransition(pickStart(r.opts.DeployDelay)) {
		return nil
	}
	if r.opts.DeployDelay > 0 && r.machine.State() == StateWaiting {
		r.deployAfter(r.opts.DeployDelay)
		return nil
	}
	return r.admit()
}

func pickStart(deployDelay time.Duration) RequestState {
	if deployDelay > 0 {
		return StateWaiting
	}
	return StateIdle
}

func (r *requestCore) deployAfter(d time.Duration) {
	r.deployTm = time.AfterFunc(d, func() {
		if r.machine.TryTransition(StateIdle) {
			_ = r.admit()
		}
	})
}

func (r *requestCore) admit() error {
	if r.handler == nil {
		return nil
	}
	return r.handler.submit(r, r.priority)
}

func (r *requestCore) setTicket(t pchannel.Ticket) {
	r.ticketMu.Lock()
	r.ticket, r.hasTicket = t, true
	r.ticketMu.Unlock()
}

func (r *requestCore) takeTicket() (pchannel.Ticket, bool) {
	r.ticketMu.Lock()
	defer r.ticketMu.Unlock()
	t, ok := r.ticket, r.hasTicket
	r.hasTicket = false
	return t, ok
}

// Pause requests a transition to Paused. If the request is Running, the
// actual transition happens cooperatively at the next Yield. The request
// transition table has no Idle -> Paused or Waiting -> Paused edge, so for
// an Idle or Waiting request the call has no effect.
func (r *requestCore) Pause() {
	switch r.machine.State() {
	case StateIdle, StateWaiting:
		r.machine.TryTransition(StatePaused)
	case StateRunning:
		r.myPause.Pause()
	}
}

// Cancel moves any non-terminal request to Cancelled, fires its own scope
// so a Running work function observes ctx.Done() promptly, and disposes
// its subsequent chain.
func (r *requestCore) Cancel() {
	r.scope.Cancel()
	for {
		s := r.machine.State()
		if s.IsTerminal() {
			return
		}
		if r.machine.TryTransition(StateCancelled) {
			r.disposeSubsequent()
			return
		}
	}
}

// Dispose stops the request's pending deploy timer, if any. It does not
// alter state and does not touch the subsequent chain; call Cancel first
// if an in-flight request should stop.
func (r *requestCore) Dispose() {
	if r.deployTm != nil {
		r.deployTm.Stop()
	}
}

func (r *requestCore) disposeSubsequent() {
	r.mu.Lock()
	sub := r.subsequent
	r.subsequent = nil
	r.mu.Unlock()
	if sub == nil {
		return
	}
	sub.Cancel()
	sub.Dispose()
}

// TrySetIdle forces the request into Idle regardless of its current state
// and always reports success, per the "force + report success" semantics
// adopted for Requests (see DESIGN.md).
func (r *requestCore) TrySetIdle() bool {
	r.machine.ForceTransition(StateIdle)
	return true
}

// TrySetSubsequent chains other to run immediately after this request
// completes successfully.
func (r *requestCore) TrySetSubsequent(other Request) error {
	if other != nil && other.State().IsTerminal() {
		return ErrSubsequentTerminal
	}
	r.mu.Lock()
	r.subsequent = other
	r.mu.Unlock()
	return nil
}

// Yield is the fast/slow path cooperative suspension point described in
// the design doc: an O(1) check on the hot path, falling back to blocking
// on the request's own pause gate (set by Pause from another goroutine) or
// returning a cancellation error if the linked scope has fired.
func (r *requestCore) Yield(ctx context.Context) error {
	if r.scope.Cancelled() || ctx.Err() != nil {
		return ErrCancelled
	}
	if !r.myPause.Paused() {
		return nil
	}
	// slow path: cooperatively publish Paused and wait for resume.
	r.machine.TryTransition(StatePaused)
	if err := r.myPause.WaitWhilePaused(ctx); err != nil {
		return ErrCancelled
	}
	if r.scope.Cancelled() {
		return ErrCancelled
	}
	// Start() released the pause: this goroutine still owns the request
	// and is about to continue running it, so restore Running before
	// returning control to the work function. This bypasses the regular
	// transition table (which models externally-observable transitions),
	// the same way ForceTransition is used for TrySetIdle.
	r.machine.ForceTransition(StateRunning)
	return nil
}

// resume is called by Start() when a request previously paused mid-flight
// (via Pause while Running) is restarted; it releases the Yield waiter so
// the worker that owns the request continues the same run. The request is
// not re-admitted to its handler.
func (r *requestCore) resume() {
	r.myPause.Resume()
}
