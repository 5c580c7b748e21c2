package reqflow

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/reqflow/reqflow/internal/log"
	"github.com/reqflow/reqflow/internal/pchannel"
	"github.com/reqflow/reqflow/internal/token"
	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ParallelHandler drains a priority channel with up to its configured
// degree of parallelism concurrently active workers. It also implements
// Request so it can be nested inside a Container. Construction starts its
// worker pool immediately, mirroring the always-on process-wide default
// handler described in the design.
type ParallelHandler struct {
	id      xid.ID
	ch      pchannel.Channel[*requestCore]
	cancel  *token.CancelToken
	pause   *token.PauseToken
	cbSink  CallbackSink
	lg      *log.Logger
	machine *StateMachine

	autoFn       func() int
	live         atomic.Int32
	startOnce    sync.Once
	supervisorWG sync.WaitGroup
	workers      errgroup.Group

	semMu sync.RWMutex
	sem   *semaphore.Weighted

	admission *rate.Limiter
	unhandled chan error

	errs       []error
	errsMu     sync.Mutex
	subseqMu   sync.Mutex
	subsequent Request

	shutdownCh chan struct{}

	subsMu  sync.Mutex
	subs    map[int]func(RequestState)
	subsNum int

	completedCt atomic.Int64
	failedCt    atomic.Int64
	cancelledCt atomic.Int64
	retriesCt   atomic.Int64
}

// NewParallelHandler constructs a handler and immediately starts its
// worker pool.
func NewParallelHandler(opts ...HandlerOption) *ParallelHandler {
	o := newHandlerOptions(opts...)
	h := &ParallelHandler{
		id:         xid.New(),
		cancel:     token.NewCancelToken(),
		pause:      token.NewPauseToken(),
		cbSink:     DefaultCallbackSink,
		lg:         o.Logger,
		autoFn:     o.AutoDegreeOfParallelism,
		unhandled:  make(chan error, 16),
		shutdownCh: make(chan struct{}),
	}
	if h.lg == nil {
		h.lg = log.New(nil, log.InfoLevel)
	}
	if h.autoFn == nil {
		h.autoFn = func() int { return runtime.GOMAXPROCS(0) }
	}
	initial := o.MaxDegreeOfParallelism
	if initial <= 0 {
		initial = clampDoP(h.autoFn(), 0)
	}
	chOpts := pchannel.Options{
		PauseToken:                    h.pause,
		CancelToken:                   h.cancel,
		InitialMaxDegreeOfParallelism: initial,
	}
	if o.FixedPriorityBuckets > 0 {
		h.ch = pchannel.NewFixed[*requestCore](o.FixedPriorityBuckets, chOpts)
	} else {
		h.ch = pchannel.NewDynamic[*requestCore](chOpts)
	}
	h.sem = semaphore.NewWeighted(int64(initial))
	if o.AdmissionEvery > 0 {
		h.admission = rate.NewLimiter(rate.Every(o.AdmissionEvery), max(o.AdmissionBurst, 1))
	}
	h.machine = NewContainerStateMachine(StateIdle, func(_, to RequestState) { h.notifySubs(to) })
	_ = h.Start()
	return h
}

// Subscribe registers fn for synchronous notification on every state
// transition of the handler itself (as opposed to its member requests).
func (h *ParallelHandler) Subscribe(fn func(RequestState)) (unsubscribe func()) {
	h.subsMu.Lock()
	if h.subs == nil {
		h.subs = make(map[int]func(RequestState))
	}
	id := h.subsNum
	h.subsNum++
	h.subs[id] = fn
	h.subsMu.Unlock()
	return func() {
		h.subsMu.Lock()
		delete(h.subs, id)
		h.subsMu.Unlock()
	}
}

func (h *ParallelHandler) notifySubs(to RequestState) {
	h.subsMu.Lock()
	fns := make([]func(RequestState), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.subsMu.Unlock()
	for _, fn := range fns {
		fn(to)
	}
}

func clampDoP(n, capHint int) int {
	if n < 1 {
		n = 1
	}
	if capHint > 0 && n > capHint {
		n = capHint
	}
	return n
}

// SetMaxDegreeOfParallelism updates the worker cap. Growth spawns
// additional workers promptly and widens the running-request gate
// immediately; shrinkage narrows the gate for future acquisitions while
// workers already past it finish their current request and retire
// cooperatively at their next loop iteration.
func (h *ParallelHandler) SetMaxDegreeOfParallelism(n int) {
	n = clampDoP(n, 0)
	h.ch.DegreeOfParallelism().Set(n)
	h.semMu.Lock()
	h.sem = semaphore.NewWeighted(int64(n))
	h.semMu.Unlock()
}

// DegreeOfParallelism returns the current worker cap.
func (h *ParallelHandler) DegreeOfParallelism() int {
	return h.ch.DegreeOfParallelism().Value()
}

// UnhandledErrors surfaces the Err() of every request that reaches Failed
// with a non-nil error, whether or not it has Events installed, mirroring
// the teacher's ErrorHandler channel. When the buffer is full the error is
// dropped (and logged).
func (h *ParallelHandler) UnhandledErrors() <-chan error {
	return h.unhandled
}

// ---- Request interface ----

func (h *ParallelHandler) ID() string            { return h.id.String() }
func (h *ParallelHandler) State() RequestState   { return h.machine.State() }
func (h *ParallelHandler) Priority() Priority    { return PriorityNormal }
func (h *ParallelHandler) AttemptCount() int     { return 0 }
func (h *ParallelHandler) HasCompleted() bool    { return h.State() == StateCompleted }
func (h *ParallelHandler) Done() <-chan struct{} { return h.shutdownCh }

func (h *ParallelHandler) Err() error {
	h.errsMu.Lock()
	defer h.errsMu.Unlock()
	if len(h.errs) == 0 {
		return nil
	}
	return &AggregateError{Errs: append([]error(nil), h.errs...)}
}

// Start (re)activates the worker pool. The first call spawns the
// supervisor goroutine; subsequent calls after Pause() resume it.
func (h *ParallelHandler) Start() error {
	switch h.machine.State() {
	case StateRunning:
		return nil
	case StatePaused:
		h.pause.Resume()
		h.machine.TryTransition(StateRunning)
		return nil
	}
	h.machine.TryTransition(StateRunning)
	h.startOnce.Do(func() {
		h.supervisorWG.Add(1)
		go h.supervise()
	})
	return nil
}

// Pause suspends all workers between requests: each finishes any in-flight
// request before parking on the pause token.
func (h *ParallelHandler) Pause() {
	h.pause.Pause()
	h.machine.TryTransition(StatePaused)
}

// Cancel stops admitting new work and tears down the worker pool. Safe to
// call multiple times.
func (h *ParallelHandler) Cancel() {
	h.cancel.Cancel()
	h.ch.TryComplete()
	h.machine.TryTransition(StateCancelled)
}

// Dispose waits for the worker pool to fully drain after Cancel.
func (h *ParallelHandler) Dispose() {
	h.supervisorWG.Wait()
}

func (h *ParallelHandler) TrySetIdle() bool {
	h.machine.ForceTransition(StateIdle)
	return true
}

func (h *ParallelHandler) TrySetSubsequent(other Request) error {
	if other != nil && other.State().IsTerminal() {
		return ErrSubsequentTerminal
	}
	h.subseqMu.Lock()
	h.subsequent = other
	h.subseqMu.Unlock()
	return nil
}

func (h *ParallelHandler) Yield(ctx context.Context) error {
	if h.cancel.Cancelled() {
		return ErrCancelled
	}
	return h.pause.WaitWhilePaused(ctx)
}

// ---- Handler interface ----

func (h *ParallelHandler) submit(r *requestCore, priority Priority) error {
	if h.admission != nil && r.AttemptCount() > 0 {
		_ = h.admission.Wait(context.Background())
	}
	t, err := h.ch.Write(priority.Float64(), r)
	if err == pchannel.ErrInvalidPriority {
		return ErrInvalidArgument
	}
	if err != nil {
		return ErrChannelCompleted
	}
	r.setTicket(t)
	return nil
}

func (h *ParallelHandler) remove(r *requestCore) bool {
	t, ok := r.takeTicket()
	if !ok {
		return false
	}
	return h.ch.TryRemove(t)
}

func (h *ParallelHandler) cancelScope() *token.CancelToken { return h.cancel }
func (h *ParallelHandler) pauseScope() *token.PauseToken   { return h.pause }
func (h *ParallelHandler) sink() CallbackSink              { return h.cbSink }
func (h *ParallelHandler) logger() *log.Logger             { return h.lg }

func (h *ParallelHandler) runNow(ctx context.Context, r *requestCore) {
	r.beginExecute(ctx)
	if r.State().IsTerminal() {
		r.Dispose()
	}
}

// ---- worker pool supervision ----

func (h *ParallelHandler) supervise() {
	defer h.supervisorWG.Done()
	defer close(h.shutdownCh)

	ctx, cancel := h.cancel.Context(context.Background())
	defer cancel()

	n := h.ch.DegreeOfParallelism().Value()
	for i := 0; i < n; i++ {
		h.spawnWorker(ctx)
	}

	for {
		select {
		case delta := <-h.ch.DegreeOfParallelism().Deltas():
			if delta > 0 {
				for i := 0; i < delta; i++ {
					h.spawnWorker(ctx)
				}
			}
		case <-ctx.Done():
			_ = h.workers.Wait()
			return
		}
	}
}

func (h *ParallelHandler) spawnWorker(ctx context.Context) {
	h.live.Add(1)
	h.workers.Go(func() error {
		h.work(ctx)
		return nil
	})
}

func (h *ParallelHandler) currentSem() *semaphore.Weighted {
	h.semMu.RLock()
	defer h.semMu.RUnlock()
	return h.sem
}

func (h *ParallelHandler) work(ctx context.Context) {
	defer h.live.Add(-1)
	for {
		if int(h.live.Load()) > h.ch.DegreeOfParallelism().Value() {
			return
		}
		if err := h.pause.WaitWhilePaused(ctx); err != nil {
			return
		}
		item, err := h.ch.Read(ctx)
		if err != nil {
			return
		}
		if item.AttemptCount() > 0 {
			h.retriesCt.Add(1)
		}
		sem := h.currentSem()
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		item.beginExecute(ctx)
		sem.Release(1)
		if item.State().IsTerminal() {
			item.Dispose()
			switch item.State() {
			case StateFailed:
				h.failedCt.Add(1)
				h.reportUnhandled(item.Err())
			case StateCompleted:
				h.completedCt.Add(1)
			case StateCancelled:
				h.cancelledCt.Add(1)
			}
		}
	}
}

func (h *ParallelHandler) reportUnhandled(err error) {
	if err == nil {
		return
	}
	h.errsMu.Lock()
	h.errs = append(h.errs, err)
	h.errsMu.Unlock()
	select {
	case h.unhandled <- err:
	default:
		h.lg.Warn("unhandled error channel full, dropping: %v", err)
	}
}

var _ Handler = (*ParallelHandler)(nil)
