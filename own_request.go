package reqflow

import "context"

// OwnRequest adapts a user-supplied async callable into the Request
// contract. The callable receives a context that is cancelled when the
// request's linked scope (handler token + optional user token) fires, and
// should call Yield(ctx) at any point where cooperative pause/cancel
// observation matters.
//
//	r := reqflow.NewOwnRequest(func(ctx context.Context) (bool, error) {
//	    if err := reqflow.Yield(ctx); err != nil {
//	        return false, err
//	    }
//	    return doWork(ctx)
//	}, reqflow.WithPriority(reqflow.PriorityHigh))
type OwnRequest struct {
	core *requestCore
}

// NewOwnRequest constructs a Request around work, applying opts over the
// documented defaults. If AutoStart is true (the default) the request is
// started immediately.
func NewOwnRequest(work func(ctx context.Context) (bool, error), opts ...Option) *OwnRequest {
	o := NewRequestOptions(opts...)
	r := &OwnRequest{core: newRequestCore(o, work)}
	r.core.events = Events{} // SetEvents can only run after this returns, i.e. after AutoStart fired
	if o.SubsequentRequest != nil {
		_ = r.TrySetSubsequent(o.SubsequentRequest)
	}
	if o.AutoStart {
		_ = r.Start()
	}
	return r
}

// SetEvents installs the observer callbacks fired over this request's
// lifetime. Call before Start (or construct with WithAutoStart(false)) to
// guarantee Started is observed.
func (r *OwnRequest) SetEvents(ev Events) { r.core.events = ev }

func (r *OwnRequest) ID() string            { return r.core.ID() }
func (r *OwnRequest) State() RequestState   { return r.core.State() }
func (r *OwnRequest) Priority() Priority    { return r.core.Priority() }
func (r *OwnRequest) Err() error            { return r.core.Err() }
func (r *OwnRequest) AttemptCount() int     { return r.core.AttemptCount() }
func (r *OwnRequest) HasCompleted() bool    { return r.core.HasCompleted() }
func (r *OwnRequest) Done() <-chan struct{} { return r.core.Done() }
func (r *OwnRequest) Start() error          { return r.core.Start() }
func (r *OwnRequest) Pause()                { r.core.Pause() }
func (r *OwnRequest) Dispose()              { r.core.Dispose() }
func (r *OwnRequest) TrySetIdle() bool      { return r.core.TrySetIdle() }

func (r *OwnRequest) Yield(ctx context.Context) error { return r.core.Yield(ctx) }

func (r *OwnRequest) Subscribe(fn func(RequestState)) func() { return r.core.Subscribe(fn) }

// OnProgress registers fn for notification on every ReportProgress call
// made from within this request's work function. It satisfies
// ProgressReporter so an *OwnRequest can be added to a
// ProgressableContainer.
func (r *OwnRequest) OnProgress(fn func(p float64)) func() { return r.core.OnProgress(fn) }

// Cancel cancels the request and, if it was paused mid-flight waiting on
// Resume, releases the wait so Yield observes the cancellation promptly.
func (r *OwnRequest) Cancel() {
	r.core.Cancel()
	r.core.resume()
}

// TrySetSubsequent chains other to run immediately after this request
// completes successfully. Returns ErrSubsequentTerminal if other has
// already reached a terminal state.
func (r *OwnRequest) TrySetSubsequent(other Request) error {
	return r.core.TrySetSubsequent(other)
}

var _ Request = (*OwnRequest)(nil)
