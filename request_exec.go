package reqflow

import (
	"context"
	"fmt"
)

// beginExecute is invoked by a dispatcher worker after popping the request
// off its handler's channel. It implements steps 3-4 of the lifecycle
// algorithm: guard, transition to Running, run the user work callable
// under a panic boundary, and interpret the result.
func (r *requestCore) beginExecute(parent context.Context) {
	if r.machine.State() != StateIdle || r.scope.Cancelled() {
		return
	}
	if !r.machine.TryTransition(StateRunning) {
		return
	}
	r.fireStarted()

	ctx, cancel := r.scope.Context(parent)
	ctx = context.WithValue(ctx, currentRequestKey{}, r)

	ok, err := r.safeRunWork(ctx)
	cancel()

	r.interpret(parent, ok, err)
}

func (r *requestCore) safeRunWork(ctx context.Context) (ok bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			err = panicToErr(rec)
		}
	}()
	if r.work == nil {
		return true, nil
	}
	return r.work(ctx)
}

func (r *requestCore) interpret(parent context.Context, ok bool, err error) {
	switch r.machine.State() {
	case StatePaused, StateCancelled:
		// changed mid-flight by an external Pause()/Cancel() call; the
		// caller of Pause/Cancel owns what happens next.
		return
	}

	r.attempt.Add(1)
	if ok {
		if r.machine.TryTransition(StateCompleted) {
			r.fireCompleted(nil)
			r.chainSubsequent(parent)
		}
		return
	}

	r.appendErr(err)
	if err != nil {
		r.fireException(err)
	}

	if r.opts.UserCancelToken != nil && r.opts.UserCancelToken.Cancelled() {
		if r.machine.TryTransition(StateCancelled) {
			r.fireCancelled()
			r.disposeSubsequent()
		}
		return
	}

	if r.handler != nil && r.handler.cancelScope().Cancelled() {
		// the handler's own scope fired (e.g. mid Shutdown). The request
		// parks in Paused rather than Cancelled. A handler's cancel token
		// cannot be reset and its channel is completed, so a later Start()
		// does not get the request run on that handler again.
		r.machine.TryTransition(StatePaused)
		return
	}

	if int(r.attempt.Load()) < r.opts.MaxAttempts {
		if r.opts.DelayBetweenAttempts > 0 {
			if r.machine.TryTransition(StateWaiting) {
				r.deployAfter(r.opts.DelayBetweenAttempts)
			}
			return
		}
		if r.machine.TryTransition(StateIdle) {
			_ = r.admit()
		}
		return
	}

	if r.machine.TryTransition(StateFailed) {
		r.fireFailed(nil)
		r.disposeSubsequent()
	}
}

// chainSubsequent feeds a successfully-completed request's subsequent
// request through the same worker, bypassing queue priority.
func (r *requestCore) chainSubsequent(ctx context.Context) {
	r.mu.Lock()
	sub := r.subsequent
	r.subsequent = nil
	r.mu.Unlock()
	if sub == nil {
		return
	}
	sub.TrySetIdle()
	if ownSub, ok := sub.(*OwnRequest); ok && r.handler != nil {
		r.handler.runNow(ctx, ownSub.core)
		return
	}
	_ = sub.Start()
}

func (r *requestCore) fireStarted() {
	cb := r.events.Started
	r.sinkOrDefault().Post(func() {
		defer recoverObserver(r.loggerOrDefault(), "Started")
		if cb != nil {
			cb()
		}
	})
}

func (r *requestCore) fireCompleted(value any) {
	cb := r.events.Completed
	r.sinkOrDefault().Post(func() {
		defer recoverObserver(r.loggerOrDefault(), "Completed")
		if cb != nil {
			cb(value)
		}
	})
}

func (r *requestCore) fireFailed(value any) {
	cb := r.events.Failed
	r.sinkOrDefault().Post(func() {
		defer recoverObserver(r.loggerOrDefault(), "Failed")
		if cb != nil {
			cb(value)
		}
	})
}

func (r *requestCore) fireCancelled() {
	cb := r.events.Cancelled
	r.sinkOrDefault().Post(func() {
		defer recoverObserver(r.loggerOrDefault(), "Cancelled")
		if cb != nil {
			cb()
		}
	})
}

func (r *requestCore) fireException(err error) {
	cb := r.events.Exception
	r.sinkOrDefault().Post(func() {
		defer recoverObserver(r.loggerOrDefault(), "Exception")
		if cb != nil {
			cb(err)
		}
	})
}

func panicToErr(rec any) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return &panicError{rec: rec}
}

type panicError struct{ rec any }

func (p *panicError) Error() string {
	return fmt.Sprintf("reqflow: recovered panic in work function: %v", p.rec)
}
