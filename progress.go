package reqflow

import "context"

// ReportProgress is the package-level progress-reporting point, mirroring
// Yield: called from inside a work function with the ctx it was given, it
// looks up the currently executing request and notifies any
// ProgressableContainer observing it. p should be in [0, 1]. Outside any
// request context it is a no-op.
func ReportProgress(ctx context.Context, p float64) {
	v := ctx.Value(currentRequestKey{})
	if v == nil {
		return
	}
	v.(*requestCore).reportProgress(p)
}

// OnProgress registers fn for synchronous notification on every progress
// report made via ReportProgress during this request's execution. It
// satisfies ProgressReporter so *OwnRequest can be used as a member of a
// ProgressableContainer.
func (r *requestCore) OnProgress(fn func(p float64)) (unsubscribe func()) {
	r.progMu.Lock()
	if r.progSubs == nil {
		r.progSubs = make(map[int]func(float64))
	}
	id := r.progSubsNum
	r.progSubsNum++
	r.progSubs[id] = fn
	r.progMu.Unlock()
	return func() {
		r.progMu.Lock()
		delete(r.progSubs, id)
		r.progMu.Unlock()
	}
}

func (r *requestCore) reportProgress(p float64) {
	r.progMu.Lock()
	fns := make([]func(float64), 0, len(r.progSubs))
	for _, fn := range r.progSubs {
		fns = append(fns, fn)
	}
	r.progMu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}
