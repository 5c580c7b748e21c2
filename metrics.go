package reqflow

// HandlerStats is a point-in-time snapshot of a ParallelHandler's
// best-effort introspection counters. It is cheap enough to call on a
// polling interval; no external metrics sink is required to use it.
type HandlerStats struct {
	// QueueDepth is the number of requests currently waiting to run.
	QueueDepth int
	// InFlight is the number of live worker goroutines, whether executing a
	// request or waiting for one; it is not a count of Running requests.
	InFlight int
	// DegreeOfParallelism is the current worker cap.
	DegreeOfParallelism int
	// Completed, Failed, and Cancelled are cumulative counts since the
	// handler was constructed.
	Completed int64
	Failed    int64
	Cancelled int64
	// Retries is the cumulative count of requests re-admitted after a
	// failed attempt (i.e. every admission beyond the first per request).
	Retries int64
}

// Stats returns a snapshot of the handler's counters. Grounded on the
// teacher's own minimal introspection (asynq's processor exposes queue
// depth/in-flight counts to its Inspector); this keeps the same shape
// without requiring a persistence layer to back it.
func (h *ParallelHandler) Stats() HandlerStats {
	return HandlerStats{
		QueueDepth:          h.ch.Len(),
		InFlight:            int(h.live.Load()),
		DegreeOfParallelism: h.DegreeOfParallelism(),
		Completed:           h.completedCt.Load(),
		Failed:              h.failedCt.Load(),
		Cancelled:           h.cancelledCt.Load(),
		Retries:             h.retriesCt.Load(),
	}
}
