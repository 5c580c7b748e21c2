package reqflow

// SequentialHandler is a Handler that strictly enforces a degree of
// parallelism of 1: pause is observed between requests only, since the
// current in-flight request always runs to its own yield points first. It
// is implemented as a ParallelHandler pinned at one worker, since the
// underlying channel, pause/cancel scopes, and lifecycle algorithm are
// identical; only the worker-pool sizing contract differs.
type SequentialHandler struct {
	*ParallelHandler
}

// NewSequentialHandler constructs a handler whose worker pool is pinned to
// exactly one concurrent worker; WithMaxDegreeOfParallelism in opts, if
// present, is ignored.
func NewSequentialHandler(opts ...HandlerOption) *SequentialHandler {
	opts = append(opts, WithMaxDegreeOfParallelism(1))
	h := &SequentialHandler{ParallelHandler: NewParallelHandler(opts...)}
	return h
}

// SetMaxDegreeOfParallelism is a no-op: a SequentialHandler is always
// exactly one worker.
func (h *SequentialHandler) SetMaxDegreeOfParallelism(int) {}

// DegreeOfParallelism always reports 1.
func (h *SequentialHandler) DegreeOfParallelism() int { return 1 }

var _ Handler = (*SequentialHandler)(nil)
