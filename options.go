package reqflow

import (
	"time"

	"github.com/reqflow/reqflow/internal/log"
	"github.com/reqflow/reqflow/internal/token"
)

// defaultMaxAttempts mirrors the teacher's defaultMaxRetry constant, scaled
// down to a sane default for in-process retries rather than a distributed
// queue's 25.
const defaultMaxAttempts = 3

// RequestOptions configures a Request's scheduling and retry behavior.
// Construct via NewRequestOptions(opts...); the zero value is not usable
// because Handler must be populated (NewRequestOptions defaults it to the
// process-wide Default()).
type RequestOptions struct {
	AutoStart            bool
	Priority             Priority
	DeployDelay          time.Duration
	DelayBetweenAttempts time.Duration
	MaxAttempts          int
	UserCancelToken      *token.CancelToken
	Handler              Handler
	SubsequentRequest    Request
}

// Option mutates a RequestOptions under construction. Named after, and
// composed the same way as, the teacher's client.go Option type.
type Option func(*RequestOptions)

// WithAutoStart overrides the default (true): whether the request starts
// itself immediately upon construction.
func WithAutoStart(auto bool) Option {
	return func(o *RequestOptions) { o.AutoStart = auto }
}

// WithPriority sets the request's immutable scheduling priority.
func WithPriority(p Priority) Option {
	return func(o *RequestOptions) { o.Priority = p }
}

// WithDeployDelay sets a delay applied each time Start admits the request
// from Paused. Retries after a failed attempt are not delayed by it; they
// use WithDelayBetweenAttempts.
func WithDeployDelay(d time.Duration) Option {
	return func(o *RequestOptions) { o.DeployDelay = d }
}

// WithDelayBetweenAttempts sets a delay applied between a failed attempt
// and the next retry.
func WithDelayBetweenAttempts(d time.Duration) Option {
	return func(o *RequestOptions) { o.DelayBetweenAttempts = d }
}

// WithMaxAttempts sets the maximum number of attempts before the request
// is marked Failed. Values < 1 are clamped to 1.
func WithMaxAttempts(n int) Option {
	return func(o *RequestOptions) {
		if n < 1 {
			n = 1
		}
		o.MaxAttempts = n
	}
}

// WithUserCancelToken links an externally owned cancel token: cancelling it
// permanently cancels the request (as opposed to the handler's own token,
// which parks a failing request in Paused instead).
func WithUserCancelToken(t *token.CancelToken) Option {
	return func(o *RequestOptions) { o.UserCancelToken = t }
}

// WithHandler overrides the default process-wide handler.
func WithHandler(h Handler) Option {
	return func(o *RequestOptions) { o.Handler = h }
}

// WithSubsequentRequest chains other to run immediately after this request
// completes successfully, bypassing queue priority.
func WithSubsequentRequest(other Request) Option {
	return func(o *RequestOptions) { o.SubsequentRequest = other }
}

// NewRequestOptions applies opts over the documented defaults.
func NewRequestOptions(opts ...Option) RequestOptions {
	o := RequestOptions{
		AutoStart:   true,
		Priority:    PriorityNormal,
		MaxAttempts: defaultMaxAttempts,
		Handler:     Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// HandlerOptions configures a ParallelHandler or SequentialHandler.
type HandlerOptions struct {
	// MaxDegreeOfParallelism caps the number of concurrently running
	// workers for ParallelHandler; ignored by SequentialHandler, which is
	// always exactly 1.
	MaxDegreeOfParallelism int
	// AutoDegreeOfParallelism, if non-nil, is consulted whenever the
	// handler needs a default DoP (i.e. none was explicitly set); it
	// defaults to runtime.GOMAXPROCS(0).
	AutoDegreeOfParallelism func() int
	Logger                  *log.Logger
	// AdmissionBurst/AdmissionEvery configure an optional rate limiter
	// throttling how fast retried requests may be re-admitted to the
	// channel during a mass-retry storm. Zero AdmissionEvery disables it.
	AdmissionEvery time.Duration
	AdmissionBurst int
	// FixedPriorityBuckets, if > 0, selects the dense-integer-bucket
	// channel backend (pchannel.FixedChannel) with this many buckets
	// instead of the default heap-backed pchannel.DynamicChannel. Use
	// this when priorities are known to be small contiguous integers and
	// heap bookkeeping would be wasted overhead.
	FixedPriorityBuckets int
}

// HandlerOption mutates HandlerOptions under construction.
type HandlerOption func(*HandlerOptions)

// WithMaxDegreeOfParallelism sets the worker cap for a ParallelHandler.
func WithMaxDegreeOfParallelism(n int) HandlerOption {
	return func(o *HandlerOptions) { o.MaxDegreeOfParallelism = n }
}

// WithAdmissionRateLimit throttles re-admission of retried requests.
func WithAdmissionRateLimit(every time.Duration, burst int) HandlerOption {
	return func(o *HandlerOptions) {
		o.AdmissionEvery = every
		o.AdmissionBurst = burst
	}
}

// WithFixedPriorityBuckets selects the fixed, dense-integer-bucket channel
// backend with the given number of buckets (priorities truncate to
// int(priority) and must fall in [0, buckets)) instead of the default
// heap-backed dynamic channel. Appropriate when priorities are known ahead
// of time to be a small, dense set of integers.
func WithFixedPriorityBuckets(n int) HandlerOption {
	return func(o *HandlerOptions) { o.FixedPriorityBuckets = n }
}

// WithLogger overrides the handler's default stderr logger.
func WithLogger(l *log.Logger) HandlerOption {
	return func(o *HandlerOptions) { o.Logger = l }
}

func newHandlerOptions(opts ...HandlerOption) HandlerOptions {
	o := HandlerOptions{
		MaxDegreeOfParallelism: 0, // 0 means "use AutoDegreeOfParallelism"
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
