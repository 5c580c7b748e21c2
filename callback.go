package reqflow

// CallbackSink accepts closures to be invoked on whatever execution context
// the host prefers (a UI thread bridge, an event loop, or simply "some
// goroutine"). The scheduler never invokes observer callbacks directly; it
// always posts through a sink, so a host application can marshal callbacks
// onto its own synchronization context.
type CallbackSink interface {
	Post(fn func())
}

// poolSink is the default CallbackSink: every Post spawns a goroutine.
// Suitable when the host has no preferred execution context of its own.
type poolSink struct{}

func (poolSink) Post(fn func()) {
	go fn()
}

// DefaultCallbackSink is the process-wide default used by requests and
// handlers that do not specify one explicitly.
var DefaultCallbackSink CallbackSink = poolSink{}
