package reqflow

import "sync"

var (
	defaultMu      sync.Mutex
	defaultOnce    sync.Once
	defaultHandler *ParallelHandler
)

// Default returns the lazily constructed, process-wide ParallelHandler
// used by requests whose options omit an explicit Handler. Its lifecycle
// is tied to the process: call Shutdown to tear it down deterministically
// (primarily useful in tests), after which a fresh call to Default starts
// a new instance.
func Default() *ParallelHandler {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultOnce.Do(func() {
		defaultHandler = NewParallelHandler()
	})
	return defaultHandler
}

// Shutdown cancels and disposes the current process-wide default handler,
// if one was ever constructed, and resets Default() to build a fresh one
// on next use.
func Shutdown() {
	defaultMu.Lock()
	h := defaultHandler
	defaultHandler = nil
	defaultOnce = sync.Once{}
	defaultMu.Unlock()

	if h != nil {
		h.Cancel()
		h.Dispose()
	}
}
