// Package token implements the cooperative suspend/resume and cancellation
// primitives shared by requests, channels, and dispatchers.
package token

import (
	"context"
	"sync"
)

// CancelToken is a one-shot, idempotent cancellation signal with optional
// linked parents: cancelling any parent cancels the child. It is the
// in-process analogue of the teacher's per-task cancel funcs tracked in
// processor.cancelations, generalized to support composition.
type CancelToken struct {
	once     sync.Once
	done     chan struct{}
	mu       sync.Mutex
	err      error
	children []*CancelToken
}

// NewCancelToken returns a ready-to-use, uncancelled token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Link returns a new token that is cancelled whenever any of parents is
// cancelled (nil parents are skipped). Cancelling the returned child token only cancels the child,
// never the parents.
func Link(parents ...*CancelToken) *CancelToken {
	child := NewCancelToken()
	for _, p := range parents {
		if p == nil {
			continue
		}
		p.mu.Lock()
		if p.isCancelledLocked() {
			p.mu.Unlock()
			child.Cancel()
			continue
		}
		p.children = append(p.children, child)
		p.mu.Unlock()
	}
	return child
}

// Cancel marks the token cancelled. Safe to call multiple times and
// concurrently; only the first call has effect.
func (t *CancelToken) Cancel() {
	t.once.Do(func() {
		t.mu.Lock()
		children := t.children
		t.children = nil
		t.mu.Unlock()
		close(t.done)
		for _, c := range children {
			c.Cancel()
		}
	})
}

// Cancelled reports whether the token has fired.
func (t *CancelToken) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *CancelToken) isCancelledLocked() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the token is cancelled, mirroring
// context.Context.Done so CancelToken composes naturally with select
// statements alongside a context's own Done channel.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}

// Context returns a context.Context derived from parent that is also
// cancelled when t fires.
func (t *CancelToken) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	if t == nil {
		return ctx, cancel
	}
	stop := make(chan struct{})
	go func() {
		select {
		case <-t.Done():
			cancel()
		case <-stop:
		}
	}()
	return ctx, func() {
		close(stop)
		cancel()
	}
}
