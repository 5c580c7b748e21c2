package token

import (
	"context"
	"sync"
)

// PauseToken is a two-state gate. Unlike CancelToken it is not one-shot:
// Pause/Resume may be called any number of times, and a waiter blocked in
// WaitWhilePaused is re-admitted as soon as Resume is called. It is cancel
// aware: if ctx is done while waiting, WaitWhilePaused returns ctx.Err().
type PauseToken struct {
	mu      sync.Mutex
	paused  bool
	release chan struct{} // closed and replaced on every Resume
}

// NewPauseToken returns a token starting in the resumed state.
func NewPauseToken() *PauseToken {
	return &PauseToken{release: make(chan struct{})}
}

// Pause puts the token into the paused state. Idempotent.
func (p *PauseToken) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

// Resume releases all current and future waiters until the next Pause.
// Idempotent.
func (p *PauseToken) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return
	}
	p.paused = false
	close(p.release)
	p.release = make(chan struct{})
}

// Paused reports the current state.
func (p *PauseToken) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// WaitWhilePaused blocks while the token is paused. It returns immediately
// (nil) if the token is not paused. It returns ctx.Err() if ctx is done
// before the token resumes.
func (p *PauseToken) WaitWhilePaused(ctx context.Context) error {
	for {
		p.mu.Lock()
		if !p.paused {
			p.mu.Unlock()
			return nil
		}
		release := p.release
		p.mu.Unlock()

		select {
		case <-release:
			// loop around: another Pause may have raced in already.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
