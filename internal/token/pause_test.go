package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPauseTokenWaitWhenNotPaused(t *testing.T) {
	p := NewPauseToken()
	require.NoError(t, p.WaitWhilePaused(context.Background()))
}

func TestPauseTokenBlocksUntilResume(t *testing.T) {
	p := NewPauseToken()
	p.Pause()

	done := make(chan struct{})
	go func() {
		_ = p.WaitWhilePaused(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("wait returned before resume")
	case <-time.After(20 * time.Millisecond):
	}

	p.Resume()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait did not return after resume")
	}
}

func TestPauseTokenCancelledContext(t *testing.T) {
	p := NewPauseToken()
	p.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.WaitWhilePaused(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPauseTokenResumeIdempotent(t *testing.T) {
	p := NewPauseToken()
	p.Resume()
	p.Resume()
	require.False(t, p.Paused())
}
