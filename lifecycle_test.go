package reqflow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, dop int) *ParallelHandler {
	t.Helper()
	h := NewParallelHandler(WithMaxDegreeOfParallelism(dop))
	t.Cleanup(func() { h.Cancel(); h.Dispose() })
	return h
}

// S2: retry until success.
func TestRetryUntilSuccess(t *testing.T) {
	h := newTestHandler(t, 1)
	var calls atomic.Int32
	results := []bool{false, false, true}

	r := NewOwnRequest(func(ctx context.Context) (bool, error) {
		i := calls.Add(1) - 1
		return results[i], nil
	}, WithHandler(h), WithMaxAttempts(3), WithAutoStart(false))
	require.NoError(t, r.Start())

	assert.Eventually(t, func() bool { return r.State() == StateCompleted }, time.Second, time.Millisecond)
	assert.Equal(t, 3, r.AttemptCount())
}

// S3: retry exhaustion.
func TestRetryExhaustion(t *testing.T) {
	h := newTestHandler(t, 1)

	r := NewOwnRequest(func(ctx context.Context) (bool, error) {
		return false, nil
	}, WithHandler(h), WithMaxAttempts(3), WithAutoStart(false))
	require.NoError(t, r.Start())

	assert.Eventually(t, func() bool { return r.State() == StateFailed }, time.Second, time.Millisecond)
	assert.Equal(t, 3, r.AttemptCount())
}

// S4: parallel bound. Five requests each sleeping 100ms under DoP=2 must
// never exceed 2 concurrently Running, and the whole batch must take
// between 250ms and 400ms (ceil(5/2)=3 rounds of ~100ms, with headroom).
func TestParallelBound(t *testing.T) {
	h := newTestHandler(t, 2)

	var mu sync.Mutex
	var running, maxRunning int
	start := time.Now()

	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		r := NewOwnRequest(func(ctx context.Context) (bool, error) {
			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()

			time.Sleep(100 * time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
			return true, nil
		}, WithHandler(h), WithAutoStart(false))
		r.SetEvents(Events{Completed: func(any) { wg.Done() }})
		require.NoError(t, r.Start())
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("batch did not complete")
	}

	elapsed := time.Since(start)
	assert.LessOrEqual(t, maxRunning, 2)
	assert.GreaterOrEqual(t, elapsed, 250*time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond)
}

// S5: pause/resume mid-work. Work performs 10 yields between 10ms sleeps.
// Pause() is called after 25ms; the request observes Paused at its next
// yield. Resuming lets it run to completion, having observed all 10 yields.
func TestPauseResumeMidWork(t *testing.T) {
	h := newTestHandler(t, 1)
	var yields atomic.Int32

	r := NewOwnRequest(func(ctx context.Context) (bool, error) {
		for i := 0; i < 10; i++ {
			if err := Yield(ctx); err != nil {
				return false, err
			}
			yields.Add(1)
			time.Sleep(10 * time.Millisecond)
		}
		return true, nil
	}, WithHandler(h), WithAutoStart(false))
	require.NoError(t, r.Start())

	time.Sleep(25 * time.Millisecond)
	r.Pause()
	assert.Eventually(t, func() bool { return r.State() == StatePaused }, time.Second, time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, r.Start())

	assert.Eventually(t, func() bool { return r.State() == StateCompleted }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(10), yields.Load())
}

// S6: subsequent chaining on success.
func TestSubsequentChainingOnSuccess(t *testing.T) {
	h := newTestHandler(t, 2)
	var aStarted, aCompleted, bStarted, bCompleted time.Time
	var mu sync.Mutex
	done := make(chan struct{})

	b := NewOwnRequest(func(ctx context.Context) (bool, error) {
		mu.Lock()
		bStarted = time.Now()
		mu.Unlock()
		return true, nil
	}, WithHandler(h), WithAutoStart(false))
	b.SetEvents(Events{Completed: func(any) {
		mu.Lock()
		bCompleted = time.Now()
		mu.Unlock()
		close(done)
	}})

	a := NewOwnRequest(func(ctx context.Context) (bool, error) {
		mu.Lock()
		aStarted = time.Now()
		mu.Unlock()
		time.Sleep(100 * time.Millisecond)
		return true, nil
	}, WithHandler(h), WithSubsequentRequest(b), WithAutoStart(false))
	a.SetEvents(Events{Completed: func(any) {
		mu.Lock()
		aCompleted = time.Now()
		mu.Unlock()
	}})

	require.NoError(t, a.Start())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subsequent chain did not complete")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, aStarted.Before(aCompleted))
	assert.True(t, aCompleted.Before(bStarted) || aCompleted.Equal(bStarted))
	assert.True(t, bStarted.Before(bCompleted) || bStarted.Equal(bCompleted))
	assert.Equal(t, StateCompleted, b.State())
}

// S7: subsequent cancellation on failure (here: cancellation of A disposes
// B, whose work must never run).
func TestSubsequentCancellationOnFailure(t *testing.T) {
	h := newTestHandler(t, 2)
	var bInvoked atomic.Bool

	b := NewOwnRequest(func(ctx context.Context) (bool, error) {
		bInvoked.Store(true)
		return true, nil
	}, WithHandler(h), WithAutoStart(false))

	block := make(chan struct{})
	a := NewOwnRequest(func(ctx context.Context) (bool, error) {
		<-block
		return true, nil
	}, WithHandler(h), WithSubsequentRequest(b), WithAutoStart(false))

	require.NoError(t, a.Start())
	assert.Eventually(t, func() bool { return a.State() == StateRunning }, time.Second, time.Millisecond)

	a.Cancel()
	close(block)

	assert.Eventually(t, func() bool { return b.State() == StateCancelled }, time.Second, time.Millisecond)
	assert.False(t, bInvoked.Load())
}
