package reqflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pausedOwn(t *testing.T, work func(ctx context.Context) (bool, error)) *OwnRequest {
	t.Helper()
	h := NewParallelHandler(WithMaxDegreeOfParallelism(4))
	t.Cleanup(func() { h.Cancel(); h.Dispose() })
	return NewOwnRequest(work, WithHandler(h), WithAutoStart(false))
}

func TestContainerAggregateStatePrecedence(t *testing.T) {
	c := NewContainer[*OwnRequest]()

	block := make(chan struct{})
	running := pausedOwn(t, func(ctx context.Context) (bool, error) {
		<-block
		return true, nil
	})
	idle := pausedOwn(t, func(ctx context.Context) (bool, error) { return true, nil })

	require.NoError(t, c.Add(running))
	require.NoError(t, c.Add(idle))
	// Force the second member to Idle without admitting it to a handler
	// (a member built with AutoStart false starts out Paused).
	idle.TrySetIdle()

	require.NoError(t, running.Start())
	// Idle member left un-started: Running should dominate Idle per the
	// precedence order (Failed > Running > Cancelled > Idle > Waiting >
	// Completed > Paused).
	assert.Eventually(t, func() bool { return c.State() == StateRunning }, time.Second, time.Millisecond)

	close(block)
	assert.Eventually(t, func() bool { return running.State() == StateCompleted }, time.Second, time.Millisecond)
	// Now Completed vs. Idle: Idle dominates per the table.
	assert.Eventually(t, func() bool { return c.State() == StateIdle }, time.Second, time.Millisecond)
}

func TestContainerDoneResolvesWhenAllMembersTerminal(t *testing.T) {
	c := NewContainer[*OwnRequest]()
	a := pausedOwn(t, func(ctx context.Context) (bool, error) { return true, nil })
	b := pausedOwn(t, func(ctx context.Context) (bool, error) { return true, nil })
	require.NoError(t, c.AddRange([]*OwnRequest{a, b}))

	done := c.Done()
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("container Done() did not resolve")
	}
}

func TestContainerDoneReplacedOnMembershipGrowth(t *testing.T) {
	c := NewContainer[*OwnRequest]()
	a := pausedOwn(t, func(ctx context.Context) (bool, error) { return true, nil })
	require.NoError(t, c.Add(a))
	firstDone := c.Done()

	b := pausedOwn(t, func(ctx context.Context) (bool, error) {
		time.Sleep(20 * time.Millisecond)
		return true, nil
	})
	require.NoError(t, c.Add(b))
	secondDone := c.Done()
	assert.NotEqual(t, firstDone, secondDone)

	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	select {
	case <-secondDone:
	case <-time.After(time.Second):
		t.Fatal("replacement Done() channel did not resolve")
	}
}

func TestContainerRemoveDetachesSubscription(t *testing.T) {
	c := NewContainer[*OwnRequest]()
	a := pausedOwn(t, func(ctx context.Context) (bool, error) { return true, nil })
	require.NoError(t, c.Add(a))

	ok, err := c.Remove(a)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, c.Members())

	// a reaching a terminal state after removal must not affect the
	// (now-empty) container's aggregate state.
	require.NoError(t, a.Start())
	assert.Eventually(t, func() bool { return a.State() == StateCompleted }, time.Second, time.Millisecond)
	assert.Equal(t, StateIdle, c.State())
}

func TestContainerConcurrentMutationRejected(t *testing.T) {
	c := NewContainer[*OwnRequest]()
	c.writing.Store(true)
	a := pausedOwn(t, func(ctx context.Context) (bool, error) { return true, nil })
	err := c.Add(a)
	assert.ErrorIs(t, err, ErrContainerBusy)
}
