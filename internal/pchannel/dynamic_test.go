package pchannel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDynamicChannelFIFOWithinPriority(t *testing.T) {
	c := NewDynamic[string](Options{InitialMaxDegreeOfParallelism: 1})
	_, _ = c.Write(5, "a")
	_, _ = c.Write(1, "b")
	_, _ = c.Write(3, "c")
	_, _ = c.Write(1, "d")
	_, _ = c.Write(2, "e")

	var got []string
	for {
		v, ok := c.TryRead()
		if !ok {
			break
		}
		got = append(got, v)
	}
	require.Equal(t, []string{"b", "d", "e", "c", "a"}, got)
}

func TestDynamicChannelBlockingRead(t *testing.T) {
	c := NewDynamic[int](Options{InitialMaxDegreeOfParallelism: 1})
	result := make(chan int, 1)
	go func() {
		v, err := c.Read(context.Background())
		require.NoError(t, err)
		result <- v
	}()

	time.Sleep(20 * time.Millisecond)
	_, _ = c.Write(1, 42)

	select {
	case v := <-result:
		require.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("read did not unblock after write")
	}
}

func TestDynamicChannelCompleteDrains(t *testing.T) {
	c := NewDynamic[int](Options{InitialMaxDegreeOfParallelism: 1})
	_, _ = c.Write(1, 1)
	require.True(t, c.TryComplete())
	require.False(t, c.TryComplete())

	_, ok := c.TryWrite(1, 2)
	require.False(t, ok)

	v, err := c.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, v)

	_, err = c.Read(context.Background())
	require.ErrorIs(t, err, ErrCompleted)
}

func TestDynamicChannelWaitToReadFalseWhenDrainedAndCompleted(t *testing.T) {
	c := NewDynamic[int](Options{InitialMaxDegreeOfParallelism: 1})
	c.TryComplete()
	ok, err := c.WaitToRead(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDynamicChannelReadCancelledContext(t *testing.T) {
	c := NewDynamic[int](Options{InitialMaxDegreeOfParallelism: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Read(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDynamicChannelTryRemove(t *testing.T) {
	c := NewDynamic[string](Options{InitialMaxDegreeOfParallelism: 1})
	tk, _ := c.Write(1, "a")
	_, _ = c.Write(1, "b")
	require.True(t, c.TryRemove(tk))
	v, _ := c.TryRead()
	require.Equal(t, "b", v)
}

func TestDoPControllerDeltas(t *testing.T) {
	d := newDoPController(2)
	require.Equal(t, 2, d.Value())
	d.Set(5)
	require.Equal(t, 5, d.Value())
	select {
	case delta := <-d.Deltas():
		require.Equal(t, 3, delta)
	default:
		t.Fatal("expected a delta event")
	}
}
