package reqflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestProgressAveraging implements scenario S8: three members reporting
// 0.3, 0.6, 0.9 in turn should yield incremental averages 0.1, 0.3, 0.6.
func TestProgressAveraging(t *testing.T) {
	h := NewParallelHandler(WithMaxDegreeOfParallelism(1))
	t.Cleanup(func() { h.Cancel(); h.Dispose() })

	pc := NewProgressableContainer[*OwnRequest]()

	release := make(chan float64, 3)
	mk := func() *OwnRequest {
		return NewOwnRequest(func(ctx context.Context) (bool, error) {
			p, ok := <-release
			if !ok {
				return true, nil
			}
			ReportProgress(ctx, p)
			return true, nil
		}, WithHandler(h), WithAutoStart(false))
	}

	a, b, c := mk(), mk(), mk()
	require.NoError(t, pc.AddRange([]*OwnRequest{a, b, c}))

	var got []float64
	collect := func(timeout time.Duration) float64 {
		select {
		case v := <-pc.Progress():
			return v
		case <-time.After(timeout):
			t.Fatal("timed out waiting for progress event")
			return 0
		}
	}

	// Drain the recompute-on-add event (average of three zero values).
	collect(time.Second)

	require.NoError(t, a.Start())
	release <- 0.3
	got = append(got, collect(time.Second))

	require.NoError(t, b.Start())
	release <- 0.6
	got = append(got, collect(time.Second))

	require.NoError(t, c.Start())
	release <- 0.9
	got = append(got, collect(time.Second))

	require.InDeltaSlice(t, []float64{0.1, 0.3, 0.6}, got, 1e-9)
}
