package reqflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerStatsCountsCompletionsAndRetries(t *testing.T) {
	h := NewParallelHandler(WithMaxDegreeOfParallelism(1))
	t.Cleanup(func() { h.Cancel(); h.Dispose() })

	calls := 0
	r := NewOwnRequest(func(ctx context.Context) (bool, error) {
		calls++
		return calls >= 2, nil
	}, WithHandler(h), WithMaxAttempts(3), WithAutoStart(false))
	require.NoError(t, r.Start())

	assert.Eventually(t, func() bool { return r.State() == StateCompleted }, time.Second, time.Millisecond)

	stats := h.Stats()
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Retries)
	assert.Equal(t, 1, stats.DegreeOfParallelism)
}
