package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCancelTokenIdempotent(t *testing.T) {
	c := NewCancelToken()
	require.False(t, c.Cancelled())
	c.Cancel()
	c.Cancel()
	require.True(t, c.Cancelled())
}

func TestCancelTokenLinkPropagates(t *testing.T) {
	parent := NewCancelToken()
	child := Link(parent)
	require.False(t, child.Cancelled())

	parent.Cancel()

	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("child token was not cancelled by parent")
	}
	require.True(t, child.Cancelled())
}

func TestLinkAlreadyCancelledParent(t *testing.T) {
	parent := NewCancelToken()
	parent.Cancel()
	child := Link(parent)
	require.True(t, child.Cancelled())
}

func TestCancelTokenMultipleParents(t *testing.T) {
	a, b := NewCancelToken(), NewCancelToken()
	child := Link(a, b)
	b.Cancel()
	require.True(t, child.Cancelled())
	require.False(t, a.Cancelled())
}
