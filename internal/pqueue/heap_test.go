package pqueue

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFIFOWithinPriority(t *testing.T) {
	q := New[string]()
	priorities := []float64{5, 1, 3, 1, 2}
	payloads := []string{"a", "b", "c", "d", "e"}
	for i, p := range priorities {
		q.Enqueue(p, payloads[i])
	}

	var got []string
	for {
		item, ok := q.TryDequeue()
		if !ok {
			break
		}
		got = append(got, item.Value)
	}
	require.Equal(t, []string{"b", "d", "e", "c", "a"}, got)
}

func TestEmptyDequeue(t *testing.T) {
	q := New[int]()
	_, ok := q.TryDequeue()
	require.False(t, ok)
	_, ok = q.Peek()
	require.False(t, ok)
}

func TestHeapValidityUnderRandomOps(t *testing.T) {
	q := New[int]()
	r := rand.New(rand.NewSource(42))
	var seqs []uint64
	for i := 0; i < 500; i++ {
		switch r.Intn(3) {
		case 0, 1:
			seq := q.Enqueue(r.Float64()*100, i)
			seqs = append(seqs, seq)
			require.True(t, q.IsValid())
		case 2:
			if _, ok := q.TryDequeue(); ok {
				require.True(t, q.IsValid())
			}
		}
	}
	// remove a handful of still-present items by sequence.
	for _, seq := range seqs {
		if q.Contains(seq) {
			q.TryRemove(seq)
			require.True(t, q.IsValid())
		}
	}
}

func TestTryRemove(t *testing.T) {
	q := New[string]()
	seqA := q.Enqueue(1, "a")
	q.Enqueue(1, "b")
	q.Enqueue(1, "c")

	require.True(t, q.TryRemove(seqA))
	require.False(t, q.Contains(seqA))
	require.True(t, q.IsValid())

	var got []string
	for {
		item, ok := q.TryDequeue()
		if !ok {
			break
		}
		got = append(got, item.Value)
	}
	require.Equal(t, []string{"b", "c"}, got)
}

func TestToSliceSnapshot(t *testing.T) {
	q := New[int]()
	q.Enqueue(1, 10)
	q.Enqueue(2, 20)
	snap := q.ToSlice()
	require.Len(t, snap, 2)
}
