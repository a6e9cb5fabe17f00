package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(id string, base float64, queuedAt time.Time) *Item {
	return &Item{SessionID: id, BaseScore: base, QueuedAt: queuedAt, CreatedAt: queuedAt}
}

func TestDequeueOrder(t *testing.T) {
	q := NewSessionQueue()
	now := time.Now()

	require.NoError(t, q.Enqueue(item("low", 10, now)))
	require.NoError(t, q.Enqueue(item("high", 90, now)))
	require.NoError(t, q.Enqueue(item("mid", 50, now)))

	assert.Equal(t, "high", q.Dequeue().SessionID)
	assert.Equal(t, "mid", q.Dequeue().SessionID)
	assert.Equal(t, "low", q.Dequeue().SessionID)
	assert.Nil(t, q.Dequeue())
}

func TestTieBreakByQueuedAt(t *testing.T) {
	q := NewSessionQueue()
	now := time.Now()

	require.NoError(t, q.Enqueue(item("later", 50, now)))
	require.NoError(t, q.Enqueue(item("earlier", 50, now.Add(-time.Minute))))

	assert.Equal(t, "earlier", q.Dequeue().SessionID)
	assert.Equal(t, "later", q.Dequeue().SessionID)
}

func TestEnqueueDuplicate(t *testing.T) {
	q := NewSessionQueue()
	now := time.Now()

	require.NoError(t, q.Enqueue(item("s1", 50, now)))
	assert.ErrorIs(t, q.Enqueue(item("s1", 80, now)), ErrSessionExists)
	assert.Equal(t, 1, q.Len())
}

func TestRemove(t *testing.T) {
	q := NewSessionQueue()
	now := time.Now()

	require.NoError(t, q.Enqueue(item("s1", 50, now)))
	require.NoError(t, q.Enqueue(item("s2", 60, now)))

	assert.True(t, q.Remove("s1"))
	assert.False(t, q.Remove("s1"))
	assert.False(t, q.Contains("s1"))
	assert.Equal(t, "s2", q.Dequeue().SessionID)
}

func TestRank(t *testing.T) {
	q := NewSessionQueue()
	now := time.Now()

	require.NoError(t, q.Enqueue(item("a", 90, now)))
	require.NoError(t, q.Enqueue(item("b", 50, now)))
	require.NoError(t, q.Enqueue(item("c", 70, now)))

	assert.Equal(t, 1, q.Rank("a"))
	assert.Equal(t, 2, q.Rank("c"))
	assert.Equal(t, 3, q.Rank("b"))
	assert.Equal(t, 0, q.Rank("missing"))
}

func TestListInRankOrder(t *testing.T) {
	q := NewSessionQueue()
	now := time.Now()

	require.NoError(t, q.Enqueue(item("b", 50, now)))
	require.NoError(t, q.Enqueue(item("a", 90, now)))
	require.NoError(t, q.Enqueue(item("c", 20, now)))

	list := q.List()
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].SessionID)
	assert.Equal(t, "b", list[1].SessionID)
	assert.Equal(t, "c", list[2].SessionID)
}

func TestRescoreAppliesAgingAndReportsRankChanges(t *testing.T) {
	q := NewSessionQueue()
	now := time.Now()

	// "old" has a lower base but has waited long enough that saturated aging
	// (+30) lifts it above "young".
	require.NoError(t, q.Enqueue(item("old", 40, now.Add(-time.Hour))))
	require.NoError(t, q.Enqueue(item("young", 50, now)))

	// At enqueue time Enqueue computed effective scores with aging already, so
	// "old" (70) is ahead of "young" (50). Advance far enough that "young"
	// saturates too and overtakes.
	changed := q.Rescore(now.Add(time.Hour))
	assert.Equal(t, map[string]int{"old": 2, "young": 1}, changed)
	assert.Equal(t, 1, q.Rank("young"))
}

func TestRescoreNoChangeReportsNothing(t *testing.T) {
	q := NewSessionQueue()
	now := time.Now()

	require.NoError(t, q.Enqueue(item("a", 90, now)))
	require.NoError(t, q.Enqueue(item("b", 50, now)))

	changed := q.Rescore(now.Add(time.Second))
	assert.Empty(t, changed)
}
