package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playdesk/playdesk/internal/common/logger"
)

type fakeAgents struct {
	loads []AgentLoad
}

func (f *fakeAgents) OnlineAgentLoads(ctx context.Context) ([]AgentLoad, error) {
	return f.loads, nil
}

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	return NewScheduler(nil, 10*time.Second, 3*time.Minute, logger.Default())
}

func TestEnqueueIsIdempotent(t *testing.T) {
	s := newTestScheduler(t)
	now := time.Now()

	require.NoError(t, s.Enqueue("g1", item("s1", 50, now)))
	require.NoError(t, s.Enqueue("g1", item("s1", 90, now)))
	assert.Equal(t, 1, s.TotalQueued())
}

func TestPartitionsAreIsolated(t *testing.T) {
	s := newTestScheduler(t)
	now := time.Now()

	require.NoError(t, s.Enqueue("g1", item("s1", 50, now)))
	require.NoError(t, s.Enqueue("g2", item("s2", 90, now)))

	pos, ok := s.Position("g1", "s1")
	require.True(t, ok)
	assert.Equal(t, 1, pos.Rank)

	// s2 lives in another partition and does not affect s1's rank.
	assert.False(t, s.Contains("g1", "s2"))
	assert.Equal(t, 2, s.TotalQueued())
}

func TestPositionUsesDefaultServiceTime(t *testing.T) {
	s := newTestScheduler(t)
	now := time.Now()

	require.NoError(t, s.Enqueue("g1", item("first", 90, now)))
	require.NoError(t, s.Enqueue("g1", item("second", 50, now)))

	pos, ok := s.Position("g1", "second")
	require.True(t, ok)
	assert.Equal(t, 2, pos.Rank)
	assert.Equal(t, 1, pos.Ahead)
	assert.Equal(t, 3, pos.ETAMinutes)

	_, ok = s.Position("g1", "missing")
	assert.False(t, ok)
}

func TestAvgServiceTimeMedian(t *testing.T) {
	s := newTestScheduler(t)

	// Not enough samples: fall back to default.
	s.RecordServiceTime(time.Minute)
	s.RecordServiceTime(2 * time.Minute)
	assert.Equal(t, 3*time.Minute, s.AvgServiceTime())

	s.RecordServiceTime(10 * time.Minute)
	assert.Equal(t, 2*time.Minute, s.AvgServiceTime())
}

func TestPickAgentPrefersLowestLoad(t *testing.T) {
	s := newTestScheduler(t)
	now := time.Now()
	s.SetAgentProvider(&fakeAgents{loads: []AgentLoad{
		{AgentID: "a1", InProgress: 3, LastLoginAt: now.Add(-time.Hour)},
		{AgentID: "a2", InProgress: 1, LastLoginAt: now},
		{AgentID: "a3", InProgress: 1, LastLoginAt: now.Add(-2 * time.Hour)},
	}})

	// a2 and a3 tie on load; a3 logged in earlier.
	agentID, err := s.PickAgent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a3", agentID)
}

func TestPickAgentNoAgents(t *testing.T) {
	s := newTestScheduler(t)
	s.SetAgentProvider(&fakeAgents{})

	_, err := s.PickAgent(context.Background())
	assert.ErrorIs(t, err, ErrNoAgentAvailable)
}

func TestDequeueHighestAcrossPartition(t *testing.T) {
	s := newTestScheduler(t)
	now := time.Now()

	require.NoError(t, s.Enqueue("g1", item("low", 10, now)))
	require.NoError(t, s.Enqueue("g1", item("high", 95, now)))

	got := s.Dequeue("g1")
	require.NotNil(t, got)
	assert.Equal(t, "high", got.SessionID)
}
