package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBurstThenDeny(t *testing.T) {
	k := NewKeyed(Limits{PerMinute: 200, Burst: 20}, time.Second, 10*time.Minute)
	now := time.Now()

	allowed := 0
	for i := 0; i < 25; i++ {
		ok, _ := k.AllowAt("conn-1", now)
		if ok {
			allowed++
		}
	}
	assert.Equal(t, 20, allowed, "burst of 20 should be admitted, the rest denied")
}

func TestContinuousRefill(t *testing.T) {
	k := NewKeyed(Limits{PerMinute: 200, Burst: 20}, time.Second, 10*time.Minute)
	now := time.Now()

	// Drain the burst.
	for i := 0; i < 20; i++ {
		ok, _ := k.AllowAt("conn-1", now)
		require.True(t, ok)
	}
	ok, _ := k.AllowAt("conn-1", now)
	require.False(t, ok)

	// 200/min refills ~3.33 tokens per second: after one second at least one
	// and at most five sends succeed.
	later := now.Add(time.Second)
	refilled := 0
	for i := 0; i < 5; i++ {
		if ok, _ := k.AllowAt("conn-1", later); ok {
			refilled++
		}
	}
	assert.GreaterOrEqual(t, refilled, 1)
	assert.LessOrEqual(t, refilled, 5)
}

func TestNoticeCooldown(t *testing.T) {
	k := NewKeyed(Limits{PerMinute: 60, Burst: 1}, time.Second, 10*time.Minute)
	now := time.Now()

	ok, _ := k.AllowAt("conn-1", now)
	require.True(t, ok)

	// First deny notifies, subsequent denies within the cooldown stay silent.
	_, notify := k.AllowAt("conn-1", now)
	assert.True(t, notify)
	_, notify = k.AllowAt("conn-1", now.Add(100*time.Millisecond))
	assert.False(t, notify)
	_, notify = k.AllowAt("conn-1", now.Add(1100*time.Millisecond))
	assert.True(t, notify, "cooldown elapsed, deny should notify again")
}

func TestKeysAreIndependent(t *testing.T) {
	k := NewKeyed(Limits{PerMinute: 60, Burst: 1}, time.Second, 10*time.Minute)
	now := time.Now()

	ok, _ := k.AllowAt("a", now)
	require.True(t, ok)
	ok, _ = k.AllowAt("a", now)
	require.False(t, ok)

	ok, _ = k.AllowAt("b", now)
	assert.True(t, ok, "key b has its own bucket")
}

func TestSweepAndForget(t *testing.T) {
	k := NewKeyed(Limits{PerMinute: 60, Burst: 1}, time.Second, 10*time.Minute)
	now := time.Now()

	k.AllowAt("a", now)
	k.AllowAt("b", now)
	require.Equal(t, 2, k.Len())

	k.Forget("a")
	assert.Equal(t, 1, k.Len())

	removed := k.Sweep(now.Add(11 * time.Minute))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, k.Len())
}
