// Package ratelimit provides keyed token-bucket rate limiting built on
// golang.org/x/time/rate. Buckets refill continuously at perMinute/60 tokens
// per second and allow a configurable burst. Each key (connection, user,
// ticket token, IP) owns an independent bucket; idle buckets are swept.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limits describes one bucket class.
type Limits struct {
	PerMinute int
	Burst     int
}

// Rate returns the continuous refill rate.
func (l Limits) Rate() rate.Limit {
	return rate.Limit(float64(l.PerMinute) / 60.0)
}

type entry struct {
	limiter    *rate.Limiter
	lastSeen   time.Time
	lastNotice time.Time
}

// Keyed manages one token bucket per key.
type Keyed struct {
	mu             sync.Mutex
	buckets        map[string]*entry
	limits         Limits
	noticeCooldown time.Duration
	idleAfter      time.Duration
}

// NewKeyed creates a keyed limiter. noticeCooldown deduplicates deny notices
// per key; idleAfter controls when Sweep discards an unused bucket.
func NewKeyed(limits Limits, noticeCooldown, idleAfter time.Duration) *Keyed {
	return &Keyed{
		buckets:        make(map[string]*entry),
		limits:         limits,
		noticeCooldown: noticeCooldown,
		idleAfter:      idleAfter,
	}
}

// Allow reports whether one token is available for key right now.
func (k *Keyed) Allow(key string) bool {
	allowed, _ := k.AllowAt(key, time.Now())
	return allowed
}

// AllowNotice is Allow plus notice deduplication: when the send is denied,
// notify is true only if no deny notice was issued for key within the
// configured cooldown.
func (k *Keyed) AllowNotice(key string) (allowed, notify bool) {
	return k.allowNoticeAt(key, time.Now())
}

// AllowAt is Allow with an explicit clock, used by tests.
func (k *Keyed) AllowAt(key string, now time.Time) (allowed, notify bool) {
	return k.allowNoticeAt(key, now)
}

func (k *Keyed) allowNoticeAt(key string, now time.Time) (bool, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.buckets[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(k.limits.Rate(), k.limits.Burst)}
		k.buckets[key] = e
	}
	e.lastSeen = now

	if e.limiter.AllowN(now, 1) {
		return true, false
	}

	if e.lastNotice.IsZero() || now.Sub(e.lastNotice) >= k.noticeCooldown {
		e.lastNotice = now
		return false, true
	}
	return false, false
}

// Forget drops the bucket for key. Called on connection close.
func (k *Keyed) Forget(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.buckets, key)
}

// Sweep removes buckets idle longer than the configured window and returns
// the number removed.
func (k *Keyed) Sweep(now time.Time) int {
	k.mu.Lock()
	defer k.mu.Unlock()

	removed := 0
	for key, e := range k.buckets {
		if now.Sub(e.lastSeen) >= k.idleAfter {
			delete(k.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live buckets.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

// RunSweeper sweeps on the given interval until ctx is done.
func (k *Keyed) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			k.Sweep(now)
		}
	}
}
