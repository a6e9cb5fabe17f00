package queue

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

var (
	// ErrSessionExists is returned when a session is already queued.
	ErrSessionExists = errors.New("session already exists in queue")
)

// Item is a queued session. BaseScore is fixed at enqueue time; the effective
// score adds the aging bonus, so rescoring needs no storage round-trip.
type Item struct {
	SessionID string
	BaseScore float64
	Score     float64 // effective score as of the last rescore
	QueuedAt  time.Time
	CreatedAt time.Time
	index     int // heap index, maintained by container/heap
}

// EffectiveScore returns the item's score at the given instant.
func (it *Item) EffectiveScore(now time.Time) float64 {
	return clamp(it.BaseScore + Aging(it.QueuedAt, now))
}

// less orders by score descending, then earlier queuedAt, then earlier
// createdAt. This is the single ordering used by both the heap and ranking.
func less(a, b *Item) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.QueuedAt.Equal(b.QueuedAt) {
		return a.QueuedAt.Before(b.QueuedAt)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// itemHeap implements heap.Interface.
type itemHeap []*Item

func (h itemHeap) Len() int            { return len(h) }
func (h itemHeap) Less(i, j int) bool  { return less(h[i], h[j]) }
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *itemHeap) Push(x interface{}) { it := x.(*Item); it.index = len(*h); *h = append(*h, it) }
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // avoid memory leak
	it.index = -1
	*h = old[0 : n-1]
	return it
}

// SessionQueue is one partition's priority queue of sessions.
type SessionQueue struct {
	mu    sync.RWMutex
	heap  itemHeap
	index map[string]*Item // lookup by session ID
}

// NewSessionQueue creates an empty queue.
func NewSessionQueue() *SessionQueue {
	q := &SessionQueue{
		heap:  make(itemHeap, 0),
		index: make(map[string]*Item),
	}
	heap.Init(&q.heap)
	return q
}

// Enqueue adds a session. Returns ErrSessionExists if already queued.
func (q *SessionQueue) Enqueue(item *Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.index[item.SessionID]; exists {
		return ErrSessionExists
	}
	item.Score = item.EffectiveScore(time.Now())
	heap.Push(&q.heap, item)
	q.index[item.SessionID] = item
	return nil
}

// Dequeue removes and returns the highest-priority session, or nil when the
// queue is empty.
func (q *SessionQueue) Dequeue() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil
	}
	item := heap.Pop(&q.heap).(*Item)
	delete(q.index, item.SessionID)
	return item
}

// Remove removes a specific session. Reports whether it was queued.
func (q *SessionQueue) Remove(sessionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, exists := q.index[sessionID]
	if !exists {
		return false
	}
	heap.Remove(&q.heap, item.index)
	delete(q.index, sessionID)
	return true
}

// Contains reports whether the session is queued.
func (q *SessionQueue) Contains(sessionID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := q.index[sessionID]
	return ok
}

// Rank returns the 1-based position of the session: 1 plus the number of
// queued sessions with a strictly higher ordering key. Returns 0 when the
// session is not queued.
func (q *SessionQueue) Rank(sessionID string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	item, exists := q.index[sessionID]
	if !exists {
		return 0
	}
	rank := 1
	for _, other := range q.heap {
		if other.SessionID != item.SessionID && less(other, item) {
			rank++
		}
	}
	return rank
}

// Rescore recomputes effective scores at the given instant and restores the
// heap invariant. Returns the sessions whose rank changed, with their new
// ranks.
func (q *SessionQueue) Rescore(now time.Time) map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil
	}

	before := q.ranksLocked()
	for _, item := range q.heap {
		item.Score = item.EffectiveScore(now)
	}
	heap.Init(&q.heap)
	after := q.ranksLocked()

	changed := make(map[string]int)
	for id, rank := range after {
		if before[id] != rank {
			changed[id] = rank
		}
	}
	return changed
}

func (q *SessionQueue) ranksLocked() map[string]int {
	ranks := make(map[string]int, len(q.heap))
	for _, item := range q.heap {
		rank := 1
		for _, other := range q.heap {
			if other.SessionID != item.SessionID && less(other, item) {
				rank++
			}
		}
		ranks[item.SessionID] = rank
	}
	return ranks
}

// Len returns the number of queued sessions.
func (q *SessionQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.heap)
}

// List returns a snapshot of queued sessions in rank order.
func (q *SessionQueue) List() []*Item {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]*Item, len(q.heap))
	copy(result, q.heap)
	sortItems(result)
	return result
}

func sortItems(items []*Item) {
	// Insertion sort; partitions are small and this keeps List allocation-free
	// beyond the snapshot copy.
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && less(items[j], items[j-1]); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
