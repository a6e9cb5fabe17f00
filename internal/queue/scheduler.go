package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/playdesk/playdesk/internal/common/logger"
	"github.com/playdesk/playdesk/internal/events"
	"github.com/playdesk/playdesk/internal/events/bus"
)

var (
	// ErrNoAgentAvailable is returned when auto-assignment finds no online agent.
	ErrNoAgentAvailable = errors.New("no agent available")
	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("scheduler is already running")
)

// AgentLoad is one online agent's current workload.
type AgentLoad struct {
	AgentID     string
	InProgress  int
	LastLoginAt time.Time
}

// AgentProvider supplies the online-agent snapshot used for auto-assignment.
type AgentProvider interface {
	OnlineAgentLoads(ctx context.Context) ([]AgentLoad, error)
}

// Position is a session's standing in its partition.
type Position struct {
	Rank       int `json:"rank"`
	Ahead      int `json:"ahead"`
	ETAMinutes int `json:"eta_minutes"`
}

// serviceTimeSamples caps the rolling window for the wait estimate.
const serviceTimeSamples = 50

// Scheduler holds the per-game queue partitions and drives periodic aging
// rescores. Each partition serializes its own mutations; there is no ordering
// across partitions.
type Scheduler struct {
	mu         sync.RWMutex
	partitions map[string]*SessionQueue

	provider AgentProvider
	eventBus bus.EventBus
	logger   *logger.Logger

	rescoreInterval    time.Duration
	defaultServiceTime time.Duration

	stMu    sync.Mutex
	samples []time.Duration

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. The provider may be nil until wired via
// SetAgentProvider.
func NewScheduler(eventBus bus.EventBus, rescoreInterval, defaultServiceTime time.Duration, log *logger.Logger) *Scheduler {
	return &Scheduler{
		partitions:         make(map[string]*SessionQueue),
		eventBus:           eventBus,
		logger:             log.WithFields(zap.String("component", "queue-scheduler")),
		rescoreInterval:    rescoreInterval,
		defaultServiceTime: defaultServiceTime,
	}
}

// SetAgentProvider wires the online-agent snapshot source.
func (s *Scheduler) SetAgentProvider(provider AgentProvider) {
	s.mu.Lock()
	s.provider = provider
	s.mu.Unlock()
}

func (s *Scheduler) partition(gameID string) *SessionQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.partitions[gameID]
	if !ok {
		q = NewSessionQueue()
		s.partitions[gameID] = q
	}
	return q
}

// Enqueue adds a session to its game partition. Idempotent: enqueueing an
// already-queued session returns nil without reordering it.
func (s *Scheduler) Enqueue(gameID string, item *Item) error {
	err := s.partition(gameID).Enqueue(item)
	if errors.Is(err, ErrSessionExists) {
		return nil
	}
	return err
}

// Remove drops a session from its partition. Reports whether it was queued.
func (s *Scheduler) Remove(gameID, sessionID string) bool {
	return s.partition(gameID).Remove(sessionID)
}

// Contains reports whether the session is queued in the given partition.
func (s *Scheduler) Contains(gameID, sessionID string) bool {
	return s.partition(gameID).Contains(sessionID)
}

// Dequeue pops the highest-priority session from the partition, or nil.
func (s *Scheduler) Dequeue(gameID string) *Item {
	return s.partition(gameID).Dequeue()
}

// Position returns the session's rank, the count ahead of it, and the wait
// estimate. ok is false when the session is not queued.
func (s *Scheduler) Position(gameID, sessionID string) (Position, bool) {
	rank := s.partition(gameID).Rank(sessionID)
	if rank == 0 {
		return Position{}, false
	}
	ahead := rank - 1
	eta := time.Duration(ahead) * s.AvgServiceTime()
	return Position{
		Rank:       rank,
		Ahead:      ahead,
		ETAMinutes: int(eta.Round(time.Minute) / time.Minute),
	}, true
}

// List returns the partition's sessions in rank order.
func (s *Scheduler) List(gameID string) []*Item {
	return s.partition(gameID).List()
}

// TotalQueued returns the number of queued sessions across all partitions.
func (s *Scheduler) TotalQueued() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, q := range s.partitions {
		total += q.Len()
	}
	return total
}

// PickAgent selects the online agent with the fewest IN_PROGRESS sessions,
// ties broken by earliest lastLoginAt. Returns ErrNoAgentAvailable when no
// agent is online.
func (s *Scheduler) PickAgent(ctx context.Context) (string, error) {
	s.mu.RLock()
	provider := s.provider
	s.mu.RUnlock()
	if provider == nil {
		return "", ErrNoAgentAvailable
	}

	loads, err := provider.OnlineAgentLoads(ctx)
	if err != nil {
		return "", err
	}
	if len(loads) == 0 {
		return "", ErrNoAgentAvailable
	}

	best := loads[0]
	for _, load := range loads[1:] {
		if load.InProgress < best.InProgress ||
			(load.InProgress == best.InProgress && load.LastLoginAt.Before(best.LastLoginAt)) {
			best = load
		}
	}
	return best.AgentID, nil
}

// RecordServiceTime feeds one closed session's handling duration into the
// rolling wait estimate.
func (s *Scheduler) RecordServiceTime(d time.Duration) {
	if d <= 0 {
		return
	}
	s.stMu.Lock()
	defer s.stMu.Unlock()
	s.samples = append(s.samples, d)
	if len(s.samples) > serviceTimeSamples {
		s.samples = s.samples[len(s.samples)-serviceTimeSamples:]
	}
}

// AvgServiceTime returns the rolling median handling time, or the configured
// default when there is not enough data.
func (s *Scheduler) AvgServiceTime() time.Duration {
	s.stMu.Lock()
	defer s.stMu.Unlock()
	if len(s.samples) < 3 {
		return s.defaultServiceTime
	}
	sorted := make([]time.Duration, len(s.samples))
	copy(sorted, s.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}

// Rescore applies aging across all partitions and publishes position deltas
// for sessions whose rank changed.
func (s *Scheduler) Rescore(ctx context.Context, now time.Time) {
	s.mu.RLock()
	partitions := make(map[string]*SessionQueue, len(s.partitions))
	for gameID, q := range s.partitions {
		partitions[gameID] = q
	}
	s.mu.RUnlock()

	for gameID, q := range partitions {
		changed := q.Rescore(now)
		for sessionID, rank := range changed {
			s.publishPosition(ctx, gameID, sessionID, rank)
		}
	}
}

func (s *Scheduler) publishPosition(ctx context.Context, gameID, sessionID string, rank int) {
	if s.eventBus == nil {
		return
	}
	ahead := rank - 1
	eta := time.Duration(ahead) * s.AvgServiceTime()
	event := bus.NewEvent(events.QueuePositionChanged, "queue-scheduler", map[string]interface{}{
		"game_id":     gameID,
		"session_id":  sessionID,
		"position":    rank,
		"eta_minutes": int(eta.Round(time.Minute) / time.Minute),
	})
	if err := s.eventBus.Publish(ctx, events.QueuePositionChanged, event); err != nil {
		s.logger.Warn("failed to publish queue position event", zap.Error(err))
	}
}

// Start launches the periodic rescore loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.runMu.Unlock()

	s.logger.Info("queue scheduler starting",
		zap.Duration("rescore_interval", s.rescoreInterval))

	s.wg.Add(1)
	go s.rescoreLoop(ctx)
	return nil
}

// Stop halts the rescore loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.runMu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) rescoreLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.rescoreInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.Rescore(ctx, now)
		}
	}
}
