// Package engine implements the session lifecycle: the PENDING, QUEUED,
// IN_PROGRESS, CLOSED state machine, AI triage and chat, the transfer
// protocol, and agent assignment. All mutations of one session run under its
// per-session lock, so concurrent operations on the same session serialize.
package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/playdesk/playdesk/internal/ai"
	"github.com/playdesk/playdesk/internal/common/apperr"
	"github.com/playdesk/playdesk/internal/common/constants"
	"github.com/playdesk/playdesk/internal/common/logger"
	"github.com/playdesk/playdesk/internal/events/bus"
	"github.com/playdesk/playdesk/internal/queue"
	"github.com/playdesk/playdesk/internal/session/models"
	"github.com/playdesk/playdesk/internal/session/store"
	ticketmodels "github.com/playdesk/playdesk/internal/ticket/models"
	ws "github.com/playdesk/playdesk/pkg/websocket"
)

// TicketDirectory is the slice of the ticket service the engine needs.
// Satisfied by *ticketservice.Service; wired as an interface so engine tests
// run against a fake.
type TicketDirectory interface {
	Get(ctx context.Context, id string) (*ticketmodels.Ticket, error)
	GetGame(ctx context.Context, id string) (*ticketmodels.Game, error)
	GetIssueType(ctx context.Context, id string) (*ticketmodels.IssueType, error)
	ListUrgencyRules(ctx context.Context, enabledOnly bool) ([]*ticketmodels.UrgencyRule, error)
	UpdateStatus(ctx context.Context, id string, status ticketmodels.TicketStatus) (*ticketmodels.Ticket, error)
}

// AgentDirectory is the slice of the user service the engine needs: presence
// for the transfer decision and names for system notices.
type AgentDirectory interface {
	HasOnlineAgents(ctx context.Context) (bool, error)
	AgentName(ctx context.Context, id string) (string, error)
}

// Broadcaster delivers ordered notifications to everyone in a session room.
// Implemented by the WebSocket hub. Events that do not need ordering relative
// to the conversation go over the event bus instead.
type Broadcaster interface {
	ToSession(sessionID string, msg *ws.Message)
}

// Triager is the AI adapter surface the engine uses.
type Triager interface {
	TriageTicket(ctx context.Context, game *ticketmodels.Game, description, userKey string) *ai.TriageResult
	CredentialsFor(game *ticketmodels.Game) (ai.ProviderCredentials, error)
	Chat(ctx context.Context, query string, creds ai.ProviderCredentials, conversationHandle, userKey string) (*ai.ChatResult, error)
	Optimize(ctx context.Context, draft, background string, creds ai.ProviderCredentials, userKey string) string
}

// Engine drives session state. One instance per process.
type Engine struct {
	repo      store.Repository
	tickets   TicketDirectory
	agents    AgentDirectory
	scheduler *queue.Scheduler
	ai        Triager
	eventBus  bus.EventBus
	logger    *logger.Logger

	// autoAssign switches transfer to a push model: the top of the queue is
	// handed to the least-loaded online agent immediately.
	autoAssign bool

	bcMu        sync.RWMutex
	broadcaster Broadcaster

	locks sessionLocks

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewEngine creates the session engine. The broadcaster is wired later via
// SetBroadcaster because the hub depends on the engine.
func NewEngine(repo store.Repository, tickets TicketDirectory, agents AgentDirectory,
	scheduler *queue.Scheduler, aiAdapter Triager, eventBus bus.EventBus, log *logger.Logger) *Engine {
	return &Engine{
		repo:      repo,
		tickets:   tickets,
		agents:    agents,
		scheduler: scheduler,
		ai:        aiAdapter,
		eventBus:  eventBus,
		logger:    log.WithFields(zap.String("component", "session-engine")),
		locks:     sessionLocks{entries: make(map[string]*lockEntry)},
		stopCh:    make(chan struct{}),
	}
}

// SetBroadcaster wires the WebSocket hub.
func (e *Engine) SetBroadcaster(b Broadcaster) {
	e.bcMu.Lock()
	e.broadcaster = b
	e.bcMu.Unlock()
}

// EnableAutoAssign turns on push-model assignment on enqueue.
func (e *Engine) EnableAutoAssign(on bool) {
	e.autoAssign = on
}

// Stop cancels in-flight background triage and waits for it to finish.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

// Rebuild restores in-memory queue state from storage after a restart:
// re-enqueues every QUEUED session and seeds the wait-time estimator from
// recently closed sessions.
func (e *Engine) Rebuild(ctx context.Context) error {
	durations, err := e.repo.RecentServiceDurations(ctx, 50)
	if err != nil {
		e.logger.Warn("failed to load service-time history", zap.Error(err))
	}
	// Newest first from storage; feed oldest first so the rolling window ends
	// on the most recent samples.
	for i := len(durations) - 1; i >= 0; i-- {
		e.scheduler.RecordServiceTime(durations[i])
	}

	sessions, err := e.repo.ListQueuedSessions(ctx)
	if err != nil {
		return err
	}
	for _, session := range sessions {
		if session.QueuedAt == nil {
			e.logger.Warn("queued session without queuedAt, skipping",
				zap.String("session_id", session.ID))
			continue
		}
		in, err := e.scoreInput(ctx, session)
		if err != nil {
			e.logger.Warn("failed to rebuild queue entry",
				zap.String("session_id", session.ID), zap.Error(err))
			continue
		}
		if err := e.scheduler.Enqueue(session.GameID, &queue.Item{
			SessionID: session.ID,
			BaseScore: queue.BaseScore(in),
			Score:     queue.Score(in),
			QueuedAt:  *session.QueuedAt,
			CreatedAt: session.CreatedAt,
		}); err != nil {
			e.logger.Warn("failed to re-enqueue session",
				zap.String("session_id", session.ID), zap.Error(err))
		}
	}
	e.logger.Info("queue rebuilt", zap.Int("queued", len(sessions)))
	return nil
}

// scoreInput assembles the scorer snapshot for a session from its ticket and
// the urgency rule catalog. session.QueuedAt must be set.
func (e *Engine) scoreInput(ctx context.Context, session *models.Session) (queue.ScoreInput, error) {
	ticket, err := e.tickets.Get(ctx, session.TicketID)
	if err != nil {
		return queue.ScoreInput{}, err
	}
	var weights []int
	for _, id := range ticket.IssueTypeIDs {
		it, err := e.tickets.GetIssueType(ctx, id)
		if err != nil || !it.Enabled {
			continue
		}
		weights = append(weights, it.PriorityWeight)
	}
	rules, err := e.tickets.ListUrgencyRules(ctx, true)
	if err != nil {
		e.logger.Warn("failed to load urgency rules", zap.Error(err))
	}
	queuedAt := session.CreatedAt
	if session.QueuedAt != nil {
		queuedAt = *session.QueuedAt
	}
	return queue.ScoreInput{
		IssueTypeWeights: weights,
		Priority:         ticket.Priority,
		AIUrgency:        session.AIUrgency,
		Description:      ticket.Description,
		GameID:           ticket.GameID,
		Rules:            rules,
		QueuedAt:         queuedAt,
		Now:              time.Now().UTC(),
	}, nil
}

// withSession runs fn with the session loaded under its per-session lock.
func (e *Engine) withSession(ctx context.Context, sessionID string, fn func(session *models.Session) error) error {
	entry := e.locks.acquire(sessionID)
	defer e.locks.release(sessionID, entry)

	session, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	return fn(session)
}

func (e *Engine) loadSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := e.repo.GetSession(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("session not found")
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// persist runs a storage write, retrying transient failures on the fixed
// backoff schedule before giving up.
func (e *Engine) persist(ctx context.Context, op func(ctx context.Context) error) error {
	run := func() error {
		opCtx, cancel := context.WithTimeout(ctx, constants.StorageTimeout)
		defer cancel()
		return op(opCtx)
	}

	err := run()
	if err == nil || !isTransient(err) {
		return err
	}
	for _, delay := range constants.StorageRetryDelays {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if err = run(); err == nil || !isTransient(err) {
			return err
		}
	}
	return apperr.TransientStorage("storage unavailable").Wrap(err)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

func (e *Engine) publish(ctx context.Context, subject string, data map[string]interface{}) {
	if e.eventBus == nil {
		return
	}
	event := bus.NewEvent(subject, "session-engine", data)
	if err := e.eventBus.Publish(ctx, subject, event); err != nil {
		e.logger.Warn("failed to publish session event",
			zap.String("subject", subject), zap.Error(err))
	}
}

// broadcast fans a notification out to the session room, in call order.
func (e *Engine) broadcast(sessionID, action string, payload interface{}) {
	e.bcMu.RLock()
	b := e.broadcaster
	e.bcMu.RUnlock()
	if b == nil {
		return
	}
	msg, err := ws.NewNotification(action, payload)
	if err != nil {
		e.logger.Warn("failed to encode notification",
			zap.String("action", action), zap.Error(err))
		return
	}
	b.ToSession(sessionID, msg)
}

func (e *Engine) publishSessionEvent(ctx context.Context, subject string, session *models.Session) {
	e.publish(ctx, subject, map[string]interface{}{
		"session_id": session.ID,
		"ticket_id":  session.TicketID,
		"game_id":    session.GameID,
		"status":     string(session.Status),
	})
}

// sessionLocks is a refcounted keyed mutex: one lock per active session,
// removed when the last holder releases it.
type sessionLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (l *sessionLocks) acquire(id string) *lockEntry {
	l.mu.Lock()
	entry, ok := l.entries[id]
	if !ok {
		entry = &lockEntry{}
		l.entries[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return entry
}

func (l *sessionLocks) release(id string, entry *lockEntry) {
	entry.mu.Unlock()

	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, id)
	}
	l.mu.Unlock()
}
