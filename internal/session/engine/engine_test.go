package engine

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playdesk/playdesk/internal/ai"
	"github.com/playdesk/playdesk/internal/common/apperr"
	"github.com/playdesk/playdesk/internal/common/logger"
	"github.com/playdesk/playdesk/internal/queue"
	"github.com/playdesk/playdesk/internal/session/models"
	"github.com/playdesk/playdesk/internal/session/store"
	ticketmodels "github.com/playdesk/playdesk/internal/ticket/models"
	"github.com/playdesk/playdesk/internal/translation"
)

type fakeRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	messages []*models.Message
	ratings  map[string]*models.SatisfactionRating
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions: make(map[string]*models.Session),
		ratings:  make(map[string]*models.SatisfactionRating),
	}
}

func (f *fakeRepo) CreateSession(ctx context.Context, s *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	// One live session per ticket, like the partial unique index in storage.
	for _, existing := range f.sessions {
		if existing.TicketID == s.TicketID && existing.Status != models.StatusClosed {
			return errors.New("UNIQUE constraint failed: index 'idx_sessions_live_ticket'")
		}
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	clone := *s
	f.sessions[s.ID] = &clone
	return nil
}

func (f *fakeRepo) GetSession(ctx context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *s
	return &clone, nil
}

func (f *fakeRepo) GetLiveSessionByTicket(ctx context.Context, ticketID string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.TicketID == ticketID && s.Status.IsLive() {
			clone := *s
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeRepo) UpdateSession(ctx context.Context, s *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[s.ID]; !ok {
		return sql.ErrNoRows
	}
	clone := *s
	f.sessions[s.ID] = &clone
	return nil
}

func (f *fakeRepo) UpdateSessionWithMessage(ctx context.Context, s *models.Session, msg *models.Message) error {
	if err := f.UpdateSession(ctx, s); err != nil {
		return err
	}
	return f.CreateMessage(ctx, msg)
}

func (f *fakeRepo) ListSessions(ctx context.Context, filters store.ListFilters) ([]*models.Session, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Session
	for _, s := range f.sessions {
		if filters.Status != "" && s.Status != filters.Status {
			continue
		}
		clone := *s
		out = append(out, &clone)
	}
	return out, len(out), nil
}

func (f *fakeRepo) ListQueuedSessions(ctx context.Context) ([]*models.Session, error) {
	sessions, _, err := f.ListSessions(ctx, store.ListFilters{Status: models.StatusQueued})
	return sessions, err
}

func (f *fakeRepo) CountInProgressByAgent(ctx context.Context, agentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, s := range f.sessions {
		if s.Status == models.StatusInProgress && s.AgentID != nil && *s.AgentID == agentID {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) InProgressLoads(ctx context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	loads := make(map[string]int)
	for _, s := range f.sessions {
		if s.Status == models.StatusInProgress && s.AgentID != nil {
			loads[*s.AgentID]++
		}
	}
	return loads, nil
}

func (f *fakeRepo) CreateMessage(ctx context.Context, msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	clone := *msg
	f.messages = append(f.messages, &clone)
	return nil
}

func (f *fakeRepo) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			clone := *m
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeRepo) ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Message
	for _, m := range f.messages {
		if m.SessionID == sessionID {
			clone := *m
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeRepo) SetMessageTranslation(ctx context.Context, messageID, targetLang string, result *translation.Result) error {
	return nil
}

func (f *fakeRepo) CreateRating(ctx context.Context, r *models.SatisfactionRating) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ratings[r.SessionID]; ok {
		return errors.New("UNIQUE constraint failed: satisfaction_ratings.session_id")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	clone := *r
	f.ratings[r.SessionID] = &clone
	return nil
}

func (f *fakeRepo) GetRatingBySession(ctx context.Context, sessionID string) (*models.SatisfactionRating, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.ratings[sessionID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *r
	return &clone, nil
}

func (f *fakeRepo) RecentServiceDurations(ctx context.Context, limit int) ([]time.Duration, error) {
	return nil, nil
}

func (f *fakeRepo) Close() error { return nil }

func (f *fakeRepo) messagesOf(sessionID string, sender models.SenderType) []*models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Message
	for _, m := range f.messages {
		if m.SessionID == sessionID && m.SenderType == sender {
			out = append(out, m)
		}
	}
	return out
}

type fakeTickets struct {
	mu         sync.Mutex
	tickets    map[string]*ticketmodels.Ticket
	games      map[string]*ticketmodels.Game
	issueTypes map[string]*ticketmodels.IssueType
	rules      []*ticketmodels.UrgencyRule
	statuses   map[string]ticketmodels.TicketStatus
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{
		tickets:    make(map[string]*ticketmodels.Ticket),
		games:      make(map[string]*ticketmodels.Game),
		issueTypes: make(map[string]*ticketmodels.IssueType),
		statuses:   make(map[string]ticketmodels.TicketStatus),
	}
}

func (f *fakeTickets) Get(ctx context.Context, id string) (*ticketmodels.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok {
		return nil, apperr.NotFound("ticket not found")
	}
	return t, nil
}

func (f *fakeTickets) GetGame(ctx context.Context, id string) (*ticketmodels.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.games[id]
	if !ok {
		return nil, apperr.NotFound("game not found")
	}
	return g, nil
}

func (f *fakeTickets) GetIssueType(ctx context.Context, id string) (*ticketmodels.IssueType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.issueTypes[id]
	if !ok {
		return nil, apperr.NotFound("issue type not found")
	}
	return it, nil
}

func (f *fakeTickets) ListUrgencyRules(ctx context.Context, enabledOnly bool) ([]*ticketmodels.UrgencyRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rules, nil
}

func (f *fakeTickets) UpdateStatus(ctx context.Context, id string, status ticketmodels.TicketStatus) (*ticketmodels.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	t := f.tickets[id]
	if t != nil {
		t.Status = status
	}
	return t, nil
}

func (f *fakeTickets) statusOf(id string) ticketmodels.TicketStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

type fakeAI struct {
	triage   *ai.TriageResult
	chatText string
	chatErr  error
}

func (f *fakeAI) TriageTicket(ctx context.Context, game *ticketmodels.Game, description, userKey string) *ai.TriageResult {
	if f.triage != nil {
		return f.triage
	}
	return &ai.TriageResult{
		Text:           "How can I help?",
		DetectedIntent: "unknown",
		Urgency:        models.UrgencyNonUrgent,
	}
}

func (f *fakeAI) CredentialsFor(game *ticketmodels.Game) (ai.ProviderCredentials, error) {
	return ai.ProviderCredentials{BaseURL: "http://ai.test", APIKey: "key"}, nil
}

func (f *fakeAI) Chat(ctx context.Context, query string, creds ai.ProviderCredentials, conversationHandle, userKey string) (*ai.ChatResult, error) {
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return &ai.ChatResult{Text: f.chatText, ConversationHandle: "conv-1"}, nil
}

func (f *fakeAI) Optimize(ctx context.Context, draft, background string, creds ai.ProviderCredentials, userKey string) string {
	return "optimized: " + draft
}

type fakeAgents struct {
	online bool
	names  map[string]string
}

func (f *fakeAgents) HasOnlineAgents(ctx context.Context) (bool, error) {
	return f.online, nil
}

func (f *fakeAgents) AgentName(ctx context.Context, id string) (string, error) {
	if name, ok := f.names[id]; ok {
		return name, nil
	}
	return "", sql.ErrNoRows
}

type testEnv struct {
	engine    *Engine
	repo      *fakeRepo
	tickets   *fakeTickets
	ai        *fakeAI
	scheduler *queue.Scheduler
	agents    *fakeAgents
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:    newFakeRepo(),
		tickets: newFakeTickets(),
		ai:      &fakeAI{chatText: "AI says hi"},
		agents:  &fakeAgents{online: true, names: map[string]string{"agent-1": "Sam"}},
	}
	env.scheduler = queue.NewScheduler(nil, time.Minute, 3*time.Minute, logger.Default())
	env.engine = NewEngine(env.repo, env.tickets, env.agents, env.scheduler, env.ai, nil, logger.Default())
	t.Cleanup(env.engine.Stop)
	return env
}

func (env *testEnv) seedTicket(id string, issueTypeIDs ...string) *ticketmodels.Ticket {
	ticket := &ticketmodels.Ticket{
		ID:             id,
		TicketNo:       "T-20260824-001",
		GameID:         "game-1",
		PlayerIDOrName: "player-1",
		Description:    "cannot log in",
		Priority:       ticketmodels.PriorityNormal,
		IssueTypeIDs:   issueTypeIDs,
		Status:         ticketmodels.TicketStatusNew,
		CreatedAt:      time.Now().UTC(),
	}
	env.tickets.tickets[id] = ticket
	env.tickets.games["game-1"] = &ticketmodels.Game{ID: "game-1", Name: "Game", Enabled: true}
	return ticket
}

func (env *testEnv) seedSession(ticketID string, status models.SessionStatus) *models.Session {
	session := &models.Session{
		TicketID:            ticketID,
		GameID:              "game-1",
		Status:              status,
		AllowManualTransfer: true,
	}
	if status == models.StatusQueued {
		now := time.Now().UTC()
		session.QueuedAt = &now
	}
	_ = env.repo.CreateSession(context.Background(), session)
	return session
}

func TestStartForTicketRunsTriage(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.seedTicket("ticket-1")
	env.ai.triage = &ai.TriageResult{
		Text:           "Try resetting your password.",
		DetectedIntent: "account_access",
		Urgency:        models.UrgencyNonUrgent,
	}

	sessionID, err := env.engine.StartForTicket(context.Background(), ticket)
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	assert.Eventually(t, func() bool {
		session, err := env.repo.GetSession(context.Background(), sessionID)
		return err == nil && session.DetectedIntent == "account_access"
	}, 2*time.Second, 10*time.Millisecond)

	session, err := env.repo.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, session.Status)

	aiMsgs := env.repo.messagesOf(sessionID, models.SenderAI)
	require.Len(t, aiMsgs, 1)
	assert.Equal(t, "Try resetting your password.", aiMsgs[0].Content)
}

func TestStartForTicketDuplicateLiveSessionConflicts(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.seedTicket("ticket-1")
	env.seedSession("ticket-1", models.StatusPending)

	_, err := env.engine.StartForTicket(context.Background(), ticket)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestStartForTicketDirectTransferQueues(t *testing.T) {
	env := newTestEnv(t)
	env.tickets.issueTypes["it-payment"] = &ticketmodels.IssueType{
		ID: "it-payment", Name: "Payment", PriorityWeight: 70,
		RequireDirectTransfer: true, Enabled: true,
	}
	ticket := env.seedTicket("ticket-1", "it-payment")

	sessionID, err := env.engine.StartForTicket(context.Background(), ticket)
	require.NoError(t, err)

	session, err := env.repo.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, session.Status)
	assert.True(t, env.scheduler.Contains("game-1", sessionID))
	assert.GreaterOrEqual(t, session.PriorityScore, 70.0)
}

func TestStartForTicketDirectTransferNoAgentsConverts(t *testing.T) {
	env := newTestEnv(t)
	env.agents.online = false
	env.tickets.issueTypes["it-payment"] = &ticketmodels.IssueType{
		ID: "it-payment", Name: "Payment", RequireDirectTransfer: true, Enabled: true,
	}
	ticket := env.seedTicket("ticket-1", "it-payment")

	sessionID, err := env.engine.StartForTicket(context.Background(), ticket)
	require.NoError(t, err)

	session, err := env.repo.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, session.Status)
	assert.Equal(t, ticketmodels.TicketStatusWaiting, env.tickets.statusOf("ticket-1"))
}

func TestTransferQueuesWithPosition(t *testing.T) {
	env := newTestEnv(t)
	env.seedTicket("ticket-1")
	session := env.seedSession("ticket-1", models.StatusPending)

	result, err := env.engine.TransferToAgent(context.Background(), session.ID, "player asked", "")
	require.NoError(t, err)
	assert.False(t, result.ConvertedToTicket)
	require.NotNil(t, result.Position)
	assert.Equal(t, 1, result.Position.Rank)
	assert.Equal(t, models.StatusQueued, result.Session.Status)
	assert.Equal(t, "player asked", result.Session.TransferReason)

	stored, err := env.repo.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.QueuedAt)
	assert.True(t, env.scheduler.Contains("game-1", session.ID))
}

type staticLoads []queue.AgentLoad

func (s staticLoads) OnlineAgentLoads(ctx context.Context) ([]queue.AgentLoad, error) {
	return s, nil
}

func TestTransferAutoAssignsLeastLoadedAgent(t *testing.T) {
	env := newTestEnv(t)
	env.engine.EnableAutoAssign(true)
	env.scheduler.SetAgentProvider(staticLoads{
		{AgentID: "agent-2", InProgress: 3},
		{AgentID: "agent-1", InProgress: 1},
	})
	env.agents.names["agent-1"] = "Sam"
	env.seedTicket("ticket-1")
	session := env.seedSession("ticket-1", models.StatusPending)

	result, err := env.engine.TransferToAgent(context.Background(), session.ID, "player asked", "")
	require.NoError(t, err)
	assert.False(t, result.ConvertedToTicket)
	assert.Nil(t, result.Position)
	assert.Equal(t, models.StatusInProgress, result.Session.Status)
	require.NotNil(t, result.Session.AgentID)
	assert.Equal(t, "agent-1", *result.Session.AgentID)
	assert.False(t, env.scheduler.Contains("game-1", session.ID))

	notices := env.repo.messagesOf(session.ID, models.SenderSystem)
	require.NotEmpty(t, notices)
	assert.Contains(t, notices[len(notices)-1].Content, "Sam joined")
}

func TestTransferAutoAssignFallsBackToQueue(t *testing.T) {
	env := newTestEnv(t)
	env.engine.EnableAutoAssign(true)
	env.scheduler.SetAgentProvider(staticLoads{})
	env.seedTicket("ticket-1")
	session := env.seedSession("ticket-1", models.StatusPending)

	result, err := env.engine.TransferToAgent(context.Background(), session.ID, "player asked", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, result.Session.Status)
	require.NotNil(t, result.Position)
	assert.True(t, env.scheduler.Contains("game-1", session.ID))
}

func TestTransferPlayerUrgencyBoostsScore(t *testing.T) {
	env := newTestEnv(t)
	env.seedTicket("ticket-1")
	env.seedTicket("ticket-2")
	calm := env.seedSession("ticket-1", models.StatusPending)
	urgent := env.seedSession("ticket-2", models.StatusPending)

	calmResult, err := env.engine.TransferToAgent(context.Background(), calm.ID, "", "")
	require.NoError(t, err)
	urgentResult, err := env.engine.TransferToAgent(context.Background(), urgent.ID, "", models.UrgencyUrgent)
	require.NoError(t, err)

	assert.Equal(t, models.UrgencyUrgent, urgentResult.Session.AIUrgency)
	assert.Greater(t, urgentResult.Session.PriorityScore, calmResult.Session.PriorityScore)
	assert.Equal(t, 1, urgentResult.Position.Rank)
}

func TestTransferIdempotentWhenQueued(t *testing.T) {
	env := newTestEnv(t)
	env.seedTicket("ticket-1")
	session := env.seedSession("ticket-1", models.StatusPending)

	first, err := env.engine.TransferToAgent(context.Background(), session.ID, "first", "")
	require.NoError(t, err)
	second, err := env.engine.TransferToAgent(context.Background(), session.ID, "second", "")
	require.NoError(t, err)

	assert.Equal(t, first.Session.TransferReason, second.Session.TransferReason)
	assert.Equal(t, 1, second.Position.Rank)
}

func TestTransferNoAgentsConvertsToTicket(t *testing.T) {
	env := newTestEnv(t)
	env.agents.online = false
	env.seedTicket("ticket-1")
	session := env.seedSession("ticket-1", models.StatusPending)

	result, err := env.engine.TransferToAgent(context.Background(), session.ID, "need human", "")
	require.NoError(t, err)
	assert.True(t, result.ConvertedToTicket)
	assert.Equal(t, "T-20260824-001", result.TicketNo)
	assert.Equal(t, models.StatusClosed, result.Session.Status)
	assert.Equal(t, ticketmodels.TicketStatusWaiting, env.tickets.statusOf("ticket-1"))

	notices := env.repo.messagesOf(session.ID, models.SenderSystem)
	require.NotEmpty(t, notices)
	assert.Contains(t, notices[len(notices)-1].Content, "T-20260824-001")
}

func TestTransferDisallowedWhenManualTransferOff(t *testing.T) {
	env := newTestEnv(t)
	env.seedTicket("ticket-1")
	session := &models.Session{TicketID: "ticket-1", GameID: "game-1", Status: models.StatusPending}
	require.NoError(t, env.repo.CreateSession(context.Background(), session))

	_, err := env.engine.TransferToAgent(context.Background(), session.ID, "", "")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestAgentJoinClaimsQueuedSession(t *testing.T) {
	env := newTestEnv(t)
	env.seedTicket("ticket-1")
	session := env.seedSession("ticket-1", models.StatusPending)
	_, err := env.engine.TransferToAgent(context.Background(), session.ID, "", "")
	require.NoError(t, err)

	joined, err := env.engine.AgentJoin(context.Background(), session.ID, "agent-1", "Alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, joined.Status)
	require.NotNil(t, joined.AgentID)
	assert.Equal(t, "agent-1", *joined.AgentID)
	assert.False(t, env.scheduler.Contains("game-1", session.ID))
	assert.Equal(t, ticketmodels.TicketStatusInProgress, env.tickets.statusOf("ticket-1"))

	// Same agent joining again is a no-op.
	again, err := env.engine.AgentJoin(context.Background(), session.ID, "agent-1", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", *again.AgentID)

	// A different agent conflicts.
	_, err = env.engine.AgentJoin(context.Background(), session.ID, "agent-2", "Bob")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestAgentJoinRequiresQueuedState(t *testing.T) {
	env := newTestEnv(t)
	env.seedTicket("ticket-1")
	session := env.seedSession("ticket-1", models.StatusPending)

	_, err := env.engine.AgentJoin(context.Background(), session.ID, "agent-1", "Alice")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// Admin assignment takes a PENDING session directly.
	assigned, err := env.engine.Assign(context.Background(), session.ID, "agent-1", "Alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, assigned.Status)
}

func TestCloseByAgent(t *testing.T) {
	env := newTestEnv(t)
	env.seedTicket("ticket-1")
	session := env.seedSession("ticket-1", models.StatusPending)
	_, err := env.engine.Assign(context.Background(), session.ID, "agent-1", "Alice")
	require.NoError(t, err)

	_, err = env.engine.CloseByAgent(context.Background(), session.ID, "agent-2")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	closed, err := env.engine.CloseByAgent(context.Background(), session.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	assert.Equal(t, ticketmodels.TicketStatusResolved, env.tickets.statusOf("ticket-1"))

	// Idempotent.
	again, err := env.engine.CloseByAgent(context.Background(), session.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, again.Status)
}

func TestCloseByAgentCancelsQueuedSession(t *testing.T) {
	env := newTestEnv(t)
	env.seedTicket("ticket-1")
	session := env.seedSession("ticket-1", models.StatusPending)
	_, err := env.engine.TransferToAgent(context.Background(), session.ID, "", "")
	require.NoError(t, err)
	require.True(t, env.scheduler.Contains("game-1", session.ID))

	closed, err := env.engine.CloseByAgent(context.Background(), session.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, closed.Status)
	assert.False(t, env.scheduler.Contains("game-1", session.ID))
	assert.Equal(t, ticketmodels.TicketStatusWaiting, env.tickets.statusOf("ticket-1"))
}

func TestCloseByAgentPendingSessionLeavesTicketWaiting(t *testing.T) {
	env := newTestEnv(t)
	env.seedTicket("ticket-1")
	session := env.seedSession("ticket-1", models.StatusPending)

	closed, err := env.engine.CloseByAgent(context.Background(), session.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, closed.Status)
	assert.Equal(t, ticketmodels.TicketStatusWaiting, env.tickets.statusOf("ticket-1"))
}

func TestCloseByPlayerBeforeAgentLeavesTicketWaiting(t *testing.T) {
	env := newTestEnv(t)
	env.seedTicket("ticket-1")
	session := env.seedSession("ticket-1", models.StatusPending)

	closed, err := env.engine.CloseByPlayer(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, closed.Status)
	assert.Equal(t, ticketmodels.TicketStatusWaiting, env.tickets.statusOf("ticket-1"))
}

func TestCloseByPlayerRemovesFromQueue(t *testing.T) {
	env := newTestEnv(t)
	env.seedTicket("ticket-1")
	session := env.seedSession("ticket-1", models.StatusPending)
	_, err := env.engine.TransferToAgent(context.Background(), session.ID, "", "")
	require.NoError(t, err)
	require.True(t, env.scheduler.Contains("game-1", session.ID))

	_, err = env.engine.CloseByPlayer(context.Background(), session.ID)
	require.NoError(t, err)
	assert.False(t, env.scheduler.Contains("game-1", session.ID))
}

func TestPlayerMessagePendingGetsAIReply(t *testing.T) {
	env := newTestEnv(t)
	env.seedTicket("ticket-1")
	session := env.seedSession("ticket-1", models.StatusPending)

	result, err := env.engine.PlayerMessage(context.Background(), session.ID, "my account is gone")
	require.NoError(t, err)
	require.NotNil(t, result.Reply)
	assert.Equal(t, models.SenderAI, result.Reply.SenderType)
	assert.Equal(t, "AI says hi", result.Reply.Content)

	stored, err := env.repo.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, "conv-1", stored.AIConversationHandle)
}

func TestPlayerMessageSuggestsTransferOnHumanRequest(t *testing.T) {
	env := newTestEnv(t)
	env.seedTicket("ticket-1")
	session := env.seedSession("ticket-1", models.StatusPending)

	result, err := env.engine.PlayerMessage(context.Background(), session.ID, "I want to talk to a human")
	require.NoError(t, err)
	assert.True(t, result.TransferSuggested)

	result, err = env.engine.PlayerMessage(context.Background(), session.ID, "转人工")
	require.NoError(t, err)
	assert.True(t, result.TransferSuggested)

	result, err = env.engine.PlayerMessage(context.Background(), session.ID, "my purchase is missing")
	require.NoError(t, err)
	assert.False(t, result.TransferSuggested)
}

func TestPlayerMessageDetectsLanguageOnce(t *testing.T) {
	env := newTestEnv(t)
	env.seedTicket("ticket-1")
	session := env.seedSession("ticket-1", models.StatusPending)

	_, err := env.engine.PlayerMessage(context.Background(), session.ID, "充值没有到账")
	require.NoError(t, err)
	stored, err := env.repo.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, "zh", stored.PlayerLanguage())

	// A later English message does not overwrite the detected language.
	_, err = env.engine.PlayerMessage(context.Background(), session.ID, "hello?")
	require.NoError(t, err)
	stored, err = env.repo.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, "zh", stored.PlayerLanguage())
}

func TestDetectLanguageByScript(t *testing.T) {
	assert.Equal(t, "ja", detectLanguage("復旧のお願いします"))
	assert.Equal(t, "ko", detectLanguage("계정이 사라졌어요"))
	assert.Equal(t, "zh", detectLanguage("充值没有到账"))
	assert.Equal(t, "ru", detectLanguage("пропал аккаунт"))
	assert.Equal(t, "en", detectLanguage("my account is gone"))
	assert.Equal(t, "", detectLanguage("12345 !!!"))
}

func TestPlayerMessageAIFailureDegradesToNotice(t *testing.T) {
	env := newTestEnv(t)
	env.ai.chatErr = errors.New("provider down")
	env.seedTicket("ticket-1")
	session := env.seedSession("ticket-1", models.StatusPending)

	result, err := env.engine.PlayerMessage(context.Background(), session.ID, "hello?")
	require.NoError(t, err)
	require.NotNil(t, result.Reply)
	assert.Equal(t, models.SenderSystem, result.Reply.SenderType)
	assert.Equal(t, aiUnavailableNotice, result.Reply.Content)
}

func TestPlayerMessageInProgressHasNoAIReply(t *testing.T) {
	env := newTestEnv(t)
	env.seedTicket("ticket-1")
	session := env.seedSession("ticket-1", models.StatusPending)
	_, err := env.engine.Assign(context.Background(), session.ID, "agent-1", "Alice")
	require.NoError(t, err)

	result, err := env.engine.PlayerMessage(context.Background(), session.ID, "thanks")
	require.NoError(t, err)
	assert.Nil(t, result.Reply)
}

func TestPlayerMessageClosedSessionConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.seedTicket("ticket-1")
	session := env.seedSession("ticket-1", models.StatusPending)
	_, err := env.engine.CloseByPlayer(context.Background(), session.ID)
	require.NoError(t, err)

	_, err = env.engine.PlayerMessage(context.Background(), session.ID, "still there?")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestAgentMessageRequiresAssignment(t *testing.T) {
	env := newTestEnv(t)
	env.seedTicket("ticket-1")
	session := env.seedSession("ticket-1", models.StatusPending)
	_, err := env.engine.Assign(context.Background(), session.ID, "agent-1", "Alice")
	require.NoError(t, err)

	_, err = env.engine.AgentMessage(context.Background(), session.ID, "agent-2", "hi")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	msg, err := env.engine.AgentMessage(context.Background(), session.ID, "agent-1", "hi, Alice here")
	require.NoError(t, err)
	assert.Equal(t, models.SenderAgent, msg.SenderType)
}

func TestSubmitRating(t *testing.T) {
	env := newTestEnv(t)
	env.seedTicket("ticket-1")
	session := env.seedSession("ticket-1", models.StatusPending)

	_, err := env.engine.SubmitRating(context.Background(), session.ID, 5, "great")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "open session cannot be rated")

	_, err = env.engine.CloseByPlayer(context.Background(), session.ID)
	require.NoError(t, err)

	rating, err := env.engine.SubmitRating(context.Background(), session.ID, 5, "great")
	require.NoError(t, err)
	assert.Equal(t, 5, rating.Rating)

	_, err = env.engine.SubmitRating(context.Background(), session.ID, 4, "changed my mind")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = env.engine.SubmitRating(context.Background(), session.ID, 9, "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRebuildReenqueuesQueuedSessions(t *testing.T) {
	env := newTestEnv(t)
	env.seedTicket("ticket-1")
	session := env.seedSession("ticket-1", models.StatusQueued)

	require.NoError(t, env.engine.Rebuild(context.Background()))
	assert.True(t, env.scheduler.Contains("game-1", session.ID))

	pos, err := env.engine.Position(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pos.Rank)
}

func TestQueuedForWorkbench(t *testing.T) {
	env := newTestEnv(t)
	env.seedTicket("ticket-1")
	session := env.seedSession("ticket-1", models.StatusPending)
	_, err := env.engine.TransferToAgent(context.Background(), session.ID, "", "")
	require.NoError(t, err)

	queued, err := env.engine.QueuedForWorkbench(context.Background())
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, session.ID, queued[0].Session.ID)
	require.NotNil(t, queued[0].Position)
	assert.Equal(t, 1, queued[0].Position.Rank)
}
