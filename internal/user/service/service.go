// Package service implements staff account management and agent presence.
package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/playdesk/playdesk/internal/auth"
	"github.com/playdesk/playdesk/internal/common/apperr"
	"github.com/playdesk/playdesk/internal/common/logger"
	"github.com/playdesk/playdesk/internal/events"
	"github.com/playdesk/playdesk/internal/events/bus"
	"github.com/playdesk/playdesk/internal/user/models"
	"github.com/playdesk/playdesk/internal/user/store"
)

const presenceDBTimeout = 5 * time.Second

// SessionCounter reports how many sessions an agent is actively handling.
// Wired after construction to avoid a dependency cycle with the session engine.
type SessionCounter func(ctx context.Context, agentID string) (int, error)

type presenceEntry struct {
	conns int
	timer *time.Timer
}

// Service manages staff accounts, login, and agent presence.
//
// Presence uses a grace window: an agent whose last connection drops is kept
// online for the configured grace period so a page reload does not flap their
// availability. A reconnect within the window cancels the pending offline mark.
type Service struct {
	repo     store.Repository
	eventBus bus.EventBus
	issuer   *auth.TokenIssuer
	logger   *logger.Logger
	grace    time.Duration

	mu       sync.Mutex
	presence map[string]*presenceEntry
	counter  SessionCounter
	closed   bool
}

func NewService(repo store.Repository, eventBus bus.EventBus, issuer *auth.TokenIssuer, grace time.Duration, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		eventBus: eventBus,
		issuer:   issuer,
		logger:   log.WithFields(zap.String("component", "user-service")),
		grace:    grace,
		presence: make(map[string]*presenceEntry),
	}
}

// SetSessionCounter wires the active-session lookup used for agent status
// snapshots. Must be called before the gateway starts accepting connections.
func (s *Service) SetSessionCounter(counter SessionCounter) {
	s.mu.Lock()
	s.counter = counter
	s.mu.Unlock()
}

// Close cancels pending presence timers.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, entry := range s.presence {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	s.presence = make(map[string]*presenceEntry)
}

// EnsureAdmin seeds the bootstrap admin account if it does not exist yet.
// An empty password disables seeding.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	if password == "" {
		return nil
	}
	_, err := s.repo.GetUserByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user := &models.User{
		Username:     username,
		PasswordHash: string(hash),
		DisplayName:  username,
		Role:         models.RoleAdmin,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return err
	}
	s.logger.Info("seeded bootstrap admin account", zap.String("username", username))
	return nil
}

// Login verifies credentials and returns the user with a signed token.
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, string, error) {
	user, err := s.repo.GetUserByUsername(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", apperr.Unauthorized("invalid username or password")
	}
	if err != nil {
		return nil, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, "", apperr.Unauthorized("invalid username or password")
	}

	token, err := s.issuer.Issue(user.ID, user.Username, auth.Role(user.Role))
	if err != nil {
		return nil, "", err
	}
	if err := s.repo.UpdateLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("failed to stamp last login", zap.String("user_id", user.ID), zap.Error(err))
	}
	return user, token, nil
}

// Logout marks the user offline immediately, bypassing the presence grace.
func (s *Service) Logout(ctx context.Context, userID string) error {
	s.mu.Lock()
	if entry, ok := s.presence[userID]; ok {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(s.presence, userID)
	}
	s.mu.Unlock()

	if err := s.repo.SetOnline(ctx, userID, false); err != nil {
		return err
	}
	s.publishStatus(ctx, userID, false)
	return nil
}

// CreateAgent creates a new staff account. Admin only; enforced by the caller.
func (s *Service) CreateAgent(ctx context.Context, username, password, displayName string, role models.Role) (*models.User, error) {
	if username == "" || password == "" {
		return nil, apperr.Validation("username and password are required")
	}
	if role != models.RoleAdmin && role != models.RoleAgent {
		return nil, apperr.Validation("role must be ADMIN or AGENT")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	if displayName == "" {
		displayName = username
	}
	user := &models.User{
		Username:     username,
		PasswordHash: string(hash),
		DisplayName:  displayName,
		Role:         role,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("username already taken")
		}
		return nil, err
	}
	return user, nil
}

// GetUser retrieves a staff account by ID.
func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user not found")
	}
	return user, err
}

// AgentName returns the agent's display name, falling back to the username.
func (s *Service) AgentName(ctx context.Context, id string) (string, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return "", err
	}
	if user.DisplayName != "" {
		return user.DisplayName, nil
	}
	return user.Username, nil
}

// ListAgentStatuses returns a presence snapshot for every agent account.
func (s *Service) ListAgentStatuses(ctx context.Context) ([]*models.AgentStatus, error) {
	agents, err := s.repo.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	counter := s.counter
	s.mu.Unlock()

	result := make([]*models.AgentStatus, 0, len(agents))
	for _, agent := range agents {
		status := &models.AgentStatus{
			UserID:      agent.ID,
			Username:    agent.Username,
			DisplayName: agent.DisplayName,
			IsOnline:    agent.IsOnline,
		}
		if counter != nil {
			if n, err := counter(ctx, agent.ID); err == nil {
				status.ActiveSessions = n
			}
		}
		result = append(result, status)
	}
	return result, nil
}

// HasOnlineAgents reports whether any agent is currently available.
func (s *Service) HasOnlineAgents(ctx context.Context) (bool, error) {
	count, err := s.repo.CountOnlineAgents(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkConnected records a new realtime connection for a staff user.
// The first connection flips the user online.
func (s *Service) MarkConnected(userID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	entry, ok := s.presence[userID]
	if !ok {
		entry = &presenceEntry{}
		s.presence[userID] = entry
	}
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}
	entry.conns++
	first := entry.conns == 1
	s.mu.Unlock()

	if first {
		ctx, cancel := context.WithTimeout(context.Background(), presenceDBTimeout)
		defer cancel()
		if err := s.repo.SetOnline(ctx, userID, true); err != nil {
			s.logger.Error("failed to mark user online", zap.String("user_id", userID), zap.Error(err))
			return
		}
		s.publishStatus(ctx, userID, true)
	}
}

// MarkDisconnected records a dropped realtime connection. When the last
// connection drops, the offline mark is deferred by the grace window.
func (s *Service) MarkDisconnected(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	entry, ok := s.presence[userID]
	if !ok {
		return
	}
	entry.conns--
	if entry.conns > 0 {
		return
	}
	entry.conns = 0
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.timer = time.AfterFunc(s.grace, func() { s.markOffline(userID) })
}

func (s *Service) markOffline(userID string) {
	s.mu.Lock()
	entry, ok := s.presence[userID]
	if !ok || entry.conns > 0 || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.presence, userID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), presenceDBTimeout)
	defer cancel()
	if err := s.repo.SetOnline(ctx, userID, false); err != nil {
		s.logger.Error("failed to mark user offline", zap.String("user_id", userID), zap.Error(err))
		return
	}
	s.publishStatus(ctx, userID, false)
}

func (s *Service) publishStatus(ctx context.Context, userID string, online bool) {
	if s.eventBus == nil {
		return
	}
	event := bus.NewEvent(events.AgentStatusChanged, "user-service", map[string]interface{}{
		"user_id":   userID,
		"is_online": online,
	})
	if err := s.eventBus.Publish(ctx, events.AgentStatusChanged, event); err != nil {
		s.logger.Warn("failed to publish agent status event", zap.Error(err))
	}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
