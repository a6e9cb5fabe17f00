package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/playdesk/playdesk/internal/auth"
	"github.com/playdesk/playdesk/internal/common/apperr"
	"github.com/playdesk/playdesk/internal/common/logger"
	"github.com/playdesk/playdesk/internal/user/models"
)

type fakeRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: make(map[string]*models.User)}
}

func (f *fakeRepo) CreateUser(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	for _, existing := range f.users {
		if existing.Username == user.Username {
			return errUnique
		}
	}
	clone := *user
	f.users[user.ID] = &clone
	return nil
}

func (f *fakeRepo) GetUser(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *user
	return &clone, nil
}

func (f *fakeRepo) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Username == username {
			clone := *user
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeRepo) ListAgents(ctx context.Context) ([]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*models.User
	for _, user := range f.users {
		if user.Role == models.RoleAgent {
			clone := *user
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (f *fakeRepo) SetOnline(ctx context.Context, id string, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.users[id]; ok {
		user.IsOnline = online
	}
	return nil
}

func (f *fakeRepo) UpdateLastLogin(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.users[id]; ok {
		now := time.Now().UTC()
		user.LastLoginAt = &now
	}
	return nil
}

func (f *fakeRepo) CountOnlineAgents(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, user := range f.users {
		if user.Role == models.RoleAgent && user.IsOnline {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) Close() error { return nil }

func (f *fakeRepo) isOnline(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	return ok && user.IsOnline
}

var errUnique = &uniqueErr{}

type uniqueErr struct{}

func (*uniqueErr) Error() string { return "UNIQUE constraint failed: users.username" }

func newTestService(t *testing.T, repo *fakeRepo, grace time.Duration) *Service {
	t.Helper()
	issuer := auth.NewTokenIssuer("test-secret", time.Hour)
	svc := NewService(repo, nil, issuer, grace, logger.Default())
	t.Cleanup(svc.Close)
	return svc
}

func seedAgent(t *testing.T, repo *fakeRepo, username, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user := &models.User{
		Username:     username,
		PasswordHash: string(hash),
		DisplayName:  username,
		Role:         models.RoleAgent,
	}
	require.NoError(t, repo.CreateUser(context.Background(), user))
	return user
}

func TestEnsureAdminSeedsOnce(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, time.Minute)
	ctx := context.Background()

	require.NoError(t, svc.EnsureAdmin(ctx, "admin", "secret"))
	require.NoError(t, svc.EnsureAdmin(ctx, "admin", "secret"))

	user, err := repo.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, user.Role)
	assert.Len(t, repo.users, 1)
}

func TestEnsureAdminEmptyPasswordSkipsSeeding(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, time.Minute)

	require.NoError(t, svc.EnsureAdmin(context.Background(), "admin", ""))
	assert.Empty(t, repo.users)
}

func TestLogin(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, time.Minute)
	seedAgent(t, repo, "alice", "password1")
	ctx := context.Background()

	user, token, err := svc.Login(ctx, "alice", "password1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "alice", user.Username)

	stored, err := repo.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLoginAt)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, time.Minute)
	seedAgent(t, repo, "alice", "password1")
	ctx := context.Background()

	_, _, err := svc.Login(ctx, "alice", "wrong")
	assert.Equal(t, apperr.KindAuth, apperr.KindOf(err))

	_, _, err = svc.Login(ctx, "nobody", "password1")
	assert.Equal(t, apperr.KindAuth, apperr.KindOf(err))
}

func TestCreateAgentDuplicateUsername(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, time.Minute)
	ctx := context.Background()

	_, err := svc.CreateAgent(ctx, "bob", "pw", "Bob", models.RoleAgent)
	require.NoError(t, err)

	_, err = svc.CreateAgent(ctx, "bob", "pw", "Bob Again", models.RoleAgent)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestPresenceGraceKeepsAgentOnlineAcrossReconnect(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, 50*time.Millisecond)
	agent := seedAgent(t, repo, "alice", "pw")

	svc.MarkConnected(agent.ID)
	assert.True(t, repo.isOnline(agent.ID))

	// Drop and reconnect inside the grace window: stays online.
	svc.MarkDisconnected(agent.ID)
	time.Sleep(10 * time.Millisecond)
	svc.MarkConnected(agent.ID)
	time.Sleep(80 * time.Millisecond)
	assert.True(t, repo.isOnline(agent.ID))
}

func TestPresenceGraceExpiryMarksOffline(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, 20*time.Millisecond)
	agent := seedAgent(t, repo, "alice", "pw")

	svc.MarkConnected(agent.ID)
	svc.MarkDisconnected(agent.ID)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !repo.isOnline(agent.ID) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("agent was not marked offline after grace expiry")
}

func TestSecondConnectionHoldsPresence(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, 20*time.Millisecond)
	agent := seedAgent(t, repo, "alice", "pw")

	svc.MarkConnected(agent.ID)
	svc.MarkConnected(agent.ID)
	svc.MarkDisconnected(agent.ID)

	time.Sleep(60 * time.Millisecond)
	assert.True(t, repo.isOnline(agent.ID), "one live connection should keep the agent online")
}

func TestLogoutBypassesGrace(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, time.Minute)
	agent := seedAgent(t, repo, "alice", "pw")

	svc.MarkConnected(agent.ID)
	require.NoError(t, svc.Logout(context.Background(), agent.ID))
	assert.False(t, repo.isOnline(agent.ID))
}
