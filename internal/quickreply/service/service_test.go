package service

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playdesk/playdesk/internal/common/apperr"
	"github.com/playdesk/playdesk/internal/common/logger"
	"github.com/playdesk/playdesk/internal/quickreply/models"
	"github.com/playdesk/playdesk/internal/quickreply/store"
)

type fakeRepo struct {
	mu      sync.Mutex
	replies map[string]*models.QuickReply
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{replies: make(map[string]*models.QuickReply)}
}

func (f *fakeRepo) Create(ctx context.Context, qr *models.QuickReply) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if qr.ID == "" {
		qr.ID = uuid.New().String()
	}
	clone := *qr
	f.replies[qr.ID] = &clone
	return nil
}

func (f *fakeRepo) Get(ctx context.Context, id string) (*models.QuickReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	qr, ok := f.replies[id]
	if !ok || qr.DeletedAt != nil {
		return nil, sql.ErrNoRows
	}
	clone := *qr
	return &clone, nil
}

func (f *fakeRepo) List(ctx context.Context, filters store.ListFilters) ([]*models.QuickReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.QuickReply
	for _, qr := range f.replies {
		if qr.DeletedAt != nil {
			continue
		}
		if filters.OwnerID != "" && qr.OwnerID != "" && qr.OwnerID != filters.OwnerID {
			continue
		}
		if filters.Category != "" && qr.Category != filters.Category {
			continue
		}
		if filters.Keyword != "" && !strings.Contains(qr.Title, filters.Keyword) &&
			!strings.Contains(qr.Content, filters.Keyword) {
			continue
		}
		if filters.FavoriteOnly && !qr.IsFavorite {
			continue
		}
		clone := *qr
		out = append(out, &clone)
	}
	return out, nil
}

func (f *fakeRepo) ListCategories(ctx context.Context, ownerID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, qr := range f.replies {
		if qr.DeletedAt != nil || qr.Category == "" || seen[qr.Category] {
			continue
		}
		seen[qr.Category] = true
		out = append(out, qr.Category)
	}
	return out, nil
}

func (f *fakeRepo) Update(ctx context.Context, qr *models.QuickReply) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.replies[qr.ID]
	if !ok || existing.DeletedAt != nil {
		return sql.ErrNoRows
	}
	clone := *qr
	f.replies[qr.ID] = &clone
	return nil
}

func (f *fakeRepo) SetFavorite(ctx context.Context, id string, favorite bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	qr, ok := f.replies[id]
	if !ok || qr.DeletedAt != nil {
		return sql.ErrNoRows
	}
	qr.IsFavorite = favorite
	return nil
}

func (f *fakeRepo) IncrementUsage(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	qr, ok := f.replies[id]
	if !ok || qr.DeletedAt != nil {
		return sql.ErrNoRows
	}
	qr.UsageCount++
	return nil
}

func (f *fakeRepo) SoftDelete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	qr, ok := f.replies[id]
	if !ok || qr.DeletedAt != nil {
		return sql.ErrNoRows
	}
	now := time.Now().UTC()
	qr.DeletedAt = &now
	return nil
}

func (f *fakeRepo) Close() error { return nil }

func newTestService() (*Service, *fakeRepo) {
	repo := newFakeRepo()
	return NewService(repo, logger.Default()), repo
}

func TestCreatePersonalAndShared(t *testing.T) {
	svc, _ := newTestService()

	personal, err := svc.Create(context.Background(), "agent-1",
		&models.QuickReply{Title: "Greeting", Content: "Hello!"}, false)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", personal.OwnerID)

	shared, err := svc.Create(context.Background(), "agent-1",
		&models.QuickReply{Title: "Refund policy", Content: "Our policy is..."}, true)
	require.NoError(t, err)
	assert.Empty(t, shared.OwnerID)

	// Another agent sees the shared reply but not the personal one.
	visible, err := svc.List(context.Background(), "agent-2", store.ListFilters{})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "Refund policy", visible[0].Title)
}

func TestCreateValidatesContent(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Create(context.Background(), "agent-1",
		&models.QuickReply{Title: " ", Content: "x"}, false)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestUpdateForeignReplyForbidden(t *testing.T) {
	svc, _ := newTestService()
	qr, err := svc.Create(context.Background(), "agent-1",
		&models.QuickReply{Title: "Mine", Content: "..."}, false)
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), "agent-2", qr.ID, "", "Stolen", "...")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	updated, err := svc.Update(context.Background(), "agent-1", qr.ID, "general", "Mine v2", "...")
	require.NoError(t, err)
	assert.Equal(t, "Mine v2", updated.Title)
}

func TestDeleteHidesReply(t *testing.T) {
	svc, _ := newTestService()
	qr, err := svc.Create(context.Background(), "agent-1",
		&models.QuickReply{Title: "Old", Content: "..."}, false)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), "agent-1", qr.ID))

	replies, err := svc.List(context.Background(), "agent-1", store.ListFilters{})
	require.NoError(t, err)
	assert.Empty(t, replies)

	err = svc.Delete(context.Background(), "agent-1", qr.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRecordUsageAndFavorite(t *testing.T) {
	svc, repo := newTestService()
	qr, err := svc.Create(context.Background(), "agent-1",
		&models.QuickReply{Title: "Common", Content: "..."}, true)
	require.NoError(t, err)

	require.NoError(t, svc.RecordUsage(context.Background(), qr.ID))
	require.NoError(t, svc.RecordUsage(context.Background(), qr.ID))
	require.NoError(t, svc.SetFavorite(context.Background(), "agent-1", qr.ID, true))

	stored, err := repo.Get(context.Background(), qr.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.UsageCount)
	assert.True(t, stored.IsFavorite)
}
