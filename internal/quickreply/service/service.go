// Package service implements quick-reply management: personal and shared
// canned responses with favorites and usage tracking.
package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/playdesk/playdesk/internal/common/apperr"
	"github.com/playdesk/playdesk/internal/common/logger"
	"github.com/playdesk/playdesk/internal/quickreply/models"
	"github.com/playdesk/playdesk/internal/quickreply/store"
)

type Service struct {
	repo   store.Repository
	logger *logger.Logger
}

func NewService(repo store.Repository, log *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: log.WithFields(zap.String("component", "quickreply-service")),
	}
}

// Create stores a new quick reply. shared=true makes it visible to all agents
// and requires no ownership; otherwise the reply belongs to its creator.
func (s *Service) Create(ctx context.Context, ownerID string, qr *models.QuickReply, shared bool) (*models.QuickReply, error) {
	if strings.TrimSpace(qr.Title) == "" || strings.TrimSpace(qr.Content) == "" {
		return nil, apperr.Validation("title and content are required")
	}
	if shared {
		qr.OwnerID = ""
	} else {
		qr.OwnerID = ownerID
	}
	if err := s.repo.Create(ctx, qr); err != nil {
		return nil, err
	}
	return qr, nil
}

// List returns the agent's own replies plus the shared ones.
func (s *Service) List(ctx context.Context, ownerID string, filters store.ListFilters) ([]*models.QuickReply, error) {
	filters.OwnerID = ownerID
	return s.repo.List(ctx, filters)
}

// Categories returns the distinct categories visible to the agent.
func (s *Service) Categories(ctx context.Context, ownerID string) ([]string, error) {
	return s.repo.ListCategories(ctx, ownerID)
}

// Update edits a reply. Only the owner may edit a personal reply; shared
// replies are editable by any staff member.
func (s *Service) Update(ctx context.Context, ownerID, id string, category, title, content string) (*models.QuickReply, error) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(content) == "" {
		return nil, apperr.Validation("title and content are required")
	}
	qr, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	qr.Category = category
	qr.Title = title
	qr.Content = content
	if err := s.repo.Update(ctx, qr); err != nil {
		return nil, wrapNotFound(err)
	}
	return qr, nil
}

// SetFavorite toggles the favorite flag.
func (s *Service) SetFavorite(ctx context.Context, ownerID, id string, favorite bool) error {
	if _, err := s.getOwned(ctx, ownerID, id); err != nil {
		return err
	}
	return wrapNotFound(s.repo.SetFavorite(ctx, id, favorite))
}

// RecordUsage bumps the usage counter when an agent inserts the reply.
func (s *Service) RecordUsage(ctx context.Context, id string) error {
	return wrapNotFound(s.repo.IncrementUsage(ctx, id))
}

// Delete soft-deletes a reply; it disappears from listings but stays stored.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := s.getOwned(ctx, ownerID, id); err != nil {
		return err
	}
	return wrapNotFound(s.repo.SoftDelete(ctx, id))
}

func (s *Service) getOwned(ctx context.Context, ownerID, id string) (*models.QuickReply, error) {
	qr, err := s.repo.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("quick reply not found")
	}
	if err != nil {
		return nil, err
	}
	if qr.OwnerID != "" && qr.OwnerID != ownerID {
		return nil, apperr.Forbidden("quick reply belongs to another agent")
	}
	return qr, nil
}

func wrapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("quick reply not found")
	}
	return err
}
