package store

import (
	"context"

	"github.com/playdesk/playdesk/internal/quickreply/models"
)

// ListFilters narrows quick-reply listings. Zero values are ignored.
type ListFilters struct {
	OwnerID      string // replies owned by this agent plus shared ones
	Category     string
	Keyword      string // matches title or content
	FavoriteOnly bool
}

type Repository interface {
	Create(ctx context.Context, qr *models.QuickReply) error
	Get(ctx context.Context, id string) (*models.QuickReply, error)
	List(ctx context.Context, filters ListFilters) ([]*models.QuickReply, error)
	ListCategories(ctx context.Context, ownerID string) ([]string, error)
	Update(ctx context.Context, qr *models.QuickReply) error
	SetFavorite(ctx context.Context, id string, favorite bool) error
	IncrementUsage(ctx context.Context, id string) error
	SoftDelete(ctx context.Context, id string) error
	Close() error
}
