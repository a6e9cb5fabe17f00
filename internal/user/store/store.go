package store

import (
	"context"

	"github.com/playdesk/playdesk/internal/user/models"
)

type Repository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListAgents(ctx context.Context) ([]*models.User, error)
	SetOnline(ctx context.Context, id string, online bool) error
	UpdateLastLogin(ctx context.Context, id string) error
	CountOnlineAgents(ctx context.Context) (int, error)
	Close() error
}
