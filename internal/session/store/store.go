package store

import (
	"context"
	"time"

	"github.com/playdesk/playdesk/internal/session/models"
	"github.com/playdesk/playdesk/internal/translation"
)

// ListFilters narrows session listings. Zero values are ignored.
type ListFilters struct {
	Status  models.SessionStatus
	AgentID string
	GameID  string
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}

type Repository interface {
	// Sessions
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	GetLiveSessionByTicket(ctx context.Context, ticketID string) (*models.Session, error)
	UpdateSession(ctx context.Context, session *models.Session) error
	// UpdateSessionWithMessage persists a state change and its system notice
	// in one transaction, so a transition is never visible without its notice.
	UpdateSessionWithMessage(ctx context.Context, session *models.Session, msg *models.Message) error
	ListSessions(ctx context.Context, filters ListFilters) ([]*models.Session, int, error)
	ListQueuedSessions(ctx context.Context) ([]*models.Session, error)
	CountInProgressByAgent(ctx context.Context, agentID string) (int, error)
	InProgressLoads(ctx context.Context) (map[string]int, error)

	// Messages
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error)
	SetMessageTranslation(ctx context.Context, messageID, targetLang string, result *translation.Result) error

	// Ratings
	CreateRating(ctx context.Context, rating *models.SatisfactionRating) error
	GetRatingBySession(ctx context.Context, sessionID string) (*models.SatisfactionRating, error)

	// RecentServiceDurations returns agent handling times of recently closed
	// sessions, newest first, for seeding the wait-time estimator.
	RecentServiceDurations(ctx context.Context, limit int) ([]time.Duration, error)

	Close() error
}
