// Package store provides SQL-backed quick-reply storage.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/playdesk/playdesk/internal/db/dialect"
	"github.com/playdesk/playdesk/internal/quickreply/models"
)

// Store is a Repository backed by SQLite or PostgreSQL via sqlx.
type Store struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

// New creates a quick-reply store and initializes its schema.
func New(writer, reader *sqlx.DB) (*Store, error) {
	s := &Store{db: writer, ro: reader}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize quick-reply schema: %w", err)
	}
	return s, nil
}

// Close is a no-op; the store does not own the connection pool.
func (s *Store) Close() error { return nil }

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS quick_replies (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			is_favorite INTEGER NOT NULL DEFAULT 0,
			usage_count INTEGER NOT NULL DEFAULT 0,
			deleted_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quick_replies_owner ON quick_replies(owner_id, category)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

const columns = `id, owner_id, category, title, content, is_favorite, usage_count, deleted_at, created_at, updated_at`

func (s *Store) Create(ctx context.Context, qr *models.QuickReply) error {
	if qr.ID == "" {
		qr.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if qr.CreatedAt.IsZero() {
		qr.CreatedAt = now
	}
	qr.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO quick_replies (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), qr.ID, qr.OwnerID, qr.Category, qr.Title, qr.Content,
		dialect.BoolToInt(qr.IsFavorite), qr.UsageCount, qr.DeletedAt, qr.CreatedAt, qr.UpdatedAt)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*models.QuickReply, error) {
	qr := &models.QuickReply{}
	err := s.ro.GetContext(ctx, qr, s.ro.Rebind(
		`SELECT `+columns+` FROM quick_replies WHERE id = ? AND deleted_at IS NULL`), id)
	if err != nil {
		return nil, err
	}
	return qr, nil
}

func (s *Store) List(ctx context.Context, filters ListFilters) ([]*models.QuickReply, error) {
	conditions := []string{"deleted_at IS NULL"}
	var args []interface{}

	if filters.OwnerID != "" {
		conditions = append(conditions, "(owner_id = ? OR owner_id = '')")
		args = append(args, filters.OwnerID)
	}
	if filters.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, filters.Category)
	}
	if filters.Keyword != "" {
		like := dialect.Like(s.ro.DriverName())
		conditions = append(conditions, "(title "+like+" ? OR content "+like+" ?)")
		pattern := "%" + filters.Keyword + "%"
		args = append(args, pattern, pattern)
	}
	if filters.FavoriteOnly {
		conditions = append(conditions, "is_favorite = 1")
	}

	var replies []*models.QuickReply
	err := s.ro.SelectContext(ctx, &replies, s.ro.Rebind(
		`SELECT `+columns+` FROM quick_replies WHERE `+strings.Join(conditions, " AND ")+
			` ORDER BY usage_count DESC, title ASC`), args...)
	return replies, err
}

func (s *Store) ListCategories(ctx context.Context, ownerID string) ([]string, error) {
	var categories []string
	err := s.ro.SelectContext(ctx, &categories, s.ro.Rebind(`
		SELECT DISTINCT category FROM quick_replies
		WHERE deleted_at IS NULL AND category != '' AND (owner_id = ? OR owner_id = '')
		ORDER BY category ASC
	`), ownerID)
	return categories, err
}

func (s *Store) Update(ctx context.Context, qr *models.QuickReply) error {
	qr.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE quick_replies SET category = ?, title = ?, content = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`), qr.Category, qr.Title, qr.Content, qr.UpdatedAt, qr.ID)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

func (s *Store) SetFavorite(ctx context.Context, id string, favorite bool) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE quick_replies SET is_favorite = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`), dialect.BoolToInt(favorite), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

func (s *Store) IncrementUsage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE quick_replies SET usage_count = usage_count + 1, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

func (s *Store) SoftDelete(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE quick_replies SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`), now, now, id)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

func requireRowAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
