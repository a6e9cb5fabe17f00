package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/playdesk/playdesk/internal/db/dialect"
	"github.com/playdesk/playdesk/internal/ticket/models"
)

// Catalog operations: games, servers, issue types, urgency rules.

// CreateGame inserts a new game tenant.
func (s *Store) CreateGame(ctx context.Context, game *models.Game) error {
	if game.ID == "" {
		game.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if game.CreatedAt.IsZero() {
		game.CreatedAt = now
	}
	game.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO games (id, name, enabled, ai_base_url, ai_credential_ciphertext, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), game.ID, game.Name, dialect.BoolToInt(game.Enabled), game.AIBaseURL,
		game.AICredentialCiphertext, game.CreatedAt, game.UpdatedAt)
	return err
}

// GetGame retrieves a game by ID.
func (s *Store) GetGame(ctx context.Context, id string) (*models.Game, error) {
	game := &models.Game{}
	var enabled int
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT id, name, enabled, ai_base_url, ai_credential_ciphertext, created_at, updated_at
		FROM games WHERE id = ?
	`), id).Scan(&game.ID, &game.Name, &enabled, &game.AIBaseURL,
		&game.AICredentialCiphertext, &game.CreatedAt, &game.UpdatedAt)
	if err != nil {
		return nil, err
	}
	game.Enabled = enabled == 1
	return game, nil
}

// ListGames returns all games ordered by name.
func (s *Store) ListGames(ctx context.Context) ([]*models.Game, error) {
	rows, err := s.ro.QueryContext(ctx, `
		SELECT id, name, enabled, ai_base_url, ai_credential_ciphertext, created_at, updated_at
		FROM games ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Game
	for rows.Next() {
		game := &models.Game{}
		var enabled int
		if err := rows.Scan(&game.ID, &game.Name, &enabled, &game.AIBaseURL,
			&game.AICredentialCiphertext, &game.CreatedAt, &game.UpdatedAt); err != nil {
			return nil, err
		}
		game.Enabled = enabled == 1
		result = append(result, game)
	}
	return result, rows.Err()
}

// UpdateGame updates the game name, enabled flag, and AI settings.
func (s *Store) UpdateGame(ctx context.Context, game *models.Game) error {
	game.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE games SET name = ?, enabled = ?, ai_base_url = ?, ai_credential_ciphertext = ?, updated_at = ?
		WHERE id = ?
	`), game.Name, dialect.BoolToInt(game.Enabled), game.AIBaseURL,
		game.AICredentialCiphertext, game.UpdatedAt, game.ID)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

// CreateServer inserts a game shard.
func (s *Store) CreateServer(ctx context.Context, server *models.Server) error {
	if server.ID == "" {
		server.ID = uuid.New().String()
	}
	if server.CreatedAt.IsZero() {
		server.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO game_servers (id, game_id, name, enabled, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), server.ID, server.GameID, server.Name, dialect.BoolToInt(server.Enabled), server.CreatedAt)
	return err
}

// ListServers returns the servers of a game ordered by name.
func (s *Store) ListServers(ctx context.Context, gameID string) ([]*models.Server, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT id, game_id, name, enabled, created_at
		FROM game_servers WHERE game_id = ? ORDER BY name ASC
	`), gameID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Server
	for rows.Next() {
		server := &models.Server{}
		var enabled int
		if err := rows.Scan(&server.ID, &server.GameID, &server.Name, &enabled, &server.CreatedAt); err != nil {
			return nil, err
		}
		server.Enabled = enabled == 1
		result = append(result, server)
	}
	return result, rows.Err()
}

// CreateIssueType inserts an issue classification.
func (s *Store) CreateIssueType(ctx context.Context, it *models.IssueType) error {
	if it.ID == "" {
		it.ID = uuid.New().String()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO issue_types (id, name, priority_weight, require_direct_transfer, enabled, sort_order, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), it.ID, it.Name, it.PriorityWeight, dialect.BoolToInt(it.RequireDirectTransfer),
		dialect.BoolToInt(it.Enabled), it.SortOrder, it.CreatedAt)
	return err
}

// GetIssueType retrieves an issue type by ID.
func (s *Store) GetIssueType(ctx context.Context, id string) (*models.IssueType, error) {
	it := &models.IssueType{}
	var direct, enabled int
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT id, name, priority_weight, require_direct_transfer, enabled, sort_order, created_at
		FROM issue_types WHERE id = ?
	`), id).Scan(&it.ID, &it.Name, &it.PriorityWeight, &direct, &enabled, &it.SortOrder, &it.CreatedAt)
	if err != nil {
		return nil, err
	}
	it.RequireDirectTransfer = direct == 1
	it.Enabled = enabled == 1
	return it, nil
}

// ListIssueTypes returns issue types ordered by sort order.
func (s *Store) ListIssueTypes(ctx context.Context, enabledOnly bool) ([]*models.IssueType, error) {
	query := `
		SELECT id, name, priority_weight, require_direct_transfer, enabled, sort_order, created_at
		FROM issue_types`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY sort_order ASC, name ASC`

	rows, err := s.ro.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.IssueType
	for rows.Next() {
		it := &models.IssueType{}
		var direct, enabled int
		if err := rows.Scan(&it.ID, &it.Name, &it.PriorityWeight, &direct, &enabled, &it.SortOrder, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.RequireDirectTransfer = direct == 1
		it.Enabled = enabled == 1
		result = append(result, it)
	}
	return result, rows.Err()
}

// CreateUrgencyRule inserts a priority-boost rule.
func (s *Store) CreateUrgencyRule(ctx context.Context, rule *models.UrgencyRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO urgency_rules (id, name, keyword, game_id, ticket_priority, priority_weight, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), rule.ID, rule.Name, rule.Keyword, rule.GameID, rule.TicketPriority,
		rule.PriorityWeight, dialect.BoolToInt(rule.Enabled), rule.CreatedAt)
	return err
}

// ListUrgencyRules returns urgency rules, optionally only enabled ones.
func (s *Store) ListUrgencyRules(ctx context.Context, enabledOnly bool) ([]*models.UrgencyRule, error) {
	query := `
		SELECT id, name, keyword, game_id, ticket_priority, priority_weight, enabled, created_at
		FROM urgency_rules`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY priority_weight DESC`

	rows, err := s.ro.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.UrgencyRule
	for rows.Next() {
		rule := &models.UrgencyRule{}
		var enabled int
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Keyword, &rule.GameID,
			&rule.TicketPriority, &rule.PriorityWeight, &enabled, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rule.Enabled = enabled == 1
		result = append(result, rule)
	}
	return result, rows.Err()
}
