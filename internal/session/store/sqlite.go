// Package store provides SQL-backed session storage.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/playdesk/playdesk/internal/db/dialect"
	"github.com/playdesk/playdesk/internal/session/models"
)

// Store is a Repository backed by SQLite or PostgreSQL via sqlx.
type Store struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

// New creates a session store and initializes its schema.
func New(writer, reader *sqlx.DB) (*Store, error) {
	s := &Store{db: writer, ro: reader}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}
	return s, nil
}

// Close is a no-op; the store does not own the connection pool.
func (s *Store) Close() error { return nil }

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			ticket_id TEXT NOT NULL,
			game_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			agent_id TEXT,
			priority_score REAL NOT NULL DEFAULT 0,
			detected_intent TEXT NOT NULL DEFAULT '',
			ai_urgency TEXT NOT NULL DEFAULT '',
			ai_conversation_handle TEXT NOT NULL DEFAULT '',
			allow_manual_transfer INTEGER NOT NULL DEFAULT 1,
			queued_at TIMESTAMP,
			started_at TIMESTAMP,
			closed_at TIMESTAMP,
			transfer_at TIMESTAMP,
			transfer_reason TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			sender_type TEXT NOT NULL,
			message_type TEXT NOT NULL DEFAULT 'TEXT',
			content TEXT NOT NULL,
			agent_id TEXT,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS satisfaction_ratings (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL UNIQUE REFERENCES sessions(id) ON DELETE CASCADE,
			rating INTEGER NOT NULL,
			comment TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_game_status ON sessions(game_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(agent_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_session_messages_session ON session_messages(session_id, created_at)`,
		// One live session per ticket, enforced at the storage layer.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_live_ticket
			ON sessions(ticket_id) WHERE status != 'CLOSED'`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

const sessionColumns = `id, ticket_id, game_id, status, agent_id, priority_score,
	detected_intent, ai_urgency, ai_conversation_handle, allow_manual_transfer,
	queued_at, started_at, closed_at, transfer_at, transfer_reason, metadata,
	created_at, updated_at`

// CreateSession inserts a new session. The live-session uniqueness index
// rejects a second non-closed session on the same ticket.
func (s *Store) CreateSession(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	if session.Status == "" {
		session.Status = models.StatusPending
	}

	metadataJSON, err := marshalMetadata(session.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), session.ID, session.TicketID, session.GameID, session.Status, session.AgentID,
		session.PriorityScore, session.DetectedIntent, session.AIUrgency,
		session.AIConversationHandle, dialect.BoolToInt(session.AllowManualTransfer),
		session.QueuedAt, session.StartedAt, session.ClosedAt, session.TransferAt,
		session.TransferReason, metadataJSON, session.CreatedAt, session.UpdatedAt)
	return err
}

// GetSession loads one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return s.getSessionBy(ctx, "id = ?", id)
}

// GetLiveSessionByTicket returns the ticket's single non-closed session, or
// sql.ErrNoRows when none exists.
func (s *Store) GetLiveSessionByTicket(ctx context.Context, ticketID string) (*models.Session, error) {
	return s.getSessionBy(ctx, "ticket_id = ? AND status != 'CLOSED'", ticketID)
}

func (s *Store) getSessionBy(ctx context.Context, where string, arg interface{}) (*models.Session, error) {
	row := s.ro.QueryRowContext(ctx, s.ro.Rebind(
		`SELECT `+sessionColumns+` FROM sessions WHERE `+where), arg)
	return scanSession(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	session := &models.Session{}
	var metadataJSON string
	err := row.Scan(&session.ID, &session.TicketID, &session.GameID, &session.Status,
		&session.AgentID, &session.PriorityScore, &session.DetectedIntent,
		&session.AIUrgency, &session.AIConversationHandle, &session.AllowManualTransfer,
		&session.QueuedAt, &session.StartedAt, &session.ClosedAt, &session.TransferAt,
		&session.TransferReason, &metadataJSON, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalMetadata(metadataJSON, &session.Metadata); err != nil {
		return nil, fmt.Errorf("failed to deserialize session metadata: %w", err)
	}
	return session, nil
}

// UpdateSession persists every mutable field of the session.
func (s *Store) UpdateSession(ctx context.Context, session *models.Session) error {
	session.UpdatedAt = time.Now().UTC()
	metadataJSON, err := marshalMetadata(session.Metadata)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, s.db.Rebind(updateSessionSQL), updateSessionArgs(session, metadataJSON)...)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

const updateSessionSQL = `
	UPDATE sessions SET
		status = ?, agent_id = ?, priority_score = ?, detected_intent = ?,
		ai_urgency = ?, ai_conversation_handle = ?, allow_manual_transfer = ?,
		queued_at = ?, started_at = ?, closed_at = ?, transfer_at = ?,
		transfer_reason = ?, metadata = ?, updated_at = ?
	WHERE id = ?`

func updateSessionArgs(session *models.Session, metadataJSON string) []interface{} {
	return []interface{}{
		session.Status, session.AgentID, session.PriorityScore, session.DetectedIntent,
		session.AIUrgency, session.AIConversationHandle,
		dialect.BoolToInt(session.AllowManualTransfer),
		session.QueuedAt, session.StartedAt, session.ClosedAt, session.TransferAt,
		session.TransferReason, metadataJSON, session.UpdatedAt, session.ID,
	}
}

// UpdateSessionWithMessage persists a state change together with its system
// notice so neither is visible without the other.
func (s *Store) UpdateSessionWithMessage(ctx context.Context, session *models.Session, msg *models.Message) error {
	session.UpdatedAt = time.Now().UTC()
	metadataJSON, err := marshalMetadata(session.Metadata)
	if err != nil {
		return err
	}
	prepareMessage(msg)
	msgMetadataJSON, err := marshalMetadata(msg.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, tx.Rebind(updateSessionSQL), updateSessionArgs(session, metadataJSON)...)
	if err != nil {
		return err
	}
	if err := requireRowAffected(result); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(insertMessageSQL),
		msg.ID, msg.SessionID, msg.SenderType, msg.MessageType, msg.Content,
		msg.AgentID, msgMetadataJSON, msg.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

// ListSessions returns a filtered page of sessions plus the total match count.
func (s *Store) ListSessions(ctx context.Context, filters ListFilters) ([]*models.Session, int, error) {
	var conditions []string
	var args []interface{}

	if filters.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filters.Status)
	}
	if filters.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, filters.AgentID)
	}
	if filters.GameID != "" {
		conditions = append(conditions, "game_id = ?")
		args = append(args, filters.GameID)
	}
	if filters.From != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, *filters.From)
	}
	if filters.To != nil {
		conditions = append(conditions, "created_at < ?")
		args = append(args, *filters.To)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.ro.GetContext(ctx, &total,
		s.ro.Rebind("SELECT COUNT(*) FROM sessions"+where), args...); err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	args = append(args, limit, filters.Offset)

	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(
		`SELECT `+sessionColumns+` FROM sessions`+where+
			` ORDER BY created_at DESC LIMIT ? OFFSET ?`), args...)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, session)
	}
	return sessions, total, rows.Err()
}

// ListQueuedSessions returns every queued session, oldest first, for rebuilding
// the in-memory queue after a restart.
func (s *Store) ListQueuedSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(
		`SELECT `+sessionColumns+` FROM sessions WHERE status = ? ORDER BY queued_at ASC`),
		models.StatusQueued)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// CountInProgressByAgent returns the agent's current concurrent session count.
func (s *Store) CountInProgressByAgent(ctx context.Context, agentID string) (int, error) {
	var count int
	err := s.ro.GetContext(ctx, &count, s.ro.Rebind(
		`SELECT COUNT(*) FROM sessions WHERE agent_id = ? AND status = ?`),
		agentID, models.StatusInProgress)
	return count, err
}

// InProgressLoads returns the in-progress session count per agent.
func (s *Store) InProgressLoads(ctx context.Context) (map[string]int, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(
		`SELECT agent_id, COUNT(*) FROM sessions
		 WHERE status = ? AND agent_id IS NOT NULL GROUP BY agent_id`),
		models.StatusInProgress)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	loads := make(map[string]int)
	for rows.Next() {
		var agentID string
		var count int
		if err := rows.Scan(&agentID, &count); err != nil {
			return nil, err
		}
		loads[agentID] = count
	}
	return loads, rows.Err()
}

// CountByStatus returns the session count per status, for metrics scrapes.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.ro.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM sessions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// RecentServiceDurations returns handling times (startedAt to closedAt) of the
// most recently closed agent-handled sessions, newest first.
func (s *Store) RecentServiceDurations(ctx context.Context, limit int) ([]time.Duration, error) {
	if limit <= 0 {
		limit = 50
	}
	expr := dialect.DurationMs(s.ro.DriverName(), "started_at", "closed_at")
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(
		`SELECT `+expr+` FROM sessions
		 WHERE status = ? AND started_at IS NOT NULL AND closed_at IS NOT NULL
		 ORDER BY closed_at DESC LIMIT ?`),
		models.StatusClosed, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var durations []time.Duration
	for rows.Next() {
		var ms float64
		if err := rows.Scan(&ms); err != nil {
			return nil, err
		}
		durations = append(durations, time.Duration(ms)*time.Millisecond)
	}
	return durations, rows.Err()
}

// CreateRating records the player's post-session rating. The unique constraint
// on session_id makes a second submission fail.
func (s *Store) CreateRating(ctx context.Context, rating *models.SatisfactionRating) error {
	if rating.ID == "" {
		rating.ID = uuid.New().String()
	}
	if rating.CreatedAt.IsZero() {
		rating.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO satisfaction_ratings (id, session_id, rating, comment, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), rating.ID, rating.SessionID, rating.Rating, rating.Comment, rating.CreatedAt)
	return err
}

// GetRatingBySession returns the session's rating, or sql.ErrNoRows.
func (s *Store) GetRatingBySession(ctx context.Context, sessionID string) (*models.SatisfactionRating, error) {
	rating := &models.SatisfactionRating{}
	err := s.ro.GetContext(ctx, rating, s.ro.Rebind(
		`SELECT id, session_id, rating, comment, created_at
		 FROM satisfaction_ratings WHERE session_id = ?`), sessionID)
	if err != nil {
		return nil, err
	}
	return rating, nil
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

func marshalMetadata(metadata map[string]interface{}) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to serialize metadata: %w", err)
	}
	return string(raw), nil
}

func unmarshalMetadata(raw string, into *map[string]interface{}) error {
	if raw == "" || raw == "{}" {
		return nil
	}
	return json.Unmarshal([]byte(raw), into)
}
