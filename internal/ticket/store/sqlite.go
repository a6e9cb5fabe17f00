// Package store provides SQL-backed ticket storage.
package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/playdesk/playdesk/internal/db/dialect"
	"github.com/playdesk/playdesk/internal/ticket/models"
)

// Store is a Repository backed by SQLite or PostgreSQL via sqlx.
type Store struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

// New creates a ticket store and initializes its schema.
func New(writer, reader *sqlx.DB) (*Store, error) {
	s := &Store{db: writer, ro: reader}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize ticket schema: %w", err)
	}
	return s, nil
}

// Close is a no-op; the store does not own the connection pool.
func (s *Store) Close() error { return nil }

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS games (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			ai_base_url TEXT NOT NULL DEFAULT '',
			ai_credential_ciphertext TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS game_servers (
			id TEXT PRIMARY KEY,
			game_id TEXT NOT NULL REFERENCES games(id),
			name TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS issue_types (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			priority_weight INTEGER NOT NULL DEFAULT 0,
			require_direct_transfer INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1,
			sort_order INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS urgency_rules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			keyword TEXT NOT NULL DEFAULT '',
			game_id TEXT NOT NULL DEFAULT '',
			ticket_priority TEXT NOT NULL DEFAULT '',
			priority_weight INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id TEXT PRIMARY KEY,
			ticket_no TEXT NOT NULL UNIQUE,
			token TEXT NOT NULL UNIQUE,
			game_id TEXT NOT NULL,
			server_id TEXT NOT NULL DEFAULT '',
			server_name TEXT NOT NULL DEFAULT '',
			server_key TEXT NOT NULL DEFAULT '',
			player_id_or_name TEXT NOT NULL,
			description TEXT NOT NULL,
			occurred_at TIMESTAMP,
			payment_order_no TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'NEW',
			priority TEXT NOT NULL DEFAULT 'NORMAL',
			primary_issue_type_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ticket_issue_types (
			ticket_id TEXT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
			issue_type_id TEXT NOT NULL,
			PRIMARY KEY (ticket_id, issue_type_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ticket_attachments (
			id TEXT PRIMARY KEY,
			ticket_id TEXT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
			file_url TEXT NOT NULL,
			file_name TEXT NOT NULL DEFAULT '',
			file_type TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS ticket_messages (
			id TEXT PRIMARY KEY,
			ticket_id TEXT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
			sender_id TEXT,
			content TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ticket_counters (
			day TEXT PRIMARY KEY,
			seq INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_game_status ON tickets(game_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_ticket_messages_ticket ON ticket_messages(ticket_id, created_at)`,
		// Open-ticket uniqueness: one non-terminal ticket per composite key.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_open_key
			ON tickets(game_id, server_key, player_id_or_name, primary_issue_type_id)
			WHERE status NOT IN ('RESOLVED', 'CLOSED')`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// newTicketToken generates an opaque URL-safe token for player access.
func newTicketToken() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "tk_" + base64.RawURLEncoding.EncodeToString(buf), nil
}

// CreateTicket inserts a ticket, allocating its daily-sequenced human number
// and access token. The sequence allocation and insert run in one transaction
// so concurrent creates never share a ticket number.
func (s *Store) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	if ticket.ID == "" {
		ticket.ID = uuid.New().String()
	}
	if ticket.Token == "" {
		token, err := newTicketToken()
		if err != nil {
			return fmt.Errorf("failed to generate ticket token: %w", err)
		}
		ticket.Token = token
	}
	if ticket.Status == "" {
		ticket.Status = models.TicketStatusNew
	}
	if ticket.Priority == "" {
		ticket.Priority = models.PriorityNormal
	}
	now := time.Now().UTC()
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = now
	}
	ticket.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if ticket.TicketNo == "" {
		day := now.Format("20060102")
		var seq int
		err = tx.QueryRowContext(ctx, tx.Rebind(`
			INSERT INTO ticket_counters (day, seq) VALUES (?, 1)
			ON CONFLICT(day) DO UPDATE SET seq = ticket_counters.seq + 1
			RETURNING seq
		`), day).Scan(&seq)
		if err != nil {
			return fmt.Errorf("failed to allocate ticket number: %w", err)
		}
		ticket.TicketNo = fmt.Sprintf("T-%s-%03d", day, seq)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO tickets (id, ticket_no, token, game_id, server_id, server_name, server_key,
			player_id_or_name, description, occurred_at, payment_order_no, status, priority,
			primary_issue_type_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), ticket.ID, ticket.TicketNo, ticket.Token, ticket.GameID, ticket.ServerID, ticket.ServerName,
		ticket.ServerKey(), ticket.PlayerIDOrName, ticket.Description, ticket.OccurredAt,
		ticket.PaymentOrderNo, ticket.Status, ticket.Priority, ticket.PrimaryIssueTypeID(),
		ticket.CreatedAt, ticket.UpdatedAt)
	if err != nil {
		return err
	}

	for _, issueTypeID := range ticket.IssueTypeIDs {
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO ticket_issue_types (ticket_id, issue_type_id) VALUES (?, ?)
		`), ticket.ID, issueTypeID)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

const ticketColumns = `id, ticket_no, token, game_id, server_id, server_name,
	player_id_or_name, description, occurred_at, payment_order_no, status, priority,
	created_at, updated_at`

func (s *Store) scanTicket(row *sql.Row) (*models.Ticket, error) {
	ticket := &models.Ticket{}
	err := row.Scan(&ticket.ID, &ticket.TicketNo, &ticket.Token, &ticket.GameID,
		&ticket.ServerID, &ticket.ServerName, &ticket.PlayerIDOrName, &ticket.Description,
		&ticket.OccurredAt, &ticket.PaymentOrderNo, &ticket.Status, &ticket.Priority,
		&ticket.CreatedAt, &ticket.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

func (s *Store) getTicketBy(ctx context.Context, column, value string) (*models.Ticket, error) {
	row := s.ro.QueryRowContext(ctx, s.ro.Rebind(
		`SELECT `+ticketColumns+` FROM tickets WHERE `+column+` = ?`), value)
	ticket, err := s.scanTicket(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadTicketRelations(ctx, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

func (s *Store) loadTicketRelations(ctx context.Context, ticket *models.Ticket) error {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT issue_type_id FROM ticket_issue_types WHERE ticket_id = ?
	`), ticket.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ticket.IssueTypeIDs = append(ticket.IssueTypeIDs, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	attRows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT id, ticket_id, file_url, file_name, file_type
		FROM ticket_attachments WHERE ticket_id = ?
	`), ticket.ID)
	if err != nil {
		return err
	}
	defer func() { _ = attRows.Close() }()
	for attRows.Next() {
		att := &models.Attachment{}
		if err := attRows.Scan(&att.ID, &att.TicketID, &att.FileURL, &att.FileName, &att.FileType); err != nil {
			return err
		}
		ticket.Attachments = append(ticket.Attachments, att)
	}
	return attRows.Err()
}

// GetTicket retrieves a ticket by ID including issue types and attachments.
func (s *Store) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	return s.getTicketBy(ctx, "id", id)
}

// GetTicketByToken retrieves a ticket by its opaque player token.
func (s *Store) GetTicketByToken(ctx context.Context, token string) (*models.Ticket, error) {
	return s.getTicketBy(ctx, "token", token)
}

// GetTicketByNo retrieves a ticket by its human-readable number.
func (s *Store) GetTicketByNo(ctx context.Context, ticketNo string) (*models.Ticket, error) {
	return s.getTicketBy(ctx, "ticket_no", ticketNo)
}

// FindOpenTicket returns the non-terminal ticket matching the composite key,
// or sql.ErrNoRows when none exists.
func (s *Store) FindOpenTicket(ctx context.Context, key OpenTicketKey) (*models.Ticket, error) {
	row := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT `+ticketColumns+` FROM tickets
		WHERE game_id = ? AND server_key = ? AND player_id_or_name = ? AND primary_issue_type_id = ?
			AND status NOT IN ('RESOLVED', 'CLOSED')
	`), key.GameID, key.ServerKey, key.PlayerIDOrName, key.IssueTypeID)
	ticket, err := s.scanTicket(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadTicketRelations(ctx, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

// UpdateTicketStatus sets the ticket status.
func (s *Store) UpdateTicketStatus(ctx context.Context, id string, status models.TicketStatus) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE tickets SET status = ?, updated_at = ? WHERE id = ?
	`), status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

// UpdateTicketPriority sets the declared priority.
func (s *Store) UpdateTicketPriority(ctx context.Context, id string, priority models.TicketPriority) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE tickets SET priority = ?, updated_at = ? WHERE id = ?
	`), priority, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

func requireRowAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SearchTickets returns tickets matching the filters plus the total count.
func (s *Store) SearchTickets(ctx context.Context, filters SearchFilters) ([]*models.Ticket, int, error) {
	var conditions []string
	var args []interface{}

	if filters.GameID != "" {
		conditions = append(conditions, "game_id = ?")
		args = append(args, filters.GameID)
	}
	if filters.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filters.Status)
	}
	if filters.Priority != "" {
		conditions = append(conditions, "priority = ?")
		args = append(args, filters.Priority)
	}
	if filters.Keyword != "" {
		like := dialect.Like(s.ro.DriverName())
		conditions = append(conditions,
			"(ticket_no "+like+" ? OR player_id_or_name "+like+" ? OR description "+like+" ?)")
		pattern := "%" + filters.Keyword + "%"
		args = append(args, pattern, pattern, pattern)
	}
	if filters.From != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filters.From.UTC())
	}
	if filters.To != nil {
		conditions = append(conditions, "created_at < ?")
		args = append(args, filters.To.UTC())
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.ro.QueryRowContext(ctx, s.ro.Rebind(
		`SELECT COUNT(*) FROM tickets`+where), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets` + where +
		` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filters.Offset)

	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(query), args...)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Ticket
	for rows.Next() {
		ticket := &models.Ticket{}
		err := rows.Scan(&ticket.ID, &ticket.TicketNo, &ticket.Token, &ticket.GameID,
			&ticket.ServerID, &ticket.ServerName, &ticket.PlayerIDOrName, &ticket.Description,
			&ticket.OccurredAt, &ticket.PaymentOrderNo, &ticket.Status, &ticket.Priority,
			&ticket.CreatedAt, &ticket.UpdatedAt)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, ticket := range result {
		if err := s.loadTicketRelations(ctx, ticket); err != nil {
			return nil, 0, err
		}
	}
	return result, total, nil
}

// AddAttachment links a file URL to a ticket.
func (s *Store) AddAttachment(ctx context.Context, att *models.Attachment) error {
	if att.ID == "" {
		att.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO ticket_attachments (id, ticket_id, file_url, file_name, file_type)
		VALUES (?, ?, ?, ?, ?)
	`), att.ID, att.TicketID, att.FileURL, att.FileName, att.FileType)
	return err
}
