package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/playdesk/playdesk/internal/ticket/models"
)

// Ticket message operations

// CreateTicketMessage appends an asynchronous reply to a ticket.
func (s *Store) CreateTicketMessage(ctx context.Context, msg *models.TicketMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	metadataJSON := "{}"
	if msg.Metadata != nil {
		metadataBytes, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to serialize ticket message metadata: %w", err)
		}
		metadataJSON = string(metadataBytes)
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO ticket_messages (id, ticket_id, sender_id, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), msg.ID, msg.TicketID, msg.SenderID, msg.Content, metadataJSON, msg.CreatedAt)
	return err
}

// ListTicketMessages returns all messages on a ticket ordered by creation time.
func (s *Store) ListTicketMessages(ctx context.Context, ticketID string) ([]*models.TicketMessage, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT id, ticket_id, sender_id, content, metadata, created_at
		FROM ticket_messages WHERE ticket_id = ? ORDER BY created_at ASC
	`), ticketID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.TicketMessage
	for rows.Next() {
		msg := &models.TicketMessage{}
		var metadataJSON string
		if err := rows.Scan(&msg.ID, &msg.TicketID, &msg.SenderID, &msg.Content, &metadataJSON, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if metadataJSON != "" && metadataJSON != "{}" {
			if err := json.Unmarshal([]byte(metadataJSON), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("failed to deserialize ticket message metadata: %w", err)
			}
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}
