package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/playdesk/playdesk/internal/session/models"
	"github.com/playdesk/playdesk/internal/translation"
)

// Session message operations

const insertMessageSQL = `
	INSERT INTO session_messages (id, session_id, sender_type, message_type, content, agent_id, metadata, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func prepareMessage(msg *models.Message) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.MessageType == "" {
		msg.MessageType = models.MessageText
	}
}

// CreateMessage appends one message to a session conversation.
func (s *Store) CreateMessage(ctx context.Context, msg *models.Message) error {
	prepareMessage(msg)
	metadataJSON, err := marshalMetadata(msg.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(insertMessageSQL),
		msg.ID, msg.SessionID, msg.SenderType, msg.MessageType, msg.Content,
		msg.AgentID, metadataJSON, msg.CreatedAt)
	return err
}

const messageColumns = `id, session_id, sender_type, message_type, content, agent_id, metadata, created_at`

// GetMessage loads one message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.ro.QueryRowContext(ctx, s.ro.Rebind(
		`SELECT `+messageColumns+` FROM session_messages WHERE id = ?`), id)
	return scanMessage(row)
}

// ListMessages returns all messages in a session in commit order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(
		`SELECT `+messageColumns+` FROM session_messages
		 WHERE session_id = ? ORDER BY created_at ASC, id ASC`), sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func scanMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var metadataJSON string
	err := row.Scan(&msg.ID, &msg.SessionID, &msg.SenderType, &msg.MessageType,
		&msg.Content, &msg.AgentID, &metadataJSON, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalMetadata(metadataJSON, &msg.Metadata); err != nil {
		return nil, err
	}
	return msg, nil
}

// SetMessageTranslation merges a cached translation into the message metadata
// under the translations key. Read-modify-write is safe here: all writes go
// through the single writer connection.
func (s *Store) SetMessageTranslation(ctx context.Context, messageID, targetLang string, result *translation.Result) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var metadataJSON string
	if err := tx.GetContext(ctx, &metadataJSON, tx.Rebind(
		`SELECT metadata FROM session_messages WHERE id = ?`), messageID); err != nil {
		return err
	}

	metadata := make(map[string]interface{})
	if metadataJSON != "" && metadataJSON != "{}" {
		if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
			return err
		}
	}
	translations, _ := metadata["translations"].(map[string]interface{})
	if translations == nil {
		translations = make(map[string]interface{})
		metadata["translations"] = translations
	}
	translations[targetLang] = result

	updated, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE session_messages SET metadata = ? WHERE id = ?`), string(updated), messageID); err != nil {
		return err
	}
	return tx.Commit()
}
