package engine

import (
	"context"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/playdesk/playdesk/internal/common/apperr"
	"github.com/playdesk/playdesk/internal/session/models"
	ws "github.com/playdesk/playdesk/pkg/websocket"
)

// aiUnavailableNotice is appended when the AI cannot answer a pending-stage
// player message; the conversation stays open so the player can transfer.
const aiUnavailableNotice = "The assistant is unavailable right now. You can transfer to a human agent."

// PlayerMessageResult is the outcome of a player message: the stored message
// and, during the AI stage, the reply that was generated for it.
// TransferSuggested is set when the message reads as a request for a human,
// so the client can offer the transfer path.
type PlayerMessageResult struct {
	Message           *models.Message `json:"message"`
	Reply             *models.Message `json:"reply,omitempty"`
	TransferSuggested bool            `json:"transfer_suggested,omitempty"`
}

// PlayerMessage appends a player message to a live session. While the session
// is PENDING the AI answers; once queued or handled by an agent no AI reply is
// generated.
func (e *Engine) PlayerMessage(ctx context.Context, sessionID, content string) (*PlayerMessageResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validation("content must not be empty")
	}

	var result *PlayerMessageResult
	err := e.withSession(ctx, sessionID, func(session *models.Session) error {
		if session.Status == models.StatusClosed {
			return apperr.Conflict("session is closed")
		}

		msg := &models.Message{
			SessionID:  session.ID,
			SenderType: models.SenderPlayer,
			Content:    content,
		}
		if err := e.persist(ctx, func(ctx context.Context) error {
			return e.repo.CreateMessage(ctx, msg)
		}); err != nil {
			return err
		}
		e.broadcast(session.ID, ws.ActionMessage, msg)
		result = &PlayerMessageResult{Message: msg}

		if session.PlayerLanguage() == "" {
			e.storePlayerLanguage(ctx, session, content)
		}

		if session.Status != models.StatusPending {
			return nil
		}
		result.Reply = e.aiReply(ctx, session, content)
		if session.AllowManualTransfer && detectTransferIntent(content) {
			result.TransferSuggested = true
		}
		return nil
	})
	return result, err
}

// transferKeywords mark a pending-stage player message as a request for a
// human agent.
var transferKeywords = []string{
	"human", "real person", "live agent", "real agent", "staff", "speak to someone",
	"人工", "转人工", "客服", "真人",
}

func detectTransferIntent(content string) bool {
	lowered := strings.ToLower(content)
	for _, kw := range transferKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// storePlayerLanguage records the language of the player's first message in
// the session metadata. Translation uses it as the default target when the
// agent translates a reply back to the player.
func (e *Engine) storePlayerLanguage(ctx context.Context, session *models.Session, content string) {
	lang := detectLanguage(content)
	if lang == "" {
		return
	}
	if session.Metadata == nil {
		session.Metadata = make(map[string]interface{})
	}
	session.Metadata["playerLanguage"] = lang
	if err := e.persist(ctx, func(ctx context.Context) error {
		return e.repo.UpdateSession(ctx, session)
	}); err != nil {
		e.logger.Warn("failed to persist player language",
			zap.String("session_id", session.ID), zap.Error(err))
	}
}

// detectLanguage classifies text by script. Kana wins over Han so Japanese
// text with kanji is not taken for Chinese; Latin-only text defaults to
// English.
func detectLanguage(text string) string {
	var hasHan, hasLetter bool
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r):
			return "ja"
		case unicode.Is(unicode.Hangul, r):
			return "ko"
		case unicode.Is(unicode.Cyrillic, r):
			return "ru"
		case unicode.Is(unicode.Arabic, r):
			return "ar"
		case unicode.Is(unicode.Thai, r):
			return "th"
		case unicode.Is(unicode.Han, r):
			hasHan = true
		case unicode.IsLetter(r):
			hasLetter = true
		}
	}
	if hasHan {
		return "zh"
	}
	if hasLetter {
		return "en"
	}
	return ""
}

// aiReply answers a pending-stage player message. Provider failures degrade to
// a system notice instead of failing the message delivery.
func (e *Engine) aiReply(ctx context.Context, session *models.Session, content string) *models.Message {
	reply := &models.Message{
		SessionID:   session.ID,
		SenderType:  models.SenderSystem,
		MessageType: models.MessageSystemNotice,
		Content:     aiUnavailableNotice,
	}

	chat, err := e.chat(ctx, session, content)
	if err != nil {
		e.logger.Warn("AI chat failed, degrading to notice",
			zap.String("session_id", session.ID), zap.Error(err))
	} else {
		reply = &models.Message{
			SessionID:  session.ID,
			SenderType: models.SenderAI,
			Content:    chat.Text,
		}
		if chat.ConversationHandle != "" && chat.ConversationHandle != session.AIConversationHandle {
			session.AIConversationHandle = chat.ConversationHandle
			if err := e.persist(ctx, func(ctx context.Context) error {
				return e.repo.UpdateSession(ctx, session)
			}); err != nil {
				e.logger.Warn("failed to persist conversation handle",
					zap.String("session_id", session.ID), zap.Error(err))
			}
		}
	}

	if err := e.persist(ctx, func(ctx context.Context) error {
		return e.repo.CreateMessage(ctx, reply)
	}); err != nil {
		e.logger.Error("failed to store AI reply",
			zap.String("session_id", session.ID), zap.Error(err))
		return nil
	}
	e.broadcast(session.ID, ws.ActionMessage, reply)
	return reply
}

func (e *Engine) chat(ctx context.Context, session *models.Session, content string) (*aiChat, error) {
	game, err := e.tickets.GetGame(ctx, session.GameID)
	if err != nil {
		return nil, err
	}
	creds, err := e.ai.CredentialsFor(game)
	if err != nil {
		return nil, err
	}
	chat, err := e.ai.Chat(ctx, content, creds, session.AIConversationHandle, "player:"+session.TicketID)
	if err != nil {
		return nil, err
	}
	return &aiChat{Text: chat.Text, ConversationHandle: chat.ConversationHandle}, nil
}

type aiChat struct {
	Text               string
	ConversationHandle string
}

// AgentMessage appends a reply from the assigned agent.
func (e *Engine) AgentMessage(ctx context.Context, sessionID, agentID, content string) (*models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validation("content must not be empty")
	}

	var out *models.Message
	err := e.withSession(ctx, sessionID, func(session *models.Session) error {
		if session.Status != models.StatusInProgress {
			return apperr.Conflict("session is not in progress")
		}
		if session.AgentID == nil || *session.AgentID != agentID {
			return apperr.Forbidden("only the assigned agent can reply in this session")
		}

		msg := &models.Message{
			SessionID:  session.ID,
			SenderType: models.SenderAgent,
			AgentID:    &agentID,
			Content:    content,
		}
		if err := e.persist(ctx, func(ctx context.Context) error {
			return e.repo.CreateMessage(ctx, msg)
		}); err != nil {
			return err
		}
		e.broadcast(session.ID, ws.ActionMessage, msg)
		out = msg
		return nil
	})
	return out, err
}

// ListMessages returns the session conversation in commit order.
func (e *Engine) ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	if _, err := e.loadSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return e.repo.ListMessages(ctx, sessionID)
}

// OptimizeDraft rewrites an agent draft with the AI provider. Best effort: any
// failure returns the draft unchanged.
func (e *Engine) OptimizeDraft(ctx context.Context, sessionID, agentID, draft string) (string, error) {
	if strings.TrimSpace(draft) == "" {
		return "", apperr.Validation("draft must not be empty")
	}
	session, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	game, err := e.tickets.GetGame(ctx, session.GameID)
	if err != nil {
		return draft, nil
	}
	creds, err := e.ai.CredentialsFor(game)
	if err != nil {
		e.logger.Warn("optimize skipped: no usable credentials",
			zap.String("session_id", sessionID), zap.Error(err))
		return draft, nil
	}
	return e.ai.Optimize(ctx, draft, session.DetectedIntent, creds, "agent:"+agentID), nil
}
