// Package ai calls the external conversational-AI provider for ticket triage,
// follow-up chat, and agent draft optimization. It is the only component that
// handles plaintext provider credentials.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/playdesk/playdesk/internal/common/apperr"
	"github.com/playdesk/playdesk/internal/common/logger"
	sessionmodels "github.com/playdesk/playdesk/internal/session/models"
	ticketmodels "github.com/playdesk/playdesk/internal/ticket/models"
)

// ProviderCredentials is a decrypted credential pair for one provider call.
type ProviderCredentials struct {
	BaseURL string
	APIKey  string
}

// TriageResult is the outcome of the initial AI triage exchange.
type TriageResult struct {
	Text               string
	SuggestedOptions   []string
	DetectedIntent     string
	Urgency            sessionmodels.AIUrgency
	ConversationHandle string
	// Degraded is true when both provider paths failed and the safe default
	// was returned.
	Degraded bool
}

// ChatResult is the provider's reply to a follow-up player message.
type ChatResult struct {
	Text               string
	ConversationHandle string
}

// Adapter talks to the conversational-AI provider. Triage degrades to a safe
// default; chat surfaces errors to the caller.
type Adapter struct {
	httpClient *http.Client
	creds      *Credentials
	logger     *logger.Logger

	defaultBaseURL    string
	defaultKeyCipher  string
	perRequestTimeout time.Duration
}

// NewAdapter creates the provider adapter. creds may be nil when no
// encryption key is configured; per-game credentials then fail closed.
func NewAdapter(defaultBaseURL, defaultKeyCipher string, creds *Credentials, timeout time.Duration, log *logger.Logger) *Adapter {
	return &Adapter{
		httpClient:        &http.Client{Timeout: timeout},
		creds:             creds,
		logger:            log.WithFields(zap.String("component", "ai-adapter")),
		defaultBaseURL:    defaultBaseURL,
		defaultKeyCipher:  defaultKeyCipher,
		perRequestTimeout: timeout,
	}
}

// CredentialsFor resolves and decrypts the credentials for a game. Per-game
// credentials take precedence over the platform default.
func (a *Adapter) CredentialsFor(game *ticketmodels.Game) (ProviderCredentials, error) {
	baseURL := a.defaultBaseURL
	cipher := a.defaultKeyCipher
	if game != nil && game.AICredentialCiphertext != "" {
		cipher = game.AICredentialCiphertext
		if game.AIBaseURL != "" {
			baseURL = game.AIBaseURL
		}
	}
	if baseURL == "" || cipher == "" {
		return ProviderCredentials{}, apperr.AIFailure("AI provider is not configured")
	}
	if a.creds == nil {
		return ProviderCredentials{}, apperr.AIFailure("credential encryption key is not configured")
	}
	apiKey, err := a.creds.Open(cipher)
	if err != nil {
		return ProviderCredentials{}, apperr.AIFailure("failed to decrypt AI credentials").Wrap(err)
	}
	return ProviderCredentials{BaseURL: baseURL, APIKey: apiKey}, nil
}

// safeDefault is the deterministic fallback when both provider paths fail.
func safeDefault() *TriageResult {
	return &TriageResult{
		Text:             "We received your report and are looking into it.",
		SuggestedOptions: []string{"Talk to a human agent", "Browse FAQ"},
		DetectedIntent:   "unknown",
		Urgency:          sessionmodels.UrgencyNonUrgent,
		Degraded:         true,
	}
}

// Triage runs the initial classification exchange. The primary path is the
// provider's workflow endpoint; any failure falls back to the chat endpoint;
// if both fail a safe default is returned instead of an error.
func (a *Adapter) Triage(ctx context.Context, description string, creds ProviderCredentials, userKey string) *TriageResult {
	result, err := a.triageWorkflow(ctx, description, creds, userKey)
	if err == nil {
		return result
	}
	a.logger.Warn("workflow triage failed, falling back to chat", zap.Error(err))

	chat, err := a.Chat(ctx, description, creds, "", userKey)
	if err != nil {
		a.logger.Error("chat fallback failed, returning safe default", zap.Error(err))
		return safeDefault()
	}
	return &TriageResult{
		Text:               chat.Text,
		SuggestedOptions:   []string{"Talk to a human agent", "Browse FAQ"},
		DetectedIntent:     "unknown",
		Urgency:            sessionmodels.UrgencyNonUrgent,
		ConversationHandle: chat.ConversationHandle,
	}
}

// TriageTicket resolves the game's credentials and runs triage. When the
// provider cannot be called at all the safe default is returned, so ticket
// submission never waits on or fails with the AI provider.
func (a *Adapter) TriageTicket(ctx context.Context, game *ticketmodels.Game, description, userKey string) *TriageResult {
	creds, err := a.CredentialsFor(game)
	if err != nil {
		a.logger.Warn("triage skipped: no usable credentials", zap.Error(err))
		return safeDefault()
	}
	return a.Triage(ctx, description, creds, userKey)
}

type workflowRequest struct {
	Inputs       map[string]string `json:"inputs"`
	ResponseMode string            `json:"response_mode"`
	User         string            `json:"user"`
}

type workflowResponse struct {
	Data struct {
		Status  string `json:"status"`
		Outputs struct {
			Text             string   `json:"text"`
			SuggestedOptions []string `json:"suggested_options"`
			Intent           string   `json:"intent"`
			Urgency          string   `json:"urgency"`
		} `json:"outputs"`
	} `json:"data"`
}

func (a *Adapter) triageWorkflow(ctx context.Context, description string, creds ProviderCredentials, userKey string) (*TriageResult, error) {
	var resp workflowResponse
	err := a.post(ctx, creds, "/v1/workflows/run", workflowRequest{
		Inputs:       map[string]string{"query": description},
		ResponseMode: "blocking",
		User:         userKey,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Data.Status != "" && resp.Data.Status != "succeeded" {
		return nil, fmt.Errorf("workflow status %q", resp.Data.Status)
	}
	text := SanitizeReply(resp.Data.Outputs.Text)
	if text == "" {
		return nil, fmt.Errorf("workflow returned empty text")
	}

	urgency := sessionmodels.UrgencyNonUrgent
	if resp.Data.Outputs.Urgency == "urgent" || resp.Data.Outputs.Urgency == "URGENT" {
		urgency = sessionmodels.UrgencyUrgent
	}
	intent := resp.Data.Outputs.Intent
	if intent == "" {
		intent = "unknown"
	}
	options := resp.Data.Outputs.SuggestedOptions
	if len(options) == 0 {
		options = []string{"Talk to a human agent", "Browse FAQ"}
	}
	return &TriageResult{
		Text:             text,
		SuggestedOptions: options,
		DetectedIntent:   intent,
		Urgency:          urgency,
	}, nil
}

type chatRequest struct {
	Inputs         map[string]string `json:"inputs"`
	Query          string            `json:"query"`
	ResponseMode   string            `json:"response_mode"`
	ConversationID string            `json:"conversation_id,omitempty"`
	User           string            `json:"user"`
}

type chatResponse struct {
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id"`
}

// Chat sends a follow-up player message to the provider. Unlike Triage, chat
// failures surface to the caller, who decides whether to degrade.
func (a *Adapter) Chat(ctx context.Context, query string, creds ProviderCredentials, conversationHandle, userKey string) (*ChatResult, error) {
	var resp chatResponse
	err := a.post(ctx, creds, "/v1/chat-messages", chatRequest{
		Inputs:         map[string]string{},
		Query:          query,
		ResponseMode:   "blocking",
		ConversationID: conversationHandle,
		User:           userKey,
	}, &resp)
	if err != nil {
		return nil, apperr.AIFailure("AI provider request failed").Wrap(err)
	}
	text := SanitizeReply(resp.Answer)
	if text == "" {
		return nil, apperr.AIFailure("AI provider returned an empty reply")
	}
	return &ChatResult{Text: text, ConversationHandle: resp.ConversationID}, nil
}

// Optimize rewrites an agent draft. On any failure the input draft is
// returned unchanged; optimization is best-effort.
func (a *Adapter) Optimize(ctx context.Context, draft, background string, creds ProviderCredentials, userKey string) string {
	query := "Rewrite the following support reply to be clear and polite. Reply with the rewritten text only.\n\n" + draft
	if background != "" {
		query = "Context: " + background + "\n\n" + query
	}
	result, err := a.Chat(ctx, query, creds, "", userKey)
	if err != nil {
		a.logger.Warn("draft optimization failed, returning original", zap.Error(err))
		return draft
	}
	return result.Text
}

func (a *Adapter) post(ctx context.Context, creds ProviderCredentials, path string, payload, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, a.perRequestTimeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.APIKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
