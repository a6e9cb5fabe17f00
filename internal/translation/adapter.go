// Package translation provides on-demand translation of stored session
// messages with per-message caching. The original content is never mutated;
// translations live in the message metadata.
package translation

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
	"github.com/playdesk/playdesk/internal/session/models"
)

// metadataKey is where cached translations live in message metadata,
// keyed by target language.
const metadataKey = "translations"

// Result is one translation of a message.
type Result struct {
	TranslatedContent string    `json:"translated_content"`
	SourceLang        string    `json:"source_lang"`
	Provider          string    `json:"provider"`
	TranslatedAt      time.Time `json:"translated_at"`
}

// MessageStore is the slice of session storage the adapter needs.
type MessageStore interface {
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	SetMessageTranslation(ctx context.Context, messageID, targetLang string, result *Result) error
}

// Adapter calls the external translation provider and caches results on the
// message row. Translating the same message to the same language twice
// returns the cached result without a provider call.
type Adapter struct {
	httpClient *http.Client
	store      MessageStore
	logger     *logger.Logger

	baseURL  string
	apiKey   string
	provider string
	timeout  time.Duration
}

// NewAdapter creates the translation adapter.
func NewAdapter(baseURL, apiKey string, timeout time.Duration, store MessageStore, log *logger.Logger) *Adapter {
	return &Adapter{
		httpClient: &http.Client{Timeout: timeout},
		store:      store,
		logger:     log.WithFields(zap.String("component", "translation-adapter")),
		baseURL:    baseURL,
		apiKey:     apiKey,
		provider:   "external",
		timeout:    timeout,
	}
}

// Translate returns the message translated into targetLang, from cache when
// available.
func (a *Adapter) Translate(ctx context.Context, messageID, targetLang string) (*Result, error) {
	if targetLang == "" {
		return nil, apperr.Validation("targetLang is required")
	}

	msg, err := a.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	if cached := cachedResult(msg, targetLang); cached != nil {
		return cached, nil
	}

	if a.baseURL == "" {
		return nil, apperr.TranslationFailure("translation provider is not configured")
	}

	result, err := a.callProvider(ctx, msg.Content, targetLang)
	if err != nil {
		return nil, err
	}

	if err := a.store.SetMessageTranslation(ctx, messageID, targetLang, result); err != nil {
		// The translation itself succeeded; a failed cache write only costs a
		// future provider call.
		a.logger.Warn("failed to cache translation",
			zap.String("message_id", messageID), zap.Error(err))
	}
	return result, nil
}

func cachedResult(msg *models.Message, targetLang string) *Result {
	if msg.Metadata == nil {
		return nil
	}
	translations, ok := msg.Metadata[metadataKey].(map[string]interface{})
	if !ok {
		return nil
	}
	entry, ok := translations[targetLang]
	if !ok {
		return nil
	}

	// Metadata round-trips through JSON, so re-decode the entry.
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil
	}
	if result.TranslatedContent == "" {
		return nil
	}
	return &result
}

type providerRequest struct {
	Text       string `json:"text"`
	TargetLang string `json:"target_lang"`
}

type providerResponse struct {
	TranslatedText string `json:"translated_text"`
	SourceLang     string `json:"source_lang"`
}

func (a *Adapter) callProvider(ctx context.Context, text, targetLang string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	body, err := json.Marshal(providerRequest{Text: text, TargetLang: targetLang})
	if err != nil {
		return nil, apperr.TranslationFailure("failed to encode request").Wrap(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/translate", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.TranslationFailure("failed to build request").Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, apperr.TranslationFailure("translation provider request failed").Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.TranslationFailure("failed to read provider response").Wrap(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.TranslationFailure(
			fmt.Sprintf("translation provider returned %d", resp.StatusCode))
	}

	var decoded providerResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, apperr.TranslationFailure("failed to decode provider response").Wrap(err)
	}
	if decoded.TranslatedText == "" {
		return nil, apperr.TranslationFailure("translation provider returned empty text")
	}

	return &Result{
		TranslatedContent: decoded.TranslatedText,
		SourceLang:        decoded.SourceLang,
		Provider:          a.provider,
		TranslatedAt:      time.Now().UTC(),
	}, nil
}
