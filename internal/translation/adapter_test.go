package translation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playdesk/playdesk/internal/common/logger"
	"github.com/playdesk/playdesk/internal/session/models"
)

type fakeMessageStore struct {
	mu       sync.Mutex
	messages map[string]*models.Message
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{messages: make(map[string]*models.Message)}
}

func (f *fakeMessageStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := f.messages[id]
	clone := *msg
	return &clone, nil
}

func (f *fakeMessageStore) SetMessageTranslation(ctx context.Context, messageID, targetLang string, result *Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := f.messages[messageID]
	if msg.Metadata == nil {
		msg.Metadata = make(map[string]interface{})
	}
	translations, _ := msg.Metadata[metadataKey].(map[string]interface{})
	if translations == nil {
		translations = make(map[string]interface{})
		msg.Metadata[metadataKey] = translations
	}
	// Store the JSON round-tripped form, matching how metadata comes back
	// from the database.
	raw, _ := json.Marshal(result)
	var entry map[string]interface{}
	_ = json.Unmarshal(raw, &entry)
	translations[targetLang] = entry
	return nil
}

func TestTranslateCachesResult(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]string{
			"translated_text": "hola",
			"source_lang":     "en",
		})
	}))
	defer server.Close()

	store := newFakeMessageStore()
	store.messages["m1"] = &models.Message{ID: "m1", Content: "hello"}

	adapter := NewAdapter(server.URL, "key", 5*time.Second, store, logger.Default())

	first, err := adapter.Translate(context.Background(), "m1", "es")
	require.NoError(t, err)
	assert.Equal(t, "hola", first.TranslatedContent)
	assert.Equal(t, "en", first.SourceLang)

	second, err := adapter.Translate(context.Background(), "m1", "es")
	require.NoError(t, err)
	assert.Equal(t, first.TranslatedContent, second.TranslatedContent)
	assert.Equal(t, 1, calls, "second call must come from the cache")
}

func TestTranslateDifferentLanguagesAreSeparate(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"translated_text": "in-" + req["target_lang"],
			"source_lang":     "en",
		})
	}))
	defer server.Close()

	store := newFakeMessageStore()
	store.messages["m1"] = &models.Message{ID: "m1", Content: "hello"}

	adapter := NewAdapter(server.URL, "key", 5*time.Second, store, logger.Default())

	es, err := adapter.Translate(context.Background(), "m1", "es")
	require.NoError(t, err)
	fr, err := adapter.Translate(context.Background(), "m1", "fr")
	require.NoError(t, err)

	assert.Equal(t, "in-es", es.TranslatedContent)
	assert.Equal(t, "in-fr", fr.TranslatedContent)
	assert.Equal(t, 2, calls)
}

func TestTranslateProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	store := newFakeMessageStore()
	store.messages["m1"] = &models.Message{ID: "m1", Content: "hello"}

	adapter := NewAdapter(server.URL, "key", 5*time.Second, store, logger.Default())

	_, err := adapter.Translate(context.Background(), "m1", "es")
	assert.Error(t, err)
}

func TestTranslateRequiresTargetLang(t *testing.T) {
	adapter := NewAdapter("", "", 5*time.Second, newFakeMessageStore(), logger.Default())
	_, err := adapter.Translate(context.Background(), "m1", "")
	assert.Error(t, err)
}
