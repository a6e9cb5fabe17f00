package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeReplyPlainText(t *testing.T) {
	assert.Equal(t, "hello", SanitizeReply("  hello  "))
}

func TestSanitizeReplyUnwrapsJSON(t *testing.T) {
	assert.Equal(t, "your refund is on the way",
		SanitizeReply(`{"text": "your refund is on the way"}`))
}

func TestSanitizeReplyUnwrapsNestedJSON(t *testing.T) {
	raw := `{"text": {"text": "inner reply"}}`
	assert.Equal(t, "inner reply", SanitizeReply(raw))
}

func TestSanitizeReplyExtractsEmbeddedJSON(t *testing.T) {
	raw := `Sure! {"text": "embedded reply"}`
	assert.Equal(t, "embedded reply", SanitizeReply(raw))
}

func TestSanitizeReplyStripsReasoning(t *testing.T) {
	raw := "<think>the player is upset about billing</think>We will refund you."
	assert.Equal(t, "We will refund you.", SanitizeReply(raw))
}

func TestSanitizeReplyStripsUnterminatedReasoning(t *testing.T) {
	raw := "Here is your answer.<thinking>leaked trailing reasoning"
	assert.Equal(t, "Here is your answer.", SanitizeReply(raw))
}

func TestSanitizeReplyNonTextJSONPassesThrough(t *testing.T) {
	raw := `{"answer": "no text field"}`
	assert.Equal(t, raw, SanitizeReply(raw))
}
