package ai

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Providers sometimes wrap the reply in JSON envelopes or leak reasoning
// traces into the text. SanitizeReply unwraps nested JSON by extracting the
// innermost "text" field, then strips trailing reasoning segments.

var reasoningTagRe = regexp.MustCompile(`(?s)<(think|thinking|reasoning)>.*?(</(think|thinking|reasoning)>|$)`)

// SanitizeReply normalizes raw provider output into displayable text.
func SanitizeReply(raw string) string {
	text := strings.TrimSpace(raw)

	// Unwrap JSON envelopes, innermost first. Bounded to avoid spinning on
	// pathological self-referencing payloads.
	for i := 0; i < 5; i++ {
		inner, ok := extractTextField(text)
		if !ok {
			break
		}
		text = strings.TrimSpace(inner)
	}

	text = reasoningTagRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// extractTextField parses text as JSON and returns its "text" field, or, for
// payloads that merely contain a JSON object, the "text" field of the
// embedded object.
func extractTextField(text string) (string, bool) {
	candidate := text
	if !looksLikeJSON(candidate) {
		start := strings.IndexByte(text, '{')
		end := strings.LastIndexByte(text, '}')
		if start < 0 || end <= start {
			return "", false
		}
		candidate = text[start : end+1]
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
		return "", false
	}
	raw, ok := payload["text"]
	if !ok {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	// "text" holds a nested object; hand it back for another pass.
	return string(raw), true
}

func looksLikeJSON(s string) bool {
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}
