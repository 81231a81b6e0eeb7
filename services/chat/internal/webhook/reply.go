package webhook

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
)

// EmptyReplyText is used when the assistant answers with a blank body.
const EmptyReplyText = "The bot didn't provide a specific response this time."

var preferredReplyFields = []string{"output", "reply", "answer"}

// extractReply turns a successful assistant response body into reply text.
func extractReply(contentType string, body []byte) (string, error) {
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return EmptyReplyText, nil
	}
	if !strings.Contains(strings.ToLower(contentType), "application/json") {
		return raw, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		slog.Warn("assistant reply declared JSON but was malformed, using raw text", "err", err, "raw", excerpt(raw, 150))
		return raw, nil
	}
	for _, field := range preferredReplyFields {
		if s, ok := nonBlankString(obj[field]); ok {
			return s, nil
		}
	}
	if s, ok := firstStringField(body); ok {
		return s, nil
	}
	slog.Warn("assistant reply JSON had no usable text field", "raw", excerpt(raw, 150))
	if raw != "{}" {
		return raw, nil
	}
	return "", &DataFormatError{Reason: "the bot sent a JSON response, but it contained no usable text", Excerpt: excerpt(raw, 150)}
}

// firstStringField walks the top-level object in document order and returns
// the first non-blank string value.
func firstStringField(body []byte) (string, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return "", false
	}
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return "", false
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return "", false
		}
		if s, ok := nonBlankString(value); ok {
			return s, true
		}
	}
	return "", false
}

func nonBlankString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// remoteErrorMessage prefers error.message, then message, then the raw body.
func remoteErrorMessage(body []byte, fallback string) string {
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return fallback
	}
	var payload struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != nil && strings.TrimSpace(payload.Error.Message) != "" {
			return payload.Error.Message
		}
		if strings.TrimSpace(payload.Message) != "" {
			return payload.Message
		}
	}
	return raw
}
