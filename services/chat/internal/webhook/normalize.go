package webhook

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"webhookchat/internal/util"
	"webhookchat/pkg/domain"
)

// Normalizer maps loosely typed remote records onto the domain model. It
// never fails: every missing or malformed field gets a logged default.
type Normalizer struct {
	Now   func() time.Time
	NewID func() string
}

// DefaultNormalizer uses the wall clock and random ids.
func DefaultNormalizer() Normalizer {
	return Normalizer{
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: util.NewID,
	}
}

// Conversations normalizes every element of a decoded JSON array.
func (n Normalizer) Conversations(raw []any, userID string) []domain.Conversation {
	out := make([]domain.Conversation, 0, len(raw))
	for _, item := range raw {
		out = append(out, n.Conversation(item, userID))
	}
	return out
}

// Conversation normalizes one remote conversation record. userID is the owner
// assumed when the record does not name one.
func (n Normalizer) Conversation(raw any, userID string) domain.Conversation {
	obj, _ := raw.(map[string]any)
	rawID, hasID := stringField(obj, "id")
	logID := rawID
	if !hasID {
		logID = "N/A"
	}
	log := slog.With("conversation_id", logID)

	messages := n.messages(obj, log)

	now := n.Now()
	createdAt, ok := parseTimestamp(obj["created_at"])
	if !ok {
		log.Warn("conversation created_at missing or invalid, defaulting to now", "created_at", obj["created_at"])
		createdAt = now
	}
	updatedAt, ok := parseTimestamp(obj["updated_at"])
	if !ok {
		log.Warn("conversation updated_at missing or invalid, defaulting to created_at", "updated_at", obj["updated_at"])
		updatedAt = createdAt
	}

	id := rawID
	if !hasID {
		id = n.NewID()
		log.Warn("conversation missing id, generated one", "generated_id", id)
	}
	title, ok := stringField(obj, "title")
	if !ok {
		title = domain.UntitledTitle
		log.Warn("conversation missing title, defaulting", "title", title)
	}
	owner, ok := stringField(obj, "user_app_id")
	if !ok {
		owner = userID
		log.Warn("conversation missing user_app_id, assuming requesting user", "user_id", userID)
	}

	return domain.Conversation{
		ID:        id,
		UserID:    owner,
		Messages:  messages,
		Title:     title,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
}

// messages finds the message list either directly under "messages" or under
// the older nested "messages.chat_history" shape.
func (n Normalizer) messages(obj map[string]any, log *slog.Logger) []domain.Message {
	var rawMessages []any
	switch v := obj["messages"].(type) {
	case []any:
		rawMessages = v
	case map[string]any:
		if nested, ok := v["chat_history"].([]any); ok {
			rawMessages = nested
			log.Info("extracted messages from nested chat_history")
		} else {
			log.Warn("messages object has no chat_history array, defaulting to empty")
		}
	case nil:
		log.Warn("messages missing or null, defaulting to empty")
	default:
		log.Warn("messages has unexpected type, defaulting to empty", "type", jsonTypeName(v))
	}

	out := make([]domain.Message, 0, len(rawMessages))
	for _, item := range rawMessages {
		msg, keep := n.message(item, log)
		if keep {
			out = append(out, msg)
		}
	}
	return out
}

func (n Normalizer) message(raw any, log *slog.Logger) (domain.Message, bool) {
	obj, _ := raw.(map[string]any)
	id, hasID := stringField(obj, "id")
	if hasID && id == domain.PlaceholderMessageID {
		log.Warn("dropping persisted typing placeholder")
		return domain.Message{}, false
	}
	msgLog := log.With("message_id", id)
	if !hasID {
		id = n.NewID()
		msgLog = log.With("message_id", "N/A")
		msgLog.Warn("message missing id, generated one", "generated_id", id)
	}

	text, ok := obj["text"].(string)
	if !ok {
		msgLog.Warn("message text missing or not a string, defaulting to empty")
	}

	sender := domain.SenderBot
	if s, ok := obj["sender"].(string); ok && domain.Sender(s).Valid() && domain.Sender(s) != domain.SenderTypingIndicator {
		sender = domain.Sender(s)
	} else {
		msgLog.Warn("message sender missing or invalid, defaulting to bot", "sender", obj["sender"])
	}

	ts, ok := parseTimestamp(obj["timestamp"])
	if !ok {
		ts = n.Now()
		msgLog.Warn("message timestamp missing or invalid, defaulting to now", "timestamp", obj["timestamp"])
	}

	return domain.Message{ID: id, Text: text, Sender: sender, Timestamp: ts}, true
}

// stringField reads key as a non-empty identifier-like value. Numbers are
// accepted and rendered in decimal form.
func stringField(obj map[string]any, key string) (string, bool) {
	switch v := obj[key].(type) {
	case string:
		return v, v != ""
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	}
	return "", false
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case json.Number, float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return "unknown"
}
