package store

import (
	"context"
	"encoding/json"
	"time"
)

// Record is one conversation as held by the store of record. Messages is kept
// as the JSON array the client saved so retrieval returns it unchanged.
type Record struct {
	UserID         string
	ConversationID string
	Title          string
	Messages       json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store persists conversation records keyed by (user, conversation).
type Store interface {
	ListConversations(ctx context.Context, userID string) ([]Record, error)
	// SaveConversation upserts rec. CreatedAt is kept from the first save.
	SaveConversation(ctx context.Context, rec Record) error
	// DeleteConversation reports whether a record was removed.
	DeleteConversation(ctx context.Context, userID, conversationID string) (bool, error)
}
