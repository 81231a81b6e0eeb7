package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestMemoryStoreUpsertKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := s.SaveConversation(ctx, Record{UserID: "u1", ConversationID: "c1", Title: "New Chat", Messages: json.RawMessage(`[]`), CreatedAt: first, UpdatedAt: first}); err != nil {
		t.Fatalf("save: %v", err)
	}
	later := first.Add(time.Hour)
	if err := s.SaveConversation(ctx, Record{UserID: "u1", ConversationID: "c1", Title: "Trip", Messages: json.RawMessage(`[{"id":"m1"}]`), CreatedAt: later, UpdatedAt: later}); err != nil {
		t.Fatalf("save again: %v", err)
	}

	recs, err := s.ListConversations(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one record, got %d", len(recs))
	}
	if recs[0].Title != "Trip" || !recs[0].CreatedAt.Equal(first) || !recs[0].UpdatedAt.Equal(later) {
		t.Fatalf("unexpected record: %+v", recs[0])
	}
	if string(recs[0].Messages) != `[{"id":"m1"}]` {
		t.Fatalf("messages = %s", recs[0].Messages)
	}
}

func TestMemoryStoreScopesByUserAndOrders(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = s.SaveConversation(ctx, Record{UserID: "u1", ConversationID: "old", UpdatedAt: base})
	_ = s.SaveConversation(ctx, Record{UserID: "u1", ConversationID: "new", UpdatedAt: base.Add(time.Minute)})
	_ = s.SaveConversation(ctx, Record{UserID: "u2", ConversationID: "other", UpdatedAt: base})

	recs, _ := s.ListConversations(ctx, "u1")
	if len(recs) != 2 || recs[0].ConversationID != "new" {
		t.Fatalf("unexpected listing: %+v", recs)
	}
	if recs, _ := s.ListConversations(ctx, "nobody"); len(recs) != 0 {
		t.Fatalf("expected empty listing, got %+v", recs)
	}

	if ok, _ := s.DeleteConversation(ctx, "u2", "old"); ok {
		t.Fatalf("deleted another user's conversation")
	}
	if ok, _ := s.DeleteConversation(ctx, "u1", "old"); !ok {
		t.Fatalf("expected delete to succeed")
	}
	if ok, _ := s.DeleteConversation(ctx, "u1", "old"); ok {
		t.Fatalf("second delete should report absence")
	}
}
