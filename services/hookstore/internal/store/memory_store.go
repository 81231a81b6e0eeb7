package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps conversations in-process for local development.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]map[string]Record // user ID -> conversation ID -> record
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]map[string]Record)}
}

// ListConversations returns the user's conversations, most recently updated first.
func (m *MemoryStore) ListConversations(_ context.Context, userID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]Record, 0, len(m.convs[userID]))
	for _, rec := range m.convs[userID] {
		res = append(res, cloneRecord(rec))
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].UpdatedAt.Equal(res[j].UpdatedAt) {
			return res[i].UpdatedAt.After(res[j].UpdatedAt)
		}
		return res[i].ConversationID < res[j].ConversationID
	})
	return res, nil
}

// SaveConversation stores or replaces a record, keeping the first CreatedAt.
func (m *MemoryStore) SaveConversation(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.convs[rec.UserID]
	if !ok {
		byID = make(map[string]Record)
		m.convs[rec.UserID] = byID
	}
	if existing, ok := byID[rec.ConversationID]; ok {
		rec.CreatedAt = existing.CreatedAt
	}
	byID[rec.ConversationID] = cloneRecord(rec)
	return nil
}

// DeleteConversation removes a record if present.
func (m *MemoryStore) DeleteConversation(_ context.Context, userID, conversationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.convs[userID]
	if _, ok := byID[conversationID]; !ok {
		return false, nil
	}
	delete(byID, conversationID)
	return true, nil
}

func cloneRecord(rec Record) Record {
	rec.Messages = append([]byte(nil), rec.Messages...)
	return rec
}
