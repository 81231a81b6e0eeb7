package domain

import (
	"strings"
	"testing"
	"time"
)

func TestDisplayNameFallback(t *testing.T) {
	tests := []struct {
		name string
		user User
		want string
	}{
		{name: "full name wins", user: User{FullName: "Ada Lovelace", Name: "ada", Email: "ada@example.com"}, want: "Ada Lovelace"},
		{name: "short name", user: User{Name: "ada", Email: "ada@example.com"}, want: "ada"},
		{name: "email", user: User{Email: "ada@example.com"}, want: "ada@example.com"},
		{name: "generic", user: User{ID: "u-1"}, want: "User"},
		{name: "blank values skipped", user: User{FullName: "  ", Email: "x@example.com"}, want: "x@example.com"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.user.DisplayName(); got != tc.want {
				t.Fatalf("display name = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestWelcomeText(t *testing.T) {
	got := WelcomeText(User{Name: "Grace"})
	if got != "Hello, Grace! I'm your AI assistant. How can I help you today?" {
		t.Fatalf("unexpected welcome text: %q", got)
	}
}

func TestTitleFromText(t *testing.T) {
	if got := TitleFromText("short question"); got != "short question" {
		t.Fatalf("short title changed: %q", got)
	}
	long := strings.Repeat("é", 40)
	got := TitleFromText(long)
	if got != strings.Repeat("é", 35)+"..." {
		t.Fatalf("long title = %q", got)
	}
}

func TestIsDefaultTitle(t *testing.T) {
	for _, title := range []string{"New Chat", "New Chat 2", "Untitled Chat"} {
		if !IsDefaultTitle(title) {
			t.Fatalf("expected %q to be default", title)
		}
	}
	if IsDefaultTitle("Weekend plans") {
		t.Fatalf("custom title reported as default")
	}
}

func TestSummariesOrderedByLastUpdated(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	got := Summaries(map[string]Conversation{
		"a": {ID: "a", Title: "old", UpdatedAt: base},
		"b": {ID: "b", Title: "new", UpdatedAt: base.Add(time.Hour)},
		"c": {ID: "c", Title: "tie", UpdatedAt: base},
	})
	if len(got) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(got))
	}
	if got[0].ID != "b" || got[1].ID != "a" || got[2].ID != "c" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestCloneDoesNotAliasMessages(t *testing.T) {
	c := Conversation{Messages: []Message{{ID: "1"}}}
	cp := c.Clone()
	cp.Messages[0].ID = "changed"
	if c.Messages[0].ID != "1" {
		t.Fatalf("clone aliased messages")
	}
}
