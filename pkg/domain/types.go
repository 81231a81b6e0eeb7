package domain

import (
	"sort"
	"strings"
	"time"
)

type Sender string

const (
	SenderUser            Sender = "user"
	SenderBot             Sender = "bot"
	SenderTypingIndicator Sender = "typing_indicator"
	SenderError           Sender = "error"
)

// Valid reports whether s is one of the known senders.
func (s Sender) Valid() bool {
	switch s {
	case SenderUser, SenderBot, SenderTypingIndicator, SenderError:
		return true
	}
	return false
}

const (
	// PlaceholderMessageID marks the transient "assistant is typing" message.
	// At most one exists per conversation and it is never persisted.
	PlaceholderMessageID   = "typing-indicator-message"
	PlaceholderMessageText = "Bot is typing..."

	DefaultTitle         = "New Chat"
	UntitledTitle        = "Untitled Chat"
	titleMaxRunes        = 35
	defaultDisplayName   = "User"
	welcomeMessageFormat = "Hello, %s! I'm your AI assistant. How can I help you today?"
)

type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// IsPlaceholder reports whether m is the typing placeholder.
func (m Message) IsPlaceholder() bool {
	return m.ID == PlaceholderMessageID
}

type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_app_id"`
	Messages  []Message `json:"messages"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy whose message slice does not alias c.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = append([]Message(nil), c.Messages...)
	return out
}

// HasPlaceholder reports whether the conversation holds a typing placeholder.
func (c Conversation) HasPlaceholder() bool {
	for _, m := range c.Messages {
		if m.IsPlaceholder() {
			return true
		}
	}
	return false
}

// Summary is the listing row derived from a Conversation.
type Summary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Summaries derives listing rows ordered by LastUpdated descending.
func Summaries(conversations map[string]Conversation) []Summary {
	out := make([]Summary, 0, len(conversations))
	for _, c := range conversations {
		out = append(out, Summary{ID: c.ID, Title: c.Title, LastUpdated: c.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].LastUpdated.After(out[j].LastUpdated)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// IsDefaultTitle reports whether title is still an auto-assigned placeholder.
func IsDefaultTitle(title string) bool {
	return title == UntitledTitle || strings.HasPrefix(title, DefaultTitle)
}

// TitleFromText builds a conversation title from the first user message.
func TitleFromText(text string) string {
	runes := []rune(text)
	if len(runes) > titleMaxRunes {
		return string(runes[:titleMaxRunes]) + "..."
	}
	return text
}

// User is the authenticated identity as reported by the identity provider.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	FullName  string `json:"fullName,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// DisplayName falls back full name, name, email, then a generic label.
func (u User) DisplayName() string {
	for _, v := range []string{u.FullName, u.Name, u.Email} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return defaultDisplayName
}

// WelcomeText is the greeting seeded into every locally created conversation.
func WelcomeText(u User) string {
	return strings.Replace(welcomeMessageFormat, "%s", u.DisplayName(), 1)
}
