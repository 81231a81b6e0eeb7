package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"webhookchat/pkg/domain"
)

const (
	maxResponseBytes    = 8 << 20
	defaultTimeout      = 15 * time.Second
	defaultReplyTimeout = 60 * time.Second
)

// Config names the automation backend's webhook endpoints.
type Config struct {
	RetrieveURL string
	SaveURL     string
	DeleteURL   string
	ReplyURL    string
	// SendHistory includes the prior transcript in assistant reply requests.
	SendHistory  bool
	Timeout      time.Duration
	ReplyTimeout time.Duration
	Normalizer   *Normalizer
	HTTPClient   *http.Client
}

// Client calls the automation backend's webhooks over HTTP.
type Client struct {
	retrieveURL string
	saveURL     string
	deleteURL   string
	replyURL    string
	sendHistory bool
	normalizer  Normalizer
	httpClient  *http.Client
	replyClient *http.Client
}

// NewClient constructs a webhook client. Endpoint URLs are validated per call
// so a missing endpoint only disables the operations that need it.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	replyTimeout := cfg.ReplyTimeout
	if replyTimeout <= 0 {
		replyTimeout = defaultReplyTimeout
	}
	httpClient := cfg.HTTPClient
	replyClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
		replyClient = &http.Client{Timeout: replyTimeout}
	}
	normalizer := DefaultNormalizer()
	if cfg.Normalizer != nil {
		normalizer = *cfg.Normalizer
	}
	return &Client{
		retrieveURL: strings.TrimSpace(cfg.RetrieveURL),
		saveURL:     strings.TrimSpace(cfg.SaveURL),
		deleteURL:   strings.TrimSpace(cfg.DeleteURL),
		replyURL:    strings.TrimSpace(cfg.ReplyURL),
		sendHistory: cfg.SendHistory,
		normalizer:  normalizer,
		httpClient:  httpClient,
		replyClient: replyClient,
	}
}

// FetchConversations retrieves and normalizes every conversation the store
// of record holds for userID. An empty body means no conversations.
func (c *Client) FetchConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	const op = "fetch conversations"
	endpoint, err := endpointURL("retrieve", c.retrieveURL)
	if err != nil {
		return nil, err
	}
	q := endpoint.Query()
	q.Set("user_app_id", userID)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	body, _, err := c.do(c.httpClient, req, op)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(body)) == "" {
		return []domain.Conversation{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var data any
	if err := dec.Decode(&data); err != nil {
		return nil, &DataFormatError{Reason: "failed to parse conversation history response", Excerpt: excerpt(string(body), excerptLimit), Err: err}
	}
	// The body must hold exactly one JSON value.
	if _, err := dec.Token(); err != io.EOF {
		return nil, &DataFormatError{Reason: "conversation history response has trailing data after the JSON value", Excerpt: excerpt(string(body), excerptLimit), Err: err}
	}
	items, ok := data.([]any)
	if !ok {
		return nil, &DataFormatError{Reason: "conversation history is not an array (got " + jsonTypeName(data) + ")", Excerpt: excerpt(string(body), excerptLimit)}
	}
	return c.normalizer.Conversations(items, userID), nil
}

type savePayload struct {
	UserID         string         `json:"user_app_id"`
	ConversationID string         `json:"conversation_id"`
	Messages       []savedMessage `json:"messages"`
	Title          string         `json:"title"`
}

type savedMessage struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	Sender    domain.Sender `json:"sender"`
	Timestamp string        `json:"timestamp"`
}

// SaveConversation pushes the full conversation record to the store of record.
// The typing placeholder is never persisted.
func (c *Client) SaveConversation(ctx context.Context, userID string, conv domain.Conversation) error {
	const op = "save conversation"
	endpoint, err := endpointURL("save", c.saveURL)
	if err != nil {
		return err
	}
	payload := savePayload{
		UserID:         userID,
		ConversationID: conv.ID,
		Messages:       make([]savedMessage, 0, len(conv.Messages)),
		Title:          conv.Title,
	}
	for _, m := range conv.Messages {
		if m.IsPlaceholder() {
			continue
		}
		payload.Messages = append(payload.Messages, savedMessage{
			ID:        m.ID,
			Text:      m.Text,
			Sender:    m.Sender,
			Timestamp: formatTimestamp(m.Timestamp),
		})
	}
	req, err := newJSONRequest(ctx, http.MethodPost, endpoint.String(), payload)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	_, _, err = c.do(c.httpClient, req, op)
	return err
}

type deletePayload struct {
	UserID         string `json:"user_app_id"`
	ConversationID string `json:"conversation_id"`
}

// DeleteConversation asks the store of record to remove a conversation.
func (c *Client) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	const op = "delete conversation"
	endpoint, err := endpointURL("delete", c.deleteURL)
	if err != nil {
		return err
	}
	req, err := newJSONRequest(ctx, http.MethodDelete, endpoint.String(), deletePayload{
		UserID:         userID,
		ConversationID: conversationID,
	})
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	_, _, err = c.do(c.httpClient, req, op)
	return err
}

type replyRequest struct {
	Message     string         `json:"mensaje"`
	SessionID   string         `json:"sessionId"`
	ChatHistory []historyEntry `json:"chatHistory,omitempty"`
}

type historyEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Reply asks the assistant backend to answer text. conversationID doubles as
// the backend's session correlation token.
func (c *Client) Reply(ctx context.Context, text string, history []domain.Message, conversationID string) (string, error) {
	const op = "assistant reply"
	endpoint, err := endpointURL("chat response", c.replyURL)
	if err != nil {
		return "", err
	}
	payload := replyRequest{Message: text, SessionID: conversationID}
	if c.sendHistory {
		payload.ChatHistory = toHistory(history)
	}
	req, err := newJSONRequest(ctx, http.MethodPost, endpoint.String(), payload)
	if err != nil {
		return "", &NetworkError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json, text/plain")

	body, contentType, err := c.do(c.replyClient, req, op)
	if err != nil {
		return "", err
	}
	return extractReply(contentType, body)
}

func toHistory(messages []domain.Message) []historyEntry {
	out := make([]historyEntry, 0, len(messages))
	for _, m := range messages {
		switch m.Sender {
		case domain.SenderUser:
			out = append(out, historyEntry{Role: "user", Text: m.Text})
		case domain.SenderBot:
			out = append(out, historyEntry{Role: "model", Text: m.Text})
		}
	}
	return out
}

func (c *Client) do(httpClient *http.Client, req *http.Request, op string) ([]byte, string, error) {
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, "", &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, "", &NetworkError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := remoteErrorMessage(body, resp.Status)
		return nil, "", &TransportError{Op: op, Status: resp.StatusCode, Body: excerpt(msg, excerptLimit)}
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func newJSONRequest(ctx context.Context, method, endpoint string, payload any) (*http.Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// endpointURL validates a configured webhook URL.
func endpointURL(name, raw string) (*url.URL, error) {
	if raw == "" {
		return nil, &ConfigurationError{Endpoint: name, Reason: "URL is empty"}
	}
	if strings.Contains(strings.ToUpper(raw), "PLACEHOLDER") {
		return nil, &ConfigurationError{Endpoint: name, Reason: "URL is still a placeholder"}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &ConfigurationError{Endpoint: name, Reason: "URL is not a well-formed absolute http(s) URL"}
	}
	return u, nil
}

// Configured reports whether the named endpoints all hold usable URLs.
func (c *Client) Configured() map[string]bool {
	check := func(name, raw string) bool {
		_, err := endpointURL(name, raw)
		return err == nil
	}
	return map[string]bool{
		"retrieve": check("retrieve", c.retrieveURL),
		"save":     check("save", c.saveURL),
		"delete":   check("delete", c.deleteURL),
		"reply":    check("chat response", c.replyURL),
	}
}
