package reconciler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"webhookchat/internal/util"
	"webhookchat/pkg/domain"
)

// Backend is the remote store of record plus the assistant. The webhook
// client satisfies it.
type Backend interface {
	FetchConversations(ctx context.Context, userID string) ([]domain.Conversation, error)
	SaveConversation(ctx context.Context, userID string, conv domain.Conversation) error
	DeleteConversation(ctx context.Context, userID, conversationID string) error
	Reply(ctx context.Context, text string, history []domain.Message, conversationID string) (string, error)
}

// Confirmer approves a destructive action on behalf of the user.
type Confirmer interface {
	ConfirmDelete(ctx context.Context, conv domain.Conversation) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, conv domain.Conversation) bool

func (f ConfirmFunc) ConfirmDelete(ctx context.Context, conv domain.Conversation) bool {
	return f(ctx, conv)
}

// Config wires the controller's collaborators.
type Config struct {
	Backend Backend
	Now     func() time.Time
	NewID   func() string
}

// Controller owns one session's State. Every mutation goes through Apply
// under mu; network calls run outside the lock and come back as events.
type Controller struct {
	backend Backend
	now     func() time.Time
	newID   func() string

	mu     sync.Mutex
	state  State
	queues map[string][]*submission

	fetches  singleflight.Group
	inflight sync.WaitGroup
}

// New constructs a controller in the logged-out state.
func New(cfg Config) *Controller {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	newID := cfg.NewID
	if newID == nil {
		newID = util.NewID
	}
	return &Controller{
		backend: cfg.Backend,
		now:     now,
		newID:   newID,
		state:   NewState(),
		queues:  map[string][]*submission{},
	}
}

// ObserveIdentity reconciles the session with the current identity; nil means
// logged out. A new identity triggers the bootstrap fetch and the call blocks
// until it settles. The returned error is the fetch failure, which is also
// recorded in the state.
func (c *Controller) ObserveIdentity(ctx context.Context, user *domain.User) error {
	c.mu.Lock()
	ev := IdentityObserved{User: user}
	if user != nil {
		ev.Fresh = c.welcome(*user)
	}
	effects := c.applyLocked(ev)
	c.mu.Unlock()

	for _, eff := range effects {
		if f, ok := eff.(FetchEffect); ok {
			return c.bootstrap(ctx, f.UserID)
		}
	}
	return nil
}

func (c *Controller) bootstrap(ctx context.Context, userID string) error {
	log := util.LoggerFromContext(ctx).With("user_id", userID)
	_, err, shared := c.fetches.Do(userID, func() (any, error) {
		c.mu.Lock()
		stillFetching := c.state.Loading && c.state.FetchingID == userID
		c.mu.Unlock()
		if !stillFetching {
			return nil, nil
		}
		log.Info("fetching conversation history")
		convs, err := c.backend.FetchConversations(context.WithoutCancel(ctx), userID)
		if err != nil {
			log.Error("fetch conversation history failed", "err", err)
		} else {
			log.Info("conversation history loaded", "count", len(convs))
		}

		c.mu.Lock()
		done := FetchCompleted{UserID: userID, Conversations: convs, Err: err}
		if c.state.User != nil && c.state.User.ID == userID {
			done.Fresh = c.welcome(*c.state.User)
		}
		c.applyLocked(done)
		c.mu.Unlock()
		return nil, err
	})
	if shared {
		log.Debug("joined in-flight history fetch")
	}
	return err
}

// NewChat creates a conversation seeded with the welcome message and makes it
// active. Nothing is sent to the store of record until the first exchange.
func (c *Controller) NewChat(ctx context.Context) (domain.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.User == nil {
		util.LoggerFromContext(ctx).Warn("new chat requested without an authenticated user")
		return domain.Conversation{}, ErrNoIdentity
	}
	conv := c.welcome(*c.state.User)
	c.applyLocked(NewChatRequested{Conversation: conv})
	return conv.Clone(), nil
}

// Pending tracks one queued or in-flight message submission.
type Pending struct {
	ConversationID string
	UserMessage    domain.Message

	done  chan struct{}
	reply domain.Message
}

// Done is closed once the submission is finalized.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Result returns the assistant or error message. It is only meaningful after
// Done is closed.
func (p *Pending) Result() domain.Message {
	<-p.done
	return p.reply
}

type submission struct {
	ctx     context.Context
	pending *Pending
}

// Submit appends text to a conversation and asks the assistant for a reply.
// Submissions to one conversation are processed in order: each applies its
// optimistic step only when the previous one has been finalized.
func (c *Controller) Submit(ctx context.Context, conversationID, text string) (*Pending, error) {
	log := util.LoggerFromContext(ctx).With("conversation_id", conversationID)
	text = strings.TrimSpace(text)
	if text == "" {
		log.Warn("ignoring empty message")
		return nil, ErrEmptyMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.User == nil {
		log.Warn("ignoring message without an authenticated user")
		return nil, ErrNoIdentity
	}
	if _, ok := c.state.Conversations[conversationID]; !ok {
		log.Warn("ignoring message for unknown conversation")
		return nil, ErrConversationNotFound
	}

	sub := &submission{
		ctx: context.WithoutCancel(ctx),
		pending: &Pending{
			ConversationID: conversationID,
			UserMessage: domain.Message{
				ID:     c.newID(),
				Text:   text,
				Sender: domain.SenderUser,
			},
			done: make(chan struct{}),
		},
	}
	c.inflight.Add(1)
	queue, running := c.queues[conversationID]
	c.queues[conversationID] = append(queue, sub)
	if running {
		log.Info("message queued behind in-flight reply", "queued", len(queue))
		return sub.pending, nil
	}
	// The first submission's optimistic step is visible before Submit returns.
	effects := c.startLocked(sub)
	go c.drain(conversationID, sub, effects)
	return sub.pending, nil
}

// startLocked applies the optimistic step for sub. The user message is
// stamped here so queued messages carry the time they were actually sent.
func (c *Controller) startLocked(sub *submission) []Effect {
	p := sub.pending
	at := c.now()
	p.UserMessage.Timestamp = at
	return c.applyLocked(SubmitStarted{ConversationID: p.ConversationID, UserMessage: p.UserMessage, At: at})
}

// drain works through a conversation's queue. A submission counts as in
// flight until it has left the queue, so Wait implies the controller is idle.
func (c *Controller) drain(conversationID string, sub *submission, effects []Effect) {
	for {
		c.process(sub, effects)

		c.mu.Lock()
		queue := c.queues[conversationID][1:]
		if len(queue) == 0 {
			delete(c.queues, conversationID)
			c.mu.Unlock()
			c.inflight.Done()
			return
		}
		c.queues[conversationID] = queue
		next := queue[0]
		effects = c.startLocked(next)
		c.mu.Unlock()
		c.inflight.Done()
		sub = next
	}
}

func (c *Controller) process(sub *submission, effects []Effect) {
	p := sub.pending
	log := util.LoggerFromContext(sub.ctx).With("conversation_id", p.ConversationID)

	var reply *ReplyEffect
	for _, eff := range effects {
		if r, ok := eff.(ReplyEffect); ok {
			reply = &r
		}
	}
	if reply == nil {
		// The conversation disappeared while this message was queued.
		log.Warn("dropping queued message for missing conversation")
		p.reply = domain.Message{ID: c.newID(), Text: ErrConversationNotFound.Error(), Sender: domain.SenderError, Timestamp: c.now()}
		close(p.done)
		return
	}

	resolved := domain.Message{ID: c.newID(), Sender: domain.SenderBot}
	text, err := c.backend.Reply(sub.ctx, reply.Text, reply.History, reply.ConversationID)
	if err != nil {
		log.Error("assistant reply failed", "err", err)
		resolved.Sender = domain.SenderError
		resolved.Text = err.Error()
	} else {
		resolved.Text = text
	}

	c.mu.Lock()
	resolved.Timestamp = c.now()
	effects = c.applyLocked(ReplyResolved{
		ConversationID: p.ConversationID,
		UserMessage:    p.UserMessage,
		Reply:          resolved,
		At:             resolved.Timestamp,
	})
	c.mu.Unlock()

	p.reply = resolved
	close(p.done)

	for _, eff := range effects {
		if s, ok := eff.(SaveEffect); ok {
			c.save(sub.ctx, s)
		}
	}
}

// save is best effort: failures are logged and local state stays as is.
func (c *Controller) save(ctx context.Context, s SaveEffect) {
	log := util.LoggerFromContext(ctx).With("conversation_id", s.Conversation.ID, "user_id", s.UserID)
	if err := c.backend.SaveConversation(ctx, s.UserID, s.Conversation); err != nil {
		log.Warn("save conversation failed", "err", err)
		return
	}
	log.Debug("conversation saved", "messages", len(s.Conversation.Messages))
}

// Delete removes a conversation after the user confirms and the store of
// record acknowledges. Local state only changes on remote success.
func (c *Controller) Delete(ctx context.Context, conversationID string, confirm Confirmer) error {
	log := util.LoggerFromContext(ctx).With("conversation_id", conversationID)
	c.mu.Lock()
	user := c.state.User
	conv, ok := c.state.Conversations[conversationID]
	c.mu.Unlock()
	if user == nil {
		return ErrNoIdentity
	}
	if !ok {
		return ErrConversationNotFound
	}
	if confirm == nil || !confirm.ConfirmDelete(ctx, conv.Clone()) {
		log.Info("conversation deletion cancelled")
		return ErrNotConfirmed
	}

	if err := c.backend.DeleteConversation(ctx, user.ID, conversationID); err != nil {
		log.Error("delete conversation failed", "err", err)
		return fmt.Errorf("delete conversation: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.User == nil || c.state.User.ID != user.ID {
		return nil
	}
	c.applyLocked(DeleteConfirmed{ConversationID: conversationID, Fresh: c.welcome(*c.state.User)})
	log.Info("conversation deleted")
	return nil
}

// Select makes conversationID the active conversation.
func (c *Controller) Select(conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.state.Conversations[conversationID]; !ok {
		return ErrConversationNotFound
	}
	c.applyLocked(Selected{ConversationID: conversationID})
	return nil
}

// Conversation returns a copy of one conversation.
func (c *Controller) Conversation(conversationID string) (domain.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.state.Conversations[conversationID]
	if !ok {
		return domain.Conversation{}, ErrConversationNotFound
	}
	return conv.Clone(), nil
}

// Summaries lists conversations, most recently updated first.
func (c *Controller) Summaries() []domain.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.Summaries(c.state.Conversations)
}

// Snapshot is a read-only view of the session for rendering.
type Snapshot struct {
	User          *domain.User         `json:"user,omitempty"`
	ActiveID      string               `json:"activeConversationId,omitempty"`
	Loading       bool                 `json:"loading"`
	Responding    bool                 `json:"responding"`
	Error         string               `json:"error,omitempty"`
	Conversations []domain.Summary     `json:"conversations"`
	Active        *domain.Conversation `json:"activeConversation,omitempty"`
}

// Snapshot returns the current session view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	snap := Snapshot{
		ActiveID:      s.ActiveID,
		Loading:       s.Loading,
		Responding:    s.Responding[s.ActiveID],
		Error:         s.FetchError,
		Conversations: domain.Summaries(s.Conversations),
	}
	if s.User != nil {
		u := *s.User
		snap.User = &u
	}
	if conv, ok := s.Conversations[s.ActiveID]; ok {
		active := conv.Clone()
		snap.Active = &active
	}
	return snap
}

// busy reports whether a bootstrap fetch or any submission is still in flight.
func (c *Controller) busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Loading || len(c.queues) > 0
}

// Wait blocks until every accepted submission has been replied to and saved.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

func (c *Controller) applyLocked(ev Event) []Effect {
	next, effects := Apply(c.state, ev)
	c.state = next
	return effects
}

func (c *Controller) welcome(user domain.User) domain.Conversation {
	return WelcomeConversation(user, c.newID(), c.newID(), c.now())
}
