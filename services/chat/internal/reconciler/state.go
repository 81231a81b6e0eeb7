package reconciler

import (
	"time"

	"webhookchat/pkg/domain"
)

// State is everything the reconciler knows about one browser session. It is
// only ever replaced through Apply.
type State struct {
	// User is the identity most recently observed; nil when logged out.
	User *domain.User
	// ReconciledID is the identity whose remote history has been fetched.
	ReconciledID string
	// FetchingID is the identity whose bootstrap fetch is in flight.
	FetchingID    string
	Conversations map[string]domain.Conversation
	ActiveID      string
	Loading       bool
	// Responding holds conversations with an assistant reply in flight.
	Responding map[string]bool
	FetchError string
}

// Event is an input to Apply. Events carry every generated id and clock
// reading they need so Apply stays deterministic.
type Event interface{ event() }

// IdentityObserved reports the current identity; User is nil on logout.
// Fresh is used when a welcome conversation has to be created.
type IdentityObserved struct {
	User  *domain.User
	Fresh domain.Conversation
}

// FetchCompleted folds the outcome of a bootstrap fetch back into state.
type FetchCompleted struct {
	UserID        string
	Conversations []domain.Conversation
	Err           error
	Fresh         domain.Conversation
}

// NewChatRequested registers a locally created conversation.
type NewChatRequested struct {
	Conversation domain.Conversation
}

// SubmitStarted is the optimistic step of a message submission.
type SubmitStarted struct {
	ConversationID string
	UserMessage    domain.Message
	At             time.Time
}

// ReplyResolved carries the assistant (or error) message for a submission.
type ReplyResolved struct {
	ConversationID string
	UserMessage    domain.Message
	Reply          domain.Message
	At             time.Time
}

// DeleteConfirmed is applied once the store of record has removed a conversation.
type DeleteConfirmed struct {
	ConversationID string
	Fresh          domain.Conversation
}

// Selected makes a conversation active.
type Selected struct {
	ConversationID string
}

func (IdentityObserved) event() {}
func (FetchCompleted) event()   {}
func (NewChatRequested) event() {}
func (SubmitStarted) event()    {}
func (ReplyResolved) event()    {}
func (DeleteConfirmed) event()  {}
func (Selected) event()         {}

// Effect is a side effect requested by Apply. The controller executes it and
// feeds the outcome back as an Event.
type Effect interface{ effect() }

// FetchEffect asks for the remote history of UserID.
type FetchEffect struct {
	UserID string
}

// ReplyEffect asks the assistant to answer Text. History excludes the
// placeholder and ends with the new user message.
type ReplyEffect struct {
	ConversationID string
	Text           string
	History        []domain.Message
}

// SaveEffect pushes a finalized conversation to the store of record.
type SaveEffect struct {
	UserID       string
	Conversation domain.Conversation
}

func (FetchEffect) effect() {}
func (ReplyEffect) effect() {}
func (SaveEffect) effect()  {}

// NewState returns the logged-out state.
func NewState() State {
	return State{
		Conversations: map[string]domain.Conversation{},
		Responding:    map[string]bool{},
	}
}

// Apply is the reconciler's transition function. It never mutates s; the
// returned state shares no maps with it.
func Apply(s State, ev Event) (State, []Effect) {
	next := s.clone()
	switch e := ev.(type) {
	case IdentityObserved:
		return next.observe(e)
	case FetchCompleted:
		return next.fetched(e), nil
	case NewChatRequested:
		if next.User == nil {
			return next, nil
		}
		next.insertActive(e.Conversation)
		return next, nil
	case SubmitStarted:
		return next.submit(e)
	case ReplyResolved:
		return next.resolve(e)
	case DeleteConfirmed:
		return next.deleted(e), nil
	case Selected:
		if _, ok := next.Conversations[e.ConversationID]; ok {
			next.ActiveID = e.ConversationID
		}
		return next, nil
	}
	return next, nil
}

func (s State) observe(e IdentityObserved) (State, []Effect) {
	if e.User == nil {
		return NewState(), nil
	}
	user := *e.User
	s.User = &user
	switch {
	case s.Loading && s.FetchingID == user.ID:
		// Joins the bootstrap already in flight.
		return s, []Effect{FetchEffect{UserID: user.ID}}
	case s.ReconciledID == user.ID && !s.Loading:
		if len(s.Conversations) == 0 && s.FetchError == "" {
			s.insertActive(e.Fresh)
		}
		return s, nil
	}
	s.Conversations = map[string]domain.Conversation{}
	s.Responding = map[string]bool{}
	s.ActiveID = ""
	s.FetchError = ""
	s.ReconciledID = ""
	s.Loading = true
	s.FetchingID = user.ID
	return s, []Effect{FetchEffect{UserID: user.ID}}
}

func (s State) fetched(e FetchCompleted) State {
	if !s.Loading || s.FetchingID != e.UserID {
		return s
	}
	s.Loading = false
	s.FetchingID = ""
	s.ReconciledID = e.UserID
	s.Conversations = map[string]domain.Conversation{}
	s.ActiveID = ""
	if e.Err != nil {
		s.FetchError = e.Err.Error()
		return s
	}
	s.FetchError = ""
	if len(e.Conversations) == 0 {
		s.insertActive(e.Fresh)
		return s
	}
	for _, c := range e.Conversations {
		s.Conversations[c.ID] = c.Clone()
	}
	s.ActiveID = s.mostRecentID()
	return s
}

func (s State) submit(e SubmitStarted) (State, []Effect) {
	conv, ok := s.Conversations[e.ConversationID]
	if !ok || s.User == nil {
		return s, nil
	}
	conv = conv.Clone()
	conv.Messages = append(withoutPlaceholder(conv.Messages), e.UserMessage, domain.Message{
		ID:        domain.PlaceholderMessageID,
		Text:      domain.PlaceholderMessageText,
		Sender:    domain.SenderTypingIndicator,
		Timestamp: e.At,
	})
	conv.UpdatedAt = later(conv.UpdatedAt, e.At)
	s.Conversations[conv.ID] = conv
	s.Responding[conv.ID] = true

	history := withoutPlaceholder(conv.Messages)
	return s, []Effect{ReplyEffect{
		ConversationID: conv.ID,
		Text:           e.UserMessage.Text,
		History:        history,
	}}
}

func (s State) resolve(e ReplyResolved) (State, []Effect) {
	delete(s.Responding, e.ConversationID)
	conv, ok := s.Conversations[e.ConversationID]
	if !ok || s.User == nil {
		return s, nil
	}
	kept := make([]domain.Message, 0, len(conv.Messages)+1)
	hadUserMessage := false
	for _, m := range conv.Messages {
		if m.IsPlaceholder() || m.ID == e.UserMessage.ID {
			continue
		}
		if m.Sender == domain.SenderUser {
			hadUserMessage = true
		}
		kept = append(kept, m)
	}
	conv.Messages = append(kept, e.UserMessage, e.Reply)
	if !hadUserMessage && domain.IsDefaultTitle(conv.Title) {
		conv.Title = domain.TitleFromText(e.UserMessage.Text)
	}
	conv.UpdatedAt = later(conv.UpdatedAt, e.At)
	s.Conversations[conv.ID] = conv
	return s, []Effect{SaveEffect{UserID: s.User.ID, Conversation: conv.Clone()}}
}

func (s State) deleted(e DeleteConfirmed) State {
	if _, ok := s.Conversations[e.ConversationID]; !ok {
		return s
	}
	delete(s.Conversations, e.ConversationID)
	delete(s.Responding, e.ConversationID)
	if s.ActiveID != e.ConversationID {
		return s
	}
	s.ActiveID = s.mostRecentID()
	if s.ActiveID == "" && s.FetchError == "" && s.User != nil {
		s.insertActive(e.Fresh)
	}
	return s
}

func (s *State) insertActive(c domain.Conversation) {
	if c.ID == "" {
		return
	}
	s.Conversations[c.ID] = c.Clone()
	s.ActiveID = c.ID
	s.FetchError = ""
}

func (s State) mostRecentID() string {
	summaries := domain.Summaries(s.Conversations)
	if len(summaries) == 0 {
		return ""
	}
	return summaries[0].ID
}

func (s State) clone() State {
	out := s
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	out.Conversations = make(map[string]domain.Conversation, len(s.Conversations))
	for id, c := range s.Conversations {
		out.Conversations[id] = c
	}
	out.Responding = make(map[string]bool, len(s.Responding))
	for id, v := range s.Responding {
		out.Responding[id] = v
	}
	return out
}

// WelcomeConversation builds a locally created conversation seeded with the
// assistant's greeting for user.
func WelcomeConversation(user domain.User, id, messageID string, now time.Time) domain.Conversation {
	return domain.Conversation{
		ID:     id,
		UserID: user.ID,
		Messages: []domain.Message{{
			ID:        messageID,
			Text:      domain.WelcomeText(user),
			Sender:    domain.SenderBot,
			Timestamp: now,
		}},
		Title:     domain.DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func withoutPlaceholder(messages []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if !m.IsPlaceholder() {
			out = append(out, m)
		}
	}
	return out
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
