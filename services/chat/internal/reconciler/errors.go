package reconciler

import "errors"

var (
	// ErrNoIdentity indicates an operation that needs an authenticated user.
	ErrNoIdentity           = errors.New("no authenticated user")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotConfirmed         = errors.New("deletion not confirmed")
	ErrEmptyMessage         = errors.New("message text is empty")
)
