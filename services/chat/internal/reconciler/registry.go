package reconciler

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"webhookchat/pkg/domain"
)

// Registry holds one Controller per authenticated user. Each authenticated
// request counts as an identity observation for that user's controller.
// Controllers stay in memory until Logout or until EvictIdle finds them
// unused for longer than the idle timeout.
type Registry struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	ctl      *Controller
	lastSeen time.Time
}

// NewRegistry builds controllers with cfg on demand.
func NewRegistry(cfg Config) *Registry {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{cfg: cfg, now: now, sessions: map[string]*session{}}
}

// Observe returns the controller for user after reconciling it with the
// identity. The error is the bootstrap fetch failure, if any; the controller
// is returned either way.
func (r *Registry) Observe(ctx context.Context, user domain.User) (*Controller, error) {
	if strings.TrimSpace(user.ID) == "" {
		return nil, ErrNoIdentity
	}
	r.mu.Lock()
	sess, ok := r.sessions[user.ID]
	if !ok {
		sess = &session{ctl: New(r.cfg)}
		r.sessions[user.ID] = sess
	}
	sess.lastSeen = r.now()
	r.mu.Unlock()

	err := sess.ctl.ObserveIdentity(ctx, &user)
	return sess.ctl, err
}

// Logout clears the user's session state and forgets the controller.
// In-flight replies still finish but are no longer applied.
func (r *Registry) Logout(ctx context.Context, userID string) {
	r.mu.Lock()
	sess, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()
	if ok {
		_ = sess.ctl.ObserveIdentity(ctx, nil)
	}
}

// EvictIdle drops controllers not observed within idle. Controllers with a
// fetch, reply or save still in flight are kept for a later pass. It returns
// the evicted user ids.
func (r *Registry) EvictIdle(ctx context.Context, idle time.Duration) []string {
	cutoff := r.now().Add(-idle)
	var evicted []string
	var ctls []*Controller

	r.mu.Lock()
	for userID, sess := range r.sessions {
		if sess.lastSeen.After(cutoff) || sess.ctl.busy() {
			continue
		}
		delete(r.sessions, userID)
		evicted = append(evicted, userID)
		ctls = append(ctls, sess.ctl)
	}
	r.mu.Unlock()

	for _, ctl := range ctls {
		_ = ctl.ObserveIdentity(ctx, nil)
	}
	return evicted
}

// RunEviction calls EvictIdle every interval until ctx is done. A
// non-positive idle disables eviction.
func (r *Registry) RunEviction(ctx context.Context, idle, interval time.Duration) {
	if idle <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := r.EvictIdle(ctx, idle); len(evicted) > 0 {
				slog.Info("evicted idle chat sessions", "count", len(evicted))
			}
		}
	}
}

// Wait blocks until every controller's in-flight work has settled.
func (r *Registry) Wait() {
	r.mu.Lock()
	ctls := make([]*Controller, 0, len(r.sessions))
	for _, sess := range r.sessions {
		ctls = append(ctls, sess.ctl)
	}
	r.mu.Unlock()
	for _, ctl := range ctls {
		ctl.Wait()
	}
}
