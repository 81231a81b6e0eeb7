package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"webhookchat/internal/ratelimit"
	"webhookchat/internal/usertoken"
	"webhookchat/internal/util"
	"webhookchat/pkg/domain"
	"webhookchat/services/chat/internal/reconciler"
	"webhookchat/services/chat/internal/webhook"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Registry      *reconciler.Registry
	TokenVerifier *usertoken.Verifier
	// Webhooks is only consulted by /healthz to report endpoint configuration.
	Webhooks *webhook.Client

	RedisAddr              string
	RedisPassword          string
	SendRateLimitPerMinute int
	TrustedProxies         *util.TrustedProxies
}

// Server exposes the chat session API.
type Server struct {
	registry      *reconciler.Registry
	tokenVerifier *usertoken.Verifier
	webhooks      *webhook.Client
	sendLimiter   *ratelimit.FixedWindowLimiter
	trusted       *util.TrustedProxies
	mux           *http.ServeMux
}

// New constructs the server with routes configured. A zero send limit
// disables rate limiting.
func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("session registry is required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("token verifier is required")
	}
	var sendLimiter *ratelimit.FixedWindowLimiter
	if cfg.SendRateLimitPerMinute > 0 {
		limiter, err := ratelimit.NewFixedWindowLimiter(ratelimit.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Prefix:   "webhookchat:chat:ratelimit:send",
			Limit:    cfg.SendRateLimitPerMinute,
			Window:   time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("init send limiter: %w", err)
		}
		sendLimiter = limiter
	}
	s := &Server{
		registry:      cfg.Registry,
		tokenVerifier: cfg.TokenVerifier,
		webhooks:      cfg.Webhooks,
		sendLimiter:   sendLimiter,
		trusted:       cfg.TrustedProxies,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(s.mux))
}

// Close releases the limiter's Redis connections.
func (s *Server) Close() error {
	return s.sendLimiter.Close()
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.Handle("/api/session", s.authenticated(s.handleSession))
	s.mux.Handle("/api/conversations", s.authenticated(s.handleConversations))
	s.mux.Handle("/api/conversations/", s.authenticated(s.handleConversationByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.webhooks != nil {
		resp["webhooks"] = s.webhooks.Configured()
	}
	writeJSON(w, http.StatusOK, resp)
}

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "chat.authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := s.tokenVerifier.VerifyUser(token)
		if err != nil {
			s.audit(r, "chat.authorize", "fail", "reason", "invalid_signature_or_claims")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r.WithContext(util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", user.ID))), user)
	})
}

// session reconciles the user's controller with the identity carried by the
// request. A failed bootstrap is not fatal: the error is part of the snapshot.
func (s *Server) session(w http.ResponseWriter, r *http.Request, user domain.User) (*reconciler.Controller, bool) {
	ctl, err := s.registry.Observe(r.Context(), user)
	if ctl == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("session bootstrap failed", "err", err)
	}
	return ctl, true
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		ctl, ok := s.session(w, r, user)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, ctl.Snapshot())
	case http.MethodDelete:
		s.registry.Logout(r.Context(), user.ID)
		s.audit(r, "chat.logout", "success", "user_id", user.ID)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, user domain.User) {
	ctl, ok := s.session(w, r, user)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"conversations": ctl.Summaries()})
	case http.MethodPost:
		conv, err := ctl.NewChat(r.Context())
		if err != nil {
			writeReconcilerError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, conv)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	ctl, ok := s.session(w, r, user)
	if !ok {
		return
	}

	// Handle /api/conversations/{id}/messages
	if len(parts) == 2 && parts[1] == "messages" {
		s.handleMessages(w, r, user, ctl, id)
		return
	}
	if len(parts) == 2 {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if err := ctl.Select(id); err != nil {
			writeReconcilerError(w, err)
			return
		}
		conv, err := ctl.Conversation(id)
		if err != nil {
			writeReconcilerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	case http.MethodDelete:
		confirmed := r.URL.Query().Get("confirm") == "true"
		err := ctl.Delete(r.Context(), id, reconciler.ConfirmFunc(func(_ context.Context, _ domain.Conversation) bool {
			return confirmed
		}))
		if err != nil {
			writeReconcilerError(w, err)
			return
		}
		s.audit(r, "chat.conversation.delete", "success", "user_id", user.ID, "conversation_id", id)
		writeJSON(w, http.StatusOK, ctl.Snapshot())
	default:
		methodNotAllowed(w)
	}
}

type sendRequest struct {
	Text string `json:"text"`
}

type sendResponse struct {
	Conversation domain.Conversation `json:"conversation"`
	Reply        *domain.Message     `json:"reply,omitempty"`
	Pending      bool                `json:"pending"`
}

// handleMessages submits a message and waits for the reply while the client
// stays connected. If the client goes away first the reply still lands in the
// session and 202 carries the optimistic state.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, user domain.User, ctl *reconciler.Controller, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, "send|"+user.ID) {
		return
	}
	var req sendRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	pending, err := ctl.Submit(r.Context(), id, req.Text)
	if err != nil {
		writeReconcilerError(w, err)
		return
	}

	select {
	case <-pending.Done():
		reply := pending.Result()
		conv, err := ctl.Conversation(id)
		if err != nil {
			writeReconcilerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sendResponse{Conversation: conv, Reply: &reply})
	case <-r.Context().Done():
		conv, _ := ctl.Conversation(id)
		writeJSON(w, http.StatusAccepted, sendResponse{Conversation: conv, Pending: true})
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, key string) bool {
	decision := s.sendLimiter.Allow(r.Context(), key)
	if decision.Allowed {
		return true
	}
	s.audit(r, "chat.send.rate_limited", "fail", "client_ip", util.ClientIP(r, s.trusted))
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(decision.RetryAfter.Seconds()))))
	writeError(w, http.StatusTooManyRequests, "too many messages, slow down")
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
	}
	logAttrs = append(logAttrs, attrs...)
	log := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		log.Info("security_event", logAttrs...)
		return
	}
	log.Warn("security_event", logAttrs...)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeReconcilerError maps session and webhook failures onto HTTP statuses.
func writeReconcilerError(w http.ResponseWriter, err error) {
	var (
		cfgErr       *webhook.ConfigurationError
		formatErr    *webhook.DataFormatError
		transportErr *webhook.TransportError
		networkErr   *webhook.NetworkError
	)
	switch {
	case errors.Is(err, reconciler.ErrNoIdentity):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, reconciler.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, reconciler.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, reconciler.ErrNotConfirmed):
		writeError(w, http.StatusPreconditionRequired, "deletion requires confirm=true")
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusServiceUnavailable, cfgErr.Error())
	case errors.As(err, &transportErr):
		writeError(w, http.StatusBadGateway, transportErr.Error())
	case errors.As(err, &networkErr):
		writeError(w, http.StatusBadGateway, networkErr.Error())
	case errors.As(err, &formatErr):
		writeError(w, http.StatusBadGateway, formatErr.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
