package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"webhookchat/internal/util"
	"webhookchat/services/hookstore/internal/store"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Config wires required dependencies for the HTTP server.
type Config struct {
	Store store.Store
	Now   func() time.Time
}

// Server exposes the retrieve, save and delete webhooks.
type Server struct {
	store store.Store
	now   func() time.Time
	mux   *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	s := &Server{store: cfg.Store, now: now, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/webhook/retrieve", s.handleRetrieve)
	s.mux.HandleFunc("/webhook/save", s.handleSave)
	s.mux.HandleFunc("/webhook/delete", s.handleDelete)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type conversationResponse struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_app_id"`
	Title     string          `json:"title"`
	Messages  json.RawMessage `json:"messages"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_app_id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_app_id is required")
		return
	}
	recs, err := s.store.ListConversations(r.Context(), userID)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("list conversations failed", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	out := make([]conversationResponse, 0, len(recs))
	for _, rec := range recs {
		messages := rec.Messages
		if len(messages) == 0 {
			messages = json.RawMessage("[]")
		}
		out = append(out, conversationResponse{
			ID:        rec.ConversationID,
			UserID:    rec.UserID,
			Title:     rec.Title,
			Messages:  messages,
			CreatedAt: rec.CreatedAt.UTC().Format(timestampLayout),
			UpdatedAt: rec.UpdatedAt.UTC().Format(timestampLayout),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type saveRequest struct {
	UserID         string          `json:"user_app_id"`
	ConversationID string          `json:"conversation_id"`
	Messages       json.RawMessage `json:"messages"`
	Title          string          `json:"title"`
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req saveRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 8<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.ConversationID) == "" {
		writeError(w, http.StatusBadRequest, "user_app_id and conversation_id are required")
		return
	}
	if !bytes.HasPrefix(bytes.TrimSpace(req.Messages), []byte("[")) {
		writeError(w, http.StatusBadRequest, "messages must be an array")
		return
	}
	now := s.now()
	err := s.store.SaveConversation(r.Context(), store.Record{
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Title:          req.Title,
		Messages:       req.Messages,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("save conversation failed", "conversation_id", req.ConversationID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to save conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

type deleteRequest struct {
	UserID         string `json:"user_app_id"`
	ConversationID string `json:"conversation_id"`
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	var req deleteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.ConversationID) == "" {
		writeError(w, http.StatusBadRequest, "user_app_id and conversation_id are required")
		return
	}
	ok, err := s.store.DeleteConversation(r.Context(), req.UserID, req.ConversationID)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("delete conversation failed", "conversation_id", req.ConversationID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
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
