// ABOUTME: HTTP API handlers for user, thread and message CRUD
// ABOUTME: Mirrors the WebSocket ingest path for messages posted over plain HTTP

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/2389/thread-relay/internal/store"
	"github.com/2389/thread-relay/internal/wire"
)

// CreateUserRequest is the JSON request body for POST /api/users.
type CreateUserRequest struct {
	Name string `json:"name"`
}

// UserResponse is the JSON response for user operations.
type UserResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// CreateThreadRequest is the JSON request body for POST /api/threads.
type CreateThreadRequest struct {
	Title  string `json:"title"`
	UserID int64  `json:"user_id"`
}

// ThreadResponse is the JSON response for thread operations.
type ThreadResponse struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	UserID    int64  `json:"user_id"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// CreateMessageRequest is the JSON request body for POST /api/threads/{id}/messages.
type CreateMessageRequest struct {
	Content string `json:"content"`
}

// ThreadMessagesResponse is the JSON response for GET /api/threads/{id}/messages.
type ThreadMessagesResponse struct {
	ThreadID int64                 `json:"thread_id"`
	Messages []wire.MessagePayload `json:"messages"`
}

// handleUsers handles POST /api/users requests.
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		s.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	user, err := s.store.CreateUser(r.Context(), req.Name)
	if errors.Is(err, store.ErrDuplicateUser) {
		s.sendJSONError(w, http.StatusBadRequest, "user already exists")
		return
	}
	if err != nil {
		s.logger.Error("failed to create user", "error", err, "name", req.Name)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	s.logger.Info("user created", "user_id", user.ID, "name", user.Name)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(UserResponse{ID: user.ID, Name: user.Name})
}

// handleUserRoutes handles GET /api/users/{id} and GET /api/users/{id}/threads.
func (s *Server) handleUserRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/users/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	switch {
	case len(parts) == 1:
		s.getUser(w, r, userID)
	case len(parts) == 2 && parts[1] == "threads":
		s.listUserThreads(w, r, userID)
	default:
		s.sendJSONError(w, http.StatusNotFound, "unknown route")
	}
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request, userID int64) {
	user, err := s.store.GetUser(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get user", "error", err, "user_id", userID)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to get user")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(UserResponse{ID: user.ID, Name: user.Name})
}

func (s *Server) listUserThreads(w http.ResponseWriter, r *http.Request, userID int64) {
	threads, err := s.store.ListUserThreads(r.Context(), userID)
	if err != nil {
		s.logger.Error("failed to list user threads", "error", err, "user_id", userID)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to list threads")
		return
	}

	response := make([]ThreadResponse, 0, len(threads))
	for _, t := range threads {
		response = append(response, threadResponse(t))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleThreads handles POST /api/threads requests.
func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req CreateThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" || req.UserID == 0 {
		s.sendJSONError(w, http.StatusBadRequest, "title and user_id are required")
		return
	}

	if _, err := s.store.GetUser(r.Context(), req.UserID); errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "user not found")
		return
	} else if err != nil {
		s.logger.Error("failed to check user", "error", err, "user_id", req.UserID)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to create thread")
		return
	}

	thread, err := s.store.CreateThread(r.Context(), req.Title, req.UserID)
	if err != nil {
		s.logger.Error("failed to create thread", "error", err, "user_id", req.UserID)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to create thread")
		return
	}

	s.logger.Info("thread created", "thread_id", thread.ID, "user_id", thread.UserID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(threadResponse(thread))
}

// handleThreadRoutes handles GET /api/threads/{id},
// GET /api/threads/{id}/messages and POST /api/threads/{id}/messages.
func (s *Server) handleThreadRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/threads/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	threadID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid thread id")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.getThread(w, r, threadID)
	case len(parts) == 2 && parts[1] == "messages" && r.Method == http.MethodGet:
		s.listThreadMessages(w, r, threadID)
	case len(parts) == 2 && parts[1] == "messages" && r.Method == http.MethodPost:
		s.postThreadMessage(w, r, threadID)
	case len(parts) == 2 && parts[1] == "messages":
		w.WriteHeader(http.StatusMethodNotAllowed)
	case len(parts) == 1:
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		s.sendJSONError(w, http.StatusNotFound, "unknown route")
	}
}

func (s *Server) getThread(w http.ResponseWriter, r *http.Request, threadID int64) {
	thread, err := s.store.GetThread(r.Context(), threadID)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "thread not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get thread", "error", err, "thread_id", threadID)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to get thread")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(threadResponse(thread))
}

func (s *Server) listThreadMessages(w http.ResponseWriter, r *http.Request, threadID int64) {
	exists, err := s.store.ThreadExists(r.Context(), threadID)
	if err != nil {
		s.logger.Error("failed to check thread", "error", err, "thread_id", threadID)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if !exists {
		s.sendJSONError(w, http.StatusNotFound, "thread not found")
		return
	}

	messages, err := s.store.ListMessages(r.Context(), threadID)
	if err != nil {
		s.logger.Error("failed to list messages", "error", err, "thread_id", threadID)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	response := ThreadMessagesResponse{ThreadID: threadID, Messages: make([]wire.MessagePayload, 0, len(messages))}
	for _, msg := range messages {
		response.Messages = append(response.Messages, messagePayload(msg))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// postThreadMessage persists a user message over plain HTTP and runs the
// same persist-broadcast-reply sequence as the WebSocket path, so live
// subscribers observe messages posted through either surface.
func (s *Server) postThreadMessage(w http.ResponseWriter, r *http.Request, threadID int64) {
	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		s.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}

	exists, err := s.store.ThreadExists(r.Context(), threadID)
	if err != nil {
		s.logger.Error("failed to check thread", "error", err, "thread_id", threadID)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to create message")
		return
	}
	if !exists {
		s.sendJSONError(w, http.StatusNotFound, "thread not found")
		return
	}

	userMsg, err := s.store.AppendMessage(r.Context(), threadID, store.RoleUser, req.Content)
	if err != nil {
		s.logger.Error("failed to persist user message", "error", err, "thread_id", threadID)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to create message")
		return
	}
	s.hub.Broadcast(threadID, userMsg)

	if history, err := s.store.ListMessages(r.Context(), threadID); err != nil {
		s.logger.Error("failed to load thread history", "error", err, "thread_id", threadID)
	} else if replyContent, err := s.generator.Generate(r.Context(), history); err != nil {
		s.logger.Error("reply generation failed", "error", err, "thread_id", threadID)
	} else if botMsg, err := s.store.AppendMessage(r.Context(), threadID, store.RoleAssistant, replyContent); err != nil {
		s.logger.Error("failed to persist assistant message", "error", err, "thread_id", threadID)
	} else {
		s.hub.Broadcast(threadID, botMsg)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(messagePayload(userMsg))
}

// handleHealth handles GET /healthz requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.sendJSONError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func threadResponse(t *store.Thread) ThreadResponse {
	return ThreadResponse{
		ID:        t.ID,
		Title:     t.Title,
		UserID:    t.UserID,
		CreatedAt: wire.FormatTimestamp(t.CreatedAt),
		UpdatedAt: wire.FormatTimestamp(t.UpdatedAt),
	}
}

func messagePayload(msg *store.Message) wire.MessagePayload {
	return wire.MessagePayload{
		ID:        msg.ID,
		ThreadID:  msg.ThreadID,
		Content:   msg.Content,
		Role:      msg.Role,
		CreatedAt: wire.FormatTimestamp(msg.CreatedAt),
	}
}
