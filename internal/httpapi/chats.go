package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/voicechat/internal/chat"
	"github.com/antoniostano/voicechat/internal/failure"
	"github.com/antoniostano/voicechat/internal/voice"
)

const (
	msgMissingRoleContent = "Missing 'role' or 'content' in request"
	msgInvalidRole        = "Invalid 'role': must be 'user' or 'assistant'"
	msgAddMessageFailed   = "Failed to add message. Invalid chat_id?"
)

type addMessageRequest struct {
	Role    string        `json:"role"`
	Content *chat.Content `json:"content"`
}

func (s *Server) storeCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.storeTimeout())
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.storeCtx(r)
	defer cancel()
	id, err := s.store.Create(ctx)
	if err != nil {
		s.respondFailure(w, r, failure.Storage("Failed to create chat", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"chat_id": id})
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.storeCtx(r)
	defer cancel()
	list, err := s.store.List(ctx)
	if err != nil {
		s.respondFailure(w, r, failure.Storage("Failed to list chats", err))
		return
	}
	if list == nil {
		list = []chat.Summary{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.storeCtx(r)
	defer cancel()
	sess, err := s.store.Get(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, chat.ErrNotFound) {
		respondError(w, http.StatusNotFound, failure.KindNotFound, voice.MsgChatNotFound)
		return
	}
	if err != nil {
		s.respondFailure(w, r, failure.Storage("Failed to load chat", err))
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.storeCtx(r)
	defer cancel()
	deleted, err := s.store.Delete(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.respondFailure(w, r, failure.Storage("Failed to delete chat", err))
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, failure.KindNotFound, voice.MsgChatNotFound)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	var req addMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, failure.KindInput, msgMissingRoleContent)
		return
	}
	if req.Role == "" || req.Content == nil || (req.Content.Text == "" && !req.Content.Composite()) {
		respondError(w, http.StatusBadRequest, failure.KindInput, msgMissingRoleContent)
		return
	}
	role := chat.Role(req.Role)
	if !role.Valid() {
		respondError(w, http.StatusBadRequest, failure.KindInput, msgInvalidRole)
		return
	}

	ctx, cancel := s.storeCtx(r)
	defer cancel()
	ok, err := s.store.Append(ctx, chi.URLParam(r, "id"), chat.NewMessage(role, *req.Content))
	if err != nil {
		s.respondFailure(w, r, failure.Storage("Failed to add message", err))
		return
	}
	if !ok {
		respondError(w, http.StatusBadRequest, failure.KindInput, msgAddMessageFailed)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "message added"})
}
