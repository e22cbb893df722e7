package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/tidegraph/tidegraph/internal/chat"
	"github.com/tidegraph/tidegraph/internal/engine"
	"github.com/tidegraph/tidegraph/internal/graph"
)

// list returns the chats the caller may see, newest first.
func (h *chatHandler) list(w http.ResponseWriter, r *http.Request) {
	viewer, browserID := h.viewerFrom(r)
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	chats, err := h.chats.List(r.Context(), viewer, browserID, limit, offset)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list chats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

// messages returns a chat's messages in turn order, subject to visibility.
func (h *chatHandler) messages(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	viewer, _ := h.viewerFrom(r)

	c, err := h.chats.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get chat failed", "chat_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !chat.CanView(c, viewer) {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	msgs, err := h.chats.Messages(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list messages failed", "chat_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Chat     *chat.Chat      `json:"chat"`
		Messages []*chat.Message `json:"messages"`
	}{Chat: c, Messages: msgs})
}

// delete soft-deletes a chat the caller owns.
func (h *chatHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	viewer, browserID := h.viewerFrom(r)

	switch err := h.chats.Delete(r.Context(), id, viewer, browserID); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, chat.ErrNotFound):
		writeError(w, http.StatusNotFound, "chat not found")
	case errors.Is(err, chat.ErrForbidden):
		writeError(w, http.StatusForbidden, "access denied")
	default:
		h.logger.ErrorContext(r.Context(), "delete chat failed", "chat_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// subgraphResponse is the GET /api/v1/messages/{id}/subgraph body.
type subgraphResponse struct {
	Entities      []graph.Entity       `json:"entities"`
	Relationships []graph.Relationship `json:"relationships"`
}

// subgraph returns the knowledge-graph neighborhood retrieved for a user
// message, re-run with the chat's engine settings as frozen at creation.
func (h *chatHandler) subgraph(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}
	viewer, _ := h.viewerFrom(r)

	m, err := h.chats.GetMessage(r.Context(), id)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get message failed", "message_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	c, err := h.chats.Get(r.Context(), m.ChatID)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get chat failed", "chat_id", m.ChatID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !chat.CanView(c, viewer) {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	entities, relationships, err := h.service.MessageSubgraph(r.Context(), id)
	if err != nil {
		if errors.Is(err, engine.ErrEngineNotFound) {
			writeError(w, http.StatusNotFound, "engine not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "message subgraph failed", "message_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, subgraphResponse{Entities: entities, Relationships: relationships})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
