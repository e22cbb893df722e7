package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/tidegraph/tidegraph/internal/event"
	"github.com/tidegraph/tidegraph/internal/rag"
)

const maxChatRequestBytes = 1 << 20 // 1MB

type chatHandler struct {
	service    ChatStreamer
	chats      ChatReader
	logger     *slog.Logger
	trustProxy bool
}

// chatRequest is the POST /api/v1/chats body.
type chatRequest struct {
	Messages   []rag.Message `json:"messages"`
	ChatID     *uuid.UUID    `json:"chat_id,omitempty"`
	EngineName string        `json:"chat_engine,omitempty"`
}

// stream runs one chat turn and streams its events as SSE frames. Every
// outcome after the headers are written, including "chat not found", travels
// as an error_part frame rather than an HTTP status.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxChatRequestBytes)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	viewer, browserID := h.viewerFrom(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for ev := range h.service.Chat(ctx, rag.Request{
		Messages:   req.Messages,
		ChatID:     req.ChatID,
		Viewer:     viewer,
		BrowserID:  browserID,
		EngineName: req.EngineName,
	}) {
		select {
		case <-ctx.Done():
			h.logger.DebugContext(ctx, "client disconnected mid-stream")
			return
		default:
		}
		if err := writeEvent(w, flusher, ev); err != nil {
			h.logger.DebugContext(ctx, "stream write failed", "error", err)
			return
		}
	}
}

// writeEvent serializes one event as an SSE frame and flushes it.
func writeEvent(w io.Writer, flusher http.Flusher, ev event.Event) error {
	var payload any
	switch ev.Type {
	case event.TypeText:
		payload = ev.Text
	case event.TypeData:
		payload = ev.Data
	case event.TypeMessageAnnotations:
		payload = ev.Annotation
	case event.TypeError:
		payload = ev.Error
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	flusher.Flush()
	return nil
}
