package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tidegraph/tidegraph/internal/chat"
)

// Identity headers. X-User-ID and X-Superuser are only honored when the
// server trusts the fronting proxy to have set them; X-Browser-ID always
// comes from the client and only scopes anonymous chats.
const (
	headerUserID    = "X-User-ID"
	headerSuperuser = "X-Superuser"
	headerBrowserID = "X-Browser-ID"
)

// viewerFrom extracts the caller's identity from request headers. Returns a
// nil viewer for anonymous callers.
func (h *chatHandler) viewerFrom(r *http.Request) (*chat.Viewer, string) {
	browserID := r.Header.Get(headerBrowserID)
	if !h.trustProxy {
		return nil, browserID
	}
	raw := r.Header.Get(headerUserID)
	if raw == "" {
		return nil, browserID
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, browserID
	}
	return &chat.Viewer{
		ID:          id,
		IsSuperuser: r.Header.Get(headerSuperuser) == "true",
	}, browserID
}
