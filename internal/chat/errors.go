package chat

import "errors"

var (
	// ErrNotFound is returned when a chat or message does not exist or is
	// soft deleted.
	ErrNotFound = errors.New("chat not found")

	// ErrForbidden is returned when the viewer may not read the chat.
	ErrForbidden = errors.New("access denied")
)
