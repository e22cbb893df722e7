// Package event defines the typed event stream a chat turn emits to its
// caller. The boundary layer (internal/api) serializes each event as it is
// produced; nothing in here buffers or blocks.
package event

import "github.com/tidegraph/tidegraph/internal/chat"

// Type discriminates the event union.
type Type string

// Event types, in the order a normal turn uses them.
const (
	// TypeText carries a fragment of the answer body. The first TEXT event
	// of a turn is empty: it signals stream start to the client.
	TypeText Type = "text_part"

	// TypeData carries a snapshot of the chat and the two turn messages for
	// client-side state sync. Emitted right after the turn's rows are
	// persisted and again after the assistant message is finalized.
	TypeData Type = "data_part"

	// TypeMessageAnnotations carries pipeline progress (see State).
	TypeMessageAnnotations Type = "message_annotations_part"

	// TypeError carries a user-safe message. A turn emits at most one.
	TypeError Type = "error_part"
)

// State is the pipeline progress vocabulary carried by annotation events.
type State string

const (
	StateTrace                  State = "TRACE"
	StateRefineQuestion         State = "REFINE_QUESTION"
	StateSearchRelatedDocuments State = "SEARCH_RELATED_DOCUMENTS"
	StateSourceNodes            State = "SOURCE_NODES"
	StateFinished               State = "FINISHED"
)

// DataPayload is the record snapshot carried by TypeData events.
type DataPayload struct {
	Chat             *chat.Chat    `json:"chat"`
	UserMessage      *chat.Message `json:"user_message"`
	AssistantMessage *chat.Message `json:"assistant_message"`
}

// AnnotationPayload is carried by TypeMessageAnnotations events.
type AnnotationPayload struct {
	State   State  `json:"state"`
	Display string `json:"display,omitempty"`
	Context any    `json:"context,omitempty"`
}

// Event is the tagged union streamed to the caller. Exactly one payload
// field is meaningful for a given Type.
type Event struct {
	Type       Type
	Text       string
	Data       *DataPayload
	Annotation *AnnotationPayload
	Error      string
}

// Text builds a text fragment event.
func Text(fragment string) Event {
	return Event{Type: TypeText, Text: fragment}
}

// Data builds a record-snapshot event.
func Data(c *chat.Chat, user, assistant *chat.Message) Event {
	return Event{Type: TypeData, Data: &DataPayload{
		Chat:             c,
		UserMessage:      user,
		AssistantMessage: assistant,
	}}
}

// Annotation builds a progress event. display and context may be empty.
func Annotation(state State, display string, context any) Event {
	return Event{Type: TypeMessageAnnotations, Annotation: &AnnotationPayload{
		State:   state,
		Display: display,
		Context: context,
	}}
}

// Error builds the terminal error event.
func Error(message string) Event {
	return Event{Type: TypeError, Error: message}
}
