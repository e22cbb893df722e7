// Package rag orchestrates one chat turn: resolve the chat, persist the
// user's message and an assistant placeholder, retrieve knowledge graph and
// corpus context, refine the question, stream the answer, and finalize the
// assistant message. Progress is reported as a lazy event sequence.
package rag

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tidegraph/tidegraph/internal/chat"
	"github.com/tidegraph/tidegraph/internal/engine"
	"github.com/tidegraph/tidegraph/internal/event"
	"github.com/tidegraph/tidegraph/internal/graph"
	"github.com/tidegraph/tidegraph/internal/prompt"
	"github.com/tidegraph/tidegraph/internal/trace"
	"github.com/tidegraph/tidegraph/internal/vector"
)

// User-facing error messages. Everything else stays in the server log.
const (
	msgChatNotFound = "Chat not found"
	msgGenericError = "Encountered an error while processing the chat. Please try again later."
)

// errAbandoned signals that the event consumer stopped pulling; the turn
// stops quietly, nothing is rolled back.
var errAbandoned = errors.New("event consumer gone")

// Repository is what the orchestrator needs from chat persistence.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*chat.Chat, error)
	Messages(ctx context.Context, chatID uuid.UUID) ([]*chat.Message, error)
	Create(ctx context.Context, c *chat.Chat) error
	CreateMessage(ctx context.Context, m *chat.Message) error
	FinishMessage(ctx context.Context, m *chat.Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*chat.Message, error)
}

// Resolver resolves engine names to immutable configurations.
type Resolver interface {
	Resolve(ctx context.Context, name string) (*engine.Config, error)
}

// GraphStore is the knowledge graph retrieval backend.
type GraphStore interface {
	RetrieveWeighted(ctx context.Context, question string, opts graph.RetrieveOptions) ([]graph.Entity, []graph.Relationship, []graph.Chunk, error)
	IntentSearch(ctx context.Context, question, history string, opts graph.IntentOptions) (*graph.IntentResult, error)
}

// QueryEngine answers a refined question from the corpus.
type QueryEngine interface {
	Query(ctx context.Context, cfg *engine.Config, textQA, question string) (*vector.Result, error)
}

// Completer runs one-shot model calls (question refinement).
type Completer interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// Message is one turn input message.
type Message struct {
	Role    chat.Role `json:"role"`
	Content string    `json:"content"`
}

// Request is one chat turn.
type Request struct {
	// Messages is the ordered conversation; the last entry must be the
	// user's new question.
	Messages []Message
	// ChatID continues an existing chat; nil starts a new one seeded with
	// Messages' history.
	ChatID     *uuid.UUID
	Viewer     *chat.Viewer
	BrowserID  string
	EngineName string
}

// ChatService runs chat turns.
//
// ChatService is safe for concurrent use; all per-turn state is local to a
// single Chat call.
type ChatService struct {
	repo     Repository
	resolver Resolver
	graph    GraphStore
	query    QueryEngine
	model    Completer
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewChatService creates a ChatService. tracer may be trace.Noop{}.
func NewChatService(repo Repository, resolver Resolver, graphStore GraphStore,
	query QueryEngine, model Completer, tracer trace.Tracer, logger *slog.Logger) (*ChatService, error) {
	if repo == nil || resolver == nil || graphStore == nil || query == nil || model == nil {
		return nil, fmt.Errorf("all collaborators are required")
	}
	if tracer == nil {
		tracer = trace.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		repo:     repo,
		resolver: resolver,
		graph:    graphStore,
		query:    query,
		model:    model,
		tracer:   tracer,
		logger:   logger,
	}, nil
}

// emitter forwards events to the consumer and remembers abandonment so no
// further events are produced after the consumer stops.
type emitter struct {
	yield     func(event.Event) bool
	abandoned bool
}

func (e *emitter) emit(ev event.Event) error {
	if e.abandoned {
		return errAbandoned
	}
	if !e.yield(ev) {
		e.abandoned = true
		return errAbandoned
	}
	return nil
}

// Chat runs one turn and returns its lazy event sequence. The sequence ends
// with either the normal completion pair (FINISHED annotation, final data
// event) or exactly one error event. Stopping the iteration abandons the
// turn.
func (s *ChatService) Chat(ctx context.Context, req Request) iter.Seq[event.Event] {
	return func(yield func(event.Event) bool) {
		em := &emitter{yield: yield}

		err := s.run(ctx, req, em)
		switch {
		case err == nil:
		case errors.Is(err, errAbandoned):
			s.logger.Debug("chat turn abandoned by consumer")
		case errors.Is(err, chat.ErrNotFound):
			_ = em.emit(event.Error(msgChatNotFound))
		default:
			s.logger.Error("chat turn failed", "error", err)
			_ = em.emit(event.Error(msgGenericError))
		}
	}
}

// turnState is the per-turn mutable record.
type turnState struct {
	chat      *chat.Chat
	cfg       *engine.Config
	history   []Message
	question  string
	userMsg   *chat.Message
	assistant *chat.Message
}

// run executes the turn pipeline. chat.ErrNotFound may only escape from the
// resolve step; every other failure is an internal error for the supervisor
// in Chat.
func (s *ChatService) run(ctx context.Context, req Request, em *emitter) (err error) {
	st, err := s.resolve(ctx, req)
	if err != nil {
		return err
	}

	// Persist the user's message first so a later failure still leaves the
	// question on record.
	st.userMsg = &chat.Message{
		ChatID:  st.chat.ID,
		Role:    chat.RoleUser,
		Content: st.question,
	}
	if err := s.repo.CreateMessage(ctx, st.userMsg); err != nil {
		return fmt.Errorf("persisting user message: %w", err)
	}

	// The trace opens before the assistant placeholder so the trace URL
	// lands on the row at insert time.
	ctx, handle, endTrace := s.tracer.Start(ctx, "chat_turn", map[string]string{
		"chat_id":  st.chat.ID.String(),
		"engine":   st.cfg.Name,
		"question": st.question,
	})
	defer func() { endTrace(err) }()

	st.assistant = &chat.Message{
		ChatID:   st.chat.ID,
		Role:     chat.RoleAssistant,
		TraceURL: handle.URL,
	}
	if err := s.repo.CreateMessage(ctx, st.assistant); err != nil {
		return fmt.Errorf("persisting assistant placeholder: %w", err)
	}

	// Announce the stream: an empty text frame, then the three records.
	if err := em.emit(event.Text("")); err != nil {
		return err
	}
	if err := em.emit(event.Data(st.chat, st.userMsg, st.assistant)); err != nil {
		return err
	}

	if err := em.emit(event.Annotation(event.StateTrace,
		"Start knowledge graph searching ...",
		map[string]string{"trace_url": handle.URL})); err != nil {
		return err
	}

	graphContext, err := s.retrieve(ctx, st)
	if err != nil {
		return fmt.Errorf("retrieving graph context: %w", err)
	}

	if err := em.emit(event.Annotation(event.StateRefineQuestion,
		"Refine the user question ...", nil)); err != nil {
		return err
	}
	refined, err := s.refine(ctx, st, graphContext)
	if err != nil {
		return fmt.Errorf("refining question: %w", err)
	}

	if err := em.emit(event.Annotation(event.StateSearchRelatedDocuments,
		"Search related documents ...", nil)); err != nil {
		return err
	}
	textQA, err := prompt.Render("text_qa", st.cfg.Prompts.TextQA, map[string]any{
		"graph_knowledges": graphContext,
	})
	if err != nil {
		return err
	}
	result, err := s.query.Query(ctx, st.cfg, textQA, refined)
	if err != nil {
		return fmt.Errorf("querying corpus: %w", err)
	}
	defer result.Stream.Close()

	// Provenance goes out before any answer text.
	if err := em.emit(event.Annotation(event.StateSourceNodes, "",
		result.Sources)); err != nil {
		return err
	}

	var answer strings.Builder
	for {
		fragment, ok := result.Stream.Next(ctx)
		if !ok {
			break
		}
		answer.WriteString(fragment)
		if err := em.emit(event.Text(fragment)); err != nil {
			return err
		}
	}
	if streamErr := result.Stream.Err(); streamErr != nil {
		return fmt.Errorf("streaming answer: %w", streamErr)
	}

	// Single commit point for the answer.
	st.assistant.Content = answer.String()
	st.assistant.Sources = result.Sources
	if err := s.repo.FinishMessage(ctx, st.assistant); err != nil {
		return fmt.Errorf("finalizing assistant message: %w", err)
	}

	if err := em.emit(event.Annotation(event.StateFinished, "", nil)); err != nil {
		return err
	}
	return em.emit(event.Data(st.chat, st.userMsg, st.assistant))
}

// resolve loads or creates the chat and establishes history, question, and
// engine configuration. A supplied but unknown chat id returns
// chat.ErrNotFound, the one error Chat reports verbatim.
func (s *ChatService) resolve(ctx context.Context, req Request) (*turnState, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("empty message list")
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != chat.RoleUser {
		return nil, fmt.Errorf("last message role is %q, want user", last.Role)
	}
	question := strings.TrimSpace(last.Content)
	if question == "" {
		return nil, fmt.Errorf("empty question")
	}

	st := &turnState{question: question}

	if req.ChatID != nil {
		c, err := s.repo.Get(ctx, *req.ChatID)
		if err != nil {
			if errors.Is(err, chat.ErrNotFound) {
				return nil, chat.ErrNotFound
			}
			return nil, fmt.Errorf("loading chat: %w", err)
		}
		stored, err := s.repo.Messages(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("loading chat history: %w", err)
		}
		for _, m := range stored {
			st.history = append(st.history, Message{Role: m.Role, Content: m.Content})
		}
		cfg, err := s.resolver.Resolve(ctx, c.EngineName)
		if err != nil {
			return nil, fmt.Errorf("resolving engine: %w", err)
		}
		st.chat = c
		st.cfg = cfg
		return st, nil
	}

	cfg, err := s.resolver.Resolve(ctx, req.EngineName)
	if err != nil {
		return nil, fmt.Errorf("resolving engine: %w", err)
	}
	shot, err := cfg.Screenshot()
	if err != nil {
		return nil, err
	}

	c := &chat.Chat{
		Title:         chat.TitleFromQuestion(question),
		EngineName:    cfg.Name,
		EngineOptions: shot,
		BrowserID:     req.BrowserID,
	}
	if req.Viewer != nil {
		id := req.Viewer.ID
		c.UserID = &id
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("creating chat: %w", err)
	}

	// Seed history supplied by an external channel; the new question itself
	// is persisted by the pipeline.
	for _, m := range req.Messages[:len(req.Messages)-1] {
		seeded := &chat.Message{ChatID: c.ID, Role: m.Role, Content: m.Content}
		if err := s.repo.CreateMessage(ctx, seeded); err != nil {
			return nil, fmt.Errorf("seeding history: %w", err)
		}
		st.history = append(st.history, m)
	}

	st.chat = c
	st.cfg = cfg
	return st, nil
}

// historyText renders the conversation for prompt use.
func historyText(history []Message) string {
	var sb strings.Builder
	for _, m := range history {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// retrieve runs the configured retrieval strategy and returns the rendered
// graph knowledge context. Disabled knowledge graph is a valid empty
// outcome, not an error.
func (s *ChatService) retrieve(ctx context.Context, st *turnState) (string, error) {
	kg := st.cfg.KnowledgeGraph
	if !kg.Enabled {
		return "", nil
	}

	if kg.UsingIntentSearch {
		res, err := s.graph.IntentSearch(ctx, st.question, historyText(st.history), graph.IntentOptions{
			IncludeMeta:             true,
			RelationshipMetaFilters: kg.RelationshipMetaFilters,
			FastModel:               st.cfg.FastModelName,
		})
		if err != nil {
			return "", err
		}
		return prompt.RenderRaw("intent_graph_knowledge",
			st.cfg.Prompts.IntentGraphKnowledge,
			map[string]any{"sub_queries": res.Queries})
	}

	entities, relationships, _, err := s.graph.RetrieveWeighted(ctx, st.question, graph.RetrieveOptions{
		Depth:                   kg.Depth,
		IncludeMeta:             kg.IncludeMeta,
		WithDegree:              kg.WithDegree,
		RelationshipMetaFilters: kg.RelationshipMetaFilters,
		WithChunks:              false,
	})
	if err != nil {
		return "", err
	}
	return prompt.RenderRaw("normal_graph_knowledge",
		st.cfg.Prompts.NormalGraphKnowledge,
		map[string]any{"entities": entities, "relationships": relationships})
}

// refine condenses the question into a standalone one with the fast model.
// It runs even when the graph context is empty.
func (s *ChatService) refine(ctx context.Context, st *turnState, graphContext string) (string, error) {
	rendered, err := prompt.Render("condense_question", st.cfg.Prompts.CondenseQuestion, map[string]any{
		"graph_knowledges": graphContext,
		"chat_history":     historyText(st.history),
		"question":         st.question,
		"current_date":     time.Now().Format("2006-01-02"),
	})
	if err != nil {
		return "", err
	}
	// Collapse the phase-one escapes; the condense template has no deferred
	// slots.
	formatted, err := prompt.Format(rendered, nil)
	if err != nil {
		return "", err
	}

	refined, err := s.model.Complete(ctx, st.cfg.FastModelName, formatted)
	if err != nil {
		return "", err
	}
	if line, _, found := strings.Cut(refined, "\n"); found {
		refined = line
	}
	refined = strings.TrimSpace(refined)
	if refined == "" {
		refined = st.question
	}
	return refined, nil
}
