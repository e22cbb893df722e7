package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tidegraph/tidegraph/internal/chat"
	"github.com/tidegraph/tidegraph/internal/engine"
	"github.com/tidegraph/tidegraph/internal/event"
	"github.com/tidegraph/tidegraph/internal/graph"
	"github.com/tidegraph/tidegraph/internal/log"
	"github.com/tidegraph/tidegraph/internal/trace"
	"github.com/tidegraph/tidegraph/internal/vector"
)

// fakeRepo is an in-memory Repository with call tracking.
type fakeRepo struct {
	chats    map[uuid.UUID]*chat.Chat
	messages map[uuid.UUID][]*chat.Message

	finishCalls  int
	createMsgErr error
	finishErr    error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		chats:    make(map[uuid.UUID]*chat.Chat),
		messages: make(map[uuid.UUID][]*chat.Message),
	}
}

func (r *fakeRepo) Get(_ context.Context, id uuid.UUID) (*chat.Chat, error) {
	c, ok := r.chats[id]
	if !ok {
		return nil, chat.ErrNotFound
	}
	return c, nil
}

func (r *fakeRepo) Messages(_ context.Context, chatID uuid.UUID) ([]*chat.Message, error) {
	return r.messages[chatID], nil
}

func (r *fakeRepo) Create(_ context.Context, c *chat.Chat) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	r.chats[c.ID] = c
	return nil
}

func (r *fakeRepo) CreateMessage(_ context.Context, m *chat.Message) error {
	if r.createMsgErr != nil {
		return r.createMsgErr
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.Ordinal = int32(len(r.messages[m.ChatID]) + 1)
	r.messages[m.ChatID] = append(r.messages[m.ChatID], m)
	return nil
}

func (r *fakeRepo) FinishMessage(_ context.Context, m *chat.Message) error {
	r.finishCalls++
	if r.finishErr != nil {
		return r.finishErr
	}
	return nil
}

func (r *fakeRepo) GetMessage(_ context.Context, id uuid.UUID) (*chat.Message, error) {
	for _, msgs := range r.messages {
		for _, m := range msgs {
			if m.ID == id {
				return m, nil
			}
		}
	}
	return nil, chat.ErrNotFound
}

// fakeResolver returns a fixed configuration.
type fakeResolver struct {
	cfg *engine.Config
}

func (r *fakeResolver) Resolve(context.Context, string) (*engine.Config, error) {
	return r.cfg, nil
}

// fakeGraph records which strategy was used.
type fakeGraph struct {
	weightedCalls int
	intentCalls   int
	lastOpts      graph.RetrieveOptions
	entities      []graph.Entity
	relationships []graph.Relationship
	err           error
}

func (g *fakeGraph) RetrieveWeighted(_ context.Context, _ string, opts graph.RetrieveOptions) ([]graph.Entity, []graph.Relationship, []graph.Chunk, error) {
	g.weightedCalls++
	g.lastOpts = opts
	if g.err != nil {
		return nil, nil, nil, g.err
	}
	return g.entities, g.relationships, []graph.Chunk{}, nil
}

func (g *fakeGraph) IntentSearch(_ context.Context, question, _ string, _ graph.IntentOptions) (*graph.IntentResult, error) {
	g.intentCalls++
	if g.err != nil {
		return nil, g.err
	}
	return &graph.IntentResult{
		Queries:       []graph.SubQueryResult{{Query: question, Entities: g.entities, Relationships: g.relationships}},
		Entities:      g.entities,
		Relationships: g.relationships,
	}, nil
}

// fakeStream replays canned fragments, optionally failing at the end.
type fakeStream struct {
	tokens []string
	i      int
	err    error
	closed bool
}

func (f *fakeStream) Next(context.Context) (string, bool) {
	if f.i < len(f.tokens) {
		tok := f.tokens[f.i]
		f.i++
		return tok, true
	}
	return "", false
}

func (f *fakeStream) Err() error {
	if f.i >= len(f.tokens) {
		return f.err
	}
	return nil
}

func (f *fakeStream) Close() { f.closed = true }

// fakeQuery returns a fixed result.
type fakeQuery struct {
	sources []chat.SourceDocument
	stream  *fakeStream
	err     error
	calls   int
	lastCfg *engine.Config
}

func (q *fakeQuery) Query(_ context.Context, cfg *engine.Config, _, _ string) (*vector.Result, error) {
	q.calls++
	q.lastCfg = cfg
	if q.err != nil {
		return nil, q.err
	}
	return &vector.Result{Sources: q.sources, Stream: q.stream}, nil
}

// fakeCompleter answers every completion with the same text.
type fakeCompleter struct {
	answer string
	err    error
	calls  int
}

func (c *fakeCompleter) Complete(context.Context, string, string) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.answer, nil
}

// fixture bundles a service with all fakes.
type fixture struct {
	repo      *fakeRepo
	graph     *fakeGraph
	query     *fakeQuery
	completer *fakeCompleter
	svc       *ChatService
}

func newFixture(t *testing.T, cfg *engine.Config) *fixture {
	t.Helper()
	f := &fixture{
		repo:  newFakeRepo(),
		graph: &fakeGraph{},
		query: &fakeQuery{
			sources: []chat.SourceDocument{{ID: uuid.New(), Name: "doc", SourceURI: "uri"}},
			stream:  &fakeStream{tokens: []string{"The ", "answer."}},
		},
		completer: &fakeCompleter{answer: "refined question"},
	}
	svc, err := NewChatService(f.repo, &fakeResolver{cfg: cfg}, f.graph, f.query,
		f.completer, trace.Noop{}, log.NewNop())
	if err != nil {
		t.Fatalf("NewChatService: %v", err)
	}
	f.svc = svc
	return f
}

func collect(svc *ChatService, req Request) []event.Event {
	var events []event.Event
	for ev := range svc.Chat(context.Background(), req) {
		events = append(events, ev)
	}
	return events
}

func annotationStates(events []event.Event) []event.State {
	var states []event.State
	for _, ev := range events {
		if ev.Type == event.TypeMessageAnnotations {
			states = append(states, ev.Annotation.State)
		}
	}
	return states
}

func TestChat_NewChatEventOrder(t *testing.T) {
	cfg := engine.Default()
	cfg.KnowledgeGraph.Enabled = false
	f := newFixture(t, cfg)

	events := collect(f.svc, Request{
		Messages: []Message{{Role: chat.RoleUser, Content: "What is X?"}},
	})

	// Leading frames: empty text then the record snapshot.
	if len(events) < 9 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	if events[0].Type != event.TypeText || events[0].Text != "" {
		t.Errorf("first event = %+v, want empty text", events[0])
	}
	if events[1].Type != event.TypeData {
		t.Errorf("second event type = %s, want data", events[1].Type)
	}

	wantStates := []event.State{
		event.StateTrace,
		event.StateRefineQuestion,
		event.StateSearchRelatedDocuments,
		event.StateSourceNodes,
		event.StateFinished,
	}
	states := annotationStates(events)
	if len(states) != len(wantStates) {
		t.Fatalf("annotation states = %v", states)
	}
	for i := range wantStates {
		if states[i] != wantStates[i] {
			t.Errorf("state[%d] = %s, want %s", i, states[i], wantStates[i])
		}
	}

	// Answer fragments sit between SOURCE_NODES and FINISHED.
	var fragments []string
	seenSources, seenFinished := false, false
	for _, ev := range events {
		switch {
		case ev.Type == event.TypeMessageAnnotations && ev.Annotation.State == event.StateSourceNodes:
			seenSources = true
		case ev.Type == event.TypeMessageAnnotations && ev.Annotation.State == event.StateFinished:
			seenFinished = true
		case ev.Type == event.TypeText && ev.Text != "":
			if !seenSources || seenFinished {
				t.Errorf("answer fragment %q outside SOURCE_NODES..FINISHED window", ev.Text)
			}
			fragments = append(fragments, ev.Text)
		}
	}
	if got := strings.Join(fragments, ""); got != "The answer." {
		t.Errorf("answer = %q", got)
	}

	if last := events[len(events)-1]; last.Type != event.TypeData {
		t.Errorf("last event type = %s, want data", last.Type)
	}

	// The new chat row exists with the question as title.
	if len(f.repo.chats) != 1 {
		t.Fatalf("created %d chats", len(f.repo.chats))
	}
	for _, c := range f.repo.chats {
		if c.Title != "What is X?" {
			t.Errorf("title = %q", c.Title)
		}
	}
	if f.repo.finishCalls != 1 {
		t.Errorf("finish calls = %d, want 1", f.repo.finishCalls)
	}
}

func TestChat_ChatNotFound(t *testing.T) {
	f := newFixture(t, engine.Default())
	missing := uuid.New()

	events := collect(f.svc, Request{
		Messages: []Message{{Role: chat.RoleUser, Content: "hello?"}},
		ChatID:   &missing,
	})

	if len(events) != 1 {
		t.Fatalf("got %d events, want exactly 1: %+v", len(events), events)
	}
	if events[0].Type != event.TypeError || events[0].Error != "Chat not found" {
		t.Errorf("got %+v", events[0])
	}
	if len(f.repo.messages) != 0 {
		t.Error("messages persisted for a missing chat")
	}
}

func TestChat_RefineFailurePartialPersistence(t *testing.T) {
	cfg := engine.Default()
	cfg.KnowledgeGraph.Enabled = false
	f := newFixture(t, cfg)
	f.completer.err = errors.New("model unavailable")

	events := collect(f.svc, Request{
		Messages: []Message{{Role: chat.RoleUser, Content: "will fail"}},
	})

	var errorEvents, finished, finalData int
	for _, ev := range events {
		switch {
		case ev.Type == event.TypeError:
			errorEvents++
		case ev.Type == event.TypeMessageAnnotations && ev.Annotation.State == event.StateFinished:
			finished++
		}
	}
	if last := events[len(events)-1]; last.Type == event.TypeData {
		finalData++
	}
	if errorEvents != 1 || finished != 0 || finalData != 0 {
		t.Errorf("errors=%d finished=%d finalData=%d", errorEvents, finished, finalData)
	}
	if events[len(events)-1].Error != msgGenericError {
		t.Errorf("error message = %q", events[len(events)-1].Error)
	}

	// User message and assistant placeholder stay persisted; the commit
	// point was never reached.
	for _, msgs := range f.repo.messages {
		if len(msgs) != 2 {
			t.Errorf("persisted %d messages, want user + placeholder", len(msgs))
		}
	}
	if f.repo.finishCalls != 0 {
		t.Errorf("finish calls = %d, want 0", f.repo.finishCalls)
	}
}

func TestChat_StreamFailureSingleError(t *testing.T) {
	cfg := engine.Default()
	cfg.KnowledgeGraph.Enabled = false
	f := newFixture(t, cfg)
	f.query.stream = &fakeStream{tokens: []string{"partial "}, err: errors.New("stream cut")}

	events := collect(f.svc, Request{
		Messages: []Message{{Role: chat.RoleUser, Content: "q"}},
	})

	var errorEvents int
	for _, ev := range events {
		if ev.Type == event.TypeError {
			errorEvents++
		}
		if ev.Type == event.TypeMessageAnnotations && ev.Annotation.State == event.StateFinished {
			t.Error("FINISHED emitted after stream failure")
		}
	}
	if errorEvents != 1 {
		t.Errorf("error events = %d, want 1", errorEvents)
	}
	if f.repo.finishCalls != 0 {
		t.Error("assistant message finalized despite stream failure")
	}
}

func TestChat_AbandonStopsPipeline(t *testing.T) {
	cfg := engine.Default()
	cfg.KnowledgeGraph.Enabled = false
	f := newFixture(t, cfg)

	var events []event.Event
	for ev := range f.svc.Chat(context.Background(), Request{
		Messages: []Message{{Role: chat.RoleUser, Content: "q"}},
	}) {
		events = append(events, ev)
		if ev.Type == event.TypeMessageAnnotations && ev.Annotation.State == event.StateSourceNodes {
			break
		}
	}

	for _, ev := range events {
		if ev.Type == event.TypeError {
			t.Error("abandonment produced an error event")
		}
	}
	if !f.query.stream.closed {
		t.Error("token stream not closed after abandonment")
	}
	if f.repo.finishCalls != 0 {
		t.Error("assistant message finalized after abandonment")
	}
}

func TestChat_KnowledgeGraphDisabled(t *testing.T) {
	cfg := engine.Default()
	cfg.KnowledgeGraph.Enabled = false
	f := newFixture(t, cfg)

	events := collect(f.svc, Request{
		Messages: []Message{{Role: chat.RoleUser, Content: "q"}},
	})

	if f.graph.weightedCalls != 0 || f.graph.intentCalls != 0 {
		t.Error("graph store consulted while knowledge graph disabled")
	}
	states := annotationStates(events)
	if states[len(states)-1] != event.StateFinished {
		t.Errorf("turn did not finish normally: %v", states)
	}
}

func TestChat_RetrievalStrategySelection(t *testing.T) {
	t.Run("weighted", func(t *testing.T) {
		cfg := engine.Default()
		f := newFixture(t, cfg)
		f.graph.entities = []graph.Entity{{ID: 1, Name: "TiKV", Description: "storage layer"}}

		collect(f.svc, Request{Messages: []Message{{Role: chat.RoleUser, Content: "q"}}})
		if f.graph.weightedCalls != 1 || f.graph.intentCalls != 0 {
			t.Errorf("weighted=%d intent=%d", f.graph.weightedCalls, f.graph.intentCalls)
		}
		if f.graph.lastOpts.WithChunks {
			t.Error("live turn retrieval requested chunks")
		}
		if f.graph.lastOpts.Depth != cfg.KnowledgeGraph.Depth {
			t.Errorf("depth = %d", f.graph.lastOpts.Depth)
		}
	})

	t.Run("intent", func(t *testing.T) {
		cfg := engine.Default()
		cfg.KnowledgeGraph.UsingIntentSearch = true
		f := newFixture(t, cfg)

		collect(f.svc, Request{Messages: []Message{{Role: chat.RoleUser, Content: "q"}}})
		if f.graph.intentCalls != 1 || f.graph.weightedCalls != 0 {
			t.Errorf("weighted=%d intent=%d", f.graph.weightedCalls, f.graph.intentCalls)
		}
	})

	t.Run("retrieval failure becomes single error", func(t *testing.T) {
		cfg := engine.Default()
		f := newFixture(t, cfg)
		f.graph.err = errors.New("graph down")

		events := collect(f.svc, Request{Messages: []Message{{Role: chat.RoleUser, Content: "q"}}})
		last := events[len(events)-1]
		if last.Type != event.TypeError || last.Error != msgGenericError {
			t.Errorf("last event = %+v", last)
		}
	})
}

func TestChat_ExistingChatHistoryReplayed(t *testing.T) {
	cfg := engine.Default()
	cfg.KnowledgeGraph.Enabled = false
	f := newFixture(t, cfg)

	existing := &chat.Chat{Title: "t", EngineName: "default"}
	if err := f.repo.Create(context.Background(), existing); err != nil {
		t.Fatal(err)
	}
	for _, m := range []*chat.Message{
		{ChatID: existing.ID, Role: chat.RoleUser, Content: "first"},
		{ChatID: existing.ID, Role: chat.RoleAssistant, Content: "answer"},
	} {
		if err := f.repo.CreateMessage(context.Background(), m); err != nil {
			t.Fatal(err)
		}
	}

	events := collect(f.svc, Request{
		Messages: []Message{{Role: chat.RoleUser, Content: "follow-up"}},
		ChatID:   &existing.ID,
	})

	states := annotationStates(events)
	if len(states) == 0 || states[len(states)-1] != event.StateFinished {
		t.Fatalf("turn did not finish: %v", states)
	}
	if len(f.repo.chats) != 1 {
		t.Errorf("created a second chat")
	}
	// Replayed history plus the new user message and placeholder.
	if got := len(f.repo.messages[existing.ID]); got != 4 {
		t.Errorf("message count = %d, want 4", got)
	}
}

func TestChat_LastMessageMustBeUser(t *testing.T) {
	f := newFixture(t, engine.Default())

	events := collect(f.svc, Request{
		Messages: []Message{{Role: chat.RoleAssistant, Content: "not a question"}},
	})
	if len(events) != 1 || events[0].Type != event.TypeError || events[0].Error != msgGenericError {
		t.Errorf("got %+v", events)
	}
}

func TestMessageSubgraph(t *testing.T) {
	cfg := engine.Default()
	f := newFixture(t, cfg)
	f.graph.entities = []graph.Entity{{ID: 7, Name: "PD", Description: "placement driver"}}
	f.graph.relationships = []graph.Relationship{{ID: 1, SourceEntityID: 7, TargetEntityID: 8, Description: "schedules"}}

	shot, err := cfg.Screenshot()
	if err != nil {
		t.Fatal(err)
	}
	c := &chat.Chat{Title: "t", EngineName: "default", EngineOptions: shot}
	if err := f.repo.Create(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	userMsg := &chat.Message{ChatID: c.ID, Role: chat.RoleUser, Content: "how is data placed?"}
	assistantMsg := &chat.Message{ChatID: c.ID, Role: chat.RoleAssistant, Content: "via PD"}
	for _, m := range []*chat.Message{userMsg, assistantMsg} {
		if err := f.repo.CreateMessage(context.Background(), m); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("user message", func(t *testing.T) {
		entities, relationships, err := f.svc.MessageSubgraph(context.Background(), userMsg.ID)
		if err != nil {
			t.Fatalf("MessageSubgraph: %v", err)
		}
		if len(entities) != 1 || len(relationships) != 1 {
			t.Errorf("got %d entities, %d relationships", len(entities), len(relationships))
		}
	})

	t.Run("assistant message yields empty", func(t *testing.T) {
		entities, relationships, err := f.svc.MessageSubgraph(context.Background(), assistantMsg.ID)
		if err != nil {
			t.Fatalf("MessageSubgraph: %v", err)
		}
		if len(entities) != 0 || len(relationships) != 0 {
			t.Errorf("got %d entities, %d relationships, want empty", len(entities), len(relationships))
		}
	})

	t.Run("unknown message", func(t *testing.T) {
		if _, _, err := f.svc.MessageSubgraph(context.Background(), uuid.New()); !errors.Is(err, chat.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}
