//go:build integration
// +build integration

package chat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/tidegraph/tidegraph/internal/chat"
	"github.com/tidegraph/tidegraph/internal/log"
	"github.com/tidegraph/tidegraph/internal/testutil"
)

func TestStore_ChatLifecycle(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store, err := chat.NewStore(db.Pool, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	c := &chat.Chat{
		Title:      "What is a knowledge graph?",
		EngineName: "default",
		BrowserID:  "browser-1",
	}
	if err := store.Create(ctx, c); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.ID == uuid.Nil {
		t.Fatal("Create did not assign an ID")
	}

	got, err := store.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != c.Title || got.EngineName != "default" {
		t.Errorf("Get returned %+v", got)
	}

	if _, err := store.Get(ctx, uuid.New()); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("Get(unknown) = %v, want ErrNotFound", err)
	}
}

func TestStore_MessageOrdinals(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store, err := chat.NewStore(db.Pool, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	c := &chat.Chat{Title: "t", EngineName: "default"}
	if err := store.Create(ctx, c); err != nil {
		t.Fatalf("Create: %v", err)
	}

	user := &chat.Message{ChatID: c.ID, Role: chat.RoleUser, Content: "hello"}
	if err := store.CreateMessage(ctx, user); err != nil {
		t.Fatalf("CreateMessage(user): %v", err)
	}
	if user.Ordinal != 1 {
		t.Errorf("first ordinal = %d, want 1", user.Ordinal)
	}

	assistant := &chat.Message{ChatID: c.ID, Role: chat.RoleAssistant}
	if err := store.CreateMessage(ctx, assistant); err != nil {
		t.Fatalf("CreateMessage(assistant): %v", err)
	}
	if assistant.Ordinal != 2 {
		t.Errorf("second ordinal = %d, want 2", assistant.Ordinal)
	}

	msgs, err := store.Messages(ctx, c.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != chat.RoleUser || msgs[1].Role != chat.RoleAssistant {
		t.Errorf("Messages returned %d rows in wrong order", len(msgs))
	}
}

func TestStore_FinishMessage(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store, err := chat.NewStore(db.Pool, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	c := &chat.Chat{Title: "t", EngineName: "default"}
	if err := store.Create(ctx, c); err != nil {
		t.Fatalf("Create: %v", err)
	}
	m := &chat.Message{ChatID: c.ID, Role: chat.RoleAssistant}
	if err := store.CreateMessage(ctx, m); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if m.FinishedAt != nil {
		t.Fatal("new message already finished")
	}

	docID := uuid.New()
	m.Content = "final answer"
	m.Sources = []chat.SourceDocument{{ID: docID, Name: "doc", SourceURI: "https://example.com/doc"}}
	if err := store.FinishMessage(ctx, m); err != nil {
		t.Fatalf("FinishMessage: %v", err)
	}

	got, err := store.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Content != "final answer" {
		t.Errorf("content = %q", got.Content)
	}
	if got.FinishedAt == nil {
		t.Error("finished_at not set")
	}
	if len(got.Sources) != 1 || got.Sources[0].ID != docID {
		t.Errorf("sources = %+v", got.Sources)
	}
}

func TestStore_DeleteVisibility(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store, err := chat.NewStore(db.Pool, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	owner := uuid.New()
	c := &chat.Chat{Title: "t", EngineName: "default", UserID: &owner}
	if err := store.Create(ctx, c); err != nil {
		t.Fatalf("Create: %v", err)
	}

	stranger := &chat.Viewer{ID: uuid.New()}
	if err := store.Delete(ctx, c.ID, stranger, ""); !errors.Is(err, chat.ErrForbidden) {
		t.Errorf("Delete by stranger = %v, want ErrForbidden", err)
	}

	if err := store.Delete(ctx, c.ID, &chat.Viewer{ID: owner}, ""); err != nil {
		t.Fatalf("Delete by owner: %v", err)
	}
	if _, err := store.Get(ctx, c.ID); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}
