package testutil

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

func TestMockLLM_PatternMatching(t *testing.T) {
	g := genkit.Init(context.Background())
	mock := NewMockLLM("fallback answer")
	mock.AddResponse("weather", "It is sunny.")
	mock.AddResponse("name", "I am a mock.")
	model := mock.RegisterModel(g)

	resp, err := genkit.Generate(context.Background(), g,
		ai.WithModel(model),
		ai.WithPrompt("What is the WEATHER today?"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got := resp.Text(); got != "It is sunny." {
		t.Fatalf("response = %q", got)
	}

	resp, err = genkit.Generate(context.Background(), g,
		ai.WithModel(model),
		ai.WithPrompt("unrelated question"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got := resp.Text(); got != "fallback answer" {
		t.Fatalf("response = %q", got)
	}

	calls := mock.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	if calls[0].Response != "It is sunny." {
		t.Fatalf("first call response = %q", calls[0].Response)
	}
}

func TestMockLLM_StreamsInChunks(t *testing.T) {
	g := genkit.Init(context.Background())
	mock := NewMockLLM("one two three")
	model := mock.RegisterModel(g)

	var chunks []string
	resp, err := genkit.Generate(context.Background(), g,
		ai.WithModel(model),
		ai.WithPrompt("anything"),
		ai.WithStreaming(func(_ context.Context, c *ai.ModelResponseChunk) error {
			chunks = append(chunks, c.Text())
			return nil
		}))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want streaming in pieces", len(chunks))
	}
	if joined := strings.Join(chunks, ""); joined != "one two three" {
		t.Fatalf("joined chunks = %q", joined)
	}
	if resp.Text() != "one two three" {
		t.Fatalf("final text = %q", resp.Text())
	}
}

func TestMockLLM_FailWith(t *testing.T) {
	g := genkit.Init(context.Background())
	mock := NewMockLLM("ok")
	model := mock.RegisterModel(g)
	boom := errors.New("model unavailable")
	mock.FailWith(boom)

	_, err := genkit.Generate(context.Background(), g,
		ai.WithModel(model),
		ai.WithPrompt("anything"))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestMockEmbedder_Deterministic(t *testing.T) {
	g := genkit.Init(context.Background())
	mock := NewMockEmbedder(8)
	embedder := mock.RegisterEmbedder(g)

	embed := func(text string) []float32 {
		t.Helper()
		resp, err := embedder.Embed(context.Background(), &ai.EmbedRequest{
			Input: []*ai.Document{ai.DocumentFromText(text, nil)},
		})
		if err != nil {
			t.Fatalf("Embed: %v", err)
		}
		return resp.Embeddings[0].Embedding
	}

	a1 := embed("alpha")
	a2 := embed("alpha")
	b := embed("beta")

	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatalf("same text embedded differently at %d", i)
		}
	}
	same := true
	for i := range a1 {
		if a1[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different texts embedded identically")
	}

	mock.SetVector("pinned", []float32{1, 0, 0, 0, 0, 0, 0, 0})
	p := embed("pinned")
	if p[0] != 1 || p[1] != 0 {
		t.Fatalf("pinned vector not returned: %v", p)
	}
}
