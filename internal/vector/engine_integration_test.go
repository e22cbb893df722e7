//go:build integration

package vector_test

import (
	"context"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/tidegraph/tidegraph/internal/config"
	"github.com/tidegraph/tidegraph/internal/engine"
	"github.com/tidegraph/tidegraph/internal/llm"
	"github.com/tidegraph/tidegraph/internal/log"
	"github.com/tidegraph/tidegraph/internal/testutil"
	"github.com/tidegraph/tidegraph/internal/vector"
)

const vectorDim = 768

func axisVector(axis int) []float32 {
	v := make([]float32, vectorDim)
	v[axis] = 1
	return v
}

func TestEngine_Query(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	g := genkit.Init(ctx)
	mockEmb := testutil.NewMockEmbedder(vectorDim)
	mockEmb.SetVector("how do tides work?", axisVector(0))
	embedder := mockEmb.RegisterEmbedder(g)

	mockLLM := testutil.NewMockLLM("Tides follow the moon.")
	mockLLM.RegisterModel(g)
	client, err := llm.New(g, &config.Config{
		Provider:           config.ProviderGemini,
		ModelName:          "mock/test-model",
		RateLimitPerSecond: 100,
		RateLimitBurst:     100,
	}, log.NewNop())
	if err != nil {
		t.Fatalf("llm.New: %v", err)
	}

	// Two documents; the closer chunk belongs to the first one.
	docNear, docFar := uuid.New(), uuid.New()
	for _, d := range []struct {
		id   uuid.UUID
		name string
	}{
		{docNear, "Tides Explained"},
		{docFar, "Unrelated Notes"},
	} {
		if _, err := db.Pool.Exec(ctx,
			`INSERT INTO documents (id, name, source_uri) VALUES ($1, $2, $3)`,
			d.id, d.name, "https://example.com/"+d.id.String()); err != nil {
			t.Fatalf("insert document: %v", err)
		}
	}
	chunks := []struct {
		doc  uuid.UUID
		text string
		axis int
	}{
		{docNear, "The moon's gravity pulls the ocean.", 0},
		{docNear, "Spring tides occur at full moon.", 1},
		{docFar, "Grocery list: milk, eggs.", 400},
	}
	for _, c := range chunks {
		if _, err := db.Pool.Exec(ctx,
			`INSERT INTO chunks (id, document_id, text, embedding, metadata)
			 VALUES ($1, $2, $3, $4, '{}')`,
			uuid.New(), c.doc, c.text, pgvector.NewVector(axisVector(c.axis))); err != nil {
			t.Fatalf("insert chunk: %v", err)
		}
	}

	eng, err := vector.NewEngine(db.Pool, embedder, client, log.NewNop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	cfg := engine.Default()
	cfg.ModelName = "mock/test-model"
	textQA := "Context:\n{context_str}\n\nQuestion: {query_str}\nAnswer:"

	res, err := eng.Query(ctx, cfg, textQA, "how do tides work?")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	defer res.Stream.Close()

	if len(res.Sources) != 2 {
		t.Fatalf("sources = %d, want 2 distinct documents", len(res.Sources))
	}
	if res.Sources[0].Name != "Tides Explained" {
		t.Fatalf("nearest source = %q, want Tides Explained", res.Sources[0].Name)
	}

	var sb strings.Builder
	for {
		tok, ok := res.Stream.Next(ctx)
		if !ok {
			break
		}
		sb.WriteString(tok)
	}
	if err := res.Stream.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if sb.String() != "Tides follow the moon." {
		t.Fatalf("answer = %q", sb.String())
	}

	calls := mockLLM.Calls()
	if len(calls) != 1 {
		t.Fatalf("model calls = %d, want 1", len(calls))
	}
	if !strings.Contains(calls[0].Prompt, "The moon's gravity pulls the ocean.") {
		t.Fatalf("prompt missing retrieved context: %q", calls[0].Prompt)
	}
	if !strings.Contains(calls[0].Prompt, "Question: how do tides work?") {
		t.Fatalf("prompt missing question: %q", calls[0].Prompt)
	}
}
